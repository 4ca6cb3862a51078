package api

import (
	"time"

	"github.com/google/uuid"

	"github.com/mapchat/syncd/internal/location"
	"github.com/mapchat/syncd/internal/models"
	"github.com/mapchat/syncd/internal/navigation"
)

// Empty is the request and response of procedures without parameters.
type Empty struct{}

type UserView struct {
	models.User
	DisplayName string `json:"displayName"`
	Initials    string `json:"initials"`
}

func userView(u *models.User) *UserView {
	if u == nil {
		return nil
	}
	return &UserView{User: *u, DisplayName: u.DisplayName(), Initials: u.Initials()}
}

type SignInRequest struct {
	Provider   string `json:"provider"`
	Credential string `json:"credential"`
}

type SessionResponse struct {
	User  *UserView `json:"user"`
	Token string    `json:"token"`
}

type TokenResponse struct {
	Token string `json:"token"`
}

type UserResponse struct {
	User *UserView `json:"user"`
}

type OnlineStatusRequest struct {
	Online bool `json:"online"`
}

type GhostModeRequest struct {
	Enabled bool `json:"enabled"`
}

type BlockRequest struct {
	UserID  uuid.UUID `json:"userId"`
	Blocked bool      `json:"blocked"`
}

// DeviceStateRequest reports the platform location state of the caller's device.
type DeviceStateRequest struct {
	ServicesEnabled bool   `json:"servicesEnabled"`
	Authorization   string `json:"authorization"`
}

type PermissionRequest struct {
	Mode string `json:"mode"`
}

type TrackingResponse struct {
	Authorization string `json:"authorization"`
	Tracking      bool   `json:"tracking"`
}

// FixRequest is one raw position reported by the device.
type FixRequest struct {
	Latitude           float64   `json:"latitude"`
	Longitude          float64   `json:"longitude"`
	Altitude           *float64  `json:"altitude,omitempty"`
	HorizontalAccuracy float64   `json:"horizontalAccuracy"`
	VerticalAccuracy   *float64  `json:"verticalAccuracy,omitempty"`
	Speed              *float64  `json:"speed,omitempty"`
	Timestamp          time.Time `json:"timestamp"`
}

func (r FixRequest) fix() location.Fix {
	ts := r.Timestamp
	if ts.IsZero() {
		ts = time.Now().UTC()
	}
	return location.Fix{
		Latitude:           r.Latitude,
		Longitude:          r.Longitude,
		Altitude:           r.Altitude,
		HorizontalAccuracy: r.HorizontalAccuracy,
		VerticalAccuracy:   r.VerticalAccuracy,
		Speed:              r.Speed,
		Timestamp:          ts,
	}
}

type LocationView struct {
	models.UserLocation
	Recent   bool `json:"recent"`
	Accurate bool `json:"accurate"`
}

func locationView(l models.UserLocation, now time.Time) LocationView {
	return LocationView{UserLocation: l, Recent: l.IsRecent(now), Accurate: l.IsAccurate()}
}

type LocationResponse struct {
	Location *LocationView `json:"location"`
}

type UpdateLocationRequest struct {
	Location models.UserLocation `json:"location"`
}

type GroupLocationsRequest struct {
	GroupID uuid.UUID `json:"groupId"`
}

type GroupLocationsResponse struct {
	Locations []LocationView `json:"locations"`
}

// TripView carries the derived state of a trip next to its stored fields.
type TripView struct {
	models.Trip
	Status       string                    `json:"status"`
	DurationDays int                       `json:"durationDays"`
	Directions   map[navigation.App]string `json:"directions"`
}

func tripView(t models.Trip, now time.Time) TripView {
	return TripView{
		Trip:         t,
		Status:       t.StatusText(now),
		DurationDays: t.DurationDays(),
		Directions:   navigation.Links(t.Coordinate),
	}
}

func tripViews(trips []models.Trip, now time.Time) []TripView {
	out := make([]TripView, len(trips))
	for i, t := range trips {
		out[i] = tripView(t, now)
	}
	return out
}

type TripRequest struct {
	Trip models.Trip `json:"trip"`
}

type TripIDRequest struct {
	TripID uuid.UUID `json:"tripId"`
}

type TripResponse struct {
	// Trip is nil when a watched trip does not exist.
	Trip *TripView `json:"trip"`
}

type TripsResponse struct {
	Trips []TripView `json:"trips"`
}

type GroupView struct {
	models.Group
	MemberCount int `json:"memberCount"`
}

func groupView(g *models.Group) *GroupView {
	if g == nil {
		return nil
	}
	return &GroupView{Group: *g, MemberCount: g.MemberCount()}
}

type GroupRequest struct {
	Group models.Group `json:"group"`
}

type GroupIDRequest struct {
	GroupID uuid.UUID `json:"groupId"`
}

type MemberRequest struct {
	GroupID uuid.UUID `json:"groupId"`
	UserID  uuid.UUID `json:"userId"`
}

type GroupResponse struct {
	// Group is nil once the group no longer exists.
	Group *GroupView `json:"group"`
}

type GroupsResponse struct {
	Groups []GroupView `json:"groups"`
}

func groupViews(groups []models.Group) []GroupView {
	out := make([]GroupView, len(groups))
	for i := range groups {
		out[i] = *groupView(&groups[i])
	}
	return out
}

type MessageView struct {
	models.Message
	DisplayText string `json:"displayText"`
}

func messageView(m models.Message) MessageView {
	return MessageView{Message: m, DisplayText: m.DisplayText()}
}

type StartConversationRequest struct {
	Participants []uuid.UUID `json:"participants"`
}

type ConversationResponse struct {
	Conversation models.Conversation `json:"conversation"`
}

type ConversationsResponse struct {
	Conversations []models.Conversation `json:"conversations"`
}

type ConversationIDRequest struct {
	ConversationID uuid.UUID `json:"conversationId"`
}

type SendMessageRequest struct {
	ConversationID uuid.UUID `json:"conversationId"`
	Text           string    `json:"text"`
}

// SendMediaRequest carries the payload base64-encoded in JSON.
type SendMediaRequest struct {
	ConversationID uuid.UUID        `json:"conversationId"`
	MediaType      models.MediaType `json:"mediaType"`
	Data           []byte           `json:"data"`
}

type ShareLocationRequest struct {
	ConversationID uuid.UUID           `json:"conversationId"`
	Location       models.UserLocation `json:"location"`
}

type EditMessageRequest struct {
	MessageID uuid.UUID `json:"messageId"`
	Text      string    `json:"text"`
}

type MessageIDRequest struct {
	MessageID uuid.UUID `json:"messageId"`
}

type FetchMessagesRequest struct {
	ConversationID uuid.UUID `json:"conversationId"`
	Limit          int       `json:"limit"`
}

type MessageResponse struct {
	Message MessageView `json:"message"`
}

type MessagesResponse struct {
	Messages []MessageView `json:"messages"`
}
