package service

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/mapchat/syncd/internal/auth"
	"github.com/mapchat/syncd/internal/location"
	"github.com/mapchat/syncd/internal/models"
)

// Auth is one user session.
type Auth interface {
	SignIn(ctx context.Context, provider auth.Provider, credential string) (*models.User, error)
	Restore(ctx context.Context, token string) (*models.User, error)
	SignOut(ctx context.Context) error
	DeleteAccount(ctx context.Context) error
	RefreshToken(ctx context.Context) (string, error)
	UpdateOnlineStatus(ctx context.Context, online bool) error
	SetGhostMode(ctx context.Context, enabled bool) (*models.User, error)
	SetBlocked(ctx context.Context, other uuid.UUID, blocked bool) (*models.User, error)
	CurrentUser() *models.User
	IsAuthenticated() bool
	Token() string
}

// Locations tracks and publishes one user's position.
type Locations interface {
	SetUser(userID uuid.UUID)
	PermissionStatus() location.Authorization
	CurrentLocation() *models.UserLocation
	RequestPermission(ctx context.Context, mode location.TrackingMode) error
	StartTracking(ctx context.Context) error
	StopTracking()
	IsTracking() bool
	Updates(ctx context.Context) <-chan models.UserLocation
	GetCurrentLocation(ctx context.Context) (*models.UserLocation, error)
	UpdateLocation(ctx context.Context, loc models.UserLocation) error
	LocationsForGroup(ctx context.Context, groupID uuid.UUID) ([]models.UserLocation, error)
}

type Trips interface {
	CreateTrip(ctx context.Context, trip models.Trip) (*models.Trip, error)
	UpdateTrip(ctx context.Context, trip models.Trip) (*models.Trip, error)
	DeleteTrip(ctx context.Context, tripID uuid.UUID) error
	FetchTrip(ctx context.Context, tripID uuid.UUID) (*models.Trip, error)
	FetchTrips(ctx context.Context, userID uuid.UUID) ([]models.Trip, error)
	FetchActiveTrips(ctx context.Context) ([]models.Trip, error)
	ListenToTrip(ctx context.Context, tripID uuid.UUID) <-chan *models.Trip
	ListenToUserTrips(ctx context.Context, userID uuid.UUID) <-chan []models.Trip
	Now() time.Time
}

type Groups interface {
	CreateGroup(ctx context.Context, group models.Group) (*models.Group, error)
	UpdateGroup(ctx context.Context, group models.Group) (*models.Group, error)
	DeleteGroup(ctx context.Context, groupID uuid.UUID) error
	AddMember(ctx context.Context, userID, groupID uuid.UUID) (*models.Group, error)
	RemoveMember(ctx context.Context, userID, groupID uuid.UUID) (*models.Group, error)
	PromoteToAdmin(ctx context.Context, userID, groupID uuid.UUID) (*models.Group, error)
	FetchGroup(ctx context.Context, groupID uuid.UUID) (*models.Group, error)
	FetchGroups(ctx context.Context, userID uuid.UUID) ([]models.Group, error)
	ListenToGroup(ctx context.Context, groupID uuid.UUID) <-chan *models.Group
	ListenToUserGroups(ctx context.Context, userID uuid.UUID) <-chan []models.Group
}

type Chat interface {
	StartConversation(ctx context.Context, participants []uuid.UUID) (*models.Conversation, error)
	FetchConversations(ctx context.Context, userID uuid.UUID) ([]models.Conversation, error)
	SendMessage(ctx context.Context, text string, conversationID uuid.UUID) (*models.Message, error)
	SendMedia(ctx context.Context, data []byte, mediaType models.MediaType, conversationID uuid.UUID) (*models.Message, error)
	ShareLocation(ctx context.Context, loc models.UserLocation, conversationID uuid.UUID) (*models.Message, error)
	EditMessage(ctx context.Context, messageID uuid.UUID, newText string) (*models.Message, error)
	DeleteMessage(ctx context.Context, messageID uuid.UUID) error
	MarkRead(ctx context.Context, messageID uuid.UUID) error
	FetchMessages(ctx context.Context, conversationID uuid.UUID, limit int) ([]models.Message, error)
	ListenToMessages(ctx context.Context, conversationID uuid.UUID) (<-chan models.Message, error)
}

var (
	_ Auth      = (*AuthService)(nil)
	_ Locations = (*LocationService)(nil)
	_ Trips     = (*TripService)(nil)
	_ Groups    = (*GroupService)(nil)
	_ Chat      = (*ChatService)(nil)
)
