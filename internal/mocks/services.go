package mocks

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/mock"

	"github.com/mapchat/syncd/internal/auth"
	"github.com/mapchat/syncd/internal/location"
	"github.com/mapchat/syncd/internal/models"
	"github.com/mapchat/syncd/internal/service"
)

var (
	_ service.Auth      = (*AuthMock)(nil)
	_ service.Locations = (*LocationsMock)(nil)
	_ service.Trips     = (*TripsMock)(nil)
	_ service.Groups    = (*GroupsMock)(nil)
	_ service.Chat      = (*ChatMock)(nil)
)

func user(args mock.Arguments, i int) *models.User {
	if val := args.Get(i); val != nil {
		return val.(*models.User)
	}
	return nil
}

func trip(args mock.Arguments, i int) *models.Trip {
	if val := args.Get(i); val != nil {
		return val.(*models.Trip)
	}
	return nil
}

func group(args mock.Arguments, i int) *models.Group {
	if val := args.Get(i); val != nil {
		return val.(*models.Group)
	}
	return nil
}

func message(args mock.Arguments, i int) *models.Message {
	if val := args.Get(i); val != nil {
		return val.(*models.Message)
	}
	return nil
}

type AuthMock struct {
	mock.Mock
}

func (m *AuthMock) SignIn(ctx context.Context, provider auth.Provider, credential string) (*models.User, error) {
	args := m.Called(ctx, provider, credential)
	return user(args, 0), args.Error(1)
}

func (m *AuthMock) Restore(ctx context.Context, token string) (*models.User, error) {
	args := m.Called(ctx, token)
	return user(args, 0), args.Error(1)
}

func (m *AuthMock) SignOut(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

func (m *AuthMock) DeleteAccount(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

func (m *AuthMock) RefreshToken(ctx context.Context) (string, error) {
	args := m.Called(ctx)
	return args.String(0), args.Error(1)
}

func (m *AuthMock) UpdateOnlineStatus(ctx context.Context, online bool) error {
	args := m.Called(ctx, online)
	return args.Error(0)
}

func (m *AuthMock) SetGhostMode(ctx context.Context, enabled bool) (*models.User, error) {
	args := m.Called(ctx, enabled)
	return user(args, 0), args.Error(1)
}

func (m *AuthMock) SetBlocked(ctx context.Context, other uuid.UUID, blocked bool) (*models.User, error) {
	args := m.Called(ctx, other, blocked)
	return user(args, 0), args.Error(1)
}

func (m *AuthMock) CurrentUser() *models.User {
	return user(m.Called(), 0)
}

func (m *AuthMock) IsAuthenticated() bool {
	return m.Called().Bool(0)
}

func (m *AuthMock) Token() string {
	return m.Called().String(0)
}

type LocationsMock struct {
	mock.Mock
}

func (m *LocationsMock) SetUser(userID uuid.UUID) {
	m.Called(userID)
}

func (m *LocationsMock) PermissionStatus() location.Authorization {
	return m.Called().Get(0).(location.Authorization)
}

func (m *LocationsMock) CurrentLocation() *models.UserLocation {
	if val := m.Called().Get(0); val != nil {
		return val.(*models.UserLocation)
	}
	return nil
}

func (m *LocationsMock) RequestPermission(ctx context.Context, mode location.TrackingMode) error {
	args := m.Called(ctx, mode)
	return args.Error(0)
}

func (m *LocationsMock) StartTracking(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

func (m *LocationsMock) StopTracking() {
	m.Called()
}

func (m *LocationsMock) IsTracking() bool {
	return m.Called().Bool(0)
}

func (m *LocationsMock) Updates(ctx context.Context) <-chan models.UserLocation {
	if val := m.Called(ctx).Get(0); val != nil {
		return val.(<-chan models.UserLocation)
	}
	return nil
}

func (m *LocationsMock) GetCurrentLocation(ctx context.Context) (*models.UserLocation, error) {
	args := m.Called(ctx)
	var loc *models.UserLocation
	if val := args.Get(0); val != nil {
		loc = val.(*models.UserLocation)
	}
	return loc, args.Error(1)
}

func (m *LocationsMock) UpdateLocation(ctx context.Context, loc models.UserLocation) error {
	args := m.Called(ctx, loc)
	return args.Error(0)
}

func (m *LocationsMock) LocationsForGroup(ctx context.Context, groupID uuid.UUID) ([]models.UserLocation, error) {
	args := m.Called(ctx, groupID)
	var locs []models.UserLocation
	if val := args.Get(0); val != nil {
		locs = val.([]models.UserLocation)
	}
	return locs, args.Error(1)
}

type TripsMock struct {
	mock.Mock
}

func (m *TripsMock) CreateTrip(ctx context.Context, t models.Trip) (*models.Trip, error) {
	args := m.Called(ctx, t)
	return trip(args, 0), args.Error(1)
}

func (m *TripsMock) UpdateTrip(ctx context.Context, t models.Trip) (*models.Trip, error) {
	args := m.Called(ctx, t)
	return trip(args, 0), args.Error(1)
}

func (m *TripsMock) DeleteTrip(ctx context.Context, tripID uuid.UUID) error {
	args := m.Called(ctx, tripID)
	return args.Error(0)
}

func (m *TripsMock) FetchTrip(ctx context.Context, tripID uuid.UUID) (*models.Trip, error) {
	args := m.Called(ctx, tripID)
	return trip(args, 0), args.Error(1)
}

func (m *TripsMock) FetchTrips(ctx context.Context, userID uuid.UUID) ([]models.Trip, error) {
	args := m.Called(ctx, userID)
	var trips []models.Trip
	if val := args.Get(0); val != nil {
		trips = val.([]models.Trip)
	}
	return trips, args.Error(1)
}

func (m *TripsMock) FetchActiveTrips(ctx context.Context) ([]models.Trip, error) {
	args := m.Called(ctx)
	var trips []models.Trip
	if val := args.Get(0); val != nil {
		trips = val.([]models.Trip)
	}
	return trips, args.Error(1)
}

func (m *TripsMock) ListenToTrip(ctx context.Context, tripID uuid.UUID) <-chan *models.Trip {
	if val := m.Called(ctx, tripID).Get(0); val != nil {
		return val.(<-chan *models.Trip)
	}
	return nil
}

func (m *TripsMock) ListenToUserTrips(ctx context.Context, userID uuid.UUID) <-chan []models.Trip {
	if val := m.Called(ctx, userID).Get(0); val != nil {
		return val.(<-chan []models.Trip)
	}
	return nil
}

func (m *TripsMock) Now() time.Time {
	return m.Called().Get(0).(time.Time)
}

type GroupsMock struct {
	mock.Mock
}

func (m *GroupsMock) CreateGroup(ctx context.Context, g models.Group) (*models.Group, error) {
	args := m.Called(ctx, g)
	return group(args, 0), args.Error(1)
}

func (m *GroupsMock) UpdateGroup(ctx context.Context, g models.Group) (*models.Group, error) {
	args := m.Called(ctx, g)
	return group(args, 0), args.Error(1)
}

func (m *GroupsMock) DeleteGroup(ctx context.Context, groupID uuid.UUID) error {
	args := m.Called(ctx, groupID)
	return args.Error(0)
}

func (m *GroupsMock) AddMember(ctx context.Context, userID, groupID uuid.UUID) (*models.Group, error) {
	args := m.Called(ctx, userID, groupID)
	return group(args, 0), args.Error(1)
}

func (m *GroupsMock) RemoveMember(ctx context.Context, userID, groupID uuid.UUID) (*models.Group, error) {
	args := m.Called(ctx, userID, groupID)
	return group(args, 0), args.Error(1)
}

func (m *GroupsMock) PromoteToAdmin(ctx context.Context, userID, groupID uuid.UUID) (*models.Group, error) {
	args := m.Called(ctx, userID, groupID)
	return group(args, 0), args.Error(1)
}

func (m *GroupsMock) FetchGroup(ctx context.Context, groupID uuid.UUID) (*models.Group, error) {
	args := m.Called(ctx, groupID)
	return group(args, 0), args.Error(1)
}

func (m *GroupsMock) FetchGroups(ctx context.Context, userID uuid.UUID) ([]models.Group, error) {
	args := m.Called(ctx, userID)
	var groups []models.Group
	if val := args.Get(0); val != nil {
		groups = val.([]models.Group)
	}
	return groups, args.Error(1)
}

func (m *GroupsMock) ListenToGroup(ctx context.Context, groupID uuid.UUID) <-chan *models.Group {
	if val := m.Called(ctx, groupID).Get(0); val != nil {
		return val.(<-chan *models.Group)
	}
	return nil
}

func (m *GroupsMock) ListenToUserGroups(ctx context.Context, userID uuid.UUID) <-chan []models.Group {
	if val := m.Called(ctx, userID).Get(0); val != nil {
		return val.(<-chan []models.Group)
	}
	return nil
}

type ChatMock struct {
	mock.Mock
}

func (m *ChatMock) StartConversation(ctx context.Context, participants []uuid.UUID) (*models.Conversation, error) {
	args := m.Called(ctx, participants)
	var conv *models.Conversation
	if val := args.Get(0); val != nil {
		conv = val.(*models.Conversation)
	}
	return conv, args.Error(1)
}

func (m *ChatMock) FetchConversations(ctx context.Context, userID uuid.UUID) ([]models.Conversation, error) {
	args := m.Called(ctx, userID)
	var convs []models.Conversation
	if val := args.Get(0); val != nil {
		convs = val.([]models.Conversation)
	}
	return convs, args.Error(1)
}

func (m *ChatMock) SendMessage(ctx context.Context, text string, conversationID uuid.UUID) (*models.Message, error) {
	args := m.Called(ctx, text, conversationID)
	return message(args, 0), args.Error(1)
}

func (m *ChatMock) SendMedia(ctx context.Context, data []byte, mediaType models.MediaType, conversationID uuid.UUID) (*models.Message, error) {
	args := m.Called(ctx, data, mediaType, conversationID)
	return message(args, 0), args.Error(1)
}

func (m *ChatMock) ShareLocation(ctx context.Context, loc models.UserLocation, conversationID uuid.UUID) (*models.Message, error) {
	args := m.Called(ctx, loc, conversationID)
	return message(args, 0), args.Error(1)
}

func (m *ChatMock) EditMessage(ctx context.Context, messageID uuid.UUID, newText string) (*models.Message, error) {
	args := m.Called(ctx, messageID, newText)
	return message(args, 0), args.Error(1)
}

func (m *ChatMock) DeleteMessage(ctx context.Context, messageID uuid.UUID) error {
	args := m.Called(ctx, messageID)
	return args.Error(0)
}

func (m *ChatMock) MarkRead(ctx context.Context, messageID uuid.UUID) error {
	args := m.Called(ctx, messageID)
	return args.Error(0)
}

func (m *ChatMock) FetchMessages(ctx context.Context, conversationID uuid.UUID, limit int) ([]models.Message, error) {
	args := m.Called(ctx, conversationID, limit)
	var msgs []models.Message
	if val := args.Get(0); val != nil {
		msgs = val.([]models.Message)
	}
	return msgs, args.Error(1)
}

func (m *ChatMock) ListenToMessages(ctx context.Context, conversationID uuid.UUID) (<-chan models.Message, error) {
	args := m.Called(ctx, conversationID)
	var ch <-chan models.Message
	if val := args.Get(0); val != nil {
		ch = val.(<-chan models.Message)
	}
	return ch, args.Error(1)
}
