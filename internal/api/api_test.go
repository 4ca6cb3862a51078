package api

import (
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"connectrpc.com/connect"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/mapchat/syncd/internal/auth"
	"github.com/mapchat/syncd/internal/location"
	"github.com/mapchat/syncd/internal/middleware"
	"github.com/mapchat/syncd/internal/mocks"
	"github.com/mapchat/syncd/internal/models"
	"github.com/mapchat/syncd/internal/navigation"
	"github.com/mapchat/syncd/internal/service"
	"github.com/mapchat/syncd/internal/storage"
	"github.com/mapchat/syncd/internal/storage/sqlite"
)

type testEnv struct {
	server  *httptest.Server
	jwt     *auth.JWTManager
	auth    *mocks.AuthMock
	trips   *mocks.TripsMock
	groups  *mocks.GroupsMock
	chat    *mocks.ChatMock
	devices *Devices

	user  *models.User
	token string
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	backend, err := sqlite.New(filepath.Join(t.TempDir(), "api.db"))
	require.NoError(t, err)
	store := storage.New(backend)
	t.Cleanup(func() { store.Close() })

	env := &testEnv{
		jwt:    auth.NewJWTManager("test-secret", time.Hour),
		auth:   new(mocks.AuthMock),
		trips:  new(mocks.TripsMock),
		groups: new(mocks.GroupsMock),
		chat:   new(mocks.ChatMock),
		user:   &models.User{ID: uuid.New(), Name: "Ana Silva", Email: "ana@example.com"},
	}
	env.devices = NewDevices(func(sensor location.Sensor) service.Locations {
		return service.NewLocationService(store, sensor, 200*time.Millisecond, slog.Default())
	})
	t.Cleanup(env.devices.Close)

	env.token, err = env.jwt.Generate(env.user, auth.ProviderDev)
	require.NoError(t, err)

	srv := NewServer(Services{
		Sessions: func() service.Auth { return env.auth },
		Devices:  env.devices,
		Trips:    env.trips,
		Groups:   env.groups,
		Chat:     env.chat,
	}, connect.WithInterceptors(middleware.RequireAuth(env.jwt, PublicProcedures...)))

	mux := http.NewServeMux()
	srv.Register(mux)
	env.server = httptest.NewServer(mux)
	t.Cleanup(env.server.Close)
	return env
}

func call[Req, Res any](t *testing.T, env *testEnv, procedure, token string, req *Req) (*Res, error) {
	t.Helper()
	client := connect.NewClient[Req, Res](env.server.Client(), env.server.URL+procedure, connect.WithCodec(jsonCodec{}))
	r := connect.NewRequest(req)
	if token != "" {
		r.Header().Set("Authorization", "Bearer "+token)
	}
	res, err := client.CallUnary(context.Background(), r)
	if err != nil {
		return nil, err
	}
	return res.Msg, nil
}

func TestSignInIsPublic(t *testing.T) {
	env := newTestEnv(t)
	env.auth.On("SignIn", mock.Anything, auth.ProviderDev, "ana@example.com|Ana Silva").Return(env.user, nil).Once()
	env.auth.On("Token").Return("session-token").Once()

	res, err := call[SignInRequest, SessionResponse](t, env, AuthServiceSignInProcedure, "",
		&SignInRequest{Provider: "dev", Credential: "ana@example.com|Ana Silva"})
	require.NoError(t, err)
	assert.Equal(t, "session-token", res.Token)
	assert.Equal(t, env.user.ID, res.User.ID)
	assert.Equal(t, "AS", res.User.Initials)
	env.auth.AssertExpectations(t)
}

func TestSignInErrors(t *testing.T) {
	env := newTestEnv(t)
	env.auth.On("SignIn", mock.Anything, auth.ProviderApple, "bad").Return(nil, service.ErrInvalidCredentials).Once()

	_, err := call[SignInRequest, SessionResponse](t, env, AuthServiceSignInProcedure, "",
		&SignInRequest{Provider: "apple", Credential: "bad"})
	require.Error(t, err)
	assert.Equal(t, connect.CodeUnauthenticated, connect.CodeOf(err))

	var ce *connect.Error
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, "Invalid credentials provided", ce.Message())
	assert.Equal(t, "invalidCredentials", ce.Meta().Get("Mapchat-Error-Code"))
	assert.Equal(t, "Authentication", ce.Meta().Get("Mapchat-Error-Domain"))
}

func TestProtectedProceduresNeedToken(t *testing.T) {
	env := newTestEnv(t)

	_, err := call[Empty, GroupsResponse](t, env, GroupServiceListGroupsProcedure, "", &Empty{})
	assert.Equal(t, connect.CodeUnauthenticated, connect.CodeOf(err))

	_, err = call[Empty, GroupsResponse](t, env, GroupServiceListGroupsProcedure, "not-a-jwt", &Empty{})
	assert.Equal(t, connect.CodeUnauthenticated, connect.CodeOf(err))

	env.groups.AssertNotCalled(t, "FetchGroups", mock.Anything, mock.Anything)
}

func TestGetMeRestoresSession(t *testing.T) {
	env := newTestEnv(t)
	env.auth.On("Restore", mock.Anything, env.token).Return(env.user, nil).Once()
	env.auth.On("CurrentUser").Return(env.user).Once()

	res, err := call[Empty, UserResponse](t, env, AuthServiceGetMeProcedure, env.token, &Empty{})
	require.NoError(t, err)
	assert.Equal(t, "Ana Silva", res.User.DisplayName)
	env.auth.AssertExpectations(t)
}

func TestListGroupsUsesCaller(t *testing.T) {
	env := newTestEnv(t)
	groups := []models.Group{{ID: uuid.New(), Name: "Trip Buddies", AdminID: env.user.ID, MemberIDs: []uuid.UUID{uuid.New()}}}
	env.groups.On("FetchGroups", mock.Anything, env.user.ID).Return(groups, nil).Once()

	res, err := call[Empty, GroupsResponse](t, env, GroupServiceListGroupsProcedure, env.token, &Empty{})
	require.NoError(t, err)
	require.Len(t, res.Groups, 1)
	assert.Equal(t, "Trip Buddies", res.Groups[0].Name)
	assert.Equal(t, 1, res.Groups[0].MemberCount)
	env.groups.AssertExpectations(t)
}

func TestRemoveLastMemberReturnsNoGroup(t *testing.T) {
	env := newTestEnv(t)
	groupID, member := uuid.New(), uuid.New()
	env.groups.On("RemoveMember", mock.Anything, member, groupID).Return(nil, nil).Once()

	res, err := call[MemberRequest, GroupResponse](t, env, GroupServiceRemoveMemberProcedure, env.token,
		&MemberRequest{GroupID: groupID, UserID: member})
	require.NoError(t, err)
	assert.Nil(t, res.Group)
}

func TestTripResponsesCarryDerivedState(t *testing.T) {
	env := newTestEnv(t)
	now := time.Date(2026, 7, 2, 12, 0, 0, 0, time.UTC)
	trip := &models.Trip{
		ID:           uuid.New(),
		Name:         "Summer",
		LocationName: "Lisbon",
		Coordinate:   models.Coordinate{Latitude: 38.7223, Longitude: -9.1393},
		StartDate:    now.Add(-24 * time.Hour),
		EndDate:      now.Add(48 * time.Hour),
		AdminID:      env.user.ID,
	}
	env.trips.On("FetchTrip", mock.Anything, trip.ID).Return(trip, nil).Once()
	env.trips.On("Now").Return(now)

	res, err := call[TripIDRequest, TripResponse](t, env, TripServiceGetTripProcedure, env.token, &TripIDRequest{TripID: trip.ID})
	require.NoError(t, err)
	require.NotNil(t, res.Trip)
	assert.Equal(t, "Active", res.Trip.Status)
	assert.Equal(t, 3, res.Trip.DurationDays)
	assert.Equal(t, "waze://?ll=38.7223,-9.1393&navigate=yes", res.Trip.Directions[navigation.Waze])
	assert.Len(t, res.Trip.Directions, len(navigation.Apps))
}

func TestTripReadsNeedAccess(t *testing.T) {
	env := newTestEnv(t)
	env.trips.On("Now").Return(time.Date(2026, 7, 2, 12, 0, 0, 0, time.UTC))

	shared := &models.Group{ID: uuid.New(), AdminID: uuid.New(), MemberIDs: []uuid.UUID{env.user.ID}}
	private := &models.Group{ID: uuid.New(), AdminID: uuid.New()}
	env.groups.On("FetchGroup", mock.Anything, shared.ID).Return(shared, nil)
	env.groups.On("FetchGroup", mock.Anything, private.ID).Return(private, nil)

	tests := []struct {
		name string
		trip *models.Trip
		code connect.Code
	}{
		{"member of the trip group", &models.Trip{ID: uuid.New(), Name: "Porto", AdminID: uuid.New(), GroupID: shared.ID}, 0},
		{"outside the trip group", &models.Trip{ID: uuid.New(), Name: "Faro", AdminID: uuid.New(), GroupID: private.ID}, connect.CodePermissionDenied},
		{"ungrouped trip of someone else", &models.Trip{ID: uuid.New(), Name: "Braga", AdminID: uuid.New()}, connect.CodePermissionDenied},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env.trips.On("FetchTrip", mock.Anything, tt.trip.ID).Return(tt.trip, nil)

			res, err := call[TripIDRequest, TripResponse](t, env, TripServiceGetTripProcedure, env.token, &TripIDRequest{TripID: tt.trip.ID})
			if tt.code == 0 {
				require.NoError(t, err)
				assert.Equal(t, tt.trip.Name, res.Trip.Name)
				return
			}
			assert.Equal(t, tt.code, connect.CodeOf(err))
		})
	}

	t.Run("watch is refused before streaming", func(t *testing.T) {
		trip := &models.Trip{ID: uuid.New(), AdminID: uuid.New(), GroupID: private.ID}
		env.trips.On("FetchTrip", mock.Anything, trip.ID).Return(trip, nil)

		client := connect.NewClient[TripIDRequest, TripResponse](env.server.Client(),
			env.server.URL+TripServiceWatchTripProcedure, connect.WithCodec(jsonCodec{}))
		req := connect.NewRequest(&TripIDRequest{TripID: trip.ID})
		req.Header().Set("Authorization", "Bearer "+env.token)

		stream, err := client.CallServerStream(context.Background(), req)
		require.NoError(t, err)
		defer stream.Close()
		assert.False(t, stream.Receive())
		assert.Equal(t, connect.CodePermissionDenied, connect.CodeOf(stream.Err()))
		env.trips.AssertNotCalled(t, "ListenToTrip", mock.Anything, trip.ID)
	})
}

func TestGroupReadsNeedMembership(t *testing.T) {
	env := newTestEnv(t)
	mine := &models.Group{ID: uuid.New(), Name: "Hikers", AdminID: env.user.ID}
	other := &models.Group{ID: uuid.New(), Name: "Strangers", AdminID: uuid.New()}
	env.groups.On("FetchGroup", mock.Anything, mine.ID).Return(mine, nil)
	env.groups.On("FetchGroup", mock.Anything, other.ID).Return(other, nil)

	res, err := call[GroupIDRequest, GroupResponse](t, env, GroupServiceGetGroupProcedure, env.token, &GroupIDRequest{GroupID: mine.ID})
	require.NoError(t, err)
	require.NotNil(t, res.Group)
	assert.Equal(t, "Hikers", res.Group.Name)

	_, err = call[GroupIDRequest, GroupResponse](t, env, GroupServiceGetGroupProcedure, env.token, &GroupIDRequest{GroupID: other.ID})
	assert.Equal(t, connect.CodeNotFound, connect.CodeOf(err), "other groups look missing")

	t.Run("watch hides the group once the caller leaves", func(t *testing.T) {
		left := *mine
		left.AdminID = uuid.New()
		ch := make(chan *models.Group, 2)
		ch <- mine
		ch <- &left
		close(ch)
		env.groups.On("ListenToGroup", mock.Anything, mine.ID).Return((<-chan *models.Group)(ch)).Once()

		client := connect.NewClient[GroupIDRequest, GroupResponse](env.server.Client(),
			env.server.URL+GroupServiceWatchGroupProcedure, connect.WithCodec(jsonCodec{}))
		req := connect.NewRequest(&GroupIDRequest{GroupID: mine.ID})
		req.Header().Set("Authorization", "Bearer "+env.token)

		stream, err := client.CallServerStream(context.Background(), req)
		require.NoError(t, err)
		defer stream.Close()

		var names []string
		for stream.Receive() {
			if g := stream.Msg().Group; g != nil {
				names = append(names, g.Name)
			} else {
				names = append(names, "")
			}
		}
		require.NoError(t, stream.Err())
		assert.Equal(t, []string{"Hikers", ""}, names)
	})

	t.Run("watch of another group is refused", func(t *testing.T) {
		client := connect.NewClient[GroupIDRequest, GroupResponse](env.server.Client(),
			env.server.URL+GroupServiceWatchGroupProcedure, connect.WithCodec(jsonCodec{}))
		req := connect.NewRequest(&GroupIDRequest{GroupID: other.ID})
		req.Header().Set("Authorization", "Bearer "+env.token)

		stream, err := client.CallServerStream(context.Background(), req)
		require.NoError(t, err)
		defer stream.Close()
		assert.False(t, stream.Receive())
		assert.Equal(t, connect.CodeNotFound, connect.CodeOf(stream.Err()))
	})
}

func TestServiceErrorsMapToCodes(t *testing.T) {
	env := newTestEnv(t)

	tests := []struct {
		name string
		err  error
		code connect.Code
	}{
		{"permission", service.ErrTripPermissionDenied, connect.CodePermissionDenied},
		{"invalid", service.ErrTripInvalidData, connect.CodeInvalidArgument},
		{"conflict", service.ErrTripConflict, connect.CodeAborted},
		{"timeout", &service.UnknownError{Domain: service.DomainTrip, Detail: "the request timed out", Err: storage.ErrTimeout}, connect.CodeUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env.trips.On("CreateTrip", mock.Anything, mock.Anything).Return(nil, tt.err).Once()
			_, err := call[TripRequest, TripResponse](t, env, TripServiceCreateTripProcedure, env.token, &TripRequest{})
			assert.Equal(t, tt.code, connect.CodeOf(err))
		})
	}
}

func TestWatchMessagesStreams(t *testing.T) {
	env := newTestEnv(t)
	convID := uuid.New()

	ch := make(chan models.Message, 2)
	ch <- models.Message{ID: uuid.New(), ConversationID: convID, Text: "Hi", Status: models.StatusSent}
	ch <- models.Message{ID: uuid.New(), ConversationID: convID, IsDeleted: true, Status: models.StatusSent}
	close(ch)
	env.chat.On("ListenToMessages", mock.Anything, convID).Return((<-chan models.Message)(ch), nil).Once()

	client := connect.NewClient[ConversationIDRequest, MessageResponse](env.server.Client(),
		env.server.URL+ChatServiceWatchMessagesProcedure, connect.WithCodec(jsonCodec{}))
	req := connect.NewRequest(&ConversationIDRequest{ConversationID: convID})
	req.Header().Set("Authorization", "Bearer "+env.token)

	stream, err := client.CallServerStream(context.Background(), req)
	require.NoError(t, err)
	defer stream.Close()

	var texts []string
	for stream.Receive() {
		texts = append(texts, stream.Msg().Message.DisplayText)
	}
	require.NoError(t, stream.Err())
	assert.Equal(t, []string{"Hi", "This message was deleted"}, texts)
}

func TestWatchMessagesPermission(t *testing.T) {
	env := newTestEnv(t)
	convID := uuid.New()
	env.chat.On("ListenToMessages", mock.Anything, convID).Return(nil, service.ErrChatPermissionDenied).Once()

	client := connect.NewClient[ConversationIDRequest, MessageResponse](env.server.Client(),
		env.server.URL+ChatServiceWatchMessagesProcedure, connect.WithCodec(jsonCodec{}))
	req := connect.NewRequest(&ConversationIDRequest{ConversationID: convID})
	req.Header().Set("Authorization", "Bearer "+env.token)

	stream, err := client.CallServerStream(context.Background(), req)
	require.NoError(t, err)
	defer stream.Close()
	assert.False(t, stream.Receive())
	assert.Equal(t, connect.CodePermissionDenied, connect.CodeOf(stream.Err()))
}

func TestDeviceLocationFlow(t *testing.T) {
	env := newTestEnv(t)

	_, err := call[DeviceStateRequest, TrackingResponse](t, env, LocationServiceReportDeviceStateProcedure, env.token,
		&DeviceStateRequest{ServicesEnabled: true, Authorization: "granted"})
	assert.Equal(t, connect.CodeInvalidArgument, connect.CodeOf(err))

	_, err = call[Empty, TrackingResponse](t, env, LocationServiceStartTrackingProcedure, env.token, &Empty{})
	assert.Equal(t, connect.CodePermissionDenied, connect.CodeOf(err), "tracking needs a granted permission")

	state, err := call[DeviceStateRequest, TrackingResponse](t, env, LocationServiceReportDeviceStateProcedure, env.token,
		&DeviceStateRequest{ServicesEnabled: true, Authorization: "authorizedWhenInUse"})
	require.NoError(t, err)
	assert.False(t, state.Tracking)

	state, err = call[Empty, TrackingResponse](t, env, LocationServiceStartTrackingProcedure, env.token, &Empty{})
	require.NoError(t, err)
	assert.True(t, state.Tracking)
	assert.Equal(t, "authorizedWhenInUse", state.Authorization)

	_, err = call[FixRequest, Empty](t, env, LocationServicePushFixProcedure, env.token,
		&FixRequest{Latitude: 38.7223, Longitude: -9.1393, HorizontalAccuracy: 12})
	require.NoError(t, err)

	_, locs := env.devices.For(env.user.ID)
	require.Eventually(t, func() bool {
		loc := locs.CurrentLocation()
		return loc != nil && loc.UserID == env.user.ID
	}, 2*time.Second, 10*time.Millisecond)

	state, err = call[DeviceStateRequest, TrackingResponse](t, env, LocationServiceReportDeviceStateProcedure, env.token,
		&DeviceStateRequest{ServicesEnabled: false, Authorization: "authorizedWhenInUse"})
	require.NoError(t, err)
	assert.False(t, state.Tracking, "disabling services stops tracking")

	_, err = call[Empty, LocationResponse](t, env, LocationServiceGetCurrentLocationProcedure, env.token, &Empty{})
	assert.Equal(t, connect.CodeFailedPrecondition, connect.CodeOf(err))
	var ce *connect.Error
	require.ErrorAs(t, err, &ce)
	assert.True(t, strings.HasPrefix(ce.Message(), "Location services"))
}
