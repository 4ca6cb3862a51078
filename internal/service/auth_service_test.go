package service

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mapchat/syncd/internal/auth"
	"github.com/mapchat/syncd/internal/models"
	"github.com/mapchat/syncd/internal/storage"
)

const testSecret = "test-secret-key"

// stubProvider answers every credential with identity or err.
type stubProvider struct {
	name     auth.Provider
	identity auth.Identity
	err      error
}

func (p stubProvider) Name() auth.Provider { return p.name }

func (p stubProvider) Authenticate(context.Context, string) (auth.Identity, error) {
	return p.identity, p.err
}

func newAuthService(t *testing.T, store *storage.Store, providers ...auth.IdentityProvider) *AuthService {
	t.Helper()
	providers = append(providers, auth.DevProvider{})
	return NewAuthService(store, auth.NewJWTManager(testSecret, time.Hour), slog.Default(), providers...)
}

func TestSignIn(t *testing.T) {
	store := setupStore(t)
	svc := newAuthService(t, store)
	ctx := context.Background()

	user, err := svc.SignIn(ctx, auth.ProviderDev, "Ana@Example.com|Ana Silva")
	require.NoError(t, err)
	assert.Equal(t, UserIDFor(auth.ProviderDev, "ana@example.com"), user.ID)
	assert.Equal(t, "ana@example.com", user.Email)
	assert.Equal(t, "Ana Silva", user.Name)
	assert.True(t, user.IsOnline)
	assert.True(t, svc.IsAuthenticated())
	assert.NotEmpty(t, svc.Token())

	t.Run("second sign in keeps the account", func(t *testing.T) {
		_, err := svc.SetGhostMode(ctx, true)
		require.NoError(t, err)

		again, err := svc.SignIn(ctx, auth.ProviderDev, "ana@example.com|Someone Else")
		require.NoError(t, err)
		assert.Equal(t, user.ID, again.ID)
		assert.Equal(t, "Ana Silva", again.Name)
		assert.True(t, again.IsGhostMode)
		assert.True(t, user.CreatedAt.Equal(again.CreatedAt))
	})

	t.Run("current user is a copy", func(t *testing.T) {
		u := svc.CurrentUser()
		u.Name = "changed"
		assert.Equal(t, "Ana Silva", svc.CurrentUser().Name)
	})
}

func TestSignInErrors(t *testing.T) {
	store := setupStore(t)
	google := stubProvider{name: auth.ProviderGoogle}
	svc := newAuthService(t, store, google)
	ctx := context.Background()

	tests := []struct {
		name       string
		provider   auth.Provider
		credential string
		svc        *AuthService
		wantErr    error
	}{
		{"unknown provider", auth.ProviderApple, "token", svc, ErrInvalidCredentials},
		{"empty credential", auth.ProviderDev, "", svc, ErrCancelled},
		{"rejected credential", auth.ProviderDev, "not-an-email", svc, ErrInvalidCredentials},
		{
			name: "provider unreachable", provider: auth.ProviderGoogle, credential: "token",
			svc:     newAuthService(t, store, stubProvider{name: auth.ProviderGoogle, err: auth.ErrProviderUnavailable}),
			wantErr: ErrNetwork,
		},
		{
			name: "user cancelled", provider: auth.ProviderGoogle, credential: "token",
			svc:     newAuthService(t, store, stubProvider{name: auth.ProviderGoogle, err: auth.ErrCancelled}),
			wantErr: ErrCancelled,
		},
		{
			name: "identity without email", provider: auth.ProviderGoogle, credential: "token",
			svc:     newAuthService(t, store, stubProvider{name: auth.ProviderGoogle, identity: auth.Identity{Subject: "123"}}),
			wantErr: ErrInvalidCredentials,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tt.svc.SignIn(ctx, tt.provider, tt.credential)
			assert.ErrorIs(t, err, tt.wantErr)
			assert.False(t, tt.svc.IsAuthenticated())
		})
	}

	t.Run("unexpected provider failure", func(t *testing.T) {
		broken := newAuthService(t, store, stubProvider{name: auth.ProviderGoogle, err: errors.New("boom")})
		_, err := broken.SignIn(ctx, auth.ProviderGoogle, "token")
		var ue *UnknownError
		require.ErrorAs(t, err, &ue)
		assert.Equal(t, "Authentication error: an unexpected error occurred", UserMessage(err))
	})
}

func TestSignOut(t *testing.T) {
	store := setupStore(t)
	svc := newAuthService(t, store)
	ctx := context.Background()

	require.NoError(t, svc.SignOut(ctx), "signing out while signed out succeeds")

	user, err := svc.SignIn(ctx, auth.ProviderDev, "ana@example.com|Ana")
	require.NoError(t, err)
	token := svc.Token()
	require.NoError(t, svc.SignOut(ctx))
	assert.False(t, svc.IsAuthenticated())
	assert.Nil(t, svc.CurrentUser())
	assert.Empty(t, svc.Token())

	stored, err := storage.Get[models.User](ctx, store, models.CollectionUsers, user.ID.String())
	require.NoError(t, err)
	assert.False(t, stored.IsOnline)
	require.NotNil(t, stored.LastSeen)

	t.Run("issued tokens stay valid until they expire", func(t *testing.T) {
		restored, err := newAuthService(t, store).Restore(ctx, token)
		require.NoError(t, err)
		assert.Equal(t, user.ID, restored.ID)
	})
}

func TestDeleteAccount(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()
	svc := newAuthService(t, store)

	assert.ErrorIs(t, svc.DeleteAccount(ctx), ErrUserNotFound)

	user, err := svc.SignIn(ctx, auth.ProviderDev, "ana@example.com|Ana")
	require.NoError(t, err)
	token := svc.Token()
	require.NoError(t, store.Set(ctx, models.CollectionLocations, user.ID.String(), models.UserLocation{UserID: user.ID}))

	// A second device holding the same session.
	other := newAuthService(t, store)
	_, err = other.Restore(ctx, token)
	require.NoError(t, err)

	require.NoError(t, svc.DeleteAccount(ctx))
	assert.False(t, svc.IsAuthenticated())

	for _, coll := range []string{models.CollectionUsers, models.CollectionLocations} {
		doc, err := storage.Get[map[string]any](ctx, store, coll, user.ID.String())
		require.NoError(t, err)
		assert.Nil(t, doc, coll)
	}

	_, err = other.RefreshToken(ctx)
	assert.ErrorIs(t, err, ErrAccountDeleted)
	_, err = newAuthService(t, store).Restore(ctx, token)
	assert.ErrorIs(t, err, ErrAccountDeleted)
}

func TestRefreshAndRestore(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()
	svc := newAuthService(t, store)

	_, err := svc.RefreshToken(ctx)
	assert.ErrorIs(t, err, ErrUserNotFound)

	user, err := svc.SignIn(ctx, auth.ProviderDev, "ana@example.com|Ana")
	require.NoError(t, err)

	fresh, err := svc.RefreshToken(ctx)
	require.NoError(t, err)
	assert.Equal(t, fresh, svc.Token())
	assert.Equal(t, user.ID, svc.CurrentUser().ID)

	restored := newAuthService(t, store)
	got, err := restored.Restore(ctx, fresh)
	require.NoError(t, err)
	assert.Equal(t, user.ID, got.ID)

	_, err = restored.Restore(ctx, "garbage")
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	t.Run("expired session", func(t *testing.T) {
		short := auth.NewJWTManager(testSecret, -time.Minute)
		expired, err := short.Generate(user, auth.ProviderDev)
		require.NoError(t, err)
		_, err = restored.Restore(ctx, expired)
		assert.ErrorIs(t, err, ErrTokenExpired)
		assert.Equal(t, "Authentication token expired", UserMessage(err))
	})
}

func TestPrivacySettings(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()
	svc := newAuthService(t, store)

	_, err := svc.SetGhostMode(ctx, true)
	assert.ErrorIs(t, err, ErrUserNotFound)

	_, err = svc.SignIn(ctx, auth.ProviderDev, "ana@example.com|Ana")
	require.NoError(t, err)

	blocked := uuid.New()
	u, err := svc.SetBlocked(ctx, blocked, true)
	require.NoError(t, err)
	assert.True(t, u.HasBlocked(blocked))
	u, err = svc.SetBlocked(ctx, blocked, true)
	require.NoError(t, err)
	assert.Len(t, u.BlockedUserIDs, 1)
	u, err = svc.SetBlocked(ctx, blocked, false)
	require.NoError(t, err)
	assert.Empty(t, u.BlockedUserIDs)

	require.NoError(t, svc.UpdateOnlineStatus(ctx, false))
	assert.False(t, svc.CurrentUser().IsOnline)
}
