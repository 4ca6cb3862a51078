package service

import (
	"context"
	"errors"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/mapchat/syncd/internal/auth"
	"github.com/mapchat/syncd/internal/models"
	"github.com/mapchat/syncd/internal/storage"
)

// userNamespace derives user IDs from provider subjects.
var userNamespace = uuid.MustParse("6c1b7a52-3f0e-4d8b-9a47-2e5d8c0f1b93")

// UserIDFor returns the stable user ID of a provider account.
func UserIDFor(provider auth.Provider, subject string) uuid.UUID {
	return uuid.NewSHA1(userNamespace, []byte(string(provider)+":"+subject))
}

// AuthService holds one signed-in session.
//
// Mutating operations are serialized; the session fields are guarded
// separately so CurrentUser and IsAuthenticated never wait on a remote call.
type AuthService struct {
	store      *storage.Store
	jwtManager *auth.JWTManager
	providers  map[auth.Provider]auth.IdentityProvider
	logger     *slog.Logger
	now        func() time.Time

	op sync.Mutex

	mu       sync.RWMutex
	user     *models.User
	token    string
	provider auth.Provider
}

// NewAuthService creates a signed-out session that accepts the given providers.
func NewAuthService(store *storage.Store, jwtManager *auth.JWTManager, logger *slog.Logger, providers ...auth.IdentityProvider) *AuthService {
	byName := make(map[auth.Provider]auth.IdentityProvider, len(providers))
	for _, p := range providers {
		byName[p.Name()] = p
	}
	return &AuthService{
		store:      store,
		jwtManager: jwtManager,
		providers:  byName,
		logger:     logger,
		now:        time.Now,
	}
}

// SignIn exchanges a provider credential for a session. The user document is
// created or refreshed before the session is set.
func (s *AuthService) SignIn(ctx context.Context, provider auth.Provider, credential string) (*models.User, error) {
	s.op.Lock()
	defer s.op.Unlock()

	s.logger.Info("SignIn request", "provider", provider)

	p, ok := s.providers[provider]
	if !ok {
		return nil, wrap(ErrInvalidCredentials, auth.ErrUnknownProvider)
	}
	if credential == "" {
		return nil, ErrCancelled
	}

	identity, err := p.Authenticate(ctx, credential)
	if err != nil {
		s.logger.Warn("SignIn failed", "provider", provider, "error", err)
		return nil, providerError(err)
	}

	userID := UserIDFor(provider, identity.Subject)
	now := s.now().UTC()
	user, err := storage.Update(ctx, s.store, models.CollectionUsers, userID.String(),
		func(cur *models.User) (*models.User, error) {
			var next models.User
			if cur == nil {
				next = models.User{
					ID:             userID,
					Name:           identity.Name,
					Email:          identity.Email,
					GroupIDs:       []uuid.UUID{},
					BlockedUserIDs: []uuid.UUID{},
					CreatedAt:      now,
				}
				if err := next.Validate(); err != nil {
					return nil, wrap(ErrInvalidCredentials, err)
				}
			} else {
				next = *cur
				if models.IsBlank(next.Name) {
					next.Name = identity.Name
				}
				if models.IsBlank(next.Email) {
					next.Email = identity.Email
				}
			}
			next.IsOnline = true
			next.LastSeen = &now
			next.UpdatedAt = now
			return &next, nil
		})
	if err != nil {
		s.logger.Error("SignIn failed to store user", "user_id", userID, "error", err)
		return nil, storeError(DomainAuth, err)
	}

	token, err := s.jwtManager.Generate(user, provider)
	if err != nil {
		s.logger.Error("Failed to generate token", "user_id", user.ID, "error", err)
		return nil, unknown(DomainAuth, err)
	}

	s.setSession(user, token, provider)
	s.logger.Info("User signed in successfully", "user_id", user.ID, "provider", provider)
	return s.CurrentUser(), nil
}

func providerError(err error) error {
	switch {
	case errors.Is(err, auth.ErrCancelled), errors.Is(err, context.Canceled):
		return wrap(ErrCancelled, err)
	case errors.Is(err, auth.ErrInvalidCredentials):
		return wrap(ErrInvalidCredentials, err)
	case errors.Is(err, auth.ErrProviderUnavailable), errors.Is(err, context.DeadlineExceeded):
		return wrap(ErrNetwork, err)
	default:
		return unknown(DomainAuth, err)
	}
}

func tokenError(err error) error {
	if errors.Is(err, auth.ErrTokenExpired) {
		return wrap(ErrTokenExpired, err)
	}
	return wrap(ErrInvalidCredentials, err)
}

// Restore resumes a session from a token issued by SignIn or RefreshToken.
func (s *AuthService) Restore(ctx context.Context, token string) (*models.User, error) {
	s.op.Lock()
	defer s.op.Unlock()

	claims, err := s.jwtManager.Validate(token)
	if err != nil {
		return nil, tokenError(err)
	}
	userID, err := uuid.Parse(claims.UserID)
	if err != nil {
		return nil, wrap(ErrInvalidCredentials, err)
	}

	user, err := storage.Get[models.User](ctx, s.store, models.CollectionUsers, userID.String())
	if err != nil {
		return nil, storeError(DomainAuth, err)
	}
	if user == nil {
		return nil, ErrAccountDeleted
	}

	s.setSession(user, token, claims.Provider)
	return s.CurrentUser(), nil
}

// SignOut ends the session. Signing out while signed out does nothing. The
// presence update is best effort; the session is cleared regardless.
func (s *AuthService) SignOut(ctx context.Context) error {
	s.op.Lock()
	defer s.op.Unlock()

	user := s.CurrentUser()
	if user == nil {
		return nil
	}
	s.logger.Info("SignOut request", "user_id", user.ID)

	now := s.now().UTC()
	_, err := storage.Update(ctx, s.store, models.CollectionUsers, user.ID.String(),
		func(cur *models.User) (*models.User, error) {
			if cur == nil {
				return cur, nil
			}
			next := *cur
			next.IsOnline = false
			next.LastSeen = &now
			return &next, nil
		})
	if err != nil {
		s.logger.Warn("Failed to record sign-out presence", "user_id", user.ID, "error", err)
	}

	s.setSession(nil, "", "")
	return nil
}

// DeleteAccount removes the user document and location, then ends the
// session. If the removal fails the session is kept so the call can be retried.
func (s *AuthService) DeleteAccount(ctx context.Context) error {
	s.op.Lock()
	defer s.op.Unlock()

	user := s.CurrentUser()
	if user == nil {
		return ErrUserNotFound
	}
	s.logger.Info("DeleteAccount request", "user_id", user.ID)

	err := s.store.Batch(ctx, []storage.Mutation{
		storage.DeleteOp(models.CollectionUsers, user.ID.String()),
		storage.DeleteOp(models.CollectionLocations, user.ID.String()),
	})
	if err != nil {
		s.logger.Error("DeleteAccount failed", "user_id", user.ID, "error", err)
		return storeError(DomainAuth, err)
	}

	s.setSession(nil, "", "")
	s.logger.Info("Account deleted", "user_id", user.ID)
	return nil
}

// RefreshToken issues a new session token. The current user is unchanged.
func (s *AuthService) RefreshToken(ctx context.Context) (string, error) {
	s.op.Lock()
	defer s.op.Unlock()

	s.mu.RLock()
	user, token, provider := s.user, s.token, s.provider
	s.mu.RUnlock()
	if user == nil {
		return "", ErrUserNotFound
	}

	if _, err := s.jwtManager.Validate(token); err != nil {
		return "", tokenError(err)
	}
	stored, err := storage.Get[models.User](ctx, s.store, models.CollectionUsers, user.ID.String())
	if err != nil {
		return "", storeError(DomainAuth, err)
	}
	if stored == nil {
		return "", ErrAccountDeleted
	}

	fresh, err := s.jwtManager.Generate(user, provider)
	if err != nil {
		return "", unknown(DomainAuth, err)
	}

	s.mu.Lock()
	s.token = fresh
	s.mu.Unlock()
	return fresh, nil
}

// UpdateOnlineStatus records presence on the user document.
func (s *AuthService) UpdateOnlineStatus(ctx context.Context, online bool) error {
	now := s.now().UTC()
	_, err := s.updateSelf(ctx, func(u *models.User) {
		u.IsOnline = online
		u.LastSeen = &now
	})
	return err
}

// SetGhostMode hides or shows the user's location to others.
func (s *AuthService) SetGhostMode(ctx context.Context, enabled bool) (*models.User, error) {
	return s.updateSelf(ctx, func(u *models.User) {
		u.IsGhostMode = enabled
	})
}

// SetBlocked adds or removes other from the user's blocked list.
func (s *AuthService) SetBlocked(ctx context.Context, other uuid.UUID, blocked bool) (*models.User, error) {
	return s.updateSelf(ctx, func(u *models.User) {
		has := slices.Contains(u.BlockedUserIDs, other)
		switch {
		case blocked && !has:
			u.BlockedUserIDs = append(slices.Clone(u.BlockedUserIDs), other)
		case !blocked && has:
			u.BlockedUserIDs = slices.DeleteFunc(slices.Clone(u.BlockedUserIDs), func(id uuid.UUID) bool { return id == other })
		}
	})
}

func (s *AuthService) updateSelf(ctx context.Context, apply func(*models.User)) (*models.User, error) {
	s.op.Lock()
	defer s.op.Unlock()

	user := s.CurrentUser()
	if user == nil {
		return nil, ErrUserNotFound
	}
	now := s.now().UTC()
	updated, err := storage.Update(ctx, s.store, models.CollectionUsers, user.ID.String(),
		func(cur *models.User) (*models.User, error) {
			if cur == nil {
				return nil, ErrAccountDeleted
			}
			next := *cur
			apply(&next)
			next.UpdatedAt = now
			return &next, nil
		})
	if err != nil {
		s.logger.Error("User update failed", "user_id", user.ID, "error", err)
		return nil, storeError(DomainAuth, err)
	}

	s.mu.Lock()
	s.user = updated
	s.mu.Unlock()
	return s.CurrentUser(), nil
}

func (s *AuthService) setSession(user *models.User, token string, provider auth.Provider) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.user, s.token, s.provider = user, token, provider
}

// CurrentUser returns a copy of the signed-in user, or nil.
func (s *AuthService) CurrentUser() *models.User {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.user == nil {
		return nil
	}
	u := *s.user
	return &u
}

func (s *AuthService) IsAuthenticated() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.user != nil
}

// Token returns the current session token, or "".
func (s *AuthService) Token() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.token
}
