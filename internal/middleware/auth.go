package middleware

import (
	"context"
	"net/http"
	"slices"
	"strings"

	"connectrpc.com/connect"
	"github.com/google/uuid"

	"github.com/mapchat/syncd/internal/auth"
)

// contextKey is a custom type for context keys to avoid collisions.
type contextKey string

const (
	// UserIDKey is the context key for storing the authenticated user ID.
	UserIDKey contextKey = "user_id"
	// EmailKey is the context key for storing the authenticated user's email.
	EmailKey contextKey = "email"
	// TokenKey is the context key for the raw session token.
	TokenKey contextKey = "token"
)

// WithCaller returns a context carrying the authenticated caller.
func WithCaller(ctx context.Context, userID uuid.UUID, email string) context.Context {
	ctx = context.WithValue(ctx, UserIDKey, userID)
	return context.WithValue(ctx, EmailKey, email)
}

// CallerID extracts the authenticated user ID from the context.
func CallerID(ctx context.Context) (uuid.UUID, bool) {
	id, ok := ctx.Value(UserIDKey).(uuid.UUID)
	return id, ok && id != uuid.Nil
}

// GetUserID returns the caller ID in string form, or "" before authentication.
func GetUserID(ctx context.Context) string {
	if id, ok := CallerID(ctx); ok {
		return id.String()
	}
	return ""
}

// GetEmail extracts the user email from the context.
// Returns empty string if not found.
func GetEmail(ctx context.Context) string {
	email, _ := ctx.Value(EmailKey).(string)
	return email
}

// GetToken returns the session token the request was authenticated with.
func GetToken(ctx context.Context) string {
	token, _ := ctx.Value(TokenKey).(string)
	return token
}

type authInterceptor struct {
	jwtManager *auth.JWTManager
	public     []string
}

// RequireAuth returns an interceptor that validates the bearer token of every
// procedure except the public ones and adds the caller to the request context.
// Expired tokens are let through on token refresh procedures listed as public;
// those handlers read the raw token themselves.
func RequireAuth(jwtManager *auth.JWTManager, public ...string) connect.Interceptor {
	return &authInterceptor{jwtManager: jwtManager, public: public}
}

func (i *authInterceptor) authenticate(ctx context.Context, procedure string, header http.Header) (context.Context, error) {
	token, err := bearerToken(header)
	if slices.Contains(i.public, procedure) {
		if err == nil {
			ctx = context.WithValue(ctx, TokenKey, token)
		}
		return ctx, nil
	}
	if err != nil {
		return nil, connect.NewError(connect.CodeUnauthenticated, err)
	}

	claims, err := i.jwtManager.Validate(token)
	if err != nil {
		return nil, connect.NewError(connect.CodeUnauthenticated, err)
	}
	userID, err := uuid.Parse(claims.UserID)
	if err != nil {
		return nil, connect.NewError(connect.CodeUnauthenticated, auth.ErrInvalidToken)
	}

	ctx = WithCaller(ctx, userID, claims.Email)
	return context.WithValue(ctx, TokenKey, token), nil
}

func bearerToken(header http.Header) (string, error) {
	authHeader := header.Get("Authorization")
	if authHeader == "" {
		return "", auth.ErrMissingToken
	}
	scheme, token, ok := strings.Cut(authHeader, " ")
	if !ok || scheme != "Bearer" || token == "" {
		return "", auth.ErrInvalidToken
	}
	return token, nil
}

func (i *authInterceptor) WrapUnary(next connect.UnaryFunc) connect.UnaryFunc {
	return func(ctx context.Context, req connect.AnyRequest) (connect.AnyResponse, error) {
		ctx, err := i.authenticate(ctx, req.Spec().Procedure, req.Header())
		if err != nil {
			return nil, err
		}
		return next(ctx, req)
	}
}

func (i *authInterceptor) WrapStreamingClient(next connect.StreamingClientFunc) connect.StreamingClientFunc {
	return next
}

func (i *authInterceptor) WrapStreamingHandler(next connect.StreamingHandlerFunc) connect.StreamingHandlerFunc {
	return func(ctx context.Context, conn connect.StreamingHandlerConn) error {
		ctx, err := i.authenticate(ctx, conn.Spec().Procedure, conn.RequestHeader())
		if err != nil {
			return err
		}
		return next(ctx, conn)
	}
}
