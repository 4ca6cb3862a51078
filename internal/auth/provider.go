package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Provider names an identity provider flow.
type Provider string

const (
	ProviderApple  Provider = "apple"
	ProviderGoogle Provider = "google"
	// ProviderDev accepts unsigned "email|name" credentials. Local use only.
	ProviderDev Provider = "dev"
)

var (
	// ErrCancelled means the user abandoned the provider flow before a credential existed.
	ErrCancelled = errors.New("sign-in cancelled")
	// ErrInvalidCredentials means the provider rejected the credential.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrProviderUnavailable means the provider could not be reached.
	ErrProviderUnavailable = errors.New("identity provider unavailable")
	// ErrUnknownProvider is returned for providers that are not configured.
	ErrUnknownProvider = errors.New("unknown identity provider")
)

// Identity is what a provider vouches for after a successful exchange.
type Identity struct {
	Provider Provider
	// Subject is the provider's stable, unique identifier of the account.
	Subject string
	Email   string
	Name    string
}

// IdentityProvider exchanges a credential obtained on the device for an identity.
// This abstraction allows adding providers without changing the service layer.
type IdentityProvider interface {
	Name() Provider
	Authenticate(ctx context.Context, credential string) (Identity, error)
}

// DevProvider trusts "email|name" credentials.
type DevProvider struct{}

func (DevProvider) Name() Provider { return ProviderDev }

func (DevProvider) Authenticate(_ context.Context, credential string) (Identity, error) {
	email, name, _ := strings.Cut(credential, "|")
	email = strings.ToLower(strings.TrimSpace(email))
	if !strings.Contains(email, "@") {
		return Identity{}, fmt.Errorf("%w: dev credential needs an email", ErrInvalidCredentials)
	}
	return Identity{Provider: ProviderDev, Subject: email, Email: email, Name: strings.TrimSpace(name)}, nil
}
