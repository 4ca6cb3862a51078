package auth

import (
	"context"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"slices"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	appleIssuer   = "https://appleid.apple.com"
	appleKeysURL  = "https://appleid.apple.com/auth/keys"
	googleKeysURL = "https://www.googleapis.com/oauth2/v3/certs"

	defaultKeysTTL = time.Hour
)

var googleIssuers = []string{"https://accounts.google.com", "accounts.google.com"}

// IDTokenProvider verifies OpenID Connect ID tokens signed with the
// provider's published RSA keys.
type IDTokenProvider struct {
	name     Provider
	issuers  []string
	audience string
	keysURL  string
	client   *http.Client
	keysTTL  time.Duration
	now      func() time.Time

	mu        sync.RWMutex
	keys      map[string]*rsa.PublicKey
	fetchedAt time.Time
}

// NewAppleProvider verifies "Sign in with Apple" identity tokens issued for clientID.
func NewAppleProvider(clientID string) *IDTokenProvider {
	return NewIDTokenProvider(ProviderApple, appleKeysURL, clientID, appleIssuer)
}

// NewGoogleProvider verifies Google ID tokens issued for clientID.
func NewGoogleProvider(clientID string) *IDTokenProvider {
	return NewIDTokenProvider(ProviderGoogle, googleKeysURL, clientID, googleIssuers...)
}

func NewIDTokenProvider(name Provider, keysURL, audience string, issuers ...string) *IDTokenProvider {
	return &IDTokenProvider{
		name:     name,
		issuers:  issuers,
		audience: audience,
		keysURL:  keysURL,
		client:   &http.Client{Timeout: 10 * time.Second},
		keysTTL:  defaultKeysTTL,
		now:      time.Now,
	}
}

func (p *IDTokenProvider) Name() Provider { return p.name }

type idClaims struct {
	Email string `json:"email"`
	Name  string `json:"name"`
	jwt.RegisteredClaims
}

func (p *IDTokenProvider) Authenticate(ctx context.Context, credential string) (Identity, error) {
	if credential == "" {
		return Identity{}, ErrCancelled
	}

	token, err := jwt.ParseWithClaims(credential, &idClaims{},
		func(token *jwt.Token) (interface{}, error) {
			kid, _ := token.Header["kid"].(string)
			return p.key(ctx, kid)
		},
		jwt.WithValidMethods([]string{"RS256"}),
		jwt.WithAudience(p.audience),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(p.now),
	)
	if errors.Is(err, ErrProviderUnavailable) {
		return Identity{}, err
	}
	if err != nil {
		return Identity{}, fmt.Errorf("%w: %v", ErrInvalidCredentials, err)
	}

	claims, ok := token.Claims.(*idClaims)
	if !ok || !token.Valid {
		return Identity{}, ErrInvalidCredentials
	}
	if !slices.Contains(p.issuers, claims.Issuer) {
		return Identity{}, fmt.Errorf("%w: unexpected issuer %q", ErrInvalidCredentials, claims.Issuer)
	}
	if claims.Subject == "" {
		return Identity{}, fmt.Errorf("%w: token has no subject", ErrInvalidCredentials)
	}

	return Identity{
		Provider: p.name,
		Subject:  claims.Subject,
		Email:    claims.Email,
		Name:     claims.Name,
	}, nil
}

// key returns the signing key for kid, refreshing the key set when it is
// stale or does not know kid.
func (p *IDTokenProvider) key(ctx context.Context, kid string) (*rsa.PublicKey, error) {
	p.mu.RLock()
	k, ok := p.keys[kid]
	fresh := p.now().Sub(p.fetchedAt) < p.keysTTL
	p.mu.RUnlock()
	if ok && fresh {
		return k, nil
	}

	keys, err := p.fetchKeys(ctx)
	if err != nil {
		return nil, err
	}

	p.mu.Lock()
	p.keys = keys
	p.fetchedAt = p.now()
	p.mu.Unlock()

	if k, ok := keys[kid]; ok {
		return k, nil
	}
	return nil, fmt.Errorf("unknown signing key %q", kid)
}

type jsonWebKey struct {
	Kty string `json:"kty"`
	Kid string `json:"kid"`
	N   string `json:"n"`
	E   string `json:"e"`
}

func (p *IDTokenProvider) fetchKeys(ctx context.Context) (map[string]*rsa.PublicKey, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.keysURL, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrProviderUnavailable, err)
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrProviderUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: key set returned %s", ErrProviderUnavailable, resp.Status)
	}

	var set struct {
		Keys []jsonWebKey `json:"keys"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&set); err != nil {
		return nil, fmt.Errorf("%w: decode key set: %v", ErrProviderUnavailable, err)
	}

	keys := make(map[string]*rsa.PublicKey, len(set.Keys))
	for _, jwk := range set.Keys {
		if jwk.Kty != "RSA" {
			continue
		}
		k, err := jwk.publicKey()
		if err != nil {
			return nil, fmt.Errorf("%w: key %q: %v", ErrProviderUnavailable, jwk.Kid, err)
		}
		keys[jwk.Kid] = k
	}
	return keys, nil
}

func (k jsonWebKey) publicKey() (*rsa.PublicKey, error) {
	n, err := base64.RawURLEncoding.DecodeString(k.N)
	if err != nil {
		return nil, fmt.Errorf("modulus: %w", err)
	}
	e, err := base64.RawURLEncoding.DecodeString(k.E)
	if err != nil {
		return nil, fmt.Errorf("exponent: %w", err)
	}
	return &rsa.PublicKey{
		N: new(big.Int).SetBytes(n),
		E: int(new(big.Int).SetBytes(e).Int64()),
	}, nil
}
