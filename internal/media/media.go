// Package media stores binary chat payloads out of band and hands back URLs
// that message documents reference.
package media

import (
	"context"
	"errors"

	"github.com/mapchat/syncd/internal/models"
)

var (
	ErrEmptyPayload  = errors.New("empty media payload")
	ErrNotConfigured = errors.New("media storage not configured")
)

// Uploader accepts an opaque payload and returns a URL it can be read from.
type Uploader interface {
	Upload(ctx context.Context, data []byte, mediaType models.MediaType) (string, error)
}

// Disabled rejects every upload. Used when no bucket is configured.
type Disabled struct{}

func (Disabled) Upload(context.Context, []byte, models.MediaType) (string, error) {
	return "", ErrNotConfigured
}
