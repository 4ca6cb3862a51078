package service

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/mapchat/syncd/internal/middleware"
	"github.com/mapchat/syncd/internal/storage"
	"github.com/mapchat/syncd/internal/storage/sqlite"
)

// setupStore creates a Document Store on a temporary SQLite database.
func setupStore(t *testing.T) *storage.Store {
	t.Helper()

	tmpFile, err := os.CreateTemp("", "test-*.db")
	require.NoError(t, err)
	tmpFile.Close()

	backend, err := sqlite.New(tmpFile.Name())
	if err != nil {
		os.Remove(tmpFile.Name())
		t.Fatalf("failed to create backend: %v", err)
	}
	store := storage.New(backend)

	t.Cleanup(func() {
		store.Close()
		os.Remove(tmpFile.Name())
	})
	return store
}

// as returns a context authenticated as userID.
func as(userID uuid.UUID) context.Context {
	return middleware.WithCaller(context.Background(), userID, "")
}

// fixedClock is a settable clock for services.
type fixedClock struct{ t time.Time }

func (c *fixedClock) now() time.Time { return c.t }

func (c *fixedClock) advance(d time.Duration) { c.t = c.t.Add(d) }
