package navigation

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mapchat/syncd/internal/models"
)

func TestDirectionsURL(t *testing.T) {
	dest := models.Coordinate{Latitude: 48.8584, Longitude: 2.2945}

	tests := []struct {
		app  App
		want string
	}{
		{Waze, "waze://?ll=48.8584,2.2945&navigate=yes"},
		{AppleMaps, "http://maps.apple.com/?daddr=48.8584,2.2945"},
		{GoogleMaps, "comgooglemaps://?daddr=48.8584,2.2945&directionsmode=driving"},
	}
	for _, tt := range tests {
		t.Run(tt.app.DisplayName(), func(t *testing.T) {
			got, err := DirectionsURL(tt.app, dest)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	_, err := DirectionsURL("citymapper", dest)
	assert.Error(t, err)
}

func TestLinks(t *testing.T) {
	links := Links(models.Coordinate{Latitude: -33.8568, Longitude: 151.2153})
	assert.Len(t, links, 3)
	assert.Equal(t, "http://maps.apple.com/?daddr=-33.8568,151.2153", links[AppleMaps])
}

func TestOpenIsFireAndForget(t *testing.T) {
	launched := make(chan string, 1)
	release := make(chan struct{})
	l := LauncherFunc(func(_ context.Context, rawURL string) error {
		<-release
		launched <- rawURL
		return errors.New("no handler installed")
	})

	ctx, cancel := context.WithCancel(context.Background())
	Open(ctx, l, Waze, models.Coordinate{Latitude: 1, Longitude: 2})
	cancel()
	close(release)

	select {
	case got := <-launched:
		assert.Equal(t, "waze://?ll=1,2&navigate=yes", got)
	case <-time.After(time.Second):
		t.Fatal("launcher not called")
	}
}
