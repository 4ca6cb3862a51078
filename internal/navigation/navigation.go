// Package navigation builds deep links that hand a destination to an external
// navigation app.
package navigation

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/mapchat/syncd/internal/models"
)

// App is an external navigation target.
type App string

const (
	Waze       App = "waze"
	AppleMaps  App = "appleMaps"
	GoogleMaps App = "googleMaps"
)

// Apps lists every supported target in display order.
var Apps = []App{Waze, AppleMaps, GoogleMaps}

func (a App) DisplayName() string {
	switch a {
	case Waze:
		return "Waze"
	case AppleMaps:
		return "Apple Maps"
	case GoogleMaps:
		return "Google Maps"
	default:
		return string(a)
	}
}

// DirectionsURL returns the deep link that starts directions to dest.
func DirectionsURL(app App, dest models.Coordinate) (string, error) {
	ll := formatCoord(dest.Latitude) + "," + formatCoord(dest.Longitude)

	switch app {
	case Waze:
		return "waze://?ll=" + ll + "&navigate=yes", nil
	case AppleMaps:
		return "http://maps.apple.com/?daddr=" + ll, nil
	case GoogleMaps:
		return "comgooglemaps://?daddr=" + ll + "&directionsmode=driving", nil
	default:
		return "", fmt.Errorf("unknown navigation app %q", app)
	}
}

// Links returns the directions link for every supported app.
func Links(dest models.Coordinate) map[App]string {
	links := make(map[App]string, len(Apps))
	for _, app := range Apps {
		link, _ := DirectionsURL(app, dest)
		links[app] = link
	}
	return links
}

func formatCoord(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// Launcher hands a URL to whatever opens it on the device.
type Launcher interface {
	Launch(ctx context.Context, rawURL string) error
}

// LauncherFunc adapts a function to Launcher.
type LauncherFunc func(ctx context.Context, rawURL string) error

func (f LauncherFunc) Launch(ctx context.Context, rawURL string) error { return f(ctx, rawURL) }

// Open starts directions in app without waiting for the launcher. Failures are
// logged and otherwise dropped.
func Open(ctx context.Context, l Launcher, app App, dest models.Coordinate) {
	link, err := DirectionsURL(app, dest)
	if err != nil {
		slog.Warn("Navigation link failed", "app", app, "error", err)
		return
	}
	ctx = context.WithoutCancel(ctx)
	go func() {
		if err := l.Launch(ctx, link); err != nil {
			slog.Warn("Navigation launch failed", "app", app, "error", err)
		}
	}()
}
