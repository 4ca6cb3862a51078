// Package location defines the device location sensor contract and the
// movement-adaptive accuracy policy applied to it.
package location

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/mapchat/syncd/internal/models"
)

var (
	ErrServicesDisabled = errors.New("location services disabled")
	ErrNoFix            = errors.New("no location fix available")
)

// Authorization is the platform permission state for location access.
type Authorization int

const (
	NotDetermined Authorization = iota
	Restricted
	Denied
	AuthorizedWhenInUse
	AuthorizedAlways
)

func (a Authorization) String() string {
	switch a {
	case Restricted:
		return "restricted"
	case Denied:
		return "denied"
	case AuthorizedWhenInUse:
		return "authorizedWhenInUse"
	case AuthorizedAlways:
		return "authorizedAlways"
	default:
		return "notDetermined"
	}
}

// Authorized reports whether tracking may start.
func (a Authorization) Authorized() bool {
	return a == AuthorizedWhenInUse || a == AuthorizedAlways
}

// TrackingMode is the permission tier a caller asks for.
type TrackingMode int

const (
	ModeDisabled TrackingMode = iota
	ModeWhenInUse
	ModeAlways
)

func (m TrackingMode) String() string {
	switch m {
	case ModeWhenInUse:
		return "whenInUse"
	case ModeAlways:
		return "always"
	default:
		return "disabled"
	}
}

// Fix is one raw position from the sensor.
type Fix struct {
	Latitude           float64
	Longitude          float64
	Altitude           *float64
	HorizontalAccuracy float64
	VerticalAccuracy   *float64
	Speed              *float64
	Timestamp          time.Time
}

// For attributes the fix to a user.
func (f Fix) For(userID uuid.UUID) models.UserLocation {
	return models.UserLocation{
		UserID:             userID,
		Latitude:           f.Latitude,
		Longitude:          f.Longitude,
		Altitude:           f.Altitude,
		HorizontalAccuracy: f.HorizontalAccuracy,
		VerticalAccuracy:   f.VerticalAccuracy,
		Speed:              f.Speed,
		Timestamp:          f.Timestamp,
	}
}

// Sensor is a device location source.
type Sensor interface {
	ServicesEnabled() bool
	Authorization() Authorization
	// RequestAuthorization asks the platform for the given tier and returns the
	// resulting state. It must not be called with ModeDisabled.
	RequestAuthorization(ctx context.Context, mode TrackingMode) (Authorization, error)
	// Start begins continuous updates. The channel is closed when ctx is done.
	Start(ctx context.Context, settings Settings) (<-chan Fix, error)
	// Reconfigure changes the settings of a running stream.
	Reconfigure(settings Settings)
	// RequestFix returns the next fix, or ErrNoFix when ctx ends first.
	RequestFix(ctx context.Context) (Fix, error)
}

// ParseAuthorization is the inverse of Authorization.String.
func ParseAuthorization(s string) (Authorization, bool) {
	for a := NotDetermined; a <= AuthorizedAlways; a++ {
		if a.String() == s {
			return a, true
		}
	}
	return NotDetermined, false
}

// ParseTrackingMode is the inverse of TrackingMode.String.
func ParseTrackingMode(s string) (TrackingMode, bool) {
	for m := ModeDisabled; m <= ModeAlways; m++ {
		if m.String() == s {
			return m, true
		}
	}
	return ModeDisabled, false
}
