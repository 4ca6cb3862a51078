package models

import (
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
)

const (
	// RecentWindow is how long a location counts as recent.
	RecentWindow = 300 * time.Second

	// AccurateThreshold is the horizontal accuracy, in metres, below which a fix is accurate.
	AccurateThreshold = 50.0

	earthRadiusMeters = 6371000.0
)

// UserLocation is a position reported for a user.
// Stored under the locations collection keyed by UserID, so it always holds the latest fix.
type UserLocation struct {
	UserID    uuid.UUID `json:"userId"`
	Latitude  float64   `json:"latitude"`
	Longitude float64   `json:"longitude"`
	Altitude  *float64  `json:"altitude,omitempty"`

	// HorizontalAccuracy is the radius of uncertainty in metres.
	HorizontalAccuracy float64  `json:"horizontalAccuracy"`
	VerticalAccuracy   *float64 `json:"verticalAccuracy,omitempty"`

	// Speed in metres per second, when the sensor reports one.
	Speed *float64 `json:"speed,omitempty"`

	Timestamp time.Time  `json:"timestamp"`
	TripID    *uuid.UUID `json:"tripId,omitempty"`
}

// IsRecent reports whether the fix is younger than RecentWindow at now.
func (l UserLocation) IsRecent(now time.Time) bool {
	return now.Sub(l.Timestamp) < RecentWindow
}

// IsAccurate reports whether the horizontal accuracy is under AccurateThreshold.
func (l UserLocation) IsAccurate() bool {
	return l.HorizontalAccuracy < AccurateThreshold
}

func (l UserLocation) Coordinate() Coordinate {
	return Coordinate{Latitude: l.Latitude, Longitude: l.Longitude}
}

// DistanceTo returns the great-circle distance in metres.
func (l UserLocation) DistanceTo(other UserLocation) float64 {
	return Distance(l.Coordinate(), other.Coordinate())
}

// Distance returns the haversine distance between a and b in metres.
func Distance(a, b Coordinate) float64 {
	lat1 := a.Latitude * math.Pi / 180
	lat2 := b.Latitude * math.Pi / 180
	dLat := lat2 - lat1
	dLon := (b.Longitude - a.Longitude) * math.Pi / 180

	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLon/2)*math.Sin(dLon/2)
	return 2 * earthRadiusMeters * math.Asin(math.Min(1, math.Sqrt(h)))
}

// FormatDistance renders metres as "850 m" or "1.2 km".
func FormatDistance(meters float64) string {
	if meters < 1000 {
		return fmt.Sprintf("%.0f m", meters)
	}
	return fmt.Sprintf("%.1f km", meters/1000)
}
