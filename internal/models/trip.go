package models

import (
	"errors"
	"math"
	"time"

	"github.com/google/uuid"
)

// ErrInvalidTrip is returned by Trip.Validate.
var ErrInvalidTrip = errors.New("invalid trip")

// TripStatus is the derived state of a trip relative to the current time.
type TripStatus int

const (
	TripUpcoming TripStatus = iota
	TripActive
	TripPast
)

// String returns the user-facing label of the status.
func (s TripStatus) String() string {
	switch s {
	case TripUpcoming:
		return "Upcoming"
	case TripActive:
		return "Active"
	default:
		return "Completed"
	}
}

// Coordinate is a WGS84 position in degrees.
type Coordinate struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// Trip represents a dated destination shared with a group.
type Trip struct {
	// ID is the unique identifier for the trip.
	ID uuid.UUID `json:"id"`

	// Name is the title of the trip (e.g., "Summer in Lisbon").
	Name string `json:"name"`

	// LocationName is the human-readable destination.
	LocationName string `json:"locationName"`

	// Coordinate is the destination used for maps and navigation.
	Coordinate Coordinate `json:"coordinate"`

	// StartDate must be strictly before EndDate.
	StartDate time.Time `json:"startDate"`
	EndDate   time.Time `json:"endDate"`

	// GroupID is the group the trip is shared with.
	GroupID uuid.UUID `json:"groupId"`

	// AdminID is the user who manages the trip.
	AdminID uuid.UUID `json:"adminId"`

	Description string `json:"description,omitempty"`
	ImageURL    string `json:"imageURL,omitempty"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Validate checks the name, destination and date range.
func (t Trip) Validate() error {
	var errs []error
	if IsBlank(t.Name) {
		errs = append(errs, errors.New("name is required"))
	}
	if IsBlank(t.LocationName) {
		errs = append(errs, errors.New("location name is required"))
	}
	if !t.StartDate.Before(t.EndDate) {
		errs = append(errs, errors.New("start date must be before end date"))
	}
	if len(errs) > 0 {
		return errors.Join(append([]error{ErrInvalidTrip}, errs...)...)
	}
	return nil
}

// Status derives the trip state at now.
// A trip is active on both boundaries of [StartDate, EndDate].
func (t Trip) Status(now time.Time) TripStatus {
	switch {
	case now.Before(t.StartDate):
		return TripUpcoming
	case now.After(t.EndDate):
		return TripPast
	default:
		return TripActive
	}
}

func (t Trip) IsUpcoming(now time.Time) bool { return t.Status(now) == TripUpcoming }
func (t Trip) IsActive(now time.Time) bool   { return t.Status(now) == TripActive }
func (t Trip) IsPast(now time.Time) bool     { return t.Status(now) == TripPast }

// StatusText returns "Upcoming", "Active" or "Completed".
func (t Trip) StatusText(now time.Time) string {
	return t.Status(now).String()
}

// DurationDays is the number of calendar days covered, rounded up.
func (t Trip) DurationDays() int {
	if !t.StartDate.Before(t.EndDate) {
		return 0
	}
	return int(math.Ceil(t.EndDate.Sub(t.StartDate).Hours() / 24))
}
