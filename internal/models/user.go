package models

import (
	"errors"
	"slices"
	"strings"
	"time"
	"unicode"

	"github.com/google/uuid"
)

// ErrInvalidUser is returned by User.Validate.
var ErrInvalidUser = errors.New("invalid user")

// User represents a registered account.
//
// A user owns its ghost-mode flag and its blocked list; no other entity or
// service acting on behalf of another user may change them.
type User struct {
	// ID is the unique identifier for the user.
	// Derived deterministically from the identity provider subject at sign-in.
	ID uuid.UUID `json:"id"`

	// Name is the display name reported by the identity provider or edited by the user.
	Name string `json:"name"`

	// Email is the user's email address. Required for created accounts.
	Email string `json:"email"`

	PhoneNumber string `json:"phoneNumber,omitempty"`
	AvatarURL   string `json:"avatarURL,omitempty"`

	// CurrentLocation is the last location the user shared, if any.
	// Hidden from other users while IsGhostMode is set.
	CurrentLocation *UserLocation `json:"currentLocation,omitempty"`

	// GroupIDs lists groups the user joined, as recorded on the user document.
	// Group documents remain the source of truth for membership.
	GroupIDs []uuid.UUID `json:"groupIds"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`

	// IsOnline and LastSeen describe presence.
	IsOnline bool       `json:"isOnline"`
	LastSeen *time.Time `json:"lastSeen,omitempty"`

	// IsGhostMode suppresses location visibility to others without stopping tracking.
	IsGhostMode bool `json:"isGhostMode"`

	// BlockedUserIDs are users that may not see this user's location.
	BlockedUserIDs []uuid.UUID `json:"blockedUserIds"`
}

// Validate checks the invariants of a created account.
func (u User) Validate() error {
	if IsBlank(u.Email) {
		return errors.Join(ErrInvalidUser, errors.New("email is required"))
	}
	return nil
}

// DisplayName returns the name to show in lists.
func (u User) DisplayName() string {
	if IsBlank(u.Name) {
		return "Unknown User"
	}
	return strings.TrimSpace(u.Name)
}

// Initials returns up to two uppercase initials of the display name.
func (u User) Initials() string {
	var out []rune
	for _, word := range strings.Fields(u.DisplayName()) {
		r := []rune(word)[0]
		out = append(out, unicode.ToUpper(r))
		if len(out) == 2 {
			break
		}
	}
	return string(out)
}

// IsLocationVisible reports whether other users may see this user's location.
func (u User) IsLocationVisible() bool {
	return !u.IsGhostMode && u.CurrentLocation != nil
}

// VisibleLocation returns the location other users may see, or nil.
func (u User) VisibleLocation() *UserLocation {
	if !u.IsLocationVisible() {
		return nil
	}
	loc := *u.CurrentLocation
	return &loc
}

// HasBlocked reports whether the user blocked other.
func (u User) HasBlocked(other uuid.UUID) bool {
	return slices.Contains(u.BlockedUserIDs, other)
}

// BelongsToGroup reports whether the user document lists the group.
func (u User) BelongsToGroup(groupID uuid.UUID) bool {
	return slices.Contains(u.GroupIDs, groupID)
}

// IsBlank reports whether s is empty after trimming whitespace.
func IsBlank(s string) bool {
	return strings.TrimSpace(s) == ""
}
