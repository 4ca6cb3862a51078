package models

import (
	"errors"
	"slices"
	"time"

	"github.com/google/uuid"
)

// ErrInvalidGroup is returned by Group.Validate.
var ErrInvalidGroup = errors.New("invalid group")

// Group represents a set of users that share trips and chats.
//
// A group has exactly one admin. The admin is never listed in MemberIDs; use
// AllMemberIDs when the full membership is needed.
type Group struct {
	// ID is the unique identifier for the group.
	ID uuid.UUID `json:"id"`

	// Name is the display name of the group (e.g., "Trip Buddies").
	Name string `json:"name"`

	// AdminID is the user holding update, delete, removal and promotion rights.
	AdminID uuid.UUID `json:"adminId"`

	// MemberIDs are the regular members, excluding the admin.
	MemberIDs []uuid.UUID `json:"memberIds"`

	AvatarURL   string `json:"avatarURL,omitempty"`
	Description string `json:"description,omitempty"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Validate checks that the group can be persisted.
func (g Group) Validate() error {
	if IsBlank(g.Name) {
		return errors.Join(ErrInvalidGroup, errors.New("name is required"))
	}
	if g.AdminID == uuid.Nil {
		return errors.Join(ErrInvalidGroup, errors.New("admin is required"))
	}
	return nil
}

// MemberCount is the number of regular members. The admin is counted separately.
func (g Group) MemberCount() int {
	return len(g.MemberIDs)
}

// AllMemberIDs returns the admin followed by the regular members.
func (g Group) AllMemberIDs() []uuid.UUID {
	out := make([]uuid.UUID, 0, len(g.MemberIDs)+1)
	out = append(out, g.AdminID)
	for _, id := range g.MemberIDs {
		if id != g.AdminID {
			out = append(out, id)
		}
	}
	return out
}

// IsAdmin reports whether userID is the group admin.
func (g Group) IsAdmin(userID uuid.UUID) bool {
	return g.AdminID == userID
}

// IsMember reports whether userID belongs to the group. The admin is always a member.
func (g Group) IsMember(userID uuid.UUID) bool {
	return g.IsAdmin(userID) || slices.Contains(g.MemberIDs, userID)
}

// Adding returns a copy with userID added as a regular member.
// Adding an existing member or the admin returns an unchanged copy.
func (g Group) Adding(userID uuid.UUID) Group {
	out := g.clone()
	if g.IsMember(userID) {
		return out
	}
	out.MemberIDs = append(out.MemberIDs, userID)
	out.UpdatedAt = time.Now().UTC()
	return out
}

// Removing returns a copy without userID in the regular member list.
func (g Group) Removing(userID uuid.UUID) Group {
	out := g.clone()
	if !slices.Contains(g.MemberIDs, userID) {
		return out
	}
	out.MemberIDs = slices.DeleteFunc(out.MemberIDs, func(id uuid.UUID) bool { return id == userID })
	out.UpdatedAt = time.Now().UTC()
	return out
}

// PromotingToAdmin returns a copy where userID is the admin and the former admin
// is a regular member.
func (g Group) PromotingToAdmin(userID uuid.UUID) Group {
	if g.IsAdmin(userID) {
		return g.clone()
	}
	former := g.AdminID
	out := g.Removing(userID)
	out.AdminID = userID
	if former != uuid.Nil && !slices.Contains(out.MemberIDs, former) {
		out.MemberIDs = append(out.MemberIDs, former)
	}
	out.UpdatedAt = time.Now().UTC()
	return out
}

// Normalized returns a copy with duplicate members and the admin removed from MemberIDs.
func (g Group) Normalized() Group {
	out := g.clone()
	seen := make(map[uuid.UUID]bool, len(g.MemberIDs))
	out.MemberIDs = out.MemberIDs[:0]
	for _, id := range g.MemberIDs {
		if id == g.AdminID || id == uuid.Nil || seen[id] {
			continue
		}
		seen[id] = true
		out.MemberIDs = append(out.MemberIDs, id)
	}
	return out
}

func (g Group) clone() Group {
	out := g
	out.MemberIDs = make([]uuid.UUID, len(g.MemberIDs))
	copy(out.MemberIDs, g.MemberIDs)
	return out
}
