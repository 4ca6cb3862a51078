// Package models defines the core domain models for the mapchat sync layer.
//
// # Entities
//
//   - User: an account, its presence and privacy settings
//   - Group: a set of users with exactly one admin
//   - Trip: a dated destination shared with a group
//   - Message: a chat message inside a Conversation
//   - UserLocation: the latest known position of a user
//   - Conversation: the participants of a chat and its last message
//
// Every entity serializes to a JSON object with camelCase keys and is stored as a
// document keyed by its ID in canonical UUID string form. uuid.Nil is the sentinel
// ID meaning "not yet assigned"; services replace it before the first write.
//
// # Conventions
//
//  1. Models are values. Helpers such as Group.Adding return modified copies and
//     never mutate the receiver or alias its slices.
//  2. Derived state (trip status, message display text, location freshness) is
//     computed on read from its inputs and is never persisted.
//  3. Relationships are expressed through IDs, never pointers between entities.
package models

// Collection names of the persisted document layout.
const (
	CollectionUsers         = "users"
	CollectionTrips         = "trips"
	CollectionGroups        = "groups"
	CollectionConversations = "conversations"
	CollectionMessages      = "messages"
	CollectionLocations     = "locations"
)
