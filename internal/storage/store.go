// Package storage provides the document store shared by all domain services.
//
// A Backend is the remote document database (SQLite or DynamoDB). Store wraps a
// Backend with a TTL cache, per-document read-modify-write, atomic batches and
// live listeners fed by a change Feed.
package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

var (
	// ErrNotFound is returned by Backend.Get when no document exists for the key.
	ErrNotFound = errors.New("document not found")
	// ErrConflict is returned when a write precondition fails.
	ErrConflict = errors.New("document changed concurrently")
	// ErrTimeout is returned when a backend call exceeds the store's operation timeout.
	ErrTimeout = errors.New("document store operation timed out")
	// ErrDecode is returned when a document cannot be decoded into the requested type.
	ErrDecode = errors.New("document decode failed")
	// ErrClosed is returned by feeds and stores after Close.
	ErrClosed = errors.New("document store closed")
)

// Key addresses a document.
type Key struct {
	Collection string
	ID         string
}

func (k Key) String() string {
	return k.Collection + "/" + k.ID
}

// Document is a stored JSON object with backend metadata.
type Document struct {
	Key Key

	// Data is the JSON object body.
	Data json.RawMessage

	// Version increases by one on every write. The first write yields 1.
	Version int64

	UpdatedAt time.Time
}

// MutationKind selects what a Mutation does.
type MutationKind int

const (
	// MutationSet replaces the whole document, creating it if needed.
	MutationSet MutationKind = iota
	// MutationUpdate merges top-level fields into an existing document.
	MutationUpdate
	// MutationDelete removes the document. Missing documents are not an error.
	MutationDelete
)

func (k MutationKind) String() string {
	switch k {
	case MutationSet:
		return "set"
	case MutationUpdate:
		return "update"
	default:
		return "delete"
	}
}

// Mutation is one write inside a Commit.
type Mutation struct {
	Kind MutationKind
	Key  Key

	// Data is the full body for set, or the fields to merge for update.
	Data json.RawMessage

	// MatchVersion, when positive, requires the stored version to equal it.
	// MustNotExist requires the document to be absent. A failed precondition
	// fails the whole commit with ErrConflict.
	MatchVersion int64
}

// MustNotExist is the MatchVersion of a create-only write.
const MustNotExist int64 = -1

// CheckPrecondition reports ErrConflict when a mutation's MatchVersion does not
// hold against the stored version (0 when the document is absent).
func CheckPrecondition(m Mutation, stored int64) error {
	switch {
	case m.MatchVersion == MustNotExist && stored != 0:
		return fmt.Errorf("%w: %s already exists", ErrConflict, m.Key)
	case m.MatchVersion > 0 && stored != m.MatchVersion:
		return fmt.Errorf("%w: %s is at version %d, expected %d", ErrConflict, m.Key, stored, m.MatchVersion)
	}
	return nil
}

// SetOp builds a set mutation from any JSON-encodable value.
func SetOp(collection, id string, value any) (Mutation, error) {
	raw, err := json.Marshal(value)
	if err != nil {
		return Mutation{}, fmt.Errorf("failed to encode %s/%s: %w", collection, id, err)
	}
	return Mutation{Kind: MutationSet, Key: Key{collection, id}, Data: raw}, nil
}

// UpdateOp builds an update mutation merging fields into the stored document.
func UpdateOp(collection, id string, fields map[string]any) (Mutation, error) {
	raw, err := json.Marshal(fields)
	if err != nil {
		return Mutation{}, fmt.Errorf("failed to encode %s/%s: %w", collection, id, err)
	}
	return Mutation{Kind: MutationUpdate, Key: Key{collection, id}, Data: raw}, nil
}

// DeleteOp builds a delete mutation.
func DeleteOp(collection, id string) Mutation {
	return Mutation{Kind: MutationDelete, Key: Key{collection, id}}
}

// Operator is the comparison a Filter applies.
type Operator int

const (
	// OpEqual matches documents whose field equals the value.
	OpEqual Operator = iota
	// OpArrayContains matches documents whose array field contains the value.
	OpArrayContains
)

// Filter is one conjunctive predicate of a query.
type Filter struct {
	Field string
	Op    Operator
	Value any
}

// Where is an equality filter.
func Where(field string, value any) Filter {
	return Filter{Field: field, Op: OpEqual, Value: value}
}

// ArrayContains matches when the array at field holds value.
func ArrayContains(field string, value any) Filter {
	return Filter{Field: field, Op: OpArrayContains, Value: value}
}

// QueryOptions selects documents of one collection.
// Results are ordered by document ID.
type QueryOptions struct {
	Filters []Filter

	// Limit caps the result size. Zero means no limit.
	Limit int

	// Descending reverses the ID order, so with Limit it selects the last IDs.
	Descending bool
}

// ChangeKind tells listeners whether a document now exists.
type ChangeKind int

const (
	ChangePut ChangeKind = iota
	ChangeDelete
)

// Change describes a committed write. Data holds the full body after the write
// and is nil for deletes.
type Change struct {
	Key     Key             `json:"key"`
	Kind    ChangeKind      `json:"kind"`
	Data    json.RawMessage `json:"data,omitempty"`
	Version int64           `json:"version"`
}

// Backend defines the remote document database.
// This abstraction allows swapping backends (SQLite, DynamoDB) without changing
// the Store or the domain services.
type Backend interface {
	// Get returns the document or ErrNotFound.
	Get(ctx context.Context, key Key) (*Document, error)

	// Query returns the documents of a collection matching every filter.
	Query(ctx context.Context, collection string, opts QueryOptions) ([]*Document, error)

	// Commit applies all mutations atomically and returns one Change per mutation.
	// Either every mutation is applied or none is.
	Commit(ctx context.Context, mutations []Mutation) ([]Change, error)

	// Close releases any resources held by the backend.
	Close() error
}

// NormalizeValue converts a filter value to its JSON scalar form (string, float64,
// bool or nil) so backends compare it with stored document fields.
func NormalizeValue(v any) (any, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to encode filter value: %w", err)
	}
	var out any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("failed to decode filter value: %w", err)
	}
	switch out.(type) {
	case string, float64, bool, nil:
		return out, nil
	default:
		return nil, fmt.Errorf("filter value %v is not a scalar", v)
	}
}

// MergeFields applies an update body to a stored body, replacing top-level fields.
func MergeFields(stored, fields json.RawMessage) (json.RawMessage, error) {
	var base map[string]json.RawMessage
	if err := json.Unmarshal(stored, &base); err != nil {
		return nil, fmt.Errorf("%w: stored body is not an object: %v", ErrDecode, err)
	}
	var patch map[string]json.RawMessage
	if err := json.Unmarshal(fields, &patch); err != nil {
		return nil, fmt.Errorf("%w: update body is not an object: %v", ErrDecode, err)
	}
	if base == nil {
		base = make(map[string]json.RawMessage, len(patch))
	}
	for k, v := range patch {
		base[k] = v
	}
	return json.Marshal(base)
}
