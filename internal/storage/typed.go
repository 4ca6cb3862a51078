package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Get returns the document decoded as T, or nil when it does not exist.
func Get[T any](ctx context.Context, s *Store, collection, id string) (*T, error) {
	var v T
	found, err := s.Get(ctx, collection, id, &v)
	if err != nil || !found {
		return nil, err
	}
	return &v, nil
}

// Set writes value so that a following Get[T] is served from the cache.
func Set[T any](ctx context.Context, s *Store, collection, id string, value *T) error {
	if value == nil {
		return fmt.Errorf("cannot set %s/%s to nil, use Delete", collection, id)
	}
	return s.Set(ctx, collection, id, value)
}

// Query decodes every document matching opts as T.
func Query[T any](ctx context.Context, s *Store, collection string, opts QueryOptions) ([]T, error) {
	docs, err := s.QueryRaw(ctx, collection, opts)
	if err != nil {
		return nil, err
	}
	return decodeAll[T](docs)
}

func decodeAll[T any](docs []*Document) ([]T, error) {
	out := make([]T, 0, len(docs))
	for _, doc := range docs {
		var v T
		if err := json.Unmarshal(doc.Data, &v); err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrDecode, doc.Key, err)
		}
		out = append(out, v)
	}
	return out, nil
}

// UpdateFunc computes the next state of a document from its current state.
// cur is nil when the document does not exist. Returning nil deletes the
// document; returning cur itself leaves it untouched.
type UpdateFunc[T any] func(cur *T) (*T, error)

// UpdateRelatedFunc is an UpdateFunc that may also return writes to other
// documents. They are committed in the same batch as the document itself.
type UpdateRelatedFunc[T any] func(cur *T) (next *T, related []Mutation, err error)

// Update performs an atomic read-modify-write of one document.
//
// Writers in this process are serialized per document. Writers in other processes
// are detected through the version precondition; fn is then re-run on the fresh
// state with exponential backoff, and ErrConflict is returned once retries are
// exhausted. Errors returned by fn are returned unchanged and nothing is written.
func Update[T any](ctx context.Context, s *Store, collection, id string, fn UpdateFunc[T]) (*T, error) {
	return UpdateRelated(ctx, s, collection, id, func(cur *T) (*T, []Mutation, error) {
		next, err := fn(cur)
		return next, nil, err
	})
}

// UpdateRelated is Update with extra writes committed atomically alongside the
// document. A related write carrying a MatchVersion that no longer holds makes
// the whole attempt retry, so fn always sees fresh state. When fn leaves the
// document untouched, related writes are still committed.
func UpdateRelated[T any](ctx context.Context, s *Store, collection, id string, fn UpdateRelatedFunc[T]) (result *T, err error) {
	ctx, span := startSpan(ctx, "docstore.Update", collection)
	defer func() { endSpan(span, err) }()

	key := Key{collection, id}
	typ := reflect.TypeFor[T]()

	unlock := s.locks.lock(key)
	defer unlock()

	attempt := func() error {
		var cur *T
		var version int64

		doc, err := s.fetch(ctx, key)
		switch {
		case err == nil:
			var v T
			if err := json.Unmarshal(doc.Data, &v); err != nil {
				return backoff.Permanent(fmt.Errorf("%w: %s: %v", ErrDecode, key, err))
			}
			cur, version = &v, doc.Version
		case errors.Is(err, ErrNotFound):
			version = MustNotExist
		default:
			return backoff.Permanent(fmt.Errorf("failed to read %s: %w", key, err))
		}

		next, related, err := fn(cur)
		if err != nil {
			return backoff.Permanent(err)
		}
		if next == cur && len(related) == 0 {
			result = cur
			return nil
		}

		var mutations []Mutation
		if next != cur {
			var m Mutation
			if next == nil {
				m = DeleteOp(collection, id)
			} else if m, err = SetOp(collection, id, next); err != nil {
				return backoff.Permanent(err)
			}
			m.MatchVersion = version
			mutations = append(mutations, m)
		}
		commitType := typ
		if len(related) > 0 {
			commitType = nil
		}
		mutations = append(mutations, related...)

		if _, err := s.commit(ctx, mutations, commitType); err != nil {
			if errors.Is(err, ErrConflict) {
				writeConflicts.WithLabelValues(collection).Inc()
				for _, m := range mutations {
					s.cache.evict(m.Key)
				}
				return err
			}
			return backoff.Permanent(err)
		}
		result = next
		return nil
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 10 * time.Millisecond
	b.MaxInterval = 250 * time.Millisecond
	if err := backoff.Retry(attempt, backoff.WithContext(backoff.WithMaxRetries(b, s.maxRetries), ctx)); err != nil {
		return nil, err
	}
	return result, nil
}
