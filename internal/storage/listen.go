package storage

import (
	"context"
	"encoding/json"
	"errors"
	"slices"
)

// Watch streams raw changes of a collection (every collection when empty) until
// ctx is cancelled. The channel is closed once the subscription is released.
func (s *Store) Watch(ctx context.Context, collection string) <-chan Change {
	sub := s.feed.Subscribe(collection)
	out := make(chan Change)
	go func() {
		defer close(out)
		defer sub.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case c, ok := <-sub.C():
				if !ok {
					return
				}
				select {
				case out <- c:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out
}

// ListenDocument streams snapshots of one document until ctx is cancelled.
// The current value (nil when absent) is sent first, then one value per change
// in commit order. The channel is closed once the subscription is released.
func ListenDocument[T any](ctx context.Context, s *Store, collection, id string) <-chan *T {
	key := Key{collection, id}
	// Subscribe before the initial read so no change falls in between.
	sub := s.feed.Subscribe(collection)
	out := make(chan *T)

	go func() {
		defer close(out)
		defer sub.Close()

		send := func(v *T) bool {
			select {
			case out <- v:
				return true
			case <-ctx.Done():
				return false
			}
		}

		var seen int64
		present := false
		doc, err := s.fetch(ctx, key)
		switch {
		case err == nil:
			v, derr := decodeOne[T](doc.Data)
			if derr != nil {
				s.logger.Warn("Listener decode failed", "key", key.String(), "error", derr)
				break
			}
			seen, present = doc.Version, true
			if !send(v) {
				return
			}
		case errors.Is(err, ErrNotFound):
			if !send(nil) {
				return
			}
		default:
			if ctx.Err() != nil {
				return
			}
			s.logger.Warn("Listener initial read failed", "key", key.String(), "error", err)
		}

		for {
			select {
			case <-ctx.Done():
				return
			case c, ok := <-sub.C():
				if !ok {
					return
				}
				if c.Key != key {
					continue
				}
				if c.Kind == ChangeDelete {
					if !present {
						continue
					}
					seen, present = 0, false
					if !send(nil) {
						return
					}
					continue
				}
				if c.Version <= seen {
					continue
				}
				v, err := decodeOne[T](c.Data)
				if err != nil {
					s.logger.Warn("Listener decode failed", "key", key.String(), "error", err)
					continue
				}
				seen, present = c.Version, true
				if !send(v) {
					return
				}
			}
		}
	}()
	return out
}

// ListenCollection streams the result set of a query until ctx is cancelled.
// The current results are sent first; every later change to the collection
// re-runs the query. Bursts of changes are coalesced into one re-run.
func ListenCollection[T any](ctx context.Context, s *Store, collection string, opts QueryOptions) <-chan []T {
	sub := s.feed.Subscribe(collection)
	out := make(chan []T)

	go func() {
		defer close(out)
		defer sub.Close()

		emit := func() bool {
			items, err := Query[T](ctx, s, collection, opts)
			if err != nil {
				if ctx.Err() == nil {
					s.logger.Warn("Listener query failed", "collection", collection, "error", err)
				}
				return ctx.Err() == nil
			}
			select {
			case out <- items:
				return true
			case <-ctx.Done():
				return false
			}
		}

		if !emit() {
			return
		}
		for {
			select {
			case <-ctx.Done():
				return
			case _, ok := <-sub.C():
				if !ok {
					return
				}
				if !drain(ctx, sub) || !emit() {
					return
				}
			}
		}
	}()
	return out
}

// drain consumes changes that are already queued without waiting for new ones.
func drain(ctx context.Context, sub *Subscription) bool {
	for {
		select {
		case <-ctx.Done():
			return false
		case _, ok := <-sub.C():
			if !ok {
				return false
			}
		default:
			return true
		}
	}
}

func decodeOne[T any](data json.RawMessage) (*T, error) {
	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, errors.Join(ErrDecode, err)
	}
	return &v, nil
}

// MergeLatest combines the latest values of several list streams into one stream
// of their de-duplicated union. It emits after every input has produced once.
func MergeLatest[T any, K comparable](ctx context.Context, id func(T) K, inputs ...<-chan []T) <-chan []T {
	type update struct {
		idx   int
		items []T
	}
	out := make(chan []T)
	updates := make(chan update)
	for i, in := range inputs {
		go func() {
			for items := range in {
				select {
				case updates <- update{i, items}:
				case <-ctx.Done():
					return
				}
			}
		}()
	}

	go func() {
		defer close(out)
		latest := make([][]T, len(inputs))
		ready := make([]bool, len(inputs))
		for {
			select {
			case <-ctx.Done():
				return
			case u := <-updates:
				latest[u.idx] = u.items
				ready[u.idx] = true
				if slices.Contains(ready, false) {
					continue
				}
				seen := make(map[K]bool)
				var merged []T
				for _, items := range latest {
					for _, item := range items {
						k := id(item)
						if seen[k] {
							continue
						}
						seen[k] = true
						merged = append(merged, item)
					}
				}
				select {
				case out <- merged:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out
}
