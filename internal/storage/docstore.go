package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"reflect"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// DefaultTimeout bounds every backend call made by a Store.
const DefaultTimeout = 10 * time.Second

var tracer = otel.Tracer("github.com/mapchat/syncd/internal/storage")

// Store is the process-wide document store. Create one at startup and share it
// between services; its cache is only coherent if every write goes through it.
type Store struct {
	backend Backend
	feed    Feed
	cache   *docCache
	locks   *keyLocks
	logger  *slog.Logger

	ttl        time.Duration
	timeout    time.Duration
	now        func() time.Time
	maxRetries uint64

	stopInvalidator context.CancelFunc
	invalidatorDone chan struct{}
}

// Option configures a Store.
type Option func(*Store)

// WithCacheTTL overrides DefaultCacheTTL.
func WithCacheTTL(ttl time.Duration) Option {
	return func(s *Store) { s.ttl = ttl }
}

// WithTimeout overrides DefaultTimeout.
func WithTimeout(d time.Duration) Option {
	return func(s *Store) { s.timeout = d }
}

// WithClock injects the time source used for cache expiry.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// WithFeed replaces the in-process change feed, e.g. with an AMQP feed.
func WithFeed(f Feed) Option {
	return func(s *Store) { s.feed = f }
}

func WithLogger(l *slog.Logger) Option {
	return func(s *Store) { s.logger = l }
}

// WithConflictRetries sets how many times Update retries after a version conflict.
func WithConflictRetries(n uint64) Option {
	return func(s *Store) { s.maxRetries = n }
}

// New creates a Store over backend.
func New(backend Backend, opts ...Option) *Store {
	s := &Store{
		backend:    backend,
		locks:      newKeyLocks(),
		logger:     slog.Default(),
		ttl:        DefaultCacheTTL,
		timeout:    DefaultTimeout,
		now:        time.Now,
		maxRetries: 5,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.feed == nil {
		s.feed = NewLocalFeed()
	}
	s.cache = newDocCache(s.ttl, s.now)

	ctx, cancel := context.WithCancel(context.Background())
	s.stopInvalidator = cancel
	s.invalidatorDone = make(chan struct{})
	go s.invalidate(ctx)
	return s
}

// Feed returns the change feed listeners subscribe to.
func (s *Store) Feed() Feed {
	return s.feed
}

// Close stops background work and closes the feed and the backend.
func (s *Store) Close() error {
	s.stopInvalidator()
	<-s.invalidatorDone
	return errors.Join(s.feed.Close(), s.backend.Close())
}

// invalidate drops cache entries made stale by writes this Store did not perform,
// which arrive through a shared feed.
func (s *Store) invalidate(ctx context.Context) {
	defer close(s.invalidatorDone)
	sub := s.feed.Subscribe("")
	defer sub.Close()
	for {
		select {
		case <-ctx.Done():
			return
		case c, ok := <-sub.C():
			if !ok {
				return
			}
			if c.Kind == ChangeDelete {
				s.cache.evict(c.Key)
				continue
			}
			s.cache.evictIfStale(c.Key, c.Version)
		}
	}
}

func (s *Store) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.timeout)
}

// backendErr turns an expired operation deadline into ErrTimeout while leaving
// caller cancellation untouched.
func backendErr(parent context.Context, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) && parent.Err() == nil {
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	}
	return err
}

func startSpan(ctx context.Context, name, collection string) (context.Context, trace.Span) {
	return tracer.Start(ctx, name, trace.WithAttributes(attribute.String("docstore.collection", collection)))
}

func endSpan(span trace.Span, err error) {
	if err != nil && !errors.Is(err, ErrNotFound) {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

// fetch reads a document from the backend, bypassing the cache.
func (s *Store) fetch(ctx context.Context, key Key) (*Document, error) {
	opCtx, cancel := s.withTimeout(ctx)
	defer cancel()

	start := time.Now()
	doc, err := s.backend.Get(opCtx, key)
	observeBackend("get", start, ignoreNotFound(err))
	return doc, backendErr(ctx, err)
}

func ignoreNotFound(err error) error {
	if errors.Is(err, ErrNotFound) {
		return nil
	}
	return err
}

// Get loads the document into dst, a non-nil pointer. It reports false when the
// document does not exist. A cached entry younger than the TTL is served without
// a remote read; a cached entry of a different type fails with ErrDecode.
func (s *Store) Get(ctx context.Context, collection, id string, dst any) (found bool, err error) {
	ctx, span := startSpan(ctx, "docstore.Get", collection)
	defer func() { endSpan(span, err) }()

	rv := reflect.ValueOf(dst)
	if rv.Kind() != reflect.Pointer || rv.IsNil() {
		return false, fmt.Errorf("%w: destination must be a non-nil pointer, got %T", ErrDecode, dst)
	}
	typ := typeOf(dst)
	key := Key{collection, id}

	entry, result := s.cache.get(key, typ)
	cacheLookups.WithLabelValues(collection, result.String()).Inc()
	switch result {
	case lookupHit:
		span.SetAttributes(attribute.Bool("docstore.cache_hit", true))
		if err := json.Unmarshal(entry.data, dst); err != nil {
			return false, fmt.Errorf("%w: cached %s: %v", ErrDecode, key, err)
		}
		return true, nil
	case lookupMismatch:
		return false, fmt.Errorf("%w: cached %s holds %s, requested %s", ErrDecode, key, entry.typ, typ)
	}

	doc, err := s.fetch(ctx, key)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to get %s: %w", key, err)
	}
	if err := json.Unmarshal(doc.Data, dst); err != nil {
		return false, fmt.Errorf("%w: %s: %v", ErrDecode, key, err)
	}
	s.cache.put(key, typ, doc.Data, doc.Version)
	return true, nil
}

// Document reads the stored document with its version, bypassing the cache.
// It returns nil when the document does not exist. Pair the version with
// Mutation.MatchVersion to make a write conditional on it.
func (s *Store) Document(ctx context.Context, collection, id string) (doc *Document, err error) {
	ctx, span := startSpan(ctx, "docstore.Document", collection)
	defer func() { endSpan(span, err) }()

	key := Key{collection, id}
	doc, err = s.fetch(ctx, key)
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get %s: %w", key, err)
	}
	return doc, nil
}

// Set upserts value and refreshes its cache entry.
func (s *Store) Set(ctx context.Context, collection, id string, value any) (err error) {
	ctx, span := startSpan(ctx, "docstore.Set", collection)
	defer func() { endSpan(span, err) }()

	m, err := SetOp(collection, id, value)
	if err != nil {
		return err
	}
	_, err = s.commit(ctx, []Mutation{m}, typeOf(value))
	return err
}

// Delete removes the document and its cache entry. Deleting a missing document succeeds.
func (s *Store) Delete(ctx context.Context, collection, id string) (err error) {
	ctx, span := startSpan(ctx, "docstore.Delete", collection)
	defer func() { endSpan(span, err) }()

	_, err = s.commit(ctx, []Mutation{DeleteOp(collection, id)}, nil)
	return err
}

// QueryRaw runs a query against the backend. Query results are never cached.
func (s *Store) QueryRaw(ctx context.Context, collection string, opts QueryOptions) (docs []*Document, err error) {
	ctx, span := startSpan(ctx, "docstore.Query", collection)
	defer func() { endSpan(span, err) }()

	opCtx, cancel := s.withTimeout(ctx)
	defer cancel()

	start := time.Now()
	docs, err = s.backend.Query(opCtx, collection, opts)
	observeBackend("query", start, err)
	if err != nil {
		return nil, fmt.Errorf("failed to query %s: %w", collection, backendErr(ctx, err))
	}
	span.SetAttributes(attribute.Int("docstore.results", len(docs)))
	return docs, nil
}

// Batch commits mutations atomically. Cache entries of every touched document are
// evicted, so the next Get reads the committed state.
func (s *Store) Batch(ctx context.Context, mutations []Mutation) (err error) {
	ctx, span := startSpan(ctx, "docstore.Batch", "")
	span.SetAttributes(attribute.Int("docstore.mutations", len(mutations)))
	defer func() { endSpan(span, err) }()

	if len(mutations) == 0 {
		return nil
	}
	_, err = s.commit(ctx, mutations, nil)
	return err
}

// ClearCache drops every cache entry.
func (s *Store) ClearCache() {
	s.cache.clear()
}

// ClearCacheKey drops the cache entry of one document.
func (s *Store) ClearCacheKey(collection, id string) {
	s.cache.evict(Key{collection, id})
}

// commit writes mutations, keeps the cache coherent and publishes the changes.
// With a single set mutation and a known type the cache is refreshed, otherwise
// touched keys are evicted.
func (s *Store) commit(ctx context.Context, mutations []Mutation, typ reflect.Type) ([]Change, error) {
	opCtx, cancel := s.withTimeout(ctx)
	defer cancel()

	start := time.Now()
	changes, err := s.backend.Commit(opCtx, mutations)
	observeBackend("commit", start, err)
	if err != nil {
		return nil, fmt.Errorf("failed to commit %d mutation(s): %w", len(mutations), backendErr(ctx, err))
	}

	for _, c := range changes {
		if typ != nil && len(mutations) == 1 && c.Kind == ChangePut {
			s.cache.put(c.Key, typ, c.Data, c.Version)
			continue
		}
		s.cache.evict(c.Key)
	}

	if err := s.feed.Publish(context.WithoutCancel(ctx), changes); err != nil {
		s.logger.Warn("Change publish failed", "changes", len(changes), "error", err)
	}
	return changes, nil
}
