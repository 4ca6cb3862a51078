package storage

import (
	"context"
	"sync"
)

// Feed carries committed changes to listeners.
type Feed interface {
	// Publish announces changes that were committed to the backend.
	Publish(ctx context.Context, changes []Change) error

	// Subscribe returns a subscription receiving changes of one collection,
	// or of every collection when collection is empty.
	Subscribe(collection string) *Subscription

	Close() error
}

// Subscription delivers changes in publication order.
// Publishers never wait on a subscriber: pending changes queue up per subscription.
type Subscription struct {
	collection string
	out        chan Change
	notify     chan struct{}
	done       chan struct{}

	mu      sync.Mutex
	queue   []Change
	once    sync.Once
	release func()
}

func newSubscription(collection string, release func()) *Subscription {
	s := &Subscription{
		collection: collection,
		out:        make(chan Change),
		notify:     make(chan struct{}, 1),
		done:       make(chan struct{}),
		release:    release,
	}
	go s.pump()
	return s
}

// C returns the change channel. It is closed after Close.
func (s *Subscription) C() <-chan Change {
	return s.out
}

// Close stops delivery and detaches the subscription from its feed.
func (s *Subscription) Close() {
	s.once.Do(func() {
		close(s.done)
		if s.release != nil {
			s.release()
		}
	})
}

func (s *Subscription) matches(c Change) bool {
	return s.collection == "" || s.collection == c.Key.Collection
}

func (s *Subscription) enqueue(changes []Change) {
	s.mu.Lock()
	added := false
	for _, c := range changes {
		if s.matches(c) {
			s.queue = append(s.queue, c)
			added = true
		}
	}
	s.mu.Unlock()
	if !added {
		return
	}
	select {
	case s.notify <- struct{}{}:
	default:
	}
}

func (s *Subscription) pump() {
	defer close(s.out)
	for {
		select {
		case <-s.done:
			return
		case <-s.notify:
		}
		for {
			s.mu.Lock()
			if len(s.queue) == 0 {
				s.mu.Unlock()
				break
			}
			next := s.queue[0]
			s.queue = s.queue[1:]
			s.mu.Unlock()

			select {
			case s.out <- next:
			case <-s.done:
				return
			}
		}
	}
}

// LocalFeed fans changes out to subscribers inside the process.
type LocalFeed struct {
	mu     sync.RWMutex
	subs   map[*Subscription]struct{}
	closed bool
}

var _ Feed = (*LocalFeed)(nil)

func NewLocalFeed() *LocalFeed {
	return &LocalFeed{subs: make(map[*Subscription]struct{})}
}

// Publish delivers changes to every matching subscriber.
func (f *LocalFeed) Publish(_ context.Context, changes []Change) error {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if f.closed {
		return ErrClosed
	}
	for sub := range f.subs {
		sub.enqueue(changes)
	}
	return nil
}

func (f *LocalFeed) Subscribe(collection string) *Subscription {
	var sub *Subscription
	sub = newSubscription(collection, func() {
		f.mu.Lock()
		if _, ok := f.subs[sub]; ok {
			delete(f.subs, sub)
			activeListeners.Dec()
		}
		f.mu.Unlock()
	})

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		sub.once.Do(func() { close(sub.done) })
		return sub
	}
	f.subs[sub] = struct{}{}
	activeListeners.Inc()
	return sub
}

// Subscribers returns the number of open subscriptions.
func (f *LocalFeed) Subscribers() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.subs)
}

// Close detaches and stops every subscription.
func (f *LocalFeed) Close() error {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return nil
	}
	f.closed = true
	subs := make([]*Subscription, 0, len(f.subs))
	for sub := range f.subs {
		subs = append(subs, sub)
	}
	f.mu.Unlock()

	for _, sub := range subs {
		sub.Close()
	}
	return nil
}
