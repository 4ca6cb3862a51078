package location

import (
	"context"
	"slices"
	"sync"

	"github.com/mapchat/syncd/internal/models"
)

const pushBuffer = 16

var _ Sensor = (*PushSensor)(nil)

// PushSensor is a Sensor fed by a remote device. The device reports its
// permission state and raw fixes; the sensor applies the distance filter of
// the active settings before handing fixes to the stream.
type PushSensor struct {
	mu       sync.Mutex
	enabled  bool
	auth     Authorization
	settings Settings
	stream   chan Fix
	lastSent *Fix
	waiters  []chan Fix
}

func NewPushSensor() *PushSensor {
	return &PushSensor{enabled: true, settings: Stationary}
}

func (s *PushSensor) SetServicesEnabled(enabled bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.enabled = enabled
}

// SetAuthorization records a permission change reported by the device.
func (s *PushSensor) SetAuthorization(a Authorization) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.auth = a
}

func (s *PushSensor) ServicesEnabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.enabled
}

func (s *PushSensor) Authorization() Authorization {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.auth
}

// RequestAuthorization grants the requested tier unless the user already
// refused or the device restricts location access.
func (s *PushSensor) RequestAuthorization(_ context.Context, mode TrackingMode) (Authorization, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.auth == Denied || s.auth == Restricted {
		return s.auth, nil
	}
	switch mode {
	case ModeAlways:
		s.auth = AuthorizedAlways
	case ModeWhenInUse:
		if s.auth != AuthorizedAlways {
			s.auth = AuthorizedWhenInUse
		}
	}
	return s.auth, nil
}

// Start opens the fix stream. A second Start replaces the first stream.
func (s *PushSensor) Start(ctx context.Context, settings Settings) (<-chan Fix, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.enabled {
		return nil, ErrServicesDisabled
	}
	if s.stream != nil {
		close(s.stream)
	}
	ch := make(chan Fix, pushBuffer)
	s.stream = ch
	s.settings = settings
	s.lastSent = nil

	go func() {
		<-ctx.Done()
		s.mu.Lock()
		defer s.mu.Unlock()
		if s.stream == ch {
			close(ch)
			s.stream = nil
		}
	}()
	return ch, nil
}

func (s *PushSensor) Reconfigure(settings Settings) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.settings = settings
}

func (s *PushSensor) RequestFix(ctx context.Context) (Fix, error) {
	s.mu.Lock()
	if !s.enabled {
		s.mu.Unlock()
		return Fix{}, ErrServicesDisabled
	}
	w := make(chan Fix, 1)
	s.waiters = append(s.waiters, w)
	s.mu.Unlock()

	select {
	case f := <-w:
		return f, nil
	case <-ctx.Done():
		s.mu.Lock()
		s.waiters = slices.DeleteFunc(s.waiters, func(c chan Fix) bool { return c == w })
		s.mu.Unlock()
		// A fix may have landed between the timeout and the removal.
		select {
		case f := <-w:
			return f, nil
		default:
			return Fix{}, ErrNoFix
		}
	}
}

// Push hands a fix reported by the device to pending one-shot requests and,
// when it passes the distance filter, to the running stream. Fixes are
// dropped when the stream consumer is too far behind.
func (s *PushSensor) Push(f Fix) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, w := range s.waiters {
		w <- f
	}
	s.waiters = nil

	if s.stream == nil {
		return
	}
	if s.lastSent != nil {
		moved := models.Distance(
			models.Coordinate{Latitude: s.lastSent.Latitude, Longitude: s.lastSent.Longitude},
			models.Coordinate{Latitude: f.Latitude, Longitude: f.Longitude},
		)
		if moved < s.settings.DistanceFilter {
			return
		}
	}
	select {
	case s.stream <- f:
		s.lastSent = &f
	default:
	}
}
