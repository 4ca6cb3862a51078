package service

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/mapchat/syncd/internal/location"
	"github.com/mapchat/syncd/internal/middleware"
	"github.com/mapchat/syncd/internal/models"
	"github.com/mapchat/syncd/internal/storage"
)

const (
	// DefaultFixTimeout bounds GetCurrentLocation.
	DefaultFixTimeout = 2 * time.Second

	updatesBuffer = 16
)

// LocationService tracks one user's position through a location.Sensor and
// persists it under the locations collection.
//
// Fixes are handed to subscribers under the service lock and only while the
// tracking generation that produced them is current, so once StopTracking
// returns no further update is delivered.
type LocationService struct {
	store      *storage.Store
	sensor     location.Sensor
	logger     *slog.Logger
	fixTimeout time.Duration

	mu       sync.Mutex
	userID   uuid.UUID
	status   location.Authorization
	current  *models.UserLocation
	tracking bool
	gen      uint64
	settings location.Settings
	cancel   context.CancelFunc
	done     chan struct{}
	subs     map[int]chan models.UserLocation
	nextSub  int
}

// NewLocationService creates a LocationService. A nil sensor behaves as a
// device with location services turned off.
func NewLocationService(store *storage.Store, sensor location.Sensor, fixTimeout time.Duration, logger *slog.Logger) *LocationService {
	if fixTimeout <= 0 {
		fixTimeout = DefaultFixTimeout
	}
	s := &LocationService{
		store:      store,
		sensor:     sensor,
		logger:     logger,
		fixTimeout: fixTimeout,
		subs:       make(map[int]chan models.UserLocation),
	}
	if sensor != nil {
		s.status = sensor.Authorization()
	}
	return s
}

// SetUser attributes subsequent fixes to userID.
func (s *LocationService) SetUser(userID uuid.UUID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.userID = userID
}

func (s *LocationService) PermissionStatus() location.Authorization {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// CurrentLocation returns the last fix seen, or nil.
func (s *LocationService) CurrentLocation() *models.UserLocation {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current == nil {
		return nil
	}
	loc := *s.current
	return &loc
}

func (s *LocationService) IsTracking() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tracking
}

func (s *LocationService) servicesEnabled() bool {
	return s.sensor != nil && s.sensor.ServicesEnabled()
}

// RequestPermission asks the sensor for mode. ModeDisabled stops tracking.
// PermissionStatus reflects the outcome.
func (s *LocationService) RequestPermission(ctx context.Context, mode location.TrackingMode) error {
	s.logger.Info("RequestPermission request received", "mode", mode.String())

	if mode == location.ModeDisabled {
		s.StopTracking()
		if s.sensor != nil {
			s.mu.Lock()
			s.status = s.sensor.Authorization()
			s.mu.Unlock()
		}
		return nil
	}
	if !s.servicesEnabled() {
		return ErrLocationServicesDisabled
	}

	status, err := s.sensor.RequestAuthorization(ctx, mode)
	if err != nil {
		s.logger.Error("RequestPermission failed", "mode", mode.String(), "error", err)
		return unknown(DomainLocation, err)
	}

	s.mu.Lock()
	s.status = status
	s.mu.Unlock()

	s.logger.Info("Location permission updated", "status", status.String())
	return nil
}

// StartTracking begins continuous updates. It never prompts for permission;
// without an authorized status it fails with ErrLocationPermissionDenied.
// Starting while already tracking has no effect.
func (s *LocationService) StartTracking(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.tracking {
		return nil
	}
	if !s.servicesEnabled() {
		return ErrLocationServicesDisabled
	}
	s.status = s.sensor.Authorization()
	if !s.status.Authorized() {
		return ErrLocationPermissionDenied
	}
	if s.userID == uuid.Nil {
		return &UnknownError{Domain: DomainLocation, Detail: "no user is signed in"}
	}

	// Tracking outlives the call that started it.
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	s.settings = location.Stationary
	fixes, err := s.sensor.Start(runCtx, s.settings)
	if err != nil {
		cancel()
		if errors.Is(err, location.ErrServicesDisabled) {
			return ErrLocationServicesDisabled
		}
		return unknown(DomainLocation, err)
	}

	s.tracking = true
	s.gen++
	s.cancel = cancel
	s.done = make(chan struct{})
	go s.run(runCtx, s.gen, fixes, s.done)

	s.logger.Info("Started location tracking", "user_id", s.userID)
	return nil
}

// StopTracking ends continuous updates. When it returns no further update is
// delivered. Stopping while not tracking has no effect.
func (s *LocationService) StopTracking() {
	s.mu.Lock()
	if !s.tracking {
		s.mu.Unlock()
		return
	}
	s.tracking = false
	s.gen++
	cancel, done := s.cancel, s.done
	s.cancel, s.done = nil, nil
	s.mu.Unlock()

	cancel()
	<-done
	s.logger.Info("Stopped location tracking")
}

func (s *LocationService) run(ctx context.Context, gen uint64, fixes <-chan location.Fix, done chan struct{}) {
	defer close(done)
	for {
		select {
		case <-ctx.Done():
			return
		case fix, ok := <-fixes:
			if !ok {
				return
			}
			s.handleFix(ctx, gen, fix)
		}
	}
}

// handleFix persists a tracked fix, adapts the sensor to the current speed and
// delivers the location to subscribers.
func (s *LocationService) handleFix(ctx context.Context, gen uint64, fix location.Fix) {
	s.mu.Lock()
	if s.gen != gen {
		s.mu.Unlock()
		return
	}
	userID := s.userID
	s.mu.Unlock()

	loc := fix.For(userID)
	if err := s.persist(ctx, loc); err != nil {
		if ctx.Err() == nil {
			s.logger.Warn("Failed to persist tracked location", "user_id", userID, "error", err)
		}
		return
	}

	speed := -1.0
	if fix.Speed != nil {
		speed = *fix.Speed
	}
	next := location.SettingsForSpeed(speed)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.gen != gen {
		return
	}
	if next != s.settings {
		s.settings = next
		s.sensor.Reconfigure(next)
		s.logger.Debug("Location settings adapted", "speed", speed, "distance_filter", next.DistanceFilter)
	}
	s.current = &loc
	for _, ch := range s.subs {
		offer(ch, loc)
	}
}

// offer sends without blocking, dropping the oldest queued update when full.
func offer(ch chan models.UserLocation, loc models.UserLocation) {
	select {
	case ch <- loc:
		return
	default:
	}
	select {
	case <-ch:
	default:
	}
	select {
	case ch <- loc:
	default:
	}
}

// Updates streams tracked locations until ctx is cancelled.
func (s *LocationService) Updates(ctx context.Context) <-chan models.UserLocation {
	ch := make(chan models.UserLocation, updatesBuffer)

	s.mu.Lock()
	id := s.nextSub
	s.nextSub++
	s.subs[id] = ch
	s.mu.Unlock()

	go func() {
		<-ctx.Done()
		s.mu.Lock()
		delete(s.subs, id)
		close(ch)
		s.mu.Unlock()
	}()
	return ch
}

// GetCurrentLocation asks the sensor for one fix, waiting at most the
// configured fix timeout.
func (s *LocationService) GetCurrentLocation(ctx context.Context) (*models.UserLocation, error) {
	if !s.servicesEnabled() {
		return nil, ErrLocationServicesDisabled
	}
	if !s.sensor.Authorization().Authorized() {
		return nil, ErrLocationPermissionDenied
	}

	fixCtx, cancel := context.WithTimeout(ctx, s.fixTimeout)
	defer cancel()

	fix, err := s.sensor.RequestFix(fixCtx)
	if err != nil {
		s.logger.Warn("GetCurrentLocation failed", "error", err)
		return nil, wrap(ErrFailedToGetLocation, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	loc := fix.For(s.userID)
	s.current = &loc
	out := loc
	return &out, nil
}

// UpdateLocation writes loc under locations/<userId>. A location without a
// user is attributed to the current user; writing another user's location is
// refused.
func (s *LocationService) UpdateLocation(ctx context.Context, loc models.UserLocation) error {
	s.mu.Lock()
	userID := s.userID
	s.mu.Unlock()

	if loc.UserID == uuid.Nil {
		loc.UserID = userID
	}
	if loc.UserID == uuid.Nil {
		return &UnknownError{Domain: DomainLocation, Detail: "no user is signed in"}
	}
	if userID != uuid.Nil && loc.UserID != userID {
		return ErrLocationPermissionDenied
	}
	if loc.Timestamp.IsZero() {
		loc.Timestamp = time.Now().UTC()
	}

	if err := s.persist(ctx, loc); err != nil {
		s.logger.Error("UpdateLocation failed", "user_id", loc.UserID, "error", err)
		return storeError(DomainLocation, err)
	}

	s.mu.Lock()
	if loc.UserID == s.userID {
		s.current = &loc
	}
	s.mu.Unlock()
	return nil
}

// persist writes loc to the locations collection and mirrors it onto the
// user document when one exists.
func (s *LocationService) persist(ctx context.Context, loc models.UserLocation) error {
	if err := s.store.Set(ctx, models.CollectionLocations, loc.UserID.String(), loc); err != nil {
		return err
	}
	_, err := storage.Update(ctx, s.store, models.CollectionUsers, loc.UserID.String(),
		func(cur *models.User) (*models.User, error) {
			if cur == nil {
				return cur, nil
			}
			next := *cur
			next.CurrentLocation = &loc
			return &next, nil
		})
	return err
}

// LocationsForGroup returns the latest location of every member of a group
// the caller belongs to. Members in ghost mode and members who blocked the
// caller are left out.
func (s *LocationService) LocationsForGroup(ctx context.Context, groupID uuid.UUID) ([]models.UserLocation, error) {
	caller, ok := middleware.CallerID(ctx)
	if !ok {
		s.mu.Lock()
		caller = s.userID
		s.mu.Unlock()
	}

	group, err := storage.Get[models.Group](ctx, s.store, models.CollectionGroups, groupID.String())
	if err != nil {
		return nil, storeError(DomainLocation, err)
	}
	if group == nil || !group.IsMember(caller) {
		return nil, ErrLocationPermissionDenied
	}

	locs := make([]models.UserLocation, 0, group.MemberCount()+1)
	for _, memberID := range group.AllMemberIDs() {
		if memberID != caller {
			user, err := storage.Get[models.User](ctx, s.store, models.CollectionUsers, memberID.String())
			if err != nil {
				return nil, storeError(DomainLocation, err)
			}
			if user == nil || user.IsGhostMode || user.HasBlocked(caller) {
				continue
			}
		}
		loc, err := storage.Get[models.UserLocation](ctx, s.store, models.CollectionLocations, memberID.String())
		if err != nil {
			return nil, storeError(DomainLocation, err)
		}
		if loc != nil {
			locs = append(locs, *loc)
		}
	}
	return locs, nil
}
