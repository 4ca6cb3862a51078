package service

import (
	"cmp"
	"context"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/google/uuid"

	"github.com/mapchat/syncd/internal/middleware"
	"github.com/mapchat/syncd/internal/models"
	"github.com/mapchat/syncd/internal/storage"
)

// GroupLister resolves the groups a user belongs to.
type GroupLister interface {
	FetchGroups(ctx context.Context, userID uuid.UUID) ([]models.Group, error)
}

// TripService manages trips. Trip status is derived from the clock on every
// read and never stored.
type TripService struct {
	store  *storage.Store
	groups GroupLister
	now    func() time.Time
}

// NewTripService creates a TripService. groups resolves membership for FetchTrips.
func NewTripService(store *storage.Store, groups GroupLister) *TripService {
	return &TripService{store: store, groups: groups, now: time.Now}
}

// CreateTrip validates and stores a new trip. The caller becomes the trip admin
// when none is set; a nil ID is replaced by a fresh one. A trip shared with a
// group may only be created by a member of that group.
func (s *TripService) CreateTrip(ctx context.Context, trip models.Trip) (*models.Trip, error) {
	slog.Info("CreateTrip request received",
		"name", trip.Name,
		"group_id", trip.GroupID,
	)

	caller, hasCaller := middleware.CallerID(ctx)
	if hasCaller && trip.AdminID == uuid.Nil {
		trip.AdminID = caller
	}
	if err := trip.Validate(); err != nil {
		return nil, wrap(ErrTripInvalidData, err)
	}
	if trip.ID == uuid.Nil {
		trip.ID = uuid.New()
	}
	if hasCaller && trip.GroupID != uuid.Nil {
		group, err := storage.Get[models.Group](ctx, s.store, models.CollectionGroups, trip.GroupID.String())
		if err != nil {
			return nil, storeError(DomainTrip, err)
		}
		if group == nil {
			return nil, wrap(ErrTripInvalidData, fmt.Errorf("group %s does not exist", trip.GroupID))
		}
		if !group.IsMember(caller) {
			return nil, ErrTripPermissionDenied
		}
	}

	now := s.now().UTC()
	trip.CreatedAt = now
	trip.UpdatedAt = now

	created, err := storage.Update(ctx, s.store, models.CollectionTrips, trip.ID.String(),
		func(cur *models.Trip) (*models.Trip, error) {
			if cur != nil {
				return nil, wrap(ErrTripInvalidData, fmt.Errorf("trip %s already exists", trip.ID))
			}
			return &trip, nil
		})
	if err != nil {
		slog.Error("CreateTrip failed", "trip_id", trip.ID, "error", err)
		return nil, storeError(DomainTrip, err)
	}

	slog.Info("Trip created", "trip_id", created.ID)
	return created, nil
}

// UpdateTrip replaces the editable fields of a trip. The caller must be the
// trip admin or a member of the trip's group.
func (s *TripService) UpdateTrip(ctx context.Context, trip models.Trip) (*models.Trip, error) {
	slog.Info("UpdateTrip request received", "trip_id", trip.ID, "name", trip.Name)

	if err := trip.Validate(); err != nil {
		return nil, wrap(ErrTripInvalidData, err)
	}
	updated, err := storage.Update(ctx, s.store, models.CollectionTrips, trip.ID.String(),
		func(cur *models.Trip) (*models.Trip, error) {
			if cur == nil {
				return nil, ErrTripNotFound
			}
			if err := s.checkManage(ctx, cur); err != nil {
				return nil, err
			}
			next := trip
			next.AdminID = cur.AdminID
			next.CreatedAt = cur.CreatedAt
			next.UpdatedAt = s.now().UTC()
			return &next, nil
		})
	if err != nil {
		slog.Error("UpdateTrip failed", "trip_id", trip.ID, "error", err)
		return nil, storeError(DomainTrip, err)
	}

	slog.Info("Trip updated", "trip_id", trip.ID)
	return updated, nil
}

// DeleteTrip removes a trip. Deleting a missing trip succeeds.
func (s *TripService) DeleteTrip(ctx context.Context, tripID uuid.UUID) error {
	slog.Info("DeleteTrip request received", "trip_id", tripID)

	_, err := storage.Update(ctx, s.store, models.CollectionTrips, tripID.String(),
		func(cur *models.Trip) (*models.Trip, error) {
			if cur == nil {
				return nil, nil
			}
			if err := s.checkManage(ctx, cur); err != nil {
				return nil, err
			}
			return nil, nil
		})
	if err != nil {
		slog.Error("DeleteTrip failed", "trip_id", tripID, "error", err)
		return storeError(DomainTrip, err)
	}

	slog.Info("Trip deleted", "trip_id", tripID)
	return nil
}

// checkManage allows the trip admin and the admin or members of the trip's group.
func (s *TripService) checkManage(ctx context.Context, trip *models.Trip) error {
	caller, ok := middleware.CallerID(ctx)
	if !ok {
		return ErrTripPermissionDenied
	}
	if trip.AdminID == caller {
		return nil
	}
	if trip.GroupID == uuid.Nil {
		return ErrTripPermissionDenied
	}
	group, err := storage.Get[models.Group](ctx, s.store, models.CollectionGroups, trip.GroupID.String())
	if err != nil {
		return err
	}
	if group == nil || !group.IsMember(caller) {
		return ErrTripPermissionDenied
	}
	return nil
}

// FetchTrip returns one trip.
func (s *TripService) FetchTrip(ctx context.Context, tripID uuid.UUID) (*models.Trip, error) {
	trip, err := storage.Get[models.Trip](ctx, s.store, models.CollectionTrips, tripID.String())
	if err != nil {
		slog.Error("FetchTrip failed", "trip_id", tripID, "error", err)
		return nil, storeError(DomainTrip, err)
	}
	if trip == nil {
		return nil, ErrTripNotFound
	}
	return trip, nil
}

// FetchTrips returns the trips shared with any group userID belongs to,
// ordered by start date.
func (s *TripService) FetchTrips(ctx context.Context, userID uuid.UUID) ([]models.Trip, error) {
	groups, err := s.groups.FetchGroups(ctx, userID)
	if err != nil {
		slog.Error("FetchTrips failed to resolve groups", "user_id", userID, "error", err)
		return nil, storeError(DomainTrip, err)
	}

	trips := make([]models.Trip, 0)
	for _, g := range groups {
		found, err := storage.Query[models.Trip](ctx, s.store, models.CollectionTrips, storage.QueryOptions{
			Filters: []storage.Filter{storage.Where("groupId", g.ID)},
		})
		if err != nil {
			slog.Error("FetchTrips failed", "user_id", userID, "group_id", g.ID, "error", err)
			return nil, storeError(DomainTrip, err)
		}
		trips = append(trips, found...)
	}
	return sortTrips(trips), nil
}

// FetchActiveTrips returns every trip in progress now.
func (s *TripService) FetchActiveTrips(ctx context.Context) ([]models.Trip, error) {
	all, err := storage.Query[models.Trip](ctx, s.store, models.CollectionTrips, storage.QueryOptions{})
	if err != nil {
		slog.Error("FetchActiveTrips failed", "error", err)
		return nil, storeError(DomainTrip, err)
	}
	now := s.now()
	active := slices.DeleteFunc(all, func(t models.Trip) bool { return !t.IsActive(now) })
	return sortTrips(active), nil
}

// Now is the instant trip status is derived against.
func (s *TripService) Now() time.Time {
	return s.now()
}

// ListenToTrip streams one trip; nil is sent while it does not exist.
func (s *TripService) ListenToTrip(ctx context.Context, tripID uuid.UUID) <-chan *models.Trip {
	return storage.ListenDocument[models.Trip](ctx, s.store, models.CollectionTrips, tripID.String())
}

// ListenToUserTrips streams the result of FetchTrips, re-evaluated whenever a
// trip or a group changes.
func (s *TripService) ListenToUserTrips(ctx context.Context, userID uuid.UUID) <-chan []models.Trip {
	changes := s.store.Watch(ctx, "")
	out := make(chan []models.Trip)

	go func() {
		defer close(out)

		emit := func() bool {
			trips, err := s.FetchTrips(ctx, userID)
			if err != nil {
				if ctx.Err() == nil {
					slog.Warn("ListenToUserTrips refresh failed", "user_id", userID, "error", err)
				}
				return ctx.Err() == nil
			}
			select {
			case out <- trips:
				return true
			case <-ctx.Done():
				return false
			}
		}

		if !emit() {
			return
		}
		for c := range changes {
			if c.Key.Collection != models.CollectionTrips && c.Key.Collection != models.CollectionGroups {
				continue
			}
			if !emit() {
				return
			}
		}
	}()
	return out
}

func sortTrips(trips []models.Trip) []models.Trip {
	slices.SortFunc(trips, func(a, b models.Trip) int {
		if c := a.StartDate.Compare(b.StartDate); c != 0 {
			return c
		}
		return cmp.Compare(a.ID.String(), b.ID.String())
	})
	return trips
}
