package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/google/uuid"

	"github.com/mapchat/syncd/internal/models"
	"github.com/mapchat/syncd/internal/service"
)

func (s *Server) registerTrips(mux *http.ServeMux) {
	unary(mux, s, TripServiceCreateTripProcedure, s.createTrip)
	unary(mux, s, TripServiceUpdateTripProcedure, s.updateTrip)
	unary(mux, s, TripServiceDeleteTripProcedure, s.deleteTrip)
	unary(mux, s, TripServiceGetTripProcedure, s.getTrip)
	unary(mux, s, TripServiceListTripsProcedure, s.listTrips)
	unary(mux, s, TripServiceListActiveTripsProcedure, s.listActiveTrips)
	serverStream(mux, s, TripServiceWatchTripProcedure, s.watchTrip)
	serverStream(mux, s, TripServiceWatchTripsProcedure, s.watchTrips)
}

func (s *Server) tripResponse(t *models.Trip) *TripResponse {
	if t == nil {
		return &TripResponse{}
	}
	view := tripView(*t, s.svc.Trips.Now())
	return &TripResponse{Trip: &view}
}

func (s *Server) createTrip(ctx context.Context, req *TripRequest) (*TripResponse, error) {
	trip, err := s.svc.Trips.CreateTrip(ctx, req.Trip)
	if err != nil {
		return nil, err
	}
	return s.tripResponse(trip), nil
}

func (s *Server) updateTrip(ctx context.Context, req *TripRequest) (*TripResponse, error) {
	trip, err := s.svc.Trips.UpdateTrip(ctx, req.Trip)
	if err != nil {
		return nil, err
	}
	return s.tripResponse(trip), nil
}

func (s *Server) deleteTrip(ctx context.Context, req *TripIDRequest) (*Empty, error) {
	return &Empty{}, s.svc.Trips.DeleteTrip(ctx, req.TripID)
}

// visibleTrip loads a trip the caller administers or shares through a group.
func (s *Server) visibleTrip(ctx context.Context, tripID uuid.UUID) (*models.Trip, error) {
	id, err := caller(ctx)
	if err != nil {
		return nil, err
	}
	trip, err := s.svc.Trips.FetchTrip(ctx, tripID)
	if err != nil {
		return nil, err
	}
	if trip.AdminID == id {
		return trip, nil
	}
	if trip.GroupID != uuid.Nil {
		g, err := s.svc.Groups.FetchGroup(ctx, trip.GroupID)
		switch {
		case err == nil && g.IsMember(id):
			return trip, nil
		case err != nil && !errors.Is(err, service.ErrGroupNotFound):
			return nil, err
		}
	}
	return nil, service.ErrTripPermissionDenied
}

func (s *Server) getTrip(ctx context.Context, req *TripIDRequest) (*TripResponse, error) {
	trip, err := s.visibleTrip(ctx, req.TripID)
	if err != nil {
		return nil, err
	}
	return s.tripResponse(trip), nil
}

func (s *Server) listTrips(ctx context.Context, _ *Empty) (*TripsResponse, error) {
	id, err := caller(ctx)
	if err != nil {
		return nil, err
	}
	trips, err := s.svc.Trips.FetchTrips(ctx, id)
	if err != nil {
		return nil, err
	}
	return &TripsResponse{Trips: tripViews(trips, s.svc.Trips.Now())}, nil
}

func (s *Server) listActiveTrips(ctx context.Context, _ *Empty) (*TripsResponse, error) {
	trips, err := s.svc.Trips.FetchActiveTrips(ctx)
	if err != nil {
		return nil, err
	}
	return &TripsResponse{Trips: tripViews(trips, s.svc.Trips.Now())}, nil
}

func (s *Server) watchTrip(ctx context.Context, req *TripIDRequest, send func(*TripResponse) error) error {
	if _, err := s.visibleTrip(ctx, req.TripID); err != nil {
		return err
	}
	return forward(s.svc.Trips.ListenToTrip(ctx, req.TripID), send, s.tripResponse)
}

func (s *Server) watchTrips(ctx context.Context, _ *Empty, send func(*TripsResponse) error) error {
	id, err := caller(ctx)
	if err != nil {
		return err
	}
	return forward(s.svc.Trips.ListenToUserTrips(ctx, id), send, func(trips []models.Trip) *TripsResponse {
		return &TripsResponse{Trips: tripViews(trips, s.svc.Trips.Now())}
	})
}
