package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"connectrpc.com/connect"

	"github.com/mapchat/syncd/internal/location"
	"github.com/mapchat/syncd/internal/models"
	"github.com/mapchat/syncd/internal/service"
)

func (s *Server) registerLocation(mux *http.ServeMux) {
	unary(mux, s, LocationServiceReportDeviceStateProcedure, s.reportDeviceState)
	unary(mux, s, LocationServiceRequestPermissionProcedure, s.requestPermission)
	unary(mux, s, LocationServiceStartTrackingProcedure, s.startTracking)
	unary(mux, s, LocationServiceStopTrackingProcedure, s.stopTracking)
	unary(mux, s, LocationServicePushFixProcedure, s.pushFix)
	unary(mux, s, LocationServiceGetCurrentLocationProcedure, s.getCurrentLocation)
	unary(mux, s, LocationServiceUpdateLocationProcedure, s.updateLocation)
	unary(mux, s, LocationServiceGetGroupLocationsProcedure, s.getGroupLocations)
	serverStream(mux, s, LocationServiceWatchLocationsProcedure, s.watchLocations)
}

func (s *Server) device(ctx context.Context) (*location.PushSensor, service.Locations, error) {
	id, err := caller(ctx)
	if err != nil {
		return nil, nil, err
	}
	sensor, locs := s.svc.Devices.For(id)
	return sensor, locs, nil
}

func trackingResponse(locs service.Locations) *TrackingResponse {
	return &TrackingResponse{
		Authorization: locs.PermissionStatus().String(),
		Tracking:      locs.IsTracking(),
	}
}

func (s *Server) reportDeviceState(ctx context.Context, req *DeviceStateRequest) (*TrackingResponse, error) {
	auth, ok := location.ParseAuthorization(req.Authorization)
	if !ok {
		return nil, connect.NewError(connect.CodeInvalidArgument, fmt.Errorf("unknown authorization %q", req.Authorization))
	}
	sensor, locs, err := s.device(ctx)
	if err != nil {
		return nil, err
	}
	sensor.SetServicesEnabled(req.ServicesEnabled)
	sensor.SetAuthorization(auth)
	if !req.ServicesEnabled || !auth.Authorized() {
		locs.StopTracking()
	}
	return trackingResponse(locs), nil
}

func (s *Server) requestPermission(ctx context.Context, req *PermissionRequest) (*TrackingResponse, error) {
	mode, ok := location.ParseTrackingMode(req.Mode)
	if !ok {
		return nil, connect.NewError(connect.CodeInvalidArgument, fmt.Errorf("unknown mode %q", req.Mode))
	}
	_, locs, err := s.device(ctx)
	if err != nil {
		return nil, err
	}
	if err := locs.RequestPermission(ctx, mode); err != nil {
		return nil, err
	}
	return trackingResponse(locs), nil
}

func (s *Server) startTracking(ctx context.Context, _ *Empty) (*TrackingResponse, error) {
	_, locs, err := s.device(ctx)
	if err != nil {
		return nil, err
	}
	if err := locs.StartTracking(ctx); err != nil {
		return nil, err
	}
	return trackingResponse(locs), nil
}

func (s *Server) stopTracking(ctx context.Context, _ *Empty) (*TrackingResponse, error) {
	_, locs, err := s.device(ctx)
	if err != nil {
		return nil, err
	}
	locs.StopTracking()
	return trackingResponse(locs), nil
}

func (s *Server) pushFix(ctx context.Context, req *FixRequest) (*Empty, error) {
	sensor, _, err := s.device(ctx)
	if err != nil {
		return nil, err
	}
	sensor.Push(req.fix())
	return &Empty{}, nil
}

func (s *Server) getCurrentLocation(ctx context.Context, _ *Empty) (*LocationResponse, error) {
	_, locs, err := s.device(ctx)
	if err != nil {
		return nil, err
	}
	loc, err := locs.GetCurrentLocation(ctx)
	if err != nil {
		return nil, err
	}
	view := locationView(*loc, time.Now())
	return &LocationResponse{Location: &view}, nil
}

func (s *Server) updateLocation(ctx context.Context, req *UpdateLocationRequest) (*Empty, error) {
	_, locs, err := s.device(ctx)
	if err != nil {
		return nil, err
	}
	return &Empty{}, locs.UpdateLocation(ctx, req.Location)
}

func (s *Server) getGroupLocations(ctx context.Context, req *GroupLocationsRequest) (*GroupLocationsResponse, error) {
	_, locs, err := s.device(ctx)
	if err != nil {
		return nil, err
	}
	found, err := locs.LocationsForGroup(ctx, req.GroupID)
	if err != nil {
		return nil, err
	}
	now := time.Now()
	views := make([]LocationView, len(found))
	for i, l := range found {
		views[i] = locationView(l, now)
	}
	return &GroupLocationsResponse{Locations: views}, nil
}

func (s *Server) watchLocations(ctx context.Context, _ *Empty, send func(*LocationResponse) error) error {
	_, locs, err := s.device(ctx)
	if err != nil {
		return err
	}
	return forward(locs.Updates(ctx), send, func(l models.UserLocation) *LocationResponse {
		view := locationView(l, time.Now())
		return &LocationResponse{Location: &view}
	})
}
