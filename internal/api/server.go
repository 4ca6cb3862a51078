// Package api exposes the sync services over Connect with a JSON codec.
package api

import (
	"context"
	"log/slog"
	"net/http"

	"connectrpc.com/connect"
	"github.com/google/uuid"

	"github.com/mapchat/syncd/internal/middleware"
	"github.com/mapchat/syncd/internal/service"
)

// Services are the dependencies of a Server.
type Services struct {
	// Sessions returns a fresh, signed-out Auth session. One session is
	// created per request and restored from the request token.
	Sessions func() service.Auth

	Devices *Devices
	Trips   service.Trips
	Groups  service.Groups
	Chat    service.Chat
}

// Server registers every procedure on a mux.
type Server struct {
	svc  Services
	opts []connect.HandlerOption
}

// NewServer creates a Server. opts are applied to every handler after the
// JSON codec, typically interceptors and read limits.
func NewServer(svc Services, opts ...connect.HandlerOption) *Server {
	return &Server{
		svc:  svc,
		opts: append([]connect.HandlerOption{connect.WithCodec(jsonCodec{})}, opts...),
	}
}

// Register mounts every procedure on mux.
func (s *Server) Register(mux *http.ServeMux) {
	s.registerAuth(mux)
	s.registerLocation(mux)
	s.registerTrips(mux)
	s.registerGroups(mux)
	s.registerChat(mux)
}

func unary[Req, Res any](mux *http.ServeMux, s *Server, procedure string, fn func(context.Context, *Req) (*Res, error)) {
	mux.Handle(procedure, connect.NewUnaryHandler(procedure,
		func(ctx context.Context, req *connect.Request[Req]) (*connect.Response[Res], error) {
			res, err := fn(ctx, req.Msg)
			if err != nil {
				return nil, toConnectError(err)
			}
			return connect.NewResponse(res), nil
		},
		s.opts...,
	))
}

func serverStream[Req, Res any](mux *http.ServeMux, s *Server, procedure string, fn func(context.Context, *Req, func(*Res) error) error) {
	mux.Handle(procedure, connect.NewServerStreamHandler(procedure,
		func(ctx context.Context, req *connect.Request[Req], stream *connect.ServerStream[Res]) error {
			return toConnectError(fn(ctx, req.Msg, stream.Send))
		},
		s.opts...,
	))
}

// forward sends every value of ch until it closes or a send fails.
func forward[T, Res any](ch <-chan T, send func(*Res) error, convert func(T) *Res) error {
	for v := range ch {
		if err := send(convert(v)); err != nil {
			return err
		}
	}
	return nil
}

func caller(ctx context.Context) (uuid.UUID, error) {
	id, ok := middleware.CallerID(ctx)
	if !ok {
		return uuid.Nil, connect.NewError(connect.CodeUnauthenticated, errNoCaller)
	}
	return id, nil
}

// session restores the Auth session of the request token.
func (s *Server) session(ctx context.Context) (service.Auth, error) {
	token := middleware.GetToken(ctx)
	if token == "" {
		return nil, connect.NewError(connect.CodeUnauthenticated, errNoCaller)
	}
	sess := s.svc.Sessions()
	if _, err := sess.Restore(ctx, token); err != nil {
		slog.Warn("Session restore failed", "user_id", middleware.GetUserID(ctx), "error", err)
		return nil, err
	}
	return sess, nil
}
