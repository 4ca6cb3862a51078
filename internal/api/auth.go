package api

import (
	"context"
	"net/http"

	"github.com/mapchat/syncd/internal/auth"
)

func (s *Server) registerAuth(mux *http.ServeMux) {
	unary(mux, s, AuthServiceSignInProcedure, s.signIn)
	unary(mux, s, AuthServiceSignOutProcedure, s.signOut)
	unary(mux, s, AuthServiceDeleteAccountProcedure, s.deleteAccount)
	unary(mux, s, AuthServiceRefreshTokenProcedure, s.refreshToken)
	unary(mux, s, AuthServiceGetMeProcedure, s.getMe)
	unary(mux, s, AuthServiceUpdateOnlineStatusProcedure, s.updateOnlineStatus)
	unary(mux, s, AuthServiceSetGhostModeProcedure, s.setGhostMode)
	unary(mux, s, AuthServiceSetBlockedProcedure, s.setBlocked)
}

func (s *Server) signIn(ctx context.Context, req *SignInRequest) (*SessionResponse, error) {
	sess := s.svc.Sessions()
	user, err := sess.SignIn(ctx, auth.Provider(req.Provider), req.Credential)
	if err != nil {
		return nil, err
	}
	return &SessionResponse{User: userView(user), Token: sess.Token()}, nil
}

func (s *Server) signOut(ctx context.Context, _ *Empty) (*Empty, error) {
	sess, err := s.session(ctx)
	if err != nil {
		return nil, err
	}
	if user := sess.CurrentUser(); user != nil {
		s.svc.Devices.Release(user.ID)
	}
	return &Empty{}, sess.SignOut(ctx)
}

func (s *Server) deleteAccount(ctx context.Context, _ *Empty) (*Empty, error) {
	sess, err := s.session(ctx)
	if err != nil {
		return nil, err
	}
	user := sess.CurrentUser()
	if err := sess.DeleteAccount(ctx); err != nil {
		return nil, err
	}
	if user != nil {
		s.svc.Devices.Release(user.ID)
	}
	return &Empty{}, nil
}

func (s *Server) refreshToken(ctx context.Context, _ *Empty) (*TokenResponse, error) {
	sess, err := s.session(ctx)
	if err != nil {
		return nil, err
	}
	token, err := sess.RefreshToken(ctx)
	if err != nil {
		return nil, err
	}
	return &TokenResponse{Token: token}, nil
}

func (s *Server) getMe(ctx context.Context, _ *Empty) (*UserResponse, error) {
	sess, err := s.session(ctx)
	if err != nil {
		return nil, err
	}
	return &UserResponse{User: userView(sess.CurrentUser())}, nil
}

func (s *Server) updateOnlineStatus(ctx context.Context, req *OnlineStatusRequest) (*Empty, error) {
	sess, err := s.session(ctx)
	if err != nil {
		return nil, err
	}
	return &Empty{}, sess.UpdateOnlineStatus(ctx, req.Online)
}

func (s *Server) setGhostMode(ctx context.Context, req *GhostModeRequest) (*UserResponse, error) {
	sess, err := s.session(ctx)
	if err != nil {
		return nil, err
	}
	user, err := sess.SetGhostMode(ctx, req.Enabled)
	if err != nil {
		return nil, err
	}
	return &UserResponse{User: userView(user)}, nil
}

func (s *Server) setBlocked(ctx context.Context, req *BlockRequest) (*UserResponse, error) {
	sess, err := s.session(ctx)
	if err != nil {
		return nil, err
	}
	user, err := sess.SetBlocked(ctx, req.UserID, req.Blocked)
	if err != nil {
		return nil, err
	}
	return &UserResponse{User: userView(user)}, nil
}
