package api

import (
	"context"
	"net/http"

	"github.com/google/uuid"

	"github.com/mapchat/syncd/internal/models"
	"github.com/mapchat/syncd/internal/service"
)

func (s *Server) registerGroups(mux *http.ServeMux) {
	unary(mux, s, GroupServiceCreateGroupProcedure, s.createGroup)
	unary(mux, s, GroupServiceUpdateGroupProcedure, s.updateGroup)
	unary(mux, s, GroupServiceDeleteGroupProcedure, s.deleteGroup)
	unary(mux, s, GroupServiceAddMemberProcedure, s.addMember)
	unary(mux, s, GroupServiceRemoveMemberProcedure, s.removeMember)
	unary(mux, s, GroupServicePromoteToAdminProcedure, s.promoteToAdmin)
	unary(mux, s, GroupServiceGetGroupProcedure, s.getGroup)
	unary(mux, s, GroupServiceListGroupsProcedure, s.listGroups)
	serverStream(mux, s, GroupServiceWatchGroupProcedure, s.watchGroup)
	serverStream(mux, s, GroupServiceWatchGroupsProcedure, s.watchGroups)
}

func groupResponse(g *models.Group) *GroupResponse {
	return &GroupResponse{Group: groupView(g)}
}

func (s *Server) createGroup(ctx context.Context, req *GroupRequest) (*GroupResponse, error) {
	g, err := s.svc.Groups.CreateGroup(ctx, req.Group)
	if err != nil {
		return nil, err
	}
	return groupResponse(g), nil
}

func (s *Server) updateGroup(ctx context.Context, req *GroupRequest) (*GroupResponse, error) {
	g, err := s.svc.Groups.UpdateGroup(ctx, req.Group)
	if err != nil {
		return nil, err
	}
	return groupResponse(g), nil
}

func (s *Server) deleteGroup(ctx context.Context, req *GroupIDRequest) (*Empty, error) {
	return &Empty{}, s.svc.Groups.DeleteGroup(ctx, req.GroupID)
}

func (s *Server) addMember(ctx context.Context, req *MemberRequest) (*GroupResponse, error) {
	g, err := s.svc.Groups.AddMember(ctx, req.UserID, req.GroupID)
	if err != nil {
		return nil, err
	}
	return groupResponse(g), nil
}

// removeMember answers with a nil group when the last member left and the
// group was deleted.
func (s *Server) removeMember(ctx context.Context, req *MemberRequest) (*GroupResponse, error) {
	g, err := s.svc.Groups.RemoveMember(ctx, req.UserID, req.GroupID)
	if err != nil {
		return nil, err
	}
	return groupResponse(g), nil
}

func (s *Server) promoteToAdmin(ctx context.Context, req *MemberRequest) (*GroupResponse, error) {
	g, err := s.svc.Groups.PromoteToAdmin(ctx, req.UserID, req.GroupID)
	if err != nil {
		return nil, err
	}
	return groupResponse(g), nil
}

// memberGroup loads a group the caller belongs to. Other groups are reported
// as not found.
func (s *Server) memberGroup(ctx context.Context, groupID uuid.UUID) (*models.Group, uuid.UUID, error) {
	id, err := caller(ctx)
	if err != nil {
		return nil, uuid.Nil, err
	}
	g, err := s.svc.Groups.FetchGroup(ctx, groupID)
	if err != nil {
		return nil, id, err
	}
	if !g.IsMember(id) {
		return nil, id, service.ErrGroupNotFound
	}
	return g, id, nil
}

func (s *Server) getGroup(ctx context.Context, req *GroupIDRequest) (*GroupResponse, error) {
	g, _, err := s.memberGroup(ctx, req.GroupID)
	if err != nil {
		return nil, err
	}
	return groupResponse(g), nil
}

func (s *Server) listGroups(ctx context.Context, _ *Empty) (*GroupsResponse, error) {
	id, err := caller(ctx)
	if err != nil {
		return nil, err
	}
	groups, err := s.svc.Groups.FetchGroups(ctx, id)
	if err != nil {
		return nil, err
	}
	return &GroupsResponse{Groups: groupViews(groups)}, nil
}

// watchGroup stops sharing updates once the caller leaves the group; they then
// see it as gone.
func (s *Server) watchGroup(ctx context.Context, req *GroupIDRequest, send func(*GroupResponse) error) error {
	_, id, err := s.memberGroup(ctx, req.GroupID)
	if err != nil {
		return err
	}
	return forward(s.svc.Groups.ListenToGroup(ctx, req.GroupID), send, func(g *models.Group) *GroupResponse {
		if g != nil && !g.IsMember(id) {
			return groupResponse(nil)
		}
		return groupResponse(g)
	})
}

func (s *Server) watchGroups(ctx context.Context, _ *Empty, send func(*GroupsResponse) error) error {
	id, err := caller(ctx)
	if err != nil {
		return err
	}
	return forward(s.svc.Groups.ListenToUserGroups(ctx, id), send, func(groups []models.Group) *GroupsResponse {
		return &GroupsResponse{Groups: groupViews(groups)}
	})
}
