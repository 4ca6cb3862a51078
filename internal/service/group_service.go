package service

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/google/uuid"

	"github.com/mapchat/syncd/internal/middleware"
	"github.com/mapchat/syncd/internal/models"
	"github.com/mapchat/syncd/internal/storage"
)

// GroupService manages groups and their membership. Every membership change is
// a read-modify-write of the group document through storage.Update, so
// concurrent changes to one group never lose an update.
type GroupService struct {
	store *storage.Store
	now   func() time.Time
}

// NewGroupService creates a new GroupService on the given store.
func NewGroupService(store *storage.Store) *GroupService {
	return &GroupService{store: store, now: time.Now}
}

// CreateGroup validates and stores a new group. The caller becomes the admin
// when the group names none, and a nil ID is replaced by a fresh one.
func (s *GroupService) CreateGroup(ctx context.Context, group models.Group) (*models.Group, error) {
	slog.Info("CreateGroup request received",
		"name", group.Name,
		"members_count", len(group.MemberIDs),
	)

	if caller, ok := middleware.CallerID(ctx); ok && group.AdminID == uuid.Nil {
		group.AdminID = caller
	}
	if err := group.Validate(); err != nil {
		return nil, wrap(ErrGroupInvalidData, err)
	}
	if group.ID == uuid.Nil {
		group.ID = uuid.New()
	}
	now := s.now().UTC()
	group = group.Normalized()
	group.CreatedAt = now
	group.UpdatedAt = now

	created, err := storage.Update(ctx, s.store, models.CollectionGroups, group.ID.String(),
		func(cur *models.Group) (*models.Group, error) {
			if cur != nil {
				return nil, wrap(ErrGroupInvalidData, fmt.Errorf("group %s already exists", group.ID))
			}
			return &group, nil
		})
	if err != nil {
		slog.Error("CreateGroup failed", "group_id", group.ID, "error", err)
		return nil, storeError(DomainGroup, err)
	}

	slog.Info("Group created", "group_id", created.ID, "admin_id", created.AdminID)
	return created, nil
}

// UpdateGroup replaces the editable fields of a group. Only the admin of the
// stored group may update it; the admin and creation time are kept from the
// stored document.
func (s *GroupService) UpdateGroup(ctx context.Context, group models.Group) (*models.Group, error) {
	slog.Info("UpdateGroup request received", "group_id", group.ID, "name", group.Name)

	if models.IsBlank(group.Name) {
		return nil, wrap(ErrGroupInvalidData, errors.New("name is required"))
	}
	caller, ok := middleware.CallerID(ctx)
	if !ok {
		return nil, ErrNotAdmin
	}

	updated, err := storage.Update(ctx, s.store, models.CollectionGroups, group.ID.String(),
		func(cur *models.Group) (*models.Group, error) {
			if cur == nil {
				return nil, ErrGroupNotFound
			}
			if !cur.IsAdmin(caller) {
				return nil, ErrNotAdmin
			}
			next := group
			next.AdminID = cur.AdminID
			next.CreatedAt = cur.CreatedAt
			next.UpdatedAt = s.now().UTC()
			next = next.Normalized()
			return &next, nil
		})
	if err != nil {
		slog.Error("UpdateGroup failed", "group_id", group.ID, "error", err)
		return nil, storeError(DomainGroup, err)
	}

	slog.Info("Group updated", "group_id", group.ID)
	return updated, nil
}

// DeleteGroup removes a group. Only its admin may delete it.
func (s *GroupService) DeleteGroup(ctx context.Context, groupID uuid.UUID) error {
	slog.Info("DeleteGroup request received", "group_id", groupID)

	caller, ok := middleware.CallerID(ctx)
	if !ok {
		return ErrNotAdmin
	}
	_, err := storage.Update(ctx, s.store, models.CollectionGroups, groupID.String(),
		func(cur *models.Group) (*models.Group, error) {
			if cur == nil {
				return nil, ErrGroupNotFound
			}
			if !cur.IsAdmin(caller) {
				return nil, ErrNotAdmin
			}
			return nil, nil
		})
	if err != nil {
		slog.Error("DeleteGroup failed", "group_id", groupID, "error", err)
		return storeError(DomainGroup, err)
	}

	slog.Info("Group deleted", "group_id", groupID)
	return nil
}

// AddMember adds userID as a regular member. Adding an existing member or the
// admin changes nothing.
func (s *GroupService) AddMember(ctx context.Context, userID, groupID uuid.UUID) (*models.Group, error) {
	slog.Info("AddMember request received", "group_id", groupID, "user_id", userID)

	if userID == uuid.Nil {
		return nil, wrap(ErrGroupInvalidData, errors.New("user id is required"))
	}
	group, err := storage.Update(ctx, s.store, models.CollectionGroups, groupID.String(),
		func(cur *models.Group) (*models.Group, error) {
			if cur == nil {
				return nil, ErrGroupNotFound
			}
			if cur.IsMember(userID) {
				return cur, nil
			}
			next := cur.Adding(userID)
			next.UpdatedAt = s.now().UTC()
			return &next, nil
		})
	if err != nil {
		slog.Error("AddMember failed", "group_id", groupID, "user_id", userID, "error", err)
		return nil, storeError(DomainGroup, err)
	}
	return group, nil
}

// RemoveMember removes a regular member. Only the admin may remove members and
// the admin cannot be removed. When the last regular member leaves, the group
// is deleted and RemoveMember returns a nil group.
func (s *GroupService) RemoveMember(ctx context.Context, userID, groupID uuid.UUID) (*models.Group, error) {
	slog.Info("RemoveMember request received", "group_id", groupID, "user_id", userID)

	caller, ok := middleware.CallerID(ctx)
	if !ok {
		return nil, ErrNotAdmin
	}
	group, err := storage.Update(ctx, s.store, models.CollectionGroups, groupID.String(),
		func(cur *models.Group) (*models.Group, error) {
			if cur == nil {
				return nil, ErrGroupNotFound
			}
			if !cur.IsAdmin(caller) || cur.IsAdmin(userID) {
				return nil, ErrNotAdmin
			}
			if !slices.Contains(cur.MemberIDs, userID) {
				return nil, ErrMemberNotFound
			}
			next := cur.Removing(userID)
			if next.MemberCount() == 0 {
				return nil, nil
			}
			next.UpdatedAt = s.now().UTC()
			return &next, nil
		})
	if err != nil {
		slog.Error("RemoveMember failed", "group_id", groupID, "user_id", userID, "error", err)
		return nil, storeError(DomainGroup, err)
	}

	if group == nil {
		slog.Info("Group deleted after last member left", "group_id", groupID)
	}
	return group, nil
}

// PromoteToAdmin hands the admin role to a current member. The former admin
// becomes a regular member.
func (s *GroupService) PromoteToAdmin(ctx context.Context, userID, groupID uuid.UUID) (*models.Group, error) {
	slog.Info("PromoteToAdmin request received", "group_id", groupID, "user_id", userID)

	caller, ok := middleware.CallerID(ctx)
	if !ok {
		return nil, ErrNotAdmin
	}
	group, err := storage.Update(ctx, s.store, models.CollectionGroups, groupID.String(),
		func(cur *models.Group) (*models.Group, error) {
			if cur == nil {
				return nil, ErrGroupNotFound
			}
			if !cur.IsAdmin(caller) {
				return nil, ErrNotAdmin
			}
			if cur.IsAdmin(userID) {
				return cur, nil
			}
			if !slices.Contains(cur.MemberIDs, userID) {
				return nil, ErrMemberNotFound
			}
			next := cur.PromotingToAdmin(userID)
			next.UpdatedAt = s.now().UTC()
			return &next, nil
		})
	if err != nil {
		slog.Error("PromoteToAdmin failed", "group_id", groupID, "user_id", userID, "error", err)
		return nil, storeError(DomainGroup, err)
	}

	slog.Info("Group admin changed", "group_id", groupID, "admin_id", group.AdminID)
	return group, nil
}

// FetchGroup returns one group.
func (s *GroupService) FetchGroup(ctx context.Context, groupID uuid.UUID) (*models.Group, error) {
	group, err := storage.Get[models.Group](ctx, s.store, models.CollectionGroups, groupID.String())
	if err != nil {
		slog.Error("FetchGroup failed", "group_id", groupID, "error", err)
		return nil, storeError(DomainGroup, err)
	}
	if group == nil {
		return nil, ErrGroupNotFound
	}
	return group, nil
}

// FetchGroups returns every group userID administers or belongs to, oldest first.
func (s *GroupService) FetchGroups(ctx context.Context, userID uuid.UUID) ([]models.Group, error) {
	administered, err := storage.Query[models.Group](ctx, s.store, models.CollectionGroups, adminOf(userID))
	if err != nil {
		slog.Error("FetchGroups failed", "user_id", userID, "error", err)
		return nil, storeError(DomainGroup, err)
	}
	joined, err := storage.Query[models.Group](ctx, s.store, models.CollectionGroups, memberOf(userID))
	if err != nil {
		slog.Error("FetchGroups failed", "user_id", userID, "error", err)
		return nil, storeError(DomainGroup, err)
	}
	return sortGroups(unionByID(administered, joined)), nil
}

// ListenToGroup streams one group; nil is sent while it does not exist.
func (s *GroupService) ListenToGroup(ctx context.Context, groupID uuid.UUID) <-chan *models.Group {
	return storage.ListenDocument[models.Group](ctx, s.store, models.CollectionGroups, groupID.String())
}

// ListenToUserGroups streams the groups of userID.
func (s *GroupService) ListenToUserGroups(ctx context.Context, userID uuid.UUID) <-chan []models.Group {
	merged := storage.MergeLatest(ctx, func(g models.Group) uuid.UUID { return g.ID },
		storage.ListenCollection[models.Group](ctx, s.store, models.CollectionGroups, adminOf(userID)),
		storage.ListenCollection[models.Group](ctx, s.store, models.CollectionGroups, memberOf(userID)),
	)
	out := make(chan []models.Group)
	go func() {
		defer close(out)
		for groups := range merged {
			select {
			case out <- sortGroups(groups):
			case <-ctx.Done():
				return
			}
		}
	}()
	return out
}

func adminOf(userID uuid.UUID) storage.QueryOptions {
	return storage.QueryOptions{Filters: []storage.Filter{storage.Where("adminId", userID)}}
}

func memberOf(userID uuid.UUID) storage.QueryOptions {
	return storage.QueryOptions{Filters: []storage.Filter{storage.ArrayContains("memberIds", userID)}}
}

func unionByID(lists ...[]models.Group) []models.Group {
	seen := make(map[uuid.UUID]bool)
	out := make([]models.Group, 0)
	for _, list := range lists {
		for _, g := range list {
			if !seen[g.ID] {
				seen[g.ID] = true
				out = append(out, g)
			}
		}
	}
	return out
}

func sortGroups(groups []models.Group) []models.Group {
	slices.SortFunc(groups, func(a, b models.Group) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return cmp.Compare(a.ID.String(), b.ID.String())
	})
	return groups
}
