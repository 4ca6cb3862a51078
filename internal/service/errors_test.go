package service

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/mapchat/syncd/internal/storage"
)

func TestUserMessage(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"nil", nil, ""},
		{"domain error", ErrNotAdmin, "Admin permission required"},
		{"wrapped domain error", wrap(ErrTripInvalidData, errors.New("name is required")), "Invalid trip data"},
		{"unknown error", unknown(DomainGroup, storage.ErrTimeout), "Group error: the request timed out"},
		{"foreign error", errors.New("dial tcp: connection refused"), "Something went wrong, please try again"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, UserMessage(tt.err))
		})
	}
}

func TestKindOf(t *testing.T) {
	assert.Equal(t, KindPermission, KindOf(ErrChatPermissionDenied))
	assert.Equal(t, KindNotFound, KindOf(fmt.Errorf("lookup: %w", ErrGroupNotFound)))
	assert.Equal(t, KindUnavailable, KindOf(unknown(DomainChat, storage.ErrTimeout)))
	assert.Equal(t, KindUnknown, KindOf(unknown(DomainChat, errors.New("x"))))
	assert.Equal(t, KindCancelled, KindOf(context.Canceled))
	assert.Equal(t, KindUnknown, KindOf(errors.New("x")))
}

func TestStoreError(t *testing.T) {
	conflict := fmt.Errorf("update: %w", storage.ErrConflict)

	assert.ErrorIs(t, storeError(DomainTrip, conflict), ErrTripConflict)
	assert.ErrorIs(t, storeError(DomainGroup, conflict), ErrGroupConflict)
	assert.ErrorIs(t, storeError(DomainAuth, storage.ErrTimeout), ErrNetwork)
	assert.Same(t, ErrMemberNotFound, storeError(DomainGroup, ErrMemberNotFound))
	assert.NoError(t, storeError(DomainChat, nil))

	var ue *UnknownError
	assert.ErrorAs(t, storeError(DomainChat, conflict), &ue)
	assert.Equal(t, "the data changed concurrently", ue.Detail)
}
