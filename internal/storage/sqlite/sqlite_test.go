package sqlite

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mapchat/syncd/internal/storage"
)

func newBackend(t *testing.T) *Backend {
	t.Helper()
	tempDir, err := os.MkdirTemp("", "mapchat-test-*")
	require.NoError(t, err)
	t.Cleanup(func() { os.RemoveAll(tempDir) })

	b, err := New(filepath.Join(tempDir, "nested", "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { b.Close() })
	return b
}

func set(t *testing.T, collection, id string, value any) storage.Mutation {
	t.Helper()
	m, err := storage.SetOp(collection, id, value)
	require.NoError(t, err)
	return m
}

func ids(docs []*storage.Document) []string {
	out := make([]string, len(docs))
	for i, d := range docs {
		out[i] = d.Key.ID
	}
	return out
}

func TestSQLiteBackend(t *testing.T) {
	b := newBackend(t)
	ctx := context.Background()

	t.Run("Get missing document reports not found", func(t *testing.T) {
		_, err := b.Get(ctx, storage.Key{Collection: "groups", ID: "nope"})
		assert.ErrorIs(t, err, storage.ErrNotFound)
	})

	t.Run("Set creates version 1 and bumps on rewrite", func(t *testing.T) {
		changes, err := b.Commit(ctx, []storage.Mutation{set(t, "groups", "g1", map[string]any{"name": "Trip Buddies"})})
		require.NoError(t, err)
		require.Len(t, changes, 1)
		assert.Equal(t, storage.ChangePut, changes[0].Kind)
		assert.Equal(t, int64(1), changes[0].Version)

		_, err = b.Commit(ctx, []storage.Mutation{set(t, "groups", "g1", map[string]any{"name": "Hikers"})})
		require.NoError(t, err)

		doc, err := b.Get(ctx, storage.Key{Collection: "groups", ID: "g1"})
		require.NoError(t, err)
		assert.Equal(t, int64(2), doc.Version)
		assert.JSONEq(t, `{"name":"Hikers"}`, string(doc.Data))
		assert.False(t, doc.UpdatedAt.IsZero())
	})

	t.Run("Update merges top-level fields", func(t *testing.T) {
		_, err := b.Commit(ctx, []storage.Mutation{set(t, "users", "u1", map[string]any{"name": "Ana", "isOnline": false})})
		require.NoError(t, err)

		m, err := storage.UpdateOp("users", "u1", map[string]any{"isOnline": true})
		require.NoError(t, err)
		_, err = b.Commit(ctx, []storage.Mutation{m})
		require.NoError(t, err)

		doc, err := b.Get(ctx, storage.Key{Collection: "users", ID: "u1"})
		require.NoError(t, err)
		assert.JSONEq(t, `{"name":"Ana","isOnline":true}`, string(doc.Data))
	})

	t.Run("Update of a missing document fails", func(t *testing.T) {
		m, err := storage.UpdateOp("users", "ghost", map[string]any{"isOnline": true})
		require.NoError(t, err)
		_, err = b.Commit(ctx, []storage.Mutation{m})
		assert.ErrorIs(t, err, storage.ErrNotFound)
	})

	t.Run("Delete of a missing document succeeds", func(t *testing.T) {
		changes, err := b.Commit(ctx, []storage.Mutation{storage.DeleteOp("users", "ghost")})
		require.NoError(t, err)
		require.Len(t, changes, 1)
		assert.Equal(t, storage.ChangeDelete, changes[0].Kind)
	})
}

func TestCommitIsAtomic(t *testing.T) {
	b := newBackend(t)
	ctx := context.Background()

	_, err := b.Commit(ctx, []storage.Mutation{set(t, "trips", "t1", map[string]any{"name": "Lisbon"})})
	require.NoError(t, err)

	stale := set(t, "trips", "t1", map[string]any{"name": "Porto"})
	stale.MatchVersion = 7
	_, err = b.Commit(ctx, []storage.Mutation{
		set(t, "trips", "t2", map[string]any{"name": "Madrid"}),
		stale,
	})
	assert.ErrorIs(t, err, storage.ErrConflict)

	_, err = b.Get(ctx, storage.Key{Collection: "trips", ID: "t2"})
	assert.ErrorIs(t, err, storage.ErrNotFound, "first mutation must roll back")

	doc, err := b.Get(ctx, storage.Key{Collection: "trips", ID: "t1"})
	require.NoError(t, err)
	assert.JSONEq(t, `{"name":"Lisbon"}`, string(doc.Data))
}

func TestPreconditions(t *testing.T) {
	b := newBackend(t)
	ctx := context.Background()

	create := set(t, "groups", "g1", map[string]any{"name": "a"})
	create.MatchVersion = storage.MustNotExist
	_, err := b.Commit(ctx, []storage.Mutation{create})
	require.NoError(t, err)

	_, err = b.Commit(ctx, []storage.Mutation{create})
	assert.ErrorIs(t, err, storage.ErrConflict, "create-only write of an existing document")

	next := set(t, "groups", "g1", map[string]any{"name": "b"})
	next.MatchVersion = 1
	_, err = b.Commit(ctx, []storage.Mutation{next})
	require.NoError(t, err)

	_, err = b.Commit(ctx, []storage.Mutation{next})
	assert.ErrorIs(t, err, storage.ErrConflict, "version 1 is stale after the second write")
}

func TestQuery(t *testing.T) {
	b := newBackend(t)
	ctx := context.Background()

	_, err := b.Commit(ctx, []storage.Mutation{
		set(t, "groups", "a", map[string]any{"adminId": "u1", "memberIds": []string{"u2"}, "open": true}),
		set(t, "groups", "b", map[string]any{"adminId": "u2", "memberIds": []string{"u1", "u3"}, "open": false}),
		set(t, "groups", "c", map[string]any{"adminId": "u1", "memberIds": []string{}, "open": true, "trip": map[string]any{"city": "Lisbon"}}),
		set(t, "trips", "x", map[string]any{"adminId": "u1"}),
	})
	require.NoError(t, err)

	tests := []struct {
		name string
		opts storage.QueryOptions
		want []string
	}{
		{"whole collection ordered by id", storage.QueryOptions{}, []string{"a", "b", "c"}},
		{"equality", storage.QueryOptions{Filters: []storage.Filter{storage.Where("adminId", "u1")}}, []string{"a", "c"}},
		{"array contains", storage.QueryOptions{Filters: []storage.Filter{storage.ArrayContains("memberIds", "u1")}}, []string{"b"}},
		{"boolean", storage.QueryOptions{Filters: []storage.Filter{storage.Where("open", false)}}, []string{"b"}},
		{"nested field", storage.QueryOptions{Filters: []storage.Filter{storage.Where("trip.city", "Lisbon")}}, []string{"c"}},
		{"conjunction", storage.QueryOptions{Filters: []storage.Filter{
			storage.Where("adminId", "u1"),
			storage.Where("open", true),
		}}, []string{"a", "c"}},
		{"descending with limit", storage.QueryOptions{Descending: true, Limit: 2}, []string{"c", "b"}},
		{"no match", storage.QueryOptions{Filters: []storage.Filter{storage.Where("adminId", "u9")}}, []string{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			docs, err := b.Query(ctx, "groups", tt.opts)
			require.NoError(t, err)
			assert.Equal(t, tt.want, ids(docs))
		})
	}

	t.Run("rejects unsafe field names", func(t *testing.T) {
		_, err := b.Query(ctx, "groups", storage.QueryOptions{
			Filters: []storage.Filter{storage.Where("name') OR 1=1 --", "x")},
		})
		assert.Error(t, err)
	})
}

func TestReopenKeepsDocuments(t *testing.T) {
	path := filepath.Join(t.TempDir(), "reopen.db")

	b, err := New(path)
	require.NoError(t, err)
	_, err = b.Commit(context.Background(), []storage.Mutation{set(t, "users", "u1", map[string]any{"name": "Ana"})})
	require.NoError(t, err)
	require.NoError(t, b.Close())

	b, err = New(path)
	require.NoError(t, err)
	defer b.Close()

	doc, err := b.Get(context.Background(), storage.Key{Collection: "users", ID: "u1"})
	require.NoError(t, err)

	var body map[string]string
	require.NoError(t, json.Unmarshal(doc.Data, &body))
	assert.Equal(t, "Ana", body["name"])
}
