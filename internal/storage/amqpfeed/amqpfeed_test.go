package amqpfeed

import (
	"encoding/json"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mapchat/syncd/internal/storage"
)

func TestNewWithoutBrokerFallsBackToLocal(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	feed := New("", "mapchat.changes", logger)
	defer feed.Close()

	_, ok := feed.(*storage.LocalFeed)
	assert.True(t, ok)
}

func TestEnvelope(t *testing.T) {
	changes := []storage.Change{
		{Key: storage.Key{Collection: "messages", ID: "m1"}, Kind: storage.ChangePut, Data: json.RawMessage(`{"text":"hi"}`), Version: 2},
		{Key: storage.Key{Collection: "conversations", ID: "c1"}, Kind: storage.ChangeDelete, Version: 7},
	}

	body, err := encode(changes)
	require.NoError(t, err)
	got, err := decode(body)
	require.NoError(t, err)

	require.Len(t, got, 2)
	assert.Equal(t, changes[0].Key, got[0].Key)
	assert.JSONEq(t, `{"text":"hi"}`, string(got[0].Data))
	assert.Equal(t, storage.ChangeDelete, got[1].Kind)
	assert.Equal(t, "messages.put", RoutingKey(changes))
	assert.Equal(t, "conversations.delete", RoutingKey(changes[1:]))

	_, err = decode([]byte("not json"))
	assert.Error(t, err)
}
