package service

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mapchat/syncd/internal/chatcrypto"
	"github.com/mapchat/syncd/internal/models"
	"github.com/mapchat/syncd/internal/storage"
	"github.com/mapchat/syncd/internal/storage/sqlite"
)

// fakeUploader records uploads and returns err when set.
type fakeUploader struct {
	err     error
	uploads int
}

func (u *fakeUploader) Upload(_ context.Context, data []byte, mediaType models.MediaType) (string, error) {
	if u.err != nil {
		return "", u.err
	}
	u.uploads++
	return "https://media.example.com/" + string(mediaType) + "/1", nil
}

// batchFailingBackend rejects every multi-document commit.
type batchFailingBackend struct {
	storage.Backend
}

func (b *batchFailingBackend) Commit(ctx context.Context, mutations []storage.Mutation) ([]storage.Change, error) {
	if len(mutations) > 1 {
		return nil, errors.New("transaction aborted")
	}
	return b.Backend.Commit(ctx, mutations)
}

type chatFixture struct {
	chat     *ChatService
	store    *storage.Store
	uploader *fakeUploader
	clock    *fixedClock
	alice    uuid.UUID
	bob      uuid.UUID
	conv     *models.Conversation
}

func newChatFixture(t *testing.T, sealer *chatcrypto.Sealer) *chatFixture {
	t.Helper()
	store := setupStore(t)
	f := &chatFixture{
		store:    store,
		uploader: &fakeUploader{},
		clock:    &fixedClock{t: time.Date(2026, 8, 1, 18, 0, 0, 0, time.UTC)},
		alice:    uuid.New(),
		bob:      uuid.New(),
	}
	f.chat = NewChatService(store, f.uploader, sealer)
	f.chat.now = f.clock.now

	conv, err := f.chat.StartConversation(as(f.alice), []uuid.UUID{f.bob, f.alice})
	require.NoError(t, err)
	f.conv = conv
	return f
}

func (f *chatFixture) send(t *testing.T, from uuid.UUID, text string) *models.Message {
	t.Helper()
	f.clock.advance(time.Second)
	msg, err := f.chat.SendMessage(as(from), text, f.conv.ID)
	require.NoError(t, err)
	return msg
}

func TestStartConversation(t *testing.T) {
	f := newChatFixture(t, nil)
	assert.Equal(t, []uuid.UUID{f.alice, f.bob}, f.conv.Participants)

	_, err := f.chat.StartConversation(context.Background(), []uuid.UUID{f.bob})
	assert.ErrorIs(t, err, ErrChatPermissionDenied)

	convs, err := f.chat.FetchConversations(context.Background(), f.bob)
	require.NoError(t, err)
	require.Len(t, convs, 1)
	assert.Equal(t, f.conv.ID, convs[0].ID)
}

func TestSendAndFetchMessages(t *testing.T) {
	f := newChatFixture(t, nil)

	first := f.send(t, f.alice, "Where are you?")
	second := f.send(t, f.bob, "At the castle")
	third := f.send(t, f.alice, "On my way")
	assert.Equal(t, models.StatusSent, first.Status)

	msgs, err := f.chat.FetchMessages(as(f.bob), f.conv.ID, 0)
	require.NoError(t, err)
	require.Len(t, msgs, 3)
	assert.Equal(t, []uuid.UUID{first.ID, second.ID, third.ID}, []uuid.UUID{msgs[0].ID, msgs[1].ID, msgs[2].ID})
	for _, m := range msgs {
		assert.Equal(t, models.StatusSent, m.Status)
	}

	t.Run("limit keeps the newest", func(t *testing.T) {
		latest, err := f.chat.FetchMessages(as(f.alice), f.conv.ID, 2)
		require.NoError(t, err)
		require.Len(t, latest, 2)
		assert.Equal(t, second.ID, latest[0].ID)
		assert.Equal(t, third.ID, latest[1].ID)
	})

	t.Run("conversation tracks the last message", func(t *testing.T) {
		convs, err := f.chat.FetchConversations(context.Background(), f.alice)
		require.NoError(t, err)
		require.Len(t, convs, 1)
		require.NotNil(t, convs[0].LastMessage)
		assert.Equal(t, third.ID, convs[0].LastMessage.ID)
		assert.True(t, third.CreatedAt.Equal(convs[0].UpdatedAt))
	})

	t.Run("rejections", func(t *testing.T) {
		_, err := f.chat.SendMessage(as(f.alice), "  ", f.conv.ID)
		assert.ErrorIs(t, err, ErrSendFailed)

		_, err = f.chat.SendMessage(as(uuid.New()), "hi", f.conv.ID)
		assert.ErrorIs(t, err, ErrChatPermissionDenied)

		_, err = f.chat.SendMessage(as(f.alice), "hi", uuid.New())
		assert.ErrorIs(t, err, ErrConversationNotFound)

		_, err = f.chat.FetchMessages(as(uuid.New()), f.conv.ID, 10)
		assert.ErrorIs(t, err, ErrChatPermissionDenied)
	})
}

func TestDeleteMessageShowsPlaceholder(t *testing.T) {
	f := newChatFixture(t, nil)
	msg := f.send(t, f.alice, "Hello")

	assert.ErrorIs(t, f.chat.DeleteMessage(as(f.bob), msg.ID), ErrChatPermissionDenied)

	require.NoError(t, f.chat.DeleteMessage(as(f.alice), msg.ID))
	require.NoError(t, f.chat.DeleteMessage(as(f.alice), msg.ID), "deleting twice succeeds")

	msgs, err := f.chat.FetchMessages(as(f.bob), f.conv.ID, 0)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.True(t, msgs[0].IsDeleted)
	assert.Empty(t, msgs[0].Text)
	assert.Equal(t, "This message was deleted", msgs[0].DisplayText())
	assert.True(t, msg.CreatedAt.Equal(msgs[0].CreatedAt), "position in history is kept")

	_, err = f.chat.EditMessage(as(f.alice), msg.ID, "Hi")
	assert.ErrorIs(t, err, ErrMessageNotFound)

	assert.ErrorIs(t, f.chat.DeleteMessage(as(f.alice), uuid.New()), ErrMessageNotFound)

	t.Run("conversation list shows the placeholder", func(t *testing.T) {
		convs, err := f.chat.FetchConversations(context.Background(), f.bob)
		require.NoError(t, err)
		require.Len(t, convs, 1)
		last := convs[0].LastMessage
		require.NotNil(t, last)
		assert.Equal(t, msg.ID, last.ID)
		assert.True(t, last.IsDeleted)
		assert.Empty(t, last.Text)
		assert.Equal(t, models.DeletedMessageText, last.DisplayText())
	})
}

func TestDeleteSealedLastMessage(t *testing.T) {
	key, err := chatcrypto.GenerateKey()
	require.NoError(t, err)
	sealer, err := chatcrypto.NewSealer(key)
	require.NoError(t, err)

	f := newChatFixture(t, sealer)
	msg := f.send(t, f.alice, "Secret plan")
	require.NoError(t, f.chat.DeleteMessage(as(f.alice), msg.ID))

	convs, err := f.chat.FetchConversations(context.Background(), f.alice)
	require.NoError(t, err)
	require.NotNil(t, convs[0].LastMessage)
	assert.Equal(t, models.DeletedMessageText, convs[0].LastMessage.DisplayText())
}

func TestEditMessage(t *testing.T) {
	f := newChatFixture(t, nil)
	msg := f.send(t, f.alice, "Helo")

	_, err := f.chat.EditMessage(as(f.bob), msg.ID, "Hijacked")
	assert.ErrorIs(t, err, ErrChatPermissionDenied)

	f.clock.advance(time.Minute)
	edited, err := f.chat.EditMessage(as(f.alice), msg.ID, "Hello")
	require.NoError(t, err)
	assert.Equal(t, "Hello", edited.Text)
	assert.True(t, edited.IsEdited)
	assert.True(t, edited.UpdatedAt.After(msg.UpdatedAt))

	t.Run("conversation list shows the edited text", func(t *testing.T) {
		convs, err := f.chat.FetchConversations(context.Background(), f.bob)
		require.NoError(t, err)
		require.Len(t, convs, 1)
		last := convs[0].LastMessage
		require.NotNil(t, last)
		assert.Equal(t, msg.ID, last.ID)
		assert.Equal(t, "Hello", last.Text)
		assert.True(t, last.IsEdited)
	})

	t.Run("editing an older message keeps the last one", func(t *testing.T) {
		latest := f.send(t, f.bob, "Hi Alice")
		_, err := f.chat.EditMessage(as(f.alice), msg.ID, "Hello there")
		require.NoError(t, err)

		convs, err := f.chat.FetchConversations(context.Background(), f.alice)
		require.NoError(t, err)
		require.NotNil(t, convs[0].LastMessage)
		assert.Equal(t, latest.ID, convs[0].LastMessage.ID)
		assert.Equal(t, "Hi Alice", convs[0].LastMessage.Text)
		assert.False(t, convs[0].LastMessage.IsEdited)
	})
}

func TestMarkRead(t *testing.T) {
	f := newChatFixture(t, nil)
	msg := f.send(t, f.alice, "Seen?")

	require.NoError(t, f.chat.MarkRead(as(f.alice), msg.ID))
	msgs, err := f.chat.FetchMessages(as(f.alice), f.conv.ID, 0)
	require.NoError(t, err)
	assert.Equal(t, models.StatusSent, msgs[0].Status, "senders cannot mark their own messages")

	require.NoError(t, f.chat.MarkRead(as(f.bob), msg.ID))
	msgs, err = f.chat.FetchMessages(as(f.alice), f.conv.ID, 0)
	require.NoError(t, err)
	assert.Equal(t, models.StatusRead, msgs[0].Status)

	convs, err := f.chat.FetchConversations(context.Background(), f.alice)
	require.NoError(t, err)
	require.NotNil(t, convs[0].LastMessage)
	assert.Equal(t, models.StatusRead, convs[0].LastMessage.Status, "preview follows the read status")

	t.Run("outsiders cannot mark messages", func(t *testing.T) {
		unread := f.send(t, f.alice, "Still there?")

		err := f.chat.MarkRead(as(uuid.New()), unread.ID)
		assert.ErrorIs(t, err, ErrChatPermissionDenied)

		msgs, err := f.chat.FetchMessages(as(f.alice), f.conv.ID, 0)
		require.NoError(t, err)
		require.Len(t, msgs, 2)
		assert.Equal(t, models.StatusSent, msgs[1].Status)
	})

	t.Run("unknown message", func(t *testing.T) {
		assert.ErrorIs(t, f.chat.MarkRead(as(f.bob), uuid.New()), ErrMessageNotFound)
	})
}

func TestSendMedia(t *testing.T) {
	f := newChatFixture(t, nil)

	t.Run("uploaded media is referenced", func(t *testing.T) {
		msg, err := f.chat.SendMedia(as(f.alice), []byte{0xff, 0xd8}, models.MediaImage, f.conv.ID)
		require.NoError(t, err)
		assert.Equal(t, "https://media.example.com/image/1", msg.MediaURL)
		assert.Equal(t, "📷 Photo", msg.DisplayText())
		assert.Equal(t, 1, f.uploader.uploads)
	})

	t.Run("unsupported type", func(t *testing.T) {
		_, err := f.chat.SendMedia(as(f.alice), []byte{1}, models.MediaLocation, f.conv.ID)
		assert.ErrorIs(t, err, ErrUploadFailed)
	})

	t.Run("upload failure", func(t *testing.T) {
		f.uploader.err = errors.New("bucket unavailable")
		defer func() { f.uploader.err = nil }()

		_, err := f.chat.SendMedia(as(f.alice), []byte{1}, models.MediaAudio, f.conv.ID)
		assert.ErrorIs(t, err, ErrUploadFailed)
		assert.Equal(t, "Failed to upload media", UserMessage(err))
	})
}

func TestShareLocation(t *testing.T) {
	f := newChatFixture(t, nil)
	msg, err := f.chat.ShareLocation(as(f.bob), models.UserLocation{Latitude: 41.15, Longitude: -8.61}, f.conv.ID)
	require.NoError(t, err)
	require.NotNil(t, msg.SharedLocation)
	assert.Equal(t, f.bob, msg.SharedLocation.UserID)
	assert.Equal(t, models.ContentLocation, msg.Kind())
	assert.Equal(t, "📍 Location", msg.DisplayText())
}

func TestSendFailureMarksMessageFailed(t *testing.T) {
	backend, err := sqlite.New(filepath.Join(t.TempDir(), "chat.db"))
	require.NoError(t, err)
	store := storage.New(&batchFailingBackend{Backend: backend})
	t.Cleanup(func() { store.Close() })

	alice, bob := uuid.New(), uuid.New()
	chat := NewChatService(store, &fakeUploader{}, nil)
	conv, err := chat.StartConversation(as(alice), []uuid.UUID{bob})
	require.NoError(t, err)

	_, err = chat.SendMessage(as(alice), "Hello", conv.ID)
	require.ErrorIs(t, err, ErrSendFailed)

	msgs, err := chat.FetchMessages(as(bob), conv.ID, 0)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, models.StatusFailed, msgs[0].Status)
}

func TestSealedMessages(t *testing.T) {
	key, err := chatcrypto.GenerateKey()
	require.NoError(t, err)
	sealer, err := chatcrypto.NewSealer(key)
	require.NoError(t, err)

	f := newChatFixture(t, sealer)
	msg := f.send(t, f.alice, "Meet at the pier")
	assert.Equal(t, "Meet at the pier", msg.Text)

	raw, err := storage.Get[models.Message](context.Background(), f.store, models.CollectionMessages, msg.ID.String())
	require.NoError(t, err)
	assert.True(t, chatcrypto.IsSealed(raw.Text), "text is sealed at rest")
	assert.NotContains(t, raw.Text, "pier")

	msgs, err := f.chat.FetchMessages(as(f.bob), f.conv.ID, 0)
	require.NoError(t, err)
	assert.Equal(t, "Meet at the pier", msgs[0].Text)

	t.Run("missing key", func(t *testing.T) {
		plain := NewChatService(f.store, f.uploader, nil)
		_, err := plain.FetchMessages(as(f.bob), f.conv.ID, 0)
		assert.ErrorIs(t, err, ErrEncryptionFailed)
	})
}

func TestListenToMessagesWithTimeline(t *testing.T) {
	f := newChatFixture(t, nil)
	earlier := f.send(t, f.alice, "First")

	ctx, cancel := context.WithCancel(as(f.bob))
	defer cancel()
	live, err := f.chat.ListenToMessages(ctx, f.conv.ID)
	require.NoError(t, err)

	var timeline Timeline
	fetched, err := f.chat.FetchMessages(as(f.bob), f.conv.ID, 0)
	require.NoError(t, err)
	timeline.Merge(fetched)

	reply := f.send(t, f.bob, "Second")

	// The send produces a sending copy followed by the sent copy.
	for range 2 {
		msg := receiveWithin(t, live)
		assert.Equal(t, reply.ID, msg.ID)
		timeline.Insert(msg)
	}

	got := timeline.Messages()
	require.Len(t, got, 2)
	assert.Equal(t, earlier.ID, got[0].ID)
	assert.Equal(t, reply.ID, got[1].ID)
	assert.Equal(t, models.StatusSent, got[1].Status)

	_, err = f.chat.ListenToMessages(as(uuid.New()), f.conv.ID)
	assert.ErrorIs(t, err, ErrChatPermissionDenied)
}

func TestListenToMessagesSkipsOtherConversations(t *testing.T) {
	f := newChatFixture(t, nil)
	carol := uuid.New()
	side, err := f.chat.StartConversation(as(f.alice), []uuid.UUID{carol})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(as(f.bob))
	defer cancel()
	live, err := f.chat.ListenToMessages(ctx, f.conv.ID)
	require.NoError(t, err)

	f.clock.advance(time.Second)
	_, err = f.chat.SendMessage(as(f.alice), "Not for Bob", side.ID)
	require.NoError(t, err)
	mine := f.send(t, f.alice, "For Bob")

	for range 2 {
		msg := receiveWithin(t, live)
		assert.Equal(t, mine.ID, msg.ID)
		assert.Equal(t, f.conv.ID, msg.ConversationID)
	}
}

func TestTimelineInsert(t *testing.T) {
	base := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	a := models.Message{ID: uuid.New(), Text: "a", Status: models.StatusSent, CreatedAt: base, UpdatedAt: base}
	b := models.Message{ID: uuid.New(), Text: "b", Status: models.StatusSent, CreatedAt: base.Add(time.Second), UpdatedAt: base.Add(time.Second)}

	var tl Timeline
	assert.True(t, tl.Insert(b))
	assert.True(t, tl.Insert(a))
	assert.Equal(t, 2, tl.Len())
	assert.Equal(t, "a", tl.Messages()[0].Text, "ordered by creation")

	stale := a
	stale.Status = models.StatusSending
	assert.False(t, tl.Insert(stale), "a lower status at the same instant is ignored")

	read := a
	read.Status = models.StatusRead
	assert.True(t, tl.Insert(read))

	deleted := a.SoftDeleted(base.Add(time.Minute))
	assert.True(t, tl.Insert(deleted))
	assert.Equal(t, models.DeletedMessageText, tl.Messages()[0].DisplayText())

	assert.False(t, tl.Insert(read), "older copy does not resurrect content")
	assert.Equal(t, 2, tl.Len())
}
