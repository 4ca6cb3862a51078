package service

import (
	"cmp"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/google/uuid"

	"github.com/mapchat/syncd/internal/chatcrypto"
	"github.com/mapchat/syncd/internal/media"
	"github.com/mapchat/syncd/internal/middleware"
	"github.com/mapchat/syncd/internal/models"
	"github.com/mapchat/syncd/internal/storage"
)

// DefaultMessageLimit bounds FetchMessages when the caller passes no limit.
const DefaultMessageLimit = 50

// ChatService manages conversations and their messages.
type ChatService struct {
	store    *storage.Store
	uploader media.Uploader
	sealer   *chatcrypto.Sealer
	now      func() time.Time
	newID    func() (uuid.UUID, error)
}

// NewChatService creates a ChatService. sealer may be nil, in which case
// message text is stored as is.
func NewChatService(store *storage.Store, uploader media.Uploader, sealer *chatcrypto.Sealer) *ChatService {
	return &ChatService{
		store:    store,
		uploader: uploader,
		sealer:   sealer,
		now:      time.Now,
		newID:    uuid.NewV7,
	}
}

// StartConversation creates a conversation between the caller and participants.
func (s *ChatService) StartConversation(ctx context.Context, participants []uuid.UUID) (*models.Conversation, error) {
	caller, ok := middleware.CallerID(ctx)
	if !ok {
		return nil, ErrChatPermissionDenied
	}
	slog.Info("StartConversation request received", "user_id", caller, "participants_count", len(participants))

	members := []uuid.UUID{caller}
	for _, id := range participants {
		if id != uuid.Nil && !slices.Contains(members, id) {
			members = append(members, id)
		}
	}
	now := s.now().UTC()
	conv := models.Conversation{
		ID:           uuid.New(),
		Participants: members,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := conv.Validate(); err != nil {
		return nil, unknown(DomainChat, err)
	}

	if err := s.store.Set(ctx, models.CollectionConversations, conv.ID.String(), conv); err != nil {
		slog.Error("StartConversation failed", "error", err)
		return nil, storeError(DomainChat, err)
	}

	slog.Info("Conversation started", "conversation_id", conv.ID)
	return &conv, nil
}

// FetchConversations returns the conversations userID takes part in, most
// recently active first.
func (s *ChatService) FetchConversations(ctx context.Context, userID uuid.UUID) ([]models.Conversation, error) {
	convs, err := storage.Query[models.Conversation](ctx, s.store, models.CollectionConversations, storage.QueryOptions{
		Filters: []storage.Filter{storage.ArrayContains("participants", userID)},
	})
	if err != nil {
		slog.Error("FetchConversations failed", "user_id", userID, "error", err)
		return nil, storeError(DomainChat, err)
	}
	for i := range convs {
		if last := convs[i].LastMessage; last != nil {
			if err := s.open(last); err != nil {
				return nil, err
			}
		}
	}
	slices.SortFunc(convs, func(a, b models.Conversation) int {
		return b.UpdatedAt.Compare(a.UpdatedAt)
	})
	return convs, nil
}

// conversation loads a conversation the caller takes part in.
func (s *ChatService) conversation(ctx context.Context, conversationID uuid.UUID) (*models.Conversation, uuid.UUID, error) {
	caller, ok := middleware.CallerID(ctx)
	if !ok {
		return nil, uuid.Nil, ErrChatPermissionDenied
	}
	conv, err := storage.Get[models.Conversation](ctx, s.store, models.CollectionConversations, conversationID.String())
	if err != nil {
		return nil, caller, storeError(DomainChat, err)
	}
	if conv == nil {
		return nil, caller, ErrConversationNotFound
	}
	if !conv.HasParticipant(caller) {
		return nil, caller, ErrChatPermissionDenied
	}
	return conv, caller, nil
}

// SendMessage posts text to a conversation. The message is written with status
// sending, then marked sent together with the conversation's last message.
func (s *ChatService) SendMessage(ctx context.Context, text string, conversationID uuid.UUID) (*models.Message, error) {
	slog.Info("SendMessage request received", "conversation_id", conversationID)

	if models.IsBlank(text) {
		return nil, wrap(ErrSendFailed, errors.New("message text is empty"))
	}
	conv, caller, err := s.conversation(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	msg, err := s.newMessage(conv.ID, caller)
	if err != nil {
		return nil, wrap(ErrSendFailed, err)
	}
	msg.Text = text
	return s.deliver(ctx, msg)
}

// SendMedia uploads data and posts a message referencing it. Upload failures
// are reported as ErrUploadFailed, the message write as ErrSendFailed.
func (s *ChatService) SendMedia(ctx context.Context, data []byte, mediaType models.MediaType, conversationID uuid.UUID) (*models.Message, error) {
	slog.Info("SendMedia request received",
		"conversation_id", conversationID,
		"media_type", mediaType,
		"size", len(data),
	)

	switch mediaType {
	case models.MediaImage, models.MediaVideo, models.MediaAudio:
	default:
		return nil, wrap(ErrUploadFailed, fmt.Errorf("unsupported media type %q", mediaType))
	}
	conv, caller, err := s.conversation(ctx, conversationID)
	if err != nil {
		return nil, err
	}

	url, err := s.uploader.Upload(ctx, data, mediaType)
	if err != nil {
		slog.Error("SendMedia upload failed", "conversation_id", conversationID, "error", err)
		return nil, wrap(ErrUploadFailed, err)
	}

	msg, err := s.newMessage(conv.ID, caller)
	if err != nil {
		return nil, wrap(ErrSendFailed, err)
	}
	msg.MediaURL = url
	msg.MediaType = mediaType
	return s.deliver(ctx, msg)
}

// ShareLocation posts a location pin to a conversation.
func (s *ChatService) ShareLocation(ctx context.Context, loc models.UserLocation, conversationID uuid.UUID) (*models.Message, error) {
	slog.Info("ShareLocation request received", "conversation_id", conversationID)

	conv, caller, err := s.conversation(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	msg, err := s.newMessage(conv.ID, caller)
	if err != nil {
		return nil, wrap(ErrSendFailed, err)
	}
	loc.UserID = caller
	msg.SharedLocation = &loc
	msg.MediaType = models.MediaLocation
	return s.deliver(ctx, msg)
}

func (s *ChatService) newMessage(conversationID, senderID uuid.UUID) (models.Message, error) {
	id, err := s.newID()
	if err != nil {
		return models.Message{}, err
	}
	now := s.now().UTC()
	return models.Message{
		ID:             id,
		ConversationID: conversationID,
		SenderID:       senderID,
		Status:         models.StatusSending,
		CreatedAt:      now,
		UpdatedAt:      now,
	}, nil
}

// deliver persists msg as sending, then flips it to sent and updates the
// conversation in one batch. A failed batch leaves the message marked failed.
func (s *ChatService) deliver(ctx context.Context, msg models.Message) (*models.Message, error) {
	stored := msg
	if err := s.seal(&stored); err != nil {
		return nil, err
	}
	id := msg.ID.String()

	if err := s.store.Set(ctx, models.CollectionMessages, id, stored); err != nil {
		slog.Error("SendMessage write failed", "message_id", id, "error", err)
		return nil, wrap(ErrSendFailed, err)
	}

	stored.Status = models.StatusSent
	setMsg, err := storage.SetOp(models.CollectionMessages, id, stored)
	if err != nil {
		return nil, wrap(ErrSendFailed, err)
	}
	touchConv, err := storage.UpdateOp(models.CollectionConversations, msg.ConversationID.String(), map[string]any{
		"lastMessage": stored,
		"updatedAt":   stored.CreatedAt,
	})
	if err != nil {
		return nil, wrap(ErrSendFailed, err)
	}

	if err := s.store.Batch(ctx, []storage.Mutation{setMsg, touchConv}); err != nil {
		slog.Error("SendMessage commit failed", "message_id", id, "error", err)
		stored.Status = models.StatusFailed
		if markErr := s.store.Set(context.WithoutCancel(ctx), models.CollectionMessages, id, stored); markErr != nil {
			slog.Warn("Failed to mark message failed", "message_id", id, "error", markErr)
		}
		return nil, wrap(ErrSendFailed, err)
	}

	msg.Status = models.StatusSent
	slog.Info("Message sent", "message_id", id, "conversation_id", msg.ConversationID)
	return &msg, nil
}

// EditMessage replaces the text of a message. Only the sender may edit, and
// deleted messages cannot be edited.
func (s *ChatService) EditMessage(ctx context.Context, messageID uuid.UUID, newText string) (*models.Message, error) {
	slog.Info("EditMessage request received", "message_id", messageID)

	if models.IsBlank(newText) {
		return nil, wrap(ErrSendFailed, errors.New("message text is empty"))
	}
	caller, ok := middleware.CallerID(ctx)
	if !ok {
		return nil, ErrChatPermissionDenied
	}

	edited, err := storage.UpdateRelated(ctx, s.store, models.CollectionMessages, messageID.String(),
		func(cur *models.Message) (*models.Message, []storage.Mutation, error) {
			if cur == nil || cur.IsDeleted {
				return nil, nil, ErrMessageNotFound
			}
			if cur.SenderID != caller {
				return nil, nil, ErrChatPermissionDenied
			}
			next := *cur
			next.Text = newText
			next.IsEdited = true
			next.UpdatedAt = s.now().UTC()
			if err := s.seal(&next); err != nil {
				return nil, nil, err
			}
			preview, err := s.syncLastMessage(ctx, &next)
			return &next, preview, err
		})
	if err != nil {
		slog.Error("EditMessage failed", "message_id", messageID, "error", err)
		return nil, storeError(DomainChat, err)
	}
	if err := s.open(edited); err != nil {
		return nil, err
	}
	return edited, nil
}

// DeleteMessage soft-deletes a message: its content is cleared and it keeps
// its place in the history. Only the sender may delete.
func (s *ChatService) DeleteMessage(ctx context.Context, messageID uuid.UUID) error {
	slog.Info("DeleteMessage request received", "message_id", messageID)

	caller, ok := middleware.CallerID(ctx)
	if !ok {
		return ErrChatPermissionDenied
	}
	_, err := storage.UpdateRelated(ctx, s.store, models.CollectionMessages, messageID.String(),
		func(cur *models.Message) (*models.Message, []storage.Mutation, error) {
			if cur == nil {
				return nil, nil, ErrMessageNotFound
			}
			if cur.SenderID != caller {
				return nil, nil, ErrChatPermissionDenied
			}
			if cur.IsDeleted {
				return cur, nil, nil
			}
			next := cur.SoftDeleted(s.now().UTC())
			preview, err := s.syncLastMessage(ctx, &next)
			return &next, preview, err
		})
	if err != nil {
		slog.Error("DeleteMessage failed", "message_id", messageID, "error", err)
		return storeError(DomainChat, err)
	}
	return nil
}

// MarkRead marks a message read. Only participants of the message's
// conversation may mark it, and senders cannot mark their own messages.
func (s *ChatService) MarkRead(ctx context.Context, messageID uuid.UUID) error {
	caller, ok := middleware.CallerID(ctx)
	if !ok {
		return ErrChatPermissionDenied
	}
	_, err := storage.UpdateRelated(ctx, s.store, models.CollectionMessages, messageID.String(),
		func(cur *models.Message) (*models.Message, []storage.Mutation, error) {
			if cur == nil {
				return nil, nil, ErrMessageNotFound
			}
			if _, _, err := s.conversation(ctx, cur.ConversationID); err != nil {
				return nil, nil, err
			}
			if cur.SenderID == caller || cur.Status == models.StatusRead {
				return cur, nil, nil
			}
			next := *cur
			next.Status = models.StatusRead
			preview, err := s.syncLastMessage(ctx, &next)
			return &next, preview, err
		})
	if err != nil {
		return storeError(DomainChat, err)
	}
	return nil
}

// FetchMessages returns the newest limit messages of a conversation in
// ascending creation order.
func (s *ChatService) FetchMessages(ctx context.Context, conversationID uuid.UUID, limit int) ([]models.Message, error) {
	if _, _, err := s.conversation(ctx, conversationID); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = DefaultMessageLimit
	}

	msgs, err := storage.Query[models.Message](ctx, s.store, models.CollectionMessages, storage.QueryOptions{
		Filters:    []storage.Filter{storage.Where("conversationId", conversationID)},
		Limit:      limit,
		Descending: true,
	})
	if err != nil {
		slog.Error("FetchMessages failed", "conversation_id", conversationID, "error", err)
		return nil, storeError(DomainChat, err)
	}
	for i := range msgs {
		if err := s.open(&msgs[i]); err != nil {
			return nil, err
		}
	}
	SortMessages(msgs)
	return msgs, nil
}

// messageHead is the part of a stored message needed to route a change.
// Decoding it skips the body, media and location of unrelated messages.
type messageHead struct {
	ConversationID uuid.UUID `json:"conversationId"`
}

// ListenToMessages streams messages of a conversation as they are written,
// including later edits and deletions of the same message. Consumers merge
// them with a Timeline.
func (s *ChatService) ListenToMessages(ctx context.Context, conversationID uuid.UUID) (<-chan models.Message, error) {
	if _, _, err := s.conversation(ctx, conversationID); err != nil {
		return nil, err
	}

	changes := s.store.Watch(ctx, models.CollectionMessages)
	out := make(chan models.Message)
	go func() {
		defer close(out)
		for c := range changes {
			if c.Kind != storage.ChangePut {
				continue
			}
			var head messageHead
			if err := json.Unmarshal(c.Data, &head); err != nil || head.ConversationID != conversationID {
				continue
			}
			var msg models.Message
			if err := json.Unmarshal(c.Data, &msg); err != nil {
				slog.Warn("ListenToMessages decode failed", "key", c.Key.String(), "error", err)
				continue
			}
			if err := s.open(&msg); err != nil {
				slog.Warn("ListenToMessages open failed", "message_id", msg.ID, "error", err)
				continue
			}
			select {
			case out <- msg:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

// syncLastMessage returns the write that keeps the conversation preview equal
// to stored when stored is the conversation's last message. stored is the
// message as persisted, sealed if sealing is on. The write only applies at the
// conversation version read here; a newer message in between forces a retry.
func (s *ChatService) syncLastMessage(ctx context.Context, stored *models.Message) ([]storage.Mutation, error) {
	doc, err := s.store.Document(ctx, models.CollectionConversations, stored.ConversationID.String())
	if err != nil || doc == nil {
		return nil, err
	}
	var conv models.Conversation
	if err := json.Unmarshal(doc.Data, &conv); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", storage.ErrDecode, doc.Key, err)
	}
	if conv.LastMessage == nil || conv.LastMessage.ID != stored.ID {
		return nil, nil
	}

	preview := *stored
	conv.LastMessage = &preview
	m, err := storage.SetOp(models.CollectionConversations, doc.Key.ID, conv)
	if err != nil {
		return nil, err
	}
	m.MatchVersion = doc.Version
	return []storage.Mutation{m}, nil
}

func (s *ChatService) seal(msg *models.Message) error {
	if s.sealer == nil || msg.Text == "" {
		return nil
	}
	sealed, err := s.sealer.Seal(msg.Text, msg.ConversationID.String())
	if err != nil {
		return wrap(ErrEncryptionFailed, err)
	}
	msg.Text = sealed
	return nil
}

func (s *ChatService) open(msg *models.Message) error {
	if msg.Text == "" || !chatcrypto.IsSealed(msg.Text) {
		return nil
	}
	if s.sealer == nil {
		return wrap(ErrEncryptionFailed, errors.New("no key configured for sealed message"))
	}
	plain, err := s.sealer.Open(msg.Text, msg.ConversationID.String())
	if err != nil {
		return wrap(ErrEncryptionFailed, err)
	}
	msg.Text = plain
	return nil
}

// SortMessages orders messages by creation time, then by ID.
func SortMessages(msgs []models.Message) {
	slices.SortFunc(msgs, func(a, b models.Message) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return cmp.Compare(a.ID.String(), b.ID.String())
	})
}

// Timeline is the consumer-side view of a conversation. It merges fetched
// and live messages, keeping one entry per message ID in ascending order.
type Timeline struct {
	msgs []models.Message
}

// Insert adds msg or replaces the entry with the same ID. It reports whether
// the timeline changed.
func (t *Timeline) Insert(msg models.Message) bool {
	if i := slices.IndexFunc(t.msgs, func(m models.Message) bool { return m.ID == msg.ID }); i >= 0 {
		old := t.msgs[i]
		if msg.UpdatedAt.Before(old.UpdatedAt) {
			return false
		}
		if msg.UpdatedAt.Equal(old.UpdatedAt) && statusRank(msg.Status) <= statusRank(old.Status) {
			return false
		}
		t.msgs[i] = msg
		return true
	}
	t.msgs = append(t.msgs, msg)
	SortMessages(t.msgs)
	return true
}

// statusRank orders delivery states so a late "sending" copy never replaces "sent".
func statusRank(st models.MessageStatus) int {
	switch st {
	case models.StatusFailed:
		return 1
	case models.StatusSent:
		return 2
	case models.StatusDelivered:
		return 3
	case models.StatusRead:
		return 4
	default:
		return 0
	}
}

// Merge inserts every message of msgs.
func (t *Timeline) Merge(msgs []models.Message) {
	for _, m := range msgs {
		t.Insert(m)
	}
}

// Messages returns a copy of the timeline in ascending order.
func (t *Timeline) Messages() []models.Message {
	return slices.Clone(t.msgs)
}

func (t *Timeline) Len() int { return len(t.msgs) }
