package models

import (
	"time"

	"github.com/google/uuid"
)

// MessageStatus tracks delivery of a message.
type MessageStatus string

const (
	StatusSending   MessageStatus = "sending"
	StatusSent      MessageStatus = "sent"
	StatusDelivered MessageStatus = "delivered"
	StatusRead      MessageStatus = "read"
	StatusFailed    MessageStatus = "failed"
)

// MediaType tags the payload referenced by Message.MediaURL.
type MediaType string

const (
	MediaImage    MediaType = "image"
	MediaVideo    MediaType = "video"
	MediaAudio    MediaType = "audio"
	MediaLocation MediaType = "location"
)

// Label is the text shown in place of a media payload.
func (t MediaType) Label() string {
	switch t {
	case MediaImage:
		return "📷 Photo"
	case MediaVideo:
		return "🎥 Video"
	case MediaAudio:
		return "🎤 Voice message"
	case MediaLocation:
		return "📍 Location"
	default:
		return "Attachment"
	}
}

// ContentType returns the MIME type used when uploading a payload of this kind.
func (t MediaType) ContentType() string {
	switch t {
	case MediaImage:
		return "image/jpeg"
	case MediaVideo:
		return "video/mp4"
	case MediaAudio:
		return "audio/m4a"
	default:
		return "application/octet-stream"
	}
}

// ContentKind characterizes what a message carries.
type ContentKind int

const (
	ContentNone ContentKind = iota
	ContentText
	ContentMedia
	ContentLocation
)

// DeletedMessageText replaces the content of soft-deleted messages.
const DeletedMessageText = "This message was deleted"

// Message is a single chat message.
//
// Deleting a message is a soft delete: IsDeleted is set and the content fields
// are cleared so the message keeps its position and timestamp in history.
type Message struct {
	// ID is a time-ordered (version 7) UUID, so ID order follows send order.
	ID uuid.UUID `json:"id"`

	ConversationID uuid.UUID `json:"conversationId"`
	SenderID       uuid.UUID `json:"senderId"`

	Text           string        `json:"text,omitempty"`
	MediaURL       string        `json:"mediaURL,omitempty"`
	MediaType      MediaType     `json:"mediaType,omitempty"`
	SharedLocation *UserLocation `json:"sharedLocation,omitempty"`

	Status    MessageStatus `json:"status"`
	IsEdited  bool          `json:"isEdited"`
	IsDeleted bool          `json:"isDeleted"`
	ReplyToID *uuid.UUID    `json:"replyToId,omitempty"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

func (m Message) HasMedia() bool    { return m.MediaURL != "" && m.MediaType != "" }
func (m Message) HasLocation() bool { return m.SharedLocation != nil }
func (m Message) IsReply() bool     { return m.ReplyToID != nil }

// Kind returns the single kind of content the message carries.
// Media wins over a caption, a shared location wins over text.
func (m Message) Kind() ContentKind {
	switch {
	case m.IsDeleted:
		return ContentNone
	case m.HasMedia():
		return ContentMedia
	case m.HasLocation():
		return ContentLocation
	case m.Text != "":
		return ContentText
	default:
		return ContentNone
	}
}

// DisplayText is the text rendered for the message in a conversation.
func (m Message) DisplayText() string {
	if m.IsDeleted {
		return DeletedMessageText
	}
	if m.Text != "" {
		return m.Text
	}
	if m.HasMedia() {
		return m.MediaType.Label()
	}
	if m.HasLocation() {
		return MediaLocation.Label()
	}
	return ""
}

// SoftDeleted returns a copy marked deleted with its content cleared.
func (m Message) SoftDeleted(now time.Time) Message {
	m.IsDeleted = true
	m.Text = ""
	m.MediaURL = ""
	m.MediaType = ""
	m.SharedLocation = nil
	m.UpdatedAt = now
	return m
}
