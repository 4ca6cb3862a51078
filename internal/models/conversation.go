package models

import (
	"errors"
	"slices"
	"time"

	"github.com/google/uuid"
)

// ErrInvalidConversation is returned by Conversation.Validate.
var ErrInvalidConversation = errors.New("invalid conversation")

// Conversation groups the messages exchanged between a set of participants.
type Conversation struct {
	ID uuid.UUID `json:"id"`

	// Participants are the users allowed to read and post. Never empty.
	Participants []uuid.UUID `json:"participants"`

	// LastMessage is a copy of the most recent message, for conversation lists.
	LastMessage *Message `json:"lastMessage,omitempty"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

func (c Conversation) Validate() error {
	if len(c.Participants) == 0 {
		return errors.Join(ErrInvalidConversation, errors.New("participants are required"))
	}
	return nil
}

func (c Conversation) HasParticipant(userID uuid.UUID) bool {
	return slices.Contains(c.Participants, userID)
}
