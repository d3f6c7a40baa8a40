package domain

import (
	"encoding/json"
	"time"
)

// Conversation is the persisted state of one assistant session.
type Conversation struct {
	UserID       string
	SessionID    string
	ContextJSON  string // versioned context snapshot
	MessagesJSON string // []StoredMessage
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// StoredMessage is a serialized chat message entry.
type StoredMessage struct {
	Role    string    `json:"role"`
	Content string    `json:"content"`
	At      time.Time `json:"at,omitempty"`
}

// DecodeMessages parses MessagesJSON. An empty column decodes to nil.
func (c *Conversation) DecodeMessages() ([]StoredMessage, error) {
	if c.MessagesJSON == "" {
		return nil, nil
	}
	var msgs []StoredMessage
	if err := json.Unmarshal([]byte(c.MessagesJSON), &msgs); err != nil {
		return nil, err
	}
	return msgs, nil
}

// EncodeMessages stores msgs into MessagesJSON.
func (c *Conversation) EncodeMessages(msgs []StoredMessage) error {
	if len(msgs) == 0 {
		c.MessagesJSON = "[]"
		return nil
	}
	data, err := json.Marshal(msgs)
	if err != nil {
		return err
	}
	c.MessagesJSON = string(data)
	return nil
}
