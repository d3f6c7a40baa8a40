package domain

import (
	"time"
)

// Transcript is the bounded message history of a session, newest last.
type Transcript struct {
	Messages []StoredMessage
	Limit    int
}

// Append adds a message and drops the oldest ones beyond Limit.
func (t *Transcript) Append(role, content string, at time.Time) {
	t.Messages = append(t.Messages, StoredMessage{Role: role, Content: content, At: at})
	if t.Limit > 0 && len(t.Messages) > t.Limit {
		t.Messages = append([]StoredMessage(nil), t.Messages[len(t.Messages)-t.Limit:]...)
	}
}

// Recent returns the last n messages.
func (t *Transcript) Recent(n int) []StoredMessage {
	if n >= len(t.Messages) {
		return t.Messages
	}
	return t.Messages[len(t.Messages)-n:]
}
