package convo

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
)

// SnapshotVersion is the current persisted layout version.
const SnapshotVersion = 1

var (
	// ErrMalformedSnapshot is returned when a persisted blob cannot be decoded.
	ErrMalformedSnapshot = errors.New("malformed context snapshot")
	// ErrUnsupportedVersion is returned for blobs written by an unknown layout.
	ErrUnsupportedVersion = errors.New("unsupported context snapshot version")
)

type snapshotEnvelope struct {
	Version int                  `json:"version"`
	Context *ConversationContext `json:"context"`
}

// MarshalSnapshot serializes the full context into a versioned JSON blob.
func (s *Store) MarshalSnapshot() ([]byte, error) {
	c := s.Snapshot()
	data, err := json.Marshal(snapshotEnvelope{Version: SnapshotVersion, Context: &c})
	if err != nil {
		return nil, fmt.Errorf("marshal context snapshot: %w", err)
	}
	return data, nil
}

// UnmarshalSnapshot decodes a blob produced by MarshalSnapshot.
func UnmarshalSnapshot(data []byte) (ConversationContext, error) {
	var env snapshotEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return ConversationContext{}, fmt.Errorf("%w: %v", ErrMalformedSnapshot, err)
	}
	if env.Version != SnapshotVersion {
		return ConversationContext{}, fmt.Errorf("%w: %d", ErrUnsupportedVersion, env.Version)
	}
	if env.Context == nil {
		return ConversationContext{}, fmt.Errorf("%w: missing context", ErrMalformedSnapshot)
	}
	return *env.Context, nil
}

// RestoreSnapshot builds a Store from a persisted blob.
func RestoreSnapshot(data []byte, opts ...Option) (*Store, error) {
	c, err := UnmarshalSnapshot(data)
	if err != nil {
		return nil, err
	}
	c.fillDefaults()
	return NewStoreFrom(c, opts...), nil
}

// RestoreOrDefault restores a Store from data, falling back to a fresh context
// when data is empty or unreadable. It never fails.
func RestoreOrDefault(data []byte, logger *slog.Logger, opts ...Option) *Store {
	if len(data) == 0 {
		return NewStore(opts...)
	}
	s, err := RestoreSnapshot(data, opts...)
	if err != nil {
		if logger == nil {
			logger = slog.Default()
		}
		logger.Warn("discarding unreadable context snapshot", "error", err, "bytes", len(data))
		return NewStore(opts...)
	}
	return s
}

// fillDefaults replaces empty enum fields left by older or hand-edited blobs.
func (c *ConversationContext) fillDefaults() {
	if c.UserProfile.TechLevel == "" {
		c.UserProfile.TechLevel = TechUnknown
	}
	if c.UserProfile.RiskTolerance == "" {
		c.UserProfile.RiskTolerance = ToleranceUnknown
	}
	if c.UserProfile.CommunicationStyle == "" {
		c.UserProfile.CommunicationStyle = StyleUnknown
	}
	if c.ConversationFlow.Mood == "" {
		c.ConversationFlow.Mood = MoodNeutral
	}
	if c.ConversationFlow.Stage == "" {
		c.ConversationFlow.Stage = StageInitial
	}
	for i := range c.SecurityState.KnownCompromised {
		if c.SecurityState.KnownCompromised[i].Status == "" {
			c.SecurityState.KnownCompromised[i].Status = StatusCompromised
		}
	}
}
