// Package usage keeps a bounded history of tool invocations for one session.
package usage

import (
	"cmp"
	"errors"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/ashureev/shsh-guard/internal/convo"
)

// DefaultCapacity is how many entries a Tracker keeps before evicting the oldest.
const DefaultCapacity = 50

// MinSamples is the fewest uses a tool needs before it shows up in insights.
const MinSamples = 3

// ErrEmptyTool is returned when Record is called without a tool key.
var ErrEmptyTool = errors.New("usage: empty tool key")

// Entry is one recorded invocation.
type Entry struct {
	Tool       string    `json:"tool"`
	Successful bool      `json:"successful"`
	Timestamp  time.Time `json:"timestamp"`
}

// Insight is the aggregate outcome of one tool over the retained history.
type Insight struct {
	Tool        string  `json:"tool"`
	Uses        int     `json:"uses"`
	Successes   int     `json:"successes"`
	SuccessRate float64 `json:"success_rate"`
}

// Sink receives every recorded use. *convo.Store implements it, so recorded
// outcomes reach the prior-success factor and the journey family.
type Sink interface {
	RecordToolUse(tool string, successful bool) convo.ToolUse
}

// Tracker is a fixed-size FIFO of tool uses. When full, the oldest entry is
// overwritten.
type Tracker struct {
	buf  []Entry
	head int // next write position
	full bool
	sink Sink
	mu   sync.RWMutex
}

// NewTracker creates a tracker writing through to sink, which may be nil.
// A non-positive capacity selects DefaultCapacity.
func NewTracker(sink Sink, capacity int) *Tracker {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Tracker{
		buf:  make([]Entry, capacity),
		sink: sink,
	}
}

// FromContext rebuilds a tracker from the tool uses persisted in c, keeping
// only the most recent entries that fit. Seeding does not write to sink.
func FromContext(sink Sink, c convo.ConversationContext, capacity int) *Tracker {
	t := NewTracker(sink, capacity)
	for _, u := range c.Session.ToolsUsed {
		t.push(Entry{Tool: u.Tool, Successful: u.Successful, Timestamp: u.Timestamp})
	}
	return t
}

// Record appends an outcome and forwards it to the sink.
func (t *Tracker) Record(tool string, successful bool) (Entry, error) {
	tool = strings.TrimSpace(tool)
	if tool == "" {
		return Entry{}, ErrEmptyTool
	}

	e := Entry{Tool: tool, Successful: successful}
	if t.sink != nil {
		e.Timestamp = t.sink.RecordToolUse(tool, successful).Timestamp
	} else {
		e.Timestamp = time.Now().UTC()
	}

	t.mu.Lock()
	t.push(e)
	t.mu.Unlock()
	return e, nil
}

func (t *Tracker) push(e Entry) {
	t.buf[t.head] = e
	t.head = (t.head + 1) % len(t.buf)
	if t.head == 0 {
		t.full = true
	}
}

// Len returns the number of retained entries.
func (t *Tracker) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.full {
		return len(t.buf)
	}
	return t.head
}

// Cap returns the maximum number of retained entries.
func (t *Tracker) Cap() int {
	return len(t.buf)
}

// History returns the retained entries, oldest first.
func (t *Tracker) History() []Entry {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if !t.full {
		return slices.Clone(t.buf[:t.head])
	}
	// Wrapped: head -> end, then start -> head.
	out := make([]Entry, 0, len(t.buf))
	out = append(out, t.buf[t.head:]...)
	return append(out, t.buf[:t.head]...)
}

// LearningInsights aggregates success rates for tools with at least
// MinSamples retained uses, highest rate first. Ties sort by tool key.
// It is descriptive only and never feeds back into scoring.
func (t *Tracker) LearningInsights() []Insight {
	counts := make(map[string]*Insight)
	for _, e := range t.History() {
		in, ok := counts[e.Tool]
		if !ok {
			in = &Insight{Tool: e.Tool}
			counts[e.Tool] = in
		}
		in.Uses++
		if e.Successful {
			in.Successes++
		}
	}

	out := make([]Insight, 0, len(counts))
	for _, in := range counts {
		if in.Uses < MinSamples {
			continue
		}
		in.SuccessRate = float64(in.Successes) / float64(in.Uses)
		out = append(out, *in)
	}
	slices.SortFunc(out, func(a, b Insight) int {
		if c := cmp.Compare(b.SuccessRate, a.SuccessRate); c != 0 {
			return c
		}
		return cmp.Compare(a.Tool, b.Tool)
	})
	return out
}
