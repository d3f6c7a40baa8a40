package assistant

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/kaptinlin/jsonrepair"
	"github.com/santhosh-tekuri/jsonschema/v5"
)

// ErrMalformedReply is returned when model output cannot be repaired into a
// reply matching replySchema. Such output never reaches the context store.
var ErrMalformedReply = errors.New("assistant: malformed model reply")

const replySchema = `{
	"$schema": "http://json-schema.org/draft-07/schema#",
	"type": "object",
	"required": ["reply"],
	"properties": {
		"reply": {"type": "string", "minLength": 1},
		"suggested_tools": {
			"type": "array",
			"items": {"type": "string", "pattern": "^[a-z0-9_]+$"},
			"maxItems": 10
		},
		"confidence": {"type": "number", "minimum": 0, "maximum": 1}
	}
}`

var compiledReplySchema = jsonschema.MustCompileString("reply.json", replySchema)

// Reply is a validated model answer.
type Reply struct {
	Text           string   `json:"reply"`
	SuggestedTools []string `json:"suggested_tools,omitempty"`
	Confidence     float64  `json:"confidence,omitempty"`
}

// ParseReply repairs raw model text, validates it and decodes it into a Reply.
func ParseReply(raw string) (Reply, error) {
	text := stripCodeFence(raw)
	if text == "" {
		return Reply{}, fmt.Errorf("%w: empty output", ErrMalformedReply)
	}

	repaired, err := jsonrepair.JSONRepair(text)
	if err != nil {
		return Reply{}, fmt.Errorf("%w: %v", ErrMalformedReply, err)
	}

	dec := json.NewDecoder(strings.NewReader(repaired))
	dec.UseNumber()
	var doc any
	if err := dec.Decode(&doc); err != nil {
		return Reply{}, fmt.Errorf("%w: %v", ErrMalformedReply, err)
	}
	if err := compiledReplySchema.Validate(doc); err != nil {
		return Reply{}, fmt.Errorf("%w: %v", ErrMalformedReply, err)
	}

	var reply Reply
	if err := json.Unmarshal([]byte(repaired), &reply); err != nil {
		return Reply{}, fmt.Errorf("%w: %v", ErrMalformedReply, err)
	}
	reply.Text = strings.TrimSpace(reply.Text)
	if reply.Text == "" {
		return Reply{}, fmt.Errorf("%w: blank reply", ErrMalformedReply)
	}
	return reply, nil
}

// stripCodeFence removes a surrounding ```json fence some models emit even
// when asked for raw JSON.
func stripCodeFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[i+1:]
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}
