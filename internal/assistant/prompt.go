package assistant

import (
	"strings"

	"github.com/ashureev/shsh-guard/internal/analyzer"
	"github.com/ashureev/shsh-guard/internal/convo"
	"github.com/ashureev/shsh-guard/internal/domain"
	"github.com/ashureev/shsh-guard/internal/toolregistry"
)

const systemPreamble = `You are a calm, practical personal security assistant.
Answer the user's latest message in plain language matched to their technical level.
Respond with a single JSON object: {"reply": string, "suggested_tools": [tool keys], "confidence": number between 0 and 1}.
Only suggest tool keys from the catalogue below. Suggest none if nothing fits.`

// BuildPrompt assembles the model request from the context summary and the
// last window messages of the transcript.
func BuildPrompt(summary convo.Summary, reg *toolregistry.Registry, history []domain.StoredMessage, window int) ModelRequest {
	var sys strings.Builder
	sys.WriteString(systemPreamble)
	sys.WriteString("\n\nTool catalogue:\n")
	for _, t := range reg.All() {
		sys.WriteString("- ")
		sys.WriteString(t.Key)
		sys.WriteString(": ")
		sys.WriteString(t.DisplayName)
		sys.WriteString("\n")
	}
	if s := summary.String(); s != "" {
		sys.WriteString("\nWhat we know so far:\n")
		sys.WriteString(s)
	}

	if window > 0 && len(history) > window {
		history = history[len(history)-window:]
	}
	msgs := make([]ModelMessage, 0, len(history))
	for _, m := range history {
		role := analyzer.NormalizeRole(m.Role)
		if role == analyzer.RoleSystem {
			continue
		}
		msgs = append(msgs, ModelMessage{Role: string(role), Content: m.Content})
	}

	return ModelRequest{System: sys.String(), Messages: msgs}
}
