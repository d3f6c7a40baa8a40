package assistant

import (
	"context"
	"errors"
	"testing"
)

func TestNewGenAIClientWithoutKey(t *testing.T) {
	t.Parallel()

	client, err := NewGenAIClient(context.Background(), "", "")
	if !errors.Is(err, ErrModelDisabled) || client != nil {
		t.Errorf("NewGenAIClient(no key) = %v, %v; want nil, ErrModelDisabled", client, err)
	}
}

func TestGenAIRole(t *testing.T) {
	t.Parallel()

	tests := map[string]string{
		"user":      "user",
		"assistant": "model",
	}
	for in, want := range tests {
		if got := string(genaiRole(in)); got != want {
			t.Errorf("genaiRole(%q) = %q, want %q", in, got, want)
		}
	}
}
