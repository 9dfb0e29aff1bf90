package nlu

import (
	"context"
	"testing"

	"github.com/nrudakov/tellerbot/internal/domain"
)

func TestParseIntent(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		out  string
		want domain.Intent
	}{
		{"exact label", "INTENT: account_balance", domain.IntentAccountBalance},
		{"lowercase label", "intent: account_balance", domain.IntentAccountBalance},
		{"label with chatter", "Sure. INTENT: account_balance\nHope that helps.", domain.IntentAccountBalance},
		{"other label", "INTENT: other", domain.IntentOther},
		{"missing label", "the user wants their balance", domain.IntentOther},
		{"empty output", "", domain.IntentOther},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := parseIntent(tt.out); got != tt.want {
				t.Fatalf("parseIntent(%q) = %q, want %q", tt.out, got, tt.want)
			}
		})
	}
}

func TestParseEvasion(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		out  string
		want bool
	}{
		{"changing topic", "CHANGING_TOPIC", true},
		{"lowercase verdict", "changing_topic", true},
		{"verdict with chatter", "The user is CHANGING_TOPIC here.", true},
		{"answering", "ANSWERING", false},
		{"unclear output defaults to answering", "hmm, hard to say", false},
		{"empty output", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := parseEvasion(tt.out); got != tt.want {
				t.Fatalf("parseEvasion(%q) = %v, want %v", tt.out, got, tt.want)
			}
		})
	}
}

func TestNewGeminiRequiresAPIKey(t *testing.T) {
	t.Parallel()

	if _, err := NewGemini(context.Background(), GeminiConfig{}, nil); err == nil {
		t.Fatal("expected error for missing API key")
	}
}
