package domain

import (
	"testing"
)

func TestNewConversationInitialState(t *testing.T) {
	t.Parallel()

	conv := NewConversation("user-1", "sess-1")
	if conv.State != StateIntentDetection {
		t.Fatalf("expected initial state %q, got %q", StateIntentDetection, conv.State)
	}
	if conv.AuthAttempts != 0 || conv.ChallengeStage != 0 {
		t.Fatalf("expected zeroed counters, got attempts=%d stage=%d", conv.AuthAttempts, conv.ChallengeStage)
	}
	if conv.Authenticated {
		t.Fatal("new conversation must not be authenticated")
	}
	if conv.CreatedAt.IsZero() || conv.UpdatedAt.IsZero() {
		t.Fatal("expected timestamps to be set")
	}
}

func TestTranscriptAppend(t *testing.T) {
	t.Parallel()

	conv := NewConversation("user-1", "sess-1")
	conv.AppendUser("hello")
	conv.AppendAssistant("hi there")

	if len(conv.Transcript) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(conv.Transcript))
	}
	if conv.Transcript[0].Role != RoleUser || conv.Transcript[0].Text != "hello" {
		t.Fatalf("unexpected first entry: %+v", conv.Transcript[0])
	}
	if conv.Transcript[1].Role != RoleAssistant || conv.Transcript[1].Text != "hi there" {
		t.Fatalf("unexpected second entry: %+v", conv.Transcript[1])
	}
}

func TestSessionStateValid(t *testing.T) {
	t.Parallel()

	for _, s := range []SessionState{StateIntentDetection, StateAuthentication, StateSuccess, StateTerminal} {
		if !s.Valid() {
			t.Fatalf("expected %q to be valid", s)
		}
	}
	for _, s := range []SessionState{"", "locked", "SUCCESS"} {
		if s.Valid() {
			t.Fatalf("expected %q to be invalid", s)
		}
	}
}

func TestTerminal(t *testing.T) {
	t.Parallel()

	conv := NewConversation("user-1", "sess-1")
	if conv.Terminal() {
		t.Fatal("new conversation must not be terminal")
	}
	conv.State = StateTerminal
	if !conv.Terminal() {
		t.Fatal("expected terminal conversation")
	}
}
