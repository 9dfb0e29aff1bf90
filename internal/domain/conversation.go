// Package domain contains core domain types for the tellerbot assistant.
package domain

import (
	"time"
)

// SessionState identifies where a conversation is in the assistant flow.
type SessionState string

const (
	// StateIntentDetection is the initial state, awaiting the first user utterance.
	StateIntentDetection SessionState = "intent_detection"
	// StateAuthentication means one or more security challenges are outstanding.
	StateAuthentication SessionState = "authentication"
	// StateSuccess means the caller is authenticated and disclosure is permitted.
	StateSuccess SessionState = "success"
	// StateTerminal means the session is permanently closed. No transition
	// ever leaves this state.
	StateTerminal SessionState = "terminal"
)

// Valid reports whether s is one of the known session states.
func (s SessionState) Valid() bool {
	switch s {
	case StateIntentDetection, StateAuthentication, StateSuccess, StateTerminal:
		return true
	}
	return false
}

// Intent is the coarse label produced by the intent classifier.
type Intent string

const (
	// IntentAccountBalance covers balance and account-detail inquiries.
	IntentAccountBalance Intent = "account_balance"
	// IntentOther covers everything the assistant refuses to handle.
	IntentOther Intent = "other"
)

// Transcript roles.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// TranscriptEntry is a single line of the conversation audit log.
type TranscriptEntry struct {
	Role string `json:"role"`
	Text string `json:"text"`
}

// Conversation holds the mutable per-session state of one assistant
// conversation. A Conversation is owned by exactly one session; callers
// must serialize access (one message in, one reply out).
type Conversation struct {
	UserID         string
	SessionID      string
	State          SessionState
	AuthAttempts   int
	ChallengeStage int
	Authenticated  bool
	Intent         Intent
	Transcript     []TranscriptEntry
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// NewConversation creates a conversation in its initial state.
func NewConversation(userID, sessionID string) *Conversation {
	now := time.Now()
	return &Conversation{
		UserID:    userID,
		SessionID: sessionID,
		State:     StateIntentDetection,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// AppendUser records a user utterance. The transcript is append-only;
// entries are never rewritten or removed.
func (c *Conversation) AppendUser(text string) {
	c.Transcript = append(c.Transcript, TranscriptEntry{Role: RoleUser, Text: text})
}

// AppendAssistant records an assistant reply.
func (c *Conversation) AppendAssistant(text string) {
	c.Transcript = append(c.Transcript, TranscriptEntry{Role: RoleAssistant, Text: text})
}

// Terminal reports whether the session is permanently closed.
func (c *Conversation) Terminal() bool {
	return c.State == StateTerminal
}
