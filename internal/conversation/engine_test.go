package conversation

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/nrudakov/tellerbot/internal/challenge"
	"github.com/nrudakov/tellerbot/internal/domain"
)

type fakeClassifier struct {
	intent domain.Intent
	err    error
	calls  int
}

func (f *fakeClassifier) Classify(_ context.Context, _ string) (domain.Intent, error) {
	f.calls++
	if f.err != nil {
		return "", f.err
	}
	return f.intent, nil
}

type fakeGuard struct {
	evading bool
	err     error
	calls   int
}

func (f *fakeGuard) IsEvadingChallenge(_ context.Context, _, _ string) (bool, error) {
	f.calls++
	if f.err != nil {
		return false, f.err
	}
	return f.evading, nil
}

func newTestEngine(classifier *fakeClassifier, guard *fakeGuard) *Engine {
	return NewEngine(classifier, guard, challenge.DefaultBank(), Config{}, nil)
}

func process(t *testing.T, e *Engine, conv *domain.Conversation, text string) string {
	t.Helper()
	reply, err := e.ProcessMessage(context.Background(), conv, text)
	if err != nil {
		t.Fatalf("ProcessMessage(%q) failed: %v", text, err)
	}
	return reply
}

func TestBalanceInquiryHappyPath(t *testing.T) {
	t.Parallel()

	engine := newTestEngine(&fakeClassifier{intent: domain.IntentAccountBalance}, &fakeGuard{})
	conv := domain.NewConversation("user-1", "sess-1")

	reply := process(t, engine, conv, "What is my balance?")
	if !strings.Contains(reply, "Let me verify your identity first.") {
		t.Fatalf("expected verification lead-in, got %q", reply)
	}
	if !strings.Contains(reply, "What is 20 + 20?") {
		t.Fatalf("expected first security question, got %q", reply)
	}
	if conv.State != domain.StateAuthentication {
		t.Fatalf("expected authentication state, got %q", conv.State)
	}

	reply = process(t, engine, conv, "40")
	if reply != "Correct! Next question: What is 10 + 10?" {
		t.Fatalf("unexpected second-stage reply: %q", reply)
	}
	if conv.ChallengeStage != 1 {
		t.Fatalf("expected stage 1, got %d", conv.ChallengeStage)
	}
	if conv.AuthAttempts != 0 {
		t.Fatalf("expected attempts reset on stage advance, got %d", conv.AuthAttempts)
	}

	reply = process(t, engine, conv, "20")
	if !strings.Contains(reply, "Your current balance is $1,234.56.") {
		t.Fatalf("expected balance disclosure, got %q", reply)
	}
	if conv.State != domain.StateSuccess {
		t.Fatalf("expected success state, got %q", conv.State)
	}
	if !conv.Authenticated {
		t.Fatal("expected conversation to be authenticated")
	}
}

func TestNonBalanceIntentIsRefused(t *testing.T) {
	t.Parallel()

	engine := newTestEngine(&fakeClassifier{intent: domain.IntentOther}, &fakeGuard{})
	conv := domain.NewConversation("user-1", "sess-1")

	reply := process(t, engine, conv, "Transfer $500 to my friend")
	if reply != "I'm sorry, I can only help with account balance inquiries at this time." {
		t.Fatalf("unexpected refusal text: %q", reply)
	}
	if conv.State != domain.StateTerminal {
		t.Fatalf("expected terminal state, got %q", conv.State)
	}
	if conv.Authenticated {
		t.Fatal("refused session must not be authenticated")
	}
}

func TestWrongAnswersLockOutAfterThreeAttempts(t *testing.T) {
	t.Parallel()

	engine := newTestEngine(&fakeClassifier{intent: domain.IntentAccountBalance}, &fakeGuard{})
	conv := domain.NewConversation("user-1", "sess-1")
	process(t, engine, conv, "check my balance")

	reply := process(t, engine, conv, "39")
	want := "That's incorrect. What is 20 + 20? (Attempt 2/3)"
	if reply != want {
		t.Fatalf("first failure reply = %q, want %q", reply, want)
	}
	if conv.State != domain.StateAuthentication {
		t.Fatalf("expected authentication state after first failure, got %q", conv.State)
	}

	reply = process(t, engine, conv, "41")
	want = "That's incorrect. What is 20 + 20? (Attempt 3/3)"
	if reply != want {
		t.Fatalf("second failure reply = %q, want %q", reply, want)
	}

	reply = process(t, engine, conv, "42")
	if reply != "Maximum authentication attempts exceeded. This session has ended for security reasons." {
		t.Fatalf("unexpected lockout reply: %q", reply)
	}
	if conv.State != domain.StateTerminal {
		t.Fatalf("expected terminal state after lockout, got %q", conv.State)
	}
	if conv.Authenticated {
		t.Fatal("locked-out session must not be authenticated")
	}
}

func TestEvasionCountsAgainstAttemptBudget(t *testing.T) {
	t.Parallel()

	guard := &fakeGuard{evading: true}
	engine := newTestEngine(&fakeClassifier{intent: domain.IntentAccountBalance}, guard)
	conv := domain.NewConversation("user-1", "sess-1")
	process(t, engine, conv, "check my balance")

	reply := process(t, engine, conv, "What's the weather like?")
	want := "Please complete the authentication process first. What is 20 + 20? (Attempt 2/3)"
	if reply != want {
		t.Fatalf("evasion reply = %q, want %q", reply, want)
	}
	if conv.AuthAttempts != 1 {
		t.Fatalf("expected 1 booked attempt, got %d", conv.AuthAttempts)
	}

	process(t, engine, conv, "Tell me a joke")
	reply = process(t, engine, conv, "Who won the game?")
	if reply != "Maximum authentication attempts exceeded. This session has ended for security reasons." {
		t.Fatalf("expected lockout after three evasions, got %q", reply)
	}
	if conv.State != domain.StateTerminal {
		t.Fatalf("expected terminal state, got %q", conv.State)
	}
}

func TestEvasiveCorrectLookingAnswerIsNotScored(t *testing.T) {
	t.Parallel()

	// The guard verdict takes precedence: even the literal expected answer
	// is booked as an evasion when the guard flags the utterance.
	guard := &fakeGuard{evading: true}
	engine := newTestEngine(&fakeClassifier{intent: domain.IntentAccountBalance}, guard)
	conv := domain.NewConversation("user-1", "sess-1")
	process(t, engine, conv, "check my balance")

	reply := process(t, engine, conv, "40")
	if !strings.HasPrefix(reply, "Please complete the authentication process first.") {
		t.Fatalf("expected evasion reply, got %q", reply)
	}
	if conv.ChallengeStage != 0 {
		t.Fatalf("stage must not advance on an evasive turn, got %d", conv.ChallengeStage)
	}
}

func TestAttemptsResetWhenStageAdvances(t *testing.T) {
	t.Parallel()

	engine := newTestEngine(&fakeClassifier{intent: domain.IntentAccountBalance}, &fakeGuard{})
	conv := domain.NewConversation("user-1", "sess-1")
	process(t, engine, conv, "check my balance")

	process(t, engine, conv, "nope")
	process(t, engine, conv, "still nope")
	if conv.AuthAttempts != 2 {
		t.Fatalf("expected 2 attempts before advancing, got %d", conv.AuthAttempts)
	}

	process(t, engine, conv, "40")
	if conv.AuthAttempts != 0 {
		t.Fatalf("expected attempt counter reset on stage advance, got %d", conv.AuthAttempts)
	}

	// The fresh budget covers the second stage in full.
	process(t, engine, conv, "wrong")
	process(t, engine, conv, "wrong again")
	reply := process(t, engine, conv, "20")
	if !strings.Contains(reply, "Your current balance is") {
		t.Fatalf("expected disclosure after fresh budget, got %q", reply)
	}
}

func TestAnswerMatchingIsLenientOnCaseAndSpace(t *testing.T) {
	t.Parallel()

	engine := newTestEngine(&fakeClassifier{intent: domain.IntentAccountBalance}, &fakeGuard{})
	conv := domain.NewConversation("user-1", "sess-1")
	process(t, engine, conv, "check my balance")

	reply := process(t, engine, conv, "  40  ")
	if !strings.HasPrefix(reply, "Correct!") {
		t.Fatalf("expected whitespace-padded answer to match, got %q", reply)
	}
}

func TestTerminalStateIsAbsorbing(t *testing.T) {
	t.Parallel()

	classifier := &fakeClassifier{intent: domain.IntentOther}
	guard := &fakeGuard{}
	engine := newTestEngine(classifier, guard)
	conv := domain.NewConversation("user-1", "sess-1")

	process(t, engine, conv, "transfer money")
	if conv.State != domain.StateTerminal {
		t.Fatalf("expected terminal state, got %q", conv.State)
	}

	classifierCalls := classifier.calls
	for _, text := range []string{"hello?", "what is my balance", "40"} {
		reply := process(t, engine, conv, text)
		if reply != "This conversation has ended. Please start a new session." {
			t.Fatalf("unexpected terminal reply: %q", reply)
		}
		if conv.State != domain.StateTerminal {
			t.Fatalf("terminal state must not change, got %q", conv.State)
		}
	}
	if classifier.calls != classifierCalls {
		t.Fatal("terminal turns must not reach the classifier")
	}
	if guard.calls != 0 {
		t.Fatal("terminal turns must not reach the topic guard")
	}
}

func TestSuccessStateRepliesWithoutCollaborators(t *testing.T) {
	t.Parallel()

	classifier := &fakeClassifier{intent: domain.IntentAccountBalance}
	guard := &fakeGuard{}
	engine := newTestEngine(classifier, guard)
	conv := domain.NewConversation("user-1", "sess-1")

	process(t, engine, conv, "check my balance")
	process(t, engine, conv, "40")
	process(t, engine, conv, "20")

	classifierCalls := classifier.calls
	guardCalls := guard.calls
	reply := process(t, engine, conv, "thanks!")
	if reply != "You have successfully accessed your account information. Is there anything else I can help you with?" {
		t.Fatalf("unexpected success-state reply: %q", reply)
	}
	if conv.State != domain.StateSuccess {
		t.Fatalf("success state must persist, got %q", conv.State)
	}
	if classifier.calls != classifierCalls || guard.calls != guardCalls {
		t.Fatal("success-state turns must not reach the collaborators")
	}
}

func TestClassifierErrorLeavesStateUntouched(t *testing.T) {
	t.Parallel()

	wantErr := errors.New("upstream down")
	engine := newTestEngine(&fakeClassifier{err: wantErr}, &fakeGuard{})
	conv := domain.NewConversation("user-1", "sess-1")

	_, err := engine.ProcessMessage(context.Background(), conv, "check my balance")
	if !errors.Is(err, wantErr) {
		t.Fatalf("expected wrapped classifier error, got %v", err)
	}
	if conv.State != domain.StateIntentDetection {
		t.Fatalf("state must not change on collaborator failure, got %q", conv.State)
	}
	if len(conv.Transcript) != 1 || conv.Transcript[0].Role != domain.RoleUser {
		t.Fatalf("expected only the user utterance in the transcript, got %+v", conv.Transcript)
	}
}

func TestGuardErrorLeavesAttemptsUntouched(t *testing.T) {
	t.Parallel()

	classifier := &fakeClassifier{intent: domain.IntentAccountBalance}
	guard := &fakeGuard{}
	engine := newTestEngine(classifier, guard)
	conv := domain.NewConversation("user-1", "sess-1")
	process(t, engine, conv, "check my balance")

	guard.err = errors.New("upstream down")
	_, err := engine.ProcessMessage(context.Background(), conv, "40")
	if err == nil {
		t.Fatal("expected topic guard error")
	}
	if conv.AuthAttempts != 0 {
		t.Fatalf("attempts must not change on guard failure, got %d", conv.AuthAttempts)
	}
	if conv.ChallengeStage != 0 {
		t.Fatalf("stage must not change on guard failure, got %d", conv.ChallengeStage)
	}

	// The same utterance succeeds once the guard recovers.
	guard.err = nil
	reply := process(t, engine, conv, "40")
	if !strings.HasPrefix(reply, "Correct!") {
		t.Fatalf("expected retried turn to score, got %q", reply)
	}
}

func TestTranscriptOrdersUserBeforeAssistant(t *testing.T) {
	t.Parallel()

	engine := newTestEngine(&fakeClassifier{intent: domain.IntentAccountBalance}, &fakeGuard{})
	conv := domain.NewConversation("user-1", "sess-1")

	process(t, engine, conv, "check my balance")
	process(t, engine, conv, "40")

	if len(conv.Transcript) != 4 {
		t.Fatalf("expected 4 transcript entries, got %d", len(conv.Transcript))
	}
	wantRoles := []string{domain.RoleUser, domain.RoleAssistant, domain.RoleUser, domain.RoleAssistant}
	for i, want := range wantRoles {
		if conv.Transcript[i].Role != want {
			t.Fatalf("transcript[%d].Role = %q, want %q", i, conv.Transcript[i].Role, want)
		}
	}
	if conv.Transcript[0].Text != "check my balance" {
		t.Fatalf("unexpected first transcript entry: %q", conv.Transcript[0].Text)
	}
}

func TestEmptyBankGrantsAccessImmediately(t *testing.T) {
	t.Parallel()

	engine := NewEngine(&fakeClassifier{intent: domain.IntentAccountBalance}, &fakeGuard{}, challenge.NewBank(nil), Config{}, nil)
	conv := domain.NewConversation("user-1", "sess-1")

	reply := process(t, engine, conv, "check my balance")
	if !strings.Contains(reply, "Your current balance is") {
		t.Fatalf("expected immediate disclosure with no challenges, got %q", reply)
	}
	if conv.State != domain.StateSuccess {
		t.Fatalf("expected success state, got %q", conv.State)
	}
}

func TestCustomAttemptBudget(t *testing.T) {
	t.Parallel()

	engine := NewEngine(&fakeClassifier{intent: domain.IntentAccountBalance}, &fakeGuard{}, challenge.DefaultBank(), Config{MaxAttempts: 1}, nil)
	conv := domain.NewConversation("user-1", "sess-1")
	process(t, engine, conv, "check my balance")

	reply := process(t, engine, conv, "wrong")
	if reply != "Maximum authentication attempts exceeded. This session has ended for security reasons." {
		t.Fatalf("expected immediate lockout with budget 1, got %q", reply)
	}
}

func TestUnknownStateIsRejected(t *testing.T) {
	t.Parallel()

	engine := newTestEngine(&fakeClassifier{intent: domain.IntentAccountBalance}, &fakeGuard{})
	conv := domain.NewConversation("user-1", "sess-1")
	conv.State = "corrupted"

	if _, err := engine.ProcessMessage(context.Background(), conv, "hello"); err == nil {
		t.Fatal("expected error for unknown session state")
	}
}
