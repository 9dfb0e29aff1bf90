// Package conversation implements the session state machine that drives
// the banking assistant through intent detection, challenge-based
// authentication, and restricted account disclosure.
package conversation

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/nrudakov/tellerbot/internal/challenge"
	"github.com/nrudakov/tellerbot/internal/domain"
	"github.com/nrudakov/tellerbot/internal/nlu"
)

// DefaultMaxAttempts is the attempt budget per challenge stage.
const DefaultMaxAttempts = 3

// Config holds engine tunables.
type Config struct {
	// MaxAttempts is the failed-or-evasive attempt budget for a single
	// challenge stage. Zero means DefaultMaxAttempts.
	MaxAttempts int
}

// Engine consumes one user message at a time, consults the classifier,
// topic guard and challenge bank, mutates the conversation, and returns
// the next assistant message.
//
// The engine processes each conversation strictly sequentially; callers
// must not dispatch two concurrent turns against the same conversation.
type Engine struct {
	classifier  nlu.Classifier
	guard       nlu.TopicGuard
	bank        *challenge.Bank
	maxAttempts int
	logger      *slog.Logger
}

// NewEngine creates a conversation engine.
func NewEngine(classifier nlu.Classifier, guard nlu.TopicGuard, bank *challenge.Bank, cfg Config, logger *slog.Logger) *Engine {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultMaxAttempts
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		classifier:  classifier,
		guard:       guard,
		bank:        bank,
		maxAttempts: cfg.MaxAttempts,
		logger:      logger,
	}
}

// ProcessMessage handles one inbound user message and returns the
// assistant reply.
//
// The user utterance is appended to the transcript before any state logic
// runs; the assistant reply is appended as the final step. On a
// collaborator failure the error is returned as-is: no state is mutated
// and no assistant entry is appended, so the caller may retry the turn.
func (e *Engine) ProcessMessage(ctx context.Context, conv *domain.Conversation, userText string) (string, error) {
	conv.AppendUser(userText)

	var reply string
	var err error

	switch conv.State {
	case domain.StateIntentDetection:
		reply, err = e.handleIntentDetection(ctx, conv, userText)
	case domain.StateAuthentication:
		reply, err = e.handleAuthentication(ctx, conv, userText)
	case domain.StateSuccess:
		reply = msgAnythingElse
	case domain.StateTerminal:
		reply = msgSessionEnded
	default:
		return "", fmt.Errorf("unknown session state %q", conv.State)
	}
	if err != nil {
		return "", err
	}

	conv.AppendAssistant(reply)
	return reply, nil
}

func (e *Engine) handleIntentDetection(ctx context.Context, conv *domain.Conversation, userText string) (string, error) {
	intent, err := e.classifier.Classify(ctx, userText)
	if err != nil {
		return "", fmt.Errorf("classify intent: %w", err)
	}

	conv.Intent = intent
	if intent != domain.IntentAccountBalance {
		conv.State = domain.StateTerminal
		e.logger.Info("Intent refused, session closed",
			"user_id", conv.UserID, "session_id", conv.SessionID, "intent", intent)
		return msgRefusal, nil
	}

	conv.State = domain.StateAuthentication
	conv.ChallengeStage = 0
	conv.AuthAttempts = 0

	first, err := e.bank.At(0)
	if err != nil {
		// Empty bank: nothing to verify against, disclosure is allowed.
		return e.grantAccess(conv), nil
	}

	e.logger.Info("Authentication started",
		"user_id", conv.UserID, "session_id", conv.SessionID, "stages", e.bank.Size())
	return firstChallengeMessage(first.Prompt), nil
}

func (e *Engine) handleAuthentication(ctx context.Context, conv *domain.Conversation, userText string) (string, error) {
	current, err := e.bank.At(conv.ChallengeStage)
	if err != nil {
		// The stage pointer can only pass the bank if every challenge was
		// answered, so treat overflow as authenticated instead of failing.
		e.logger.Warn("Challenge stage past bank size, granting access",
			"user_id", conv.UserID, "stage", conv.ChallengeStage)
		return e.grantAccess(conv), nil
	}

	// The guard runs before answer scoring: an evasive utterance must
	// never be compared against the expected answer.
	evading, err := e.guard.IsEvadingChallenge(ctx, userText, current.Prompt)
	if err != nil {
		return "", fmt.Errorf("topic guard: %w", err)
	}

	if evading {
		return e.recordFailure(conv, evasionMessage(current.Prompt)), nil
	}

	if !current.Matches(userText) {
		return e.recordFailure(conv, incorrectMessage(current.Prompt)), nil
	}

	// Correct answer on the last stage completes authentication.
	if conv.ChallengeStage >= e.bank.Size()-1 {
		return e.grantAccess(conv), nil
	}

	conv.ChallengeStage++
	conv.AuthAttempts = 0

	next, err := e.bank.At(conv.ChallengeStage)
	if err != nil {
		return e.grantAccess(conv), nil
	}
	return nextChallengeMessage(next.Prompt), nil
}

// recordFailure books one failed-or-evasive attempt against the current
// stage. Evasions and wrong answers share the attempt/lockout mechanics;
// only the message text differs.
func (e *Engine) recordFailure(conv *domain.Conversation, msg string) string {
	conv.AuthAttempts++
	if conv.AuthAttempts >= e.maxAttempts {
		conv.State = domain.StateTerminal
		e.logger.Info("Authentication locked out",
			"user_id", conv.UserID, "session_id", conv.SessionID, "stage", conv.ChallengeStage)
		return msgLockout
	}
	return msg + attemptSuffix(conv.AuthAttempts+1, e.maxAttempts)
}

func (e *Engine) grantAccess(conv *domain.Conversation) string {
	conv.State = domain.StateSuccess
	conv.Authenticated = true
	e.logger.Info("Authentication complete",
		"user_id", conv.UserID, "session_id", conv.SessionID)
	return msgDisclosure
}
