// Package nlu defines the language-understanding collaborators the
// conversation engine consults, plus the production Gemini adapter.
package nlu

import (
	"context"
	"errors"

	"github.com/nrudakov/tellerbot/internal/domain"
)

// ErrUnavailable indicates a collaborator call failed or timed out. The
// engine surfaces it to the caller rather than guessing an intent or an
// authentication outcome.
var ErrUnavailable = errors.New("language service unavailable")

// Classifier maps free-text user input to a coarse intent label.
type Classifier interface {
	Classify(ctx context.Context, utterance string) (domain.Intent, error)
}

// TopicGuard decides whether an utterance made during an open challenge is
// an attempted answer or an evasion.
type TopicGuard interface {
	IsEvadingChallenge(ctx context.Context, utterance, challengePrompt string) (bool, error)
}
