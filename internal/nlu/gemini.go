package nlu

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/nrudakov/tellerbot/internal/domain"
	"google.golang.org/genai"
)

const (
	defaultModel   = "gemini-2.0-flash"
	defaultTimeout = 30 * time.Second

	// Low temperature keeps the label output stable across retries.
	labelTemperature = 0.1
)

// GeminiConfig holds configuration for the Gemini adapter.
type GeminiConfig struct {
	APIKey  string
	Model   string
	Timeout time.Duration
}

// Gemini implements Classifier and TopicGuard over the Gemini API.
type Gemini struct {
	client  *genai.Client
	model   string
	timeout time.Duration
	logger  *slog.Logger
}

var (
	_ Classifier = (*Gemini)(nil)
	_ TopicGuard = (*Gemini)(nil)
)

// NewGemini creates a Gemini-backed adapter for both NLU ports.
func NewGemini(ctx context.Context, cfg GeminiConfig, logger *slog.Logger) (*Gemini, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("gemini API key is required")
	}
	if cfg.Model == "" {
		cfg.Model = defaultModel
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey: cfg.APIKey,
	})
	if err != nil {
		return nil, fmt.Errorf("create genai client: %w", err)
	}

	logger.Info("Gemini NLU adapter initialized", "model", cfg.Model)

	return &Gemini{
		client:  client,
		model:   cfg.Model,
		timeout: cfg.Timeout,
		logger:  logger,
	}, nil
}

// Classify maps a user utterance to an intent label.
func (g *Gemini) Classify(ctx context.Context, utterance string) (domain.Intent, error) {
	prompt := fmt.Sprintf(`Analyze the following user message and determine their intent.

User message: %q

Classify the intent as one of the following:
- "account_balance": if the user wants to check account balance, account details, or similar banking information
- "other": for any other request

Respond with only one line in the format:
INTENT: [intent_type]`, utterance)

	out, err := g.generate(ctx, prompt, 50)
	if err != nil {
		return "", fmt.Errorf("%w: classify: %v", ErrUnavailable, err)
	}

	intent := parseIntent(out)
	g.logger.Debug("Intent classified", "intent", intent)
	return intent, nil
}

// IsEvadingChallenge decides whether the utterance attempts to answer the
// active challenge or tries to steer the conversation elsewhere.
func (g *Gemini) IsEvadingChallenge(ctx context.Context, utterance, challengePrompt string) (bool, error) {
	prompt := fmt.Sprintf(`During an authentication process where I asked the question %q, the user responded with: %q

Determine if the user is:
1. Attempting to answer the question (even if incorrect)
2. Trying to change the topic or avoid authentication

Examples of answering: "40", "thirty", "I think it's 50", "um... 45?"
Examples of changing topic: "I need help with something else", "can you do something different", "forget that"

Respond with only: ANSWERING or CHANGING_TOPIC`, challengePrompt, utterance)

	out, err := g.generate(ctx, prompt, 20)
	if err != nil {
		return false, fmt.Errorf("%w: topic guard: %v", ErrUnavailable, err)
	}

	evading := parseEvasion(out)
	g.logger.Debug("Topic guard decision", "evading", evading)
	return evading, nil
}

func (g *Gemini) generate(ctx context.Context, prompt string, maxTokens int32) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	contents := []*genai.Content{
		genai.NewContentFromText(prompt, genai.RoleUser),
	}
	resp, err := g.client.Models.GenerateContent(ctx, g.model, contents, &genai.GenerateContentConfig{
		Temperature:     genai.Ptr[float32](labelTemperature),
		MaxOutputTokens: maxTokens,
	})
	if err != nil {
		return "", err
	}
	return resp.Text(), nil
}

// parseIntent extracts the intent label from model output. Anything that
// is not an explicit account_balance label counts as other.
func parseIntent(out string) domain.Intent {
	if strings.Contains(strings.ToLower(out), "intent: account_balance") {
		return domain.IntentAccountBalance
	}
	return domain.IntentOther
}

// parseEvasion extracts the topic-guard verdict from model output. The
// default is "answering": an unclear verdict is scored against the
// challenge rather than burning an attempt for free.
func parseEvasion(out string) bool {
	return strings.Contains(strings.ToUpper(out), "CHANGING_TOPIC")
}
