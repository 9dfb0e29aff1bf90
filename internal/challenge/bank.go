// Package challenge provides the ordered security-challenge bank used to
// verify a caller's identity before account disclosure.
package challenge

import (
	"errors"
	"fmt"
	"strings"
)

// ErrOutOfRange is returned when a challenge stage exceeds the bank size.
// If session invariants hold this is never observable by a caller.
var ErrOutOfRange = errors.New("challenge stage out of range")

// Challenge is a (prompt, expected-answer) pair.
type Challenge struct {
	Prompt string
	Answer string
}

// Matches reports whether answer matches the expected answer. Comparison
// trims leading/trailing whitespace and is case-insensitive; nothing else
// is normalized ("forty" does not match "40").
func (c Challenge) Matches(answer string) bool {
	return strings.EqualFold(strings.TrimSpace(answer), strings.TrimSpace(c.Answer))
}

// Bank is an immutable ordered list of challenges. Stage progression is
// strictly sequential: no skipping, no backtracking. A Bank is constructed
// once and shared read-only by all sessions.
type Bank struct {
	challenges []Challenge
}

// NewBank builds a bank from an ordered list of challenges.
func NewBank(challenges []Challenge) *Bank {
	copied := make([]Challenge, len(challenges))
	copy(copied, challenges)
	return &Bank{challenges: copied}
}

// DefaultBank returns the stock verification questions.
func DefaultBank() *Bank {
	return NewBank([]Challenge{
		{Prompt: "What is 20 + 20?", Answer: "40"},
		{Prompt: "What is 10 + 10?", Answer: "20"},
	})
}

// At returns the challenge for the given stage.
func (b *Bank) At(stage int) (Challenge, error) {
	if stage < 0 || stage >= len(b.challenges) {
		return Challenge{}, fmt.Errorf("%w: stage %d, size %d", ErrOutOfRange, stage, len(b.challenges))
	}
	return b.challenges[stage], nil
}

// Size returns the number of challenges in the bank.
func (b *Bank) Size() int {
	return len(b.challenges)
}
