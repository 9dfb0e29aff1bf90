package conversation

import (
	"fmt"
)

// Canonical assistant reply texts.
const (
	msgVerifyIdentity = "I can help you check your account balance. Let me verify your identity first."
	msgRefusal        = "I'm sorry, I can only help with account balance inquiries at this time."
	msgLockout        = "Maximum authentication attempts exceeded. This session has ended for security reasons."
	msgDisclosure     = "Authentication successful! You can now access your account balance. Your current balance is $1,234.56."
	msgSessionEnded   = "This conversation has ended. Please start a new session."
	msgAnythingElse   = "You have successfully accessed your account information. Is there anything else I can help you with?"
)

func firstChallengeMessage(prompt string) string {
	return msgVerifyIdentity + "\n\nPlease answer the following security question: " + prompt
}

func incorrectMessage(prompt string) string {
	return "That's incorrect. " + prompt
}

func evasionMessage(prompt string) string {
	return "Please complete the authentication process first. " + prompt
}

func nextChallengeMessage(prompt string) string {
	return "Correct! Next question: " + prompt
}

func attemptSuffix(nextAttempt, maxAttempts int) string {
	return fmt.Sprintf(" (Attempt %d/%d)", nextAttempt, maxAttempts)
}
