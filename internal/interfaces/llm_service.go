package interfaces

import (
	"context"
)

// Message represents a single message in a chat conversation
type Message struct {
	// Role identifies the message sender: "user", "assistant", or "system"
	Role string

	// Content contains the text content of the message
	Content string
}

// LLMService is the text generation collaborator used by the fate service.
// Implementations call a cloud provider; tests substitute a mock.
type LLMService interface {
	// Chat generates a completion for the conversation. System messages are
	// passed to the provider as its system instruction.
	Chat(ctx context.Context, messages []Message) (string, error)

	// HealthCheck verifies the provider credentials resolve and a client can be built
	HealthCheck(ctx context.Context) error

	// Close releases provider clients
	Close() error
}
