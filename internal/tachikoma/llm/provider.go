// Package llm defines the chat-completion provider interface and the
// OpenRouter transport adapter behind Tachikoma's model gateway.
package llm

import (
	"context"
	"errors"
)

// ErrRateLimit is returned when the upstream API reports HTTP 429. Callers
// surface a user-visible notice instead of retrying immediately.
var ErrRateLimit = errors.New("llm: upstream rate limit exceeded")

// Role is the role of a chat message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is a single message in a completion request.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// CompletionRequest is the input to a single inference call.
type CompletionRequest struct {
	Model    string
	Messages []Message
	// MaxTokens caps the reply length. Zero uses the provider default.
	MaxTokens int
}

// CompletionResponse is the output from the model.
type CompletionResponse struct {
	// Text is the assistant reply.
	Text string
	// Usage holds token counts when the provider reports them.
	Usage TokenUsage
}

// TokenUsage reports token consumption for cost tracking.
type TokenUsage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// Provider is the transport-level completion client. Implementations own
// retry policy for transient network failures; callers above this interface
// never retry. Must be safe for concurrent use.
type Provider interface {
	Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error)
}
