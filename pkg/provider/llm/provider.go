// Package llm defines the Provider interface for the text-completion backends
// babelvox uses for translation and phonetic-guide generation.
//
// Both collaborators are single request/response calls with a strict
// content-only contract, so the interface is a single blocking Complete.
// Implementors must be safe for concurrent use and must return promptly when
// the supplied context is cancelled: a superseded pipeline run cancels its
// in-flight completion.
package llm

import (
	"context"
	"errors"
	"fmt"
)

// Roles accepted in [Message.Role].
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Finish reasons reported in [CompletionResponse.FinishReason]. Backends
// normalise to these where they can.
const (
	FinishStop   = "stop"
	FinishLength = "length"
)

// ErrTruncated is returned by callers that need a complete reply when the
// model stopped at the token cap.
var ErrTruncated = errors.New("llm: reply truncated at token limit")

// Message is a single turn in the prompt sent to the model.
type Message struct {
	// Role is one of RoleSystem, RoleUser or RoleAssistant.
	Role string

	// Content is the text of the message.
	Content string
}

// Usage holds token accounting returned by the backend.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// CompletionRequest carries everything the model needs to produce a reply.
// At minimum Messages must be non-empty.
type CompletionRequest struct {
	// SystemPrompt is injected ahead of Messages as a system-role message.
	SystemPrompt string

	// Messages is the ordered prompt; the last one is normally the user text.
	Messages []Message

	// Temperature in [0, 2]. Zero leaves the provider default in place.
	Temperature float64

	// MaxTokens caps the reply length. Zero means the provider default.
	MaxTokens int
}

// CompletionResponse is the model's full reply.
type CompletionResponse struct {
	// Content is the assistant text.
	Content string

	// FinishReason says why generation stopped; empty when unknown.
	FinishReason string

	Usage Usage
}

// Provider is the abstraction over any completion backend.
type Provider interface {
	// Complete sends req to the model and waits for the reply.
	Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error)
}

// Validate reports a request a backend cannot send: one without messages or
// with an unknown role.
func (r CompletionRequest) Validate() error {
	if len(r.Messages) == 0 {
		return errors.New("llm: request has no messages")
	}
	for i, m := range r.Messages {
		switch m.Role {
		case RoleSystem, RoleUser, RoleAssistant:
		default:
			return fmt.Errorf("llm: message %d has unknown role %q", i, m.Role)
		}
	}
	return nil
}
