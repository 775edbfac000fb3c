// Package llm abstracts hosted language-model providers behind a narrow
// completion/embedding interface, with retry and rate-limit decorators.
package llm

import "context"

// Role identifies who authored a message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is a single turn in a conversation.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// Prompt is the full input to a completion call.
type Prompt struct {
	SystemPrompt string    `json:"system_prompt,omitempty"`
	Messages     []Message `json:"messages"`
}

// UserPrompt builds a single-turn prompt from one user message.
func UserPrompt(content string) *Prompt {
	return &Prompt{Messages: []Message{{Role: RoleUser, Content: content}}}
}

// RequestOptions tune a single completion request. Nil fields fall back to the
// provider's defaults.
type RequestOptions struct {
	MaxTokens   *int
	Temperature *float64
	TopP        *float64
	StopSeqs    []string
}

// Int returns a pointer to v, for RequestOptions literals.
func Int(v int) *int { return &v }

// Float returns a pointer to v, for RequestOptions literals.
func Float(v float64) *float64 { return &v }

// Response wraps a completion result. For streamed calls Content holds the
// concatenation of all deltas.
type Response struct {
	Content      string `json:"content"`
	Model        string `json:"model,omitempty"`
	InputTokens  int    `json:"input_tokens,omitempty"`
	OutputTokens int    `json:"output_tokens,omitempty"`
	StopReason   string `json:"stop_reason,omitempty"`
}

// StreamFunc receives incremental output text during a streamed completion.
type StreamFunc func(delta string)

// Provider is the interface all LLM backends must implement.
type Provider interface {
	// Complete sends a prompt and returns the full completion.
	Complete(ctx context.Context, prompt *Prompt, opts *RequestOptions) (*Response, error)
	// CompleteStream sends a prompt, invoking fn for each output fragment, and
	// returns the assembled response once the stream finishes.
	CompleteStream(ctx context.Context, prompt *Prompt, opts *RequestOptions, fn StreamFunc) (*Response, error)
	// Embed returns one embedding vector per input text.
	Embed(ctx context.Context, texts []string) ([][]float32, error)
	// Name returns the provider identifier (e.g. "groq", "openai").
	Name() string
}
