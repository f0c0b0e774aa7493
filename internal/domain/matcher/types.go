package matcher

import (
	"context"

	"github.com/shopspring/decimal"
)

// MinConfidence is the generation floor. Proposals scoring below it never leave the matcher.
var MinConfidence = decimal.RequireFromString("0.60")

// Config holds matcher configuration
type Config struct {
	Model       string  // Default: gpt-4o-mini
	MaxTokens   int     // Default: 1000
	Temperature float64 // Default: 0.3
}

// DefaultConfig returns sensible defaults
func DefaultConfig() Config {
	return Config{
		Model:       "gpt-4o-mini",
		MaxTokens:   1000,
		Temperature: 0.3,
	}
}

// Match is a single scored proposal from the model.
type Match struct {
	InvoiceNumber string          `json:"invoice_number"`
	Confidence    decimal.Decimal `json:"confidence"`
	Reason        string          `json:"reason"`
}

// Result is the outcome of one matcher call.
type Result struct {
	Model   string
	Matches []Match

	// Prompt and RawResponse are kept for the call log.
	Prompt      string
	RawResponse string
}

// matchEnvelope is the strict JSON payload the model must return.
type matchEnvelope struct {
	Matches []Match `json:"matches"`
}

// Chat completion wire types
type ChatCompletionRequest struct {
	Model          string          `json:"model"`
	Messages       []Message       `json:"messages"`
	MaxTokens      int             `json:"max_tokens,omitempty"`
	Temperature    float64         `json:"temperature"`
	ResponseFormat *ResponseFormat `json:"response_format,omitempty"`
}

type ResponseFormat struct {
	Type string `json:"type"`
}

type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type ChatCompletionResponse struct {
	Model   string   `json:"model,omitempty"`
	Choices []Choice `json:"choices"`
}

type Choice struct {
	Message Message `json:"message"`
}

// ChatClient performs the network call to the language model.
// Timeouts are the client's concern; they surface here as plain errors.
type ChatClient interface {
	CreateChatCompletion(ctx context.Context, request ChatCompletionRequest) (*ChatCompletionResponse, error)
}
