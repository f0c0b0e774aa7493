// Package matcher asks a language model which open invoices a payment most likely settles.
//
// The matcher owns prompt construction and response validation. The network call is
// delegated to a ChatClient. Proposals below MinConfidence are dropped here so that
// nothing downstream ever sees them.
package matcher

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/mybillbook/reconciler/internal/domain/ledger"
)

var maxConfidence = decimal.NewFromInt(1)

// Error is returned for every failed matcher call. It matches ledger.ErrMatchService
// under errors.Is, and keeps the raw model output when there was any.
type Error struct {
	Reason string
	Raw    string
	Err    error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", ledger.ErrMatchService, e.Reason, e.Err)
	}
	return fmt.Sprintf("%s: %s", ledger.ErrMatchService, e.Reason)
}

func (e *Error) Unwrap() []error {
	if e.Err != nil {
		return []error{ledger.ErrMatchService, e.Err}
	}
	return []error{ledger.ErrMatchService}
}

// Matcher proposes invoice matches for a payment.
type Matcher struct {
	client ChatClient
	config Config
	logger *slog.Logger
}

// NewMatcher creates a new matcher
func NewMatcher(client ChatClient, cfg Config, logger *slog.Logger) *Matcher {
	def := DefaultConfig()
	if cfg.Model == "" {
		cfg.Model = def.Model
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = def.MaxTokens
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Matcher{client: client, config: cfg, logger: logger}
}

// Model returns the model identifier recorded on suggestions.
func (m *Matcher) Model() string {
	return m.config.Model
}

// Match returns the proposals for payment among candidates, highest confidence first
// as ranked by the model. candidates must be non-empty and contain only open invoices.
// The call is not retried.
func (m *Matcher) Match(ctx context.Context, payment ledger.Payment, candidates []ledger.Invoice) (*Result, error) {
	if err := validateCandidates(candidates); err != nil {
		return nil, err
	}

	prompt := BuildPrompt(payment, candidates)
	request := ChatCompletionRequest{
		Model:       m.config.Model,
		MaxTokens:   m.config.MaxTokens,
		Temperature: m.config.Temperature,
		ResponseFormat: &ResponseFormat{
			Type: "json_object",
		},
		Messages: []Message{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: prompt},
		},
	}

	response, err := m.client.CreateChatCompletion(ctx, request)
	if err != nil {
		return nil, &Error{Reason: "chat completion failed", Err: err}
	}
	if response == nil || len(response.Choices) == 0 {
		return nil, &Error{Reason: "empty response from model"}
	}

	raw := response.Choices[0].Message.Content
	m.logger.Debug("model response", "payment_id", payment.ID, "content", raw)

	payload := StripCodeFence(raw)
	if payload == "" {
		return nil, &Error{Reason: "empty response from model", Raw: raw}
	}
	if !strings.HasPrefix(payload, "{") {
		return nil, &Error{Reason: "response is not a JSON object", Raw: raw}
	}

	var envelope matchEnvelope
	if err := json.Unmarshal([]byte(payload), &envelope); err != nil {
		return nil, &Error{Reason: "invalid JSON response", Raw: raw, Err: err}
	}

	return &Result{
		Model:       m.config.Model,
		Matches:     m.postProcess(payment, candidates, envelope.Matches),
		Prompt:      prompt,
		RawResponse: raw,
	}, nil
}

// postProcess drops sub-floor proposals and makes sure overpayments are flagged
// in the reasoning even when the model forgot to say so.
func (m *Matcher) postProcess(payment ledger.Payment, candidates []ledger.Invoice, matches []Match) []Match {
	pending := make(map[string]ledger.Invoice, len(candidates))
	for _, inv := range candidates {
		pending[strings.ToLower(inv.InvoiceNumber)] = inv
	}

	kept := make([]Match, 0, len(matches))
	for _, match := range matches {
		if match.Confidence.GreaterThan(maxConfidence) {
			m.logger.Warn("dropping match with out of range confidence",
				"payment_id", payment.ID,
				"invoice_number", match.InvoiceNumber,
				"confidence", match.Confidence.String())
			continue
		}
		if match.Confidence.LessThan(MinConfidence) {
			m.logger.Debug("dropping low confidence match",
				"payment_id", payment.ID,
				"invoice_number", match.InvoiceNumber,
				"confidence", match.Confidence.String())
			continue
		}

		inv, ok := pending[strings.ToLower(strings.TrimSpace(match.InvoiceNumber))]
		if ok && payment.Amount.GreaterThan(inv.PendingAmount) &&
			!strings.Contains(strings.ToLower(match.Reason), "overpay") {
			match.Reason = strings.TrimSpace(fmt.Sprintf("%s (potential overpayment: payment ₹%s exceeds pending ₹%s)",
				match.Reason, payment.Amount.StringFixed(2), inv.PendingAmount.StringFixed(2)))
		}
		kept = append(kept, match)
	}
	return kept
}

func validateCandidates(candidates []ledger.Invoice) error {
	if len(candidates) == 0 {
		return fmt.Errorf("no candidate invoices: %w", ledger.ErrValidation)
	}
	for _, inv := range candidates {
		if !inv.Status.Open() {
			return fmt.Errorf("candidate invoice %s has status %s: %w", inv.InvoiceNumber, inv.Status, ledger.ErrValidation)
		}
	}
	return nil
}

// StripCodeFence removes a leading ``` or ```json marker and a trailing ``` marker.
func StripCodeFence(content string) string {
	content = strings.TrimSpace(content)
	if strings.HasPrefix(content, "```") {
		content = strings.TrimPrefix(content, "```")
		if len(content) >= 4 && strings.EqualFold(content[:4], "json") {
			content = content[4:]
		}
	}
	content = strings.TrimSuffix(strings.TrimSpace(content), "```")
	return strings.TrimSpace(content)
}
