// Package claude provides a Claude-backed summarizer for production
// deployments where offloaded context quality matters more than latency.
package claude

import (
	"context"
	"fmt"
	"log"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"

	"github.com/locilabs/loci/core"
)

const systemPrompt = `You compress agent task context for later retrieval.
Produce a dense summary that preserves task identifiers, decisions, constraints,
and outcomes. Omit filler. Respond with the summary only.`

// Config configures the Claude summarizer.
type Config struct {
	// Model defaults to claude-3-5-haiku-latest; summarization does not need
	// a frontier model.
	Model string

	// MaxTokens is the maximum response tokens (default 512).
	MaxTokens int64
}

// Summarizer compresses task contexts through the Claude API.
type Summarizer struct {
	client *anthropic.Client
	cfg    Config
}

// New creates a Claude summarizer over an existing API client.
func New(client *anthropic.Client, cfg Config) (*Summarizer, error) {
	if client == nil {
		return nil, fmt.Errorf("%w: anthropic client is required", core.ErrInvalidConfig)
	}
	if cfg.Model == "" {
		cfg.Model = "claude-3-5-haiku-latest"
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 512
	}
	return &Summarizer{client: client, cfg: cfg}, nil
}

// Summarize sends the rendered context to Claude and returns the model's
// summary. API failures surface to the caller; the offloader decides whether
// to fail the offload or fall back.
func (s *Summarizer) Summarize(ctx context.Context, tc core.TaskContext) (string, error) {
	text := tc.Text()
	if text == "" {
		return "", nil
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(s.cfg.Model),
		MaxTokens: s.cfg.MaxTokens,
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(text)),
		},
		System: []anthropic.TextBlockParam{
			{Text: systemPrompt},
		},
	}

	resp, err := s.client.Messages.New(ctx, params)
	if err != nil {
		return "", fmt.Errorf("claude API error: %w", err)
	}

	var b strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			b.WriteString(block.Text)
		}
	}
	summary := strings.TrimSpace(b.String())
	if summary == "" {
		return "", fmt.Errorf("empty summary from model %s", s.cfg.Model)
	}

	log.Printf("[SUMMARIZE] Compressed %d chars to %d (model=%s)", len(text), len(summary), s.cfg.Model)
	return summary, nil
}
