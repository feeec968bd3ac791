package llmclient

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

// Config mirrors the provider configuration shape used throughout this
// codebase: required credentials plus sane defaults for model and limits.
type Config struct {
	APIKey       string
	BaseURL      string
	DefaultModel string
	MaxTokens    int64
	Timeout      time.Duration
}

// Validate fills in defaults and rejects a missing API key.
func (c *Config) Validate() error {
	if c.APIKey == "" {
		return errors.New("llmclient: API key cannot be empty")
	}
	if c.DefaultModel == "" {
		c.DefaultModel = "claude-3-5-sonnet-20241022"
	}
	if c.MaxTokens <= 0 {
		c.MaxTokens = 1024
	}
	if c.Timeout == 0 {
		c.Timeout = 60 * time.Second
	}
	return nil
}

// Anthropic is a Client backed by the official Anthropic Go SDK.
type Anthropic struct {
	client anthropic.Client
	cfg    Config
}

var _ Client = (*Anthropic)(nil)

// NewAnthropic constructs an Anthropic client from cfg.
func NewAnthropic(cfg Config) (*Anthropic, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}

	return &Anthropic{
		client: anthropic.NewClient(opts...),
		cfg:    cfg,
	}, nil
}

const summarizePrompt = "Summarize the following activity log entries into a short, friendly recap. Group related entries and call out anything that looks unfinished.\n\n"

// Summarize asks the configured model to turn entries into prose.
func (a *Anthropic) Summarize(ctx context.Context, entries []string) (string, error) {
	if len(entries) == 0 {
		return "Nothing logged for this period.", nil
	}

	ctx, cancel := context.WithTimeout(ctx, a.cfg.Timeout)
	defer cancel()

	prompt := summarizePrompt + strings.Join(entries, "\n")
	resp, err := a.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(a.cfg.DefaultModel),
		MaxTokens: a.cfg.MaxTokens,
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		},
	})
	if err != nil {
		return "", fmt.Errorf("llmclient: anthropic messages.new: %w", err)
	}

	var out strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			out.WriteString(block.Text)
		}
	}
	if out.Len() == 0 {
		return "", fmt.Errorf("llmclient: anthropic response contained no text content")
	}
	return out.String(), nil
}
