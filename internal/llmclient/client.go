// Package llmclient defines the LLMClient port the daily_summary handler
// uses to turn raw activity logs into prose, plus the Anthropic adapter that
// implements it.
package llmclient

import "context"

// Client is the minimal surface the job queue core needs from a language
// model: turn a user's log entries for a window into a summary. Model
// selection, streaming, and tool use are outside this core's scope.
type Client interface {
	Summarize(ctx context.Context, entries []string) (string, error)
}
