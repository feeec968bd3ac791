// Package errreport implements the ErrorReporter port: a structured
// failure surface consumed by the Worker and by handlers.
package errreport

import (
	"context"

	"github.com/eykd/companion-memory/internal/pkg/logs"
)

// Reporter is the ErrorReporter port every collaborator depends on.
type Reporter interface {
	Report(ctx context.Context, err error, fields map[string]any)
}

// LogReporter reports failures through the structured Logger, the only
// failure sink available without an external tracker dependency.
type LogReporter struct {
	logger logs.Logger
}

var _ Reporter = (*LogReporter)(nil)

// NewLogReporter wraps logger.
func NewLogReporter(logger logs.Logger) *LogReporter {
	return &LogReporter{logger: logger}
}

func (r *LogReporter) Report(ctx context.Context, err error, fields map[string]any) {
	if r == nil || r.logger == nil || err == nil {
		return
	}
	r.logger.CtxError(ctx, "%v fields=%v", err, fields)
}
