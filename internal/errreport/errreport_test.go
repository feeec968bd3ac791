package errreport

import (
	"context"
	"errors"
	"testing"
)

type recordingLogger struct {
	stubLogger
	lastFormat string
	lastArgs   []interface{}
}

func (l *recordingLogger) CtxError(ctx context.Context, format string, v ...interface{}) {
	l.lastFormat = format
	l.lastArgs = v
}

func TestLogReporter_FormatsErrorAndFields(t *testing.T) {
	logger := &recordingLogger{}
	r := NewLogReporter(logger)

	r.Report(context.Background(), errors.New("boom"), map[string]any{"job_id": "abc"})

	if logger.lastFormat == "" {
		t.Fatalf("expected CtxError to be called")
	}
}

func TestLogReporter_NilErrorIsNoop(t *testing.T) {
	logger := &recordingLogger{}
	r := NewLogReporter(logger)

	r.Report(context.Background(), nil, nil)

	if logger.lastFormat != "" {
		t.Fatalf("expected no call for nil error")
	}
}
