package errreport

import (
	"context"

	"github.com/eykd/companion-memory/internal/pkg/logs"
)

// stubLogger implements logs.Logger with no-ops; tests embed it and
// override only the methods they care about.
type stubLogger struct{}

func (stubLogger) Debug(string, ...interface{}) {}
func (stubLogger) Info(string, ...interface{})  {}
func (stubLogger) Warn(string, ...interface{})  {}
func (stubLogger) Error(string, ...interface{}) {}
func (stubLogger) Fatal(string, ...interface{}) {}

func (stubLogger) CtxDebug(context.Context, string, ...interface{}) {}
func (stubLogger) CtxInfo(context.Context, string, ...interface{})  {}
func (stubLogger) CtxWarn(context.Context, string, ...interface{})  {}
func (stubLogger) CtxError(context.Context, string, ...interface{}) {}
func (stubLogger) CtxFatal(context.Context, string, ...interface{}) {}

func (stubLogger) NewLogID() string                                         { return "test" }
func (stubLogger) GetLogID(context.Context) string                          { return "test" }
func (stubLogger) SetLogID(ctx context.Context, _ string) context.Context   { return ctx }

func (stubLogger) GetLevel() logs.LogLevel   { return logs.InfoLevel }
func (stubLogger) SetLevel(logs.LogLevel)    {}

func (stubLogger) Flush() {}

var _ logs.Logger = stubLogger{}
