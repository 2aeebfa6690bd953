package logs

import (
	"context"
	"fmt"
	"io"

	"github.com/cloudwego/hertz/pkg/common/hlog"
)

const hertzPrefix = "[hertz] "

// hlogAdapter routes hertz's own logging into the taskpilot logger, tagged
// with hertzPrefix. Trace and Notice fold into Debug and Info.
type hlogAdapter struct {
	l Logger
}

var _ hlog.FullLogger = (*hlogAdapter)(nil)

// NewHlogLogger returns a hertz FullLogger backed by l.
func NewHlogLogger(l Logger) hlog.FullLogger {
	return &hlogAdapter{l: l}
}

// plainFormat keeps '%' in unformatted hertz messages literal.
const plainFormat = hertzPrefix + "%s"

func (a *hlogAdapter) Trace(v ...interface{})  { a.l.Debug(plainFormat, fmt.Sprint(v...)) }
func (a *hlogAdapter) Debug(v ...interface{})  { a.l.Debug(plainFormat, fmt.Sprint(v...)) }
func (a *hlogAdapter) Info(v ...interface{})   { a.l.Info(plainFormat, fmt.Sprint(v...)) }
func (a *hlogAdapter) Notice(v ...interface{}) { a.l.Info(plainFormat, fmt.Sprint(v...)) }
func (a *hlogAdapter) Warn(v ...interface{})   { a.l.Warn(plainFormat, fmt.Sprint(v...)) }
func (a *hlogAdapter) Error(v ...interface{})  { a.l.Error(plainFormat, fmt.Sprint(v...)) }
func (a *hlogAdapter) Fatal(v ...interface{})  { a.l.Fatal(plainFormat, fmt.Sprint(v...)) }

func (a *hlogAdapter) Tracef(format string, v ...interface{})  { a.l.Debug(hertzPrefix+format, v...) }
func (a *hlogAdapter) Debugf(format string, v ...interface{})  { a.l.Debug(hertzPrefix+format, v...) }
func (a *hlogAdapter) Infof(format string, v ...interface{})   { a.l.Info(hertzPrefix+format, v...) }
func (a *hlogAdapter) Noticef(format string, v ...interface{}) { a.l.Info(hertzPrefix+format, v...) }
func (a *hlogAdapter) Warnf(format string, v ...interface{})   { a.l.Warn(hertzPrefix+format, v...) }
func (a *hlogAdapter) Errorf(format string, v ...interface{})  { a.l.Error(hertzPrefix+format, v...) }
func (a *hlogAdapter) Fatalf(format string, v ...interface{})  { a.l.Fatal(hertzPrefix+format, v...) }

func (a *hlogAdapter) CtxTracef(ctx context.Context, format string, v ...interface{}) {
	a.l.CtxDebug(ctx, hertzPrefix+format, v...)
}

func (a *hlogAdapter) CtxDebugf(ctx context.Context, format string, v ...interface{}) {
	a.l.CtxDebug(ctx, hertzPrefix+format, v...)
}

func (a *hlogAdapter) CtxInfof(ctx context.Context, format string, v ...interface{}) {
	a.l.CtxInfo(ctx, hertzPrefix+format, v...)
}

func (a *hlogAdapter) CtxNoticef(ctx context.Context, format string, v ...interface{}) {
	a.l.CtxInfo(ctx, hertzPrefix+format, v...)
}

func (a *hlogAdapter) CtxWarnf(ctx context.Context, format string, v ...interface{}) {
	a.l.CtxWarn(ctx, hertzPrefix+format, v...)
}

func (a *hlogAdapter) CtxErrorf(ctx context.Context, format string, v ...interface{}) {
	a.l.CtxError(ctx, hertzPrefix+format, v...)
}

func (a *hlogAdapter) CtxFatalf(ctx context.Context, format string, v ...interface{}) {
	a.l.CtxFatal(ctx, hertzPrefix+format, v...)
}

var hlogLevels = map[hlog.Level]LogLevel{
	hlog.LevelTrace:  DebugLevel,
	hlog.LevelDebug:  DebugLevel,
	hlog.LevelInfo:   InfoLevel,
	hlog.LevelNotice: InfoLevel,
	hlog.LevelWarn:   WarnLevel,
	hlog.LevelError:  ErrorLevel,
	hlog.LevelFatal:  FatalLevel,
}

func (a *hlogAdapter) SetLevel(level hlog.Level) {
	if lvl, ok := hlogLevels[level]; ok {
		a.l.SetLevel(lvl)
	}
}

// SetOutput is ignored; the taskpilot logger owns its writers.
func (a *hlogAdapter) SetOutput(io.Writer) {}
