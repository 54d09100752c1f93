// Package log is the module-wide structured logger: a thin zap wrapper
// with lumberjack rotation, kept deliberately small so call sites never
// need to know the backing library.
package log

import (
	"context"
	"fmt"
	"os"
	"sync/atomic"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// DefaultMessageKey is the key Helper's leveled methods use for the log
// message, and the key Errorw callers pass positionally
// (log.Errorw(log.DefaultMessageKey, "...", ...)).
const DefaultMessageKey = "msg"

// Level mirrors zapcore.Level so callers don't need to import zap.
type Level = zapcore.Level

const (
	LevelDebug Level = zapcore.DebugLevel
	LevelInfo  Level = zapcore.InfoLevel
	LevelWarn  Level = zapcore.WarnLevel
	LevelError Level = zapcore.ErrorLevel
)

// Logger is the minimal surface contrib/log builds on; SetLogger swaps
// it for tests or alternate sinks.
type Logger interface {
	Log(level Level, keyvals ...any) error
}

type zapLogger struct {
	z *zap.SugaredLogger
}

func (l *zapLogger) Log(level Level, keyvals ...any) error {
	switch level {
	case LevelDebug:
		l.z.Debugw("", keyvals...)
	case LevelWarn:
		l.z.Warnw("", keyvals...)
	case LevelError:
		l.z.Errorw("", keyvals...)
	default:
		l.z.Infow("", keyvals...)
	}
	return nil
}

var defaultLogger atomic.Value // Logger

func init() {
	SetLogger(newZapLogger(os.Stderr, LevelInfo))
}

// Options configures file-rotated output; zero value logs to stderr.
type Options struct {
	Path       string // empty writes to stderr
	Level      Level
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Compress   bool
}

// Init rebuilds the default logger from Options, wiring lumberjack
// rotation when Path is set.
func Init(o Options) {
	var ws zapcore.WriteSyncer
	if o.Path == "" {
		ws = zapcore.AddSync(os.Stderr)
	} else {
		ws = zapcore.AddSync(&lumberjack.Logger{
			Filename:   o.Path,
			MaxSize:    nonZero(o.MaxSizeMB, 100),
			MaxBackups: o.MaxBackups,
			MaxAge:     o.MaxAgeDays,
			Compress:   o.Compress,
		})
	}
	SetLogger(newZapLoggerWriter(ws, o.Level))
}

func nonZero(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}

func newZapLogger(w *os.File, level Level) Logger {
	return newZapLoggerWriter(zapcore.AddSync(w), level)
}

func newZapLoggerWriter(ws zapcore.WriteSyncer, level Level) Logger {
	enc := zapcore.NewJSONEncoder(zapcore.EncoderConfig{
		TimeKey:        "ts",
		LevelKey:       "level",
		NameKey:        "logger",
		CallerKey:      "caller",
		MessageKey:     DefaultMessageKey,
		StacktraceKey:  "stacktrace",
		LineEnding:     zapcore.DefaultLineEnding,
		EncodeLevel:    zapcore.LowercaseLevelEncoder,
		EncodeTime:     zapcore.ISO8601TimeEncoder,
		EncodeDuration: zapcore.SecondsDurationEncoder,
		EncodeCaller:   zapcore.ShortCallerEncoder,
	})
	core := zapcore.NewCore(enc, ws, level)
	return &zapLogger{z: zap.New(core, zap.AddCaller(), zap.AddCallerSkip(2)).Sugar()}
}

// SetLogger swaps the process-wide default logger.
func SetLogger(l Logger) {
	defaultLogger.Store(l)
}

// GetLogger returns the current process-wide default logger.
func GetLogger() Logger {
	return defaultLogger.Load().(Logger)
}

// Enabled reports whether level would currently be logged.
func Enabled(level Level) bool {
	zl, ok := GetLogger().(*zapLogger)
	if !ok {
		return true
	}
	return zl.z.Desugar().Core().Enabled(level)
}

// Helper is a per-component logger carrying fixed key/value context
// (e.g. a request ID) applied to every call.
type Helper struct {
	logger  Logger
	keyvals []any
}

// NewHelper wraps l with no extra context.
func NewHelper(l Logger) *Helper {
	return &Helper{logger: l}
}

// With returns a Helper with additional fixed key/value pairs appended
// to every subsequent log call.
func (h *Helper) With(keyvals ...any) *Helper {
	return &Helper{logger: h.logger, keyvals: append(append([]any{}, h.keyvals...), keyvals...)}
}

func (h *Helper) log(level Level, msg string) {
	kv := append(append([]any{}, h.keyvals...), DefaultMessageKey, msg)
	_ = h.logger.Log(level, kv...)
}

func (h *Helper) Debug(args ...any)            { h.log(LevelDebug, fmt.Sprint(args...)) }
func (h *Helper) Debugf(f string, a ...any)    { h.log(LevelDebug, fmt.Sprintf(f, a...)) }
func (h *Helper) Info(args ...any)             { h.log(LevelInfo, fmt.Sprint(args...)) }
func (h *Helper) Infof(f string, a ...any)     { h.log(LevelInfo, fmt.Sprintf(f, a...)) }
func (h *Helper) Warn(args ...any)             { h.log(LevelWarn, fmt.Sprint(args...)) }
func (h *Helper) Warnf(f string, a ...any)     { h.log(LevelWarn, fmt.Sprintf(f, a...)) }
func (h *Helper) Error(args ...any)            { h.log(LevelError, fmt.Sprint(args...)) }
func (h *Helper) Errorf(f string, a ...any)    { h.log(LevelError, fmt.Sprintf(f, a...)) }
func (h *Helper) Fatal(args ...any) {
	h.log(LevelError, fmt.Sprint(args...))
	os.Exit(1)
}
func (h *Helper) Fatalf(f string, a ...any) {
	h.log(LevelError, fmt.Sprintf(f, a...))
	os.Exit(1)
}

// Errorw logs key/value pairs at error level, e.g.
// log.Errorw(log.DefaultMessageKey, "failed", "reason", err).
func (h *Helper) Errorw(keyvals ...any) {
	_ = h.logger.Log(LevelError, append(append([]any{}, h.keyvals...), keyvals...)...)
}

type ctxKey struct{}

// Context returns the Helper attached to ctx by WithContext, falling
// back to a Helper over the default logger.
func Context(ctx context.Context) *Helper {
	if h, ok := ctx.Value(ctxKey{}).(*Helper); ok {
		return h
	}
	return NewHelper(GetLogger())
}

// WithContext attaches h to ctx so a later log.Context(ctx) call
// retrieves it.
func WithContext(ctx context.Context, h *Helper) context.Context {
	return context.WithValue(ctx, ctxKey{}, h)
}

// package-level convenience funcs backed by the default logger.
func Debug(args ...any)         { NewHelper(GetLogger()).Debug(args...) }
func Debugf(f string, a ...any) { NewHelper(GetLogger()).Debugf(f, a...) }
func Info(args ...any)          { NewHelper(GetLogger()).Info(args...) }
func Infof(f string, a ...any)  { NewHelper(GetLogger()).Infof(f, a...) }
func Warn(args ...any)          { NewHelper(GetLogger()).Warn(args...) }
func Warnf(f string, a ...any)  { NewHelper(GetLogger()).Warnf(f, a...) }
func Error(args ...any)         { NewHelper(GetLogger()).Error(args...) }
func Errorf(f string, a ...any) { NewHelper(GetLogger()).Errorf(f, a...) }
func Fatal(args ...any)         { NewHelper(GetLogger()).Fatal(args...) }
func Fatalf(f string, a ...any) { NewHelper(GetLogger()).Fatalf(f, a...) }
func Errorw(keyvals ...any)     { NewHelper(GetLogger()).Errorw(keyvals...) }

// Flush drains any buffered writer (lumberjack has none, kept for
// symmetry with the Close-on-shutdown call sites).
func Flush() {}
