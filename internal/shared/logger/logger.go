package logger

import (
	"context"
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger is a structured JSON logger keyed by service and action.
type Logger struct {
	base  *zap.Logger
	level zap.AtomicLevel
}

// NewLogger creates a JSON logger writing to stdout at debug level.
func NewLogger(service string) *Logger {
	level := zap.NewAtomicLevelAt(zapcore.DebugLevel)

	encCfg := zapcore.EncoderConfig{
		TimeKey:        "timestamp",
		LevelKey:       "level",
		MessageKey:     "message",
		StacktraceKey:  "", // stacks go into error.stack
		LineEnding:     zapcore.DefaultLineEnding,
		EncodeLevel:    zapcore.CapitalLevelEncoder,
		EncodeTime:     zapcore.RFC3339TimeEncoder,
		EncodeDuration: zapcore.MillisDurationEncoder,
	}
	core := zapcore.NewCore(zapcore.NewJSONEncoder(encCfg), zapcore.Lock(os.Stdout), level)

	logger := New(service, core)
	logger.level = level
	return logger
}

// New builds a Logger over an arbitrary zap core (tests use zaptest/observer cores).
func New(service string, core zapcore.Core) *Logger {
	hostname, err := os.Hostname()
	if err != nil {
		hostname = "unknown"
	}

	return &Logger{
		base:  zap.New(core).With(zap.String("service", service), zap.String("hostname", hostname)),
		level: zap.NewAtomicLevelAt(zapcore.DebugLevel),
	}
}

// SetLevel changes the minimum level for loggers created with NewLogger.
func (logger *Logger) SetLevel(text string) error {
	lvl, err := zapcore.ParseLevel(text)
	if err != nil {
		return err
	}
	logger.level.SetLevel(lvl)
	return nil
}

// Sync flushes buffered entries.
func (logger *Logger) Sync() {
	_ = logger.base.Sync()
}

// Define an unexported type for context keys.
type ctxKey string

// requestIDKey is the context key for the request ID.
const requestIDKey ctxKey = "request_id"

// WithRequestID returns a context carrying a request id (useful for HTTP/mq hops).
func (logger *Logger) WithRequestID(ctx context.Context, rid string) context.Context {
	return context.WithValue(ctx, requestIDKey, rid)
}

// RequestIDFrom returns the request id saved in the context.
func RequestIDFrom(ctx context.Context) string {
	if v := ctx.Value(requestIDKey); v != nil {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

func (logger *Logger) fields(ctx context.Context, action string, details any) []zap.Field {
	fields := []zap.Field{
		zap.String("action", action),
		zap.String("request_id", RequestIDFrom(ctx)),
	}
	if details != nil {
		fields = append(fields, zap.Any("details", details))
	}
	return fields
}

// -- Logger helper functions --

func (logger *Logger) Info(ctx context.Context, action, msg string, details any) {
	logger.base.Info(msg, logger.fields(ctx, action, details)...)
}

func (logger *Logger) Debug(ctx context.Context, action, msg string, details any) {
	logger.base.Debug(msg, logger.fields(ctx, action, details)...)
}

func (logger *Logger) Error(ctx context.Context, action, msg string, err error) {
	fields := logger.fields(ctx, action, nil)
	if err != nil {
		fields = append(fields, zap.Object("error", errorObject{err: err}))
	}
	logger.base.Error(msg, fields...)
}

// errorObject renders the error as {"msg": ..., "stack": ...}.
type errorObject struct {
	err error
}

func (e errorObject) MarshalLogObject(enc zapcore.ObjectEncoder) error {
	enc.AddString("msg", e.err.Error())
	enc.AddString("stack", zap.Stack("").String)
	return nil
}
