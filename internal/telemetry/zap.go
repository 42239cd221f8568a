package telemetry

import (
	"context"

	"go.uber.org/zap"
)

// ZapLogger adapts a *zap.Logger to the Logger interface. Keyvals are passed
// through to zap's sugared API, which accepts alternating key/value pairs.
type ZapLogger struct {
	base *zap.SugaredLogger
}

// NewZapLogger wraps base for use as the runtime's production logger. When
// base is nil, zap's default production logger is used.
func NewZapLogger(base *zap.Logger) Logger {
	if base == nil {
		base, _ = zap.NewProduction()
	}
	return &ZapLogger{base: base.Sugar()}
}

func (l *ZapLogger) Debug(ctx context.Context, msg string, keyvals ...any) {
	l.base.Debugw(msg, withTraceFields(ctx, keyvals)...)
}

func (l *ZapLogger) Info(ctx context.Context, msg string, keyvals ...any) {
	l.base.Infow(msg, withTraceFields(ctx, keyvals)...)
}

func (l *ZapLogger) Warn(ctx context.Context, msg string, keyvals ...any) {
	l.base.Warnw(msg, withTraceFields(ctx, keyvals)...)
}

func (l *ZapLogger) Error(ctx context.Context, msg string, keyvals ...any) {
	l.base.Errorw(msg, withTraceFields(ctx, keyvals)...)
}

// withTraceFields appends the correlation id attached by WithCorrelationID,
// when present, so log lines can be
// correlated with traces without every call site threading it through.
func withTraceFields(ctx context.Context, keyvals []any) []any {
	if ctx == nil {
		return keyvals
	}
	if cid, ok := ctx.Value(correlationIDKey{}).(string); ok && cid != "" {
		return append(append([]any{}, keyvals...), "correlation_id", cid)
	}
	return keyvals
}

type correlationIDKey struct{}

// WithCorrelationID attaches a correlation id to ctx so loggers created from
// it automatically tag log lines for cross-service tracing.
func WithCorrelationID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, correlationIDKey{}, id)
}
