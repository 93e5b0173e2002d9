package logger

import (
	"context"
	"time"
)

// contextKey is a private type for context keys to avoid collisions
type contextKey struct{}

// logContextKey is the key for LogContext in context.Context
var logContextKey = contextKey{}

// LogContext holds connection-scoped logging context for a single client
// session: which client, which request opcode, which file, threaded
// through a connection's handler calls so every log line it emits can be
// correlated without passing the same four arguments everywhere.
type LogContext struct {
	TraceID   string    // OpenTelemetry trace ID
	SpanID    string    // OpenTelemetry span ID
	ClientID  string    // Client UUID, hex-encoded
	Opcode    uint16    // Request opcode currently being handled
	FileName  string    // File name named by the current request, if any
	ConnAddr  string    // Remote address of the TCP connection
	StartTime time.Time // For duration calculation
}

// WithContext returns a new context with the given LogContext
func WithContext(ctx context.Context, lc *LogContext) context.Context {
	return context.WithValue(ctx, logContextKey, lc)
}

// FromContext retrieves the LogContext from context, or nil if not present
func FromContext(ctx context.Context) *LogContext {
	if ctx == nil {
		return nil
	}
	lc, _ := ctx.Value(logContextKey).(*LogContext)
	return lc
}

// NewLogContext creates a new LogContext for a freshly accepted connection.
func NewLogContext(connAddr string) *LogContext {
	return &LogContext{
		ConnAddr:  connAddr,
		StartTime: time.Now(),
	}
}

// Clone creates a copy of the LogContext
func (lc *LogContext) Clone() *LogContext {
	if lc == nil {
		return nil
	}
	return &LogContext{
		TraceID:   lc.TraceID,
		SpanID:    lc.SpanID,
		ClientID:  lc.ClientID,
		Opcode:    lc.Opcode,
		FileName:  lc.FileName,
		ConnAddr:  lc.ConnAddr,
		StartTime: lc.StartTime,
	}
}

// WithClientID returns a copy with the client ID set
func (lc *LogContext) WithClientID(clientID string) *LogContext {
	clone := lc.Clone()
	if clone != nil {
		clone.ClientID = clientID
	}
	return clone
}

// WithOpcode returns a copy with the request opcode set
func (lc *LogContext) WithOpcode(opcode uint16) *LogContext {
	clone := lc.Clone()
	if clone != nil {
		clone.Opcode = opcode
	}
	return clone
}

// WithFileName returns a copy with the file name set
func (lc *LogContext) WithFileName(name string) *LogContext {
	clone := lc.Clone()
	if clone != nil {
		clone.FileName = name
	}
	return clone
}

// WithTrace returns a copy with trace info set
func (lc *LogContext) WithTrace(traceID, spanID string) *LogContext {
	clone := lc.Clone()
	if clone != nil {
		clone.TraceID = traceID
		clone.SpanID = spanID
	}
	return clone
}

// DurationMs returns the duration since StartTime in milliseconds
func (lc *LogContext) DurationMs() float64 {
	if lc == nil || lc.StartTime.IsZero() {
		return 0
	}
	return float64(time.Since(lc.StartTime).Microseconds()) / 1000.0
}
