package logger

// Logger is the structured logging surface used by the engine and stores.
// Arguments after msg are alternating key/value pairs.
type Logger interface {
	Debug(msg string, keyvals ...any)
	Info(msg string, keyvals ...any)
	Warn(msg string, keyvals ...any)
	Error(msg string, keyvals ...any)
}

// TraceIDFunc generates a correlation ID for each check.
type TraceIDFunc func() string // It should be cheap and safe for concurrent calls.
