package authz

import "github.com/oarkflow/wsauthz/logger"

// Logger is re-exported for callers that only import the root package.
type Logger = logger.Logger

// WithLogger installs a Logger on the Engine via EngineOption
func WithLogger(l logger.Logger) EngineOption {
	return func(e *Engine) error {
		if l != nil {
			e.logger = l
		}
		return nil
	}
}

// WithTraceIDFunc installs a custom trace ID generator on the engine.
func WithTraceIDFunc(f logger.TraceIDFunc) EngineOption {
	return func(e *Engine) error {
		if f != nil {
			e.traceIDFunc = f
		}
		return nil
	}
}
