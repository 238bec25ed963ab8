// Package logging provides a minimal logging interface and adapters for agentstep.
//
// The Logger interface defines the standard logging methods (Debug, Info, Warn, Error)
// that the engine, backends and tools use for observability. This package includes:
//
//   - Logger interface for dependency injection
//   - SlogAdapter wrapping Go's structured logging
//   - StepLogger with chat / agent context and domain helpers
//   - NoOpLogger for silent operation (testing, minimal setups)
//
// Usage:
//
//	logger := logging.NewSlogLogger(logging.LogLevelInfo, "json", false)
//	eng := engine.New(func(o *engine.Options) { o.Logger = logger })
//
// Messages use a dotted event style ("step.complete", "tool.call.error") with
// key/value pairs as arguments.
package logging
