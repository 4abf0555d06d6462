package sandbox

import (
	"context"
	"time"
)

// Config defines sandbox configuration
type Config struct {
	Timeout          time.Duration // Execute timeout, covering any returned promise
	EnableConsole    bool          // Expose console.log/debug/info/warn/error
	MaxCallStackSize int           // Zero keeps the engine default
}

// Result holds execution result
type Result struct {
	Value    interface{}   // Return value, or the settled value of a returned promise
	Console  []LogEntry    // Console output produced while executing
	Duration time.Duration // Execution time
	Error    error         // Execution error
}

// LogEntry represents console output
type LogEntry struct {
	Level   string    // log, debug, info, warn, error
	Message string    // Log message
	Time    time.Time // Timestamp
}

// Sandbox defines the JavaScript execution interface
type Sandbox interface {
	Execute(ctx context.Context, script string) (*Result, error)
	Close() error
}

// Default configuration
func DefaultConfig() Config {
	return Config{
		Timeout:          5 * time.Second,
		EnableConsole:    true,
		MaxCallStackSize: 1024,
	}
}
