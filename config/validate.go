package config

import (
	"fmt"
	"strings"

	"go.uber.org/zap/zapcore"
)

// maxMemoryPages is the wasm32 address space in 64KiB pages.
const maxMemoryPages = 65536

// ValidationError accumulates configuration problems.
type ValidationError struct {
	Errors []string
}

func (v *ValidationError) Error() string {
	return "config validation failed:\n  - " + strings.Join(v.Errors, "\n  - ")
}

// HasErrors reports whether any problem has been recorded.
func (v *ValidationError) HasErrors() bool {
	return len(v.Errors) > 0
}

// Add records a formatted problem.
func (v *ValidationError) Add(format string, args ...any) {
	v.Errors = append(v.Errors, fmt.Sprintf(format, args...))
}

// Validate checks cfg and returns a *ValidationError listing every problem.
func Validate(cfg *Config) error {
	ve := &ValidationError{}
	validateLog(cfg.Log, ve)

	if cfg.MemoryLimitPages > maxMemoryPages {
		ve.Add("memory_limit_pages must be <= %d, got %d", maxMemoryPages, cfg.MemoryLimitPages)
	}
	switch cfg.Stdout {
	case StdoutDiscard, StdoutInherit:
	default:
		ve.Add("stdout must be %q or %q, got %q", StdoutDiscard, StdoutInherit, cfg.Stdout)
	}
	for i, p := range cfg.Preopens {
		if p.Host == "" {
			ve.Add("preopens[%d].host is required", i)
		}
		if !strings.HasPrefix(p.Guest, "/") {
			ve.Add("preopens[%d].guest must be an absolute path, got %q", i, p.Guest)
		}
	}
	for k := range cfg.Env {
		if k == "" || strings.Contains(k, "=") {
			ve.Add("env key %q is invalid", k)
		}
	}

	if ve.HasErrors() {
		return ve
	}
	return nil
}

func validateLog(cfg LogConfig, ve *ValidationError) {
	if _, err := zapcore.ParseLevel(cfg.Level); err != nil {
		ve.Add("log.level: %v", err)
	}
	switch cfg.Format {
	case "console", "json":
	default:
		ve.Add("log.format must be console or json, got %q", cfg.Format)
	}
	if cfg.Output == "" {
		ve.Add("log.output is required")
	}
}
