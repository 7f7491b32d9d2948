package config

import (
	"fmt"
	"strings"
)

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("config: %s: %s", e.Field, e.Message)
}

// ValidationErrors is a collection of validation errors.
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return ""
	}
	var msgs []string
	for _, err := range e {
		msgs = append(msgs, err.Error())
	}
	return strings.Join(msgs, "; ")
}

// Validate checks the configuration for malformed values. Validation runs
// before any filter chain rebuild, so a bad config never tears down a
// working chain.
func Validate(c *Config) error {
	var errs ValidationErrors

	if c.Features.SlowKeysThresholdMs < 0 {
		errs = append(errs, ValidationError{
			Field:   "features.slow_keys_threshold_ms",
			Message: fmt.Sprintf("must be >= 0, got %d", c.Features.SlowKeysThresholdMs),
		})
	}
	if c.Features.BounceKeysThresholdMs < 0 {
		errs = append(errs, ValidationError{
			Field:   "features.bounce_keys_threshold_ms",
			Message: fmt.Sprintf("must be >= 0, got %d", c.Features.BounceKeysThresholdMs),
		})
	}

	switch strings.ToLower(c.Logging.Level) {
	case "", "debug", "info", "warn", "warning", "error":
	default:
		errs = append(errs, ValidationError{
			Field:   "logging.level",
			Message: fmt.Sprintf("unknown level %q", c.Logging.Level),
		})
	}

	switch strings.ToLower(c.Logging.Format) {
	case "", "text", "json":
	default:
		errs = append(errs, ValidationError{
			Field:   "logging.format",
			Message: fmt.Sprintf("unknown format %q", c.Logging.Format),
		})
	}

	if len(errs) > 0 {
		return errs
	}
	return nil
}
