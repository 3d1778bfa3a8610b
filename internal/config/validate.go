package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"
)

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// minWatchInterval bounds how hard watch mode may poll efm.
const minWatchInterval = 500 * time.Millisecond

// Validate checks the configuration for errors and inconsistencies.
// Returns nil if valid, or an error describing the problem.
//
// Unset efm settings are not an error here; they surface as
// efm.ErrConfiguration when an operation is attempted.
func Validate(cfg *Config) error {
	var errs []error

	// Paths must be absolute when set
	if cfg.CommandPath != "" && !filepath.IsAbs(cfg.CommandPath) {
		errs = append(errs, ValidationError{
			Field:   "command_path",
			Message: fmt.Sprintf("must be an absolute path (got %q)", cfg.CommandPath),
		})
	}
	if cfg.PropertiesDir != "" && !filepath.IsAbs(cfg.PropertiesDir) {
		errs = append(errs, ValidationError{
			Field:   "properties_dir",
			Message: fmt.Sprintf("must be an absolute path (got %q)", cfg.PropertiesDir),
		})
	}

	// Cluster name ends up in a file name and on a command line
	if cfg.ClusterName != "" && !isPlainName(cfg.ClusterName) {
		errs = append(errs, ValidationError{
			Field:   "cluster_name",
			Message: fmt.Sprintf("may only contain letters, digits, '.', '_' and '-' (got %q)", cfg.ClusterName),
		})
	}

	if cfg.CatPath == "" {
		errs = append(errs, ValidationError{
			Field:   "cat_path",
			Message: "must not be empty",
		})
	}

	for _, uid := range cfg.AllowedUIDs {
		if uid < 0 {
			errs = append(errs, ValidationError{
				Field:   "allowed_uids",
				Message: fmt.Sprintf("must be non-negative (got %d)", uid),
			})
		}
	}

	// Log format must be valid
	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[cfg.LogFormat] {
		errs = append(errs, ValidationError{
			Field:   "log_format",
			Message: fmt.Sprintf("must be 'json' or 'text' (got %q)", cfg.LogFormat),
		})
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "warning": true, "error": true}
	if !validLevels[strings.ToLower(cfg.LogLevel)] {
		errs = append(errs, ValidationError{
			Field:   "log_level",
			Message: fmt.Sprintf("must be one of: debug, info, warn, error (got %q)", cfg.LogLevel),
		})
	}

	// Watch settings
	if cfg.WatchInterval < minWatchInterval {
		errs = append(errs, ValidationError{
			Field:   "watch_interval",
			Message: fmt.Sprintf("must be at least %v (got %v)", minWatchInterval, cfg.WatchInterval),
		})
	}
	validModes := map[string]bool{"text": true, "json": true}
	if !validModes[cfg.WatchMode] {
		errs = append(errs, ValidationError{
			Field:   "watch_mode",
			Message: fmt.Sprintf("must be 'text' or 'json' (got %q)", cfg.WatchMode),
		})
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}

	return nil
}

// isPlainName reports whether s consists only of [A-Za-z0-9._-].
func isPlainName(s string) bool {
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		case r == '.' || r == '_' || r == '-':
		default:
			return false
		}
	}
	return true
}
