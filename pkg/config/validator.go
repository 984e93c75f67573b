package config

import (
	"fmt"
	"slices"
	"strings"

	"github.com/holon-run/squish/pkg/errors"
	holonlog "github.com/holon-run/squish/pkg/log"
	"github.com/holon-run/squish/pkg/squash"
)

// ValidationError is a single invalid setting.
type ValidationError struct {
	Field   string // config key, e.g. "signing.mode"
	Value   any
	Message string
}

// Error implements the error interface for ValidationError
func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s (got: %v)", e.Field, e.Message, e.Value)
}

// ValidationErrors is a collection of validation errors. It matches
// errors.ErrInvalidConfig.
type ValidationErrors []ValidationError

// Error implements the error interface for ValidationErrors
func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return ""
	}
	if len(e) == 1 {
		return e[0].Error()
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("%d validation errors:\n", len(e)))
	for i, err := range e {
		sb.WriteString(fmt.Sprintf("  %d. %s\n", i+1, err.Error()))
	}
	return sb.String()
}

// Unwrap lets errors.Is match ErrInvalidConfig.
func (e ValidationErrors) Unwrap() error {
	return errors.ErrInvalidConfig
}

// ValidBackends returns the accepted backend names.
func ValidBackends() []string {
	return []string{"gogit", "git"}
}

// ValidOutputs returns the accepted report formats.
func ValidOutputs() []string {
	return []string{"text", "json", "yaml"}
}

// ValidSigningModes returns the accepted signing modes.
func ValidSigningModes() []string {
	return []string{SigningAuto, SigningAlways, SigningNever}
}

// ValidLogFormats returns the accepted log encodings.
func ValidLogFormats() []string {
	return []string{"console", "json"}
}

// Validate checks every setting and returns all problems found.
func (c *Config) Validate() []ValidationError {
	var errs []ValidationError

	if !slices.Contains(ValidBackends(), c.Backend) {
		errs = append(errs, ValidationError{
			Field:   "backend",
			Value:   c.Backend,
			Message: fmt.Sprintf("must be one of: %s", strings.Join(ValidBackends(), ", ")),
		})
	}
	if !slices.Contains(ValidOutputs(), c.Output) {
		errs = append(errs, ValidationError{
			Field:   "output",
			Value:   c.Output,
			Message: fmt.Sprintf("must be one of: %s", strings.Join(ValidOutputs(), ", ")),
		})
	}

	errs = append(errs, c.validateLog()...)
	errs = append(errs, c.validateSigning()...)

	if !slices.Contains(squash.MessageStyles(), squash.MessageStyle(c.Message.Style)) {
		var names []string
		for _, s := range squash.MessageStyles() {
			names = append(names, string(s))
		}
		errs = append(errs, ValidationError{
			Field:   "message.style",
			Value:   c.Message.Style,
			Message: fmt.Sprintf("must be one of: %s", strings.Join(names, ", ")),
		})
	}

	return errs
}

func (c *Config) validateLog() []ValidationError {
	var errs []ValidationError
	if !holonlog.IsValidLevel(c.Log.Level) {
		var names []string
		for _, l := range holonlog.Levels() {
			names = append(names, string(l))
		}
		errs = append(errs, ValidationError{
			Field:   "log.level",
			Value:   c.Log.Level,
			Message: fmt.Sprintf("must be one of: %s", strings.Join(names, ", ")),
		})
	}
	if !slices.Contains(ValidLogFormats(), c.Log.Format) {
		errs = append(errs, ValidationError{
			Field:   "log.format",
			Value:   c.Log.Format,
			Message: fmt.Sprintf("must be one of: %s", strings.Join(ValidLogFormats(), ", ")),
		})
	}
	return errs
}

func (c *Config) validateSigning() []ValidationError {
	var errs []ValidationError
	if !slices.Contains(ValidSigningModes(), c.Signing.Mode) {
		errs = append(errs, ValidationError{
			Field:   "signing.mode",
			Value:   c.Signing.Mode,
			Message: fmt.Sprintf("must be one of: %s", strings.Join(ValidSigningModes(), ", ")),
		})
	}
	if c.Signing.Keyring != "" && c.Backend == "git" {
		errs = append(errs, ValidationError{
			Field:   "signing.keyring",
			Value:   c.Signing.Keyring,
			Message: "only used by the gogit backend; git signs through gpg",
		})
	}
	return errs
}
