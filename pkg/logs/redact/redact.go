// Package redact scrubs signing secrets from text before squish prints it.
// Backend error messages can echo gpg output, environment assignments or
// armored key material; none of it belongs on a terminal or in CI logs.
package redact

import (
	"fmt"
	"os"
	"regexp"
	"strings"
)

// Mode represents the redaction mode.
type Mode string

const (
	// ModeOff disables redaction.
	ModeOff Mode = "off"
	// ModeBasic redacts private key blocks, secret-looking env assignments
	// and registered secret values (default).
	ModeBasic Mode = "basic"
)

const defaultReplacement = "***REDACTED***"

// Redactor handles log redaction.
type Redactor struct {
	mode        Mode
	customKeys  []string
	secrets     []string
	replacement string
}

// Config holds configuration for a Redactor.
type Config struct {
	Mode        Mode   // Redaction mode: off, basic
	CustomKeys  string // Comma-separated list of extra env key patterns (e.g., "MY_PIN,GPG_PW")
	Secrets     []string
	Replacement string // Replacement string (default: "***REDACTED***")
}

// New creates a new Redactor with the given configuration.
func New(cfg Config) *Redactor {
	mode := cfg.Mode
	if mode == "" {
		mode = ModeBasic
	}

	replacement := cfg.Replacement
	if replacement == "" {
		replacement = defaultReplacement
	}

	var customKeys []string
	for _, key := range strings.Split(cfg.CustomKeys, ",") {
		if key = strings.TrimSpace(key); key != "" {
			customKeys = append(customKeys, key)
		}
	}

	r := &Redactor{mode: mode, customKeys: customKeys, replacement: replacement}
	for _, s := range cfg.Secrets {
		r.AddSecret(s)
	}
	return r
}

// AddSecret registers a literal value, such as a key passphrase, to redact
// wherever it appears. Values shorter than four bytes are ignored so that
// redaction cannot mangle ordinary words.
func (r *Redactor) AddSecret(secret string) {
	if len(secret) < 4 {
		return
	}
	r.secrets = append(r.secrets, secret)
}

// Redact returns s with sensitive content replaced.
func (r *Redactor) Redact(s string) string {
	if r.mode == ModeOff {
		return s
	}
	s = r.redactPEMBlocks(s)
	s = r.redactEnvKeyValues(s)
	for _, secret := range r.secrets {
		s = strings.ReplaceAll(s, secret, r.replacement)
	}
	return s
}

// Error redacts err's message. It returns "" for a nil error.
func (r *Redactor) Error(err error) string {
	if err == nil {
		return ""
	}
	return r.Redact(err.Error())
}

// redactEnvKeyValues redacts environment variable key-value pairs.
func (r *Redactor) redactEnvKeyValues(content string) string {
	patterns := []string{`_PASSPHRASE`, `_PASSWORD`, `_TOKEN`, `_SECRET`, `_KEY`}
	patterns = append(patterns, r.customKeys...)

	// Pattern for: KEY=VALUE or KEY="VALUE" or KEY='VALUE'
	for _, pattern := range patterns {
		re := regexp.MustCompile(`(\w*` + regexp.QuoteMeta(pattern) + `)\s*=\s*['"]?([^'"\s]+)['"]?`)
		content = re.ReplaceAllString(content, fmt.Sprintf("$1=%s", r.replacement))
	}
	return content
}

// redactPEMBlocks redacts armored private keys. Public keys and signatures
// are left alone.
func (r *Redactor) redactPEMBlocks(content string) string {
	re := regexp.MustCompile(`-----BEGIN [A-Z0-9 ]*PRIVATE KEY[A-Z ]*-----[\s\S]*?-----END [A-Z0-9 ]*PRIVATE KEY[A-Z ]*-----`)
	return re.ReplaceAllString(content, fmt.Sprintf("-----BEGIN REDACTED-----\n%s\n-----END REDACTED-----", r.replacement))
}

// RedactFromEnv creates a Redactor from environment variables.
// Uses SQUISH_LOG_REDACT for mode and SQUISH_LOG_REDACT_KEYS for custom keys.
func RedactFromEnv(secrets ...string) *Redactor {
	mode := Mode(os.Getenv("SQUISH_LOG_REDACT"))
	switch mode {
	case ModeOff, ModeBasic:
	default:
		mode = ModeBasic
	}

	return New(Config{
		Mode:        mode,
		CustomKeys:  os.Getenv("SQUISH_LOG_REDACT_KEYS"),
		Secrets:     secrets,
		Replacement: os.Getenv("SQUISH_LOG_REDACT_REPLACEMENT"),
	})
}
