// Package config loads squish settings from flags, SQUISH_* environment
// variables, a YAML config file and built-in defaults, in that order of
// precedence.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"

	"github.com/holon-run/squish/pkg/errors"
)

// EnvPrefix prefixes every environment variable squish reads; dots in keys
// become underscores, so log.level is SQUISH_LOG_LEVEL.
const EnvPrefix = "SQUISH"

// RepoConfigName is the per-repository config file, looked up in the
// working tree root.
const RepoConfigName = ".squish.yaml"

// Config is the complete squish configuration.
type Config struct {
	// Backend selects the repository backend: "gogit" or "git".
	Backend string `mapstructure:"backend"`
	// Output selects the report format: "text", "json" or "yaml".
	Output  string        `mapstructure:"output"`
	Log     LogConfig     `mapstructure:"log"`
	Signing SigningConfig `mapstructure:"signing"`
	Message MessageConfig `mapstructure:"message"`
	Commit  CommitConfig  `mapstructure:"commit"`
}

// LogConfig controls diagnostics on stderr.
type LogConfig struct {
	// Level is one of debug, info, progress, minimal, warn, error.
	Level string `mapstructure:"level"`
	// Format is "console" or "json".
	Format string `mapstructure:"format"`
}

// SigningConfig controls commit signing.
type SigningConfig struct {
	// Mode is "auto" (follow commit.gpgsign), "always" or "never".
	Mode string `mapstructure:"mode"`
	// Key overrides user.signingkey.
	Key string `mapstructure:"key"`
	// Keyring is the OpenPGP keyring the gogit backend signs with.
	Keyring string `mapstructure:"keyring"`
	// PassphraseEnv names the environment variable holding the key passphrase.
	PassphraseEnv string `mapstructure:"passphrase_env"`
}

// MessageConfig controls the composed commit message.
type MessageConfig struct {
	// Style is "summary" or "first".
	Style string `mapstructure:"style"`
}

// CommitConfig controls the squashed commit.
type CommitConfig struct {
	PreserveAuthor bool `mapstructure:"preserve_author"`
	SkipEmpty      bool `mapstructure:"skip_empty"`
}

// Signing modes.
const (
	SigningAuto   = "auto"
	SigningAlways = "always"
	SigningNever  = "never"
)

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Backend: "gogit",
		Output:  "text",
		Log: LogConfig{
			Level:  "progress",
			Format: "console",
		},
		Signing: SigningConfig{
			Mode:          SigningAuto,
			PassphraseEnv: "SQUISH_SIGNING_PASSPHRASE",
		},
		Message: MessageConfig{
			Style: "summary",
		},
	}
}

// New returns a viper instance with defaults registered and SQUISH_*
// environment variables bound.
func New() *viper.Viper {
	v := viper.New()
	SetDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// SetDefaults registers every key with its default so environment
// variables and Unmarshal see the full key set.
func SetDefaults(v *viper.Viper) {
	defaults := Default()

	v.SetDefault("backend", defaults.Backend)
	v.SetDefault("output", defaults.Output)

	v.SetDefault("log.level", defaults.Log.Level)
	v.SetDefault("log.format", defaults.Log.Format)

	v.SetDefault("signing.mode", defaults.Signing.Mode)
	v.SetDefault("signing.key", defaults.Signing.Key)
	v.SetDefault("signing.keyring", defaults.Signing.Keyring)
	v.SetDefault("signing.passphrase_env", defaults.Signing.PassphraseEnv)

	v.SetDefault("message.style", defaults.Message.Style)

	v.SetDefault("commit.preserve_author", defaults.Commit.PreserveAuthor)
	v.SetDefault("commit.skip_empty", defaults.Commit.SkipEmpty)
}

// ReadFile loads the config file into v. An explicit path must exist;
// otherwise the repository's .squish.yaml and then the user config file are
// tried. It returns the file used, or "" when there was none.
func ReadFile(v *viper.Viper, explicit, repoRoot string) (string, error) {
	if explicit != "" {
		v.SetConfigFile(explicit)
		if err := v.ReadInConfig(); err != nil {
			return "", fmt.Errorf("%w: read config %s: %v", errors.ErrInvalidConfig, explicit, err)
		}
		return explicit, nil
	}

	var candidates []string
	if repoRoot != "" {
		candidates = append(candidates, filepath.Join(repoRoot, RepoConfigName))
	}
	candidates = append(candidates, ConfigFile())

	for _, path := range candidates {
		if _, err := os.Stat(path); err != nil {
			continue
		}
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return "", fmt.Errorf("%w: read config %s: %v", errors.ErrInvalidConfig, path, err)
		}
		return path, nil
	}
	return "", nil
}

// Load unmarshals v into a Config and validates it.
func Load(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("%w: %v", errors.ErrInvalidConfig, err)
	}

	if errs := cfg.Validate(); len(errs) > 0 {
		return nil, ValidationErrors(errs)
	}
	return &cfg, nil
}

// ConfigDir returns the user's squish config directory.
func ConfigDir() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "squish")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".squish"
	}
	return filepath.Join(home, ".config", "squish")
}

// ConfigFile returns the path of the user config file.
func ConfigFile() string {
	return filepath.Join(ConfigDir(), "config.yaml")
}

// Sign turns the signing mode into a per-run override: nil follows git's
// commit.gpgsign.
func (c *Config) Sign() *bool {
	var v bool
	switch c.Signing.Mode {
	case SigningAlways:
		v = true
	case SigningNever:
		v = false
	default:
		return nil
	}
	return &v
}

// Passphrase returns the signing key passphrase from the configured
// environment variable.
func (c *Config) Passphrase() string {
	if c.Signing.PassphraseEnv == "" {
		return ""
	}
	return os.Getenv(c.Signing.PassphraseEnv)
}
