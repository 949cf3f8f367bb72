// Package config handles configuration parsing for sshx.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/acolita/sshx/internal/ports"
	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

// ErrConfiguration marks invalid configuration or arguments.
var ErrConfiguration = errors.New("configuration error")

// EnvPrefix is the prefix of environment overrides, e.g. SSHX_STORE_PATH.
const EnvPrefix = "SSHX"

const (
	DefaultStorePath  = "./ssh.txt"
	DefaultClient     = "ssh"
	DefaultPromptMode = "first-output"
)

// DefaultConfigPath returns the default config file path:
// $XDG_CONFIG_HOME/sshx/config.yaml or ~/.config/sshx/config.yaml
func DefaultConfigPath() string {
	dir := os.Getenv("XDG_CONFIG_HOME")
	if dir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return ""
		}
		dir = filepath.Join(home, ".config")
	}
	return filepath.Join(dir, "sshx", "config.yaml")
}

// DefaultRecordingPath returns $XDG_STATE_HOME/sshx/recordings or
// ~/.local/state/sshx/recordings.
func DefaultRecordingPath() string {
	dir := os.Getenv("XDG_STATE_HOME")
	if dir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return filepath.Join(os.TempDir(), "sshx-recordings")
		}
		dir = filepath.Join(home, ".local", "state")
	}
	return filepath.Join(dir, "sshx", "recordings")
}

// Config represents the top-level configuration.
type Config struct {
	Store           StoreConfig     `yaml:"store"`
	Session         SessionConfig   `yaml:"session"`
	PromptDetection PromptConfig    `yaml:"prompt_detection"`
	Security        SecurityConfig  `yaml:"security"`
	Logging         LoggingConfig   `yaml:"logging"`
	Recording       RecordingConfig `yaml:"recording"`
}

// StoreConfig locates the record file.
type StoreConfig struct {
	Path string `yaml:"path"`
}

// SessionConfig controls how the login client is driven.
type SessionConfig struct {
	Client     string `yaml:"client"`      // login client program
	PromptMode string `yaml:"prompt_mode"` // "first-output" or "match"
	RelayInput bool   `yaml:"relay_input"` // copy operator keystrokes to the client (match mode)
}

// PromptConfig defines prompt detection settings.
type PromptConfig struct {
	CustomPatterns []PatternConfig `yaml:"custom_patterns"`
}

// PatternConfig defines a custom prompt pattern.
type PatternConfig struct {
	Name      string `yaml:"name"`
	Regex     string `yaml:"regex"`
	Type      string `yaml:"type"`       // "password", "rejection", "confirmation", "text"
	MaskInput bool   `yaml:"mask_input"` // mask the response in recordings
}

// SecurityConfig defines where credentials may come from.
type SecurityConfig struct {
	UseKeyring    bool `yaml:"use_keyring"`    // fall back to the OS keyring
	AskCredential bool `yaml:"ask_credential"` // prompt on a terminal as a last resort
}

// LoggingConfig defines logging settings.
type LoggingConfig struct {
	Level    string `yaml:"level"`    // "debug", "info", "warn", "error"
	Sanitize bool   `yaml:"sanitize"` // sanitize sensitive data from logs
}

// RecordingConfig defines session recording settings.
type RecordingConfig struct {
	Enabled bool   `yaml:"enabled"` // record the login client's output
	Path    string `yaml:"path"`    // directory to store recordings
}

// envOverrides are read from SSHX_* variables. Empty values leave the file
// setting alone.
type envOverrides struct {
	StorePath  string `envconfig:"STORE_PATH"`
	Client     string `envconfig:"CLIENT"`
	PromptMode string `envconfig:"PROMPT_MODE"`
	LogLevel   string `envconfig:"LOG_LEVEL"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Store: StoreConfig{
			Path: DefaultStorePath,
		},
		Session: SessionConfig{
			Client:     DefaultClient,
			PromptMode: DefaultPromptMode,
		},
		Security: SecurityConfig{
			AskCredential: true,
		},
		Logging: LoggingConfig{
			Level:    "info",
			Sanitize: true,
		},
		Recording: RecordingConfig{
			Path: DefaultRecordingPath(),
		},
	}
}

// Load loads configuration from a YAML file and applies environment
// overrides. A missing file yields the defaults.
// An optional FileSystem can be passed for testing; if omitted, the real OS is used.
func Load(path string, fsys ...ports.FileSystem) (*Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		var data []byte
		var err error
		if len(fsys) > 0 && fsys[0] != nil {
			data, err = fsys[0].ReadFile(path)
		} else {
			data, err = os.ReadFile(path)
		}
		switch {
		case errors.Is(err, os.ErrNotExist):
		case err != nil:
			return nil, fmt.Errorf("read config file: %w", err)
		default:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("%w: parse config file %s: %v", ErrConfiguration, path, err)
			}
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() error {
	var env envOverrides
	if err := envconfig.Process(EnvPrefix, &env); err != nil {
		return fmt.Errorf("%w: environment: %v", ErrConfiguration, err)
	}
	if env.StorePath != "" {
		c.Store.Path = env.StorePath
	}
	if env.Client != "" {
		c.Session.Client = env.Client
	}
	if env.PromptMode != "" {
		c.Session.PromptMode = env.PromptMode
	}
	if env.LogLevel != "" {
		c.Logging.Level = env.LogLevel
	}
	return nil
}

// Validate fills empty settings with defaults and rejects invalid ones.
func (c *Config) Validate() error {
	if c.Store.Path == "" {
		c.Store.Path = DefaultStorePath
	}
	if c.Session.Client == "" {
		c.Session.Client = DefaultClient
	}
	if c.Session.PromptMode == "" {
		c.Session.PromptMode = DefaultPromptMode
	}

	switch c.Session.PromptMode {
	case "first-output", "match":
	default:
		return fmt.Errorf("%w: session.prompt_mode %q (want first-output or match)", ErrConfiguration, c.Session.PromptMode)
	}

	switch strings.ToLower(c.Logging.Level) {
	case "", "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("%w: logging.level %q", ErrConfiguration, c.Logging.Level)
	}

	for i, p := range c.PromptDetection.CustomPatterns {
		if p.Regex == "" {
			return fmt.Errorf("%w: prompt_detection.custom_patterns[%d]: empty regex", ErrConfiguration, i)
		}
		if _, err := regexp.Compile(p.Regex); err != nil {
			return fmt.Errorf("%w: prompt_detection.custom_patterns[%d]: %v", ErrConfiguration, i, err)
		}
	}

	if c.Recording.Enabled && c.Recording.Path == "" {
		return fmt.Errorf("%w: recording.path is required when recording is enabled", ErrConfiguration)
	}
	return nil
}
