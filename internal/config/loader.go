package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

// envPattern matches ${VAR} and ${VAR:-default} expressions.
var envPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(?::-((?:[^}\\]|\\.)*))?\}`)

// tokenPattern matches the Telegram bot token format: <digits>:<alphanum+dash>.
var tokenPattern = regexp.MustCompile(`^\d+:[A-Za-z0-9_-]+$`)

// ErrNotFound marks a missing configuration file. The CLI turns it
// into copy-the-example guidance.
var ErrNotFound = errors.New("config file not found")

// Load reads a configuration file (JSON or YAML by extension), expands
// environment variables, applies defaults, and validates the result.
func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config: %s: %w", path, ErrNotFound)
		}
		return nil, fmt.Errorf("config: reading %s: %w", path, err)
	}

	expanded, err := expandEnv(raw)
	if err != nil {
		return nil, fmt.Errorf("config: expanding variables in %s: %w", path, err)
	}

	var cfg Config
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(expanded, &cfg); err != nil {
			return nil, fmt.Errorf("config: parsing %s: %w", path, err)
		}
	default:
		if err := json.Unmarshal(expanded, &cfg); err != nil {
			return nil, fmt.Errorf("config: parsing %s: %w", path, err)
		}
	}

	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// ResolvePath searches for a config file in standard locations.
// Search order: $XDG_CONFIG_HOME/clawbridge/config.{json,yaml} →
// ~/.config/clawbridge/config.{json,yaml} → ./config.json → ./config.yaml
func ResolvePath() (string, error) {
	var candidates []string

	base := ""
	if xdg, ok := os.LookupEnv("XDG_CONFIG_HOME"); ok {
		base = filepath.Join(xdg, "clawbridge")
	} else if home, err := os.UserHomeDir(); err == nil {
		base = filepath.Join(home, ".config", "clawbridge")
	}
	if base != "" {
		candidates = append(candidates,
			filepath.Join(base, "config.json"),
			filepath.Join(base, "config.yaml"),
		)
	}
	candidates = append(candidates, "config.json", "config.yaml")

	for _, path := range candidates {
		if _, err := os.Stat(path); err == nil {
			return path, nil
		}
	}

	return "", fmt.Errorf("config: no configuration file found (searched: %v): %w", candidates, ErrNotFound)
}

// Validate checks field constraints after defaults have been applied.
func (c *Config) Validate() error {
	if c.TelegramBotToken == "" {
		return errors.New("config: telegram_bot_token is required")
	}
	if !tokenPattern.MatchString(c.TelegramBotToken) {
		return errors.New("config: telegram_bot_token format invalid (expected <bot_id>:<hash>)")
	}
	if c.TelegramChatID == 0 {
		return errors.New("config: telegram_chat_id is required")
	}
	if c.BridgePort < 1 || c.BridgePort > 65535 {
		return fmt.Errorf("config: bridge_port must be 1-65535, got %d", c.BridgePort)
	}
	if c.ApprovalTimeoutSeconds < 1 {
		return fmt.Errorf("config: approval_timeout_seconds must be positive, got %d", c.ApprovalTimeoutSeconds)
	}
	if c.PollingTimeoutSeconds < 0 || c.PollingTimeoutSeconds > 50 {
		return fmt.Errorf("config: polling_timeout_seconds must be 0-50, got %d", c.PollingTimeoutSeconds)
	}
	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("config: log_level must be debug|info|warn|error, got %q", c.LogLevel)
	}
	if c.TelegramAPIURL != "" {
		u, err := url.Parse(c.TelegramAPIURL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
			return fmt.Errorf("config: telegram_api_url must be a valid http/https URL, got %q", c.TelegramAPIURL)
		}
	}
	return nil
}

// expandEnv replaces ${VAR} and ${VAR:-default} patterns in raw bytes.
// Returns an error listing all unresolved variables (no default, no env value).
func expandEnv(raw []byte) ([]byte, error) {
	var errs []error

	result := envPattern.ReplaceAllFunc(raw, func(match []byte) []byte {
		subs := envPattern.FindSubmatch(match)
		name := string(subs[1])
		hasDefault := len(subs) > 2 && subs[2] != nil
		defaultVal := ""
		if hasDefault {
			defaultVal = string(subs[2])
		}

		value, ok := os.LookupEnv(name)
		if ok {
			return []byte(value)
		}

		if hasDefault {
			return []byte(defaultVal)
		}

		errs = append(errs, fmt.Errorf("unresolved variable: %s", name))
		return match
	})

	return result, errors.Join(errs...)
}
