// Package config loads and validates the bridge configuration. The
// canonical form is a JSON document (config.json); a YAML form with the
// same keys is accepted for people who keep everything in YAML. Both
// support ${VAR} and ${VAR:-default} environment expansion.
package config

import "time"

// Defaults for optional fields.
const (
	DefaultHost            = "127.0.0.1"
	DefaultPort            = 7888
	DefaultApprovalTimeout = 300
	DefaultPollingTimeout  = 30
	DefaultAPIURL          = "https://api.telegram.org"
)

// Config is the bridge configuration.
type Config struct {
	// TelegramBotToken authenticates the bot against the Bot API.
	TelegramBotToken string `json:"telegram_bot_token" yaml:"telegram_bot_token"`

	// TelegramChatID is the sole authorized operator chat.
	TelegramChatID int64 `json:"telegram_chat_id" yaml:"telegram_chat_id"`

	// BridgeHost is the HTTP bind address for the hook API. Keep it on
	// loopback: binding is the only authentication hooks get.
	BridgeHost string `json:"bridge_host" yaml:"bridge_host"`

	// BridgePort is the hook API port.
	BridgePort int `json:"bridge_port" yaml:"bridge_port"`

	// ApprovalTimeoutSeconds is the default /approve deadline.
	ApprovalTimeoutSeconds int `json:"approval_timeout_seconds" yaml:"approval_timeout_seconds"`

	// LogLevel is one of debug, info, warn, error.
	LogLevel string `json:"log_level" yaml:"log_level"`

	// TelegramAPIURL overrides the Bot API base URL (tests, proxies).
	TelegramAPIURL string `json:"telegram_api_url" yaml:"telegram_api_url"`

	// PollingTimeoutSeconds is the getUpdates long-poll window.
	PollingTimeoutSeconds int `json:"polling_timeout_seconds" yaml:"polling_timeout_seconds"`

	// ReminderSchedule is a cron expression for the pending-approval
	// reminder. Empty disables it.
	ReminderSchedule string `json:"reminder_schedule" yaml:"reminder_schedule"`

	// OTLPEndpoint enables trace export when set (host:port of an
	// OTLP/HTTP collector). Empty disables tracing.
	OTLPEndpoint string `json:"otlp_endpoint" yaml:"otlp_endpoint"`
}

// ApprovalTimeout returns the default approval deadline as a Duration.
func (c *Config) ApprovalTimeout() time.Duration {
	return time.Duration(c.ApprovalTimeoutSeconds) * time.Second
}

// applyDefaults fills unset optional fields.
func (c *Config) applyDefaults() {
	if c.BridgeHost == "" {
		c.BridgeHost = DefaultHost
	}
	if c.BridgePort == 0 {
		c.BridgePort = DefaultPort
	}
	if c.ApprovalTimeoutSeconds == 0 {
		c.ApprovalTimeoutSeconds = DefaultApprovalTimeout
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.TelegramAPIURL == "" {
		c.TelegramAPIURL = DefaultAPIURL
	}
	if c.PollingTimeoutSeconds == 0 {
		c.PollingTimeoutSeconds = DefaultPollingTimeout
	}
}
