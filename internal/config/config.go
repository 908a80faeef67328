package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/werkbank-io/werkbank/pkg/protocol"
)

// Config is the top-level werkbank configuration.
type Config struct {
	Workspace Workspace                 `json:"workspace"`
	Agents    []protocol.AgentSpec      `json:"agents"`
	Providers map[string]ProviderConfig `json:"providers"`
	Notifiers NotifierConfig            `json:"notifiers"`
	API       APIConfig                 `json:"api"`
}

// Workspace holds daemon-level settings.
type Workspace struct {
	ID      string `json:"id"`
	DataDir string `json:"data_dir"`
	PIIMode string `json:"pii_mode,omitempty"` // mask (default), hash or remove
}

// ProviderConfig holds LLM provider settings. RPS and Burst bound the
// client-side request rate; zero disables the limiter.
type ProviderConfig struct {
	Type    string  `json:"type,omitempty"` // "openai" (default) or "anthropic"
	APIKey  string  `json:"api_key"`
	BaseURL string  `json:"base_url,omitempty"`
	Model   string  `json:"model"`
	RPS     float64 `json:"rps,omitempty"`
	Burst   int     `json:"burst,omitempty"`
}

// NotifierConfig holds settings for operator alert channels.
type NotifierConfig struct {
	Telegram *TelegramConfig `json:"telegram,omitempty"`
	Slack    *SlackConfig    `json:"slack,omitempty"`
}

// TelegramConfig holds Telegram alert settings.
type TelegramConfig struct {
	Token  string `json:"token"`
	ChatID int64  `json:"chat_id"`
}

// SlackConfig holds Slack alert settings.
type SlackConfig struct {
	BotToken string `json:"bot_token"`
	Channel  string `json:"channel"`
}

// APIConfig holds REST API server settings.
type APIConfig struct {
	Host string `json:"host"`
	Port int    `json:"port"`
	Key  string `json:"api_key"`
}

// Load reads configuration from a JSON file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}

	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// LoadFromEnv builds a minimal config from environment variables with
// WERKBANK_ prefix. Agents cannot be declared this way; env-only setups get
// an empty roster and register agents through the API.
func LoadFromEnv() (*Config, error) {
	cfg := &Config{
		Workspace: Workspace{
			ID:      getenv("WERKBANK_WORKSPACE_ID", "default"),
			DataDir: getenv("WERKBANK_DATA_DIR", "/data"),
			PIIMode: getenv("WERKBANK_PII_MODE", "mask"),
		},
		Providers: make(map[string]ProviderConfig),
		API: APIConfig{
			Host: getenv("WERKBANK_API_HOST", "0.0.0.0"),
			Port: getenvInt("WERKBANK_API_PORT", 8080),
			Key:  os.Getenv("WERKBANK_API_KEY"),
		},
	}

	if apiKey := os.Getenv("WERKBANK_ANTHROPIC_API_KEY"); apiKey != "" {
		cfg.Providers["default"] = ProviderConfig{
			Type:   "anthropic",
			APIKey: apiKey,
			Model:  getenv("WERKBANK_MODEL", "claude-sonnet-4-20250514"),
		}
	} else if apiKey := os.Getenv("WERKBANK_OPENAI_API_KEY"); apiKey != "" {
		cfg.Providers["default"] = ProviderConfig{
			Type:    "openai",
			APIKey:  apiKey,
			BaseURL: os.Getenv("WERKBANK_OPENAI_BASE_URL"),
			Model:   getenv("WERKBANK_MODEL", "gpt-4o-mini"),
		}
	}

	if token := os.Getenv("WERKBANK_TELEGRAM_TOKEN"); token != "" {
		chatID, err := strconv.ParseInt(os.Getenv("WERKBANK_TELEGRAM_CHAT_ID"), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("config: WERKBANK_TELEGRAM_CHAT_ID: %w", err)
		}
		cfg.Notifiers.Telegram = &TelegramConfig{Token: token, ChatID: chatID}
	}

	if botToken := os.Getenv("WERKBANK_SLACK_BOT_TOKEN"); botToken != "" {
		cfg.Notifiers.Slack = &SlackConfig{
			BotToken: botToken,
			Channel:  os.Getenv("WERKBANK_SLACK_CHANNEL"),
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Workspace.PIIMode == "" {
		c.Workspace.PIIMode = "mask"
	}
	if c.API.Host == "" {
		c.API.Host = "0.0.0.0"
	}
	if c.API.Port == 0 {
		c.API.Port = 8080
	}
}

// Validate checks for required fields.
func (c *Config) Validate() error {
	var errs []string

	if c.Workspace.ID == "" {
		errs = append(errs, "workspace.id is required")
	}
	if c.Workspace.DataDir == "" {
		errs = append(errs, "workspace.data_dir is required")
	}
	switch c.Workspace.PIIMode {
	case "mask", "hash", "remove":
	default:
		errs = append(errs, fmt.Sprintf("workspace.pii_mode %q is not one of mask, hash, remove", c.Workspace.PIIMode))
	}

	for name, p := range c.Providers {
		if p.APIKey == "" {
			errs = append(errs, fmt.Sprintf("providers.%s.api_key is required", name))
		}
		switch p.Type {
		case "", "openai", "anthropic":
		default:
			errs = append(errs, fmt.Sprintf("providers.%s.type %q is not one of openai, anthropic", name, p.Type))
		}
	}

	seen := make(map[string]bool)
	for i, a := range c.Agents {
		if a.ID == "" {
			errs = append(errs, fmt.Sprintf("agents[%d].id is required", i))
			continue
		}
		if a.ID == protocol.OperatorID {
			errs = append(errs, fmt.Sprintf("agents[%d].id %q is reserved", i, a.ID))
		}
		if seen[a.ID] {
			errs = append(errs, fmt.Sprintf("agents[%d].id %q is duplicated", i, a.ID))
		}
		seen[a.ID] = true
		if a.Provider != "" {
			if _, ok := c.Providers[a.Provider]; !ok {
				errs = append(errs, fmt.Sprintf("agents[%d].provider references unknown provider %q", i, a.Provider))
			}
		}
	}

	if c.Notifiers.Telegram != nil {
		if c.Notifiers.Telegram.Token == "" {
			errs = append(errs, "notifiers.telegram.token is required")
		}
		if c.Notifiers.Telegram.ChatID == 0 {
			errs = append(errs, "notifiers.telegram.chat_id is required")
		}
	}
	if c.Notifiers.Slack != nil {
		if c.Notifiers.Slack.BotToken == "" {
			errs = append(errs, "notifiers.slack.bot_token is required")
		}
		if c.Notifiers.Slack.Channel == "" {
			errs = append(errs, "notifiers.slack.channel is required")
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getenvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}
