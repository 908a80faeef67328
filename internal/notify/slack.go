package notify

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/slack-go/slack"
)

// SlackConfig holds Slack notifier configuration.
type SlackConfig struct {
	BotToken string // xoxb-... Bot User OAuth Token
	Channel  string // Destination channel for operator alerts
}

// Slack sends operator alerts to a Slack channel.
type Slack struct {
	api     *slack.Client
	channel string
	logger  *slog.Logger
}

// NewSlack creates a Slack notifier.
func NewSlack(cfg SlackConfig, logger *slog.Logger) (*Slack, error) {
	if cfg.BotToken == "" {
		return nil, fmt.Errorf("slack: bot_token is required")
	}
	if cfg.Channel == "" {
		return nil, fmt.Errorf("slack: channel is required")
	}

	if logger == nil {
		logger = slog.Default()
	}

	api := slack.New(cfg.BotToken)

	authResp, err := api.AuthTest()
	if err != nil {
		return nil, fmt.Errorf("slack: auth test: %w", err)
	}
	logger.Info("slack bot authorized", "user", authResp.User, "team", authResp.Team)

	return &Slack{api: api, channel: cfg.Channel, logger: logger}, nil
}

func (s *Slack) Name() string { return "slack" }

func (s *Slack) Notify(_ context.Context, alert Alert) error {
	_, _, err := s.api.PostMessage(s.channel,
		slack.MsgOptionText(FormatAlert(alert), false),
	)
	if err != nil {
		return fmt.Errorf("slack: send alert: %w", err)
	}
	return nil
}
