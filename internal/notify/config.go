package notify

import (
	"errors"
	"strings"
	"time"

	"github.com/animus-labs/release-registry/internal/platform/env"
)

// TelegramConfig enables release announcements when Token is set.
type TelegramConfig struct {
	Token  string
	ChatID int64
	// Timeout bounds every Bot API call.
	Timeout time.Duration
}

func TelegramConfigFromEnv() (TelegramConfig, error) {
	chatID, err := env.Int64("RELEASES_TELEGRAM_CHAT_ID", 0)
	if err != nil {
		return TelegramConfig{}, err
	}
	timeout, err := env.Duration("RELEASES_TELEGRAM_TIMEOUT", 5*time.Second)
	if err != nil {
		return TelegramConfig{}, err
	}
	cfg := TelegramConfig{
		Token:   env.String("RELEASES_TELEGRAM_TOKEN", ""),
		ChatID:  chatID,
		Timeout: timeout,
	}
	if err := cfg.Validate(); err != nil {
		return TelegramConfig{}, err
	}
	return cfg, nil
}

func (c TelegramConfig) Enabled() bool {
	return strings.TrimSpace(c.Token) != ""
}

func (c TelegramConfig) Validate() error {
	if c.Enabled() && c.ChatID == 0 {
		return errors.New("RELEASES_TELEGRAM_CHAT_ID is required when RELEASES_TELEGRAM_TOKEN is set")
	}
	if c.Enabled() && c.Timeout <= 0 {
		return errors.New("RELEASES_TELEGRAM_TIMEOUT must be positive")
	}
	return nil
}
