package client

import (
	"errors"
	"net/url"
	"strings"
	"time"

	"github.com/animus-labs/release-registry/internal/platform/env"
)

type Config struct {
	BaseURL    string
	Timeout    time.Duration
	MaxRetries int

	// Client credentials for the token endpoint. Requests are sent without
	// a token when TokenURL is empty.
	TokenURL     string
	ClientID     string
	ClientSecret string
	Scopes       []string
}

func ConfigFromEnv() (Config, error) {
	timeout, err := env.Duration("RELEASES_CLIENT_TIMEOUT", 10*time.Second)
	if err != nil {
		return Config{}, err
	}
	retries, err := env.Int("RELEASES_CLIENT_MAX_RETRIES", 3)
	if err != nil {
		return Config{}, err
	}
	cfg := Config{
		BaseURL:      env.String("RELEASES_URL", "http://localhost:8090"),
		Timeout:      timeout,
		MaxRetries:   retries,
		TokenURL:     env.String("RELEASES_TOKEN_URL", ""),
		ClientID:     env.String("RELEASES_CLIENT_ID", ""),
		ClientSecret: env.String("RELEASES_CLIENT_SECRET", ""),
		Scopes:       env.List("RELEASES_CLIENT_SCOPES", nil),
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	u, err := url.Parse(strings.TrimSpace(c.BaseURL))
	if err != nil || u.Scheme == "" || u.Host == "" {
		return errors.New("RELEASES_URL must be an absolute URL")
	}
	if c.Timeout < 0 {
		return errors.New("RELEASES_CLIENT_TIMEOUT must be >= 0")
	}
	if c.MaxRetries < 0 {
		return errors.New("RELEASES_CLIENT_MAX_RETRIES must be >= 0")
	}
	if strings.TrimSpace(c.TokenURL) != "" && strings.TrimSpace(c.ClientID) == "" {
		return errors.New("RELEASES_CLIENT_ID is required when RELEASES_TOKEN_URL is set")
	}
	return nil
}
