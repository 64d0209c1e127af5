// Package auth guards the write endpoints of the registry. Reads stay public;
// publishing and promoting releases require a bearer token issued by the
// configured OIDC provider.
package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/animus-labs/release-registry/internal/platform/env"
)

type Mode string

const (
	ModeOIDC     Mode = "oidc"
	ModeDisabled Mode = "disabled"
)

var (
	ErrUnauthenticated = errors.New("unauthenticated")
	ErrForbidden       = errors.New("forbidden")
)

type Identity struct {
	Subject string
	Roles   []string
}

func (i Identity) HasRole(role string) bool {
	role = strings.ToLower(strings.TrimSpace(role))
	for _, r := range i.Roles {
		if strings.ToLower(strings.TrimSpace(r)) == role {
			return true
		}
	}
	return false
}

// Authenticator resolves the caller of a request.
type Authenticator interface {
	Authenticate(ctx context.Context, r *http.Request) (Identity, error)
}

type Config struct {
	Mode         Mode
	IssuerURL    string
	Audience     string
	RolesClaim   string
	RequiredRole string
}

func ConfigFromEnv() (Config, error) {
	issuer := strings.TrimSpace(env.String("RELEASES_OIDC_ISSUER_URL", ""))
	mode := ModeDisabled
	if issuer != "" {
		mode = ModeOIDC
	}
	cfg := Config{
		Mode:         mode,
		IssuerURL:    issuer,
		Audience:     strings.TrimSpace(env.String("RELEASES_OIDC_AUDIENCE", "")),
		RolesClaim:   env.String("RELEASES_OIDC_ROLES_CLAIM", "roles"),
		RequiredRole: env.String("RELEASES_OIDC_REQUIRED_ROLE", "release-publisher"),
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	switch c.Mode {
	case ModeDisabled:
		return nil
	case ModeOIDC:
		if c.IssuerURL == "" {
			return errors.New("RELEASES_OIDC_ISSUER_URL is required when oidc is enabled")
		}
		if c.Audience == "" {
			return errors.New("RELEASES_OIDC_AUDIENCE is required when oidc is enabled")
		}
		if strings.TrimSpace(c.RolesClaim) == "" {
			return errors.New("RELEASES_OIDC_ROLES_CLAIM is required when oidc is enabled")
		}
		return nil
	default:
		return fmt.Errorf("unsupported auth mode: %q", c.Mode)
	}
}

func tokenFromHeader(r *http.Request) string {
	authz := strings.TrimSpace(r.Header.Get("Authorization"))
	scheme, token, ok := strings.Cut(authz, " ")
	if !ok || !strings.EqualFold(scheme, "bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}
