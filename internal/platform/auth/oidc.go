package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/coreos/go-oidc/v3/oidc"
)

// TokenVerifier is the part of *oidc.IDTokenVerifier the authenticator uses.
type TokenVerifier interface {
	Verify(ctx context.Context, rawIDToken string) (*oidc.IDToken, error)
}

type OIDCAuthenticator struct {
	verifier   TokenVerifier
	rolesClaim string
}

// NewOIDCAuthenticator discovers the provider and verifies tokens against the
// configured audience. Discovery performs a network request.
func NewOIDCAuthenticator(ctx context.Context, cfg Config) (*OIDCAuthenticator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.Mode != ModeOIDC {
		return nil, fmt.Errorf("auth mode must be oidc (got %q)", cfg.Mode)
	}
	provider, err := oidc.NewProvider(ctx, cfg.IssuerURL)
	if err != nil {
		return nil, fmt.Errorf("oidc provider: %w", err)
	}
	verifier := provider.Verifier(&oidc.Config{ClientID: cfg.Audience})
	return NewOIDCAuthenticatorWithVerifier(verifier, cfg.RolesClaim)
}

func NewOIDCAuthenticatorWithVerifier(verifier TokenVerifier, rolesClaim string) (*OIDCAuthenticator, error) {
	if verifier == nil {
		return nil, errors.New("token verifier is required")
	}
	if strings.TrimSpace(rolesClaim) == "" {
		rolesClaim = "roles"
	}
	return &OIDCAuthenticator{verifier: verifier, rolesClaim: rolesClaim}, nil
}

func (a *OIDCAuthenticator) Authenticate(ctx context.Context, r *http.Request) (Identity, error) {
	rawToken := tokenFromHeader(r)
	if rawToken == "" {
		return Identity{}, ErrUnauthenticated
	}
	token, err := a.verifier.Verify(ctx, rawToken)
	if err != nil {
		return Identity{}, fmt.Errorf("%w: %v", ErrUnauthenticated, err)
	}

	var claims map[string]any
	if err := token.Claims(&claims); err != nil {
		return Identity{}, fmt.Errorf("%w: claims: %v", ErrUnauthenticated, err)
	}
	return Identity{
		Subject: token.Subject,
		Roles:   extractRoles(claims, a.rolesClaim),
	}, nil
}

// extractRoles accepts the claim as a JSON array or a space separated string
// (the "scope" convention used by client-credential tokens).
func extractRoles(claims map[string]any, claim string) []string {
	switch v := claims[claim].(type) {
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok && strings.TrimSpace(s) != "" {
				out = append(out, strings.TrimSpace(s))
			}
		}
		return out
	case string:
		return strings.Fields(v)
	default:
		return nil
	}
}
