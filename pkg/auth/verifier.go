package auth

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/coreos/go-oidc/v3/oidc"

	"github.com/sakconstructions/storefront/pkg/config"
	"github.com/sakconstructions/storefront/pkg/contextkeys"
)

var (
	// ErrInvalidToken is returned for tokens that fail verification
	ErrInvalidToken = errors.New("invalid or expired token")
	// ErrMissingSubject is returned for verified tokens without a subject
	ErrMissingSubject = errors.New("token has no subject")
)

// Principal is the authenticated caller
type Principal struct {
	UserID string `json:"user_id"`
	Email  string `json:"email"`
	Name   string `json:"name,omitempty"`
	// EmailVerified is true only when the token asserts the email was confirmed
	EmailVerified bool `json:"email_verified"`
}

// TokenVerifier turns a raw bearer token into a Principal
type TokenVerifier interface {
	Verify(ctx context.Context, rawToken string) (*Principal, error)
}

// Verifier verifies Supabase access tokens against a JWKS key set
type Verifier struct {
	verifier *oidc.IDTokenVerifier
}

// NewVerifier creates a verifier that fetches signing keys from cfg.JWKSURL
func NewVerifier(ctx context.Context, cfg config.AuthConfig) (*Verifier, error) {
	if cfg.Issuer == "" || cfg.JWKSURL == "" {
		return nil, errors.New("auth issuer and JWKS URL are required")
	}
	return NewVerifierWithKeySet(cfg, oidc.NewRemoteKeySet(ctx, cfg.JWKSURL)), nil
}

// NewVerifierWithKeySet creates a verifier over an existing key set
func NewVerifierWithKeySet(cfg config.AuthConfig, keySet oidc.KeySet) *Verifier {
	oidcConfig := &oidc.Config{
		ClientID:             cfg.Audience,
		SupportedSigningAlgs: []string{oidc.RS256, oidc.ES256},
	}
	if cfg.Audience == "" {
		oidcConfig.SkipClientIDCheck = true
	}
	return &Verifier{verifier: oidc.NewVerifier(cfg.Issuer, keySet, oidcConfig)}
}

type tokenClaims struct {
	Email         string    `json:"email"`
	EmailVerified claimBool `json:"email_verified"`
	UserMetadata  struct {
		FullName      string    `json:"full_name"`
		Name          string    `json:"name"`
		EmailVerified claimBool `json:"email_verified"`
	} `json:"user_metadata"`
}

// claimBool reads a boolean claim that some issuers send as a string.
// Anything unparseable is false.
type claimBool bool

func (b *claimBool) UnmarshalJSON(data []byte) error {
	v, err := strconv.ParseBool(strings.Trim(string(data), `"`))
	*b = claimBool(err == nil && v)
	return nil
}

// Verify implements TokenVerifier
func (v *Verifier) Verify(ctx context.Context, rawToken string) (*Principal, error) {
	token, err := v.verifier.Verify(ctx, rawToken)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if token.Subject == "" {
		return nil, ErrMissingSubject
	}

	var claims tokenClaims
	if err := token.Claims(&claims); err != nil {
		return nil, fmt.Errorf("failed to parse token claims: %w", err)
	}

	name := claims.UserMetadata.FullName
	if name == "" {
		name = claims.UserMetadata.Name
	}

	return &Principal{
		UserID: token.Subject,
		Email:  strings.ToLower(strings.TrimSpace(claims.Email)),
		Name:   name,
		// Supabase puts the flag in user_metadata; standard OIDC issuers at the top level
		EmailVerified: bool(claims.EmailVerified || claims.UserMetadata.EmailVerified),
	}, nil
}

// PrincipalFromContext returns the authenticated principal, if any
func PrincipalFromContext(ctx context.Context) (*Principal, bool) {
	p, ok := ctx.Value(contextkeys.PrincipalKey).(*Principal)
	return p, ok && p != nil
}

// WithPrincipal stores the principal and its user id in the context
func WithPrincipal(ctx context.Context, p *Principal) context.Context {
	ctx = contextkeys.WithPrincipal(ctx, p)
	return contextkeys.WithUserID(ctx, p.UserID)
}
