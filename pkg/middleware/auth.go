package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/sakconstructions/storefront/pkg/auth"
	"github.com/sakconstructions/storefront/pkg/contextkeys"
	"github.com/sakconstructions/storefront/pkg/httputil"
	"github.com/sakconstructions/storefront/pkg/observability"
	"github.com/sakconstructions/storefront/pkg/profiles"
)

// ProfileLoader resolves the storefront profile of an authenticated principal
type ProfileLoader interface {
	EnsureProfile(ctx context.Context, id profiles.Identity) (*profiles.Profile, error)
}

// Authenticate verifies the Bearer token and stores the principal in the
// request context. With optional set, requests without an Authorization
// header pass through anonymously; a present but invalid token is still rejected.
func Authenticate(verifier auth.TokenVerifier, optional bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				if optional {
					next.ServeHTTP(w, r)
					return
				}
				httputil.WriteUnauthorized(w, "missing authorization header")
				return
			}

			parts := strings.SplitN(authHeader, " ", 2)
			if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") || parts[1] == "" {
				httputil.WriteUnauthorized(w, "invalid authorization header format")
				return
			}

			principal, err := verifier.Verify(r.Context(), parts[1])
			if err != nil {
				observability.FromContext(r.Context()).WithError(err).Debug("Token verification failed")
				httputil.WriteUnauthorized(w, "invalid or expired token")
				return
			}

			next.ServeHTTP(w, r.WithContext(auth.WithPrincipal(r.Context(), principal)))
		})
	}
}

// LoadProfile resolves the caller's profile, creating it on first sign-in.
// Requests without a principal are rejected.
func LoadProfile(loader ProfileLoader) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx, ok := withProfile(w, r, loader)
			if !ok {
				return
			}
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireAdmin rejects callers whose profile does not have the admin role
func RequireAdmin(loader ProfileLoader) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx, ok := withProfile(w, r, loader)
			if !ok {
				return
			}
			profile, _ := ProfileFromContext(ctx)
			if !profile.IsAdmin() {
				httputil.WriteForbidden(w, "admin access required")
				return
			}
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func withProfile(w http.ResponseWriter, r *http.Request, loader ProfileLoader) (context.Context, bool) {
	ctx := r.Context()
	if _, ok := ProfileFromContext(ctx); ok {
		return ctx, true
	}

	principal, ok := auth.PrincipalFromContext(ctx)
	if !ok {
		httputil.WriteUnauthorized(w, "authentication required")
		return nil, false
	}

	profile, err := loader.EnsureProfile(ctx, profiles.Identity{
		UserID:        principal.UserID,
		Email:         principal.Email,
		Name:          principal.Name,
		EmailVerified: principal.EmailVerified,
	})
	switch {
	case err == nil:
		return contextkeys.WithProfile(ctx, profile), true
	case errors.Is(err, profiles.ErrEmailTaken):
		httputil.WriteConflict(w, err.Error())
	case errors.Is(err, profiles.ErrEmailRequired):
		httputil.WriteForbidden(w, "account has no email address")
	case errors.Is(err, profiles.ErrEmailUnverified):
		httputil.WriteForbidden(w, "verify your email address to continue")
	default:
		observability.FromContext(ctx).WithError(err).Error("Failed to load profile")
		httputil.WriteInternalError(w, err)
	}
	return nil, false
}

// ProfileFromContext returns the profile loaded by LoadProfile or RequireAdmin
func ProfileFromContext(ctx context.Context) (*profiles.Profile, bool) {
	p, ok := ctx.Value(contextkeys.ProfileKey).(*profiles.Profile)
	return p, ok && p != nil
}
