// Package auth verifies the bearer tokens the storefront SPA sends with API calls.
//
// # Overview
//
// Users sign in with Supabase Auth, which issues JWT access tokens signed with the
// project's keys and published as a JWKS document. Verifier checks a token's
// signature, issuer, audience and expiry with go-oidc and returns the Principal it
// describes. Nothing here stores sessions or issues tokens.
//
// # Usage
//
//	verifier, err := auth.NewVerifier(ctx, cfg.Auth)
//	principal, err := verifier.Verify(ctx, rawToken)
//	// principal.UserID is the Supabase user id (token subject)
//
// The middleware package puts the Principal into the request context; handlers
// read it back with auth.PrincipalFromContext.
package auth
