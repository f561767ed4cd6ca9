// Package middleware provides HTTP middleware for authentication, the admin gate and rate limiting.
//
// # Middleware Components
//
// Authenticate: Bearer token verification
//
//	router.Use(middleware.Authenticate(verifier, false))
//	// Verifies the Supabase access token and adds *auth.Principal to the request
//
// LoadProfile / RequireAdmin: storefront profile resolution
//
//	authed.Use(middleware.LoadProfile(profileService))
//	admin.Use(middleware.RequireAdmin(profileService))
//	// The profile is created on first sign-in and stored in the request context
//
// RateLimiter: per-caller limits on checkout, verification and reviews
//
//	limiter := middleware.NewRateLimiter(middleware.FromConfig(cfg.RateLimit), redisClient, logger)
//	checkout.Use(limiter.Middleware("checkout"))
//
// Redis holds a fixed-window counter shared by all API instances. When Redis
// is not configured or a call fails, an in-process token bucket takes over.
package middleware
