// Package api provides the HTTP REST API of the SAK Constructions storefront.
//
// # Overview
//
// The API exposes the plan catalog, checkout and payment callbacks, order
// history with entitled downloads, buyer profiles, advertisement slots and
// the admin dashboard. It is built on gorilla/mux and organized into handler
// groups by domain:
//
//   - Catalog: browse and search plans, plan detail, reviews, favorites
//   - Payments: start checkout, provider callbacks, verify, webhooks
//   - Orders: a buyer's orders, unlocked files and presigned downloads
//   - Profile: the signed-in buyer's own profile
//   - Ads: active placements plus impression and click counting
//   - Admin: plans, plan files, orders, refunds, stats, roles and ads
//
// # Access levels
//
// Every route is registered with one of four access levels:
//
//	public    no token needed
//	optional  a token is checked when present, e.g. so admins see drafts
//	user      a valid token; the caller's profile is loaded or created
//	admin     a valid token and a profile with the admin role
//
// Checkout, reviews, verification, ad counters and downloads also pass
// through the per-caller rate limiter when one is configured.
//
// # Errors
//
// Handlers return the JSON error envelope from package httputil. Service
// errors are mapped to statuses in one place, writeServiceError, so a new
// sentinel error only needs adding there.
//
// # Usage
//
//	server := api.NewServer(api.Deps{
//		Catalog:  catalogService,
//		Orders:   orderService,
//		Payments: paymentService,
//		Profiles: profileService,
//		Ads:      adService,
//		Store:    store,
//		Verifier: verifier,
//		Logger:   logger,
//	}, api.Options{CORSOrigins: cfg.Server.CORSOrigins})
//	http.ListenAndServe(":8080", server)
//
// When the blob store is the local filesystem backend, the server also
// serves its signed download URLs under /files/.
package api
