package api

import (
	"errors"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/sakconstructions/storefront/pkg/ads"
	"github.com/sakconstructions/storefront/pkg/auth"
	"github.com/sakconstructions/storefront/pkg/blob"
	"github.com/sakconstructions/storefront/pkg/catalog"
	"github.com/sakconstructions/storefront/pkg/httputil"
	"github.com/sakconstructions/storefront/pkg/middleware"
	"github.com/sakconstructions/storefront/pkg/observability"
	"github.com/sakconstructions/storefront/pkg/orders"
	"github.com/sakconstructions/storefront/pkg/payments"
	"github.com/sakconstructions/storefront/pkg/profiles"
)

const (
	defaultMaxBodyBytes   = 1 << 20
	defaultMaxUploadBytes = 200 << 20
)

// Deps are the services the API serves
type Deps struct {
	Catalog  *catalog.Service
	Orders   *orders.Service
	Payments *payments.Service
	Profiles profiles.Service
	Ads      *ads.Service
	// Store serves signed local downloads when it is a *blob.FileSystemStore
	Store       blob.Store
	Verifier    auth.TokenVerifier
	RateLimiter *middleware.RateLimiter
	Metrics     *observability.Metrics
	Logger      *observability.Logger
}

// Options tune request handling
type Options struct {
	CORSOrigins    []string
	MaxBodyBytes   int64
	MaxUploadBytes int64
	// TrustedProxies may report the client address; nil trusts none
	TrustedProxies *httputil.TrustedProxies
}

// Server is the storefront REST API
type Server struct {
	deps    Deps
	opts    Options
	router  *mux.Router
	handler http.Handler
	logger  *observability.Logger
}

// NewServer creates the API server and registers every route
func NewServer(deps Deps, opts Options) *Server {
	if deps.Logger == nil {
		deps.Logger = observability.NewLogger(observability.InfoLevel, nil)
	}
	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = defaultMaxBodyBytes
	}
	if opts.MaxUploadBytes <= 0 {
		opts.MaxUploadBytes = defaultMaxUploadBytes
	}

	s := &Server{
		deps:   deps,
		opts:   opts,
		router: mux.NewRouter(),
		logger: deps.Logger.WithField("component", "api"),
	}
	s.router.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		httputil.WriteNotFoundError(w, "route not found")
	})
	s.router.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		httputil.WriteErrorMessage(w, http.StatusMethodNotAllowed, "method not allowed")
	})
	if deps.Metrics != nil {
		// runs inside the router so the matched route template is known
		s.router.Use(observability.HTTPMetricsMiddleware(deps.Metrics))
	}
	s.setupRoutes()

	s.handler = httputil.Chain(
		httputil.RequestIDMiddleware,
		httputil.ClientIPMiddleware(opts.TrustedProxies),
		httputil.LoggingMiddleware(s.logger),
		httputil.RecoveryMiddleware(s.logger),
		httputil.CORSMiddleware(opts.CORSOrigins),
	)(s.router)
	return s
}

// access levels of a route
type access int

const (
	public access = iota
	// optional authentication: anonymous callers pass, tokens are still checked
	optional
	user
	admin
)

// route registers h with the access checks and body limit its level needs
func (s *Server) route(path string, level access, h http.HandlerFunc, methods ...string) *mux.Route {
	return s.router.Handle(path, s.wrap(level, s.opts.MaxBodyBytes, h)).Methods(methods...)
}

func (s *Server) wrap(level access, maxBody int64, h http.Handler) http.Handler {
	chain := []func(http.Handler) http.Handler{httputil.MaxBytesMiddleware(maxBody)}
	switch level {
	case optional:
		chain = append(chain, middleware.Authenticate(s.deps.Verifier, true))
	case user:
		chain = append(chain, middleware.Authenticate(s.deps.Verifier, false), middleware.LoadProfile(s.deps.Profiles))
	case admin:
		chain = append(chain, middleware.Authenticate(s.deps.Verifier, false), middleware.RequireAdmin(s.deps.Profiles))
	}
	return httputil.Chain(chain...)(h)
}

// limited applies the per-caller rate limit for scope
func (s *Server) limited(scope string, h http.HandlerFunc) http.HandlerFunc {
	if s.deps.RateLimiter == nil {
		return h
	}
	return s.deps.RateLimiter.Middleware(scope)(h).ServeHTTP
}

func (s *Server) setupRoutes() {
	// catalog
	s.route("/api/plans", optional, s.listPlans, http.MethodGet)
	s.route("/api/plans/slug/{slug}", optional, s.getPlanBySlug, http.MethodGet)
	s.route("/api/plans/{id:[0-9]+}", optional, s.getPlan, http.MethodGet)
	s.route("/api/plans/{id:[0-9]+}/reviews", optional, s.listReviews, http.MethodGet)
	s.route("/api/plans/{id:[0-9]+}/reviews", user, s.limited("reviews", s.upsertReview), http.MethodPost)
	s.route("/api/reviews/{id:[0-9]+}", user, s.deleteReview, http.MethodDelete)
	s.route("/api/favorites", user, s.listFavorites, http.MethodGet)
	s.route("/api/favorites/{planId:[0-9]+}", user, s.addFavorite, http.MethodPut)
	s.route("/api/favorites/{planId:[0-9]+}", user, s.removeFavorite, http.MethodDelete)

	// ads
	s.route("/api/ads", public, s.listActiveAds, http.MethodGet)
	s.route("/api/ads/{id:[0-9]+}/impression", public, s.limited("ads", s.recordImpression), http.MethodPost)
	s.route("/api/ads/{id:[0-9]+}/click", public, s.limited("ads", s.recordClick), http.MethodPost)

	// profile
	s.route("/api/profile", user, s.getProfile, http.MethodGet)
	s.route("/api/profile", user, s.updateProfile, http.MethodPut)

	// payments
	s.route("/api/checkout", user, s.limited("checkout", s.checkout), http.MethodPost)
	s.route("/api/payments/providers", public, s.listProviders, http.MethodGet)
	s.route("/api/payments/{provider}/verify", user, s.limited("verify", s.verifyPayment), http.MethodPost)
	s.route("/api/payments/{provider}/callback", public, s.limited("verify", s.paymentCallback), http.MethodGet)
	s.route("/api/payments/{provider}/webhook", public, s.paymentWebhook, http.MethodPost)

	// orders and downloads
	s.route("/api/orders", user, s.listMyOrders, http.MethodGet)
	s.route("/api/orders/{id:[0-9]+}", user, s.getMyOrder, http.MethodGet)
	s.route("/api/orders/{id:[0-9]+}/files", user, s.listOrderFiles, http.MethodGet)
	s.route("/api/orders/{id:[0-9]+}/files/{fileId:[0-9]+}/download", user, s.limited("downloads", s.downloadFile), http.MethodGet)
	s.route("/api/downloads", user, s.listMyDownloads, http.MethodGet)

	// admin
	s.route("/api/admin/plans", admin, s.adminListPlans, http.MethodGet)
	s.route("/api/admin/plans", admin, s.createPlan, http.MethodPost)
	s.route("/api/admin/plans/{id:[0-9]+}", admin, s.updatePlan, http.MethodPut)
	s.route("/api/admin/plans/{id:[0-9]+}", admin, s.deletePlan, http.MethodDelete)
	s.router.Handle("/api/admin/plans/{id:[0-9]+}/files",
		s.wrap(admin, s.opts.MaxUploadBytes, http.HandlerFunc(s.uploadPlanFile))).Methods(http.MethodPost)
	s.route("/api/admin/plans/{id:[0-9]+}/files", admin, s.adminListPlanFiles, http.MethodGet)
	s.route("/api/admin/plans/{id:[0-9]+}/files/{fileId:[0-9]+}", admin, s.deletePlanFile, http.MethodDelete)
	s.route("/api/admin/orders", admin, s.adminListOrders, http.MethodGet)
	s.route("/api/admin/orders/{id:[0-9]+}", admin, s.adminGetOrder, http.MethodGet)
	s.route("/api/admin/orders/{id:[0-9]+}/status", admin, s.adminSetOrderStatus, http.MethodPost)
	s.route("/api/admin/stats", admin, s.adminStats, http.MethodGet)
	s.route("/api/admin/profiles", admin, s.adminListProfiles, http.MethodGet)
	s.route("/api/admin/profiles/{id:[0-9]+}/role", admin, s.adminSetRole, http.MethodPut)
	s.route("/api/admin/ads", admin, s.adminListAds, http.MethodGet)
	s.route("/api/admin/ads", admin, s.adminCreateAd, http.MethodPost)
	s.route("/api/admin/ads/{id:[0-9]+}", admin, s.adminUpdateAd, http.MethodPut)
	s.route("/api/admin/ads/{id:[0-9]+}", admin, s.adminDeleteAd, http.MethodDelete)

	// signed local downloads for the filesystem blob backend
	if fs, ok := s.deps.Store.(*blob.FileSystemStore); ok {
		s.router.PathPrefix(blob.FilesRoutePrefix).Handler(s.wrap(public, s.opts.MaxBodyBytes, localFiles(fs))).Methods(http.MethodGet)
	}
}

// ServeHTTP implements http.Handler
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r)
}

// Router exposes the route table, for walking routes in tests and docs
func (s *Server) Router() *mux.Router {
	return s.router
}

// currentProfile returns the caller's profile set by the user or admin access level
func currentProfile(r *http.Request) *profiles.Profile {
	p, _ := middleware.ProfileFromContext(r.Context())
	return p
}

// reqLogger is the request-scoped logger carrying the request ID
func reqLogger(r *http.Request) *observability.Logger {
	return observability.FromContext(r.Context())
}

// isAdminCaller reports whether an optionally authenticated caller is an admin
func (s *Server) isAdminCaller(r *http.Request) bool {
	principal, ok := auth.PrincipalFromContext(r.Context())
	if !ok {
		return false
	}
	isAdmin, err := s.deps.Profiles.IsAdmin(r.Context(), principal.UserID)
	if err != nil {
		reqLogger(r).WithError(err).Warn("Failed to check admin role")
		return false
	}
	return isAdmin
}

// writeServiceError maps service errors to HTTP responses
func writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	var maxBytesErr *http.MaxBytesError
	var apiErr *payments.APIError

	switch {
	case errors.Is(err, catalog.ErrPlanNotFound),
		errors.Is(err, catalog.ErrFileNotFound),
		errors.Is(err, catalog.ErrReviewNotFound),
		errors.Is(err, orders.ErrOrderNotFound),
		errors.Is(err, profiles.ErrProfileNotFound),
		errors.Is(err, ads.ErrAdNotFound),
		errors.Is(err, blob.ErrNotFound):
		httputil.WriteNotFoundError(w, err.Error())

	case errors.Is(err, catalog.ErrInvalidTier),
		errors.Is(err, catalog.ErrInvalidPrices),
		errors.Is(err, catalog.ErrInvalidSlug),
		errors.Is(err, catalog.ErrInvalidSort),
		errors.Is(err, catalog.ErrInvalidRating),
		errors.Is(err, orders.ErrInvalidStatus),
		errors.Is(err, profiles.ErrInvalidRole),
		errors.Is(err, ads.ErrInvalidWindow),
		errors.Is(err, ads.ErrPlacementEmpty),
		errors.Is(err, payments.ErrUnknownProvider),
		errors.Is(err, payments.ErrNotForSale),
		errors.Is(err, payments.ErrMissingCustomer),
		errors.Is(err, blob.ErrInvalidKey):
		httputil.WriteBadRequest(w, err.Error())

	case errors.Is(err, catalog.ErrSlugTaken),
		errors.Is(err, catalog.ErrPlanHasOrders),
		errors.Is(err, orders.ErrInvalidTransition),
		errors.Is(err, profiles.ErrEmailTaken),
		errors.Is(err, payments.ErrOrderClosed):
		httputil.WriteConflict(w, err.Error())

	case errors.Is(err, catalog.ErrNotReviewOwner),
		errors.Is(err, orders.ErrNotOrderOwner),
		errors.Is(err, orders.ErrOrderNotCompleted),
		errors.Is(err, orders.ErrTierLocked),
		errors.Is(err, orders.ErrFileNotInOrder),
		errors.Is(err, blob.ErrInvalidSignature):
		httputil.WriteForbidden(w, err.Error())

	case errors.Is(err, payments.ErrPaymentNotSuccessful),
		errors.Is(err, payments.ErrAmountMismatch):
		httputil.WriteErrorMessage(w, http.StatusPaymentRequired, err.Error())

	case errors.Is(err, payments.ErrInvalidSignature):
		httputil.WriteUnauthorized(w, err.Error())

	case errors.As(err, &maxBytesErr):
		httputil.WriteErrorMessage(w, http.StatusRequestEntityTooLarge, "request body too large")

	case errors.As(err, &apiErr):
		reqLogger(r).WithError(err).Warn("Payment provider error")
		httputil.WriteBadGateway(w, "payment provider unavailable")

	default:
		reqLogger(r).WithError(err).Error("Request failed")
		httputil.WriteInternalError(w, err)
	}
}
