package payments

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/sakconstructions/storefront/pkg/catalog"
	"github.com/sakconstructions/storefront/pkg/observability"
	"github.com/sakconstructions/storefront/pkg/orders"
	"github.com/sakconstructions/storefront/pkg/profiles"
)

// PlanReader loads plans for pricing
type PlanReader interface {
	GetPlan(ctx context.Context, id int64, includeUnpublished bool) (*catalog.Plan, error)
}

// OrderStore is the part of the order service payments drive
type OrderStore interface {
	CreatePending(ctx context.Context, req *orders.CreateOrderRequest) (*orders.Order, error)
	CreateCompleted(ctx context.Context, req *orders.CreateOrderRequest) (*orders.Order, bool, error)
	GetByReference(ctx context.Context, provider, reference string) (*orders.Order, error)
	Transition(ctx context.Context, id int64, to orders.Status) (*orders.Order, error)
}

// ProfileFinder resolves the buyer of a payment
type ProfileFinder interface {
	GetByUserID(ctx context.Context, userID string) (*profiles.Profile, error)
	GetByEmail(ctx context.Context, email string) (*profiles.Profile, error)
	EnsureGuest(ctx context.Context, email, name string) (*profiles.Profile, error)
}

// Config holds the URLs and currency the payment service works with
type Config struct {
	Currency string
	// PublicBaseURL is this API's origin; vendor callbacks land on it
	PublicBaseURL string
	// FrontendURL is where browsers are redirected after a callback
	FrontendURL string
}

// Service runs checkout, verification and fulfillment across providers
type Service struct {
	providers map[string]Provider
	plans     PlanReader
	orders    OrderStore
	profiles  ProfileFinder
	cfg       Config
	metrics   *observability.Metrics
	logger    *observability.Logger
}

// NewService creates a payment service. metrics may be nil.
func NewService(cfg Config, plans PlanReader, orderStore OrderStore, profileFinder ProfileFinder, metrics *observability.Metrics, logger *observability.Logger, providers ...Provider) *Service {
	if logger == nil {
		logger = observability.NewLogger(observability.InfoLevel, nil)
	}
	cfg.Currency = strings.ToUpper(cfg.Currency)
	cfg.PublicBaseURL = strings.TrimRight(cfg.PublicBaseURL, "/")
	cfg.FrontendURL = strings.TrimRight(cfg.FrontendURL, "/")

	s := &Service{
		providers: make(map[string]Provider, len(providers)),
		plans:     plans,
		orders:    orderStore,
		profiles:  profileFinder,
		cfg:       cfg,
		metrics:   metrics,
		logger:    logger.WithField("component", "payments"),
	}
	for _, p := range providers {
		s.providers[p.Name()] = p
	}
	return s
}

// Provider returns a configured provider by name
func (s *Service) Provider(name string) (Provider, error) {
	p, ok := s.providers[strings.ToLower(name)]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownProvider, name)
	}
	return p, nil
}

// Providers lists the configured provider names
func (s *Service) Providers() []string {
	names := make([]string, 0, len(s.providers))
	for name := range s.providers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// CheckoutInput is a buyer's request to pay for a plan tier
type CheckoutInput struct {
	Provider string       `json:"provider" validate:"required"`
	PlanID   int64        `json:"plan_id" validate:"required,min=1"`
	Tier     catalog.Tier `json:"tier" validate:"required"`
	// set by the handler from the authenticated profile
	ProfileID int64  `json:"-"`
	UserID    string `json:"-"`
	Email     string `json:"-"`
}

// CheckoutResult tells the client where to send the buyer
type CheckoutResult struct {
	OrderID     int64  `json:"order_id"`
	Provider    string `json:"provider"`
	Reference   string `json:"reference"`
	RedirectURL string `json:"redirect_url"`
}

// CallbackURL is where a provider returns the browser after payment
func (s *Service) CallbackURL(provider string) string {
	return fmt.Sprintf("%s/api/payments/%s/callback", s.cfg.PublicBaseURL, provider)
}

// Checkout prices a published plan tier, starts a hosted payment and
// records a pending order for it
func (s *Service) Checkout(ctx context.Context, in *CheckoutInput) (*CheckoutResult, error) {
	provider, err := s.Provider(in.Provider)
	if err != nil {
		return nil, err
	}
	tier, err := catalog.ParseTier(string(in.Tier))
	if err != nil {
		return nil, err
	}
	plan, err := s.plans.GetPlan(ctx, in.PlanID, false)
	if err != nil {
		return nil, err
	}
	amount, err := plan.PriceFor(tier)
	if err != nil {
		return nil, err
	}
	if amount <= 0 {
		return nil, ErrNotForSale
	}
	if in.Email == "" {
		return nil, ErrMissingCustomer
	}

	meta := Metadata{PlanID: plan.ID, Tier: tier, UserID: in.UserID, Email: in.Email}
	sess, err := provider.InitializeCheckout(ctx, &CheckoutRequest{
		Reference:   "sak_" + strings.ReplaceAll(uuid.NewString(), "-", ""),
		Amount:      amount,
		Currency:    plan.Currency,
		Email:       in.Email,
		Description: fmt.Sprintf("%s (%s plan)", plan.Title, tier),
		CallbackURL: s.CallbackURL(provider.Name()),
		CancelURL:   s.FailureRedirect("cancelled"),
		Metadata:    meta,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to start %s checkout: %w", provider.Name(), err)
	}

	order, err := s.orders.CreatePending(ctx, &orders.CreateOrderRequest{
		UserID:    in.ProfileID,
		PlanID:    plan.ID,
		Tier:      tier,
		Amount:    amount,
		Currency:  plan.Currency,
		Provider:  provider.Name(),
		Reference: sess.Reference,
		Email:     in.Email,
	})
	if err != nil {
		return nil, err
	}

	if s.metrics != nil {
		s.metrics.CheckoutsTotal.WithLabelValues(provider.Name(), string(tier)).Inc()
	}
	s.logger.WithFields(map[string]interface{}{
		"provider": provider.Name(), "reference": sess.Reference, "order_id": order.ID, "plan_id": plan.ID, "tier": tier,
	}).Info("Checkout started")

	return &CheckoutResult{
		OrderID:     order.ID,
		Provider:    provider.Name(),
		Reference:   sess.Reference,
		RedirectURL: sess.RedirectURL,
	}, nil
}

// Verify asks the provider about a reference and fulfills the outcome
func (s *Service) Verify(ctx context.Context, providerName, reference string) (*orders.Order, error) {
	provider, err := s.Provider(providerName)
	if err != nil {
		return nil, err
	}
	reference = strings.TrimSpace(reference)
	if reference == "" {
		return nil, errors.New("payment reference is required")
	}

	start := time.Now()
	payment, err := provider.Verify(ctx, reference)
	if s.metrics != nil {
		s.metrics.PaymentVerificationDuration.WithLabelValues(provider.Name()).Observe(time.Since(start).Seconds())
	}
	if err != nil {
		s.recordVerification(provider.Name(), "error")
		return nil, fmt.Errorf("failed to verify %s payment: %w", provider.Name(), err)
	}
	return s.Fulfill(ctx, payment)
}

// HandleWebhook checks a vendor notification and fulfills payment events.
// Events that carry no payment outcome return a nil order.
func (s *Service) HandleWebhook(ctx context.Context, providerName string, payload []byte, signature string) (*orders.Order, error) {
	provider, err := s.Provider(providerName)
	if err != nil {
		return nil, err
	}

	event, err := provider.ParseWebhook(payload, signature)
	if err != nil {
		s.recordWebhook(provider.Name(), "unknown", "rejected")
		return nil, err
	}
	if !event.Fulfilling {
		s.recordWebhook(provider.Name(), event.Type, "ignored")
		s.logger.WithFields(map[string]interface{}{"provider": provider.Name(), "event": event.Type}).Debug("Ignoring webhook event")
		return nil, nil
	}

	order, err := s.Fulfill(ctx, event.Payment)
	if errors.Is(err, ErrPaymentPending) {
		s.recordWebhook(provider.Name(), event.Type, "pending")
		return nil, err
	}
	if err != nil {
		s.recordWebhook(provider.Name(), event.Type, "error")
		return nil, err
	}
	s.recordWebhook(provider.Name(), event.Type, "fulfilled")
	return order, nil
}

// Fulfill applies a verified payment outcome:
//
//  1. a payment that is not final leaves the order pending and returns
//     ErrPaymentPending; a terminally failed payment fails its pending order
//  2. a reference that already completed returns that order unchanged
//  3. the paid amount and currency must cover the order or tier price
//  4. the buyer is resolved by auth subject, then email, else a guest profile
//  5. the pending order completes, or a completed order is inserted
func (s *Service) Fulfill(ctx context.Context, p *VerifiedPayment) (*orders.Order, error) {
	log := s.logger.WithFields(map[string]interface{}{"provider": p.Provider, "reference": p.Reference})

	existing, err := s.orders.GetByReference(ctx, p.Provider, p.Reference)
	if err != nil && !errors.Is(err, orders.ErrOrderNotFound) {
		return nil, err
	}

	switch p.State {
	case PaymentPaid:
	case PaymentPending:
		// the order stays pending; a webhook or a later verify settles it
		if existing != nil && existing.Status == orders.StatusCompleted {
			return existing, nil
		}
		s.recordVerification(p.Provider, "pending")
		log.WithField("vendor_status", p.Status).Info("Payment not final yet")
		return nil, fmt.Errorf("%w: vendor status %q", ErrPaymentPending, p.Status)
	default:
		if existing != nil && existing.Status == orders.StatusPending {
			if _, err := s.orders.Transition(ctx, existing.ID, orders.StatusFailed); err != nil {
				log.WithError(err).Warn("Failed to mark order failed")
			}
		}
		s.recordVerification(p.Provider, "failed")
		log.WithField("vendor_status", p.Status).Info("Payment not successful")
		return nil, ErrPaymentNotSuccessful
	}

	if existing != nil {
		switch existing.Status {
		case orders.StatusCompleted:
			s.recordVerification(p.Provider, "duplicate")
			return existing, nil
		case orders.StatusPending:
		default:
			// paid after the order expired or failed; needs an operator
			s.recordVerification(p.Provider, "error")
			log.WithField("order_id", existing.ID).WithField("status", existing.Status).Error("Payment succeeded for a closed order")
			return nil, fmt.Errorf("%w: order %d is %s", ErrOrderClosed, existing.ID, existing.Status)
		}
	}

	planID, tier := p.Metadata.PlanID, p.Metadata.Tier
	if existing != nil {
		planID, tier = existing.PlanID, existing.Tier
	}
	plan, err := s.plans.GetPlan(ctx, planID, true)
	if err != nil {
		s.recordVerification(p.Provider, "error")
		return nil, fmt.Errorf("failed to load plan %d for payment: %w", planID, err)
	}

	expected, err := plan.PriceFor(tier)
	if err != nil {
		s.recordVerification(p.Provider, "error")
		return nil, err
	}
	currency := plan.Currency
	if existing != nil {
		expected, currency = existing.Amount, existing.Currency
	}
	if p.Amount < expected || !strings.EqualFold(p.Currency, currency) {
		if existing != nil {
			if _, err := s.orders.Transition(ctx, existing.ID, orders.StatusFailed); err != nil {
				log.WithError(err).Warn("Failed to mark order failed")
			}
		}
		s.recordVerification(p.Provider, "mismatch")
		log.WithFields(map[string]interface{}{
			"paid": p.Amount, "paid_currency": p.Currency, "expected": expected, "currency": currency,
		}).Warn("Payment amount mismatch")
		return nil, fmt.Errorf("%w: paid %d %s, expected %d %s", ErrAmountMismatch, p.Amount, p.Currency, expected, currency)
	}

	var order *orders.Order
	if existing != nil {
		order, err = s.orders.Transition(ctx, existing.ID, orders.StatusCompleted)
		if errors.Is(err, orders.ErrInvalidTransition) {
			// a concurrent callback won the race
			order, err = s.orders.GetByReference(ctx, p.Provider, p.Reference)
			if err == nil && order.Status != orders.StatusCompleted {
				err = fmt.Errorf("%w: order %d is %s", ErrOrderClosed, order.ID, order.Status)
			}
		}
	} else {
		var buyer *profiles.Profile
		buyer, err = s.resolveBuyer(ctx, p)
		if err != nil {
			s.recordVerification(p.Provider, "error")
			return nil, err
		}
		order, _, err = s.orders.CreateCompleted(ctx, &orders.CreateOrderRequest{
			UserID:    buyer.ID,
			PlanID:    plan.ID,
			Tier:      tier,
			Amount:    p.Amount,
			Currency:  currency,
			Provider:  p.Provider,
			Reference: p.Reference,
			Email:     buyer.Email,
		})
	}
	if err != nil {
		s.recordVerification(p.Provider, "error")
		return nil, err
	}

	s.recordVerification(p.Provider, "success")
	log.WithFields(map[string]interface{}{
		"order_id": order.ID, "plan_id": order.PlanID, "tier": order.Tier, "amount": order.Amount,
	}).Info("Order fulfilled")
	return order, nil
}

func (s *Service) resolveBuyer(ctx context.Context, p *VerifiedPayment) (*profiles.Profile, error) {
	if p.Metadata.UserID != "" {
		profile, err := s.profiles.GetByUserID(ctx, p.Metadata.UserID)
		if err == nil {
			return profile, nil
		}
		if !errors.Is(err, profiles.ErrProfileNotFound) {
			return nil, err
		}
	}

	email := p.Email
	if email == "" {
		email = p.Metadata.Email
	}
	if email == "" {
		return nil, ErrMissingCustomer
	}

	profile, err := s.profiles.GetByEmail(ctx, email)
	if err == nil {
		return profile, nil
	}
	if !errors.Is(err, profiles.ErrProfileNotFound) {
		return nil, err
	}
	return s.profiles.EnsureGuest(ctx, email, "")
}

func (s *Service) recordVerification(provider, result string) {
	if s.metrics != nil {
		s.metrics.PaymentVerificationsTotal.WithLabelValues(provider, result).Inc()
	}
}

func (s *Service) recordWebhook(provider, event, result string) {
	if s.metrics != nil {
		s.metrics.PaymentWebhooksTotal.WithLabelValues(provider, event, result).Inc()
	}
}

// SuccessRedirect is the frontend page for a fulfilled order
func (s *Service) SuccessRedirect(order *orders.Order) string {
	return fmt.Sprintf("%s/payment/success?order=%d", s.cfg.FrontendURL, order.ID)
}

// PendingRedirect is the frontend page for a payment the vendor has not
// settled yet. The page polls verify with the reference.
func (s *Service) PendingRedirect(provider, reference string) string {
	return fmt.Sprintf("%s/payment/pending?provider=%s&reference=%s",
		s.cfg.FrontendURL, url.QueryEscape(provider), url.QueryEscape(reference))
}

// FailureRedirect is the frontend page for a failed payment
func (s *Service) FailureRedirect(reason string) string {
	return fmt.Sprintf("%s/payment/failed?reason=%s", s.cfg.FrontendURL, url.QueryEscape(reason))
}

// FailureReason maps a verification error to the reason code the frontend shows
func FailureReason(err error) string {
	switch {
	case errors.Is(err, ErrPaymentPending):
		return "pending"
	case errors.Is(err, ErrPaymentNotSuccessful):
		return "not_successful"
	case errors.Is(err, ErrAmountMismatch):
		return "amount_mismatch"
	case errors.Is(err, ErrUnknownProvider):
		return "unknown_provider"
	case errors.Is(err, ErrOrderClosed):
		return "order_closed"
	}
	return "verification_failed"
}
