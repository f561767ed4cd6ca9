package payments

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/checkout/session"
	"github.com/stripe/stripe-go/v76/webhook"

	"github.com/sakconstructions/storefront/pkg/observability"
)

// StripeSignatureHeader carries the webhook signature
const StripeSignatureHeader = "Stripe-Signature"

// checkoutSessionAPI is the part of the stripe checkout session client the provider uses
type checkoutSessionAPI interface {
	New(params *stripe.CheckoutSessionParams) (*stripe.CheckoutSession, error)
	Get(id string, params *stripe.CheckoutSessionParams) (*stripe.CheckoutSession, error)
}

// StripeProvider uses Stripe Checkout Sessions
type StripeProvider struct {
	sessions      checkoutSessionAPI
	webhookSecret string
	retry         *RetryPolicy
	logger        *observability.Logger
}

// NewStripeProvider creates a Stripe client. baseURL overrides the API
// endpoint, which tests and stripe-mock use; empty means api.stripe.com.
func NewStripeProvider(secretKey, webhookSecret, baseURL string, timeout time.Duration, retry *RetryPolicy, logger *observability.Logger) *StripeProvider {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if retry == nil {
		retry = NewRetryPolicy(DefaultRetryConfig())
	}
	if logger == nil {
		logger = observability.NewLogger(observability.InfoLevel, nil)
	}
	logger = logger.WithField("provider", ProviderStripe)

	backendConfig := &stripe.BackendConfig{
		HTTPClient: &http.Client{Timeout: timeout},
		// retries are ours
		MaxNetworkRetries: stripe.Int64(0),
		LeveledLogger:     logger,
	}
	if baseURL != "" {
		backendConfig.URL = stripe.String(strings.TrimRight(baseURL, "/"))
	}
	backend := stripe.GetBackendWithConfig(stripe.APIBackend, backendConfig)

	return newStripeProvider(session.Client{B: backend, Key: secretKey}, webhookSecret, retry, logger)
}

func newStripeProvider(sessions checkoutSessionAPI, webhookSecret string, retry *RetryPolicy, logger *observability.Logger) *StripeProvider {
	return &StripeProvider{sessions: sessions, webhookSecret: webhookSecret, retry: retry, logger: logger}
}

// Name implements Provider
func (p *StripeProvider) Name() string { return ProviderStripe }

// InitializeCheckout implements Provider. The session id becomes the
// payment reference; Stripe substitutes it into the success URL.
func (p *StripeProvider) InitializeCheckout(ctx context.Context, req *CheckoutRequest) (*CheckoutSession, error) {
	successURL := req.CallbackURL
	if strings.Contains(successURL, "?") {
		successURL += "&reference={CHECKOUT_SESSION_ID}"
	} else {
		successURL += "?reference={CHECKOUT_SESSION_ID}"
	}

	params := &stripe.CheckoutSessionParams{
		Mode:              stripe.String(string(stripe.CheckoutSessionModePayment)),
		SuccessURL:        stripe.String(successURL),
		CancelURL:         stripe.String(req.CancelURL),
		ClientReferenceID: stripe.String(req.Reference),
		Metadata:          req.Metadata.Map(),
		LineItems: []*stripe.CheckoutSessionLineItemParams{{
			Quantity: stripe.Int64(1),
			PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
				Currency:   stripe.String(strings.ToLower(req.Currency)),
				UnitAmount: stripe.Int64(req.Amount),
				ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
					Name: stripe.String(req.Description),
				},
			},
		}},
	}
	if req.Email != "" {
		params.CustomerEmail = stripe.String(req.Email)
	}
	params.Context = ctx
	params.SetIdempotencyKey(req.Reference)

	var sess *stripe.CheckoutSession
	err := p.retry.Do(ctx, func(ctx context.Context) error {
		var err error
		sess, err = p.sessions.New(params)
		return wrapStripeError(err)
	})
	if err != nil {
		return nil, err
	}
	return &CheckoutSession{Provider: ProviderStripe, Reference: sess.ID, RedirectURL: sess.URL}, nil
}

// Verify implements Provider by reading the checkout session
func (p *StripeProvider) Verify(ctx context.Context, reference string) (*VerifiedPayment, error) {
	params := &stripe.CheckoutSessionParams{}
	params.Context = ctx

	var sess *stripe.CheckoutSession
	err := p.retry.Do(ctx, func(ctx context.Context) error {
		var err error
		sess, err = p.sessions.Get(reference, params)
		return wrapStripeError(err)
	})
	if err != nil {
		return nil, err
	}
	return sessionPayment(sess), nil
}

// ParseWebhook implements Provider
func (p *StripeProvider) ParseWebhook(payload []byte, signature string) (*WebhookEvent, error) {
	event, err := webhook.ConstructEventWithOptions(payload, signature, p.webhookSecret, webhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		p.logger.WithError(err).Warn("Rejected stripe webhook")
		return nil, ErrInvalidSignature
	}

	we := &WebhookEvent{Type: string(event.Type)}
	switch event.Type {
	case stripe.EventTypeCheckoutSessionCompleted,
		stripe.EventTypeCheckoutSessionAsyncPaymentSucceeded,
		stripe.EventTypeCheckoutSessionAsyncPaymentFailed,
		stripe.EventTypeCheckoutSessionExpired:
	default:
		return we, nil
	}
	if event.Data == nil {
		return nil, errors.New("stripe event has no data")
	}

	var sess stripe.CheckoutSession
	if err := json.Unmarshal(event.Data.Raw, &sess); err != nil {
		return nil, fmt.Errorf("failed to decode checkout session: %w", err)
	}
	we.Payment = sessionPayment(&sess)

	switch event.Type {
	case stripe.EventTypeCheckoutSessionCompleted:
		// delayed payment methods complete unpaid; async_payment_* follows
		we.Fulfilling = we.Payment.Paid()
	case stripe.EventTypeCheckoutSessionAsyncPaymentSucceeded:
		we.Fulfilling = true
	case stripe.EventTypeCheckoutSessionAsyncPaymentFailed,
		stripe.EventTypeCheckoutSessionExpired:
		we.Fulfilling = true
		we.Payment.State = PaymentFailed
	}
	return we, nil
}

func sessionPayment(sess *stripe.CheckoutSession) *VerifiedPayment {
	vp := &VerifiedPayment{
		Provider:  ProviderStripe,
		Reference: sess.ID,
		State:     sessionState(sess),
		Status:    string(sess.PaymentStatus),
		Amount:    sess.AmountTotal,
		Currency:  strings.ToUpper(string(sess.Currency)),
		Email:     sess.CustomerEmail,
		Metadata:  ParseMetadata(stringMap(sess.Metadata)),
	}
	if sess.CustomerDetails != nil && sess.CustomerDetails.Email != "" {
		vp.Email = sess.CustomerDetails.Email
	}
	vp.Email = strings.ToLower(strings.TrimSpace(vp.Email))
	if vp.Paid() {
		vp.PaidAt = time.Now().UTC()
	}
	return vp
}

// sessionState reads a session's outcome. An unpaid session is only over
// once it expires; a complete but unpaid one is waiting on a delayed method.
func sessionState(sess *stripe.CheckoutSession) PaymentState {
	switch {
	case sess.PaymentStatus == stripe.CheckoutSessionPaymentStatusPaid:
		return PaymentPaid
	case sess.Status == stripe.CheckoutSessionStatusExpired:
		return PaymentFailed
	}
	return PaymentPending
}

// wrapStripeError converts stripe API errors to APIError so retries can classify them
func wrapStripeError(err error) error {
	if err == nil {
		return nil
	}
	var stripeErr *stripe.Error
	if errors.As(err, &stripeErr) {
		return &APIError{Provider: ProviderStripe, StatusCode: stripeErr.HTTPStatusCode, Message: stripeErr.Msg}
	}
	return fmt.Errorf("stripe request failed: %w", err)
}
