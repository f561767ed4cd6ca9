package payments

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/webhook"

	"github.com/sakconstructions/storefront/pkg/catalog"
)

const testWebhookSecret = "whsec_test"

type fakeSessions struct {
	created *stripe.CheckoutSessionParams
	session *stripe.CheckoutSession
	err     error
}

func (f *fakeSessions) New(params *stripe.CheckoutSessionParams) (*stripe.CheckoutSession, error) {
	f.created = params
	return f.session, f.err
}

func (f *fakeSessions) Get(id string, _ *stripe.CheckoutSessionParams) (*stripe.CheckoutSession, error) {
	if f.err != nil {
		return nil, f.err
	}
	s := *f.session
	s.ID = id
	return &s, nil
}

func newFakeStripe(sessions *fakeSessions) *StripeProvider {
	retry := NewRetryPolicy(DefaultRetryConfig())
	retry.sleep = noSleep
	return newStripeProvider(sessions, testWebhookSecret, retry, quietLogger)
}

func TestStripe_InitializeCheckout(t *testing.T) {
	sessions := &fakeSessions{session: &stripe.CheckoutSession{ID: "cs_test_1", URL: "https://checkout.stripe.com/c/pay/cs_test_1"}}
	p := newFakeStripe(sessions)

	sess, err := p.InitializeCheckout(context.Background(), &CheckoutRequest{
		Reference:   "sak_1",
		Amount:      4500,
		Currency:    "USD",
		Email:       "buyer@example.com",
		Description: "Bungalow (basic plan)",
		CallbackURL: "https://api.example.com/api/payments/stripe/callback",
		CancelURL:   "https://shop.example.com/payment/failed?reason=cancelled",
		Metadata:    Metadata{PlanID: 4, Tier: catalog.TierBasic},
	})
	require.NoError(t, err)
	assert.Equal(t, "cs_test_1", sess.Reference)
	assert.Equal(t, "https://checkout.stripe.com/c/pay/cs_test_1", sess.RedirectURL)

	params := sessions.created
	require.NotNil(t, params)
	assert.Equal(t, "https://api.example.com/api/payments/stripe/callback?reference={CHECKOUT_SESSION_ID}", *params.SuccessURL)
	assert.Equal(t, "payment", *params.Mode)
	assert.Equal(t, "sak_1", *params.ClientReferenceID)
	assert.Equal(t, "buyer@example.com", *params.CustomerEmail)
	assert.Equal(t, "4", params.Metadata["plan_id"])
	require.Len(t, params.LineItems, 1)
	assert.Equal(t, int64(4500), *params.LineItems[0].PriceData.UnitAmount)
	assert.Equal(t, "usd", *params.LineItems[0].PriceData.Currency)
	assert.Equal(t, "sak_1", *params.IdempotencyKey)
}

func TestStripe_Verify(t *testing.T) {
	sessions := &fakeSessions{session: &stripe.CheckoutSession{
		PaymentStatus:   stripe.CheckoutSessionPaymentStatusPaid,
		AmountTotal:     4500,
		Currency:        stripe.Currency("usd"),
		CustomerDetails: &stripe.CheckoutSessionCustomerDetails{Email: "Buyer@Example.com"},
		Metadata:        map[string]string{"plan_id": "4", "tier": "basic", "user_id": "user-9"},
	}}
	p := newFakeStripe(sessions)

	vp, err := p.Verify(context.Background(), "cs_test_2")
	require.NoError(t, err)
	assert.Equal(t, PaymentPaid, vp.State)
	assert.Equal(t, "cs_test_2", vp.Reference)
	assert.Equal(t, "USD", vp.Currency)
	assert.Equal(t, "buyer@example.com", vp.Email)
	assert.Equal(t, "user-9", vp.Metadata.UserID)
	assert.False(t, vp.PaidAt.IsZero())

	// a delayed method completes the session before the money arrives
	sessions.session.PaymentStatus = stripe.CheckoutSessionPaymentStatusUnpaid
	sessions.session.Status = stripe.CheckoutSessionStatusComplete
	vp, err = p.Verify(context.Background(), "cs_test_2")
	require.NoError(t, err)
	assert.Equal(t, PaymentPending, vp.State)
	assert.Equal(t, "unpaid", vp.Status)
	assert.True(t, vp.PaidAt.IsZero())

	sessions.session.Status = stripe.CheckoutSessionStatusExpired
	vp, err = p.Verify(context.Background(), "cs_test_2")
	require.NoError(t, err)
	assert.Equal(t, PaymentFailed, vp.State)
}

func TestStripe_VerifyAgainstAPI(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/checkout/sessions/cs_test_3", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		if atomic.AddInt32(&calls, 1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte(`{"error":{"type":"api_error","message":"try again"}}`))
			return
		}
		w.Write([]byte(`{"id":"cs_test_3","object":"checkout.session","payment_status":"paid","amount_total":9900,"currency":"usd","customer_email":"c@d.com","metadata":{"plan_id":"2","tier":"premium"}}`))
	}))
	defer srv.Close()

	retry := NewRetryPolicy(DefaultRetryConfig())
	retry.sleep = noSleep
	p := NewStripeProvider("sk_test_key", testWebhookSecret, srv.URL, time.Second, retry, quietLogger)

	vp, err := p.Verify(context.Background(), "cs_test_3")
	require.NoError(t, err)
	assert.True(t, vp.Paid())
	assert.Equal(t, int64(9900), vp.Amount)
	assert.Equal(t, catalog.TierPremium, vp.Metadata.Tier)
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
}

func signedStripeEvent(t *testing.T, eventType, paymentStatus string) ([]byte, string) {
	t.Helper()
	payload := []byte(fmt.Sprintf(`{
		"id": "evt_1", "object": "event", "api_version": "2020-08-27", "type": %q,
		"data": {"object": {"id": "cs_test_4", "object": "checkout.session", "payment_status": %q,
			"amount_total": 4500, "currency": "usd", "customer_email": "e@f.com",
			"metadata": {"plan_id": "4", "tier": "basic"}}}
	}`, eventType, paymentStatus))
	signed := webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{
		Payload:   payload,
		Secret:    testWebhookSecret,
		Timestamp: time.Now(),
	})
	return payload, signed.Header
}

func TestStripe_ParseWebhook(t *testing.T) {
	p := newFakeStripe(&fakeSessions{})

	tests := []struct {
		name           string
		eventType      string
		paymentStatus  string
		wantFulfilling bool
		wantState      PaymentState
	}{
		{"completed and paid", "checkout.session.completed", "paid", true, PaymentPaid},
		{"completed but unpaid", "checkout.session.completed", "unpaid", false, PaymentPending},
		{"async succeeded", "checkout.session.async_payment_succeeded", "paid", true, PaymentPaid},
		{"async failed", "checkout.session.async_payment_failed", "unpaid", true, PaymentFailed},
		{"expired", "checkout.session.expired", "unpaid", true, PaymentFailed},
		{"unrelated", "customer.created", "paid", false, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			payload, header := signedStripeEvent(t, tt.eventType, tt.paymentStatus)
			event, err := p.ParseWebhook(payload, header)
			require.NoError(t, err)
			assert.Equal(t, tt.eventType, event.Type)
			assert.Equal(t, tt.wantFulfilling, event.Fulfilling)
			if event.Payment != nil {
				assert.Equal(t, tt.wantState, event.Payment.State)
				assert.Equal(t, "cs_test_4", event.Payment.Reference)
				assert.Equal(t, int64(4), event.Payment.Metadata.PlanID)
			}
		})
	}
}

func TestStripe_ParseWebhookBadSignature(t *testing.T) {
	p := newFakeStripe(&fakeSessions{})
	payload, _ := signedStripeEvent(t, "checkout.session.completed", "paid")

	_, err := p.ParseWebhook(payload, "t=1,v1=deadbeef")
	assert.ErrorIs(t, err, ErrInvalidSignature)
}

func TestWrapStripeError(t *testing.T) {
	err := wrapStripeError(&stripe.Error{HTTPStatusCode: 502, Msg: "bad gateway"})
	assert.True(t, IsRetryable(err))

	err = wrapStripeError(&stripe.Error{HTTPStatusCode: 400, Msg: "No such checkout session"})
	assert.False(t, IsRetryable(err))
	assert.Contains(t, err.Error(), "No such checkout session")

	assert.NoError(t, wrapStripeError(nil))
}
