package payments

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sakconstructions/storefront/pkg/catalog"
	"github.com/sakconstructions/storefront/pkg/observability"
)

var quietLogger = observability.NewLogger(observability.ErrorLevel, io.Discard)

func noSleep(context.Context, time.Duration) error { return nil }

func newTestPaystack(t *testing.T, handler http.HandlerFunc) *PaystackProvider {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	p := NewPaystackProvider(srv.URL, "sk_test_secret", time.Second, nil, quietLogger)
	p.retry.sleep = noSleep
	return p
}

func TestPaystack_InitializeCheckout(t *testing.T) {
	var got map[string]interface{}
	p := newTestPaystack(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/transaction/initialize", r.URL.Path)
		assert.Equal(t, "Bearer sk_test_secret", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Write([]byte(`{"status":true,"message":"Authorization URL created","data":{"authorization_url":"https://checkout.paystack.com/abc","access_code":"abc","reference":"ref-1"}}`))
	})

	sess, err := p.InitializeCheckout(context.Background(), &CheckoutRequest{
		Reference:   "ref-1",
		Amount:      250000,
		Currency:    "ngn",
		Email:       "buyer@example.com",
		CallbackURL: "https://api.example.com/api/payments/paystack/callback",
		Metadata:    Metadata{PlanID: 7, Tier: catalog.TierPremium, UserID: "user-1"},
	})
	require.NoError(t, err)
	assert.Equal(t, "ref-1", sess.Reference)
	assert.Equal(t, "https://checkout.paystack.com/abc", sess.RedirectURL)

	assert.Equal(t, "buyer@example.com", got["email"])
	assert.Equal(t, float64(250000), got["amount"])
	assert.Equal(t, "NGN", got["currency"])
	meta := got["metadata"].(map[string]interface{})
	assert.Equal(t, "7", meta["plan_id"])
	assert.Equal(t, "premium", meta["tier"])
	assert.Equal(t, "user-1", meta["user_id"])
}

func TestPaystack_Verify(t *testing.T) {
	p := newTestPaystack(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/transaction/verify/ref-2", r.URL.Path)
		w.Write([]byte(`{"status":true,"message":"Verification successful","data":{
			"status":"success","reference":"ref-2","amount":300000,"currency":"NGN",
			"paid_at":"2026-03-01T10:00:00.000Z","customer":{"email":"Buyer@Example.com"},
			"metadata":{"plan_id":"9","tier":"standard","email":"buyer@example.com"}}}`))
	})

	vp, err := p.Verify(context.Background(), "ref-2")
	require.NoError(t, err)
	assert.Equal(t, PaymentPaid, vp.State)
	assert.Equal(t, ProviderPaystack, vp.Provider)
	assert.Equal(t, int64(300000), vp.Amount)
	assert.Equal(t, "NGN", vp.Currency)
	assert.Equal(t, "buyer@example.com", vp.Email)
	assert.Equal(t, int64(9), vp.Metadata.PlanID)
	assert.Equal(t, catalog.TierStandard, vp.Metadata.Tier)
	assert.Equal(t, 2026, vp.PaidAt.Year())
}

func TestPaystack_VerifyAbandoned(t *testing.T) {
	p := newTestPaystack(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"status":true,"message":"ok","data":{"status":"abandoned","reference":"ref-3","amount":100,"currency":"NGN","metadata":""}}`))
	})

	vp, err := p.Verify(context.Background(), "ref-3")
	require.NoError(t, err)
	assert.Equal(t, PaymentPending, vp.State, "an abandoned page can still be completed")
	assert.Equal(t, "abandoned", vp.Status)
	assert.Zero(t, vp.Metadata.PlanID)
}

func TestPaystackState(t *testing.T) {
	tests := []struct {
		status string
		want   PaymentState
	}{
		{"success", PaymentPaid},
		{"failed", PaymentFailed},
		{"reversed", PaymentFailed},
		{"abandoned", PaymentPending},
		{"ongoing", PaymentPending},
		{"pending", PaymentPending},
		{"processing", PaymentPending},
		{"queued", PaymentPending},
		{"", PaymentPending},
	}
	for _, tt := range tests {
		t.Run(tt.status, func(t *testing.T) {
			assert.Equal(t, tt.want, paystackState(tt.status))
		})
	}
}

func TestPaystack_InitializeCheckout_DuplicateReference(t *testing.T) {
	var inits int32
	var references []string
	p := newTestPaystack(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/transaction/initialize":
			var body map[string]interface{}
			require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			ref := body["reference"].(string)
			references = append(references, ref)
			switch atomic.AddInt32(&inits, 1) {
			case 1:
				// the transaction is created but the response never arrives
				w.WriteHeader(http.StatusBadGateway)
			case 2:
				w.WriteHeader(http.StatusBadRequest)
				w.Write([]byte(`{"status":false,"message":"Duplicate Transaction Reference"}`))
			default:
				w.Write([]byte(`{"status":true,"message":"ok","data":{"authorization_url":"https://checkout.paystack.com/xyz","reference":"` + ref + `"}}`))
			}
		case "/transaction/verify/ref-dup":
			w.Write([]byte(`{"status":true,"message":"ok","data":{"status":"abandoned","reference":"ref-dup","amount":5000,"currency":"NGN"}}`))
		default:
			t.Errorf("unexpected path %s", r.URL.Path)
		}
	})

	sess, err := p.InitializeCheckout(context.Background(), &CheckoutRequest{
		Reference: "ref-dup", Amount: 5000, Currency: "NGN", Email: "buyer@example.com",
	})
	require.NoError(t, err)
	assert.Equal(t, "ref-dup_r", sess.Reference)
	assert.Equal(t, "https://checkout.paystack.com/xyz", sess.RedirectURL)
	assert.Equal(t, []string{"ref-dup", "ref-dup", "ref-dup_r"}, references)
}

func TestPaystack_InitializeCheckout_DuplicateOfAnotherTransaction(t *testing.T) {
	p := newTestPaystack(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/transaction/initialize":
			w.WriteHeader(http.StatusBadRequest)
			w.Write([]byte(`{"status":false,"message":"Duplicate Transaction Reference"}`))
		default:
			w.Write([]byte(`{"status":true,"message":"ok","data":{"status":"success","reference":"ref-taken","amount":99,"currency":"NGN"}}`))
		}
	})

	_, err := p.InitializeCheckout(context.Background(), &CheckoutRequest{Reference: "ref-taken", Amount: 5000, Currency: "NGN"})
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusBadRequest, apiErr.StatusCode)
}

func TestPaystack_RetriesServerErrors(t *testing.T) {
	var calls int32
	p := newTestPaystack(t, func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.Write([]byte(`{"status":true,"message":"ok","data":{"status":"success","reference":"ref-4","amount":100,"currency":"NGN"}}`))
	})

	vp, err := p.Verify(context.Background(), "ref-4")
	require.NoError(t, err)
	assert.True(t, vp.Paid())
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
}

func TestPaystack_DoesNotRetryClientErrors(t *testing.T) {
	var calls int32
	p := newTestPaystack(t, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte(`{"status":false,"message":"Transaction reference not found"}`))
	})

	_, err := p.Verify(context.Background(), "missing")
	require.Error(t, err)
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusNotFound, apiErr.StatusCode)
	assert.Equal(t, "Transaction reference not found", apiErr.Message)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestPaystack_ParseWebhook(t *testing.T) {
	p := NewPaystackProvider("http://unused", "sk_test_secret", 0, nil, quietLogger)
	payload := []byte(`{"event":"charge.success","data":{"status":"success","reference":"ref-5","amount":500,"currency":"NGN","customer":{"email":"a@b.com"},"metadata":{"plan_id":3,"tier":"basic"}}}`)

	event, err := p.ParseWebhook(payload, SignPaystackPayload("sk_test_secret", payload))
	require.NoError(t, err)
	assert.True(t, event.Fulfilling)
	assert.Equal(t, "charge.success", event.Type)
	assert.Equal(t, "ref-5", event.Payment.Reference)
	assert.Equal(t, int64(3), event.Payment.Metadata.PlanID)

	_, err = p.ParseWebhook(payload, SignPaystackPayload("other", payload))
	assert.ErrorIs(t, err, ErrInvalidSignature)
	_, err = p.ParseWebhook(payload, "not-hex")
	assert.ErrorIs(t, err, ErrInvalidSignature)

	other := []byte(`{"event":"transfer.success","data":{}}`)
	event, err = p.ParseWebhook(other, SignPaystackPayload("sk_test_secret", other))
	require.NoError(t, err)
	assert.False(t, event.Fulfilling)
	assert.Nil(t, event.Payment)
}

func TestRetryPolicy(t *testing.T) {
	policy := NewRetryPolicy(RetryConfig{MaxAttempts: 4, InitialDelay: 100 * time.Millisecond, MaxDelay: 300 * time.Millisecond})
	assert.Equal(t, 100*time.Millisecond, policy.NextRetryDelay(1))
	assert.Equal(t, 200*time.Millisecond, policy.NextRetryDelay(2))
	assert.Equal(t, 300*time.Millisecond, policy.NextRetryDelay(3))

	assert.True(t, policy.ShouldRetry(1, &APIError{StatusCode: 503}))
	assert.False(t, policy.ShouldRetry(1, &APIError{StatusCode: 400}))
	assert.False(t, policy.ShouldRetry(4, &APIError{StatusCode: 503}))
	assert.False(t, policy.ShouldRetry(1, context.Canceled))
	assert.False(t, policy.ShouldRetry(1, nil))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	var attempts int
	err := policy.Do(ctx, func(context.Context) error {
		attempts++
		return &APIError{StatusCode: 500}
	})
	require.Error(t, err)
	assert.Equal(t, 1, attempts)
}
