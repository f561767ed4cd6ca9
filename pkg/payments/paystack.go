package payments

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha512"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sakconstructions/storefront/pkg/observability"
)

const (
	// PaystackSignatureHeader carries the webhook body signature
	PaystackSignatureHeader = "x-paystack-signature"
	paystackChargeSuccess   = "charge.success"
	paystackStatusSuccess   = "success"
	paystackStatusFailed    = "failed"
	paystackStatusReversed  = "reversed"
	paystackMaxResponse     = 1 << 20
)

// PaystackProvider talks to the Paystack transactions API
type PaystackProvider struct {
	baseURL    string
	secretKey  string
	httpClient *http.Client
	retry      *RetryPolicy
	logger     *observability.Logger
}

// NewPaystackProvider creates a Paystack client. The secret key both
// authenticates API calls and signs webhooks.
func NewPaystackProvider(baseURL, secretKey string, timeout time.Duration, retry *RetryPolicy, logger *observability.Logger) *PaystackProvider {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if retry == nil {
		retry = NewRetryPolicy(DefaultRetryConfig())
	}
	if logger == nil {
		logger = observability.NewLogger(observability.InfoLevel, nil)
	}
	return &PaystackProvider{
		baseURL:    strings.TrimRight(baseURL, "/"),
		secretKey:  secretKey,
		httpClient: &http.Client{Timeout: timeout},
		retry:      retry,
		logger:     logger.WithField("provider", ProviderPaystack),
	}
}

// Name implements Provider
func (p *PaystackProvider) Name() string { return ProviderPaystack }

type paystackEnvelope struct {
	Status  bool            `json:"status"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

type paystackTransaction struct {
	Status    string `json:"status"`
	Reference string `json:"reference"`
	Amount    int64  `json:"amount"`
	Currency  string `json:"currency"`
	PaidAt    string `json:"paid_at"`
	Customer  struct {
		Email string `json:"email"`
	} `json:"customer"`
	// Metadata is an object when set at initialization, otherwise "" or null
	Metadata json.RawMessage `json:"metadata"`
}

func (t *paystackTransaction) payment() *VerifiedPayment {
	vp := &VerifiedPayment{
		Provider:  ProviderPaystack,
		Reference: t.Reference,
		State:     paystackState(t.Status),
		Status:    t.Status,
		Amount:    t.Amount,
		Currency:  strings.ToUpper(t.Currency),
		Email:     strings.ToLower(strings.TrimSpace(t.Customer.Email)),
	}
	var meta map[string]interface{}
	if len(t.Metadata) > 0 && json.Unmarshal(t.Metadata, &meta) == nil {
		vp.Metadata = ParseMetadata(meta)
	}
	if t.PaidAt != "" {
		if paidAt, err := time.Parse(time.RFC3339, t.PaidAt); err == nil {
			vp.PaidAt = paidAt.UTC()
		}
	}
	return vp
}

// paystackState maps a transaction status. Only failed and reversed are
// final; abandoned, ongoing, pending, processing and queued can still settle.
func paystackState(status string) PaymentState {
	switch status {
	case paystackStatusSuccess:
		return PaymentPaid
	case paystackStatusFailed, paystackStatusReversed:
		return PaymentFailed
	}
	return PaymentPending
}

// do sends one API request with retries and decodes the envelope's data into out
func (p *PaystackProvider) do(ctx context.Context, method, path string, body interface{}, out interface{}) error {
	var payload []byte
	if body != nil {
		var err error
		if payload, err = json.Marshal(body); err != nil {
			return fmt.Errorf("failed to encode paystack request: %w", err)
		}
	}

	return p.retry.Do(ctx, func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, method, p.baseURL+path, bytes.NewReader(payload))
		if err != nil {
			return fmt.Errorf("failed to build paystack request: %w", err)
		}
		req.Header.Set("Authorization", "Bearer "+p.secretKey)
		req.Header.Set("Accept", "application/json")
		if body != nil {
			req.Header.Set("Content-Type", "application/json")
		}

		resp, err := p.httpClient.Do(req)
		if err != nil {
			p.logger.WithError(err).WithField("path", path).Warn("Paystack request failed")
			return fmt.Errorf("paystack request failed: %w", err)
		}
		defer resp.Body.Close()

		data, err := io.ReadAll(io.LimitReader(resp.Body, paystackMaxResponse))
		if err != nil {
			return fmt.Errorf("failed to read paystack response: %w", err)
		}

		var env paystackEnvelope
		decodeErr := json.Unmarshal(data, &env)
		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			msg := env.Message
			if decodeErr != nil || msg == "" {
				msg = http.StatusText(resp.StatusCode)
			}
			return &APIError{Provider: ProviderPaystack, StatusCode: resp.StatusCode, Message: msg}
		}
		if decodeErr != nil {
			return fmt.Errorf("failed to decode paystack response: %w", decodeErr)
		}
		if !env.Status {
			return &APIError{Provider: ProviderPaystack, StatusCode: resp.StatusCode, Message: env.Message}
		}
		if err := json.Unmarshal(env.Data, out); err != nil {
			return fmt.Errorf("failed to decode paystack data: %w", err)
		}
		return nil
	})
}

// InitializeCheckout implements Provider via POST /transaction/initialize.
// A retry after a lost response can find the reference already taken by
// our own first attempt; that transaction is confirmed with verify and left
// to lapse, and checkout starts again under a derived reference.
func (p *PaystackProvider) InitializeCheckout(ctx context.Context, req *CheckoutRequest) (*CheckoutSession, error) {
	sess, err := p.initialize(ctx, req, req.Reference)
	var apiErr *APIError
	if err == nil || !errors.As(err, &apiErr) || !isDuplicateReference(apiErr) {
		return sess, err
	}

	existing, verr := p.Verify(ctx, req.Reference)
	if verr != nil {
		return nil, fmt.Errorf("%w (verify of existing reference failed: %v)", err, verr)
	}
	if existing.State != PaymentPending || existing.Amount != req.Amount || !strings.EqualFold(existing.Currency, req.Currency) {
		// not a half-finished attempt of this checkout
		return nil, err
	}
	p.logger.WithFields(map[string]interface{}{
		"reference": req.Reference, "vendor_status": existing.Status,
	}).Warn("Paystack already holds this reference, initializing under a new one")
	return p.initialize(ctx, req, req.Reference+"_r")
}

func (p *PaystackProvider) initialize(ctx context.Context, req *CheckoutRequest, reference string) (*CheckoutSession, error) {
	body := map[string]interface{}{
		"email":        req.Email,
		"amount":       req.Amount,
		"currency":     strings.ToUpper(req.Currency),
		"reference":    reference,
		"callback_url": req.CallbackURL,
		"metadata":     stringMap(req.Metadata.Map()),
	}

	var data struct {
		AuthorizationURL string `json:"authorization_url"`
		AccessCode       string `json:"access_code"`
		Reference        string `json:"reference"`
	}
	if err := p.do(ctx, http.MethodPost, "/transaction/initialize", body, &data); err != nil {
		return nil, err
	}

	ref := data.Reference
	if ref == "" {
		ref = reference
	}
	return &CheckoutSession{Provider: ProviderPaystack, Reference: ref, RedirectURL: data.AuthorizationURL}, nil
}

func isDuplicateReference(err *APIError) bool {
	return err.StatusCode == http.StatusBadRequest && strings.Contains(strings.ToLower(err.Message), "duplicate")
}

// Verify implements Provider via GET /transaction/verify/{reference}
func (p *PaystackProvider) Verify(ctx context.Context, reference string) (*VerifiedPayment, error) {
	var tx paystackTransaction
	if err := p.do(ctx, http.MethodGet, "/transaction/verify/"+url.PathEscape(reference), nil, &tx); err != nil {
		return nil, err
	}
	if tx.Reference == "" {
		tx.Reference = reference
	}
	return tx.payment(), nil
}

// ParseWebhook implements Provider. The signature is the hex HMAC-SHA512 of
// the raw body keyed with the secret key.
func (p *PaystackProvider) ParseWebhook(payload []byte, signature string) (*WebhookEvent, error) {
	if !p.validSignature(payload, signature) {
		return nil, ErrInvalidSignature
	}

	var event struct {
		Event string              `json:"event"`
		Data  paystackTransaction `json:"data"`
	}
	if err := json.Unmarshal(payload, &event); err != nil {
		return nil, fmt.Errorf("failed to decode paystack event: %w", err)
	}

	we := &WebhookEvent{Type: event.Event}
	if event.Event == paystackChargeSuccess {
		we.Fulfilling = true
		we.Payment = event.Data.payment()
	}
	return we, nil
}

func (p *PaystackProvider) validSignature(payload []byte, signature string) bool {
	got, err := hex.DecodeString(strings.TrimSpace(signature))
	if err != nil || len(got) == 0 {
		return false
	}
	mac := hmac.New(sha512.New, []byte(p.secretKey))
	mac.Write(payload)
	return hmac.Equal(got, mac.Sum(nil))
}

// SignPaystackPayload computes the signature Paystack sends for payload
func SignPaystackPayload(secretKey string, payload []byte) string {
	mac := hmac.New(sha512.New, []byte(secretKey))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}
