package payments

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/sakconstructions/storefront/pkg/catalog"
)

// Provider names
const (
	ProviderStripe   = "stripe"
	ProviderPaystack = "paystack"
)

var (
	ErrUnknownProvider      = errors.New("unknown payment provider")
	ErrPaymentNotSuccessful = errors.New("payment was not successful")
	ErrPaymentPending       = errors.New("payment is not final yet")
	ErrAmountMismatch       = errors.New("paid amount or currency does not match the order")
	ErrInvalidSignature     = errors.New("invalid webhook signature")
	ErrMissingCustomer      = errors.New("payment carries no customer email")
	ErrOrderClosed          = errors.New("order for this payment is no longer pending")
	ErrNotForSale           = errors.New("tier has no price")
)

// Provider is a payment vendor integration
type Provider interface {
	Name() string
	InitializeCheckout(ctx context.Context, req *CheckoutRequest) (*CheckoutSession, error)
	Verify(ctx context.Context, reference string) (*VerifiedPayment, error)
	ParseWebhook(payload []byte, signature string) (*WebhookEvent, error)
}

// Metadata travels through the vendor with a payment so a callback can be
// matched to a plan and buyer even when no pending order exists
type Metadata struct {
	PlanID int64
	Tier   catalog.Tier
	// UserID is the buyer's auth subject, empty for guest checkouts
	UserID string
	Email  string
}

const (
	metaPlanID = "plan_id"
	metaTier   = "tier"
	metaUserID = "user_id"
	metaEmail  = "email"
)

// Map encodes the metadata as vendor key/value pairs
func (m Metadata) Map() map[string]string {
	out := map[string]string{
		metaPlanID: strconv.FormatInt(m.PlanID, 10),
		metaTier:   string(m.Tier),
	}
	if m.UserID != "" {
		out[metaUserID] = m.UserID
	}
	if m.Email != "" {
		out[metaEmail] = m.Email
	}
	return out
}

// ParseMetadata decodes vendor key/value pairs. Values may be strings or
// numbers depending on the vendor.
func ParseMetadata(values map[string]interface{}) Metadata {
	str := func(key string) string {
		v, ok := values[key]
		if !ok || v == nil {
			return ""
		}
		switch t := v.(type) {
		case string:
			return t
		case float64:
			return strconv.FormatInt(int64(t), 10)
		}
		return fmt.Sprint(v)
	}
	planID, _ := strconv.ParseInt(str(metaPlanID), 10, 64)
	return Metadata{
		PlanID: planID,
		Tier:   catalog.Tier(str(metaTier)),
		UserID: str(metaUserID),
		Email:  strings.ToLower(strings.TrimSpace(str(metaEmail))),
	}
}

func stringMap(m map[string]string) map[string]interface{} {
	out := make(map[string]interface{}, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// CheckoutRequest asks a provider to start a hosted payment
type CheckoutRequest struct {
	// Reference is our proposed payment reference; providers that mint their
	// own return it in CheckoutSession instead
	Reference   string
	Amount      int64
	Currency    string
	Email       string
	Description string
	CallbackURL string
	CancelURL   string
	Metadata    Metadata
}

// CheckoutSession is a started hosted payment
type CheckoutSession struct {
	Provider    string `json:"provider"`
	Reference   string `json:"reference"`
	RedirectURL string `json:"redirect_url"`
}

// PaymentState is a provider's outcome for a payment, reduced to what
// fulfillment acts on
type PaymentState string

const (
	PaymentPaid PaymentState = "paid"
	// PaymentPending covers every vendor status that can still become paid:
	// delayed methods, bank transfers in flight, a buyer still on the page
	PaymentPending PaymentState = "pending"
	PaymentFailed  PaymentState = "failed"
)

// VerifiedPayment is a provider's account of a payment reference
type VerifiedPayment struct {
	Provider  string
	Reference string
	State     PaymentState
	// Status is the vendor's raw status
	Status   string
	Amount   int64
	Currency string
	Email    string
	Metadata Metadata
	PaidAt   time.Time
}

// Paid reports whether the vendor has settled the payment
func (p *VerifiedPayment) Paid() bool { return p.State == PaymentPaid }

// WebhookEvent is a parsed, signature-checked vendor notification
type WebhookEvent struct {
	Type string
	// Fulfilling events carry a payment outcome that should be applied
	Fulfilling bool
	Payment    *VerifiedPayment
}

// APIError is a non-2xx vendor response
type APIError struct {
	Provider   string
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s api error (status %d): %s", e.Provider, e.StatusCode, e.Message)
}

// Temporary reports whether retrying the call may succeed
func (e *APIError) Temporary() bool {
	return e.StatusCode >= 500
}
