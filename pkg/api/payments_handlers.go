package api

import (
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/sakconstructions/storefront/pkg/httputil"
	"github.com/sakconstructions/storefront/pkg/orders"
	"github.com/sakconstructions/storefront/pkg/payments"
	"github.com/sakconstructions/storefront/pkg/profiles"
)

// checkout starts a hosted payment for the signed-in buyer
func (s *Server) checkout(w http.ResponseWriter, r *http.Request) {
	var in payments.CheckoutInput
	if !httputil.DecodeAndValidate(w, r, &in) {
		return
	}
	profile := currentProfile(r)
	in.ProfileID = profile.ID
	in.UserID = profile.UserID
	in.Email = profile.Email

	result, err := s.deps.Payments.Checkout(r.Context(), &in)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	httputil.WriteCreated(w, result)
}

// listProviders handles GET /api/payments/providers
func (s *Server) listProviders(w http.ResponseWriter, r *http.Request) {
	httputil.WriteSuccess(w, map[string]interface{}{"providers": s.deps.Payments.Providers()})
}

type verifyRequest struct {
	Reference string `json:"reference" validate:"required,max=255"`
}

// verifyPayment lets the frontend confirm a payment it was told about
func (s *Server) verifyPayment(w http.ResponseWriter, r *http.Request) {
	provider, err := httputil.ParsePathString(r, "provider")
	if err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}
	var req verifyRequest
	if !httputil.DecodeAndValidate(w, r, &req) {
		return
	}

	order, err := s.deps.Payments.Verify(r.Context(), provider, req.Reference)
	if errors.Is(err, payments.ErrPaymentPending) {
		// the order stays pending; the client polls again or waits for the webhook
		httputil.WriteJSON(w, http.StatusAccepted, map[string]interface{}{
			"status":    orders.StatusPending,
			"reference": req.Reference,
		})
		return
	}
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	if profile := currentProfile(r); order.UserID != profile.ID && !profile.IsAdmin() {
		// the payment went through, but the caller doesn't get to see someone else's order
		httputil.WriteSuccess(w, map[string]interface{}{"status": order.Status})
		return
	}
	httputil.WriteSuccess(w, order)
}

// callbackReference reads the payment reference a provider appended to the return URL
func callbackReference(r *http.Request) string {
	q := r.URL.Query()
	for _, key := range []string{"reference", "trxref"} {
		if ref := strings.TrimSpace(q.Get(key)); ref != "" {
			return ref
		}
	}
	return ""
}

// paymentCallback is where the provider returns the browser. It verifies the
// payment server side and redirects to the frontend's result page.
func (s *Server) paymentCallback(w http.ResponseWriter, r *http.Request) {
	provider, err := httputil.ParsePathString(r, "provider")
	if err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}
	reference := callbackReference(r)
	if reference == "" {
		http.Redirect(w, r, s.deps.Payments.FailureRedirect("missing_reference"), http.StatusFound)
		return
	}

	order, err := s.deps.Payments.Verify(r.Context(), provider, reference)
	if errors.Is(err, payments.ErrPaymentPending) {
		http.Redirect(w, r, s.deps.Payments.PendingRedirect(provider, reference), http.StatusFound)
		return
	}
	if err != nil {
		reqLogger(r).WithError(err).WithField("reference", reference).Warn("Payment callback did not fulfill an order")
		http.Redirect(w, r, s.deps.Payments.FailureRedirect(payments.FailureReason(err)), http.StatusFound)
		return
	}
	http.Redirect(w, r, s.deps.Payments.SuccessRedirect(order), http.StatusFound)
}

// signatureHeaders names the header each provider signs webhooks with
var signatureHeaders = map[string]string{
	payments.ProviderStripe:   payments.StripeSignatureHeader,
	payments.ProviderPaystack: payments.PaystackSignatureHeader,
}

// paymentWebhook accepts vendor notifications. Outcomes a retry can't change
// are acknowledged so the vendor stops redelivering them.
func (s *Server) paymentWebhook(w http.ResponseWriter, r *http.Request) {
	provider, err := httputil.ParsePathString(r, "provider")
	if err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}
	header, ok := signatureHeaders[provider]
	if !ok {
		httputil.WriteNotFoundError(w, payments.ErrUnknownProvider.Error())
		return
	}
	payload, err := io.ReadAll(r.Body)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	order, err := s.deps.Payments.HandleWebhook(r.Context(), provider, payload, r.Header.Get(header))
	switch {
	case err == nil:
	case errors.Is(err, payments.ErrPaymentPending):
		// a later event settles it
		httputil.WriteSuccess(w, map[string]interface{}{"received": true, "fulfilled": false, "pending": true})
		return
	case errors.Is(err, payments.ErrInvalidSignature), errors.Is(err, payments.ErrUnknownProvider):
		writeServiceError(w, r, err)
		return
	case errors.Is(err, payments.ErrPaymentNotSuccessful),
		errors.Is(err, payments.ErrAmountMismatch),
		errors.Is(err, payments.ErrOrderClosed),
		errors.Is(err, payments.ErrMissingCustomer),
		errors.Is(err, profiles.ErrEmailRequired):
		reqLogger(r).WithError(err).WithField("provider", provider).Warn("Webhook payment not fulfilled")
		httputil.WriteSuccess(w, map[string]interface{}{"received": true, "fulfilled": false})
		return
	default:
		writeServiceError(w, r, err)
		return
	}

	resp := map[string]interface{}{"received": true, "fulfilled": order != nil}
	if order != nil {
		resp["order_id"] = order.ID
	}
	httputil.WriteSuccess(w, resp)
}
