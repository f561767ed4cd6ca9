package api

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sakconstructions/storefront/pkg/ads"
	"github.com/sakconstructions/storefront/pkg/catalog"
	"github.com/sakconstructions/storefront/pkg/httputil"
	"github.com/sakconstructions/storefront/pkg/orders"
	"github.com/sakconstructions/storefront/pkg/payments"
	"github.com/sakconstructions/storefront/pkg/profiles"
)

type planPage struct {
	Items []*catalog.Plan `json:"items"`
	Total int64           `json:"total"`
}

func TestPlans_AdminLifecycle(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodPost, "/api/admin/plans", adminToken, map[string]interface{}{
		"title": "Four Bedroom Duplex", "category": "duplex", "bedrooms": 4,
		"basic_price": 150000, "standard_price": 300000, "premium_price": 450000,
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var plan catalog.Plan
	decode(t, rec, &plan)
	assert.Equal(t, "four-bedroom-duplex", plan.Slug)
	assert.False(t, plan.Published)

	// drafts are hidden from the public catalog
	var page planPage
	decode(t, ts.do(t, http.MethodGet, "/api/plans", "", nil), &page)
	assert.Equal(t, int64(0), page.Total)
	assert.Equal(t, http.StatusNotFound, ts.do(t, http.MethodGet, "/api/plans/"+itoa(plan.ID), "", nil).Code)

	// a buyer can't opt into drafts, an admin can
	decode(t, ts.do(t, http.MethodGet, "/api/plans?include_unpublished=true", buyerToken, nil), &page)
	assert.Equal(t, int64(0), page.Total)
	decode(t, ts.do(t, http.MethodGet, "/api/plans?include_unpublished=true", adminToken, nil), &page)
	assert.Equal(t, int64(1), page.Total)
	decode(t, ts.do(t, http.MethodGet, "/api/admin/plans", adminToken, nil), &page)
	assert.Equal(t, int64(1), page.Total)

	rec = ts.do(t, http.MethodPut, "/api/admin/plans/"+itoa(plan.ID), adminToken, map[string]interface{}{"published": true})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var detail catalog.PlanDetail
	decode(t, ts.do(t, http.MethodGet, "/api/plans/slug/four-bedroom-duplex", "", nil), &detail)
	assert.Equal(t, plan.ID, detail.Plan.ID)
	assert.True(t, detail.Plan.Published)

	rec = ts.do(t, http.MethodPost, "/api/admin/plans", adminToken, map[string]interface{}{
		"title": "Four Bedroom Duplex", "slug": "four-bedroom-duplex",
	})
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = ts.do(t, http.MethodDelete, "/api/admin/plans/"+itoa(plan.ID), adminToken, nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, http.StatusNotFound, ts.do(t, http.MethodGet, "/api/plans/"+itoa(plan.ID), "", nil).Code)
}

func TestPlans_Validation(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodPost, "/api/admin/plans", adminToken, map[string]interface{}{"basic_price": -1})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	var body httputil.ErrorResponse
	decode(t, rec, &body)
	assert.Contains(t, body.Fields, "title")

	rec = ts.do(t, http.MethodPost, "/api/admin/plans", adminToken, map[string]interface{}{
		"title": "Backwards", "basic_price": 500, "standard_price": 100, "premium_price": 900,
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	assert.Equal(t, http.StatusBadRequest, ts.do(t, http.MethodGet, "/api/plans?sort=cheapest", "", nil).Code)
	assert.Equal(t, http.StatusBadRequest, ts.do(t, http.MethodGet, "/api/plans?min_bedrooms=many", "", nil).Code)
}

func TestPlans_ListFilters(t *testing.T) {
	ts := newTestServer(t)
	ts.createPlan(t, "Duplex One", true)
	ctx := context.Background()
	_, err := ts.catalog.CreatePlan(ctx, &catalog.CreatePlanRequest{
		Title: "Small Bungalow", Category: "bungalow", Bedrooms: 2,
		BasicPrice: 50000, StandardPrice: 60000, PremiumPrice: 70000, Published: true,
	})
	require.NoError(t, err)

	var page planPage
	decode(t, ts.do(t, http.MethodGet, "/api/plans?category=bungalow", "", nil), &page)
	require.Equal(t, int64(1), page.Total)
	assert.Equal(t, "Small Bungalow", page.Items[0].Title)

	decode(t, ts.do(t, http.MethodGet, "/api/plans?min_bedrooms=3", "", nil), &page)
	require.Equal(t, int64(1), page.Total)
	assert.Equal(t, "Duplex One", page.Items[0].Title)

	decode(t, ts.do(t, http.MethodGet, "/api/plans?sort=price_asc&limit=1", "", nil), &page)
	assert.Equal(t, int64(2), page.Total)
	require.Len(t, page.Items, 1)
	assert.Equal(t, "Small Bungalow", page.Items[0].Title)
}

// TestPurchaseFlow walks a buyer from checkout to a downloaded file
func TestPurchaseFlow(t *testing.T) {
	ts := newTestServer(t)
	plan := ts.createPlan(t, "Family Duplex", true)

	body, contentType := multipartUpload(t, "basic", "ground-floor.pdf", "%PDF-1.4 ground floor")
	req := httptest.NewRequest(http.MethodPost, "/api/admin/plans/"+itoa(plan.ID)+"/files", body)
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Authorization", "Bearer "+adminToken)
	rec := httptest.NewRecorder()
	ts.ServeHTTP(rec, req)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var file catalog.PlanFile
	decode(t, rec, &file)
	assert.Equal(t, catalog.TierBasic, file.Tier)
	assert.Equal(t, "ground-floor.pdf", file.Name)

	body, contentType = multipartUpload(t, "premium", "cad.zip", "cad bundle")
	req = httptest.NewRequest(http.MethodPost, "/api/admin/plans/"+itoa(plan.ID)+"/files", body)
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Authorization", "Bearer "+adminToken)
	rec = httptest.NewRecorder()
	ts.ServeHTTP(rec, req)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var premiumFile catalog.PlanFile
	decode(t, rec, &premiumFile)

	// checkout
	rec = ts.do(t, http.MethodPost, "/api/checkout", buyerToken, map[string]interface{}{
		"provider": payments.ProviderPaystack, "plan_id": plan.ID, "tier": "standard",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var checkout payments.CheckoutResult
	decode(t, rec, &checkout)
	assert.Equal(t, "https://pay.example.com/"+checkout.Reference, checkout.RedirectURL)

	// files stay locked until payment
	rec = ts.do(t, http.MethodGet, "/api/orders/"+itoa(checkout.OrderID)+"/files", buyerToken, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	ts.provider.payments[checkout.Reference] = &payments.VerifiedPayment{
		Provider: payments.ProviderPaystack, Reference: checkout.Reference, State: payments.PaymentPaid, Status: "success",
		Amount: 250000, Currency: "NGN", Email: "buyer@example.com", PaidAt: time.Now(),
	}
	rec = ts.do(t, http.MethodPost, "/api/payments/paystack/verify", buyerToken, map[string]string{"reference": checkout.Reference})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var order orders.Order
	decode(t, rec, &order)
	assert.Equal(t, orders.StatusCompleted, order.Status)
	assert.Equal(t, checkout.OrderID, order.ID)

	// another buyer sees neither the order nor its files
	assert.Equal(t, http.StatusNotFound, ts.do(t, http.MethodGet, "/api/orders/"+itoa(order.ID), otherToken, nil).Code)
	assert.Equal(t, http.StatusNotFound, ts.do(t, http.MethodGet, "/api/orders/"+itoa(order.ID)+"/files", otherToken, nil).Code)

	var files []*catalog.PlanFile
	decode(t, ts.do(t, http.MethodGet, "/api/orders/"+itoa(order.ID)+"/files", buyerToken, nil), &files)
	require.Len(t, files, 1)
	assert.Equal(t, file.ID, files[0].ID)

	// a standard order does not unlock premium files
	rec = ts.do(t, http.MethodGet, "/api/orders/"+itoa(order.ID)+"/files/"+itoa(premiumFile.ID)+"/download", buyerToken, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = ts.do(t, http.MethodGet, "/api/orders/"+itoa(order.ID)+"/files/"+itoa(file.ID)+"/download", buyerToken, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var link orders.DownloadLink
	decode(t, rec, &link)
	require.True(t, strings.HasPrefix(link.URL, "http://api.test/files/"), link.URL)

	u, err := url.Parse(link.URL)
	require.NoError(t, err)
	rec = ts.do(t, http.MethodGet, u.RequestURI(), "", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "%PDF-1.4 ground floor", rec.Body.String())
	assert.Contains(t, rec.Header().Get("Content-Disposition"), "ground-floor.pdf")
	assert.Equal(t, "application/pdf", rec.Header().Get("Content-Type"))

	q := u.Query()
	q.Set("sig", strings.Repeat("0", 64))
	rec = ts.do(t, http.MethodGet, u.Path+"?"+q.Encode(), "", nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = ts.do(t, http.MethodGet, "/api/orders/"+itoa(order.ID)+"/files/"+itoa(file.ID)+"/download?redirect=true", buyerToken, nil)
	require.Equal(t, http.StatusFound, rec.Code)
	assert.True(t, strings.HasPrefix(rec.Header().Get("Location"), "http://api.test/files/"))

	var downloads []*orders.Download
	decode(t, ts.do(t, http.MethodGet, "/api/downloads", buyerToken, nil), &downloads)
	assert.Len(t, downloads, 2)

	var mine struct {
		Items []*orders.Order `json:"items"`
		Total int64           `json:"total"`
	}
	decode(t, ts.do(t, http.MethodGet, "/api/orders", buyerToken, nil), &mine)
	assert.Equal(t, int64(1), mine.Total)

	var stats orders.Stats
	decode(t, ts.do(t, http.MethodGet, "/api/admin/stats", adminToken, nil), &stats)
	assert.Equal(t, int64(1), stats.OrdersByStatus[orders.StatusCompleted])
	assert.Equal(t, int64(250000), stats.RevenueByCurrency["NGN"])
	assert.Equal(t, int64(2), stats.Downloads)

	// admin refund closes the order and its downloads
	rec = ts.do(t, http.MethodPost, "/api/admin/orders/"+itoa(order.ID)+"/status", adminToken, map[string]string{"status": "refunded"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	rec = ts.do(t, http.MethodGet, "/api/orders/"+itoa(order.ID)+"/files/"+itoa(file.ID)+"/download", buyerToken, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = ts.do(t, http.MethodPost, "/api/admin/orders/"+itoa(order.ID)+"/status", adminToken, map[string]string{"status": "pending"})
	assert.Equal(t, http.StatusConflict, rec.Code)
	rec = ts.do(t, http.MethodPost, "/api/admin/orders/"+itoa(order.ID)+"/status", adminToken, map[string]string{"status": "lost"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCheckout_Errors(t *testing.T) {
	ts := newTestServer(t)
	plan := ts.createPlan(t, "Terrace", true)

	tests := []struct {
		name string
		body map[string]interface{}
		want int
	}{
		{name: "missing fields", body: map[string]interface{}{}, want: http.StatusBadRequest},
		{name: "unknown provider", body: map[string]interface{}{"provider": "paypal", "plan_id": plan.ID, "tier": "basic"}, want: http.StatusBadRequest},
		{name: "bad tier", body: map[string]interface{}{"provider": "paystack", "plan_id": plan.ID, "tier": "gold"}, want: http.StatusBadRequest},
		{name: "unknown plan", body: map[string]interface{}{"provider": "paystack", "plan_id": 9999, "tier": "basic"}, want: http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := ts.do(t, http.MethodPost, "/api/checkout", buyerToken, tt.body)
			assert.Equal(t, tt.want, rec.Code, rec.Body.String())
		})
	}

	rec := ts.do(t, http.MethodPost, "/api/checkout", "", map[string]interface{}{"provider": "paystack", "plan_id": plan.ID, "tier": "basic"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestPaymentCallback(t *testing.T) {
	ts := newTestServer(t)
	plan := ts.createPlan(t, "Mansion", true)

	rec := ts.do(t, http.MethodPost, "/api/checkout", buyerToken, map[string]interface{}{
		"provider": "paystack", "plan_id": plan.ID, "tier": "basic",
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	var checkout payments.CheckoutResult
	decode(t, rec, &checkout)

	ts.provider.payments[checkout.Reference] = &payments.VerifiedPayment{
		Provider: payments.ProviderPaystack, Reference: checkout.Reference, State: payments.PaymentPaid,
		Amount: 100000, Currency: "NGN", Email: "buyer@example.com",
	}

	tests := []struct {
		name     string
		path     string
		location string
	}{
		{
			name:     "paystack trxref",
			path:     "/api/payments/paystack/callback?trxref=" + checkout.Reference,
			location: "https://shop.example.com/payment/success?order=" + itoa(checkout.OrderID),
		},
		{
			name:     "replayed callback",
			path:     "/api/payments/paystack/callback?reference=" + checkout.Reference,
			location: "https://shop.example.com/payment/success?order=" + itoa(checkout.OrderID),
		},
		{
			name:     "unknown reference",
			path:     "/api/payments/paystack/callback?reference=sak_missing",
			location: "https://shop.example.com/payment/failed?reason=verification_failed",
		},
		{
			name:     "missing reference",
			path:     "/api/payments/paystack/callback",
			location: "https://shop.example.com/payment/failed?reason=missing_reference",
		},
		{
			name:     "disabled provider",
			path:     "/api/payments/stripe/callback?reference=cs_1",
			location: "https://shop.example.com/payment/failed?reason=unknown_provider",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := ts.do(t, http.MethodGet, tt.path, "", nil)
			require.Equal(t, http.StatusFound, rec.Code)
			assert.Equal(t, tt.location, rec.Header().Get("Location"))
		})
	}
}

func TestPaymentPendingThenSettled(t *testing.T) {
	ts := newTestServer(t)
	plan := ts.createPlan(t, "Terrace", true)

	rec := ts.do(t, http.MethodPost, "/api/checkout", buyerToken, map[string]interface{}{
		"provider": "paystack", "plan_id": plan.ID, "tier": "basic",
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	var checkout payments.CheckoutResult
	decode(t, rec, &checkout)

	pending := &payments.VerifiedPayment{
		Provider: payments.ProviderPaystack, Reference: checkout.Reference, State: payments.PaymentPending, Status: "ongoing",
		Amount: 100000, Currency: "NGN", Email: "buyer@example.com",
	}
	ts.provider.payments[checkout.Reference] = pending

	rec = ts.do(t, http.MethodGet, "/api/payments/paystack/callback?reference="+checkout.Reference, "", nil)
	require.Equal(t, http.StatusFound, rec.Code)
	assert.Equal(t, "https://shop.example.com/payment/pending?provider=paystack&reference="+checkout.Reference, rec.Header().Get("Location"))

	rec = ts.do(t, http.MethodPost, "/api/payments/paystack/verify", buyerToken, map[string]string{"reference": checkout.Reference})
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	assert.JSONEq(t, `{"status": "pending", "reference": "`+checkout.Reference+`"}`, rec.Body.String())

	webhook := func() *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/api/payments/paystack/webhook", strings.NewReader(`{}`))
		req.Header.Set(payments.PaystackSignatureHeader, "good")
		rec := httptest.NewRecorder()
		ts.ServeHTTP(rec, req)
		return rec
	}
	ts.provider.webhook = &payments.WebhookEvent{Type: "charge.pending", Fulfilling: true, Payment: pending}
	rec = webhook()
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"received": true, "fulfilled": false, "pending": true}`, rec.Body.String())

	order, err := ts.orders.GetOrder(context.Background(), checkout.OrderID)
	require.NoError(t, err)
	assert.Equal(t, orders.StatusPending, order.Status)

	settled := *pending
	settled.State, settled.Status = payments.PaymentPaid, "success"
	ts.provider.webhook = &payments.WebhookEvent{Type: "charge.success", Fulfilling: true, Payment: &settled}
	rec = webhook()
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"fulfilled":true`)

	order, err = ts.orders.GetOrder(context.Background(), checkout.OrderID)
	require.NoError(t, err)
	assert.Equal(t, orders.StatusCompleted, order.Status)
}

func TestPaymentWebhook(t *testing.T) {
	ts := newTestServer(t)
	plan := ts.createPlan(t, "Studio", true)

	webhook := func(signature string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/api/payments/paystack/webhook", strings.NewReader(`{"event":"charge.success"}`))
		req.Header.Set(payments.PaystackSignatureHeader, signature)
		rec := httptest.NewRecorder()
		ts.ServeHTTP(rec, req)
		return rec
	}

	assert.Equal(t, http.StatusUnauthorized, webhook("bad").Code)

	ts.provider.webhook = &payments.WebhookEvent{Type: "transfer.success"}
	rec := webhook("good")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"received": true, "fulfilled": false}`, rec.Body.String())

	// the webhook beats the checkout record: the order is created from metadata
	ts.provider.webhook = &payments.WebhookEvent{Type: "charge.success", Fulfilling: true, Payment: &payments.VerifiedPayment{
		Provider: payments.ProviderPaystack, Reference: "sak_webhook_first", State: payments.PaymentPaid,
		Amount: 100000, Currency: "NGN", Email: "walkin@example.com",
		Metadata: payments.Metadata{PlanID: plan.ID, Tier: catalog.TierBasic},
	}}
	rec = webhook("good")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Contains(t, rec.Body.String(), `"fulfilled":true`)

	order, err := ts.orders.GetByReference(context.Background(), payments.ProviderPaystack, "sak_webhook_first")
	require.NoError(t, err)
	assert.Equal(t, orders.StatusCompleted, order.Status)
	guest, err := ts.profiles.GetByEmail(context.Background(), "walkin@example.com")
	require.NoError(t, err)
	assert.True(t, guest.IsGuest())

	// underpayment is acknowledged so the vendor stops retrying
	ts.provider.webhook.Payment = &payments.VerifiedPayment{
		Provider: payments.ProviderPaystack, Reference: "sak_short", State: payments.PaymentPaid,
		Amount: 100, Currency: "NGN", Email: "walkin@example.com",
		Metadata: payments.Metadata{PlanID: plan.ID, Tier: catalog.TierBasic},
	}
	rec = webhook("good")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"fulfilled":false`)

	rec = ts.do(t, http.MethodPost, "/api/payments/paypal/webhook", "", map[string]string{})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestListProviders(t *testing.T) {
	ts := newTestServer(t)
	rec := ts.do(t, http.MethodGet, "/api/payments/providers", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"providers": ["paystack"]}`, rec.Body.String())
}

func TestReviewsAndFavorites(t *testing.T) {
	ts := newTestServer(t)
	plan := ts.createPlan(t, "Cottage", true)
	base := "/api/plans/" + itoa(plan.ID)

	rec := ts.do(t, http.MethodPost, base+"/reviews", buyerToken, map[string]interface{}{"rating": 6})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = ts.do(t, http.MethodPost, base+"/reviews", buyerToken, map[string]interface{}{"rating": 4, "comment": "Clear drawings"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var review catalog.Review
	decode(t, rec, &review)
	assert.False(t, review.VerifiedPurchase)

	var page struct {
		Items []*catalog.Review `json:"items"`
		Total int64             `json:"total"`
	}
	decode(t, ts.do(t, http.MethodGet, base+"/reviews", "", nil), &page)
	assert.Equal(t, int64(1), page.Total)

	assert.Equal(t, http.StatusForbidden, ts.do(t, http.MethodDelete, "/api/reviews/"+itoa(review.ID), otherToken, nil).Code)
	assert.Equal(t, http.StatusNoContent, ts.do(t, http.MethodDelete, "/api/reviews/"+itoa(review.ID), adminToken, nil).Code)

	draft := ts.createPlan(t, "Unreleased", false)
	assert.Equal(t, http.StatusNotFound, ts.do(t, http.MethodGet, "/api/plans/"+itoa(draft.ID)+"/reviews", "", nil).Code)
	assert.Equal(t, http.StatusNotFound, ts.do(t, http.MethodGet, "/api/plans/"+itoa(draft.ID)+"/reviews", buyerToken, nil).Code)
	assert.Equal(t, http.StatusOK, ts.do(t, http.MethodGet, "/api/plans/"+itoa(draft.ID)+"/reviews", adminToken, nil).Code)

	assert.Equal(t, http.StatusNoContent, ts.do(t, http.MethodPut, "/api/favorites/"+itoa(plan.ID), buyerToken, nil).Code)
	assert.Equal(t, http.StatusNoContent, ts.do(t, http.MethodPut, "/api/favorites/"+itoa(plan.ID), buyerToken, nil).Code)
	var favorites []*catalog.Plan
	decode(t, ts.do(t, http.MethodGet, "/api/favorites", buyerToken, nil), &favorites)
	require.Len(t, favorites, 1)
	assert.Equal(t, plan.ID, favorites[0].ID)

	assert.Equal(t, http.StatusNoContent, ts.do(t, http.MethodDelete, "/api/favorites/"+itoa(plan.ID), buyerToken, nil).Code)
	decode(t, ts.do(t, http.MethodGet, "/api/favorites", buyerToken, nil), &favorites)
	assert.Empty(t, favorites)

	assert.Equal(t, http.StatusNotFound, ts.do(t, http.MethodPut, "/api/favorites/9999", buyerToken, nil).Code)
}

func TestAds(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodPost, "/api/admin/ads", adminToken, map[string]interface{}{
		"title": "Site visit promo", "image_url": "https://img.example.com/promo.png",
		"link_url": "https://example.com/promo", "placement": "home",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var ad ads.Ad
	decode(t, rec, &ad)

	rec = ts.do(t, http.MethodPost, "/api/admin/ads", adminToken, map[string]interface{}{"title": "No image"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	var active []*ads.Ad
	decode(t, ts.do(t, http.MethodGet, "/api/ads?placement=home", "", nil), &active)
	require.Len(t, active, 1)
	decode(t, ts.do(t, http.MethodGet, "/api/ads?placement=sidebar", "", nil), &active)
	assert.Empty(t, active)

	assert.Equal(t, http.StatusNoContent, ts.do(t, http.MethodPost, "/api/ads/"+itoa(ad.ID)+"/impression", "", nil).Code)
	assert.Equal(t, http.StatusNoContent, ts.do(t, http.MethodPost, "/api/ads/"+itoa(ad.ID)+"/click", "", nil).Code)
	assert.Equal(t, http.StatusNotFound, ts.do(t, http.MethodPost, "/api/ads/9999/click", "", nil).Code)

	got, err := ts.ads.GetAd(context.Background(), ad.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), got.Impressions)
	assert.Equal(t, int64(1), got.Clicks)

	rec = ts.do(t, http.MethodPut, "/api/admin/ads/"+itoa(ad.ID), adminToken, map[string]interface{}{
		"title": "Site visit promo", "image_url": "https://img.example.com/promo.png",
		"placement": "home", "active": false,
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	decode(t, ts.do(t, http.MethodGet, "/api/ads?placement=home", "", nil), &active)
	assert.Empty(t, active)

	var all []*ads.Ad
	decode(t, ts.do(t, http.MethodGet, "/api/admin/ads", adminToken, nil), &all)
	assert.Len(t, all, 1)

	assert.Equal(t, http.StatusNoContent, ts.do(t, http.MethodDelete, "/api/admin/ads/"+itoa(ad.ID), adminToken, nil).Code)
	assert.Equal(t, http.StatusNotFound, ts.do(t, http.MethodDelete, "/api/admin/ads/"+itoa(ad.ID), adminToken, nil).Code)
}

func TestAdminProfiles(t *testing.T) {
	ts := newTestServer(t)

	// sign both users in so their profiles exist
	require.Equal(t, http.StatusOK, ts.do(t, http.MethodGet, "/api/profile", buyerToken, nil).Code)
	var admin profiles.Profile
	decode(t, ts.do(t, http.MethodGet, "/api/profile", adminToken, nil), &admin)
	assert.Equal(t, profiles.RoleAdmin, admin.Role)

	var page struct {
		Items []*profiles.Profile `json:"items"`
		Total int64               `json:"total"`
	}
	decode(t, ts.do(t, http.MethodGet, "/api/admin/profiles?search=buyer", adminToken, nil), &page)
	require.Equal(t, int64(1), page.Total)
	buyer := page.Items[0]

	assert.Equal(t, http.StatusBadRequest, ts.do(t, http.MethodGet, "/api/admin/profiles?role=owner", adminToken, nil).Code)

	rec := ts.do(t, http.MethodPut, "/api/admin/profiles/"+itoa(buyer.ID)+"/role", adminToken, map[string]string{"role": "admin"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, http.StatusOK, ts.do(t, http.MethodGet, "/api/admin/stats", buyerToken, nil).Code)

	rec = ts.do(t, http.MethodPut, "/api/admin/profiles/"+itoa(admin.ID)+"/role", adminToken, map[string]string{"role": "user"})
	assert.Equal(t, http.StatusConflict, rec.Code)
}
