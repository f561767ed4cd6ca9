package cli

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sakconstructions/storefront/pkg/app"
	"github.com/sakconstructions/storefront/pkg/catalog"
	"github.com/sakconstructions/storefront/pkg/config"
	"github.com/sakconstructions/storefront/pkg/database"
	"github.com/sakconstructions/storefront/pkg/observability"
	"github.com/sakconstructions/storefront/pkg/orders"
	"github.com/sakconstructions/storefront/pkg/payments"
	"github.com/sakconstructions/storefront/pkg/profiles"
)

var quietLogger = observability.NewLogger(observability.ErrorLevel, io.Discard)

// stubProvider answers Verify from its table
type stubProvider struct {
	payments map[string]*payments.VerifiedPayment
}

func (p *stubProvider) Name() string { return payments.ProviderPaystack }

func (p *stubProvider) InitializeCheckout(_ context.Context, req *payments.CheckoutRequest) (*payments.CheckoutSession, error) {
	return &payments.CheckoutSession{Provider: p.Name(), Reference: req.Reference, RedirectURL: "https://pay.example.com/" + req.Reference}, nil
}

func (p *stubProvider) Verify(_ context.Context, reference string) (*payments.VerifiedPayment, error) {
	vp, ok := p.payments[reference]
	if !ok {
		return nil, &payments.APIError{Provider: p.Name(), StatusCode: 404, Message: "transaction not found"}
	}
	return vp, nil
}

func (p *stubProvider) ParseWebhook([]byte, string) (*payments.WebhookEvent, error) {
	return nil, payments.ErrInvalidSignature
}

type harness struct {
	cfg      *config.Config
	provider *stubProvider
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	dir := t.TempDir()
	cfg := config.Default()
	cfg.Database.Driver = database.DriverSQLite
	cfg.Database.URL = filepath.Join(dir, "storefront.db")
	cfg.Blob.FilesystemRoot = filepath.Join(dir, "files")
	cfg.Blob.SigningKey = "signing-key"
	cfg.Payments.PaystackSecretKey = "sk_test_123"
	cfg.Auth.AdminEmails = nil
	return &harness{cfg: cfg, provider: &stubProvider{payments: map[string]*payments.VerifiedPayment{}}}
}

func (h *harness) open(ctx context.Context) (*app.App, error) {
	a, err := app.New(ctx, h.cfg, quietLogger)
	if err != nil {
		return nil, err
	}
	a.Payments = payments.NewService(payments.Config{
		Currency:      h.cfg.Payments.Currency,
		PublicBaseURL: h.cfg.Server.PublicBaseURL,
		FrontendURL:   h.cfg.Server.FrontendURL,
	}, a.Catalog, a.Orders, a.Profiles, a.Metrics, quietLogger, h.provider)
	return a, nil
}

// run executes the CLI with args and returns its output
func (h *harness) run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := NewRootCommand(h.open)
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

// withOpenApp gives a test direct access to the same database the CLI uses
func (h *harness) withOpenApp(t *testing.T, fn func(a *app.App)) {
	t.Helper()
	a, err := h.open(context.Background())
	require.NoError(t, err)
	defer a.Close()
	fn(a)
}

func TestNewRootCommand(t *testing.T) {
	root := NewRootCommand(DefaultOpener)
	assert.Equal(t, "storefront-admin", root.Name())

	var names []string
	for _, c := range root.Commands() {
		names = append(names, c.Name())
	}
	for _, want := range []string{"migrate", "plans", "profiles", "orders"} {
		assert.Contains(t, names, want)
	}
}

func TestMigrate(t *testing.T) {
	h := newHarness(t)
	out, err := h.run(t, "migrate")
	require.NoError(t, err)
	assert.Contains(t, out, "Database at migration version")
}

func TestPlansImportAndList(t *testing.T) {
	h := newHarness(t)
	manifest := filepath.Join(t.TempDir(), "plans.yaml")
	require.NoError(t, os.WriteFile(manifest, []byte(`
plans:
  - slug: river-view-duplex
    title: River View Duplex
    category: duplex
    basic_price: 100
    standard_price: 200
    premium_price: 300
    published: true
  - slug: hidden-draft
    title: Hidden Draft
    basic_price: 10
    standard_price: 20
    premium_price: 30
`), 0o644))

	out, err := h.run(t, "plans", "import", manifest)
	require.NoError(t, err)
	assert.Contains(t, out, "2 created, 0 updated")

	out, err = h.run(t, "plans", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "river-view-duplex")
	assert.NotContains(t, out, "hidden-draft")

	out, err = h.run(t, "plans", "list", "--all")
	require.NoError(t, err)
	assert.Contains(t, out, "hidden-draft")
	assert.Contains(t, out, "2 of 2 plans")
}

func TestPlansImport_MissingFile(t *testing.T) {
	h := newHarness(t)
	_, err := h.run(t, "plans", "import", filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to open manifest")
}

func TestProfilesGrantAndRevokeAdmin(t *testing.T) {
	h := newHarness(t)

	_, err := h.run(t, "profiles", "grant-admin", "ops@example.com")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "must sign in once first")

	h.withOpenApp(t, func(a *app.App) {
		_, err := a.Profiles.EnsureProfile(context.Background(), profiles.Identity{UserID: "user-ops", Email: "ops@example.com", Name: "Ops", EmailVerified: true})
		require.NoError(t, err)
	})

	out, err := h.run(t, "profiles", "grant-admin", "ops@example.com")
	require.NoError(t, err)
	assert.Contains(t, out, "ops@example.com is now admin")

	h.withOpenApp(t, func(a *app.App) {
		isAdmin, err := a.Profiles.IsAdmin(context.Background(), "user-ops")
		require.NoError(t, err)
		assert.True(t, isAdmin)
	})

	out, err = h.run(t, "profiles", "revoke-admin", "ops@example.com")
	require.NoError(t, err)
	assert.Contains(t, out, "is now "+string(profiles.RoleUser))
}

func TestOrdersReconcile(t *testing.T) {
	h := newHarness(t)

	var reference string
	h.withOpenApp(t, func(a *app.App) {
		ctx := context.Background()
		plan, err := a.Catalog.CreatePlan(ctx, &catalog.CreatePlanRequest{
			Title: "Reconciled Terrace", BasicPrice: 500, StandardPrice: 700, PremiumPrice: 900, Published: true,
		})
		require.NoError(t, err)
		buyer, err := a.Profiles.EnsureProfile(ctx, profiles.Identity{UserID: "user-9", Email: "late@example.com", Name: "Late Buyer", EmailVerified: true})
		require.NoError(t, err)

		result, err := a.Payments.Checkout(ctx, &payments.CheckoutInput{
			Provider: payments.ProviderPaystack, PlanID: plan.ID, Tier: catalog.TierStandard,
			ProfileID: buyer.ID, UserID: buyer.UserID, Email: buyer.Email,
		})
		require.NoError(t, err)
		reference = result.Reference
	})

	_, err := h.run(t, "orders", "reconcile", "paystack", reference)
	require.Error(t, err, "provider has no record of the payment yet")

	h.provider.payments[reference] = &payments.VerifiedPayment{
		Provider: payments.ProviderPaystack, Reference: reference, State: payments.PaymentPending, Status: "processing",
		Amount: 700, Currency: "NGN", Email: "late@example.com",
	}
	out, err := h.run(t, "orders", "reconcile", "paystack", reference)
	require.NoError(t, err)
	assert.Contains(t, out, "not final yet")
	h.withOpenApp(t, func(a *app.App) {
		order, err := a.Orders.GetByReference(context.Background(), payments.ProviderPaystack, reference)
		require.NoError(t, err)
		assert.Equal(t, orders.StatusPending, order.Status)
	})

	h.provider.payments[reference] = &payments.VerifiedPayment{
		Provider: payments.ProviderPaystack, Reference: reference, State: payments.PaymentPaid, Status: "success",
		Amount: 700, Currency: "NGN", Email: "late@example.com", PaidAt: time.Now(),
	}
	out, err = h.run(t, "orders", "reconcile", "paystack", reference)
	require.NoError(t, err)
	assert.Contains(t, out, `"Reconciled Terrace" (standard) is `+string(orders.StatusCompleted))

	_, err = h.run(t, "orders", "reconcile", "paypal", reference)
	require.ErrorIs(t, err, payments.ErrUnknownProvider)
}

func TestCommandArgs(t *testing.T) {
	h := newHarness(t)
	_, err := h.run(t, "orders", "reconcile", "paystack")
	require.Error(t, err)
	_, err = h.run(t, "profiles", "grant-admin")
	require.Error(t, err)
}
