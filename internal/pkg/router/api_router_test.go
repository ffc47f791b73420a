package router

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v82/webhook"

	"github.com/ManuelReschke/Melodex/app/controllers"
	"github.com/ManuelReschke/Melodex/app/models"
	"github.com/ManuelReschke/Melodex/app/repository"
	"github.com/ManuelReschke/Melodex/app/repository/repotest"
	"github.com/ManuelReschke/Melodex/internal/pkg/billing"
	"github.com/ManuelReschke/Melodex/internal/pkg/cache"
	"github.com/ManuelReschke/Melodex/internal/pkg/entitlements"
	"github.com/ManuelReschke/Melodex/internal/pkg/ledger"
	"github.com/ManuelReschke/Melodex/internal/pkg/licensing"
	"github.com/ManuelReschke/Melodex/internal/pkg/middleware"
	"github.com/ManuelReschke/Melodex/internal/pkg/objectstore"
	"github.com/ManuelReschke/Melodex/internal/pkg/statistics"
	"github.com/ManuelReschke/Melodex/internal/pkg/subscription"
)

const webhookSecret = "whsec_router_test"

var jwtSecret = []byte("router-test-secret")

// fakeStripe creates checkout sessions locally and verifies webhooks with
// the real signature check.
type fakeStripe struct {
	checkoutErr error
}

func (f *fakeStripe) CreateSaleCheckout(_ context.Context, req billing.SaleCheckoutRequest) (*billing.CheckoutSession, error) {
	if f.checkoutErr != nil {
		return nil, f.checkoutErr
	}
	return &billing.CheckoutSession{
		ID:  fmt.Sprintf("cs_test_%d", req.SaleID),
		URL: "https://checkout.stripe.test/" + fmt.Sprint(req.SaleID),
	}, nil
}

func (f *fakeStripe) ParseWebhook(payload []byte, signatureHeader string) (*billing.Event, error) {
	return billing.ParseStripeWebhook(payload, signatureHeader, webhookSecret)
}

type fakePaypal struct {
	captureStatus string
	orders        []billing.OrderRequest
}

func (f *fakePaypal) CreateOrder(_ context.Context, req billing.OrderRequest) (*billing.Order, error) {
	f.orders = append(f.orders, req)
	return &billing.Order{
		ID:         fmt.Sprintf("ORDER-%d", req.SaleID),
		Status:     "CREATED",
		ApproveURL: "https://paypal.test/approve",
	}, nil
}

func (f *fakePaypal) CaptureOrder(_ context.Context, orderID string) (*billing.Capture, error) {
	return &billing.Capture{OrderID: orderID, Status: f.captureStatus}, nil
}

type fakeSubscriptions struct{}

func (fakeSubscriptions) CreateCustomer(_ context.Context, userID uint, _, _ string) (string, error) {
	return fmt.Sprintf("cus_%d", userID), nil
}

func (fakeSubscriptions) CreateSubscriptionCheckout(_ context.Context, req billing.SubscriptionCheckoutRequest) (*billing.CheckoutSession, error) {
	return &billing.CheckoutSession{ID: "cs_sub", URL: "https://checkout.stripe.test/sub"}, nil
}

func (fakeSubscriptions) SetCancelAtPeriodEnd(_ context.Context, _ string, cancel bool) (*time.Time, error) {
	if !cancel {
		return nil, nil
	}
	at := time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC)
	return &at, nil
}

// webhookRepo is an in-memory billing.Repository.
type webhookRepo struct {
	mu        sync.Mutex
	events    map[string]*models.BillingWebhookEvent
	createErr error
}

func (r *webhookRepo) CreateWebhookEventIfNotExists(_ context.Context, ev *models.BillingWebhookEvent) (bool, *models.BillingWebhookEvent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.createErr != nil {
		return false, nil, r.createErr
	}
	key := ev.Provider + ":" + ev.ProviderEventID
	if stored, ok := r.events[key]; ok {
		cp := *stored
		return false, &cp, nil
	}
	ev.ID = uint(len(r.events) + 1)
	r.events[key] = ev
	cp := *ev
	return true, &cp, nil
}

func (r *webhookRepo) MarkWebhookProcessed(_ context.Context, id uint, processingError string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, ev := range r.events {
		if ev.ID == id {
			now := time.Now()
			ev.ProcessedAt = &now
			ev.ProcessingError = processingError
			return nil
		}
	}
	return errors.New("webhook event not found")
}

func (r *webhookRepo) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.events)
}

type harness struct {
	t        *testing.T
	app      *fiber.App
	store    *repotest.Store
	repos    *repository.Repositories
	stripe   *fakeStripe
	paypal   *fakePaypal
	webhooks *webhookRepo
	objects  *objectstore.Memory
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	store := repotest.NewStore()
	repos := store.Repositories()
	h := &harness{
		t:        t,
		store:    store,
		repos:    repos,
		stripe:   &fakeStripe{},
		paypal:   &fakePaypal{captureStatus: "COMPLETED"},
		webhooks: &webhookRepo{events: map[string]*models.BillingWebhookEvent{}},
		objects:  objectstore.NewMemory("https://files.test"),
	}

	ctrl := controllers.New(controllers.Dependencies{
		Repos:      repos,
		Ledger:     ledger.NewService(repos),
		Tracker:    subscription.NewTracker(repos.Profile, fakeSubscriptions{}, nil, subscription.Config{}),
		Gate:       entitlements.NewGate(repos),
		Licensing:  licensing.NewService(repos, h.objects, nopDownloads{}),
		Statistics: statistics.NewService(repos, cache.NewMemoryStore(time.Minute, time.Minute)),
		Webhooks:   billing.NewService(h.webhooks),
		Stripe:     h.stripe,
		Paypal:     h.paypal,
		Storage:    h.objects,
		AppURL:     "https://melodex.test",
	})

	h.app = fiber.New()
	InstallRouter(h.app, NewApiRouter(ctrl, jwtSecret, nil))
	return h
}

type nopDownloads struct{}

func (nopDownloads) AddMelodyDownload(context.Context, uint) error { return nil }

func (h *harness) profile(name, role string, mutate func(*models.Profile)) (*models.Profile, string) {
	h.t.Helper()
	p := &models.Profile{Username: name, Email: name + "@example.com", Role: role}
	if mutate != nil {
		mutate(p)
	}
	require.NoError(h.t, h.repos.Profile.Create(context.Background(), p))
	token, err := middleware.NewToken(jwtSecret, p.ID, p.Username, time.Hour)
	require.NoError(h.t, err)
	return p, token
}

func (h *harness) pack(line models.ProductLine, producerID uint, price int64) *models.Pack {
	h.t.Helper()
	key := fmt.Sprintf("%s/%d/kit.zip", line, producerID)
	_, err := h.objects.Put(context.Background(), key, []byte("PK"), "application/zip")
	require.NoError(h.t, err)
	p := &models.Pack{ProducerID: producerID, Title: "Drum Kit", PriceCents: price, Currency: "USD", FileKey: key}
	require.NoError(h.t, h.repos.Pack.Create(context.Background(), line, p))
	return p
}

func (h *harness) do(method, path, token string, body io.Reader, header map[string]string) (int, map[string]any) {
	h.t.Helper()
	req := httptest.NewRequest(method, path, body)
	if body != nil && header["Content-Type"] == "" {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range header {
		req.Header.Set(k, v)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := h.app.Test(req, -1)
	require.NoError(h.t, err)
	raw, _ := io.ReadAll(resp.Body)
	out := map[string]any{}
	if len(raw) > 0 {
		require.NoError(h.t, json.Unmarshal(raw, &out), string(raw))
	}
	return resp.StatusCode, out
}

func (h *harness) webhook(payload string) (int, map[string]any) {
	h.t.Helper()
	sp := webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{
		Payload:   []byte(payload),
		Secret:    webhookSecret,
		Timestamp: time.Now(),
	})
	return h.do(http.MethodPost, "/api/v1/webhooks/stripe", "", bytes.NewReader(sp.Payload),
		map[string]string{"Stripe-Signature": sp.Header})
}

func (h *harness) saleOf(line models.ProductLine, id uint) *models.Sale {
	h.t.Helper()
	s, err := h.repos.Sale.GetByID(context.Background(), line, id)
	require.NoError(h.t, err)
	return s
}

func saleID(t *testing.T, body map[string]any) uint {
	t.Helper()
	sale, ok := body["sale"].(map[string]any)
	require.True(t, ok, "response has a sale: %v", body)
	return uint(sale["sale_id"].(float64))
}

func TestSamplePackPurchase_WebhookCompletesSale(t *testing.T) {
	h := newHarness(t)
	producer, _ := h.profile("producer", models.ROLE_FREE, func(p *models.Profile) { p.StripeAccountID = "acct_123" })
	_, buyerToken := h.profile("buyer", models.ROLE_FREE, nil)
	pack := h.pack(models.LineSamplePack, producer.ID, 1000)

	status, body := h.do(http.MethodPost, fmt.Sprintf("/api/v1/sample-packs/%d/purchase", pack.ID), buyerToken, nil, nil)
	require.Equal(t, fiber.StatusCreated, status, body)
	id := saleID(t, body)
	sale := body["sale"].(map[string]any)
	assert.EqualValues(t, 200, sale["commission"])
	assert.EqualValues(t, 800, sale["net"])

	status, _ = h.do(http.MethodGet, fmt.Sprintf("/api/v1/sample-packs/%d/download", pack.ID), buyerToken, nil, nil)
	assert.Equal(t, fiber.StatusForbidden, status, "pending sale grants nothing")

	completed := fmt.Sprintf(`{
		"id": "evt_checkout_1",
		"object": "event",
		"type": "checkout.session.completed",
		"data": {"object": {
			"id": "cs_test_%d",
			"object": "checkout.session",
			"mode": "payment",
			"payment_status": "paid",
			"metadata": {"sale_id": "%d"}
		}}
	}`, id, id)

	status, body = h.webhook(completed)
	require.Equal(t, fiber.StatusOK, status, body)
	assert.Equal(t, models.SaleStatusCompleted, h.saleOf(models.LineSamplePack, id).Status)

	status, body = h.webhook(completed)
	require.Equal(t, fiber.StatusOK, status)
	assert.Equal(t, true, body["duplicate"])
	assert.Equal(t, 1, h.webhooks.count())

	status, body = h.do(http.MethodGet, fmt.Sprintf("/api/v1/sample-packs/%d/download", pack.ID), buyerToken, nil, nil)
	require.Equal(t, fiber.StatusOK, status, body)
	assert.Contains(t, body["download_url"], "https://files.test/")
}

func TestPackPurchase_CaptureCompletesSale(t *testing.T) {
	h := newHarness(t)
	producer, producerToken := h.profile("producer", models.ROLE_FREE, func(p *models.Profile) { p.PaypalEmail = "producer@paypal.test" })
	_, buyerToken := h.profile("buyer", models.ROLE_FREE, nil)
	_, strangerToken := h.profile("stranger", models.ROLE_FREE, nil)
	pack := h.pack(models.LinePack, producer.ID, 1000)

	status, body := h.do(http.MethodPost, fmt.Sprintf("/api/v1/packs/%d/purchase", pack.ID), buyerToken, nil, nil)
	require.Equal(t, fiber.StatusCreated, status, body)
	id := saleID(t, body)
	require.Len(t, h.paypal.orders, 1)
	assert.Equal(t, int64(30), h.paypal.orders[0].Commission)
	assert.Equal(t, "producer@paypal.test", h.paypal.orders[0].PayeeEmail)

	capturePath := fmt.Sprintf("/api/v1/packs/sales/%d/capture", id)
	status, _ = h.do(http.MethodPost, capturePath, strangerToken, nil, nil)
	assert.Equal(t, fiber.StatusNotFound, status, "only the buyer captures")

	status, body = h.do(http.MethodPost, capturePath, buyerToken, nil, nil)
	require.Equal(t, fiber.StatusOK, status, body)
	assert.Equal(t, true, body["changed"])
	assert.Equal(t, models.SaleStatusCompleted, h.saleOf(models.LinePack, id).Status)

	status, body = h.do(http.MethodPost, capturePath, buyerToken, nil, nil)
	require.Equal(t, fiber.StatusOK, status)
	assert.Equal(t, false, body["changed"])

	status, _ = h.do(http.MethodPost, fmt.Sprintf("/api/v1/packs/%d/purchase", pack.ID), buyerToken, nil, nil)
	assert.Equal(t, fiber.StatusConflict, status, "already owned")

	status, body = h.do(http.MethodGet, "/api/v1/packs/purchases", buyerToken, nil, nil)
	require.Equal(t, fiber.StatusOK, status)
	assert.Len(t, body["sales"], 1)

	status, body = h.do(http.MethodGet, "/api/v1/packs/sales", producerToken, nil, nil)
	require.Equal(t, fiber.StatusOK, status)
	assert.Len(t, body["sales"], 1)
}

func TestPurchase_CheckoutFailureFailsSale(t *testing.T) {
	h := newHarness(t)
	producer, _ := h.profile("producer", models.ROLE_FREE, func(p *models.Profile) { p.StripeAccountID = "acct_123" })
	buyer, buyerToken := h.profile("buyer", models.ROLE_FREE, nil)
	pack := h.pack(models.LineSamplePack, producer.ID, 1000)
	h.stripe.checkoutErr = errors.New("stripe unavailable")

	status, body := h.do(http.MethodPost, fmt.Sprintf("/api/v1/sample-packs/%d/purchase", pack.ID), buyerToken, nil, nil)
	assert.Equal(t, fiber.StatusInternalServerError, status)
	assert.Contains(t, body, "error")

	require.Equal(t, 1, h.store.SaleCount(models.LineSamplePack))
	sales, _, err := h.repos.Sale.ListByBuyer(context.Background(), models.LineSamplePack, buyer.ID, repository.SaleFilter{}, repository.NewPage(1, 10))
	require.NoError(t, err)
	require.Len(t, sales, 1)
	assert.Equal(t, models.SaleStatusFailed, sales[0].Status)
}

func TestStripeWebhook_InvalidSignature(t *testing.T) {
	h := newHarness(t)

	status, body := h.do(http.MethodPost, "/api/v1/webhooks/stripe", "",
		bytes.NewReader([]byte(`{"id":"evt_1","type":"customer.subscription.deleted"}`)),
		map[string]string{"Stripe-Signature": "t=1,v1=deadbeef"})
	assert.Equal(t, fiber.StatusBadRequest, status)
	assert.Equal(t, "invalid webhook signature", body["error"])
	assert.Zero(t, h.webhooks.count(), "nothing is recorded for a forged delivery")

	status, _ = h.do(http.MethodPost, "/api/v1/webhooks/stripe", "", bytes.NewReader([]byte(`{}`)), nil)
	assert.Equal(t, fiber.StatusBadRequest, status)
}

const subscriptionDeleted = `{
	"id": "evt_sub_deleted",
	"object": "event",
	"type": "customer.subscription.deleted",
	"data": {"object": {
		"id": "sub_1",
		"object": "subscription",
		"customer": "cus_pro",
		"status": "canceled"
	}}
}`

func TestStripeWebhook_SubscriptionDeleted(t *testing.T) {
	h := newHarness(t)
	cancelAt := time.Now().Add(24 * time.Hour)
	p, _ := h.profile("subscriber", models.ROLE_PRO, func(p *models.Profile) {
		p.IsPro = true
		p.StripeCustomerID = "cus_pro"
		p.SubscriptionID = "sub_1"
		p.SubscriptionStatus = models.SubscriptionStatusCanceling
		p.CancelAt = &cancelAt
	})

	status, body := h.webhook(subscriptionDeleted)
	require.Equal(t, fiber.StatusOK, status, body)

	got, err := h.repos.Profile.GetByID(context.Background(), p.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ROLE_FREE, got.Role)
	assert.False(t, got.IsPro)
	assert.Equal(t, models.SubscriptionStatusCanceled, got.SubscriptionStatus)
	assert.Empty(t, got.SubscriptionID)
	assert.Nil(t, got.CancelAt)
}

func TestStripeWebhook_StoreFailureIsRetryable(t *testing.T) {
	h := newHarness(t)
	h.profile("subscriber", models.ROLE_PRO, func(p *models.Profile) {
		p.StripeCustomerID = "cus_pro"
		p.SubscriptionID = "sub_1"
		p.SubscriptionStatus = models.SubscriptionStatusActive
	})

	h.store.FailOn("Profile.UpdateSubscription", errors.New("connection reset"))
	status, body := h.webhook(subscriptionDeleted)
	assert.Equal(t, fiber.StatusInternalServerError, status)
	assert.Equal(t, "webhook processing failed", body["error"])

	h.store.FailOn("Profile.UpdateSubscription", nil)
	status, body = h.webhook(subscriptionDeleted)
	require.Equal(t, fiber.StatusOK, status, body)
	assert.Nil(t, body["duplicate"], "a failed delivery is processed again")

	h.webhooks.createErr = errors.New("database is down")
	status, _ = h.webhook(`{"id":"evt_other","object":"event","type":"invoice.paid","data":{"object":{"object":"invoice","customer":"cus_pro"}}}`)
	assert.Equal(t, fiber.StatusInternalServerError, status)
}

func TestSubscriptionCancelAndReactivate(t *testing.T) {
	h := newHarness(t)
	_, token := h.profile("subscriber", models.ROLE_PRO, func(p *models.Profile) {
		p.IsPro = true
		p.StripeCustomerID = "cus_pro"
		p.SubscriptionID = "sub_1"
		p.SubscriptionStatus = models.SubscriptionStatusActive
	})

	status, body := h.do(http.MethodPost, "/api/v1/subscription/cancel", token, nil, nil)
	require.Equal(t, fiber.StatusOK, status, body)
	assert.Equal(t, models.SubscriptionStatusCanceling, body["status"])
	assert.Equal(t, models.ROLE_PRO, body["role"], "access lasts until the period ends")
	assert.NotEmpty(t, body["cancel_at"])

	status, _ = h.do(http.MethodPost, "/api/v1/subscription/cancel", token, nil, nil)
	assert.Equal(t, fiber.StatusConflict, status)

	status, body = h.do(http.MethodPost, "/api/v1/subscription/reactivate", token, nil, nil)
	require.Equal(t, fiber.StatusOK, status, body)
	assert.Equal(t, models.SubscriptionStatusActive, body["status"])
	assert.Nil(t, body["cancel_at"])
}

func TestAccessAndRoleGuards(t *testing.T) {
	h := newHarness(t)
	_, freeToken := h.profile("free", models.ROLE_FREE, nil)
	_, proToken := h.profile("pro", models.ROLE_PRO, func(p *models.Profile) { p.IsPro = true })
	_, adminToken := h.profile("admin", models.ROLE_ADMIN, nil)

	status, body := h.do(http.MethodGet, "/api/v1/dashboard/stats", "", nil, nil)
	assert.Equal(t, fiber.StatusUnauthorized, status)
	assert.Equal(t, "login required", body["error"])

	status, _ = h.do(http.MethodGet, "/api/v1/dashboard/stats", freeToken, nil, nil)
	assert.Equal(t, fiber.StatusForbidden, status)
	status, _ = h.do(http.MethodGet, "/api/v1/dashboard/stats", proToken, nil, nil)
	assert.Equal(t, fiber.StatusOK, status)

	status, _ = h.do(http.MethodGet, "/api/v1/admin/profiles", proToken, nil, nil)
	assert.Equal(t, fiber.StatusForbidden, status)
	status, _ = h.do(http.MethodGet, "/api/v1/admin/profiles", adminToken, nil, nil)
	assert.Equal(t, fiber.StatusOK, status)

	status, body = h.do(http.MethodGet, "/api/v1/access?kind=analytics-dashboard", freeToken, nil, nil)
	require.Equal(t, fiber.StatusOK, status)
	assert.Equal(t, false, body["allowed"])
	status, body = h.do(http.MethodGet, "/api/v1/access?kind=admin-page", adminToken, nil, nil)
	require.Equal(t, fiber.StatusOK, status)
	assert.Equal(t, true, body["allowed"])

	status, body = h.do(http.MethodGet, "/api/v1/access?kind=teleport", freeToken, nil, nil)
	assert.Equal(t, fiber.StatusBadRequest, status)
	assert.Contains(t, body, "error")
}

func TestCreatePack_Upload(t *testing.T) {
	h := newHarness(t)
	_, token := h.profile("producer", models.ROLE_FREE, nil)

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	require.NoError(t, w.WriteField("title", "Lo-Fi Drums"))
	require.NoError(t, w.WriteField("price", "12.50"))
	fw, err := w.CreateFormFile("file", "drums.zip")
	require.NoError(t, err)
	_, err = fw.Write([]byte("PK\x03\x04"))
	require.NoError(t, err)
	require.NoError(t, w.Close())

	status, body := h.do(http.MethodPost, "/api/v1/sample-packs", token, &buf,
		map[string]string{"Content-Type": w.FormDataContentType()})
	require.Equal(t, fiber.StatusCreated, status, body)
	assert.Equal(t, "20", body["commission_rate"])
	pack := body["pack"].(map[string]any)
	assert.EqualValues(t, 1250, pack["price_cents"])

	var bad bytes.Buffer
	w = multipart.NewWriter(&bad)
	require.NoError(t, w.WriteField("title", "Lo-Fi Drums"))
	require.NoError(t, w.WriteField("price", "12.50"))
	fw, err = w.CreateFormFile("file", "drums.exe")
	require.NoError(t, err)
	_, _ = fw.Write([]byte("MZ"))
	require.NoError(t, w.Close())

	status, _ = h.do(http.MethodPost, "/api/v1/sample-packs", token, &bad,
		map[string]string{"Content-Type": w.FormDataContentType()})
	assert.Equal(t, fiber.StatusBadRequest, status)
}
