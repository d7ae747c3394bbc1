package controllers

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clubpilot/ClubPilot/app/models"
	"github.com/clubpilot/ClubPilot/internal/pkg/payments"
)

const webhookTestSecret = "whsec_test"

type stubRepository struct {
	ledger      map[string]bool
	payments    map[string]*models.Payment
	updates     int
	sawDeadline bool
}

func newStubRepository() *stubRepository {
	return &stubRepository{
		ledger:   make(map[string]bool),
		payments: make(map[string]*models.Payment),
	}
}

func (s *stubRepository) CreateWebhookEventIfNotExists(ctx context.Context, event *models.PaymentWebhookEvent) (bool, error) {
	_, s.sawDeadline = ctx.Deadline()
	key := event.Provider + "/" + event.ProviderEventID
	if s.ledger[key] {
		return false, nil
	}
	s.ledger[key] = true
	return true, nil
}

func (s *stubRepository) MarkWebhookProcessed(context.Context, string, string, string) error {
	return nil
}

func (s *stubRepository) GetPaymentByProviderID(_ context.Context, provider, providerPaymentID string) (*models.Payment, error) {
	return s.payments[provider+"/"+providerPaymentID], nil
}

func (s *stubRepository) UpdatePaymentStatus(_ context.Context, payment *models.Payment, status string) error {
	payment.Status = status
	s.updates++
	return nil
}

func (s *stubRepository) CreateInvoiceForPayment(_ context.Context, payment *models.Payment) (*models.Invoice, bool, error) {
	return &models.Invoice{PaymentID: &payment.ID}, true, nil
}

func (s *stubRepository) GetMandateByProviderID(context.Context, string, string) (*models.Mandate, error) {
	return nil, nil
}

func (s *stubRepository) UpdateMandateStatus(context.Context, *models.Mandate, string) error {
	return nil
}

func (s *stubRepository) CreateRefundIfNotExists(context.Context, *models.Refund) (bool, error) {
	return true, nil
}

func (s *stubRepository) GetSubscriptionByProviderID(context.Context, string, string) (*models.Subscription, error) {
	return nil, nil
}

func (s *stubRepository) UpdateSubscriptionStatus(context.Context, *models.Subscription, string) error {
	return nil
}

func newWebhookTestApp(t *testing.T, repo payments.Repository) *fiber.App {
	t.Helper()

	registry := payments.NewRegistry()
	registry.Register(&payments.GoCardlessProvider{WebhookSecret: webhookTestSecret, Environment: "sandbox"})
	InitializeWebhookController(payments.NewProcessor(registry, repo, nil, nil))

	app := fiber.New()
	app.Post("/webhooks/:provider", HandleProviderWebhook)
	return app
}

func signWebhookBody(body []byte) string {
	mac := hmac.New(sha256.New, []byte(webhookTestSecret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

func TestHandleProviderWebhook_Success(t *testing.T) {
	repo := newStubRepository()
	repo.payments["gocardless/PM1"] = &models.Payment{
		ID: 1, MemberID: 5, Provider: "gocardless", ProviderPaymentID: "PM1",
		AmountMinor: 1000, Currency: "EUR", Status: models.PaymentStatusSubmitted,
	}
	app := newWebhookTestApp(t, repo)

	body := []byte(`{"events":[{"id":"EV1","resource_type":"payments","action":"confirmed","links":{"payment":"PM1"}}]}`)
	req := httptest.NewRequest(fiber.MethodPost, "/webhooks/gocardless", bytes.NewReader(body))
	req.Header.Set("Webhook-Signature", signWebhookBody(body))

	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)

	var out map[string]int
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	assert.Equal(t, 1, out["applied"])
	assert.Equal(t, models.PaymentStatusConfirmed, repo.payments["gocardless/PM1"].Status)
}

func TestHandleProviderWebhook_AppliesDeadline(t *testing.T) {
	repo := newStubRepository()
	repo.payments["gocardless/PM1"] = &models.Payment{
		ID: 1, MemberID: 5, Provider: "gocardless", ProviderPaymentID: "PM1", Status: models.PaymentStatusSubmitted,
	}
	app := newWebhookTestApp(t, repo)

	body := []byte(`{"events":[{"id":"EV1","resource_type":"payments","action":"confirmed","links":{"payment":"PM1"}}]}`)
	req := httptest.NewRequest(fiber.MethodPost, "/webhooks/gocardless", bytes.NewReader(body))
	req.Header.Set("Webhook-Signature", signWebhookBody(body))

	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)

	// The store must see a bounded context so a hung call cannot hold the
	// delivery open forever.
	assert.True(t, repo.sawDeadline)
}

func TestHandleProviderWebhook_InvalidSignature(t *testing.T) {
	repo := newStubRepository()
	app := newWebhookTestApp(t, repo)

	body := []byte(`{"events":[]}`)
	req := httptest.NewRequest(fiber.MethodPost, "/webhooks/gocardless", bytes.NewReader(body))
	req.Header.Set("Webhook-Signature", "deadbeef")

	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusUnauthorized, resp.StatusCode)

	// No detail leaks into the response body.
	data, _ := io.ReadAll(resp.Body)
	assert.Equal(t, `{"error":"invalid signature"}`, string(data))
	assert.Empty(t, repo.ledger)
}

func TestHandleProviderWebhook_UnknownProvider(t *testing.T) {
	app := newWebhookTestApp(t, newStubRepository())

	req := httptest.NewRequest(fiber.MethodPost, "/webhooks/paypal", bytes.NewReader([]byte(`{}`)))
	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusNotFound, resp.StatusCode)
}

func TestHandleProviderWebhook_MalformedPayload(t *testing.T) {
	app := newWebhookTestApp(t, newStubRepository())

	body := []byte(`{"meta":{}}`)
	req := httptest.NewRequest(fiber.MethodPost, "/webhooks/gocardless", bytes.NewReader(body))
	req.Header.Set("Webhook-Signature", signWebhookBody(body))

	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)
}

func TestHandleProviderWebhook_DuplicateDelivery(t *testing.T) {
	repo := newStubRepository()
	repo.payments["gocardless/PM1"] = &models.Payment{
		ID: 1, MemberID: 5, Provider: "gocardless", ProviderPaymentID: "PM1", Status: models.PaymentStatusSubmitted,
	}
	app := newWebhookTestApp(t, repo)

	body := []byte(`{"events":[{"id":"EV1","resource_type":"payments","action":"confirmed","links":{"payment":"PM1"}}]}`)

	for i := 0; i < 2; i++ {
		req := httptest.NewRequest(fiber.MethodPost, "/webhooks/gocardless", bytes.NewReader(body))
		req.Header.Set("Webhook-Signature", signWebhookBody(body))
		resp, err := app.Test(req, -1)
		require.NoError(t, err)
		assert.Equal(t, fiber.StatusOK, resp.StatusCode)
	}

	assert.Equal(t, 1, repo.updates)
}
