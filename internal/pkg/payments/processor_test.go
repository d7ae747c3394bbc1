package payments

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clubpilot/ClubPilot/app/models"
)

type fakeRepository struct {
	ledger        map[string]*models.PaymentWebhookEvent
	payments      map[string]*models.Payment
	mandates      map[string]*models.Mandate
	refunds       map[string]*models.Refund
	subscriptions map[string]*models.Subscription
	invoices      map[uint]*models.Invoice

	statusUpdates int
	ledgerErr     error
	applyErr      error
}

func newFakeRepository() *fakeRepository {
	return &fakeRepository{
		ledger:        make(map[string]*models.PaymentWebhookEvent),
		payments:      make(map[string]*models.Payment),
		mandates:      make(map[string]*models.Mandate),
		refunds:       make(map[string]*models.Refund),
		subscriptions: make(map[string]*models.Subscription),
		invoices:      make(map[uint]*models.Invoice),
	}
}

func ledgerKey(provider, eventID string) string { return provider + "/" + eventID }

func (f *fakeRepository) CreateWebhookEventIfNotExists(_ context.Context, event *models.PaymentWebhookEvent) (bool, error) {
	if f.ledgerErr != nil {
		return false, f.ledgerErr
	}
	key := ledgerKey(event.Provider, event.ProviderEventID)
	if _, exists := f.ledger[key]; exists {
		return false, nil
	}
	f.ledger[key] = event
	return true, nil
}

func (f *fakeRepository) MarkWebhookProcessed(_ context.Context, provider, providerEventID, processingError string) error {
	if entry, ok := f.ledger[ledgerKey(provider, providerEventID)]; ok {
		entry.ProcessingError = processingError
	}
	return nil
}

func (f *fakeRepository) GetPaymentByProviderID(_ context.Context, provider, providerPaymentID string) (*models.Payment, error) {
	return f.payments[ledgerKey(provider, providerPaymentID)], nil
}

func (f *fakeRepository) UpdatePaymentStatus(_ context.Context, payment *models.Payment, status string) error {
	if f.applyErr != nil {
		return f.applyErr
	}
	payment.Status = status
	f.statusUpdates++
	return nil
}

func (f *fakeRepository) CreateInvoiceForPayment(_ context.Context, payment *models.Payment) (*models.Invoice, bool, error) {
	if existing, ok := f.invoices[payment.ID]; ok {
		return existing, false, nil
	}
	invoice := &models.Invoice{MemberID: payment.MemberID, PaymentID: &payment.ID}
	f.invoices[payment.ID] = invoice
	return invoice, true, nil
}

func (f *fakeRepository) GetMandateByProviderID(_ context.Context, provider, providerMandateID string) (*models.Mandate, error) {
	return f.mandates[ledgerKey(provider, providerMandateID)], nil
}

func (f *fakeRepository) UpdateMandateStatus(_ context.Context, mandate *models.Mandate, status string) error {
	mandate.Status = status
	f.statusUpdates++
	return nil
}

func (f *fakeRepository) CreateRefundIfNotExists(_ context.Context, refund *models.Refund) (bool, error) {
	key := ledgerKey(refund.Provider, refund.ProviderRefundID)
	if _, exists := f.refunds[key]; exists {
		return false, nil
	}
	refund.ID = uint(len(f.refunds) + 1)
	f.refunds[key] = refund
	return true, nil
}

func (f *fakeRepository) GetSubscriptionByProviderID(_ context.Context, provider, providerSubscriptionID string) (*models.Subscription, error) {
	return f.subscriptions[ledgerKey(provider, providerSubscriptionID)], nil
}

func (f *fakeRepository) UpdateSubscriptionStatus(_ context.Context, subscription *models.Subscription, status string) error {
	subscription.Status = status
	f.statusUpdates++
	return nil
}

type fakeNotifier struct {
	sent []string
}

func (f *fakeNotifier) Notify(_ context.Context, memberID uint, notificationType, _ string, _ uint) error {
	f.sent = append(f.sent, fmt.Sprintf("%d:%s", memberID, notificationType))
	return nil
}

func newTestProcessor(repo *fakeRepository, notifier Notifier) *Processor {
	registry := NewRegistry()
	registry.Register(&GoCardlessProvider{WebhookSecret: testSecret, Environment: "sandbox"})
	registry.Register(&StripeProvider{
		UnsupportedProvider: UnsupportedProvider{ProviderName: models.PaymentProviderStripe},
		SecretKey:           "sk_test_abc",
		WebhookSecret:       testSecret,
	})
	return NewProcessor(registry, repo, notifier, nil)
}

func gcPaymentConfirmedDelivery() []byte {
	return []byte(`{"events":[{"id":"EV100","resource_type":"payments","action":"confirmed","links":{"payment":"PM1"}}]}`)
}

func TestProcessWebhook_AppliesPaymentConfirmation(t *testing.T) {
	repo := newFakeRepository()
	repo.payments["gocardless/PM1"] = &models.Payment{
		ID: 7, MemberID: 42, Provider: "gocardless", ProviderPaymentID: "PM1",
		AmountMinor: 1250, Currency: "EUR", Status: models.PaymentStatusSubmitted,
	}
	notifier := &fakeNotifier{}
	p := newTestProcessor(repo, notifier)

	body := gcPaymentConfirmedDelivery()
	result, err := p.ProcessWebhook(context.Background(), "gocardless", body, signBody(testSecret, body))
	require.NoError(t, err)

	assert.Equal(t, 1, result.Received)
	assert.Equal(t, 1, result.Applied)
	assert.Equal(t, 0, result.Skipped)
	assert.Equal(t, models.PaymentStatusConfirmed, repo.payments["gocardless/PM1"].Status)
	assert.Len(t, repo.invoices, 1)
	assert.Equal(t, []string{"42:payment_confirmed"}, notifier.sent)
	assert.Len(t, repo.ledger, 1)
}

func TestProcessWebhook_DuplicateDeliveryMutatesOnce(t *testing.T) {
	repo := newFakeRepository()
	repo.payments["gocardless/PM1"] = &models.Payment{
		ID: 7, MemberID: 42, Provider: "gocardless", ProviderPaymentID: "PM1",
		AmountMinor: 1250, Currency: "EUR", Status: models.PaymentStatusSubmitted,
	}
	notifier := &fakeNotifier{}
	p := newTestProcessor(repo, notifier)

	body := gcPaymentConfirmedDelivery()
	sig := signBody(testSecret, body)

	first, err := p.ProcessWebhook(context.Background(), "gocardless", body, sig)
	require.NoError(t, err)
	second, err := p.ProcessWebhook(context.Background(), "gocardless", body, sig)
	require.NoError(t, err)

	assert.Equal(t, 1, first.Applied)
	assert.Equal(t, 1, second.Skipped)
	assert.Equal(t, 0, second.Applied)

	assert.Equal(t, 1, repo.statusUpdates)
	assert.Len(t, repo.invoices, 1)
	assert.Len(t, notifier.sent, 1)
	assert.Len(t, repo.ledger, 1)
}

func TestProcessWebhook_InvalidSignatureTouchesNothing(t *testing.T) {
	repo := newFakeRepository()
	p := newTestProcessor(repo, nil)

	body := gcPaymentConfirmedDelivery()
	_, err := p.ProcessWebhook(context.Background(), "gocardless", body, signBody("wrong", body))
	assert.ErrorIs(t, err, ErrSignatureInvalid)
	assert.Empty(t, repo.ledger)
	assert.Equal(t, 0, repo.statusUpdates)
}

func TestProcessWebhook_UnknownProvider(t *testing.T) {
	p := newTestProcessor(newFakeRepository(), nil)
	_, err := p.ProcessWebhook(context.Background(), "paypal", []byte(`{}`), "sig")
	assert.ErrorIs(t, err, ErrUnknownProvider)
}

func TestProcessWebhook_MalformedPayloadAfterValidSignature(t *testing.T) {
	repo := newFakeRepository()
	p := newTestProcessor(repo, nil)

	body := []byte(`{"meta":{}}`)
	_, err := p.ProcessWebhook(context.Background(), "gocardless", body, signBody(testSecret, body))
	assert.ErrorIs(t, err, ErrMalformedPayload)
	assert.Empty(t, repo.ledger)
}

func TestProcessWebhook_UnknownResourceIgnoredButRecorded(t *testing.T) {
	repo := newFakeRepository()
	p := newTestProcessor(repo, nil)

	body := []byte(`{"events":[{"id":"EV200","resource_type":"payouts","action":"paid","links":{"payout":"PO1"}}]}`)
	result, err := p.ProcessWebhook(context.Background(), "gocardless", body, signBody(testSecret, body))
	require.NoError(t, err)

	assert.Equal(t, 1, result.Ignored)
	assert.Equal(t, 0, result.Applied)
	// The event is still remembered so a redelivery skips.
	assert.Len(t, repo.ledger, 1)
}

func TestProcessWebhook_UnknownLocalResourceIgnored(t *testing.T) {
	repo := newFakeRepository()
	p := newTestProcessor(repo, nil)

	body := gcPaymentConfirmedDelivery()
	result, err := p.ProcessWebhook(context.Background(), "gocardless", body, signBody(testSecret, body))
	require.NoError(t, err)

	assert.Equal(t, 1, result.Ignored)
	assert.Equal(t, 0, repo.statusUpdates)
}

func TestProcessWebhook_LedgerFailureLeavesDeliveryUnacknowledged(t *testing.T) {
	repo := newFakeRepository()
	repo.ledgerErr = errors.New("connection refused")
	p := newTestProcessor(repo, nil)

	body := gcPaymentConfirmedDelivery()
	_, err := p.ProcessWebhook(context.Background(), "gocardless", body, signBody(testSecret, body))

	var dsErr *DownstreamError
	require.ErrorAs(t, err, &dsErr)
	assert.Equal(t, 0, repo.statusUpdates)
}

func TestProcessWebhook_ApplyFailureRecordedInLedger(t *testing.T) {
	repo := newFakeRepository()
	repo.payments["gocardless/PM1"] = &models.Payment{
		ID: 7, MemberID: 42, Provider: "gocardless", ProviderPaymentID: "PM1", Status: models.PaymentStatusSubmitted,
	}
	repo.applyErr = errors.New("deadlock")
	p := newTestProcessor(repo, nil)

	body := gcPaymentConfirmedDelivery()
	_, err := p.ProcessWebhook(context.Background(), "gocardless", body, signBody(testSecret, body))

	var dsErr *DownstreamError
	require.ErrorAs(t, err, &dsErr)
	entry := repo.ledger["gocardless/EV100"]
	require.NotNil(t, entry)
	assert.Contains(t, entry.ProcessingError, "deadlock")
}

func TestProcessWebhook_BatchWithAlreadySeenEvent(t *testing.T) {
	repo := newFakeRepository()
	repo.mandates["gocardless/MD1"] = &models.Mandate{ID: 3, MemberID: 42, Provider: "gocardless", ProviderMandateID: "MD1", Status: models.MandateStatusSubmitted}
	p := newTestProcessor(repo, nil)

	// Second event was already claimed by an earlier delivery.
	body := []byte(`{"events":[
		{"id":"EV1","resource_type":"mandates","action":"active","links":{"mandate":"MD1"}},
		{"id":"EV2","resource_type":"mandates","action":"cancelled","links":{"mandate":"MD1"}}
	]}`)

	repo.ledger["gocardless/EV2"] = &models.PaymentWebhookEvent{Provider: "gocardless", ProviderEventID: "EV2"}

	result, err := p.ProcessWebhook(context.Background(), "gocardless", body, signBody(testSecret, body))
	require.NoError(t, err)
	assert.Equal(t, 1, result.Applied)
	assert.Equal(t, 1, result.Skipped)
	assert.Equal(t, models.MandateStatusActive, repo.mandates["gocardless/MD1"].Status)
}

func TestProcessWebhook_StripeSingleEvent(t *testing.T) {
	repo := newFakeRepository()
	repo.payments["stripe/pi_789"] = &models.Payment{
		ID: 9, MemberID: 7, Provider: "stripe", ProviderPaymentID: "pi_789",
		AmountMinor: 2500, Currency: "EUR", Status: models.PaymentStatusSubmitted,
	}
	notifier := &fakeNotifier{}
	p := newTestProcessor(repo, notifier)

	body := []byte(`{"id":"evt_1","type":"payment_intent.succeeded","created":1768475400,"data":{"object":{"id":"pi_789","object":"payment_intent","status":"succeeded"}}}`)
	ts := time.Now().Unix()
	header := fmt.Sprintf("t=%d,v1=%s", ts, signTimestamped(testSecret, ts, body))

	result, err := p.ProcessWebhook(context.Background(), "stripe", body, header)
	require.NoError(t, err)

	assert.Equal(t, 1, result.Applied)
	assert.Equal(t, models.PaymentStatusConfirmed, repo.payments["stripe/pi_789"].Status)
	assert.Equal(t, []string{"7:payment_confirmed"}, notifier.sent)
}

func TestProcessWebhook_StripePaymentFailedOutranksObjectStatus(t *testing.T) {
	repo := newFakeRepository()
	repo.payments["stripe/pi_790"] = &models.Payment{
		ID: 10, MemberID: 7, Provider: "stripe", ProviderPaymentID: "pi_790",
		AmountMinor: 2500, Currency: "EUR", Status: models.PaymentStatusSubmitted,
	}
	notifier := &fakeNotifier{}
	p := newTestProcessor(repo, notifier)

	// A failed intent reports the retryable requires_payment_method status;
	// the event action names the actual outcome.
	body := []byte(`{"id":"evt_2","type":"payment_intent.payment_failed","created":1768475400,"data":{"object":{"id":"pi_790","object":"payment_intent","status":"requires_payment_method"}}}`)
	ts := time.Now().Unix()
	header := fmt.Sprintf("t=%d,v1=%s", ts, signTimestamped(testSecret, ts, body))

	result, err := p.ProcessWebhook(context.Background(), "stripe", body, header)
	require.NoError(t, err)

	assert.Equal(t, 1, result.Applied)
	assert.Equal(t, models.PaymentStatusFailed, repo.payments["stripe/pi_790"].Status)
	assert.Equal(t, []string{"7:payment_failed"}, notifier.sent)
}

func TestProcessWebhook_RefundCreatedOnce(t *testing.T) {
	repo := newFakeRepository()
	repo.payments["gocardless/PM1"] = &models.Payment{
		ID: 7, MemberID: 42, Provider: "gocardless", ProviderPaymentID: "PM1", Status: models.PaymentStatusConfirmed,
	}
	notifier := &fakeNotifier{}
	p := newTestProcessor(repo, notifier)

	body := []byte(`{"events":[{"id":"EV300","resource_type":"refunds","action":"created","links":{"refund":"RF1","payment":"PM1"},"details":{"amount":1250,"currency":"EUR","links":{"payment":"PM1"}}}]}`)
	sig := signBody(testSecret, body)

	first, err := p.ProcessWebhook(context.Background(), "gocardless", body, sig)
	require.NoError(t, err)
	second, err := p.ProcessWebhook(context.Background(), "gocardless", body, sig)
	require.NoError(t, err)

	assert.Equal(t, 1, first.Applied)
	assert.Equal(t, 1, second.Skipped)
	require.Len(t, repo.refunds, 1)

	refund := repo.refunds["gocardless/RF1"]
	assert.Equal(t, int64(1250), refund.AmountMinor)
	assert.Equal(t, "EUR", refund.Currency)
	require.NotNil(t, refund.PaymentID)
	assert.Equal(t, uint(7), *refund.PaymentID)
	assert.Equal(t, []string{"42:refund_created"}, notifier.sent)
}

func TestProcessWebhook_CancelledContext(t *testing.T) {
	repo := newFakeRepository()
	p := newTestProcessor(repo, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	body := gcPaymentConfirmedDelivery()
	_, err := p.ProcessWebhook(ctx, "gocardless", body, signBody(testSecret, body))

	var dsErr *DownstreamError
	require.ErrorAs(t, err, &dsErr)
	assert.Empty(t, repo.ledger)
}

func TestProcessWebhook_ExpiredDeadlineLeavesLedgerEmpty(t *testing.T) {
	repo := newFakeRepository()
	p := newTestProcessor(repo, nil)

	ctx, cancel := context.WithDeadline(context.Background(), time.Now().Add(-time.Second))
	defer cancel()

	body := gcPaymentConfirmedDelivery()
	_, err := p.ProcessWebhook(ctx, "gocardless", body, signBody(testSecret, body))

	require.ErrorIs(t, err, context.DeadlineExceeded)
	var dsErr *DownstreamError
	require.ErrorAs(t, err, &dsErr)
	assert.Empty(t, repo.ledger)
	assert.Equal(t, 0, repo.statusUpdates)
}

type memoryDupeCache struct {
	seen map[string]bool
}

func (m *memoryDupeCache) Seen(_ context.Context, provider, eventID string) bool {
	return m.seen[provider+":"+eventID]
}

func (m *memoryDupeCache) Remember(_ context.Context, provider, eventID string) {
	m.seen[provider+":"+eventID] = true
}

func TestProcessWebhook_DuplicateCacheFastPath(t *testing.T) {
	repo := newFakeRepository()
	repo.payments["gocardless/PM1"] = &models.Payment{
		ID: 7, MemberID: 42, Provider: "gocardless", ProviderPaymentID: "PM1", Status: models.PaymentStatusSubmitted,
	}
	registry := NewRegistry()
	registry.Register(&GoCardlessProvider{WebhookSecret: testSecret, Environment: "sandbox"})
	dupes := &memoryDupeCache{seen: make(map[string]bool)}
	p := NewProcessor(registry, repo, nil, dupes)

	body := gcPaymentConfirmedDelivery()
	sig := signBody(testSecret, body)

	first, err := p.ProcessWebhook(context.Background(), "gocardless", body, sig)
	require.NoError(t, err)
	assert.Equal(t, 1, first.Applied)
	assert.True(t, dupes.seen["gocardless:EV100"])

	// Redelivery is short-circuited before the ledger insert.
	repo.ledgerErr = errors.New("should not be reached")
	second, err := p.ProcessWebhook(context.Background(), "gocardless", body, sig)
	require.NoError(t, err)
	assert.Equal(t, 1, second.Skipped)
}
