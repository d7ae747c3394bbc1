package payments

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log"
	"strings"

	"github.com/clubpilot/ClubPilot/app/models"
)

// Repository is the persistence surface the webhook processor mutates.
// CreateWebhookEventIfNotExists is the idempotency gate: it must be backed by
// a unique (provider, provider_event_id) constraint so that concurrent
// deliveries of the same event race safely across process instances.
type Repository interface {
	CreateWebhookEventIfNotExists(ctx context.Context, event *models.PaymentWebhookEvent) (bool, error)
	MarkWebhookProcessed(ctx context.Context, provider, providerEventID, processingError string) error

	GetPaymentByProviderID(ctx context.Context, provider, providerPaymentID string) (*models.Payment, error)
	UpdatePaymentStatus(ctx context.Context, payment *models.Payment, status string) error
	CreateInvoiceForPayment(ctx context.Context, payment *models.Payment) (*models.Invoice, bool, error)

	GetMandateByProviderID(ctx context.Context, provider, providerMandateID string) (*models.Mandate, error)
	UpdateMandateStatus(ctx context.Context, mandate *models.Mandate, status string) error

	CreateRefundIfNotExists(ctx context.Context, refund *models.Refund) (bool, error)

	GetSubscriptionByProviderID(ctx context.Context, provider, providerSubscriptionID string) (*models.Subscription, error)
	UpdateSubscriptionStatus(ctx context.Context, subscription *models.Subscription, status string) error
}

// Notifier delivers member-facing notifications about payment state changes.
// Notification failures never fail the webhook: the state change is already
// durable.
type Notifier interface {
	Notify(ctx context.Context, memberID uint, notificationType, content string, referenceID uint) error
}

// DuplicateCache is an optional fast-path check in front of the ledger. It is
// advisory only; the ledger's unique constraint stays authoritative.
type DuplicateCache interface {
	Seen(ctx context.Context, provider, providerEventID string) bool
	Remember(ctx context.Context, provider, providerEventID string)
}

// Result summarizes one processed delivery.
type Result struct {
	Received int
	Applied  int
	Skipped  int
	Ignored  int
}

// Processor runs the webhook pipeline: authenticate the raw body, normalize
// the events, gate each one through the idempotency ledger, then apply the
// state change. A delivery is only acknowledged after every event in it has
// been handled.
type Processor struct {
	registry *Registry
	repo     Repository
	notifier Notifier
	dupes    DuplicateCache
}

// NewProcessor wires a processor. notifier and dupes may be nil.
func NewProcessor(registry *Registry, repo Repository, notifier Notifier, dupes DuplicateCache) *Processor {
	return &Processor{
		registry: registry,
		repo:     repo,
		notifier: notifier,
		dupes:    dupes,
	}
}

// ProcessWebhook handles one inbound delivery. The raw body bytes must be the
// untouched request body; signature verification happens before any parsing.
// A non-nil error means the delivery must not be acknowledged so the provider
// redelivers it.
func (p *Processor) ProcessWebhook(ctx context.Context, providerName string, rawBody []byte, signatureHeader string) (*Result, error) {
	provider, err := p.registry.Get(providerName)
	if err != nil {
		return nil, err
	}

	if err := provider.VerifyWebhookSignature(rawBody, signatureHeader); err != nil {
		return nil, err
	}

	// Single-event deliveries that were already fully processed can be
	// acknowledged without normalizing the payload again.
	if p.dupes != nil {
		if id := soleEventID(providerName, rawBody); id != "" && p.dupes.Seen(ctx, providerName, id) {
			return &Result{Received: 1, Skipped: 1}, nil
		}
	}

	events, err := provider.ParseWebhookEvents(rawBody)
	if err != nil {
		return nil, err
	}

	result := &Result{Received: len(events)}
	for _, event := range events {
		if err := p.processEvent(ctx, provider, event, result); err != nil {
			return result, err
		}
	}
	return result, nil
}

func (p *Processor) processEvent(ctx context.Context, provider Provider, event NormalizedEvent, result *Result) error {
	eventID := event.ID
	if eventID == "" {
		// Parsers reject id-less events, but an empty ledger key would
		// collapse distinct events into one row.
		sum := sha256.Sum256(event.Raw)
		eventID = "hash:" + hex.EncodeToString(sum[:])
	}

	if p.dupes != nil && p.dupes.Seen(ctx, provider.Name(), eventID) {
		result.Skipped++
		return nil
	}

	if err := ctx.Err(); err != nil {
		return &DownstreamError{Op: "process webhook event", Err: err}
	}

	ledgerEntry := &models.PaymentWebhookEvent{
		Provider:        provider.Name(),
		ProviderEventID: eventID,
		EventType:       eventType(event),
		ResourceType:    event.ResourceType,
		Action:          event.Action,
		PayloadJSON:     string(event.Raw),
		SignatureValid:  true,
	}
	created, err := p.repo.CreateWebhookEventIfNotExists(ctx, ledgerEntry)
	if err != nil {
		return &DownstreamError{Op: "record webhook event", Err: err}
	}
	if !created {
		result.Skipped++
		return nil
	}

	applied, applyErr := p.applyEvent(ctx, provider, event)
	if applyErr != nil {
		if markErr := p.repo.MarkWebhookProcessed(ctx, provider.Name(), eventID, applyErr.Error()); markErr != nil {
			log.Printf("[Payments] failed to record processing error for %s/%s: %v", provider.Name(), eventID, markErr)
		}
		return &DownstreamError{Op: "apply webhook event", Err: applyErr}
	}

	if applied {
		result.Applied++
	} else {
		result.Ignored++
	}
	if err := p.repo.MarkWebhookProcessed(ctx, provider.Name(), eventID, ""); err != nil {
		log.Printf("[Payments] failed to mark webhook %s/%s processed: %v", provider.Name(), eventID, err)
	}
	if p.dupes != nil {
		p.dupes.Remember(ctx, provider.Name(), eventID)
	}
	return nil
}

// applyEvent routes a normalized event to its resource handler. Events for
// resource types the platform does not track, and events for resources not
// known locally, are acknowledged without a state change.
func (p *Processor) applyEvent(ctx context.Context, provider Provider, event NormalizedEvent) (bool, error) {
	switch event.ResourceType {
	case "payment", "payment_intent", "charge":
		return p.applyPaymentEvent(ctx, provider, event)
	case "mandate":
		return p.applyMandateEvent(ctx, provider, event)
	case "refund":
		return p.applyRefundEvent(ctx, provider, event)
	case "subscription":
		return p.applySubscriptionEvent(ctx, provider, event)
	default:
		return false, nil
	}
}

func (p *Processor) applyPaymentEvent(ctx context.Context, provider Provider, event NormalizedEvent) (bool, error) {
	payment, err := p.repo.GetPaymentByProviderID(ctx, provider.Name(), event.ResourceID)
	if err != nil {
		return false, err
	}
	if payment == nil {
		return false, nil
	}

	resourceType := event.ResourceType
	if resourceType == "payment_intent" {
		resourceType = "payment"
	}
	status := provider.NormalizeStatus(resourceType, providerStatus(event))
	if status == payment.Status {
		return false, nil
	}
	if err := p.repo.UpdatePaymentStatus(ctx, payment, status); err != nil {
		return false, err
	}

	switch status {
	case models.PaymentStatusConfirmed:
		if _, _, err := p.repo.CreateInvoiceForPayment(ctx, payment); err != nil {
			return false, err
		}
		p.notify(ctx, payment.MemberID, "payment_confirmed",
			fmt.Sprintf("Your payment of %s has been confirmed.", formatAmount(provider, payment)), payment.ID)
	case models.PaymentStatusFailed, models.PaymentStatusChargedBack:
		p.notify(ctx, payment.MemberID, "payment_failed",
			fmt.Sprintf("Your payment of %s could not be collected.", formatAmount(provider, payment)), payment.ID)
	}
	return true, nil
}

func (p *Processor) applyMandateEvent(ctx context.Context, provider Provider, event NormalizedEvent) (bool, error) {
	mandate, err := p.repo.GetMandateByProviderID(ctx, provider.Name(), event.ResourceID)
	if err != nil {
		return false, err
	}
	if mandate == nil {
		return false, nil
	}

	status := provider.NormalizeStatus("mandate", providerStatus(event))
	if status == mandate.Status {
		return false, nil
	}
	if err := p.repo.UpdateMandateStatus(ctx, mandate, status); err != nil {
		return false, err
	}

	switch status {
	case models.MandateStatusActive:
		p.notify(ctx, mandate.MemberID, "mandate_active", "Your direct debit mandate is now active.", mandate.ID)
	case models.MandateStatusCancelled, models.MandateStatusFailed, models.MandateStatusExpired:
		p.notify(ctx, mandate.MemberID, "mandate_cancelled", "Your direct debit mandate is no longer active.", mandate.ID)
	}
	return true, nil
}

func (p *Processor) applyRefundEvent(ctx context.Context, provider Provider, event NormalizedEvent) (bool, error) {
	refund := &models.Refund{
		Provider:         provider.Name(),
		ProviderRefundID: event.ResourceID,
		Status:           provider.NormalizeStatus("refund", providerStatus(event)),
	}
	if amount, ok := numberDetail(event.Details, "amount"); ok {
		refund.AmountMinor = amount
	}
	if currency, ok := event.Details["currency"].(string); ok {
		refund.Currency = strings.ToUpper(currency)
	}

	var memberID uint
	if providerPaymentID := refundedPaymentID(event); providerPaymentID != "" {
		payment, err := p.repo.GetPaymentByProviderID(ctx, provider.Name(), providerPaymentID)
		if err != nil {
			return false, err
		}
		if payment != nil {
			refund.PaymentID = &payment.ID
			memberID = payment.MemberID
		}
	}

	created, err := p.repo.CreateRefundIfNotExists(ctx, refund)
	if err != nil {
		return false, err
	}
	if !created {
		return false, nil
	}
	if memberID != 0 {
		p.notify(ctx, memberID, "refund_created", "A refund has been issued for one of your payments.", refund.ID)
	}
	return true, nil
}

func (p *Processor) applySubscriptionEvent(ctx context.Context, provider Provider, event NormalizedEvent) (bool, error) {
	subscription, err := p.repo.GetSubscriptionByProviderID(ctx, provider.Name(), event.ResourceID)
	if err != nil {
		return false, err
	}
	if subscription == nil {
		return false, nil
	}

	status := provider.NormalizeStatus("subscription", providerStatus(event))
	if status == subscription.Status {
		return false, nil
	}
	return true, p.repo.UpdateSubscriptionStatus(ctx, subscription, status)
}

func (p *Processor) notify(ctx context.Context, memberID uint, notificationType, content string, referenceID uint) {
	if p.notifier == nil || memberID == 0 {
		return
	}
	if err := p.notifier.Notify(ctx, memberID, notificationType, content, referenceID); err != nil {
		log.Printf("[Payments] notification %s for member %d failed: %v", notificationType, memberID, err)
	}
}

// eventType renders the canonical "<resource>.<action>" form stored in the
// ledger.
func eventType(event NormalizedEvent) string {
	if event.ResourceType == "" {
		return event.Action
	}
	if event.Action == "" {
		return event.ResourceType
	}
	return event.ResourceType + "." + event.Action
}

// providerStatus picks the raw status to normalize: an explicit status field
// on the resource wins, otherwise the event action carries it. A failure
// action outranks the status field, which on a failed payment intent still
// reads as a retryable intermediate state like requires_payment_method.
func providerStatus(event NormalizedEvent) string {
	action := strings.ToLower(strings.TrimSpace(event.Action))
	if action == "failed" || action == "payment_failed" {
		return action
	}
	if status, ok := event.Details["status"].(string); ok && status != "" {
		return status
	}
	return event.Action
}

// refundedPaymentID digs the refunded payment's provider id out of the event,
// covering both the links-map and the flat-field conventions.
func refundedPaymentID(event NormalizedEvent) string {
	if id, ok := event.Details["payment_intent"].(string); ok && id != "" {
		return id
	}
	if links, ok := event.Details["links"].(map[string]interface{}); ok {
		if id, ok := links["payment"].(string); ok {
			return id
		}
	}
	var raw struct {
		Links map[string]string `json:"links"`
	}
	if err := json.Unmarshal(event.Raw, &raw); err == nil {
		return raw.Links["payment"]
	}
	return ""
}

func numberDetail(details map[string]interface{}, key string) (int64, bool) {
	value, ok := details[key].(float64)
	if !ok {
		return 0, false
	}
	return int64(value), true
}

func formatAmount(provider Provider, payment *models.Payment) string {
	amount := provider.FromMinorUnits(payment.AmountMinor, payment.Currency)
	return amount.StringFixed(2) + " " + payment.Currency
}
