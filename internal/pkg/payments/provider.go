package payments

import (
	"context"
	"fmt"
	"sync"

	"github.com/shopspring/decimal"
)

// Capability names a group of operations a provider may support. Intentional
// gaps in a provider's API surface are queried through Supports instead of
// being discovered through runtime errors.
type Capability string

const (
	CapabilityCustomers        Capability = "customers"
	CapabilityMandates         Capability = "mandates"
	CapabilityMandateSetupFlow Capability = "mandate_setup_flow"
	CapabilityPayments         Capability = "payments"
	CapabilityPaymentRetry     Capability = "payment_retry"
	CapabilityRefunds          Capability = "refunds"
)

// Provider is the capability contract every payment provider integration
// satisfies. Operations a provider genuinely lacks must return a
// *NotSupportedError and report false from Supports; they never silently
// no-op.
type Provider interface {
	Name() string
	IsTestMode() bool
	Supports(capability Capability) bool

	CreateCustomer(ctx context.Context, params CustomerParams) (*Customer, error)
	GetCustomer(ctx context.Context, customerID string) (*Customer, error)
	UpdateCustomer(ctx context.Context, customerID string, params CustomerParams) (*Customer, error)

	CreateMandateSetupFlow(ctx context.Context, params MandateSetupParams) (*MandateSetupFlow, error)
	CompleteMandateSetupFlow(ctx context.Context, flowID, sessionToken string) (*Mandate, error)
	GetMandate(ctx context.Context, mandateID string) (*Mandate, error)
	CancelMandate(ctx context.Context, mandateID string) (*Mandate, error)
	ListMandates(ctx context.Context, params ListParams) ([]Mandate, error)

	CreatePayment(ctx context.Context, params PaymentParams) (*Payment, error)
	GetPayment(ctx context.Context, paymentID string) (*Payment, error)
	CancelPayment(ctx context.Context, paymentID string) (*Payment, error)
	RetryPayment(ctx context.Context, paymentID string) (*Payment, error)
	ListPayments(ctx context.Context, params ListParams) ([]Payment, error)

	CreateRefund(ctx context.Context, params RefundParams) (*Refund, error)

	VerifyWebhookSignature(rawBody []byte, signatureHeader string) error
	ParseWebhookEvents(rawBody []byte) ([]NormalizedEvent, error)

	ToMinorUnits(amount decimal.Decimal, currency string) (int64, error)
	// FromMinorUnits has no error channel; a provider without currency
	// knowledge returns decimal.Zero, so callers needing loud failure
	// convert through ToMinorUnits.
	FromMinorUnits(amountMinor int64, currency string) decimal.Decimal
	NormalizeStatus(resourceType, providerStatus string) string
}

// UnsupportedProvider is an embeddable base whose every operation fails with
// a *NotSupportedError. Concrete providers embed it and override what they
// actually implement, so a missing override surfaces loudly the first time a
// test invokes it.
type UnsupportedProvider struct {
	ProviderName string
}

func (u UnsupportedProvider) notSupported(operation string) *NotSupportedError {
	return &NotSupportedError{Provider: u.ProviderName, Operation: operation}
}

func (u UnsupportedProvider) Name() string             { return u.ProviderName }
func (u UnsupportedProvider) IsTestMode() bool         { return false }
func (u UnsupportedProvider) Supports(Capability) bool { return false }

func (u UnsupportedProvider) CreateCustomer(context.Context, CustomerParams) (*Customer, error) {
	return nil, u.notSupported("CreateCustomer")
}

func (u UnsupportedProvider) GetCustomer(context.Context, string) (*Customer, error) {
	return nil, u.notSupported("GetCustomer")
}

func (u UnsupportedProvider) UpdateCustomer(context.Context, string, CustomerParams) (*Customer, error) {
	return nil, u.notSupported("UpdateCustomer")
}

func (u UnsupportedProvider) CreateMandateSetupFlow(context.Context, MandateSetupParams) (*MandateSetupFlow, error) {
	return nil, u.notSupported("CreateMandateSetupFlow")
}

func (u UnsupportedProvider) CompleteMandateSetupFlow(context.Context, string, string) (*Mandate, error) {
	return nil, u.notSupported("CompleteMandateSetupFlow")
}

func (u UnsupportedProvider) GetMandate(context.Context, string) (*Mandate, error) {
	return nil, u.notSupported("GetMandate")
}

func (u UnsupportedProvider) CancelMandate(context.Context, string) (*Mandate, error) {
	return nil, u.notSupported("CancelMandate")
}

func (u UnsupportedProvider) ListMandates(context.Context, ListParams) ([]Mandate, error) {
	return nil, u.notSupported("ListMandates")
}

func (u UnsupportedProvider) CreatePayment(context.Context, PaymentParams) (*Payment, error) {
	return nil, u.notSupported("CreatePayment")
}

func (u UnsupportedProvider) GetPayment(context.Context, string) (*Payment, error) {
	return nil, u.notSupported("GetPayment")
}

func (u UnsupportedProvider) CancelPayment(context.Context, string) (*Payment, error) {
	return nil, u.notSupported("CancelPayment")
}

func (u UnsupportedProvider) RetryPayment(context.Context, string) (*Payment, error) {
	return nil, u.notSupported("RetryPayment")
}

func (u UnsupportedProvider) ListPayments(context.Context, ListParams) ([]Payment, error) {
	return nil, u.notSupported("ListPayments")
}

func (u UnsupportedProvider) CreateRefund(context.Context, RefundParams) (*Refund, error) {
	return nil, u.notSupported("CreateRefund")
}

func (u UnsupportedProvider) VerifyWebhookSignature([]byte, string) error {
	return u.notSupported("VerifyWebhookSignature")
}

func (u UnsupportedProvider) ParseWebhookEvents([]byte) ([]NormalizedEvent, error) {
	return nil, u.notSupported("ParseWebhookEvents")
}

func (u UnsupportedProvider) ToMinorUnits(decimal.Decimal, string) (int64, error) {
	return 0, u.notSupported("ToMinorUnits")
}

func (u UnsupportedProvider) FromMinorUnits(amountMinor int64, currency string) decimal.Decimal {
	return decimal.Zero
}

// NormalizeStatus on the base has no vocabulary to map from and hands the
// raw status through unchanged rather than erasing it.
func (u UnsupportedProvider) NormalizeStatus(_, providerStatus string) string {
	return providerStatus
}

// Registry resolves provider names to registered implementations.
type Registry struct {
	mu        sync.RWMutex
	providers map[string]Provider
}

func NewRegistry() *Registry {
	return &Registry{providers: make(map[string]Provider)}
}

// Register adds or replaces a provider under its own name.
func (r *Registry) Register(p Provider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.providers[p.Name()] = p
}

// Get resolves a provider by name. Unknown names are an explicit error,
// never silently treated as valid or invalid.
func (r *Registry) Get(name string) (Provider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.providers[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownProvider, name)
	}
	return p, nil
}

// Names lists the registered provider names.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.providers))
	for name := range r.providers {
		names = append(names, name)
	}
	return names
}

var defaultRegistry = NewRegistry()

// Register adds a provider to the package default registry.
func Register(p Provider) {
	defaultRegistry.Register(p)
}

// Get resolves a provider from the package default registry.
func Get(name string) (Provider, error) {
	return defaultRegistry.Get(name)
}

// DefaultRegistry exposes the package default registry for wiring.
func DefaultRegistry() *Registry {
	return defaultRegistry
}

// SetupProviders registers the built-in providers from the environment.
// Called once at boot.
func SetupProviders() {
	Register(NewGoCardlessProviderFromEnv())
	Register(NewStripeProviderFromEnv())
}
