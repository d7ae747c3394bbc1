package payments

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

// NormalizedEvent is the canonical shape every provider's webhook payload is
// converted into. ID is the idempotency key, stable and unique per provider:
// redelivery of the same event yields a byte-identical ID.
type NormalizedEvent struct {
	ID           string                 `json:"id"`
	ResourceType string                 `json:"resource_type"`
	Action       string                 `json:"action"`
	ResourceID   string                 `json:"resource_id"`
	CreatedAt    time.Time              `json:"created_at"`
	Details      map[string]interface{} `json:"details,omitempty"`
	Raw          json.RawMessage        `json:"raw,omitempty"`
}

// Customer is the provider-agnostic customer shape.
type Customer struct {
	ID         string
	Email      string
	GivenName  string
	FamilyName string
	Language   string
	Metadata   map[string]string
}

// CustomerParams carries customer create/update input.
type CustomerParams struct {
	Email      string
	GivenName  string
	FamilyName string
	Language   string
	Metadata   map[string]string
}

// Mandate is the provider-agnostic mandate shape. Status carries the
// provider's vocabulary until NormalizeStatus maps it.
type Mandate struct {
	ID             string
	CustomerID     string
	Reference      string
	Scheme         string
	Status         string
	BankAccountID  string
	NextChargeDate string
	CreatedAt      time.Time
}

// MandateSetupParams starts a redirect-based mandate setup flow.
type MandateSetupParams struct {
	CustomerParams

	Description        string
	SessionToken       string
	SuccessRedirectURL string
}

// MandateSetupFlow is the provider-side half of a redirect flow: the member is
// sent to RedirectURL and the flow is completed on return.
type MandateSetupFlow struct {
	ID          string
	RedirectURL string
	ExpiresAt   time.Time
}

// Payment is the provider-agnostic payment shape. AmountMinor is in the
// currency's minor unit.
type Payment struct {
	ID          string
	MandateID   string
	CustomerID  string
	AmountMinor int64
	Currency    string
	Description string
	Status      string
	ChargeDate  string
	CreatedAt   time.Time
}

// PaymentParams carries payment create input. Amount is decimal currency; the
// provider converts it to its minor-unit representation.
type PaymentParams struct {
	MandateID   string
	CustomerID  string
	Amount      decimal.Decimal
	Currency    string
	Description string
	Reference   string
	Metadata    map[string]string
}

// Refund is the provider-agnostic refund shape.
type Refund struct {
	ID          string
	PaymentID   string
	AmountMinor int64
	Currency    string
	Status      string
}

// RefundParams carries refund create input.
type RefundParams struct {
	PaymentID string
	Amount    decimal.Decimal
	Currency  string
	Reference string
}

// ListParams filters provider list operations.
type ListParams struct {
	CustomerID string
	MandateID  string
	Limit      int
}
