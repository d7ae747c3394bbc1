package models

import "time"

// Payment provider constants used across payment-related models.
const (
	PaymentProviderGoCardless = "gocardless"
	PaymentProviderStripe     = "stripe"
)

const (
	MandateStatusPendingSubmission = "pending_submission"
	MandateStatusSubmitted         = "submitted"
	MandateStatusActive            = "active"
	MandateStatusFailed            = "failed"
	MandateStatusCancelled         = "cancelled"
	MandateStatusExpired           = "expired"
)

// Mandate stores a member's standing authorization for a payment provider to
// collect funds. Bank account details are stored only as an authenticated
// encryption envelope plus a one-way lookup hash.
type Mandate struct {
	ID                uint       `gorm:"primaryKey" json:"id"`
	MemberID          uint       `gorm:"not null;index" json:"member_id"`
	Provider          string     `gorm:"type:varchar(20);not null;index:ux_mandates_provider_mandate,unique,priority:1" json:"provider"`
	ProviderMandateID string     `gorm:"type:varchar(191);not null;index:ux_mandates_provider_mandate,unique,priority:2" json:"provider_mandate_id"`
	Reference         string     `gorm:"type:varchar(100)" json:"reference"`
	Scheme            string     `gorm:"type:varchar(32)" json:"scheme"`
	Status            string     `gorm:"type:varchar(32);not null;default:'pending_submission';index" json:"status"`
	BankAccountEnc    string     `gorm:"type:text" json:"-"`
	BankAccountHash   string     `gorm:"type:varchar(64);index" json:"-"`
	NextChargeDate    *time.Time `gorm:"type:timestamp;default:null" json:"next_charge_date,omitempty"`
	CreatedAt         time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt         time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}
