package models

import "time"

// Normalized payment status vocabulary. Provider-specific statuses are mapped
// into this set before they touch local state.
const (
	PaymentStatusPending     = "pending"
	PaymentStatusSubmitted   = "submitted"
	PaymentStatusConfirmed   = "confirmed"
	PaymentStatusFailed      = "failed"
	PaymentStatusCancelled   = "cancelled"
	PaymentStatusChargedBack = "charged_back"
	PaymentStatusRefunded    = "refunded"
)

// Payment mirrors a provider payment for a member. Amounts are stored in the
// currency's minor unit.
type Payment struct {
	ID                uint       `gorm:"primaryKey" json:"id"`
	MemberID          uint       `gorm:"not null;index" json:"member_id"`
	MandateID         *uint      `gorm:"index" json:"mandate_id,omitempty"`
	Provider          string     `gorm:"type:varchar(20);not null;index:ux_payments_provider_payment,unique,priority:1" json:"provider"`
	ProviderPaymentID string     `gorm:"type:varchar(191);not null;index:ux_payments_provider_payment,unique,priority:2" json:"provider_payment_id"`
	AmountMinor       int64      `gorm:"not null" json:"amount_minor"`
	Currency          string     `gorm:"type:varchar(3);not null" json:"currency"`
	Description       string     `gorm:"type:varchar(255)" json:"description"`
	Status            string     `gorm:"type:varchar(32);not null;default:'pending';index" json:"status"`
	ChargeDate        *time.Time `gorm:"type:timestamp;default:null" json:"charge_date,omitempty"`
	CreatedAt         time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt         time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}
