package models

import "time"

const (
	RefundStatusPending   = "pending"
	RefundStatusConfirmed = "confirmed"
	RefundStatusFailed    = "failed"
)

// Refund mirrors a provider refund. PaymentID is null when the refunded
// payment is not known locally.
type Refund struct {
	ID               uint      `gorm:"primaryKey" json:"id"`
	PaymentID        *uint     `gorm:"index" json:"payment_id,omitempty"`
	Provider         string    `gorm:"type:varchar(20);not null;index:ux_refunds_provider_refund,unique,priority:1" json:"provider"`
	ProviderRefundID string    `gorm:"type:varchar(191);not null;index:ux_refunds_provider_refund,unique,priority:2" json:"provider_refund_id"`
	AmountMinor      int64     `gorm:"not null" json:"amount_minor"`
	Currency         string    `gorm:"type:varchar(3);not null" json:"currency"`
	Status           string    `gorm:"type:varchar(32);not null;default:'pending'" json:"status"`
	CreatedAt        time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt        time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}
