package models

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	InvoiceStatusOpen = "open"
	InvoiceStatusPaid = "paid"
	InvoiceStatusVoid = "void"
)

// Invoice is generated at most once per confirmed payment. The unique index
// on PaymentID is the guard against duplicate invoicing under webhook
// redelivery.
type Invoice struct {
	ID          uint       `gorm:"primaryKey" json:"id"`
	Number      string     `gorm:"type:varchar(64);uniqueIndex" json:"number"`
	MemberID    uint       `gorm:"not null;index" json:"member_id"`
	PaymentID   *uint      `gorm:"uniqueIndex" json:"payment_id,omitempty"`
	AmountMinor int64      `gorm:"not null" json:"amount_minor"`
	Currency    string     `gorm:"type:varchar(3);not null" json:"currency"`
	Status      string     `gorm:"type:varchar(32);not null;default:'open'" json:"status"`
	IssuedAt    time.Time  `gorm:"type:timestamp" json:"issued_at"`
	PaidAt      *time.Time `gorm:"type:timestamp;default:null" json:"paid_at,omitempty"`
	CreatedAt   time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt   time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

// NewInvoiceNumber builds a human-readable, collision-free invoice number.
func NewInvoiceNumber(issuedAt time.Time) string {
	suffix := strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", "")[:10])
	return fmt.Sprintf("INV-%d-%s", issuedAt.Year(), suffix)
}
