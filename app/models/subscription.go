package models

import "time"

const (
	SubscriptionIntervalMonth   = "month"
	SubscriptionIntervalYear    = "year"
	SubscriptionIntervalUnknown = "unknown"
)

const (
	SubscriptionStatusActive     = "active"
	SubscriptionStatusTrialing   = "trialing"
	SubscriptionStatusPastDue    = "past_due"
	SubscriptionStatusCancelled  = "cancelled"
	SubscriptionStatusIncomplete = "incomplete"
	SubscriptionStatusPaused     = "paused"
	SubscriptionStatusFinished   = "finished"
)

// Subscription mirrors a provider subscription (recurring membership fee
// collection) for a member.
type Subscription struct {
	ID                     uint       `gorm:"primaryKey" json:"id"`
	MemberID               uint       `gorm:"not null;index" json:"member_id"`
	MandateID              *uint      `gorm:"index" json:"mandate_id,omitempty"`
	Provider               string     `gorm:"type:varchar(20);not null;index:ux_subscriptions_provider_sub,unique,priority:1" json:"provider"`
	ProviderSubscriptionID string     `gorm:"type:varchar(191);not null;index:ux_subscriptions_provider_sub,unique,priority:2" json:"provider_subscription_id"`
	Name                   string     `gorm:"type:varchar(150)" json:"name"`
	AmountMinor            int64      `gorm:"not null" json:"amount_minor"`
	Currency               string     `gorm:"type:varchar(3);not null" json:"currency"`
	Interval               string     `gorm:"type:varchar(16);not null;default:'unknown'" json:"interval"`
	Status                 string     `gorm:"type:varchar(32);not null;default:'active';index" json:"status"`
	CurrentPeriodStart     *time.Time `gorm:"type:timestamp;default:null" json:"current_period_start,omitempty"`
	CurrentPeriodEnd       *time.Time `gorm:"type:timestamp;default:null" json:"current_period_end,omitempty"`
	CancelAtPeriodEnd      bool       `gorm:"default:false" json:"cancel_at_period_end"`
	CreatedAt              time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt              time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}
