package models

import (
	"time"

	"gorm.io/gorm"
)

type Notification struct {
	ID          uint           `gorm:"primaryKey" json:"id"`
	MemberID    uint           `gorm:"index" json:"member_id"`
	Member      Member         `gorm:"foreignKey:MemberID" json:"member,omitempty"`
	Type        string         `gorm:"type:varchar(50)" json:"type" validate:"oneof=payment_confirmed payment_failed mandate_cancelled mandate_active refund_created system"`
	Content     string         `gorm:"type:text" json:"content"`
	IsRead      bool           `gorm:"default:false" json:"is_read"`
	ReferenceID uint           `json:"reference_id"` // ID of the object the notification refers to
	CreatedAt   time.Time      `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt   time.Time      `gorm:"autoUpdateTime" json:"updated_at"`
	DeletedAt   gorm.DeletedAt `gorm:"index" json:"-"`
}

// MarkAsRead marks a notification as read.
func (n *Notification) MarkAsRead(db *gorm.DB) error {
	n.IsRead = true
	return db.Model(n).Update("is_read", true).Error
}

// CreateNotification creates a new notification for a member.
func CreateNotification(db *gorm.DB, memberID uint, notificationType string, content string, referenceID uint) error {
	notification := Notification{
		MemberID:    memberID,
		Type:        notificationType,
		Content:     content,
		ReferenceID: referenceID,
		IsRead:      false,
	}

	return db.Create(&notification).Error
}
