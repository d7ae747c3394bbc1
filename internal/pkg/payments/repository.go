package payments

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/clubpilot/ClubPilot/app/models"
)

// GormRepository implements Repository on the application database.
type GormRepository struct {
	db *gorm.DB
}

func NewGormRepository(db *gorm.DB) *GormRepository {
	return &GormRepository{db: db}
}

// CreateWebhookEventIfNotExists inserts a ledger row, relying on the unique
// (provider, provider_event_id) index to drop duplicates. RowsAffected zero
// means another delivery of the same event already claimed it.
func (r *GormRepository) CreateWebhookEventIfNotExists(ctx context.Context, event *models.PaymentWebhookEvent) (bool, error) {
	result := r.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(event)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func (r *GormRepository) MarkWebhookProcessed(ctx context.Context, provider, providerEventID, processingError string) error {
	now := time.Now()
	return r.db.WithContext(ctx).
		Model(&models.PaymentWebhookEvent{}).
		Where("provider = ? AND provider_event_id = ?", provider, providerEventID).
		Updates(map[string]interface{}{
			"processed_at":     &now,
			"processing_error": processingError,
		}).Error
}

func (r *GormRepository) GetPaymentByProviderID(ctx context.Context, provider, providerPaymentID string) (*models.Payment, error) {
	if providerPaymentID == "" {
		return nil, nil
	}
	var payment models.Payment
	err := r.db.WithContext(ctx).
		Where("provider = ? AND provider_payment_id = ?", provider, providerPaymentID).
		First(&payment).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &payment, nil
}

func (r *GormRepository) UpdatePaymentStatus(ctx context.Context, payment *models.Payment, status string) error {
	payment.Status = status
	return r.db.WithContext(ctx).Model(payment).Update("status", status).Error
}

// CreateInvoiceForPayment issues the invoice for a confirmed payment at most
// once. The unique index on payment_id absorbs redeliveries that race past
// the event ledger.
func (r *GormRepository) CreateInvoiceForPayment(ctx context.Context, payment *models.Payment) (*models.Invoice, bool, error) {
	now := time.Now()
	invoice := &models.Invoice{
		Number:      models.NewInvoiceNumber(now),
		MemberID:    payment.MemberID,
		PaymentID:   &payment.ID,
		AmountMinor: payment.AmountMinor,
		Currency:    payment.Currency,
		Status:      models.InvoiceStatusPaid,
		IssuedAt:    now,
		PaidAt:      &now,
	}
	result := r.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(invoice)
	if result.Error != nil {
		return nil, false, result.Error
	}
	if result.RowsAffected == 0 {
		var existing models.Invoice
		err := r.db.WithContext(ctx).Where("payment_id = ?", payment.ID).First(&existing).Error
		if err != nil {
			return nil, false, err
		}
		return &existing, false, nil
	}
	return invoice, true, nil
}

func (r *GormRepository) GetMandateByProviderID(ctx context.Context, provider, providerMandateID string) (*models.Mandate, error) {
	if providerMandateID == "" {
		return nil, nil
	}
	var mandate models.Mandate
	err := r.db.WithContext(ctx).
		Where("provider = ? AND provider_mandate_id = ?", provider, providerMandateID).
		First(&mandate).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &mandate, nil
}

func (r *GormRepository) UpdateMandateStatus(ctx context.Context, mandate *models.Mandate, status string) error {
	mandate.Status = status
	return r.db.WithContext(ctx).Model(mandate).Update("status", status).Error
}

func (r *GormRepository) CreateRefundIfNotExists(ctx context.Context, refund *models.Refund) (bool, error) {
	result := r.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(refund)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func (r *GormRepository) GetSubscriptionByProviderID(ctx context.Context, provider, providerSubscriptionID string) (*models.Subscription, error) {
	if providerSubscriptionID == "" {
		return nil, nil
	}
	var subscription models.Subscription
	err := r.db.WithContext(ctx).
		Where("provider = ? AND provider_subscription_id = ?", provider, providerSubscriptionID).
		First(&subscription).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &subscription, nil
}

func (r *GormRepository) UpdateSubscriptionStatus(ctx context.Context, subscription *models.Subscription, status string) error {
	subscription.Status = status
	return r.db.WithContext(ctx).Model(subscription).Update("status", status).Error
}
