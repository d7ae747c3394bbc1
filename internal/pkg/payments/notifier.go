package payments

import (
	"context"
	"log"

	"gorm.io/gorm"

	"github.com/clubpilot/ClubPilot/app/models"
	"github.com/clubpilot/ClubPilot/internal/pkg/mail"
)

// DatabaseNotifier stores notifications in the member's in-app inbox and,
// when outbound mail is configured, mirrors payment-critical ones by email.
// Mail failures are logged and swallowed; the inbox entry is the durable
// record.
type DatabaseNotifier struct {
	db       *gorm.DB
	sendMail bool
}

func NewDatabaseNotifier(db *gorm.DB) *DatabaseNotifier {
	return &DatabaseNotifier{db: db, sendMail: mail.Enabled()}
}

// mailSubjects lists the notification types worth an email on top of the
// inbox entry.
var mailSubjects = map[string]string{
	"payment_failed":    "A payment could not be collected",
	"mandate_cancelled": "Your direct debit mandate was cancelled",
}

func (n *DatabaseNotifier) Notify(ctx context.Context, memberID uint, notificationType, content string, referenceID uint) error {
	if err := models.CreateNotification(n.db.WithContext(ctx), memberID, notificationType, content, referenceID); err != nil {
		return err
	}

	subject, wantsMail := mailSubjects[notificationType]
	if !n.sendMail || !wantsMail {
		return nil
	}

	var member models.Member
	if err := n.db.WithContext(ctx).First(&member, memberID).Error; err != nil {
		log.Printf("[Notify] member %d lookup for email failed: %v", memberID, err)
		return nil
	}
	if err := mail.SendMail(member.Email, subject, content); err != nil {
		log.Printf("[Notify] email to member %d failed: %v", memberID, err)
	}
	return nil
}
