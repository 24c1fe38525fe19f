package notification

import (
	"github.com/gofiber/fiber/v2/log"
	"gorm.io/gorm"

	"github.com/MarcusBreuer/Vendico/app/models"
	"github.com/MarcusBreuer/Vendico/app/repository"
	"github.com/MarcusBreuer/Vendico/internal/pkg/mail"
)

// Notifier persists an in-app notification and mails the user. It satisfies
// the fulfillment.Notifier interface and is strictly best-effort: no failure
// here propagates to the caller.
type Notifier struct {
	db    *gorm.DB
	users repository.UserRepository
}

// NewNotifier creates the notification sink.
func NewNotifier(db *gorm.DB, users repository.UserRepository) *Notifier {
	return &Notifier{db: db, users: users}
}

// Notify writes the in-app notification row and dispatches the email in the
// background. Fire-and-forget; the mailer puts a hard deadline on the SMTP
// conversation, so the goroutine always terminates.
func (n *Notifier) Notify(userID uint, title string, body string, orderID uint) {
	if err := models.CreateNotification(n.db, userID, "delivery", title, body, orderID); err != nil {
		log.Errorf("[Notification] Failed to store notification for user %d: %v", userID, err)
	}

	user, err := n.users.GetByID(userID)
	if err != nil {
		log.Warnf("[Notification] No mail sent, user %d not found: %v", userID, err)
		return
	}

	go func() {
		if err := mail.SendMail(user.Email, title, body); err != nil {
			log.Warnf("[Notification] Failed to mail user %d: %v", userID, err)
		}
	}()
}
