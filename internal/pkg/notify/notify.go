package notify

import (
	"fmt"

	"github.com/altpay/saasbilling/app/models"
	"github.com/gofiber/fiber/v2/log"
)

// Notifier receives the lifecycle hooks fired by subscription transitions
// and payment reconciliation. Implementations must be fire-and-forget: a
// failed notification never fails the transition that triggered it.
type Notifier interface {
	New(user *models.User, sub *models.UserSubscription)
	Activate(user *models.User, sub *models.UserSubscription)
	Expired(user *models.User, sub *models.UserSubscription)
	Overdue(user *models.User, sub *models.UserSubscription)
	Due(user *models.User, sub *models.UserSubscription)
	Deactivate(user *models.User, sub *models.UserSubscription)
	PaymentError(user *models.User, payment *models.CryptoPayment)
	PaymentProcessing(user *models.User, payment *models.CryptoPayment)
	PaymentSuccess(user *models.User, payment *models.CryptoPayment)
}

// MailFunc matches mail.SendMail so tests can substitute delivery.
type MailFunc func(to, subject, body string) error

// MailNotifier emails the user on every hook and logs delivery failures.
type MailNotifier struct {
	Send MailFunc
}

// NewMailNotifier wires a notifier around the given delivery function.
func NewMailNotifier(send MailFunc) *MailNotifier {
	return &MailNotifier{Send: send}
}

func (n *MailNotifier) deliver(user *models.User, subject, body string) {
	if user == nil || user.Email == "" {
		return
	}
	if err := n.Send(user.Email, subject, body); err != nil {
		log.Errorf("notification %q to %s failed: %v", subject, user.Email, err)
	}
}

func (n *MailNotifier) New(user *models.User, sub *models.UserSubscription) {
	n.deliver(user, "Subscription created",
		"Your subscription has been created and is awaiting payment.")
}

func (n *MailNotifier) Activate(user *models.User, sub *models.UserSubscription) {
	n.deliver(user, "Subscription activated",
		"Your subscription is now active.")
}

func (n *MailNotifier) Expired(user *models.User, sub *models.UserSubscription) {
	n.deliver(user, "Subscription expired",
		"Your subscription period has ended and the subscription was deactivated.")
}

func (n *MailNotifier) Overdue(user *models.User, sub *models.UserSubscription) {
	n.deliver(user, "Subscription payment overdue",
		"Your renewal could not be settled automatically. A payment request has been generated.")
}

func (n *MailNotifier) Due(user *models.User, sub *models.UserSubscription) {
	n.deliver(user, "Subscription renewal due",
		"Your subscription renewal is coming up.")
}

func (n *MailNotifier) Deactivate(user *models.User, sub *models.UserSubscription) {
	n.deliver(user, "Subscription deactivated",
		"Your subscription has been deactivated.")
}

func (n *MailNotifier) PaymentError(user *models.User, payment *models.CryptoPayment) {
	n.deliver(user, "Payment cancelled",
		fmt.Sprintf("Your %s payment was cancelled.", payment.Currency))
}

func (n *MailNotifier) PaymentProcessing(user *models.User, payment *models.CryptoPayment) {
	n.deliver(user, "Payment processing",
		fmt.Sprintf("Your %s payment was detected and is awaiting confirmation.", payment.Currency))
}

func (n *MailNotifier) PaymentSuccess(user *models.User, payment *models.CryptoPayment) {
	n.deliver(user, "Payment received",
		fmt.Sprintf("Your %s payment is confirmed.", payment.Currency))
}
