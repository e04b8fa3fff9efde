package notify

import (
	"errors"
	"fmt"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/candleshop/internal/domain"
)

// Sender доставляет готовое письмо получателю.
type Sender interface {
	Send(to, subject, htmlBody string) error
}

type emailNotifier struct {
	sender    Sender
	templates domain.TemplateRepository
	logger    *log.Entry
}

// NewNotifier создаёт Notifier, который рендерит шаблон из хранилища
// (или встроенный дефолтный) и отдаёт письмо в Sender.
func NewNotifier(sender Sender, templates domain.TemplateRepository, logger *log.Entry) domain.Notifier {
	if logger == nil {
		logger = log.WithField("component", "notifier")
	}
	return &emailNotifier{
		sender:    sender,
		templates: templates,
		logger:    logger,
	}
}

func (n *emailNotifier) SendOrderStatusEmail(to, templateKey string, vars domain.NotificationVars) error {
	return n.send(to, templateKey, vars)
}

func (n *emailNotifier) SendPaymentNotification(to, templateKey string, vars domain.NotificationVars) error {
	return n.send(to, templateKey, vars)
}

func (n *emailNotifier) send(to, templateKey string, vars domain.NotificationVars) error {
	tpl, err := n.resolveTemplate(templateKey)
	if err != nil {
		return err
	}

	subject, body := Render(tpl, vars)
	if err := n.sender.Send(to, subject, body); err != nil {
		n.logger.WithError(err).WithFields(log.Fields{
			"template": templateKey,
			"order_id": vars.OrderID,
		}).Warn("email send failed")
		return fmt.Errorf("%w: %v", domain.ErrNotificationSend, err)
	}

	return nil
}

func (n *emailNotifier) resolveTemplate(key string) (domain.EmailTemplate, error) {
	if n.templates != nil {
		tpl, err := n.templates.Get(key)
		if err == nil {
			return tpl, nil
		}
		if !errors.Is(err, domain.ErrTemplateNotFound) {
			return domain.EmailTemplate{}, fmt.Errorf("load email template %s: %w", key, err)
		}
	}

	tpl, ok := DefaultTemplate(key)
	if !ok {
		return domain.EmailTemplate{}, fmt.Errorf("%w: %s", domain.ErrTemplateNotFound, key)
	}
	return tpl, nil
}

var _ domain.Notifier = (*emailNotifier)(nil)
