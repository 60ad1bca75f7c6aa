package email

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/angelmondragon/orderflow-backend/internal/consumers"
	"github.com/angelmondragon/orderflow-backend/pkg/enums"
	"github.com/angelmondragon/orderflow-backend/pkg/logger"
	"github.com/angelmondragon/orderflow-backend/pkg/mailer"
	"github.com/angelmondragon/orderflow-backend/pkg/outbox/payloads"
)

const notifierConsumerName = "order-email"

// Notifier mails the customer when an order is placed and on every status
// change a customer cares about.
type Notifier struct {
	sender mailer.Sender
	logg   *logger.Logger
}

func NewNotifier(sender mailer.Sender, logg *logger.Logger) (*Notifier, error) {
	if sender == nil {
		return nil, fmt.Errorf("mail sender required")
	}
	if logg == nil {
		return nil, fmt.Errorf("logger required")
	}
	return &Notifier{sender: sender, logg: logg}, nil
}

func (n *Notifier) Name() string { return notifierConsumerName }

func (n *Notifier) Handle(ctx context.Context, event consumers.Event) error {
	var (
		msg mailer.Message
		ok  bool
		err error
	)
	switch event.EventType {
	case enums.EventOrderCreated:
		msg, ok, err = placedMessage(event.Payload)
	case enums.EventOrderStatusChanged:
		msg, ok, err = statusMessage(event.Payload)
	default:
		return nil
	}
	if err != nil {
		n.logg.Error(ctx, "failed to decode order event for email", err)
		return nil
	}
	if !ok {
		return nil
	}
	if err := n.sender.Send(ctx, msg); err != nil {
		return fmt.Errorf("send order email: %w", err)
	}
	n.logg.Info(n.logg.WithField(ctx, "mail_subject", msg.Subject), "order email sent")
	return nil
}

func placedMessage(raw json.RawMessage) (mailer.Message, bool, error) {
	var p payloads.OrderCreatedEvent
	if err := json.Unmarshal(raw, &p); err != nil {
		return mailer.Message{}, false, err
	}
	if strings.TrimSpace(p.ContactEmail) == "" {
		return mailer.Message{}, false, nil
	}
	body := fmt.Sprintf("We received order %s.\nTotal: %d\nPayment method: %s\n", p.OrderNumber, p.Total, p.PaymentMethod)
	return mailer.Message{
		To:       p.ContactEmail,
		Subject:  fmt.Sprintf("Order %s received", p.OrderNumber),
		TextBody: body,
	}, true, nil
}

func statusMessage(raw json.RawMessage) (mailer.Message, bool, error) {
	var p payloads.OrderStatusChangedEvent
	if err := json.Unmarshal(raw, &p); err != nil {
		return mailer.Message{}, false, err
	}
	if strings.TrimSpace(p.ContactEmail) == "" || p.FromStatus == "" {
		return mailer.Message{}, false, nil
	}

	var subject, line string
	switch p.ToStatus {
	case enums.OrderStatusConfirmed:
		subject, line = "Order %s confirmed", "Your order %s is confirmed and will be prepared shortly."
	case enums.OrderStatusProcessing:
		subject, line = "Order %s is on its way", "Your order %s has been handed to the carrier."
	case enums.OrderStatusDelivered:
		subject, line = "Order %s delivered", "Your order %s was delivered."
	case enums.OrderStatusCancelled:
		subject, line = "Order %s cancelled", "Your order %s was cancelled."
	default:
		return mailer.Message{}, false, nil
	}
	body := fmt.Sprintf(line, p.OrderNumber) + "\n"
	if note := strings.TrimSpace(p.Note); note != "" {
		body += "Note: " + note + "\n"
	}
	return mailer.Message{
		To:       p.ContactEmail,
		Subject:  fmt.Sprintf(subject, p.OrderNumber),
		TextBody: body,
	}, true, nil
}
