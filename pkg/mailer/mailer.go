package mailer

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/wneessen/go-mail"

	"github.com/angelmondragon/orderflow-backend/pkg/config"
	"github.com/angelmondragon/orderflow-backend/pkg/logger"
)

// Message is a single outbound email.
type Message struct {
	To       string
	Subject  string
	TextBody string
	HTMLBody string
}

// Sender delivers messages.
type Sender interface {
	Send(ctx context.Context, msg Message) error
}

type dialer interface {
	DialAndSendWithContext(ctx context.Context, messages ...*mail.Msg) error
}

// SMTPSender sends mail through the configured relay.
type SMTPSender struct {
	client dialer
	from   string
}

// NewSMTPSender builds a sender. When mail is disabled it returns a LogSender.
func NewSMTPSender(cfg config.MailConfig, logg *logger.Logger) (Sender, error) {
	if !cfg.Enabled {
		return &LogSender{logg: logg}, nil
	}
	if strings.TrimSpace(cfg.Host) == "" {
		return nil, errors.New("smtp host is required when mail is enabled")
	}
	opts := []mail.Option{
		mail.WithPort(cfg.Port),
		mail.WithTLSPolicy(mail.TLSOpportunistic),
	}
	if cfg.Username != "" {
		opts = append(opts,
			mail.WithSMTPAuth(mail.SMTPAuthLogin),
			mail.WithUsername(cfg.Username),
			mail.WithPassword(cfg.Password),
		)
	}
	client, err := mail.NewClient(cfg.Host, opts...)
	if err != nil {
		return nil, fmt.Errorf("smtp client: %w", err)
	}
	return &SMTPSender{client: client, from: cfg.From}, nil
}

func (s *SMTPSender) Send(ctx context.Context, m Message) error {
	msg, err := buildMsg(s.from, m)
	if err != nil {
		return err
	}
	return s.client.DialAndSendWithContext(ctx, msg)
}

func buildMsg(from string, m Message) (*mail.Msg, error) {
	if strings.TrimSpace(m.To) == "" {
		return nil, errors.New("recipient is required")
	}
	msg := mail.NewMsg()
	if err := msg.From(from); err != nil {
		return nil, fmt.Errorf("from address: %w", err)
	}
	if err := msg.To(m.To); err != nil {
		return nil, fmt.Errorf("to address: %w", err)
	}
	msg.Subject(m.Subject)
	msg.SetBodyString(mail.TypeTextPlain, m.TextBody)
	if m.HTMLBody != "" {
		msg.AddAlternativeString(mail.TypeTextHTML, m.HTMLBody)
	}
	return msg, nil
}

// LogSender records messages in the log instead of sending them. Used in dev.
type LogSender struct {
	logg *logger.Logger
}

func (s *LogSender) Send(ctx context.Context, m Message) error {
	if _, err := buildMsg("dev@orderflow.local", m); err != nil {
		return err
	}
	if s.logg != nil {
		logCtx := s.logg.WithFields(ctx, map[string]any{
			"mail_to":      m.To,
			"mail_subject": m.Subject,
		})
		s.logg.Info(logCtx, "mail delivery skipped (disabled)")
	}
	return nil
}
