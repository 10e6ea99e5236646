package notify

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"team-collab-backend/pkg/models"

	mail "gopkg.in/mail.v2"
)

// Sender delivers one notification
type Sender interface {
	Send(ctx context.Context, n models.NotificationIntent) error
}

// SMTPConfig SMTP 发送配置
type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
	Timeout  time.Duration
}

// SMTPSender sends notifications as plain text email
type SMTPSender struct {
	from   string
	dialer *mail.Dialer
}

func NewSMTPSender(cfg SMTPConfig) *SMTPSender {
	d := mail.NewDialer(cfg.Host, cfg.Port, cfg.Username, cfg.Password)
	d.Timeout = cfg.Timeout
	if d.Timeout == 0 {
		d.Timeout = 10 * time.Second
	}
	return &SMTPSender{from: cfg.From, dialer: d}
}

// Message builds the email for n
func (s *SMTPSender) Message(n models.NotificationIntent) *mail.Message {
	m := mail.NewMessage()
	m.SetHeader("From", s.from)
	m.SetAddressHeader("To", n.ToAddress, n.ToName)
	m.SetHeader("Subject", n.Subject)
	m.SetBody("text/plain", n.Body)
	return m
}

func (s *SMTPSender) Send(ctx context.Context, n models.NotificationIntent) error {
	if n.ToAddress == "" {
		return fmt.Errorf("notification %s for user %s has no address", n.Kind, n.UserID)
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := s.dialer.DialAndSend(s.Message(n)); err != nil {
		return fmt.Errorf("smtp send to %s: %w", n.ToAddress, err)
	}
	return nil
}

// LogSender writes notifications to the log instead of sending them.
// Used when no SMTP host is configured.
type LogSender struct {
	logger *slog.Logger
}

func NewLogSender(logger *slog.Logger) *LogSender {
	return &LogSender{logger: logger}
}

func (s *LogSender) Send(ctx context.Context, n models.NotificationIntent) error {
	s.logger.Info("notification",
		"kind", n.Kind,
		"user_id", n.UserID,
		"to", n.ToAddress,
		"subject", n.Subject,
		"task_id", n.TaskID,
	)
	return nil
}
