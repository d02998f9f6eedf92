package channel

import (
	"context"
	"errors"
	"fmt"
	"net/smtp"
	"strings"

	"digestbot/internal/feed"
	logx "digestbot/pkg/logx"
)

// EmailConfig configures the SMTP delivery channel.
type EmailConfig struct {
	Name string

	Host string
	Port int

	Username string
	Password string

	From string
	To   []string
}

// Email delivers digest chunks as individual mails over SMTP (STARTTLS).
type Email struct {
	cfg EmailConfig
	log logx.Logger

	// send is swappable for tests; defaults to smtp.SendMail.
	send func(addr string, a smtp.Auth, from string, to []string, msg []byte) error
}

var _ Channel = (*Email)(nil)

func NewEmail(cfg EmailConfig, log logx.Logger) (*Email, error) {
	if strings.TrimSpace(cfg.Name) == "" {
		cfg.Name = "email"
	}
	if cfg.Port <= 0 {
		cfg.Port = 587
	}
	if strings.TrimSpace(cfg.Host) == "" {
		return nil, errors.New("email smtp host is empty")
	}
	if strings.TrimSpace(cfg.From) == "" {
		return nil, errors.New("email from address is empty")
	}
	if len(cfg.To) == 0 {
		return nil, errors.New("email recipient list is empty")
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Email{cfg: cfg, log: log, send: smtp.SendMail}, nil
}

func (e *Email) Name() string { return e.cfg.Name }

func (e *Email) Send(ctx context.Context, text, topic string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	subject := "News Digest"
	if topic != "" {
		subject = "News Digest - " + feed.Title(topic)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "From: %s\r\n", e.cfg.From)
	fmt.Fprintf(&b, "To: %s\r\n", strings.Join(e.cfg.To, ", "))
	fmt.Fprintf(&b, "Subject: %s\r\n", subject)
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/plain; charset=\"utf-8\"\r\n")
	b.WriteString("\r\n")
	b.WriteString(text)

	addr := fmt.Sprintf("%s:%d", e.cfg.Host, e.cfg.Port)
	var auth smtp.Auth
	if e.cfg.Username != "" {
		auth = smtp.PlainAuth("", e.cfg.Username, e.cfg.Password, e.cfg.Host)
	}

	if err := e.send(addr, auth, e.cfg.From, e.cfg.To, []byte(b.String())); err != nil {
		e.log.Warn("email send failed", logx.String("topic", topic), logx.Err(err))
		return err
	}
	return nil
}
