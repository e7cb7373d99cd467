package announce

import (
	"context"
	"strings"

	"gopkg.in/gomail.v2"

	"github.com/coco-alen/gpu-usage-view/internal/config"
	"github.com/coco-alen/gpu-usage-view/internal/errors"
)

// DefaultSMTPPort is used when notify.email.port is unset.
const DefaultSMTPPort = 587

// Email sends alerts through an SMTP relay.
type Email struct {
	from   string
	to     []string
	prefix string
	dialer *gomail.Dialer
	// sender overrides dialer in tests.
	sender gomail.Sender
}

// NewEmail creates an email announcer. The password may be a ${VAR} reference.
func NewEmail(cfg config.EmailConfig, prefix string) *Email {
	port := cfg.Port
	if port == 0 {
		port = DefaultSMTPPort
	}
	from := cfg.From
	if from == "" {
		from = cfg.Username
	}
	return &Email{
		from:   from,
		to:     cfg.To,
		prefix: prefix,
		dialer: gomail.NewDialer(cfg.Host, port, cfg.Username, config.ExpandSecret(cfg.Password)),
	}
}

// Send mails the message to every recipient. The SMTP exchange can't be
// interrupted, so a cancelled ctx only stops the wait for it.
func (e *Email) Send(ctx context.Context, message string) error {
	text := e.prefix + message

	m := gomail.NewMessage()
	m.SetHeader("From", e.from)
	m.SetHeader("To", e.to...)
	m.SetHeader("Subject", subject(text))
	m.SetBody("text/plain", text)

	done := make(chan error, 1)
	go func() {
		if e.sender != nil {
			done <- gomail.Send(e.sender, m)
			return
		}
		done <- e.dialer.DialAndSend(m)
	}()

	select {
	case <-ctx.Done():
		return errors.WrapWithCode(ctx.Err(), errors.ErrAnnounce,
			"Sending email was cancelled", "")
	case err := <-done:
		if err != nil {
			return errors.WrapWithCode(err, errors.ErrAnnounce,
				"Failed to send email via "+e.dialer.Host,
				"Check notify.email host, port and credentials")
		}
		return nil
	}
}

// Validate mails TestMessage.
func (e *Email) Validate(ctx context.Context) error {
	return e.Send(ctx, TestMessage)
}

// subject is the first line of the text, shortened for mail clients.
func subject(text string) string {
	line, _, _ := strings.Cut(text, "\n")
	const maxLen = 78
	if len(line) > maxLen {
		line = line[:maxLen-3] + "..."
	}
	return line
}
