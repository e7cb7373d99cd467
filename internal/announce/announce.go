// Package announce delivers reminder alerts to a person: a chat webhook, an
// email relay, or the log.
package announce

import (
	"context"

	"github.com/coco-alen/gpu-usage-view/internal/config"
	"github.com/coco-alen/gpu-usage-view/internal/errors"
	"github.com/coco-alen/gpu-usage-view/internal/logger"
)

// TestMessage is sent by Validate.
const TestMessage = "gpuview alerts are working."

// Announcer sends alert text somewhere a person will see it.
// Implementations must be safe for concurrent use.
type Announcer interface {
	// Send delivers one message. Failures carry errors.ErrAnnounce.
	Send(ctx context.Context, message string) error
	// Validate sends TestMessage to prove the channel works.
	Validate(ctx context.Context) error
}

// New builds the announcer selected by cfg. It returns a nil Announcer and no
// error when notifications are turned off.
func New(cfg config.NotifyConfig, log logger.Logger) (Announcer, error) {
	if log == nil {
		log = logger.Noop()
	}

	switch cfg.Type {
	case config.NotifyNone:
		return nil, nil
	case config.NotifyLog:
		return NewLog(log, cfg.Prefix), nil
	case config.NotifyWebhook:
		url := config.ExpandSecret(cfg.Webhook.URL)
		if url == "" {
			return nil, errors.New(errors.ErrConfig,
				"notify.webhook.url is empty",
				"Set the bot webhook URL, or GPUVIEW_NOTIFY_WEBHOOK_URL")
		}
		return NewWebhook(url, config.ExpandSecret(cfg.Webhook.Secret), cfg.Prefix), nil
	case config.NotifyEmail:
		if cfg.Email.Host == "" || len(cfg.Email.To) == 0 {
			return nil, errors.New(errors.ErrConfig,
				"notify.email needs a host and at least one recipient",
				"Set notify.email.host and notify.email.to")
		}
		return NewEmail(cfg.Email, cfg.Prefix), nil
	default:
		return nil, errors.New(errors.ErrConfig,
			"Unknown notify type: "+cfg.Type,
			"Use one of: log, webhook, email")
	}
}

// Log writes alerts to a logger. It never fails.
type Log struct {
	log    logger.Logger
	prefix string
}

// NewLog creates a log announcer.
func NewLog(log logger.Logger, prefix string) *Log {
	return &Log{log: log, prefix: prefix}
}

// Send logs the message at info level.
func (l *Log) Send(_ context.Context, message string) error {
	l.log.Info("%s%s", l.prefix, message)
	return nil
}

// Validate logs TestMessage.
func (l *Log) Validate(ctx context.Context) error {
	return l.Send(ctx, TestMessage)
}
