// Package worker delivers queued sign-in notifications by email.
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/headless-cms/authserver/internal/mailer"
	"github.com/headless-cms/authserver/internal/metrics"
	"github.com/headless-cms/authserver/internal/mq"
	"github.com/headless-cms/authserver/internal/services"
)

// Subscriber is the broker surface the worker consumes from.
type Subscriber interface {
	Subscribe(ctx context.Context, channel string, handler mq.Handler) error
}

// Sender delivers a rendered email.
type Sender interface {
	Send(ctx context.Context, e mailer.Email) error
}

// NotificationWorker turns broker messages into emails.
type NotificationWorker struct {
	sub    Subscriber
	sender Sender
	logger *slog.Logger
}

func NewNotificationWorker(sub Subscriber, sender Sender, logger *slog.Logger) *NotificationWorker {
	if logger == nil {
		logger = slog.Default()
	}
	return &NotificationWorker{sub: sub, sender: sender, logger: logger}
}

// Run consumes notifications until ctx is cancelled.
func (w *NotificationWorker) Run(ctx context.Context) error {
	w.logger.InfoContext(ctx, "notification worker started", "channel", services.NotificationChannel)
	err := w.sub.Subscribe(ctx, services.NotificationChannel, w.Handle)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// Handle processes one message. Undecodable payloads are dropped; delivery
// failures are returned so the broker redelivers them.
func (w *NotificationWorker) Handle(ctx context.Context, msg mq.Message) error {
	var n services.Notification
	if err := json.Unmarshal(msg.Data, &n); err != nil {
		w.logger.WarnContext(ctx, "dropping malformed notification", "message_id", msg.ID, "error", err)
		return mq.Permanent(fmt.Errorf("decode notification %s: %w", msg.ID, err))
	}
	if strings.TrimSpace(n.Email) == "" {
		w.logger.WarnContext(ctx, "dropping notification without recipient", "message_id", msg.ID, "kind", n.Kind)
		return mq.Permanent(fmt.Errorf("notification %s has no recipient", msg.ID))
	}

	email, err := render(n)
	if err != nil {
		w.logger.WarnContext(ctx, "dropping notification", "message_id", msg.ID, "kind", n.Kind, "error", err)
		return mq.Permanent(err)
	}

	if err := w.sender.Send(ctx, email); err != nil {
		metrics.RecordNotification(n.Kind, metrics.OutcomeFailure)
		w.logger.ErrorContext(ctx, "notification delivery failed", "message_id", msg.ID, "kind", n.Kind, "error", err)
		return err
	}
	metrics.RecordNotification(n.Kind, metrics.OutcomeSuccess)
	w.logger.InfoContext(ctx, "notification delivered", "message_id", msg.ID, "kind", n.Kind)
	return nil
}

func render(n services.Notification) (mailer.Email, error) {
	switch n.Kind {
	case services.NotificationOTP:
		if n.Code == "" {
			return mailer.Email{}, errors.New("otp notification has no code")
		}
		return mailer.OTPEmail(n.Email, n.Code, n.ExpiresInMinutes)
	case services.NotificationMagicLink:
		if n.Link == "" {
			return mailer.Email{}, errors.New("magic link notification has no link")
		}
		return mailer.MagicLinkEmail(n.Email, n.Link, n.ExpiresInMinutes)
	default:
		return mailer.Email{}, fmt.Errorf("unknown notification kind %q", n.Kind)
	}
}
