package services

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/headless-cms/authserver/internal/metrics"
	"github.com/samber/oops"
)

// NotificationChannel is the broker channel the worker consumes.
const NotificationChannel = "auth-notifications"

// Notification kinds.
const (
	NotificationOTP       = "otp"
	NotificationMagicLink = "magic_link"
)

// Notification is a sign-in secret to be delivered to an email address.
type Notification struct {
	Kind             string `json:"kind"`
	Email            string `json:"email"`
	Code             string `json:"code,omitempty"`
	Link             string `json:"link,omitempty"`
	ExpiresInMinutes int    `json:"expiresInMinutes"`
}

// Notifier delivers notifications to users.
type Notifier interface {
	Notify(ctx context.Context, n Notification) error
}

// Publisher is the broker surface QueueNotifier needs.
type Publisher interface {
	Publish(ctx context.Context, channel string, data []byte, attrs map[string]string) (string, error)
}

// QueueNotifier hands notifications to the worker through the message broker.
type QueueNotifier struct {
	publisher Publisher
	channel   string
}

func NewQueueNotifier(publisher Publisher) *QueueNotifier {
	return &QueueNotifier{publisher: publisher, channel: NotificationChannel}
}

func (q *QueueNotifier) Notify(ctx context.Context, n Notification) error {
	data, err := json.Marshal(n)
	if err != nil {
		return oops.Code("AUTH_NOTIFY_FAILED").With("kind", n.Kind).Wrap(err)
	}
	if _, err := q.publisher.Publish(ctx, q.channel, data, map[string]string{"kind": n.Kind}); err != nil {
		metrics.RecordNotification(n.Kind, metrics.OutcomeFailure)
		return oops.Code("AUTH_NOTIFY_FAILED").
			With("kind", n.Kind).
			With("channel", q.channel).
			Wrap(err)
	}
	metrics.RecordNotification(n.Kind, metrics.OutcomeSuccess)
	return nil
}

// LogNotifier writes notifications to the log when no broker is configured.
// The code or link is only logged when revealSecrets is set.
type LogNotifier struct {
	logger        *slog.Logger
	revealSecrets bool
}

func NewLogNotifier(logger *slog.Logger, revealSecrets bool) *LogNotifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogNotifier{logger: logger, revealSecrets: revealSecrets}
}

func (l *LogNotifier) Notify(ctx context.Context, n Notification) error {
	attrs := []any{"kind", n.Kind, "email", n.Email, "expires_in_minutes", n.ExpiresInMinutes}
	if l.revealSecrets {
		if n.Code != "" {
			attrs = append(attrs, "code", n.Code)
		}
		if n.Link != "" {
			attrs = append(attrs, "link", n.Link)
		}
	}
	l.logger.InfoContext(ctx, "notification not delivered: no broker configured", attrs...)
	metrics.RecordNotification(n.Kind, metrics.OutcomeSuccess)
	return nil
}
