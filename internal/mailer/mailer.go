// Package mailer renders and sends the sign-in emails.
package mailer

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"net/smtp"
	"strconv"
	"strings"
	"text/template"
	"time"

	"github.com/google/uuid"
	"github.com/headless-cms/authserver/config"
)

// SendFunc delivers a fully rendered message. It matches smtp.SendMail.
type SendFunc func(addr string, auth smtp.Auth, from string, to []string, msg []byte) error

// Email is one rendered message.
type Email struct {
	To      string
	Subject string
	Body    string
}

var (
	otpTemplate = template.Must(template.New("otp").Parse(`Your sign-in code is {{.Code}}

It expires in {{.ExpiresInMinutes}} minutes. If you did not request it, ignore this email.
`))
	magicLinkTemplate = template.Must(template.New("magic_link").Parse(`Sign in by opening the link below:

{{.Link}}

The link expires in {{.ExpiresInMinutes}} minutes and can be used once.
`))
)

// OTPEmail renders the one-time code email.
func OTPEmail(to, code string, expiresInMinutes int) (Email, error) {
	var body bytes.Buffer
	err := otpTemplate.Execute(&body, struct {
		Code             string
		ExpiresInMinutes int
	}{code, expiresInMinutes})
	if err != nil {
		return Email{}, fmt.Errorf("render otp email: %w", err)
	}
	return Email{To: to, Subject: "Your sign-in code", Body: body.String()}, nil
}

// MagicLinkEmail renders the magic-link email.
func MagicLinkEmail(to, link string, expiresInMinutes int) (Email, error) {
	var body bytes.Buffer
	err := magicLinkTemplate.Execute(&body, struct {
		Link             string
		ExpiresInMinutes int
	}{link, expiresInMinutes})
	if err != nil {
		return Email{}, fmt.Errorf("render magic link email: %w", err)
	}
	return Email{To: to, Subject: "Your sign-in link", Body: body.String()}, nil
}

// Mailer sends Email values through an SMTP relay.
type Mailer struct {
	addr    string
	host    string
	from    string
	auth    smtp.Auth
	timeout time.Duration
	send    SendFunc
	now     func() time.Time
}

type Option func(*Mailer)

// WithSendFunc replaces smtp.SendMail, mainly for tests.
func WithSendFunc(send SendFunc) Option {
	return func(m *Mailer) {
		m.send = send
	}
}

func WithClock(now func() time.Time) Option {
	return func(m *Mailer) {
		m.now = now
	}
}

func New(cfg config.SMTPConfig, opts ...Option) (*Mailer, error) {
	if strings.TrimSpace(cfg.Host) == "" {
		return nil, errors.New("smtp host is required")
	}
	if strings.TrimSpace(cfg.From) == "" {
		return nil, errors.New("smtp from address is required")
	}

	m := &Mailer{
		addr:    net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port)),
		host:    cfg.Host,
		from:    cfg.From,
		timeout: cfg.Timeout,
		send:    smtp.SendMail,
		now:     time.Now,
	}
	if cfg.Username != "" {
		m.auth = smtp.PlainAuth("", cfg.Username, cfg.Password, cfg.Host)
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// Send delivers e. smtp.SendMail is not context aware, so cancellation
// only stops the wait; the send itself is bounded by the configured timeout.
func (m *Mailer) Send(ctx context.Context, e Email) error {
	if strings.ContainsAny(e.To, "\r\n") || strings.ContainsAny(e.Subject, "\r\n") {
		return errors.New("mailer: header contains line break")
	}

	msg := m.render(e)
	done := make(chan error, 1)
	go func() {
		done <- m.send(m.addr, m.auth, m.from, []string{e.To}, msg)
	}()

	var timeout <-chan time.Time
	if m.timeout > 0 {
		timer := time.NewTimer(m.timeout)
		defer timer.Stop()
		timeout = timer.C
	}

	select {
	case err := <-done:
		if err != nil {
			return fmt.Errorf("send mail via %s: %w", m.addr, err)
		}
		return nil
	case <-timeout:
		return fmt.Errorf("send mail via %s: timed out after %s", m.addr, m.timeout)
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (m *Mailer) render(e Email) []byte {
	var b bytes.Buffer
	fmt.Fprintf(&b, "From: %s\r\n", m.from)
	fmt.Fprintf(&b, "To: %s\r\n", e.To)
	fmt.Fprintf(&b, "Subject: %s\r\n", e.Subject)
	fmt.Fprintf(&b, "Date: %s\r\n", m.now().UTC().Format(time.RFC1123Z))
	fmt.Fprintf(&b, "Message-ID: <%s@%s>\r\n", uuid.NewString(), m.host)
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/plain; charset=UTF-8\r\n")
	b.WriteString("\r\n")
	b.WriteString(strings.ReplaceAll(e.Body, "\n", "\r\n"))
	return b.Bytes()
}
