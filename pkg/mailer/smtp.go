/**
 * @description
 * SMTP delivery for reminder emails. Every send is bounded by the caller's
 * context: the dial honors it and the connection is closed when it ends.
 */
package mailer

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log"
	"mime"
	"net"
	"net/smtp"
	"strings"
	"time"
)

// Config holds the SMTP connection settings.
type Config struct {
	Host     string
	Port     string
	Username string
	Password string
	Sender   string
}

// SMTPMailer sends HTML emails through an SMTP relay.
type SMTPMailer struct {
	cfg Config
}

// NewSMTPMailer creates a mailer. A missing sender falls back to a no-reply
// address on the SMTP host.
func NewSMTPMailer(cfg Config) *SMTPMailer {
	if cfg.Port == "" {
		cfg.Port = "587"
	}
	if cfg.Sender == "" {
		host := cfg.Host
		if host == "" {
			host = "localhost"
		}
		cfg.Sender = fmt.Sprintf("no-reply@%s", host)
		log.Printf("SMTP_SENDER not set, using default sender: %s", cfg.Sender)
	}
	return &SMTPMailer{cfg: cfg}
}

// SendEmail delivers one HTML message to a single recipient.
func (m *SMTPMailer) SendEmail(ctx context.Context, to, subject, htmlBody string) error {
	if strings.TrimSpace(m.cfg.Host) == "" {
		return errors.New("smtp host is not configured")
	}
	to = strings.TrimSpace(to)
	if to == "" || strings.ContainsAny(to, "\r\n") {
		return fmt.Errorf("invalid recipient %q", to)
	}

	addr := net.JoinHostPort(m.cfg.Host, m.cfg.Port)
	var dialer net.Dialer
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("smtp dial %s: %w", addr, err)
	}
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	client, err := smtp.NewClient(conn, m.cfg.Host)
	if err != nil {
		_ = conn.Close()
		return m.wrapErr(ctx, "handshake", err)
	}
	defer client.Close()

	if ok, _ := client.Extension("STARTTLS"); ok {
		if err := client.StartTLS(&tls.Config{ServerName: m.cfg.Host}); err != nil {
			return m.wrapErr(ctx, "starttls", err)
		}
	}
	if m.cfg.Username != "" && m.cfg.Password != "" {
		if err := client.Auth(smtp.PlainAuth("", m.cfg.Username, m.cfg.Password, m.cfg.Host)); err != nil {
			return m.wrapErr(ctx, "auth", err)
		}
	}
	if err := client.Mail(m.cfg.Sender); err != nil {
		return m.wrapErr(ctx, "mail from", err)
	}
	if err := client.Rcpt(to); err != nil {
		return m.wrapErr(ctx, "rcpt to", err)
	}

	w, err := client.Data()
	if err != nil {
		return m.wrapErr(ctx, "data", err)
	}
	if _, err := w.Write(buildMessage(m.cfg.Sender, to, subject, htmlBody, time.Now())); err != nil {
		return m.wrapErr(ctx, "write body", err)
	}
	if err := w.Close(); err != nil {
		return m.wrapErr(ctx, "end data", err)
	}

	if err := client.Quit(); err != nil {
		log.Printf("WARN: smtp quit after delivery to %s failed: %v", to, err)
	}
	return nil
}

// wrapErr prefers the context error when the deadline or cancellation is what
// broke the exchange.
func (m *SMTPMailer) wrapErr(ctx context.Context, step string, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return fmt.Errorf("smtp %s: %w (%v)", step, ctxErr, err)
	}
	return fmt.Errorf("smtp %s: %w", step, err)
}

func buildMessage(from, to, subject, htmlBody string, now time.Time) []byte {
	var b strings.Builder
	fmt.Fprintf(&b, "From: %s\r\n", from)
	fmt.Fprintf(&b, "To: %s\r\n", to)
	fmt.Fprintf(&b, "Subject: %s\r\n", mime.QEncoding.Encode("utf-8", subject))
	fmt.Fprintf(&b, "Date: %s\r\n", now.Format(time.RFC1123Z))
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/html; charset=UTF-8\r\n\r\n")
	b.WriteString(htmlBody)
	return []byte(b.String())
}
