package transport

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/smtp"
	"strconv"

	"github.com/campora/courier/internal/compose"
	"github.com/campora/courier/internal/config"
)

// SMTP delivers messages over SMTP with plain, STARTTLS, or TLS connections.
type SMTP struct {
	cfg     config.SMTPConfig
	lastErr string
}

// NewSMTP creates the SMTP transport.
func NewSMTP(cfg config.SMTPConfig) *SMTP {
	return &SMTP{cfg: cfg}
}

// LastError returns the error string of the most recent failed send.
func (t *SMTP) LastError() string {
	return t.lastErr
}

// Send encodes, optionally signs, and delivers the message. The envelope
// sender is the message's bounce-handling address, not the visible From.
func (t *SMTP) Send(ctx context.Context, msg *compose.Message) error {
	if err := ctx.Err(); err != nil {
		t.lastErr = err.Error()
		return err
	}

	raw, err := Encode(msg)
	if err != nil {
		t.lastErr = err.Error()
		return err
	}
	raw = maybeSign(raw, msg.Signing)

	rcpts := make([]string, 0, len(msg.Recipients))
	for _, r := range msg.Recipients {
		rcpts = append(rcpts, r.Email)
	}

	if err := t.deliver(raw, msg.EnvelopeFrom, rcpts); err != nil {
		t.lastErr = err.Error()
		return err
	}
	t.lastErr = ""
	return nil
}

func (t *SMTP) deliver(raw []byte, from string, rcpts []string) error {
	addr := net.JoinHostPort(t.cfg.Host, strconv.Itoa(t.cfg.Port))

	switch t.cfg.TLSMode {
	case "tls":
		conn, err := tls.Dial("tcp", addr, &tls.Config{ServerName: t.cfg.Host})
		if err != nil {
			return fmt.Errorf("smtp tls dial: %w", err)
		}
		defer conn.Close()
		c, err := smtp.NewClient(conn, t.cfg.Host)
		if err != nil {
			return fmt.Errorf("smtp client: %w", err)
		}
		defer c.Close()
		return t.transaction(c, raw, from, rcpts)

	case "starttls":
		c, err := smtp.Dial(addr)
		if err != nil {
			return fmt.Errorf("smtp dial: %w", err)
		}
		defer c.Close()
		if err := c.StartTLS(&tls.Config{ServerName: t.cfg.Host}); err != nil {
			return fmt.Errorf("smtp starttls: %w", err)
		}
		return t.transaction(c, raw, from, rcpts)

	default:
		c, err := smtp.Dial(addr)
		if err != nil {
			return fmt.Errorf("smtp dial: %w", err)
		}
		defer c.Close()
		return t.transaction(c, raw, from, rcpts)
	}
}

func (t *SMTP) transaction(c *smtp.Client, raw []byte, from string, rcpts []string) error {
	if t.cfg.User != "" {
		auth := smtp.PlainAuth("", t.cfg.User, t.cfg.Password, t.cfg.Host)
		if err := c.Auth(auth); err != nil {
			return fmt.Errorf("smtp auth: %w", err)
		}
	}
	if err := c.Mail(from); err != nil {
		return fmt.Errorf("smtp mail from: %w", err)
	}
	for _, rcpt := range rcpts {
		if err := c.Rcpt(rcpt); err != nil {
			return fmt.Errorf("smtp rcpt %s: %w", rcpt, err)
		}
	}
	w, err := c.Data()
	if err != nil {
		return fmt.Errorf("smtp data: %w", err)
	}
	if _, err := w.Write(raw); err != nil {
		_ = w.Close()
		return fmt.Errorf("smtp write: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("smtp close data: %w", err)
	}
	// Quit errors are non-fatal; some servers drop the connection after DATA.
	_ = c.Quit()
	return nil
}
