package email

import (
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"mime"
	"mime/multipart"
	"mime/quotedprintable"
	"net"
	"net/smtp"
	"net/textproto"
	"strconv"
	"time"

	"vaccinealert/internal/domain"
)

// SMTPConfig holds configuration for an SMTP relay.
type SMTPConfig struct {
	Host               string
	Port               int
	Username           string
	Password           string
	DisableStartTLS    bool
	InsecureSkipVerify bool
}

type smtpMailer struct {
	cfg         SMTPConfig
	fromAddress string
	fromName    string
	logger      *slog.Logger
	now         func() time.Time
}

// NewSMTPMailer returns a Mailer that opens a fresh, authenticated SMTP
// session for every message and closes it before returning.
func NewSMTPMailer(cfg SMTPConfig, fromAddress, fromName string, logger *slog.Logger) (domain.Mailer, error) {
	if cfg.Host == "" {
		return nil, errors.New("smtp mailer: host is required")
	}
	if fromAddress == "" {
		return nil, errors.New("smtp mailer: from address is required")
	}
	if cfg.Port == 0 {
		cfg.Port = 587
	}
	return &smtpMailer{
		cfg:         cfg,
		fromAddress: fromAddress,
		fromName:    fromName,
		logger:      logger,
		now:         time.Now,
	}, nil
}

func (m *smtpMailer) Send(ctx context.Context, to, subject, html, text string) error {
	msg, err := buildMessage(formatFrom(m.fromName, m.fromAddress), to, subject, html, text, m.now())
	if err != nil {
		return fmt.Errorf("build message: %w", err)
	}

	addr := net.JoinHostPort(m.cfg.Host, strconv.Itoa(m.cfg.Port))
	var dialer net.Dialer
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("smtp dial %s: %w", addr, err)
	}
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}

	client, err := smtp.NewClient(conn, m.cfg.Host)
	if err != nil {
		conn.Close()
		return fmt.Errorf("smtp handshake: %w", err)
	}
	defer client.Close()

	if ok, _ := client.Extension("STARTTLS"); ok && !m.cfg.DisableStartTLS {
		tlsCfg := &tls.Config{
			ServerName:         m.cfg.Host,
			InsecureSkipVerify: m.cfg.InsecureSkipVerify,
			MinVersion:         tls.VersionTLS12,
		}
		if err := client.StartTLS(tlsCfg); err != nil {
			return fmt.Errorf("smtp starttls: %w", err)
		}
	}
	if m.cfg.Username != "" {
		if ok, _ := client.Extension("AUTH"); !ok {
			return errors.New("smtp server does not support AUTH")
		}
		if err := client.Auth(smtp.PlainAuth("", m.cfg.Username, m.cfg.Password, m.cfg.Host)); err != nil {
			return fmt.Errorf("smtp auth: %w", err)
		}
	}
	if err := client.Mail(m.fromAddress); err != nil {
		return fmt.Errorf("smtp mail from: %w", err)
	}
	if err := client.Rcpt(to); err != nil {
		return fmt.Errorf("smtp rcpt %s: %w", to, err)
	}
	w, err := client.Data()
	if err != nil {
		return fmt.Errorf("smtp data: %w", err)
	}
	if _, err := w.Write(msg); err != nil {
		w.Close()
		return fmt.Errorf("smtp write body: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("smtp end data: %w", err)
	}
	if err := client.Quit(); err != nil {
		m.logger.DebugContext(ctx, "smtp quit failed", "err", err)
	}
	m.logger.DebugContext(ctx, "email sent via SMTP", "to", to, "relay", addr)
	return nil
}

// buildMessage renders a multipart/alternative message with quoted-printable parts.
func buildMessage(from, to, subject, html, text string, date time.Time) ([]byte, error) {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	parts := []struct {
		contentType string
		content     string
	}{
		{"text/plain; charset=UTF-8", text},
		{"text/html; charset=UTF-8", html},
	}
	for _, p := range parts {
		if p.content == "" {
			continue
		}
		pw, err := mw.CreatePart(textproto.MIMEHeader{
			"Content-Type":              {p.contentType},
			"Content-Transfer-Encoding": {"quoted-printable"},
		})
		if err != nil {
			return nil, err
		}
		qp := quotedprintable.NewWriter(pw)
		if _, err := qp.Write([]byte(p.content)); err != nil {
			return nil, err
		}
		if err := qp.Close(); err != nil {
			return nil, err
		}
	}
	if err := mw.Close(); err != nil {
		return nil, err
	}

	var msg bytes.Buffer
	fmt.Fprintf(&msg, "From: %s\r\n", from)
	fmt.Fprintf(&msg, "To: %s\r\n", to)
	fmt.Fprintf(&msg, "Subject: %s\r\n", mime.QEncoding.Encode("utf-8", subject))
	fmt.Fprintf(&msg, "Date: %s\r\n", date.Format(time.RFC1123Z))
	msg.WriteString("MIME-Version: 1.0\r\n")
	fmt.Fprintf(&msg, "Content-Type: multipart/alternative; boundary=%q\r\n", mw.Boundary())
	msg.WriteString("\r\n")
	msg.Write(body.Bytes())
	return msg.Bytes(), nil
}
