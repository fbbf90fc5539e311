package email

import (
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"net/smtp"
	"strconv"
	"time"
)

var ErrSMTPNotConfigured = errors.New("SMTP not configured for this account")

// SMTPAccount is the connection data for one outgoing mailbox.
type SMTPAccount struct {
	Host     string
	Port     int
	Secure   bool
	Username string
	Password string
}

func (a SMTPAccount) configured() bool {
	return a.Host != "" && a.Port > 0 && a.Password != ""
}

// Sender delivers a composed message and returns its Message-ID.
type Sender interface {
	Send(ctx context.Context, account SMTPAccount, msg Outgoing) (string, error)
}

// SMTPSender sends mail over net/smtp. Port 465 with Secure uses implicit
// TLS; other ports upgrade with STARTTLS when the server offers it.
type SMTPSender struct {
	DialTimeout     time.Duration
	GreetingTimeout time.Duration
	// Timeout bounds the whole session when ctx has no deadline.
	Timeout time.Duration
}

func NewSMTPSender(timeout time.Duration) *SMTPSender {
	return &SMTPSender{
		DialTimeout:     8 * time.Second,
		GreetingTimeout: 5 * time.Second,
		Timeout:         timeout,
	}
}

func (s *SMTPSender) Send(ctx context.Context, account SMTPAccount, msg Outgoing) (string, error) {
	if !account.configured() {
		return "", ErrSMTPNotConfigured
	}
	recipients := msg.Recipients()
	if len(recipients) == 0 {
		return "", errors.New("no recipients")
	}
	raw, messageID, err := Compose(msg)
	if err != nil {
		return "", err
	}

	addr := net.JoinHostPort(account.Host, strconv.Itoa(account.Port))
	dialer := &net.Dialer{Timeout: s.DialTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return "", fmt.Errorf("connect %s: %w", addr, err)
	}
	defer conn.Close()

	tlsConfig := &tls.Config{ServerName: account.Host, MinVersion: tls.VersionTLS12}
	implicitTLS := account.Secure && account.Port == 465
	if implicitTLS {
		tlsConn := tls.Client(conn, tlsConfig)
		_ = tlsConn.SetDeadline(time.Now().Add(s.DialTimeout))
		if err := tlsConn.HandshakeContext(ctx); err != nil {
			return "", fmt.Errorf("tls handshake: %w", err)
		}
		conn = tlsConn
	}

	_ = conn.SetDeadline(time.Now().Add(s.GreetingTimeout))
	c, err := smtp.NewClient(conn, account.Host)
	if err != nil {
		return "", fmt.Errorf("smtp greeting: %w", err)
	}
	defer c.Close()
	_ = conn.SetDeadline(s.sessionDeadline(ctx))

	if !implicitTLS {
		if ok, _ := c.Extension("STARTTLS"); ok {
			if err := c.StartTLS(tlsConfig); err != nil {
				return "", fmt.Errorf("starttls: %w", err)
			}
		}
	}
	if ok, _ := c.Extension("AUTH"); ok {
		username := account.Username
		if username == "" {
			username = msg.From.Email
		}
		if err := c.Auth(smtp.PlainAuth("", username, account.Password, account.Host)); err != nil {
			return "", fmt.Errorf("smtp auth: %w", err)
		}
	}

	if err := c.Mail(msg.From.Email); err != nil {
		return "", fmt.Errorf("smtp mail from: %w", err)
	}
	for _, rcpt := range recipients {
		if err := c.Rcpt(rcpt); err != nil {
			return "", fmt.Errorf("smtp rcpt %s: %w", rcpt, err)
		}
	}
	w, err := c.Data()
	if err != nil {
		return "", fmt.Errorf("smtp data: %w", err)
	}
	if _, err := bytes.NewReader(raw).WriteTo(w); err != nil {
		return "", fmt.Errorf("smtp write: %w", err)
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("smtp data close: %w", err)
	}
	if err := c.Quit(); err != nil {
		return "", fmt.Errorf("smtp quit: %w", err)
	}
	return messageID, nil
}

func (s *SMTPSender) sessionDeadline(ctx context.Context) time.Time {
	if deadline, ok := ctx.Deadline(); ok {
		return deadline
	}
	timeout := s.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return time.Now().Add(timeout)
}
