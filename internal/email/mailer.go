// Package email composes, sends and fetches mail for CRM accounts and
// sends system notifications such as signing invitations.
package email

import (
	"bytes"
	"context"
	"fmt"
	"html/template"
	"strconv"
)

// Config holds the system SMTP account used for notifications.
type Config struct {
	Host     string
	Port     string
	Username string
	Password string
	From     string
	FromName string
}

// Mailer sends system email through the configured account.
type Mailer struct {
	config Config
	sender Sender
}

func NewMailer(config Config, sender Sender) *Mailer {
	return &Mailer{config: config, sender: sender}
}

// IsConfigured returns true if email is configured
func (m *Mailer) IsConfigured() bool {
	return m.config.Host != "" && m.config.Port != "" && m.config.From != "" && m.sender != nil
}

func (m *Mailer) account() SMTPAccount {
	port, _ := strconv.Atoi(m.config.Port)
	return SMTPAccount{
		Host:     m.config.Host,
		Port:     port,
		Secure:   port == 465,
		Username: m.config.Username,
		Password: m.config.Password,
	}
}

// SendHTML sends an HTML message with a generated plain-text alternative.
func (m *Mailer) SendHTML(ctx context.Context, to []string, subject, htmlBody string) error {
	if !m.IsConfigured() {
		return fmt.Errorf("email not configured")
	}
	_, err := m.sender.Send(ctx, m.account(), Outgoing{
		From:    Address{Email: m.config.From, Name: m.config.FromName},
		To:      to,
		Subject: subject,
		HTML:    htmlBody,
	})
	return err
}

// InvitationData feeds the signing invitation template.
type InvitationData struct {
	AppName       string
	RecipientName string
	SenderName    string
	DocumentTitle string
	Message       string
	SigningURL    string
}

// SendSigningInvitation emails a recipient the link to their signing session.
func (m *Mailer) SendSigningInvitation(ctx context.Context, to string, data InvitationData) error {
	if data.AppName == "" {
		data.AppName = m.config.FromName
	}
	html, err := renderTemplate(signingInvitationTemplate, data)
	if err != nil {
		return fmt.Errorf("render invitation template: %w", err)
	}
	subject := fmt.Sprintf("Please sign: %s", data.DocumentTitle)
	return m.SendHTML(ctx, []string{to}, subject, html)
}

func renderTemplate(tmpl string, data interface{}) (string, error) {
	t, err := template.New("email").Parse(tmpl)
	if err != nil {
		return "", err
	}
	var buf bytes.Buffer
	if err := t.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

const signingInvitationTemplate = `<!DOCTYPE html>
<html>
<head>
    <meta charset="UTF-8">
    <title>{{.DocumentTitle}}</title>
    <style>
        body { font-family: -apple-system, BlinkMacSystemFont, 'Segoe UI', Roboto, sans-serif; line-height: 1.6; color: #333; max-width: 600px; margin: 0 auto; padding: 20px; }
        .header { border-bottom: 2px solid #0066cc; padding-bottom: 10px; margin-bottom: 20px; }
        .button { display: inline-block; padding: 12px 24px; background: #0066cc; color: white; text-decoration: none; border-radius: 4px; margin: 20px 0; }
        .message { background: #f5f5f5; padding: 12px; border-radius: 4px; margin: 20px 0; white-space: pre-wrap; }
        .footer { margin-top: 30px; padding-top: 20px; border-top: 1px solid #eee; font-size: 12px; color: #666; }
        .link { word-break: break-all; color: #0066cc; }
    </style>
</head>
<body>
    <div class="header">
        <h1>{{.AppName}}</h1>
    </div>

    <p>Hi {{.RecipientName}},</p>

    <p>{{if .SenderName}}{{.SenderName}} has sent you{{else}}You have been sent{{end}} <strong>{{.DocumentTitle}}</strong> to review and sign.</p>

    {{if .Message}}<div class="message">{{.Message}}</div>{{end}}

    <p>
        <a href="{{.SigningURL}}" class="button">Review Document</a>
    </p>

    <p>Or copy and paste this link into your browser:</p>
    <p class="link">{{.SigningURL}}</p>

    <div class="footer">
        <p>This link is personal to you. Do not forward this email.</p>
    </div>
</body>
</html>`
