package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

const emailAccountColumns = `
	id, user_id, email, COALESCE(name, ''), COALESCE(imap_host, ''), imap_port, imap_secure,
	COALESCE(smtp_host, ''), smtp_port, smtp_secure, COALESCE(password, ''), is_active,
	last_sync_at, COALESCE(sync_error, ''), created_at, updated_at`

func scanEmailAccount(row rowScanner) (EmailAccount, error) {
	var a EmailAccount
	var lastSync sql.NullTime
	err := row.Scan(&a.ID, &a.UserID, &a.Email, &a.Name, &a.IMAPHost, &a.IMAPPort, &a.IMAPSecure,
		&a.SMTPHost, &a.SMTPPort, &a.SMTPSecure, &a.Password, &a.IsActive,
		&lastSync, &a.SyncError, &a.CreatedAt, &a.UpdatedAt)
	a.LastSyncAt = timePtr(lastSync)
	return a, err
}

// CreateEmailAccount expects Password to be encrypted already.
func (s *PostgresStore) CreateEmailAccount(ctx context.Context, a EmailAccount) error {
	_, err := s.q.ExecContext(ctx, `
		INSERT INTO email_accounts (
			id, user_id, email, name, imap_host, imap_port, imap_secure,
			smtp_host, smtp_port, smtp_secure, password, is_active
		) VALUES ($1, $2, $3, NULLIF($4, ''), NULLIF($5, ''), $6, $7, NULLIF($8, ''), $9, $10, NULLIF($11, ''), $12)
	`, a.ID, a.UserID, a.Email, a.Name, a.IMAPHost, a.IMAPPort, a.IMAPSecure,
		a.SMTPHost, a.SMTPPort, a.SMTPSecure, a.Password, a.IsActive)
	if err != nil {
		return fmt.Errorf("insert email account: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetEmailAccount(ctx context.Context, userID, id string) (EmailAccount, error) {
	a, err := scanEmailAccount(s.q.QueryRowContext(ctx, `
		SELECT `+emailAccountColumns+` FROM email_accounts WHERE user_id=$1 AND id=$2
	`, userID, id))
	if err != nil {
		return EmailAccount{}, fmt.Errorf("get email account: %w", err)
	}
	return a, nil
}

func (s *PostgresStore) ListEmailAccounts(ctx context.Context, userID string, activeOnly bool) ([]EmailAccount, error) {
	rows, err := s.q.QueryContext(ctx, `
		SELECT `+emailAccountColumns+` FROM email_accounts
		WHERE user_id=$1 AND ($2 = FALSE OR is_active)
		ORDER BY created_at
	`, userID, activeOnly)
	if err != nil {
		return nil, fmt.Errorf("list email accounts: %w", err)
	}
	defer rows.Close()

	items := make([]EmailAccount, 0)
	for rows.Next() {
		a, err := scanEmailAccount(rows)
		if err != nil {
			return nil, fmt.Errorf("scan email account: %w", err)
		}
		items = append(items, a)
	}
	return items, rows.Err()
}

func (s *PostgresStore) DeleteEmailAccount(ctx context.Context, userID, id string) error {
	res, err := s.q.ExecContext(ctx, `DELETE FROM email_accounts WHERE user_id=$1 AND id=$2`, userID, id)
	if err != nil {
		return fmt.Errorf("delete email account: %w", err)
	}
	return requireAffected(res, "delete email account")
}

// RecordSyncResult stores the outcome of a sync. A nil lastSyncAt keeps the old value.
func (s *PostgresStore) RecordSyncResult(ctx context.Context, id string, lastSyncAt *time.Time, syncError string) error {
	_, err := s.q.ExecContext(ctx, `
		UPDATE email_accounts SET
			last_sync_at=COALESCE($2, last_sync_at), sync_error=NULLIF($3, ''), updated_at=NOW()
		WHERE id=$1
	`, id, lastSyncAt, syncError)
	if err != nil {
		return fmt.Errorf("record sync result: %w", err)
	}
	return nil
}

const emailColumns = `
	id, account_id, message_id, COALESCE(in_reply_to, ''), direction, status, from_email, COALESCE(from_name, ''),
	to_addresses, cc_addresses, bcc_addresses, COALESCE(subject, ''), COALESCE(body_html, ''), COALESCE(body_text, ''),
	COALESCE(snippet, ''), is_read, is_starred, is_archived, COALESCE(contact_id, ''), COALESCE(user_id, ''),
	received_at, sent_at, created_at`

func scanEmail(row rowScanner) (Email, error) {
	var e Email
	var to, cc, bcc []byte
	var receivedAt, sentAt sql.NullTime
	err := row.Scan(&e.ID, &e.AccountID, &e.MessageID, &e.InReplyTo, &e.Direction, &e.Status, &e.FromEmail, &e.FromName,
		&to, &cc, &bcc, &e.Subject, &e.BodyHTML, &e.BodyText,
		&e.Snippet, &e.IsRead, &e.IsStarred, &e.IsArchived, &e.ContactID, &e.UserID,
		&receivedAt, &sentAt, &e.CreatedAt)
	if err != nil {
		return Email{}, err
	}
	e.ReceivedAt = timePtr(receivedAt)
	e.SentAt = timePtr(sentAt)
	e.To = decodeAddresses(to)
	e.Cc = decodeAddresses(cc)
	e.Bcc = decodeAddresses(bcc)
	if e.To == nil {
		e.To = make([]EmailAddress, 0)
	}
	return e, nil
}

func decodeAddresses(raw []byte) []EmailAddress {
	if len(raw) == 0 {
		return nil
	}
	var out []EmailAddress
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil
	}
	return out
}

func encodeAddresses(list []EmailAddress) any {
	if len(list) == 0 {
		return nil
	}
	raw, err := json.Marshal(list)
	if err != nil {
		return nil
	}
	return string(raw)
}

func (s *PostgresStore) EmailExists(ctx context.Context, messageID string) (bool, error) {
	var exists bool
	if err := s.q.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM emails WHERE message_id=$1)`, messageID).Scan(&exists); err != nil {
		return false, fmt.Errorf("check email exists: %w", err)
	}
	return exists, nil
}

func (s *PostgresStore) InsertEmail(ctx context.Context, e Email) error {
	to := encodeAddresses(e.To)
	if to == nil {
		to = "[]"
	}
	_, err := s.q.ExecContext(ctx, `
		INSERT INTO emails (
			id, account_id, message_id, in_reply_to, direction, status, from_email, from_name,
			to_addresses, cc_addresses, bcc_addresses, subject, body_html, body_text, snippet,
			is_read, contact_id, user_id, received_at, sent_at
		) VALUES (
			$1, $2, $3, NULLIF($4, ''), $5, $6, $7, NULLIF($8, ''),
			$9, $10, $11, NULLIF($12, ''), NULLIF($13, ''), NULLIF($14, ''), NULLIF($15, ''),
			$16, NULLIF($17, ''), NULLIF($18, ''), $19, $20
		)
	`, e.ID, e.AccountID, e.MessageID, e.InReplyTo, e.Direction, e.Status, e.FromEmail, e.FromName,
		to, encodeAddresses(e.Cc), encodeAddresses(e.Bcc), e.Subject, e.BodyHTML, e.BodyText, e.Snippet,
		e.IsRead, e.ContactID, e.UserID, e.ReceivedAt, e.SentAt)
	if err != nil {
		return fmt.Errorf("insert email: %w", err)
	}
	return nil
}

func (s *PostgresStore) InsertEmailAttachment(ctx context.Context, a EmailAttachment) error {
	_, err := s.q.ExecContext(ctx, `
		INSERT INTO email_attachments (id, email_id, file_name, mime_type, size, object_key)
		VALUES ($1, $2, $3, NULLIF($4, ''), $5, NULLIF($6, ''))
	`, a.ID, a.EmailID, a.FileName, a.MimeType, a.Size, a.ObjectKey)
	if err != nil {
		return fmt.Errorf("insert email attachment: %w", err)
	}
	return nil
}

// GetEmail is scoped to the accounts owned by userID.
func (s *PostgresStore) GetEmail(ctx context.Context, userID, id string) (Email, error) {
	e, err := scanEmail(s.q.QueryRowContext(ctx, `
		SELECT `+emailColumns+` FROM emails
		WHERE id=$2 AND account_id IN (SELECT id FROM email_accounts WHERE user_id=$1)
	`, userID, id))
	if err != nil {
		return Email{}, fmt.Errorf("get email: %w", err)
	}
	attachments, err := s.listEmailAttachments(ctx, id)
	if err != nil {
		return Email{}, err
	}
	e.Attachments = attachments
	return e, nil
}

func (s *PostgresStore) listEmailAttachments(ctx context.Context, emailID string) ([]EmailAttachment, error) {
	rows, err := s.q.QueryContext(ctx, `
		SELECT id, email_id, file_name, COALESCE(mime_type, ''), size, COALESCE(object_key, '')
		FROM email_attachments WHERE email_id=$1 ORDER BY file_name
	`, emailID)
	if err != nil {
		return nil, fmt.Errorf("list email attachments: %w", err)
	}
	defer rows.Close()

	items := make([]EmailAttachment, 0)
	for rows.Next() {
		var a EmailAttachment
		if err := rows.Scan(&a.ID, &a.EmailID, &a.FileName, &a.MimeType, &a.Size, &a.ObjectKey); err != nil {
			return nil, fmt.Errorf("scan email attachment: %w", err)
		}
		items = append(items, a)
	}
	return items, rows.Err()
}

func (s *PostgresStore) ListEmails(ctx context.Context, userID string, filter EmailFilter) ([]Email, int, error) {
	args := []any{userID, filter.Archived}
	where := []string{
		"account_id IN (SELECT id FROM email_accounts WHERE user_id=$1)",
		"is_archived = $2",
	}
	if filter.AccountID != "" {
		args = append(args, filter.AccountID)
		where = append(where, fmt.Sprintf("account_id = $%d", len(args)))
	}
	if filter.Direction != "" {
		args = append(args, filter.Direction)
		where = append(where, fmt.Sprintf("direction = $%d", len(args)))
	}
	if filter.Starred != nil {
		args = append(args, *filter.Starred)
		where = append(where, fmt.Sprintf("is_starred = $%d", len(args)))
	}
	if filter.ContactID != "" {
		args = append(args, filter.ContactID)
		where = append(where, fmt.Sprintf("contact_id = $%d", len(args)))
	}
	clause := " WHERE " + strings.Join(where, " AND ")

	var total int
	if err := s.q.QueryRowContext(ctx, `SELECT COUNT(*) FROM emails`+clause, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count emails: %w", err)
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = 20
	}
	args = append(args, limit, filter.Offset)
	query := `SELECT ` + emailColumns + ` FROM emails` + clause +
		fmt.Sprintf(" ORDER BY COALESCE(received_at, sent_at, created_at) DESC LIMIT $%d OFFSET $%d", len(args)-1, len(args))

	items, err := s.queryEmails(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	return items, total, nil
}

func (s *PostgresStore) ListContactEmails(ctx context.Context, contactID string, limit int) ([]Email, error) {
	return s.queryEmails(ctx, `
		SELECT `+emailColumns+` FROM emails WHERE contact_id=$1
		ORDER BY COALESCE(received_at, sent_at, created_at) DESC LIMIT $2
	`, contactID, limit)
}

func (s *PostgresStore) queryEmails(ctx context.Context, query string, args ...any) ([]Email, error) {
	rows, err := s.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list emails: %w", err)
	}
	defer rows.Close()

	items := make([]Email, 0)
	for rows.Next() {
		e, err := scanEmail(rows)
		if err != nil {
			return nil, fmt.Errorf("scan email: %w", err)
		}
		items = append(items, e)
	}
	return items, rows.Err()
}

// SetEmailFlag updates one of is_read, is_starred or is_archived.
func (s *PostgresStore) SetEmailFlag(ctx context.Context, userID, id, flag string, value bool) error {
	var column string
	switch flag {
	case "read":
		column = "is_read"
	case "starred":
		column = "is_starred"
	case "archived":
		column = "is_archived"
	default:
		return fmt.Errorf("unknown email flag %q", flag)
	}
	res, err := s.q.ExecContext(ctx, `
		UPDATE emails SET `+column+`=$3
		WHERE id=$2 AND account_id IN (SELECT id FROM email_accounts WHERE user_id=$1)
	`, userID, id, value)
	if err != nil {
		return fmt.Errorf("update email %s: %w", flag, err)
	}
	return requireAffected(res, "update email "+flag)
}

func (s *PostgresStore) DeleteEmail(ctx context.Context, userID, id string) error {
	res, err := s.q.ExecContext(ctx, `
		DELETE FROM emails WHERE id=$2 AND account_id IN (SELECT id FROM email_accounts WHERE user_id=$1)
	`, userID, id)
	if err != nil {
		return fmt.Errorf("delete email: %w", err)
	}
	return requireAffected(res, "delete email")
}

// LinkEmailsFromSender attaches every unlinked email from sender to contactID.
func (s *PostgresStore) LinkEmailsFromSender(ctx context.Context, sender, contactID string) (int, error) {
	res, err := s.q.ExecContext(ctx, `
		UPDATE emails SET contact_id=$2 WHERE LOWER(from_email)=LOWER($1) AND contact_id IS NULL
	`, sender, contactID)
	if err != nil {
		return 0, fmt.Errorf("link emails: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("link emails: %w", err)
	}
	return int(n), nil
}
