package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

const documentColumns = `
	id, title, COALESCE(description, ''), status, COALESCE(contact_id, ''), COALESCE(loan_id, ''),
	COALESCE(message, ''), expires_at, sent_at, completed_at, COALESCE(owner_id, ''), created_at, updated_at`

func scanDocument(row rowScanner) (Document, error) {
	var d Document
	var expiresAt, sentAt, completedAt sql.NullTime
	err := row.Scan(&d.ID, &d.Title, &d.Description, &d.Status, &d.ContactID, &d.LoanID,
		&d.Message, &expiresAt, &sentAt, &completedAt, &d.OwnerID, &d.CreatedAt, &d.UpdatedAt)
	d.ExpiresAt = timePtr(expiresAt)
	d.SentAt = timePtr(sentAt)
	d.CompletedAt = timePtr(completedAt)
	return d, err
}

func (s *PostgresStore) CreateDocument(ctx context.Context, d Document) error {
	_, err := s.q.ExecContext(ctx, `
		INSERT INTO documents (id, title, description, status, contact_id, loan_id, message, expires_at, owner_id)
		VALUES ($1, $2, NULLIF($3, ''), $4, NULLIF($5, ''), NULLIF($6, ''), NULLIF($7, ''), $8, NULLIF($9, ''))
	`, d.ID, d.Title, d.Description, d.Status, d.ContactID, d.LoanID, d.Message, d.ExpiresAt, d.OwnerID)
	if err != nil {
		return fmt.Errorf("insert document: %w", err)
	}
	return nil
}

// UpdateDocument writes every mutable column, including status timestamps.
func (s *PostgresStore) UpdateDocument(ctx context.Context, d Document) error {
	res, err := s.q.ExecContext(ctx, `
		UPDATE documents SET
			title=$2, description=NULLIF($3, ''), status=$4, contact_id=NULLIF($5, ''), loan_id=NULLIF($6, ''),
			message=NULLIF($7, ''), expires_at=$8, sent_at=$9, completed_at=$10, updated_at=NOW()
		WHERE id=$1
	`, d.ID, d.Title, d.Description, d.Status, d.ContactID, d.LoanID, d.Message, d.ExpiresAt, d.SentAt, d.CompletedAt)
	if err != nil {
		return fmt.Errorf("update document: %w", err)
	}
	return requireAffected(res, "update document")
}

func (s *PostgresStore) GetDocument(ctx context.Context, id string) (Document, error) {
	d, err := scanDocument(s.q.QueryRowContext(ctx, `SELECT `+documentColumns+` FROM documents WHERE id=$1`, id))
	if err != nil {
		return Document{}, fmt.Errorf("get document: %w", err)
	}
	return d, nil
}

// GetDocumentForUpdate locks the row until the surrounding transaction ends.
func (s *PostgresStore) GetDocumentForUpdate(ctx context.Context, id string) (Document, error) {
	d, err := scanDocument(s.q.QueryRowContext(ctx, `SELECT `+documentColumns+` FROM documents WHERE id=$1 FOR UPDATE`, id))
	if err != nil {
		return Document{}, fmt.Errorf("lock document: %w", err)
	}
	return d, nil
}

func (s *PostgresStore) DeleteDocument(ctx context.Context, id string) error {
	res, err := s.q.ExecContext(ctx, `DELETE FROM documents WHERE id=$1`, id)
	if err != nil {
		return fmt.Errorf("delete document: %w", err)
	}
	return requireAffected(res, "delete document")
}

func (s *PostgresStore) ListDocuments(ctx context.Context, status, contactID string, limit, offset int) ([]Document, int, error) {
	const filter = ` WHERE ($1 = '' OR status = $1) AND ($2 = '' OR contact_id = $2)`
	var total int
	if err := s.q.QueryRowContext(ctx, `SELECT COUNT(*) FROM documents`+filter, status, contactID).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count documents: %w", err)
	}
	if limit <= 0 {
		limit = 1000
	}
	rows, err := s.q.QueryContext(ctx, `
		SELECT `+documentColumns+` FROM documents`+filter+`
		ORDER BY created_at DESC LIMIT $3 OFFSET $4
	`, status, contactID, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("list documents: %w", err)
	}
	defer rows.Close()

	items := make([]Document, 0)
	for rows.Next() {
		d, err := scanDocument(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan document: %w", err)
		}
		items = append(items, d)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("list documents: %w", err)
	}
	return items, total, nil
}

const recipientColumns = `
	id, document_id, name, email, role, status, sort_order, access_token, COALESCE(contact_id, ''),
	signed_at, viewed_at, declined_at, COALESCE(decline_reason, ''), COALESCE(ip_address, ''), created_at`

func scanRecipient(row rowScanner) (DocumentRecipient, error) {
	var r DocumentRecipient
	var signedAt, viewedAt, declinedAt sql.NullTime
	err := row.Scan(&r.ID, &r.DocumentID, &r.Name, &r.Email, &r.Role, &r.Status, &r.Order, &r.AccessToken, &r.ContactID,
		&signedAt, &viewedAt, &declinedAt, &r.DeclineReason, &r.IPAddress, &r.CreatedAt)
	r.SignedAt = timePtr(signedAt)
	r.ViewedAt = timePtr(viewedAt)
	r.DeclinedAt = timePtr(declinedAt)
	return r, err
}

func (s *PostgresStore) CreateRecipient(ctx context.Context, r DocumentRecipient) error {
	_, err := s.q.ExecContext(ctx, `
		INSERT INTO document_recipients (id, document_id, name, email, role, status, sort_order, access_token, contact_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NULLIF($9, ''))
	`, r.ID, r.DocumentID, r.Name, r.Email, r.Role, r.Status, r.Order, r.AccessToken, r.ContactID)
	if err != nil {
		return fmt.Errorf("insert recipient: %w", err)
	}
	return nil
}

func (s *PostgresStore) UpdateRecipient(ctx context.Context, r DocumentRecipient) error {
	res, err := s.q.ExecContext(ctx, `
		UPDATE document_recipients SET
			status=$2, signed_at=$3, viewed_at=$4, declined_at=$5,
			decline_reason=NULLIF($6, ''), ip_address=NULLIF($7, '')
		WHERE id=$1
	`, r.ID, r.Status, r.SignedAt, r.ViewedAt, r.DeclinedAt, r.DeclineReason, r.IPAddress)
	if err != nil {
		return fmt.Errorf("update recipient: %w", err)
	}
	return requireAffected(res, "update recipient")
}

func (s *PostgresStore) SetRecipientsStatus(ctx context.Context, documentID, status string) error {
	if _, err := s.q.ExecContext(ctx, `UPDATE document_recipients SET status=$2 WHERE document_id=$1`, documentID, status); err != nil {
		return fmt.Errorf("update recipients status: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetRecipientByToken(ctx context.Context, token string) (DocumentRecipient, error) {
	r, err := scanRecipient(s.q.QueryRowContext(ctx, `SELECT `+recipientColumns+` FROM document_recipients WHERE access_token=$1`, token))
	if err != nil {
		return DocumentRecipient{}, fmt.Errorf("get recipient by token: %w", err)
	}
	return r, nil
}

func (s *PostgresStore) DeleteRecipient(ctx context.Context, documentID, id string) error {
	res, err := s.q.ExecContext(ctx, `DELETE FROM document_recipients WHERE document_id=$1 AND id=$2`, documentID, id)
	if err != nil {
		return fmt.Errorf("delete recipient: %w", err)
	}
	return requireAffected(res, "delete recipient")
}

func (s *PostgresStore) ListRecipients(ctx context.Context, documentID string) ([]DocumentRecipient, error) {
	rows, err := s.q.QueryContext(ctx, `
		SELECT `+recipientColumns+` FROM document_recipients WHERE document_id=$1 ORDER BY sort_order, created_at
	`, documentID)
	if err != nil {
		return nil, fmt.Errorf("list recipients: %w", err)
	}
	defer rows.Close()

	items := make([]DocumentRecipient, 0)
	for rows.Next() {
		r, err := scanRecipient(rows)
		if err != nil {
			return nil, fmt.Errorf("scan recipient: %w", err)
		}
		items = append(items, r)
	}
	return items, rows.Err()
}

const attachmentColumns = `
	id, document_id, file_name, COALESCE(file_url, ''), COALESCE(object_key, ''), file_size,
	mime_type, page_count, sort_order, created_at`

func scanAttachment(row rowScanner, extra ...any) (DocumentAttachment, error) {
	var a DocumentAttachment
	dest := []any{&a.ID, &a.DocumentID, &a.FileName, &a.FileURL, &a.ObjectKey, &a.FileSize,
		&a.MimeType, &a.PageCount, &a.Order, &a.CreatedAt}
	err := row.Scan(append(dest, extra...)...)
	return a, err
}

func (s *PostgresStore) CreateAttachment(ctx context.Context, a DocumentAttachment) error {
	_, err := s.q.ExecContext(ctx, `
		INSERT INTO document_attachments (id, document_id, file_name, file_url, object_key, file_data, file_size, mime_type, page_count, sort_order)
		VALUES ($1, $2, $3, NULLIF($4, ''), NULLIF($5, ''), $6, $7, $8, $9, $10)
	`, a.ID, a.DocumentID, a.FileName, a.FileURL, a.ObjectKey, a.FileData, a.FileSize, a.MimeType, a.PageCount, a.Order)
	if err != nil {
		return fmt.Errorf("insert attachment: %w", err)
	}
	return nil
}

// GetAttachment includes the inline bytes when they are stored in the row.
func (s *PostgresStore) GetAttachment(ctx context.Context, documentID, id string) (DocumentAttachment, error) {
	var data []byte
	a, err := scanAttachment(s.q.QueryRowContext(ctx, `
		SELECT `+attachmentColumns+`, file_data FROM document_attachments WHERE document_id=$1 AND id=$2
	`, documentID, id), &data)
	if err != nil {
		return DocumentAttachment{}, fmt.Errorf("get attachment: %w", err)
	}
	a.FileData = data
	return a, nil
}

func (s *PostgresStore) DeleteAttachment(ctx context.Context, documentID, id string) error {
	res, err := s.q.ExecContext(ctx, `DELETE FROM document_attachments WHERE document_id=$1 AND id=$2`, documentID, id)
	if err != nil {
		return fmt.Errorf("delete attachment: %w", err)
	}
	return requireAffected(res, "delete attachment")
}

func (s *PostgresStore) ListAttachments(ctx context.Context, documentID string) ([]DocumentAttachment, error) {
	rows, err := s.q.QueryContext(ctx, `
		SELECT `+attachmentColumns+` FROM document_attachments WHERE document_id=$1 ORDER BY sort_order, created_at
	`, documentID)
	if err != nil {
		return nil, fmt.Errorf("list attachments: %w", err)
	}
	defer rows.Close()

	items := make([]DocumentAttachment, 0)
	for rows.Next() {
		a, err := scanAttachment(rows)
		if err != nil {
			return nil, fmt.Errorf("scan attachment: %w", err)
		}
		items = append(items, a)
	}
	return items, rows.Err()
}

const fieldColumns = `
	id, document_id, recipient_id, COALESCE(attachment_id, ''), type, COALESCE(label, ''), required, page,
	x_percent, y_percent, width_percent, height_percent, value, filled_at, created_at`

func scanField(row rowScanner) (DocumentField, error) {
	var f DocumentField
	var value sql.NullString
	var filledAt sql.NullTime
	err := row.Scan(&f.ID, &f.DocumentID, &f.RecipientID, &f.AttachmentID, &f.Type, &f.Label, &f.Required, &f.Page,
		&f.XPercent, &f.YPercent, &f.WidthPercent, &f.HeightPercent, &value, &filledAt, &f.CreatedAt)
	f.Value = stringPtr(value)
	f.FilledAt = timePtr(filledAt)
	return f, err
}

func (s *PostgresStore) CreateField(ctx context.Context, f DocumentField) error {
	_, err := s.q.ExecContext(ctx, `
		INSERT INTO document_fields (
			id, document_id, recipient_id, attachment_id, type, label, required, page,
			x_percent, y_percent, width_percent, height_percent
		) VALUES ($1, $2, $3, NULLIF($4, ''), $5, NULLIF($6, ''), $7, $8, $9, $10, $11, $12)
	`, f.ID, f.DocumentID, f.RecipientID, f.AttachmentID, f.Type, f.Label, f.Required, f.Page,
		f.XPercent, f.YPercent, f.WidthPercent, f.HeightPercent)
	if err != nil {
		return fmt.Errorf("insert field: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetField(ctx context.Context, id string) (DocumentField, error) {
	f, err := scanField(s.q.QueryRowContext(ctx, `SELECT `+fieldColumns+` FROM document_fields WHERE id=$1`, id))
	if err != nil {
		return DocumentField{}, fmt.Errorf("get field: %w", err)
	}
	return f, nil
}

func (s *PostgresStore) FillField(ctx context.Context, id, value string, filledAt time.Time) error {
	res, err := s.q.ExecContext(ctx, `UPDATE document_fields SET value=$2, filled_at=$3 WHERE id=$1`, id, value, filledAt)
	if err != nil {
		return fmt.Errorf("fill field: %w", err)
	}
	return requireAffected(res, "fill field")
}

func (s *PostgresStore) DeleteField(ctx context.Context, documentID, id string) error {
	res, err := s.q.ExecContext(ctx, `DELETE FROM document_fields WHERE document_id=$1 AND id=$2`, documentID, id)
	if err != nil {
		return fmt.Errorf("delete field: %w", err)
	}
	return requireAffected(res, "delete field")
}

func (s *PostgresStore) ListFields(ctx context.Context, documentID string) ([]DocumentField, error) {
	return s.queryFields(ctx, `SELECT `+fieldColumns+` FROM document_fields WHERE document_id=$1 ORDER BY page, created_at`, documentID)
}

func (s *PostgresStore) ListRecipientFields(ctx context.Context, recipientID string) ([]DocumentField, error) {
	return s.queryFields(ctx, `SELECT `+fieldColumns+` FROM document_fields WHERE recipient_id=$1 ORDER BY page, created_at`, recipientID)
}

func (s *PostgresStore) queryFields(ctx context.Context, query string, args ...any) ([]DocumentField, error) {
	rows, err := s.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list fields: %w", err)
	}
	defer rows.Close()

	items := make([]DocumentField, 0)
	for rows.Next() {
		f, err := scanField(rows)
		if err != nil {
			return nil, fmt.Errorf("scan field: %w", err)
		}
		items = append(items, f)
	}
	return items, rows.Err()
}

func (s *PostgresStore) InsertAudit(ctx context.Context, e DocumentAuditEntry) error {
	_, err := s.q.ExecContext(ctx, `
		INSERT INTO document_audit_log (id, document_id, action, actor_email, actor_name, ip_address, metadata)
		VALUES ($1, $2, $3, NULLIF($4, ''), NULLIF($5, ''), NULLIF($6, ''), $7)
	`, e.ID, e.DocumentID, e.Action, e.ActorEmail, e.ActorName, e.IPAddress, nullableJSON(e.Metadata))
	if err != nil {
		return fmt.Errorf("insert audit entry: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListAudit(ctx context.Context, documentID string) ([]DocumentAuditEntry, error) {
	rows, err := s.q.QueryContext(ctx, `
		SELECT id, document_id, action, COALESCE(actor_email, ''), COALESCE(actor_name, ''),
			COALESCE(ip_address, ''), metadata, created_at
		FROM document_audit_log WHERE document_id=$1
		ORDER BY created_at, id
	`, documentID)
	if err != nil {
		return nil, fmt.Errorf("list audit log: %w", err)
	}
	defer rows.Close()

	items := make([]DocumentAuditEntry, 0)
	for rows.Next() {
		var e DocumentAuditEntry
		var metadata []byte
		if err := rows.Scan(&e.ID, &e.DocumentID, &e.Action, &e.ActorEmail, &e.ActorName, &e.IPAddress, &metadata, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan audit entry: %w", err)
		}
		if len(metadata) > 0 {
			e.Metadata = metadata
		}
		items = append(items, e)
	}
	return items, rows.Err()
}
