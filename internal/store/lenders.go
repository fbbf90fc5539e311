package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
)

const lenderColumns = `
	id, name, email, COALESCE(company, ''), COALESCE(phone, ''), COALESCE(notes, ''),
	COALESCE(submission_guidelines, ''), sort_order, is_active, COALESCE(owner_id, ''), created_at, updated_at`

func scanLender(row rowScanner) (Lender, error) {
	var l Lender
	err := row.Scan(&l.ID, &l.Name, &l.Email, &l.Company, &l.Phone, &l.Notes,
		&l.SubmissionGuidelines, &l.SortOrder, &l.IsActive, &l.OwnerID, &l.CreatedAt, &l.UpdatedAt)
	return l, err
}

func (s *PostgresStore) CreateLender(ctx context.Context, l Lender) error {
	_, err := s.q.ExecContext(ctx, `
		INSERT INTO lenders (id, name, email, company, phone, notes, submission_guidelines, sort_order, is_active, owner_id)
		VALUES ($1, $2, $3, NULLIF($4, ''), NULLIF($5, ''), NULLIF($6, ''), NULLIF($7, ''), $8, $9, NULLIF($10, ''))
	`, l.ID, l.Name, l.Email, l.Company, l.Phone, l.Notes, l.SubmissionGuidelines, l.SortOrder, l.IsActive, l.OwnerID)
	if err != nil {
		return fmt.Errorf("insert lender: %w", err)
	}
	return nil
}

func (s *PostgresStore) UpdateLender(ctx context.Context, l Lender) error {
	res, err := s.q.ExecContext(ctx, `
		UPDATE lenders SET
			name=$2, email=$3, company=NULLIF($4, ''), phone=NULLIF($5, ''), notes=NULLIF($6, ''),
			submission_guidelines=NULLIF($7, ''), sort_order=$8, is_active=$9, updated_at=NOW()
		WHERE id=$1
	`, l.ID, l.Name, l.Email, l.Company, l.Phone, l.Notes, l.SubmissionGuidelines, l.SortOrder, l.IsActive)
	if err != nil {
		return fmt.Errorf("update lender: %w", err)
	}
	return requireAffected(res, "update lender")
}

func (s *PostgresStore) GetLender(ctx context.Context, id string) (Lender, error) {
	l, err := scanLender(s.q.QueryRowContext(ctx, `SELECT `+lenderColumns+` FROM lenders WHERE id=$1`, id))
	if err != nil {
		return Lender{}, fmt.Errorf("get lender: %w", err)
	}
	return l, nil
}

func (s *PostgresStore) DeleteLender(ctx context.Context, id string) error {
	res, err := s.q.ExecContext(ctx, `DELETE FROM lenders WHERE id=$1`, id)
	if err != nil {
		return fmt.Errorf("delete lender: %w", err)
	}
	return requireAffected(res, "delete lender")
}

func (s *PostgresStore) ListLenders(ctx context.Context, activeOnly bool) ([]Lender, error) {
	return s.queryLenders(ctx, `
		SELECT `+lenderColumns+` FROM lenders WHERE ($1 = FALSE OR is_active)
		ORDER BY sort_order, name
	`, activeOnly)
}

// GetLendersByIDs returns only active lenders among ids.
func (s *PostgresStore) GetLendersByIDs(ctx context.Context, ids []string) ([]Lender, error) {
	if len(ids) == 0 {
		return make([]Lender, 0), nil
	}
	return s.queryLenders(ctx, `
		SELECT `+lenderColumns+` FROM lenders
		WHERE is_active AND id IN (`+placeholders(1, len(ids))+`)
		ORDER BY sort_order, name
	`, stringArgs(ids)...)
}

func (s *PostgresStore) queryLenders(ctx context.Context, query string, args ...any) ([]Lender, error) {
	rows, err := s.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list lenders: %w", err)
	}
	defer rows.Close()

	items := make([]Lender, 0)
	for rows.Next() {
		l, err := scanLender(rows)
		if err != nil {
			return nil, fmt.Errorf("scan lender: %w", err)
		}
		items = append(items, l)
	}
	return items, rows.Err()
}

func (s *PostgresStore) CreateSubmission(ctx context.Context, sub LenderSubmission) error {
	ids, err := json.Marshal(sub.LenderIDs)
	if err != nil {
		return fmt.Errorf("encode lender ids: %w", err)
	}
	emails, err := json.Marshal(sub.LenderEmails)
	if err != nil {
		return fmt.Errorf("encode lender emails: %w", err)
	}
	_, err = s.q.ExecContext(ctx, `
		INSERT INTO lender_submissions (id, loan_id, email_id, subject, message, lender_ids, lender_emails, sent_at, owner_id)
		VALUES ($1, $2, NULLIF($3, ''), $4, $5, $6, $7, $8, NULLIF($9, ''))
	`, sub.ID, sub.LoanID, sub.EmailID, sub.Subject, sub.Message, string(ids), string(emails), sub.SentAt, sub.OwnerID)
	if err != nil {
		return fmt.Errorf("insert submission: %w", err)
	}
	return nil
}

const quoteColumns = `
	id, submission_id, COALESCE(lender_id, ''), lender_name, status, rate::float8, points::float8,
	fees::float8, loan_amount::float8, term_months, COALESCE(notes, ''), received_at, created_at, updated_at`

func scanQuote(row rowScanner) (LenderQuote, error) {
	var q LenderQuote
	var rate, points, fees, amount sql.NullFloat64
	var term sql.NullInt64
	var receivedAt sql.NullTime
	err := row.Scan(&q.ID, &q.SubmissionID, &q.LenderID, &q.LenderName, &q.Status, &rate, &points,
		&fees, &amount, &term, &q.Notes, &receivedAt, &q.CreatedAt, &q.UpdatedAt)
	q.Rate = floatPtr(rate)
	q.Points = floatPtr(points)
	q.Fees = floatPtr(fees)
	q.LoanAmount = floatPtr(amount)
	q.TermMonths = intPtr(term)
	q.ReceivedAt = timePtr(receivedAt)
	return q, err
}

func (s *PostgresStore) CreateQuote(ctx context.Context, q LenderQuote) error {
	_, err := s.q.ExecContext(ctx, `
		INSERT INTO lender_quotes (id, submission_id, lender_id, lender_name, status)
		VALUES ($1, $2, NULLIF($3, ''), $4, $5)
	`, q.ID, q.SubmissionID, q.LenderID, q.LenderName, q.Status)
	if err != nil {
		return fmt.Errorf("insert quote: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetQuote(ctx context.Context, id string) (LenderQuote, error) {
	q, err := scanQuote(s.q.QueryRowContext(ctx, `SELECT `+quoteColumns+` FROM lender_quotes WHERE id=$1`, id))
	if err != nil {
		return LenderQuote{}, fmt.Errorf("get quote: %w", err)
	}
	return q, nil
}

func (s *PostgresStore) UpdateQuote(ctx context.Context, q LenderQuote) error {
	res, err := s.q.ExecContext(ctx, `
		UPDATE lender_quotes SET
			status=$2, rate=$3, points=$4, fees=$5, loan_amount=$6, term_months=$7,
			notes=NULLIF($8, ''), received_at=$9, updated_at=NOW()
		WHERE id=$1
	`, q.ID, q.Status, q.Rate, q.Points, q.Fees, q.LoanAmount, q.TermMonths, q.Notes, q.ReceivedAt)
	if err != nil {
		return fmt.Errorf("update quote: %w", err)
	}
	return requireAffected(res, "update quote")
}

// ListSubmissions returns a loan's submissions, newest first, with their quotes.
func (s *PostgresStore) ListSubmissions(ctx context.Context, loanID string) ([]LenderSubmission, error) {
	rows, err := s.q.QueryContext(ctx, `
		SELECT id, loan_id, COALESCE(email_id, ''), subject, message, lender_ids, lender_emails,
			sent_at, COALESCE(owner_id, ''), created_at
		FROM lender_submissions WHERE loan_id=$1
		ORDER BY sent_at DESC
	`, loanID)
	if err != nil {
		return nil, fmt.Errorf("list submissions: %w", err)
	}
	defer rows.Close()

	items := make([]LenderSubmission, 0)
	index := make(map[string]int)
	for rows.Next() {
		var sub LenderSubmission
		var ids, emails []byte
		if err := rows.Scan(&sub.ID, &sub.LoanID, &sub.EmailID, &sub.Subject, &sub.Message, &ids, &emails,
			&sub.SentAt, &sub.OwnerID, &sub.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan submission: %w", err)
		}
		if err := json.Unmarshal(ids, &sub.LenderIDs); err != nil {
			return nil, fmt.Errorf("decode lender ids: %w", err)
		}
		if err := json.Unmarshal(emails, &sub.LenderEmails); err != nil {
			return nil, fmt.Errorf("decode lender emails: %w", err)
		}
		sub.Quotes = make([]LenderQuote, 0)
		index[sub.ID] = len(items)
		items = append(items, sub)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list submissions: %w", err)
	}
	if len(items) == 0 {
		return items, nil
	}

	quoteRows, err := s.q.QueryContext(ctx, `
		SELECT `+quoteColumns+` FROM lender_quotes
		WHERE submission_id IN (SELECT id FROM lender_submissions WHERE loan_id=$1)
		ORDER BY lender_name
	`, loanID)
	if err != nil {
		return nil, fmt.Errorf("list quotes: %w", err)
	}
	defer quoteRows.Close()
	for quoteRows.Next() {
		q, err := scanQuote(quoteRows)
		if err != nil {
			return nil, fmt.Errorf("scan quote: %w", err)
		}
		if i, ok := index[q.SubmissionID]; ok {
			items[i].Quotes = append(items[i].Quotes, q)
		}
	}
	return items, quoteRows.Err()
}
