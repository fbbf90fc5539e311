package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

const followUpColumns = `
	id, title, COALESCE(description, ''), type, status, to_char(due_date, 'YYYY-MM-DD'),
	COALESCE(due_time, ''), COALESCE(contact_id, ''), COALESCE(loan_id, ''), COALESCE(owner_id, ''),
	completed_at, created_at, updated_at`

func scanFollowUp(row rowScanner) (FollowUp, error) {
	var f FollowUp
	var completedAt sql.NullTime
	err := row.Scan(&f.ID, &f.Title, &f.Description, &f.Type, &f.Status, &f.DueDate,
		&f.DueTime, &f.ContactID, &f.LoanID, &f.OwnerID, &completedAt, &f.CreatedAt, &f.UpdatedAt)
	f.CompletedAt = timePtr(completedAt)
	return f, err
}

func (s *PostgresStore) CreateFollowUp(ctx context.Context, f FollowUp) error {
	_, err := s.q.ExecContext(ctx, `
		INSERT INTO follow_ups (id, title, description, type, status, due_date, due_time, contact_id, loan_id, owner_id, completed_at)
		VALUES ($1, $2, NULLIF($3, ''), $4, $5, $6::date, NULLIF($7, ''), NULLIF($8, ''), NULLIF($9, ''), NULLIF($10, ''), $11)
	`, f.ID, f.Title, f.Description, f.Type, f.Status, f.DueDate, f.DueTime, f.ContactID, f.LoanID, f.OwnerID, f.CompletedAt)
	if err != nil {
		return fmt.Errorf("insert follow-up: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetFollowUp(ctx context.Context, id string) (FollowUp, error) {
	f, err := scanFollowUp(s.q.QueryRowContext(ctx, `SELECT `+followUpColumns+` FROM follow_ups WHERE id=$1`, id))
	if err != nil {
		return FollowUp{}, fmt.Errorf("get follow-up: %w", err)
	}
	return f, nil
}

func (s *PostgresStore) UpdateFollowUp(ctx context.Context, f FollowUp) error {
	res, err := s.q.ExecContext(ctx, `
		UPDATE follow_ups SET
			title=$2, description=NULLIF($3, ''), type=$4, status=$5, due_date=$6::date,
			due_time=NULLIF($7, ''), contact_id=NULLIF($8, ''), loan_id=NULLIF($9, ''),
			completed_at=$10, updated_at=NOW()
		WHERE id=$1
	`, f.ID, f.Title, f.Description, f.Type, f.Status, f.DueDate, f.DueTime, f.ContactID, f.LoanID, f.CompletedAt)
	if err != nil {
		return fmt.Errorf("update follow-up: %w", err)
	}
	return requireAffected(res, "update follow-up")
}

func (s *PostgresStore) DeleteFollowUp(ctx context.Context, id string) error {
	res, err := s.q.ExecContext(ctx, `DELETE FROM follow_ups WHERE id=$1`, id)
	if err != nil {
		return fmt.Errorf("delete follow-up: %w", err)
	}
	return requireAffected(res, "delete follow-up")
}

func (s *PostgresStore) ListFollowUps(ctx context.Context, filter FollowUpFilter) ([]FollowUp, error) {
	var where []string
	var args []any
	if filter.From != "" {
		args = append(args, filter.From)
		where = append(where, fmt.Sprintf("due_date >= $%d::date", len(args)))
	}
	if filter.To != "" {
		args = append(args, filter.To)
		where = append(where, fmt.Sprintf("due_date <= $%d::date", len(args)))
	}
	if filter.Status != "" {
		args = append(args, filter.Status)
		where = append(where, fmt.Sprintf("status = $%d", len(args)))
	}
	query := `SELECT ` + followUpColumns + ` FROM follow_ups`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += ` ORDER BY due_date, due_time NULLS LAST, created_at`

	rows, err := s.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list follow-ups: %w", err)
	}
	defer rows.Close()

	items := make([]FollowUp, 0)
	for rows.Next() {
		f, err := scanFollowUp(rows)
		if err != nil {
			return nil, fmt.Errorf("scan follow-up: %w", err)
		}
		items = append(items, f)
	}
	return items, rows.Err()
}
