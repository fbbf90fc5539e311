package store

import (
	"context"
	"fmt"
)

const noteColumns = `id, contact_id, content, pinned, COALESCE(author_id, ''), created_at, updated_at`

func scanNote(row rowScanner) (Note, error) {
	var n Note
	err := row.Scan(&n.ID, &n.ContactID, &n.Content, &n.Pinned, &n.AuthorID, &n.CreatedAt, &n.UpdatedAt)
	return n, err
}

func (s *PostgresStore) CreateNote(ctx context.Context, n Note) error {
	_, err := s.q.ExecContext(ctx, `
		INSERT INTO notes (id, contact_id, content, pinned, author_id)
		VALUES ($1, $2, $3, $4, NULLIF($5, ''))
	`, n.ID, n.ContactID, n.Content, n.Pinned, n.AuthorID)
	if err != nil {
		return fmt.Errorf("insert note: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetNote(ctx context.Context, id string) (Note, error) {
	n, err := scanNote(s.q.QueryRowContext(ctx, `SELECT `+noteColumns+` FROM notes WHERE id=$1`, id))
	if err != nil {
		return Note{}, fmt.Errorf("get note: %w", err)
	}
	return n, nil
}

func (s *PostgresStore) UpdateNote(ctx context.Context, n Note) error {
	res, err := s.q.ExecContext(ctx, `UPDATE notes SET content=$2, pinned=$3, updated_at=NOW() WHERE id=$1`, n.ID, n.Content, n.Pinned)
	if err != nil {
		return fmt.Errorf("update note: %w", err)
	}
	return requireAffected(res, "update note")
}

func (s *PostgresStore) DeleteNote(ctx context.Context, id string) error {
	res, err := s.q.ExecContext(ctx, `DELETE FROM notes WHERE id=$1`, id)
	if err != nil {
		return fmt.Errorf("delete note: %w", err)
	}
	return requireAffected(res, "delete note")
}

// ListNotes returns pinned notes first, then newest first.
func (s *PostgresStore) ListNotes(ctx context.Context, contactID string) ([]Note, error) {
	rows, err := s.q.QueryContext(ctx, `
		SELECT `+noteColumns+` FROM notes WHERE contact_id=$1
		ORDER BY pinned DESC, created_at DESC
	`, contactID)
	if err != nil {
		return nil, fmt.Errorf("list notes: %w", err)
	}
	defer rows.Close()

	items := make([]Note, 0)
	for rows.Next() {
		n, err := scanNote(rows)
		if err != nil {
			return nil, fmt.Errorf("scan note: %w", err)
		}
		items = append(items, n)
	}
	return items, rows.Err()
}

const activityColumns = `id, contact_id, type, description, metadata, COALESCE(user_id, ''), created_at`

func scanActivity(row rowScanner) (Activity, error) {
	var a Activity
	var metadata []byte
	err := row.Scan(&a.ID, &a.ContactID, &a.Type, &a.Description, &metadata, &a.UserID, &a.CreatedAt)
	if len(metadata) > 0 {
		a.Metadata = metadata
	}
	return a, err
}

func (s *PostgresStore) InsertActivity(ctx context.Context, a Activity) error {
	_, err := s.q.ExecContext(ctx, `
		INSERT INTO activities (id, contact_id, type, description, metadata, user_id)
		VALUES ($1, $2, $3, $4, $5, NULLIF($6, ''))
	`, a.ID, a.ContactID, a.Type, a.Description, nullableJSON(a.Metadata), a.UserID)
	if err != nil {
		return fmt.Errorf("insert activity: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListActivities(ctx context.Context, contactID string, limit int) ([]Activity, error) {
	return s.queryActivities(ctx, `
		SELECT `+activityColumns+` FROM activities WHERE contact_id=$1
		ORDER BY created_at DESC LIMIT $2
	`, contactID, limit)
}

func (s *PostgresStore) RecentActivities(ctx context.Context, limit int) ([]Activity, error) {
	return s.queryActivities(ctx, `SELECT `+activityColumns+` FROM activities ORDER BY created_at DESC LIMIT $1`, limit)
}

func (s *PostgresStore) queryActivities(ctx context.Context, query string, args ...any) ([]Activity, error) {
	rows, err := s.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list activities: %w", err)
	}
	defer rows.Close()

	items := make([]Activity, 0)
	for rows.Next() {
		a, err := scanActivity(rows)
		if err != nil {
			return nil, fmt.Errorf("scan activity: %w", err)
		}
		items = append(items, a)
	}
	return items, rows.Err()
}
