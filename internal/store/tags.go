package store

import (
	"context"
	"fmt"
)

const tagColumns = `t.id, t.name, t.color, COALESCE(t.owner_id, ''), t.created_at`

func scanTag(row rowScanner) (Tag, error) {
	var t Tag
	err := row.Scan(&t.ID, &t.Name, &t.Color, &t.OwnerID, &t.CreatedAt)
	return t, err
}

func (s *PostgresStore) CreateTag(ctx context.Context, t Tag) error {
	_, err := s.q.ExecContext(ctx, `
		INSERT INTO tags (id, name, color, owner_id) VALUES ($1, $2, $3, NULLIF($4, ''))
	`, t.ID, t.Name, t.Color, t.OwnerID)
	if err != nil {
		return fmt.Errorf("insert tag: %w", err)
	}
	return nil
}

func (s *PostgresStore) UpdateTag(ctx context.Context, t Tag) error {
	res, err := s.q.ExecContext(ctx, `UPDATE tags SET name=$2, color=$3 WHERE id=$1`, t.ID, t.Name, t.Color)
	if err != nil {
		return fmt.Errorf("update tag: %w", err)
	}
	return requireAffected(res, "update tag")
}

func (s *PostgresStore) DeleteTag(ctx context.Context, id string) error {
	res, err := s.q.ExecContext(ctx, `DELETE FROM tags WHERE id=$1`, id)
	if err != nil {
		return fmt.Errorf("delete tag: %w", err)
	}
	return requireAffected(res, "delete tag")
}

func (s *PostgresStore) GetTag(ctx context.Context, id string) (Tag, error) {
	t, err := scanTag(s.q.QueryRowContext(ctx, `SELECT `+tagColumns+` FROM tags t WHERE t.id=$1`, id))
	if err != nil {
		return Tag{}, fmt.Errorf("get tag: %w", err)
	}
	return t, nil
}

func (s *PostgresStore) GetTagByName(ctx context.Context, name string) (Tag, error) {
	t, err := scanTag(s.q.QueryRowContext(ctx, `SELECT `+tagColumns+` FROM tags t WHERE LOWER(t.name)=LOWER($1)`, name))
	if err != nil {
		return Tag{}, fmt.Errorf("get tag by name: %w", err)
	}
	return t, nil
}

func (s *PostgresStore) ListTags(ctx context.Context) ([]Tag, error) {
	rows, err := s.q.QueryContext(ctx, `SELECT `+tagColumns+` FROM tags t ORDER BY t.name`)
	if err != nil {
		return nil, fmt.Errorf("list tags: %w", err)
	}
	defer rows.Close()

	items := make([]Tag, 0)
	for rows.Next() {
		t, err := scanTag(rows)
		if err != nil {
			return nil, fmt.Errorf("scan tag: %w", err)
		}
		items = append(items, t)
	}
	return items, rows.Err()
}

func (s *PostgresStore) tagsForContacts(ctx context.Context, contactIDs []string) (map[string][]Tag, error) {
	rows, err := s.q.QueryContext(ctx, `
		SELECT ct.contact_id, `+tagColumns+`
		FROM contact_tags ct
		JOIN tags t ON t.id = ct.tag_id
		WHERE ct.contact_id IN (`+placeholders(1, len(contactIDs))+`)
		ORDER BY t.name
	`, stringArgs(contactIDs)...)
	if err != nil {
		return nil, fmt.Errorf("list contact tags: %w", err)
	}
	defer rows.Close()

	out := make(map[string][]Tag)
	for rows.Next() {
		var contactID string
		var t Tag
		if err := rows.Scan(&contactID, &t.ID, &t.Name, &t.Color, &t.OwnerID, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan contact tag: %w", err)
		}
		out[contactID] = append(out[contactID], t)
	}
	return out, rows.Err()
}
