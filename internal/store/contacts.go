package store

import (
	"context"
	"fmt"
	"strings"
)

const contactColumns = `
	c.id, c.first_name, c.last_name, COALESCE(c.email, ''), COALESCE(c.phone, ''),
	COALESCE(c.company, ''), COALESCE(c.job_title, ''), c.stage, COALESCE(c.source, ''),
	c.score, COALESCE(c.address, ''), COALESCE(c.city, ''), COALESCE(c.state, ''),
	COALESCE(c.zip, ''), COALESCE(c.country, ''), COALESCE(c.website, ''),
	COALESCE(c.notes, ''), COALESCE(c.owner_id, ''), c.created_at, c.updated_at`

func scanContact(row rowScanner) (Contact, error) {
	var c Contact
	err := row.Scan(
		&c.ID, &c.FirstName, &c.LastName, &c.Email, &c.Phone,
		&c.Company, &c.JobTitle, &c.Stage, &c.Source,
		&c.Score, &c.Address, &c.City, &c.State,
		&c.Zip, &c.Country, &c.Website,
		&c.Notes, &c.OwnerID, &c.CreatedAt, &c.UpdatedAt,
	)
	c.Tags = make([]Tag, 0)
	return c, err
}

// contactSortColumns whitelists ORDER BY targets.
var contactSortColumns = map[string]string{
	"createdAt": "c.created_at",
	"firstName": "c.first_name",
	"lastName":  "c.last_name",
	"email":     "c.email",
	"company":   "c.company",
	"stage":     "c.stage",
	"score":     "c.score",
}

func (s *PostgresStore) CreateContact(ctx context.Context, c Contact) error {
	_, err := s.q.ExecContext(ctx, `
		INSERT INTO contacts (
			id, first_name, last_name, email, phone, company, job_title, stage, source, score,
			address, city, state, zip, country, website, notes, owner_id
		) VALUES (
			$1, $2, $3, NULLIF($4, ''), NULLIF($5, ''), NULLIF($6, ''), NULLIF($7, ''), $8, NULLIF($9, ''), $10,
			NULLIF($11, ''), NULLIF($12, ''), NULLIF($13, ''), NULLIF($14, ''), NULLIF($15, ''), NULLIF($16, ''), NULLIF($17, ''), NULLIF($18, '')
		)
	`, c.ID, c.FirstName, c.LastName, c.Email, c.Phone, c.Company, c.JobTitle, c.Stage, c.Source, c.Score,
		c.Address, c.City, c.State, c.Zip, c.Country, c.Website, c.Notes, c.OwnerID)
	if err != nil {
		return fmt.Errorf("insert contact: %w", err)
	}
	return nil
}

func (s *PostgresStore) UpdateContact(ctx context.Context, c Contact) error {
	res, err := s.q.ExecContext(ctx, `
		UPDATE contacts SET
			first_name=$2, last_name=$3, email=NULLIF($4, ''), phone=NULLIF($5, ''), company=NULLIF($6, ''),
			job_title=NULLIF($7, ''), stage=$8, source=NULLIF($9, ''), score=$10, address=NULLIF($11, ''),
			city=NULLIF($12, ''), state=NULLIF($13, ''), zip=NULLIF($14, ''), country=NULLIF($15, ''),
			website=NULLIF($16, ''), notes=NULLIF($17, ''), updated_at=NOW()
		WHERE id=$1
	`, c.ID, c.FirstName, c.LastName, c.Email, c.Phone, c.Company, c.JobTitle, c.Stage, c.Source, c.Score,
		c.Address, c.City, c.State, c.Zip, c.Country, c.Website, c.Notes)
	if err != nil {
		return fmt.Errorf("update contact: %w", err)
	}
	return requireAffected(res, "update contact")
}

func (s *PostgresStore) SetContactStage(ctx context.Context, id, stage string) error {
	res, err := s.q.ExecContext(ctx, `UPDATE contacts SET stage=$2, updated_at=NOW() WHERE id=$1`, id, stage)
	if err != nil {
		return fmt.Errorf("update contact stage: %w", err)
	}
	return requireAffected(res, "update contact stage")
}

func (s *PostgresStore) GetContact(ctx context.Context, id string) (Contact, error) {
	c, err := scanContact(s.q.QueryRowContext(ctx, `SELECT `+contactColumns+` FROM contacts c WHERE c.id=$1`, id))
	if err != nil {
		return Contact{}, fmt.Errorf("get contact: %w", err)
	}
	tags, err := s.tagsForContacts(ctx, []string{id})
	if err != nil {
		return Contact{}, err
	}
	if t := tags[id]; t != nil {
		c.Tags = t
	}
	return c, nil
}

// FindContactByEmail matches case-insensitively and returns the oldest contact.
func (s *PostgresStore) FindContactByEmail(ctx context.Context, email string) (Contact, error) {
	c, err := scanContact(s.q.QueryRowContext(ctx, `
		SELECT `+contactColumns+` FROM contacts c
		WHERE LOWER(c.email) = LOWER($1)
		ORDER BY c.created_at
		LIMIT 1
	`, email))
	if err != nil {
		return Contact{}, fmt.Errorf("find contact by email: %w", err)
	}
	return c, nil
}

func (s *PostgresStore) DeleteContact(ctx context.Context, id string) error {
	res, err := s.q.ExecContext(ctx, `DELETE FROM contacts WHERE id=$1`, id)
	if err != nil {
		return fmt.Errorf("delete contact: %w", err)
	}
	return requireAffected(res, "delete contact")
}

func (s *PostgresStore) DeleteContacts(ctx context.Context, ids []string) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	res, err := s.q.ExecContext(ctx, `DELETE FROM contacts WHERE id IN (`+placeholders(1, len(ids))+`)`, stringArgs(ids)...)
	if err != nil {
		return 0, fmt.Errorf("delete contacts: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("delete contacts: %w", err)
	}
	return int(n), nil
}

// ListContacts applies the filter and returns one page plus the total match count.
// A non-nil empty IDs slice matches nothing.
func (s *PostgresStore) ListContacts(ctx context.Context, filter ContactFilter) ([]Contact, int, error) {
	var where []string
	var args []any
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if filter.IDs != nil {
		if len(filter.IDs) == 0 {
			return make([]Contact, 0), 0, nil
		}
		marks := make([]string, len(filter.IDs))
		for i, id := range filter.IDs {
			marks[i] = arg(id)
		}
		where = append(where, "c.id IN ("+strings.Join(marks, ", ")+")")
	}
	if filter.Stage != "" {
		where = append(where, "c.stage = "+arg(filter.Stage))
	}
	if filter.Source != "" {
		where = append(where, "c.source = "+arg(filter.Source))
	}
	if filter.TagID != "" {
		where = append(where, "EXISTS (SELECT 1 FROM contact_tags ct WHERE ct.contact_id = c.id AND ct.tag_id = "+arg(filter.TagID)+")")
	}

	clause := ""
	if len(where) > 0 {
		clause = " WHERE " + strings.Join(where, " AND ")
	}

	var total int
	if err := s.q.QueryRowContext(ctx, `SELECT COUNT(*) FROM contacts c`+clause, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count contacts: %w", err)
	}

	order := contactSortColumns[filter.Sort]
	if order == "" {
		order = "c.created_at"
	}
	direction := "ASC"
	if filter.Desc {
		direction = "DESC"
	}
	query := `SELECT ` + contactColumns + ` FROM contacts c` + clause +
		` ORDER BY ` + order + ` ` + direction + ` NULLS LAST, c.id`
	if filter.Limit > 0 {
		query += ` LIMIT ` + arg(filter.Limit) + ` OFFSET ` + arg(filter.Offset)
	}

	items, err := s.queryContacts(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	return items, total, nil
}

// ListAllContacts returns every contact, newest first, with tags.
func (s *PostgresStore) ListAllContacts(ctx context.Context) ([]Contact, error) {
	return s.queryContacts(ctx, `SELECT `+contactColumns+` FROM contacts c ORDER BY c.created_at DESC, c.id`)
}

func (s *PostgresStore) RecentContacts(ctx context.Context, limit int) ([]Contact, error) {
	return s.queryContacts(ctx, `SELECT `+contactColumns+` FROM contacts c ORDER BY c.created_at DESC LIMIT $1`, limit)
}

func (s *PostgresStore) queryContacts(ctx context.Context, query string, args ...any) ([]Contact, error) {
	rows, err := s.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list contacts: %w", err)
	}
	defer rows.Close()

	items := make([]Contact, 0)
	ids := make([]string, 0)
	for rows.Next() {
		c, err := scanContact(rows)
		if err != nil {
			return nil, fmt.Errorf("scan contact: %w", err)
		}
		items = append(items, c)
		ids = append(ids, c.ID)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list contacts: %w", err)
	}
	if len(ids) == 0 {
		return items, nil
	}

	tags, err := s.tagsForContacts(ctx, ids)
	if err != nil {
		return nil, err
	}
	for i := range items {
		if t := tags[items[i].ID]; t != nil {
			items[i].Tags = t
		}
	}
	return items, nil
}

func (s *PostgresStore) ReplaceContactTags(ctx context.Context, contactID string, tagIDs []string) error {
	if _, err := s.q.ExecContext(ctx, `DELETE FROM contact_tags WHERE contact_id=$1`, contactID); err != nil {
		return fmt.Errorf("clear contact tags: %w", err)
	}
	for _, tagID := range tagIDs {
		if _, err := s.q.ExecContext(ctx, `
			INSERT INTO contact_tags (contact_id, tag_id) VALUES ($1, $2)
			ON CONFLICT DO NOTHING
		`, contactID, tagID); err != nil {
			return fmt.Errorf("insert contact tag: %w", err)
		}
	}
	if _, err := s.q.ExecContext(ctx, `UPDATE contacts SET updated_at=NOW() WHERE id=$1`, contactID); err != nil {
		return fmt.Errorf("touch contact: %w", err)
	}
	return nil
}

func (s *PostgresStore) CountContactsByStage(ctx context.Context) (map[string]int, error) {
	rows, err := s.q.QueryContext(ctx, `SELECT stage, COUNT(*) FROM contacts GROUP BY stage`)
	if err != nil {
		return nil, fmt.Errorf("count contacts by stage: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var stage string
		var n int
		if err := rows.Scan(&stage, &n); err != nil {
			return nil, fmt.Errorf("scan stage count: %w", err)
		}
		counts[stage] = n
	}
	return counts, rows.Err()
}
