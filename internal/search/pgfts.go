package search

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"brokercrm/internal/store"
)

// PgFTS searches the trigger-maintained contacts.fts column.
type PgFTS struct {
	db *sql.DB
}

func NewPgFTS(db *sql.DB) *PgFTS {
	return &PgFTS{db: db}
}

// Healthy always returns true; if Postgres is down the whole app is down.
func (p *PgFTS) Healthy() bool {
	return true
}

func (p *PgFTS) ContactIDs(ctx context.Context, q Query) ([]string, error) {
	tsQuery := PrefixQuery(q.Text)
	if tsQuery == "" {
		return []string{}, nil
	}
	limit := q.Limit
	if limit <= 0 {
		limit = defaultLimit
	}

	rows, err := p.db.QueryContext(ctx, `
		SELECT id FROM contacts
		WHERE fts @@ to_tsquery('simple', $1)
		ORDER BY ts_rank(fts, to_tsquery('simple', $1)) DESC, created_at DESC
		LIMIT $2
	`, tsQuery, limit)
	if err != nil {
		return nil, fmt.Errorf("pgfts query: %w", err)
	}
	defer rows.Close()

	ids := make([]string, 0)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("pgfts scan: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// LoadAllRecords returns every contact for a full reindex.
func (p *PgFTS) LoadAllRecords(ctx context.Context) ([]ContactRecord, error) {
	contacts, err := store.NewPostgresStore(p.db).ListAllContacts(ctx)
	if err != nil {
		return nil, fmt.Errorf("load contacts: %w", err)
	}
	records := make([]ContactRecord, 0, len(contacts))
	for _, c := range contacts {
		if strings.TrimSpace(c.ID) == "" {
			continue
		}
		records = append(records, RecordFromContact(c))
	}
	return records, nil
}
