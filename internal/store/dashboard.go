package store

import (
	"context"
	"fmt"
	"time"
)

func (s *PostgresStore) DashboardCounts(ctx context.Context, weekStart time.Time) (DashboardCounts, error) {
	var counts DashboardCounts
	err := s.q.QueryRowContext(ctx, `
		SELECT
			COUNT(*),
			COUNT(*) FILTER (WHERE created_at >= $1),
			COUNT(*) FILTER (WHERE stage = 'won'),
			COUNT(*) FILTER (WHERE stage = 'lost')
		FROM contacts
	`, weekStart).Scan(&counts.TotalContacts, &counts.NewThisWeek, &counts.Won, &counts.Lost)
	if err != nil {
		return DashboardCounts{}, fmt.Errorf("dashboard counts: %w", err)
	}
	byStage, err := s.CountContactsByStage(ctx)
	if err != nil {
		return DashboardCounts{}, err
	}
	counts.ByStage = byStage
	return counts, nil
}
