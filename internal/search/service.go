package search

import (
	"context"

	"go.uber.org/zap"
)

// Service tries Meilisearch first and falls back to Postgres FTS.
type Service struct {
	meili  *Meili
	pgfts  Searcher
	loader func(ctx context.Context) ([]ContactRecord, error)
	logger *zap.Logger
}

// NewService creates a search service. meili may be nil when Meilisearch is not configured.
func NewService(meili *Meili, pgfts *PgFTS, logger *zap.Logger) *Service {
	s := &Service{meili: meili, logger: logger}
	if pgfts != nil {
		s.pgfts = pgfts
		s.loader = pgfts.LoadAllRecords
	}
	return s
}

func (s *Service) meiliReady() bool {
	return s.meili != nil && s.meili.Healthy()
}

// ContactIDs returns matching contact IDs, best match first.
func (s *Service) ContactIDs(ctx context.Context, text string) ([]string, error) {
	q := Query{Text: text, Limit: defaultLimit}
	if s.meiliReady() {
		ids, err := s.meili.ContactIDs(ctx, q)
		if err == nil {
			return ids, nil
		}
		s.logger.Warn("meilisearch error, falling back to pgfts", zap.Error(err))
	}
	if s.pgfts == nil {
		return []string{}, nil
	}
	return s.pgfts.ContactIDs(ctx, q)
}

// IndexContact pushes a contact to Meilisearch in the background.
func (s *Service) IndexContact(rec ContactRecord) {
	if !s.meiliReady() {
		return
	}
	go func() {
		if err := s.meili.IndexContacts([]ContactRecord{rec}); err != nil {
			s.logger.Warn("index contact", zap.String("contact_id", rec.ID), zap.Error(err))
		}
	}()
}

// DeleteContacts removes contacts from Meilisearch in the background.
func (s *Service) DeleteContacts(ids ...string) {
	if !s.meiliReady() || len(ids) == 0 {
		return
	}
	go func() {
		for _, id := range ids {
			if err := s.meili.DeleteContact(id); err != nil {
				s.logger.Warn("delete contact from index", zap.String("contact_id", id), zap.Error(err))
			}
		}
	}()
}

// ReindexAllFromPG pushes every contact from PostgreSQL into Meilisearch.
func (s *Service) ReindexAllFromPG(ctx context.Context) {
	if !s.meiliReady() || s.loader == nil {
		return
	}
	records, err := s.loader(ctx)
	if err != nil {
		s.logger.Warn("reindex load failed", zap.Error(err))
		return
	}
	if err := s.meili.IndexContacts(records); err != nil {
		s.logger.Warn("reindex contacts", zap.Error(err))
		return
	}
	s.logger.Info("reindexed contacts", zap.Int("count", len(records)))
}
