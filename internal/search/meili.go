package search

import (
	"context"
	"encoding/json"
	"fmt"
	"sync/atomic"
	"time"

	meili "github.com/meilisearch/meilisearch-go"
	"go.uber.org/zap"
)

const idxContacts = "crm_contacts"

// Meili implements Searcher via Meilisearch.
type Meili struct {
	client  meili.ServiceManager
	logger  *zap.Logger
	healthy atomic.Bool
	done    chan struct{}
}

// NewMeili creates a Meilisearch client and configures the contacts index.
// An unreachable server leaves it unhealthy until the health loop sees it recover.
func NewMeili(url, apiKey string, logger *zap.Logger) *Meili {
	m := &Meili{
		client: meili.New(url, meili.WithAPIKey(apiKey)),
		logger: logger,
		done:   make(chan struct{}),
	}

	if _, err := m.client.Health(); err != nil {
		logger.Warn("meilisearch unavailable", zap.String("url", url), zap.Error(err))
		m.healthy.Store(false)
	} else {
		m.healthy.Store(true)
		m.configureIndexes()
	}

	go m.healthLoop()
	return m
}

func (m *Meili) configureIndexes() {
	if _, err := m.client.CreateIndex(&meili.IndexConfig{
		Uid:        idxContacts,
		PrimaryKey: "id",
	}); err != nil {
		m.logger.Debug("create index (may already exist)", zap.String("index", idxContacts), zap.Error(err))
	}

	index := m.client.Index(idxContacts)
	filterable := []interface{}{"stage", "source"}
	if _, err := index.UpdateFilterableAttributes(&filterable); err != nil {
		m.logger.Warn("update filterable attributes", zap.String("index", idxContacts), zap.Error(err))
	}
	searchable := []string{"fullName", "firstName", "lastName", "email", "company", "phone"}
	if _, err := index.UpdateSearchableAttributes(&searchable); err != nil {
		m.logger.Warn("update searchable attributes", zap.String("index", idxContacts), zap.Error(err))
	}
}

func (m *Meili) healthLoop() {
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-m.done:
			return
		case <-ticker.C:
			_, err := m.client.Health()
			wasHealthy := m.healthy.Load()
			m.healthy.Store(err == nil)
			if err == nil && !wasHealthy {
				m.logger.Info("meilisearch recovered, reconfiguring indexes")
				m.configureIndexes()
			}
		}
	}
}

// Close stops the background health monitor.
func (m *Meili) Close() {
	close(m.done)
}

func (m *Meili) Healthy() bool {
	return m.healthy.Load()
}

func (m *Meili) ContactIDs(_ context.Context, q Query) ([]string, error) {
	if !m.healthy.Load() {
		return nil, fmt.Errorf("meilisearch unhealthy")
	}
	limit := int64(q.Limit)
	if limit <= 0 {
		limit = defaultLimit
	}

	resp, err := m.client.MultiSearch(&meili.MultiSearchRequest{
		Queries: []*meili.SearchRequest{{
			IndexUID:             idxContacts,
			Query:                q.Text,
			Limit:                limit,
			AttributesToRetrieve: []string{"id"},
		}},
	})
	if err != nil {
		m.healthy.Store(false)
		return nil, fmt.Errorf("meilisearch multi-search: %w", err)
	}

	ids := make([]string, 0)
	for _, sr := range resp.Results {
		for _, hit := range sr.Hits {
			if id := decodeString(hit, "id"); id != "" {
				ids = append(ids, id)
			}
		}
	}
	return ids, nil
}

func decodeString(hit meili.Hit, key string) string {
	raw, ok := hit[key]
	if !ok {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return ""
}

func (m *Meili) IndexContacts(records []ContactRecord) error {
	if len(records) == 0 {
		return nil
	}
	_, err := m.client.Index(idxContacts).AddDocuments(records, nil)
	return err
}

func (m *Meili) DeleteContact(id string) error {
	_, err := m.client.Index(idxContacts).DeleteDocument(id, nil)
	return err
}
