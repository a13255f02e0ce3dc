package search

import (
	"sync/atomic"
	"time"

	"forum/api/internal/logger"

	meili "github.com/meilisearch/meilisearch-go"
)

const idxMessages = "forum_messages"

var (
	filterableAttributes = []string{"section", "group", "tags", "committed", "authorId"}
	searchableAttributes = []string{"title", "body", "tags"}
)

// Meili implements Backend via Meilisearch.
type Meili struct {
	client  meili.ServiceManager
	log     logger.Logger
	healthy atomic.Bool
	done    chan struct{}
}

// NewMeili creates a Meilisearch client and configures the message index.
// An unreachable server is not fatal; the health loop picks it up later.
func NewMeili(url, apiKey string, log logger.Logger) *Meili {
	if log == nil {
		log = logger.NewNop()
	}
	m := &Meili{
		client: meili.New(url, meili.WithAPIKey(apiKey)),
		log:    log,
		done:   make(chan struct{}),
	}

	if _, err := m.client.Health(); err != nil {
		log.Warn("meilisearch unavailable", logger.String("url", url), logger.Error(err))
		m.healthy.Store(false)
	} else {
		m.healthy.Store(true)
		m.configureIndex()
	}

	go m.healthLoop()
	return m
}

func (m *Meili) configureIndex() {
	if _, err := m.client.CreateIndex(&meili.IndexConfig{
		Uid:        idxMessages,
		PrimaryKey: "id",
	}); err != nil {
		m.log.Debug("create index (may already exist)", logger.String("index", idxMessages), logger.Error(err))
	}

	index := m.client.Index(idxMessages)
	filterable := make([]interface{}, len(filterableAttributes))
	for i, v := range filterableAttributes {
		filterable[i] = v
	}
	if _, err := index.UpdateFilterableAttributes(&filterable); err != nil {
		m.log.Warn("update filterable attributes", logger.String("index", idxMessages), logger.Error(err))
	}
	searchable := append([]string(nil), searchableAttributes...)
	if _, err := index.UpdateSearchableAttributes(&searchable); err != nil {
		m.log.Warn("update searchable attributes", logger.String("index", idxMessages), logger.Error(err))
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
				m.log.Info("meilisearch recovered, reconfiguring index")
				m.configureIndex()
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

func (m *Meili) IndexMessages(records []MessageRecord) error {
	if len(records) == 0 {
		return nil
	}
	if _, err := m.client.Index(idxMessages).AddDocuments(records, nil); err != nil {
		m.healthy.Store(false)
		return err
	}
	return nil
}

func (m *Meili) DeleteMessage(id string) error {
	_, err := m.client.Index(idxMessages).DeleteDocument(id, nil)
	return err
}
