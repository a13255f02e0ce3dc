package search

import (
	"context"
	"sync"
	"time"

	"forum/api/internal/logger"
)

// RecordLoader reads what should be indexed for a message.
type RecordLoader interface {
	LoadMessage(ctx context.Context, messageID int64) (MessageRecord, error)
	LoadAll(ctx context.Context) ([]MessageRecord, error)
}

type recorder interface {
	Notification(sink, result string)
}

const (
	sinkName      = "search"
	reindexBatch  = 500
	updateTimeout = 30 * time.Second
)

// Service pushes message changes into the search index. Notifications are
// fire-and-forget: failures are logged and never reach the caller.
type Service struct {
	backend Backend
	loader  RecordLoader
	log     logger.Logger
	metrics recorder
	wg      sync.WaitGroup
}

// NewService creates a search service. backend may be nil when no search
// server is configured; every call is then a no-op.
func NewService(backend Backend, loader RecordLoader, log logger.Logger, metrics recorder) *Service {
	if log == nil {
		log = logger.NewNop()
	}
	return &Service{backend: backend, loader: loader, log: log, metrics: metrics}
}

func (s *Service) enabled() bool {
	return s.backend != nil && s.loader != nil && s.backend.Healthy()
}

// MessageUpdated re-indexes one message in the background. Deleted
// messages are removed from the index.
func (s *Service) MessageUpdated(messageID int64) {
	if !s.enabled() {
		s.record("skipped")
		return
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), updateTimeout)
		defer cancel()

		if err := s.update(ctx, messageID); err != nil {
			s.log.Warn("search index update failed", logger.Int64("message_id", messageID), logger.Error(err))
			s.record("error")
			return
		}
		s.record("ok")
	}()
}

func (s *Service) update(ctx context.Context, messageID int64) error {
	record, err := s.loader.LoadMessage(ctx, messageID)
	if err != nil {
		return err
	}
	if record.Deleted {
		return s.backend.DeleteMessage(record.ID)
	}
	return s.backend.IndexMessages([]MessageRecord{record})
}

// Reindex pushes every live message to the index in batches.
func (s *Service) Reindex(ctx context.Context) error {
	if !s.enabled() {
		return nil
	}
	records, err := s.loader.LoadAll(ctx)
	if err != nil {
		return err
	}
	for start := 0; start < len(records); start += reindexBatch {
		end := min(start+reindexBatch, len(records))
		if err := s.backend.IndexMessages(records[start:end]); err != nil {
			return err
		}
	}
	s.log.Info("search reindex finished", logger.Int("messages", len(records)))
	return nil
}

// Wait blocks until pending background updates finish.
func (s *Service) Wait() {
	s.wg.Wait()
}

func (s *Service) record(result string) {
	if s.metrics != nil {
		s.metrics.Notification(sinkName, result)
	}
}
