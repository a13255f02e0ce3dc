package search

import (
	"context"
	"errors"
	"sync"
	"testing"
)

type fakeBackend struct {
	mu      sync.Mutex
	healthy bool
	indexed []MessageRecord
	deleted []string
	err     error
}

func (f *fakeBackend) IndexMessages(records []MessageRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.indexed = append(f.indexed, records...)
	return nil
}

func (f *fakeBackend) DeleteMessage(id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, id)
	return nil
}

func (f *fakeBackend) Healthy() bool { return f.healthy }

type fakeLoader struct {
	records map[int64]MessageRecord
}

func (f *fakeLoader) LoadMessage(_ context.Context, id int64) (MessageRecord, error) {
	record, ok := f.records[id]
	if !ok {
		return MessageRecord{}, errors.New("not found")
	}
	return record, nil
}

func (f *fakeLoader) LoadAll(_ context.Context) ([]MessageRecord, error) {
	out := make([]MessageRecord, 0, len(f.records))
	for _, record := range f.records {
		if !record.Deleted {
			out = append(out, record)
		}
	}
	return out, nil
}

type countingRecorder struct {
	mu     sync.Mutex
	counts map[string]int
}

func (c *countingRecorder) Notification(sink, result string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.counts == nil {
		c.counts = map[string]int{}
	}
	c.counts[sink+"/"+result]++
}

func TestMessageUpdatedIndexesAndDeletes(t *testing.T) {
	backend := &fakeBackend{healthy: true}
	loader := &fakeLoader{records: map[int64]MessageRecord{
		42: {ID: "42", Title: "New"},
		43: {ID: "43", Deleted: true},
	}}
	metrics := &countingRecorder{}
	svc := NewService(backend, loader, nil, metrics)

	svc.MessageUpdated(42)
	svc.MessageUpdated(43)
	svc.MessageUpdated(44)
	svc.Wait()

	if len(backend.indexed) != 1 || backend.indexed[0].ID != "42" {
		t.Fatalf("unexpected indexed records %+v", backend.indexed)
	}
	if len(backend.deleted) != 1 || backend.deleted[0] != "43" {
		t.Fatalf("unexpected deletes %v", backend.deleted)
	}
	if metrics.counts["search/ok"] != 2 || metrics.counts["search/error"] != 1 {
		t.Fatalf("unexpected metrics %v", metrics.counts)
	}
}

func TestMessageUpdatedSkipsWithoutHealthyBackend(t *testing.T) {
	metrics := &countingRecorder{}
	NewService(nil, &fakeLoader{}, nil, metrics).MessageUpdated(1)

	backend := &fakeBackend{healthy: false}
	svc := NewService(backend, &fakeLoader{records: map[int64]MessageRecord{1: {ID: "1"}}}, nil, metrics)
	svc.MessageUpdated(1)
	svc.Wait()

	if len(backend.indexed) != 0 {
		t.Fatalf("unhealthy backend must not be called, got %+v", backend.indexed)
	}
	if metrics.counts["search/skipped"] != 2 {
		t.Fatalf("unexpected metrics %v", metrics.counts)
	}
}

func TestReindexBatches(t *testing.T) {
	records := map[int64]MessageRecord{}
	for i := int64(1); i <= reindexBatch+10; i++ {
		records[i] = MessageRecord{ID: DocumentID(i)}
	}
	records[9999] = MessageRecord{ID: "9999", Deleted: true}
	backend := &fakeBackend{healthy: true}
	svc := NewService(backend, &fakeLoader{records: records}, nil, nil)

	if err := svc.Reindex(context.Background()); err != nil {
		t.Fatalf("Reindex() error = %v", err)
	}
	if len(backend.indexed) != reindexBatch+10 {
		t.Fatalf("expected %d records, got %d", reindexBatch+10, len(backend.indexed))
	}

	backend.err = errors.New("boom")
	if err := svc.Reindex(context.Background()); err == nil {
		t.Fatal("expected backend error")
	}
}
