package audit_test

import (
	"path/filepath"
	"sync"
	"testing"

	"github.com/mkaratas/relaykit/audit"
)

type recordingSink struct {
	mu      sync.Mutex
	entries []string
}

func (s *recordingSink) Emit(event string, data map[string]any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries, event)
}

func (s *recordingSink) len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

func TestFileSinkEmitAndQuery(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.jsonl")
	sink, err := audit.NewFileSink(path)
	if err != nil {
		t.Fatal(err)
	}
	defer sink.Close()

	sink.Emit(audit.EventConfigUpdated, map[string]any{"code": "email_a"})
	sink.Emit(audit.EventConfigRolledBack, map[string]any{"code": "email_a"})
	sink.Emit(audit.EventConfigUpdated, map[string]any{"code": "email_b"})

	all, err := sink.Query(audit.QueryOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(all))
	}
	if all[0].Timestamp.IsZero() {
		t.Error("expected entry timestamps")
	}

	updated, err := sink.Query(audit.QueryOptions{Event: audit.EventConfigUpdated})
	if err != nil {
		t.Fatal(err)
	}
	if len(updated) != 2 {
		t.Errorf("expected 2 config update entries, got %d", len(updated))
	}
	if updated[0].Data["code"] != "email_a" || updated[1].Data["code"] != "email_b" {
		t.Errorf("unexpected entry data: %+v", updated)
	}

	recent, err := sink.Query(audit.QueryOptions{Hours: 1})
	if err != nil {
		t.Fatal(err)
	}
	if len(recent) != 3 {
		t.Errorf("fresh entries should pass the window filter, got %d", len(recent))
	}
}

func TestFileSinkPrune(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.jsonl")
	sink, err := audit.NewFileSink(path)
	if err != nil {
		t.Fatal(err)
	}
	defer sink.Close()

	sink.Emit(audit.EventHealthChecked, map[string]any{"code": "email_a"})

	// fresh entries survive pruning, and the reopened handle keeps appending
	if err := sink.Prune(7); err != nil {
		t.Fatal(err)
	}
	sink.Emit(audit.EventHealthChecked, map[string]any{"code": "email_b"})

	all, err := sink.Query(audit.QueryOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 2 {
		t.Errorf("expected 2 entries after prune, got %d", len(all))
	}

	if err := sink.Prune(0); err != nil {
		t.Errorf("zero retention should be a no-op, got %v", err)
	}
}

func TestAsyncSinkFlushesOnClose(t *testing.T) {
	inner := &recordingSink{}
	sink := audit.NewAsync(inner, 16)

	for i := 0; i < 10; i++ {
		sink.Emit(audit.EventHealthChecked, nil)
	}
	sink.Close()

	if inner.len() != 10 {
		t.Errorf("expected 10 flushed entries, got %d", inner.len())
	}

	// double close is safe
	sink.Close()
}
