package telemetry

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/louisbranch/tablesync/internal/docstore/bbolt"
)

func openStore(t *testing.T) *bbolt.Store {
	t.Helper()
	store, err := bbolt.Open(filepath.Join(t.TempDir(), "telemetry.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func TestEmitterNoopWhenNil(t *testing.T) {
	var emitter *Emitter
	if err := emitter.Emit(context.Background(), Event{Name: "noop"}); err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
}

func TestEmitterNoopWhenStoreNil(t *testing.T) {
	emitter := NewEmitter(nil, nil, nil)
	if err := emitter.Emit(context.Background(), Event{Name: "noop"}); err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
}

func TestEmitterStampsTimestampAndSeverity(t *testing.T) {
	store := openStore(t)
	clockTime := time.Date(2026, 2, 1, 10, 0, 0, 0, time.UTC)
	n := 0
	emitter := NewEmitter(store, func() time.Time { return clockTime }, func() (string, error) {
		n++
		return "evt-1", nil
	})

	if err := emitter.Emit(context.Background(), Event{Name: "session.join", Attrs: map[string]string{"code": "c1"}}); err != nil {
		t.Fatalf("emit: %v", err)
	}

	fields, err := store.Doc("telemetry/evt-1").Get(context.Background())
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if fields["name"] != "session.join" {
		t.Fatalf("expected event name persisted, got %v", fields["name"])
	}
	if fields["severity"] != string(SeverityInfo) {
		t.Fatalf("expected default severity, got %v", fields["severity"])
	}
	if fields["timestamp"] != clockTime.Format(time.RFC3339Nano) {
		t.Fatalf("expected injected clock timestamp, got %v", fields["timestamp"])
	}
	attrs, ok := fields["attrs"].(map[string]any)
	if !ok || attrs["code"] != "c1" {
		t.Fatalf("expected attrs persisted, got %v", fields["attrs"])
	}
}

func TestEmitterPreservesExplicitTimestamp(t *testing.T) {
	store := openStore(t)
	clockTime := time.Date(2026, 2, 1, 10, 0, 0, 0, time.UTC)
	setTime := time.Date(2026, 2, 1, 12, 0, 0, 0, time.UTC)
	emitter := NewEmitter(store, func() time.Time { return clockTime }, func() (string, error) {
		return "evt-2", nil
	})

	if err := emitter.Emit(context.Background(), Event{Name: "session.ban", Severity: SeverityWarn, Timestamp: setTime}); err != nil {
		t.Fatalf("emit: %v", err)
	}

	fields, err := store.Doc("telemetry/evt-2").Get(context.Background())
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if fields["timestamp"] != setTime.Format(time.RFC3339Nano) {
		t.Fatalf("expected explicit timestamp kept, got %v", fields["timestamp"])
	}
	if fields["severity"] != string(SeverityWarn) {
		t.Fatalf("expected explicit severity kept, got %v", fields["severity"])
	}
}
