package eventbus

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func testConfig(t *testing.T, capacity int) Config {
	t.Helper()
	dir := t.TempDir()
	return Config{
		QueueCapacity: capacity,
		WALDir:        dir,
		WALMaxSizeMB:  10,
		WALMaxBackups: 3,
		WALMaxAgeDays: 7,
	}
}

func TestEmitConsumeRoundTrip(t *testing.T) {
	cfg := testConfig(t, 100)
	bus := NewBus(cfg, "cluster-a", zerolog.Nop())
	defer bus.Close()

	ev := Event{EventID: "det-1", Env: "prod", Severity: 0.8, FirstSeenUTC: 1000}
	if err := bus.Emit(context.Background(), ev); err != nil {
		t.Fatalf("Emit: %v", err)
	}

	batch, err := bus.Consume(context.Background(), 10, time.Second)
	if err != nil {
		t.Fatalf("Consume: %v", err)
	}
	if len(batch.Learning) != 1 {
		t.Fatalf("expected 1 learning event, got %d", len(batch.Learning))
	}
}

func TestConsumeRoutesTopicsBySubstring(t *testing.T) {
	cfg := testConfig(t, 100)
	bus := NewBus(cfg, "cluster-a", zerolog.Nop())
	defer bus.Close()

	events := []Event{
		{EventID: "promotion-evt-1", Env: "prod"},
		{EventID: "federation-evt-1", Env: "prod"},
		{EventID: "plain-evt-1", Env: "prod"},
	}
	for _, e := range events {
		if err := bus.Emit(context.Background(), e); err != nil {
			t.Fatalf("Emit: %v", err)
		}
	}

	batch, err := bus.Consume(context.Background(), 10, time.Second)
	if err != nil {
		t.Fatalf("Consume: %v", err)
	}
	if len(batch.Promotion) != 1 || len(batch.Federation) != 1 || len(batch.Learning) != 1 {
		t.Fatalf("unexpected topic split: %+v", batch)
	}
}

func TestEmitDropsNewestOnOverflow(t *testing.T) {
	cfg := testConfig(t, 2)
	bus := NewBus(cfg, "cluster-a", zerolog.Nop())
	defer bus.Close()

	for i := 0; i < 3; i++ {
		if err := bus.Emit(context.Background(), Event{EventID: "evt", Env: "prod"}); err != nil {
			t.Fatalf("Emit %d: %v", i, err)
		}
	}
	if bus.Size() != 2 {
		t.Fatalf("expected queue capped at capacity 2, got %d", bus.Size())
	}
}

func TestConsumeTimesOutWithEmptyQueue(t *testing.T) {
	cfg := testConfig(t, 10)
	bus := NewBus(cfg, "cluster-a", zerolog.Nop())
	defer bus.Close()

	start := timeNow()
	batch, err := bus.Consume(context.Background(), 10, 50*time.Millisecond)
	if err != nil {
		t.Fatalf("Consume: %v", err)
	}
	if batch.Len() != 0 {
		t.Fatalf("expected empty batch on timeout, got %d", batch.Len())
	}
	if timeNow().Sub(start) < 40*time.Millisecond {
		t.Fatalf("expected consume to actually wait for the timeout")
	}
}

func TestQueueAgeSecondsReflectsOldestEvent(t *testing.T) {
	cfg := testConfig(t, 10)
	bus := NewBus(cfg, "cluster-a", zerolog.Nop())
	defer bus.Close()

	if bus.QueueAgeSeconds() != 0 {
		t.Fatalf("expected zero age for empty queue")
	}
	old := timeNow().Add(-1 * time.Hour).Unix()
	if err := bus.Emit(context.Background(), Event{EventID: "evt", Env: "prod", FirstSeenUTC: old}); err != nil {
		t.Fatalf("Emit: %v", err)
	}
	if age := bus.QueueAgeSeconds(); age < 3500 {
		t.Fatalf("expected queue age near 3600s, got %f", age)
	}
}

func TestWALWritesOneLinePerEvent(t *testing.T) {
	cfg := testConfig(t, 10)
	bus := NewBus(cfg, "cluster-a", zerolog.Nop())

	for i := 0; i < 3; i++ {
		if err := bus.Emit(context.Background(), Event{EventID: "evt", Env: "prod"}); err != nil {
			t.Fatalf("Emit: %v", err)
		}
	}
	if err := bus.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	entries, err := os.ReadDir(cfg.WALDir)
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	found := false
	for _, ent := range entries {
		if filepath.Ext(ent.Name()) == ".jsonl" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected a .jsonl WAL file to be written, got %v", entries)
	}
}
