package history

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"chatbridge/internal/bridge"
	"chatbridge/internal/protocol"
	"chatbridge/pkg/migration"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	d, err := migration.Open(filepath.Join(t.TempDir(), "chatbridge.db"))
	if err != nil {
		t.Fatalf("open database: %v", err)
	}
	t.Cleanup(func() { d.Close() })
	return NewStore(d)
}

func TestRecordAndGetStreamExchange(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	units := []protocol.StreamUnit{
		protocol.NewContentUnit("a"),
		protocol.NewContentUnit("b"),
		protocol.NewDoneUnit(true),
	}
	started := time.Now().Add(-time.Second)
	ex := StreamExchange("", "hello", started, units, bridge.StreamStats{Delivered: 3, Dropped: 1}, nil)
	if !ex.Success || ex.Response != "ab" {
		t.Fatalf("unexpected exchange %+v", ex)
	}

	if err := store.Record(ctx, &ex); err != nil {
		t.Fatalf("Record failed: %v", err)
	}
	if ex.ID == "" {
		t.Fatalf("Record should assign an id")
	}

	got, err := store.Get(ctx, ex.ID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.Mode != ModeStream || got.Message != "hello" || got.Response != "ab" || got.Dropped != 1 {
		t.Fatalf("unexpected stored exchange %+v", got)
	}
	if len(got.Units) != 3 {
		t.Fatalf("expected 3 units, got %d", len(got.Units))
	}
	if got.Units[0].ContentText() != "a" || got.Units[2].Kind != protocol.KindDone || !*got.Units[2].Success {
		t.Fatalf("units not restored in order: %+v", got.Units)
	}
	if got.StartedAt.UnixMilli() != started.UnixMilli() {
		t.Fatalf("start time not preserved")
	}
}

func TestSyncExchangeFromError(t *testing.T) {
	err := &bridge.Error{Kind: bridge.KindExecutionFailed, Stderr: "Traceback\n", ExitCode: 1}
	ex := SyncExchange("id-1", "hello", time.Now(), protocol.ChatResult{}, err)
	if ex.Success {
		t.Fatalf("failed invocation should not be successful")
	}
	if ex.ErrorKind != "process_execution_failed" {
		t.Fatalf("unexpected error kind %q", ex.ErrorKind)
	}
	if ex.Error != "chat handler failed: Traceback" || ex.ExitCode != 1 {
		t.Fatalf("unexpected error fields %+v", ex)
	}
}

func TestSyncExchangeFromResult(t *testing.T) {
	msg := "upstream unavailable"
	ex := SyncExchange("id-2", "hello", time.Now(), protocol.ChatResult{Success: false, Error: &msg}, nil)
	if ex.Success || ex.Error != msg || ex.ErrorKind != "" {
		t.Fatalf("unexpected exchange %+v", ex)
	}
}

func TestStreamExchangeErrorUnit(t *testing.T) {
	units := []protocol.StreamUnit{protocol.NewContentUnit("par"), protocol.NewErrorUnit("rate limited")}
	ex := StreamExchange("id-3", "hello", time.Now(), units, bridge.StreamStats{}, nil)
	if ex.Success || ex.Error != "rate limited" || ex.Response != "par" {
		t.Fatalf("unexpected exchange %+v", ex)
	}
}

func TestListNewestFirst(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	base := time.Now().Add(-time.Hour)

	for i, msg := range []string{"first", "second", "third"} {
		ex := Exchange{
			Mode:       ModeSync,
			Message:    msg,
			Success:    true,
			StartedAt:  base.Add(time.Duration(i) * time.Minute),
			FinishedAt: base.Add(time.Duration(i)*time.Minute + time.Second),
		}
		if err := store.Record(ctx, &ex); err != nil {
			t.Fatalf("Record failed: %v", err)
		}
	}

	list, err := store.List(ctx, 2)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(list) != 2 || list[0].Message != "third" || list[1].Message != "second" {
		t.Fatalf("unexpected order %+v", list)
	}
	if list[0].Duration() != time.Second {
		t.Fatalf("unexpected duration %v", list[0].Duration())
	}
}

func TestGetByPrefix(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	for _, id := range []string{"abc-1", "abd-2"} {
		ex := Exchange{ID: id, Message: id, StartedAt: time.Now(), FinishedAt: time.Now()}
		if err := store.Record(ctx, &ex); err != nil {
			t.Fatalf("Record failed: %v", err)
		}
	}

	got, err := store.Get(ctx, "abc")
	if err != nil || got.ID != "abc-1" {
		t.Fatalf("expected abc-1, got %+v (%v)", got, err)
	}
	if _, err := store.Get(ctx, "ab"); !errors.Is(err, ErrAmbiguous) {
		t.Fatalf("expected ErrAmbiguous, got %v", err)
	}
	if _, err := store.Get(ctx, "zzz"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestClear(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	ex := StreamExchange("", "hello", time.Now(), []protocol.StreamUnit{protocol.NewDoneUnit(true)}, bridge.StreamStats{}, nil)
	if err := store.Record(ctx, &ex); err != nil {
		t.Fatalf("Record failed: %v", err)
	}

	removed, err := store.Clear(ctx)
	if err != nil {
		t.Fatalf("Clear failed: %v", err)
	}
	if removed != 1 {
		t.Fatalf("expected 1 removed, got %d", removed)
	}
	list, err := store.List(ctx, 10)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(list) != 0 {
		t.Fatalf("expected empty history, got %d", len(list))
	}
}
