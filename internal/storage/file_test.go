package storage

import (
	"bufio"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	logx "github.com/engels74/mover-status-sub004/pkg/logx"
)

func openTestStore(t *testing.T) (Store, string) {
	t.Helper()
	dir := t.TempDir()
	st, err := Open(Config{Driver: "file", Path: filepath.Join(dir, "store")}, logx.Nop())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	return st, dir
}

func TestOpenDisabled(t *testing.T) {
	t.Parallel()
	for _, driver := range []string{"", "none"} {
		st, err := Open(Config{Driver: driver}, logx.Nop())
		if err != nil || st != nil {
			t.Fatalf("Open(%q) = %v, %v; want nil, nil", driver, st, err)
		}
	}
	if _, err := Open(Config{Driver: "bogus", Path: "x"}, logx.Nop()); err == nil {
		t.Fatal("expected error for unknown driver")
	}
}

func TestAppendDelivery(t *testing.T) {
	t.Parallel()
	st, dir := openTestStore(t)
	ctx := context.Background()

	recs := []DeliveryRecord{
		{CorrelationID: "c1", EventType: "mover_progress", Provider: "discord", Success: true, TookMS: 42},
		{CorrelationID: "c1", EventType: "mover_progress", Provider: "telegram", Success: false, ShouldRetry: true, Error: "timed out", TookMS: 10000},
	}
	for _, r := range recs {
		if err := st.AppendDelivery(ctx, r); err != nil {
			t.Fatalf("AppendDelivery: %v", err)
		}
	}

	f, err := os.Open(filepath.Join(dir, "store.deliveries.jsonl"))
	if err != nil {
		t.Fatalf("open delivery log: %v", err)
	}
	defer f.Close()

	var got []DeliveryRecord
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		var r DeliveryRecord
		if err := json.Unmarshal(sc.Bytes(), &r); err != nil {
			t.Fatalf("bad jsonl line: %v", err)
		}
		got = append(got, r)
	}
	if len(got) != 2 {
		t.Fatalf("records = %d, want 2", len(got))
	}
	if got[0].Provider != "discord" || got[1].Error != "timed out" {
		t.Fatalf("unexpected records: %+v", got)
	}
	if got[0].At.IsZero() {
		t.Fatal("At not defaulted on append")
	}
}

func TestRunStateRoundTrip(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	path := filepath.Join(dir, "store")
	ctx := context.Background()

	st, err := Open(Config{Driver: "file", Path: path}, logx.Nop())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	if _, ok, err := st.GetRunState(ctx); err != nil || ok {
		t.Fatalf("GetRunState on fresh store = ok=%v err=%v", ok, err)
	}

	want := RunState{
		Active:        true,
		StartedAt:     time.Now().Add(-time.Minute).Truncate(time.Second),
		InitialUsed:   1 << 40,
		LastPercent:   42.5,
		LastThreshold: 50,
	}
	if err := st.PutRunState(ctx, want); err != nil {
		t.Fatalf("PutRunState: %v", err)
	}
	got, ok, err := st.GetRunState(ctx)
	if err != nil || !ok {
		t.Fatalf("GetRunState = ok=%v err=%v", ok, err)
	}
	if got.InitialUsed != want.InitialUsed || got.LastThreshold != want.LastThreshold {
		t.Fatalf("got %+v, want %+v", got, want)
	}
	if got.UpdatedAt.IsZero() {
		t.Fatal("UpdatedAt not defaulted")
	}
	if err := st.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	// run state survives a reopen
	st2, err := Open(Config{Driver: "file", Path: path}, logx.Nop())
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer st2.Close()
	got, ok, err = st2.GetRunState(ctx)
	if err != nil || !ok {
		t.Fatalf("GetRunState after reopen = ok=%v err=%v", ok, err)
	}
	if !got.Active || got.InitialUsed != want.InitialUsed {
		t.Fatalf("reloaded state = %+v", got)
	}
}
