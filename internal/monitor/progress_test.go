package monitor

import (
	"testing"
	"time"

	"github.com/engels74/mover-status-sub004/internal/notify"
)

func TestComputeProgress(t *testing.T) {
	t.Parallel()
	now := time.Now()
	const gib = uint64(1) << 30

	tests := []struct {
		name        string
		initial     uint64
		current     uint64
		elapsed     time.Duration
		percent     float64
		moved       uint64
		remaining   uint64
		wantRate    bool
		wantETC     bool
	}{
		{name: "half done", initial: 100 * gib, current: 50 * gib, elapsed: 100 * time.Second,
			percent: 50, moved: 50 * gib, remaining: 50 * gib, wantRate: true, wantETC: true},
		{name: "just started", initial: 100 * gib, current: 100 * gib, elapsed: time.Second,
			percent: 0, moved: 0, remaining: 100 * gib},
		{name: "finished", initial: 100 * gib, current: 0, elapsed: 200 * time.Second,
			percent: 100, moved: 100 * gib, remaining: 0, wantRate: true},
		{name: "empty cache", initial: 0, current: 0, elapsed: time.Second, percent: 100},
		{name: "usage grew mid-move", initial: 100 * gib, current: 120 * gib, elapsed: time.Second,
			percent: 0, moved: 0, remaining: 100 * gib},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			p := ComputeProgress(tt.initial, tt.current, tt.elapsed, now)
			if p.Percent != tt.percent {
				t.Fatalf("Percent = %v, want %v", p.Percent, tt.percent)
			}
			if p.MovedBytes != tt.moved {
				t.Fatalf("MovedBytes = %d, want %d", p.MovedBytes, tt.moved)
			}
			if p.RemainingBytes != tt.remaining {
				t.Fatalf("RemainingBytes = %d, want %d", p.RemainingBytes, tt.remaining)
			}
			if tt.wantRate != (p.Rate > 0) {
				t.Fatalf("Rate = %v, wantRate %v", p.Rate, tt.wantRate)
			}
			if tt.wantETC != (p.ETC != nil) {
				t.Fatalf("ETC = %v, wantETC %v", p.ETC, tt.wantETC)
			}
		})
	}
}

func TestComputeProgressETC(t *testing.T) {
	t.Parallel()
	now := time.Now()
	const gib = uint64(1) << 30
	// 50 GiB in 100s → 0.5 GiB/s; 50 GiB remaining → ETC = now + 100s
	p := ComputeProgress(100*gib, 50*gib, 100*time.Second, now)
	if p.ETC == nil {
		t.Fatal("ETC missing")
	}
	want := now.Add(100 * time.Second)
	if d := p.ETC.Sub(want); d < -time.Second || d > time.Second {
		t.Fatalf("ETC = %v, want ~%v", p.ETC, want)
	}
}

func TestProgressData(t *testing.T) {
	t.Parallel()
	const gib = uint64(1) << 30
	now := time.Now()
	p := ComputeProgress(4*gib, 1*gib, 60*time.Second, now)
	d := p.Data(notify.EventProgress)
	if d.EventType != notify.EventProgress {
		t.Fatalf("EventType = %q", d.EventType)
	}
	if d.Percent != 75 {
		t.Fatalf("Percent = %v, want 75", d.Percent)
	}
	if d.Total != "4.0 GiB" || d.Moved != "3.0 GiB" || d.Remaining != "1.0 GiB" {
		t.Fatalf("sizes = %q/%q/%q", d.Total, d.Moved, d.Remaining)
	}
}

func TestFormatBytes(t *testing.T) {
	t.Parallel()
	tests := []struct {
		in   uint64
		want string
	}{
		{0, "0 B"},
		{512, "512 B"},
		{1024, "1.0 KiB"},
		{1536, "1.5 KiB"},
		{1 << 20, "1.0 MiB"},
		{5 * (1 << 30), "5.0 GiB"},
		{3 * (1 << 40), "3.0 TiB"},
	}
	for _, tt := range tests {
		if got := FormatBytes(tt.in); got != tt.want {
			t.Fatalf("FormatBytes(%d) = %q, want %q", tt.in, got, tt.want)
		}
	}

	if got := FormatRate(0); got != "0 B/s" {
		t.Fatalf("FormatRate(0) = %q", got)
	}
	if got := FormatRate(256 * (1 << 20)); got != "256.0 MiB/s" {
		t.Fatalf("FormatRate = %q", got)
	}
}
