package monitor

import (
	"fmt"
	"time"

	"github.com/engels74/mover-status-sub004/internal/notify"
)

// Progress is a pure snapshot of one move's advancement, derived from
// the cache usage at move start versus now.
type Progress struct {
	Percent        float64
	TotalBytes     uint64 // bytes the move started with
	MovedBytes     uint64
	RemainingBytes uint64
	Rate           float64 // bytes per second, 0 when elapsed is 0
	ETC            *time.Time
}

// ComputeProgress derives progress from two usage samples. initialUsed
// is the cache usage when the move began; currentUsed the latest sample.
// Usage can grow mid-move (new writes land on cache), in which case
// moved is clamped at 0 rather than going negative.
func ComputeProgress(initialUsed, currentUsed uint64, elapsed time.Duration, now time.Time) Progress {
	p := Progress{TotalBytes: initialUsed}
	if initialUsed == 0 {
		p.Percent = 100
		return p
	}

	var moved uint64
	if currentUsed < initialUsed {
		moved = initialUsed - currentUsed
	}
	p.MovedBytes = moved
	p.RemainingBytes = initialUsed - moved
	p.Percent = float64(moved) / float64(initialUsed) * 100

	if elapsed > 0 && moved > 0 {
		p.Rate = float64(moved) / elapsed.Seconds()
		if p.RemainingBytes > 0 {
			secs := float64(p.RemainingBytes) / p.Rate
			etc := now.Add(time.Duration(secs * float64(time.Second)))
			p.ETC = &etc
		}
	}
	return p
}

// Data renders the snapshot as a notification event of the given type.
func (p Progress) Data(eventType string) *notify.Data {
	return &notify.Data{
		EventType: eventType,
		Percent:   p.Percent,
		Remaining: FormatBytes(p.RemainingBytes),
		Moved:     FormatBytes(p.MovedBytes),
		Total:     FormatBytes(p.TotalBytes),
		Rate:      FormatRate(p.Rate),
		ETC:       p.ETC,
	}
}

// FormatBytes renders a byte count with IEC units.
func FormatBytes(n uint64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := uint64(unit), 0
	for v := n / unit; v >= unit; v /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}

// FormatRate renders a bytes-per-second rate with IEC units.
func FormatRate(bps float64) string {
	if bps <= 0 {
		return "0 B/s"
	}
	return FormatBytes(uint64(bps)) + "/s"
}
