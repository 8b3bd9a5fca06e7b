package storage

import (
	"errors"
	"time"
)

var ErrDisabled = errors.New("storage disabled")

// Config configures storage.
//
// Driver values:
//   - "file": dependency-free file backend (jsonl + snapshot)
//   - "sqlite": SQLite database file (optional build tag)
//
// If Driver is empty or "none", storage is disabled.
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// DeliveryRecord is one provider delivery attempt.
// Keep it compact and schema-stable.
type DeliveryRecord struct {
	At            time.Time
	CorrelationID string
	EventType     string
	Provider      string
	Success       bool
	ShouldRetry   bool
	Error         string
	TookMS        int64
}

// RunState snapshots an in-flight move so a restarted daemon can resume
// progress accounting instead of re-baselining mid-move.
type RunState struct {
	Active        bool
	StartedAt     time.Time
	InitialUsed   uint64
	LastPercent   float64
	LastThreshold int
	UpdatedAt     time.Time
}
