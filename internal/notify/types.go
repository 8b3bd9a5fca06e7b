package notify

import (
	"context"
	"time"
)

// Event types carried by Data.EventType.
const (
	EventStarted   = "mover_started"
	EventProgress  = "mover_progress"
	EventCompleted = "mover_completed"
	EventSummary   = "mover_summary"
)

// Data is one notification event. The dispatcher assigns CorrelationID
// before any provider sees the event; everything else is set by the
// monitor when the event is produced.
type Data struct {
	EventType string  `json:"event_type"`
	Percent   float64 `json:"percent"`

	// Human-readable figures, preformatted by the monitor so providers
	// never redo unit math.
	Remaining string `json:"remaining"`
	Moved     string `json:"moved"`
	Total     string `json:"total"`
	Rate      string `json:"rate"`

	// ETC is the estimated completion time, when one can be computed.
	ETC *time.Time `json:"etc,omitempty"`

	CorrelationID string `json:"correlation_id,omitempty"`
}

// Result is the outcome of one provider's delivery attempt.
//
// ShouldRetry is advisory for a future retry layer; health accounting
// treats retryable and permanent failures identically.
type Result struct {
	Success       bool          `json:"success"`
	ProviderName  string        `json:"provider_name"`
	ErrorMessage  string        `json:"error_message,omitempty"`
	DeliveryTime  time.Duration `json:"delivery_time"`
	ShouldRetry   bool          `json:"should_retry"`
	CorrelationID string        `json:"correlation_id,omitempty"`
}

// HealthStatus is a provider's circuit-breaker record. It is written only
// by the registry; providers and the dispatcher read it.
type HealthStatus struct {
	Healthy             bool      `json:"healthy"`
	LastCheck           time.Time `json:"last_check"`
	ConsecutiveFailures int       `json:"consecutive_failures"`
	ErrorMessage        string    `json:"error_message,omitempty"`
}

// Provider is the delivery capability every plugin's factory must produce.
// Implementations must be safe for concurrent SendNotification calls and
// must honor ctx cancellation inside their network calls.
type Provider interface {
	SendNotification(ctx context.Context, data *Data) (*Result, error)
	ValidateConfig() error
	HealthCheck(ctx context.Context) HealthStatus
}
