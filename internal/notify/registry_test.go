package notify

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// mockProvider is a configurable test double.
type mockProvider struct {
	name  string
	delay time.Duration
	err   error
	fail  bool
	panic bool

	calls atomic.Int64

	mu     sync.Mutex
	seenID string // correlation id observed during the last send
}

func (p *mockProvider) SendNotification(ctx context.Context, data *Data) (*Result, error) {
	p.calls.Add(1)
	p.mu.Lock()
	p.seenID = CorrelationID(ctx)
	p.mu.Unlock()
	if p.panic {
		panic("provider exploded")
	}
	if p.delay > 0 {
		select {
		case <-time.After(p.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if p.err != nil {
		return nil, p.err
	}
	if p.fail {
		return &Result{Success: false, ProviderName: p.name, ErrorMessage: "delivery rejected"}, nil
	}
	return &Result{Success: true, ProviderName: p.name}, nil
}

func (p *mockProvider) ValidateConfig() error { return nil }

func (p *mockProvider) HealthCheck(ctx context.Context) HealthStatus {
	return HealthStatus{Healthy: true, LastCheck: time.Now()}
}

func (p *mockProvider) observedID() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.seenID
}

func TestRegistryCRUD(t *testing.T) {
	t.Parallel()
	r := NewRegistry(3)

	if err := r.Register("discord", &mockProvider{name: "discord"}); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if err := r.Register("discord", &mockProvider{name: "discord"}); err == nil {
		t.Fatal("duplicate Register succeeded, want error")
	}
	// identifiers are normalized before lookup
	if err := r.Register("  Telegram ", &mockProvider{name: "telegram"}); err != nil {
		t.Fatalf("Register normalized: %v", err)
	}
	if _, err := r.Get("TELEGRAM"); err != nil {
		t.Fatalf("Get normalized: %v", err)
	}

	ids := r.Identifiers()
	if len(ids) != 2 || ids[0] != "discord" || ids[1] != "telegram" {
		t.Fatalf("Identifiers = %v", ids)
	}

	if err := r.Unregister("discord"); err != nil {
		t.Fatalf("Unregister: %v", err)
	}
	if _, err := r.Get("discord"); err == nil {
		t.Fatal("Get after Unregister succeeded")
	}

	var re *RegistryError
	if err := r.Unregister("discord"); !errors.As(err, &re) {
		t.Fatalf("Unregister unknown: err = %v, want *RegistryError", err)
	}
}

func TestRegistryUnknownIdentifierErrors(t *testing.T) {
	t.Parallel()
	r := NewRegistry(3)
	if err := r.RecordSuccess("ghost"); err == nil {
		t.Fatal("RecordSuccess(ghost) succeeded")
	}
	if err := r.RecordFailure("ghost", "x"); err == nil {
		t.Fatal("RecordFailure(ghost) succeeded")
	}
	if _, err := r.GetHealth("ghost"); err == nil {
		t.Fatal("GetHealth(ghost) succeeded")
	}
	if err := r.UpdateHealth("ghost", HealthStatus{}); err == nil {
		t.Fatal("UpdateHealth(ghost) succeeded")
	}
}

func TestBreakerThreshold(t *testing.T) {
	t.Parallel()
	r := NewRegistry(3)
	if err := r.Register("discord", &mockProvider{name: "discord"}); err != nil {
		t.Fatalf("Register: %v", err)
	}

	// unknown health record is innocent until proven guilty
	h, err := r.GetHealth("discord")
	if err != nil {
		t.Fatalf("GetHealth: %v", err)
	}
	if !h.Healthy || h.ConsecutiveFailures != 0 {
		t.Fatalf("initial health = %+v", h)
	}

	for i := 1; i <= 2; i++ {
		if err := r.RecordFailure("discord", "boom"); err != nil {
			t.Fatalf("RecordFailure: %v", err)
		}
		h, _ = r.GetHealth("discord")
		if !h.Healthy {
			t.Fatalf("unhealthy after %d failures with threshold 3", i)
		}
		if h.ConsecutiveFailures != i {
			t.Fatalf("ConsecutiveFailures = %d, want %d", h.ConsecutiveFailures, i)
		}
	}

	// third failure crosses the threshold
	if err := r.RecordFailure("discord", "boom"); err != nil {
		t.Fatalf("RecordFailure: %v", err)
	}
	h, _ = r.GetHealth("discord")
	if h.Healthy || h.ConsecutiveFailures != 3 {
		t.Fatalf("health after threshold = %+v", h)
	}
	if h.ErrorMessage != "boom" {
		t.Fatalf("ErrorMessage = %q", h.ErrorMessage)
	}

	if got := r.UnhealthyProviders(); len(got) != 1 || got[0].Identifier != "discord" {
		t.Fatalf("UnhealthyProviders = %+v", got)
	}
	if got := r.HealthyProviders(); len(got) != 0 {
		t.Fatalf("HealthyProviders = %+v", got)
	}

	// explicit success resets the breaker
	if err := r.RecordSuccess("discord"); err != nil {
		t.Fatalf("RecordSuccess: %v", err)
	}
	h, _ = r.GetHealth("discord")
	if !h.Healthy || h.ConsecutiveFailures != 0 {
		t.Fatalf("health after reset = %+v", h)
	}
	if got := r.HealthyProviders(); len(got) != 1 {
		t.Fatalf("HealthyProviders after reset = %+v", got)
	}
}

func TestSuccessAfterNearThresholdResets(t *testing.T) {
	t.Parallel()
	r := NewRegistry(3)
	if err := r.Register("tg", &mockProvider{name: "tg"}); err != nil {
		t.Fatalf("Register: %v", err)
	}
	_ = r.RecordFailure("tg", "1")
	_ = r.RecordFailure("tg", "2")
	if err := r.RecordSuccess("tg"); err != nil {
		t.Fatalf("RecordSuccess: %v", err)
	}
	h, _ := r.GetHealth("tg")
	if !h.Healthy || h.ConsecutiveFailures != 0 {
		t.Fatalf("health = %+v, want reset", h)
	}
}

func TestThresholdClamping(t *testing.T) {
	t.Parallel()
	r := NewRegistry(0)
	if err := r.Register("p", &mockProvider{name: "p"}); err != nil {
		t.Fatalf("Register: %v", err)
	}
	// clamped threshold 1: first failure trips the breaker
	_ = r.RecordFailure("p", "x")
	h, _ := r.GetHealth("p")
	if h.Healthy {
		t.Fatal("threshold 0 should clamp to 1")
	}
}

func TestRegistryConcurrentRecords(t *testing.T) {
	t.Parallel()
	r := NewRegistry(1000)
	if err := r.Register("p", &mockProvider{name: "p"}); err != nil {
		t.Fatalf("Register: %v", err)
	}

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = r.RecordFailure("p", "concurrent")
		}()
	}
	wg.Wait()

	h, _ := r.GetHealth("p")
	if h.ConsecutiveFailures != 100 {
		t.Fatalf("ConsecutiveFailures = %d, want 100", h.ConsecutiveFailures)
	}
}
