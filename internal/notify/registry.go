package notify

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/engels74/mover-status-sub004/internal/eventbus"
	logx "github.com/engels74/mover-status-sub004/pkg/logx"
)

// RegistryError reports a registry operation referencing an unknown (or
// duplicated) identifier. This is a wiring bug in the caller, not a
// runtime delivery condition, so it surfaces as an error.
type RegistryError struct {
	Op         string
	Identifier string
	Reason     string
}

func (e *RegistryError) Error() string {
	return fmt.Sprintf("provider registry: %s %q: %s", e.Op, e.Identifier, e.Reason)
}

// Registered pairs a provider with the identifier it was registered
// under.
type Registered struct {
	Identifier string
	Provider   Provider
}

// Registry stores instantiated providers and their circuit-breaker
// health records. All methods are safe for concurrent use; health is
// mutated only through RecordSuccess/RecordFailure/UpdateHealth.
//
// The breaker is purely passive: an unhealthy provider rejoins the
// healthy pool only via an explicit RecordSuccess, never by timer.
type Registry struct {
	mu        sync.RWMutex
	providers map[string]Provider
	health    map[string]HealthStatus
	threshold int

	log logx.Logger
	bus eventbus.Bus
}

type RegistryOption func(*Registry)

func WithRegistryLogger(log logx.Logger) RegistryOption {
	return func(r *Registry) { r.log = log }
}

func WithRegistryBus(bus eventbus.Bus) RegistryOption {
	return func(r *Registry) { r.bus = bus }
}

// NewRegistry constructs a registry with the given consecutive-failure
// threshold. Thresholds below 1 are clamped to 1.
func NewRegistry(unhealthyThreshold int, opts ...RegistryOption) *Registry {
	if unhealthyThreshold < 1 {
		unhealthyThreshold = 1
	}
	r := &Registry{
		providers: make(map[string]Provider),
		health:    make(map[string]HealthStatus),
		threshold: unhealthyThreshold,
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

func normalizeID(id string) string {
	return strings.ToLower(strings.TrimSpace(id))
}

// Register stores a provider under its identifier. Duplicate
// registration is an error.
func (r *Registry) Register(id string, p Provider) error {
	id = normalizeID(id)
	if id == "" {
		return &RegistryError{Op: "register", Identifier: id, Reason: "empty identifier"}
	}
	if p == nil {
		return &RegistryError{Op: "register", Identifier: id, Reason: "nil provider"}
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.providers[id]; exists {
		return &RegistryError{Op: "register", Identifier: id, Reason: "already registered"}
	}
	r.providers[id] = p
	if !r.log.IsZero() {
		r.log.Info("provider registered", logx.String("provider", id))
	}
	return nil
}

// Unregister removes a provider and its health record.
func (r *Registry) Unregister(id string) error {
	id = normalizeID(id)
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.providers[id]; !exists {
		return &RegistryError{Op: "unregister", Identifier: id, Reason: "not found"}
	}
	delete(r.providers, id)
	delete(r.health, id)
	return nil
}

func (r *Registry) Get(id string) (Provider, error) {
	id = normalizeID(id)
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.providers[id]
	if !ok {
		return nil, &RegistryError{Op: "get", Identifier: id, Reason: "not found"}
	}
	return p, nil
}

// Identifiers returns all registered identifiers sorted for determinism.
func (r *Registry) Identifiers() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.providers))
	for id := range r.providers {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// All returns every registered provider sorted by identifier.
func (r *Registry) All() []Registered {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.sortedLocked(func(HealthStatus, bool) bool { return true })
}

// GetHealth returns a provider's health record. A provider that has
// never been recorded against reports healthy with zero failures.
func (r *Registry) GetHealth(id string) (HealthStatus, error) {
	id = normalizeID(id)
	r.mu.RLock()
	defer r.mu.RUnlock()
	if _, ok := r.providers[id]; !ok {
		return HealthStatus{}, &RegistryError{Op: "get_health", Identifier: id, Reason: "not found"}
	}
	if h, ok := r.health[id]; ok {
		return h, nil
	}
	return HealthStatus{Healthy: true}, nil
}

// UpdateHealth replaces a provider's health record wholesale.
func (r *Registry) UpdateHealth(id string, h HealthStatus) error {
	id = normalizeID(id)
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.providers[id]; !ok {
		return &RegistryError{Op: "update_health", Identifier: id, Reason: "not found"}
	}
	r.health[id] = h
	return nil
}

// RecordSuccess resets a provider's breaker: healthy, zero consecutive
// failures.
func (r *Registry) RecordSuccess(id string) error {
	id = normalizeID(id)
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.providers[id]; !ok {
		return &RegistryError{Op: "record_success", Identifier: id, Reason: "not found"}
	}
	prev, had := r.health[id]
	r.health[id] = HealthStatus{Healthy: true, LastCheck: time.Now(), ConsecutiveFailures: 0}
	if had && !prev.Healthy {
		if !r.log.IsZero() {
			r.log.Info("provider recovered", logx.String("provider", id))
		}
		r.publish(eventbus.TypeProviderRecovered, id, 0)
	}
	return nil
}

// RecordFailure increments a provider's consecutive-failure counter.
// The provider stays healthy while the counter is below the threshold.
func (r *Registry) RecordFailure(id, errMsg string) error {
	id = normalizeID(id)
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.providers[id]; !ok {
		return &RegistryError{Op: "record_failure", Identifier: id, Reason: "not found"}
	}
	prev, had := r.health[id]
	wasHealthy := !had || prev.Healthy
	h := prev
	h.ConsecutiveFailures++
	h.Healthy = h.ConsecutiveFailures < r.threshold
	h.LastCheck = time.Now()
	h.ErrorMessage = errMsg
	r.health[id] = h
	if wasHealthy && !h.Healthy {
		if !r.log.IsZero() {
			r.log.Warn("provider marked unhealthy",
				logx.String("provider", id),
				logx.Int("consecutive_failures", h.ConsecutiveFailures),
				logx.Int("threshold", r.threshold),
			)
		}
		r.publish(eventbus.TypeProviderUnhealthy, id, h.ConsecutiveFailures)
	}
	return nil
}

// HealthyProviders returns providers currently eligible for dispatch:
// no health record yet, or an explicitly healthy one.
func (r *Registry) HealthyProviders() []Registered {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.sortedLocked(func(h HealthStatus, has bool) bool { return !has || h.Healthy })
}

// UnhealthyProviders returns providers excluded by the breaker.
func (r *Registry) UnhealthyProviders() []Registered {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.sortedLocked(func(h HealthStatus, has bool) bool { return has && !h.Healthy })
}

func (r *Registry) sortedLocked(keep func(h HealthStatus, has bool) bool) []Registered {
	out := make([]Registered, 0, len(r.providers))
	for id, p := range r.providers {
		h, has := r.health[id]
		if keep(h, has) {
			out = append(out, Registered{Identifier: id, Provider: p})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Identifier < out[j].Identifier })
	return out
}

func (r *Registry) publish(typ, id string, failures int) {
	if r.bus == nil {
		return
	}
	r.bus.Publish(eventbus.Event{Type: typ, Data: map[string]any{
		"provider":             id,
		"consecutive_failures": failures,
	}})
}
