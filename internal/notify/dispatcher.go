package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"runtime/debug"
	"sort"
	"sync"
	"time"

	"github.com/engels74/mover-status-sub004/internal/eventbus"
	logx "github.com/engels74/mover-status-sub004/pkg/logx"
)

const defaultProviderTimeout = 10 * time.Second

// Dispatcher fans one event out to every healthy registered provider
// concurrently, each send bounded by its own timeout, and records the
// outcome into the registry's health accounting.
//
// Dispatch never returns an error for provider-level failure; every
// outcome surfaces as a Result.
type Dispatcher struct {
	reg *Registry

	mu      sync.RWMutex
	timeout time.Duration
	dryRun  bool

	idFactory IDFactory
	log       logx.Logger
	bus       eventbus.Bus
	sanitize  func(string) string
}

type DispatcherOption func(*Dispatcher)

func WithTimeout(d time.Duration) DispatcherOption {
	return func(dp *Dispatcher) { dp.timeout = d }
}

func WithDryRun(on bool) DispatcherOption {
	return func(dp *Dispatcher) { dp.dryRun = on }
}

// WithIDFactory overrides correlation-id generation. For tests.
func WithIDFactory(fn IDFactory) DispatcherOption {
	return func(dp *Dispatcher) { dp.idFactory = fn }
}

func WithDispatcherLogger(log logx.Logger) DispatcherOption {
	return func(dp *Dispatcher) { dp.log = log }
}

func WithDispatcherBus(bus eventbus.Bus) DispatcherOption {
	return func(dp *Dispatcher) { dp.bus = bus }
}

// WithSanitizer scrubs secrets from provider failure text before it is
// logged or stored in a Result.
func WithSanitizer(fn func(string) string) DispatcherOption {
	return func(dp *Dispatcher) { dp.sanitize = fn }
}

func NewDispatcher(reg *Registry, opts ...DispatcherOption) *Dispatcher {
	d := &Dispatcher{
		reg:       reg,
		timeout:   defaultProviderTimeout,
		idFactory: NewCorrelationID,
	}
	for _, o := range opts {
		o(d)
	}
	if d.timeout <= 0 {
		d.timeout = defaultProviderTimeout
	}
	if d.idFactory == nil {
		d.idFactory = NewCorrelationID
	}
	return d
}

// Reconfigure applies a hot config change. Dispatches already in flight
// keep their snapshot of the old values.
func (d *Dispatcher) Reconfigure(timeout time.Duration, dryRun bool) {
	d.mu.Lock()
	if timeout > 0 {
		d.timeout = timeout
	}
	d.dryRun = dryRun
	d.mu.Unlock()
}

func (d *Dispatcher) snapshot() (time.Duration, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.timeout, d.dryRun
}

// Dispatch delivers data to every healthy provider and blocks until all
// sends have settled. Results are sorted by provider name; there is one
// per attempted provider even under total failure.
func (d *Dispatcher) Dispatch(ctx context.Context, data *Data) []Result {
	if data == nil {
		return nil
	}
	timeout, dryRun := d.snapshot()

	corrID := data.CorrelationID
	if corrID == "" {
		corrID = d.idFactory()
		data.CorrelationID = corrID
	}
	// Child context only: the caller's ambient correlation id (if any)
	// is untouched once Dispatch returns.
	dctx := WithCorrelationID(ctx, corrID)

	if dryRun {
		return d.dispatchDry(data, corrID)
	}

	targets := d.reg.HealthyProviders()
	if len(targets) == 0 {
		if !d.log.IsZero() {
			d.log.Warn("dispatch skipped: no healthy providers",
				logx.String("event", data.EventType),
				logx.String("correlation_id", corrID),
			)
		}
		return []Result{}
	}

	start := time.Now()
	results := make([]Result, len(targets))
	var wg sync.WaitGroup
	for i, target := range targets {
		wg.Add(1)
		go func(i int, target Registered) {
			defer wg.Done()
			results[i] = d.sendOne(dctx, target, data, timeout)
		}(i, target)
	}
	wg.Wait()

	sort.Slice(results, func(i, j int) bool { return results[i].ProviderName < results[j].ProviderName })

	succeeded := 0
	for _, r := range results {
		if r.Success {
			succeeded++
		}
	}
	if !d.log.IsZero() {
		d.log.Info("dispatch completed",
			logx.String("event", data.EventType),
			logx.String("correlation_id", corrID),
			logx.Int("providers", len(results)),
			logx.Int("succeeded", succeeded),
			logx.Duration("elapsed", time.Since(start)),
		)
	}
	d.publishCompleted(data.EventType, corrID, len(results), succeeded)
	return results
}

// sendOne runs a single provider send bounded by timeout. The provider
// call happens in an inner goroutine so a timeout can settle the result
// immediately; the context cancellation tears down the provider's
// in-flight transport rather than merely abandoning the wait.
func (d *Dispatcher) sendOne(ctx context.Context, target Registered, data *Data, timeout time.Duration) Result {
	id := target.Identifier
	start := time.Now()

	cctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type outcome struct {
		res *Result
		err error
	}
	done := make(chan outcome, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				if !d.log.IsZero() {
					d.log.Error("panic in provider send",
						logx.String("provider", id),
						logx.Any("panic", r),
						logx.String("stack", string(debug.Stack())),
					)
				}
				done <- outcome{err: fmt.Errorf("panic: %v", r)}
			}
		}()
		res, err := target.Provider.SendNotification(cctx, data)
		done <- outcome{res: res, err: err}
	}()

	var res Result
	select {
	case o := <-done:
		res = d.settle(id, o.res, o.err, time.Since(start), data.CorrelationID)
	case <-cctx.Done():
		elapsed := time.Since(start)
		msg := fmt.Sprintf("provider %q timed out after %s", id, timeout)
		if !errors.Is(cctx.Err(), context.DeadlineExceeded) {
			msg = fmt.Sprintf("provider %q canceled: %v", id, cctx.Err())
		}
		res = Result{
			Success:       false,
			ProviderName:  id,
			ErrorMessage:  msg,
			DeliveryTime:  elapsed,
			ShouldRetry:   true,
			CorrelationID: data.CorrelationID,
		}
	}

	d.recordOutcome(id, res)
	return res
}

// settle normalizes a completed provider call into a Result.
func (d *Dispatcher) settle(id string, res *Result, err error, elapsed time.Duration, corrID string) Result {
	switch {
	case err != nil:
		return Result{
			Success:       false,
			ProviderName:  id,
			ErrorMessage:  d.scrub(err.Error()),
			DeliveryTime:  elapsed,
			CorrelationID: corrID,
		}
	case res == nil:
		return Result{
			Success:       false,
			ProviderName:  id,
			ErrorMessage:  "provider returned no result",
			DeliveryTime:  elapsed,
			CorrelationID: corrID,
		}
	default:
		out := *res
		if out.ProviderName == "" {
			out.ProviderName = id
		}
		if out.DeliveryTime == 0 {
			out.DeliveryTime = elapsed
		}
		if out.ErrorMessage != "" {
			out.ErrorMessage = d.scrub(out.ErrorMessage)
		}
		out.CorrelationID = corrID
		return out
	}
}

func (d *Dispatcher) recordOutcome(id string, res Result) {
	var err error
	if res.Success {
		err = d.reg.RecordSuccess(id)
	} else {
		err = d.reg.RecordFailure(id, res.ErrorMessage)
	}
	if err != nil && !d.log.IsZero() {
		// Provider unregistered mid-dispatch; nothing to account against.
		d.log.Debug("health record skipped", logx.String("provider", id), logx.Any("err", err))
	}
}

// dispatchDry synthesizes one success per registered provider without
// touching any provider or health record. The payload is logged in the
// clear so operators can inspect exactly what would have been sent.
func (d *Dispatcher) dispatchDry(data *Data, corrID string) []Result {
	ids := d.reg.Identifiers()
	results := make([]Result, 0, len(ids))
	for _, id := range ids {
		results = append(results, Result{
			Success:       true,
			ProviderName:  id,
			DeliveryTime:  0,
			CorrelationID: corrID,
		})
	}
	if !d.log.IsZero() {
		payload, err := json.Marshal(data)
		if err != nil {
			payload = []byte(fmt.Sprintf("%+v", data))
		}
		d.log.Info("dry-run dispatch",
			logx.Bool("dry_run", true),
			logx.String("event", data.EventType),
			logx.String("correlation_id", corrID),
			logx.Int("providers", len(ids)),
			logx.String("payload", string(payload)),
		)
	}
	d.publishCompleted(data.EventType, corrID, len(results), len(results))
	return results
}

func (d *Dispatcher) scrub(s string) string {
	if d.sanitize == nil {
		return s
	}
	return d.sanitize(s)
}

func (d *Dispatcher) publishCompleted(event, corrID string, total, succeeded int) {
	if d.bus == nil {
		return
	}
	d.bus.Publish(eventbus.Event{Type: eventbus.TypeDispatchCompleted, Data: map[string]any{
		"event":          event,
		"correlation_id": corrID,
		"providers":      total,
		"succeeded":      succeeded,
	}})
}
