// Package monitor watches the mover process and drives notification
// dispatch from its progress.
package monitor

import (
	"context"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"golang.org/x/time/rate"

	"github.com/engels74/mover-status-sub004/internal/config"
	"github.com/engels74/mover-status-sub004/internal/eventbus"
	"github.com/engels74/mover-status-sub004/internal/notify"
	"github.com/engels74/mover-status-sub004/internal/storage"
	logx "github.com/engels74/mover-status-sub004/pkg/logx"
)

// Dispatcher is the slice of notify.Dispatcher the monitor needs.
type Dispatcher interface {
	Dispatch(ctx context.Context, data *notify.Data) []notify.Result
}

// Monitor polls for the mover process and, while one is running,
// samples cache usage, derives progress, and fans events out through
// the dispatcher. Progress notifications fire at configured percent
// increments under a per-minute rate cap; start and completion events
// are never suppressed.
type Monitor struct {
	cfg      config.MonitorConfig
	finder   ProcessFinder
	sampler  DiskSampler
	dispatch Dispatcher
	store    storage.Store // may be nil
	bus      eventbus.Bus  // may be nil
	log      logx.Logger

	limiter *rate.Limiter
	cronner *cron.Cron

	mu  sync.Mutex
	run *runState
}

// runState is the in-memory state of one observed move.
type runState struct {
	startedAt     time.Time
	initialUsed   uint64
	lastProgress  Progress
	nextThreshold int
	summaryEntry  cron.EntryID
}

type Option func(*Monitor)

func WithLogger(log logx.Logger) Option {
	return func(m *Monitor) { m.log = log }
}

func WithBus(bus eventbus.Bus) Option {
	return func(m *Monitor) { m.bus = bus }
}

func WithStore(st storage.Store) Option {
	return func(m *Monitor) { m.store = st }
}

// WithProcessFinder overrides process detection. For tests.
func WithProcessFinder(f ProcessFinder) Option {
	return func(m *Monitor) { m.finder = f }
}

// WithDiskSampler overrides usage sampling. For tests.
func WithDiskSampler(s DiskSampler) Option {
	return func(m *Monitor) { m.sampler = s }
}

func New(cfg config.MonitorConfig, dispatch Dispatcher, opts ...Option) *Monitor {
	cfg = cfg.WithDefaults()
	m := &Monitor{
		cfg:      cfg,
		dispatch: dispatch,
		log:      logx.Nop(),
	}
	for _, o := range opts {
		o(m)
	}
	if m.finder == nil {
		m.finder = NewProcessFinder(cfg.PidFile, cfg.ProcessName)
	}
	if m.sampler == nil {
		m.sampler = NewDiskSampler(cfg.CachePath)
	}
	perMin := cfg.MaxNotifyPerMin
	m.limiter = rate.NewLimiter(rate.Limit(float64(perMin)/60.0), perMin)
	return m
}

// Run polls until ctx is canceled. It is intended to be launched under
// a supervisor with restart-on-error.
func (m *Monitor) Run(ctx context.Context) error {
	m.resume(ctx)

	ticker := time.NewTicker(m.cfg.Poll())
	defer ticker.Stop()
	defer m.stopCron()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			m.tick(ctx)
		}
	}
}

// resume picks up a persisted in-flight move after a daemon restart, so
// progress accounting keeps its original baseline.
func (m *Monitor) resume(ctx context.Context) {
	if m.store == nil {
		return
	}
	st, ok, err := m.store.GetRunState(ctx)
	if err != nil || !ok || !st.Active {
		return
	}
	_, running, err := m.finder.Find(ctx)
	if err != nil || !running {
		// mover finished while we were down; drop the stale state
		st.Active = false
		_ = m.store.PutRunState(ctx, st)
		return
	}

	m.mu.Lock()
	m.run = &runState{
		startedAt:     st.StartedAt,
		initialUsed:   st.InitialUsed,
		nextThreshold: st.LastThreshold + m.cfg.NotifyIncrement,
	}
	m.mu.Unlock()
	m.startCron(ctx)
	m.log.Info("resumed in-flight move",
		logx.Time("started_at", st.StartedAt),
		logx.String("initial_used", FormatBytes(st.InitialUsed)),
	)
}

func (m *Monitor) tick(ctx context.Context) {
	_, running, err := m.finder.Find(ctx)
	if err != nil {
		m.log.Warn("process scan failed", logx.Any("err", err))
		return
	}

	m.mu.Lock()
	active := m.run != nil
	m.mu.Unlock()

	switch {
	case running && !active:
		m.onStart(ctx)
	case running && active:
		m.onProgress(ctx)
	case !running && active:
		m.onComplete(ctx)
	}
}

func (m *Monitor) onStart(ctx context.Context) {
	usage, err := m.sampler.Sample(ctx)
	if err != nil {
		m.log.Warn("usage sample failed", logx.Any("err", err))
		return
	}

	now := time.Now()
	m.mu.Lock()
	m.run = &runState{
		startedAt:     now,
		initialUsed:   usage.Used,
		nextThreshold: m.cfg.NotifyIncrement,
	}
	m.mu.Unlock()

	m.log.Info("mover started",
		logx.String("initial_used", FormatBytes(usage.Used)),
		logx.String("total", FormatBytes(usage.Total)),
	)
	m.publish(eventbus.TypeMoverStarted, usage.Used)
	m.startCron(ctx)
	m.persist(ctx, 0, 0)

	p := ComputeProgress(usage.Used, usage.Used, 0, now)
	m.send(ctx, p.Data(notify.EventStarted), false)
}

func (m *Monitor) onProgress(ctx context.Context) {
	usage, err := m.sampler.Sample(ctx)
	if err != nil {
		m.log.Warn("usage sample failed", logx.Any("err", err))
		return
	}

	m.mu.Lock()
	run := m.run
	if run == nil {
		m.mu.Unlock()
		return
	}
	now := time.Now()
	p := ComputeProgress(run.initialUsed, usage.Used, now.Sub(run.startedAt), now)
	run.lastProgress = p
	crossed := p.Percent >= float64(run.nextThreshold) && run.nextThreshold <= 100
	threshold := run.nextThreshold
	m.mu.Unlock()

	m.publish(eventbus.TypeMoverProgress, p.Percent)
	if !crossed {
		return
	}
	// rate cap applies to increment notifications only; if denied, the
	// threshold stays pending and is retried next tick
	if !m.limiter.Allow() {
		m.log.Debug("progress notification rate-limited", logx.Int("threshold", threshold))
		return
	}

	m.mu.Lock()
	run.nextThreshold += m.cfg.NotifyIncrement
	m.mu.Unlock()

	m.persist(ctx, p.Percent, threshold)
	m.send(ctx, p.Data(notify.EventProgress), false)
}

func (m *Monitor) onComplete(ctx context.Context) {
	m.mu.Lock()
	run := m.run
	m.run = nil
	m.mu.Unlock()
	if run == nil {
		return
	}
	m.stopCron()

	now := time.Now()
	p := ComputeProgress(run.initialUsed, 0, now.Sub(run.startedAt), now)
	if usage, err := m.sampler.Sample(ctx); err == nil {
		p = ComputeProgress(run.initialUsed, usage.Used, now.Sub(run.startedAt), now)
	}

	m.log.Info("mover completed",
		logx.String("moved", FormatBytes(p.MovedBytes)),
		logx.Duration("took", now.Sub(run.startedAt)),
	)
	m.publish(eventbus.TypeMoverCompleted, p.Percent)
	if m.store != nil {
		_ = m.store.PutRunState(ctx, storage.RunState{Active: false, StartedAt: run.startedAt, InitialUsed: run.initialUsed, LastPercent: p.Percent})
	}
	// completion is never rate-limited
	m.send(ctx, p.Data(notify.EventCompleted), false)
}

// startCron schedules periodic progress summaries while a move runs.
func (m *Monitor) startCron(ctx context.Context) {
	spec := m.cfg.SummarySchedule
	if spec == "" {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cronner == nil {
		m.cronner = cron.New()
	}
	id, err := m.cronner.AddFunc(spec, func() { m.summary(ctx) })
	if err != nil {
		m.log.Warn("invalid summary schedule", logx.String("spec", spec), logx.Any("err", err))
		return
	}
	if m.run != nil {
		m.run.summaryEntry = id
	}
	m.cronner.Start()
}

func (m *Monitor) stopCron() {
	// Detach the cronner under the lock, then stop it outside: Stop
	// waits for in-flight jobs, and summary jobs take m.mu themselves.
	m.mu.Lock()
	c := m.cronner
	m.cronner = nil
	var entry cron.EntryID
	if m.run != nil {
		entry = m.run.summaryEntry
	}
	m.mu.Unlock()
	if c == nil {
		return
	}
	if entry != 0 {
		c.Remove(entry)
	}
	<-c.Stop().Done()
}

func (m *Monitor) summary(ctx context.Context) {
	m.mu.Lock()
	run := m.run
	var p Progress
	if run != nil {
		p = run.lastProgress
	}
	m.mu.Unlock()
	if run == nil {
		return
	}
	m.send(ctx, p.Data(notify.EventSummary), true)
}

// send dispatches one event and persists the per-provider outcomes.
func (m *Monitor) send(ctx context.Context, data *notify.Data, summaryLimited bool) {
	if summaryLimited && !m.limiter.Allow() {
		return
	}
	results := m.dispatch.Dispatch(ctx, data)
	if m.store == nil {
		return
	}
	for _, r := range results {
		rec := storage.DeliveryRecord{
			At:            time.Now(),
			CorrelationID: r.CorrelationID,
			EventType:     data.EventType,
			Provider:      r.ProviderName,
			Success:       r.Success,
			ShouldRetry:   r.ShouldRetry,
			Error:         r.ErrorMessage,
			TookMS:        r.DeliveryTime.Milliseconds(),
		}
		if err := m.store.AppendDelivery(ctx, rec); err != nil {
			m.log.Debug("delivery record failed", logx.Any("err", err))
		}
	}
}

func (m *Monitor) persist(ctx context.Context, percent float64, threshold int) {
	if m.store == nil {
		return
	}
	m.mu.Lock()
	run := m.run
	m.mu.Unlock()
	if run == nil {
		return
	}
	st := storage.RunState{
		Active:        true,
		StartedAt:     run.startedAt,
		InitialUsed:   run.initialUsed,
		LastPercent:   percent,
		LastThreshold: threshold,
	}
	if err := m.store.PutRunState(ctx, st); err != nil {
		m.log.Debug("run state persist failed", logx.Any("err", err))
	}
}

func (m *Monitor) publish(typ string, v any) {
	if m.bus == nil {
		return
	}
	m.bus.Publish(eventbus.Event{Type: typ, Data: v})
}
