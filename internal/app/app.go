// Package app wires configuration, logging, storage, plugin loading and
// the mover monitor into one supervised process.
package app

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/engels74/mover-status-sub004/internal/config"
	"github.com/engels74/mover-status-sub004/internal/eventbus"
	"github.com/engels74/mover-status-sub004/internal/monitor"
	"github.com/engels74/mover-status-sub004/internal/notify"
	"github.com/engels74/mover-status-sub004/internal/plugin"
	"github.com/engels74/mover-status-sub004/internal/redact"
	"github.com/engels74/mover-status-sub004/internal/runtime/supervisor"
	"github.com/engels74/mover-status-sub004/internal/storage"
	logx "github.com/engels74/mover-status-sub004/pkg/logx"
	sdnotify "github.com/engels74/mover-status-sub004/pkg/systemd"
)

type App struct {
	cfgPath string

	cfgm *config.Manager
	sup  *supervisor.Supervisor

	log   logx.Logger
	logs  *logx.Service
	red   *redact.Redactor
	bus   eventbus.Bus
	store storage.Store

	reg  *notify.Registry
	disp *notify.Dispatcher
	mon  *monitor.Monitor
}

func NewApp(cfgPath string) (*App, error) {
	cfgm := config.NewManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}

	logSvc, log := logx.New(logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	})
	log = log.With(logx.String("comp", "app"))

	// Provider configs carry webhook URLs and bot tokens; register them
	// with the redactor before anything else can log.
	red := redact.New()
	seedSecrets(red, cfg)
	logSvc.SetRedactor(red)

	bus := eventbus.New()

	// Storage (optional)
	var store storage.Store
	if sc, enabled, err := mapStorageConfig(cfg); err != nil {
		return nil, err
	} else if enabled {
		st, err := storage.Open(sc, log.With(logx.String("comp", "storage")))
		if err != nil {
			return nil, err
		}
		store = st
		log.Info("storage enabled", logx.String("driver", sc.Driver))
	}

	// Plugin loading: enabled providers only, skip-and-continue on
	// per-plugin failures.
	loader := plugin.NewLoader(plugin.Default(),
		plugin.WithLoaderLogger(log.With(logx.String("comp", "plugins"))),
		plugin.WithLoaderBus(bus),
		plugin.WithSanitizer(red.Redact),
	)
	loaded, skipped, err := loader.LoadEnabled(cfg.ProviderFlags(), cfg.ProviderConfigs(), false)
	if err != nil {
		return nil, err
	}
	log.Info("providers loaded",
		logx.Int("loaded", len(loaded)),
		logx.Int("skipped", len(skipped)))

	dcfg := cfg.Dispatch.WithDefaults()
	reg := notify.NewRegistry(dcfg.UnhealthyThreshold,
		notify.WithRegistryLogger(log.With(logx.String("comp", "registry"))),
		notify.WithRegistryBus(bus),
	)
	for _, lp := range loaded {
		if err := reg.Register(lp.Identifier, lp.Provider); err != nil {
			return nil, fmt.Errorf("register provider %s: %w", lp.Identifier, err)
		}
	}

	disp := notify.NewDispatcher(reg,
		notify.WithTimeout(dcfg.Timeout()),
		notify.WithDryRun(dcfg.DryRun),
		notify.WithDispatcherLogger(log.With(logx.String("comp", "dispatch"))),
		notify.WithDispatcherBus(bus),
		notify.WithSanitizer(red.Redact),
	)

	mon := monitor.New(cfg.Monitor, disp,
		monitor.WithLogger(log.With(logx.String("comp", "monitor"))),
		monitor.WithBus(bus),
		monitor.WithStore(store),
	)

	return &App{
		cfgPath: cfgPath,
		cfgm:    cfgm,
		log:     log,
		logs:    logSvc,
		red:     red,
		bus:     bus,
		store:   store,
		reg:     reg,
		disp:    disp,
		mon:     mon,
	}, nil
}

// Registry exposes provider health for operational inspection.
func (a *App) Registry() *notify.Registry { return a.reg }

// Done is closed when the app run context is canceled (fatal error or Stop).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor (if any).
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) Start(ctx context.Context) error {
	a.sup = supervisor.New(ctx,
		supervisor.WithLogger(a.log),
		supervisor.WithCancelOnError(true))

	// Transactional config reload: validate before commit/publish.
	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	a.cfgm.SetValidator(func(_ context.Context, cfg *config.Config) error {
		return validateConfig(cfg)
	})

	a.sup.GoRestart("monitor.run", a.mon.Run,
		supervisor.WithRestartBackoff(time.Second, 30*time.Second),
		supervisor.WithPublishFirstError(true))

	// Event log tap: keep at debug, progress ticks are frequent.
	events, unsub := a.bus.Subscribe(128)
	a.sup.Go0("eventbus.log", func(c context.Context) {
		defer unsub()
		for {
			select {
			case <-c.Done():
				return
			case e, ok := <-events:
				if !ok {
					return
				}
				a.log.Debug("event", logx.String("type", e.Type), logx.Time("time", e.Time))
			}
		}
	})

	// Hot reload fan-out.
	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		lastApplied := a.cfgm.Get()
		for {
			select {
			case <-c.Done():
				return
			case newCfg, ok := <-sub:
				if !ok {
					return
				}
				// Coalesce bursts: keep only the latest config.
				for {
					select {
					case newer := <-sub:
						if newer != nil {
							newCfg = newer
						}
					default:
						goto APPLY
					}
				}
			APPLY:
				changed := config.Summarize(lastApplied, newCfg)
				lastApplied = newCfg
				if changed == "none" {
					a.log.Info("config reloaded (no changes)")
					continue
				}
				a.applyReload(changed, newCfg)
			}
		}
	})

	a.sup.Go("config.watch", func(c context.Context) error {
		return a.cfgm.Watch(c)
	})

	if ok, err := sdnotify.NotifyReady(); err != nil {
		a.log.Warn("sd_notify failed", logx.Err(err))
	} else if ok {
		_, _ = sdnotify.NotifyStatus("watching for mover")
		a.log.Debug("sd_notify ready sent")
	}
	a.log.Info("app started")
	return nil
}

// applyReload applies the hot-reloadable parts of a validated config.
// Storage and the provider set are fixed at startup; changes there only
// produce a restart warning.
func (a *App) applyReload(changed string, cfg *config.Config) {
	a.log.Info("config reloaded", logx.String("changed", changed))

	seedSecrets(a.red, cfg)

	a.logs.Apply(logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	})

	dcfg := cfg.Dispatch.WithDefaults()
	a.disp.Reconfigure(dcfg.Timeout(), dcfg.DryRun)

	for _, section := range strings.Split(changed, ",") {
		switch {
		case section == "storage":
			a.log.Warn("storage config changed; restart required for changes to take effect")
		case strings.HasPrefix(section, "providers."):
			a.log.Warn("provider set changed; restart required for changes to take effect",
				logx.String("section", section))
		case section == "monitor":
			a.log.Warn("monitor config changed; restart required for changes to take effect")
		}
	}
}

func (a *App) Stop(ctx context.Context) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping")
	if _, err := sdnotify.NotifyStopping(); err != nil {
		a.log.Debug("sd_notify stopping failed", logx.Err(err))
	}

	// Run a shutdown step with an upper bound so one component can't
	// stall the whole stop.
	step := func(name string, max time.Duration, fn func(context.Context) error) {
		start := time.Now()
		stepCtx := ctx
		var cancel context.CancelFunc
		if max > 0 {
			if dl, ok := ctx.Deadline(); ok {
				if rem := time.Until(dl); rem < max {
					max = rem
				}
			}
			if max > 0 {
				stepCtx, cancel = context.WithTimeout(ctx, max)
				defer cancel()
			}
		}

		done := make(chan error, 1)
		go func() {
			defer func() {
				if r := recover(); r != nil {
					done <- fmt.Errorf("panic in stop step %s: %v", name, r)
				}
			}()
			done <- fn(stepCtx)
		}()

		select {
		case err := <-done:
			if err != nil {
				a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
			}
			a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", time.Since(start)))
		case <-stepCtx.Done():
			a.log.Warn("stop step deadline reached (continuing)",
				logx.String("name", name),
				logx.Duration("elapsed", time.Since(start)))
		}
	}

	// Stop cancels the run context (monitor, watchers) and joins the
	// supervised goroutines within the step bound.
	step("supervisor", 3*time.Second, func(c context.Context) error { return a.sup.Stop(c) })
	step("storage", 1*time.Second, func(context.Context) error {
		if a.store != nil {
			return a.store.Close()
		}
		return nil
	})

	counters := a.sup.Counters()
	a.log.Info("stopped",
		logx.Uint64("goroutines_started", counters.Started),
		logx.Int64("goroutines_active", counters.Active))
	if a.logs != nil {
		a.logs.Close()
	}
	return nil
}

// validateConfig rejects configs that would break the monitor or the
// dispatcher if hot-applied.
func validateConfig(cfg *config.Config) error {
	if cfg == nil {
		return fmt.Errorf("config is nil")
	}
	if strings.TrimSpace(cfg.Monitor.CachePath) == "" {
		return fmt.Errorf("monitor.cache_path is required")
	}
	if _, err := config.ParseDurationOrDefault("monitor.poll_interval", cfg.Monitor.PollInterval, 5*time.Second); err != nil {
		return err
	}
	if inc := cfg.Monitor.NotifyIncrement; inc < 0 || inc > 100 {
		return fmt.Errorf("monitor.notify_increment must be in [0,100], got %d", inc)
	}
	if cfg.Monitor.MaxNotifyPerMin < 0 {
		return fmt.Errorf("monitor.max_notify_per_min must be >= 0")
	}
	if spec := strings.TrimSpace(cfg.Monitor.SummarySchedule); spec != "" {
		if _, err := cron.ParseStandard(spec); err != nil {
			return fmt.Errorf("monitor.summary_schedule: invalid %q: %w", spec, err)
		}
	}
	if _, err := config.ParseDurationOrDefault("dispatch.provider_timeout", cfg.Dispatch.ProviderTimeout, 10*time.Second); err != nil {
		return err
	}
	if cfg.Dispatch.UnhealthyThreshold < 0 {
		return fmt.Errorf("dispatch.unhealthy_threshold must be >= 0")
	}
	if _, _, err := mapStorageConfig(cfg); err != nil {
		return err
	}
	return nil
}

// seedSecrets registers every string leaf of the provider config blocks
// with the redactor. Short values are ignored by AddSecret itself.
func seedSecrets(red *redact.Redactor, cfg *config.Config) {
	if red == nil || cfg == nil {
		return
	}
	for _, raw := range cfg.Providers {
		if len(raw.Config) == 0 {
			continue
		}
		var m map[string]any
		if err := json.Unmarshal(raw.Config, &m); err != nil {
			continue
		}
		addStringLeaves(red, m)
	}
}

func addStringLeaves(red *redact.Redactor, v any) {
	switch t := v.(type) {
	case string:
		red.AddSecret(t)
	case map[string]any:
		for _, e := range t {
			addStringLeaves(red, e)
		}
	case []any:
		for _, e := range t {
			addStringLeaves(red, e)
		}
	}
}
