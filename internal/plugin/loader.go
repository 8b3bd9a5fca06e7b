package plugin

import (
	"encoding/json"
	"errors"
	"fmt"
	"runtime/debug"

	"github.com/engels74/mover-status-sub004/internal/eventbus"
	"github.com/engels74/mover-status-sub004/internal/notify"
	logx "github.com/engels74/mover-status-sub004/pkg/logx"
)

// LoadedPlugin is one successfully instantiated provider together with
// the metadata it came from.
type LoadedPlugin struct {
	Identifier string
	Provider   notify.Provider
	Metadata   Metadata
}

// Loader turns enabled plugin metadata into provider instances.
type Loader struct {
	reg *Registry
	log logx.Logger
	bus eventbus.Bus

	// sanitize scrubs secrets from failure diagnostics before they are
	// logged or stored in a LoadError. nil means passthrough.
	sanitize func(string) string
}

type LoaderOption func(*Loader)

func WithLoaderLogger(log logx.Logger) LoaderOption {
	return func(l *Loader) { l.log = log }
}

func WithLoaderBus(bus eventbus.Bus) LoaderOption {
	return func(l *Loader) { l.bus = bus }
}

func WithSanitizer(fn func(string) string) LoaderOption {
	return func(l *Loader) { l.sanitize = fn }
}

func NewLoader(reg *Registry, opts ...LoaderOption) *Loader {
	l := &Loader{reg: reg}
	for _, o := range opts {
		o(l)
	}
	if l.reg == nil {
		l.reg = Default()
	}
	return l
}

// LoadEnabled instantiates a provider for every enabled plugin.
//
// Per-plugin failures (unresolvable entrypoint, factory error or panic,
// capability mismatch, rejected config) are logged redacted, collected,
// and skipped; the rest of the batch continues. Only Discover misuse
// returns an error.
func (l *Loader) LoadEnabled(flags map[string]bool, configs map[string]json.RawMessage, forceRescan bool) ([]LoadedPlugin, []*LoadError, error) {
	if forceRescan {
		l.reg.Registered(true)
	}
	metas, err := l.reg.Discover(true, flags)
	if err != nil {
		return nil, nil, err
	}

	if !l.log.IsZero() {
		for _, pkg := range l.reg.Stragglers() {
			l.log.Warn("plugin package imported but registered nothing",
				logx.String("package", pkg))
		}
	}

	loaded := make([]LoadedPlugin, 0, len(metas))
	var skipped []*LoadError
	for _, meta := range metas {
		lp, lerr := l.loadOne(meta, configs[meta.Identifier])
		if lerr != nil {
			skipped = append(skipped, lerr)
			if !l.log.IsZero() {
				l.log.Warn("plugin skipped",
					logx.String("plugin", meta.Identifier),
					logx.String("stage", lerr.Stage),
					logx.String("err", lerr.Err.Error()),
				)
			}
			l.emit(eventbus.TypePluginSkipped, meta.Identifier, lerr.Stage)
			continue
		}
		loaded = append(loaded, lp)
		if !l.log.IsZero() {
			l.log.Info("plugin loaded",
				logx.String("plugin", meta.Identifier),
				logx.String("version", meta.Version),
			)
		}
		l.emit(eventbus.TypePluginLoaded, meta.Identifier, "")
	}
	return loaded, skipped, nil
}

func (l *Loader) loadOne(meta Metadata, cfg json.RawMessage) (LoadedPlugin, *LoadError) {
	fn, locator, err := l.reg.factoryFor(meta)
	if err != nil {
		return LoadedPlugin{}, l.loadErr(meta, "entrypoint", err)
	}

	instance, err := l.safeFactory(locator, fn, cfg)
	if err != nil {
		return LoadedPlugin{}, l.loadErr(meta, "factory", err)
	}

	provider, ok := instance.(notify.Provider)
	if !ok {
		return LoadedPlugin{}, l.loadErr(meta, "capability",
			fmt.Errorf("factory at %q returned %T, which does not implement the provider capability", locator, instance))
	}

	if err := provider.ValidateConfig(); err != nil {
		return LoadedPlugin{}, l.loadErr(meta, "config", err)
	}

	return LoadedPlugin{Identifier: meta.Identifier, Provider: provider, Metadata: meta}, nil
}

// loadErr builds a LoadError with the cause scrubbed up front, so the
// error is safe wherever it ends up, not just at the loader's log site.
func (l *Loader) loadErr(meta Metadata, stage string, err error) *LoadError {
	if l.sanitize != nil && err != nil {
		if scrubbed := l.sanitize(err.Error()); scrubbed != err.Error() {
			err = errors.New(scrubbed)
		}
	}
	return &LoadError{Identifier: meta.Identifier, Stage: stage, Metadata: meta, Err: err}
}

// safeFactory invokes a plugin factory with panic containment, so a
// broken plugin cannot take down the batch.
func (l *Loader) safeFactory(locator string, fn Factory, cfg json.RawMessage) (out any, err error) {
	defer func() {
		if r := recover(); r != nil {
			if !l.log.IsZero() {
				l.log.Error("panic in plugin factory",
					logx.String("locator", locator),
					logx.Any("panic", r),
					logx.String("stack", string(debug.Stack())),
				)
			}
			out = nil
			err = fmt.Errorf("panic in factory %s: %v", locator, r)
		}
	}()
	return fn(cfg)
}

func (l *Loader) scrub(s string) string {
	if l.sanitize == nil {
		return s
	}
	return l.sanitize(s)
}

func (l *Loader) emit(typ, id, stage string) {
	if l.bus == nil {
		return
	}
	l.bus.Publish(eventbus.Event{Type: typ, Data: map[string]string{"plugin": id, "stage": stage}})
}
