// Package plugin implements discovery and loading of notification
// provider plugins.
//
// Plugins self-register at import time: each plugin package calls
// Register (and usually RegisterFactory) from an init func, and the
// binary pulls the package in with a blank import. Discovery then
// filters the registered set by the config's provider flags, and the
// loader invokes each enabled plugin's factory to produce a provider.
package plugin

import (
	"encoding/json"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"sync"

	logx "github.com/engels74/mover-status-sub004/pkg/logx"
)

// identifierRe constrains plugin identifiers: lowercase, digit/underscore
// tail, never starting with a digit.
var identifierRe = regexp.MustCompile(`^[a-z][a-z0-9_]*$`)

// Factory produces a provider instance from the plugin's raw config blob.
// The returned value must satisfy notify.Provider; the loader checks.
type Factory func(cfg json.RawMessage) (any, error)

// Metadata describes one plugin, registered once at import time.
type Metadata struct {
	// Identifier is the unique plugin key, matching [a-z][a-z0-9_]*.
	Identifier string

	Name        string
	Version     string
	Description string

	// Package is the plugin's import path. Its last path segment must
	// equal Identifier.
	Package string

	// EnabledFlag is an optional alias key checked in the provider flags
	// map when the literal identifier key is absent.
	EnabledFlag string

	// Entrypoint optionally names a registered factory as
	// "<package>:<name>". When empty the loader falls back to the
	// convention "<package>:NewProvider".
	Entrypoint string

	// Factory, when non-nil, is used directly and Entrypoint resolution
	// is skipped.
	Factory Factory
}

// Registry holds registered plugin metadata and named factories.
//
// A process-wide default instance backs the package-level Register
// functions used by plugin init funcs; tests construct their own via
// NewRegistry.
type Registry struct {
	mu        sync.RWMutex
	metas     map[string]Metadata
	factories map[string]Factory

	// imported tracks plugin packages that announced themselves via
	// MarkImported, so a blank-imported package that registers no
	// metadata can be flagged.
	imported map[string]bool

	// sorted caches Registered() output; invalidated by Register/Reset.
	sorted []Metadata

	log logx.Logger
}

func NewRegistry() *Registry {
	return &Registry{
		metas:     make(map[string]Metadata),
		factories: make(map[string]Factory),
		imported:  make(map[string]bool),
	}
}

var defaultRegistry = NewRegistry()

// Default returns the process-wide registry that import-time
// self-registration targets.
func Default() *Registry { return defaultRegistry }

// Register adds metadata to the default registry. Intended for plugin
// package init funcs; panics on invalid metadata since that is a
// programming error caught on first import.
func Register(meta Metadata) {
	if err := defaultRegistry.Register(meta); err != nil {
		panic(err)
	}
}

// RegisterFactory adds a named factory to the default registry.
func RegisterFactory(locator string, fn Factory) {
	if err := defaultRegistry.RegisterFactory(locator, fn); err != nil {
		panic(err)
	}
}

// MarkImported records that a plugin package was pulled into the binary.
// Plugin init funcs call this before Register; packages that announce
// themselves but never register metadata are reported by Stragglers.
func MarkImported(pkg string) { defaultRegistry.MarkImported(pkg) }

func (r *Registry) MarkImported(pkg string) {
	pkg = strings.TrimSpace(pkg)
	if pkg == "" {
		return
	}
	r.mu.Lock()
	r.imported[pkg] = true
	r.mu.Unlock()
}

// Stragglers returns imported plugin packages that registered no
// metadata, sorted. The loader warns about each once per scan.
func (r *Registry) Stragglers() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []string
	for pkg := range r.imported {
		found := false
		for _, m := range r.metas {
			if m.Package == pkg {
				found = true
				break
			}
		}
		if !found {
			out = append(out, pkg)
		}
	}
	sort.Strings(out)
	return out
}

func (r *Registry) SetLogger(log logx.Logger) {
	r.mu.Lock()
	r.log = log
	r.mu.Unlock()
}

// Register validates and stores plugin metadata. It fails when the
// identifier is malformed or duplicated, or when the identifier does not
// match the last segment of the package path.
func (r *Registry) Register(meta Metadata) error {
	id := strings.TrimSpace(meta.Identifier)
	if !identifierRe.MatchString(id) {
		return &ConfigError{Op: "register", Reason: fmt.Sprintf("invalid identifier %q", meta.Identifier)}
	}
	if meta.Package == "" {
		return &ConfigError{Op: "register", Reason: fmt.Sprintf("plugin %q: empty package path", id)}
	}
	if seg := lastSegment(meta.Package); seg != id {
		return &ConfigError{
			Op:     "register",
			Reason: fmt.Sprintf("plugin %q: package %q last segment %q does not match identifier", id, meta.Package, seg),
		}
	}
	if meta.Entrypoint != "" {
		if _, _, ok := splitLocator(meta.Entrypoint); !ok {
			return &ConfigError{Op: "register", Reason: fmt.Sprintf("plugin %q: malformed entrypoint %q", id, meta.Entrypoint)}
		}
	}
	meta.Identifier = id

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.metas[id]; exists {
		return &ConfigError{Op: "register", Reason: fmt.Sprintf("plugin %q already registered", id)}
	}
	r.metas[id] = meta
	r.sorted = nil
	if !r.log.IsZero() {
		r.log.Debug("plugin registered",
			logx.String("plugin", id),
			logx.String("version", meta.Version),
			logx.String("package", meta.Package),
		)
	}
	return nil
}

// RegisterFactory stores a factory under its "<package>:<name>" locator.
func (r *Registry) RegisterFactory(locator string, fn Factory) error {
	if _, _, ok := splitLocator(locator); !ok {
		return &ConfigError{Op: "register_factory", Reason: fmt.Sprintf("malformed locator %q", locator)}
	}
	if fn == nil {
		return &ConfigError{Op: "register_factory", Reason: fmt.Sprintf("locator %q: nil factory", locator)}
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.factories[locator]; exists {
		return &ConfigError{Op: "register_factory", Reason: fmt.Sprintf("locator %q already registered", locator)}
	}
	r.factories[locator] = fn
	return nil
}

// Registered returns all registered metadata sorted by identifier.
// The sorted slice is cached; forceRescan rebuilds it unconditionally.
func (r *Registry) Registered(forceRescan bool) []Metadata {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.sorted == nil || forceRescan {
		out := make([]Metadata, 0, len(r.metas))
		for _, m := range r.metas {
			out = append(out, m)
		}
		sort.Slice(out, func(i, j int) bool { return out[i].Identifier < out[j].Identifier })
		r.sorted = out
	}
	res := make([]Metadata, len(r.sorted))
	copy(res, r.sorted)
	return res
}

// Discover filters registered metadata by the config's provider flags.
// The literal identifier key is checked first, then the EnabledFlag
// alias. enabledOnly without a flags map is a configuration error.
func (r *Registry) Discover(enabledOnly bool, flags map[string]bool) ([]Metadata, error) {
	all := r.Registered(false)
	if !enabledOnly {
		return all, nil
	}
	if flags == nil {
		return nil, &ConfigError{Op: "discover", Reason: "provider flags required when filtering by enablement"}
	}

	out := make([]Metadata, 0, len(all))
	for _, m := range all {
		enabled, ok := flags[m.Identifier]
		if !ok && m.EnabledFlag != "" {
			enabled = flags[m.EnabledFlag]
		}
		if enabled {
			out = append(out, m)
		}
	}
	return out, nil
}

// Reset clears all registrations. For tests.
func (r *Registry) Reset() {
	r.mu.Lock()
	r.metas = make(map[string]Metadata)
	r.factories = make(map[string]Factory)
	r.imported = make(map[string]bool)
	r.sorted = nil
	r.mu.Unlock()
}

// factoryFor resolves a plugin's factory: the inline Factory when set,
// else the declared Entrypoint, else the "<package>:NewProvider"
// convention.
func (r *Registry) factoryFor(meta Metadata) (Factory, string, error) {
	if meta.Factory != nil {
		return meta.Factory, meta.Package + ":<inline>", nil
	}
	locator := meta.Entrypoint
	if locator == "" {
		locator = meta.Package + ":NewProvider"
	}
	r.mu.RLock()
	fn := r.factories[locator]
	r.mu.RUnlock()
	if fn == nil {
		return nil, locator, fmt.Errorf("no factory registered at %q", locator)
	}
	return fn, locator, nil
}

func lastSegment(pkg string) string {
	if i := strings.LastIndex(pkg, "/"); i >= 0 {
		return pkg[i+1:]
	}
	return pkg
}

func splitLocator(s string) (pkg, name string, ok bool) {
	i := strings.LastIndex(s, ":")
	if i <= 0 || i == len(s)-1 {
		return "", "", false
	}
	return s[:i], s[i+1:], true
}
