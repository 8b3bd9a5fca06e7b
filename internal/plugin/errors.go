package plugin

import "fmt"

// ConfigError reports misuse of the discovery/loader API or a malformed
// registration. It is fatal to the offending call only.
type ConfigError struct {
	Op     string
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("plugin config: %s: %s", e.Op, e.Reason)
}

// LoadError reports a single plugin that failed to load. The batch loop
// logs and skips the plugin; one bad plugin never blocks the rest.
// Err is already sanitized when the loader carries a sanitizer, so the
// message is safe to log or store as-is.
type LoadError struct {
	Identifier string
	Stage      string // "entrypoint", "factory", "capability", "config"
	Metadata   Metadata
	Err        error
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("plugin %q: %s: %v", e.Identifier, e.Stage, e.Err)
}

func (e *LoadError) Unwrap() error { return e.Err }
