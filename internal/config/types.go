package config

import (
	"bytes"
	"encoding/json"
)

type Config struct {
	Logging LoggingConfig `json:"logging"`

	// Monitor controls detection and sampling of the mover process.
	Monitor MonitorConfig `json:"monitor"`

	// Dispatch controls the notification fan-out.
	Dispatch DispatchConfig `json:"dispatch"`

	Storage *StorageConfig `json:"storage,omitempty"`

	// Providers maps a provider identifier (or its enabled-flag alias)
	// to its enablement and raw plugin config.
	Providers map[string]ProviderConfigRaw `json:"providers"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// MonitorConfig controls the mover watch loop.
//
// All durations are Go duration strings (e.g. "500ms", "10s", "1m").
type MonitorConfig struct {
	// CachePath is the filesystem the mover drains (progress is derived
	// from its usage falling).
	CachePath string `json:"cache_path"`

	// PidFile is checked first when locating the mover process.
	// If empty (or stale), the process table is scanned for ProcessName.
	PidFile     string `json:"pid_file,omitempty"`
	ProcessName string `json:"process_name,omitempty"` // default: "mover"

	PollInterval string `json:"poll_interval,omitempty"` // default: "5s"

	// NotifyIncrement is the percent step between progress notifications
	// (e.g. 25 notifies at 25/50/75). Default: 25.
	NotifyIncrement int `json:"notify_increment,omitempty"`

	// MaxNotifyPerMin caps progress notifications (completion events are
	// never suppressed). Default: 6.
	MaxNotifyPerMin int `json:"max_notify_per_min,omitempty"`

	// SummarySchedule optionally emits a progress summary on a cron spec
	// (e.g. "*/30 * * * *") while a move is running.
	SummarySchedule string `json:"summary_schedule,omitempty"`
}

// DispatchConfig controls the notification dispatcher and provider health
// accounting.
type DispatchConfig struct {
	// ProviderTimeout bounds each provider's send call. Default: "10s".
	ProviderTimeout string `json:"provider_timeout,omitempty"`

	// UnhealthyThreshold is the consecutive-failure count at which a
	// provider is excluded from dispatch. Minimum 1. Default: 3.
	UnhealthyThreshold int `json:"unhealthy_threshold,omitempty"`

	// DryRun simulates delivery without contacting any provider.
	DryRun bool `json:"dry_run,omitempty"`
}

// StorageConfig controls the optional persistence layer.
//
// Example:
//
//	"storage": { "driver": "file", "path": "./moverstatus_store" }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // Go duration string (sqlite)
}

type ProviderConfigRaw struct {
	Enabled bool `json:"enabled"`
	// Config is forwarded verbatim to the provider factory.
	Config json.RawMessage `json:"config,omitempty"`
}

// UnmarshalJSON disallows unknown fields so typos in provider blocks are
// caught during config load instead of being silently ignored.
func (p *ProviderConfigRaw) UnmarshalJSON(b []byte) error {
	type tmp struct {
		Enabled bool            `json:"enabled"`
		Config  json.RawMessage `json:"config,omitempty"`
	}
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.DisallowUnknownFields()
	var t tmp
	if err := dec.Decode(&t); err != nil {
		return err
	}
	*p = ProviderConfigRaw{Enabled: t.Enabled, Config: t.Config}
	return nil
}

// ProviderFlags flattens the providers section into the
// identifier-or-alias -> enabled map consumed by plugin discovery.
func (c *Config) ProviderFlags() map[string]bool {
	if c == nil {
		return map[string]bool{}
	}
	flags := make(map[string]bool, len(c.Providers))
	for name, raw := range c.Providers {
		flags[name] = raw.Enabled
	}
	return flags
}

// ProviderConfigs returns the raw per-provider factory configs.
func (c *Config) ProviderConfigs() map[string]json.RawMessage {
	if c == nil {
		return map[string]json.RawMessage{}
	}
	out := make(map[string]json.RawMessage, len(c.Providers))
	for name, raw := range c.Providers {
		out[name] = raw.Config
	}
	return out
}
