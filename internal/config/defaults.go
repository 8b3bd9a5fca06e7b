package config

import "time"

const (
	defaultProcessName     = "mover"
	defaultPollInterval    = 5 * time.Second
	defaultNotifyIncrement = 25
	defaultMaxNotifyPerMin = 6

	defaultProviderTimeout    = 10 * time.Second
	defaultUnhealthyThreshold = 3
)

// WithDefaults returns a copy with zero values replaced by defaults.
func (m MonitorConfig) WithDefaults() MonitorConfig {
	if m.ProcessName == "" {
		m.ProcessName = defaultProcessName
	}
	if m.NotifyIncrement <= 0 {
		m.NotifyIncrement = defaultNotifyIncrement
	}
	if m.MaxNotifyPerMin <= 0 {
		m.MaxNotifyPerMin = defaultMaxNotifyPerMin
	}
	return m
}

// Poll parses the configured poll interval, falling back to the default
// when unset or invalid.
func (m MonitorConfig) Poll() time.Duration {
	d, err := ParseDurationOrDefault("monitor.poll_interval", m.PollInterval, defaultPollInterval)
	if err != nil {
		return defaultPollInterval
	}
	return d
}

// WithDefaults returns a copy with zero values replaced by defaults.
// UnhealthyThreshold is clamped to a minimum of 1.
func (d DispatchConfig) WithDefaults() DispatchConfig {
	if d.UnhealthyThreshold <= 0 {
		d.UnhealthyThreshold = defaultUnhealthyThreshold
	}
	return d
}

// Timeout parses the configured per-provider timeout, falling back to the
// default when unset or invalid.
func (d DispatchConfig) Timeout() time.Duration {
	t, err := ParseDurationOrDefault("dispatch.provider_timeout", d.ProviderTimeout, defaultProviderTimeout)
	if err != nil {
		return defaultProviderTimeout
	}
	return t
}
