package config

import (
	"bytes"
	"encoding/json"
	"sort"
	"strings"
)

// Summarize reports which top-level sections differ between two configs.
// It compares serialized forms so provider secrets never appear in the
// result; only section names do.
func Summarize(old, new_ *Config) string {
	if old == nil && new_ == nil {
		return "none"
	}
	if old == nil || new_ == nil {
		return "all"
	}

	var changed []string
	if !jsonEqual(old.Logging, new_.Logging) {
		changed = append(changed, "logging")
	}
	if !jsonEqual(old.Monitor, new_.Monitor) {
		changed = append(changed, "monitor")
	}
	if !jsonEqual(old.Dispatch, new_.Dispatch) {
		changed = append(changed, "dispatch")
	}
	if !jsonEqual(old.Storage, new_.Storage) {
		changed = append(changed, "storage")
	}
	changed = append(changed, providerDiff(old.Providers, new_.Providers)...)

	if len(changed) == 0 {
		return "none"
	}
	sort.Strings(changed)
	return strings.Join(changed, ",")
}

func providerDiff(old, new_ map[string]ProviderConfigRaw) []string {
	var out []string
	for name, oc := range old {
		nc, ok := new_[name]
		if !ok {
			out = append(out, "providers."+name+"(-)")
			continue
		}
		if oc.Enabled != nc.Enabled || !bytes.Equal(oc.Config, nc.Config) {
			out = append(out, "providers."+name)
		}
	}
	for name := range new_ {
		if _, ok := old[name]; !ok {
			out = append(out, "providers."+name+"(+)")
		}
	}
	return out
}

func jsonEqual(a, b any) bool {
	ab, err := json.Marshal(a)
	if err != nil {
		return false
	}
	bb, err := json.Marshal(b)
	if err != nil {
		return false
	}
	return bytes.Equal(ab, bb)
}
