package plugin

import (
	"encoding/json"
	"errors"
	"testing"
)

func testMeta(id string) Metadata {
	return Metadata{
		Identifier: id,
		Name:       id,
		Version:    "1.0.0",
		Package:    "example.com/plugins/" + id,
		Factory:    func(json.RawMessage) (any, error) { return nil, nil },
	}
}

func TestRegisterValidation(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		meta Metadata
	}{
		{name: "uppercase", meta: testMeta("Discord")},
		{name: "leading digit", meta: testMeta("1discord")},
		{name: "hyphen", meta: testMeta("dis-cord")},
		{name: "empty", meta: testMeta("")},
		{name: "package mismatch", meta: Metadata{
			Identifier: "discord",
			Package:    "example.com/plugins/telegram",
		}},
		{name: "empty package", meta: Metadata{Identifier: "discord"}},
		{name: "bad entrypoint", meta: func() Metadata {
			m := testMeta("discord")
			m.Entrypoint = "no-colon-here"
			return m
		}()},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			r := NewRegistry()
			err := r.Register(tt.meta)
			if err == nil {
				t.Fatalf("Register(%+v) succeeded, want error", tt.meta)
			}
			var ce *ConfigError
			if !errors.As(err, &ce) {
				t.Fatalf("error type = %T, want *ConfigError", err)
			}
		})
	}
}

func TestRegisterDuplicate(t *testing.T) {
	t.Parallel()
	r := NewRegistry()
	if err := r.Register(testMeta("discord")); err != nil {
		t.Fatalf("first Register: %v", err)
	}
	if err := r.Register(testMeta("discord")); err == nil {
		t.Fatal("duplicate Register succeeded, want error")
	}
}

func TestRegisteredSorted(t *testing.T) {
	t.Parallel()
	r := NewRegistry()
	for _, id := range []string{"telegram", "discord", "gotify"} {
		if err := r.Register(testMeta(id)); err != nil {
			t.Fatalf("Register(%s): %v", id, err)
		}
	}

	got := r.Registered(false)
	want := []string{"discord", "gotify", "telegram"}
	if len(got) != len(want) {
		t.Fatalf("len = %d, want %d", len(got), len(want))
	}
	for i, id := range want {
		if got[i].Identifier != id {
			t.Fatalf("Registered[%d] = %s, want %s", i, got[i].Identifier, id)
		}
	}

	// cache must not alias internal state
	got[0].Identifier = "mutated"
	if r.Registered(false)[0].Identifier != "discord" {
		t.Fatal("Registered result aliases internal cache")
	}
}

func TestDiscoverFiltering(t *testing.T) {
	t.Parallel()
	r := NewRegistry()
	meta := testMeta("telegram")
	meta.EnabledFlag = "telegram_enabled"
	if err := r.Register(meta); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if err := r.Register(testMeta("discord")); err != nil {
		t.Fatalf("Register: %v", err)
	}

	// literal identifier key
	got, err := r.Discover(true, map[string]bool{"discord": true})
	if err != nil {
		t.Fatalf("Discover: %v", err)
	}
	if len(got) != 1 || got[0].Identifier != "discord" {
		t.Fatalf("unexpected result: %+v", got)
	}

	// alias key
	got, err = r.Discover(true, map[string]bool{"telegram_enabled": true})
	if err != nil {
		t.Fatalf("Discover: %v", err)
	}
	if len(got) != 1 || got[0].Identifier != "telegram" {
		t.Fatalf("unexpected result: %+v", got)
	}

	// literal key wins over alias
	got, err = r.Discover(true, map[string]bool{"telegram": false, "telegram_enabled": true})
	if err != nil {
		t.Fatalf("Discover: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("expected empty, got %+v", got)
	}

	// empty flags map disables everything
	got, err = r.Discover(true, map[string]bool{})
	if err != nil {
		t.Fatalf("Discover: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("expected empty, got %+v", got)
	}

	// enabledOnly without flags is a configuration error
	if _, err := r.Discover(true, nil); err == nil {
		t.Fatal("Discover(true, nil) succeeded, want error")
	}

	// unfiltered returns everything
	got, err = r.Discover(false, nil)
	if err != nil {
		t.Fatalf("Discover: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("len = %d, want 2", len(got))
	}
}

func TestRegistryReset(t *testing.T) {
	t.Parallel()
	r := NewRegistry()
	if err := r.Register(testMeta("discord")); err != nil {
		t.Fatalf("Register: %v", err)
	}
	r.Reset()
	if got := r.Registered(true); len(got) != 0 {
		t.Fatalf("expected empty after Reset, got %+v", got)
	}
	// identifier usable again
	if err := r.Register(testMeta("discord")); err != nil {
		t.Fatalf("Register after Reset: %v", err)
	}
}

func TestStragglers(t *testing.T) {
	t.Parallel()
	r := NewRegistry()
	r.MarkImported("example.com/plugins/discord")
	r.MarkImported("example.com/plugins/broken")

	if err := r.Register(testMeta("discord")); err != nil {
		t.Fatalf("Register: %v", err)
	}

	got := r.Stragglers()
	if len(got) != 1 || got[0] != "example.com/plugins/broken" {
		t.Fatalf("Stragglers() = %v, want [example.com/plugins/broken]", got)
	}

	r.Reset()
	if got := r.Stragglers(); len(got) != 0 {
		t.Fatalf("Stragglers() after Reset = %v, want empty", got)
	}
}
