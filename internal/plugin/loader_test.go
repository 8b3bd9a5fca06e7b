package plugin

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/engels74/mover-status-sub004/internal/notify"
)

type fakeProvider struct {
	name      string
	cfg       json.RawMessage
	configErr error
}

func (p *fakeProvider) SendNotification(ctx context.Context, data *notify.Data) (*notify.Result, error) {
	return &notify.Result{Success: true, ProviderName: p.name}, nil
}

func (p *fakeProvider) ValidateConfig() error { return p.configErr }

func (p *fakeProvider) HealthCheck(ctx context.Context) notify.HealthStatus {
	return notify.HealthStatus{Healthy: true, LastCheck: time.Now()}
}

// notAProvider has none of the capability methods.
type notAProvider struct{}

func registerWithFactory(t *testing.T, r *Registry, id string, fn Factory) {
	t.Helper()
	m := testMeta(id)
	m.Factory = fn
	if err := r.Register(m); err != nil {
		t.Fatalf("Register(%s): %v", id, err)
	}
}

func TestLoadEnabledForwardsConfig(t *testing.T) {
	t.Parallel()
	r := NewRegistry()
	var seen json.RawMessage
	registerWithFactory(t, r, "discord", func(cfg json.RawMessage) (any, error) {
		seen = cfg
		return &fakeProvider{name: "discord", cfg: cfg}, nil
	})

	raw := json.RawMessage(`{"webhook_url":"https://example.com/hook","unknown_future_field":1}`)
	loaded, skipped, err := NewLoader(r).LoadEnabled(
		map[string]bool{"discord": true},
		map[string]json.RawMessage{"discord": raw},
		false,
	)
	if err != nil {
		t.Fatalf("LoadEnabled: %v", err)
	}
	if len(skipped) != 0 {
		t.Fatalf("unexpected skips: %v", skipped)
	}
	if len(loaded) != 1 || loaded[0].Identifier != "discord" {
		t.Fatalf("unexpected loaded set: %+v", loaded)
	}
	// raw config must be forwarded verbatim, not re-marshaled
	if string(seen) != string(raw) {
		t.Fatalf("factory config = %s, want %s", seen, raw)
	}
	if loaded[0].Provider == nil {
		t.Fatal("nil provider in LoadedPlugin")
	}
}

func TestLoadEnabledSkipsAndContinues(t *testing.T) {
	t.Parallel()
	r := NewRegistry()

	registerWithFactory(t, r, "alpha", func(json.RawMessage) (any, error) {
		return &fakeProvider{name: "alpha"}, nil
	})
	registerWithFactory(t, r, "badcap", func(json.RawMessage) (any, error) {
		return &notAProvider{}, nil
	})
	registerWithFactory(t, r, "boom", func(json.RawMessage) (any, error) {
		panic("factory exploded")
	})
	registerWithFactory(t, r, "failfact", func(json.RawMessage) (any, error) {
		return nil, errors.New("no credentials")
	})
	registerWithFactory(t, r, "badcfg", func(json.RawMessage) (any, error) {
		return &fakeProvider{name: "badcfg", configErr: errors.New("webhook_url required")}, nil
	})

	flags := map[string]bool{
		"alpha": true, "badcap": true, "boom": true, "failfact": true, "badcfg": true,
	}
	loaded, skipped, err := NewLoader(r).LoadEnabled(flags, nil, false)
	if err != nil {
		t.Fatalf("LoadEnabled: %v", err)
	}

	if len(loaded) != 1 || loaded[0].Identifier != "alpha" {
		t.Fatalf("loaded = %+v, want only alpha", loaded)
	}
	if len(skipped) != 4 {
		t.Fatalf("skipped = %d, want 4", len(skipped))
	}

	stages := map[string]string{}
	for _, le := range skipped {
		stages[le.Identifier] = le.Stage
	}
	want := map[string]string{
		"badcap":   "capability",
		"boom":     "factory",
		"failfact": "factory",
		"badcfg":   "config",
	}
	for id, stage := range want {
		if stages[id] != stage {
			t.Fatalf("plugin %s stage = %q, want %q", id, stages[id], stage)
		}
	}
}

func TestLoadEnabledEntrypointResolution(t *testing.T) {
	t.Parallel()
	r := NewRegistry()

	// convention: <package>:NewProvider
	conv := testMeta("conv")
	conv.Factory = nil
	if err := r.Register(conv); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if err := r.RegisterFactory(conv.Package+":NewProvider", func(json.RawMessage) (any, error) {
		return &fakeProvider{name: "conv"}, nil
	}); err != nil {
		t.Fatalf("RegisterFactory: %v", err)
	}

	// explicit entrypoint override
	expl := testMeta("expl")
	expl.Factory = nil
	expl.Entrypoint = expl.Package + ":NewLegacyProvider"
	if err := r.Register(expl); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if err := r.RegisterFactory(expl.Entrypoint, func(json.RawMessage) (any, error) {
		return &fakeProvider{name: "expl"}, nil
	}); err != nil {
		t.Fatalf("RegisterFactory: %v", err)
	}

	// nothing registered at the conventional locator
	miss := testMeta("miss")
	miss.Factory = nil
	if err := r.Register(miss); err != nil {
		t.Fatalf("Register: %v", err)
	}

	flags := map[string]bool{"conv": true, "expl": true, "miss": true}
	loaded, skipped, err := NewLoader(r).LoadEnabled(flags, nil, false)
	if err != nil {
		t.Fatalf("LoadEnabled: %v", err)
	}
	if len(loaded) != 2 {
		t.Fatalf("loaded = %+v, want conv and expl", loaded)
	}
	if len(skipped) != 1 || skipped[0].Identifier != "miss" || skipped[0].Stage != "entrypoint" {
		t.Fatalf("skipped = %+v, want miss at entrypoint stage", skipped)
	}
}

func TestLoaderSanitizesDiagnostics(t *testing.T) {
	t.Parallel()
	r := NewRegistry()
	registerWithFactory(t, r, "leaky", func(json.RawMessage) (any, error) {
		return nil, errors.New("post to https://hooks.example.com/secret-token-12345 failed")
	})

	l := NewLoader(r, WithSanitizer(func(s string) string {
		return strings.ReplaceAll(s, "secret-token-12345", "[REDACTED]")
	}))
	if got := l.scrub("x secret-token-12345 y"); strings.Contains(got, "secret-token-12345") {
		t.Fatalf("sanitizer not applied: %q", got)
	}

	_, skipped, err := l.LoadEnabled(map[string]bool{"leaky": true}, nil, false)
	if err != nil {
		t.Fatalf("LoadEnabled: %v", err)
	}
	if len(skipped) != 1 {
		t.Fatalf("skipped = %d, want 1", len(skipped))
	}

	// the LoadError itself carries the scrubbed cause and the metadata,
	// so it is safe to store or re-log downstream
	le := skipped[0]
	if strings.Contains(le.Err.Error(), "secret-token-12345") {
		t.Fatalf("LoadError cause not sanitized: %v", le.Err)
	}
	if !strings.Contains(le.Err.Error(), "[REDACTED]") {
		t.Fatalf("LoadError cause = %v, want masked token", le.Err)
	}
	if le.Metadata.Identifier != "leaky" {
		t.Fatalf("LoadError metadata = %+v, want leaky's", le.Metadata)
	}
}
