// Package discord delivers mover notifications to a Discord webhook as
// rich embeds.
package discord

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/engels74/mover-status-sub004/internal/notify"
	"github.com/engels74/mover-status-sub004/internal/plugin"
)

const pkgPath = "github.com/engels74/mover-status-sub004/internal/plugin/builtin/discord"

func init() {
	plugin.MarkImported(pkgPath)
	plugin.Register(plugin.Metadata{
		Identifier:  "discord",
		Name:        "Discord",
		Version:     "1.0.0",
		Description: "Mover notifications via Discord webhook embeds",
		Package:     pkgPath,
		EnabledFlag: "discord_enabled",
	})
	plugin.RegisterFactory(pkgPath+":NewProvider", func(cfg json.RawMessage) (any, error) {
		return NewProvider(cfg)
	})
}

type Config struct {
	WebhookURL string `json:"webhook_url"`
	Username   string `json:"username,omitempty"`
	AvatarURL  string `json:"avatar_url,omitempty"`
}

// Provider posts one webhook message per event.
type Provider struct {
	cfg  Config
	http *http.Client

	mu      sync.Mutex
	lastErr error
	lastAt  time.Time
}

func NewProvider(raw json.RawMessage) (*Provider, error) {
	cfg, err := plugin.DecodeConfig[Config](raw)
	if err != nil {
		return nil, fmt.Errorf("discord config: %w", err)
	}
	return &Provider{
		cfg:  cfg,
		http: &http.Client{Timeout: 30 * time.Second},
	}, nil
}

func (p *Provider) ValidateConfig() error {
	u := strings.TrimSpace(p.cfg.WebhookURL)
	if u == "" {
		return errors.New("webhook_url is required")
	}
	if !strings.HasPrefix(u, "https://") {
		return errors.New("webhook_url must be https")
	}
	return nil
}

func (p *Provider) HealthCheck(ctx context.Context) notify.HealthStatus {
	p.mu.Lock()
	defer p.mu.Unlock()
	st := notify.HealthStatus{Healthy: p.lastErr == nil, LastCheck: p.lastAt}
	if p.lastErr != nil {
		st.ErrorMessage = p.lastErr.Error()
	}
	if p.lastAt.IsZero() {
		st.Healthy = true
		st.LastCheck = time.Now()
	}
	return st
}

func (p *Provider) SendNotification(ctx context.Context, data *notify.Data) (*notify.Result, error) {
	start := time.Now()
	body, err := json.Marshal(p.payload(data))
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.cfg.WebhookURL, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.http.Do(req)
	if err != nil {
		p.note(err)
		return nil, err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	res := &notify.Result{
		ProviderName: "discord",
		DeliveryTime: time.Since(start),
	}
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		res.Success = true
		p.note(nil)
		return res, nil
	}

	res.ErrorMessage = fmt.Sprintf("webhook returned %s", resp.Status)
	// rate limiting and server-side errors are worth retrying; a 4xx
	// (bad webhook, bad payload) is not
	res.ShouldRetry = resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500
	p.note(errors.New(res.ErrorMessage))
	return res, nil
}

func (p *Provider) note(err error) {
	p.mu.Lock()
	p.lastErr = err
	p.lastAt = time.Now()
	p.mu.Unlock()
}

// webhookPayload is the subset of Discord's webhook schema we use.
type webhookPayload struct {
	Username  string  `json:"username,omitempty"`
	AvatarURL string  `json:"avatar_url,omitempty"`
	Embeds    []embed `json:"embeds"`
}

type embed struct {
	Title       string       `json:"title"`
	Description string       `json:"description,omitempty"`
	Color       int          `json:"color"`
	Fields      []embedField `json:"fields,omitempty"`
	Footer      *embedFooter `json:"footer,omitempty"`
	Timestamp   string       `json:"timestamp"`
}

type embedField struct {
	Name   string `json:"name"`
	Value  string `json:"value"`
	Inline bool   `json:"inline,omitempty"`
}

type embedFooter struct {
	Text string `json:"text"`
}

const (
	colorBlue  = 0x3498db
	colorGreen = 0x2ecc71
	colorGray  = 0x95a5a6
)

func (p *Provider) payload(data *notify.Data) webhookPayload {
	e := embed{
		Title:     title(data.EventType),
		Color:     color(data.EventType),
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Fields: []embedField{
			{Name: "Progress", Value: fmt.Sprintf("%.1f%%", data.Percent), Inline: true},
			{Name: "Moved", Value: data.Moved, Inline: true},
			{Name: "Remaining", Value: data.Remaining, Inline: true},
			{Name: "Total", Value: data.Total, Inline: true},
			{Name: "Rate", Value: data.Rate, Inline: true},
		},
	}
	if data.ETC != nil {
		e.Fields = append(e.Fields, embedField{Name: "ETC", Value: data.ETC.Format("15:04:05"), Inline: true})
	}
	if data.CorrelationID != "" {
		e.Footer = &embedFooter{Text: data.CorrelationID}
	}
	return webhookPayload{
		Username:  p.cfg.Username,
		AvatarURL: p.cfg.AvatarURL,
		Embeds:    []embed{e},
	}
}

func title(eventType string) string {
	switch eventType {
	case notify.EventStarted:
		return "Mover started"
	case notify.EventCompleted:
		return "Mover completed"
	case notify.EventSummary:
		return "Mover summary"
	default:
		return "Mover progress"
	}
}

func color(eventType string) int {
	switch eventType {
	case notify.EventCompleted:
		return colorGreen
	case notify.EventSummary:
		return colorGray
	default:
		return colorBlue
	}
}
