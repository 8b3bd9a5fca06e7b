// Package telegram delivers mover notifications through the Telegram
// Bot API.
package telegram

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	tele "gopkg.in/telebot.v4"

	"github.com/engels74/mover-status-sub004/internal/notify"
	"github.com/engels74/mover-status-sub004/internal/plugin"
)

const pkgPath = "github.com/engels74/mover-status-sub004/internal/plugin/builtin/telegram"

func init() {
	plugin.MarkImported(pkgPath)
	plugin.Register(plugin.Metadata{
		Identifier:  "telegram",
		Name:        "Telegram",
		Version:     "1.0.0",
		Description: "Mover notifications via the Telegram Bot API",
		Package:     pkgPath,
		EnabledFlag: "telegram_enabled",
		Entrypoint:  pkgPath + ":NewTelegramProvider",
	})
	plugin.RegisterFactory(pkgPath+":NewTelegramProvider", func(cfg json.RawMessage) (any, error) {
		return NewProvider(cfg)
	})
}

type Config struct {
	Token  string `json:"token"`
	ChatID int64  `json:"chat_id"`
	Silent bool   `json:"silent,omitempty"`
}

// Provider sends one HTML-formatted message per event. The bot client
// is created lazily on first send so loading plugins never performs
// network calls.
// sendTimeout bounds one Bot API call. telebot requests don't take a
// context, so this client-level deadline is what frees the transport
// when the dispatcher has already given up on us.
const sendTimeout = 30 * time.Second

type Provider struct {
	cfg   Config
	httpc *http.Client

	once    sync.Once
	bot     *tele.Bot
	initErr error
	offline bool // skip the getMe probe; for tests

	mu      sync.Mutex
	lastErr error
	lastAt  time.Time
}

func NewProvider(raw json.RawMessage) (*Provider, error) {
	cfg, err := plugin.DecodeConfig[Config](raw)
	if err != nil {
		return nil, fmt.Errorf("telegram config: %w", err)
	}
	return &Provider{
		cfg:   cfg,
		httpc: &http.Client{Timeout: sendTimeout},
	}, nil
}

func (p *Provider) ValidateConfig() error {
	if strings.TrimSpace(p.cfg.Token) == "" {
		return errors.New("token is required")
	}
	if p.cfg.ChatID == 0 {
		return errors.New("chat_id is required")
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

func (p *Provider) client() (*tele.Bot, error) {
	p.once.Do(func() {
		p.bot, p.initErr = tele.NewBot(tele.Settings{
			Token:   p.cfg.Token,
			Client:  p.httpc,
			Offline: p.offline,
		})
	})
	return p.bot, p.initErr
}

func (p *Provider) SendNotification(ctx context.Context, data *notify.Data) (*notify.Result, error) {
	start := time.Now()
	bot, err := p.client()
	if err != nil {
		p.note(err)
		return nil, err
	}

	// telebot calls don't take a context; cancellation is honored here
	// before the call, and the bot's http.Client timeout bounds a call
	// already in flight
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	opts := &tele.SendOptions{
		ParseMode:           tele.ModeHTML,
		DisableNotification: p.cfg.Silent,
	}
	_, err = bot.Send(&tele.Chat{ID: p.cfg.ChatID}, p.message(data), opts)
	p.note(err)
	if err != nil {
		return nil, err
	}
	return &notify.Result{
		Success:      true,
		ProviderName: "telegram",
		DeliveryTime: time.Since(start),
	}, nil
}

func (p *Provider) note(err error) {
	p.mu.Lock()
	p.lastErr = err
	p.lastAt = time.Now()
	p.mu.Unlock()
}

func (p *Provider) message(data *notify.Data) string {
	var b strings.Builder
	fmt.Fprintf(&b, "<b>%s</b>\n", title(data.EventType))
	fmt.Fprintf(&b, "Progress: <b>%.1f%%</b>\n", data.Percent)
	fmt.Fprintf(&b, "Moved: %s of %s\n", data.Moved, data.Total)
	fmt.Fprintf(&b, "Remaining: %s\n", data.Remaining)
	fmt.Fprintf(&b, "Rate: %s", data.Rate)
	if data.ETC != nil {
		fmt.Fprintf(&b, "\nETC: %s", data.ETC.Format("15:04:05"))
	}
	if data.CorrelationID != "" {
		fmt.Fprintf(&b, "\n<code>%s</code>", data.CorrelationID)
	}
	return b.String()
}

func title(eventType string) string {
	switch eventType {
	case notify.EventStarted:
		return "📦 Mover started"
	case notify.EventCompleted:
		return "✅ Mover completed"
	case notify.EventSummary:
		return "📊 Mover summary"
	default:
		return "🔄 Mover progress"
	}
}
