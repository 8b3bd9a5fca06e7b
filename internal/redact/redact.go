// Package redact masks secrets (webhook URLs, bot tokens, query-string
// credentials) in strings before they are logged or attached to errors.
package redact

import (
	"regexp"
	"strings"
	"sync"
)

const mask = "[REDACTED]"

var (
	// Discord webhook URLs carry the token in the path.
	discordWebhookPattern = regexp.MustCompile(`https://(?:\w+\.)?discord(?:app)?\.com/api/webhooks/\d+/[\w-]+`)
	// Telegram Bot API URLs embed the bot token after /bot.
	telegramBotPattern = regexp.MustCompile(`https://api\.telegram\.org/bot[\w:-]+`)
	// Bare bot tokens (numeric id, colon, secret).
	botTokenPattern = regexp.MustCompile(`\b\d{6,12}:[\w-]{30,}\b`)
	// Credential-looking query parameters on any URL.
	queryCredPattern = regexp.MustCompile(`([?&](?:token|key|secret|password|auth)=)[^\s&"']+`)
)

// Redactor replaces known secret values and secret-shaped substrings.
// The zero value only applies the pattern rules; AddSecret registers
// literal values (e.g. from config) for exact replacement.
//
// Safe for concurrent use.
type Redactor struct {
	mu      sync.RWMutex
	secrets []string
}

func New(secrets ...string) *Redactor {
	r := &Redactor{}
	r.AddSecret(secrets...)
	return r
}

// AddSecret registers literal secret values. Empty and very short values
// are ignored so we never redact generic words.
func (r *Redactor) AddSecret(values ...string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, v := range values {
		v = strings.TrimSpace(v)
		if len(v) < 6 {
			continue
		}
		r.secrets = append(r.secrets, v)
	}
}

// Redact returns s with all registered secrets and secret-shaped
// substrings replaced by a placeholder.
func (r *Redactor) Redact(s string) string {
	if s == "" {
		return s
	}
	if r != nil {
		r.mu.RLock()
		for _, sec := range r.secrets {
			s = strings.ReplaceAll(s, sec, mask)
		}
		r.mu.RUnlock()
	}
	s = discordWebhookPattern.ReplaceAllString(s, "https://discord.com/api/webhooks/"+mask)
	s = telegramBotPattern.ReplaceAllString(s, "https://api.telegram.org/bot"+mask)
	s = botTokenPattern.ReplaceAllString(s, mask)
	s = queryCredPattern.ReplaceAllString(s, "${1}"+mask)
	return s
}

// Error is a convenience for error messages; nil-safe on both sides.
func (r *Redactor) Error(err error) string {
	if err == nil {
		return ""
	}
	return r.Redact(err.Error())
}
