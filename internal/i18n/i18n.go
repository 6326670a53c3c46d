// Package i18n localizes user-visible messages from embedded JSON bundles.
package i18n

import (
	"context"
	"embed"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/nicksnyder/go-i18n/v2/i18n"
	"golang.org/x/text/language"
)

//go:embed locales/*.json
var localeFS embed.FS

type ctxKey struct{}

var bundle *i18n.Bundle

// Init loads the translation bundle with lang as the default language.
func Init(lang string) error {
	tag, err := language.Parse(lang)
	if err != nil {
		return fmt.Errorf("parse language %q: %w", lang, err)
	}

	b := i18n.NewBundle(tag)
	b.RegisterUnmarshalFunc("json", json.Unmarshal)

	entries, err := localeFS.ReadDir("locales")
	if err != nil {
		return fmt.Errorf("read locales dir: %w", err)
	}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		data, err := localeFS.ReadFile("locales/" + e.Name())
		if err != nil {
			return fmt.Errorf("read locale file %s: %w", e.Name(), err)
		}
		if _, err := b.ParseMessageFileBytes(data, e.Name()); err != nil {
			return fmt.Errorf("parse locale file %s: %w", e.Name(), err)
		}
		slog.Debug("loaded locale file", "file", e.Name())
	}

	bundle = b
	return nil
}

// Languages returns the tags of the loaded locale files.
func Languages() []string {
	tags := bundle.LanguageTags()
	out := make([]string, 0, len(tags))
	for _, t := range tags {
		out = append(out, t.String())
	}
	return out
}

// NewLocalizer creates a localizer preferring the given languages in order.
func NewLocalizer(langs ...string) *i18n.Localizer {
	return i18n.NewLocalizer(bundle, langs...)
}

// WithLocalizer stores a localizer in the context.
func WithLocalizer(ctx context.Context, loc *i18n.Localizer) context.Context {
	return context.WithValue(ctx, ctxKey{}, loc)
}

func localizerFromCtx(ctx context.Context) *i18n.Localizer {
	if loc, ok := ctx.Value(ctxKey{}).(*i18n.Localizer); ok {
		return loc
	}
	return i18n.NewLocalizer(bundle, "en")
}

// Message is a message id with optional template data and plural count.
type Message struct {
	ID    string
	Data  map[string]any
	Count *int
}

// Localize renders m in the context's language. A missing translation
// falls back to the message id.
func Localize(ctx context.Context, m Message) string {
	cfg := &i18n.LocalizeConfig{MessageID: m.ID, TemplateData: m.Data}
	if m.Count != nil {
		cfg.PluralCount = *m.Count
		if cfg.TemplateData == nil {
			cfg.TemplateData = map[string]any{"Count": *m.Count}
		}
	}
	s, err := localizerFromCtx(ctx).Localize(cfg)
	if err != nil {
		slog.Warn("missing translation", "id", m.ID, "error", err)
		return m.ID
	}
	return s
}

// T translates a message by ID.
func T(ctx context.Context, msgID string) string {
	return Localize(ctx, Message{ID: msgID})
}

// Tp translates a pluralized message by ID.
func Tp(ctx context.Context, msgID string, count int) string {
	return Localize(ctx, Message{ID: msgID, Count: &count})
}
