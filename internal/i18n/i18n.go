package i18n

import (
	"context"
	"embed"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/nicksnyder/go-i18n/v2/i18n"
	"golang.org/x/text/language"
)

var jsonUnmarshal = json.Unmarshal

//go:embed locales/*.json
var localeFS embed.FS

// Supported language tags.
const (
	English    = "en"
	Portuguese = "pt-BR"
)

type ctxKey struct{}

var bundle *i18n.Bundle

// Init loads the translation bundle with lang as the fallback language.
func Init(lang string) error {
	tag, err := language.Parse(Normalize(lang))
	if err != nil {
		return fmt.Errorf("parse language %q: %w", lang, err)
	}

	bundle = i18n.NewBundle(tag)
	bundle.RegisterUnmarshalFunc("json", jsonUnmarshal)

	// Load all locale files from embedded FS.
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
		bundle.MustParseMessageFileBytes(data, e.Name())
		slog.Debug("loaded locale file", "file", e.Name())
	}

	return nil
}

// Normalize maps loose language names such as "pt_br" or "pt" to a supported
// tag. Anything that is not Portuguese becomes English.
func Normalize(lang string) string {
	l := strings.ToLower(strings.TrimSpace(lang))
	if strings.HasPrefix(l, "pt") {
		return Portuguese
	}
	return English
}

// DetectLang picks the language from LC_ALL, LC_MESSAGES and LANG, in that
// order. The first non-empty variable decides.
func DetectLang() string {
	for _, v := range []string{"LC_ALL", "LC_MESSAGES", "LANG"} {
		if val := os.Getenv(v); val != "" {
			return Normalize(val)
		}
	}
	return English
}

// NewLocalizer creates a localizer for the given language.
func NewLocalizer(lang string) *i18n.Localizer {
	return i18n.NewLocalizer(bundle, Normalize(lang))
}

// WithLocalizer stores a localizer in the context.
func WithLocalizer(ctx context.Context, loc *i18n.Localizer) context.Context {
	return context.WithValue(ctx, ctxKey{}, loc)
}

// WithLang stores a localizer for lang in the context.
func WithLang(ctx context.Context, lang string) context.Context {
	return WithLocalizer(ctx, NewLocalizer(lang))
}

// localizerFromCtx retrieves the localizer from context.
func localizerFromCtx(ctx context.Context) *i18n.Localizer {
	if loc, ok := ctx.Value(ctxKey{}).(*i18n.Localizer); ok {
		return loc
	}
	// Fallback: return English localizer.
	return i18n.NewLocalizer(bundle, English)
}

// T translates a message by ID.
func T(ctx context.Context, msgID string) string {
	loc := localizerFromCtx(ctx)
	s, err := loc.Localize(&i18n.LocalizeConfig{MessageID: msgID})
	if err != nil {
		slog.Warn("missing translation", "id", msgID, "error", err)
		return msgID
	}
	return s
}

// Td translates a message by ID with template data.
func Td(ctx context.Context, msgID string, data map[string]any) string {
	loc := localizerFromCtx(ctx)
	s, err := loc.Localize(&i18n.LocalizeConfig{
		MessageID:    msgID,
		TemplateData: data,
	})
	if err != nil {
		slog.Warn("missing translation", "id", msgID, "error", err)
		return msgID
	}
	return s
}

// Tp translates a pluralized message by ID.
func Tp(ctx context.Context, msgID string, count int) string {
	loc := localizerFromCtx(ctx)
	s, err := loc.Localize(&i18n.LocalizeConfig{
		MessageID:    msgID,
		PluralCount:  count,
		TemplateData: map[string]any{"Count": count},
	})
	if err != nil {
		slog.Warn("missing translation", "id", msgID, "error", err)
		return msgID
	}
	return s
}

// Labels returns the fixed captions printed on an exam.
func Labels(ctx context.Context) map[string]string {
	return map[string]string{
		"course":    T(ctx, "PDFCourse"),
		"professor": T(ctx, "PDFProfessor"),
		"student":   T(ctx, "PDFStudent"),
		"id":        T(ctx, "PDFID"),
		"date":      T(ctx, "PDFDate"),
		"question":  T(ctx, "PDFQuestion"),
		"page_of":   T(ctx, "PDFPageOf"),
	}
}

// BabelLanguage returns the LaTeX babel option for the context language.
func BabelLanguage(ctx context.Context) string {
	return T(ctx, "BabelLanguage")
}

// FormatDate renders t as a long date in the context language.
func FormatDate(ctx context.Context, t time.Time) string {
	return Td(ctx, "DateLayout", map[string]any{
		"Day":   t.Day(),
		"Month": T(ctx, "Month"+strconv.Itoa(int(t.Month()))),
		"Year":  t.Year(),
	})
}
