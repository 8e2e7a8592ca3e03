package i18n

import (
	"context"
	"net/http"

	"golang.org/x/text/language"
)

var supported = []string{English, Portuguese}

var matcher = language.NewMatcher([]language.Tag{language.English, language.BrazilianPortuguese})

type langKey struct{}

// Middleware picks the language of each request from the "lang" query
// parameter, then the Accept-Language header, then defaultLang, and injects
// the matching localizer into the request context.
func Middleware(defaultLang string) func(http.Handler) http.Handler {
	defaultLang = Normalize(defaultLang)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			lang := requestLang(r, defaultLang)
			ctx := context.WithValue(WithLang(r.Context(), lang), langKey{}, lang)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func requestLang(r *http.Request, fallback string) string {
	if q := r.URL.Query().Get("lang"); q != "" {
		return Normalize(q)
	}
	header := r.Header.Get("Accept-Language")
	if header == "" {
		return fallback
	}
	tags, _, err := language.ParseAcceptLanguage(header)
	if err != nil || len(tags) == 0 {
		return fallback
	}
	_, idx, conf := matcher.Match(tags...)
	if conf == language.No {
		return fallback
	}
	return supported[idx]
}

// LangFromContext returns the language chosen by Middleware, or "".
func LangFromContext(ctx context.Context) string {
	lang, _ := ctx.Value(langKey{}).(string)
	return lang
}
