package handler

import (
	"crypto/subtle"
	"fmt"
	"log/slog"
	"net/http"

	"golang.org/x/crypto/bcrypt"
)

const adminUser = "admin"

// basicAuth guards write endpoints with a single bcrypt-hashed credential.
// A nil *basicAuth lets every request through.
type basicAuth struct {
	user string
	hash []byte
}

func newBasicAuth(user, password string) (*basicAuth, error) {
	if password == "" {
		return nil, nil
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("hash api password: %w", err)
	}
	return &basicAuth{user: user, hash: hash}, nil
}

func (a *basicAuth) check(user, password string) bool {
	if subtle.ConstantTimeCompare([]byte(user), []byte(a.user)) != 1 {
		return false
	}
	return bcrypt.CompareHashAndPassword(a.hash, []byte(password)) == nil
}

func (a *basicAuth) middleware(next http.Handler) http.Handler {
	if a == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, password, ok := r.BasicAuth()
		if !ok || !a.check(user, password) {
			slog.Warn("rejected api credentials", "path", r.URL.Path, "remote", r.RemoteAddr)
			w.Header().Set("WWW-Authenticate", `Basic realm="crammer"`)
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		next.ServeHTTP(w, r)
	})
}
