// Package middleware holds the HTTP middleware for the admin API. The kill
// switch lives behind these routes, so every request is authenticated and
// logged.
package middleware

import (
	"crypto/subtle"
	"net/http"
	"strings"
)

// Auth guards the admin API with a static key, accepted either as a Bearer
// token or in the X-API-Key header. An empty key disables authentication;
// the config layer rejects that combination when the server is enabled, so
// it only occurs in tests.
func Auth(apiKey string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if apiKey == "" {
				next.ServeHTTP(w, r)
				return
			}

			key := requestKey(r)
			if key == "" {
				unauthorized(w, "missing api key")
				return
			}
			// Constant-time compare; the key gates the kill switch.
			if subtle.ConstantTimeCompare([]byte(key), []byte(apiKey)) != 1 {
				unauthorized(w, "invalid api key")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// requestKey extracts the presented key from the Authorization Bearer scheme
// or the X-API-Key header, in that order.
func requestKey(r *http.Request) string {
	if auth := r.Header.Get("Authorization"); auth != "" {
		scheme, rest, found := strings.Cut(auth, " ")
		if found && strings.EqualFold(scheme, "Bearer") {
			return strings.TrimSpace(rest)
		}
	}
	return strings.TrimSpace(r.Header.Get("X-API-Key"))
}

func unauthorized(w http.ResponseWriter, msg string) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(http.StatusUnauthorized)
	w.Write([]byte(`{"error":"` + msg + `"}`))
}
