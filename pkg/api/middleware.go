package api

import (
	"net/http"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"
)

// requestLogger logs incoming HTTP requests.
func (s *server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)

		s.log.WithField("method", r.Method).
			WithField("path", r.URL.Path).
			WithField("remote", r.RemoteAddr).
			WithField("duration", time.Since(start)).
			Debug("Request handled")
	})
}

// requireToken checks the Bearer token against the configured bcrypt
// hashes. It is a no-op when auth is disabled.
func (s *server) requireToken(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !s.cfg.Auth.Enabled {
			next.ServeHTTP(w, r)

			return
		}

		token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		if !ok || token == "" {
			writeJSON(w, http.StatusUnauthorized,
				errorResponse{"authentication required"})

			return
		}

		if !s.checkToken(token) {
			writeJSON(w, http.StatusUnauthorized,
				errorResponse{"invalid token"})

			return
		}

		next.ServeHTTP(w, r)
	})
}

// checkToken reports whether token matches any configured hash.
func (s *server) checkToken(token string) bool {
	for _, hash := range s.cfg.Auth.TokenHashes {
		if bcrypt.CompareHashAndPassword([]byte(hash), []byte(token)) == nil {
			return true
		}
	}

	return false
}
