// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package api

import (
	"crypto/subtle"
	"net/http"
	"strings"
)

// passcodeExempt lists paths reachable without the shared passcode.
var passcodeExempt = map[string]bool{
	"/":        true,
	"/health":  true,
	"/metrics": true,
}

// passcodeMiddleware enforces the shared X-Passcode header when one is
// configured. Health, root, docs and metrics stay open.
func (s *Server) passcodeMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.cfg.Passcode == "" || passcodeExempt[r.URL.Path] || strings.HasPrefix(r.URL.Path, "/docs") {
			next.ServeHTTP(w, r)
			return
		}
		got := r.Header.Get("X-Passcode")
		if subtle.ConstantTimeCompare([]byte(got), []byte(s.cfg.Passcode)) != 1 {
			writeError(w, http.StatusForbidden, "Invalid or missing passcode")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// corsMiddleware applies the configured origin allow-list and answers
// preflight requests.
func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin != "" {
			for _, allowed := range s.cfg.CORSOrigins {
				if allowed == "*" || allowed == origin {
					w.Header().Set("Access-Control-Allow-Origin", allowed)
					w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PATCH, DELETE, OPTIONS")
					w.Header().Set("Access-Control-Allow-Headers", "Content-Type, X-Passcode")
					break
				}
			}
		}
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}
