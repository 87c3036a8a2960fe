package api

import (
	"crypto/subtle"
	"log/slog"
	"net/http"
	"strings"
)

// requireToken guards the /v1 routes with the configured server.token.
// The CLI sends the same key as "Authorization: Bearer <token>". Rejected
// requests are logged without the presented value.
func requireToken(token string, logger *slog.Logger) func(http.Handler) http.Handler {
	want := []byte(token)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			got, ok := bearerToken(r)
			if !ok || subtle.ConstantTimeCompare([]byte(got), want) != 1 {
				logger.Warn("rejected request without valid server token",
					"method", r.Method, "path", r.URL.Path, "remote", r.RemoteAddr, "token_present", ok)
				w.Header().Set("WWW-Authenticate", `Bearer realm="modelbench"`)
				httpError(w, http.StatusUnauthorized, errAuthentication, "missing or invalid server token (see server.token)")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// bearerToken extracts the credential of a Bearer Authorization header.
// The scheme is matched case-insensitively.
func bearerToken(r *http.Request) (string, bool) {
	scheme, tok, ok := strings.Cut(r.Header.Get("Authorization"), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	tok = strings.TrimSpace(tok)
	return tok, tok != ""
}
