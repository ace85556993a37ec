package chi

import (
	"crypto/subtle"
	"net/http"
	"strings"
)

// Probes and scrapers reach these without an API key.
var publicPaths = map[string]bool{
	"/health":  true,
	"/metrics": true,
}

// APIKeyAuth requires "Authorization: Bearer <key>" on every route except the
// public ones, /mcp included. With no non-empty keys configured it is a no-op.
func APIKeyAuth(apiKeys []string) func(http.Handler) http.Handler {
	keys := make([][]byte, 0, len(apiKeys))
	for _, k := range apiKeys {
		if k != "" {
			keys = append(keys, []byte(k))
		}
	}

	return func(next http.Handler) http.Handler {
		if len(keys) == 0 {
			return next
		}

		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if publicPaths[r.URL.Path] {
				next.ServeHTTP(w, r)
				return
			}

			token, ok := bearerToken(r.Header.Get("Authorization"))
			if !ok {
				unauthorized(w, "api key required: send Authorization: Bearer <key>")
				return
			}
			if !knownKey(keys, []byte(token)) {
				unauthorized(w, "api key not recognized")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// bearerToken extracts the credential; the scheme name is case-insensitive.
func bearerToken(header string) (string, bool) {
	scheme, token, found := strings.Cut(header, " ")
	if !found || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}

func knownKey(keys [][]byte, token []byte) bool {
	match := 0
	for _, k := range keys {
		match |= subtle.ConstantTimeCompare(k, token)
	}
	return match == 1
}

func unauthorized(w http.ResponseWriter, message string) {
	w.Header().Set("WWW-Authenticate", `Bearer realm="ragtools"`)
	writeError(w, http.StatusUnauthorized, CodeUnauthorized, message)
}
