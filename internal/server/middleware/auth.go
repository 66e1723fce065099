package middleware

import (
	"crypto/subtle"
	"net/http"
	"strings"
)

// Auth guards operator routes (market creation, settle, sweep). The key is
// read from X-API-Key or an "Authorization: Bearer" header. With no key
// configured the routes answer 403.
func Auth(apiKey string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if apiKey == "" {
				reject(w, http.StatusForbidden, "admin_disabled", "no admin api key configured")
				return
			}
			switch presented := presentedKey(r); {
			case presented == "":
				reject(w, http.StatusUnauthorized, "unauthorized", "missing api key")
			case subtle.ConstantTimeCompare([]byte(presented), []byte(apiKey)) != 1:
				reject(w, http.StatusUnauthorized, "unauthorized", "invalid api key")
			default:
				next.ServeHTTP(w, r)
			}
		})
	}
}

func presentedKey(r *http.Request) string {
	if key := strings.TrimSpace(r.Header.Get("X-API-Key")); key != "" {
		return key
	}
	scheme, token, ok := strings.Cut(r.Header.Get("Authorization"), " ")
	if ok && strings.EqualFold(scheme, "Bearer") {
		return strings.TrimSpace(token)
	}
	return ""
}
