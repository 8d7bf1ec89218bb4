// internal/api/middleware/auth.go
package middleware

import (
	"crypto/subtle"
	"net/http"
	"slices"

	"github.com/newthinker/tpsl/internal/api/response"
	"github.com/newthinker/tpsl/internal/core"
)

// APIKeyHeader carries the client key.
const APIKeyHeader = "X-API-Key"

// APIKeyAuth returns middleware that validates the X-API-Key header.
// If apiKey is empty, authentication is disabled. Requests for any of the
// public paths pass through unchecked.
func APIKeyAuth(apiKey string, public ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if apiKey == "" || slices.Contains(public, r.URL.Path) {
				next.ServeHTTP(w, r)
				return
			}

			providedKey := r.Header.Get(APIKeyHeader)
			if providedKey == "" {
				response.Error(w, http.StatusUnauthorized,
					core.Errorf(core.ErrConfigMissing, "missing %s header", APIKeyHeader))
				return
			}

			if subtle.ConstantTimeCompare([]byte(providedKey), []byte(apiKey)) != 1 {
				response.Error(w, http.StatusUnauthorized,
					core.Errorf(core.ErrConfigInvalid, "invalid api key"))
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
