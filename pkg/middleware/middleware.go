package middleware

import (
	"errors"
	"net/http"
	"time"

	"github.com/psantana5/twrap/pkg/auth"
	"github.com/psantana5/twrap/pkg/logging"
)

// BearerAuth rejects requests without a valid bearer token.
// Paths listed in open are served without a token.
func BearerAuth(v *auth.Verifier, open ...string) func(http.Handler) http.Handler {
	skip := make(map[string]bool, len(open))
	for _, p := range open {
		skip[p] = true
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if v == nil || skip[r.URL.Path] {
				next.ServeHTTP(w, r)
				return
			}
			err := v.Verify(auth.BearerToken(r.Header.Get("Authorization")))
			if err != nil {
				if errors.Is(err, auth.ErrMissingToken) {
					w.Header().Set("WWW-Authenticate", `Bearer realm="twrap"`)
				}
				http.Error(w, "Unauthorized", http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

type statusRecorder struct {
	http.ResponseWriter
	code int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.code = code
	r.ResponseWriter.WriteHeader(code)
}

// RequestLogger logs each request at debug level
func RequestLogger(log *logging.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rec := &statusRecorder{ResponseWriter: w, code: http.StatusOK}
			next.ServeHTTP(rec, r)
			log.Debug("HTTP request", map[string]interface{}{
				"method":   r.Method,
				"path":     r.URL.Path,
				"status":   rec.code,
				"duration": time.Since(start).String(),
			})
		})
	}
}
