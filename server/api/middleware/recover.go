package middleware

import (
	"encoding/json"
	"net/http"
	"runtime/debug"
	"time"

	"github.com/rs/zerolog"
)

// Recover turns handler panics into a 500 with the standard error envelope.
// http.ErrAbortHandler is re-raised so net/http can drop the connection.
func Recover(log zerolog.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				rec := recover()
				if rec == nil {
					return
				}
				if rec == http.ErrAbortHandler {
					panic(rec)
				}

				requestID := RequestIDFrom(r.Context())
				ev := log.Error().
					Interface("error", rec).
					Str("request_id", requestID).
					Str("method", r.Method).
					Str("path", r.URL.Path).
					Bytes("stack", debug.Stack())
				if caller, err := CallerFrom(r.Context()); err == nil {
					ev = ev.Str("caller", caller.Hex())
				}
				ev.Msg("http_panic")

				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusInternalServerError)
				_ = json.NewEncoder(w).Encode(map[string]any{
					"error": map[string]any{
						"code":       "internal",
						"message":    "internal server error",
						"request_id": requestID,
						"timestamp":  time.Now().UTC().Format(time.RFC3339),
					},
				})
			}()
			next.ServeHTTP(w, r)
		})
	}
}
