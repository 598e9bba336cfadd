package auth

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
)

const forbiddenBody = `{"error":"Missing ROLE_SERVICE authority"}`

type contextKey struct{}

// CallerFromContext returns the subject of the verified service token, if any.
func CallerFromContext(ctx context.Context) (string, bool) {
	caller, ok := ctx.Value(contextKey{}).(string)
	return caller, ok
}

// RequireService rejects requests without a valid SERVICE bearer token.
func RequireService(tokens *Tokens, log *slog.Logger) func(http.Handler) http.Handler {
	if log == nil {
		log = slog.Default()
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
			if !ok || raw == "" {
				forbid(w)
				return
			}

			claims, err := tokens.Verify(raw)
			if err != nil {
				log.WarnContext(r.Context(), "rejected service token",
					slog.String("path", r.URL.Path),
					slog.Any("error", err),
				)
				forbid(w)
				return
			}

			ctx := context.WithValue(r.Context(), contextKey{}, claims.Subject)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func forbid(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusForbidden)
	_, _ = w.Write([]byte(forbiddenBody))
}
