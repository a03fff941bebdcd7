package service

import (
	"log/slog"
	"net/http"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

// bearerAuth requires `Authorization: Bearer <token>` where the token
// matches the configured bcrypt hash. Comparison cost makes this suitable
// for the low request rates a capture service sees.
func bearerAuth(tokenHash string, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			auth := r.Header.Get("Authorization")
			token, ok := strings.CutPrefix(auth, "Bearer ")
			if !ok || token == "" {
				writeJSON(w, http.StatusUnauthorized, downloadResponse{Error: "missing bearer token"})
				return
			}
			if err := bcrypt.CompareHashAndPassword([]byte(tokenHash), []byte(token)); err != nil {
				logger.Warn("service: rejected bearer token", "remote", r.RemoteAddr)
				writeJSON(w, http.StatusUnauthorized, downloadResponse{Error: "invalid token"})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
