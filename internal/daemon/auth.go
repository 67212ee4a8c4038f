package daemon

import (
	"crypto/subtle"
	"encoding/json"
	"net/http"
	"strings"

	"minutes/internal/api"
	"minutes/internal/services"
)

// authMiddleware validates bearer tokens. When token is empty every request
// passes through.
func authMiddleware(token string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if token == "" {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			auth := r.Header.Get("Authorization")
			presented, ok := strings.CutPrefix(auth, "Bearer ")
			if !ok || subtle.ConstantTimeCompare([]byte(presented), []byte(token)) != 1 {
				writeRaw(w, http.StatusUnauthorized, api.ErrorResponse{Error: "unauthorized", Kind: "unauthorized"})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// userMiddleware requires the X-User-ID header and stores it on the request
// context for handlers and logs.
func userMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID := strings.TrimSpace(r.Header.Get(UserHeader))
		if userID == "" {
			writeRaw(w, http.StatusBadRequest, api.ErrorResponse{
				Error: UserHeader + " header is required",
				Kind:  "validation",
			})
			return
		}
		ctx := services.WithUserID(r.Context(), userID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func userFrom(r *http.Request) string {
	userID, _ := services.UserIDFromContext(r.Context())
	return userID
}

func writeRaw(w http.ResponseWriter, status int, body api.ErrorResponse) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
