package http

import (
	"net/http"
	"os"
	"strings"

	"design-eval/internal/auth"
)

// RequireAPIToken guards the admin surface with the API_TOKEN bearer token.
// An unset token locks the surface rather than opening it.
func RequireAPIToken(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		want := os.Getenv("API_TOKEN")
		got := r.Header.Get("Authorization")
		if want == "" || !strings.HasPrefix(got, "Bearer ") || !auth.TokenEqual(got[len("Bearer "):], want) {
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"error":"unauthorized"}`))

			return
		}
		next.ServeHTTP(w, r)
	})
}
