package review

import "net/http"

// SecurityHeadersMiddleware sets the same baseline headers as the
// teacher's internal/api/middleware.go — the review server is loopback
// only, but it still renders attacker-controlled diff content (file
// paths, file bytes) in a browser tab.
func SecurityHeadersMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-XSS-Protection", "1; mode=block")
		w.Header().Set("Referrer-Policy", "no-referrer")
		w.Header().Set("Content-Security-Policy", "default-src 'self'; connect-src 'self' ws: wss:")
		next.ServeHTTP(w, r)
	})
}
