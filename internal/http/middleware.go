package http

import (
	"net/http"
	"strings"
)

var apiPrefixes = []string{"/auth/", "/health", "/metrics"}

// SecurityHeaders adds security-related headers to all responses.
func SecurityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
		w.Header().Set("Content-Security-Policy", contentSecurityPolicy(r.URL.Path))

		next.ServeHTTP(w, r)
	})
}

func contentSecurityPolicy(path string) string {
	// Swagger UI needs scripts, styles, and images to render
	if strings.HasPrefix(path, "/swagger/") {
		return "default-src 'self'; script-src 'self' 'unsafe-inline'; style-src 'self' 'unsafe-inline'; img-src 'self' data:"
	}
	for _, prefix := range apiPrefixes {
		if strings.HasPrefix(path, prefix) {
			return "default-src 'none'"
		}
	}
	// the frontend loads the Turnstile widget from Cloudflare
	return "default-src 'self'; script-src 'self' https://challenges.cloudflare.com; frame-src https://challenges.cloudflare.com; style-src 'self' 'unsafe-inline'; img-src 'self' data:; connect-src 'self'"
}
