package middleware

import "net/http"

// SecurityHeaders returns middleware for the HTML status pages. The pages
// are static server-rendered markup with inline styles and no scripts, so
// the content security policy denies everything else. When tlsEnabled is
// true, Strict-Transport-Security is included.
func SecurityHeaders(tlsEnabled bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			h := w.Header()

			h.Set("X-Frame-Options", "DENY")
			h.Set("X-Content-Type-Options", "nosniff")
			h.Set("Referrer-Policy", "no-referrer")

			// Caller numbers and call identifiers must not linger in
			// shared caches.
			h.Set("Cache-Control", "no-store")

			h.Set("Content-Security-Policy",
				"default-src 'none'; "+
					"style-src 'unsafe-inline'; "+
					"frame-ancestors 'none'; "+
					"base-uri 'none'; "+
					"form-action 'none'")

			h.Set("Permissions-Policy",
				"camera=(), microphone=(), geolocation=(), payment=()")

			if tlsEnabled {
				h.Set("Strict-Transport-Security", "max-age=63072000; includeSubDomains")
			}

			next.ServeHTTP(w, r)
		})
	}
}
