package middleware

import "net/http"

// CORS returns a middleware handling cross-origin requests for the JSON
// API. Only same-origin callers are allowed: the Origin header must name
// the request host itself over http or https. OPTIONS preflight requests
// are answered with 204 No Content.
//
// The API carries no credentials, so neither Allow-Credentials nor an
// Authorization request header is ever advertised.
func CORS() Middleware {
	return func(next http.HandlerFunc) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			if origin := r.Header.Get("Origin"); origin != "" && sameOrigin(origin, r.Host) {
				h := w.Header()
				h.Set("Access-Control-Allow-Origin", origin)
				h.Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
				h.Set("Access-Control-Allow-Headers", "Content-Type")
				h.Set("Access-Control-Expose-Headers", "X-Request-Id")
				h.Set("Access-Control-Max-Age", "3600")
				h.Set("Vary", "Origin")
			}
			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next(w, r)
		}
	}
}

// sameOrigin reports whether origin names the request host itself.
func sameOrigin(origin, host string) bool {
	if host == "" {
		return false
	}
	return origin == "http://"+host || origin == "https://"+host
}
