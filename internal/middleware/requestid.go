package middleware

import (
	"crypto/rand"
	"encoding/hex"
	"log"
	"net/http"
)

// maxClientRequestID bounds the length of an id accepted from the client.
const maxClientRequestID = 64

// RequestID returns a middleware that tags every response with an
// X-Request-Id header. A well-formed id supplied by the client is kept, so
// the id stays stable across proxy hops; anything else is replaced with a
// random 8-byte hex id (16 hex characters).
func RequestID() Middleware {
	return func(next http.HandlerFunc) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			id := r.Header.Get("X-Request-Id")
			if !validRequestID(id) {
				id = newRequestID()
			}
			w.Header().Set("X-Request-Id", id)
			next(w, r)
		}
	}
}

func newRequestID() string {
	buf := make([]byte, 8)
	if _, err := rand.Read(buf); err != nil {
		log.Printf("[RequestID] crypto/rand failed: %v", err)
	}
	return hex.EncodeToString(buf)
}

// validRequestID accepts ids of bounded length built only from characters
// safe to echo into a header: letters, digits, dash, underscore, dot.
func validRequestID(id string) bool {
	if id == "" || len(id) > maxClientRequestID {
		return false
	}
	for i := 0; i < len(id); i++ {
		c := id[i]
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9':
		case c == '-' || c == '_' || c == '.':
		default:
			return false
		}
	}
	return true
}
