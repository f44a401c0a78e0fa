package handler

import (
	"encoding/json"
	"fmt"
	"io"
	"log"
	"mime"
	"net/http"
)

// maxRequestBody caps JSON request bodies at 1MB.
const maxRequestBody = 1 << 20

type errorBody struct {
	Error string `json:"error"`
}

// WriteJSON encodes data as JSON onto w with the given status code.
func WriteJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		// The status line is already on the wire at this point.
		log.Printf("[Handler] encode response: %v", err)
	}
}

// WriteError writes a JSON error response with the given status and message.
func WriteError(w http.ResponseWriter, status int, message string) {
	WriteJSON(w, status, errorBody{Error: message})
}

// ReadJSONBody decodes the request body as JSON into v. The Content-Type
// must be application/json when present, the body is capped at 1MB, and
// trailing data after the JSON value is rejected.
func ReadJSONBody(r *http.Request, v interface{}) error {
	defer r.Body.Close()

	if ct := r.Header.Get("Content-Type"); ct != "" {
		mt, _, err := mime.ParseMediaType(ct)
		if err != nil || mt != "application/json" {
			return fmt.Errorf("expected Content-Type application/json")
		}
	}

	dec := json.NewDecoder(io.LimitReader(r.Body, maxRequestBody))
	if err := dec.Decode(v); err != nil {
		return err
	}
	if dec.More() {
		return fmt.Errorf("unexpected trailing data in request body")
	}
	return nil
}

// IsValidDocumentID checks that id is usable in a URL path segment.
// Generated IDs are UUIDs, but callers may supply their own, so the rule is
// a charset: 1 to 64 characters from [a-zA-Z0-9._-].
func IsValidDocumentID(id string) bool {
	if id == "" || len(id) > 64 {
		return false
	}
	for _, c := range id {
		switch {
		case c >= 'a' && c <= 'z':
		case c >= 'A' && c <= 'Z':
		case c >= '0' && c <= '9':
		case c == '.' || c == '_' || c == '-':
		default:
			return false
		}
	}
	return true
}
