package api

import (
	"encoding/json"
	"net/http"
	"strconv"

	"mediarr/internal/ratelimit"
)

type errorBody struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorBody{Error: msg})
}

func retryAfter(w http.ResponseWriter, res ratelimit.Result) {
	if sec := res.RetryAfterSec(); sec > 0 {
		w.Header().Set("Retry-After", strconv.Itoa(sec))
	}
}

// decodeBody strictly decodes a JSON request body into v.
func decodeBody(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}
