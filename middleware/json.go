package middleware

import (
	"encoding/json"
	"math"
	"net/http"
	"strconv"
)

type apiError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type errorResponse struct {
	Error apiError `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, msg string) {
	writeJSON(w, status, errorResponse{Error: apiError{Code: code, Message: msg}})
}

func writeRateHeaders(h http.Header, d Decision) {
	rl := d.RateLimit
	if rl == nil {
		return
	}
	h.Set("X-RateLimit-Limit", strconv.Itoa(rl.Limit))
	h.Set("X-RateLimit-Remaining", strconv.Itoa(max(rl.Remaining, 0)))
	h.Set("X-RateLimit-Reset", strconv.FormatInt(rl.Reset.Unix(), 10))
	if d.Outcome == OutcomeRateLimited {
		seconds := max(int(math.Ceil(rl.RetryAfter.Seconds())), 0)
		h.Set("Retry-After", strconv.Itoa(seconds))
	}
}
