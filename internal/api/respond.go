// Package api serves the HTTP surface: quote, chart, detail, market
// scan, news, health, metrics and the WebSocket upgrade endpoints.
package api

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/rs/zerolog/log"

	"github.com/sawpanic/marketfeed/internal/apperr"
)

type errorBody struct {
	Code         apperr.Code `json:"code"`
	Message      string      `json:"message"`
	RetryAfterMs int64       `json:"retryAfterMs,omitempty"`
}

type envelope struct {
	OK     bool        `json:"ok"`
	Result interface{} `json:"result,omitempty"`
	Error  *errorBody  `json:"error,omitempty"`
}

func writeResult(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(envelope{OK: true, Result: v}); err != nil {
		log.Debug().Err(err).Msg("response write failed")
	}
}

// writeError maps any error onto the taxonomy envelope. Messages of
// INTERNAL_ERROR never leak the underlying cause.
func writeError(w http.ResponseWriter, err error) {
	ae := apperr.From(err)
	body := errorBody{Code: ae.Code, Message: ae.Message}
	if ae.RetryAfter > 0 {
		body.RetryAfterMs = ae.RetryAfter.Milliseconds()
		secs := int64(ae.RetryAfter.Seconds())
		if secs < 1 {
			secs = 1
		}
		w.Header().Set("Retry-After", strconv.FormatInt(secs, 10))
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(apperr.HTTPStatus(ae.Code))
	json.NewEncoder(w).Encode(envelope{OK: false, Error: &body})
}
