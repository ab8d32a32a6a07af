// Package httpx holds the JSON response and error envelope helpers shared by
// the handlers.
package httpx

import (
	"context"
	"net/http"

	json "github.com/goccy/go-json"
	"github.com/rs/zerolog/log"
)

// Error is an HTTP error response. Description is the only text a client sees.
type Error struct {
	StatusCode  int    `json:"-"`
	Description string `json:"error"`
}

func (e *Error) Error() string {
	return e.Description
}

// SendCtx writes e as the JSON response, logging failures with ctx's logger.
func (e *Error) SendCtx(ctx context.Context, w http.ResponseWriter) {
	sendJson(ctx, w, e.StatusCode, e)
}

func ErrApplicationError(msg ...string) *Error {
	return newError(http.StatusInternalServerError, "unable to process request", msg)
}

func ErrUnavailable(msg ...string) *Error {
	return newError(http.StatusServiceUnavailable, "service unavailable", msg)
}

func newError(status int, def string, msg []string) *Error {
	d := def
	if len(msg) > 0 && msg[0] != "" {
		d = msg[0]
	}
	return &Error{StatusCode: status, Description: d}
}

func SendJsonRsp(ctx context.Context, w http.ResponseWriter, statusCode int, rsp any) {
	sendJson(ctx, w, statusCode, rsp)
}

func sendJson(ctx context.Context, w http.ResponseWriter, statusCode int, rsp any) {
	b, err := json.Marshal(rsp)
	if err != nil {
		log.Ctx(ctx).Error().Err(err).Msg("unable to marshal response")
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"error":"unable to process request"}`))
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if _, err := w.Write(b); err != nil {
		log.Ctx(ctx).Error().Err(err).Msg("unable to write response")
	}
}
