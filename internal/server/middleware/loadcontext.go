package middleware

import (
	"net/http"
	"time"

	chimiddleware "github.com/go-chi/chi/middleware"
	"github.com/google/uuid"
	"github.com/mugiliam/hatchdbpool/internal/common"
	"github.com/mugiliam/hatchdbpool/internal/types"
	"github.com/rs/zerolog/log"
)

const RequestIdHeader = "X-Request-ID"

// RequestLogger tags the request with an id, attaches a request scoped logger
// to its context and logs the outcome.
func RequestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestId := types.RequestId(r.Header.Get(RequestIdHeader))
		if requestId == "" {
			requestId = types.RequestId(uuid.NewString())
		}
		w.Header().Set(RequestIdHeader, string(requestId))

		logger := log.With().
			Str("request_id", string(requestId)).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Logger()
		ctx := common.SetRequestIdInContext(logger.WithContext(r.Context()), requestId)

		ww := chimiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		defer func() {
			logger.Info().
				Int("status", ww.Status()).
				Int("bytes", ww.BytesWritten()).
				Dur("duration", time.Since(start)).
				Msg("request completed")
		}()
		next.ServeHTTP(ww, r.WithContext(ctx))
	})
}
