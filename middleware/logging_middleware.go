package middleware

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"proxygen/message"
)

// LoggingMiddleware logs every request with its duration, OSCA status and transport error.
func LoggingMiddleware(logger zerolog.Logger) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *message.RPCMessage) *message.RPCMessage {
			start := time.Now()
			resp := next(ctx, req)

			var ev *zerolog.Event
			switch {
			case resp.Error != "":
				ev = logger.Warn().Str("error", resp.Error)
			case resp.OSCA.Failed():
				ev = logger.Info().Int32("error_no", resp.OSCA.ErrorNo).Int32("error_type", resp.OSCA.ErrorType)
			default:
				ev = logger.Debug()
			}
			ev.Str("procedure", req.Procedure).
				Int32("context", req.OSCA.ContextID).
				Dur("duration", time.Since(start)).
				Msg("call")
			return resp
		}
	}
}
