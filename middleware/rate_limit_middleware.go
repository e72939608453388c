package middleware

import (
	"context"

	"golang.org/x/time/rate"

	"proxygen/message"
)

// RateLimitMiddleware rejects requests beyond a token bucket of r per second with the given
// burst. Rejected requests never reach the procedure.
func RateLimitMiddleware(r float64, burst int) Middleware {
	limiter := rate.NewLimiter(rate.Limit(r), burst)
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *message.RPCMessage) *message.RPCMessage {
			if !limiter.Allow() {
				return &message.RPCMessage{
					Procedure: req.Procedure,
					Error:     message.ErrTextRateLimited,
				}
			}
			return next(ctx, req)
		}
	}
}
