package middleware

import (
	"context"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"proxygen/message"
)

// RetryMiddleware resends requests the server rejected before running them. Only rate
// limiting qualifies: a timed out or broken call may already have run the procedure, and
// procedures are not assumed idempotent.
func RetryMiddleware(maxRetries int, baseDelay time.Duration, logger zerolog.Logger) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *message.RPCMessage) *message.RPCMessage {
			rpcMessage := next(ctx, req)
			for i := 0; i < maxRetries; i++ {
				if !strings.Contains(rpcMessage.Error, message.ErrTextRateLimited) {
					return rpcMessage
				}
				logger.Debug().Str("procedure", req.Procedure).Int("attempt", i+1).Msg("retrying rate limited call")
				select {
				case <-ctx.Done():
					return rpcMessage
				case <-time.After(baseDelay * time.Duration(1<<i)): // Exponential backoff
				}
				rpcMessage = next(ctx, req)
			}
			return rpcMessage
		}
	}
}
