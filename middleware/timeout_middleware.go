package middleware

import (
	"context"
	"time"

	"proxygen/message"
)

// TimeOutMiddleware bounds a request. On expiry the caller gets an ErrTextTimeout reply;
// next keeps running with a cancelled context.
func TimeOutMiddleware(timeout time.Duration) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *message.RPCMessage) *message.RPCMessage {
			ctx, cancel := context.WithTimeout(ctx, timeout)
			defer cancel()

			done := make(chan *message.RPCMessage, 1)
			go func() {
				done <- next(ctx, req)
			}()

			select {
			case rpcMessage := <-done:
				return rpcMessage
			case <-ctx.Done():
				return &message.RPCMessage{
					Procedure: req.Procedure,
					Error:     message.ErrTextTimeout,
				}
			}
		}
	}
}
