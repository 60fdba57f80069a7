package middleware

import (
	"context"
	"errors"
	"time"

	"interop-rpc/message"
)

// ErrHandlerTimeout is the cause attached to a handler context whose deadline passed.
var ErrHandlerTimeout = errors.New("request timed out")

// TimeOutMiddleware answers with ErrHandlerTimeout when the handler has not returned
// within timeout. The handler keeps running until it observes its context.
func TimeOutMiddleware(timeout time.Duration) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *message.RPCMessage) *message.RPCMessage {
			ctx, cancel := context.WithTimeoutCause(ctx, timeout, ErrHandlerTimeout)
			defer cancel()

			done := make(chan *message.RPCMessage, 1)
			go func() {
				done <- next(ctx, req)
			}()

			select {
			case resp := <-done:
				return resp
			case <-ctx.Done():
				// a cancelled connection surfaces as its own cause
				return &message.RPCMessage{
					ServiceMethod: req.ServiceMethod,
					Error:         context.Cause(ctx).Error(),
				}
			}
		}
	}
}
