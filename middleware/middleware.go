// Package middleware provides the onion-model wrappers applied around server handlers.
//
//	Chain(A, B, C)(handler) → A(B(C(handler)))
//	Execution order: A.before → B.before → C.before → handler → C.after → B.after → A.after
package middleware

import (
	"context"

	"interop-rpc/message"
)

// HandlerFunc serves one unary call.
type HandlerFunc func(ctx context.Context, req *message.RPCMessage) *message.RPCMessage

type Middleware func(next HandlerFunc) HandlerFunc

// Chain 将多个中间件组合成一个中间件
func Chain(middlewares ...Middleware) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		for i := len(middlewares) - 1; i >= 0; i-- {
			next = middlewares[i](next)
		}
		return next
	}
}

// StreamFunc runs one streaming call to completion.
type StreamFunc func(ctx context.Context, serviceMethod string) error

type StreamMiddleware func(next StreamFunc) StreamFunc

// ChainStream composes stream middlewares the same way Chain does.
func ChainStream(middlewares ...StreamMiddleware) StreamMiddleware {
	return func(next StreamFunc) StreamFunc {
		for i := len(middlewares) - 1; i >= 0; i-- {
			next = middlewares[i](next)
		}
		return next
	}
}
