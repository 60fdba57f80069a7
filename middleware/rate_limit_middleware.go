package middleware

import (
	"context"
	"errors"

	"golang.org/x/time/rate"

	"interop-rpc/message"
)

// ErrRateLimited is reported to callers turned away by the limiter.
var ErrRateLimited = errors.New("rate limit exceeded")

// RateLimitMiddleware 创建一个基于令牌桶算法的限流中间件
func RateLimitMiddleware(r float64, burst int) Middleware {
	return LimiterMiddleware(rate.NewLimiter(rate.Limit(r), burst))
}

// LimiterMiddleware rejects unary calls when limiter has no token. A limiter shared
// with LimiterStreamMiddleware puts unary calls and stream opens in one bucket.
func LimiterMiddleware(limiter *rate.Limiter) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *message.RPCMessage) *message.RPCMessage {
			if !limiter.Allow() {
				return &message.RPCMessage{
					ServiceMethod: req.ServiceMethod,
					Error:         ErrRateLimited.Error(),
				}
			}
			return next(ctx, req)
		}
	}
}

func LimiterStreamMiddleware(limiter *rate.Limiter) StreamMiddleware {
	return func(next StreamFunc) StreamFunc {
		return func(ctx context.Context, serviceMethod string) error {
			if !limiter.Allow() {
				return ErrRateLimited
			}
			return next(ctx, serviceMethod)
		}
	}
}
