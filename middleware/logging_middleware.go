package middleware

import (
	"context"
	"time"

	"go.uber.org/zap"

	"interop-rpc/message"
)

func LoggingMiddleware(log *zap.Logger) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *message.RPCMessage) *message.RPCMessage {
			start := time.Now()
			resp := next(ctx, req)
			fields := []zap.Field{
				zap.String("method", req.ServiceMethod),
				zap.Duration("duration", time.Since(start)),
				zap.Int("req_bytes", len(req.Payload)),
				zap.Int("resp_bytes", len(resp.Payload)),
			}
			if resp.Error != "" {
				log.Warn("unary call failed", append(fields, zap.String("error", resp.Error))...)
			} else {
				log.Debug("unary call", fields...)
			}
			return resp
		}
	}
}

func LoggingStreamMiddleware(log *zap.Logger) StreamMiddleware {
	return func(next StreamFunc) StreamFunc {
		return func(ctx context.Context, serviceMethod string) error {
			start := time.Now()
			err := next(ctx, serviceMethod)
			fields := []zap.Field{
				zap.String("method", serviceMethod),
				zap.Duration("duration", time.Since(start)),
			}
			if err != nil {
				log.Warn("stream failed", append(fields, zap.Error(err))...)
			} else {
				log.Debug("stream", fields...)
			}
			return err
		}
	}
}
