package middleware

import (
	"context"
	"time"

	"go.uber.org/zap"

	"lineserve/message"
	"lineserve/service"
)

// LoggingMiddleware logs every call with its uri and duration, and the error if any.
func LoggingMiddleware(logger *zap.Logger) Middleware {
	return func(next service.Service) service.Service {
		return service.ServiceFunc(func(ctx context.Context, req *message.Request) (*message.Response, error) {
			start := time.Now()
			resp, err := next.Call(ctx, req)
			fields := []zap.Field{zap.String("uri", req.URI), zap.Duration("duration", time.Since(start))}
			if err != nil {
				logger.Warn("call failed", append(fields, zap.Error(err))...)
				return nil, err
			}
			logger.Info("call", append(fields, zap.Int("body_len", len(resp.Body)))...)
			return resp, nil
		})
	}
}
