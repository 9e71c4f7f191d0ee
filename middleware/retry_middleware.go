package middleware

import (
	"context"
	"errors"
	"os"
	"syscall"
	"time"

	"go.uber.org/zap"

	"lineserve/message"
	"lineserve/service"
)

// RetryMiddleware retries calls that fail with a transient error, sleeping
// baseDelay·2^attempt between tries. Permanent errors are returned at once.
// Retries stay inside one Call, so the connection still has one request in flight.
// ErrTimeout is not transient: the timed out call may still be running, and a retry
// would overlap it on the same Service.
func RetryMiddleware(maxRetries int, baseDelay time.Duration, logger *zap.Logger) Middleware {
	return func(next service.Service) service.Service {
		return service.ServiceFunc(func(ctx context.Context, req *message.Request) (*message.Response, error) {
			resp, err := next.Call(ctx, req)
			for i := 0; i < maxRetries; i++ {
				if err == nil || !isTransient(err) {
					return resp, err
				}
				logger.Debug("retrying call",
					zap.Int("attempt", i+1),
					zap.String("uri", req.URI),
					zap.Error(err),
				)
				select {
				case <-time.After(baseDelay * time.Duration(1<<i)):
				case <-ctx.Done():
					return nil, ctx.Err()
				}
				resp, err = next.Call(ctx, req)
			}
			return resp, err
		})
	}
}

func isTransient(err error) bool {
	return errors.Is(err, os.ErrDeadlineExceeded) ||
		errors.Is(err, syscall.EAGAIN) ||
		errors.Is(err, syscall.EINTR)
}
