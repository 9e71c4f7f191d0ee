package middleware

import (
	"context"
	"errors"
	"time"

	"lineserve/message"
	"lineserve/service"
)

var ErrTimeout = errors.New("request timed out")

// TimeoutMiddleware fails a call that takes longer than timeout with ErrTimeout. The
// inner call sees a cancelled context and keeps running in the background until it
// notices. ErrTimeout ends the connection, and RetryMiddleware does not retry it, so no
// second call reaches the same Service while the abandoned one runs.
func TimeoutMiddleware(timeout time.Duration) Middleware {
	return func(next service.Service) service.Service {
		return service.ServiceFunc(func(ctx context.Context, req *message.Request) (*message.Response, error) {
			ctx, cancel := context.WithTimeout(ctx, timeout)
			defer cancel()

			type result struct {
				resp *message.Response
				err  error
			}
			done := make(chan result, 1)
			go func() {
				resp, err := next.Call(ctx, req)
				done <- result{resp, err}
			}()

			select {
			case r := <-done:
				return r.resp, r.err
			case <-ctx.Done():
				if errors.Is(ctx.Err(), context.DeadlineExceeded) {
					return nil, ErrTimeout
				}
				return nil, ctx.Err()
			}
		})
	}
}
