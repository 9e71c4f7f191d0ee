package middleware

import (
	"context"
	"errors"

	"golang.org/x/time/rate"

	"lineserve/message"
	"lineserve/service"
)

var ErrRateLimited = errors.New("rate limit exceeded")

// RateLimitMiddleware creates a token-bucket limiter shared by every service it wraps,
// i.e. by all connections of a server. A call over the limit fails, which closes its
// connection.
func RateLimitMiddleware(r float64, burst int) Middleware {
	limiter := rate.NewLimiter(rate.Limit(r), burst)
	return func(next service.Service) service.Service {
		return service.ServiceFunc(func(ctx context.Context, req *message.Request) (*message.Response, error) {
			if !limiter.Allow() {
				return nil, ErrRateLimited
			}
			return next.Call(ctx, req)
		})
	}
}
