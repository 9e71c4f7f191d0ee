// Package middleware wraps a service.Service with cross-cutting behaviour.
//
// Middlewares compose in the onion model:
//
//	Chain(A, B, C)(svc) → A(B(C(svc)))
//	Execution order: A.before → B.before → C.before → svc → C.after → B.after → A.after
package middleware

import (
	"context"

	"lineserve/message"
	"lineserve/service"
)

type Middleware func(next service.Service) service.Service

// Chain combines several middlewares into one.
func Chain(middlewares ...Middleware) Middleware {
	return func(next service.Service) service.Service {
		for i := len(middlewares) - 1; i >= 0; i-- {
			next = middlewares[i](next)
		}
		return next
	}
}

// Wrap returns a Factory whose services are wrapped by middlewares. Closing a wrapped
// service closes the service the inner factory created.
func Wrap(factory service.Factory, middlewares ...Middleware) service.Factory {
	if len(middlewares) == 0 {
		return factory
	}
	chain := Chain(middlewares...)
	return service.FactoryFunc(func() (service.Service, error) {
		svc, err := factory.NewService()
		if err != nil {
			return nil, err
		}
		return &wrapped{outer: chain(svc), inner: svc}, nil
	})
}

type wrapped struct {
	outer service.Service
	inner service.Service
}

func (w *wrapped) Call(ctx context.Context, req *message.Request) (*message.Response, error) {
	return w.outer.Call(ctx, req)
}

func (w *wrapped) Close() error {
	return service.Close(w.inner)
}
