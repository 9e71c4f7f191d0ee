// Package service defines how requests become responses, independent of framing and
// transport.
//
// The server asks a Factory for one Service per accepted connection, before the first
// request is decoded, so a Service may keep per-connection state without locking.
// Calls on a Service never overlap: the connection waits for each response to be
// written before decoding the next request.
package service

import (
	"context"
	"io"

	"lineserve/message"
)

// Service handles one request at a time. Call may block on I/O; only the calling
// connection waits. ctx is cancelled when the connection is torn down.
//
// A Service must not keep req after Call returns. Any error ends the connection; no
// error frame is sent to the peer.
type Service interface {
	Call(ctx context.Context, req *message.Request) (*message.Response, error)
}

// ServiceFunc adapts a function to the Service interface.
type ServiceFunc func(ctx context.Context, req *message.Request) (*message.Response, error)

func (f ServiceFunc) Call(ctx context.Context, req *message.Request) (*message.Response, error) {
	return f(ctx, req)
}

// Factory creates the Service for a new connection. An error aborts that connection
// before any bytes are read.
type Factory interface {
	NewService() (Service, error)
}

// FactoryFunc adapts a function to the Factory interface.
type FactoryFunc func() (Service, error)

func (f FactoryFunc) NewService() (Service, error) {
	return f()
}

// Shared returns a Factory that hands the same stateless Service to every connection.
func Shared(svc Service) Factory {
	return FactoryFunc(func() (Service, error) {
		return svc, nil
	})
}

// Close releases svc if it holds resources, i.e. implements io.Closer.
func Close(svc Service) error {
	if c, ok := svc.(io.Closer); ok {
		return c.Close()
	}
	return nil
}
