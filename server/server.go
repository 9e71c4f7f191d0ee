// Package server implements the line server: the accept loop, the per-connection
// request pipeline, registration with a service registry and graceful shutdown.
//
// Request processing pipeline:
//
//	Accept conn → handleConn (one goroutine per connection)
//	  → Factory.NewService (once per connection)
//	  → loop: Framed.ReadRequest → Middleware Chain → Service.Call → Framed.WriteResponse
//
// A connection has at most one request in flight: the next request is not decoded
// until the previous response has been written. Any error ends the connection and no
// error frame is sent; the peer just sees the connection close.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/net/netutil"

	"lineserve/codec"
	"lineserve/middleware"
	"lineserve/registry"
	"lineserve/service"
	"lineserve/transport"
)

// registerTimeout bounds each registry call made by Serve and Shutdown.
const registerTimeout = 5 * time.Second

// Server accepts connections and runs the request pipeline on each.
type Server struct {
	factory     service.Factory         // Creates one Service per connection
	middlewares []middleware.Middleware // Registered middlewares (applied in order)
	logger      *zap.Logger
	maxConns    int // Concurrent connection limit, 0 for none
	readLimit   int // Bytes buffered per connection without a complete request, 0 for none

	registry    registry.Registry        // Service registry, nil if not using discovery
	serviceName string                   // Name registered in the registry
	instance    registry.ServiceInstance // Advertised instance; Addr defaults to the listener address
	ttlSeconds  int64                    // Lease TTL for the registration

	mu         sync.Mutex
	listener   net.Listener
	conns      map[net.Conn]context.CancelFunc // Live connections and the cancel for their service context
	registered bool                            // instance is in the registry and Shutdown must remove it
	stopping   bool                            // Shutdown has started; a late registration is undone

	wg       sync.WaitGroup // Tracks live connections for graceful shutdown
	shutdown atomic.Bool    // Set to true during shutdown to suppress Accept errors
}

type Option func(*Server)

// WithLogger sets the server logger. The default discards everything.
func WithLogger(logger *zap.Logger) Option {
	return func(svr *Server) {
		svr.logger = logger
	}
}

// WithMiddleware appends middlewares, as Use does.
func WithMiddleware(mws ...middleware.Middleware) Option {
	return func(svr *Server) {
		svr.middlewares = append(svr.middlewares, mws...)
	}
}

// WithMaxConns limits the number of connections served at once. Further connections
// wait in the accept backlog.
func WithMaxConns(n int) Option {
	return func(svr *Server) {
		svr.maxConns = n
	}
}

// WithReadLimit closes a connection once more than n bytes arrive without completing a
// request line. The default waits indefinitely.
func WithReadLimit(n int) Option {
	return func(svr *Server) {
		svr.readLimit = n
	}
}

// WithRegistry makes Serve register instance under serviceName with the given lease
// TTL in seconds, and Shutdown deregister it. An empty instance.Addr is replaced with
// the listener address.
func WithRegistry(reg registry.Registry, serviceName string, instance registry.ServiceInstance, ttl int64) Option {
	return func(svr *Server) {
		svr.registry = reg
		svr.serviceName = serviceName
		svr.instance = instance
		svr.instance.Weight = max(instance.Weight, 1)
		svr.ttlSeconds = ttl
	}
}

// NewServer creates a server that asks factory for a Service per connection.
func NewServer(factory service.Factory, opts ...Option) *Server {
	svr := &Server{
		factory: factory,
		logger:  zap.NewNop(),
		conns:   make(map[net.Conn]context.CancelFunc),
	}
	for _, opt := range opts {
		opt(svr)
	}
	return svr
}

// Use registers a middleware. Middlewares are applied in the order they are added.
// It must be called before Serve.
func (svr *Server) Use(mw middleware.Middleware) {
	svr.middlewares = append(svr.middlewares, mw)
}

// Serve listens on the given address and serves until Shutdown.
func (svr *Server) Serve(network, address string) error {
	listener, err := net.Listen(network, address)
	if err != nil {
		return err
	}
	return svr.ServeListener(listener)
}

// ServeListener serves connections accepted from listener until Shutdown, which makes
// it return nil. Any other Accept error is returned. The listener is closed on return.
func (svr *Server) ServeListener(listener net.Listener) error {
	if svr.maxConns > 0 {
		listener = netutil.LimitListener(listener, svr.maxConns)
	}
	svr.mu.Lock()
	if svr.stopping {
		svr.mu.Unlock()
		listener.Close()
		return nil
	}
	svr.listener = listener
	if svr.registry != nil && svr.instance.Addr == "" {
		svr.instance.Addr = listener.Addr().String()
	}
	instance := svr.instance
	svr.mu.Unlock()
	defer listener.Close()

	// Build the middleware chain once at startup (not per connection)
	factory := middleware.Wrap(svr.factory, svr.middlewares...)

	if svr.registry != nil {
		ctx, cancel := context.WithTimeout(context.Background(), registerTimeout)
		err := svr.registry.Register(ctx, svr.serviceName, instance, svr.ttlSeconds)
		cancel()
		if err != nil {
			return fmt.Errorf("register %s: %w", svr.serviceName, err)
		}

		// Shutdown may have run while Register was in flight and found nothing to remove.
		svr.mu.Lock()
		stopping := svr.stopping
		svr.registered = !stopping
		svr.mu.Unlock()
		if stopping {
			return svr.deregister(instance.Addr)
		}
	}

	svr.logger.Info("server listening", zap.Stringer("addr", listener.Addr()))

	// Accept loop: one goroutine per connection
	for {
		conn, err := listener.Accept()
		if err != nil {
			// During shutdown, listener.Close() causes Accept to return an error.
			// Check the shutdown flag to distinguish intentional close from real errors.
			if svr.shutdown.Load() {
				return nil
			}
			return err
		}

		ctx, cancel := context.WithCancel(context.Background())
		if !svr.track(conn, cancel) {
			cancel()
			conn.Close()
			continue
		}
		go svr.handleConn(ctx, conn, factory)
	}
}

// Addr returns the listener address, or nil before Serve has started.
func (svr *Server) Addr() net.Addr {
	svr.mu.Lock()
	defer svr.mu.Unlock()
	if svr.listener == nil {
		return nil
	}
	return svr.listener.Addr()
}

// track records a new connection. It fails once shutdown has started.
func (svr *Server) track(conn net.Conn, cancel context.CancelFunc) bool {
	svr.mu.Lock()
	defer svr.mu.Unlock()
	if svr.shutdown.Load() {
		return false
	}
	svr.conns[conn] = cancel
	svr.wg.Add(1)
	return true
}

func (svr *Server) untrack(conn net.Conn) {
	svr.mu.Lock()
	defer svr.mu.Unlock()
	if cancel, ok := svr.conns[conn]; ok {
		cancel()
		delete(svr.conns, conn)
	}
}

// handleConn runs the pipeline for one connection until an error or close.
// Requests already buffered when shutdown begins are still answered.
func (svr *Server) handleConn(ctx context.Context, conn net.Conn, factory service.Factory) {
	defer svr.wg.Done()
	defer svr.untrack(conn)
	defer conn.Close()

	log := svr.logger.With(zap.Stringer("remote", conn.RemoteAddr()))

	svc, err := factory.NewService()
	if err != nil {
		log.Warn("new service failed, closing connection", zap.Error(err))
		return
	}
	defer service.Close(svc)

	framed := transport.Bind(conn, codec.NewLineCodec(log))
	framed.SetReadLimit(svr.readLimit)
	log.Debug("transport bound")

	err = serveConn(ctx, framed, svc)
	svr.logConnError(log, err)
}

// serveConn is the decode → call → encode loop. It only returns on error.
func serveConn(ctx context.Context, framed *transport.Framed, svc service.Service) error {
	for {
		req, err := framed.ReadRequest(ctx)
		if err != nil {
			return &ConnError{Stage: StageRead, Err: err}
		}
		resp, err := svc.Call(ctx, req)
		if err != nil {
			return &ConnError{Stage: StageCall, URI: req.URI, Err: err}
		}
		if err := framed.WriteResponse(resp); err != nil {
			return &ConnError{Stage: StageWrite, URI: req.URI, Err: err}
		}
	}
}

// Shutdown performs graceful shutdown:
//  1. Deregister from the registry (clients stop routing to this server)
//  2. Set shutdown flag (so Accept error is recognized as intentional)
//  3. Close the listener (stop accepting new connections)
//  4. Stop reading on every connection; requests already received are still answered
//  5. Wait for connections to finish, and close whatever is left after timeout
func (svr *Server) Shutdown(timeout time.Duration) error {
	svr.mu.Lock()
	svr.stopping = true
	registered := svr.registered
	svr.registered = false
	addr := svr.instance.Addr
	svr.mu.Unlock()

	var deregErr error
	if registered {
		deregErr = svr.deregister(addr)
	}

	// Set the flag BEFORE closing the listener, or the Accept error fires
	// first and Serve returns it as a real error.
	svr.mu.Lock()
	svr.shutdown.Store(true)
	if svr.listener != nil {
		svr.listener.Close()
	}
	for conn := range svr.conns {
		conn.SetReadDeadline(time.Now())
	}
	svr.mu.Unlock()

	done := make(chan struct{})
	go func() {
		svr.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return deregErr
	case <-time.After(timeout):
		svr.mu.Lock()
		for conn, cancel := range svr.conns {
			cancel()
			conn.Close()
		}
		svr.mu.Unlock()
		return errors.Join(deregErr, fmt.Errorf("timeout waiting for %s of connection shutdown", timeout))
	}
}

func (svr *Server) deregister(addr string) error {
	ctx, cancel := context.WithTimeout(context.Background(), registerTimeout)
	defer cancel()
	return svr.registry.Deregister(ctx, svr.serviceName, addr)
}
