// Package transport also provides a connection pool for ClientTransport (ConnPool).
//
// Each transport carries one request at a time, so concurrent callers need one
// transport each. ConnPool hands them out borrow/return style.
//
// Pool design: uses a buffered channel as a natural FIFO queue.
// Buffered channels are concurrency-safe, and blocking on empty is built-in.
package transport

import (
	"context"
	"errors"
	"net"
	"sync"
)

var ErrPoolClosed = errors.New("transport: pool is closed")

// ConnPool manages reusable client transports to a single address.
type ConnPool struct {
	mu       sync.Mutex
	idle     chan *ClientTransport    // Buffered channel as pool, FIFO and goroutine-safe
	addr     string                   // Target address
	maxConns int                      // Maximum number of transports
	curConns int                      // Transports created and not yet discarded, protected by mu
	closed   bool                     // Protected by mu
	freed    chan struct{}            // Closed and replaced whenever a slot is released, protected by mu
	factory  func() (net.Conn, error) // Connection factory function
}

// NewConnPool creates a pool with at most maxConns connections to addr.
// Connections are created lazily. A nil factory dials TCP.
func NewConnPool(addr string, maxConns int, factory func() (net.Conn, error)) *ConnPool {
	if maxConns < 1 {
		maxConns = 1
	}
	if factory == nil {
		factory = func() (net.Conn, error) {
			return net.Dial("tcp", addr)
		}
	}
	return &ConnPool{
		idle:     make(chan *ClientTransport, maxConns),
		addr:     addr,
		maxConns: maxConns,
		freed:    make(chan struct{}),
		factory:  factory,
	}
}

// Get retrieves a transport from the pool.
// Strategy:
//  1. Take an idle transport if one is available
//  2. If none is idle but the pool is under its limit, dial a new one
//  3. Otherwise block until one is returned, a slot is released or ctx is done
func (p *ConnPool) Get(ctx context.Context) (*ClientTransport, error) {
	for {
		select {
		case t, ok := <-p.idle:
			if !ok {
				return nil, ErrPoolClosed
			}
			return t, nil
		default:
		}

		t, freed, err := p.createNew()
		if err == nil || !errors.Is(err, errPoolExhausted) {
			return t, err
		}

		select {
		case t, ok := <-p.idle:
			if !ok {
				return nil, ErrPoolClosed
			}
			return t, nil
		case <-freed:
			// A broken transport was discarded; try to dial into its slot.
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// Put returns a transport to the pool.
// A broken transport is closed and its slot freed for a new connection.
func (p *ConnPool) Put(t *ClientTransport) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if t.Broken() || p.closed {
		t.Close()
		p.releaseLocked()
		return
	}
	p.idle <- t
}

// Close shuts down the pool and closes all idle connections. Transports still borrowed
// are closed when they are returned.
func (p *ConnPool) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true
	close(p.idle)
	for t := range p.idle {
		t.Close()
		p.releaseLocked()
	}
	return nil
}

// Addr returns the address the pool dials.
func (p *ConnPool) Addr() string {
	return p.addr
}

var errPoolExhausted = errors.New("transport: pool exhausted")

// createNew dials a new connection if the pool is under its limit.
// The slot is reserved under the mutex so concurrent callers cannot exceed maxConns.
// When the pool is exhausted it returns the channel that is closed on the next release.
func (p *ConnPool) createNew() (*ClientTransport, <-chan struct{}, error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, nil, ErrPoolClosed
	}
	if p.curConns >= p.maxConns {
		freed := p.freed
		p.mu.Unlock()
		return nil, freed, errPoolExhausted
	}
	p.curConns++
	p.mu.Unlock()

	conn, err := p.factory()
	if err != nil {
		p.mu.Lock()
		p.releaseLocked()
		p.mu.Unlock()
		return nil, nil, err
	}
	return NewClientTransport(conn), nil, nil
}

// releaseLocked frees one slot and wakes every Get waiting for one. p.mu must be held.
func (p *ConnPool) releaseLocked() {
	p.curConns--
	close(p.freed)
	p.freed = make(chan struct{})
}
