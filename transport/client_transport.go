package transport

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net"
	"os"
	"sync"
	"time"

	"lineserve/codec"
	"lineserve/message"
)

var ErrTransportBroken = errors.New("transport: connection is broken")

// ClientTransport sends requests over a single connection and waits for each response
// before the next request goes out. The protocol has no sequence numbers, so the only
// way to match a response to its request is order; the mutex keeps one round trip in
// flight at a time.
type ClientTransport struct {
	conn   net.Conn          // Underlying connection
	codec  codec.ClientCodec // Request/response framing
	mu     sync.Mutex        // Serializes Do: one outstanding request per connection
	rbuf   bytes.Buffer      // Received bytes not yet decoded, protected by mu
	wbuf   bytes.Buffer      // Encoded request, protected by mu
	chunk  []byte
	broken bool // Set after any I/O error; the stream position is unknown from then on
}

// NewClientTransport wraps conn. The transport takes ownership of conn.
func NewClientTransport(conn net.Conn) *ClientTransport {
	return &ClientTransport{
		conn:  conn,
		chunk: make([]byte, readChunkSize),
	}
}

// Do sends "GET uri" and returns the response. A deadline on ctx is applied to the
// connection for the whole round trip. After an I/O error the transport is broken and
// every later call fails with ErrTransportBroken.
func (t *ClientTransport) Do(ctx context.Context, uri string) (*message.Response, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.broken {
		return nil, ErrTransportBroken
	}

	t.wbuf.Reset()
	if err := t.codec.EncodeRequest(uri, &t.wbuf); err != nil {
		return nil, err
	}

	if deadline, ok := ctx.Deadline(); ok {
		t.conn.SetDeadline(deadline)
	}
	fired := make(chan struct{})
	stop := context.AfterFunc(ctx, func() {
		// Unblock a pending Read or Write.
		t.conn.SetDeadline(time.Unix(1, 0))
		close(fired)
	})
	defer func() {
		// ctx may be cancelled after the response arrived; the past deadline must not
		// outlive this call on a connection that goes back to a pool.
		if !stop() {
			<-fired
		}
		t.conn.SetDeadline(time.Time{})
	}()

	if _, err := t.conn.Write(t.wbuf.Bytes()); err != nil {
		t.broken = true
		return nil, contextOr(ctx, err)
	}

	for {
		resp, err := t.codec.DecodeResponse(&t.rbuf)
		if err != nil {
			t.broken = true
			return nil, err
		}
		if resp != nil {
			return resp, nil
		}

		n, err := t.conn.Read(t.chunk)
		t.rbuf.Write(t.chunk[:n])
		if err != nil {
			t.broken = true
			if errors.Is(err, io.EOF) {
				// The server drops the connection instead of answering on any failure.
				return nil, io.ErrUnexpectedEOF
			}
			return nil, contextOr(ctx, err)
		}
	}
}

// Broken reports whether the transport has seen an I/O error.
func (t *ClientTransport) Broken() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.broken
}

// Conn returns the underlying connection.
func (t *ClientTransport) Conn() net.Conn {
	return t.conn
}

// Close closes the underlying connection.
func (t *ClientTransport) Close() error {
	return t.conn.Close()
}

// contextOr reports a failure caused by ctx as the context error.
func contextOr(ctx context.Context, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	if errors.Is(err, os.ErrDeadlineExceeded) {
		if deadline, ok := ctx.Deadline(); ok && !time.Now().Before(deadline) {
			return context.DeadlineExceeded
		}
	}
	return err
}
