// Package transport binds a codec to a byte stream.
//
// Framed is the server side: it owns one connection's receive and send buffers and
// drives the codec against the stream's Read and Write.
//
//	ReadRequest:   Decode(rbuf) ─ no frame ─→ conn.Read → rbuf.Write ─┐
//	                   ▲                                              │
//	                   └──────────────────────────────────────────────┘
//	WriteResponse: Encode(resp, wbuf) → conn.Write(wbuf) → Flush (if supported)
//
// ClientTransport is the client side of one pipelined connection and ConnPool keeps a
// set of them per server address.
package transport

import (
	"bytes"
	"context"
	"errors"
	"io"

	"lineserve/codec"
	"lineserve/message"
)

// readChunkSize is how many bytes a single Read may add to the receive buffer.
const readChunkSize = 4096

// ErrFrameTooLarge is returned by ReadRequest when more than the read limit is
// buffered without a complete frame.
var ErrFrameTooLarge = errors.New("transport: frame exceeds read limit")

type flusher interface {
	Flush() error
}

// Framed is a connection with a codec attached. It is not safe for concurrent use;
// one goroutine per connection reads a request, handles it and writes the response
// before reading again.
//
// By default the receive buffer is unbounded: a peer that never sends a carriage
// return makes it grow for as long as the connection lives. SetReadLimit bounds it.
type Framed struct {
	rw      io.ReadWriter
	codec   codec.Codec
	rbuf    bytes.Buffer // Unconsumed received bytes: at most one partial frame after a drain
	wbuf    bytes.Buffer // Encoded response waiting to be written
	chunk   []byte       // Scratch space for one Read
	readErr error        // Sticky error from the last Read, reported once buffered frames are drained
	limit   int          // Max bytes buffered without a complete frame, 0 for no limit
}

// Bind attaches c to rw.
func Bind(rw io.ReadWriter, c codec.Codec) *Framed {
	return &Framed{
		rw:    rw,
		codec: c,
		chunk: make([]byte, readChunkSize),
	}
}

// SetReadLimit makes ReadRequest fail with ErrFrameTooLarge once more than n bytes are
// buffered and none of them completes a frame. n <= 0 removes the limit.
func (f *Framed) SetReadLimit(n int) {
	f.limit = max(n, 0)
}

// ReadRequest returns the next request on the stream, reading as many times as needed
// to complete a frame. Frames already buffered are returned before any read error.
//
// At end of stream it returns io.EOF if nothing was pending, or io.ErrUnexpectedEOF if
// a partial frame was left in the buffer. Decode errors are returned as-is; the
// malformed line is already gone from the buffer and the binding should be dropped.
func (f *Framed) ReadRequest(ctx context.Context) (*message.Request, error) {
	for {
		req, err := f.codec.Decode(&f.rbuf)
		if err != nil {
			return nil, err
		}
		if req != nil {
			return req, nil
		}
		if f.limit > 0 && f.rbuf.Len() > f.limit {
			return nil, ErrFrameTooLarge
		}

		if f.readErr != nil {
			if errors.Is(f.readErr, io.EOF) && f.rbuf.Len() > 0 {
				return nil, io.ErrUnexpectedEOF
			}
			return nil, f.readErr
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		n, err := f.rw.Read(f.chunk)
		f.rbuf.Write(f.chunk[:n])
		f.readErr = err
	}
}

// WriteResponse encodes resp and writes it to the stream in full. If the stream
// buffers writes (it has a Flush method) it is flushed before returning.
func (f *Framed) WriteResponse(resp *message.Response) error {
	f.wbuf.Reset()
	if err := f.codec.Encode(resp, &f.wbuf); err != nil {
		return err
	}
	if _, err := f.rw.Write(f.wbuf.Bytes()); err != nil {
		return err
	}
	if fl, ok := f.rw.(flusher); ok {
		return fl.Flush()
	}
	return nil
}

// Buffered returns the number of received bytes not yet consumed by the codec.
func (f *Framed) Buffered() int {
	return f.rbuf.Len()
}
