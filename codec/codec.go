// Package codec turns a receive buffer into requests and responses into bytes.
//
// A codec never touches the connection. The transport layer owns the buffers and
// calls the codec repeatedly as bytes arrive:
//
//	read → buf.Write(chunk) → Decode(buf) → (nil, nil)  need more bytes
//	                                      → (req, nil)  one frame consumed
//	                                      → (nil, err)  malformed frame consumed, fatal
package codec

import (
	"bytes"
	"errors"

	"lineserve/message"
)

var ErrNilResponse = errors.New("codec: nil response")

// Codec is the decode/encode pair a transport is bound with.
type Codec interface {
	// Decode consumes at most one complete request frame from buf.
	// It returns (nil, nil) and leaves buf untouched when no complete frame is buffered.
	Decode(buf *bytes.Buffer) (*message.Request, error)

	// Encode appends the wire form of resp to buf.
	Encode(resp *message.Response, buf *bytes.Buffer) error
}
