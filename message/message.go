// Package message defines the values exchanged on a lineserve connection.
//
// A Request is produced by the codec from one inbound line and consumed exactly once
// by a Service. A Response is produced by a Service and consumed exactly once by the
// encode step. Neither is mutated after construction.
package message

// Request carries the resource path of one decoded request line.
//
// URI is everything after the "GET " verb, byte-for-byte: no trimming, no
// normalisation and no URL-decoding. It is never empty.
type Request struct {
	URI string
}

// Response carries the payload written back for one request.
// Body is written verbatim and may contain any bytes.
type Response struct {
	Body string
}

// NewResponse builds a Response from a string or byte slice body.
func NewResponse[B ~string | ~[]byte](body B) *Response {
	return &Response{Body: string(body)}
}
