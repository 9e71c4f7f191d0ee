// Package protocol defines the lineserve wire grammar.
//
// A request is one line: the literal verb "GET " followed by a UTF-8 resource path,
// terminated by a carriage return and one more byte (normally '\n'). A response is the
// payload followed by "\r\n". There is no status line, no header block and no length
// prefix, so a connection carries any number of request/response exchanges in order.
//
// Frame format:
//
//	request:   ┌────────┬──────────────────────┬────┬─────┐
//	           │ "GET " │ uri (UTF-8, ≥1 byte) │ \r │ any │
//	           └────────┴──────────────────────┴────┴─────┘
//	response:  ┌────────────────────────┬────┬────┐
//	           │ body (arbitrary bytes) │ \r │ \n │
//	           └────────────────────────┴────┴────┘
//
// Only the carriage return is scanned for. The byte after it is dropped without being
// checked, so "GET /a\r\x00" decodes the same as "GET /a\r\n".
package protocol

import (
	"bytes"
	"strings"
	"unicode/utf8"

	"lineserve/message"
)

const (
	Verb         = "GET " // Request verb including its separator, case-sensitive
	DelimiterLen = 2      // '\r' plus the byte that follows it
)

// DelimiterStart is the byte scanned for when looking for the end of a request line.
const DelimiterStart byte = '\r'

// Delimiter terminates every response and, loosely, every request line.
var Delimiter = []byte("\r\n")

// ParseRequestLine validates one request line (delimiter already removed) and builds a
// Request from it. Any error returned is a framing error.
func ParseRequestLine(line []byte) (*message.Request, error) {
	if !bytes.HasPrefix(line, []byte(Verb)) {
		return nil, ErrInvalidProtocol
	}
	uri := line[len(Verb):]
	if !utf8.Valid(uri) {
		return nil, newEncodingError(uri)
	}
	if len(uri) == 0 {
		return nil, ErrEmptyURI
	}
	return &message.Request{URI: string(uri)}, nil
}

// AppendResponse appends the wire form of body to dst: the body verbatim, then the
// delimiter exactly once.
func AppendResponse(dst []byte, body string) []byte {
	dst = append(dst, body...)
	return append(dst, Delimiter...)
}

// AppendRequest appends a request line for uri to dst. It does not check uri;
// callers run ValidateURI first.
func AppendRequest(dst []byte, uri string) []byte {
	dst = append(dst, Verb...)
	dst = append(dst, uri...)
	return append(dst, Delimiter...)
}

// ValidateURI reports whether uri can be sent as a request line and decoded back
// unchanged by a server.
func ValidateURI(uri string) error {
	if uri == "" {
		return ErrEmptyURI
	}
	if strings.IndexByte(uri, DelimiterStart) >= 0 {
		return ErrDelimiterInURI
	}
	if !utf8.ValidString(uri) {
		return newEncodingError([]byte(uri))
	}
	return nil
}
