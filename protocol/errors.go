package protocol

import (
	"errors"
	"fmt"
	"unicode/utf8"
)

var (
	ErrInvalidProtocol = errors.New("invalid protocol")
	ErrInvalidEncoding = errors.New("invalid utf-8")
	ErrEmptyURI        = errors.New("empty request uri")
	ErrDelimiterInURI  = errors.New("request uri contains line delimiter")
)

// EncodingError reports a request path that is not valid UTF-8.
type EncodingError struct {
	Offset int // Index of the first byte of the first invalid sequence
}

func newEncodingError(b []byte) *EncodingError {
	offset := 0
	for offset < len(b) {
		r, size := utf8.DecodeRune(b[offset:])
		if r == utf8.RuneError && size <= 1 {
			break
		}
		offset += size
	}
	return &EncodingError{Offset: offset}
}

func (e *EncodingError) Error() string {
	return fmt.Sprintf("invalid utf-8 sequence at index %d", e.Offset)
}

func (e *EncodingError) Unwrap() error {
	return ErrInvalidEncoding
}

// IsFramingError reports whether err came from validating a request line.
// Framing errors are fatal to the connection that produced them.
func IsFramingError(err error) bool {
	return errors.Is(err, ErrInvalidProtocol) ||
		errors.Is(err, ErrInvalidEncoding) ||
		errors.Is(err, ErrEmptyURI)
}
