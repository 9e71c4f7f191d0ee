package protocol

import (
	"bytes"
	"errors"
	"testing"
)

func TestParseRequestLine(t *testing.T) {
	req, err := ParseRequestLine([]byte("GET /index.html"))
	if err != nil {
		t.Fatalf("ParseRequestLine failed: %v", err)
	}
	if req.URI != "/index.html" {
		t.Errorf("URI mismatch: got %q, want %q", req.URI, "/index.html")
	}
}

func TestParseRequestLineKeepsExactBytes(t *testing.T) {
	// No trimming, no URL-decoding, no path cleaning.
	cases := []string{" /a ", "/a%20b", "/../x", "relative", "/日本語"}
	for _, uri := range cases {
		req, err := ParseRequestLine([]byte("GET " + uri))
		if err != nil {
			t.Fatalf("ParseRequestLine(%q) failed: %v", uri, err)
		}
		if req.URI != uri {
			t.Errorf("URI mismatch: got %q, want %q", req.URI, uri)
		}
	}
}

func TestParseRequestLineInvalidVerb(t *testing.T) {
	cases := []string{"POST /x", "get /x", "GET/x", "GE", "", "\n GET /x"}
	for _, line := range cases {
		_, err := ParseRequestLine([]byte(line))
		if !errors.Is(err, ErrInvalidProtocol) {
			t.Errorf("ParseRequestLine(%q): expect ErrInvalidProtocol, got %v", line, err)
		}
		if !IsFramingError(err) {
			t.Errorf("ParseRequestLine(%q): expect a framing error, got %v", line, err)
		}
	}
}

func TestParseRequestLineInvalidUTF8(t *testing.T) {
	_, err := ParseRequestLine([]byte("GET /ok\xff\xfe"))
	if !errors.Is(err, ErrInvalidEncoding) {
		t.Fatalf("expect ErrInvalidEncoding, got %v", err)
	}

	var encErr *EncodingError
	if !errors.As(err, &encErr) {
		t.Fatalf("expect *EncodingError, got %T", err)
	}
	if encErr.Offset != 3 {
		t.Errorf("Offset mismatch: got %d, want 3", encErr.Offset)
	}
	if !IsFramingError(err) {
		t.Errorf("expect a framing error, got %v", err)
	}
}

func TestParseRequestLineEmptyURI(t *testing.T) {
	_, err := ParseRequestLine([]byte("GET "))
	if !errors.Is(err, ErrEmptyURI) {
		t.Fatalf("expect ErrEmptyURI, got %v", err)
	}
}

func TestAppendResponse(t *testing.T) {
	got := AppendResponse(nil, "hello")
	if !bytes.Equal(got, []byte("hello\r\n")) {
		t.Errorf("got %q, want %q", got, "hello\r\n")
	}

	got = AppendResponse(nil, "")
	if !bytes.Equal(got, []byte("\r\n")) {
		t.Errorf("got %q, want %q", got, "\r\n")
	}

	// Body bytes pass through unchanged, including an embedded delimiter.
	got = AppendResponse([]byte("x"), "a\r\nb")
	if !bytes.Equal(got, []byte("xa\r\nb\r\n")) {
		t.Errorf("got %q, want %q", got, "xa\r\nb\r\n")
	}
}

func TestAppendRequest(t *testing.T) {
	got := AppendRequest(nil, "/ping")
	if !bytes.Equal(got, []byte("GET /ping\r\n")) {
		t.Errorf("got %q, want %q", got, "GET /ping\r\n")
	}
}

func TestValidateURI(t *testing.T) {
	if err := ValidateURI("/ok"); err != nil {
		t.Errorf("expect nil, got %v", err)
	}
	if err := ValidateURI(""); !errors.Is(err, ErrEmptyURI) {
		t.Errorf("expect ErrEmptyURI, got %v", err)
	}
	if err := ValidateURI("/a\rb"); !errors.Is(err, ErrDelimiterInURI) {
		t.Errorf("expect ErrDelimiterInURI, got %v", err)
	}
	if err := ValidateURI("/\xff"); !errors.Is(err, ErrInvalidEncoding) {
		t.Errorf("expect ErrInvalidEncoding, got %v", err)
	}
}
