package codec

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"lineserve/message"
	"lineserve/protocol"
)

func TestLineCodecDecode(t *testing.T) {
	c := NewLineCodec(nil)
	buf := bytes.NewBufferString("GET /index.html\r\n")

	req, err := c.Decode(buf)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if req == nil || req.URI != "/index.html" {
		t.Fatalf("expect /index.html, got %+v", req)
	}
	if buf.Len() != 0 {
		t.Errorf("expect buffer drained, %d bytes left", buf.Len())
	}
}

// The byte after '\r' is dropped without being checked.
func TestLineCodecDecodeSecondDelimiterByteNotValidated(t *testing.T) {
	c := NewLineCodec(nil)
	for _, tail := range []string{"\r\x00", "\rX", "\r\r"} {
		buf := bytes.NewBufferString("GET /index.html" + tail)
		req, err := c.Decode(buf)
		if err != nil {
			t.Fatalf("Decode(%q) failed: %v", tail, err)
		}
		if req == nil || req.URI != "/index.html" {
			t.Fatalf("Decode(%q): expect /index.html, got %+v", tail, req)
		}
		if buf.Len() != 0 {
			t.Errorf("Decode(%q): expect buffer drained, %d bytes left", tail, buf.Len())
		}
	}
}

func TestLineCodecDecodeNoFrameYet(t *testing.T) {
	c := NewLineCodec(nil)
	cases := []string{"", "GET /partial", "POST /no-delimiter-yet", "GET /x\r"}
	for _, in := range cases {
		buf := bytes.NewBufferString(in)
		for i := 0; i < 2; i++ {
			req, err := c.Decode(buf)
			if req != nil || err != nil {
				t.Fatalf("Decode(%q): expect (nil, nil), got (%+v, %v)", in, req, err)
			}
			if buf.String() != in {
				t.Fatalf("Decode(%q): buffer changed to %q", in, buf.String())
			}
		}
	}
}

func TestLineCodecDecodeInvalidProtocolConsumesLine(t *testing.T) {
	c := NewLineCodec(nil)
	buf := bytes.NewBufferString("POST /x\r\nGET /next\r\n")

	_, err := c.Decode(buf)
	if !errors.Is(err, protocol.ErrInvalidProtocol) {
		t.Fatalf("expect ErrInvalidProtocol, got %v", err)
	}
	if err.Error() != "invalid protocol" {
		t.Errorf("error text mismatch: got %q", err.Error())
	}
	if buf.String() != "GET /next\r\n" {
		t.Fatalf("expect malformed line consumed, buffer is %q", buf.String())
	}

	req, err := c.Decode(buf)
	if err != nil || req == nil || req.URI != "/next" {
		t.Fatalf("expect /next after the bad line, got (%+v, %v)", req, err)
	}
}

func TestLineCodecDecodeInvalidUTF8ConsumesLine(t *testing.T) {
	c := NewLineCodec(nil)
	buf := bytes.NewBufferString("GET \xff\xfe\r\n")

	_, err := c.Decode(buf)
	if !errors.Is(err, protocol.ErrInvalidEncoding) {
		t.Fatalf("expect ErrInvalidEncoding, got %v", err)
	}
	if buf.Len() != 0 {
		t.Fatalf("expect malformed line consumed, buffer is %q", buf.String())
	}

	req, err := c.Decode(buf)
	if req != nil || err != nil {
		t.Fatalf("expect no frame after the bad line, got (%+v, %v)", req, err)
	}
}

func TestLineCodecDecodeOneFramePerCall(t *testing.T) {
	c := NewLineCodec(nil)
	buf := bytes.NewBufferString("GET /a\r\nGET /b\r\nGET /c")

	req, _ := c.Decode(buf)
	if req.URI != "/a" {
		t.Fatalf("expect /a, got %q", req.URI)
	}
	if buf.String() != "GET /b\r\nGET /c" {
		t.Fatalf("expect only the first frame consumed, buffer is %q", buf.String())
	}
	req, _ = c.Decode(buf)
	if req.URI != "/b" {
		t.Fatalf("expect /b, got %q", req.URI)
	}
	req, err := c.Decode(buf)
	if req != nil || err != nil {
		t.Fatalf("expect no frame yet, got (%+v, %v)", req, err)
	}
	if buf.String() != "GET /c" {
		t.Fatalf("expect partial frame kept, buffer is %q", buf.String())
	}
}

type decodeResult struct {
	uri string
	err bool
}

// drain feeds input to the codec in chunks of size n, draining every complete frame
// after each chunk the way the transport does.
func drain(t *testing.T, input []byte, n int) []decodeResult {
	t.Helper()
	c := NewLineCodec(nil)
	var buf bytes.Buffer
	var results []decodeResult
	for start := 0; start < len(input); start += n {
		end := min(start+n, len(input))
		buf.Write(input[start:end])
		for {
			req, err := c.Decode(&buf)
			if err != nil {
				results = append(results, decodeResult{err: true})
				continue
			}
			if req == nil {
				break
			}
			results = append(results, decodeResult{uri: req.URI})
		}
	}
	return results
}

func TestLineCodecDecodeChunkBoundaryIndependent(t *testing.T) {
	input := []byte("GET /a\r\nGET /日本\r\nPOST /x\r\nGET /b\r\x00GET \xff\r\nGET /c\r\nGET /tail")

	want := drain(t, input, len(input))
	if len(want) != 6 {
		t.Fatalf("expect 6 results for the whole input, got %d: %+v", len(want), want)
	}

	for n := 1; n < len(input); n++ {
		got := drain(t, input, n)
		if len(got) != len(want) {
			t.Fatalf("chunk size %d: expect %d results, got %d: %+v", n, len(want), len(got), got)
		}
		for i := range want {
			if got[i] != want[i] {
				t.Fatalf("chunk size %d: result %d mismatch: got %+v, want %+v", n, i, got[i], want[i])
			}
		}
	}
}

func TestLineCodecEncode(t *testing.T) {
	c := NewLineCodec(nil)

	var buf bytes.Buffer
	if err := c.Encode(&message.Response{Body: "hello"}, &buf); err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	if buf.String() != "hello\r\n" {
		t.Fatalf("got %q, want %q", buf.String(), "hello\r\n")
	}

	buf.Reset()
	if err := c.Encode(&message.Response{}, &buf); err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	if buf.String() != "\r\n" {
		t.Fatalf("got %q, want %q", buf.String(), "\r\n")
	}
}

func TestLineCodecEncodeAppends(t *testing.T) {
	c := NewLineCodec(nil)
	buf := bytes.NewBufferString("prev\r\n")
	if err := c.Encode(message.NewResponse("\x00\xffbin"), buf); err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	if buf.String() != "prev\r\n\x00\xffbin\r\n" {
		t.Fatalf("got %q", buf.String())
	}
}

func TestLineCodecEncodeNeverAddsVerb(t *testing.T) {
	c := NewLineCodec(nil)
	var buf bytes.Buffer
	for _, body := range []string{"/ping", "GET /ping", "", "x"} {
		buf.Reset()
		c.Encode(&message.Response{Body: body}, &buf)
		if want := body + "\r\n"; buf.String() != want {
			t.Errorf("got %q, want %q", buf.String(), want)
		}
		if body != "GET /ping" && strings.HasPrefix(buf.String(), protocol.Verb) {
			t.Errorf("encode added a verb prefix: %q", buf.String())
		}
	}
}

func TestLineCodecEncodeNil(t *testing.T) {
	c := NewLineCodec(nil)
	var buf bytes.Buffer
	if err := c.Encode(nil, &buf); !errors.Is(err, ErrNilResponse) {
		t.Fatalf("expect ErrNilResponse, got %v", err)
	}
	if buf.Len() != 0 {
		t.Fatalf("expect nothing written, got %q", buf.String())
	}
}

func TestClientCodec(t *testing.T) {
	var c ClientCodec

	var out bytes.Buffer
	if err := c.EncodeRequest("/ping", &out); err != nil {
		t.Fatalf("EncodeRequest failed: %v", err)
	}
	if out.String() != "GET /ping\r\n" {
		t.Fatalf("got %q, want %q", out.String(), "GET /ping\r\n")
	}
	if err := c.EncodeRequest("/a\rb", &out); !errors.Is(err, protocol.ErrDelimiterInURI) {
		t.Fatalf("expect ErrDelimiterInURI, got %v", err)
	}

	in := bytes.NewBufferString("one\r\n\r\ntwo")
	resp, err := c.DecodeResponse(in)
	if err != nil || resp == nil || resp.Body != "one" {
		t.Fatalf("expect 'one', got (%+v, %v)", resp, err)
	}
	resp, err = c.DecodeResponse(in)
	if err != nil || resp == nil || resp.Body != "" {
		t.Fatalf("expect empty body, got (%+v, %v)", resp, err)
	}
	resp, err = c.DecodeResponse(in)
	if resp != nil || err != nil {
		t.Fatalf("expect no response yet, got (%+v, %v)", resp, err)
	}
	if in.String() != "two" {
		t.Fatalf("expect partial response kept, buffer is %q", in.String())
	}
}

// A response decoded by the server codec as if it were a request line is rejected:
// response framing has no verb.
func TestEncodeDecodeAsymmetric(t *testing.T) {
	c := NewLineCodec(nil)
	var buf bytes.Buffer
	c.Encode(&message.Response{Body: "/ping"}, &buf)

	_, err := c.Decode(&buf)
	if !errors.Is(err, protocol.ErrInvalidProtocol) {
		t.Fatalf("expect ErrInvalidProtocol, got %v", err)
	}
}
