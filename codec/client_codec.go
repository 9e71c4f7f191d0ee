package codec

import (
	"bytes"

	"lineserve/message"
	"lineserve/protocol"
)

// ClientCodec is the mirror of LineCodec used by clients: it writes request lines and
// reads responses.
//
// Responses carry no length, so the first "\r\n" ends the body. A body that itself
// contains "\r\n" is split at that point; the server cannot signal otherwise.
type ClientCodec struct{}

// EncodeRequest appends the request line for uri to buf.
func (ClientCodec) EncodeRequest(uri string, buf *bytes.Buffer) error {
	if err := protocol.ValidateURI(uri); err != nil {
		return err
	}
	buf.Write(protocol.AppendRequest(buf.AvailableBuffer(), uri))
	return nil
}

// DecodeResponse consumes one "\r\n"-terminated response from buf, or returns
// (nil, nil) if none is complete.
func (ClientCodec) DecodeResponse(buf *bytes.Buffer) (*message.Response, error) {
	i := bytes.Index(buf.Bytes(), protocol.Delimiter)
	if i < 0 {
		return nil, nil
	}
	body := buf.Next(i)
	resp := message.NewResponse(body)
	buf.Next(len(protocol.Delimiter))
	return resp, nil
}
