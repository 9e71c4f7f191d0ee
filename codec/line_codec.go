package codec

import (
	"bytes"

	"go.uber.org/zap"

	"lineserve/message"
	"lineserve/protocol"
)

// LineCodec is the server-side codec for the "GET <uri>\r\n" grammar.
// It holds no framing state; everything pending lives in the caller's buffer.
type LineCodec struct {
	logger *zap.Logger
}

// NewLineCodec creates a LineCodec. A nil logger disables trace output.
func NewLineCodec(logger *zap.Logger) *LineCodec {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LineCodec{logger: logger}
}

// Decode scans buf for the first carriage return. The line before it and the two
// delimiter bytes are consumed before the line is validated, so a malformed line is
// never seen twice. A carriage return that is the last buffered byte does not complete
// a frame yet: the byte after it has to arrive before the line can be consumed.
func (c *LineCodec) Decode(buf *bytes.Buffer) (*message.Request, error) {
	data := buf.Bytes()
	i := bytes.IndexByte(data, protocol.DelimiterStart)
	if i < 0 || len(data)-i < protocol.DelimiterLen {
		return nil, nil
	}

	line := buf.Next(i)
	buf.Next(protocol.DelimiterLen)

	c.logger.Debug("decode complete", zap.ByteString("line", line), zap.Int("remaining", buf.Len()))
	return protocol.ParseRequestLine(line)
}

// Encode appends resp.Body verbatim followed by "\r\n".
func (c *LineCodec) Encode(resp *message.Response, buf *bytes.Buffer) error {
	if resp == nil {
		return ErrNilResponse
	}
	buf.Write(protocol.AppendResponse(buf.AvailableBuffer(), resp.Body))

	c.logger.Debug("encode complete", zap.Int("body_len", len(resp.Body)), zap.Int("buffered", buf.Len()))
	return nil
}
