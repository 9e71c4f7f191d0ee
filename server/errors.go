package server

import (
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"syscall"

	"go.uber.org/zap"

	"lineserve/protocol"
	"lineserve/transport"
)

// Stage is the pipeline step a connection failed in.
type Stage string

const (
	StageRead  Stage = "read"  // Reading or decoding a request
	StageCall  Stage = "call"  // Service.Call
	StageWrite Stage = "write" // Encoding or writing a response
)

// ConnError is why a connection ended.
type ConnError struct {
	Stage Stage
	URI   string // Request being handled, empty for StageRead
	Err   error
}

func (e *ConnError) Error() string {
	if e.URI == "" {
		return fmt.Sprintf("%s: %v", e.Stage, e.Err)
	}
	return fmt.Sprintf("%s %s: %v", e.Stage, e.URI, e.Err)
}

func (e *ConnError) Unwrap() error {
	return e.Err
}

// isExpectedClose reports whether err is a normal end of a connection: the peer went
// away, the connection was closed, or shutdown interrupted a read.
func isExpectedClose(err error) bool {
	if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) || errors.Is(err, os.ErrDeadlineExceeded) {
		return true
	}
	var errno syscall.Errno
	if errors.As(err, &errno) {
		return errno == syscall.EPIPE || errno == syscall.ECONNRESET
	}
	return false
}

// logConnError logs why a connection ended, at a level matching how unusual it is.
func (svr *Server) logConnError(log *zap.Logger, err error) {
	var connErr *ConnError
	if !errors.As(err, &connErr) {
		log.Error("connection failed", zap.Error(err))
		return
	}

	switch {
	case connErr.Stage == StageRead && isExpectedClose(connErr.Err):
		log.Debug("connection closed", zap.Error(connErr.Err))
	case connErr.Stage == StageRead && (protocol.IsFramingError(connErr.Err) || errors.Is(connErr.Err, transport.ErrFrameTooLarge)):
		log.Info("malformed request, closing connection", zap.Error(connErr.Err))
	case connErr.Stage == StageCall:
		log.Info("service failed, closing connection", zap.String("uri", connErr.URI), zap.Error(connErr.Err))
	case isExpectedClose(connErr.Err):
		log.Debug("connection closed", zap.String("stage", string(connErr.Stage)), zap.Error(connErr.Err))
	default:
		log.Warn("connection failed", zap.String("stage", string(connErr.Stage)), zap.Error(connErr.Err))
	}
}
