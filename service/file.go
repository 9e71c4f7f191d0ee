package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"go.uber.org/zap"

	"lineserve/message"
)

var ErrNotFound = errors.New("not found")

// FileServer is a Factory for services that answer each request with the contents of
// a file under Root. The request uri is taken relative to Root after dropping its
// leading '/'.
type FileServer struct {
	root   string
	logger *zap.Logger
}

// NewFileServer creates a FileServer for root.
func NewFileServer(root string, logger *zap.Logger) *FileServer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &FileServer{root: root, logger: logger}
}

// NewService opens Root for the new connection. It fails if Root cannot be opened.
func (s *FileServer) NewService() (Service, error) {
	root, err := os.OpenRoot(s.root)
	if err != nil {
		return nil, fmt.Errorf("open root %s: %w", s.root, err)
	}
	s.logger.Debug("new service", zap.String("root", s.root))
	return &fileService{root: root, logger: s.logger}, nil
}

// Root returns the directory files are served from.
func (s *FileServer) Root() string {
	return s.root
}

// fileService holds the connection's handle on the root directory. Lookups go through
// os.Root, so a uri cannot reach outside it.
type fileService struct {
	root   *os.Root
	logger *zap.Logger
}

func (s *fileService) Call(ctx context.Context, req *message.Request) (*message.Response, error) {
	s.logger.Debug("call", zap.String("uri", req.URI))

	name := strings.TrimPrefix(req.URI, "/")
	if name == "" {
		return nil, fmt.Errorf("%s: %w", req.URI, ErrNotFound)
	}

	f, err := s.root.Open(name)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) || isEscape(err) {
			return nil, fmt.Errorf("%s: %w", req.URI, ErrNotFound)
		}
		return nil, err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, err
	}
	if !info.Mode().IsRegular() {
		return nil, fmt.Errorf("%s: %w", req.URI, ErrNotFound)
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	body, err := io.ReadAll(f)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", req.URI, err)
	}
	return message.NewResponse(body), nil
}

func (s *fileService) Close() error {
	return s.root.Close()
}

// isEscape reports whether err is os.Root refusing a path outside the root. os.Root
// does not export a sentinel for this, so the message is matched.
func isEscape(err error) bool {
	var pathErr *os.PathError
	if errors.As(err, &pathErr) {
		return strings.Contains(pathErr.Err.Error(), "escapes from parent")
	}
	return false
}
