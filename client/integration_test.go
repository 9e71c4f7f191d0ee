package client

import (
	"context"
	"net"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"

	"lineserve/loadbalance"
	"lineserve/middleware"
	"lineserve/registry"
	"lineserve/server"
	"lineserve/service"
)

// TestFullIntegrationWithEtcd runs the whole path:
// Client → Registry(etcd) → Balancer → ConnPool → ClientCodec → Server → Middleware → FileServer
//
// Needs a running etcd: LINESERVE_ETCD_ENDPOINTS=127.0.0.1:2379 go test ./client
func TestFullIntegrationWithEtcd(t *testing.T) {
	endpoints := os.Getenv("LINESERVE_ETCD_ENDPOINTS")
	if endpoints == "" {
		t.Skip("LINESERVE_ETCD_ENDPOINTS not set")
	}
	logger := zaptest.NewLogger(t)

	reg, err := registry.NewEtcdRegistry(strings.Split(endpoints, ","), 2*time.Second, logger)
	if err != nil {
		t.Fatalf("failed to connect etcd: %v", err)
	}
	defer reg.Close()

	root := t.TempDir()
	if err := os.WriteFile(filepath.Join(root, "index.html"), []byte("<p>hello</p>"), 0o644); err != nil {
		t.Fatal(err)
	}

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	svr := server.NewServer(service.NewFileServer(root, logger),
		server.WithLogger(logger),
		server.WithMiddleware(middleware.LoggingMiddleware(logger), middleware.TimeoutMiddleware(time.Second)),
		server.WithRegistry(reg, "files-integration", registry.ServiceInstance{Weight: 10}, 10),
	)
	go svr.ServeListener(listener)
	defer svr.Shutdown(3 * time.Second)

	cli := NewClient(reg, &loadbalance.RoundRobinBalancer{}, "files-integration", 2, logger)
	defer cli.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	// Registration happens once ServeListener runs.
	var body string
	for {
		body, err = cli.Get(ctx, "/index.html")
		if err == nil || ctx.Err() != nil {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if err != nil {
		t.Fatalf("Get /index.html failed: %v", err)
	}
	if body != "<p>hello</p>" {
		t.Fatalf("unexpected body %q", body)
	}

	if _, err := cli.Get(ctx, "/missing.html"); err == nil {
		t.Fatal("expect an error for a missing file")
	}
}
