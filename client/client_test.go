package client

import (
	"context"
	"errors"
	"net"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"

	"lineserve/loadbalance"
	"lineserve/message"
	"lineserve/registry"
	"lineserve/server"
	"lineserve/service"
)

// nameService answers every request with a fixed name, or fails on "/fail".
func nameService(name string) service.Service {
	return service.ServiceFunc(func(ctx context.Context, req *message.Request) (*message.Response, error) {
		if req.URI == "/fail" {
			return nil, errors.New("failed")
		}
		return message.NewResponse(name + ":" + req.URI), nil
	})
}

// startServer runs a server registered in reg under "files".
func startServer(tb testing.TB, reg registry.Registry, name string) {
	tb.Helper()
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		tb.Fatal(err)
	}
	svr := server.NewServer(service.Shared(nameService(name)),
		server.WithRegistry(reg, "files", registry.ServiceInstance{Version: name}, 10),
	)
	go svr.ServeListener(listener)
	tb.Cleanup(func() { svr.Shutdown(time.Second) })

	addr := listener.Addr().String()
	deadline := time.Now().Add(time.Second)
	for {
		instances, _ := reg.Discover(context.Background(), "files")
		for _, inst := range instances {
			if inst.Addr == addr {
				return
			}
		}
		if time.Now().After(deadline) {
			tb.Fatalf("server %s did not register", name)
		}
		time.Sleep(time.Millisecond)
	}
}

func TestClientGet(t *testing.T) {
	reg := registry.NewMemoryRegistry()
	startServer(t, reg, "a")

	cli := NewClient(reg, &loadbalance.RoundRobinBalancer{}, "files", 2, zaptest.NewLogger(t))
	defer cli.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for _, uri := range []string{"/index.html", "/other"} {
		body, err := cli.Get(ctx, uri)
		if err != nil {
			t.Fatal(err)
		}
		if body != "a:"+uri {
			t.Fatalf("expect a:%s, got %q", uri, body)
		}
	}
}

func TestClientRoundRobinAcrossServers(t *testing.T) {
	reg := registry.NewMemoryRegistry()
	startServer(t, reg, "a")
	startServer(t, reg, "b")

	cli := NewClient(reg, &loadbalance.RoundRobinBalancer{}, "files", 1, zaptest.NewLogger(t))
	defer cli.Close()

	seen := map[string]bool{}
	for i := 0; i < 4; i++ {
		body, err := cli.Get(context.Background(), "/x")
		if err != nil {
			t.Fatal(err)
		}
		seen[body] = true
	}
	if !seen["a:/x"] || !seen["b:/x"] {
		t.Fatalf("expect both servers to be used, got %v", seen)
	}
}

func TestClientConsistentHashSticks(t *testing.T) {
	reg := registry.NewMemoryRegistry()
	startServer(t, reg, "a")
	startServer(t, reg, "b")

	cli := NewClient(reg, loadbalance.NewConsistentHashBalancer(), "files", 1, zaptest.NewLogger(t))
	defer cli.Close()

	first, err := cli.Get(context.Background(), "/index.html")
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 5; i++ {
		body, err := cli.Get(context.Background(), "/index.html")
		if err != nil {
			t.Fatal(err)
		}
		if body != first {
			t.Fatalf("expect the same server for the same uri, got %q then %q", first, body)
		}
	}
}

func TestClientNoInstances(t *testing.T) {
	cli := NewClient(registry.NewMemoryRegistry(), &loadbalance.RoundRobinBalancer{}, "files", 1, nil)
	defer cli.Close()

	if _, err := cli.Get(context.Background(), "/x"); !errors.Is(err, registry.ErrNoInstances) {
		t.Fatalf("expect ErrNoInstances, got %v", err)
	}
}

func TestClientRecoversAfterServerDrop(t *testing.T) {
	reg := registry.NewMemoryRegistry()
	startServer(t, reg, "a")

	cli := NewClient(reg, &loadbalance.RoundRobinBalancer{}, "files", 1, zaptest.NewLogger(t))
	defer cli.Close()

	// A failing service closes the connection without a response.
	if _, err := cli.Get(context.Background(), "/fail"); err == nil {
		t.Fatal("expect an error when the server drops the connection")
	}

	// The broken connection was discarded, so the next call dials again.
	body, err := cli.Get(context.Background(), "/ok")
	if err != nil {
		t.Fatalf("expect a fresh connection to work, got %v", err)
	}
	if body != "a:/ok" {
		t.Fatalf("unexpected body %q", body)
	}
}

func TestClientConcurrent(t *testing.T) {
	reg := registry.NewMemoryRegistry()
	startServer(t, reg, "a")

	cli := NewClient(reg, &loadbalance.RoundRobinBalancer{}, "files", 4, zaptest.NewLogger(t))
	defer cli.Close()

	var wg sync.WaitGroup
	errs := make(chan error, 50)
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			body, err := cli.Get(context.Background(), "/c")
			if err == nil && body != "a:/c" {
				err = errors.New("unexpected body " + body)
			}
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Fatal(err)
		}
	}
}

func BenchmarkClientSerial(b *testing.B) {
	reg := registry.NewMemoryRegistry()
	startServer(b, reg, "a")
	cli := NewClient(reg, &loadbalance.RoundRobinBalancer{}, "files", 1, nil)
	b.Cleanup(func() { cli.Close() })

	ctx := context.Background()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := cli.Get(ctx, "/index.html"); err != nil {
			b.Fatal(err)
		}
	}
}

func BenchmarkClientParallel(b *testing.B) {
	reg := registry.NewMemoryRegistry()
	startServer(b, reg, "a")
	cli := NewClient(reg, &loadbalance.RoundRobinBalancer{}, "files", 8, nil)
	b.Cleanup(func() { cli.Close() })

	ctx := context.Background()
	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			if _, err := cli.Get(ctx, "/index.html"); err != nil {
				b.Error(err)
				return
			}
		}
	})
}
