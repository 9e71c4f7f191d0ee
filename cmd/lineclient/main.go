// lineclient fetches uris from a line server and prints each body on its own line.
//
//	lineclient --addr 127.0.0.1:8081 /index.html /about.html
//	lineclient --registry 127.0.0.1:2379 --service lineserve /index.html
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"lineserve/client"
	"lineserve/config"
	"lineserve/loadbalance"
	"lineserve/logging"
	"lineserve/registry"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Stdout); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return
		}
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

type options struct {
	addr       string
	endpoints  []string
	service    string
	balancer   string
	pool       int
	timeout    time.Duration
	logProfile string
	uris       []string
}

func parseOptions(args []string) (options, error) {
	var opts options
	flagSet := pflag.NewFlagSet("lineclient", pflag.ContinueOnError)
	flagSet.StringVarP(&opts.addr, "addr", "a", config.DefaultListen, "server address, used when --registry is not set")
	flagSet.StringSliceVar(&opts.endpoints, "registry", nil, "etcd endpoints to discover servers from")
	flagSet.StringVar(&opts.service, "service", config.DefaultServiceName, "registered service name")
	flagSet.StringVar(&opts.balancer, "balancer", "round_robin", "round_robin, weighted_random or consistent_hash")
	flagSet.IntVar(&opts.pool, "pool", 4, "connections per server")
	flagSet.DurationVar(&opts.timeout, "timeout", 10*time.Second, "timeout for all requests")
	flagSet.StringVar(&opts.logProfile, "log-profile", "production", "log profile: production, development or test")

	if err := flagSet.Parse(args); err != nil {
		return options{}, err
	}
	opts.uris = flagSet.Args()
	if len(opts.uris) == 0 {
		return options{}, errors.New("no uris given")
	}
	if opts.pool < 1 {
		return options{}, fmt.Errorf("--pool must be at least 1, got %d", opts.pool)
	}
	return opts, nil
}

func run(ctx context.Context, args []string, out io.Writer) error {
	opts, err := parseOptions(args)
	if err != nil {
		return err
	}

	profile, err := logging.ParseProfile(opts.logProfile)
	if err != nil {
		return err
	}
	logger, err := logging.New(profile)
	if err != nil {
		return fmt.Errorf("build logger: %w", err)
	}
	defer logger.Sync()

	reg, err := newRegistry(ctx, opts, logger)
	if err != nil {
		return err
	}
	if closer, ok := reg.(io.Closer); ok {
		defer closer.Close()
	}

	cli := client.NewClient(reg, loadbalance.New(opts.balancer), opts.service, opts.pool, logger)
	defer cli.Close()

	ctx, cancel := context.WithTimeout(ctx, opts.timeout)
	defer cancel()

	bodies, err := fetchAll(ctx, cli, opts.uris, opts.pool)
	if err != nil {
		return err
	}
	for _, body := range bodies {
		fmt.Fprintln(out, body)
	}
	return nil
}

// newRegistry returns the etcd registry, or an in-memory one holding just --addr.
func newRegistry(ctx context.Context, opts options, logger *zap.Logger) (registry.Registry, error) {
	if len(opts.endpoints) > 0 {
		reg, err := registry.NewEtcdRegistry(opts.endpoints, 5*time.Second, logger)
		if err != nil {
			return nil, err
		}
		return reg, nil
	}
	reg := registry.NewMemoryRegistry()
	if err := reg.Register(ctx, opts.service, registry.ServiceInstance{Addr: opts.addr, Weight: 1}, 0); err != nil {
		return nil, err
	}
	return reg, nil
}

// fetchAll requests every uri, at most limit at a time, and returns the bodies in
// the order of uris.
func fetchAll(ctx context.Context, cli *client.Client, uris []string, limit int) ([]string, error) {
	bodies := make([]string, len(uris))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)
	for i, uri := range uris {
		g.Go(func() error {
			body, err := cli.Get(ctx, uri)
			if err != nil {
				return fmt.Errorf("get %s: %w", uri, err)
			}
			bodies[i] = body
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return bodies, nil
}
