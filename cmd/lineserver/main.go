// lineserver serves files from a root directory over the line protocol:
// "GET <path>\r\n" is answered with the file contents followed by "\r\n".
//
// Settings come from --config (YAML or TOML), then LINESERVE_* environment
// variables, then command line flags. With registry endpoints configured the server
// advertises itself in etcd until it shuts down.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"lineserve/config"
	"lineserve/logging"
	"lineserve/middleware"
	"lineserve/registry"
	"lineserve/server"
	"lineserve/service"
)

const shutdownTimeout = 10 * time.Second

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return
		}
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string) error {
	cfg, err := parseConfig(args)
	if err != nil {
		return err
	}

	profile, err := logging.ParseProfile(cfg.LogProfile)
	if err != nil {
		return err
	}
	logger, err := logging.New(profile)
	if err != nil {
		return fmt.Errorf("build logger: %w", err)
	}
	defer logger.Sync()

	svr, cleanup, err := newServer(cfg, logger)
	if err != nil {
		return err
	}
	defer cleanup()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return svr.Serve("tcp", cfg.Listen)
	})
	g.Go(func() error {
		<-ctx.Done()
		logger.Info("shutting down")
		return svr.Shutdown(shutdownTimeout)
	})
	return g.Wait()
}

// parseConfig loads the config file named by --config and applies the flags that
// were set explicitly.
func parseConfig(args []string) (config.Config, error) {
	flagSet := pflag.NewFlagSet("lineserver", pflag.ContinueOnError)
	configPath := flagSet.StringP("config", "c", "", "path to a YAML or TOML config file")
	listen := flagSet.StringP("listen", "l", config.DefaultListen, "address to listen on")
	root := flagSet.StringP("root", "r", config.DefaultRoot, "directory to serve files from")
	maxConns := flagSet.Int("max-conns", 0, "maximum concurrent connections (0 for no limit)")
	maxLine := flagSet.Int("max-line", 0, "maximum bytes of an incomplete request line (0 for no limit)")
	callTimeout := flagSet.Duration("call-timeout", 0, "timeout for one request (0 for none)")
	logProfile := flagSet.String("log-profile", "production", "log profile: production, development or test")
	endpoints := flagSet.StringSlice("registry", nil, "etcd endpoints to register with")

	if err := flagSet.Parse(args); err != nil {
		return config.Config{}, err
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		return config.Config{}, err
	}

	if flagSet.Changed("listen") {
		cfg.Listen = *listen
	}
	if flagSet.Changed("root") {
		cfg.Root = *root
	}
	if flagSet.Changed("max-conns") {
		cfg.MaxConns = *maxConns
	}
	if flagSet.Changed("max-line") {
		cfg.MaxLine = *maxLine
	}
	if flagSet.Changed("call-timeout") {
		cfg.CallTimeout = *callTimeout
	}
	if flagSet.Changed("log-profile") {
		cfg.LogProfile = *logProfile
	}
	if flagSet.Changed("registry") {
		cfg.Registry.Endpoints = *endpoints
	}
	return cfg, cfg.Validate()
}

// newServer wires the file service, middlewares and optional etcd registration.
// cleanup releases the registry client.
func newServer(cfg config.Config, logger *zap.Logger) (*server.Server, func(), error) {
	files := service.NewFileServer(cfg.Root, logger)

	// Fail at startup rather than on the first connection.
	probe, err := files.NewService()
	if err != nil {
		return nil, nil, err
	}
	service.Close(probe)

	mws := []middleware.Middleware{middleware.LoggingMiddleware(logger)}
	if cfg.CallTimeout > 0 {
		mws = append(mws, middleware.TimeoutMiddleware(cfg.CallTimeout))
	}
	if cfg.RateLimit > 0 {
		mws = append(mws, middleware.RateLimitMiddleware(cfg.RateLimit, cfg.RateBurst))
	}

	opts := []server.Option{
		server.WithLogger(logger),
		server.WithMiddleware(mws...),
		server.WithMaxConns(cfg.MaxConns),
		server.WithReadLimit(cfg.MaxLine),
	}

	cleanup := func() {}
	if cfg.Registry.Enabled() {
		reg, err := registry.NewEtcdRegistry(cfg.Registry.Endpoints, cfg.Registry.DialTimeout, logger)
		if err != nil {
			return nil, nil, err
		}
		cleanup = func() { reg.Close() }
		instance := registry.ServiceInstance{Addr: cfg.Registry.Advertise, Weight: cfg.Registry.Weight}
		opts = append(opts, server.WithRegistry(reg, cfg.Registry.ServiceName, instance, cfg.Registry.TTL))
	}

	logger.Info("serving files", zap.String("root", files.Root()))
	return server.NewServer(files, opts...), cleanup, nil
}
