// Package client fetches uris from line servers found through a service registry.
//
// Call path:
//
//	Get(uri) → Registry.Discover → Balancer.Pick(uri) → ConnPool.Get → ClientTransport.Do
package client

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"lineserve/loadbalance"
	"lineserve/message"
	"lineserve/registry"
	"lineserve/transport"
)

type Client struct {
	registry    registry.Registry // Find service instances
	balancer    loadbalance.Balancer
	serviceName string
	poolSize    int // Connections per server address
	logger      *zap.Logger

	mu    sync.Mutex
	pools map[string]*transport.ConnPool // One pool per server address
}

// NewClient creates a client for the servers registered under serviceName.
func NewClient(reg registry.Registry, bal loadbalance.Balancer, serviceName string, poolSize int, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		registry:    reg,
		balancer:    bal,
		serviceName: serviceName,
		poolSize:    poolSize,
		logger:      logger,
		pools:       make(map[string]*transport.ConnPool),
	}
}

func (c *Client) pool(addr string) *transport.ConnPool {
	c.mu.Lock()
	defer c.mu.Unlock()

	pool, ok := c.pools[addr]
	if !ok {
		pool = transport.NewConnPool(addr, c.poolSize, nil)
		c.pools[addr] = pool
		c.logger.Debug("new connection pool", zap.String("addr", addr), zap.Int("size", c.poolSize))
	}
	return pool
}

// Do sends one request for uri and waits for its response. The uri is the balancing
// key, so a consistent hash balancer sends a given uri to the same server.
func (c *Client) Do(ctx context.Context, uri string) (*message.Response, error) {
	instances, err := c.registry.Discover(ctx, c.serviceName)
	if err != nil {
		return nil, fmt.Errorf("discover %s: %w", c.serviceName, err)
	}

	instance, err := c.balancer.Pick(uri, instances)
	if err != nil {
		return nil, err
	}

	pool := c.pool(instance.Addr)
	t, err := pool.Get(ctx)
	if err != nil {
		return nil, fmt.Errorf("connect %s: %w", instance.Addr, err)
	}
	defer pool.Put(t)

	resp, err := t.Do(ctx, uri)
	if err != nil {
		c.logger.Debug("request failed", zap.String("addr", instance.Addr), zap.String("uri", uri), zap.Error(err))
		return nil, err
	}
	return resp, nil
}

// Get returns the response body for uri.
func (c *Client) Get(ctx context.Context, uri string) (string, error) {
	resp, err := c.Do(ctx, uri)
	if err != nil {
		return "", err
	}
	return resp.Body, nil
}

// Close closes every connection pool.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for addr, pool := range c.pools {
		pool.Close()
		delete(c.pools, addr)
	}
	return nil
}
