// Package config loads server settings from a YAML or TOML file and the environment.
//
// Precedence, lowest first: Default, the config file, LINESERVE_* environment variables.
// Command line flags are applied on top by the caller.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

const (
	DefaultListen      = "127.0.0.1:8081"
	DefaultRoot        = "static/"
	DefaultServiceName = "lineserve"
	DefaultTTL         = 10 // seconds
)

var ErrUnknownFormat = errors.New("config: unknown file format")

// Config holds the lineserver settings. MaxConns, MaxLine, RateLimit and CallTimeout
// are disabled when zero; RateLimit is requests per second across all connections and
// MaxLine is the longest partial request line a connection may buffer.
type Config struct {
	Listen      string        `yaml:"listen" toml:"listen" env:"LINESERVE_LISTEN"`
	Root        string        `yaml:"root" toml:"root" env:"LINESERVE_ROOT"`
	MaxConns    int           `yaml:"max_conns" toml:"max_conns" env:"LINESERVE_MAX_CONNS"`
	MaxLine     int           `yaml:"max_line" toml:"max_line" env:"LINESERVE_MAX_LINE"`
	RateLimit   float64       `yaml:"rate_limit" toml:"rate_limit" env:"LINESERVE_RATE_LIMIT"`
	RateBurst   int           `yaml:"rate_burst" toml:"rate_burst" env:"LINESERVE_RATE_BURST"`
	CallTimeout time.Duration `yaml:"call_timeout" toml:"call_timeout" env:"LINESERVE_CALL_TIMEOUT"`
	LogProfile  string        `yaml:"log_profile" toml:"log_profile" env:"LINESERVE_LOG_PROFILE"`

	Registry RegistryConfig `yaml:"registry" toml:"registry" envPrefix:"LINESERVE_REGISTRY_"`
}

// RegistryConfig enables etcd registration when Endpoints is non-empty.
type RegistryConfig struct {
	Endpoints   []string      `yaml:"endpoints" toml:"endpoints" env:"ENDPOINTS" envSeparator:","`
	ServiceName string        `yaml:"service_name" toml:"service_name" env:"SERVICE_NAME"`
	Advertise   string        `yaml:"advertise" toml:"advertise" env:"ADVERTISE"` // Defaults to the listener address
	Weight      int           `yaml:"weight" toml:"weight" env:"WEIGHT"`
	TTL         int64         `yaml:"ttl" toml:"ttl" env:"TTL"` // Lease TTL in seconds
	DialTimeout time.Duration `yaml:"dial_timeout" toml:"dial_timeout" env:"DIAL_TIMEOUT"`
}

func (r RegistryConfig) Enabled() bool {
	return len(r.Endpoints) > 0
}

func Default() Config {
	return Config{
		Listen:     DefaultListen,
		Root:       DefaultRoot,
		LogProfile: "production",
		Registry: RegistryConfig{
			ServiceName: DefaultServiceName,
			Weight:      1,
			TTL:         DefaultTTL,
			DialTimeout: 5 * time.Second,
		},
	}
}

// Load returns Default overlaid with the file at path (skipped when path is empty)
// and then the environment. The result is validated.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		if err := loadFile(path, &cfg); err != nil {
			return Config{}, err
		}
	}
	if err := ParseEnv(&cfg); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// ParseEnv overrides fields of target from LINESERVE_* environment variables.
func ParseEnv(target *Config) error {
	if err := env.Parse(target); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	return nil
}

func loadFile(path string, out *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("config load failed (%s): %w", path, err)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		// An empty file leaves the defaults.
		if err := dec.Decode(out); err != nil && !errors.Is(err, io.EOF) {
			return fmt.Errorf("config parse failed (%s): %w", path, err)
		}
	case ".toml":
		meta, err := toml.Decode(string(data), out)
		if err != nil {
			return fmt.Errorf("config parse failed (%s): %w", path, err)
		}
		if undecoded := meta.Undecoded(); len(undecoded) > 0 {
			return fmt.Errorf("config parse failed (%s): unknown keys %v", path, undecoded)
		}
	default:
		return fmt.Errorf("%w: %s", ErrUnknownFormat, path)
	}
	return nil
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.Listen) == "" {
		return fmt.Errorf("config missing listen")
	}
	if strings.TrimSpace(c.Root) == "" {
		return fmt.Errorf("config missing root")
	}
	if c.MaxConns < 0 {
		return fmt.Errorf("config max_conns must not be negative, got %d", c.MaxConns)
	}
	if c.MaxLine < 0 {
		return fmt.Errorf("config max_line must not be negative, got %d", c.MaxLine)
	}
	if c.RateLimit < 0 {
		return fmt.Errorf("config rate_limit must not be negative, got %g", c.RateLimit)
	}
	if c.RateLimit > 0 && c.RateBurst < 1 {
		return fmt.Errorf("config rate_burst must be at least 1 when rate_limit is set, got %d", c.RateBurst)
	}
	if c.CallTimeout < 0 {
		return fmt.Errorf("config call_timeout must not be negative, got %s", c.CallTimeout)
	}
	if c.Registry.Enabled() {
		if strings.TrimSpace(c.Registry.ServiceName) == "" {
			return fmt.Errorf("config registry missing service_name")
		}
		if c.Registry.TTL <= 0 {
			return fmt.Errorf("config registry ttl must be positive, got %d", c.Registry.TTL)
		}
	}
	return nil
}
