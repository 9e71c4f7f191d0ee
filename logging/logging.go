// Package logging builds the zap loggers used by the lineserve binaries.
package logging

import (
	"fmt"
	"os"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const EnvLogLevel = "LINESERVE_LOG_LEVEL"

type Profile int

const (
	ProfileProduction  Profile = iota // JSON, info
	ProfileDevelopment                // Console, debug
	ProfileTest                       // Console, debug, no timestamps
)

// ParseProfile maps a profile name from config or flags to a Profile.
func ParseProfile(name string) (Profile, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "production", "prod":
		return ProfileProduction, nil
	case "development", "dev":
		return ProfileDevelopment, nil
	case "test":
		return ProfileTest, nil
	default:
		return 0, fmt.Errorf("unknown log profile %q", name)
	}
}

// New builds a logger for profile. LINESERVE_LOG_LEVEL, when set to a valid level,
// overrides the profile's level.
func New(profile Profile) (*zap.Logger, error) {
	cfg := defaultConfig(profile)
	if lvl, ok := parseLevel(os.Getenv(EnvLogLevel)); ok {
		cfg.Level = zap.NewAtomicLevelAt(lvl)
	}
	return cfg.Build()
}

func defaultConfig(profile Profile) zap.Config {
	switch profile {
	case ProfileDevelopment:
		return zap.NewDevelopmentConfig()
	case ProfileTest:
		cfg := zap.NewDevelopmentConfig()
		cfg.EncoderConfig.TimeKey = ""
		cfg.DisableStacktrace = true
		return cfg
	default:
		return zap.NewProductionConfig()
	}
}

func parseLevel(raw string) (zapcore.Level, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return zapcore.InfoLevel, false
	}
	if strings.EqualFold(raw, "warning") {
		return zapcore.WarnLevel, true
	}
	lvl, err := zapcore.ParseLevel(raw)
	if err != nil {
		return zapcore.InfoLevel, false
	}
	return lvl, true
}
