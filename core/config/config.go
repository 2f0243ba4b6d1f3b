// Package config reads process configuration from the environment.
package config

import (
	"strings"

	"go.uber.org/zap/zapcore"

	"github.com/brasildados/localidades-mcp/core/endpoint"
)

const (
	keyPrefix       = "UPSTREAM_API_KEY_"
	cacheDirVar     = "CACHE_DIR"
	logLevelVar     = "LOG_LEVEL"
	defaultCacheDir = "./data"
)

type Config struct {
	// CacheDir holds the disk mirror, default ./data.
	CacheDir string
	LogLevel string
	// Keys maps API family to credential, from UPSTREAM_API_KEY_<FAMILY>.
	Keys map[string]string
}

// FromEnv parses an os.Environ style list. Unknown variables are ignored;
// empty credential values count as absent.
func FromEnv(environ []string) Config {
	config := Config{CacheDir: defaultCacheDir, Keys: map[string]string{}}
	for _, entry := range environ {
		name, value, ok := strings.Cut(entry, "=")
		if !ok {
			continue
		}
		switch {
		case name == cacheDirVar && value != "":
			config.CacheDir = value
		case name == logLevelVar:
			config.LogLevel = value
		case strings.HasPrefix(name, keyPrefix):
			family := strings.ToLower(strings.TrimPrefix(name, keyPrefix))
			if family != "" && value != "" {
				config.Keys[family] = value
			}
		}
	}
	return config
}

// ZapLevel maps LOG_LEVEL onto a zap level, defaulting to info.
func (c Config) ZapLevel() zapcore.Level {
	switch strings.ToLower(c.LogLevel) {
	case "debug":
		return zapcore.DebugLevel
	case "warn", "warning":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

// DisabledDescriptors lists the descriptors that cannot be served because
// their family has no credential configured.
func DisabledDescriptors(endpoints *endpoint.Registry, keys map[string]string) map[string]bool {
	disabled := map[string]bool{}
	for _, descriptor := range endpoints.All() {
		if descriptor.RequiresKey() && keys[descriptor.Family] == "" {
			disabled[descriptor.ID] = true
		}
	}
	return disabled
}
