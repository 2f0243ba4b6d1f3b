// Command localidades serves aggregated data about Brazilian localities
// over the model-context protocol on stdin/stdout.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/go-logr/logr"
	"github.com/go-logr/zapr"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/brasildados/localidades-mcp/core/cache"
	"github.com/brasildados/localidades-mcp/core/catalog"
	"github.com/brasildados/localidades-mcp/core/clock"
	"github.com/brasildados/localidades-mcp/core/config"
	"github.com/brasildados/localidades-mcp/core/endpoint"
	"github.com/brasildados/localidades-mcp/core/fetch"
	"github.com/brasildados/localidades-mcp/core/locality"
	"github.com/brasildados/localidades-mcp/core/mcp"
	"github.com/brasildados/localidades-mcp/core/ratelimit"
	"github.com/brasildados/localidades-mcp/core/report"
	"github.com/brasildados/localidades-mcp/core/tool"
	"github.com/brasildados/localidades-mcp/core/usage"
)

// version is stamped at release time via ldflags; default stays dev for local builds.
var version = "0.0.0-dev"

const (
	exitOK          = 0
	exitInitFailure = 1
	exitInterrupted = 130
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(arguments []string) int {
	flags := flag.NewFlagSet("localidades", flag.ContinueOnError)
	flags.SetOutput(os.Stderr)
	endpointsPath := flags.String("endpoints", "", "YAML overlay with extra endpoint descriptors and buckets")
	cacheDir := flags.String("cache-dir", "", "cache directory (overrides CACHE_DIR)")
	showVersion := flags.Bool("version", false, "print version and exit")
	if err := flags.Parse(arguments); err != nil {
		return exitInitFailure
	}
	if *showVersion {
		fmt.Println("localidades", version)
		return exitOK
	}

	environment := config.FromEnv(os.Environ())
	if *cacheDir != "" {
		environment.CacheDir = *cacheDir
	}

	// stdout carries the protocol; every diagnostic goes to stderr
	logger, flushLogs, err := newLogger(environment.ZapLevel())
	if err != nil {
		fmt.Fprintln(os.Stderr, "logger init:", err)
		return exitInitFailure
	}
	defer flushLogs()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	exitCode, err := serve(ctx, environment, *endpointsPath, logger)
	if err != nil {
		logger.Error(err, "fatal")
	}
	return exitCode
}

func serve(ctx context.Context, environment config.Config, endpointsPath string, logger logr.Logger) (int, error) {
	endpoints, err := endpoint.NewBuiltinRegistry()
	if err != nil {
		return exitInitFailure, err
	}
	if endpointsPath != "" {
		overlay, err := endpoint.LoadOverlay(endpointsPath)
		if err != nil {
			return exitInitFailure, err
		}
		if err := endpoints.ApplyOverlay(overlay); err != nil {
			return exitInitFailure, err
		}
	}

	clk := clock.System{}
	buckets := append(endpoints.Buckets(), tool.Buckets()...)
	limiter := ratelimit.NewLimiter(clk, logger, buckets...)

	if err := os.MkdirAll(environment.CacheDir, 0o755); err != nil {
		return exitInitFailure, fmt.Errorf("cache dir: %w", err)
	}
	store, err := cache.New(clk, logger, filepath.Join(environment.CacheDir, "cache.json"))
	if err != nil {
		return exitInitFailure, err
	}
	defer store.Close()

	client := fetch.New(fetch.Config{
		Clock:   clk,
		Logger:  logger,
		Limiter: limiter,
		Keys:    environment.Keys,
	})
	defer client.Close()

	cachedFetch := func(ctx context.Context, descriptor endpoint.Descriptor, params map[string]string) (fetch.Result, error) {
		result, _, err := client.FetchCached(ctx, store, descriptor, params)
		return result, err
	}
	resolver := locality.NewResolver(func(ctx context.Context, descriptorID string, params map[string]string) (json.RawMessage, error) {
		descriptor, ok := endpoints.Get(descriptorID)
		if !ok {
			return nil, fmt.Errorf("descriptor %s not registered", descriptorID)
		}
		result, err := cachedFetch(ctx, descriptor, params)
		if err != nil {
			return nil, err
		}
		return result.Value, nil
	}, logger)

	disabled := config.DisabledDescriptors(endpoints, environment.Keys)
	for id := range disabled {
		logger.Info("descriptor disabled, credential missing", "descriptor", id)
	}
	composer := report.NewComposer(report.Config{
		Registry: endpoints,
		Fetch:    cachedFetch,
		Logger:   logger,
		Disabled: disabled,
	})

	tracker := usage.NewTracker(clk.WallNow())
	tools := tool.NewRegistry(limiter, tracker, store, logger)
	err = catalog.Register(tools, catalog.Deps{
		Resolver:  resolver,
		Composer:  composer,
		Endpoints: endpoints,
		Tracker:   tracker,
		Clock:     clk,
		Logger:    logger,
	})
	if err != nil {
		return exitInitFailure, err
	}

	if endpointsPath != "" {
		go func() {
			if err := endpoint.WatchOverlay(ctx, endpoints, endpointsPath, logger); err != nil {
				logger.Error(err, "overlay watcher stopped")
			}
		}()
	}

	logger.Info("serving", "version", version, "cache_dir", environment.CacheDir,
		"descriptors", len(endpoints.All()), "disabled", len(disabled))

	server := mcp.NewServer("localidades", version, tools, logger)
	err = server.Serve(ctx, os.Stdin, os.Stdout)
	store.Flush()
	switch {
	case err == nil:
		return exitOK, nil
	case errors.Is(err, context.Canceled):
		logger.Info("interrupted")
		return exitInterrupted, nil
	default:
		return exitInitFailure, err
	}
}

func newLogger(level zapcore.Level) (logr.Logger, func(), error) {
	zapConfig := zap.NewProductionConfig()
	zapConfig.Level = zap.NewAtomicLevelAt(level)
	zapConfig.OutputPaths = []string{"stderr"}
	zapConfig.ErrorOutputPaths = []string{"stderr"}
	zapLogger, err := zapConfig.Build()
	if err != nil {
		return logr.Logger{}, nil, err
	}
	flush := func() { _ = zapLogger.Sync() }
	return zapr.NewLogger(zapLogger).WithName("localidades"), flush, nil
}
