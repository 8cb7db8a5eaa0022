package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/valyala/fasthttp"
	"go.uber.org/zap"

	"github.com/edgecomet/rendeer/internal/common/config"
	"github.com/edgecomet/rendeer/internal/common/configtypes"
	logutil "github.com/edgecomet/rendeer/internal/common/logger"
	"github.com/edgecomet/rendeer/internal/common/metricsserver"
	"github.com/edgecomet/rendeer/internal/distcache"
	"github.com/edgecomet/rendeer/internal/filter"
	"github.com/edgecomet/rendeer/internal/localcache"
	"github.com/edgecomet/rendeer/internal/metrics"
	"github.com/edgecomet/rendeer/internal/pipeline"
	"github.com/edgecomet/rendeer/internal/render/chrome"
	"github.com/edgecomet/rendeer/internal/server"
)

func main() {
	configPath := flag.String("c", "configs/rendeer.yaml", "Path to configuration file")
	flag.Parse()

	// Initialize logger (will be reconfigured from config)
	initialLogger, err := logutil.NewDefaultLogger()
	if err != nil {
		panic(err)
	}

	initialLogger.Info("Loading configuration", zap.String("path", *configPath))

	absPath, err := config.GetConfigPath(*configPath)
	if err != nil {
		initialLogger.Fatal("Invalid config path", zap.Error(err))
	}

	cfg, err := config.LoadConfig(absPath)
	if err != nil {
		initialLogger.Fatal("Failed to load configuration", zap.Error(err))
	}

	// Uses INFO level during startup if configured level is higher
	dynamicLogger, err := logutil.NewLoggerWithStartupOverride(cfg.Log)
	if err != nil {
		initialLogger.Fatal("Failed to create configured logger", zap.Error(err))
	}
	logger := dynamicLogger.Logger

	logger.Info("rendeer starting",
		zap.String("listen", cfg.Server.Listen),
		zap.Strings("whitelist", cfg.Render.Whitelist),
		zap.String("concurrency", cfg.Render.Concurrency),
		zap.Bool("distributed_cache", cfg.Cache.Distributed.Enabled))

	metricsCollector := metrics.NewMetricsCollector(cfg.Metrics.Namespace, logger)

	metricsServer, err := metricsserver.StartMetricsServer(cfg.Metrics, metricsCollector, logger)
	if err != nil {
		logger.Fatal("Failed to start metrics server", zap.Error(err))
	}

	policy, err := filter.NewPolicy(cfg.Render.Whitelist)
	if err != nil {
		logger.Fatal("Invalid whitelist", zap.Error(err))
	}

	chromeConfig := chrome.NewConfig(cfg.Render)
	renderer, err := chrome.NewRenderer(chromeConfig, chrome.NewLauncher(chromeConfig, logger), policy, metricsCollector, logger)
	if err != nil {
		logger.Fatal("Failed to create renderer", zap.Error(err))
	}

	local, err := localcache.New(cfg.Cache.Local.Capacity, metricsCollector, logger)
	if err != nil {
		logger.Fatal("Failed to create local cache", zap.Error(err))
	}

	// a nil *distcache.Client must not reach the pipeline as a non-nil interface
	var dist pipeline.DistributedCache
	var distClient *distcache.Client
	if cfg.Cache.Distributed.Enabled {
		distClient, err = distcache.NewFromConfig(cfg.Cache.Distributed, metricsCollector, logger)
		if err != nil {
			logger.Fatal("Failed to create distributed cache", zap.Error(err))
		}
		dist = distClient
	}

	listenAddr, err := configtypes.NormalizeListen(cfg.Server.Listen)
	if err != nil {
		logger.Fatal("Invalid listen address", zap.Error(err))
	}

	serverTimeout := cfg.Server.Timeout.ToDuration()
	renderPipeline := pipeline.New(local, renderer, dist, config.CalculateServerTimeout(&cfg.Render), logger)
	router := server.NewServer(renderPipeline, server.Options{
		CacheControlMaxAge: cfg.Server.CacheControlMaxAge.ToDuration(),
		RequestTimeout:     serverTimeout,
		SSRFProtection:     cfg.Render.IsSSRFProtectionEnabled(),
	}, metricsCollector, logger)

	httpServer := &fasthttp.Server{
		Handler:      router.HandleRequest,
		ReadTimeout:  serverTimeout,
		WriteTimeout: serverTimeout,
		IdleTimeout:  serverTimeout,
		Name:         "rendeer",
	}

	serverErrCh := make(chan error, 1)
	go func() {
		logger.Info("Starting HTTP server", zap.String("listen", listenAddr))
		if err := httpServer.ListenAndServe(listenAddr); err != nil {
			serverErrCh <- err
		}
	}()

	// Wait briefly for HTTP server to start listening
	time.Sleep(100 * time.Millisecond)
	select {
	case err := <-serverErrCh:
		logger.Fatal("HTTP server failed to start", zap.Error(err))
	default:
	}

	logger.Info("rendeer ready", zap.String("listen", listenAddr))

	// Switch to configured log level after startup is complete
	dynamicLogger.SwitchToConfiguredLevel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logger.Info("Received shutdown signal", zap.String("signal", sig.String()))
	case err := <-serverErrCh:
		logger.Error("Server error", zap.Error(err))
	}

	dynamicLogger.EnsureInfoLevelForShutdown()
	logger.Info("Shutting down gracefully...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := httpServer.ShutdownWithContext(shutdownCtx); err != nil {
		logger.Error("Server shutdown error", zap.Error(err))
	}

	if metricsServer != nil {
		if err := metricsServer.ShutdownWithContext(shutdownCtx); err != nil {
			logger.Error("Metrics server shutdown error", zap.Error(err))
		}
	}

	if err := renderer.Close(); err != nil {
		logger.Error("Renderer shutdown error", zap.Error(err))
	}
	local.Wait()

	if distClient != nil {
		if err := distClient.Close(); err != nil {
			logger.Error("Distributed cache shutdown error", zap.Error(err))
		}
	}

	logger.Info("rendeer stopped")
	_ = logger.Sync()
}
