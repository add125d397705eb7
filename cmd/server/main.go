package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"watchpost.core/internal/adapters/cache"
	http_handler "watchpost.core/internal/adapters/handler/http"
	"watchpost.core/internal/adapters/handler/mqtt"
	"watchpost.core/internal/adapters/metrics"
	"watchpost.core/internal/adapters/reputation"
	"watchpost.core/internal/adapters/scanner"
	"watchpost.core/internal/config"
	"watchpost.core/internal/core/bus"
	"watchpost.core/internal/core/circuitbreaker"
	"watchpost.core/internal/core/domain"
	"watchpost.core/internal/core/logger"
	"watchpost.core/internal/core/ports"
	"watchpost.core/internal/core/services"
	"watchpost.core/internal/core/tracing"
)

const version = "0.1.0"

func main() {
	// Load configuration
	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		log.Fatalf("invalid config: %v", err)
	}

	// Initialize structured logger
	lg := logger.Init(cfg.LogLevel, cfg.LogFormat)
	lg.Info("starting watchpost core", "version", version)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize tracing
	shutdownTracing, err := tracing.Init(cfg.ServiceName, cfg.OTLPEndpoint)
	if err != nil {
		lg.Error("failed to initialize tracing", "error", err)
	} else {
		defer func() {
			if err := shutdownTracing(context.Background()); err != nil {
				lg.Error("failed to shutdown tracing", "error", err)
			}
		}()
	}

	// Result cache backend
	var resultCache ports.ResultCache
	switch cfg.CacheBackend {
	case "redis":
		rc, err := cache.NewRedis(cfg.RedisURL)
		if err != nil {
			lg.Error("failed to init redis cache", "error", err)
			log.Fatalf("failed to init redis cache: %v", err)
		}
		resultCache = rc
	default:
		mc := cache.NewMemory()
		mc.StartSweep(ctx, cfg.CacheSweep)
		defer mc.Stop()
		resultCache = mc
	}
	lg.Info("result cache ready", "backend", cfg.CacheBackend)

	// Telemetry bus and aggregator
	b := bus.New(cfg.SnapshotBuffer, cfg.EventBuffer)
	defer b.Close()

	aggregator := services.NewAggregator(b, cfg.TickInterval, cfg.AdapterTimeout, lg)
	aggregator.Register(metrics.NewCPUAdapter(), cfg.TickInterval)
	aggregator.Register(metrics.NewMemoryAdapter(), cfg.TickInterval)
	aggregator.Register(metrics.NewDiskAdapter(), cfg.TickInterval)
	aggregator.Register(metrics.NewNetworkAdapter(), cfg.TickInterval)
	aggregator.Register(metrics.NewGPUAdapter(), cfg.GPUTickInterval)

	// Job subsystem
	jobService := services.NewJobService(services.JobServiceConfig{
		PoolSize:    cfg.PoolSize,
		QueueDepth:  cfg.QueueDepth,
		CancelGrace: cfg.CancelGrace,
		Deadlines:   cfg.Deadlines,
		TTLs:        cfg.TTLs,
	}, resultCache, b, lg)

	jobService.RegisterInvoker(scanner.New(cfg.ScannerBin))

	breaker := circuitbreaker.New("reputation", 30*time.Second)
	repClient := reputation.NewClient(cfg.ReputationURL, breaker)
	jobService.RegisterInvoker(repClient.Invoker(domain.JobKindFileLookup))
	jobService.RegisterInvoker(repClient.Invoker(domain.JobKindURLLookup))

	watchdog := services.NewWatchdog(jobService, cfg.WatchdogInterval, cfg.StallThreshold, lg)

	healthService := services.NewHealthService(aggregator, jobService, resultCache, cfg.TickInterval, version)

	// Start the core
	aggregator.Start(ctx)
	jobService.Start(ctx)
	watchdog.Start(ctx)

	// Outward surfaces
	hub := http_handler.NewHub(b)
	go hub.Run(ctx)
	go hub.BusConsumer(ctx)

	if cfg.MQTTBrokerURL != "" {
		mqttPublisher, err := mqtt.NewPublisher(b, cfg.MQTTBrokerURL)
		if err != nil {
			lg.Error("failed to init MQTT publisher", "error", err)
		} else {
			mqttPublisher.Start(ctx)
			lg.Info("MQTT publisher started")
		}
	}

	http_handler.RegisterCollectors(jobService, aggregator, watchdog, b)
	httpServer := http_handler.NewServer(jobService, aggregator, healthService, hub)

	go func() {
		lg.Info("HTTP server starting", "port", cfg.HTTPPort)
		if err := httpServer.Run(":" + cfg.HTTPPort); err != nil {
			lg.Error("HTTP server failed", "error", err)
			log.Fatalf("failed to serve http: %v", err)
		}
	}()

	// Graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	lg.Info("shutting down gracefully...")
	cancel()
	watchdog.Stop()
	jobService.Stop()
	aggregator.Stop()
	lg.Info("shutdown complete")
}
