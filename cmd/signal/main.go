package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/anmol0706/VC/internal/core/services"
	"github.com/anmol0706/VC/internal/infrastructure/monitoring"
	signalserver "github.com/anmol0706/VC/internal/infrastructure/signal"
	"github.com/anmol0706/VC/pkg/config"
	"github.com/anmol0706/VC/pkg/logger"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func main() {
	startTime := time.Now()

	// Try multiple config paths
	configPaths := []string{
		"configs/config.yaml",
		"./configs/config.yaml",
		"/etc/vc/config.yaml",
		"config.yaml",
	}

	var cfg *config.Config
	var err error

	for _, path := range configPaths {
		cfg, err = config.Load(path)
		if err == nil {
			break
		}
	}

	if err != nil {
		// Fallback to defaults if config cannot be loaded
		cfg = config.DefaultConfig()
	}

	// Initialize logger
	zapLogger := logger.New(cfg.Logging.Level)
	defer zapLogger.Sync()

	log := zapLogger.Sugar()

	// Core registry and websocket transport
	registry := services.NewRegistry(zapLogger)

	var collector *monitoring.PrometheusCollector
	var metrics signalserver.Metrics
	if cfg.Monitoring.PrometheusEnabled {
		collector = monitoring.NewPrometheusCollector()
		metrics = collector
	}

	wsServer := signalserver.NewServer(registry, cfg, metrics, zapLogger)

	// Health checks
	healthChecker := monitoring.NewHealthChecker()
	healthChecker.AddCheck("registry", func(ctx context.Context) (bool, error) {
		registry.Stats(ctx)
		return true, nil
	}, 2*time.Second)

	// Configure Gin
	if cfg.Logging.Level != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.Default()

	router.GET("/ws", gin.WrapF(wsServer.HandleWebSocket))

	router.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{
			"status":    "healthy",
			"timestamp": time.Now(),
			"uptime":    time.Since(startTime).String(),
		})
	})

	router.GET("/ready", func(c *gin.Context) {
		status := healthChecker.CheckAll(c.Request.Context())
		code := 200
		if status.Status != "healthy" {
			code = 503
		}
		c.JSON(code, status)
	})

	api := router.Group("/api/v1")
	{
		api.GET("/stats", func(c *gin.Context) {
			stats := registry.Stats(c.Request.Context())
			c.JSON(200, gin.H{
				"rooms":        stats.RoomCount,
				"participants": stats.ParticipantCount,
				"connections":  wsServer.ConnectionCount(),
			})
		})
	}

	// Prometheus metrics endpoint
	if cfg.Monitoring.PrometheusEnabled {
		router.GET("/metrics", gin.WrapH(promhttp.Handler()))
		log.Info("Prometheus metrics enabled")
	}

	// Periodic sweep of rooms left empty past the retention window
	sweepDone := make(chan struct{})
	go func() {
		ticker := time.NewTicker(cfg.Rooms.SweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-sweepDone:
				return
			case <-ticker.C:
				removed := registry.Sweep(context.Background(), cfg.Rooms.Retention)
				if removed > 0 {
					log.Infow("swept empty rooms", "removed", removed)
				}
				if collector != nil {
					collector.RecordSweep(removed)
					stats := registry.Stats(context.Background())
					collector.SetRegistryGauges(stats.RoomCount, stats.ParticipantCount)
				}
			}
		}
	}()

	// Create HTTP server with timeouts
	srv := &http.Server{
		Addr:         cfg.Server.Address,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	// Start server in goroutine
	serverErr := make(chan error, 1)
	go func() {
		log.Infof("Starting signaling server on %s", cfg.Server.Address)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErr <- err
		}
	}()

	// Wait for shutdown signals or server error
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-serverErr:
		log.Fatalw("Server failed", "error", err)
	case sig := <-sigChan:
		log.Infow("Received shutdown signal", "signal", sig)
	}

	log.Info("Shutting down signaling server...")
	close(sweepDone)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	// Drop websocket clients first so the HTTP server can drain
	wsServer.Shutdown(shutdownCtx)

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Errorw("Error during server shutdown", "error", err)
		if closeErr := srv.Close(); closeErr != nil {
			log.Errorw("Error force closing server", "error", closeErr)
		}
	} else {
		log.Info("Server shutdown gracefully")
	}

	log.Info("Signaling server stopped")
}
