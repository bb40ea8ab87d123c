package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"opendavinci/internal/config"
	"opendavinci/internal/keyvalue"
	"opendavinci/internal/metric"
	"opendavinci/internal/microservices/http-api/handler"
	"opendavinci/internal/microservices/supercomponent"
	"opendavinci/internal/microservices/websocket"

	"github.com/gin-gonic/gin"
)

// mirrorCloser is a registry mirror holding a connection
type mirrorCloser interface {
	supercomponent.Mirror
	Close() error
}

// openMirror connects the registry mirror; replaced in tests
var openMirror = func(url string) (mirrorCloser, error) {
	m, err := supercomponent.NewRedisMirror(url)
	if err != nil {
		return nil, err
	}
	return m, nil
}

func main() {
	// Configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid config: %v", err)
	}

	// Setup structured logging
	logger := cfg.Logger(os.Stdout)
	slog.SetDefault(logger)

	moduleConfig, err := loadModuleConfiguration(cfg.ConfigurationFile, logger)
	if err != nil {
		log.Fatalf("Failed to load module configuration: %v", err)
	}

	// Handle graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err = run(ctx, cfg, moduleConfig, logger)
	stop()
	if err != nil {
		os.Exit(1)
	}
}

// run serves until ctx is done or the status API fails. Every resource it
// opens is released before it returns.
func run(ctx context.Context, cfg *config.Config, moduleConfig keyvalue.Configuration, logger *slog.Logger) error {
	var mirror supercomponent.Mirror
	if cfg.RedisURL != "" {
		redisMirror, err := openMirror(cfg.RedisURL)
		if err != nil {
			// the mirror is optional, run without it
			logger.Warn("redis_mirror_disabled", "error", err.Error())
		} else {
			defer redisMirror.Close()
			mirror = redisMirror
		}
	}

	registry := metric.NewRegistry()
	sc, err := supercomponent.New(supercomponent.Options{
		Group:               cfg.MulticastGroup,
		DiscoveryPort:       cfg.DiscoveryPort,
		ConnectionPort:      cfg.ConnectionPort,
		ConferencePort:      cfg.ConferencePort,
		DisableConference:   cfg.DisableConf,
		AdvertiseIP:         cfg.AdvertiseIP,
		IgnoreModules:       cfg.IgnoreModules,
		RegistrationTimeout: cfg.RegistrationTimeout,
		Configuration:       moduleConfig,
		PulseInterval:       cfg.PulseInterval,
		Mirror:              mirror,
		Metrics:             registry,
	}, logger)
	if err != nil {
		logger.Error("supercomponent_setup_failed", "error", err.Error())
		return err
	}
	if err := sc.Start(); err != nil {
		logger.Error("supercomponent_start_failed", "error", err.Error())
		sc.Stop()
		return err
	}

	// live module feed for status clients
	hub := websocket.NewHub(nil, logger)
	go hub.Run()
	sc.Registry().AddObserver(hub)

	gin.SetMode(gin.ReleaseMode)
	httpServer := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.HTTPPort),
		Handler: handler.NewRouter(sc.Registry(), registry, logger, handler.WithEventFeed(hub)),
	}

	errChan := make(chan error, 1)
	go func() {
		logger.Info("status_api_listening", "addr", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	var serveErr error
	select {
	case <-ctx.Done():
		logger.Info("received_shutdown_signal")
	case serveErr = <-errChan:
		logger.Error("status_api_error", "error", serveErr.Error())
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("status_api_shutdown_error", "error", err.Error())
	}
	sc.Stop()
	hub.Stop()
	logger.Info("supercomponent_stopped_gracefully")
	return serveErr
}

// loadModuleConfiguration reads the key/value file handed out to modules. A
// missing file yields an empty configuration.
func loadModuleConfiguration(path string, logger *slog.Logger) (keyvalue.Configuration, error) {
	cfg, err := keyvalue.LoadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		logger.Warn("module_configuration_missing", "path", path)
		return keyvalue.New(nil), nil
	}
	if err != nil {
		return keyvalue.Configuration{}, err
	}
	logger.Info("module_configuration_loaded", "path", path, "keys", cfg.Len())
	return cfg, nil
}
