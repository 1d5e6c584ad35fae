// Command gateway launches the Beckn BAP gateway.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sourcegraph/conc"

	"github.com/coachpo/beckn-gateway/internal/app/callback"
	"github.com/coachpo/beckn-gateway/internal/app/orchestrator"
	"github.com/coachpo/beckn-gateway/internal/app/poll"
	"github.com/coachpo/beckn-gateway/internal/domain/protocol"
	"github.com/coachpo/beckn-gateway/internal/infra/config"
	"github.com/coachpo/beckn-gateway/internal/infra/logging"
	"github.com/coachpo/beckn-gateway/internal/infra/participant"
	"github.com/coachpo/beckn-gateway/internal/infra/registry"
	httpserver "github.com/coachpo/beckn-gateway/internal/infra/server/http"
	"github.com/coachpo/beckn-gateway/internal/infra/telemetry"
	"github.com/coachpo/beckn-gateway/lib/async"
	"github.com/coachpo/beckn-gateway/pkg/dispatcher"
)

const (
	defaultConfigPath         = "config/app.yaml"
	shutdownTimeout           = 30 * time.Second
	apiServerShutdownTimeout  = 5 * time.Second
	lifecycleShutdownTimeout  = 10 * time.Second
	callbackShutdownTimeout   = 10 * time.Second
	storeShutdownTimeout      = 5 * time.Second
	telemetryShutdownTimeout  = 5 * time.Second
	apiServerReadHeaderTimout = 5 * time.Second
)

func main() {
	cfgPathFlag := parseFlags()
	ctx, cancel := newSignalContext()
	defer cancel()

	configPath := resolveConfigPath(cfgPathFlag)
	appCfg, loadedFromFile, err := config.LoadOrDefault(ctx, configPath)
	if err != nil {
		logrus.Fatalf("load config: %v", err)
	}

	base, err := logging.New(appCfg.Logging)
	if err != nil {
		logrus.Fatalf("configure logging: %v", err)
	}
	logger := base.WithField("component", "gateway")
	if !loadedFromFile {
		logger.Info("configuration file not found, using defaults")
	}
	logger.WithFields(logrus.Fields{
		"environment": appCfg.Environment,
		"backend":     appCfg.Correlation.Backend,
		"registry":    appCfg.Registry.URL,
	}).Info("configuration initialised")

	telemetryProvider, err := initTelemetry(ctx, logger, appCfg.Environment, appCfg.Telemetry)
	if err != nil {
		logger.Fatalf("initialize telemetry: %v", err)
	}

	var lifecycle conc.WaitGroup

	backend, err := openStore(ctx, appCfg, &lifecycle, base)
	if err != nil {
		logger.Fatalf("open correlation store: %v", err)
	}

	directory, err := registry.NewClient(registry.Options{
		BaseURL: appCfg.Registry.URL,
		Timeout: appCfg.Registry.Timeout,
		Logger:  base.WithField("component", "registry"),
	})
	if err != nil {
		logger.Fatalf("initialise registry client: %v", err)
	}

	participants := participant.NewDispatcher(participant.Options{
		Config: appCfg.Participants,
		Logger: base.WithField("component", "participant"),
	})

	callbackPool, err := async.NewPool(appCfg.Callbacks.Workers, appCfg.Callbacks.QueueSize,
		async.WithLogger(base.WithField("component", "callbacks")))
	if err != nil {
		logger.Fatalf("initialise callback pool: %v", err)
	}

	orch, err := orchestrator.New(orchestrator.Options{
		Contexts:   protocol.NewContextFactory(contextDefaults(appCfg.Context), nil, nil),
		Directory:  directory,
		Dispatcher: participants,
		Fanout: dispatcher.NewFanout(
			dispatcher.NewFanoutMetrics(telemetryProvider.Meter("dispatcher")),
			appCfg.Participants.FanoutWorkers.Count()),
		Store:  backend.store,
		Logger: base.WithField("component", "orchestrator"),
	})
	if err != nil {
		logger.Fatalf("initialise orchestrator: %v", err)
	}

	apiServer := buildAPIServer(appCfg.APIServer, httpserver.Options{
		Environment:  appCfg.Environment,
		Orchestrator: orch,
		Callbacks:    callback.NewService(backend.store, callback.Options{Logger: base.WithField("component", "callback")}),
		Poll:         poll.NewService(backend.store, poll.Options{Dedupe: appCfg.Correlation.Dedupe, Logger: base.WithField("component", "poll")}),
		Pool:         callbackPool,
		Health:       backend.health,
		Logger:       base.WithField("component", "httpserver"),
	})
	startAPIServer(&lifecycle, logger, apiServer)
	logger.WithField("addr", apiServer.Addr).Info("gateway API listening")

	logger.Info("gateway started; awaiting shutdown signal")
	<-ctx.Done()
	logger.Info("shutdown signal received, initiating graceful shutdown")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	shutdownStart := time.Now()
	performGracefulShutdown(shutdownCtx, logger, gracefulShutdownConfig{
		server:       apiServer,
		mainCancel:   cancel,
		lifecycle:    &lifecycle,
		callbacks:    callbackPool,
		participants: participants,
		store:        backend,
		telemetry:    telemetryProvider,
	})

	logger.Infof("shutdown completed in %v", time.Since(shutdownStart))
}

func parseFlags() string {
	cfgPath := flag.String("config", "", fmt.Sprintf("Path to application configuration file (default: %s)", defaultConfigPath))
	flag.Parse()
	return *cfgPath
}

func newSignalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}

func initTelemetry(ctx context.Context, logger *logrus.Entry, env config.Environment, cfg config.TelemetryConfig) (*telemetry.Provider, error) {
	telemetryCfg := telemetry.DefaultConfig()
	if cfg.OTLPEndpoint != "" {
		telemetryCfg.OTLPEndpoint = cfg.OTLPEndpoint
	}
	if cfg.ServiceName != "" {
		telemetryCfg.ServiceName = cfg.ServiceName
	}
	telemetryCfg.Environment = string(env)
	telemetryCfg.OTLPInsecure = cfg.OTLPInsecure
	telemetryCfg.EnableMetrics = cfg.EnableMetrics

	provider, err := telemetry.NewProvider(ctx, telemetryCfg)
	if err != nil {
		return nil, fmt.Errorf("initialize telemetry provider: %w", err)
	}

	if telemetryCfg.Enabled {
		logger.WithFields(logrus.Fields{
			"endpoint": telemetryCfg.OTLPEndpoint,
			"service":  telemetryCfg.ServiceName,
		}).Info("telemetry initialized")
	} else {
		logger.Info("telemetry disabled")
	}
	return provider, nil
}

func contextDefaults(cfg config.ContextConfig) protocol.Defaults {
	return protocol.Defaults{
		BapID:   cfg.BapID,
		BapURI:  cfg.BapURI,
		Domain:  cfg.Domain,
		City:    cfg.City,
		Country: cfg.Country,
		TTL:     cfg.TTL,
	}
}

func buildAPIServer(cfg config.APIServerConfig, opts httpserver.Options) *http.Server {
	return &http.Server{
		Addr:              cfg.Addr,
		Handler:           httpserver.NewHandler(opts),
		ReadHeaderTimeout: apiServerReadHeaderTimout,
	}
}

func startAPIServer(lifecycle *conc.WaitGroup, logger *logrus.Entry, server *http.Server) {
	lifecycle.Go(func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithError(err).Error("api server stopped")
		}
	})
}

type gracefulShutdownConfig struct {
	server       *http.Server
	mainCancel   context.CancelFunc
	lifecycle    *conc.WaitGroup
	callbacks    *async.Pool
	participants *participant.Dispatcher
	store        *storeBackend
	telemetry    *telemetry.Provider
}

func performGracefulShutdown(ctx context.Context, logger *logrus.Entry, cfg gracefulShutdownConfig) {
	shutdownStep := func(name string, timeout time.Duration, fn func(context.Context) error) {
		stepCtx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()
		logger.Infof("shutdown: %s...", name)
		if err := fn(stepCtx); err != nil {
			logger.WithError(err).Warnf("shutdown: %s failed", name)
		} else {
			logger.Infof("shutdown: %s completed", name)
		}
	}

	if cfg.server != nil {
		shutdownStep("stopping api server", apiServerShutdownTimeout, func(stepCtx context.Context) error {
			return cfg.server.Shutdown(stepCtx)
		})
	}

	// Callbacks already acknowledged must reach the store before it closes.
	if cfg.callbacks != nil {
		shutdownStep("draining callback pool", callbackShutdownTimeout, func(stepCtx context.Context) error {
			cfg.callbacks.Close()
			return cfg.callbacks.Shutdown(stepCtx)
		})
	}

	logger.Info("shutdown: cancelling main context")
	if cfg.mainCancel != nil {
		cfg.mainCancel()
	}

	if cfg.lifecycle != nil {
		shutdownStep("waiting for lifecycle goroutines", lifecycleShutdownTimeout, func(stepCtx context.Context) error {
			done := make(chan struct{})
			go func() {
				cfg.lifecycle.Wait()
				close(done)
			}()
			select {
			case <-done:
				return nil
			case <-stepCtx.Done():
				return fmt.Errorf("timeout waiting for goroutines: %w", stepCtx.Err())
			}
		})
	}

	if cfg.participants != nil {
		cfg.participants.Close()
	}

	if cfg.store != nil {
		shutdownStep("closing correlation store", storeShutdownTimeout, cfg.store.close)
	}

	if cfg.telemetry != nil {
		shutdownStep("shutting down telemetry", telemetryShutdownTimeout, func(stepCtx context.Context) error {
			return cfg.telemetry.Shutdown(stepCtx)
		})
	}
}

func resolveConfigPath(flagValue string) string {
	if flagValue != "" {
		return flagValue
	}
	return filepath.Clean(defaultConfigPath)
}
