package main

import (
	"context"
	"flag"
	"fmt"
	nethttp "net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"

	"voicelink/internal/core/domain"
	"voicelink/internal/core/ports"
	"voicelink/internal/core/services"
	"voicelink/internal/handlers/http"
	"voicelink/internal/infrastructure/audio"
	"voicelink/internal/infrastructure/events"
	"voicelink/internal/infrastructure/monitoring"
	"voicelink/internal/infrastructure/repositories"
	signalws "voicelink/internal/infrastructure/signal"
	"voicelink/internal/infrastructure/transport"
	"voicelink/pkg/config"
	"voicelink/pkg/idgen"
	"voicelink/pkg/logger"
	"voicelink/pkg/tracing"
)

func main() {
	configPath := flag.String("config", "configs/config.yaml", "path to config file")
	flag.Parse()

	if err := run(*configPath); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	zlog, err := logger.New(cfg.Logging.Level, cfg.Logging.Format)
	if err != nil {
		return fmt.Errorf("build logger: %w", err)
	}
	defer zlog.Sync()
	log := zlog.Sugar()

	tp, err := tracing.Init(tracing.Config{
		Enabled:     cfg.Tracing.Enabled,
		ServiceName: cfg.Tracing.ServiceName,
		JaegerURL:   cfg.Tracing.JaegerEndpoint,
	})
	if err != nil {
		return fmt.Errorf("init tracing: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	ids := idgen.NewUUIDGenerator()
	bus := events.NewBus(log)

	var promCollector *monitoring.PrometheusCollector
	if cfg.Monitoring.PrometheusEnabled {
		promCollector = monitoring.NewPrometheusCollector(prometheus.DefaultRegisterer)
		if err := promCollector.Attach(bus); err != nil {
			return fmt.Errorf("attach prometheus collector: %w", err)
		}
	}

	sessions, err := repositories.NewSessionRepository(ctx, cfg)
	if err != nil {
		return fmt.Errorf("build session store: %w", err)
	}

	var factory ports.TransportFactory
	switch cfg.Voice.Transport {
	case "gateway":
		gwCfg := transport.DefaultGatewayConfig()
		gwCfg.UserID = cfg.Voice.UserID
		factory = transport.NewGatewayFactory(gwCfg, bus, ids, log)
	default:
		factory = transport.NewNoopFactory()
	}

	recovery := services.NewRecoveryEngine(services.RecoveryConfig{
		MaxRetries:                 cfg.Recovery.MaxRetries,
		InitialBackoff:             cfg.Recovery.InitialBackoff,
		MaxBackoff:                 cfg.Recovery.MaxBackoff,
		Multiplier:                 cfg.Recovery.Multiplier,
		JitterFactor:               cfg.Recovery.JitterFactor,
		CircuitBreakerThreshold:    cfg.Recovery.CircuitBreakerThreshold,
		CircuitBreakerResetTimeout: cfg.Recovery.CircuitBreakerResetTimeout,
	}, bus, ids, log)

	pool := services.NewConnectionPool(services.PoolConfig{
		MaxConnections:  cfg.Pool.MaxConnections,
		MaxIdleTime:     cfg.Pool.MaxIdleTime,
		CleanupInterval: cfg.Pool.CleanupInterval,
	}, recovery, factory, bus, ids, log)

	collector := services.NewMetricsCollector()

	monitor := services.NewHealthMonitor(services.MonitoringConfig{
		HealthCheckInterval:        cfg.Monitoring.HealthCheckInterval,
		PingTimeout:                cfg.Monitoring.PingTimeout,
		LatencyDegradedMs:          cfg.Monitoring.LatencyDegradedMs,
		LatencyUnhealthyMs:         cfg.Monitoring.LatencyUnhealthyMs,
		PacketLossDegradedPercent:  cfg.Monitoring.PacketLossDegradedPercent,
		PacketLossUnhealthyPercent: cfg.Monitoring.PacketLossUnhealthyPercent,
		HistoryLimit:               cfg.Monitoring.HistoryLimit,
	}, collector, bus, ids, log)

	monitor.RegisterAlertSink(ports.AlertSinkFunc(func(alert domain.MonitoringAlert) {
		log.Warnw("alert",
			"alert_id", alert.ID,
			"guild_id", alert.GuildID,
			"severity", alert.Severity.String(),
			"message", alert.Message,
		)
	}))

	initialPreset, ok := domain.ParsePreset(cfg.Quality.InitialPreset)
	if !ok {
		return fmt.Errorf("unknown quality.initial_preset %q", cfg.Quality.InitialPreset)
	}
	qualityCfg := services.DefaultQualityConfig()
	qualityCfg.InitialPreset = initialPreset
	qualityCfg.EmergencyThreshold = cfg.Quality.EmergencyThreshold
	qualityCfg.DegradationThreshold = cfg.Quality.DegradationThreshold
	qualityCfg.UpgradeStabilityPeriod = cfg.Quality.UpgradeStabilityPeriod
	qualityCfg.HysteresisMargin = cfg.Quality.HysteresisMargin
	qualityCfg.HysteresisWindow = cfg.Quality.HysteresisWindow
	qualityCfg.GradualTransitions = cfg.Quality.GradualTransitions
	qualityCfg.GradualStepDelay = cfg.Quality.GradualStepDelay
	quality := services.NewQualityManager(qualityCfg, bus, ids, log)

	inputs := audio.NewHTTPInputFactory(cfg.Server.ReadTimeout)
	streamingCfg := services.DefaultStreamingConfig()
	streamingCfg.MaxRetries = cfg.Streaming.MaxRetries
	streamingCfg.InitialBackoff = cfg.Streaming.InitialBackoff
	streamingCfg.MaxBackoff = cfg.Streaming.MaxBackoff
	streamingCfg.Multiplier = cfg.Streaming.Multiplier
	streamingCfg.JitterFactor = cfg.Streaming.JitterFactor
	streamingCfg.MonitorInterval = cfg.Streaming.MonitorInterval
	streaming := services.NewStreamingManager(streamingCfg, inputs, quality, bus, ids, log)

	manager := services.NewConnectionManager(pool, recovery, monitor, collector, quality, streaming, bus, log)
	manager.Start(ctx)

	ws := signalws.NewServer(signalws.Config{
		Password:      cfg.Auth.Password,
		ResumeSecret:  []byte(cfg.Auth.Password),
		ResumeTimeout: cfg.Auth.ResumeTimeout,
	}, sessions, bus, ids, log)

	router := http.NewRouter(cfg, manager, sessions, ws, log)
	server := &nethttp.Server{
		Addr:         cfg.Server.Address,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Infow("server listening", "address", cfg.Server.Address, "transport", cfg.Voice.Transport)
		if err := server.ListenAndServe(); err != nil && err != nethttp.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server failed: %w", err)
	case <-ctx.Done():
	}

	log.Infow("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Warnw("http server shutdown failed", "error", err)
	}
	ws.Shutdown()
	manager.Shutdown(shutdownCtx)
	if promCollector != nil {
		promCollector.Detach(bus)
	}
	if err := tp.Shutdown(shutdownCtx); err != nil {
		log.Warnw("tracer shutdown failed", "error", err)
	}

	log.Infow("shutdown complete")
	return nil
}
