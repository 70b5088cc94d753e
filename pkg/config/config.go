package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v2"
)

type Config struct {
	Server struct {
		Address         string        `yaml:"address"`
		ReadTimeout     time.Duration `yaml:"read_timeout"`
		WriteTimeout    time.Duration `yaml:"write_timeout"`
		ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	} `yaml:"server"`

	Auth struct {
		Password      string        `yaml:"password"`
		ResumeTimeout time.Duration `yaml:"resume_timeout"`
	} `yaml:"auth"`

	Voice struct {
		UserID    string `yaml:"user_id"`
		Transport string `yaml:"transport"` // "gateway" or "noop"
	} `yaml:"voice"`

	Recovery struct {
		MaxRetries                 int           `yaml:"max_retries"`
		InitialBackoff             time.Duration `yaml:"initial_backoff"`
		MaxBackoff                 time.Duration `yaml:"max_backoff"`
		Multiplier                 float64       `yaml:"multiplier"`
		JitterFactor               float64       `yaml:"jitter_factor"`
		CircuitBreakerThreshold    int           `yaml:"circuit_breaker_threshold"`
		CircuitBreakerResetTimeout time.Duration `yaml:"circuit_breaker_reset_timeout"`
	} `yaml:"recovery"`

	Pool struct {
		MaxConnections  int           `yaml:"max_connections"`
		MaxIdleTime     time.Duration `yaml:"max_idle_time"`
		CleanupInterval time.Duration `yaml:"cleanup_interval"`
	} `yaml:"pool"`

	Monitoring struct {
		HealthCheckInterval        time.Duration `yaml:"health_check_interval"`
		PingTimeout                time.Duration `yaml:"ping_timeout"`
		LatencyDegradedMs          float64       `yaml:"latency_degraded_ms"`
		LatencyUnhealthyMs         float64       `yaml:"latency_unhealthy_ms"`
		PacketLossDegradedPercent  float64       `yaml:"packet_loss_degraded_percent"`
		PacketLossUnhealthyPercent float64       `yaml:"packet_loss_unhealthy_percent"`
		HistoryLimit               int           `yaml:"history_limit"`
		PrometheusEnabled          bool          `yaml:"prometheus_enabled"`
	} `yaml:"monitoring"`

	Quality struct {
		InitialPreset          string        `yaml:"initial_preset"`
		EmergencyThreshold     float64       `yaml:"emergency_threshold"`
		DegradationThreshold   float64       `yaml:"degradation_threshold"`
		UpgradeStabilityPeriod time.Duration `yaml:"upgrade_stability_period"`
		HysteresisMargin       float64       `yaml:"hysteresis_margin"`
		HysteresisWindow       time.Duration `yaml:"hysteresis_window"`
		GradualTransitions     bool          `yaml:"gradual_transitions"`
		GradualStepDelay       time.Duration `yaml:"gradual_step_delay"`
	} `yaml:"quality"`

	Streaming struct {
		MaxRetries      int           `yaml:"max_retries"`
		InitialBackoff  time.Duration `yaml:"initial_backoff"`
		MaxBackoff      time.Duration `yaml:"max_backoff"`
		Multiplier      float64       `yaml:"multiplier"`
		JitterFactor    float64       `yaml:"jitter_factor"`
		MonitorInterval time.Duration `yaml:"monitor_interval"`
	} `yaml:"streaming"`

	Sessions struct {
		Store string `yaml:"store"` // "memory" or "redis"
		Redis struct {
			Address  string `yaml:"address"`
			Password string `yaml:"password"`
			DB       int    `yaml:"db"`
			PoolSize int    `yaml:"pool_size"`
		} `yaml:"redis"`
	} `yaml:"sessions"`

	RateLimiting struct {
		Enabled           bool    `yaml:"enabled"`
		RequestsPerSecond float64 `yaml:"requests_per_second"`
		Burst             int     `yaml:"burst"`
	} `yaml:"rate_limiting"`

	Logging struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"logging"`

	Tracing struct {
		Enabled        bool   `yaml:"enabled"`
		ServiceName    string `yaml:"service_name"`
		JaegerEndpoint string `yaml:"jaeger_endpoint"`
	} `yaml:"tracing"`
}

// Validate checks that configuration values are within acceptable ranges.
func (c *Config) Validate() error {
	// Server
	if c.Server.Address == "" {
		return fmt.Errorf("server.address must not be empty")
	}
	if c.Server.ReadTimeout <= 0 {
		return fmt.Errorf("server.read_timeout must be > 0")
	}
	if c.Server.WriteTimeout <= 0 {
		return fmt.Errorf("server.write_timeout must be > 0")
	}
	if c.Server.ShutdownTimeout <= 0 {
		return fmt.Errorf("server.shutdown_timeout must be > 0")
	}

	// Auth
	if c.Auth.Password == "" {
		return fmt.Errorf("auth.password must not be empty")
	}
	if c.Auth.ResumeTimeout <= 0 {
		return fmt.Errorf("auth.resume_timeout must be > 0")
	}

	// Voice
	if c.Voice.Transport != "gateway" && c.Voice.Transport != "noop" {
		return fmt.Errorf("voice.transport must be \"gateway\" or \"noop\"")
	}
	if c.Voice.Transport == "gateway" && c.Voice.UserID == "" {
		return fmt.Errorf("voice.user_id must not be empty when voice.transport=gateway")
	}

	// Recovery
	if c.Recovery.MaxRetries <= 0 {
		return fmt.Errorf("recovery.max_retries must be > 0")
	}
	if c.Recovery.InitialBackoff <= 0 {
		return fmt.Errorf("recovery.initial_backoff must be > 0")
	}
	if c.Recovery.MaxBackoff < c.Recovery.InitialBackoff {
		return fmt.Errorf("recovery.max_backoff must be >= recovery.initial_backoff")
	}
	if c.Recovery.Multiplier < 1.0 {
		return fmt.Errorf("recovery.multiplier must be >= 1.0")
	}
	if c.Recovery.JitterFactor < 0 || c.Recovery.JitterFactor >= 1.0 {
		return fmt.Errorf("recovery.jitter_factor must be in [0, 1)")
	}
	if c.Recovery.CircuitBreakerThreshold <= 0 {
		return fmt.Errorf("recovery.circuit_breaker_threshold must be > 0")
	}
	if c.Recovery.CircuitBreakerResetTimeout <= 0 {
		return fmt.Errorf("recovery.circuit_breaker_reset_timeout must be > 0")
	}

	// Pool
	if c.Pool.MaxConnections <= 0 {
		return fmt.Errorf("pool.max_connections must be > 0")
	}
	if c.Pool.MaxIdleTime <= 0 {
		return fmt.Errorf("pool.max_idle_time must be > 0")
	}
	if c.Pool.CleanupInterval <= 0 {
		return fmt.Errorf("pool.cleanup_interval must be > 0")
	}

	// Monitoring
	if c.Monitoring.HealthCheckInterval <= 0 {
		return fmt.Errorf("monitoring.health_check_interval must be > 0")
	}
	if c.Monitoring.PingTimeout <= 0 {
		return fmt.Errorf("monitoring.ping_timeout must be > 0")
	}
	if c.Monitoring.PingTimeout >= c.Monitoring.HealthCheckInterval {
		return fmt.Errorf("monitoring.ping_timeout must be < monitoring.health_check_interval")
	}
	if c.Monitoring.LatencyDegradedMs <= 0 || c.Monitoring.LatencyUnhealthyMs <= c.Monitoring.LatencyDegradedMs {
		return fmt.Errorf("monitoring latency thresholds must satisfy 0 < degraded < unhealthy")
	}
	if c.Monitoring.PacketLossDegradedPercent <= 0 || c.Monitoring.PacketLossUnhealthyPercent <= c.Monitoring.PacketLossDegradedPercent {
		return fmt.Errorf("monitoring packet loss thresholds must satisfy 0 < degraded < unhealthy")
	}
	if c.Monitoring.HistoryLimit <= 0 {
		return fmt.Errorf("monitoring.history_limit must be > 0")
	}

	// Quality
	if c.Quality.EmergencyThreshold <= 0 || c.Quality.EmergencyThreshold >= c.Quality.DegradationThreshold {
		return fmt.Errorf("quality thresholds must satisfy 0 < emergency < degradation")
	}
	if c.Quality.DegradationThreshold >= 100 {
		return fmt.Errorf("quality.degradation_threshold must be < 100")
	}
	if c.Quality.UpgradeStabilityPeriod <= 0 {
		return fmt.Errorf("quality.upgrade_stability_period must be > 0")
	}
	if c.Quality.HysteresisMargin < 0 {
		return fmt.Errorf("quality.hysteresis_margin must be >= 0")
	}
	if c.Quality.HysteresisWindow <= 0 {
		return fmt.Errorf("quality.hysteresis_window must be > 0")
	}
	if c.Quality.GradualTransitions && c.Quality.GradualStepDelay <= 0 {
		return fmt.Errorf("quality.gradual_step_delay must be > 0 when gradual_transitions=true")
	}

	// Streaming
	if c.Streaming.MaxRetries <= 0 {
		return fmt.Errorf("streaming.max_retries must be > 0")
	}
	if c.Streaming.InitialBackoff <= 0 {
		return fmt.Errorf("streaming.initial_backoff must be > 0")
	}
	if c.Streaming.MaxBackoff < c.Streaming.InitialBackoff {
		return fmt.Errorf("streaming.max_backoff must be >= streaming.initial_backoff")
	}
	if c.Streaming.Multiplier < 1.0 {
		return fmt.Errorf("streaming.multiplier must be >= 1.0")
	}
	if c.Streaming.MonitorInterval <= 0 {
		return fmt.Errorf("streaming.monitor_interval must be > 0")
	}

	// Sessions
	if c.Sessions.Store != "memory" && c.Sessions.Store != "redis" {
		return fmt.Errorf("sessions.store must be \"memory\" or \"redis\"")
	}
	if c.Sessions.Store == "redis" {
		if c.Sessions.Redis.Address == "" {
			return fmt.Errorf("sessions.redis.address must not be empty when sessions.store=redis")
		}
		if c.Sessions.Redis.PoolSize <= 0 {
			return fmt.Errorf("sessions.redis.pool_size must be > 0 when sessions.store=redis")
		}
	}

	// Rate limiting
	if c.RateLimiting.Enabled {
		if c.RateLimiting.RequestsPerSecond <= 0 {
			return fmt.Errorf("rate_limiting.requests_per_second must be > 0 when rate limiting is enabled")
		}
		if c.RateLimiting.Burst <= 0 {
			return fmt.Errorf("rate_limiting.burst must be > 0 when rate limiting is enabled")
		}
	}

	// Logging
	if c.Logging.Level == "" {
		return fmt.Errorf("logging.level must not be empty")
	}

	// Tracing
	if c.Tracing.Enabled && c.Tracing.JaegerEndpoint == "" {
		return fmt.Errorf("tracing.jaeger_endpoint must not be empty when tracing.enabled=true")
	}

	return nil
}

// Load reads configuration from YAML file, applies defaults and env overrides.
func Load(configPath string) (*Config, error) {
	// If file does not exist, fall back to defaults
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		cfg := DefaultConfig()
		cfg.applyEnvOverrides()
		return cfg, nil
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", configPath, err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config yaml: %w", err)
	}

	cfg.applyEnvOverrides()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// DefaultConfig returns configuration with sane defaults.
func DefaultConfig() *Config {
	cfg := &Config{}

	cfg.Server.Address = ":2333"
	cfg.Server.ReadTimeout = 30 * time.Second
	cfg.Server.WriteTimeout = 30 * time.Second
	cfg.Server.ShutdownTimeout = 30 * time.Second

	cfg.Auth.Password = "youshallnotpass"
	cfg.Auth.ResumeTimeout = 60 * time.Second

	cfg.Voice.Transport = "noop"

	cfg.Recovery.MaxRetries = 5
	cfg.Recovery.InitialBackoff = 500 * time.Millisecond
	cfg.Recovery.MaxBackoff = 30 * time.Second
	cfg.Recovery.Multiplier = 2.0
	cfg.Recovery.JitterFactor = 0.25
	cfg.Recovery.CircuitBreakerThreshold = 5
	cfg.Recovery.CircuitBreakerResetTimeout = 60 * time.Second

	cfg.Pool.MaxConnections = 100
	cfg.Pool.MaxIdleTime = 10 * time.Minute
	cfg.Pool.CleanupInterval = time.Minute

	cfg.Monitoring.HealthCheckInterval = 30 * time.Second
	cfg.Monitoring.PingTimeout = 5 * time.Second
	cfg.Monitoring.LatencyDegradedMs = 150
	cfg.Monitoring.LatencyUnhealthyMs = 300
	cfg.Monitoring.PacketLossDegradedPercent = 2
	cfg.Monitoring.PacketLossUnhealthyPercent = 5
	cfg.Monitoring.HistoryLimit = 100
	cfg.Monitoring.PrometheusEnabled = true

	cfg.Quality.InitialPreset = "medium"
	cfg.Quality.EmergencyThreshold = 25
	cfg.Quality.DegradationThreshold = 50
	cfg.Quality.UpgradeStabilityPeriod = time.Minute
	cfg.Quality.HysteresisMargin = 10
	cfg.Quality.HysteresisWindow = 30 * time.Second
	cfg.Quality.GradualTransitions = true
	cfg.Quality.GradualStepDelay = 500 * time.Millisecond

	cfg.Streaming.MaxRetries = 3
	cfg.Streaming.InitialBackoff = 250 * time.Millisecond
	cfg.Streaming.MaxBackoff = 10 * time.Second
	cfg.Streaming.Multiplier = 2.0
	cfg.Streaming.JitterFactor = 0.2
	cfg.Streaming.MonitorInterval = 5 * time.Second

	cfg.Sessions.Store = "memory"
	cfg.Sessions.Redis.Address = "localhost:6379"
	cfg.Sessions.Redis.PoolSize = 10

	cfg.RateLimiting.Enabled = true
	cfg.RateLimiting.RequestsPerSecond = 50
	cfg.RateLimiting.Burst = 100

	cfg.Logging.Level = "info"
	cfg.Logging.Format = "json"

	cfg.Tracing.Enabled = false
	cfg.Tracing.ServiceName = "voicelink"

	return cfg
}

// applyEnvOverrides lets a few operational knobs be set from the environment.
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("VOICELINK_SERVER_ADDRESS"); v != "" {
		c.Server.Address = v
	}
	if v := os.Getenv("VOICELINK_PASSWORD"); v != "" {
		c.Auth.Password = v
	}
	if v := os.Getenv("VOICELINK_USER_ID"); v != "" {
		c.Voice.UserID = v
	}
	if v := os.Getenv("VOICELINK_TRANSPORT"); v != "" {
		c.Voice.Transport = v
	}
	if v := os.Getenv("VOICELINK_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	if v := os.Getenv("VOICELINK_REDIS_ADDRESS"); v != "" {
		c.Sessions.Redis.Address = v
	}
	if v := os.Getenv("VOICELINK_JAEGER_ENDPOINT"); v != "" {
		c.Tracing.JaegerEndpoint = v
	}
}
