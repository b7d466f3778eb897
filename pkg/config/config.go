package config

import (
	"time"

	"github.com/spf13/viper"
)

// Config is the root configuration for the control plane, loaded from
// the environment. Every knob has a default so a bare process starts.
type Config struct {
	DataDir    string
	ListenAddr string
	LogLevel   string
	LogJSON    bool
	DevMode    bool
	AuthSecret string

	SandboxAPIURL string
	SandboxAPIKey string

	Orchestrator OrchestratorConfig
	Autoscaler   AutoscalerConfig
	Optimizer    OptimizerConfig
	LogHub       LogHubConfig
	Gateway      GatewayConfig
	Health       HealthConfig
}

// OrchestratorConfig tunes deployment lifecycle management.
type OrchestratorConfig struct {
	MaxConcurrentPerUser int
	SandboxMaxAge        time.Duration
	SandboxMaxIdle       time.Duration
	DeployTimeout        time.Duration
	MaxRetries           int
	CleanupInterval      time.Duration
}

// AutoscalerConfig tunes the scaling evaluation loop.
type AutoscalerConfig struct {
	Tick time.Duration
}

// OptimizerConfig tunes resource usage sampling.
type OptimizerConfig struct {
	SampleInterval time.Duration
}

// LogHubConfig tunes per-deployment log buffering.
type LogHubConfig struct {
	BufferSize    int
	Retention     time.Duration
	SweepInterval time.Duration
}

// GatewayConfig tunes the WebSocket gateway.
type GatewayConfig struct {
	MaxConnections    int
	MaxSubscriptions  int
	ConnectionTimeout time.Duration
	Heartbeat         time.Duration
	SendQueueSize     int
}

// HealthConfig tunes the health supervisor and its circuit breakers.
type HealthConfig struct {
	Interval         time.Duration
	ProbeTimeout     time.Duration
	FailureThreshold int
	BreakerCooldown  time.Duration
	HalfOpenRetries  int
}

// Load reads configuration from the environment. Duration keys carry
// millisecond values per their _MS suffix.
func Load() *Config {
	v := viper.New()
	v.AutomaticEnv()

	v.SetDefault("DATA_DIR", "/var/lib/deployd")
	v.SetDefault("LISTEN_ADDR", ":8080")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_JSON", false)
	v.SetDefault("DEV_MODE", false)
	v.SetDefault("AUTH_SECRET", "")
	v.SetDefault("SANDBOX_API_URL", "")
	v.SetDefault("SANDBOX_API_KEY", "")

	v.SetDefault("MAX_CONCURRENT_PER_USER", 5)
	v.SetDefault("SANDBOX_MAX_AGE", 24*time.Hour/time.Millisecond)
	v.SetDefault("SANDBOX_MAX_IDLE", 30*time.Minute/time.Millisecond)
	v.SetDefault("DEPLOY_TIMEOUT_MS", 300000)
	v.SetDefault("DEPLOY_MAX_RETRIES", 3)
	v.SetDefault("CLEANUP_INTERVAL_MS", 60000)

	v.SetDefault("AUTOSCALE_TICK_MS", 30000)

	v.SetDefault("USAGE_SAMPLE_INTERVAL_MS", 300000)

	v.SetDefault("LOG_BUFFER_SIZE", 1000)
	v.SetDefault("LOG_RETENTION_MS", 3600000)
	v.SetDefault("LOG_SWEEP_INTERVAL_MS", 60000)

	v.SetDefault("WS_MAX_CONNECTIONS", 1000)
	v.SetDefault("WS_MAX_SUBSCRIPTIONS", 10)
	v.SetDefault("WS_CONNECTION_TIMEOUT_MS", 300000)
	v.SetDefault("WS_HEARTBEAT_MS", 30000)
	v.SetDefault("WS_SEND_QUEUE_SIZE", 64)

	v.SetDefault("HEALTH_INTERVAL_MS", 30000)
	v.SetDefault("HEALTH_TIMEOUT_MS", 5000)
	v.SetDefault("CIRCUIT_BREAKER_FAILURE_THRESHOLD", 3)
	v.SetDefault("CIRCUIT_BREAKER_COOLDOWN_MS", 30000)
	v.SetDefault("CIRCUIT_BREAKER_HALF_OPEN_RETRIES", 3)

	return &Config{
		DataDir:    v.GetString("DATA_DIR"),
		ListenAddr: v.GetString("LISTEN_ADDR"),
		LogLevel:   v.GetString("LOG_LEVEL"),
		LogJSON:    v.GetBool("LOG_JSON"),
		DevMode:    v.GetBool("DEV_MODE"),
		AuthSecret: v.GetString("AUTH_SECRET"),

		SandboxAPIURL: v.GetString("SANDBOX_API_URL"),
		SandboxAPIKey: v.GetString("SANDBOX_API_KEY"),

		Orchestrator: OrchestratorConfig{
			MaxConcurrentPerUser: v.GetInt("MAX_CONCURRENT_PER_USER"),
			SandboxMaxAge:        millis(v, "SANDBOX_MAX_AGE"),
			SandboxMaxIdle:       millis(v, "SANDBOX_MAX_IDLE"),
			DeployTimeout:        millis(v, "DEPLOY_TIMEOUT_MS"),
			MaxRetries:           v.GetInt("DEPLOY_MAX_RETRIES"),
			CleanupInterval:      millis(v, "CLEANUP_INTERVAL_MS"),
		},
		Autoscaler: AutoscalerConfig{
			Tick: millis(v, "AUTOSCALE_TICK_MS"),
		},
		Optimizer: OptimizerConfig{
			SampleInterval: millis(v, "USAGE_SAMPLE_INTERVAL_MS"),
		},
		LogHub: LogHubConfig{
			BufferSize:    v.GetInt("LOG_BUFFER_SIZE"),
			Retention:     millis(v, "LOG_RETENTION_MS"),
			SweepInterval: millis(v, "LOG_SWEEP_INTERVAL_MS"),
		},
		Gateway: GatewayConfig{
			MaxConnections:    v.GetInt("WS_MAX_CONNECTIONS"),
			MaxSubscriptions:  v.GetInt("WS_MAX_SUBSCRIPTIONS"),
			ConnectionTimeout: millis(v, "WS_CONNECTION_TIMEOUT_MS"),
			Heartbeat:         millis(v, "WS_HEARTBEAT_MS"),
			SendQueueSize:     v.GetInt("WS_SEND_QUEUE_SIZE"),
		},
		Health: HealthConfig{
			Interval:         millis(v, "HEALTH_INTERVAL_MS"),
			ProbeTimeout:     millis(v, "HEALTH_TIMEOUT_MS"),
			FailureThreshold: v.GetInt("CIRCUIT_BREAKER_FAILURE_THRESHOLD"),
			BreakerCooldown:  millis(v, "CIRCUIT_BREAKER_COOLDOWN_MS"),
			HalfOpenRetries:  v.GetInt("CIRCUIT_BREAKER_HALF_OPEN_RETRIES"),
		},
	}
}

func millis(v *viper.Viper, key string) time.Duration {
	return time.Duration(v.GetInt64(key)) * time.Millisecond
}
