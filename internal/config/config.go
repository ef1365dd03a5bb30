package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Store        StoreConfig        `yaml:"store" mapstructure:"store"`
	Anthropic    AnthropicConfig    `yaml:"anthropic" mapstructure:"anthropic"`
	Agent        AgentConfig        `yaml:"agent" mapstructure:"agent"`
	Tools        ToolsConfig        `yaml:"tools" mapstructure:"tools"`
	Orchestrator OrchestratorConfig `yaml:"orchestrator" mapstructure:"orchestrator"`
	Circuit      CircuitConfig      `yaml:"circuit" mapstructure:"circuit"`
	Notify       NotifyConfig       `yaml:"notify" mapstructure:"notify"`
	Report       ReportConfig       `yaml:"report" mapstructure:"report"`
	Metrics      MetricsConfig      `yaml:"metrics" mapstructure:"metrics"`
	Ops          OpsConfig          `yaml:"ops" mapstructure:"ops"`
	Secrets      SecretsConfig      `yaml:"secrets" mapstructure:"secrets"`
	Server       ServerConfig       `yaml:"server" mapstructure:"server"`
	Pricing      PricingConfig      `yaml:"pricing" mapstructure:"pricing"`
	Log          LogConfig          `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	SQLitePath  string `yaml:"sqlite_path" mapstructure:"sqlite_path"`
}

// AnthropicConfig holds Claude API settings.
type AnthropicConfig struct {
	Key       string `yaml:"key" mapstructure:"key"`
	Model     string `yaml:"model" mapstructure:"model"`
	MaxTokens int    `yaml:"max_tokens" mapstructure:"max_tokens"`
	BaseURL   string `yaml:"base_url" mapstructure:"base_url"`
}

// AgentConfig configures the farm evaluation agent.
type AgentConfig struct {
	// Provider is "anthropic" (in-process tool loop) or "http" (remote agent endpoint).
	Provider        string  `yaml:"provider" mapstructure:"provider"`
	Endpoint        string  `yaml:"endpoint" mapstructure:"endpoint"`
	CallTimeoutSecs int     `yaml:"call_timeout_secs" mapstructure:"call_timeout_secs"`
	MaxTurns        int     `yaml:"max_turns" mapstructure:"max_turns"`
	RatePerSec      float64 `yaml:"rate_per_sec" mapstructure:"rate_per_sec"`
}

// CallTimeout returns the bounded per-call agent timeout.
func (c AgentConfig) CallTimeout() time.Duration {
	return time.Duration(c.CallTimeoutSecs) * time.Second
}

// ToolsConfig points the agent's data tools at their services.
type ToolsConfig struct {
	WeatherURL   string  `yaml:"weather_url" mapstructure:"weather_url"`
	SatelliteURL string  `yaml:"satellite_url" mapstructure:"satellite_url"`
	PestURL      string  `yaml:"pest_url" mapstructure:"pest_url"`
	APIKey       string  `yaml:"api_key" mapstructure:"api_key"`
	TimeoutSecs  int     `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	RatePerSec   float64 `yaml:"rate_per_sec" mapstructure:"rate_per_sec"`
	AOIRadiusKm  float64 `yaml:"aoi_radius_km" mapstructure:"aoi_radius_km"`
}

// Timeout returns the per-request tool timeout.
func (c ToolsConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSecs) * time.Second
}

// OrchestratorConfig tunes the daily run.
type OrchestratorConfig struct {
	Concurrency      int     `yaml:"concurrency" mapstructure:"concurrency"`
	BatchSize        int     `yaml:"batch_size" mapstructure:"batch_size"`
	MaxAttempts      int     `yaml:"max_attempts" mapstructure:"max_attempts"`
	InitialBackoffMs int     `yaml:"initial_backoff_ms" mapstructure:"initial_backoff_ms"`
	MaxBackoffMs     int     `yaml:"max_backoff_ms" mapstructure:"max_backoff_ms"`
	BackoffMul       float64 `yaml:"backoff_multiplier" mapstructure:"backoff_multiplier"`
	JitterFraction   float64 `yaml:"jitter_fraction" mapstructure:"jitter_fraction"`
	FarmTimeoutSecs  int     `yaml:"farm_timeout_secs" mapstructure:"farm_timeout_secs"`
	CommitTimeoutSec int     `yaml:"commit_timeout_secs" mapstructure:"commit_timeout_secs"`
	RunDeadlineMins  int     `yaml:"run_deadline_mins" mapstructure:"run_deadline_mins"`
	DedupWindowHours int     `yaml:"dedup_window_hours" mapstructure:"dedup_window_hours"`
	MaxRunCostUSD    float64 `yaml:"max_run_cost_usd" mapstructure:"max_run_cost_usd"`
	CarryOver        bool    `yaml:"carry_over" mapstructure:"carry_over"`
}

// DedupWindow is how long an alert for the same condition is suppressed.
func (c OrchestratorConfig) DedupWindow() time.Duration {
	return time.Duration(c.DedupWindowHours) * time.Hour
}

// CircuitConfig tunes the per-dependency circuit breakers.
type CircuitConfig struct {
	FailureThreshold int `yaml:"failure_threshold" mapstructure:"failure_threshold"`
	ResetTimeoutSecs int `yaml:"reset_timeout_secs" mapstructure:"reset_timeout_secs"`
}

// NotifyConfig selects and configures the alert transport.
type NotifyConfig struct {
	Driver     string      `yaml:"driver" mapstructure:"driver"`
	Sender     string      `yaml:"sender" mapstructure:"sender"`
	WebhookURL string      `yaml:"webhook_url" mapstructure:"webhook_url"`
	AWSRegion  string      `yaml:"aws_region" mapstructure:"aws_region"`
	MQTT       MQTTConfig  `yaml:"mqtt" mapstructure:"mqtt"`
	Kafka      KafkaConfig `yaml:"kafka" mapstructure:"kafka"`
}

// MQTTConfig configures the MQTT alert publisher.
type MQTTConfig struct {
	Broker      string `yaml:"broker" mapstructure:"broker"`
	ClientID    string `yaml:"client_id" mapstructure:"client_id"`
	Username    string `yaml:"username" mapstructure:"username"`
	Password    string `yaml:"password" mapstructure:"password"`
	TopicPrefix string `yaml:"topic_prefix" mapstructure:"topic_prefix"`
	QoS         int    `yaml:"qos" mapstructure:"qos"`
}

// KafkaConfig configures the Kafka alert producer.
type KafkaConfig struct {
	Brokers []string `yaml:"brokers" mapstructure:"brokers"`
	Topic   string   `yaml:"topic" mapstructure:"topic"`
}

// ReportConfig configures where run reports are archived.
type ReportConfig struct {
	S3Bucket string `yaml:"s3_bucket" mapstructure:"s3_bucket"`
	S3Prefix string `yaml:"s3_prefix" mapstructure:"s3_prefix"`
}

// MetricsConfig configures run metric sinks.
type MetricsConfig struct {
	PushgatewayURL string       `yaml:"pushgateway_url" mapstructure:"pushgateway_url"`
	Influx         InfluxConfig `yaml:"influx" mapstructure:"influx"`
}

// InfluxConfig configures the InfluxDB run metrics writer.
type InfluxConfig struct {
	URL    string `yaml:"url" mapstructure:"url"`
	Token  string `yaml:"token" mapstructure:"token"`
	Org    string `yaml:"org" mapstructure:"org"`
	Bucket string `yaml:"bucket" mapstructure:"bucket"`
}

// OpsConfig configures operator alerting on unhealthy runs.
type OpsConfig struct {
	WebhookURL           string  `yaml:"webhook_url" mapstructure:"webhook_url"`
	FailureRateThreshold float64 `yaml:"failure_rate_threshold" mapstructure:"failure_rate_threshold"`
	CostThresholdUSD     float64 `yaml:"cost_threshold_usd" mapstructure:"cost_threshold_usd"`
	CheckIntervalSecs    int     `yaml:"check_interval_secs" mapstructure:"check_interval_secs"`
	LookbackWindowHours  int     `yaml:"lookback_window_hours" mapstructure:"lookback_window_hours"`
}

// SecretsConfig selects where credentials come from.
type SecretsConfig struct {
	Provider string `yaml:"provider" mapstructure:"provider"`
	SecretID string `yaml:"secret_id" mapstructure:"secret_id"`
	Region   string `yaml:"region" mapstructure:"region"`
}

// ServerConfig configures the HTTP trigger.
type ServerConfig struct {
	Port        int      `yaml:"port" mapstructure:"port"`
	JWTSecret   string   `yaml:"jwt_secret" mapstructure:"jwt_secret"`
	CORSOrigins []string `yaml:"cors_origins" mapstructure:"cors_origins"`
}

// PricingConfig holds token prices used for the run cost budget.
type PricingConfig struct {
	Anthropic map[string]ModelPrice `yaml:"anthropic" mapstructure:"anthropic"`
}

// ModelPrice is USD per million tokens.
type ModelPrice struct {
	Input  float64 `yaml:"input" mapstructure:"input"`
	Output float64 `yaml:"output" mapstructure:"output"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	v.SetEnvPrefix("FARMMON")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("store.driver", "postgres")
	v.SetDefault("store.sqlite_path", "farm-monitor.db")
	v.SetDefault("anthropic.model", "claude-sonnet-4-5-20250929")
	v.SetDefault("anthropic.max_tokens", 4096)
	v.SetDefault("agent.provider", "anthropic")
	v.SetDefault("agent.call_timeout_secs", 90)
	v.SetDefault("agent.max_turns", 8)
	v.SetDefault("agent.rate_per_sec", 2.0)
	v.SetDefault("tools.timeout_secs", 20)
	v.SetDefault("tools.rate_per_sec", 5.0)
	v.SetDefault("tools.aoi_radius_km", 1.0)
	v.SetDefault("orchestrator.concurrency", 5)
	v.SetDefault("orchestrator.batch_size", 25)
	v.SetDefault("orchestrator.max_attempts", 3)
	v.SetDefault("orchestrator.initial_backoff_ms", 2000)
	v.SetDefault("orchestrator.max_backoff_ms", 30000)
	v.SetDefault("orchestrator.backoff_multiplier", 2.0)
	v.SetDefault("orchestrator.jitter_fraction", 0.25)
	v.SetDefault("orchestrator.farm_timeout_secs", 300)
	v.SetDefault("orchestrator.commit_timeout_secs", 10)
	v.SetDefault("orchestrator.run_deadline_mins", 50)
	v.SetDefault("orchestrator.dedup_window_hours", 24)
	v.SetDefault("orchestrator.max_run_cost_usd", 0.0)
	v.SetDefault("orchestrator.carry_over", true)
	v.SetDefault("circuit.failure_threshold", 5)
	v.SetDefault("circuit.reset_timeout_secs", 60)
	v.SetDefault("notify.driver", "ses")
	v.SetDefault("notify.sender", "alerts@agri-ai.com")
	v.SetDefault("notify.mqtt.client_id", "farm-monitor")
	v.SetDefault("notify.mqtt.topic_prefix", "farms/alerts")
	v.SetDefault("notify.mqtt.qos", 1)
	v.SetDefault("notify.kafka.topic", "farm-alerts")
	v.SetDefault("report.s3_prefix", "run-reports")
	v.SetDefault("ops.failure_rate_threshold", 0.5)
	v.SetDefault("ops.check_interval_secs", 900)
	v.SetDefault("ops.lookback_window_hours", 26)
	v.SetDefault("secrets.provider", "env")
	v.SetDefault("server.port", 8080)
	v.SetDefault("pricing.anthropic", map[string]any{
		"claude-sonnet-4-5-20250929": map[string]any{"input": 3.0, "output": 15.0},
		"claude-haiku-4-5-20251001":  map[string]any{"input": 1.0, "output": 5.0},
	})
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// Validate checks the settings a command needs. mode is one of "daily",
// "serve", "farms", "runs" or "history".
func (c *Config) Validate(mode string) error {
	var errs []string

	switch c.Store.Driver {
	case "postgres":
		if c.Store.DatabaseURL == "" {
			errs = append(errs, "store.database_url is required for the postgres driver")
		}
	case "sqlite":
		if c.Store.SQLitePath == "" {
			errs = append(errs, "store.sqlite_path is required for the sqlite driver")
		}
	default:
		errs = append(errs, fmt.Sprintf("store.driver %q is not supported", c.Store.Driver))
	}

	switch mode {
	case "daily":
		errs = append(errs, c.validateRun()...)
	case "serve":
		errs = append(errs, c.validateRun()...)
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, "server.port must be > 0 and <= 65535")
		}
		if c.Server.JWTSecret == "" {
			errs = append(errs, "server.jwt_secret is required")
		}
	case "farms", "runs", "history":
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	if len(errs) > 0 {
		return eris.Errorf("config: %s", strings.Join(errs, "; "))
	}
	return nil
}

func (c *Config) validateRun() []string {
	var errs []string
	o := c.Orchestrator

	if o.Concurrency < 1 || o.Concurrency > 100 {
		errs = append(errs, "orchestrator.concurrency must be between 1 and 100")
	}
	if o.BatchSize < 1 {
		errs = append(errs, "orchestrator.batch_size must be >= 1")
	}
	if o.MaxAttempts < 1 {
		errs = append(errs, "orchestrator.max_attempts must be >= 1")
	}
	if o.FarmTimeoutSecs <= 0 {
		errs = append(errs, "orchestrator.farm_timeout_secs must be > 0")
	}
	if o.RunDeadlineMins <= 0 {
		errs = append(errs, "orchestrator.run_deadline_mins must be > 0")
	}
	if o.DedupWindowHours <= 0 {
		errs = append(errs, "orchestrator.dedup_window_hours must be > 0")
	}
	if o.MaxRunCostUSD < 0 {
		errs = append(errs, "orchestrator.max_run_cost_usd must be >= 0")
	}

	switch c.Agent.Provider {
	case "anthropic":
		if c.Anthropic.Key == "" {
			errs = append(errs, "anthropic.key is required")
		}
	case "http":
		if c.Agent.Endpoint == "" {
			errs = append(errs, "agent.endpoint is required for the http provider")
		}
	default:
		errs = append(errs, fmt.Sprintf("agent.provider %q is not supported", c.Agent.Provider))
	}
	if c.Agent.CallTimeoutSecs <= 0 {
		errs = append(errs, "agent.call_timeout_secs must be > 0")
	}

	switch c.Notify.Driver {
	case "ses":
		if c.Notify.Sender == "" {
			errs = append(errs, "notify.sender is required for the ses driver")
		}
	case "webhook":
		if c.Notify.WebhookURL == "" {
			errs = append(errs, "notify.webhook_url is required for the webhook driver")
		}
	case "mqtt":
		if c.Notify.MQTT.Broker == "" {
			errs = append(errs, "notify.mqtt.broker is required for the mqtt driver")
		}
	case "kafka":
		if len(c.Notify.Kafka.Brokers) == 0 || c.Notify.Kafka.Topic == "" {
			errs = append(errs, "notify.kafka.brokers and notify.kafka.topic are required for the kafka driver")
		}
	default:
		errs = append(errs, fmt.Sprintf("notify.driver %q is not supported", c.Notify.Driver))
	}

	return errs
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
