package orchestrator

import (
	"time"

	"github.com/agri-ai/farm-monitor/internal/config"
	"github.com/agri-ai/farm-monitor/internal/resilience"
)

// Config tunes a daily run.
type Config struct {
	Concurrency   int
	BatchSize     int
	Retry         resilience.RetryConfig
	Circuit       resilience.CircuitBreakerConfig
	FarmTimeout   time.Duration
	CommitTimeout time.Duration
	RunDeadline   time.Duration
	MaxRunCostUSD float64
	CarryOver     bool
	// Model prices agent token usage.
	Model string
}

// DefaultConfig mirrors the configuration defaults.
func DefaultConfig() Config {
	return Config{
		Concurrency:   5,
		BatchSize:     25,
		Retry:         resilience.DefaultRetryConfig(),
		Circuit:       resilience.DefaultCircuitBreakerConfig(),
		FarmTimeout:   300 * time.Second,
		CommitTimeout: 10 * time.Second,
		RunDeadline:   50 * time.Minute,
		CarryOver:     true,
	}
}

// ConfigFrom maps application config onto a run Config.
func ConfigFrom(c *config.Config) Config {
	o := c.Orchestrator
	return Config{
		Concurrency:   o.Concurrency,
		BatchSize:     o.BatchSize,
		Retry:         resilience.FromRetryConfig(o.MaxAttempts, o.InitialBackoffMs, o.MaxBackoffMs, o.BackoffMul, o.JitterFraction),
		Circuit:       resilience.FromCircuitConfig(c.Circuit.FailureThreshold, c.Circuit.ResetTimeoutSecs),
		FarmTimeout:   time.Duration(o.FarmTimeoutSecs) * time.Second,
		CommitTimeout: time.Duration(o.CommitTimeoutSec) * time.Second,
		RunDeadline:   time.Duration(o.RunDeadlineMins) * time.Minute,
		MaxRunCostUSD: o.MaxRunCostUSD,
		CarryOver:     o.CarryOver,
		Model:         c.Anthropic.Model,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.Concurrency < 1 {
		c.Concurrency = d.Concurrency
	}
	if c.BatchSize < 1 {
		c.BatchSize = d.BatchSize
	}
	if c.Circuit.FailureThreshold <= 0 {
		c.Circuit = d.Circuit
	}
	if c.FarmTimeout <= 0 {
		c.FarmTimeout = d.FarmTimeout
	}
	if c.CommitTimeout <= 0 {
		c.CommitTimeout = d.CommitTimeout
	}
	if c.RunDeadline <= 0 {
		c.RunDeadline = d.RunDeadline
	}
	return c
}
