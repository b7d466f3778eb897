package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLoadDefaults(t *testing.T) {
	cfg := Load()

	assert.Equal(t, 5, cfg.Orchestrator.MaxConcurrentPerUser)
	assert.Equal(t, 300*time.Second, cfg.Orchestrator.DeployTimeout)
	assert.Equal(t, 30*time.Second, cfg.Autoscaler.Tick)
	assert.Equal(t, 1000, cfg.LogHub.BufferSize)
	assert.Equal(t, time.Hour, cfg.LogHub.Retention)
	assert.Equal(t, 1000, cfg.Gateway.MaxConnections)
	assert.Equal(t, 10, cfg.Gateway.MaxSubscriptions)
	assert.Equal(t, 5*time.Minute, cfg.Gateway.ConnectionTimeout)
	assert.Equal(t, 30*time.Second, cfg.Health.Interval)
	assert.Equal(t, 5*time.Second, cfg.Health.ProbeTimeout)
	assert.Equal(t, 3, cfg.Health.FailureThreshold)
}

func TestLoadEnvOverride(t *testing.T) {
	t.Setenv("MAX_CONCURRENT_PER_USER", "2")
	t.Setenv("AUTOSCALE_TICK_MS", "5000")
	t.Setenv("WS_MAX_CONNECTIONS", "42")

	cfg := Load()

	assert.Equal(t, 2, cfg.Orchestrator.MaxConcurrentPerUser)
	assert.Equal(t, 5*time.Second, cfg.Autoscaler.Tick)
	assert.Equal(t, 42, cfg.Gateway.MaxConnections)
}
