package config

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfig_Validate_RejectsBadPort(t *testing.T) {
	cfg := &Config{
		Server:     ServerConfig{Host: "0.0.0.0", Port: 70000, ReadTimeout: 0, WriteTimeout: 0, MaxRequestSize: 1},
		Database:   DatabaseConfig{Driver: "sqlite", URL: ":memory:"},
		Redis:      RedisConfig{Host: "localhost", Port: 6379},
		Logging:    LoggingConfig{Level: "info", Format: "json", Output: "stdout"},
		PLC:        PLCConfig{DefaultByteOrder: "ABCD", ConnectTimeoutMs: 2000},
		Execution:  ExecutionConfig{ExecutionPoolSize: 1, ChannelCapacity: 1},
		Monitoring: MonitoringConfig{Enabled: false},
	}

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "server config")
}

func TestDatabaseConfig_Validate_SqliteRequiresURL(t *testing.T) {
	dc := &DatabaseConfig{Driver: "sqlite"}
	require.Error(t, dc.Validate())

	dc.URL = ":memory:"
	require.NoError(t, dc.Validate())
}

func TestDatabaseConfig_Validate_RejectsUnknownDriver(t *testing.T) {
	dc := &DatabaseConfig{Driver: "mysql", URL: "whatever"}
	require.Error(t, dc.Validate())
}

func TestPLCConfig_Validate_RejectsBadByteOrder(t *testing.T) {
	pc := &PLCConfig{DefaultByteOrder: "WXYZ", ConnectTimeoutMs: 1000}
	require.Error(t, pc.Validate())

	pc.DefaultByteOrder = "DCBA"
	require.NoError(t, pc.Validate())
}

func TestExecutionConfig_Validate_RejectsNonPositiveSizes(t *testing.T) {
	ec := &ExecutionConfig{ExecutionPoolSize: 0, ChannelCapacity: 10}
	require.Error(t, ec.Validate())

	ec.ExecutionPoolSize = 88
	ec.ChannelCapacity = 0
	require.Error(t, ec.Validate())

	ec.ChannelCapacity = 1000
	require.NoError(t, ec.Validate())
}

func TestLoggingConfig_Validate_RejectsUnknownLevel(t *testing.T) {
	lc := &LoggingConfig{Level: "trace", Format: "json", Output: "stdout"}
	require.Error(t, lc.Validate())
}

func TestMonitoringConfig_Validate_RequiresPortWhenEnabled(t *testing.T) {
	mc := &MonitoringConfig{Enabled: true, PrometheusPort: 0, MetricsPath: "/metrics"}
	require.Error(t, mc.Validate())

	mc.PrometheusPort = 9090
	require.NoError(t, mc.Validate())
}

func TestConfig_LoadDefaults(t *testing.T) {
	old := os.Getenv("DATABASE_URL")
	defer func() {
		if old != "" {
			os.Setenv("DATABASE_URL", old)
		} else {
			os.Unsetenv("DATABASE_URL")
		}
	}()
	os.Unsetenv("DATABASE_URL")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "0.0.0.0", cfg.Server.Host)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "postgres", cfg.Database.Driver)
	assert.Equal(t, 88, cfg.Execution.ExecutionPoolSize)
	assert.Equal(t, 1000, cfg.Execution.ChannelCapacity)
	assert.Equal(t, "ABCD", cfg.PLC.DefaultByteOrder)
	assert.Equal(t, 1000, cfg.Events.BufferSize)
}

func TestConfig_GetDatabaseURL_PrefersExplicitURL(t *testing.T) {
	cfg := &Config{Database: DatabaseConfig{Driver: "sqlite", URL: "file::memory:?cache=shared"}}
	assert.Equal(t, "file::memory:?cache=shared", cfg.GetDatabaseURL())
}

func TestConfig_GetRedisURL_BuildsFromFields(t *testing.T) {
	cfg := &Config{Redis: RedisConfig{Host: "localhost", Port: 6379, Database: 2}}
	assert.Equal(t, "redis://localhost:6379/2", cfg.GetRedisURL())
}

func TestConfig_IsDevelopmentAndProduction(t *testing.T) {
	cfg := &Config{Environment: "development"}
	assert.True(t, cfg.IsDevelopment())
	assert.False(t, cfg.IsProduction())

	cfg.Environment = "production"
	assert.False(t, cfg.IsDevelopment())
	assert.True(t, cfg.IsProduction())
}
