package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("BROKER_MODE", "")
	t.Setenv("BROKER_CONNECT_ATTEMPTS", "")
	t.Setenv("BROKER_RETRY_DELAY", "")

	cfg := Load()
	assert.Equal(t, ModePaper, cfg.BrokerMode)
	assert.Equal(t, 60, cfg.ConnectAttempts)
	assert.Equal(t, 60*time.Second, cfg.RetryDelay)
	require.NoError(t, cfg.Validate())
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("BROKER_MODE", "Gateway")
	t.Setenv("BROKER_ENDPOINT", "ws://gw:9000/ws")
	t.Setenv("BROKER_CONNECT_ATTEMPTS", "5")
	t.Setenv("BROKER_RETRY_DELAY", "2s")
	t.Setenv("ORDER_ID_BASE", "5000000000")
	t.Setenv("BROKER_PACING_RATE", "20")
	t.Setenv("MSG_BUS_CAPACITY", "256")

	cfg := Load()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, ModeGateway, cfg.BrokerMode)
	assert.Equal(t, 256, cfg.MsgBusCapacity)

	bc := cfg.BrokerConfig()
	assert.Equal(t, "ws://gw:9000/ws", bc.Endpoint)
	assert.Equal(t, 5, bc.MaxAttempts)
	assert.Equal(t, 2*time.Second, bc.RetryDelay)
	assert.Equal(t, int64(5000000000), bc.OrderIDBase)
	assert.Equal(t, 20, bc.Pacing.RequestsPerSecond)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		errMsg string
	}{
		{"bad mode", func(c *Config) { c.BrokerMode = "live" }, "BROKER_MODE"},
		{"no attempts", func(c *Config) { c.ConnectAttempts = 0 }, "BROKER_CONNECT_ATTEMPTS"},
		{"empty bus", func(c *Config) { c.DataBusCapacity = 0 }, "bus capacities"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &Config{BrokerMode: ModePaper, ConnectAttempts: 1, MsgBusCapacity: 1, DataBusCapacity: 1}
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errMsg)
		})
	}
}
