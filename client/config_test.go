package client

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/envlink/accumulator"
)

func validConfig() Config {
	return Config{
		Host:                "sensor01.example.org",
		Port:                15000,
		ConnectTimeout:      Duration(5 * time.Second),
		ReadTimeout:         Duration(10 * time.Second),
		SoftThreshold:       2,
		HardThreshold:       5,
		SafeInterval:        Duration(3 * time.Second),
		AccumulatorInterval: Duration(time.Minute),
		AccumulatorKind:     accumulator.KindMeanStd,
		ReconnectAttempts:   3,
	}
}

func TestConfigValidate(t *testing.T) {
	cfg := validConfig()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, "tcp", cfg.Transport)
	assert.Equal(t, Duration(DefaultCommandTimeout), cfg.CommandTimeout)
	assert.Equal(t, "sensor01.example.org:15000", cfg.Addr())
}

func TestConfigValidateFailures(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"missing host", func(c *Config) { c.Host = "" }},
		{"port out of range", func(c *Config) { c.Port = 70000 }},
		{"unknown transport", func(c *Config) { c.Transport = "carrier-pigeon" }},
		{"zero connect timeout", func(c *Config) { c.ConnectTimeout = 0 }},
		{"zero read timeout", func(c *Config) { c.ReadTimeout = 0 }},
		{"zero soft threshold", func(c *Config) { c.SoftThreshold = 0 }},
		{"soft not below hard", func(c *Config) { c.SoftThreshold = 5; c.HardThreshold = 5 }},
		{"zero safe interval", func(c *Config) { c.SafeInterval = 0 }},
		{"zero accumulator interval", func(c *Config) { c.AccumulatorInterval = 0 }},
		{"unknown accumulator kind", func(c *Config) { c.AccumulatorKind = "harmonic" }},
		{"bad device", func(c *Config) {
			c.Devices = []DeviceConfig{{Name: "Test01"}}
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

// A single reconnect cycle must fit strictly inside the escalation
// window, otherwise one slow cycle could trip the fault by itself.
func TestConfigValidateSafeIntervalBudget(t *testing.T) {
	cfg := validConfig()
	cfg.SafeInterval = cfg.ReadTimeout * Duration(cfg.HardThreshold)
	assert.Error(t, cfg.Validate())

	cfg = validConfig()
	// Three attempts at 20s each exceed the 50s window even though the
	// per-attempt interval alone fits.
	cfg.SafeInterval = Duration(20 * time.Second)
	assert.Error(t, cfg.Validate())
}

func TestDeviceConfigValidate(t *testing.T) {
	dev := DeviceConfig{
		Name:        "Test01",
		NumChannels: 4,
		DevType:     DevTypeFTDI,
		DevID:       "ABC",
		SensType:    "Temperature",
	}
	require.NoError(t, dev.Validate())

	bad := dev
	bad.DevType = "USB"
	assert.Error(t, bad.Validate())

	bad = dev
	bad.NumChannels = 0
	assert.Error(t, bad.Validate())
}

func TestDurationJSON(t *testing.T) {
	var d Duration

	require.NoError(t, json.Unmarshal([]byte(`"1m30s"`), &d))
	assert.Equal(t, 90*time.Second, d.Std())

	require.NoError(t, json.Unmarshal([]byte(`2.5`), &d))
	assert.Equal(t, 2500*time.Millisecond, d.Std())

	assert.Error(t, json.Unmarshal([]byte(`true`), &d))
	assert.Error(t, json.Unmarshal([]byte(`"soonish"`), &d))

	out, err := json.Marshal(Duration(5 * time.Second))
	require.NoError(t, err)
	assert.Equal(t, `"5s"`, string(out))
}

func TestConfigureParameters(t *testing.T) {
	cfg := validConfig()
	cfg.Devices = []DeviceConfig{{
		Name:        "Test01",
		NumChannels: 4,
		DevType:     DevTypeSerial,
		DevID:       "ABC",
		SensType:    "Temperature",
		BaudRate:    19200,
	}}

	params := cfg.ConfigureParameters()
	devices, ok := params["devices"].([]any)
	require.True(t, ok)
	require.Len(t, devices, 1)

	dev := devices[0].(map[string]any)
	assert.Equal(t, "Test01", dev["name"])
	assert.Equal(t, 19200, dev["baud_rate"])
	_, hasLocation := dev["location"]
	assert.False(t, hasLocation)
}
