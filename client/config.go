// Package client implements the sensor data client: a long-lived
// connection to one remote sensor server, a single-goroutine read loop
// that decodes the wire protocol and feeds per-channel accumulators, a
// command dispatcher with strict request/response correlation, and a
// graduated failure escalation policy that reconnects quietly until a
// hard threshold is crossed.
package client

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/c360/envlink/accumulator"
	"github.com/c360/envlink/errors"
	"github.com/c360/envlink/pkg/retry"
)

// Duration is a time.Duration that unmarshals from either a Go duration
// string ("5s", "1m30s") or a bare number of seconds.
type Duration time.Duration

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// MarshalJSON renders the duration as a string.
func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

// UnmarshalJSON accepts "5s" style strings or numeric seconds.
func (d *Duration) UnmarshalJSON(data []byte) error {
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	switch value := v.(type) {
	case string:
		parsed, err := time.ParseDuration(value)
		if err != nil {
			return fmt.Errorf("invalid duration %q: %w", value, err)
		}
		*d = Duration(parsed)
		return nil
	case float64:
		*d = Duration(time.Duration(value * float64(time.Second)))
		return nil
	default:
		return fmt.Errorf("duration must be a string or a number of seconds, got %T", v)
	}
}

// Device types understood by the sensor server.
const (
	DevTypeFTDI   = "FTDI"
	DevTypeSerial = "Serial"
)

// DeviceConfig describes one sensor device attached to the remote
// server. The field set mirrors the server's configure command schema.
type DeviceConfig struct {
	Name        string `json:"name"`
	NumChannels int    `json:"num_channels"`
	DevType     string `json:"dev_type"`
	DevID       string `json:"dev_id"`
	SensType    string `json:"sens_type"`
	BaudRate    int    `json:"baud_rate,omitempty"`
	Location    string `json:"location,omitempty"`
	NumSamples  int    `json:"num_samples,omitempty"`
}

// Validate checks the device description.
func (dc DeviceConfig) Validate() error {
	if dc.Name == "" {
		return fmt.Errorf("device name is required")
	}
	if dc.NumChannels <= 0 {
		return fmt.Errorf("device %s: num_channels must be positive", dc.Name)
	}
	switch dc.DevType {
	case DevTypeFTDI, DevTypeSerial:
	default:
		return fmt.Errorf("device %s: unknown dev_type %q", dc.Name, dc.DevType)
	}
	if dc.DevID == "" {
		return fmt.Errorf("device %s: dev_id is required", dc.Name)
	}
	if dc.SensType == "" {
		return fmt.Errorf("device %s: sens_type is required", dc.Name)
	}
	return nil
}

// asParameters renders the device as a configure-command parameter map.
func (dc DeviceConfig) asParameters() map[string]any {
	m := map[string]any{
		"name":         dc.Name,
		"num_channels": dc.NumChannels,
		"dev_type":     dc.DevType,
		"dev_id":       dc.DevID,
		"sens_type":    dc.SensType,
	}
	if dc.BaudRate != 0 {
		m["baud_rate"] = dc.BaudRate
	}
	if dc.Location != "" {
		m["location"] = dc.Location
	}
	if dc.NumSamples != 0 {
		m["num_samples"] = dc.NumSamples
	}
	return m
}

// Config holds one data client's settings.
type Config struct {
	// Endpoint.
	Host      string `json:"host"`
	Port      int    `json:"port"`
	Transport string `json:"transport,omitempty"` // "tcp" (default) or "ws"

	// Timeouts.
	ConnectTimeout Duration `json:"connect_timeout"`
	ReadTimeout    Duration `json:"read_timeout"`
	CommandTimeout Duration `json:"command_timeout,omitempty"`

	// Failure escalation.
	SoftThreshold     int      `json:"soft_threshold"`
	HardThreshold     int      `json:"hard_threshold"`
	SafeInterval      Duration `json:"safe_interval"`
	ReconnectAttempts int      `json:"reconnect_attempts,omitempty"`

	// Accumulation.
	AccumulatorInterval Duration         `json:"accumulator_interval"`
	AccumulatorKind     accumulator.Kind `json:"accumulator_kind"`

	// Devices sent in the configure command after each connect.
	Devices []DeviceConfig `json:"devices,omitempty"`
}

// Defaults applied by Validate for optional fields.
const (
	DefaultTransport         = "tcp"
	DefaultCommandTimeout    = 5 * time.Second
	DefaultReconnectAttempts = 3
)

// Validate checks the configuration and fills optional defaults in
// place. The critical cross-field rule: one full reconnect cycle, with
// every attempt bounded by safe_interval, must finish strictly inside
// the escalation window implied by the hard threshold. Otherwise a
// single slow reconnect could by itself walk the failure counter to the
// fault boundary.
func (c *Config) Validate() error {
	fail := func(format string, args ...any) error {
		return errors.WrapInvalid(
			fmt.Errorf(format, args...), "client", "Config.Validate", "configuration check")
	}

	if c.Host == "" {
		return fail("host is required")
	}
	if c.Port < 1 || c.Port > 65535 {
		return fail("port %d out of range", c.Port)
	}
	if c.Transport == "" {
		c.Transport = DefaultTransport
	}
	if _, err := dialerFor(c.Transport); err != nil {
		return fail("unsupported transport %q", c.Transport)
	}

	if c.ConnectTimeout <= 0 {
		return fail("connect_timeout must be positive")
	}
	if c.ReadTimeout <= 0 {
		return fail("read_timeout must be positive")
	}
	if c.CommandTimeout <= 0 {
		c.CommandTimeout = Duration(DefaultCommandTimeout)
	}

	if c.SoftThreshold < 1 {
		return fail("soft_threshold must be at least 1")
	}
	if c.SoftThreshold >= c.HardThreshold {
		return fail("soft_threshold %d must be below hard_threshold %d",
			c.SoftThreshold, c.HardThreshold)
	}
	if c.SafeInterval <= 0 {
		return fail("safe_interval must be positive")
	}
	if c.ReconnectAttempts <= 0 {
		c.ReconnectAttempts = DefaultReconnectAttempts
	}

	escalationWindow := time.Duration(c.HardThreshold) * c.ReadTimeout.Std()
	if c.SafeInterval.Std() >= escalationWindow {
		return fail("safe_interval %v must be strictly smaller than the hard-threshold window %v",
			c.SafeInterval.Std(), escalationWindow)
	}
	if budget := c.RetryConfig().Budget(); budget >= escalationWindow {
		return fail("reconnect budget %v (attempts with backoff) must fit inside the hard-threshold window %v; lower safe_interval or reconnect_attempts",
			budget, escalationWindow)
	}

	if c.AccumulatorInterval <= 0 {
		return fail("accumulator_interval must be positive")
	}
	if !c.AccumulatorKind.Valid() {
		return fail("unknown accumulator_kind %q", c.AccumulatorKind)
	}

	for _, dev := range c.Devices {
		if err := dev.Validate(); err != nil {
			return fail("%v", err)
		}
	}
	return nil
}

// Addr returns the host:port endpoint string.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// RetryConfig builds the backoff settings for one reconnect cycle.
// Every attempt is bounded by safe_interval.
func (c *Config) RetryConfig() retry.Config {
	return retry.Config{
		MaxAttempts:    c.ReconnectAttempts,
		InitialDelay:   100 * time.Millisecond,
		MaxDelay:       2 * time.Second,
		Multiplier:     2.0,
		AddJitter:      true,
		AttemptTimeout: c.SafeInterval.Std(),
	}
}

// ConfigureParameters renders the device list as the parameters map for
// the configure command.
func (c *Config) ConfigureParameters() map[string]any {
	devices := make([]any, 0, len(c.Devices))
	for _, dev := range c.Devices {
		devices = append(devices, dev.asParameters())
	}
	return map[string]any{"devices": devices}
}
