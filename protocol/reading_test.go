package protocol

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseTelemetry(t *testing.T) {
	reading, err := ParseTelemetry("['Test01', 1624900703.949579, 0, 24.0131, 18.5856, 19.5273, 21.4308]")
	require.NoError(t, err)

	assert.Equal(t, "Test01", reading.SensorName)
	assert.InDelta(t, 1624900703.949579, reading.Timestamp, 1e-9)
	assert.Equal(t, 0, reading.Status)
	assert.True(t, reading.OK())
	assert.Equal(t, []float64{24.0131, 18.5856, 19.5273, 21.4308}, reading.Values)
}

func TestParseTelemetry_SensorError(t *testing.T) {
	reading, err := ParseTelemetry("['Anemo02', 1624900704.5, 2, 3.5]")
	require.NoError(t, err)

	assert.Equal(t, 2, reading.Status)
	assert.False(t, reading.OK())
	assert.Equal(t, []float64{3.5}, reading.Values)
}

func TestParseTelemetry_DoubleQuotedName(t *testing.T) {
	reading, err := ParseTelemetry(`["Test01", 1.5, 0, 2.0]`)
	require.NoError(t, err)
	assert.Equal(t, "Test01", reading.SensorName)
}

func TestParseTelemetry_Malformed(t *testing.T) {
	tests := []struct {
		name    string
		payload string
	}{
		{"no brackets", "'Test01', 1.0, 0, 2.0"},
		{"too few fields", "['Test01', 1.0, 0]"},
		{"empty name", "['', 1.0, 0, 2.0]"},
		{"bad timestamp", "['Test01', soon, 0, 2.0]"},
		{"bad status", "['Test01', 1.0, ok, 2.0]"},
		{"bad value", "['Test01', 1.0, 0, warm]"},
		{"empty", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseTelemetry(tt.payload)
			assert.Error(t, err)
		})
	}
}

func TestFormatTelemetry_RoundTrip(t *testing.T) {
	original := Reading{
		SensorName: "Test01",
		Timestamp:  1624900703.949579,
		Status:     0,
		Values:     []float64{24.0131, 18.5856},
	}

	parsed, err := ParseTelemetry(FormatTelemetry(original))
	require.NoError(t, err)
	assert.Equal(t, original, parsed)
}
