package protocol

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/c360/envlink/errors"
	"github.com/c360/envlink/pkg/timestamp"
)

// Reading is a parsed telemetry payload: one timestamped set of numeric
// channel values from a named sensor.
type Reading struct {
	SensorName string
	Timestamp  float64 // UNIX seconds on the sensor server clock
	Status     int     // 0 = OK, nonzero = sensor-reported error
	Values     []float64
}

// OK reports whether the sensor flagged the reading as valid.
func (r Reading) OK() bool {
	return r.Status == 0
}

// Time returns the sample timestamp as a time.Time.
func (r Reading) Time() time.Time {
	return timestamp.FromUnixSeconds(r.Timestamp)
}

// ParseTelemetry parses a sensor payload string of the form
//
//	['Test01', 1624900703.949579, 0, 24.0131, 18.5856, 19.5273, 21.4308]
//
// into sensor name, sample timestamp, status code and channel values.
// Payload parsing is sensor-specific and deliberately separate from the
// codec: a payload that fails here is a bad reading, not a protocol
// violation.
func ParseTelemetry(payload string) (Reading, error) {
	s := strings.TrimSpace(payload)
	if !strings.HasPrefix(s, "[") || !strings.HasSuffix(s, "]") {
		return Reading{}, errors.WrapInvalid(
			fmt.Errorf("payload is not a bracketed list: %q", payload),
			"reading", "ParseTelemetry", "framing check")
	}

	fields := strings.Split(s[1:len(s)-1], ",")
	if len(fields) < 4 {
		return Reading{}, errors.WrapInvalid(
			fmt.Errorf("payload has %d fields, need at least 4 (name, timestamp, status, value...)", len(fields)),
			"reading", "ParseTelemetry", "field count check")
	}

	name := strings.Trim(strings.TrimSpace(fields[0]), `'"`)
	if name == "" {
		return Reading{}, errors.WrapInvalid(
			fmt.Errorf("empty sensor name in payload %q", payload),
			"reading", "ParseTelemetry", "name check")
	}

	timestamp, err := strconv.ParseFloat(strings.TrimSpace(fields[1]), 64)
	if err != nil {
		return Reading{}, errors.WrapInvalid(
			fmt.Errorf("bad timestamp %q: %v", strings.TrimSpace(fields[1]), err),
			"reading", "ParseTelemetry", "timestamp parse")
	}

	status, err := strconv.Atoi(strings.TrimSpace(fields[2]))
	if err != nil {
		return Reading{}, errors.WrapInvalid(
			fmt.Errorf("bad status code %q: %v", strings.TrimSpace(fields[2]), err),
			"reading", "ParseTelemetry", "status parse")
	}

	values := make([]float64, 0, len(fields)-3)
	for _, field := range fields[3:] {
		v, err := strconv.ParseFloat(strings.TrimSpace(field), 64)
		if err != nil {
			return Reading{}, errors.WrapInvalid(
				fmt.Errorf("bad channel value %q: %v", strings.TrimSpace(field), err),
				"reading", "ParseTelemetry", "value parse")
		}
		values = append(values, v)
	}

	return Reading{
		SensorName: name,
		Timestamp:  timestamp,
		Status:     status,
		Values:     values,
	}, nil
}

// FormatTelemetry renders a reading back into the wire payload form.
// Used by the mock sensor server and round-trip tests.
func FormatTelemetry(r Reading) string {
	var b strings.Builder
	fmt.Fprintf(&b, "['%s', %s, %d", r.SensorName,
		strconv.FormatFloat(r.Timestamp, 'f', -1, 64), r.Status)
	for _, v := range r.Values {
		fmt.Fprintf(&b, ", %s", strconv.FormatFloat(v, 'f', -1, 64))
	}
	b.WriteString("]")
	return b.String()
}
