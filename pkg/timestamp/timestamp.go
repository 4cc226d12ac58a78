// Package timestamp converts between the sensor wire clock and Go time.
//
// Sensor servers report sample times as float64 UNIX seconds with
// sub-millisecond fractions, while command ids use UNIX milliseconds.
// Zero means "not set" in both representations.
package timestamp

import (
	"math"
	"time"
)

// FromUnixSeconds converts a wire timestamp to time.Time. Zero, NaN and
// infinities map to the zero time.
func FromUnixSeconds(sec float64) time.Time {
	if sec == 0 || math.IsNaN(sec) || math.IsInf(sec, 0) {
		return time.Time{}
	}
	whole, frac := math.Modf(sec)
	return time.Unix(int64(whole), int64(frac*float64(time.Second)))
}

// ToUnixSeconds converts a time.Time to the wire representation.
func ToUnixSeconds(t time.Time) float64 {
	if t.IsZero() {
		return 0
	}
	return float64(t.UnixNano()) / float64(time.Second)
}

// Skew returns how far a reported sample time lies from the local
// clock. Positive means the sample claims to be from the future.
func Skew(sec float64, now time.Time) time.Duration {
	reported := FromUnixSeconds(sec)
	if reported.IsZero() {
		return 0
	}
	return reported.Sub(now)
}
