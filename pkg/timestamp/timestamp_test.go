package timestamp

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestFromUnixSeconds(t *testing.T) {
	got := FromUnixSeconds(1624900703.949579)
	assert.Equal(t, int64(1624900703), got.Unix())
	assert.InDelta(t, 949579000, got.Nanosecond(), 1000)

	assert.True(t, FromUnixSeconds(0).IsZero())
	assert.True(t, FromUnixSeconds(math.NaN()).IsZero())
	assert.True(t, FromUnixSeconds(math.Inf(1)).IsZero())
}

func TestRoundTrip(t *testing.T) {
	now := time.Now()
	back := FromUnixSeconds(ToUnixSeconds(now))
	assert.WithinDuration(t, now, back, time.Microsecond)

	assert.Equal(t, 0.0, ToUnixSeconds(time.Time{}))
}

func TestSkew(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)

	assert.Equal(t, -10*time.Second, Skew(1_699_999_990, now))
	assert.Equal(t, 5*time.Second, Skew(1_700_000_005, now))
	assert.Equal(t, time.Duration(0), Skew(0, now))
}
