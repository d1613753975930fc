package timeframe

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBucketDuration(t *testing.T) {
	tests := []struct {
		bucket Bucket
		want   time.Duration
	}{
		{BucketHalfHour, 30 * time.Minute},
		{BucketHour, time.Hour},
		{BucketHours2, 2 * time.Hour},
		{BucketHours3, 3 * time.Hour},
		{BucketHours6, 6 * time.Hour},
		{BucketHalfDay, 12 * time.Hour},
		{BucketDay, 24 * time.Hour},
		{Bucket("fortnight"), time.Hour},
	}

	for _, tt := range tests {
		t.Run(string(tt.bucket), func(t *testing.T) {
			assert.Equal(t, tt.want, tt.bucket.Duration())
		})
	}
}

func TestParseBucket(t *testing.T) {
	assert.Equal(t, BucketHalfDay, ParseBucket("half_day"))
	assert.Equal(t, DefaultBucket, ParseBucket(""))
	assert.Equal(t, DefaultBucket, ParseBucket("weekly"))
}

func TestParseTimeframe(t *testing.T) {
	tf, err := ParseTimeframe("7d")
	require.NoError(t, err)
	assert.Equal(t, TimeframeWeek, tf)
	assert.Equal(t, 7*24*time.Hour, tf.Duration())

	_, err = ParseTimeframe("45m")
	assert.Error(t, err)
}

func TestTimeframesOrdering(t *testing.T) {
	frames := Timeframes()
	require.Len(t, frames, 7)
	for i := 1; i < len(frames); i++ {
		assert.Less(t, frames[i-1].Duration(), frames[i].Duration())
	}
}

func TestBucketLabel(t *testing.T) {
	assert.Equal(t, "30 minutes", BucketHalfHour.Label())
	assert.Equal(t, "24 hours", BucketDay.Label())
	// Unknown buckets describe the fallback window.
	assert.Equal(t, "1 hour", Bucket("fortnight").Label())
}

func TestTimeframeName(t *testing.T) {
	assert.Equal(t, "1 hour", TimeframeHour.Name())
	assert.Equal(t, "30 days", TimeframeMonth.Name())
}
