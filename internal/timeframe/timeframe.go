// Package timeframe defines the discrete time windows used for rate
// limiting and usage reporting.
package timeframe

import (
	"fmt"
	"time"
)

// Bucket is a rate-limit window identifier.
type Bucket string

// Rate-limit window identifiers.
const (
	BucketHalfHour Bucket = "half_hour"
	BucketHour     Bucket = "hour"
	BucketHours2   Bucket = "hours_2"
	BucketHours3   Bucket = "hours_3"
	BucketHours6   Bucket = "hours_6"
	BucketHalfDay  Bucket = "half_day"
	BucketDay      Bucket = "day"
)

// DefaultBucket is used when a configured bucket name is not recognized.
const DefaultBucket = BucketHour

var bucketDurations = map[Bucket]time.Duration{
	BucketHalfHour: 30 * time.Minute,
	BucketHour:     time.Hour,
	BucketHours2:   2 * time.Hour,
	BucketHours3:   3 * time.Hour,
	BucketHours6:   6 * time.Hour,
	BucketHalfDay:  12 * time.Hour,
	BucketDay:      24 * time.Hour,
}

// Duration returns the window length for the bucket. Unrecognized
// buckets fall back to one hour.
func (b Bucket) Duration() time.Duration {
	if d, ok := bucketDurations[b]; ok {
		return d
	}
	return bucketDurations[DefaultBucket]
}

// Valid reports whether b is a known bucket identifier.
func (b Bucket) Valid() bool {
	_, ok := bucketDurations[b]
	return ok
}

// ParseBucket converts a configured bucket name into a Bucket,
// falling back to DefaultBucket for unknown names.
func ParseBucket(s string) Bucket {
	b := Bucket(s)
	if !b.Valid() {
		return DefaultBucket
	}
	return b
}

var bucketLabels = map[Bucket]string{
	BucketHalfHour: "30 minutes",
	BucketHour:     "1 hour",
	BucketHours2:   "2 hours",
	BucketHours3:   "3 hours",
	BucketHours6:   "6 hours",
	BucketHalfDay:  "12 hours",
	BucketDay:      "24 hours",
}

// Label returns a human-readable window description.
func (b Bucket) Label() string {
	if l, ok := bucketLabels[b]; ok {
		return l
	}
	return bucketLabels[DefaultBucket]
}

// Timeframe is a usage-reporting lookback window.
type Timeframe string

// Usage-reporting lookback windows.
const (
	TimeframeHour   Timeframe = "1h"
	Timeframe2Hours Timeframe = "2h"
	Timeframe3Hours Timeframe = "3h"
	Timeframe6Hours Timeframe = "6h"
	TimeframeDay    Timeframe = "1d"
	TimeframeWeek   Timeframe = "7d"
	TimeframeMonth  Timeframe = "30d"
)

var timeframeDurations = map[Timeframe]time.Duration{
	TimeframeHour:   time.Hour,
	Timeframe2Hours: 2 * time.Hour,
	Timeframe3Hours: 3 * time.Hour,
	Timeframe6Hours: 6 * time.Hour,
	TimeframeDay:    24 * time.Hour,
	TimeframeWeek:   7 * 24 * time.Hour,
	TimeframeMonth:  30 * 24 * time.Hour,
}

// ParseTimeframe converts a lookback window name into a Timeframe.
func ParseTimeframe(s string) (Timeframe, error) {
	tf := Timeframe(s)
	if _, ok := timeframeDurations[tf]; !ok {
		return "", fmt.Errorf("unknown timeframe %q", s)
	}
	return tf, nil
}

// Duration returns the lookback window length.
func (tf Timeframe) Duration() time.Duration {
	return timeframeDurations[tf]
}

var timeframeNames = map[Timeframe]string{
	TimeframeHour:   "1 hour",
	Timeframe2Hours: "2 hours",
	Timeframe3Hours: "3 hours",
	Timeframe6Hours: "6 hours",
	TimeframeDay:    "1 day",
	TimeframeWeek:   "7 days",
	TimeframeMonth:  "30 days",
}

// Name returns a human-readable lookback description.
func (tf Timeframe) Name() string {
	return timeframeNames[tf]
}

// Timeframes lists the supported lookback windows in ascending order.
func Timeframes() []Timeframe {
	return []Timeframe{
		TimeframeHour,
		Timeframe2Hours,
		Timeframe3Hours,
		Timeframe6Hours,
		TimeframeDay,
		TimeframeWeek,
		TimeframeMonth,
	}
}
