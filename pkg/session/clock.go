package session

import "time"

// TestModeTime is the timestamp sent in every request when a Session runs in test mode.
var TestModeTime = time.Date(2010, time.January, 1, 0, 0, 0, 0, time.UTC)

// A Clock supplies oauth_timestamp values and decides when a live session token has expired.
type Clock interface {
	Now() time.Time
}

// SystemClock reads the system time.
type SystemClock struct{}

func (SystemClock) Now() time.Time {
	return time.Now()
}

// FixedClock always returns TestModeTime.
type FixedClock struct{}

func (FixedClock) Now() time.Time {
	return TestModeTime
}
