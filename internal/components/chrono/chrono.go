package chrono

import "time"

// API is the interface that anything depending on the system clock should use.
type API interface {
	// Now returns the current time in UTC.
	Now() time.Time
}

// StandardImpl is the standard implementation of API using the standard library.
type StandardImpl struct{}

func NewStandardImpl() StandardImpl {
	return StandardImpl{}
}

func (StandardImpl) Now() time.Time {
	return time.Now().UTC()
}

// FixedImpl always returns the same instant, optionally advancing by `Step`
// on every call. It is meant for tests.
type FixedImpl struct {
	current time.Time
	step    time.Duration
}

func NewFixedImpl(at time.Time, step time.Duration) *FixedImpl {
	return &FixedImpl{current: at.UTC(), step: step}
}

func (f *FixedImpl) Now() time.Time {
	now := f.current
	f.current = f.current.Add(f.step)
	return now
}

// ISO8601 is the layout used for capture timestamps.
const ISO8601 = "2006-01-02T15:04:05.000000Z"

// FormatUTC formats t as an ISO-8601 UTC timestamp.
func FormatUTC(t time.Time) string {
	return t.UTC().Format(ISO8601)
}
