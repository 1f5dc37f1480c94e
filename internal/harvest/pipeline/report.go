package pipeline

import (
	"time"

	"registry-harvester/internal/harvest/record"
)

// Failure is a locator that could not be fetched.
type Failure struct {
	Locator record.Locator
	Err     error
}

// Report summarizes a run.
type Report struct {
	Located   int
	Collected int
	Failures  []Failure
	// DiscoveryFailed distinguishes a broken enumeration from one that
	// legitimately found nothing.
	DiscoveryFailed bool
	DiscoveryErr    error
	Destination     string
	Started         time.Time
	Finished        time.Time
}

func (r Report) Failed() int {
	return len(r.Failures)
}

func (r Report) Duration() time.Duration {
	return r.Finished.Sub(r.Started)
}
