package pipeline

import (
	"fmt"

	"registry-harvester/internal/harvest/record"
)

// State is a step of a single pipeline run.
type State int

const (
	Idle State = iota
	Enumerating
	Enumerated
	EnumerationFailed
	Fetching
	RecordCollected
	RecordFailed
	Exporting
	Done
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Enumerating:
		return "enumerating"
	case Enumerated:
		return "enumerated"
	case EnumerationFailed:
		return "enumeration_failed"
	case Fetching:
		return "fetching"
	case RecordCollected:
		return "record_collected"
	case RecordFailed:
		return "record_failed"
	case Exporting:
		return "exporting"
	case Done:
		return "done"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Event is a state transition. Index, Total and Locator are only set for
// the per-record states, Err for the failure states.
type Event struct {
	State   State
	Index   int
	Total   int
	Locator record.Locator
	Err     error
}

func (e Event) String() string {
	switch e.State {
	case Fetching, RecordCollected, RecordFailed:
		return fmt.Sprintf("%s [%d/%d] %s", e.State, e.Index+1, e.Total, e.Locator)
	case Enumerated:
		return fmt.Sprintf("%s (%d locators)", e.State, e.Total)
	default:
		return e.State.String()
	}
}

// Observer receives every transition of a run, calls are never concurrent.
type Observer func(Event)
