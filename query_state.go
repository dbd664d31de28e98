package trino

import (
	"fmt"

	"github.com/ethanyzhang/trino-go/utils"
)

// QueryState is the coordinator-side lifecycle state reported in the
// stats of every response.
type QueryState int8

const (
	// StateQueued means the query is waiting for coordinator resources.
	StateQueued QueryState = iota
	// StateWaitingForResources means cluster resources are being reserved.
	StateWaitingForResources
	// StateDispatching means the query is being sent to a coordinator.
	StateDispatching
	// StatePlanning means the coordinator is planning the query.
	StatePlanning
	// StateStarting means execution is being scheduled on workers.
	StateStarting
	// StateRunning means the query is actively executing.
	StateRunning
	// StateFinishing means execution completed and results are draining.
	StateFinishing
	// StateFinished means the query completed successfully.
	StateFinished
	// StateCanceled means execution was terminated by the user.
	StateCanceled
	// StateFailed means an execution or planning error occurred.
	StateFailed
)

var queryStateNames = utils.NewBiMap(map[QueryState]string{
	StateQueued:              "QUEUED",
	StateWaitingForResources: "WAITING_FOR_RESOURCES",
	StateDispatching:         "DISPATCHING",
	StatePlanning:            "PLANNING",
	StateStarting:            "STARTING",
	StateRunning:             "RUNNING",
	StateFinishing:           "FINISHING",
	StateFinished:            "FINISHED",
	StateCanceled:            "CANCELED",
	StateFailed:              "FAILED",
})

// String returns the wire name of the state.
func (s QueryState) String() string {
	if name, ok := queryStateNames.Lookup(s); ok {
		return name
	}
	return fmt.Sprintf("QueryState(%d)", int8(s))
}

// Terminal reports whether the state ends the query lifecycle.
func (s QueryState) Terminal() bool {
	switch s {
	case StateFinished, StateCanceled, StateFailed:
		return true
	}
	return false
}

// ParseQueryState parses a wire state name.
func ParseQueryState(name string) (QueryState, error) {
	if s, ok := queryStateNames.RLookup(name); ok {
		return s, nil
	}
	return StateQueued, fmt.Errorf("trino: unknown query state %q", name)
}
