package adcsource

import "sync/atomic"

// State is the session lifecycle state of an AnySource (spec.md §4.2
// "State machine"): Uninitialized -> Configuring -> Running ->
// (Stopping -> Stopped) | Failed. Failed is terminal.
type State int32

const (
	StateUninitialized State = iota
	StateConfiguring
	StateRunning
	StateStopping
	StateStopped
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "Uninitialized"
	case StateConfiguring:
		return "Configuring"
	case StateRunning:
		return "Running"
	case StateStopping:
		return "Stopping"
	case StateStopped:
		return "Stopped"
	case StateFailed:
		return "Failed"
	default:
		return "Unknown"
	}
}

// stateBox is embedded by AnySource for atomic state transitions.
type stateBox struct {
	v atomic.Int32
}

func (b *stateBox) Load() State { return State(b.v.Load()) }
func (b *stateBox) Store(s State) { b.v.Store(int32(s)) }

// compareAndSwap transitions from "from" to "to", returning false if the
// current state was not "from" (e.g. a concurrent transition already
// moved it elsewhere).
func (b *stateBox) compareAndSwap(from, to State) bool {
	return b.v.CompareAndSwap(int32(from), int32(to))
}
