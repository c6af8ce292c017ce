package engine

import "sync/atomic"

// LeafCondition is a concrete leaf whose evaluated boolean is set from
// outside the graph — by an EventSource callback, a poller, or a test.
// Evaluate reads only the cached flag, so it stays pure with respect to
// the condition model's contract no matter how often the engine calls it
// within a single propagation pass.
type LeafCondition struct {
	Base
	identifier string
	state      atomic.Bool
}

// NewLeaf creates a leaf condition with the given label, initially false.
func NewLeaf(identifier string) *LeafCondition {
	return &LeafCondition{identifier: identifier}
}

// Identifier returns the configured label.
func (l *LeafCondition) Identifier() string { return l.identifier }

// Evaluate returns the last value set via Set.
func (l *LeafCondition) Evaluate() bool { return l.state.Load() }

// Set updates the cached boolean. It does not itself notify the engine —
// callers (event sources, pollers) must follow with
// Engine.ReportConditionEvent([]Condition{leaf}) for the change to
// propagate.
func (l *LeafCondition) Set(v bool) { l.state.Store(v) }
