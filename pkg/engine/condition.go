// Package engine implements the condition-driven dependency graph: the
// Condition Model and Condition Engine described by the rules-engine
// specification. Conditions are boolean-valued nodes, leaf or composite,
// whose graph the Engine evaluates incrementally as leaf state changes.
package engine

import "time"

// Condition is the abstract unit of evaluation tracked by the Engine. A
// concrete condition implements Identifier and Evaluate; the remaining
// methods have zero-value defaults suitable for embedding via Base.
type Condition interface {
	// InstanceID is assigned by the Engine when the condition is added and
	// is stable for the condition's lifetime in the graph. Implementations
	// store whatever the engine assigns via SetInstanceID.
	InstanceID() int64
	SetInstanceID(id int64)

	// Identifier is a human-readable label, e.g. "(a and b)".
	Identifier() string

	// Timeout and Duration are optional; nil means "not set".
	Timeout() *time.Duration
	Duration() *time.Duration

	// Subconditions returns this condition's children, empty for leaves.
	Subconditions() []Condition

	// Initialize seeds a composite with its subconditions' current
	// ON-state booleans, ordered as Subconditions().
	Initialize(states []SubState)

	// OnSubconditionEvent is invoked each time a child is visited during
	// a propagation pass, whether or not the child's state changed. Must be
	// order-invariant across sibling calls.
	OnSubconditionEvent(child Condition, onState bool)

	// Evaluate returns the current boolean given the last-known states of
	// subconditions. Must be pure with respect to cached child state: it
	// may be invoked many times per external event and must not mutate
	// anything observable from outside the condition.
	Evaluate() bool

	// Removed is a lifecycle hook invoked once when the engine evicts the
	// condition from the graph.
	Removed()
}

// SubState pairs a subcondition with its externally observable ON-state
// (PENDING children are reported as false) at Initialize time.
type SubState struct {
	Condition Condition
	On        bool
}

// Base gives concrete conditions the default (no-op) implementations of
// every Condition method except Identifier and Evaluate, mirroring the
// abstract base in the condition model: a composite only overrides what it
// needs.
type Base struct {
	id       int64
	timeout  *time.Duration
	duration *time.Duration
}

// InstanceID returns the engine-assigned identifier, or 0 before the
// condition has been added.
func (b *Base) InstanceID() int64 { return b.id }

// SetInstanceID is called exactly once by the engine at AddCondition time.
func (b *Base) SetInstanceID(id int64) { b.id = id }

// Timeout returns the configured timeout, if any.
func (b *Base) Timeout() *time.Duration { return b.timeout }

// SetTimeout configures the timeout. Must be called before the condition is
// added to an engine.
func (b *Base) SetTimeout(d time.Duration) { b.timeout = &d }

// Duration returns the configured duration, if any.
func (b *Base) Duration() *time.Duration { return b.duration }

// SetDuration configures the duration. Must be called before the condition
// is added to an engine, except by RuleUtils.WaitFor which sets it just
// prior to installation.
func (b *Base) SetDuration(d time.Duration) { b.duration = &d }

// Subconditions defaults to none.
func (b *Base) Subconditions() []Condition { return nil }

// Initialize defaults to a no-op.
func (b *Base) Initialize(_ []SubState) {}

// OnSubconditionEvent defaults to a no-op.
func (b *Base) OnSubconditionEvent(_ Condition, _ bool) {}

// Removed defaults to a no-op.
func (b *Base) Removed() {}

// ConditionState is the per-condition lifecycle state tracked by the
// engine.
type ConditionState int

const (
	// Off means the last evaluation was false.
	Off ConditionState = iota
	// Pending means the last evaluation was true but duration has not
	// yet elapsed.
	Pending
	// On means true, and duration-satisfied if a duration was set.
	On
	// Timeout is terminal: the timeout elapsed without reaching On.
	Timeout
)

// String renders the state for logs and audit records.
func (s ConditionState) String() string {
	switch s {
	case Off:
		return "OFF"
	case Pending:
		return "PENDING"
	case On:
		return "ON"
	case Timeout:
		return "TIMEOUT"
	default:
		return "UNKNOWN"
	}
}

// IsOn reports the externally observable ON-state used when informing
// parents: a PENDING child is reported as false.
func (s ConditionState) IsOn() bool { return s == On }
