package engine

import (
	"fmt"
	"strings"
)

// Operator is the boolean reduction a BooleanCondition applies to its
// subconditions.
type Operator string

const (
	OpAnd Operator = "and"
	OpOr  Operator = "or"
	OpNot Operator = "not"
)

// childState caches one subcondition alongside its last reported
// ON-state, keyed externally by the subcondition's instance id.
type childState struct {
	condition Condition
	state     bool
}

// BooleanCondition composes subconditions with and/or/not. It caches the
// last-known ON-state of each child and reduces over that cache on
// Evaluate — never by re-evaluating children directly, since the engine
// owns that responsibility and pushes updates in via
// OnSubconditionEvent/Initialize.
type BooleanCondition struct {
	Base

	operator Operator
	order    []int64
	children map[int64]*childState
}

// NewBooleanCondition builds a composite condition. "not" requires exactly
// one subcondition; any other count is a validation error.
func NewBooleanCondition(operator Operator, conditions ...Condition) (*BooleanCondition, error) {
	if operator == OpNot && len(conditions) != 1 {
		return nil, &ValidationError{Msg: fmt.Sprintf("boolean operator %q requires exactly one subcondition, got %d", operator, len(conditions))}
	}
	if len(conditions) == 0 {
		return nil, &ValidationError{Msg: fmt.Sprintf("boolean operator %q requires at least one subcondition", operator)}
	}

	bc := &BooleanCondition{
		operator: operator,
		children: make(map[int64]*childState, len(conditions)),
	}
	for _, c := range conditions {
		bc.order = append(bc.order, c.InstanceID())
		bc.children[c.InstanceID()] = &childState{condition: c}
	}
	return bc, nil
}

// Identifier renders as "(a and b and c)" with the operator interposed.
func (b *BooleanCondition) Identifier() string {
	parts := make([]string, 0, len(b.order))
	for _, id := range b.order {
		parts = append(parts, b.children[id].condition.Identifier())
	}
	return "(" + strings.Join(parts, fmt.Sprintf(" %s ", b.operator)) + ")"
}

// Subconditions returns children in construction order.
func (b *BooleanCondition) Subconditions() []Condition {
	out := make([]Condition, 0, len(b.order))
	for _, id := range b.order {
		out = append(out, b.children[id].condition)
	}
	return out
}

// Initialize seeds every child's cached state.
func (b *BooleanCondition) Initialize(states []SubState) {
	for _, s := range states {
		if cs, ok := b.children[s.Condition.InstanceID()]; ok {
			cs.state = s.On
		}
	}
}

// OnSubconditionEvent replaces the cached state for the named child.
// Order-invariant: it only ever touches the entry keyed by child's id.
func (b *BooleanCondition) OnSubconditionEvent(child Condition, onState bool) {
	if cs, ok := b.children[child.InstanceID()]; ok {
		cs.state = onState
	}
}

// Evaluate reduces the cached child states per the configured operator.
func (b *BooleanCondition) Evaluate() bool {
	switch b.operator {
	case OpAnd:
		for _, id := range b.order {
			if !b.children[id].state {
				return false
			}
		}
		return true
	case OpOr:
		for _, id := range b.order {
			if b.children[id].state {
				return true
			}
		}
		return false
	case OpNot:
		return !b.children[b.order[0]].state
	default:
		return false
	}
}

// AlwaysFalseCondition is a constant leaf used for error/placeholder cases.
type AlwaysFalseCondition struct {
	Base
	reason string
}

// NewAlwaysFalse builds a leaf that never evaluates true. An empty reason
// renders as "always_false".
func NewAlwaysFalse(reason string) *AlwaysFalseCondition {
	if reason == "" {
		reason = "always_false"
	}
	return &AlwaysFalseCondition{reason: reason}
}

func (c *AlwaysFalseCondition) Identifier() string { return fmt.Sprintf("always_false(%s)", c.reason) }
func (c *AlwaysFalseCondition) Evaluate() bool     { return false }

// AlwaysTrueCondition is a constant leaf that is always satisfied.
type AlwaysTrueCondition struct {
	Base
	reason string
}

// NewAlwaysTrue builds a leaf that always evaluates true. An empty reason
// renders as "always_true".
func NewAlwaysTrue(reason string) *AlwaysTrueCondition {
	if reason == "" {
		reason = "always_true"
	}
	return &AlwaysTrueCondition{reason: reason}
}

func (c *AlwaysTrueCondition) Identifier() string { return fmt.Sprintf("always_true(%s)", c.reason) }
func (c *AlwaysTrueCondition) Evaluate() bool      { return true }
