// Package rules implements the Rule Utilities and Rule Manager: the
// ambient API rule code uses to build conditions and wait on them, and the
// manager that installs, suspends, resumes, and uninstalls trigger- and
// timer-driven rules.
package rules

import (
	"time"

	"github.com/lumenhome/condrules/pkg/engine"
)

// TriggerProvider builds the condition a trigger-rule installs on each
// iteration of its loop. utilities is the resolved, positional argument
// list requested by the provider's own function signature (see
// resolveUtilities); the returned condition must not carry a timeout.
type TriggerProvider any

// Action is a rule's dispatched routine, resolved and invoked the same way
// as a TriggerProvider.
type Action any

// TimeProvider computes the next wall-clock instant a timed rule should
// fire, or nil when no further firings are scheduled. It must be a pure
// function: called repeatedly, with no side effects other than whatever
// bookkeeping the caller's closure captures.
type TimeProvider func() (*time.Time, error)

// Rule is either a TriggerRule or a TimerRule.
type Rule interface {
	isRule()
}

// TriggerRule pairs a condition-producing provider with an action that
// runs each time the produced condition fires.
type TriggerRule struct {
	TriggerProvider TriggerProvider
	Routine         Action
}

func (TriggerRule) isRule() {}

// TimerRule pairs a wall-clock schedule with an action that runs at each
// computed instant.
type TimerRule struct {
	TimeProvider TimeProvider
	Routine      Action
}

func (TimerRule) isRule() {}

// RuleUtils is the built-in utility every trigger provider and action may
// request by declaring a *RuleUtils parameter. It wraps engine access for
// condition construction and the wait/wait_for/wait_until primitives.
type RuleUtils struct {
	engine *engine.Engine
}

// NewRuleUtils constructs the built-in utility bound to a specific engine.
// The rule manager calls this once per resolution; rule code never
// constructs it directly.
func NewRuleUtils(e *engine.Engine) *RuleUtils {
	return &RuleUtils{engine: e}
}
