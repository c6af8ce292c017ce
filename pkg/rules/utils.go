package rules

import (
	"context"
	"time"

	"github.com/lumenhome/condrules/pkg/engine"
)

// AllOf returns a condition that is true when every subcondition is true.
func (u *RuleUtils) AllOf(conditions ...engine.Condition) (*engine.BooleanCondition, error) {
	return engine.NewBooleanCondition(engine.OpAnd, conditions...)
}

// AnyOf returns a condition that is true when any subcondition is true.
func (u *RuleUtils) AnyOf(conditions ...engine.Condition) (*engine.BooleanCondition, error) {
	return engine.NewBooleanCondition(engine.OpOr, conditions...)
}

// IsNot returns a condition that is true when the given subcondition is
// false.
func (u *RuleUtils) IsNot(condition engine.Condition) (*engine.BooleanCondition, error) {
	return engine.NewBooleanCondition(engine.OpNot, condition)
}

// True returns a constant condition that is always satisfied.
func (u *RuleUtils) True(reason string) *engine.AlwaysTrueCondition {
	return engine.NewAlwaysTrue(reason)
}

// False returns a constant condition that is never satisfied.
func (u *RuleUtils) False(reason string) *engine.AlwaysFalseCondition {
	return engine.NewAlwaysFalse(reason)
}

// Wait suspends the calling rule task for the given duration.
func (u *RuleUtils) Wait(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// WaitUntil suspends until the next local instant whose time-of-day
// matches timeOfDay: today if that instant is still in the future,
// otherwise tomorrow.
func (u *RuleUtils) WaitUntil(ctx context.Context, timeOfDay time.Time) error {
	now := time.Now()
	target := time.Date(now.Year(), now.Month(), now.Day(),
		timeOfDay.Hour(), timeOfDay.Minute(), timeOfDay.Second(), timeOfDay.Nanosecond(), now.Location())
	if target.Before(now) {
		target = target.AddDate(0, 0, 1)
	}
	return u.Wait(ctx, target.Sub(now))
}

// WaitFor installs condition with a fresh fired event and, if timeout is
// set, a timed_out event too, then suspends until exactly one of them
// signals. The condition is always removed before WaitFor returns. It
// returns true if the condition fired, false if it timed out.
//
// If both timeout and forDuration are set, timeout must be strictly
// greater than forDuration — otherwise the condition could never reach ON
// before timing out — and an error is returned.
func (u *RuleUtils) WaitFor(ctx context.Context, condition engine.Condition, timeout, forDuration *time.Duration) (bool, error) {
	if timeout != nil && forDuration != nil && *timeout <= *forDuration {
		return false, &engine.ValidationError{Msg: "wait_for: timeout must be longer than duration"}
	}

	settable, ok := condition.(interface {
		SetDuration(time.Duration)
		SetTimeout(time.Duration)
	})
	if !ok && (timeout != nil || forDuration != nil) {
		return false, &engine.ValidationError{Msg: "wait_for: condition does not support duration/timeout"}
	}

	if forDuration != nil {
		settable.SetDuration(*forDuration)
	}

	fired := make(chan struct{}, 1)
	var timedOut chan struct{}
	if timeout != nil {
		settable.SetTimeout(*timeout)
		timedOut = make(chan struct{}, 1)
	}

	if err := u.engine.AddCondition(ctx, condition, fired, timedOut); err != nil {
		return false, err
	}
	defer u.engine.RemoveCondition(context.WithoutCancel(ctx), condition)

	select {
	case <-fired:
		return true, nil
	case <-timedOut:
		return false, nil
	case <-ctx.Done():
		return false, ctx.Err()
	}
}
