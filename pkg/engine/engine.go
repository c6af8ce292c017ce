package engine

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"
)

// Notifier couples a condition to two optional one-shot signals: fired
// (the condition became ON) and timedOut (its timeout elapsed). Only
// notifiers registered by an outside waiter (AddCondition's fired/timedOut
// arguments) carry channels; notifiers for conditions added only as
// someone else's subcondition carry nil channels and notify() is then a
// no-op, matching the spec's "only notifiers registered by an outside
// waiter carry events" rule.
type Notifier struct {
	fired    chan struct{}
	timedOut chan struct{}
}

func (n *Notifier) notifyFired() {
	if n == nil || n.fired == nil {
		return
	}
	select {
	case n.fired <- struct{}{}:
	default:
	}
}

func (n *Notifier) notifyTimedOut() {
	if n == nil || n.timedOut == nil {
		return
	}
	select {
	case n.timedOut <- struct{}{}:
	default:
	}
}

// Recorder observes condition state transitions for audit purposes. It
// never influences evaluation; the engine calls it after mutating its own
// state.
type Recorder interface {
	RecordTransition(instanceID int64, identifier string, from, to ConditionState, at time.Time)
}

// MetricsSink observes engine activity for instrumentation. Like Recorder,
// it is a pure observer.
type MetricsSink interface {
	ObserveTransition(to ConditionState)
	SetTimerCounts(durationTimers, timeoutTimers int)
}

type entry struct {
	condition Condition
	notifier  *Notifier
	state     ConditionState
}

// Engine is the dependency graph of composite condition expressions. All
// graph mutation is serialized through a single internal goroutine (the
// idiomatic Go rendering of the spec's single-threaded cooperative
// scheduler): every exported method hands its request to that goroutine
// over a channel and waits for the result, so duration/timeout elapse
// handlers — which themselves need to mutate the same graph — never
// contend with callers for a lock.
type Engine struct {
	nextInstanceID int64

	conditions   map[int64]*entry
	dependencies map[int64]map[int64]struct{}

	durationTimers map[int64]*time.Timer
	timeoutTimers  map[int64]*time.Timer

	recorder Recorder
	metrics  MetricsSink

	cmdCh chan any
	done  chan struct{}
}

// New creates an Engine and starts its internal evaluation goroutine,
// bound to ctx: cancelling ctx stops the goroutine and abandons any
// in-flight timers.
func New(ctx context.Context) *Engine {
	e := &Engine{
		conditions:     make(map[int64]*entry),
		dependencies:   make(map[int64]map[int64]struct{}),
		durationTimers: make(map[int64]*time.Timer),
		timeoutTimers:  make(map[int64]*time.Timer),
		cmdCh:          make(chan any),
		done:           make(chan struct{}),
	}
	go e.loop(ctx)
	return e
}

// SetRecorder attaches an audit recorder. Not safe to call concurrently
// with engine operations; call it once, before the engine sees any
// conditions.
func (e *Engine) SetRecorder(r Recorder) { e.recorder = r }

// SetMetrics attaches a metrics sink. Same caveat as SetRecorder.
func (e *Engine) SetMetrics(m MetricsSink) { e.metrics = m }

// Done closes once the engine's loop has exited (its context was
// cancelled).
func (e *Engine) Done() <-chan struct{} { return e.done }

func (e *Engine) loop(ctx context.Context) {
	defer close(e.done)
	for {
		select {
		case <-ctx.Done():
			for _, t := range e.durationTimers {
				t.Stop()
			}
			for _, t := range e.timeoutTimers {
				t.Stop()
			}
			return
		case c := <-e.cmdCh:
			e.dispatch(ctx, c)
		}
	}
}

type cmdAdd struct {
	condition Condition
	fired     chan struct{}
	timedOut  chan struct{}
	result    chan error
}

type cmdRemove struct {
	condition Condition
	done      chan struct{}
}

type cmdReport struct {
	conditions []Condition
	done       chan struct{}
}

type cmdDurationElapsed struct{ id int64 }
type cmdTimeoutElapsed struct{ id int64 }

func (e *Engine) dispatch(_ context.Context, c any) {
	switch v := c.(type) {
	case cmdAdd:
		v.result <- e.addCondition(v.condition, v.fired, v.timedOut)
	case cmdRemove:
		e.removeCondition(v.condition)
		close(v.done)
	case cmdReport:
		e.reportConditionEvent(v.conditions)
		close(v.done)
	case cmdDurationElapsed:
		e.onDurationElapsed(v.id)
	case cmdTimeoutElapsed:
		e.onTimeoutElapsed(v.id)
	}
}

// AddCondition recursively adds condition's subconditions (without
// external events), wires the reverse-dependency edges, initializes and
// evaluates condition, and records its initial state per the spec's
// initial-state table. No notification fires for the initial state;
// waiters learn of the first transition via ReportConditionEvent or a
// timer. fired/timedOut may be nil if the caller does not need to observe
// this condition directly (e.g. it is only ever reached as someone else's
// subcondition).
func (e *Engine) AddCondition(ctx context.Context, condition Condition, fired, timedOut chan struct{}) error {
	result := make(chan error, 1)
	select {
	case e.cmdCh <- cmdAdd{condition: condition, fired: fired, timedOut: timedOut, result: result}:
	case <-ctx.Done():
		return ctx.Err()
	case <-e.done:
		return fmt.Errorf("engine: closed")
	}
	select {
	case err := <-result:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// RemoveCondition deletes condition and, recursively, its subconditions
// from the graph, cancelling any timers and invoking Removed() hooks.
// Idempotent: removing an absent condition is a silent no-op.
func (e *Engine) RemoveCondition(ctx context.Context, condition Condition) {
	done := make(chan struct{})
	select {
	case e.cmdCh <- cmdRemove{condition: condition, done: done}:
	case <-ctx.Done():
		return
	case <-e.done:
		return
	}
	select {
	case <-done:
	case <-ctx.Done():
	}
}

// ReportConditionEvent propagates a change starting from the given leaves,
// breadth-first over the reverse-dependency graph with no visited set, so
// every ancestor observes all of its directly changed children in a
// single pass before it is itself re-evaluated.
func (e *Engine) ReportConditionEvent(ctx context.Context, conditions []Condition) {
	if len(conditions) == 0 {
		return
	}
	done := make(chan struct{})
	select {
	case e.cmdCh <- cmdReport{conditions: conditions, done: done}:
	case <-ctx.Done():
		return
	case <-e.done:
		return
	}
	select {
	case <-done:
	case <-ctx.Done():
	}
}

// --- single-goroutine internals below; only ever called from loop() ---

func (e *Engine) allocateID() int64 {
	return atomic.AddInt64(&e.nextInstanceID, 1)
}

func (e *Engine) addCondition(condition Condition, fired, timedOut chan struct{}) error {
	if condition.InstanceID() == 0 {
		condition.SetInstanceID(e.allocateID())
	}
	id := condition.InstanceID()

	for _, sub := range condition.Subconditions() {
		if sub.InstanceID() == 0 {
			if err := e.addCondition(sub, nil, nil); err != nil {
				return err
			}
		}
		subID := sub.InstanceID()
		if e.dependencies[subID] == nil {
			e.dependencies[subID] = make(map[int64]struct{})
		}
		e.dependencies[subID][id] = struct{}{}
	}

	if len(condition.Subconditions()) > 0 {
		states := make([]SubState, 0, len(condition.Subconditions()))
		for _, sub := range condition.Subconditions() {
			subEntry, ok := e.conditions[sub.InstanceID()]
			on := ok && subEntry.state.IsOn()
			states = append(states, SubState{Condition: sub, On: on})
		}
		condition.Initialize(states)
	}

	notifier := &Notifier{fired: fired, timedOut: timedOut}
	evaluated := condition.Evaluate()
	hasDuration := condition.Duration() != nil
	hasTimeout := condition.Timeout() != nil

	var state ConditionState
	switch {
	case !evaluated:
		state = Off
		if hasTimeout {
			e.armTimeout(id, *condition.Timeout())
		}
	case hasDuration:
		state = Pending
		e.armDuration(id, *condition.Duration())
		if hasTimeout {
			e.armTimeout(id, *condition.Timeout())
		}
	default:
		state = On
		// No timer and no notification: the spec fires no
		// notification for an initial-ON state.
	}

	e.conditions[id] = &entry{condition: condition, notifier: notifier, state: state}
	e.record(id, condition.Identifier(), Off, state)
	e.observeTimers()
	return nil
}

func (e *Engine) removeCondition(condition Condition) {
	id := condition.InstanceID()
	if _, ok := e.conditions[id]; !ok {
		return
	}
	delete(e.conditions, id)
	delete(e.dependencies, id)
	e.cancelDuration(id)
	e.cancelTimeout(id)
	condition.Removed()
	e.observeTimers()

	for _, sub := range condition.Subconditions() {
		e.removeCondition(sub)
	}
}

// nextState computes the condition's new lifecycle state from its prior
// state and this pass's evaluation, per the spec's "safer re-design":
// states are derived fully from (prev, evaluated), so an ancestor is never
// told a still-true child just went off. TIMEOUT is terminal.
func nextState(prev ConditionState, evaluated, hasDuration bool) ConditionState {
	if prev == Timeout {
		return Timeout
	}
	if !evaluated {
		return Off
	}
	switch prev {
	case Pending:
		return Pending
	case On:
		return On
	default:
		if hasDuration {
			return Pending
		}
		return On
	}
}

func (e *Engine) reportConditionEvent(conditions []Condition) {
	prevState := make(map[int64]ConditionState, len(conditions))
	queue := make([]int64, 0, len(conditions))
	for _, c := range conditions {
		ent, ok := e.conditions[c.InstanceID()]
		if !ok {
			continue
		}
		prevState[c.InstanceID()] = ent.state
		queue = append(queue, c.InstanceID())
	}

	touched := make(map[int64]struct{})
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]

		ent, ok := e.conditions[id]
		if !ok {
			continue
		}
		touched[id] = struct{}{}
		if _, seen := prevState[id]; !seen {
			prevState[id] = ent.state
		}

		evaluated := ent.condition.Evaluate()
		hasDuration := ent.condition.Duration() != nil
		newState := nextState(ent.state, evaluated, hasDuration)

		if newState == Pending && ent.state != Pending {
			e.armDuration(id, *ent.condition.Duration())
		}
		ent.state = newState

		for parentID := range e.dependencies[id] {
			parentEnt, ok := e.conditions[parentID]
			if !ok {
				continue
			}
			parentEnt.condition.OnSubconditionEvent(ent.condition, newState.IsOn())
			queue = append(queue, parentID)
		}
	}

	for id := range touched {
		ent, ok := e.conditions[id]
		if !ok {
			continue
		}
		prev := prevState[id]
		curr := ent.state
		if prev == curr {
			continue
		}
		e.record(id, ent.condition.Identifier(), prev, curr)

		switch {
		case prev == Off && curr == On:
			e.cancelTimeout(id)
			ent.notifier.notifyFired()
		case prev == Pending && curr == Off:
			e.cancelDuration(id)
		}
	}
	e.observeTimers()
}

func (e *Engine) armDuration(id int64, d time.Duration) {
	e.cancelDuration(id)
	e.durationTimers[id] = time.AfterFunc(d, func() {
		select {
		case e.cmdCh <- cmdDurationElapsed{id: id}:
		case <-e.done:
		}
	})
}

func (e *Engine) armTimeout(id int64, d time.Duration) {
	e.cancelTimeout(id)
	e.timeoutTimers[id] = time.AfterFunc(d, func() {
		select {
		case e.cmdCh <- cmdTimeoutElapsed{id: id}:
		case <-e.done:
		}
	})
}

func (e *Engine) cancelDuration(id int64) {
	if t, ok := e.durationTimers[id]; ok {
		t.Stop()
		delete(e.durationTimers, id)
	}
}

func (e *Engine) cancelTimeout(id int64) {
	if t, ok := e.timeoutTimers[id]; ok {
		t.Stop()
		delete(e.timeoutTimers, id)
	}
}

func (e *Engine) onDurationElapsed(id int64) {
	delete(e.durationTimers, id)
	e.cancelTimeout(id)

	ent, ok := e.conditions[id]
	if !ok {
		return
	}
	prev := ent.state
	ent.state = On
	e.record(id, ent.condition.Identifier(), prev, On)
	ent.notifier.notifyFired()

	var parents []Condition
	for parentID := range e.dependencies[id] {
		parentEnt, ok := e.conditions[parentID]
		if !ok {
			continue
		}
		parentEnt.condition.OnSubconditionEvent(ent.condition, true)
		parents = append(parents, parentEnt.condition)
	}
	e.observeTimers()
	if len(parents) > 0 {
		e.reportConditionEvent(parents)
	}
}

func (e *Engine) onTimeoutElapsed(id int64) {
	delete(e.timeoutTimers, id)
	e.cancelDuration(id)

	ent, ok := e.conditions[id]
	if !ok {
		return
	}
	prev := ent.state
	ent.state = Timeout
	e.record(id, ent.condition.Identifier(), prev, Timeout)
	ent.notifier.notifyTimedOut()
	e.observeTimers()
}

func (e *Engine) record(instanceID int64, identifier string, from, to ConditionState) {
	if from == to {
		return
	}
	if e.recorder != nil {
		e.recorder.RecordTransition(instanceID, identifier, from, to, time.Now())
	}
	if e.metrics != nil {
		e.metrics.ObserveTransition(to)
	}
}

func (e *Engine) observeTimers() {
	if e.metrics != nil {
		e.metrics.SetTimerCounts(len(e.durationTimers), len(e.timeoutTimers))
	}
}
