package rules

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/lumenhome/condrules/pkg/engine"
	"github.com/lumenhome/condrules/pkg/logx"
)

// Registry persists rule metadata for operator inspection and restart
// bookkeeping. It never feeds installed rules back into the manager: a
// restart always starts with an empty tasks map, per the condition-state
// persistence non-goal.
type Registry interface {
	PutRule(id string, kind string, installedAt time.Time) error
	DeleteRule(id string) error
}

type ruleTask struct {
	id       string
	cancel   context.CancelFunc
	done     chan struct{}
	suspendM sync.Mutex
	suspend  bool
}

// Manager installs, suspends, resumes, and uninstalls trigger- and
// timed-rule tasks, mirroring cosmo.rules.manager.RuleManager. Every method
// is safe for concurrent use: task bookkeeping is guarded by mu, while the
// condition graph itself is already serialized by the Engine's own actor
// loop.
type Manager struct {
	engine    *engine.Engine
	utilities UtilityLookup
	registry  Registry
	log       *logx.Logger
	perf      *logx.PerformanceLogger

	mu    sync.Mutex
	tasks map[string]*ruleTask
}

// NewManager constructs a Manager bound to e. utilities resolves
// plugin-supplied rule utilities by type; registry may be nil, in which case
// rule installation is not persisted anywhere but in memory.
func NewManager(e *engine.Engine, utilities UtilityLookup, registry Registry, log *logx.Logger) *Manager {
	return &Manager{
		engine:    e,
		utilities: utilities,
		registry:  registry,
		log:       log,
		perf:      logx.NewPerformanceLogger(log),
		tasks:     make(map[string]*ruleTask),
	}
}

// InstallTriggerRule spawns a goroutine running the §4.G.1 trigger-rule
// loop and registers it under id (a fresh UUIDv4 if id is empty).
func (m *Manager) InstallTriggerRule(ctx context.Context, rule TriggerRule, id string) string {
	return m.install(ctx, id, "trigger", func(taskCtx context.Context, t *ruleTask) {
		m.runTriggeredRule(taskCtx, t, rule.TriggerProvider, rule.Routine)
	})
}

// InstallTimedRule spawns a goroutine running the §4.G.2 timed-rule loop
// and registers it under id (a fresh UUIDv4 if id is empty).
func (m *Manager) InstallTimedRule(ctx context.Context, rule TimerRule, id string) string {
	return m.install(ctx, id, "timed", func(taskCtx context.Context, t *ruleTask) {
		m.runTimedRule(taskCtx, t, rule.TimeProvider, rule.Routine)
	})
}

func (m *Manager) install(ctx context.Context, id, kind string, run func(context.Context, *ruleTask)) string {
	if id == "" {
		id = uuid.NewString()
	}

	taskCtx, cancel := context.WithCancel(ctx)
	t := &ruleTask{id: id, cancel: cancel, done: make(chan struct{})}

	m.mu.Lock()
	m.tasks[id] = t
	m.mu.Unlock()

	if m.registry != nil {
		if err := m.registry.PutRule(id, kind, time.Now()); err != nil {
			m.log.Warn("failed to persist rule registration", "rule_id", id, "error", err)
		}
	}

	go func() {
		defer close(t.done)
		defer m.onTaskComplete(id)
		run(taskCtx, t)
	}()

	return id
}

func (m *Manager) onTaskComplete(id string) {
	m.mu.Lock()
	delete(m.tasks, id)
	m.mu.Unlock()

	if m.registry != nil {
		if err := m.registry.DeleteRule(id); err != nil {
			m.log.Warn("failed to remove rule registration", "rule_id", id, "error", err)
		}
	}
}

// UninstallRule cancels the rule's task if it exists and has not already
// finished, reporting whether a rule was found.
func (m *Manager) UninstallRule(id string) bool {
	m.mu.Lock()
	t, ok := m.tasks[id]
	m.mu.Unlock()
	if !ok {
		return false
	}

	select {
	case <-t.done:
	default:
		t.cancel()
	}
	return true
}

// SuspendRule marks id suspended; a no-op if id is not a known rule.
func (m *Manager) SuspendRule(id string) {
	m.mu.Lock()
	t, ok := m.tasks[id]
	m.mu.Unlock()
	if !ok {
		return
	}
	t.suspendM.Lock()
	t.suspend = true
	t.suspendM.Unlock()
}

// ResumeRule clears id's suspended flag; a no-op if id is not a known rule.
func (m *Manager) ResumeRule(id string) {
	m.mu.Lock()
	t, ok := m.tasks[id]
	m.mu.Unlock()
	if !ok {
		return
	}
	t.suspendM.Lock()
	t.suspend = false
	t.suspendM.Unlock()
}

// IsRuleSuspended reports whether id is both installed and suspended.
func (m *Manager) IsRuleSuspended(id string) bool {
	m.mu.Lock()
	t, ok := m.tasks[id]
	m.mu.Unlock()
	if !ok {
		return false
	}
	t.suspendM.Lock()
	defer t.suspendM.Unlock()
	return t.suspend
}

// GetAllRules returns the ids of every currently installed rule, in no
// particular order.
func (m *Manager) GetAllRules() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]string, 0, len(m.tasks))
	for id := range m.tasks {
		ids = append(ids, id)
	}
	return ids
}

// RunActionOnce resolves action's utilities and invokes it directly, with
// no scheduling and no rule registration.
func (m *Manager) RunActionOnce(action Action) error {
	return callAction(action, m.engine, m.utilities)
}

func (t *ruleTask) isSuspended() bool {
	t.suspendM.Lock()
	defer t.suspendM.Unlock()
	return t.suspend
}

func (m *Manager) runTriggeredRule(ctx context.Context, t *ruleTask, provider TriggerProvider, action Action) {
	log := m.log.With("rule_id", t.id)
	for {
		condition, err := callTrigger(provider, m.engine, m.utilities)
		if err != nil {
			log.Error("trigger rule ended: provider failed", "error", err)
			return
		}
		if condition.Timeout() != nil {
			log.Error("trigger rule ended: trigger condition must not carry a timeout")
			return
		}

		fired := make(chan struct{}, 1)
		if err := m.engine.AddCondition(ctx, condition, fired, nil); err != nil {
			log.Error("trigger rule ended: failed to install trigger condition", "error", err)
			return
		}

		select {
		case <-fired:
		case <-ctx.Done():
			m.engine.RemoveCondition(context.WithoutCancel(ctx), condition)
			return
		}

		m.engine.RemoveCondition(context.WithoutCancel(ctx), condition)

		if t.isSuspended() {
			log.Debug("trigger rule fired while suspended, skipping action")
			continue
		}

		pc := m.perf.StartOperation(ctx, fmt.Sprintf("rule_action:%s", t.id))
		err = callAction(action, m.engine, m.utilities)
		pc.Complete(err)
		if err != nil {
			log.Error("trigger rule ended: action failed", "error", err)
			return
		}
	}
}

func (m *Manager) runTimedRule(ctx context.Context, t *ruleTask, provider TimeProvider, action Action) {
	log := m.log.With("rule_id", t.id)
	for {
		next, err := provider()
		if err != nil {
			log.Error("timed rule ended: time provider failed", "error", err)
			return
		}
		if next == nil {
			log.Debug("timed rule ended: provider exhausted")
			return
		}

		for tries := 0; next != nil && !next.After(time.Now()) && tries < 2; tries++ {
			next, err = provider()
			if err != nil {
				log.Error("timed rule ended: time provider failed", "error", err)
				return
			}
		}
		if next == nil || !next.After(time.Now()) {
			log.Debug("timed rule ended: provider could not produce a future instant")
			return
		}

		timer := time.NewTimer(time.Until(*next))
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return
		}

		if t.isSuspended() {
			log.Debug("timed rule fired while suspended, skipping action")
			continue
		}

		pc := m.perf.StartOperation(ctx, fmt.Sprintf("rule_action:%s", t.id))
		err = callAction(action, m.engine, m.utilities)
		pc.Complete(err)
		if err != nil {
			log.Error("timed rule ended: action failed", "error", err)
			return
		}
	}
}
