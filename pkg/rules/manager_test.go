package rules

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lumenhome/condrules/pkg/engine"
	"github.com/lumenhome/condrules/pkg/logx"
)

type fakeRegistry struct {
	mu   sync.Mutex
	rows map[string]string
}

func newFakeRegistry() *fakeRegistry { return &fakeRegistry{rows: make(map[string]string)} }

func (r *fakeRegistry) PutRule(id, kind string, _ time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rows[id] = kind
	return nil
}

func (r *fakeRegistry) DeleteRule(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.rows, id)
	return nil
}

func (r *fakeRegistry) has(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.rows[id]
	return ok
}

func newTestManager(t *testing.T) (*Manager, *engine.Engine, context.Context, *fakeRegistry) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	e := engine.New(ctx)
	reg := newFakeRegistry()
	m := NewManager(e, nil, reg, logx.NewLogger("error", "test"))
	return m, e, ctx, reg
}

func TestInstallTriggerRuleFiresActionOncePerTrigger(t *testing.T) {
	m, e, ctx, reg := newTestManager(t)

	leaf := engine.NewLeaf("trigger")
	var fires int32
	var mu sync.Mutex

	provider := func(u *RuleUtils) (engine.Condition, error) {
		return leaf, nil
	}
	action := func(u *RuleUtils) error {
		mu.Lock()
		fires++
		mu.Unlock()
		return nil
	}

	id := m.InstallTriggerRule(ctx, TriggerRule{TriggerProvider: provider, Routine: action}, "")
	require.NotEmpty(t, id)
	assert.True(t, reg.has(id))

	leaf.Set(true)
	e.ReportConditionEvent(ctx, []engine.Condition{leaf})

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return fires >= 1
	}, time.Second, 10*time.Millisecond)

	assert.True(t, m.UninstallRule(id))
	require.Eventually(t, func() bool { return !reg.has(id) }, time.Second, 10*time.Millisecond)
}

func TestSuspendedRuleSkipsAction(t *testing.T) {
	m, e, ctx, _ := newTestManager(t)

	leaf := engine.NewLeaf("trigger")
	var fires int32
	var mu sync.Mutex

	provider := func(u *RuleUtils) (engine.Condition, error) {
		return leaf, nil
	}
	action := func(u *RuleUtils) error {
		mu.Lock()
		fires++
		mu.Unlock()
		return nil
	}

	id := m.InstallTriggerRule(ctx, TriggerRule{TriggerProvider: provider, Routine: action}, "")
	m.SuspendRule(id)
	assert.True(t, m.IsRuleSuspended(id))

	leaf.Set(true)
	e.ReportConditionEvent(ctx, []engine.Condition{leaf})
	time.Sleep(100 * time.Millisecond)

	mu.Lock()
	assert.Equal(t, int32(0), fires)
	mu.Unlock()

	m.ResumeRule(id)
	assert.False(t, m.IsRuleSuspended(id))
}

func TestUninstallUnknownRuleReturnsFalse(t *testing.T) {
	m, _, _, _ := newTestManager(t)
	assert.False(t, m.UninstallRule("does-not-exist"))
}

func TestInstallTimedRuleRunsActionAtComputedInstant(t *testing.T) {
	m, _, ctx, _ := newTestManager(t)

	var calls int32
	var mu sync.Mutex
	var once sync.Once
	done := make(chan struct{})

	provider := func() (*time.Time, error) {
		next := time.Now().Add(20 * time.Millisecond)
		return &next, nil
	}
	action := func() error {
		mu.Lock()
		calls++
		mu.Unlock()
		once.Do(func() { close(done) })
		return nil
	}

	m.InstallTimedRule(ctx, TimerRule{TimeProvider: provider, Routine: action}, "heartbeat")

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("timed rule never fired")
	}

	mu.Lock()
	assert.GreaterOrEqual(t, calls, int32(1))
	mu.Unlock()
}

func TestTimedRuleEndsWhenProviderIsExhausted(t *testing.T) {
	m, _, ctx, reg := newTestManager(t)

	provider := func() (*time.Time, error) { return nil, nil }
	action := func() error { return nil }

	id := m.InstallTimedRule(ctx, TimerRule{TimeProvider: provider, Routine: action}, "")

	require.Eventually(t, func() bool { return !reg.has(id) }, time.Second, 10*time.Millisecond)
}

func TestGetAllRulesListsInstalledRules(t *testing.T) {
	m, _, ctx, _ := newTestManager(t)

	provider := func(u *RuleUtils) (engine.Condition, error) {
		return u.True("always"), nil
	}
	action := func(u *RuleUtils) error { return nil }

	id := m.InstallTriggerRule(ctx, TriggerRule{TriggerProvider: provider, Routine: action}, "")
	assert.Contains(t, m.GetAllRules(), id)
}

func TestRunActionOnceInvokesWithoutScheduling(t *testing.T) {
	m, _, _, reg := newTestManager(t)

	var ran bool
	err := m.RunActionOnce(func(u *RuleUtils) error {
		ran = true
		return nil
	})
	require.NoError(t, err)
	assert.True(t, ran)
	assert.Empty(t, m.GetAllRules())
	assert.Len(t, reg.rows, 0)
}
