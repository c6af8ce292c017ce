package rules

import (
	"context"
	"errors"
	"reflect"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lumenhome/condrules/pkg/engine"
)

type fakeUtility struct{ label string }

type fakeLookup struct {
	utils map[reflect.Type]any
}

func (f *fakeLookup) UtilityForType(t reflect.Type) (any, bool) {
	u, ok := f.utils[t]
	return u, ok
}

func newFakeLookup(values ...any) *fakeLookup {
	m := make(map[reflect.Type]any, len(values))
	for _, v := range values {
		m[reflect.TypeOf(v)] = v
	}
	return &fakeLookup{utils: m}
}

func TestResolveUtilitiesRejectsVariadic(t *testing.T) {
	e := engine.New(context.Background())
	_, err := resolveUtilities(func(args ...int) {}, e, nil)
	require.Error(t, err)
	assert.IsType(t, &engine.ValidationError{}, err)
}

func TestResolveUtilitiesRejectsInterfaceParameter(t *testing.T) {
	e := engine.New(context.Background())
	_, err := resolveUtilities(func(w interface{ Write([]byte) (int, error) }) {}, e, nil)
	require.Error(t, err)
}

func TestResolveUtilitiesRejectsDuplicateType(t *testing.T) {
	e := engine.New(context.Background())
	_, err := resolveUtilities(func(a, b *RuleUtils) {}, e, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "requested more than once")
}

func TestResolveUtilitiesRejectsUnregisteredType(t *testing.T) {
	e := engine.New(context.Background())
	_, err := resolveUtilities(func(f *fakeUtility) {}, e, nil)
	require.Error(t, err)

	_, err = resolveUtilities(func(f *fakeUtility) {}, e, newFakeLookup())
	require.Error(t, err)
}

func TestResolveUtilitiesSuppliesRuleUtilsAndRegisteredUtility(t *testing.T) {
	e := engine.New(context.Background())
	util := &fakeUtility{label: "trend"}
	lookup := newFakeLookup(util)

	args, err := resolveUtilities(func(u *RuleUtils, f *fakeUtility) {}, e, lookup)
	require.NoError(t, err)
	require.Len(t, args, 2)
	assert.IsType(t, &RuleUtils{}, args[0].Interface())
	assert.Same(t, util, args[1].Interface())
}

func TestCallActionPropagatesReturnedError(t *testing.T) {
	e := engine.New(context.Background())
	boom := errors.New("boom")

	err := callAction(func() error { return boom }, e, nil)
	assert.Equal(t, boom, err)

	err = callAction(func() error { return nil }, e, nil)
	assert.NoError(t, err)
}

func TestCallTriggerRequiresConditionErrorSignature(t *testing.T) {
	e := engine.New(context.Background())

	_, err := callTrigger(func() bool { return true }, e, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "must return")
}

func TestCallTriggerReturnsBuiltCondition(t *testing.T) {
	e := engine.New(context.Background())
	leaf := engine.NewLeaf("x")

	cond, err := callTrigger(func(u *RuleUtils) (engine.Condition, error) {
		return leaf, nil
	}, e, nil)
	require.NoError(t, err)
	assert.Same(t, leaf, cond)
}
