package plugins

import (
	"context"
	"errors"
	"reflect"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lumenhome/condrules/pkg/engine"
	"github.com/lumenhome/condrules/pkg/logx"
)

type fakePluginUtil struct{ name string }

type fakePlugin struct {
	util  any
	out   chan []engine.Condition
	runAt func() error
}

func (p *fakePlugin) Run(ctx context.Context) (<-chan []engine.Condition, error) {
	if p.runAt != nil {
		if err := p.runAt(); err != nil {
			return nil, err
		}
	}
	return p.out, nil
}

func (p *fakePlugin) RuleUtility() any { return p.util }

func newTestLogger() *logx.Logger { return logx.NewLogger("error", "test") }

func TestRegisterPluginIndexesExportedUtility(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	e := engine.New(ctx)
	s := NewService(e, newTestLogger())

	util := &fakePluginUtil{name: "trend"}
	out := make(chan []engine.Condition)
	p := &fakePlugin{util: util, out: out}

	id, err := s.RegisterPlugin(ctx, p)
	require.NoError(t, err)
	assert.NotEmpty(t, id)

	got, ok := s.UtilityForType(reflect.TypeOf(util))
	require.True(t, ok)
	assert.Same(t, util, got)

	close(out)
}

func TestRegisterPluginPropagatesStartError(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	e := engine.New(ctx)
	s := NewService(e, newTestLogger())

	boom := errors.New("boom")
	util := &fakePluginUtil{name: "broken"}
	p := &fakePlugin{util: util, runAt: func() error { return boom }}

	_, err := s.RegisterPlugin(ctx, p)
	require.ErrorIs(t, err, boom)

	_, ok := s.UtilityForType(reflect.TypeOf(util))
	assert.False(t, ok, "utility must be de-indexed when the plugin fails to start")
}

func TestRegisteredPluginUtilityIsRemovedWhenChannelCloses(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	e := engine.New(ctx)
	s := NewService(e, newTestLogger())

	util := &fakePluginUtil{name: "ephemeral"}
	out := make(chan []engine.Condition)
	p := &fakePlugin{util: util, out: out}

	_, err := s.RegisterPlugin(ctx, p)
	require.NoError(t, err)

	close(out)
	require.Eventually(t, func() bool {
		_, ok := s.UtilityForType(reflect.TypeOf(util))
		return !ok
	}, time.Second, 10*time.Millisecond)
}
