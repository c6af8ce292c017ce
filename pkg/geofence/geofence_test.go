package geofence

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lumenhome/condrules/pkg/engine"
	"github.com/lumenhome/condrules/pkg/logx"
)

func newTestLogger() *logx.Logger { return logx.NewLogger("error", "test") }

func TestNewUtilsRejectsEmptyAPIKey(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	e := engine.New(ctx)

	_, err := NewUtils("", e, newTestLogger())
	require.Error(t, err)
}

func TestNewUtilsConstructsClient(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	e := engine.New(ctx)

	u, err := NewUtils("test-api-key", e, newTestLogger())
	require.NoError(t, err)
	require.NotNil(t, u)
	assert.Equal(t, 30*time.Second, u.pollInterval)
}

func TestPluginRunClosesOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	e := engine.New(ctx)

	u, err := NewUtils("test-api-key", e, newTestLogger())
	require.NoError(t, err)
	p := NewPlugin(u)

	out, err := p.Run(ctx)
	require.NoError(t, err)

	cancel()

	select {
	case _, ok := <-out:
		assert.False(t, ok)
	case <-time.After(time.Second):
		t.Fatal("plugin channel did not close after cancel")
	}
}

func TestPluginRuleUtilityReturnsUtils(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	e := engine.New(ctx)

	u, err := NewUtils("test-api-key", e, newTestLogger())
	require.NoError(t, err)
	p := NewPlugin(u)

	assert.Same(t, u, p.RuleUtility())
}
