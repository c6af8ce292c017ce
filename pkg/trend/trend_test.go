package trend

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lumenhome/condrules/pkg/logx"
)

func newTestLogger() *logx.Logger { return logx.NewLogger("error", "test") }

func TestPredictorTooFewSamplesNeverFires(t *testing.T) {
	u := NewUtils(newTestLogger())
	provider := u.Predictor([]Sample{{At: time.Now(), Value: 1}}, 10)

	at, err := provider()
	require.NoError(t, err)
	assert.Nil(t, at)
}

func TestPredictorForecastsFutureCrossing(t *testing.T) {
	u := NewUtils(newTestLogger())
	base := time.Now().Add(-4 * time.Minute)
	samples := []Sample{
		{At: base, Value: 0},
		{At: base.Add(time.Minute), Value: 10},
		{At: base.Add(2 * time.Minute), Value: 20},
		{At: base.Add(3 * time.Minute), Value: 30},
	}

	provider := u.Predictor(samples, 100)

	at, err := provider()
	require.NoError(t, err)
	require.NotNil(t, at)
	assert.True(t, at.After(time.Now()))
}

func TestPredictorSlopeAwayFromThresholdNeverFires(t *testing.T) {
	u := NewUtils(newTestLogger())
	base := time.Now().Add(-3 * time.Minute)
	samples := []Sample{
		{At: base, Value: 30},
		{At: base.Add(time.Minute), Value: 20},
		{At: base.Add(2 * time.Minute), Value: 10},
	}

	provider := u.Predictor(samples, 100)

	at, err := provider()
	require.NoError(t, err)
	assert.Nil(t, at)
}

func TestPredictorOnlyFiresOnce(t *testing.T) {
	u := NewUtils(newTestLogger())
	base := time.Now().Add(-2 * time.Minute)
	samples := []Sample{
		{At: base, Value: 0},
		{At: base.Add(time.Minute), Value: 50},
	}

	provider := u.Predictor(samples, 200)

	first, err := provider()
	require.NoError(t, err)
	require.NotNil(t, first)

	second, err := provider()
	require.NoError(t, err)
	assert.Nil(t, second)
}

func TestPluginRunClosesOnCancel(t *testing.T) {
	p := NewPlugin(NewUtils(newTestLogger()))
	ctx, cancel := context.WithCancel(context.Background())

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
	u := NewUtils(newTestLogger())
	p := NewPlugin(u)
	assert.Same(t, u, p.RuleUtility())
}
