// Package trend provides a rule utility that fits ordinary least squares
// over reported (timestamp, value) samples and hands back a one-shot
// rules.TimeProvider forecasting the next threshold crossing, grounded in
// the teacher's own predictive decision modeling but expressed as a
// pluggable utility rather than baked into a decision engine.
package trend

import (
	"context"
	"time"

	"github.com/sajari/regression"

	"github.com/lumenhome/condrules/pkg/engine"
	"github.com/lumenhome/condrules/pkg/logx"
)

// Sample is a single (timestamp, value) observation fed into the fit.
type Sample struct {
	At    time.Time
	Value float64
}

// Utils is the rule utility this package's Plugin exports.
type Utils struct {
	logger *logx.Logger
}

// NewUtils constructs the trend utility.
func NewUtils(logger *logx.Logger) *Utils {
	return &Utils{logger: logger}
}

// Predictor fits a line over samples (x = seconds since the first sample,
// y = value) and returns a TimeProvider computing the next absolute time
// the fitted line is forecast to cross threshold. The provider returns nil
// (no further firings) when the line is flat or its crossing instant is
// not in the future, as when the slope points away from threshold.
//
// Predictor performs the regression once, eagerly, at construction time.
// The TimeProvider it returns is not pure: only its first call computes
// the crossing instant, and every later call returns nil.
func (u *Utils) Predictor(samples []Sample, threshold float64) func() (*time.Time, error) {
	if len(samples) < 2 {
		return func() (*time.Time, error) { return nil, nil }
	}

	base := samples[0].At
	r := new(regression.Regression)
	r.SetObserved("value")
	r.SetVar(0, "seconds_since_start")
	for _, s := range samples {
		r.Train(regression.DataPoint(s.Value, []float64{s.At.Sub(base).Seconds()}))
	}
	if err := r.Run(); err != nil {
		u.logger.Warn("trend predictor fit failed", "error", err)
		return func() (*time.Time, error) { return nil, nil }
	}

	intercept := r.Coeff(0)
	slope := r.Coeff(1)

	called := false
	return func() (*time.Time, error) {
		if called {
			return nil, nil
		}
		called = true

		if slope == 0 {
			return nil, nil
		}
		// threshold = intercept + slope * x  =>  x = (threshold - intercept) / slope
		crossX := (threshold - intercept) / slope
		crossAt := base.Add(time.Duration(crossX * float64(time.Second)))
		if !crossAt.After(time.Now()) {
			return nil, nil
		}
		return &crossAt, nil
	}
}

// Plugin registers this package's utility with the plugin service. It
// produces no impacted-condition batches of its own: all the interesting
// work happens inside the *rules.Manager*'s timed-rule loop once a rule
// asks Utils.Predictor for a TimeProvider.
type Plugin struct {
	utils *Utils
}

// NewPlugin wraps utils as a registrable plugin.
func NewPlugin(utils *Utils) *Plugin { return &Plugin{utils: utils} }

// RuleUtility implements plugins.Plugin.
func (p *Plugin) RuleUtility() any { return p.utils }

// Run implements plugins.Plugin. The trend utility has no background feed
// of its own, so the returned channel only ever closes, on ctx
// cancellation.
func (p *Plugin) Run(ctx context.Context) (<-chan []engine.Condition, error) {
	out := make(chan []engine.Condition)
	go func() {
		<-ctx.Done()
		close(out)
	}()
	return out, nil
}
