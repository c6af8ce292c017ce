// Package geofence provides a rule utility that turns a lat/lon proximity
// check into a leaf condition, backed by a background poller against the
// Google Maps Distance Matrix API.
package geofence

import (
	"context"
	"fmt"
	"time"

	"googlemaps.github.io/maps"

	"github.com/lumenhome/condrules/pkg/engine"
	"github.com/lumenhome/condrules/pkg/logx"
)

// Utils is the rule utility this package's Plugin exports.
type Utils struct {
	client       *maps.Client
	engine       *engine.Engine
	logger       *logx.Logger
	pollInterval time.Duration
}

// NewUtils constructs the geofence utility against the Google Maps API
// identified by apiKey.
func NewUtils(apiKey string, e *engine.Engine, logger *logx.Logger) (*Utils, error) {
	client, err := maps.NewClient(maps.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("failed to construct maps client: %w", err)
	}
	return &Utils{client: client, engine: e, logger: logger, pollInterval: 30 * time.Second}, nil
}

// Near returns a leaf condition that is true whenever origin's distance to
// (lat, lon) is within radiusMeters, maintained by a background poller
// registered with the engine as the leaf's own private event source. The
// poller stops when ctx is cancelled.
func (u *Utils) Near(ctx context.Context, origin string, lat, lon float64, radiusMeters float64) *engine.LeafCondition {
	leaf := engine.NewLeaf(fmt.Sprintf("near(%s,%.5f,%.5f,%.0fm)", origin, lat, lon, radiusMeters))
	destination := fmt.Sprintf("%f,%f", lat, lon)

	go u.poll(ctx, leaf, origin, destination, radiusMeters)
	return leaf
}

func (u *Utils) poll(ctx context.Context, leaf *engine.LeafCondition, origin, destination string, radiusMeters float64) {
	ticker := time.NewTicker(u.pollInterval)
	defer ticker.Stop()

	for {
		meters, err := u.distanceMeters(ctx, origin, destination)
		if err != nil {
			u.logger.Warn("geofence distance lookup failed", "error", err)
		} else {
			within := meters <= radiusMeters
			if within != leaf.Evaluate() {
				leaf.Set(within)
				u.engine.ReportConditionEvent(ctx, []engine.Condition{leaf})
			}
		}

		select {
		case <-ticker.C:
		case <-ctx.Done():
			return
		}
	}
}

func (u *Utils) distanceMeters(ctx context.Context, origin, destination string) (float64, error) {
	resp, err := u.client.DistanceMatrix(ctx, &maps.DistanceMatrixRequest{
		Origins:      []string{origin},
		Destinations: []string{destination},
	})
	if err != nil {
		return 0, err
	}
	if len(resp.Rows) == 0 || len(resp.Rows[0].Elements) == 0 {
		return 0, fmt.Errorf("distance matrix returned no elements")
	}
	el := resp.Rows[0].Elements[0]
	if el.Status != "OK" {
		return 0, fmt.Errorf("distance matrix element status: %s", el.Status)
	}
	return float64(el.Distance.Meters), nil
}

// Plugin registers this package's utility with the plugin service. Like
// the trend plugin, it produces no impacted-condition batches of its own:
// Near's pollers report directly to the engine once a rule calls it.
type Plugin struct {
	utils *Utils
}

// NewPlugin wraps utils as a registrable plugin.
func NewPlugin(utils *Utils) *Plugin { return &Plugin{utils: utils} }

// RuleUtility implements plugins.Plugin.
func (p *Plugin) RuleUtility() any { return p.utils }

// Run implements plugins.Plugin.
func (p *Plugin) Run(ctx context.Context) (<-chan []engine.Condition, error) {
	out := make(chan []engine.Condition)
	go func() {
		<-ctx.Done()
		close(out)
	}()
	return out, nil
}
