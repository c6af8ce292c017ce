// Package plugins implements the Plugin Service: it runs registered
// plugins' main loops, forwards their impacted-condition batches to the
// Condition Engine, and indexes each plugin's exported rule utility by its
// runtime type for the Rule Manager's utility resolution, mirroring
// cosmo.plugin.service.PluginService.
package plugins

import (
	"context"
	"reflect"
	"sync"

	"github.com/google/uuid"

	"github.com/lumenhome/condrules/pkg/engine"
	"github.com/lumenhome/condrules/pkg/logx"
)

// Plugin is a long-running producer of impacted-condition batches that may
// also export a rule-building utility, indexed by its own runtime type.
type Plugin interface {
	// Run starts the plugin and returns a channel of impacted-condition
	// batches. The channel closes when the plugin stops; a returned error
	// means the plugin failed to start at all.
	Run(ctx context.Context) (<-chan []engine.Condition, error)
	// RuleUtility returns the utility this plugin exports to rule code, or
	// nil if it exports none.
	RuleUtility() any
}

// Service runs registered plugins and indexes their exported utilities by
// type, implementing rules.UtilityLookup.
type Service struct {
	engine *engine.Engine
	log    *logx.Logger

	mu    sync.RWMutex
	utils map[reflect.Type]any
}

// NewService constructs a Service that reports impacted conditions to e.
func NewService(e *engine.Engine, log *logx.Logger) *Service {
	return &Service{
		engine: e,
		log:    log,
		utils:  make(map[reflect.Type]any),
	}
}

// RegisterPlugin starts plugin in its own goroutine, indexes its exported
// utility (if any) by type, and returns the assigned plugin id.
func (s *Service) RegisterPlugin(ctx context.Context, plugin Plugin) (string, error) {
	pluginID := uuid.NewString()
	log := s.log.With("plugin_id", pluginID)

	util := plugin.RuleUtility()
	var utilType reflect.Type
	if util != nil {
		utilType = reflect.TypeOf(util)
		s.mu.Lock()
		s.utils[utilType] = util
		s.mu.Unlock()
	}

	impacted, err := plugin.Run(ctx)
	if err != nil {
		if utilType != nil {
			s.mu.Lock()
			delete(s.utils, utilType)
			s.mu.Unlock()
		}
		return "", err
	}

	go func() {
		defer func() {
			if utilType != nil {
				s.mu.Lock()
				delete(s.utils, utilType)
				s.mu.Unlock()
			}
		}()
		for conditions := range impacted {
			s.engine.ReportConditionEvent(ctx, conditions)
		}
		log.Debug("plugin stopped")
	}()

	return pluginID, nil
}

// UtilityForType returns the plugin utility registered under exactly type
// t, if any, implementing rules.UtilityLookup.
func (s *Service) UtilityForType(t reflect.Type) (any, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.utils[t]
	return u, ok
}
