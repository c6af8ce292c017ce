// Package events implements the Event Source Service: it runs registered
// EventSource functions forever, forwarding each non-empty result to the
// Condition Engine, mirroring cosmo.engine.source.EventSourceService.
package events

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/lumenhome/condrules/pkg/engine"
	"github.com/lumenhome/condrules/pkg/logx"
)

// EventSource blocks until its next batch of impacted conditions is ready,
// or returns an error that ends the source's task.
type EventSource func(ctx context.Context) ([]engine.Condition, error)

// DefaultSourceRateLimit bounds how often any single registered source may
// forward a batch to the engine, the idiomatic replacement for the
// teacher's own hand-rolled per-source rate limiter.
const DefaultSourceRateLimit = 50 // events/sec

// Service runs a set of registered event sources, each in its own
// goroutine, forwarding impacted conditions to the engine.
type Service struct {
	engine *engine.Engine
	log    *logx.Logger
	limit  rate.Limit

	mu      sync.Mutex
	cancels map[string]context.CancelFunc
}

// NewService constructs a Service that reports impacted conditions to e,
// rate-limiting each source to DefaultSourceRateLimit events per second.
func NewService(e *engine.Engine, log *logx.Logger) *Service {
	return &Service{
		engine:  e,
		log:     log,
		limit:   rate.Limit(DefaultSourceRateLimit),
		cancels: make(map[string]context.CancelFunc),
	}
}

// RegisterSource starts source in its own goroutine and returns its
// assigned source id. The source runs until ctx is cancelled or it returns
// an error, at which point it is removed from the registry.
func (s *Service) RegisterSource(ctx context.Context, source EventSource) string {
	sourceID := uuid.NewString()
	sourceCtx, cancel := context.WithCancel(ctx)

	s.mu.Lock()
	s.cancels[sourceID] = cancel
	s.mu.Unlock()

	go func() {
		defer s.onSourceComplete(sourceID)
		s.runSource(sourceCtx, sourceID, source)
	}()

	return sourceID
}

// Unregister stops the source identified by sourceID, if still running.
func (s *Service) Unregister(sourceID string) {
	s.mu.Lock()
	cancel, ok := s.cancels[sourceID]
	s.mu.Unlock()
	if ok {
		cancel()
	}
}

func (s *Service) runSource(ctx context.Context, sourceID string, source EventSource) {
	log := s.log.With("source_id", sourceID)
	limiter := rate.NewLimiter(s.limit, int(s.limit))

	for {
		impacted, err := source(ctx)
		if err != nil {
			if ctx.Err() != nil {
				log.Debug("event source stopped")
				return
			}
			log.Error("event source ended with error", "error", err)
			return
		}
		if len(impacted) == 0 {
			continue
		}

		if err := limiter.Wait(ctx); err != nil {
			log.Debug("event source stopped while rate-limited")
			return
		}
		s.engine.ReportConditionEvent(ctx, impacted)
	}
}

func (s *Service) onSourceComplete(sourceID string) {
	s.mu.Lock()
	delete(s.cancels, sourceID)
	s.mu.Unlock()
}
