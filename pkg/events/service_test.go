package events

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/lumenhome/condrules/pkg/engine"
	"github.com/lumenhome/condrules/pkg/logx"
)

func TestRegisterSourceForwardsImpactedConditions(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	e := engine.New(ctx)
	s := NewService(e, logx.NewLogger("error", "test"))

	leaf := engine.NewLeaf("source-leaf")
	fired := make(chan struct{}, 1)
	require.NoError(t, e.AddCondition(ctx, leaf, fired, nil))

	var calls atomic.Int32
	source := func(ctx context.Context) ([]engine.Condition, error) {
		n := calls.Add(1)
		if n == 1 {
			leaf.Set(true)
			return []engine.Condition{leaf}, nil
		}
		<-ctx.Done()
		return nil, ctx.Err()
	}

	s.RegisterSource(ctx, source)

	require.Eventually(t, func() bool {
		select {
		case <-fired:
			return true
		default:
			return false
		}
	}, time.Second, 10*time.Millisecond)
}

func TestSourceRemovedFromRegistryWhenItEndsWithError(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	e := engine.New(ctx)
	s := NewService(e, logx.NewLogger("error", "test"))

	boom := errors.New("source failed")
	sourceID := s.RegisterSource(ctx, func(ctx context.Context) ([]engine.Condition, error) {
		return nil, boom
	})

	require.Eventually(t, func() bool {
		s.mu.Lock()
		_, ok := s.cancels[sourceID]
		s.mu.Unlock()
		return !ok
	}, time.Second, 10*time.Millisecond)
}

func TestUnregisterStopsSource(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	e := engine.New(ctx)
	s := NewService(e, logx.NewLogger("error", "test"))

	started := make(chan struct{})
	var once atomic.Bool
	sourceID := s.RegisterSource(ctx, func(ctx context.Context) ([]engine.Condition, error) {
		if once.CompareAndSwap(false, true) {
			close(started)
		}
		<-ctx.Done()
		return nil, ctx.Err()
	})

	<-started
	s.Unregister(sourceID)

	require.Eventually(t, func() bool {
		s.mu.Lock()
		_, ok := s.cancels[sourceID]
		s.mu.Unlock()
		return !ok
	}, time.Second, 10*time.Millisecond)
}
