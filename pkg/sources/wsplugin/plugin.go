// Package wsplugin provides a streaming Plugin that dials a websocket
// server and turns each frame into an impacted leaf condition, adapted
// from the dial/read-loop shape used by the pack's websocket client
// examples (DialContext, read loop pushing to a channel).
package wsplugin

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/gorilla/websocket"

	"github.com/lumenhome/condrules/pkg/engine"
	"github.com/lumenhome/condrules/pkg/logx"
)

// Frame is the minimal JSON message this plugin expects: an entity key, a
// boolean state, and a monotonically increasing sequence number.
type Frame struct {
	Key string `json:"key"`
	On  bool   `json:"on"`
	Seq int64  `json:"seq"`
}

// StreamUtils is the rule utility this plugin exports, giving rule code a
// way to query how far behind the stream it last observed.
type StreamUtils struct {
	lastSeq *atomic.Int64
}

// LastSeq returns the sequence number of the most recently processed
// frame, or 0 if none has arrived yet.
func (u *StreamUtils) LastSeq() int64 { return u.lastSeq.Load() }

// Plugin is a Plugin (pkg/plugins.Plugin) driven by a websocket stream.
type Plugin struct {
	url    string
	logger *logx.Logger

	mu      sync.Mutex
	leaves  map[string]*engine.LeafCondition
	lastSeq atomic.Int64
}

// New constructs a Plugin that will dial url when Run is called.
func New(url string, logger *logx.Logger) *Plugin {
	return &Plugin{url: url, logger: logger, leaves: make(map[string]*engine.LeafCondition)}
}

// Leaf returns (creating if necessary) the leaf condition tracking key's
// boolean state, so rule code can reference it before the stream ever
// mentions that key.
func (p *Plugin) Leaf(key string) *engine.LeafCondition {
	p.mu.Lock()
	defer p.mu.Unlock()
	if l, ok := p.leaves[key]; ok {
		return l
	}
	l := engine.NewLeaf(fmt.Sprintf("stream(%s)", key))
	p.leaves[key] = l
	return l
}

// RuleUtility implements plugins.Plugin, exporting *StreamUtils.
func (p *Plugin) RuleUtility() any { return &StreamUtils{lastSeq: &p.lastSeq} }

// Run implements plugins.Plugin: it dials the websocket endpoint and
// streams impacted-condition batches, one per frame, until ctx is
// cancelled or the connection drops.
func (p *Plugin) Run(ctx context.Context) (<-chan []engine.Condition, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, p.url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to stream: %w", err)
	}

	out := make(chan []engine.Condition)
	go p.readLoop(ctx, conn, out)
	return out, nil
}

func (p *Plugin) readLoop(ctx context.Context, conn *websocket.Conn, out chan<- []engine.Condition) {
	defer close(out)
	defer conn.Close()

	go func() {
		<-ctx.Done()
		conn.Close()
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() == nil {
				p.logger.Error("stream plugin read failed", "error", err)
			}
			return
		}

		var frame Frame
		if err := json.Unmarshal(data, &frame); err != nil {
			p.logger.Warn("stream plugin dropped malformed frame", "error", err)
			continue
		}

		p.lastSeq.Store(frame.Seq)
		leaf := p.Leaf(frame.Key)
		leaf.Set(frame.On)

		select {
		case out <- []engine.Condition{leaf}:
		case <-ctx.Done():
			return
		}
	}
}
