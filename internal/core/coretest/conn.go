// Package coretest provides an in-memory core.SignalConnection for tests.
package coretest

import (
	"encoding/json"
	"sync"

	"github.com/dkeye/PoseSync/internal/core"
)

// Conn records every frame queued on it.
type Conn struct {
	id core.ConnID

	mu      sync.Mutex
	frames  []core.Frame
	closed  bool
	full    bool
	onClose func()
}

func NewConn(id string) *Conn {
	return &Conn{id: core.ConnID(id)}
}

func (c *Conn) ID() core.ConnID { return c.id }

func (c *Conn) TrySend(f core.Frame) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return core.ErrConnClosed
	}
	if c.full {
		return core.ErrBackpressure
	}
	c.frames = append(c.frames, f)
	return nil
}

// Close marks the connection closed and runs the OnClose hook once, outside the lock.
func (c *Conn) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	fn := c.onClose
	c.mu.Unlock()
	if fn != nil {
		fn()
	}
}

// OnClose mimics a transport whose read loop reports the disconnect.
func (c *Conn) OnClose(fn func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onClose = fn
}

// SetFull makes TrySend fail with core.ErrBackpressure.
func (c *Conn) SetFull(full bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.full = full
}

func (c *Conn) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *Conn) Envelopes() []core.Envelope {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]core.Envelope, 0, len(c.frames))
	for _, f := range c.frames {
		env, err := core.DecodeEnvelope(f)
		if err != nil {
			continue
		}
		out = append(out, env)
	}
	return out
}

// Events returns the payloads of every frame named event, in queue order.
func (c *Conn) Events(event string) []json.RawMessage {
	var out []json.RawMessage
	for _, env := range c.Envelopes() {
		if env.Event == event {
			out = append(out, env.Data)
		}
	}
	return out
}

func (c *Conn) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.frames = nil
}
