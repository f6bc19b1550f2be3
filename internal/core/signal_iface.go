package core

import "errors"

var (
	ErrBackpressure = errors.New("backpressure")
	ErrConnClosed   = errors.New("connection closed")
)

// Frame is an encoded outbound message.
type Frame []byte

// ConnID identifies one live transport connection for its whole lifetime.
type ConnID string

// SignalConnection abstracts a client's messaging transport.
// Owned by the adapter; the adapter must Close() it. Closing must eventually
// deliver exactly one disconnect notification to the orchestrator.
type SignalConnection interface {
	ID() ConnID
	// TrySend queues f without blocking. It returns ErrBackpressure when the
	// outbound buffer is full and ErrConnClosed after Close.
	TrySend(f Frame) error
	Close()
}
