package signal

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/dkeye/PoseSync/internal/adapters/rtc"
	"github.com/dkeye/PoseSync/internal/app/orch"
	"github.com/dkeye/PoseSync/internal/core"
	"github.com/dkeye/PoseSync/internal/domain"
	"github.com/dkeye/PoseSync/internal/metrics"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
)

type Options struct {
	ReadLimit  int64
	PingPeriod time.Duration
	PongWait   time.Duration
	WriteWait  time.Duration
	SendBuffer int
	// WebRTC enables the data channel pose uplink when non-nil.
	WebRTC *webrtc.Configuration
}

func DefaultOptions() Options {
	return Options{
		ReadLimit:  65536,
		PingPeriod: 54 * time.Second,
		PongWait:   60 * time.Second,
		WriteWait:  5 * time.Second,
		SendBuffer: 256,
	}
}

type SignalWSController struct {
	Orch    *orch.Orchestrator
	Decoder *domain.Decoder
	Metrics *metrics.Relay
	Opts    Options
}

func NewSignalWSController(o *orch.Orchestrator, dec *domain.Decoder, m *metrics.Relay, opts Options) *SignalWSController {
	return &SignalWSController{
		Orch:    o,
		Decoder: dec,
		Metrics: m,
		Opts:    opts,
	}
}

// WsSignalConn is one browser connection. It implements core.SignalConnection.
type WsSignalConn struct {
	id     core.ConnID
	conn   *websocket.Conn
	send   chan core.Frame
	cancel context.CancelFunc

	mu     sync.RWMutex
	closed bool
	uplink *rtc.Uplink
}

func (c *WsSignalConn) ID() core.ConnID { return c.id }

func (c *WsSignalConn) TrySend(f core.Frame) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return core.ErrConnClosed
	}
	select {
	case c.send <- f:
	default:
		return core.ErrBackpressure
	}
	return nil
}

// Close stops both pumps and the socket. The read pump then reports the
// disconnect to the orchestrator.
func (c *WsSignalConn) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	close(c.send)
	up := c.uplink
	c.uplink = nil
	c.mu.Unlock()

	c.cancel()
	if up != nil {
		up.Close()
	}
	_ = c.conn.Close()
}

// attachUplink installs up as the connection's data channel uplink, closing
// any previous one. It reports false when the connection is already closed.
func (c *WsSignalConn) attachUplink(up *rtc.Uplink) bool {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return false
	}
	prev := c.uplink
	c.uplink = up
	c.mu.Unlock()
	if prev != nil {
		prev.Close()
	}
	return true
}

func (c *WsSignalConn) currentUplink() *rtc.Uplink {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.uplink
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

func (ctl *SignalWSController) HandleSignal(ctx context.Context, c *gin.Context) {
	id := core.ConnID(uuid.NewString())

	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("ws upgrade")
		return
	}
	log.Info().Str("module", "signal").Str("conn", string(id)).Str("remote", c.ClientIP()).Msg("new WS connection")

	ctx, cancel := context.WithCancel(ctx)
	conn := &WsSignalConn{
		id:     id,
		conn:   ws,
		send:   make(chan core.Frame, ctl.Opts.SendBuffer),
		cancel: cancel,
	}

	go ctl.writePump(ctx, conn)
	go ctl.readPump(ctx, conn)
}
