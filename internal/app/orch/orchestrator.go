// Package orch routes inbound client events to the right peers.
package orch

import (
	"errors"
	"time"

	"github.com/dkeye/PoseSync/internal/app"
	"github.com/dkeye/PoseSync/internal/core"
	"github.com/dkeye/PoseSync/internal/domain"
	"github.com/dkeye/PoseSync/internal/metrics"
	"github.com/rs/zerolog/log"
)

// Orchestrator is the event router. Registry and Sessions are required;
// a nil Policy drops frames for slow peers, a nil Metrics records nothing.
type Orchestrator struct {
	Registry *app.Registry
	Sessions *app.SessionStore
	Policy   app.Policy
	Metrics  *metrics.Relay
	// Now stamps events that arrive without a client timestamp.
	Now func() time.Time
}

func (o *Orchestrator) now() time.Time {
	if o.Now != nil {
		return o.Now()
	}
	return time.Now()
}

func (o *Orchestrator) stamp(ts int64) int64 {
	if ts > 0 {
		return ts
	}
	return o.now().UnixMilli()
}

// send queues one event on a single connection.
func (o *Orchestrator) send(conn core.SignalConnection, event string, payload any) {
	frame, err := core.EncodeFrame(event, payload)
	if err != nil {
		log.Error().Err(err).Str("module", "orch").Str("event", event).Msg("encode frame")
		return
	}
	if err := conn.TrySend(frame); err != nil {
		o.Metrics.FrameDropped()
		log.Warn().Err(err).Str("module", "orch").Str("conn", string(conn.ID())).Str("event", event).Msg("send failed")
	}
}

// broadcast encodes payload once and queues it for every member of sid that
// skip does not exclude. A failing recipient never stops the fan-out.
func (o *Orchestrator) broadcast(sid domain.SessionID, event string, payload any, skip func(app.Peer) bool) int {
	frame, err := core.EncodeFrame(event, payload)
	if err != nil {
		log.Error().Err(err).Str("module", "orch").Str("event", event).Msg("encode frame")
		return 0
	}
	sent := 0
	var slow []app.Peer
	for _, p := range o.Sessions.Peers(sid) {
		if skip != nil && skip(p) {
			continue
		}
		if err := p.Conn.TrySend(frame); err != nil {
			o.Metrics.FrameDropped()
			if errors.Is(err, core.ErrBackpressure) {
				slow = append(slow, p)
			}
			log.Debug().Err(err).Str("module", "orch").Str("session", string(sid)).
				Str("to", string(p.User)).Str("event", event).Msg("frame dropped")
			continue
		}
		sent++
	}
	for _, p := range slow {
		o.onBackpressure(sid, p)
	}
	return sent
}

func (o *Orchestrator) onBackpressure(sid domain.SessionID, p app.Peer) {
	if o.Policy == nil {
		return
	}
	switch o.Policy.OnBackPressure(sid, p) {
	case app.KickMember:
		log.Warn().Str("module", "orch").Str("session", string(sid)).Str("user", string(p.User)).
			Str("conn", string(p.Conn.ID())).Msg("kicking slow peer")
		p.Conn.Close()
	case app.DropFrame:
	}
}

func except(uid domain.UserID, conn core.ConnID) func(app.Peer) bool {
	return func(p app.Peer) bool { return p.User == uid || p.Conn.ID() == conn }
}
