package orch

import (
	"github.com/dkeye/PoseSync/internal/core"
	"github.com/dkeye/PoseSync/internal/domain"
	"github.com/dkeye/PoseSync/internal/metrics"
	"github.com/rs/zerolog/log"
)

// OnPose forwards a pose frame to every other member of the sender's session.
// Frames that do not match the connection's binding are dropped without
// telling the sender.
func (o *Orchestrator) OnPose(conn core.SignalConnection, ev domain.PoseData) {
	b, ok := o.Registry.Lookup(conn.ID())
	if !ok || b.Session != ev.SessionID || b.User != ev.UserID {
		o.Metrics.EventDropped(domain.EventPoseData, metrics.ReasonUnbound)
		log.Debug().Str("module", "orch").Str("conn", string(conn.ID())).
			Str("session", string(ev.SessionID)).Msg("pose from unbound connection dropped")
		return
	}
	o.Sessions.Touch(b.Session, b.User)
	o.Metrics.EventAccepted(domain.EventPoseData)

	o.broadcast(b.Session, domain.EventReceivePose, domain.ReceivePose{
		UserID:    b.User,
		PoseData:  ev.PoseData,
		Timestamp: o.stamp(ev.Timestamp),
	}, except(b.User, conn.ID()))
}

// OnMediaControl echoes a transport command to every member, sender included,
// so every client applies the same command from the same message.
func (o *Orchestrator) OnMediaControl(conn core.SignalConnection, ev domain.MusicControl) {
	b, ok := o.Registry.Lookup(conn.ID())
	if !ok || b.Session != ev.SessionID {
		o.Metrics.EventDropped(domain.EventMusicControl, metrics.ReasonUnbound)
		return
	}
	if !o.Sessions.Exists(b.Session) {
		o.Metrics.EventDropped(domain.EventMusicControl, metrics.ReasonNoSession)
		return
	}
	o.Metrics.EventAccepted(domain.EventMusicControl)
	log.Info().Str("module", "orch").Str("session", string(b.Session)).Str("user", string(b.User)).
		Str("action", string(ev.Action)).Float64("position", ev.Position).Msg("music control")

	o.broadcast(b.Session, domain.EventMusicEvent, domain.MusicEvent{
		Action:    ev.Action,
		Position:  ev.Position,
		Timestamp: o.stamp(ev.Timestamp),
	}, nil)
}
