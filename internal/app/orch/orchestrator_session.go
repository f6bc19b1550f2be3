package orch

import (
	"github.com/dkeye/PoseSync/internal/app"
	"github.com/dkeye/PoseSync/internal/core"
	"github.com/dkeye/PoseSync/internal/domain"
	"github.com/rs/zerolog/log"
)

// OnJoin admits the connection into a session. The roster reaches the joining
// connection before any event broadcast to the session after the join.
func (o *Orchestrator) OnJoin(conn core.SignalConnection, ev domain.JoinSession) {
	if prev, ok := o.Registry.Unbind(conn.ID()); ok {
		log.Info().Str("module", "orch").Str("conn", string(conn.ID())).
			Str("from_session", string(prev.Session)).Msg("rejoin, leaving previous session")
		o.depart(conn.ID(), prev)
	}

	count := o.Sessions.Join(ev.SessionID, ev.UserID, conn, func(roster []domain.UserID) {
		o.send(conn, domain.EventSessionUsers, domain.SessionUsers{Users: roster})
	})
	o.Registry.Bind(conn.ID(), app.Binding{Session: ev.SessionID, User: ev.UserID})
	o.Metrics.EventAccepted(domain.EventJoinSession)

	o.broadcast(ev.SessionID, domain.EventUserJoined,
		domain.UserJoined{UserID: ev.UserID, UserCount: count},
		except(ev.UserID, conn.ID()))

	log.Info().Str("module", "orch").Str("conn", string(conn.ID())).Str("session", string(ev.SessionID)).
		Str("user", string(ev.UserID)).Int("members", count).Msg("joined")
}

// OnDisconnect releases whatever the connection was bound to. It is safe to
// call any number of times; only the first call after a join has an effect.
func (o *Orchestrator) OnDisconnect(conn core.SignalConnection) {
	b, ok := o.Registry.Unbind(conn.ID())
	if !ok {
		return
	}
	o.depart(conn.ID(), b)
}

func (o *Orchestrator) depart(conn core.ConnID, b app.Binding) {
	count, ok := o.Sessions.LeaveConn(b.Session, b.User, conn)
	if !ok {
		log.Debug().Str("module", "orch").Str("conn", string(conn)).Str("session", string(b.Session)).
			Str("user", string(b.User)).Msg("no member entry owned by connection")
		return
	}
	log.Info().Str("module", "orch").Str("conn", string(conn)).Str("session", string(b.Session)).
		Str("user", string(b.User)).Int("members", count).Msg("left")
	if count == 0 {
		return
	}
	o.broadcast(b.Session, domain.EventUserLeft, domain.UserLeft{UserID: b.User, UserCount: count}, nil)
}
