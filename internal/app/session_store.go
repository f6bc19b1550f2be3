package app

import (
	"cmp"
	"iter"
	"slices"
	"sync"
	"time"

	"github.com/dkeye/PoseSync/internal/core"
	"github.com/dkeye/PoseSync/internal/domain"
	"github.com/rs/zerolog/log"
)

type member struct {
	conn         core.SignalConnection
	joinedAt     time.Time
	lastActivity time.Time
}

type session struct {
	createdAt time.Time
	members   map[domain.UserID]*member
}

// Peer is a point-in-time view of one member used for fan-out.
type Peer struct {
	User domain.UserID
	Conn core.SignalConnection
}

// StaleMember is a member whose last activity is older than the idle threshold.
type StaleMember struct {
	Session domain.SessionID
	User    domain.UserID
	Conn    core.SignalConnection
	Idle    time.Duration
}

type SessionInfo struct {
	ID        domain.SessionID `json:"sessionId"`
	UserCount int              `json:"userCount"`
	CreatedAt time.Time        `json:"createdAt"`
}

type StoreOption func(*SessionStore)

// WithClock replaces time.Now, mostly for tests.
func WithClock(now func() time.Time) StoreOption {
	return func(s *SessionStore) { s.now = now }
}

// SessionStore owns session membership. One lock guards the whole map so a
// session drained to zero members is removed in the same critical section
// and an empty session is never observable.
type SessionStore struct {
	mu       sync.RWMutex
	sessions map[domain.SessionID]*session
	now      func() time.Time
}

func NewSessionStore(opts ...StoreOption) *SessionStore {
	s := &SessionStore{
		sessions: make(map[domain.SessionID]*session),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Join creates the session if needed and inserts or replaces the member entry
// for uid. greet, when non-nil, runs before the lock is released with the
// roster of the other members, so anything it queues on conn precedes every
// broadcast that can see the new member. greet must not block.
func (s *SessionStore) Join(
	sid domain.SessionID,
	uid domain.UserID,
	conn core.SignalConnection,
	greet func(roster []domain.UserID),
) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	sess, ok := s.sessions[sid]
	if !ok {
		sess = &session{createdAt: now, members: make(map[domain.UserID]*member)}
		s.sessions[sid] = sess
		log.Info().Str("module", "app.store").Str("session", string(sid)).Msg("session created")
	}
	if prev, ok := sess.members[uid]; ok && prev.conn.ID() != conn.ID() {
		log.Warn().Str("module", "app.store").Str("session", string(sid)).Str("user", string(uid)).
			Str("prev_conn", string(prev.conn.ID())).Str("conn", string(conn.ID())).
			Msg("member superseded by new connection")
	}
	sess.members[uid] = &member{conn: conn, joinedAt: now, lastActivity: now}

	if greet != nil {
		greet(rosterExcept(sess, uid))
	}
	log.Info().Str("module", "app.store").Str("session", string(sid)).Str("user", string(uid)).
		Int("members", len(sess.members)).Msg("member joined")
	return len(sess.members)
}

// Leave removes uid from sid. ok is false when either did not exist.
func (s *SessionStore) Leave(sid domain.SessionID, uid domain.UserID) (count int, ok bool) {
	return s.leave(sid, uid, "")
}

// LeaveConn is Leave restricted to the member entry currently owned by conn.
// A connection superseded by a later join of the same user cannot evict the
// newer connection.
func (s *SessionStore) LeaveConn(sid domain.SessionID, uid domain.UserID, conn core.ConnID) (count int, ok bool) {
	return s.leave(sid, uid, conn)
}

func (s *SessionStore) leave(sid domain.SessionID, uid domain.UserID, owner core.ConnID) (int, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[sid]
	if !ok {
		return 0, false
	}
	m, ok := sess.members[uid]
	if !ok || (owner != "" && m.conn.ID() != owner) {
		return len(sess.members), false
	}
	delete(sess.members, uid)
	count := len(sess.members)
	log.Info().Str("module", "app.store").Str("session", string(sid)).Str("user", string(uid)).
		Int("members", count).Msg("member left")
	if count == 0 {
		delete(s.sessions, sid)
		log.Info().Str("module", "app.store").Str("session", string(sid)).Msg("session deleted")
	}
	return count, true
}

// Touch refreshes the member's last activity. It reports whether the member exists.
func (s *SessionStore) Touch(sid domain.SessionID, uid domain.UserID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[sid]
	if !ok {
		return false
	}
	m, ok := sess.members[uid]
	if !ok {
		return false
	}
	m.lastActivity = s.now()
	return true
}

// Members returns the sorted user ids of sid, or nil if it does not exist.
func (s *SessionStore) Members(sid domain.SessionID) []domain.UserID {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[sid]
	if !ok {
		return nil
	}
	return rosterExcept(sess, "")
}

// Peers snapshots the members of sid together with their connections.
func (s *SessionStore) Peers(sid domain.SessionID) []Peer {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[sid]
	if !ok {
		return nil
	}
	out := make([]Peer, 0, len(sess.members))
	for uid, m := range sess.members {
		out = append(out, Peer{User: uid, Conn: m.conn})
	}
	return out
}

func (s *SessionStore) Exists(sid domain.SessionID) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.sessions[sid]
	return ok
}

// StaleMembers yields every member idle for longer than threshold at now.
// Each iteration works on a snapshot taken when it starts, so the store may
// change freely while the caller acts on the results.
func (s *SessionStore) StaleMembers(now time.Time, threshold time.Duration) iter.Seq[StaleMember] {
	return func(yield func(StaleMember) bool) {
		s.mu.RLock()
		var stale []StaleMember
		for sid, sess := range s.sessions {
			for uid, m := range sess.members {
				if idle := now.Sub(m.lastActivity); idle > threshold {
					stale = append(stale, StaleMember{Session: sid, User: uid, Conn: m.conn, Idle: idle})
				}
			}
		}
		s.mu.RUnlock()

		for _, m := range stale {
			if !yield(m) {
				return
			}
		}
	}
}

// List describes every live session, ordered by id.
func (s *SessionStore) List() []SessionInfo {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]SessionInfo, 0, len(s.sessions))
	for sid, sess := range s.sessions {
		out = append(out, SessionInfo{ID: sid, UserCount: len(sess.members), CreatedAt: sess.createdAt})
	}
	slices.SortFunc(out, func(a, b SessionInfo) int { return cmp.Compare(a.ID, b.ID) })
	return out
}

func (s *SessionStore) Stats() (sessions, members int) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, sess := range s.sessions {
		members += len(sess.members)
	}
	return len(s.sessions), members
}

func rosterExcept(sess *session, skip domain.UserID) []domain.UserID {
	out := make([]domain.UserID, 0, len(sess.members))
	for uid := range sess.members {
		if uid != skip {
			out = append(out, uid)
		}
	}
	slices.Sort(out)
	return out
}
