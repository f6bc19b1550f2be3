package orch

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/dkeye/PoseSync/internal/app"
	"github.com/dkeye/PoseSync/internal/core/coretest"
	"github.com/dkeye/PoseSync/internal/domain"
	"github.com/dkeye/PoseSync/internal/metrics"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var fixedNow = time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

func newOrchestrator(policy app.Policy) *Orchestrator {
	return &Orchestrator{
		Registry: app.NewRegistry(),
		Sessions: app.NewSessionStore(),
		Policy:   policy,
		Metrics:  metrics.New(prometheus.NewRegistry(), metrics.Gauges{}),
		Now:      func() time.Time { return fixedNow },
	}
}

// connect returns a fake connection whose Close reports the disconnect the
// way the WebSocket read loop does.
func connect(o *Orchestrator, id string) *coretest.Conn {
	c := coretest.NewConn(id)
	c.OnClose(func() { o.OnDisconnect(c) })
	return c
}

func decode[T any](t *testing.T, raw json.RawMessage) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(raw, &v))
	return v
}

func joinAB(t *testing.T, o *Orchestrator) (a, b *coretest.Conn) {
	t.Helper()
	a, b = connect(o, "conn-a"), connect(o, "conn-b")
	o.OnJoin(a, domain.JoinSession{SessionID: "s1", UserID: "A"})
	o.OnJoin(b, domain.JoinSession{SessionID: "s1", UserID: "B"})
	return a, b
}

func TestJoinSendsRosterAndAnnounces(t *testing.T) {
	o := newOrchestrator(nil)
	a, b := joinAB(t, o)

	rosterA := a.Events(domain.EventSessionUsers)
	require.Len(t, rosterA, 1)
	assert.Empty(t, decode[domain.SessionUsers](t, rosterA[0]).Users)

	rosterB := b.Events(domain.EventSessionUsers)
	require.Len(t, rosterB, 1)
	assert.Equal(t, []domain.UserID{"A"}, decode[domain.SessionUsers](t, rosterB[0]).Users)

	joined := a.Events(domain.EventUserJoined)
	require.Len(t, joined, 1)
	assert.Equal(t, domain.UserJoined{UserID: "B", UserCount: 2}, decode[domain.UserJoined](t, joined[0]))

	assert.Empty(t, b.Events(domain.EventUserJoined), "joiner is not told about itself")
}

func TestJoinRosterPrecedesLaterEvents(t *testing.T) {
	o := newOrchestrator(nil)
	a, b := joinAB(t, o)
	o.OnPose(a, domain.PoseData{SessionID: "s1", UserID: "A", PoseData: json.RawMessage(`{}`), Timestamp: 1})

	envs := b.Envelopes()
	require.Len(t, envs, 2)
	assert.Equal(t, domain.EventSessionUsers, envs[0].Event)
	assert.Equal(t, domain.EventReceivePose, envs[1].Event)
}

func TestPoseFansOutToOthersOnly(t *testing.T) {
	o := newOrchestrator(nil)
	a, b := joinAB(t, o)
	c := connect(o, "conn-c")
	o.OnJoin(c, domain.JoinSession{SessionID: "s1", UserID: "C"})
	other := connect(o, "conn-x")
	o.OnJoin(other, domain.JoinSession{SessionID: "s2", UserID: "X"})

	pose := json.RawMessage(`{"keypoints":[{"x":0.5,"y":0.25,"score":0.99}]}`)
	o.OnPose(a, domain.PoseData{SessionID: "s1", UserID: "A", PoseData: pose, Timestamp: 1700000000000})

	assert.Empty(t, a.Events(domain.EventReceivePose), "never echoed to sender")
	assert.Empty(t, other.Events(domain.EventReceivePose), "never crosses sessions")
	for _, peer := range []*coretest.Conn{b, c} {
		got := peer.Events(domain.EventReceivePose)
		require.Len(t, got, 1)
		rp := decode[domain.ReceivePose](t, got[0])
		assert.Equal(t, domain.UserID("A"), rp.UserID)
		assert.Equal(t, int64(1700000000000), rp.Timestamp)
		assert.JSONEq(t, string(pose), string(rp.PoseData))
	}
}

func TestPoseWithoutTimestampIsStamped(t *testing.T) {
	o := newOrchestrator(nil)
	a, b := joinAB(t, o)
	o.OnPose(a, domain.PoseData{SessionID: "s1", UserID: "A", PoseData: json.RawMessage(`[]`)})

	got := b.Events(domain.EventReceivePose)
	require.Len(t, got, 1)
	assert.Equal(t, fixedNow.UnixMilli(), decode[domain.ReceivePose](t, got[0]).Timestamp)
}

func TestPoseFromUnboundConnectionIsDropped(t *testing.T) {
	o := newOrchestrator(nil)
	a, b := joinAB(t, o)
	stranger := connect(o, "conn-s")

	o.OnPose(stranger, domain.PoseData{SessionID: "s1", UserID: "S", PoseData: json.RawMessage(`{}`)})
	// Bound, but claiming another session or another user.
	o.OnPose(a, domain.PoseData{SessionID: "s2", UserID: "A", PoseData: json.RawMessage(`{}`)})
	o.OnPose(a, domain.PoseData{SessionID: "s1", UserID: "B", PoseData: json.RawMessage(`{}`)})

	assert.Empty(t, a.Events(domain.EventReceivePose))
	assert.Empty(t, b.Events(domain.EventReceivePose))
	assert.Empty(t, stranger.Envelopes(), "nothing is reported to the sender")
}

func TestMusicControlEchoesToEveryone(t *testing.T) {
	o := newOrchestrator(nil)
	a, b := joinAB(t, o)

	o.OnMediaControl(a, domain.MusicControl{SessionID: "s1", Action: domain.ActionPlay, Position: 12.5})

	for _, peer := range []*coretest.Conn{a, b} {
		got := peer.Events(domain.EventMusicEvent)
		require.Len(t, got, 1)
		assert.Equal(t, domain.MusicEvent{
			Action:    domain.ActionPlay,
			Position:  12.5,
			Timestamp: fixedNow.UnixMilli(),
		}, decode[domain.MusicEvent](t, got[0]))
	}
}

func TestMusicControlRequiresBinding(t *testing.T) {
	o := newOrchestrator(nil)
	a, b := joinAB(t, o)
	stranger := connect(o, "conn-s")

	o.OnMediaControl(stranger, domain.MusicControl{SessionID: "s1", Action: domain.ActionPause})
	o.OnMediaControl(a, domain.MusicControl{SessionID: "other", Action: domain.ActionPause})

	assert.Empty(t, a.Events(domain.EventMusicEvent))
	assert.Empty(t, b.Events(domain.EventMusicEvent))
	assert.Empty(t, stranger.Envelopes())
}

func TestMusicControlDoesNotRefreshLiveness(t *testing.T) {
	clock := fixedNow
	o := newOrchestrator(nil)
	o.Sessions = app.NewSessionStore(app.WithClock(func() time.Time { return clock }))
	a, _ := joinAB(t, o)

	clock = clock.Add(10 * time.Minute)
	o.OnMediaControl(a, domain.MusicControl{SessionID: "s1", Action: domain.ActionSeek, Position: 3})
	stale := 0
	for range o.Sessions.StaleMembers(clock, 5*time.Minute) {
		stale++
	}
	assert.Equal(t, 2, stale)

	o.OnPose(a, domain.PoseData{SessionID: "s1", UserID: "A", PoseData: json.RawMessage(`{}`)})
	stale = 0
	for range o.Sessions.StaleMembers(clock, 5*time.Minute) {
		stale++
	}
	assert.Equal(t, 1, stale)
}

func TestDisconnectAnnouncesDeparture(t *testing.T) {
	o := newOrchestrator(nil)
	a, b := joinAB(t, o)

	b.Close()

	left := a.Events(domain.EventUserLeft)
	require.Len(t, left, 1)
	assert.Equal(t, domain.UserLeft{UserID: "B", UserCount: 1}, decode[domain.UserLeft](t, left[0]))
	assert.Equal(t, []domain.UserID{"A"}, o.Sessions.Members("s1"))

	// A second disconnect for the same connection is a no-op.
	o.OnDisconnect(b)
	assert.Len(t, a.Events(domain.EventUserLeft), 1)
}

func TestLastDisconnectDeletesSession(t *testing.T) {
	o := newOrchestrator(nil)
	a, b := joinAB(t, o)
	b.Close()
	a.Close()

	assert.False(t, o.Sessions.Exists("s1"))
	assert.Empty(t, o.Sessions.Members("s1"))
	assert.Zero(t, o.Registry.Len())
	for range o.Sessions.StaleMembers(fixedNow.Add(time.Hour), time.Minute) {
		t.Fatal("deleted session must not be scanned")
	}
}

func TestDisconnectBeforeJoinIsNoop(t *testing.T) {
	o := newOrchestrator(nil)
	c := connect(o, "conn-c")
	assert.NotPanics(t, func() { o.OnDisconnect(c) })
}

func TestRejoinOnSameConnectionLeavesPreviousSession(t *testing.T) {
	o := newOrchestrator(nil)
	a, b := joinAB(t, o)

	o.OnJoin(b, domain.JoinSession{SessionID: "s2", UserID: "B"})

	left := a.Events(domain.EventUserLeft)
	require.Len(t, left, 1)
	assert.Equal(t, domain.UserLeft{UserID: "B", UserCount: 1}, decode[domain.UserLeft](t, left[0]))
	assert.Equal(t, []domain.UserID{"B"}, o.Sessions.Members("s2"))

	bound, ok := o.Registry.Lookup(b.ID())
	require.True(t, ok)
	assert.Equal(t, app.Binding{Session: "s2", User: "B"}, bound)
}

func TestDuplicateIdentityLastJoinWins(t *testing.T) {
	o := newOrchestrator(nil)
	a, first := joinAB(t, o)
	second := connect(o, "conn-b2")
	o.OnJoin(second, domain.JoinSession{SessionID: "s1", UserID: "B"})

	assert.Equal(t, []domain.UserID{"A", "B"}, o.Sessions.Members("s1"))

	o.OnPose(a, domain.PoseData{SessionID: "s1", UserID: "A", PoseData: json.RawMessage(`{}`)})
	assert.Len(t, second.Events(domain.EventReceivePose), 1)
	assert.Empty(t, first.Events(domain.EventReceivePose), "superseded connection is no longer a member")

	// Closing the superseded connection leaves the newer one in place.
	first.Close()
	assert.Equal(t, []domain.UserID{"A", "B"}, o.Sessions.Members("s1"))
	assert.Empty(t, a.Events(domain.EventUserLeft))

	second.Close()
	assert.Len(t, a.Events(domain.EventUserLeft), 1)
}

func TestSlowPeerDoesNotBlockOthers(t *testing.T) {
	o := newOrchestrator(app.DropPolicy{})
	a, b := joinAB(t, o)
	c := connect(o, "conn-c")
	o.OnJoin(c, domain.JoinSession{SessionID: "s1", UserID: "C"})
	b.SetFull(true)

	o.OnPose(a, domain.PoseData{SessionID: "s1", UserID: "A", PoseData: json.RawMessage(`{}`)})

	assert.Len(t, c.Events(domain.EventReceivePose), 1)
	assert.False(t, b.Closed())
}

func TestKickPolicyDisconnectsSlowPeer(t *testing.T) {
	o := newOrchestrator(app.KickPolicy{})
	a, b := joinAB(t, o)
	b.SetFull(true)

	o.OnPose(a, domain.PoseData{SessionID: "s1", UserID: "A", PoseData: json.RawMessage(`{}`)})

	assert.True(t, b.Closed())
	left := a.Events(domain.EventUserLeft)
	require.Len(t, left, 1)
	assert.Equal(t, domain.UserLeft{UserID: "B", UserCount: 1}, decode[domain.UserLeft](t, left[0]))
}

func TestReapedMemberDepartsLikeVoluntaryDisconnect(t *testing.T) {
	clock := fixedNow
	now := func() time.Time { return clock }
	o := newOrchestrator(nil)
	o.Sessions = app.NewSessionStore(app.WithClock(now))
	a, b := joinAB(t, o)

	clock = clock.Add(4 * time.Minute)
	o.OnPose(a, domain.PoseData{SessionID: "s1", UserID: "A", PoseData: json.RawMessage(`{}`)})
	clock = clock.Add(2 * time.Minute)

	reaper := app.NewReaper(o.Sessions, time.Minute, 5*time.Minute, app.WithReaperClock(now))
	assert.Equal(t, 1, reaper.Sweep())

	assert.True(t, b.Closed())
	assert.False(t, a.Closed())
	left := a.Events(domain.EventUserLeft)
	require.Len(t, left, 1)
	assert.Equal(t, domain.UserLeft{UserID: "B", UserCount: 1}, decode[domain.UserLeft](t, left[0]))

	// Racing client-side close after the reap produces nothing new.
	o.OnDisconnect(b)
	assert.Len(t, a.Events(domain.EventUserLeft), 1)
}

func TestMemberCountMatchesBindings(t *testing.T) {
	o := newOrchestrator(nil)
	conns := make([]*coretest.Conn, 0, 5)
	for i, uid := range []domain.UserID{"A", "B", "C", "D", "E"} {
		c := connect(o, "conn-"+string(uid))
		conns = append(conns, c)
		o.OnJoin(c, domain.JoinSession{SessionID: "s1", UserID: uid})
		assert.Equal(t, i+1, len(o.Sessions.Members("s1")))
		assert.Equal(t, i+1, o.Registry.Len())
	}
	conns[2].Close()
	assert.Len(t, o.Sessions.Members("s1"), 4)
	assert.Equal(t, 4, o.Registry.Len())
}
