package app

import (
	"context"
	"time"

	"github.com/dkeye/PoseSync/internal/metrics"
	"github.com/rs/zerolog/log"
)

// Reaper periodically closes the connections of idle members. It never edits
// the store itself: closing a connection runs the normal disconnect path.
type Reaper struct {
	store     *SessionStore
	interval  time.Duration
	threshold time.Duration
	now       func() time.Time
	metrics   *metrics.Relay
}

type ReaperOption func(*Reaper)

func WithReaperClock(now func() time.Time) ReaperOption {
	return func(r *Reaper) { r.now = now }
}

func WithReaperMetrics(m *metrics.Relay) ReaperOption {
	return func(r *Reaper) { r.metrics = m }
}

func NewReaper(store *SessionStore, interval, threshold time.Duration, opts ...ReaperOption) *Reaper {
	r := &Reaper{
		store:     store,
		interval:  interval,
		threshold: threshold,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run sweeps every interval until ctx is done.
func (r *Reaper) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	log.Info().Str("module", "app.reaper").Dur("interval", r.interval).Dur("threshold", r.threshold).Msg("reaper started")
	for {
		select {
		case <-ctx.Done():
			log.Info().Str("module", "app.reaper").Msg("reaper stopped")
			return
		case <-ticker.C:
			r.Sweep()
		}
	}
}

// Sweep closes every member idle past the threshold and returns how many it closed.
func (r *Reaper) Sweep() int {
	n := 0
	for m := range r.store.StaleMembers(r.now(), r.threshold) {
		log.Info().Str("module", "app.reaper").Str("session", string(m.Session)).Str("user", string(m.User)).
			Str("conn", string(m.Conn.ID())).Dur("idle", m.Idle).Msg("reaping idle member")
		m.Conn.Close()
		r.metrics.Reaped()
		n++
	}
	return n
}
