// Package reaper closes sessions that have seen no activity for longer than
// the configured timeout.
package reaper

import (
	"context"
	"log/slog"
	"time"

	"pairing-relay/domain"
)

type Store interface {
	Snapshot() []domain.Session
	RemoveIdle(id string, cutoff time.Time) (domain.Session, bool)
	Now() time.Time
}

type Terminator interface {
	EndSession(s domain.Session, reason string, closePeers bool)
}

type Reaper struct {
	store    Store
	end      Terminator
	timeout  time.Duration
	interval time.Duration
	reason   string
}

func New(store Store, end Terminator, timeout, interval time.Duration, reason string) *Reaper {
	return &Reaper{
		store:    store,
		end:      end,
		timeout:  timeout,
		interval: interval,
		reason:   reason,
	}
}

// Run sweeps every interval until ctx is cancelled.
func (r *Reaper) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	slog.Info("reaper started", "timeout", r.timeout, "interval", r.interval)
	for {
		select {
		case <-ctx.Done():
			slog.Info("reaper stopped")
			return
		case <-ticker.C:
			r.Sweep(r.store.Now())
		}
	}
}

// Sweep removes every session idle for longer than the timeout as of now
// and returns how many were reaped. Removal happens before peers are
// notified so a racing session_end or disconnect cannot notify twice.
func (r *Reaper) Sweep(now time.Time) int {
	cutoff := now.Add(-r.timeout)
	reaped := 0
	for _, snap := range r.store.Snapshot() {
		if !snap.LastActivity.Before(cutoff) {
			continue
		}
		s, ok := r.store.RemoveIdle(snap.ID, cutoff)
		if !ok {
			continue
		}
		reaped++
		slog.Info("session reaped", "sessionId", s.ID, "idle", now.Sub(s.LastActivity))
		r.end.EndSession(s, r.reason, true)
	}
	return reaped
}
