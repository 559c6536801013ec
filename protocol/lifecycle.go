package protocol

import (
	"context"
	"log/slog"
	"time"

	"pairing-relay/domain"
)

const drainPoll = 50 * time.Millisecond

// Disconnect runs once per connection when its socket is gone. It releases
// the connection's slot and tells the counterpart, if any.
func (h *Handler) Disconnect(conn domain.Connection) {
	id, role := conn.Binding()
	if role == domain.RoleNone {
		return
	}

	s, deleted, ok := h.hub.Detach(id, role, conn)
	if !ok {
		return
	}
	slog.Info("peer detached", "sessionId", id, "clientId", conn.ID(), "role", role.String(), "sessionRemoved", deleted)
	if deleted {
		return
	}

	reason := ReasonDAppDisconnected
	if role == domain.RoleWallet {
		reason = ReasonWalletDisconnected
	}
	deliver(s.Peer(role.Opposite()), h.endFrame(id, reason))
}

// EndSession sends session_end to every peer of an already removed session
// and optionally closes their connections.
func (h *Handler) EndSession(s domain.Session, reason string, closePeers bool) {
	frame := h.endFrame(s.ID, reason)
	peers := s.Peers()
	for _, p := range peers {
		deliver(p, frame)
	}
	if !closePeers {
		return
	}
	for _, p := range peers {
		if err := p.Close(); err != nil {
			slog.Debug("close peer", "sessionId", s.ID, "clientId", p.ID(), "error", err)
		}
	}
}

// Shutdown refuses new connections, ends every live session with a
// shutdown reason, closes every tracked connection and waits for them to
// drain.
func (h *Handler) Shutdown(ctx context.Context) error {
	h.hub.StopAccepting()
	for _, snap := range h.hub.Snapshot() {
		if s, ok := h.hub.Remove(snap.ID); ok {
			h.EndSession(s, ReasonShutdown, true)
		}
	}
	for _, c := range h.hub.Clients() {
		c.Close()
	}

	ticker := time.NewTicker(drainPoll)
	defer ticker.Stop()
	for {
		if _, clients := h.hub.Stats(); clients == 0 {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
