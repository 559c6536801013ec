package protocol

import (
	"encoding/json"
	"errors"
	"log/slog"

	"pairing-relay/domain"
	"pairing-relay/hub"
)

type Handler struct {
	hub         *hub.Hub
	minIDLength int
}

type Option func(*Handler)

// WithMinSessionIDLength rejects session_init frames whose id is shorter
// than n. Zero disables the check.
func WithMinSessionIDLength(n int) Option {
	return func(h *Handler) { h.minIDLength = n }
}

func NewHandler(sessions *hub.Hub, opts ...Option) *Handler {
	h := &Handler{hub: sessions}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// inbound holds the only envelope fields the relay reads from a client
// frame. Everything else, timestamp included, stays in the raw bytes.
type inbound struct {
	Type      string          `json:"type"`
	SessionID string          `json:"sessionId"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

func (h *Handler) Handle(conn domain.Connection, data []byte) {
	var msg inbound
	if err := json.Unmarshal(data, &msg); err != nil {
		slog.Warn("invalid message", "clientId", conn.ID(), "error", err)
		deliver(conn, h.errorFrame("", errInvalidFormat))
		return
	}

	if msg.SessionID == "" {
		deliver(conn, h.errorFrame("", errMissingSessionID))
		return
	}

	switch domain.KindOf(msg.Type) {
	case domain.KindInit:
		h.initSession(conn, msg.SessionID)
	case domain.KindJoin:
		h.joinSession(conn, msg.SessionID)
	case domain.KindEnd:
		h.endSession(conn, msg)
	case domain.KindHeartbeat:
		h.hub.Touch(msg.SessionID)
	default:
		h.relay(conn, msg.SessionID, data)
	}
}

func (h *Handler) initSession(conn domain.Connection, id string) {
	if _, role := conn.Binding(); role != domain.RoleNone {
		deliver(conn, h.errorFrame(id, errAlreadyBound))
		return
	}
	if len(id) < h.minIDLength {
		deliver(conn, h.errorFrame(id, errInvalidSessionID))
		return
	}

	if err := h.hub.Create(id, conn); err != nil {
		if errors.Is(err, hub.ErrAlreadyExists) {
			slog.Warn("duplicate session", "sessionId", id, "clientId", conn.ID())
			deliver(conn, h.errorFrame(id, errSessionExists))
		}
		return
	}
	conn.Bind(id, domain.RoleDApp)

	slog.Info("session created", "sessionId", id, "clientId", conn.ID())
	deliver(conn, h.ackFrame(id, ackPayload{Created: true}))
}

func (h *Handler) joinSession(conn domain.Connection, id string) {
	if _, role := conn.Binding(); role != domain.RoleNone {
		deliver(conn, h.errorFrame(id, errAlreadyBound))
		return
	}

	s, err := h.hub.Join(id, conn)
	switch {
	case errors.Is(err, hub.ErrNotFound):
		deliver(conn, h.errorFrame(id, errSessionNotFound))
		return
	case errors.Is(err, hub.ErrAlreadyJoined):
		slog.Warn("session already joined", "sessionId", id, "clientId", conn.ID())
		deliver(conn, h.errorFrame(id, errAlreadyJoined))
		return
	case err != nil:
		return
	}
	conn.Bind(id, domain.RoleWallet)

	slog.Info("wallet joined", "sessionId", id, "clientId", conn.ID())
	deliver(conn, h.ackFrame(id, ackPayload{Joined: true}))
	deliver(s.DApp, h.ackFrame(id, ackPayload{WalletConnected: true}))
}

func (h *Handler) endSession(conn domain.Connection, msg inbound) {
	s, ok := h.hub.Remove(msg.SessionID)
	if !ok {
		deliver(conn, h.errorFrame(msg.SessionID, errSessionNotFound))
		return
	}

	reason := ReasonEnded
	var p endPayload
	if len(msg.Payload) > 0 && json.Unmarshal(msg.Payload, &p) == nil && p.Reason != "" {
		reason = p.Reason
	}

	slog.Info("session ended", "sessionId", s.ID, "clientId", conn.ID(), "reason", reason)
	h.EndSession(s, reason, false)
}

// relay forwards the original frame bytes to the sender's counterpart.
// Frames from connections that do not hold a slot in the session are
// dropped.
func (h *Handler) relay(conn domain.Connection, id string, data []byte) {
	h.hub.Touch(id)

	s, ok := h.hub.Get(id)
	if !ok {
		slog.Debug("relay to unknown session", "sessionId", id, "clientId", conn.ID())
		return
	}
	boundID, role := conn.Binding()
	if role == domain.RoleNone || boundID != id || s.Peer(role) != conn {
		slog.Debug("relay from non-member", "sessionId", id, "clientId", conn.ID())
		return
	}

	target := s.Peer(role.Opposite())
	if target == nil {
		slog.Debug("relay peer absent", "sessionId", id, "role", role.String())
		return
	}
	deliver(target, data)
}
