package protocol

import (
	"encoding/json"
	"log/slog"

	"pairing-relay/domain"
)

const (
	errMissingSessionID = "Missing sessionId"
	errInvalidFormat    = "Invalid message format"
	errSessionExists    = "Session already exists"
	errSessionNotFound  = "Session not found"
	errAlreadyJoined    = "Session already joined"
	errAlreadyBound     = "Connection already bound to a session"
	errInvalidSessionID = "Invalid sessionId"
)

const (
	ReasonEnded              = "Session ended"
	ReasonTimeout            = "Session timeout"
	ReasonShutdown           = "Server shutdown"
	ReasonDAppDisconnected   = "dApp disconnected"
	ReasonWalletDisconnected = "Wallet disconnected"
)

type ackPayload struct {
	Created         bool `json:"created,omitempty"`
	Joined          bool `json:"joined,omitempty"`
	WalletConnected bool `json:"walletConnected,omitempty"`
}

type endPayload struct {
	Reason string `json:"reason"`
}

type errorPayload struct {
	Message string `json:"message"`
}

func (h *Handler) frame(msgType, sessionID string, payload any) []byte {
	raw, err := json.Marshal(payload)
	if err != nil {
		slog.Error("marshal payload", "type", msgType, "error", err)
		return nil
	}
	data, err := json.Marshal(domain.Message{
		Type:      msgType,
		SessionID: sessionID,
		Payload:   raw,
		Timestamp: h.hub.Now().UnixMilli(),
	})
	if err != nil {
		slog.Error("marshal frame", "type", msgType, "error", err)
		return nil
	}
	return data
}

func (h *Handler) ackFrame(sessionID string, ack ackPayload) []byte {
	return h.frame(domain.TypeSessionAck, sessionID, ack)
}

func (h *Handler) endFrame(sessionID, reason string) []byte {
	return h.frame(domain.TypeSessionEnd, sessionID, endPayload{Reason: reason})
}

func (h *Handler) errorFrame(sessionID, message string) []byte {
	return h.frame(domain.TypeError, sessionID, errorPayload{Message: message})
}

// deliver is best-effort: a peer that cannot take the frame is skipped.
func deliver(conn domain.Connection, data []byte) {
	if conn == nil || data == nil {
		return
	}
	if err := conn.Send(data); err != nil {
		slog.Debug("send dropped", "clientId", conn.ID(), "error", err)
	}
}
