package domain

import (
	"encoding/json"
	"errors"
	"time"
)

const (
	TypeSessionInit = "session_init"
	TypeSessionJoin = "session_join"
	TypeSessionEnd  = "session_end"
	TypeHeartbeat   = "heartbeat"
	TypeSessionAck  = "session_ack"
	TypeError       = "error"
)

var (
	ErrConnClosed     = errors.New("connection closed")
	ErrSendBufferFull = errors.New("send buffer full")
)

// Message is the envelope carried by every frame in both directions.
// Payload is kept raw so relay frames are never re-encoded.
type Message struct {
	Type      string          `json:"type"`
	SessionID string          `json:"sessionId"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Timestamp int64           `json:"timestamp,omitempty"`
}

type Kind int

const (
	KindRelay Kind = iota
	KindInit
	KindJoin
	KindEnd
	KindHeartbeat
)

// KindOf classifies a frame type. Anything that is not a lifecycle type is
// an opaque relay frame.
func KindOf(msgType string) Kind {
	switch msgType {
	case TypeSessionInit:
		return KindInit
	case TypeSessionJoin:
		return KindJoin
	case TypeSessionEnd:
		return KindEnd
	case TypeHeartbeat:
		return KindHeartbeat
	default:
		return KindRelay
	}
}

type Role int

const (
	RoleNone Role = iota
	RoleDApp
	RoleWallet
)

func (r Role) String() string {
	switch r {
	case RoleDApp:
		return "dapp"
	case RoleWallet:
		return "wallet"
	default:
		return "none"
	}
}

func (r Role) Opposite() Role {
	switch r {
	case RoleDApp:
		return RoleWallet
	case RoleWallet:
		return RoleDApp
	default:
		return RoleNone
	}
}

// Session is a point-in-time copy of a registry record.
type Session struct {
	ID           string
	DApp         Connection
	Wallet       Connection
	CreatedAt    time.Time
	LastActivity time.Time
}

func (s Session) Peer(r Role) Connection {
	switch r {
	case RoleDApp:
		return s.DApp
	case RoleWallet:
		return s.Wallet
	default:
		return nil
	}
}

func (s Session) Peers() []Connection {
	peers := make([]Connection, 0, 2)
	if s.DApp != nil {
		peers = append(peers, s.DApp)
	}
	if s.Wallet != nil {
		peers = append(peers, s.Wallet)
	}
	return peers
}

type Connection interface {
	ID() string
	Send(data []byte) error
	Close() error
	// Bind fixes the connection's session and role. Calls after the first
	// are ignored; callers check Binding before mutating the registry.
	Bind(sessionID string, role Role)
	Binding() (sessionID string, role Role)
}

type ConnectionTracker interface {
	// Register fails once the tracker has stopped accepting connections.
	Register(conn Connection) error
	Unregister(conn Connection)
}

type MessageHandler interface {
	Handle(conn Connection, data []byte)
	Disconnect(conn Connection)
}
