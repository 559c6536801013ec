package hub

import (
	"errors"
	"log/slog"
	"sync"
	"time"

	"pairing-relay/domain"
)

var (
	ErrAlreadyExists = errors.New("session already exists")
	ErrNotFound      = errors.New("session not found")
	ErrAlreadyJoined = errors.New("session already joined")
	ErrClosed        = errors.New("hub is not accepting connections")
)

type session struct {
	id           string
	dapp         domain.Connection
	wallet       domain.Connection
	createdAt    time.Time
	lastActivity time.Time
}

func (s *session) snapshot() domain.Session {
	return domain.Session{
		ID:           s.id,
		DApp:         s.dapp,
		Wallet:       s.wallet,
		CreatedAt:    s.createdAt,
		LastActivity: s.lastActivity,
	}
}

func (s *session) touch(now time.Time) {
	if now.After(s.lastActivity) {
		s.lastActivity = now
	}
}

// Hub owns the session table and the set of live connections. Every
// method takes the lock for its own duration only; callers send to peers
// after the method returns.
type Hub struct {
	sessions map[string]*session
	clients  map[string]domain.Connection
	now      func() time.Time
	closing  bool
	mu       sync.Mutex
}

type Option func(*Hub)

// WithClock replaces time.Now as the source of session timestamps.
func WithClock(now func() time.Time) Option {
	return func(h *Hub) { h.now = now }
}

func New(opts ...Option) *Hub {
	h := &Hub{
		sessions: make(map[string]*session),
		clients:  make(map[string]domain.Connection),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

func (h *Hub) Now() time.Time { return h.now() }

func (h *Hub) Register(conn domain.Connection) error {
	h.mu.Lock()
	if h.closing {
		h.mu.Unlock()
		return ErrClosed
	}
	h.clients[conn.ID()] = conn
	count := len(h.clients)
	h.mu.Unlock()

	slog.Info("client connected", "clientId", conn.ID(), "clients", count)
	return nil
}

// StopAccepting makes every later Register fail. Connections already
// tracked are unaffected.
func (h *Hub) StopAccepting() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closing = true
}

func (h *Hub) Unregister(conn domain.Connection) {
	h.mu.Lock()
	delete(h.clients, conn.ID())
	count := len(h.clients)
	h.mu.Unlock()

	slog.Info("client disconnected", "clientId", conn.ID(), "clients", count)
}

// Create stores a new session with conn as its dApp peer.
func (h *Hub) Create(id string, conn domain.Connection) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, exists := h.sessions[id]; exists {
		return ErrAlreadyExists
	}
	now := h.now()
	h.sessions[id] = &session{
		id:           id,
		dapp:         conn,
		createdAt:    now,
		lastActivity: now,
	}
	return nil
}

// Join fills the wallet slot. The returned session reflects the state after
// the join so the caller can notify the dApp peer.
func (h *Hub) Join(id string, conn domain.Connection) (domain.Session, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	s, exists := h.sessions[id]
	if !exists {
		return domain.Session{}, ErrNotFound
	}
	if s.wallet != nil {
		return domain.Session{}, ErrAlreadyJoined
	}
	s.wallet = conn
	s.touch(h.now())
	return s.snapshot(), nil
}

func (h *Hub) Touch(id string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if s, exists := h.sessions[id]; exists {
		s.touch(h.now())
	}
}

// Detach clears the slot held by role if conn still occupies it. The
// returned session is the state after the slot was cleared; deleted reports
// whether that left the session empty and it was removed. ok is false if no
// such session exists or the slot belongs to another connection.
func (h *Hub) Detach(id string, role domain.Role, conn domain.Connection) (s domain.Session, deleted, ok bool) {
	h.mu.Lock()
	defer h.mu.Unlock()

	rec, exists := h.sessions[id]
	if !exists {
		return domain.Session{}, false, false
	}
	switch {
	case role == domain.RoleDApp && rec.dapp == conn:
		rec.dapp = nil
	case role == domain.RoleWallet && rec.wallet == conn:
		rec.wallet = nil
	default:
		return domain.Session{}, false, false
	}
	if rec.dapp == nil && rec.wallet == nil {
		delete(h.sessions, id)
		deleted = true
	}
	return rec.snapshot(), deleted, true
}

// Remove deletes the session unconditionally. A second call for the same id
// returns false.
func (h *Hub) Remove(id string) (domain.Session, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()

	s, exists := h.sessions[id]
	if !exists {
		return domain.Session{}, false
	}
	delete(h.sessions, id)
	return s.snapshot(), true
}

// RemoveIdle deletes the session only if its last activity is before
// cutoff, so a frame arriving between a sweep's snapshot and its removal
// keeps the session alive.
func (h *Hub) RemoveIdle(id string, cutoff time.Time) (domain.Session, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()

	s, exists := h.sessions[id]
	if !exists || !s.lastActivity.Before(cutoff) {
		return domain.Session{}, false
	}
	delete(h.sessions, id)
	return s.snapshot(), true
}

func (h *Hub) Get(id string) (domain.Session, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()

	s, exists := h.sessions[id]
	if !exists {
		return domain.Session{}, false
	}
	return s.snapshot(), true
}

func (h *Hub) Snapshot() []domain.Session {
	h.mu.Lock()
	defer h.mu.Unlock()

	out := make([]domain.Session, 0, len(h.sessions))
	for _, s := range h.sessions {
		out = append(out, s.snapshot())
	}
	return out
}

// Clients returns every tracked connection, bound to a session or not.
func (h *Hub) Clients() []domain.Connection {
	h.mu.Lock()
	defer h.mu.Unlock()

	out := make([]domain.Connection, 0, len(h.clients))
	for _, c := range h.clients {
		out = append(out, c)
	}
	return out
}

func (h *Hub) Stats() (sessions, clients int) {
	h.mu.Lock()
	defer h.mu.Unlock()

	return len(h.sessions), len(h.clients)
}
