package websocket

import (
	"log/slog"
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"pairing-relay/domain"
)

type Options struct {
	// AllowedOrigins restricts browser origins. Empty allows any origin.
	AllowedOrigins []string
	MaxMessageSize int64
}

func newUpgrader(allowedOrigins []string) websocket.Upgrader {
	allowed := make(map[string]bool, len(allowedOrigins))
	for _, o := range allowedOrigins {
		allowed[o] = true
	}
	return websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			if len(allowed) == 0 || allowed["*"] {
				return true
			}
			origin := r.Header.Get("Origin")
			return origin == "" || allowed[origin]
		},
	}
}

// Handler upgrades requests to WebSocket connections and starts their
// pumps.
func Handler(tracker domain.ConnectionTracker, handler domain.MessageHandler, opts Options) http.HandlerFunc {
	upgrader := newUpgrader(opts.AllowedOrigins)
	maxSize := opts.MaxMessageSize
	if maxSize <= 0 {
		maxSize = 64 * 1024
	}

	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			slog.Error("upgrade error", "error", err)
			return
		}

		NewConn(uuid.New().String(), conn, tracker, handler, maxSize).Start()
	}
}
