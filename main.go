package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"pairing-relay/config"
	"pairing-relay/hub"
	"pairing-relay/protocol"
	"pairing-relay/reaper"
	ws "pairing-relay/websocket"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("load config", "error", err)
	}

	cmd := &cobra.Command{
		Use:           "pairing-relay",
		Short:         "Relay that pairs a dApp and a wallet over a shared session id",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				slog.Error("invalid config", "error", err)
				return err
			}
			config.SetupLogger(cfg.Level())
			return run(cfg)
		},
	}

	f := cmd.Flags()
	f.StringVar(&cfg.Port, "port", cfg.Port, "listening port")
	f.DurationVar(&cfg.SessionTimeout, "session-timeout", cfg.SessionTimeout, "inactivity window before a session is reaped")
	f.DurationVar(&cfg.ReapInterval, "reap-interval", cfg.ReapInterval, "how often idle sessions are swept")
	f.DurationVar(&cfg.ShutdownTimeout, "shutdown-timeout", cfg.ShutdownTimeout, "time allowed for graceful shutdown")
	f.Int64Var(&cfg.MaxMessageSize, "max-message-size", cfg.MaxMessageSize, "largest inbound frame in bytes")
	f.IntVar(&cfg.MinSessionIDLength, "min-session-id-length", cfg.MinSessionIDLength, "reject shorter session ids on session_init (0 disables)")
	f.StringSliceVar(&cfg.AllowedOrigins, "allowed-origin", cfg.AllowedOrigins, "allowed browser origin, repeatable (default any)")
	f.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "debug, info, warn or error")
	return cmd
}

func run(cfg config.Config) error {
	started := time.Now()
	sessions := hub.New()
	handler := protocol.NewHandler(sessions, protocol.WithMinSessionIDLength(cfg.MinSessionIDLength))
	sweeper := reaper.New(sessions, handler, cfg.SessionTimeout, cfg.ReapInterval, protocol.ReasonTimeout)

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", ws.Handler(sessions, handler, ws.Options{
		AllowedOrigins: cfg.AllowedOrigins,
		MaxMessageSize: cfg.MaxMessageSize,
	}))
	mux.HandleFunc("/health", healthHandler(sessions, started))
	mux.HandleFunc("/stats", statsHandler(sessions))

	ln, err := net.Listen("tcp", ":"+cfg.Port)
	if err != nil {
		slog.Error("listen failed", "port", cfg.Port, "error", err)
		return fmt.Errorf("listen on port %s: %w", cfg.Port, err)
	}

	server := &http.Server{Handler: mux}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go sweeper.Run(ctx)

	serveErr := make(chan error, 1)
	go func() {
		slog.Info("server starting", "port", cfg.Port)
		if err := server.Serve(ln); !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-quit:
	case err := <-serveErr:
		slog.Error("server error", "error", err)
		return err
	}

	slog.Info("server shutting down")
	cancel()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer shutdownCancel()

	if err := handler.Shutdown(shutdownCtx); err != nil {
		slog.Warn("connections did not drain", "error", err)
	}
	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "error", err)
	}
	return nil
}

type statsSource interface {
	Stats() (sessions, clients int)
}

func healthHandler(src statsSource, started time.Time) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sessions, _ := src.Stats()
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"status":   "ok",
			"sessions": sessions,
			"uptime":   int64(time.Since(started).Seconds()),
		})
	}
}

func statsHandler(src statsSource) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sessions, clients := src.Stats()
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]int{"sessions": sessions, "clients": clients})
	}
}
