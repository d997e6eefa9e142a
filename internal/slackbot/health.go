package slackbot

import (
	"context"
	"fmt"
	"log"
	"net/http"
)

// HealthServer provides HTTP health endpoints for Kubernetes probes.
type HealthServer struct {
	bot    *Bot
	server *http.Server
	port   int
}

// NewHealthServer creates a new health server for the given bot.
func NewHealthServer(bot *Bot, port int) *HealthServer {
	return &HealthServer{
		bot:  bot,
		port: port,
	}
}

// Handler serves /healthz and /readyz.
func (h *HealthServer) Handler() http.Handler {
	mux := http.NewServeMux()

	// /healthz - liveness probe: checks if the bot is connected to Slack
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if h.bot.IsConnected() {
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte("ok"))
		} else {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte("disconnected"))
		}
	})

	// /readyz - readiness probe: lifecycle events are still accepted while
	// the socket reconnects
	mux.HandleFunc("/readyz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
	})
	return mux
}

// Start begins serving health endpoints. This should be called in a goroutine.
func (h *HealthServer) Start(ctx context.Context) error {
	h.server = &http.Server{
		Addr:    fmt.Sprintf(":%d", h.port),
		Handler: h.Handler(),
	}

	log.Printf("slackbot: starting health server on :%d", h.port)

	errCh := make(chan error, 1)
	go func() {
		if err := h.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		log.Println("slackbot: shutting down health server")
		return h.server.Shutdown(context.Background())
	case err := <-errCh:
		return fmt.Errorf("health server error: %w", err)
	}
}

// IsConnected returns whether the bot is currently connected to Slack.
func (b *Bot) IsConnected() bool {
	return b.connected.Load()
}
