package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"

	"github.com/atomist/sdm-pack-lifecycle-bitbucket/internal/commands"
	"github.com/atomist/sdm-pack-lifecycle-bitbucket/internal/lifecycle"
)

// Renderer computes the actions for a lifecycle event.
type Renderer interface {
	RenderEvent(ctx context.Context, e lifecycle.Event, prefs lifecycle.Preferences) (lifecycle.Result, error)
}

// Executor runs a command rebuilt from signed action claims.
type Executor interface {
	ExecuteParams(ctx context.Context, name string, params map[string]string, actor string) error
}

// Poster delivers rendered actions to the event's chat channel.
type Poster interface {
	Post(ctx context.Context, e lifecycle.Event, actions []SignedAction) error
}

// MessageTracker is implemented by posters that remember the message they
// posted for each node.
type MessageTracker interface {
	HasMessage(e lifecycle.Event) bool
}

// ShouldPost reports whether actions rendered for e go to p. An empty action
// set is only posted over an earlier message for the same node, so that its
// stale controls are cleared.
func ShouldPost(p Poster, e lifecycle.Event, actions []SignedAction) bool {
	if p == nil {
		return false
	}
	if len(actions) > 0 {
		return true
	}
	t, ok := p.(MessageTracker)
	return ok && t.HasMessage(e)
}

// Server handles HTTP requests for lifecycle events and action callbacks.
type Server struct {
	renderer   Renderer
	executor   Executor
	poster     Poster
	prefs      lifecycle.Preferences
	signer     *Signer
	mux        *http.ServeMux
	httpServer *http.Server
}

// ServerConfig holds configuration for the webhook server.
type ServerConfig struct {
	Renderer    Renderer
	Executor    Executor
	Poster      Poster                // optional; without it rendered actions are only returned
	Preferences lifecycle.Preferences // optional channel preferences
	Signer      *Signer
}

// NewServer creates a new webhook server.
func NewServer(cfg ServerConfig) *Server {
	s := &Server{
		renderer: cfg.Renderer,
		executor: cfg.Executor,
		poster:   cfg.Poster,
		prefs:    cfg.Preferences,
		signer:   cfg.Signer,
		mux:      http.NewServeMux(),
	}

	s.mux.HandleFunc("POST /api/lifecycle/events", s.handleEvent)
	s.mux.HandleFunc("POST /api/commands/{token}", s.handleCommand)
	s.mux.HandleFunc("GET /health", s.handleHealth)

	return s
}

// Start starts the HTTP server on the given address.
func (s *Server) Start(addr string) error {
	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.mux,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer != nil {
		return s.httpServer.Shutdown(ctx)
	}
	return nil
}

// Handler returns the HTTP handler for use with custom servers.
func (s *Server) Handler() http.Handler {
	return s.mux
}

// EventResponse is the JSON response for a rendered event.
type EventResponse struct {
	Success bool           `json:"success"`
	Actions []SignedAction `json:"actions,omitempty"`
	Posted  bool           `json:"posted,omitempty"`
	Error   string         `json:"error,omitempty"`
}

// CommandRequest is the JSON request body for an action callback.
type CommandRequest struct {
	Value string `json:"value,omitempty"` // chosen menu option
	Actor string `json:"actor,omitempty"` // who clicked
}

// CommandResponse is the JSON response for an action callback.
type CommandResponse struct {
	Success bool   `json:"success"`
	Command string `json:"command,omitempty"`
	Error   string `json:"error,omitempty"`
}

// handleEvent handles POST /api/lifecycle/events
func (s *Server) handleEvent(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		s.writeJSON(w, http.StatusBadRequest, EventResponse{Error: "failed to read request body"})
		return
	}
	defer func() { _ = r.Body.Close() }()

	var e lifecycle.Event
	if err := json.Unmarshal(body, &e); err != nil {
		s.writeJSON(w, http.StatusBadRequest, EventResponse{Error: fmt.Sprintf("invalid event: %v", err)})
		return
	}

	ctx := r.Context()
	res, err := s.renderer.RenderEvent(ctx, e, s.prefs)
	if err != nil {
		s.writeJSON(w, http.StatusBadRequest, EventResponse{Error: err.Error()})
		return
	}

	signed, err := s.signer.SignAll(res.Actions())
	if err != nil {
		s.writeJSON(w, http.StatusInternalServerError, EventResponse{Error: err.Error()})
		return
	}

	resp := EventResponse{Success: true, Actions: signed}
	if e.Channel != "" && ShouldPost(s.poster, e, signed) {
		if err := s.poster.Post(ctx, e, signed); err != nil {
			log.Printf("webhook: post to %s failed: %v", e.Channel, err)
			resp.Error = fmt.Sprintf("post failed: %v", err)
		} else {
			resp.Posted = true
		}
	}
	s.writeJSON(w, http.StatusOK, resp)
}

// handleCommand handles POST /api/commands/{token}
func (s *Server) handleCommand(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	claims, err := s.signer.Verify(r.PathValue("token"))
	if err != nil {
		s.writeJSON(w, http.StatusUnauthorized, CommandResponse{Error: fmt.Sprintf("invalid token: %v", err)})
		return
	}

	var req CommandRequest
	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		s.writeJSON(w, http.StatusBadRequest, CommandResponse{Error: "failed to read request body"})
		return
	}
	defer func() { _ = r.Body.Close() }()
	if len(body) > 0 {
		if err := json.Unmarshal(body, &req); err != nil {
			s.writeJSON(w, http.StatusBadRequest, CommandResponse{Error: fmt.Sprintf("invalid JSON: %v", err)})
			return
		}
	}
	if claims.OptionParameter != "" && req.Value == "" {
		s.writeJSON(w, http.StatusBadRequest, CommandResponse{Command: claims.Command, Error: "missing value"})
		return
	}
	if !claims.Allows(req.Value) {
		s.writeJSON(w, http.StatusBadRequest, CommandResponse{Command: claims.Command, Error: fmt.Sprintf("value %q was not offered", req.Value)})
		return
	}

	err = s.executor.ExecuteParams(r.Context(), claims.Command, claims.Bind(req.Value), req.Actor)
	if err == nil {
		s.writeJSON(w, http.StatusOK, CommandResponse{Success: true, Command: claims.Command})
		return
	}

	var ce *commands.CommandError
	if errors.As(err, &ce) {
		s.writeJSON(w, http.StatusOK, CommandResponse{Command: claims.Command, Error: ce.Message})
		return
	}
	log.Printf("webhook: command %s failed: %v", claims.Command, err)
	s.writeJSON(w, http.StatusInternalServerError, CommandResponse{Command: claims.Command, Error: err.Error()})
}

// handleHealth handles GET /health for load balancer checks.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
