package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/lmoretti/frontdesk/internal/agent"
	"github.com/lmoretti/frontdesk/internal/config"
	"github.com/lmoretti/frontdesk/internal/events"
	"github.com/lmoretti/frontdesk/internal/observability"
	"github.com/lmoretti/frontdesk/internal/session"
)

// CallService is the slice of the agent the HTTP layer needs.
type CallService interface {
	StartCall(ctx context.Context) (*session.Call, error)
	Invoke(ctx context.Context, callID, tool string, args json.RawMessage) (string, error)
}

type Server struct {
	cfg      config.Config
	sessions *session.Manager
	calls    CallService
	hub      *events.Hub
	metrics  *observability.Metrics
	upgrader websocket.Upgrader
}

func New(cfg config.Config, sessions *session.Manager, calls CallService, hub *events.Hub, metrics *observability.Metrics) *Server {
	return &Server{
		cfg:      cfg,
		sessions: sessions,
		calls:    calls,
		hub:      hub,
		metrics:  metrics,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				// Default: only allow browser websocket connections from the
				// same origin, so another website cannot watch live call
				// events if the service is ever exposed beyond localhost.
				if cfg.AllowAnyOrigin {
					return true
				}
				origin := strings.TrimSpace(r.Header.Get("Origin"))
				if origin == "" {
					// Non-browser clients often omit Origin. Allow them.
					return true
				}
				u, err := url.Parse(origin)
				if err != nil {
					return false
				}
				if u.Scheme != "http" && u.Scheme != "https" {
					return false
				}
				return strings.EqualFold(u.Host, r.Host)
			},
		},
	}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", s.handleHealth)
	r.Get("/readyz", s.handleReady)
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		observability.MetricsHandler().ServeHTTP(w, r)
	})

	r.Post("/v1/calls", s.handleCreateCall)
	r.Get("/v1/calls/{id}", s.handleGetCall)
	r.Post("/v1/calls/{id}/turns", s.handleAppendTurn)
	r.Post("/v1/calls/{id}/tools/{name}", s.handleToolCall)
	r.Get("/v1/calls/{id}/events/ws", s.handleCallEventsWS)
	r.Get("/v1/events/ws", s.handleAllEventsWS)

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
	})
}

func (s *Server) handleReady(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"status":       "ready",
		"active_calls": s.sessions.ActiveCount(),
	})
}

type createCallResponse struct {
	CallID          string        `json:"call_id"`
	State           session.State `json:"state"`
	StartedAt       time.Time     `json:"started_at"`
	InactivityTTLMS int64         `json:"inactivity_ttl_ms"`
}

func (s *Server) handleCreateCall(w http.ResponseWriter, r *http.Request) {
	call, err := s.calls.StartCall(r.Context())
	if err != nil {
		respondError(w, http.StatusBadGateway, "media_unavailable", err.Error())
		return
	}
	respondJSON(w, http.StatusCreated, createCallResponse{
		CallID:          call.ID,
		State:           call.State,
		StartedAt:       call.StartedAt,
		InactivityTTLMS: s.cfg.CallInactivityTimeout.Milliseconds(),
	})
}

func (s *Server) handleGetCall(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	call, err := s.sessions.Get(id)
	if err != nil {
		respondError(w, http.StatusNotFound, "call_not_found", err.Error())
		return
	}
	respondJSON(w, http.StatusOK, call)
}

type appendTurnRequest struct {
	Role string `json:"role"`
	Text string `json:"text"`
}

func (s *Server) handleAppendTurn(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var req appendTurnRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	role := strings.TrimSpace(req.Role)
	if role != "user" && role != "assistant" && role != "system" {
		respondError(w, http.StatusBadRequest, "invalid_role", "role must be user, assistant, or system")
		return
	}
	if strings.TrimSpace(req.Text) == "" {
		respondError(w, http.StatusBadRequest, "invalid_text", "text is required")
		return
	}
	if err := s.sessions.AppendTurn(id, session.Turn{Role: role, Text: req.Text}); err != nil {
		respondError(w, http.StatusNotFound, "call_not_found", err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type toolCallResponse struct {
	Reply string `json:"reply"`
}

func (s *Server) handleToolCall(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	name := chi.URLParam(r, "name")

	var args json.RawMessage
	if err := decodeJSON(r, &args); err != nil && !errors.Is(err, errEmptyBody) {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	reply, err := s.calls.Invoke(r.Context(), id, name, args)
	switch {
	case errors.Is(err, session.ErrNotFound):
		respondError(w, http.StatusNotFound, "call_not_found", err.Error())
		return
	case errors.Is(err, agent.ErrUnknownTool):
		respondError(w, http.StatusNotFound, "unknown_tool", err.Error())
		return
	case errors.Is(err, agent.ErrInvalidArgs):
		respondError(w, http.StatusBadRequest, "invalid_args", err.Error())
		return
	case err != nil:
		respondError(w, http.StatusInternalServerError, "tool_failed", err.Error())
		return
	}
	respondJSON(w, http.StatusOK, toolCallResponse{Reply: reply})
}

func (s *Server) handleCallEventsWS(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, err := s.sessions.Get(id); err != nil {
		respondError(w, http.StatusNotFound, "call_not_found", err.Error())
		return
	}
	s.serveEventsWS(w, r, id)
}

func (s *Server) handleAllEventsWS(w http.ResponseWriter, r *http.Request) {
	s.serveEventsWS(w, r, "")
}

func (s *Server) serveEventsWS(w http.ResponseWriter, r *http.Request, callID string) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	s.metrics.CallEvents.WithLabelValues("ws_connected").Inc()
	_ = s.hub.ServeConn(r.Context(), conn, callID)
	s.metrics.CallEvents.WithLabelValues("ws_disconnected").Inc()
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

var errEmptyBody = errors.New("empty body")

func decodeJSON(r *http.Request, out any) error {
	if r.Body == nil {
		return errEmptyBody
	}
	defer r.Body.Close()
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(out); err != nil {
		if strings.Contains(strings.ToLower(err.Error()), "eof") {
			return errEmptyBody
		}
		return err
	}
	return nil
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, errorResponse{Error: message, Code: code})
}
