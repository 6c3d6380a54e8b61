// Package server exposes the engine over HTTP: a websocket endpoint for live
// session traffic and a small JSON API for session management.
package server

import (
	"encoding/json"
	"log"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/louisbranch/gametable/internal/auth"
	gterrors "github.com/louisbranch/gametable/internal/errors"
	"github.com/louisbranch/gametable/internal/random"
	"github.com/louisbranch/gametable/internal/session/coordinator"
	"github.com/louisbranch/gametable/internal/session/domain"
)

// Server wires the transport to the session coordinator.
type Server struct {
	registry *coordinator.Registry
	verifier *auth.Verifier
	upgrader websocket.Upgrader

	now  func() time.Time
	seed func() int64
}

// Option configures a Server.
type Option func(*Server)

// WithClock overrides the wall clock. Used by tests.
func WithClock(now func() time.Time) Option {
	return func(s *Server) { s.now = now }
}

// WithDiceSeed overrides the per-roll seed source. Used by tests.
func WithDiceSeed(seed func() int64) Option {
	return func(s *Server) { s.seed = seed }
}

// New creates a Server over the given registry and token verifier.
func New(registry *coordinator.Registry, verifier *auth.Verifier, opts ...Option) *Server {
	s := &Server{
		registry: registry,
		verifier: verifier,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		now:  time.Now,
		seed: random.Seed,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Handler returns the HTTP routes.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWS)
	mux.HandleFunc("/api/sessions", s.handleSessions)
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	return mux
}

type sessionResponse struct {
	ID         string `json:"id"`
	CampaignID string `json:"campaign_id"`
	Name       string `json:"name,omitempty"`
	Status     string `json:"status"`
	CreatedAt  string `json:"created_at"`
	EndedAt    string `json:"ended_at,omitempty"`
}

func sessionToResponse(session domain.Session) sessionResponse {
	resp := sessionResponse{
		ID:         session.ID,
		CampaignID: session.CampaignID,
		Name:       session.Name,
		Status:     session.Status.String(),
		CreatedAt:  session.CreatedAt.UTC().Format(time.RFC3339),
	}
	if session.EndedAt != nil {
		resp.EndedAt = session.EndedAt.UTC().Format(time.RFC3339)
	}
	return resp
}

func (s *Server) handleSessions(w http.ResponseWriter, r *http.Request) {
	identity, err := s.verifier.Authenticate(bearerToken(r))
	if err != nil {
		http.Error(w, err.Error(), http.StatusUnauthorized)
		return
	}

	switch r.Method {
	case http.MethodPost:
		if !identity.IsDM() {
			http.Error(w, "only the dm may create sessions", http.StatusForbidden)
			return
		}
		var body struct {
			Name string `json:"name"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			http.Error(w, "request body is not valid json", http.StatusBadRequest)
			return
		}
		session, err := s.registry.CreateSession(r.Context(), domain.CreateSessionInput{
			CampaignID: identity.CampaignID,
			Name:       body.Name,
		})
		if err != nil {
			log.Printf("create session failed campaign_id=%s err=%v", identity.CampaignID, err)
			http.Error(w, err.Error(), httpStatus(err))
			return
		}
		writeJSON(w, http.StatusCreated, sessionToResponse(session))

	case http.MethodGet:
		sessions, err := s.registry.ListSessions(r.Context(), identity.CampaignID)
		if err != nil {
			log.Printf("list sessions failed campaign_id=%s err=%v", identity.CampaignID, err)
			http.Error(w, err.Error(), httpStatus(err))
			return
		}
		responses := make([]sessionResponse, 0, len(sessions))
		for _, session := range sessions {
			responses = append(responses, sessionToResponse(session))
		}
		writeJSON(w, http.StatusOK, responses)

	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func httpStatus(err error) int {
	switch gterrors.CodeOf(err) {
	case gterrors.CodeAuthenticationFailed:
		return http.StatusUnauthorized
	case gterrors.CodeAccessDenied:
		return http.StatusForbidden
	case gterrors.CodeSessionNotFound:
		return http.StatusNotFound
	case gterrors.CodeInvalidMessage, gterrors.CodeInvalidTransition:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		log.Printf("encode response failed err=%v", err)
	}
}
