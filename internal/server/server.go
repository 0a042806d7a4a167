// Package server is the HTTP transport adapter that feeds tool-call events
// into grading sessions. It is deliberately thin: the engine makes no
// assumption about delivery beyond one-at-a-time, in-order events, and this
// package only translates JSON requests into Monitor calls.
//
// Routes:
//
//	POST /v1/sessions/start         — create and arm a grading session
//	POST /v1/sessions/{id}/calls    — evaluate one tool-call event
//	POST /v1/sessions/{id}/result   — stop, finalize and return the report
//	GET  /v1/stream                 — WebSocket feed of violations as they fire
package server

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/agentproctor/agentproctor/internal/constraint"
	"github.com/agentproctor/agentproctor/internal/grader"
	"github.com/agentproctor/agentproctor/internal/score"
	"github.com/agentproctor/agentproctor/internal/session"
	"github.com/agentproctor/agentproctor/internal/store"
)

// activeSession pins a session to the grader it was started with, so a
// manifest hot-reload never changes the rules mid-session.
type activeSession struct {
	grader    *grader.Grader
	monitor   *session.Monitor
	agentID   string
	startedAt time.Time

	mu     sync.Mutex
	result *score.Result // cached after first finalize
}

// Server hosts grading sessions over HTTP.
type Server struct {
	mu       sync.RWMutex
	grader   *grader.Grader
	sessions map[string]*activeSession

	store  store.Store // may be nil: persistence is optional
	hub    *Hub
	logger *slog.Logger
}

// NewServer creates a Server grading against the given grader. st may be
// nil to disable result persistence.
func NewServer(g *grader.Grader, st store.Store, hub *Hub, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		grader:   g,
		sessions: make(map[string]*activeSession),
		store:    st,
		hub:      hub,
		logger:   logger.With("component", "server.Server"),
	}
}

// SetGrader swaps the grader used for new sessions. Sessions already
// running keep the grader they started with.
func (s *Server) SetGrader(g *grader.Grader) {
	s.mu.Lock()
	s.grader = g
	s.mu.Unlock()
	s.logger.Info("grader replaced for new sessions", "test_id", g.Manifest().TestID)
}

// RegisterRoutes mounts the endpoints on the given ServeMux.
func (s *Server) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /v1/sessions/start", s.handleStart)
	mux.HandleFunc("POST /v1/sessions/{id}/calls", s.handleCall)
	mux.HandleFunc("POST /v1/sessions/{id}/result", s.handleResult)
	mux.HandleFunc("GET /v1/stream", s.hub.HandleWebSocket)
}

type startRequest struct {
	AgentID string `json:"agent_id"`
}

type startResponse struct {
	SessionID string `json:"session_id"`
	TestID    string `json:"test_id"`
	Objective string `json:"objective,omitempty"`
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	var req startRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	defer func() { _ = r.Body.Close() }()

	if req.AgentID == "" {
		writeError(w, http.StatusBadRequest, "agent_id is required")
		return
	}

	s.mu.RLock()
	g := s.grader
	s.mu.RUnlock()

	id := ulid.Make().String()
	mon := g.NewSession()

	if s.hub != nil {
		mon.RegisterObserver(func(toolName string, _ map[string]interface{}, violations []constraint.Violation) {
			if len(violations) == 0 {
				return
			}
			s.hub.Broadcast("violation", map[string]interface{}{
				"session_id": id,
				"tool_name":  toolName,
				"violations": violations,
			})
		})
	}

	mon.Start()

	s.mu.Lock()
	s.sessions[id] = &activeSession{
		grader:    g,
		monitor:   mon,
		agentID:   req.AgentID,
		startedAt: time.Now().UTC(),
	}
	s.mu.Unlock()

	s.logger.Info("session started", "session_id", id, "agent_id", req.AgentID,
		"test_id", g.Manifest().TestID)

	writeJSON(w, http.StatusOK, startResponse{
		SessionID: id,
		TestID:    g.Manifest().TestID,
		Objective: g.Manifest().Objective,
	})
}

func (s *Server) handleCall(w http.ResponseWriter, r *http.Request) {
	active, ok := s.session(r.PathValue("id"))
	if !ok {
		writeError(w, http.StatusNotFound, "unknown session")
		return
	}

	var call session.Call
	if err := json.NewDecoder(r.Body).Decode(&call); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	defer func() { _ = r.Body.Close() }()

	if call.ToolName == "" {
		writeError(w, http.StatusBadRequest, "tool_name is required")
		return
	}

	result := active.monitor.HandleCall(call.ToolName, call.ToolArgs)
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleResult(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	active, ok := s.session(id)
	if !ok {
		writeError(w, http.StatusNotFound, "unknown session")
		return
	}

	active.mu.Lock()
	defer active.mu.Unlock()

	if active.result == nil {
		res := active.grader.Finalize(r.Context(), active.monitor)
		active.result = &res
		s.persist(id, active, res)
	}

	writeJSON(w, http.StatusOK, active.result)
}

// persist stores the finished result. Persistence failures are logged and
// never surfaced to the client: the result itself is already computed.
func (s *Server) persist(id string, active *activeSession, res score.Result) {
	if s.store == nil {
		return
	}
	rec := &store.SessionRecord{
		ID:               id,
		TestID:           active.grader.Manifest().TestID,
		AgentID:          active.agentID,
		StartedAt:        active.startedAt,
		FinishedAt:       time.Now().UTC(),
		Score:            res.Score,
		SecurityScore:    res.SecurityScore,
		WorkflowScore:    res.WorkflowScore,
		PassThreshold:    res.PassThreshold,
		Passed:           res.Passed,
		ToolCallSequence: res.ToolCallSequence,
	}
	if err := s.store.SaveResult(rec, res.Violations); err != nil {
		s.logger.Error("failed to persist session result", "session_id", id, "error", err)
	}
}

func (s *Server) session(id string) (*activeSession, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	active, ok := s.sessions[id]
	return active, ok
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]interface{}{
		"ok":      false,
		"message": message,
	})
}
