package api

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/werkbank-io/werkbank/internal/compliance"
	"github.com/werkbank-io/werkbank/internal/kpi"
	"github.com/werkbank-io/werkbank/internal/logbuf"
	"github.com/werkbank-io/werkbank/pkg/protocol"
)

// Directory is the agent roster slice the API needs.
type Directory interface {
	List() ([]*protocol.AgentInfo, error)
	Get(agentID string) (*protocol.AgentInfo, error)
}

// MessageBus publishes messages and exposes delivery history.
type MessageBus interface {
	Publish(msg protocol.Message) (string, error)
	History(agentID string, limit int) ([]protocol.Message, error)
}

// ComplianceLog serves recent audit entries.
type ComplianceLog interface {
	Recent(agentID string, limit int) ([]compliance.LogEntry, error)
}

// KPIStore serves metric observations and aggregates.
type KPIStore interface {
	Series(agentID, name string, limit int) ([]protocol.Metric, error)
	Summarize(agentID, name string, since time.Time) (kpi.Summary, error)
}

// LogQuerier abstracts log entry querying to avoid coupling to logbuf directly.
type LogQuerier interface {
	Query(f logbuf.Filter) []logbuf.Entry
}

// Deps are the collaborators the server reads from and writes to.
// Logs may be nil.
type Deps struct {
	Directory  Directory
	Bus        MessageBus
	Compliance ComplianceLog
	KPI        KPIStore
	Logs       LogQuerier
}

// Config holds API server configuration.
type Config struct {
	Host string
	Port int
	Key  string // API key for Bearer auth
}

// Server is the werkbank REST API server.
type Server struct {
	deps   Deps
	cfg    Config
	logger *slog.Logger
	srv    *http.Server
}

// NewServer creates a new API server.
func NewServer(deps Deps, cfg Config, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		deps:   deps,
		cfg:    cfg,
		logger: logger,
	}
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/health", s.handleHealth)
	mux.HandleFunc("GET /api/agents", s.requireAuth(s.handleListAgents))
	mux.HandleFunc("GET /api/agents/{id}", s.requireAuth(s.handleGetAgent))
	mux.HandleFunc("GET /api/agents/{id}/messages", s.requireAuth(s.handleAgentMessages))
	mux.HandleFunc("POST /api/messages", s.requireAuth(s.handlePostMessage))
	mux.HandleFunc("GET /api/compliance/logs", s.requireAuth(s.handleComplianceLogs))
	mux.HandleFunc("GET /api/kpi/series", s.requireAuth(s.handleKPISeries))
	mux.HandleFunc("GET /api/kpi/summary", s.requireAuth(s.handleKPISummary))
	mux.HandleFunc("GET /api/logs", s.requireAuth(s.handleGetLogs))

	s.srv = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler:           s.corsMiddleware(mux),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Start begins listening. Blocks until context is cancelled.
func (s *Server) Start(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.srv.Shutdown(shutCtx)
	}()

	s.logger.Info("api server starting", "addr", s.srv.Addr)
	if err := s.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("api server: %w", err)
	}
	return nil
}

// Handler returns the underlying http.Handler for testing.
func (s *Server) Handler() http.Handler {
	return s.srv.Handler
}

// --- Middleware ---

func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Authorization, Content-Type")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) requireAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.cfg.Key == "" {
			next(w, r)
			return
		}
		auth := r.Header.Get("Authorization")
		if !strings.HasPrefix(auth, "Bearer ") || strings.TrimPrefix(auth, "Bearer ") != s.cfg.Key {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
			return
		}
		next(w, r)
	}
}

// --- Handlers ---

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleListAgents(w http.ResponseWriter, _ *http.Request) {
	agents, err := s.deps.Directory.List()
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	if agents == nil {
		agents = []*protocol.AgentInfo{}
	}
	writeJSON(w, http.StatusOK, agents)
}

func (s *Server) handleGetAgent(w http.ResponseWriter, r *http.Request) {
	agent, err := s.deps.Directory.Get(r.PathValue("id"))
	if err != nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "agent not found"})
		return
	}
	writeJSON(w, http.StatusOK, agent)
}

func (s *Server) handleAgentMessages(w http.ResponseWriter, r *http.Request) {
	msgs, err := s.deps.Bus.History(r.PathValue("id"), queryInt(r, "limit", 100))
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	if msgs == nil {
		msgs = []protocol.Message{}
	}
	writeJSON(w, http.StatusOK, msgs)
}

type postMessageRequest struct {
	Sender   string          `json:"sender_id"`
	Receiver string          `json:"receiver_id"`
	Type     string          `json:"type"`
	Payload  json.RawMessage `json:"payload"`
	Priority string          `json:"priority"`
	// CorrelationID links a reply or operator decision to an earlier message.
	CorrelationID string `json:"correlation_id"`
}

func (s *Server) handlePostMessage(w http.ResponseWriter, r *http.Request) {
	var req postMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON"})
		return
	}
	if req.Receiver == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "receiver_id is required"})
		return
	}
	if req.Sender == "" {
		req.Sender = protocol.OperatorID
	}
	typ := protocol.MessageType(req.Type)
	if req.Type == "" {
		typ = protocol.TypeTaskRequest
	}
	payload := req.Payload
	if len(payload) == 0 {
		payload = json.RawMessage("{}")
	}

	msg, err := protocol.NewMessage(req.Sender, req.Receiver, typ, payload, protocol.Priority(req.Priority))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	msg.CorrelationID = req.CorrelationID

	id, err := s.deps.Bus.Publish(msg)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "accepted", "message_id": id})
}

func (s *Server) handleComplianceLogs(w http.ResponseWriter, r *http.Request) {
	entries, err := s.deps.Compliance.Recent(r.URL.Query().Get("agent"), queryInt(r, "limit", 100))
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	if entries == nil {
		entries = []compliance.LogEntry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

func (s *Server) handleKPISeries(w http.ResponseWriter, r *http.Request) {
	agent := r.URL.Query().Get("agent")
	metric := r.URL.Query().Get("metric")
	if agent == "" || metric == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "agent and metric are required"})
		return
	}
	series, err := s.deps.KPI.Series(agent, metric, queryInt(r, "limit", 100))
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	if series == nil {
		series = []protocol.Metric{}
	}
	writeJSON(w, http.StatusOK, series)
}

func (s *Server) handleKPISummary(w http.ResponseWriter, r *http.Request) {
	agent := r.URL.Query().Get("agent")
	metric := r.URL.Query().Get("metric")
	if agent == "" || metric == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "agent and metric are required"})
		return
	}

	var since time.Time
	if v := r.URL.Query().Get("since"); v != "" {
		ms, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "since must be unix milliseconds"})
			return
		}
		since = time.UnixMilli(ms)
	}

	summary, err := s.deps.KPI.Summarize(agent, metric, since)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

func (s *Server) handleGetLogs(w http.ResponseWriter, r *http.Request) {
	if s.deps.Logs == nil {
		writeJSON(w, http.StatusOK, []logbuf.Entry{})
		return
	}

	f := logbuf.Filter{
		MinLevel: slog.LevelDebug,
		Agent:    r.URL.Query().Get("agent"),
		Limit:    queryInt(r, "limit", 200),
	}
	switch strings.ToLower(r.URL.Query().Get("level")) {
	case "info":
		f.MinLevel = slog.LevelInfo
	case "warn":
		f.MinLevel = slog.LevelWarn
	case "error":
		f.MinLevel = slog.LevelError
	}
	if v := r.URL.Query().Get("since"); v != "" {
		if ms, err := strconv.ParseInt(v, 10, 64); err == nil {
			f.Since = time.UnixMilli(ms)
		}
	}

	entries := s.deps.Logs.Query(f)
	if entries == nil {
		entries = []logbuf.Entry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

// --- Helpers ---

func queryInt(r *http.Request, key string, fallback int) int {
	if v := r.URL.Query().Get(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return n
		}
	}
	return fallback
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
