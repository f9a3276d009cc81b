package telemetry

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/agentrails/agentrailsd/internal/supervisor"
)

const maxBodyBytes = 8 << 20 // 8MiB, matching the frame codec's line cap

// Server exposes the OTLP logs/metrics/traces ingest endpoints (spec.md
// section 4.F), each path-scoped by the per-session token minted at PTY
// start.
type Server struct {
	sv         *supervisor.Supervisor
	addr       string
	verbose    bool
	httpServer *http.Server
	listener   net.Listener
}

// NewServer creates a Server bound to addr (host:port). verbose enables
// forwarding of codex's streaming sse-delta events that are otherwise
// dropped from fan-out.
func NewServer(sv *supervisor.Supervisor, addr string, verbose bool) *Server {
	return &Server{sv: sv, addr: addr, verbose: verbose}
}

// Start listens on s.addr and serves until ctx is canceled, mirroring
// the teacher's HTTPServer shutdown shape.
func (s *Server) Start(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/logs/", s.handleLogs)
	mux.HandleFunc("/v1/metrics/", s.handleMetrics)
	mux.HandleFunc("/v1/traces/", s.handleTraces)

	s.httpServer = &http.Server{
		Handler:      mux,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	var err error
	s.listener, err = net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("telemetry: listen on %s: %w", s.addr, err)
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.httpServer.Shutdown(shutdownCtx)
	}()

	return s.httpServer.Serve(s.listener)
}

// Addr returns the address the server is listening on.
func (s *Server) Addr() string {
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.addr
}

func tokenFromPath(prefix, path string) string {
	return strings.TrimPrefix(path, prefix)
}

func (s *Server) handleLogs(w http.ResponseWriter, r *http.Request) {
	sessionID, body, ok := s.preflight(w, r, "/v1/logs/")
	if !ok {
		return
	}
	var req logsRequest
	if err := json.Unmarshal(body, &req); err != nil {
		http.Error(w, "invalid JSON body", http.StatusBadRequest)
		return
	}

	var all []derived
	for _, rl := range req.ResourceLogs {
		for _, sl := range rl.ScopeLogs {
			all = append(all, fromLogRecords(sl.LogRecords, s.verbose)...)
		}
	}
	s.ingest(r.Context(), sessionID, all)
	w.WriteHeader(http.StatusOK)
}

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	sessionID, body, ok := s.preflight(w, r, "/v1/metrics/")
	if !ok {
		return
	}
	var req metricsRequest
	if err := json.Unmarshal(body, &req); err != nil {
		http.Error(w, "invalid JSON body", http.StatusBadRequest)
		return
	}

	var all []derived
	for _, rm := range req.ResourceMetrics {
		for _, sm := range rm.ScopeMetrics {
			all = append(all, fromMetrics(sm.Metrics)...)
		}
	}
	s.ingest(r.Context(), sessionID, all)
	w.WriteHeader(http.StatusOK)
}

func (s *Server) handleTraces(w http.ResponseWriter, r *http.Request) {
	sessionID, body, ok := s.preflight(w, r, "/v1/traces/")
	if !ok {
		return
	}
	var req tracesRequest
	if err := json.Unmarshal(body, &req); err != nil {
		http.Error(w, "invalid JSON body", http.StatusBadRequest)
		return
	}

	var all []derived
	for _, rs := range req.ResourceSpans {
		for _, ss := range rs.ScopeSpans {
			all = append(all, fromSpans(ss.Spans)...)
		}
	}
	s.ingest(r.Context(), sessionID, all)
	w.WriteHeader(http.StatusOK)
}

// preflight validates method, resolves the token to a sessionId, and
// reads the body, handling every failure mode spec.md section 4.F
// enumerates. ok is false once a response has already been written (or,
// for a silently-dropped reset connection, none is needed).
func (s *Server) preflight(w http.ResponseWriter, r *http.Request, prefix string) (sessionID string, body []byte, ok bool) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return "", nil, false
	}

	token := tokenFromPath(prefix, r.URL.Path)
	sessionID, found := s.sv.ResolveToken(token)
	if !found {
		http.Error(w, "unknown token", http.StatusNotFound)
		return "", nil, false
	}

	b, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		if isConnReset(err) {
			return "", nil, false
		}
		http.Error(w, "read failed", http.StatusInternalServerError)
		return "", nil, false
	}
	return sessionID, b, true
}

func isConnReset(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "reset by peer") || strings.Contains(msg, "broken pipe") || strings.Contains(msg, "connection reset")
}

// ingest forwards each derived event to the supervisor, retrying a
// transient store write conflict with a short exponential backoff
// (spec.md section "SPEC_FULL" DOMAIN STACK: cenkalti/backoff). Drop
// and empty cases are true no-ops per spec.md section 4.F.
func (s *Server) ingest(ctx context.Context, sessionID string, events []derived) {
	for _, d := range events {
		if d.drop {
			continue
		}
		ev := d.event
		_ = backoff.Retry(func() error {
			return s.sv.IngestKeyEvent(ctx, sessionID, ev)
		}, backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 3))

		if d.prompt != "" {
			s.sv.IngestPrompt(sessionID, d.prompt, ev.ObservedAt)
		}
	}
}
