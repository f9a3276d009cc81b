// Package server accepts TCP connections and speaks the daemon's wire
// protocol (spec.md sections 4.A and 6) over each one: it decodes
// client envelopes with internal/codec, routes "command" envelopes
// through internal/dispatch, and pushes pty.output/pty.event/pty.exit/
// stream.event envelopes back out as the Session Supervisor and
// Subscription Router produce them. Grounded on the teacher's
// internal/rpc connection-per-goroutine accept loop
// (internal/rpc/server.go's net.Listener.Accept pattern), generalized
// from a single request/response RPC framing to this protocol's
// fire-and-forget PTY lines plus typed command/reply pairs.
package server

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"

	"github.com/agentrails/agentrailsd/internal/codec"
	"github.com/agentrails/agentrailsd/internal/dispatch"
	"github.com/agentrails/agentrailsd/internal/idgen"
)

// Options configures a Server.
type Options struct {
	// AuthToken, if non-empty, is the token every "auth" envelope must
	// present (spec.md section 7's Auth taxonomy). Empty disables
	// auth, for loopback-only deployments.
	AuthToken string
	Logger    *slog.Logger
}

// Server listens for the daemon's line-delimited JSON wire protocol and
// dispatches commands against a shared Dispatcher.
type Server struct {
	dispatcher *dispatch.Dispatcher
	opts       Options
	log        *slog.Logger

	mu       sync.Mutex
	listener net.Listener
}

// New creates a Server backed by dispatcher.
func New(dispatcher *dispatch.Dispatcher, opts Options) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{dispatcher: dispatcher, opts: opts, log: logger}
}

// Serve listens on addr and accepts connections until ctx is canceled
// or Close is called. Each connection is handled on its own goroutine;
// Serve returns once the listener is closed, without waiting for those
// goroutines to finish (matching the teacher's shutdown posture of not
// blocking process exit on slow clients).
func (s *Server) Serve(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("server: listen on %s: %w", addr, err)
	}
	s.mu.Lock()
	s.listener = ln
	s.mu.Unlock()

	go func() {
		<-ctx.Done()
		_ = ln.Close()
	}()

	s.log.Info("server listening", "addr", ln.Addr().String())
	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			s.log.Warn("accept failed", "error", err)
			continue
		}
		go s.handleConn(ctx, conn)
	}
}

// Addr returns the listener's bound address, or "" before Serve starts
// listening.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Close stops accepting new connections.
func (s *Server) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Close()
}

func (s *Server) handleConn(ctx context.Context, nc net.Conn) {
	connID := idgen.NewEntityID("conn")
	c := newConn(connID, nc, s.dispatcher, s.log)
	defer c.cleanup()

	connCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	if !c.authenticate(s.opts.AuthToken) {
		return
	}

	c.serve(connCtx)
}

type minimalCommand struct {
	Type string `json:"type"`
}

func decodeInto(raw []byte, v interface{}) error {
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("server: decode envelope: %w", err)
	}
	return nil
}

func isClosedConnErr(err error) bool {
	return errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) || errors.Is(err, codec.ErrLineTooLong)
}

func decodeBase64(s string) ([]byte, error) {
	return base64.StdEncoding.DecodeString(s)
}

func encodeBase64(b []byte) string {
	return base64.StdEncoding.EncodeToString(b)
}
