// Package daemon owns the agentrailsd process's embedded service
// lifecycles: the NATS/JetStream server backing internal/eventlog's
// durable event log, and the ephemeral Redis session mirror
// (SPEC_FULL.md's DOMAIN STACK), both of which outlive any single
// connection or command.
package daemon

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"
)

const (
	// DefaultNATSPort is the default TCP port for the embedded NATS
	// server backing the durable event log.
	DefaultNATSPort = 4222

	// DefaultNATSMaxMem is the embedded JetStream memory limit (256 MiB).
	DefaultNATSMaxMem = 256 << 20

	// DefaultNATSMaxStore is the embedded JetStream file storage limit (1 GiB).
	DefaultNATSMaxStore = 1 << 30
)

// NATSServer wraps an embedded NATS server with JetStream and provides
// lifecycle management (start, stop, health check) for the daemon's
// durable event log (internal/eventlog).
type NATSServer struct {
	server   *server.Server
	conn     *nats.Conn // in-process connection for the daemon's own handlers
	storeDir string
	port     int
}

// NATSConfig holds configuration for the embedded NATS server.
type NATSConfig struct {
	Port     int    // TCP port for external connections
	StoreDir string // JetStream file storage directory
	Token    string // auth token for client connections
}

// StartNATSServer creates and starts an embedded NATS server with
// JetStream enabled. The server listens on the configured TCP port and
// also hands back an in-process connection for the daemon's own
// internal/eventlog writer.
func StartNATSServer(cfg NATSConfig) (*NATSServer, error) {
	if cfg.StoreDir == "" {
		return nil, fmt.Errorf("daemon: NATS store dir is required")
	}
	if err := os.MkdirAll(cfg.StoreDir, 0700); err != nil {
		return nil, fmt.Errorf("daemon: create NATS store dir: %w", err)
	}

	opts := &server.Options{
		ServerName:         "agentrailsd",
		Host:               "127.0.0.1",
		Port:               cfg.Port,
		JetStream:          true,
		JetStreamMaxMemory: DefaultNATSMaxMem,
		JetStreamMaxStore:  DefaultNATSMaxStore,
		StoreDir:           cfg.StoreDir,
		NoLog:              true,
		NoSigs:             true,
	}
	if cfg.Token != "" {
		opts.Authorization = cfg.Token
	}

	ns, err := server.NewServer(opts)
	if err != nil {
		return nil, fmt.Errorf("daemon: create NATS server: %w", err)
	}

	go ns.Start()
	if !ns.ReadyForConnections(10 * time.Second) {
		ns.Shutdown()
		return nil, fmt.Errorf("daemon: NATS server failed to become ready within 10s")
	}

	connectOpts := []nats.Option{nats.Name("agentrailsd-internal")}
	if cfg.Token != "" {
		connectOpts = append(connectOpts, nats.Token(cfg.Token))
	}
	nc, err := nats.Connect(ns.ClientURL(), connectOpts...)
	if err != nil {
		ns.Shutdown()
		return nil, fmt.Errorf("daemon: in-process NATS connection: %w", err)
	}

	return &NATSServer{server: ns, conn: nc, storeDir: cfg.StoreDir, port: cfg.Port}, nil
}

// Conn returns the in-process NATS connection for the daemon's own use
// (internal/eventlog.New takes its JetStream context).
func (n *NATSServer) Conn() *nats.Conn { return n.conn }

// Port returns the TCP port the NATS server is listening on.
func (n *NATSServer) Port() int { return n.port }

// Shutdown drains the in-process connection, then stops the server and
// waits for completion. Safe to call on a nil receiver.
func (n *NATSServer) Shutdown() {
	if n == nil {
		return
	}
	if n.conn != nil {
		n.conn.Drain()
		n.conn.Close()
	}
	if n.server != nil {
		n.server.Shutdown()
		n.server.WaitForShutdown()
	}
}

// Health is a point-in-time snapshot of the embedded server's state,
// exposed through the daemon.status command and /healthz endpoint
// (SPEC_FULL.md's SUPPLEMENTED FEATURES).
type Health struct {
	Status      string `json:"status"`
	Port        int    `json:"port"`
	Connections int    `json:"connections"`
	JetStream   bool   `json:"jetstream"`
	Streams     int    `json:"streams,omitempty"`
	Messages    uint64 `json:"messages,omitempty"`
	Error       string `json:"error,omitempty"`
}

// Health returns a Health snapshot of the embedded server's current
// state.
func (n *NATSServer) Health() Health {
	if n == nil || n.server == nil {
		return Health{Status: "stopped"}
	}
	h := Health{Port: n.port}

	varz, err := n.server.Varz(nil)
	if err != nil {
		h.Status = "error"
		h.Error = err.Error()
		return h
	}
	h.Status = "running"
	h.Connections = int(varz.Connections)

	if jsz, err := n.server.Jsz(nil); err == nil && jsz != nil {
		h.JetStream = true
		h.Streams = int(jsz.Streams)
		h.Messages = jsz.Messages
	}
	return h
}

// ConnectExternalNATS establishes a client-only connection to a
// standalone NATS server, used instead of StartNATSServer when an
// operator runs NATS out-of-process (nats.external_url configured).
func ConnectExternalNATS(natsURL, token string) (*nats.Conn, error) {
	opts := []nats.Option{
		nats.Name("agentrailsd"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2 * time.Second),
	}
	if token != "" {
		opts = append(opts, nats.Token(token))
	}
	nc, err := nats.Connect(natsURL, opts...)
	if err != nil {
		return nil, fmt.Errorf("daemon: connect to external NATS at %s: %w", natsURL, err)
	}
	return nc, nil
}

// DefaultStoreDir derives the JetStream file storage directory from a
// daemon runtime directory (e.g. alongside the SQLite store path).
func DefaultStoreDir(runtimeDir string) string {
	return filepath.Join(runtimeDir, "nats")
}
