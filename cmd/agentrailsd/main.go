// Command agentrailsd runs the control-plane daemon: it accepts the
// wire protocol's TCP connections, owns the durable State Store and the
// Session Supervisor's live PTYs, and serves OTLP telemetry ingest
// alongside them. Bootstrap follows the teacher's cmd/agent-controller
// shape (flag/config resolution, a cancelable root context, a single
// signal-triggered shutdown), generalized from a single reconcile loop
// to this daemon's several long-running components.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/agentrails/agentrailsd/internal/config"
	"github.com/agentrails/agentrailsd/internal/daemon"
	"github.com/agentrails/agentrailsd/internal/dispatch"
	"github.com/agentrails/agentrailsd/internal/eventlog"
	"github.com/agentrails/agentrailsd/internal/hookbridge"
	"github.com/agentrails/agentrailsd/internal/lifecyclehooks"
	"github.com/agentrails/agentrailsd/internal/router"
	"github.com/agentrails/agentrailsd/internal/server"
	"github.com/agentrails/agentrailsd/internal/store"
	"github.com/agentrails/agentrailsd/internal/supervisor"
	"github.com/agentrails/agentrailsd/internal/telemetry"
	"github.com/agentrails/agentrailsd/internal/titlenamer"
)

func main() {
	var configPath string

	root := &cobra.Command{
		Use:   "agentrailsd",
		Short: "Control-plane daemon multiplexing coding agents over PTYs",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(configPath)
		},
	}
	root.Flags().StringVar(&configPath, "config", "", "path to a YAML config file (AGENTRAILSD_* env vars always apply)")

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	log := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("agentrailsd: load config: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	d, cleanup, err := bootstrap(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer cleanup()

	srv := server.New(d.dispatcher, server.Options{AuthToken: cfg.AuthToken, Logger: log})

	healthMux := http.NewServeMux()
	healthMux.HandleFunc("/healthz", healthzHandler(d.dispatcher))
	healthSrv := &http.Server{Addr: healthAddr(cfg.ListenAddr), Handler: healthMux, ReadTimeout: 10 * time.Second}

	errCh := make(chan error, 3)
	go func() { errCh <- srv.Serve(ctx, cfg.ListenAddr) }()
	go func() { errCh <- d.telemetry.Start(ctx) }()
	go func() {
		if err := healthSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("agentrailsd: health endpoint: %w", err)
			return
		}
		errCh <- nil
	}()
	if d.hooks != nil {
		go d.hooks.Start(ctx)
	}
	if d.lifecycle != nil {
		d.lifecycle.Subscribe(ctx, d.router)
	}

	log.Info("agentrailsd started", "listen", cfg.ListenAddr, "telemetry", cfg.TelemetryAddr)

	select {
	case <-ctx.Done():
		log.Info("shutdown signal received, draining")
	case err := <-errCh:
		if err != nil {
			log.Error("component exited", "error", err)
		}
		stop()
	}

	// Graceful shutdown order (SPEC_FULL.md's supplemented shutdown
	// sequence): stop accepting new connections, let in-flight replies
	// flush, close PTYs with their SIGTERM-grace-SIGKILL sequence, then
	// stop NATS last.
	_ = srv.Close()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	_ = healthSrv.Shutdown(shutdownCtx)
	cancel()
	time.Sleep(200 * time.Millisecond)
	d.supervisor.Shutdown()
	if d.nats != nil {
		d.nats.Shutdown()
	}

	log.Info("agentrailsd stopped")
	return nil
}

// daemonComponents holds every long-running piece run wires together,
// so bootstrap can return them as a unit and cleanup can tear down the
// ones that don't have their own ctx-driven shutdown path.
type daemonComponents struct {
	store      *store.Store
	router     *router.Router
	supervisor *supervisor.Supervisor
	dispatcher *dispatch.Dispatcher
	telemetry  *telemetry.Server
	hooks      *hookbridge.Bridge
	lifecycle  *lifecyclehooks.Bridge
	nats       *daemon.NATSServer
	mirror     daemon.SessionMirror
}

func bootstrap(ctx context.Context, cfg *config.Config, log *slog.Logger) (*daemonComponents, func(), error) {
	var natsServer *daemon.NATSServer
	var evLog *eventlog.Log

	if cfg.NATS.ExternalURL != "" {
		conn, err := daemon.ConnectExternalNATS(cfg.NATS.ExternalURL, cfg.NATS.Token)
		if err != nil {
			return nil, nil, fmt.Errorf("agentrailsd: connect external NATS: %w", err)
		}
		js, err := conn.JetStream()
		if err != nil {
			return nil, nil, fmt.Errorf("agentrailsd: attach JetStream: %w", err)
		}
		if err := eventlog.EnsureStream(js); err != nil {
			return nil, nil, fmt.Errorf("agentrailsd: ensure event stream: %w", err)
		}
		evLog = eventlog.New(js)
	} else if cfg.NATS.Embed {
		storeDir := cfg.NATS.StoreDir
		if storeDir == "" {
			storeDir = daemon.DefaultStoreDir(filepath.Dir(cfg.StorePath))
		}
		var err error
		natsServer, err = daemon.StartNATSServer(daemon.NATSConfig{
			Port:     cfg.NATS.Port,
			StoreDir: storeDir,
			Token:    cfg.NATS.Token,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("agentrailsd: start embedded NATS: %w", err)
		}
		js, err := natsServer.Conn().JetStream()
		if err != nil {
			natsServer.Shutdown()
			return nil, nil, fmt.Errorf("agentrailsd: attach JetStream: %w", err)
		}
		if err := eventlog.EnsureStream(js); err != nil {
			natsServer.Shutdown()
			return nil, nil, fmt.Errorf("agentrailsd: ensure event stream: %w", err)
		}
		evLog = eventlog.New(js)
	}
	// cfg.NATS.Embed == false and ExternalURL == "" leaves evLog nil:
	// the store still durably commits to SQLite, it just doesn't
	// durably replay across restarts (used by single-shot/test runs).

	st, err := store.Open(ctx, cfg.StorePath, evLog)
	if err != nil {
		if natsServer != nil {
			natsServer.Shutdown()
		}
		return nil, nil, fmt.Errorf("agentrailsd: open store: %w", err)
	}

	rt := router.New()
	if evLog != nil {
		rt.SetLog(evLog)
	}
	sv := supervisor.New(st, rt, supervisor.Config{
		TelemetryBaseURL:          cfg.TelemetryBaseURL,
		LaunchMode:                supervisor.LaunchMode(cfg.LaunchMode),
		HooksDir:                  cfg.HooksDir,
		HistoryPersistenceEnabled: cfg.HistoryPersistence,
	})
	st.SetSink(rt.Publish)
	sv.SetLogger(log)

	var mirror daemon.SessionMirror
	if cfg.Mirror.RedisURL != "" {
		opts := []daemon.RedisMirrorOption{}
		if cfg.Mirror.TTLSec > 0 {
			opts = append(opts, daemon.WithTTL(time.Duration(cfg.Mirror.TTLSec)*time.Second))
		}
		m, err := daemon.NewRedisMirror(cfg.Mirror.RedisURL, opts...)
		if err != nil {
			log.Warn("session mirror disabled", "error", err)
		} else {
			mirror = m
			sv.SetMirror(m)
		}
	}

	var namer dispatch.TitleNamer
	if cfg.AnthropicAPIKey != "" {
		provider, err := titlenamer.NewAnthropicProvider(cfg.AnthropicAPIKey)
		if err != nil {
			log.Warn("title namer disabled", "error", err)
		} else {
			n := titlenamer.New(st, provider)
			namer = n
			sv.OnPrompt = n.OnPrompt
		}
	}

	d := dispatch.New(st, sv, rt, namer)
	d.NATS = natsServer

	telemetrySrv := telemetry.NewServer(sv, cfg.TelemetryAddr, cfg.VerboseTelemetry)

	var hooks *hookbridge.Bridge
	if cfg.HooksDir != "" {
		hooks, err = hookbridge.New(sv, cfg.HooksDir)
		if err != nil {
			log.Warn("hook notify bridge disabled", "error", err)
			hooks = nil
		}
	}

	var lifecycle *lifecyclehooks.Bridge
	var connectors []lifecyclehooks.Connector
	if cfg.Lifecycle.WebhookURL != "" {
		connectors = append(connectors, lifecyclehooks.NewWebhookConnector(cfg.Lifecycle.WebhookURL, cfg.Lifecycle.WebhookSecret, cfg.Lifecycle.WebhookSecret != ""))
	}
	if cfg.Lifecycle.PingURL != "" {
		connectors = append(connectors, lifecyclehooks.NewPingConnector(cfg.Lifecycle.PingURL))
	}
	if len(connectors) > 0 {
		lifecycle = lifecyclehooks.New(connectors, time.Duration(cfg.Lifecycle.Timeout)*time.Second)
	}

	comps := &daemonComponents{
		store:      st,
		router:     rt,
		supervisor: sv,
		dispatcher: d,
		telemetry:  telemetrySrv,
		hooks:      hooks,
		lifecycle:  lifecycle,
		nats:       natsServer,
		mirror:     mirror,
	}
	cleanup := func() {
		_ = st.Close()
		if mirror != nil {
			_ = mirror.Close()
		}
	}
	return comps, cleanup, nil
}

func healthAddr(listenAddr string) string {
	// The /healthz endpoint shares the listen host but binds the next
	// port up, so a default install needs no extra configuration beyond
	// listen.addr (SPEC_FULL.md's daemon.status/healthz surface).
	host, portStr, err := net.SplitHostPort(listenAddr)
	if err != nil {
		return "127.0.0.1:7172"
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return "127.0.0.1:7172"
	}
	return net.JoinHostPort(host, strconv.Itoa(port+1))
}

func healthzHandler(d *dispatch.Dispatcher) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		result, err := d.Dispatch(r.Context(), "healthz", nil, dispatch.CmdDaemonStatus, nil)
		if err != nil {
			w.WriteHeader(http.StatusInternalServerError)
			_, _ = w.Write([]byte(err.Error()))
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write(result)
	}
}
