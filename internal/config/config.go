// Package config loads agentrailsd's daemon configuration from a YAML
// file, environment variables, and defaults, layered through
// github.com/spf13/viper (SPEC_FULL.md's AMBIENT STACK).
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"

	"github.com/spf13/viper"
)

// StartupOnlyKeys are settings read once, before the State Store or any
// listener is opened, and never re-read at runtime: changing them
// requires a daemon restart. This mirrors the teacher's config.yaml /
// SQLite split (internal/config/yaml_config.go's YamlOnlyKeys) — there
// it separated CLI-bootstrap flags from synced row config; here it
// separates process-bootstrap settings (listen addresses, the store
// path, NATS embedding) from settings a running daemon could in
// principle reload (automation defaults, launch mode) without a
// restart.
var StartupOnlyKeys = map[string]bool{
	"listen.addr":       true,
	"telemetry.addr":    true,
	"store.path":        true,
	"nats.embed":        true,
	"nats.port":         true,
	"nats.store_dir":    true,
	"nats.external_url": true,
}

// IsStartupOnlyKey reports whether key must be fixed at process start.
func IsStartupOnlyKey(key string) bool {
	return StartupOnlyKeys[strings.ToLower(key)]
}

// Config is the daemon's fully resolved configuration.
type Config struct {
	// ListenAddr is the TCP address the Frame Codec's connection
	// acceptor binds (spec.md section 6).
	ListenAddr string
	// AuthToken, if non-empty, is the token every "auth" envelope must
	// present; empty disables auth (loopback-only deployments).
	AuthToken string

	// TelemetryAddr is the Telemetry Ingest HTTP listener's bind
	// address (spec.md section 4.F).
	TelemetryAddr string
	// TelemetryBaseURL is advertised to composed codex launch args as
	// the OTLP exporter base; computed from TelemetryAddr unless
	// overridden (e.g. behind a reverse proxy).
	TelemetryBaseURL string
	// VerboseTelemetry forwards codex's streaming sse-delta events
	// that are otherwise dropped from fan-out (spec.md section 4.F).
	VerboseTelemetry bool

	// StorePath is the SQLite database file backing the State Store.
	StorePath string

	// HooksDir is where per-session notify files are created and
	// tailed by the Hook Notify Bridge (spec.md section 4.G).
	HooksDir string

	// LaunchMode is the default codex approval posture: "approval" or
	// "yolo" (spec.md section 4.D).
	LaunchMode string
	// HistoryPersistence selects codex's history.persistence setting
	// when telemetry is enabled.
	HistoryPersistence bool

	// NATS controls the embedded JetStream event log backing (spec.md
	// section 4.B / SPEC_FULL.md's DOMAIN STACK).
	NATS NATSOptions

	// AnthropicAPIKey authenticates the Thread-Title Namer's default
	// provider (spec.md section 4.J).
	AnthropicAPIKey string

	// Lifecycle configures the outbound connectors the Lifecycle Hooks
	// Bridge drains to (spec.md section 4.K).
	Lifecycle LifecycleOptions

	// Mirror configures the optional Redis-backed SessionMirror
	// (SPEC_FULL.md's DOMAIN STACK: ephemeral GitStatusSnapshot/
	// TelemetrySummary sharing across processes). Empty RedisURL leaves
	// the daemon with no SessionMirror.
	Mirror MirrorOptions
}

// MirrorOptions configures the optional cross-process SessionMirror.
type MirrorOptions struct {
	RedisURL string
	TTLSec   int
}

// NATSOptions configures the embedded (or external) NATS/JetStream
// connection the event log replays durable cursors from.
type NATSOptions struct {
	Embed       bool
	Port        int
	StoreDir    string
	Token       string
	ExternalURL string
}

// LifecycleOptions configures the Lifecycle Hooks Bridge's outbound
// connectors.
type LifecycleOptions struct {
	WebhookURL    string
	WebhookSecret string
	PingURL       string
	Timeout       int // seconds
}

// Load reads configuration from path (if non-empty and present),
// environment variables prefixed AGENTRAILSD_ (nested keys joined with
// underscores, e.g. AGENTRAILSD_NATS_PORT), and defaults.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("agentrailsd")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("listen.addr", "127.0.0.1:7171")
	v.SetDefault("auth.token", "")
	v.SetDefault("telemetry.addr", "127.0.0.1:4319")
	v.SetDefault("telemetry.verbose", false)
	v.SetDefault("store.path", "agentrailsd.db")
	v.SetDefault("hooks.dir", "")
	v.SetDefault("launch.mode", "approval")
	v.SetDefault("launch.history_persistence", false)
	v.SetDefault("nats.embed", true)
	v.SetDefault("nats.port", 4222)
	v.SetDefault("nats.store_dir", "")
	v.SetDefault("nats.external_url", "")
	v.SetDefault("nats.token", "")
	v.SetDefault("lifecycle.webhook_url", "")
	v.SetDefault("lifecycle.webhook_secret", "")
	v.SetDefault("lifecycle.ping_url", "")
	v.SetDefault("lifecycle.timeout_seconds", 10)
	v.SetDefault("mirror.redis_url", "")
	v.SetDefault("mirror.ttl_seconds", 0)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok && !errors.Is(err, fs.ErrNotExist) {
				return nil, fmt.Errorf("config: read %s: %w", path, err)
			}
		}
	}

	cfg := &Config{
		ListenAddr:         v.GetString("listen.addr"),
		AuthToken:          v.GetString("auth.token"),
		TelemetryAddr:      v.GetString("telemetry.addr"),
		TelemetryBaseURL:   v.GetString("telemetry.base_url"),
		VerboseTelemetry:   v.GetBool("telemetry.verbose"),
		StorePath:          v.GetString("store.path"),
		HooksDir:           v.GetString("hooks.dir"),
		LaunchMode:         v.GetString("launch.mode"),
		HistoryPersistence: v.GetBool("launch.history_persistence"),
		NATS: NATSOptions{
			Embed:       v.GetBool("nats.embed"),
			Port:        v.GetInt("nats.port"),
			StoreDir:    v.GetString("nats.store_dir"),
			Token:       v.GetString("nats.token"),
			ExternalURL: v.GetString("nats.external_url"),
		},
		AnthropicAPIKey: v.GetString("anthropic.api_key"),
		Lifecycle: LifecycleOptions{
			WebhookURL:    v.GetString("lifecycle.webhook_url"),
			WebhookSecret: v.GetString("lifecycle.webhook_secret"),
			PingURL:       v.GetString("lifecycle.ping_url"),
			Timeout:       v.GetInt("lifecycle.timeout_seconds"),
		},
		Mirror: MirrorOptions{
			RedisURL: v.GetString("mirror.redis_url"),
			TTLSec:   v.GetInt("mirror.ttl_seconds"),
		},
	}
	if cfg.TelemetryBaseURL == "" {
		cfg.TelemetryBaseURL = "http://" + cfg.TelemetryAddr
	}
	return cfg, nil
}
