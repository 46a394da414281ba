package config

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/rakunlabs/alan"
	_ "github.com/rakunlabs/chu/loader/external/loaderconsul"
	_ "github.com/rakunlabs/chu/loader/external/loadervault"
	"github.com/rakunlabs/chu/loader/loaderenv"
	"github.com/rakunlabs/logi"

	mforwardauth "github.com/rakunlabs/ada/middleware/forwardauth"
	"github.com/rakunlabs/chu"
	"github.com/rakunlabs/tell"
)

var Service = ""

type Config struct {
	LogLevel string `cfg:"log_level,no_prefix" default:"info"`

	// NodeID identifies this replica in Chronicle's HLC and in every
	// ConsensusCore sync frame's source field. Defaults to a random ulid
	// if empty.
	NodeID string `cfg:"node_id"`

	// Seed is a string PRNG seed in the form prng.NewFromString takes.
	// Load only reads it into Config; no prng.Source in this module is
	// seeded from it.
	Seed string `cfg:"seed" log:"-"`

	// Engine configures dispatch mode and scripted rule support.
	Engine Engine `cfg:"engine"`

	// Transport selects and configures how this replica reaches its
	// peers: relay (alan UDP broadcast) or webrtc (direct data channels
	// signaled over a relay).
	Transport Transport `cfg:"transport"`

	// Consensus configures ConsensusCore's self-healing heartbeat.
	Consensus Consensus `cfg:"consensus"`

	// Worker configures the off-thread mirror Engine, if enabled.
	Worker Worker `cfg:"worker"`

	Store     Store       `cfg:"store"`
	Server    Server      `cfg:"server"`
	Telemetry tell.Config `cfg:"telemetry,noprefix"`
}

// Engine configures the dispatch engine's execution mode.
type Engine struct {
	// Async runs every dispatch through a single background worker
	// goroutine instead of the calling goroutine.
	Async bool `cfg:"async"`

	// Rules preloads scripted policies at startup (see
	// action.NewScriptedPolicy); embedders needing Go-native Condition/
	// Effect closures register those directly instead of through config.
	Rules []RuleConfig `cfg:"rules"`
}

// RuleConfig is one entry of Engine.Rules.
type RuleConfig struct {
	Name      string `cfg:"name"`
	When      string `cfg:"when"`
	Then      string `cfg:"then"`
	Priority  int    `cfg:"priority"`
	Once      bool   `cfg:"once"`
}

// Transport configures the peer transport this replica uses.
type Transport struct {
	// Kind selects the transport implementation: "relay" (default) or
	// "webrtc".
	Kind string `cfg:"kind" default:"relay"`

	// Alan configures the UDP peer-discovery/broadcast relay every
	// transport kind is built on (webrtc uses it for signaling).
	Alan *alan.Config `cfg:"alan"`
}

// Consensus configures ConsensusCore.
type Consensus struct {
	// HeartbeatCron, if set, runs a periodic full-state resync to every
	// peer on this cron schedule (standard five-field syntax), so a
	// replica that missed a sync:update frame self-heals without waiting
	// for the next local change. Empty disables the heartbeat.
	HeartbeatCron string `cfg:"heartbeat_cron"`
}

// Worker configures the off-thread mirror Engine.
type Worker struct {
	Enabled bool `cfg:"enabled"`

	// BatchWindow is the worker.Client batch window: dispatches arriving
	// within it are buffered and sent together when it closes, still one
	// frame and one reply per dispatch. Zero dispatches immediately.
	BatchWindow time.Duration `cfg:"batch_window"`

	// DispatchTimeout bounds how long the main side waits for a single
	// dispatch before treating it as TimedOut.
	DispatchTimeout time.Duration `cfg:"dispatch_timeout" default:"5s"`
}

type Server struct {
	BasePath string `cfg:"base_path"`

	Port string `cfg:"port" default:"8080"`
	Host string `cfg:"host"`

	// ForwardAuth, if set, configures the API to forward auth requests to an external
	// authentication service.
	ForwardAuth *mforwardauth.ForwardAuth `cfg:"forward_auth"`

	// AdminToken, if set, protects the /api/v1/compaction and /api/v1/snapshot
	// admin endpoints with bearer token authentication. Requests must include
	// "Authorization: Bearer <token>". If not set, those endpoints are
	// disabled (403 Forbidden).
	AdminToken string `cfg:"admin_token" log:"-"`

	// UserHeader is the HTTP header name that contains the authenticated user's
	// email address (populated by the forward auth middleware).
	UserHeader string `cfg:"user_header" default:"X-User"`
}

type Store struct {
	Postgres *StorePostgres `cfg:"postgres"`
	SQLite   *StoreSQLite   `cfg:"sqlite"`

	// EncryptionKey, if set, enables AES-256-GCM encryption for Chronicle
	// envelopes at rest. The key can be any non-empty string; it is
	// hashed with SHA-256 (crypto.DeriveKey) into the 32-byte AES key.
	// When empty, no encryption is applied.
	EncryptionKey string `cfg:"encryption_key" log:"-"`
}

type StorePostgres struct {
	TablePrefix     *string        `cfg:"table_prefix"`
	Datasource      string         `cfg:"datasource" log:"-"`
	Schema          string         `cfg:"schema"`
	ConnMaxLifetime *time.Duration `cfg:"conn_max_lifetime"`
	MaxIdleConns    *int           `cfg:"max_idle_conns"`
	MaxOpenConns    *int           `cfg:"max_open_conns"`

	Migrate Migrate `cfg:"migrate"`
}

type StoreSQLite struct {
	TablePrefix *string `cfg:"table_prefix"`
	Datasource  string  `cfg:"datasource"`

	Migrate Migrate `cfg:"migrate"`
}

type Migrate struct {
	Datasource string            `cfg:"datasource" log:"-"`
	Schema     string            `cfg:"schema"`
	Table      string            `cfg:"table"`
	Values     map[string]string `cfg:"values"`
}

func Load(ctx context.Context, path string) (*Config, error) {
	var cfg Config
	if err := chu.Load(ctx, path, &cfg, chu.WithLoaderOption(loaderenv.New(loaderenv.WithPrefix("CHRON_")))); err != nil {
		return nil, err
	}

	if cfg.NodeID == "" {
		cfg.NodeID = ulid.Make().String()
	}

	if err := logi.SetLogLevel(cfg.LogLevel); err != nil {
		return nil, fmt.Errorf("set log level %s: %w", cfg.LogLevel, err)
	}

	slog.Info("loaded configuration", "config", chu.MarshalMap(cfg))

	return &cfg, nil
}
