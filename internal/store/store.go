// Package store persists the "Persisted state layout": a Chronicle
// envelope plus an optional recorder log, one row per snapshot key
// (typically a replica's NodeID or a session id), backed by either
// Postgres or embedded SQLite.
package store

import (
	"context"
	"errors"

	"github.com/rakunlabs/chronicle/internal/config"
	chroncrypto "github.com/rakunlabs/chronicle/internal/crypto"
	"github.com/rakunlabs/chronicle/internal/store/postgres"
	"github.com/rakunlabs/chronicle/internal/store/sqlite3"
)

// Storer persists and retrieves Chronicle snapshots.
type Storer interface {
	// SaveSnapshot upserts the Chronicle blob and recorder log for key.
	SaveSnapshot(ctx context.Context, key string, blob []byte, log []byte) error
	// LoadSnapshot returns the most recently saved blob and log for key,
	// or (nil, nil, nil) if none exists yet.
	LoadSnapshot(ctx context.Context, key string) (blob []byte, log []byte, err error)
	// DeleteSnapshot removes any stored snapshot for key.
	DeleteSnapshot(ctx context.Context, key string) error
	Close()
}

// New creates a Storer based on the given store configuration. Postgres
// takes precedence when both are configured.
func New(ctx context.Context, cfg config.Store) (Storer, error) {
	var encKey []byte
	if cfg.EncryptionKey != "" {
		key, err := chroncrypto.DeriveKey(cfg.EncryptionKey)
		if err != nil {
			return nil, err
		}
		encKey = key
	}

	var store Storer
	var err error

	switch {
	case cfg.Postgres != nil:
		store, err = postgres.New(ctx, cfg.Postgres, encKey)
	case cfg.SQLite != nil:
		store, err = sqlite3.New(ctx, cfg.SQLite, encKey)
	default:
		return nil, errors.New("no store configured")
	}
	if err != nil {
		return nil, err
	}

	return store, nil
}
