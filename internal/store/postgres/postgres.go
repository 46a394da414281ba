package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/rakunlabs/chronicle/internal/config"
	chroncrypto "github.com/rakunlabs/chronicle/internal/crypto"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/doug-martin/goqu/v9"
	_ "github.com/doug-martin/goqu/v9/dialect/postgres"
	"github.com/doug-martin/goqu/v9/exp"
)

var (
	ConnMaxLifetime = 15 * time.Minute
	MaxIdleConns    = 3
	MaxOpenConns    = 3

	DefaultTablePrefix = "chron_"
)

// Postgres persists the "Persisted state layout": a Chronicle envelope
// (chronicle.Chronicle.Save's binary blob) plus an optional recorder log,
// one row per snapshot key (typically a NodeID or session id).
type Postgres struct {
	db   *sql.DB
	goqu *goqu.Database

	tableSnapshots exp.IdentifierExpression

	// encKey is the AES-256 key used to encrypt/decrypt the blob column at
	// rest. nil means encryption is disabled. Protected by encKeyMu.
	encKey   []byte
	encKeyMu sync.RWMutex
}

func New(ctx context.Context, cfg *config.StorePostgres, encKey []byte) (*Postgres, error) {
	if cfg == nil {
		return nil, errors.New("postgres configuration is nil")
	}

	if cfg.Datasource == "" {
		return nil, errors.New("postgres datasource is required")
	}

	tablePrefix := DefaultTablePrefix
	if cfg.TablePrefix != nil {
		tablePrefix = *cfg.TablePrefix
	}

	// /////////////////////////////////////////////
	// Run migrations.
	migrate := cfg.Migrate
	if migrate.Table == "" {
		migrate.Table = "migrations"
	}

	if migrate.Datasource == "" {
		migrate.Datasource = cfg.Datasource
	}

	if migrate.Schema == "" {
		migrate.Schema = cfg.Schema
	}

	migrate.Table = tablePrefix + migrate.Table
	if migrate.Values == nil {
		migrate.Values = make(map[string]string)
	}
	migrate.Values["TABLE_PREFIX"] = tablePrefix

	if err := MigrateDB(ctx, &migrate); err != nil {
		return nil, fmt.Errorf("migrate store postgres: %w", err)
	}
	// /////////////////////////////////////////////

	db, err := sql.Open("pgx", cfg.Datasource)
	if err != nil {
		return nil, fmt.Errorf("open postgres connection: %w", err)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()

		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	// Set schema search path if configured.
	if cfg.Schema != "" {
		if _, err := db.ExecContext(ctx, fmt.Sprintf("SET search_path TO %s", cfg.Schema)); err != nil {
			db.Close()

			return nil, fmt.Errorf("set search_path: %w", err)
		}
	}

	if cfg.ConnMaxLifetime != nil {
		ConnMaxLifetime = *cfg.ConnMaxLifetime
	}
	if cfg.MaxIdleConns != nil {
		MaxIdleConns = *cfg.MaxIdleConns
	}
	if cfg.MaxOpenConns != nil {
		MaxOpenConns = *cfg.MaxOpenConns
	}

	db.SetConnMaxLifetime(ConnMaxLifetime)
	db.SetMaxIdleConns(MaxIdleConns)
	db.SetMaxOpenConns(MaxOpenConns)

	slog.Info("connected to store postgres")

	dbGoqu := goqu.New("postgres", db)

	return &Postgres{
		db:             db,
		goqu:           dbGoqu,
		tableSnapshots: goqu.T(tablePrefix + "snapshots"),
		encKey:         encKey,
	}, nil
}

func (p *Postgres) Close() {
	if p.db != nil {
		if err := p.db.Close(); err != nil {
			slog.Error("close store postgres connection", "error", err)
		}
	}
}

// ─── Snapshot CRUD ───

// SaveSnapshot upserts the Chronicle blob and recorder log for key. The
// blob is encrypted at rest when an encryption key was configured; the
// recorder log is stored as plain JSON since it carries no secrets beyond
// whatever the dispatched actions themselves contained.
func (p *Postgres) SaveSnapshot(ctx context.Context, key string, blob []byte, log []byte) error {
	p.encKeyMu.RLock()
	encKey := p.encKey
	p.encKeyMu.RUnlock()

	storedBlob := blob
	if encKey != nil {
		var err error
		storedBlob, err = chroncrypto.EncryptBytes(blob, encKey)
		if err != nil {
			return fmt.Errorf("encrypt snapshot blob: %w", err)
		}
	}

	now := time.Now().UTC()

	updateQuery, _, err := p.goqu.Update(p.tableSnapshots).Set(
		goqu.Record{
			"blob":         storedBlob,
			"recorder_log": log,
			"updated_at":   now,
		},
	).Where(goqu.I("key").Eq(key)).ToSQL()
	if err != nil {
		return fmt.Errorf("build update query: %w", err)
	}

	res, err := p.db.ExecContext(ctx, updateQuery)
	if err != nil {
		return fmt.Errorf("save snapshot %q: %w", key, err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected > 0 {
		return nil
	}

	insertQuery, _, err := p.goqu.Insert(p.tableSnapshots).Rows(
		goqu.Record{
			"key":          key,
			"blob":         storedBlob,
			"recorder_log": log,
			"updated_at":   now,
		},
	).ToSQL()
	if err != nil {
		return fmt.Errorf("build insert query: %w", err)
	}

	if _, err := p.db.ExecContext(ctx, insertQuery); err != nil {
		return fmt.Errorf("save snapshot %q: %w", key, err)
	}

	return nil
}

// LoadSnapshot returns the most recently saved blob and recorder log for
// key, or (nil, nil, nil) if nothing has been saved yet.
func (p *Postgres) LoadSnapshot(ctx context.Context, key string) ([]byte, []byte, error) {
	query, _, err := p.goqu.From(p.tableSnapshots).
		Select("blob", "recorder_log").
		Where(goqu.I("key").Eq(key)).
		ToSQL()
	if err != nil {
		return nil, nil, fmt.Errorf("build load query: %w", err)
	}

	var blob, log []byte
	err = p.db.QueryRowContext(ctx, query).Scan(&blob, &log)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil, nil
	}
	if err != nil {
		return nil, nil, fmt.Errorf("load snapshot %q: %w", key, err)
	}

	p.encKeyMu.RLock()
	encKey := p.encKey
	p.encKeyMu.RUnlock()

	if encKey != nil && len(blob) > 0 {
		blob, err = chroncrypto.DecryptBytes(blob, encKey)
		if err != nil {
			return nil, nil, fmt.Errorf("decrypt snapshot blob %q: %w", key, err)
		}
	}

	return blob, log, nil
}

// DeleteSnapshot removes any stored snapshot for key.
func (p *Postgres) DeleteSnapshot(ctx context.Context, key string) error {
	query, _, err := p.goqu.Delete(p.tableSnapshots).
		Where(goqu.I("key").Eq(key)).
		ToSQL()
	if err != nil {
		return fmt.Errorf("build delete query: %w", err)
	}

	if _, err := p.db.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("delete snapshot %q: %w", key, err)
	}

	return nil
}
