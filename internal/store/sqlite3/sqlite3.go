package sqlite3

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

	_ "modernc.org/sqlite"

	"github.com/doug-martin/goqu/v9"
	_ "github.com/doug-martin/goqu/v9/dialect/sqlite3"
	"github.com/doug-martin/goqu/v9/exp"
)

var DefaultTablePrefix = "chron_"

// SQLite persists the "Persisted state layout" (a Chronicle envelope plus
// an optional recorder log) for single-node or embedded deployments.
type SQLite struct {
	db   *sql.DB
	goqu *goqu.Database

	tableSnapshots exp.IdentifierExpression

	// encKey is the AES-256 key used to encrypt/decrypt the blob column at
	// rest. nil means encryption is disabled. Protected by encKeyMu.
	encKey   []byte
	encKeyMu sync.RWMutex
}

func New(ctx context.Context, cfg *config.StoreSQLite, encKey []byte) (*SQLite, error) {
	if cfg == nil {
		return nil, errors.New("sqlite configuration is nil")
	}

	if cfg.Datasource == "" {
		return nil, errors.New("sqlite datasource is required")
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

	migrate.Table = tablePrefix + migrate.Table
	if migrate.Values == nil {
		migrate.Values = make(map[string]string)
	}
	migrate.Values["TABLE_PREFIX"] = tablePrefix

	if err := MigrateDB(ctx, &migrate); err != nil {
		return nil, fmt.Errorf("migrate store sqlite: %w", err)
	}
	// /////////////////////////////////////////////

	db, err := sql.Open("sqlite", cfg.Datasource)
	if err != nil {
		return nil, fmt.Errorf("open sqlite connection: %w", err)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()

		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	// Enable WAL mode for better concurrent read performance.
	if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL"); err != nil {
		db.Close()

		return nil, fmt.Errorf("set WAL mode: %w", err)
	}

	// Enable foreign keys.
	if _, err := db.ExecContext(ctx, "PRAGMA foreign_keys=ON"); err != nil {
		db.Close()

		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}

	// SQLite is single-writer; limit connections accordingly.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	slog.Info("connected to store sqlite")

	dbGoqu := goqu.New("sqlite3", db)

	return &SQLite{
		db:             db,
		goqu:           dbGoqu,
		tableSnapshots: goqu.T(tablePrefix + "snapshots"),
		encKey:         encKey,
	}, nil
}

func (s *SQLite) Close() {
	if s.db != nil {
		if err := s.db.Close(); err != nil {
			slog.Error("close store sqlite connection", "error", err)
		}
	}
}

// ─── Snapshot CRUD ───

// SaveSnapshot upserts the Chronicle blob and recorder log for key.
func (s *SQLite) SaveSnapshot(ctx context.Context, key string, blob []byte, log []byte) error {
	s.encKeyMu.RLock()
	encKey := s.encKey
	s.encKeyMu.RUnlock()

	storedBlob := blob
	if encKey != nil {
		var err error
		storedBlob, err = chroncrypto.EncryptBytes(blob, encKey)
		if err != nil {
			return fmt.Errorf("encrypt snapshot blob: %w", err)
		}
	}

	now := time.Now().UTC().Format(time.RFC3339)

	updateQuery, _, err := s.goqu.Update(s.tableSnapshots).Set(
		goqu.Record{
			"blob":         storedBlob,
			"recorder_log": log,
			"updated_at":   now,
		},
	).Where(goqu.I("key").Eq(key)).ToSQL()
	if err != nil {
		return fmt.Errorf("build update query: %w", err)
	}

	res, err := s.db.ExecContext(ctx, updateQuery)
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

	insertQuery, _, err := s.goqu.Insert(s.tableSnapshots).Rows(
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

	if _, err := s.db.ExecContext(ctx, insertQuery); err != nil {
		return fmt.Errorf("save snapshot %q: %w", key, err)
	}

	return nil
}

// LoadSnapshot returns the most recently saved blob and recorder log for
// key, or (nil, nil, nil) if nothing has been saved yet.
func (s *SQLite) LoadSnapshot(ctx context.Context, key string) ([]byte, []byte, error) {
	query, _, err := s.goqu.From(s.tableSnapshots).
		Select("blob", "recorder_log").
		Where(goqu.I("key").Eq(key)).
		ToSQL()
	if err != nil {
		return nil, nil, fmt.Errorf("build load query: %w", err)
	}

	var blob, log []byte
	err = s.db.QueryRowContext(ctx, query).Scan(&blob, &log)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil, nil
	}
	if err != nil {
		return nil, nil, fmt.Errorf("load snapshot %q: %w", key, err)
	}

	s.encKeyMu.RLock()
	encKey := s.encKey
	s.encKeyMu.RUnlock()

	if encKey != nil && len(blob) > 0 {
		blob, err = chroncrypto.DecryptBytes(blob, encKey)
		if err != nil {
			return nil, nil, fmt.Errorf("decrypt snapshot blob %q: %w", key, err)
		}
	}

	return blob, log, nil
}

// DeleteSnapshot removes any stored snapshot for key.
func (s *SQLite) DeleteSnapshot(ctx context.Context, key string) error {
	query, _, err := s.goqu.Delete(s.tableSnapshots).
		Where(goqu.I("key").Eq(key)).
		ToSQL()
	if err != nil {
		return fmt.Errorf("build delete query: %w", err)
	}

	if _, err := s.db.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("delete snapshot %q: %w", key, err)
	}

	return nil
}
