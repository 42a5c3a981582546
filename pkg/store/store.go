package store

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"feedkeeper/pkg/errors"
	"feedkeeper/pkg/logger"
)

//go:embed schema.sql
var schemaSQL string

// Options controls Store behavior
type Options struct {
	// StrictMedia turns a malformed media descriptor into a KindIntegrity
	// error instead of a logged warning.
	StrictMedia bool

	Logger logger.Logger
}

// Store is the SQLite-backed archive. It must have a single logical owner.
type Store struct {
	db   *sql.DB
	path string
	opts Options
	log  logger.Logger
}

// Info summarizes the archive for display
type Info struct {
	Path          string
	ArchiveID     string
	SchemaVersion int
	Active        int
	Pruned        int
}

// Open opens (creating if needed) the database at path and initializes the schema
func Open(ctx context.Context, path string, opts Options) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, errors.Fatal("store.open", err, "failed to create database directory")
	}
	return open(ctx, path, path, opts)
}

// OpenInMemory opens a private in-memory database
func OpenInMemory(ctx context.Context, opts Options) (*Store, error) {
	return open(ctx, ":memory:", "", opts)
}

func open(ctx context.Context, dsn, path string, opts Options) (*Store, error) {
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, errors.Fatal("store.open", err, "failed to open database")
	}
	// temp tables and :memory: databases are per connection
	db.SetMaxOpenConns(1)
	db.SetConnMaxLifetime(0)

	log := opts.Logger
	if log == nil {
		log = logger.GetLogger()
	}

	s := &Store{
		db:   db,
		path: path,
		opts: opts,
		log:  log.WithField("component", "store"),
	}
	if err := s.Create(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Create initializes the schema. It is safe to call more than once.
func (s *Store) Create(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schemaSQL); err != nil {
		return errors.Fatal("store.create", err, "failed to create schema")
	}

	archiveID, err := json.Marshal(uuid.NewString())
	if err != nil {
		return errors.Fatal("store.create", err, "failed to encode archive id")
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO metadata (key, value) VALUES ('archive_id', ?)`,
		string(archiveID))
	if err != nil {
		return errors.Fatal("store.create", err, "failed to write archive id")
	}

	s.log.Debug("schema ready")
	return nil
}

// Close closes the underlying database
func (s *Store) Close() error {
	return s.db.Close()
}

// Count returns the number of active records
func (s *Store) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM records`).Scan(&n); err != nil {
		return 0, errors.Fatal("store.count", err, "failed to count records")
	}
	return n, nil
}

// CountPruned returns the number of pruned records
func (s *Store) CountPruned(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM pruned_records`).Scan(&n); err != nil {
		return 0, errors.Fatal("store.count_pruned", err, "failed to count pruned records")
	}
	return n, nil
}

// Vacuum reclaims free pages. Callers should run it only after a prune
// that removed at least one row.
func (s *Store) Vacuum(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `VACUUM`); err != nil {
		return errors.Fatal("store.vacuum", err, "failed to vacuum database")
	}
	return nil
}

// Info reports archive metadata and table sizes
func (s *Store) Info(ctx context.Context) (*Info, error) {
	info := &Info{Path: s.path}

	var version, archiveID string
	if err := s.metadata(ctx, "schema_version", &version); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(version), &info.SchemaVersion); err != nil {
		return nil, errors.Integrity("store.info", err, "schema_version is not a number: %q", version)
	}
	if err := s.metadata(ctx, "archive_id", &archiveID); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(archiveID), &info.ArchiveID); err != nil {
		return nil, errors.Integrity("store.info", err, "archive_id is not a string: %q", archiveID)
	}

	var err error
	if info.Active, err = s.Count(ctx); err != nil {
		return nil, err
	}
	if info.Pruned, err = s.CountPruned(ctx); err != nil {
		return nil, err
	}
	return info, nil
}

func (s *Store) metadata(ctx context.Context, key string, dst *string) error {
	err := s.db.QueryRowContext(ctx, `SELECT value FROM metadata WHERE key = ?`, key).Scan(dst)
	if err != nil {
		return errors.Fatal("store.metadata", err, "failed to read metadata %q", key)
	}
	return nil
}

// withTx runs fn inside a transaction, committing on success
func (s *Store) withTx(ctx context.Context, op string, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Fatal(op, err, "failed to begin transaction")
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return errors.Fatal(op, err, "failed to commit transaction")
	}
	return nil
}

func currentTimestamp(ctx context.Context, tx *sql.Tx) (string, error) {
	var now string
	if err := tx.QueryRowContext(ctx, `SELECT CURRENT_TIMESTAMP`).Scan(&now); err != nil {
		return "", fmt.Errorf("failed to read current timestamp: %w", err)
	}
	return now, nil
}
