// Package sqlite persists the store to an embedded SQLite file, one JSON blob
// per bucket. Every write transaction holds the database write lock from the
// read of the committed state to the commit, so several handles (and several
// processes) can share one file.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"racecore/internal/infra/persistence/memory"
	"racecore/pkg/domain"

	_ "modernc.org/sqlite" // pure go sqlite driver
)

// Compile-time contract assertion ensuring the store satisfies the domain interface.
var _ domain.PersistentStore = (*Store)(nil)

const (
	defaultPath = "racecore.db"
	// Applied to every pooled connection.
	connParams = "?_pragma=busy_timeout(10000)&_pragma=journal_mode(WAL)"
)

// Store persists state to a single SQLite table as JSON blobs.
type Store struct {
	*memory.Store
	db   *sql.DB
	path string
}

// NewStore opens (creating if needed) the SQLite file at path.
func NewStore(path string, engine *domain.RulesEngine) (*Store, error) {
	if path == "" {
		path = defaultPath
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil && !errors.Is(err, os.ErrExist) {
		return nil, fmt.Errorf("create dirs: %w", err)
	}
	db, err := sql.Open("sqlite", path+connParams)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS state (
		bucket TEXT PRIMARY KEY,
		payload BLOB NOT NULL
	)`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create state table: %w", err)
	}
	return &Store{Store: memory.NewDurableStore(engine, backend{db: db}), db: db, path: path}, nil
}

// DB exposes the underlying sql.DB for integration testing hooks.
func (s *Store) DB() *sql.DB { return s.db }

// Path returns the configured database path.
func (s *Store) Path() string { return s.path }

// Close releases the database handle.
func (s *Store) Close() error { return s.db.Close() }

type backend struct{ db *sql.DB }

func (b backend) Load(ctx context.Context) (memory.Snapshot, error) {
	return loadSnapshot(ctx, b.db)
}

// Begin pins a connection and takes the write lock up front with BEGIN
// IMMEDIATE, so two writers never both read the same lane count.
func (b backend) Begin(ctx context.Context) (memory.DurableTx, error) {
	conn, err := b.db.Conn(ctx)
	if err != nil {
		return nil, err
	}
	if _, err := conn.ExecContext(ctx, `BEGIN IMMEDIATE`); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("begin immediate: %w", err)
	}
	return &writeTx{conn: conn}, nil
}

type writeTx struct {
	conn *sql.Conn
	done bool
}

func (t *writeTx) Load(ctx context.Context) (memory.Snapshot, error) {
	return loadSnapshot(ctx, t.conn)
}

func (t *writeTx) Save(ctx context.Context, snapshot memory.Snapshot) error {
	for _, bucket := range memory.BucketNames {
		data, err := json.Marshal(snapshot.Bucket(bucket))
		if err != nil {
			return fmt.Errorf("encode %s: %w", bucket, err)
		}
		if _, err := t.conn.ExecContext(ctx, `INSERT INTO state(bucket,payload) VALUES(?,?) ON CONFLICT(bucket) DO UPDATE SET payload=excluded.payload`, bucket, data); err != nil {
			return fmt.Errorf("upsert %s: %w", bucket, err)
		}
	}
	return nil
}

func (t *writeTx) Commit() error {
	if t.done {
		return nil
	}
	t.done = true
	if _, err := t.conn.ExecContext(context.Background(), `COMMIT`); err != nil {
		_, _ = t.conn.ExecContext(context.Background(), `ROLLBACK`)
		_ = t.conn.Close()
		return fmt.Errorf("commit: %w", err)
	}
	return t.conn.Close()
}

func (t *writeTx) Rollback() error {
	if t.done {
		return nil
	}
	t.done = true
	_, err := t.conn.ExecContext(context.Background(), `ROLLBACK`)
	if cerr := t.conn.Close(); err == nil {
		err = cerr
	}
	return err
}

type queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func loadSnapshot(ctx context.Context, q queryer) (memory.Snapshot, error) {
	var snapshot memory.Snapshot
	rows, err := q.QueryContext(ctx, `SELECT bucket, payload FROM state`)
	if err != nil {
		return snapshot, fmt.Errorf("select state: %w", err)
	}
	defer func() { _ = rows.Close() }()
	for rows.Next() {
		var bucket string
		var payload []byte
		if err := rows.Scan(&bucket, &payload); err != nil {
			return snapshot, fmt.Errorf("scan: %w", err)
		}
		target := snapshot.Bucket(bucket)
		if target == nil || len(payload) == 0 {
			continue
		}
		if err := json.Unmarshal(payload, target); err != nil {
			return snapshot, fmt.Errorf("decode %s: %w", bucket, err)
		}
	}
	if err := rows.Err(); err != nil {
		return snapshot, fmt.Errorf("iterate state: %w", err)
	}
	return snapshot, nil
}
