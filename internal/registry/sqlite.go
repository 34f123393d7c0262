package registry

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/ipfs/go-cid"
	logging "github.com/ipfs/go-log/v2"
	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

var log = logging.Logger("registry")

// SQLiteStore persists encoded records in a single SQLite table. Every row reserves
// the full Space of its kind at creation.
type SQLiteStore struct {
	db     *sql.DB
	dbPath string
	mu     sync.Mutex
}

// NewSQLiteStore opens (or creates) the database file under basePath. The special
// basePath ":memory:" keeps the database in memory.
func NewSQLiteStore(basePath string) (*SQLiteStore, error) {
	dsn := ":memory:"
	dbPath := dsn
	if basePath != ":memory:" {
		if err := os.MkdirAll(basePath, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create storage directory: %w", err)
		}
		dbPath = filepath.Join(basePath, "hubrelay.db")
		dsn = dbPath + "?_journal_mode=WAL&_busy_timeout=5000"
	}

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// One connection: mutations are serialized anyway and ":memory:" is per-connection.
	db.SetMaxOpenConns(1)

	s := &SQLiteStore{db: db, dbPath: dbPath}
	if err := s.initTables(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize tables: %w", err)
	}
	log.Debugf("opened record store at %s", dbPath)
	return s, nil
}

func (s *SQLiteStore) initTables() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS relay_records (
			address TEXT PRIMARY KEY,
			kind INTEGER NOT NULL,
			owner TEXT NOT NULL,
			space INTEGER NOT NULL,
			data BLOB NOT NULL,
			created_at INTEGER NOT NULL
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create records table: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Create(ctx context.Context, rec Record) error {
	data, err := Encode(rec)
	if err != nil {
		return err
	}
	head := rec.Head()

	s.mu.Lock()
	defer s.mu.Unlock()
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO relay_records (address, kind, owner, space, data, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(address) DO NOTHING
	`, head.Address.String(), int(rec.Kind()), head.Owner.String(), Space(rec.Kind()), data, head.CreatedAt.UnixMilli())
	if err != nil {
		return fmt.Errorf("insert record: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("insert record: %w", err)
	}
	if n == 0 {
		return ErrAlreadyExists
	}
	return nil
}

func (s *SQLiteStore) Get(ctx context.Context, addr cid.Cid, kind RecordKind) (Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.load(ctx, s.db, addr, kind)
}

func (s *SQLiteStore) Update(ctx context.Context, addr cid.Cid, kind RecordKind, fresh Record, fn Mutator) (Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	rec, err := s.load(ctx, tx, addr, kind)
	created := false
	switch {
	case errors.Is(err, ErrRecordNotFound) && fresh != nil:
		if fresh.Kind() != kind {
			return nil, ErrWrongRecordKind
		}
		rec, created = fresh.Clone(), true
	case err != nil:
		return nil, err
	}
	if err := fn(rec); err != nil {
		return nil, err
	}
	data, err := Encode(rec)
	if err != nil {
		return nil, err
	}

	head := rec.Head()
	if created {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO relay_records (address, kind, owner, space, data, created_at)
			VALUES (?, ?, ?, ?, ?, ?)
		`, addr.String(), int(kind), head.Owner.String(), Space(kind), data, head.CreatedAt.UnixMilli())
	} else {
		_, err = tx.ExecContext(ctx, `UPDATE relay_records SET data = ? WHERE address = ?`, data, addr.String())
	}
	if err != nil {
		return nil, fmt.Errorf("write record: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit record: %w", err)
	}
	return rec.Clone(), nil
}

func (s *SQLiteStore) Delete(ctx context.Context, addr cid.Cid, kind RecordKind, check Mutator) (Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	rec, err := s.load(ctx, tx, addr, kind)
	if err != nil {
		return nil, err
	}
	if check != nil {
		if err := check(rec.Clone()); err != nil {
			return nil, err
		}
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM relay_records WHERE address = ?`, addr.String()); err != nil {
		return nil, fmt.Errorf("delete record: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit delete: %w", err)
	}
	return rec, nil
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *SQLiteStore) load(ctx context.Context, q queryer, addr cid.Cid, kind RecordKind) (Record, error) {
	var (
		storedKind int
		data       []byte
	)
	err := q.QueryRowContext(ctx, `SELECT kind, data FROM relay_records WHERE address = ?`, addr.String()).Scan(&storedKind, &data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrRecordNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query record: %w", err)
	}
	if RecordKind(storedKind) != kind {
		return nil, ErrWrongRecordKind
	}
	return Decode(addr, data)
}
