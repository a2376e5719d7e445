package storage

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jmoiron/sqlx"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"recruitd/internal/domain"
	"recruitd/pkg/logx"
)

//go:embed schema.sql
var schema string

// Store is the sqlite implementation of every repository the services and
// the lifecycle package consume. Reads and single-statement writes may be
// called on Store directly; multi-statement work goes through WithTx.
type Store struct {
	repo

	db  *sqlx.DB
	log logx.Logger

	hooksMu sync.RWMutex
	hooks   []CommitHook

	opCount    atomic.Uint64
	pruneEvery uint64
}

// Open opens (and migrates) the configured database.
func Open(cfg Config, log logx.Logger) (*Store, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	if driver != "" && driver != "sqlite" && driver != "sqlite3" {
		return nil, errors.New("unknown storage driver: " + driver)
	}
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("storage.path is required")
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	if path != ":memory:" && !strings.HasPrefix(path, "file:") {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, err
		}
	}

	db, err := sqlx.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// One connection: sqlite serializes writers anyway, and a :memory:
	// database only lives as long as its connection.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	busy := cfg.BusyTimeout
	if busy <= 0 {
		busy = 5 * time.Second
	}
	_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", busy.Milliseconds()))
	if path != ":memory:" {
		_, _ = db.Exec("PRAGMA journal_mode = WAL")
		_, _ = db.Exec("PRAGMA synchronous = NORMAL")
	}

	st := &Store{repo: repo{q: db}, db: db, log: log.With(logx.String("comp", "storage")), pruneEvery: 500}
	if err := st.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return st, nil
}

func (s *Store) migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, schema)
	return err
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Ping reports whether the database answers.
func (s *Store) Ping(ctx context.Context) error {
	if s == nil || s.db == nil {
		return ErrClosed
	}
	return s.db.PingContext(ctx)
}

// OnCommit registers h to observe schedule changes committed through WithTx.
// Hooks run synchronously on the committing goroutine, in registration
// order, after the transaction is durable. A panicking hook is logged and
// does not affect the caller.
func (s *Store) OnCommit(h CommitHook) {
	if h == nil {
		return
	}
	s.hooksMu.Lock()
	s.hooks = append(s.hooks, h)
	s.hooksMu.Unlock()
}

// Tx is an open transaction. Repository methods on Tx run inside it; schedule
// writes are only available here so that their change is always reported.
type Tx struct {
	repo
	tx      *sqlx.Tx
	changes []ScheduleChange
}

func (t *Tx) emit(op ChangeOp, sch domain.Schedule) {
	t.changes = append(t.changes, ScheduleChange{Op: op, Schedule: sch})
}

// WithTx runs fn in a transaction. fn's error (or panic) rolls back; on
// commit the recorded schedule changes are handed to the commit hooks.
func (s *Store) WithTx(ctx context.Context, fn func(*Tx) error) (err error) {
	if s == nil || s.db == nil {
		return ErrClosed
	}
	sqltx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	tx := &Tx{repo: repo{q: sqltx}, tx: sqltx}

	done := false
	defer func() {
		if !done {
			_ = sqltx.Rollback()
		}
	}()

	if err := fn(tx); err != nil {
		return err
	}
	done = true
	if err := sqltx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	s.fire(tx.changes)
	return nil
}

func (s *Store) fire(changes []ScheduleChange) {
	if len(changes) == 0 {
		return
	}
	s.hooksMu.RLock()
	hooks := append([]CommitHook(nil), s.hooks...)
	s.hooksMu.RUnlock()

	for _, c := range changes {
		for _, h := range hooks {
			s.callHook(h, c)
		}
	}
}

func (s *Store) callHook(h CommitHook, c ScheduleChange) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("commit hook panic",
				logx.String("op", string(c.Op)),
				logx.ScheduleID(c.Schedule.ID),
				logx.Any("panic", r),
			)
		}
	}()
	h(c)
}

// repo holds the queries shared by Store and Tx.
type repo struct {
	q sqlx.ExtContext
}

func ms(t time.Time) int64 { return t.UnixMilli() }

func fromMS(v int64) time.Time { return time.UnixMilli(v).UTC() }

func isUnique(err error) bool {
	if err == nil {
		return false
	}
	var se *sqlite.Error
	if errors.As(err, &se) {
		switch se.Code() {
		case sqlite3.SQLITE_CONSTRAINT_UNIQUE, sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY:
			return true
		}
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}

func notFound(what string, id int64) error {
	return fmt.Errorf("%s %d: %w", what, id, domain.ErrNotFound)
}

func noRows(err error) bool { return errors.Is(err, sql.ErrNoRows) }
