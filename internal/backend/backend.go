// Package backend provides the shared SQLite storage backend.
//
// One database file is opened twice: a write handle pinned to a single
// connection (the sole writer) and a read-only connection pool for
// concurrent readers. With WAL journaling a writer's commit never blocks
// readers and readers never block the writer; each read sees a consistent
// snapshot as of the moment its transaction began.
package backend

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/mattn/go-sqlite3"

	"github.com/sweepdb/sweepdb/internal/config"
	sweeperr "github.com/sweepdb/sweepdb/internal/errors"
)

// Backend is the shared storage backend for one database file.
//
// Side effect of WAL mode: a "<db>-wal" journal file is created next to
// the database file. Both must be backed up together or the backup is
// non-restorable (see the backup package).
type Backend struct {
	writeDB *sql.DB // single writer connection
	readDB  *sql.DB // read-only connection pool
	dbPath  string
	retry   config.RetryConfig

	// readCount counts read-path calls; tests and the export cache use
	// it as a side channel to verify that cached reads skip the backend
	readCount atomic.Int64
}

// Open opens (creating if necessary) the database file with the
// configured journal mode and busy timeout.
func Open(dbPath string, cfg config.BackendConfig) (*Backend, error) {
	mode := cfg.JournalMode
	if mode == "" {
		mode = config.JournalWAL
	}
	busyMs := int(cfg.BusyTimeout / time.Millisecond)
	if busyMs <= 0 {
		busyMs = 5000
	}

	// URI form so that mode=ro on the read handle is honored.
	dsn := fmt.Sprintf("file:%s?_journal_mode=%s&_busy_timeout=%d", dbPath, strings.ToUpper(string(mode)), busyMs)

	// Write connection: single writer
	writeDB, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, sweeperr.NewBackendError(sweeperr.CodeIOFailure, "failed to open database", err)
	}
	writeDB.SetMaxOpenConns(1)
	writeDB.SetMaxIdleConns(1)

	// The write connection must create the file before a read-only
	// handle can attach to it.
	if err := writeDB.Ping(); err != nil {
		writeDB.Close()
		return nil, Classify(err, "failed to initialize database file")
	}

	// Read connection pool: concurrent readers via read-only mode
	readDB, err := sql.Open("sqlite3", dsn+"&mode=ro")
	if err != nil {
		writeDB.Close()
		return nil, sweeperr.NewBackendError(sweeperr.CodeIOFailure, "failed to open read database", err)
	}
	poolSize := cfg.ReadPoolSize
	if poolSize < 1 {
		poolSize = 4
	}
	readDB.SetMaxOpenConns(poolSize)
	readDB.SetMaxIdleConns(poolSize)
	readDB.SetConnMaxLifetime(5 * time.Minute)

	return &Backend{
		writeDB: writeDB,
		readDB:  readDB,
		dbPath:  dbPath,
		retry:   cfg.Retry,
	}, nil
}

// Path returns the database file path.
func (b *Backend) Path() string {
	return b.dbPath
}

// JournalPath returns the path of the WAL journal file that SQLite
// maintains alongside the database file.
func (b *Backend) JournalPath() string {
	return b.dbPath + "-wal"
}

// RetryConfig returns the configured contention backoff policy.
func (b *Backend) RetryConfig() config.RetryConfig {
	return b.retry
}

// ExecContext runs a statement on the write connection.
func (b *Backend) ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error) {
	res, err := b.writeDB.ExecContext(ctx, query, args...)
	if err != nil {
		return nil, Classify(err, "statement failed")
	}
	return res, nil
}

// BeginTx starts a write transaction.
func (b *Backend) BeginTx(ctx context.Context) (*sql.Tx, error) {
	tx, err := b.writeDB.BeginTx(ctx, nil)
	if err != nil {
		return nil, Classify(err, "failed to begin transaction")
	}
	return tx, nil
}

// WithTx runs fn inside a write transaction. The transaction is rolled
// back in full before the error is surfaced if fn or the commit fails;
// no partial transaction is ever left behind.
func (b *Backend) WithTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := b.BeginTx(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return Classify(err, "failed to commit transaction")
	}
	return nil
}

// QueryContext runs a query on the read pool.
func (b *Backend) QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error) {
	b.readCount.Add(1)
	rows, err := b.readDB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, Classify(err, "query failed")
	}
	return rows, nil
}

// QueryRowContext runs a single-row query on the read pool.
func (b *Backend) QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row {
	b.readCount.Add(1)
	return b.readDB.QueryRowContext(ctx, query, args...)
}

// ReadConn reserves a dedicated connection from the read pool. Long
// lived readers pin one so their polling never competes with the pool,
// and release it with Conn.Close.
func (b *Backend) ReadConn(ctx context.Context) (*sql.Conn, error) {
	conn, err := b.readDB.Conn(ctx)
	if err != nil {
		return nil, Classify(err, "failed to acquire read connection")
	}
	return conn, nil
}

// CountReads returns the number of read-path calls so far.
func (b *Backend) CountReads() int64 {
	return b.readCount.Load()
}

// RecordRead increments the read counter. Components that read through
// a pinned connection (bypassing QueryContext) call this.
func (b *Backend) RecordRead() {
	b.readCount.Add(1)
}

// Checkpoint forces a WAL checkpoint, folding the journal into the main
// database file. Used before backups to minimize journal size.
func (b *Backend) Checkpoint(ctx context.Context) error {
	if _, err := b.writeDB.ExecContext(ctx, "PRAGMA wal_checkpoint(FULL)"); err != nil {
		return Classify(err, "checkpoint failed")
	}
	return nil
}

// Close closes both connections. Read pool first, then the writer.
func (b *Backend) Close() error {
	if err := b.readDB.Close(); err != nil {
		b.writeDB.Close()
		return err
	}
	return b.writeDB.Close()
}

// Classify maps a database error onto the sweepdb error taxonomy:
// lock/busy conditions become retryable contention failures, disk and
// permission conditions become fatal I/O failures, and everything else
// is surfaced as an internal failure.
func Classify(err error, message string) error {
	if err == nil {
		return nil
	}
	var serr sqlite3.Error
	if asSQLiteError(err, &serr) {
		switch serr.Code {
		case sqlite3.ErrBusy, sqlite3.ErrLocked:
			return sweeperr.NewBackendError(sweeperr.CodeContention, message, err)
		case sqlite3.ErrIoErr, sqlite3.ErrFull, sqlite3.ErrPerm,
			sqlite3.ErrCantOpen, sqlite3.ErrReadonly, sqlite3.ErrCorrupt:
			return sweeperr.NewBackendError(sweeperr.CodeIOFailure, message, err)
		}
	}
	return sweeperr.NewInternalError(message, err)
}

// asSQLiteError unwraps err looking for a sqlite3.Error.
func asSQLiteError(err error, target *sqlite3.Error) bool {
	for err != nil {
		if serr, ok := err.(sqlite3.Error); ok {
			*target = serr
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}
