// Package reader provides the live polling cursor over a run's rows.
package reader

import (
	"context"
	"database/sql"
	"fmt"
	"sync"

	"github.com/sweepdb/sweepdb/internal/backend"
	"github.com/sweepdb/sweepdb/internal/catalog"
	sweeperr "github.com/sweepdb/sweepdb/internal/errors"
	"github.com/sweepdb/sweepdb/pkg/types"
)

// Row is one result row together with its sequence number.
type Row struct {
	Seq    int64
	Values types.ResultRow
}

// Reader is a polling cursor over the committed rows of a run. It pins
// one connection from the read-only pool for its lifetime, so a
// long-lived plotting or analysis session never competes with other
// readers for the pool; under WAL journaling its reads never block the
// run's writer.
//
// A Reader opened on an in-progress run keeps observing newly flushed
// rows; an empty ReadNew result means "nothing new yet". Whether the
// run has finished is determined independently from the run's status
// via the catalog.
type Reader struct {
	cat       *catalog.Catalog
	b         *backend.Backend
	conn      *sql.Conn
	runID     int64
	schema    types.RunSchema
	batchSize int
	query     string

	mu      sync.Mutex
	lastSeq int64
	closed  bool
}

// Open positions a new cursor at sequence 0 for the given run.
// batchSize caps the rows returned per ReadNew call.
func Open(ctx context.Context, cat *catalog.Catalog, runID int64, batchSize int) (*Reader, error) {
	run, err := cat.GetRun(ctx, runID)
	if err != nil {
		return nil, err
	}
	if batchSize < 1 {
		batchSize = 1000
	}

	b := cat.Backend()
	conn, err := b.ReadConn(ctx)
	if err != nil {
		return nil, err
	}

	return &Reader{
		cat:       cat,
		b:         b,
		conn:      conn,
		runID:     runID,
		schema:    run.Schema,
		batchSize: batchSize,
		query:     catalog.SelectResultsSQL(runID, run.Schema, true),
	}, nil
}

// RunID returns the run this cursor reads.
func (r *Reader) RunID() int64 {
	return r.runID
}

// Schema returns the run's parameter schema.
func (r *Reader) Schema() types.RunSchema {
	return r.schema
}

// ReadNew returns up to batchSize rows with sequence numbers greater
// than the last row returned by this cursor, in ascending sequence
// order. An empty result means no new rows have been committed; the
// caller distinguishes "not finished yet" from "finished" via the
// run's status, fetched independently. Polling is idempotent: a row is
// returned exactly once per cursor position.
func (r *Reader) ReadNew(ctx context.Context) ([]Row, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil, sweeperr.New(sweeperr.ErrCategoryReader, sweeperr.CodeUnexpected,
			fmt.Sprintf("reader for run %d is closed", r.runID))
	}

	r.b.RecordRead()
	rows, err := r.conn.QueryContext(ctx, r.query, r.lastSeq, r.batchSize)
	if err != nil {
		return nil, backend.Classify(err, "reader: poll query failed")
	}
	defer rows.Close()

	var out []Row
	for rows.Next() {
		seq, values, err := catalog.ScanResult(rows, r.schema)
		if err != nil {
			return nil, err
		}
		out = append(out, Row{Seq: seq, Values: values})
	}
	if err := rows.Err(); err != nil {
		return nil, backend.Classify(err, "reader: error iterating rows")
	}

	if n := len(out); n > 0 {
		r.lastSeq = out[n-1].Seq
	}
	return out, nil
}

// Rewind restarts the cursor from sequence 0.
func (r *Reader) Rewind() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lastSeq = 0
}

// LastSeq returns the sequence number of the last row returned.
func (r *Reader) LastSeq() int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lastSeq
}

// Close returns the pinned connection to the read pool. No in-flight
// write is affected; each poll runs in its own read transaction, so
// nothing is held between polls. Idempotent.
func (r *Reader) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil
	}
	r.closed = true
	return r.conn.Close()
}
