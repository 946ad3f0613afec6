// Package writer provides the insertion buffer: the single component
// allowed to mutate a run's rows and drive its terminal status.
package writer

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/sweepdb/sweepdb/internal/backend"
	"github.com/sweepdb/sweepdb/internal/catalog"
	sweeperr "github.com/sweepdb/sweepdb/internal/errors"
	"github.com/sweepdb/sweepdb/pkg/types"
)

// Writer buffers measurement rows for one run and flushes them
// transactionally. Exactly one Writer may be bound to an in-progress
// run; binding is enforced by the catalog's writer claim, not by
// database locking.
//
// The writer owns the run's sequence window: nextSeq is derived from
// the committed MAX(seq) at bind time and advanced only after a
// successful flush. Flushes insert rows with explicit sequence numbers
// via INSERT OR IGNORE, so an at-least-once retry after an ambiguous
// commit re-derives the identical window and never duplicates rows.
type Writer struct {
	cat      *catalog.Catalog
	b        *backend.Backend
	runID    int64
	writerID string
	schema   types.RunSchema

	// threshold triggers an automatic flush when the buffer reaches
	// this many rows; 0 means explicit Flush/Finalize only
	threshold int

	mu        sync.Mutex
	buf       []types.ResultRow
	nextSeq   int64
	finalized bool
	closed    bool
}

// Bind claims the run for exclusive writing and returns a Writer
// positioned after the run's last committed row. A second bind attempt
// on the same in-progress run fails with a conflict error.
func Bind(ctx context.Context, cat *catalog.Catalog, runID int64, flushThreshold int) (*Writer, error) {
	writerID := uuid.NewString()

	if err := cat.ClaimWriter(ctx, runID, writerID); err != nil {
		return nil, err
	}

	run, err := cat.GetRun(ctx, runID)
	if err != nil {
		cat.ReleaseWriter(ctx, runID, writerID)
		return nil, err
	}

	maxSeq, err := cat.MaxSeq(ctx, runID)
	if err != nil {
		cat.ReleaseWriter(ctx, runID, writerID)
		return nil, err
	}

	return &Writer{
		cat:       cat,
		b:         cat.Backend(),
		runID:     runID,
		writerID:  writerID,
		schema:    run.Schema,
		threshold: flushThreshold,
		nextSeq:   maxSeq + 1,
	}, nil
}

// RunID returns the bound run id.
func (w *Writer) RunID() int64 {
	return w.runID
}

// Add validates a row against the run's schema and appends it to the
// in-memory buffer. When the buffer reaches the flush threshold the
// buffered rows are flushed automatically.
func (w *Writer) Add(ctx context.Context, row types.ResultRow) error {
	if err := w.validateRow(row); err != nil {
		return err
	}

	w.mu.Lock()
	if w.finalized || w.closed {
		w.mu.Unlock()
		return sweeperr.NewWriterError(sweeperr.CodeRunFinalized,
			fmt.Sprintf("writer for run %d is no longer active", w.runID))
	}
	w.buf = append(w.buf, row)
	full := w.threshold > 0 && len(w.buf) >= w.threshold
	w.mu.Unlock()

	if full {
		return w.Flush(ctx)
	}
	return nil
}

// validateRow rejects undeclared parameters and type mismatches.
// Schema violations are conflict-class failures: programming errors,
// never retried.
func (w *Writer) validateRow(row types.ResultRow) error {
	for name, v := range row {
		spec, ok := w.schema.Param(name)
		if !ok {
			return sweeperr.NewWriterError(sweeperr.CodeSchemaViolation,
				fmt.Sprintf("parameter %q is not declared in the run schema", name))
		}
		if v.IsNull() {
			continue
		}
		if v.Kind() != spec.Type {
			return sweeperr.NewWriterError(sweeperr.CodeSchemaViolation,
				fmt.Sprintf("parameter %q declared %s, got %s value", name, spec.Type, v.Kind()))
		}
	}
	return nil
}

// Flush commits all buffered rows as one transaction, assigning
// sequence numbers from the writer-held window. A flush either commits
// the whole buffer or none of it; on failure the buffer is left intact
// so the caller may retry without data loss. Contention failures are
// retried per the backend's configured backoff policy.
func (w *Writer) Flush(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.flushLocked(ctx)
}

// maxBindVars is SQLite's default bind-variable ceiling
// (SQLITE_MAX_VARIABLE_NUMBER). A multi-row insert must stay under it
// or the statement is rejected outright.
const maxBindVars = 32766

func (w *Writer) flushLocked(ctx context.Context) error {
	if w.closed {
		return sweeperr.NewWriterError(sweeperr.CodeRunFinalized,
			fmt.Sprintf("writer for run %d is closed", w.runID))
	}
	if len(w.buf) == 0 {
		return nil
	}

	// Split the buffer into statements that fit the bind-variable
	// ceiling. All chunks commit inside one transaction, so the flush
	// stays all-or-nothing regardless of buffer size.
	rowWidth := len(w.schema.Params) + 1
	chunkRows := maxBindVars / rowWidth
	if chunkRows < 1 {
		chunkRows = 1
	}

	type insertStmt struct {
		sql  string
		args []interface{}
	}
	var stmts []insertStmt
	for start := 0; start < len(w.buf); start += chunkRows {
		end := start + chunkRows
		if end > len(w.buf) {
			end = len(w.buf)
		}
		q, args := w.buildInsert(w.buf[start:end], w.nextSeq+int64(start))
		stmts = append(stmts, insertStmt{sql: q, args: args})
	}

	err := backend.Retry(ctx, w.b.RetryConfig(), func() error {
		return w.b.WithTx(ctx, func(tx *sql.Tx) error {
			// Guard: the claim must still be ours and the run still
			// in-progress. Catches external finalization or deletion.
			var status string
			var holder sql.NullString
			err := tx.QueryRowContext(ctx, "SELECT status, writer_id FROM runs WHERE id = ?", w.runID).
				Scan(&status, &holder)
			if err != nil {
				if err == sql.ErrNoRows {
					return sweeperr.New(sweeperr.ErrCategoryCatalog, sweeperr.CodeRunNotFound,
						fmt.Sprintf("run %d not found", w.runID))
				}
				return backend.Classify(err, "writer: failed to check run state")
			}
			if types.RunStatus(status) != types.RunInProgress {
				return sweeperr.NewWriterError(sweeperr.CodeRunFinalized,
					fmt.Sprintf("run %d is %s", w.runID, status))
			}
			if !holder.Valid || holder.String != w.writerID {
				return sweeperr.NewWriterError(sweeperr.CodeWriterConflict,
					fmt.Sprintf("writer claim on run %d was lost", w.runID))
			}

			for _, s := range stmts {
				if _, err := tx.ExecContext(ctx, s.sql, s.args...); err != nil {
					return backend.Classify(err, "writer: failed to insert rows")
				}
			}

			// Row count reflects the committed truth even when OR IGNORE
			// skipped rows already present from a prior ambiguous commit.
			_, err = tx.ExecContext(ctx,
				fmt.Sprintf("UPDATE runs SET row_count = (SELECT COUNT(*) FROM %s) WHERE id = ?",
					catalog.ResultsTableName(w.runID)), w.runID)
			if err != nil {
				return backend.Classify(err, "writer: failed to update row count")
			}
			return nil
		})
	})
	if err != nil {
		return err
	}

	w.nextSeq += int64(len(w.buf))
	w.buf = w.buf[:0]
	return nil
}

// buildInsert renders a multi-row INSERT OR IGNORE statement for the
// given rows, assigning explicit sequence numbers from startSeq.
func (w *Writer) buildInsert(rows []types.ResultRow, startSeq int64) (string, []interface{}) {
	var b strings.Builder
	fmt.Fprintf(&b, "INSERT OR IGNORE INTO %s (seq", catalog.ResultsTableName(w.runID))
	for _, p := range w.schema.Params {
		b.WriteString(", ")
		b.WriteString(catalog.QuoteIdent(p.Name))
	}
	b.WriteString(") VALUES ")

	args := make([]interface{}, 0, len(rows)*(len(w.schema.Params)+1))
	placeholder := "(?" + strings.Repeat(", ?", len(w.schema.Params)) + ")"
	for i, row := range rows {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(placeholder)
		args = append(args, startSeq+int64(i))
		for _, p := range w.schema.Params {
			v, ok := row[p.Name]
			if !ok {
				args = append(args, nil)
				continue
			}
			args = append(args, v.Driver())
		}
	}
	return b.String(), args
}

// Finalize flushes any remaining rows, marks the run with the given
// terminal status, and releases the writer claim. Safe to call with an
// empty buffer. If the flush or the status transition fails, the run
// stays in-progress and the buffer is preserved so Finalize can be
// retried or the run explicitly marked failed.
func (w *Writer) Finalize(ctx context.Context, status types.RunStatus) error {
	if !status.Terminal() {
		return sweeperr.NewValidationError(sweeperr.CodeInvalidValue,
			fmt.Sprintf("finalize requires a terminal status, got %q", status))
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if w.finalized {
		return nil
	}
	if err := w.flushLocked(ctx); err != nil {
		return err
	}

	var err error
	if status == types.RunCompleted {
		err = w.cat.MarkComplete(ctx, w.runID)
	} else {
		err = w.cat.MarkFailed(ctx, w.runID)
	}
	if err != nil {
		return err
	}

	w.finalized = true
	if err := w.cat.ReleaseWriter(ctx, w.runID, w.writerID); err != nil {
		return err
	}
	return nil
}

// Close releases the writer claim without touching the run's status.
// Buffered, unflushed rows are discarded; Finalize is the committing
// exit path. Close is idempotent.
func (w *Writer) Close(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return nil
	}
	w.closed = true
	if w.finalized {
		return nil
	}
	return w.cat.ReleaseWriter(ctx, w.runID, w.writerID)
}

// Buffered returns the number of rows currently waiting to be flushed.
func (w *Writer) Buffered() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.buf)
}
