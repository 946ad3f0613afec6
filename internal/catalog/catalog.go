package catalog

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/golang/snappy"
	"github.com/google/uuid"
	"github.com/spaolacci/murmur3"

	"github.com/sweepdb/sweepdb/internal/backend"
	sweeperr "github.com/sweepdb/sweepdb/internal/errors"
	"github.com/sweepdb/sweepdb/pkg/types"
)

// Catalog is the run metadata store layered on the storage backend.
// It is the sole authority for run identity, lifecycle status, and the
// single-writer claim; result rows are owned by the writer package.
type Catalog struct {
	b *backend.Backend
}

// New initializes the catalog schema and returns the store.
func New(b *backend.Backend) (*Catalog, error) {
	ctx := context.Background()
	for _, stmt := range AllSchemaSQL() {
		if _, err := b.ExecContext(ctx, stmt); err != nil {
			return nil, fmt.Errorf("catalog: failed to initialize schema: %w", err)
		}
	}
	return &Catalog{b: b}, nil
}

// Backend exposes the underlying storage backend.
func (c *Catalog) Backend() *backend.Backend {
	return c.b
}

// CreateExperiment registers a new experiment and returns it.
func (c *Catalog) CreateExperiment(ctx context.Context, name, sampleName string) (*types.Experiment, error) {
	if name == "" {
		return nil, sweeperr.NewValidationError(sweeperr.CodeInvalidValue, "experiment name must not be empty")
	}

	exp := &types.Experiment{
		GUID:       uuid.NewString(),
		Name:       name,
		SampleName: sampleName,
		CreatedAt:  time.Now(),
	}

	res, err := c.b.ExecContext(ctx,
		"INSERT INTO experiments (guid, name, sample_name, created_at) VALUES (?, ?, ?, ?)",
		exp.GUID, exp.Name, exp.SampleName, exp.CreatedAt.Unix(),
	)
	if err != nil {
		return nil, fmt.Errorf("catalog: failed to insert experiment: %w", err)
	}
	exp.ID, err = res.LastInsertId()
	if err != nil {
		return nil, sweeperr.NewInternalError("catalog: failed to read experiment id", err)
	}
	return exp, nil
}

// GetExperiment retrieves an experiment by id.
func (c *Catalog) GetExperiment(ctx context.Context, id int64) (*types.Experiment, error) {
	row := c.b.QueryRowContext(ctx,
		"SELECT id, guid, name, sample_name, created_at FROM experiments WHERE id = ?", id)

	var exp types.Experiment
	var createdAtUnix int64
	err := row.Scan(&exp.ID, &exp.GUID, &exp.Name, &exp.SampleName, &createdAtUnix)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, sweeperr.New(sweeperr.ErrCategoryCatalog, sweeperr.CodeExperimentNotFound,
				fmt.Sprintf("experiment %d not found", id))
		}
		return nil, fmt.Errorf("catalog: failed to scan experiment: %w", err)
	}
	exp.CreatedAt = time.Unix(createdAtUnix, 0)
	return &exp, nil
}

// ListExperiments returns all experiments in creation order.
func (c *Catalog) ListExperiments(ctx context.Context) ([]*types.Experiment, error) {
	rows, err := c.b.QueryContext(ctx,
		"SELECT id, guid, name, sample_name, created_at FROM experiments ORDER BY id")
	if err != nil {
		return nil, fmt.Errorf("catalog: failed to query experiments: %w", err)
	}
	defer rows.Close()

	var exps []*types.Experiment
	for rows.Next() {
		var exp types.Experiment
		var createdAtUnix int64
		if err := rows.Scan(&exp.ID, &exp.GUID, &exp.Name, &exp.SampleName, &createdAtUnix); err != nil {
			return nil, fmt.Errorf("catalog: failed to scan experiment: %w", err)
		}
		exp.CreatedAt = time.Unix(createdAtUnix, 0)
		exps = append(exps, &exp)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("catalog: error iterating experiments: %w", err)
	}
	return exps, nil
}

// CreateRun registers a new run under an experiment. The run row, its
// results table, and the instrument snapshot are created in a single
// transaction; concurrent creates are serialized by the backend's
// write connection, so no two runs ever receive the same id. The
// snapshot may be nil.
func (c *Catalog) CreateRun(ctx context.Context, experimentID int64, schema types.RunSchema, snapshot []byte) (*types.Run, error) {
	if err := schema.Validate(); err != nil {
		return nil, sweeperr.NewValidationError(sweeperr.CodeInvalidSchema, err.Error())
	}
	for _, p := range schema.Params {
		if !ValidParamName(p.Name) {
			return nil, sweeperr.NewValidationError(sweeperr.CodeInvalidSchema,
				fmt.Sprintf("parameter name %q is not a valid column name", p.Name))
		}
	}

	schemaJSON, err := json.Marshal(schema)
	if err != nil {
		return nil, sweeperr.NewInternalError("catalog: failed to marshal schema", err)
	}

	run := &types.Run{
		GUID:         uuid.NewString(),
		ExperimentID: experimentID,
		Schema:       schema,
		Status:       types.RunInProgress,
		CreatedAt:    time.Now(),
	}

	err = c.b.WithTx(ctx, func(tx *sql.Tx) error {
		// Verify the owning experiment exists
		var one int
		err := tx.QueryRowContext(ctx, "SELECT 1 FROM experiments WHERE id = ?", experimentID).Scan(&one)
		if err != nil {
			if err == sql.ErrNoRows {
				return sweeperr.New(sweeperr.ErrCategoryCatalog, sweeperr.CodeExperimentNotFound,
					fmt.Sprintf("experiment %d not found", experimentID))
			}
			return fmt.Errorf("catalog: failed to check experiment: %w", err)
		}

		// Store the snapshot once, keyed by content hash
		if len(snapshot) > 0 {
			hash, err := storeSnapshotTx(ctx, tx, snapshot)
			if err != nil {
				return err
			}
			run.SnapshotHash = hash
		}

		res, err := tx.ExecContext(ctx,
			`INSERT INTO runs (guid, experiment_id, schema_json, status, created_at, snapshot_hash)
			 VALUES (?, ?, ?, ?, ?, ?)`,
			run.GUID, run.ExperimentID, string(schemaJSON), string(run.Status),
			run.CreatedAt.Unix(), nullIfEmpty(run.SnapshotHash),
		)
		if err != nil {
			return fmt.Errorf("catalog: failed to insert run: %w", err)
		}
		run.ID, err = res.LastInsertId()
		if err != nil {
			return sweeperr.NewInternalError("catalog: failed to read run id", err)
		}

		// The results table is part of the run's identity: created in
		// the same transaction, columns fixed for the run's lifetime.
		if _, err := tx.ExecContext(ctx, createResultsTableSQL(run.ID, schema)); err != nil {
			return fmt.Errorf("catalog: failed to create results table: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return run, nil
}

// storeSnapshotTx stores a snapshot blob, compressed, keyed by its
// 128-bit murmur3 content hash. Identical snapshots dedupe to one row.
func storeSnapshotTx(ctx context.Context, tx *sql.Tx, snapshot []byte) (string, error) {
	h1, h2 := murmur3.Sum128(snapshot)
	hash := fmt.Sprintf("%016x%016x", h1, h2)

	compressed := snappy.Encode(nil, snapshot)
	_, err := tx.ExecContext(ctx,
		"INSERT OR IGNORE INTO snapshots (hash, blob, raw_size, created_at) VALUES (?, ?, ?, ?)",
		hash, compressed, len(snapshot), time.Now().Unix(),
	)
	if err != nil {
		return "", fmt.Errorf("catalog: failed to store snapshot: %w", err)
	}
	return hash, nil
}

// GetRun retrieves full run metadata by id.
func (c *Catalog) GetRun(ctx context.Context, runID int64) (*types.Run, error) {
	row := c.b.QueryRowContext(ctx,
		`SELECT id, guid, experiment_id, schema_json, status, created_at, completed_at, row_count, snapshot_hash
		 FROM runs WHERE id = ?`, runID)
	return scanRun(row, runID)
}

// scanRun scans a single runs row.
func scanRun(row *sql.Row, runID int64) (*types.Run, error) {
	var run types.Run
	var schemaJSON string
	var status string
	var createdAtUnix int64
	var completedAtUnix sql.NullInt64
	var snapshotHash sql.NullString

	err := row.Scan(&run.ID, &run.GUID, &run.ExperimentID, &schemaJSON, &status,
		&createdAtUnix, &completedAtUnix, &run.RowCount, &snapshotHash)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, sweeperr.New(sweeperr.ErrCategoryCatalog, sweeperr.CodeRunNotFound,
				fmt.Sprintf("run %d not found", runID))
		}
		return nil, fmt.Errorf("catalog: failed to scan run: %w", err)
	}

	if err := json.Unmarshal([]byte(schemaJSON), &run.Schema); err != nil {
		return nil, sweeperr.NewInternalError("catalog: failed to unmarshal run schema", err)
	}
	run.Status = types.RunStatus(status)
	run.CreatedAt = time.Unix(createdAtUnix, 0)
	if completedAtUnix.Valid {
		t := time.Unix(completedAtUnix.Int64, 0)
		run.CompletedAt = &t
	}
	if snapshotHash.Valid {
		run.SnapshotHash = snapshotHash.String
	}
	return &run, nil
}

// ListRuns returns all runs of an experiment in id order.
func (c *Catalog) ListRuns(ctx context.Context, experimentID int64) ([]*types.Run, error) {
	rows, err := c.b.QueryContext(ctx,
		`SELECT id, guid, experiment_id, schema_json, status, created_at, completed_at, row_count, snapshot_hash
		 FROM runs WHERE experiment_id = ? ORDER BY id`, experimentID)
	if err != nil {
		return nil, fmt.Errorf("catalog: failed to query runs: %w", err)
	}
	defer rows.Close()

	var runs []*types.Run
	for rows.Next() {
		var run types.Run
		var schemaJSON, status string
		var createdAtUnix int64
		var completedAtUnix sql.NullInt64
		var snapshotHash sql.NullString

		if err := rows.Scan(&run.ID, &run.GUID, &run.ExperimentID, &schemaJSON, &status,
			&createdAtUnix, &completedAtUnix, &run.RowCount, &snapshotHash); err != nil {
			return nil, fmt.Errorf("catalog: failed to scan run: %w", err)
		}
		if err := json.Unmarshal([]byte(schemaJSON), &run.Schema); err != nil {
			return nil, sweeperr.NewInternalError("catalog: failed to unmarshal run schema", err)
		}
		run.Status = types.RunStatus(status)
		run.CreatedAt = time.Unix(createdAtUnix, 0)
		if completedAtUnix.Valid {
			t := time.Unix(completedAtUnix.Int64, 0)
			run.CompletedAt = &t
		}
		if snapshotHash.Valid {
			run.SnapshotHash = snapshotHash.String
		}
		runs = append(runs, &run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("catalog: error iterating runs: %w", err)
	}
	return runs, nil
}

// MarkComplete transitions a run to completed. Idempotent: repeating
// the call on an already-completed run is a no-op; calling it on a
// failed run is a conflict.
func (c *Catalog) MarkComplete(ctx context.Context, runID int64) error {
	return c.setTerminalStatus(ctx, runID, types.RunCompleted)
}

// MarkFailed transitions a run to failed. Idempotent like MarkComplete.
func (c *Catalog) MarkFailed(ctx context.Context, runID int64) error {
	return c.setTerminalStatus(ctx, runID, types.RunFailed)
}

func (c *Catalog) setTerminalStatus(ctx context.Context, runID int64, status types.RunStatus) error {
	return c.b.WithTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			"UPDATE runs SET status = ?, completed_at = ? WHERE id = ? AND status = ?",
			string(status), time.Now().Unix(), runID, string(types.RunInProgress),
		)
		if err != nil {
			return fmt.Errorf("catalog: failed to update run status: %w", err)
		}
		affected, _ := res.RowsAffected()
		if affected > 0 {
			return nil
		}

		// Transition did not apply: distinguish missing, already-there,
		// and illegal transitions.
		var current string
		err = tx.QueryRowContext(ctx, "SELECT status FROM runs WHERE id = ?", runID).Scan(&current)
		if err != nil {
			if err == sql.ErrNoRows {
				return sweeperr.New(sweeperr.ErrCategoryCatalog, sweeperr.CodeRunNotFound,
					fmt.Sprintf("run %d not found", runID))
			}
			return fmt.Errorf("catalog: failed to read run status: %w", err)
		}
		if types.RunStatus(current) == status {
			return nil // idempotent repeat
		}
		return sweeperr.New(sweeperr.ErrCategoryCatalog, sweeperr.CodeIllegalTransition,
			fmt.Sprintf("run %d is %s, cannot mark %s", runID, current, status))
	})
}

// ClaimWriter binds a writer to an in-progress run. Only one writer may
// be bound at a time; a second claim fails with a conflict error.
func (c *Catalog) ClaimWriter(ctx context.Context, runID int64, writerID string) error {
	return c.b.WithTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			"UPDATE runs SET writer_id = ? WHERE id = ? AND writer_id IS NULL AND status = ?",
			writerID, runID, string(types.RunInProgress),
		)
		if err != nil {
			return fmt.Errorf("catalog: failed to claim writer: %w", err)
		}
		affected, _ := res.RowsAffected()
		if affected > 0 {
			return nil
		}

		var status string
		var holder sql.NullString
		err = tx.QueryRowContext(ctx, "SELECT status, writer_id FROM runs WHERE id = ?", runID).
			Scan(&status, &holder)
		if err != nil {
			if err == sql.ErrNoRows {
				return sweeperr.New(sweeperr.ErrCategoryCatalog, sweeperr.CodeRunNotFound,
					fmt.Sprintf("run %d not found", runID))
			}
			return fmt.Errorf("catalog: failed to inspect run claim: %w", err)
		}
		if types.RunStatus(status) != types.RunInProgress {
			return sweeperr.New(sweeperr.ErrCategoryWriter, sweeperr.CodeRunFinalized,
				fmt.Sprintf("run %d is %s, writers may only bind to in-progress runs", runID, status))
		}
		return sweeperr.New(sweeperr.ErrCategoryWriter, sweeperr.CodeWriterConflict,
			fmt.Sprintf("run %d already has writer %s bound", runID, holder.String))
	})
}

// ReleaseWriter removes a writer's claim. Releasing a claim not held by
// writerID is a no-op.
func (c *Catalog) ReleaseWriter(ctx context.Context, runID int64, writerID string) error {
	_, err := c.b.ExecContext(ctx,
		"UPDATE runs SET writer_id = NULL WHERE id = ? AND writer_id = ?", runID, writerID)
	if err != nil {
		return fmt.Errorf("catalog: failed to release writer: %w", err)
	}
	return nil
}

// HoldsClaim reports whether writerID currently holds the run's claim.
func (c *Catalog) HoldsClaim(ctx context.Context, runID int64, writerID string) (bool, error) {
	var holder sql.NullString
	err := c.b.QueryRowContext(ctx, "SELECT writer_id FROM runs WHERE id = ?", runID).Scan(&holder)
	if err != nil {
		if err == sql.ErrNoRows {
			return false, sweeperr.New(sweeperr.ErrCategoryCatalog, sweeperr.CodeRunNotFound,
				fmt.Sprintf("run %d not found", runID))
		}
		return false, fmt.Errorf("catalog: failed to read writer claim: %w", err)
	}
	return holder.Valid && holder.String == writerID, nil
}

// DeleteRun removes a run, its writer claim, and all its result rows as
// one atomic unit. Experiments are never implicitly deleted when empty.
func (c *Catalog) DeleteRun(ctx context.Context, runID int64) error {
	return c.b.WithTx(ctx, func(tx *sql.Tx) error {
		var one int
		err := tx.QueryRowContext(ctx, "SELECT 1 FROM runs WHERE id = ?", runID).Scan(&one)
		if err != nil {
			if err == sql.ErrNoRows {
				return sweeperr.New(sweeperr.ErrCategoryCatalog, sweeperr.CodeRunNotFound,
					fmt.Sprintf("run %d not found", runID))
			}
			return fmt.Errorf("catalog: failed to check run: %w", err)
		}

		if _, err := tx.ExecContext(ctx, "DROP TABLE IF EXISTS "+ResultsTableName(runID)); err != nil {
			return fmt.Errorf("catalog: failed to drop results table: %w", err)
		}
		if _, err := tx.ExecContext(ctx, "DELETE FROM runs WHERE id = ?", runID); err != nil {
			return fmt.Errorf("catalog: failed to delete run: %w", err)
		}
		return nil
	})
}

// GetSnapshot returns the decompressed instrument snapshot captured at
// the run's creation.
func (c *Catalog) GetSnapshot(ctx context.Context, runID int64) ([]byte, error) {
	run, err := c.GetRun(ctx, runID)
	if err != nil {
		return nil, err
	}
	if run.SnapshotHash == "" {
		return nil, sweeperr.New(sweeperr.ErrCategoryCatalog, sweeperr.CodeSnapshotNotFound,
			fmt.Sprintf("run %d has no snapshot", runID))
	}

	var compressed []byte
	err = c.b.QueryRowContext(ctx, "SELECT blob FROM snapshots WHERE hash = ?", run.SnapshotHash).
		Scan(&compressed)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, sweeperr.New(sweeperr.ErrCategoryCatalog, sweeperr.CodeSnapshotNotFound,
				fmt.Sprintf("snapshot %s not found", run.SnapshotHash))
		}
		return nil, fmt.Errorf("catalog: failed to read snapshot: %w", err)
	}

	raw, err := snappy.Decode(nil, compressed)
	if err != nil {
		return nil, sweeperr.NewInternalError("catalog: failed to decompress snapshot", err)
	}
	return raw, nil
}

// SnapshotCount returns the number of distinct stored snapshots.
func (c *Catalog) SnapshotCount(ctx context.Context) (int64, error) {
	var count int64
	err := c.b.QueryRowContext(ctx, "SELECT COUNT(*) FROM snapshots").Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("catalog: failed to count snapshots: %w", err)
	}
	return count, nil
}

// MaxSeq returns the highest committed sequence number of a run, or 0
// when the run has no rows yet.
func (c *Catalog) MaxSeq(ctx context.Context, runID int64) (int64, error) {
	var max int64
	query := "SELECT COALESCE(MAX(seq), 0) FROM " + ResultsTableName(runID)
	if err := c.b.QueryRowContext(ctx, query).Scan(&max); err != nil {
		return 0, backend.Classify(err, "catalog: failed to read max sequence")
	}
	return max, nil
}

func nullIfEmpty(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
