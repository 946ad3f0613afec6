// Package catalog provides the run metadata store: experiments, runs,
// instrument snapshots, and the per-run results tables.
package catalog

import (
	"fmt"
	"strings"

	"github.com/sweepdb/sweepdb/pkg/types"
)

// Schema contains the SQL definitions for the experiment database.
// The catalog is the source of truth for run identity, schema, and
// lifecycle status; result rows live in one table per run.

// CreateExperimentsTableSQL creates the experiments table.
const CreateExperimentsTableSQL = `
CREATE TABLE IF NOT EXISTS experiments (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    guid TEXT NOT NULL UNIQUE,
    name TEXT NOT NULL,
    sample_name TEXT NOT NULL,
    created_at INTEGER NOT NULL
)`

// CreateRunsTableSQL creates the runs table. AUTOINCREMENT guarantees
// run ids are strictly increasing and never reused, even across
// deletions. writer_id is the single-writer claim: NULL when no writer
// is bound to the run.
const CreateRunsTableSQL = `
CREATE TABLE IF NOT EXISTS runs (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    guid TEXT NOT NULL UNIQUE,
    experiment_id INTEGER NOT NULL,
    schema_json TEXT NOT NULL,
    status TEXT NOT NULL,
    created_at INTEGER NOT NULL,
    completed_at INTEGER,
    row_count INTEGER NOT NULL DEFAULT 0,
    snapshot_hash TEXT,
    writer_id TEXT,
    FOREIGN KEY (experiment_id) REFERENCES experiments(id)
)`

// CreateSnapshotsTableSQL creates the snapshots table. Snapshots are
// immutable instrument-configuration blobs captured at run creation,
// stored snappy-compressed and keyed by content hash so identical
// configurations are stored once.
const CreateSnapshotsTableSQL = `
CREATE TABLE IF NOT EXISTS snapshots (
    hash TEXT PRIMARY KEY,
    blob BLOB NOT NULL,
    raw_size INTEGER NOT NULL,
    created_at INTEGER NOT NULL
)`

// CreateRunsIndexesSQL creates indexes for run listing and claims.
var CreateRunsIndexesSQL = []string{
	`CREATE INDEX IF NOT EXISTS idx_runs_experiment ON runs(experiment_id, id)`,
	`CREATE INDEX IF NOT EXISTS idx_runs_status ON runs(status) WHERE status = 'in-progress'`,
}

// AllSchemaSQL returns all statements needed to initialize the catalog.
func AllSchemaSQL() []string {
	statements := []string{
		CreateExperimentsTableSQL,
		CreateRunsTableSQL,
		CreateSnapshotsTableSQL,
	}
	statements = append(statements, CreateRunsIndexesSQL...)
	return statements
}

// ResultsTableName returns the name of a run's results table.
func ResultsTableName(runID int64) string {
	return fmt.Sprintf("results_%d", runID)
}

// createResultsTableSQL builds the CREATE TABLE statement for a run's
// results table: a gap-free seq primary key plus one column per
// declared parameter, typed by paramtype. All parameter columns are
// nullable so ragged sweeps can store an explicit "no value".
func createResultsTableSQL(runID int64, schema types.RunSchema) string {
	var b strings.Builder
	fmt.Fprintf(&b, "CREATE TABLE %s (seq INTEGER PRIMARY KEY", ResultsTableName(runID))
	for _, p := range schema.Params {
		fmt.Fprintf(&b, ", %s %s", QuoteIdent(p.Name), p.Type.SQLiteType())
	}
	b.WriteString(")")
	return b.String()
}

// QuoteIdent quotes a parameter name for use as a SQL identifier.
func QuoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

// ValidParamName checks that a parameter name is usable as a column
// name: starts with a letter or underscore, continues with letters,
// digits, or underscores, and is at most 100 characters.
func ValidParamName(name string) bool {
	if len(name) == 0 || len(name) > 100 {
		return false
	}
	first := name[0]
	if (first < 'a' || first > 'z') && (first < 'A' || first > 'Z') && first != '_' {
		return false
	}
	for i := 1; i < len(name); i++ {
		c := name[i]
		if (c < 'a' || c > 'z') && (c < 'A' || c > 'Z') && (c < '0' || c > '9') && c != '_' {
			return false
		}
	}
	return true
}
