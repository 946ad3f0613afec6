// Package export provides read-through materialization of a run's rows
// into tabular structures, memoized per completed run.
package export

import (
	"context"
	"sync"

	"github.com/sweepdb/sweepdb/internal/backend"
	"github.com/sweepdb/sweepdb/internal/catalog"
	"github.com/sweepdb/sweepdb/pkg/types"
)

// Table is the materialized form of a run: columns in schema order,
// rows in sequence order.
type Table struct {
	// RunID identifies the materialized run
	RunID int64

	// Columns are the run's parameters in declaration order
	Columns []types.ParamSpec

	// Rows holds one value per column, in sequence order
	Rows [][]types.Value
}

// MaterializerMetrics holds materializer statistics.
type MaterializerMetrics struct {
	Calls       int64
	CacheHits   int64
	FreshReads  int64
	Invalidated int64
}

// Materializer converts runs into Tables. Completed runs are cached
// per run id: a run's rows are immutable once it reaches a terminal
// state, so the cache is safe and is invalidated only by explicit run
// deletion. In-progress runs are always read fresh.
type Materializer struct {
	cat *catalog.Catalog
	b   *backend.Backend

	mu      sync.RWMutex
	cache   map[int64]*Table
	metrics MaterializerMetrics
}

// NewMaterializer creates a materializer over the given catalog.
func NewMaterializer(cat *catalog.Catalog) *Materializer {
	return &Materializer{
		cat:   cat,
		b:     cat.Backend(),
		cache: make(map[int64]*Table),
	}
}

// Materialize returns the full table of a run. For runs in a terminal
// state the result is served from cache after the first call; repeated
// calls return the identical table. For an in-progress run the data is
// still mutating, so every call performs a fresh, uncached read.
func (m *Materializer) Materialize(ctx context.Context, runID int64) (*Table, error) {
	m.mu.Lock()
	m.metrics.Calls++
	if table, ok := m.cache[runID]; ok {
		m.metrics.CacheHits++
		m.mu.Unlock()
		return table, nil
	}
	m.mu.Unlock()

	run, err := m.cat.GetRun(ctx, runID)
	if err != nil {
		return nil, err
	}

	table, err := m.readTable(ctx, run)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	m.metrics.FreshReads++
	if run.Status.Terminal() {
		m.cache[runID] = table
	}
	m.mu.Unlock()

	return table, nil
}

// readTable reads all rows of a run in sequence order.
func (m *Materializer) readTable(ctx context.Context, run *types.Run) (*Table, error) {
	query := catalog.SelectResultsSQL(run.ID, run.Schema, false)
	rows, err := m.b.QueryContext(ctx, query, 0)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	table := &Table{
		RunID:   run.ID,
		Columns: run.Schema.Params,
	}
	for rows.Next() {
		_, values, err := catalog.ScanResult(rows, run.Schema)
		if err != nil {
			return nil, err
		}
		rowVals := make([]types.Value, len(run.Schema.Params))
		for i, p := range run.Schema.Params {
			rowVals[i] = values[p.Name]
		}
		table.Rows = append(table.Rows, rowVals)
	}
	if err := rows.Err(); err != nil {
		return nil, backend.Classify(err, "export: error iterating rows")
	}
	return table, nil
}

// Invalidate drops the cached table for a run. Called on run deletion.
func (m *Materializer) Invalidate(runID int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.cache[runID]; ok {
		delete(m.cache, runID)
		m.metrics.Invalidated++
	}
}

// Metrics returns current materializer statistics.
func (m *Materializer) Metrics() MaterializerMetrics {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.metrics
}

// CachedRuns returns the number of cached tables.
func (m *Materializer) CachedRuns() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.cache)
}
