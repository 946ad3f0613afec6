package export

import (
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/sweepdb/sweepdb/internal/backend"
	"github.com/sweepdb/sweepdb/internal/catalog"
	"github.com/sweepdb/sweepdb/internal/config"
	sweeperr "github.com/sweepdb/sweepdb/internal/errors"
	"github.com/sweepdb/sweepdb/internal/writer"
	"github.com/sweepdb/sweepdb/pkg/types"
)

func openTestCatalog(t *testing.T) *catalog.Catalog {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	b, err := backend.Open(dbPath, config.BackendConfig{
		JournalMode:  config.JournalWAL,
		BusyTimeout:  time.Second,
		ReadPoolSize: 4,
	})
	if err != nil {
		t.Fatalf("failed to open backend: %v", err)
	}
	t.Cleanup(func() { b.Close() })

	cat, err := catalog.New(b)
	if err != nil {
		t.Fatalf("failed to initialize catalog: %v", err)
	}
	return cat
}

func newRunWithRows(t *testing.T, cat *catalog.Catalog, n int, finalize bool) int64 {
	t.Helper()
	ctx := context.Background()

	exp, err := cat.CreateExperiment(ctx, "exp", "s")
	if err != nil {
		t.Fatalf("CreateExperiment failed: %v", err)
	}
	schema := types.RunSchema{Params: []types.ParamSpec{
		{Name: "t", Unit: "s", Type: types.ParamNumeric, Independent: true},
		{Name: "v", Unit: "V", Type: types.ParamNumeric},
	}}
	run, err := cat.CreateRun(ctx, exp.ID, schema, nil)
	if err != nil {
		t.Fatalf("CreateRun failed: %v", err)
	}

	w, err := writer.Bind(ctx, cat, run.ID, 0)
	if err != nil {
		t.Fatalf("Bind failed: %v", err)
	}
	for i := 0; i < n; i++ {
		if err := w.Add(ctx, types.ResultRow{
			"t": types.Num(float64(i)),
			"v": types.Num(float64(i) * 0.5),
		}); err != nil {
			t.Fatalf("Add failed: %v", err)
		}
	}
	if finalize {
		if err := w.Finalize(ctx, types.RunCompleted); err != nil {
			t.Fatalf("Finalize failed: %v", err)
		}
	} else {
		if err := w.Flush(ctx); err != nil {
			t.Fatalf("Flush failed: %v", err)
		}
		w.Close(ctx)
	}
	return run.ID
}

func TestMaterializeTable(t *testing.T) {
	cat := openTestCatalog(t)
	ctx := context.Background()
	runID := newRunWithRows(t, cat, 3, true)

	m := NewMaterializer(cat)
	table, err := m.Materialize(ctx, runID)
	if err != nil {
		t.Fatalf("Materialize failed: %v", err)
	}

	if len(table.Columns) != 2 || table.Columns[0].Name != "t" || table.Columns[1].Name != "v" {
		t.Errorf("columns = %+v", table.Columns)
	}
	if len(table.Rows) != 3 {
		t.Fatalf("rows = %d, want 3", len(table.Rows))
	}
	if f, _ := table.Rows[2][1].Float(); f != 1.0 {
		t.Errorf("rows[2][v] = %v, want 1.0", table.Rows[2][1])
	}
}

func TestCompletedRunIsCached(t *testing.T) {
	cat := openTestCatalog(t)
	ctx := context.Background()
	runID := newRunWithRows(t, cat, 5, true)

	m := NewMaterializer(cat)
	b := cat.Backend()

	first, err := m.Materialize(ctx, runID)
	if err != nil {
		t.Fatalf("Materialize failed: %v", err)
	}

	// Second call must be served from cache: identical table, no new
	// backend reads.
	before := b.CountReads()
	second, err := m.Materialize(ctx, runID)
	if err != nil {
		t.Fatalf("Materialize failed: %v", err)
	}
	if reads := b.CountReads() - before; reads != 0 {
		t.Errorf("cached materialize touched the backend %d times", reads)
	}
	if first != second {
		t.Error("cached materialize returned a different table")
	}

	metrics := m.Metrics()
	if metrics.Calls != 2 || metrics.CacheHits != 1 || metrics.FreshReads != 1 {
		t.Errorf("metrics = %+v", metrics)
	}
	if m.CachedRuns() != 1 {
		t.Errorf("cached runs = %d, want 1", m.CachedRuns())
	}
}

func TestInProgressRunIsNotCached(t *testing.T) {
	cat := openTestCatalog(t)
	ctx := context.Background()
	runID := newRunWithRows(t, cat, 2, false)

	m := NewMaterializer(cat)
	b := cat.Backend()

	if _, err := m.Materialize(ctx, runID); err != nil {
		t.Fatalf("Materialize failed: %v", err)
	}
	if m.CachedRuns() != 0 {
		t.Error("in-progress run was cached")
	}

	// Each call reads fresh
	before := b.CountReads()
	if _, err := m.Materialize(ctx, runID); err != nil {
		t.Fatalf("Materialize failed: %v", err)
	}
	if reads := b.CountReads() - before; reads == 0 {
		t.Error("in-progress materialize did not touch the backend")
	}

	// A writer can resume and append more rows
	w, err := writer.Bind(ctx, cat, runID, 0)
	if err != nil {
		t.Fatalf("Bind failed: %v", err)
	}
	w.Add(ctx, types.ResultRow{"t": types.Num(2), "v": types.Num(1)})
	if err := w.Finalize(ctx, types.RunCompleted); err != nil {
		t.Fatalf("Finalize failed: %v", err)
	}

	table, err := m.Materialize(ctx, runID)
	if err != nil {
		t.Fatalf("Materialize failed: %v", err)
	}
	if len(table.Rows) != 3 {
		t.Errorf("rows = %d, want 3 after resume", len(table.Rows))
	}
}

func TestInvalidate(t *testing.T) {
	cat := openTestCatalog(t)
	ctx := context.Background()
	runID := newRunWithRows(t, cat, 2, true)

	m := NewMaterializer(cat)
	if _, err := m.Materialize(ctx, runID); err != nil {
		t.Fatalf("Materialize failed: %v", err)
	}
	if m.CachedRuns() != 1 {
		t.Fatal("run not cached")
	}

	m.Invalidate(runID)
	if m.CachedRuns() != 0 {
		t.Error("cache entry survived invalidation")
	}
	if m.Metrics().Invalidated != 1 {
		t.Errorf("invalidated = %d, want 1", m.Metrics().Invalidated)
	}

	// Invalidating an uncached run is a no-op
	m.Invalidate(runID)
	if m.Metrics().Invalidated != 1 {
		t.Error("no-op invalidation counted")
	}
}

func TestMaterializeUnknownRun(t *testing.T) {
	cat := openTestCatalog(t)
	m := NewMaterializer(cat)
	_, err := m.Materialize(context.Background(), 404)
	if !sweeperr.IsNotFound(err) {
		t.Errorf("error = %v, want not-found", err)
	}
}

func TestWriteCSV(t *testing.T) {
	table := &Table{
		RunID: 1,
		Columns: []types.ParamSpec{
			{Name: "t", Unit: "s", Type: types.ParamNumeric},
			{Name: "v", Unit: "V", Type: types.ParamNumeric},
			{Name: "label", Type: types.ParamText},
		},
		Rows: [][]types.Value{
			{types.Num(0), types.Num(0.5), types.Text("warmup")},
			{types.Num(1), types.Null(), types.Text("sweep")},
		},
	}

	var buf strings.Builder
	if err := WriteCSV(&buf, table); err != nil {
		t.Fatalf("WriteCSV failed: %v", err)
	}

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 3 {
		t.Fatalf("lines = %d, want 3\n%s", len(lines), buf.String())
	}
	if lines[0] != "t (s),v (V),label" {
		t.Errorf("header = %q", lines[0])
	}
	if lines[1] != "0,0.5,warmup" {
		t.Errorf("row 1 = %q", lines[1])
	}
	// Null renders as empty cell
	if lines[2] != "1,,sweep" {
		t.Errorf("row 2 = %q", lines[2])
	}
}

func TestWriteCSVArrays(t *testing.T) {
	table := &Table{
		Columns: []types.ParamSpec{
			{Name: "trace", Type: types.ParamArray},
		},
		Rows: [][]types.Value{
			{types.Array([]float64{1, 2.5, -3})},
		},
	}

	var buf strings.Builder
	if err := WriteCSV(&buf, table); err != nil {
		t.Fatalf("WriteCSV failed: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if lines[1] != "1;2.5;-3" {
		t.Errorf("array cell = %q", lines[1])
	}
}
