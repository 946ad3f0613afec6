package app

import (
	"context"
	"testing"

	"github.com/sweepdb/sweepdb/internal/config"
	sweeperr "github.com/sweepdb/sweepdb/internal/errors"
	"github.com/sweepdb/sweepdb/pkg/types"
)

func openTestApp(t *testing.T) *App {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.DataDir = t.TempDir()
	cfg.Writer.FlushThreshold = 0 // explicit flushing in tests

	a, err := New(cfg)
	if err != nil {
		t.Fatalf("failed to open app: %v", err)
	}
	t.Cleanup(func() { a.Close() })
	return a
}

// The canonical measurement session: create an experiment, run a sweep
// with one writer and a live reader, finalize, then materialize.
func TestMeasurementSession(t *testing.T) {
	a := openTestApp(t)
	ctx := context.Background()

	exp, err := a.CreateExperiment(ctx, "E1", "sample-X")
	if err != nil {
		t.Fatalf("CreateExperiment failed: %v", err)
	}

	schema := types.RunSchema{Params: []types.ParamSpec{
		{Name: "t", Unit: "s", Type: types.ParamNumeric, Independent: true},
		{Name: "v", Unit: "V", Type: types.ParamNumeric},
	}}
	run, err := a.CreateRun(ctx, exp.ID, schema, []byte(`{"lockin":{"tc":0.1}}`))
	if err != nil {
		t.Fatalf("CreateRun failed: %v", err)
	}

	w, err := a.BindWriter(ctx, run.ID)
	if err != nil {
		t.Fatalf("BindWriter failed: %v", err)
	}
	r, err := a.OpenReader(ctx, run.ID)
	if err != nil {
		t.Fatalf("OpenReader failed: %v", err)
	}
	defer r.Close()

	points := []struct{ t, v float64 }{{0, 0.0}, {1, 0.5}, {2, 1.0}}
	for _, p := range points {
		if err := w.Add(ctx, types.ResultRow{
			"t": types.Num(p.t),
			"v": types.Num(p.v),
		}); err != nil {
			t.Fatalf("Add failed: %v", err)
		}
	}
	if err := w.Flush(ctx); err != nil {
		t.Fatalf("Flush failed: %v", err)
	}

	// The live reader sees exactly the flushed rows, seq 1..3
	rows, err := r.ReadNew(ctx)
	if err != nil {
		t.Fatalf("ReadNew failed: %v", err)
	}
	if len(rows) != 3 {
		t.Fatalf("rows = %d, want 3", len(rows))
	}
	for i, row := range rows {
		if row.Seq != int64(i+1) {
			t.Errorf("row %d seq = %d, want %d", i, row.Seq, i+1)
		}
		if f, _ := row.Values["v"].Float(); f != points[i].v {
			t.Errorf("row %d v = %v, want %v", i, row.Values["v"], points[i].v)
		}
	}

	if err := w.Finalize(ctx, types.RunCompleted); err != nil {
		t.Fatalf("Finalize failed: %v", err)
	}

	got, err := a.Catalog().GetRun(ctx, run.ID)
	if err != nil {
		t.Fatalf("GetRun failed: %v", err)
	}
	if got.Status != types.RunCompleted || got.RowCount != 3 {
		t.Errorf("run = status %s, %d rows; want completed, 3", got.Status, got.RowCount)
	}

	table, err := a.Materialize(ctx, run.ID)
	if err != nil {
		t.Fatalf("Materialize failed: %v", err)
	}
	if len(table.Rows) != 3 || len(table.Columns) != 2 {
		t.Errorf("table = %dx%d, want 3x2", len(table.Rows), len(table.Columns))
	}

	snapshot, err := a.Catalog().GetSnapshot(ctx, run.ID)
	if err != nil {
		t.Fatalf("GetSnapshot failed: %v", err)
	}
	if string(snapshot) != `{"lockin":{"tc":0.1}}` {
		t.Errorf("snapshot = %s", snapshot)
	}
}

func TestDeleteRunInvalidatesCache(t *testing.T) {
	a := openTestApp(t)
	ctx := context.Background()

	exp, _ := a.CreateExperiment(ctx, "exp", "s")
	schema := types.RunSchema{Params: []types.ParamSpec{
		{Name: "v", Unit: "V", Type: types.ParamNumeric},
	}}
	run, err := a.CreateRun(ctx, exp.ID, schema, nil)
	if err != nil {
		t.Fatalf("CreateRun failed: %v", err)
	}

	w, _ := a.BindWriter(ctx, run.ID)
	w.Add(ctx, types.ResultRow{"v": types.Num(1)})
	if err := w.Finalize(ctx, types.RunCompleted); err != nil {
		t.Fatalf("Finalize failed: %v", err)
	}

	if _, err := a.Materialize(ctx, run.ID); err != nil {
		t.Fatalf("Materialize failed: %v", err)
	}
	if a.Materializer().CachedRuns() != 1 {
		t.Fatal("run not cached")
	}

	if err := a.DeleteRun(ctx, run.ID); err != nil {
		t.Fatalf("DeleteRun failed: %v", err)
	}
	if a.Materializer().CachedRuns() != 0 {
		t.Error("cache entry survived run deletion")
	}
	if _, err := a.Materialize(ctx, run.ID); !sweeperr.IsNotFound(err) {
		t.Errorf("materialize after delete = %v, want not-found", err)
	}
}

func TestArchiveToLocalStorage(t *testing.T) {
	a := openTestApp(t)
	ctx := context.Background()

	if _, err := a.CreateExperiment(ctx, "exp", "s"); err != nil {
		t.Fatalf("CreateExperiment failed: %v", err)
	}
	if err := a.Archive(ctx, "nightly"); err != nil {
		t.Fatalf("Archive failed: %v", err)
	}
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.DataDir = t.TempDir()
	cfg.Backend.JournalMode = "memory"

	if _, err := New(cfg); err == nil {
		t.Error("expected error for invalid config")
	}
}

func TestCloseIsIdempotent(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.DataDir = t.TempDir()

	a, err := New(cfg)
	if err != nil {
		t.Fatalf("failed to open app: %v", err)
	}
	if err := a.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if err := a.Close(); err != nil {
		t.Errorf("second Close failed: %v", err)
	}
}
