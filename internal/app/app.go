// Package app provides the unified application lifecycle for sweepdb.
package app

import (
	"context"
	"fmt"
	"log"
	"sync"

	"github.com/sweepdb/sweepdb/internal/backend"
	"github.com/sweepdb/sweepdb/internal/backup"
	"github.com/sweepdb/sweepdb/internal/catalog"
	"github.com/sweepdb/sweepdb/internal/config"
	"github.com/sweepdb/sweepdb/internal/export"
	"github.com/sweepdb/sweepdb/internal/reader"
	"github.com/sweepdb/sweepdb/internal/writer"
	"github.com/sweepdb/sweepdb/pkg/types"
)

// App owns the shared resources of one sweepdb database: the storage
// backend, the run catalog, the export materializer, and the archive
// target. Writers and readers are created per run through the App.
type App struct {
	cfg *config.Config

	backend      *backend.Backend
	catalog      *catalog.Catalog
	materializer *export.Materializer
	archiver     *backup.Archiver
	storage      backup.ObjectStorage

	mu     sync.Mutex
	closed bool
}

// New validates the configuration and opens the database.
func New(cfg *config.Config) (*App, error) {
	cfg.Resolve()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	if err := cfg.EnsureDirectories(); err != nil {
		return nil, fmt.Errorf("failed to create directories: %w", err)
	}

	a := &App{cfg: cfg}
	if err := a.initSharedResources(); err != nil {
		a.Close()
		return nil, err
	}

	log.Printf("sweepdb opened: %s (journal_mode=%s)", cfg.DatabasePath(), cfg.Backend.JournalMode)
	return a, nil
}

// initSharedResources opens the backend, catalog, materializer, and
// archive storage.
func (a *App) initSharedResources() error {
	b, err := backend.Open(a.cfg.DatabasePath(), a.cfg.Backend)
	if err != nil {
		return fmt.Errorf("failed to open storage backend: %w", err)
	}
	a.backend = b

	cat, err := catalog.New(b)
	if err != nil {
		return fmt.Errorf("failed to initialize catalog: %w", err)
	}
	a.catalog = cat
	a.materializer = export.NewMaterializer(cat)

	switch a.cfg.Backup.Storage.Type {
	case "local":
		a.storage, err = backup.NewLocalStorage(a.cfg.Backup.Storage.Path)
	case "s3":
		s3Cfg := backup.S3Config{
			Region:   a.cfg.Backup.Storage.S3.Region,
			Endpoint: a.cfg.Backup.Storage.S3.Endpoint,
		}
		a.storage, err = backup.NewS3Storage(context.Background(), a.cfg.Backup.Storage.S3.Bucket, s3Cfg)
	default:
		return fmt.Errorf("unsupported backup storage type: %s", a.cfg.Backup.Storage.Type)
	}
	if err != nil {
		return fmt.Errorf("failed to initialize backup storage: %w", err)
	}
	a.archiver = backup.NewArchiver(b, a.storage)

	return nil
}

// Catalog exposes the run metadata store.
func (a *App) Catalog() *catalog.Catalog {
	return a.catalog
}

// Backend exposes the shared storage backend.
func (a *App) Backend() *backend.Backend {
	return a.backend
}

// CreateExperiment registers a new experiment.
func (a *App) CreateExperiment(ctx context.Context, name, sampleName string) (*types.Experiment, error) {
	return a.catalog.CreateExperiment(ctx, name, sampleName)
}

// CreateRun registers a new run under an experiment, with an optional
// instrument snapshot captured at creation time.
func (a *App) CreateRun(ctx context.Context, experimentID int64, schema types.RunSchema, snapshot []byte) (*types.Run, error) {
	return a.catalog.CreateRun(ctx, experimentID, schema, snapshot)
}

// BindWriter claims a run for exclusive writing using the configured
// flush threshold.
func (a *App) BindWriter(ctx context.Context, runID int64) (*writer.Writer, error) {
	return writer.Bind(ctx, a.catalog, runID, a.cfg.Writer.FlushThreshold)
}

// OpenReader opens a live polling cursor on a run using the configured
// batch size.
func (a *App) OpenReader(ctx context.Context, runID int64) (*reader.Reader, error) {
	return reader.Open(ctx, a.catalog, runID, a.cfg.Reader.BatchSize)
}

// Materialize returns the run's full table, cached once the run is in
// a terminal state.
func (a *App) Materialize(ctx context.Context, runID int64) (*export.Table, error) {
	return a.materializer.Materialize(ctx, runID)
}

// Materializer exposes the export cache for metrics inspection.
func (a *App) Materializer() *export.Materializer {
	return a.materializer
}

// DeleteRun removes a run and drops its cached table.
func (a *App) DeleteRun(ctx context.Context, runID int64) error {
	if err := a.catalog.DeleteRun(ctx, runID); err != nil {
		return err
	}
	a.materializer.Invalidate(runID)
	return nil
}

// Archive backs up the database and its journal to the configured
// storage target under the given prefix.
func (a *App) Archive(ctx context.Context, prefix string) error {
	if err := a.archiver.Archive(ctx, prefix); err != nil {
		return err
	}
	log.Printf("archived %s to %s storage under prefix %q",
		a.cfg.DatabasePath(), a.cfg.Backup.Storage.Type, prefix)
	return nil
}

// Close releases the database handles. Idempotent.
func (a *App) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.closed {
		return nil
	}
	a.closed = true

	if a.backend != nil {
		return a.backend.Close()
	}
	return nil
}
