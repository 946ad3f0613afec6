// Package main implements the sweepdb command line tool for inspecting,
// exporting, and archiving an experiment database.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"strconv"
	"time"

	"github.com/sweepdb/sweepdb/internal/app"
	"github.com/sweepdb/sweepdb/internal/config"
	"github.com/sweepdb/sweepdb/internal/export"
)

var (
	version = "dev"
	commit  = "unknown"
)

func main() {
	var (
		configFile  string
		dataDir     string
		showVersion bool
	)

	flag.StringVar(&configFile, "config", "", "Path to configuration file (YAML or JSON)")
	flag.StringVar(&dataDir, "data-dir", "", "Base directory for the database and its journal")
	flag.BoolVar(&showVersion, "version", false, "Show version information")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "sweepdb - experiment run database\n\n")
		fmt.Fprintf(os.Stderr, "Usage: sweepdb [options] <command> [args]\n\n")
		fmt.Fprintf(os.Stderr, "Commands:\n")
		fmt.Fprintf(os.Stderr, "  info                 Show experiments and runs\n")
		fmt.Fprintf(os.Stderr, "  export <run-id>      Write a run's table as CSV to stdout\n")
		fmt.Fprintf(os.Stderr, "  snapshot <run-id>    Print a run's instrument snapshot\n")
		fmt.Fprintf(os.Stderr, "  archive [prefix]     Back up the database to the configured storage\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nEnvironment Variables:\n")
		fmt.Fprintf(os.Stderr, "  SWEEPDB_DATA_DIR             Base directory for data files\n")
		fmt.Fprintf(os.Stderr, "  SWEEPDB_JOURNAL_MODE         SQLite journal mode (wal, delete, truncate)\n")
		fmt.Fprintf(os.Stderr, "  SWEEPDB_BACKUP_STORAGE_TYPE  Backup storage type (local, s3)\n")
	}

	flag.Parse()

	if showVersion {
		fmt.Printf("sweepdb version %s (commit: %s)\n", version, commit)
		os.Exit(0)
	}

	if flag.NArg() < 1 {
		flag.Usage()
		os.Exit(2)
	}

	cfg, err := loadConfig(configFile, dataDir)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	application, err := app.New(cfg)
	if err != nil {
		log.Fatalf("Failed to open database: %v", err)
	}
	defer application.Close()

	ctx := context.Background()

	switch cmd := flag.Arg(0); cmd {
	case "info":
		err = runInfo(ctx, application)
	case "export":
		err = runExport(ctx, application, flag.Args()[1:])
	case "snapshot":
		err = runSnapshot(ctx, application, flag.Args()[1:])
	case "archive":
		err = runArchive(ctx, application, flag.Args()[1:])
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", cmd)
		flag.Usage()
		os.Exit(2)
	}
	if err != nil {
		log.Fatalf("%v", err)
	}
}

// loadConfig loads configuration from file, environment, and flags.
func loadConfig(configFile, dataDir string) (*config.Config, error) {
	var cfg *config.Config
	var err error

	if configFile != "" {
		cfg, err = config.LoadFromFile(configFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load config file: %w", err)
		}
	} else {
		cfg = config.DefaultConfig()
	}

	config.LoadFromEnv(cfg)

	if dataDir != "" {
		cfg.DataDir = dataDir
	}
	return cfg, nil
}

// runInfo prints all experiments with their runs.
func runInfo(ctx context.Context, a *app.App) error {
	exps, err := a.Catalog().ListExperiments(ctx)
	if err != nil {
		return err
	}
	if len(exps) == 0 {
		fmt.Println("no experiments")
		return nil
	}

	for _, exp := range exps {
		fmt.Printf("experiment %d: %s (sample: %s, created: %s)\n",
			exp.ID, exp.Name, exp.SampleName, exp.CreatedAt.Format(time.RFC3339))

		runs, err := a.Catalog().ListRuns(ctx, exp.ID)
		if err != nil {
			return err
		}
		for _, run := range runs {
			fmt.Printf("  run %d: %s, %d rows, %d params\n",
				run.ID, run.Status, run.RowCount, len(run.Schema.Params))
		}
	}
	return nil
}

// runExport writes a run's table as CSV to stdout.
func runExport(ctx context.Context, a *app.App, args []string) error {
	runID, err := parseRunID(args)
	if err != nil {
		return err
	}

	table, err := a.Materialize(ctx, runID)
	if err != nil {
		return err
	}
	return export.WriteCSV(os.Stdout, table)
}

// runSnapshot prints a run's instrument snapshot.
func runSnapshot(ctx context.Context, a *app.App, args []string) error {
	runID, err := parseRunID(args)
	if err != nil {
		return err
	}

	snapshot, err := a.Catalog().GetSnapshot(ctx, runID)
	if err != nil {
		return err
	}
	_, err = os.Stdout.Write(snapshot)
	return err
}

// runArchive backs up the database and journal to the configured target.
func runArchive(ctx context.Context, a *app.App, args []string) error {
	prefix := time.Now().UTC().Format("20060102T150405Z")
	if len(args) > 0 {
		prefix = args[0]
	}
	return a.Archive(ctx, prefix)
}

func parseRunID(args []string) (int64, error) {
	if len(args) < 1 {
		return 0, fmt.Errorf("run id required")
	}
	runID, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid run id %q", args[0])
	}
	return runID, nil
}
