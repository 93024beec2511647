package app

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"horse.fit/eventmerge/internal/cli"
	"horse.fit/eventmerge/internal/config"
	"horse.fit/eventmerge/internal/db"
	"horse.fit/eventmerge/internal/ingest"
	"horse.fit/eventmerge/internal/model"
	"horse.fit/eventmerge/internal/store"
	"horse.fit/eventmerge/internal/store/memory"
	payloadschema "horse.fit/eventmerge/schema"
)

type ingestOptions struct {
	file       string
	sourceID   int64
	dryRun     bool
	sourceType string
	strict     bool
	timeout    time.Duration
}

func runIngest(args []string) int {
	fs := flag.NewFlagSet("ingest", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	envLoader := cli.AddEnvFlag(fs, ".env", "Path to the .env file")
	var opts ingestOptions
	fs.StringVar(&opts.file, "file", "", "Candidate batch file (JSON array or NDJSON); - reads stdin")
	fs.Int64Var(&opts.sourceID, "source-id", 0, "Registered source id the batch belongs to")
	fs.BoolVar(&opts.dryRun, "dry-run", false, "Merge into an in-memory store instead of the database")
	fs.StringVar(&opts.sourceType, "source-type", string(model.SourceManual), "Source type assumed for --dry-run")
	fs.BoolVar(&opts.strict, "strict", false, "Abort when any item fails schema validation")
	fs.DurationVar(&opts.timeout, "timeout", 10*time.Minute, "Overall batch timeout")

	if code, ok := parseFlags(fs, args); !ok {
		return code
	}

	if strings.TrimSpace(opts.file) == "" {
		fmt.Fprintln(os.Stderr, "--file is required")
		return 2
	}
	if opts.sourceID <= 0 {
		fmt.Fprintln(os.Stderr, "--source-id must be > 0")
		return 2
	}

	cfg, logger, ok := bootstrap(envLoader)
	if !ok {
		return 1
	}

	raw, err := readBatch(opts.file)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to read batch: %v\n", err)
		return 1
	}
	candidates, itemErrs, err := payloadschema.ParseBatch(raw)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to parse batch: %v\n", err)
		return 1
	}
	for _, ie := range itemErrs {
		fmt.Fprintf(os.Stderr, "INVALID %s: %v\n", opts.file, ie)
	}
	if len(itemErrs) > 0 && opts.strict {
		fmt.Fprintf(os.Stderr, "Aborting: %d invalid item(s) in strict mode\n", len(itemErrs))
		return 1
	}

	ctx, cancel := context.WithTimeout(context.Background(), opts.timeout)
	defer cancel()

	result, err := ingestBatch(ctx, cfg, logger, opts, candidates)
	if err != nil {
		logger.Error().Err(err).Int64("source_id", opts.sourceID).Msg("ingest failed")
		fmt.Fprintf(os.Stderr, "Ingest failed: %v\n", err)
		return 1
	}

	if err := writeSummary(os.Stdout, result, len(itemErrs)); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to write summary: %v\n", err)
		return 1
	}
	if result.Summary.Status == store.RunFailed {
		return 1
	}
	return 0
}

func ingestBatch(ctx context.Context, cfg *config.Config, logger zerolog.Logger, opts ingestOptions, candidates []model.Candidate) (ingest.BatchResult, error) {
	geocoder := newGeocoder(cfg, logger)
	if geocoder != nil {
		defer geocoder.Close()
	}

	if opts.dryRun {
		st := memory.New()
		st.AddSource(store.Source{
			ID:      opts.sourceID,
			Name:    "dry-run",
			Type:    model.NormalizeSourceType(opts.sourceType),
			Enabled: true,
		})
		return newCoordinator(cfg, st, geocoder, logger).Run(ctx, candidates, opts.sourceID)
	}

	pool, err := db.NewPool(ctx, cfg)
	if err != nil {
		return ingest.BatchResult{}, fmt.Errorf("connect to database: %w", err)
	}
	defer pool.Close()

	return newCoordinator(cfg, db.NewStore(pool), geocoder, logger).Run(ctx, candidates, opts.sourceID)
}

func readBatch(path string) ([]byte, error) {
	if path == "-" {
		return io.ReadAll(os.Stdin)
	}
	return os.ReadFile(path)
}

type ingestSummary struct {
	RunID    string         `json:"run_id,omitempty"`
	Summary  ingest.Summary `json:"summary"`
	Rejected int            `json:"rejected"`
}

func writeSummary(w io.Writer, result ingest.BatchResult, rejected int) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(ingestSummary{
		RunID:    result.RunID,
		Summary:  result.Summary,
		Rejected: rejected,
	})
}
