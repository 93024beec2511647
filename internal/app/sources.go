package app

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"horse.fit/eventmerge/internal/cli"
	"horse.fit/eventmerge/internal/db"
	"horse.fit/eventmerge/internal/merge"
	"horse.fit/eventmerge/internal/model"
	"horse.fit/eventmerge/internal/store"
)

func runSources(args []string) int {
	fs := flag.NewFlagSet("sources", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	envLoader := cli.AddEnvFlag(fs, ".env", "Path to the .env file")
	name := fs.String("name", "", "Unique source name")
	sourceType := fs.String("type", "", "Source type: manual, partner, provider, api, rss, ics, scraper")
	url := fs.String("url", "", "Source URL")
	disabled := fs.Bool("disabled", false, "Register the source as disabled")

	if code, ok := parseFlags(fs, args); !ok {
		return code
	}

	if strings.TrimSpace(*name) == "" {
		fmt.Fprintln(os.Stderr, "--name is required")
		return 2
	}
	st := model.NormalizeSourceType(*sourceType)
	if !merge.KnownSourceType(st) {
		fmt.Fprintf(os.Stderr, "--type %q is not a known source type\n", *sourceType)
		return 2
	}

	cfg, logger, ok := bootstrap(envLoader)
	if !ok {
		return 1
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	pool, err := db.NewPool(ctx, cfg)
	if err != nil {
		logger.Error().Err(err).Msg("sources failed to connect to database")
		fmt.Fprintf(os.Stderr, "Failed to connect to database: %v\n", err)
		return 1
	}
	defer pool.Close()

	src, err := db.NewStore(pool).UpsertSource(ctx, store.Source{
		Name:    *name,
		Type:    st,
		URL:     *url,
		Enabled: !*disabled,
	})
	if err != nil {
		logger.Error().Err(err).Str("name", *name).Msg("upsert source failed")
		fmt.Fprintf(os.Stderr, "Failed to register source: %v\n", err)
		return 1
	}

	logger.Info().Int64("source_id", src.ID).Str("name", src.Name).Str("type", string(src.Type)).Msg("source registered")
	fmt.Printf("source_id=%d name=%s type=%s enabled=%t\n", src.ID, src.Name, src.Type, src.Enabled)
	return 0
}
