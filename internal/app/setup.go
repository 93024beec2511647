package app

import (
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/rs/zerolog"

	"horse.fit/eventmerge/internal/cli"
	"horse.fit/eventmerge/internal/config"
	"horse.fit/eventmerge/internal/geocode"
	"horse.fit/eventmerge/internal/ingest"
	"horse.fit/eventmerge/internal/logging"
	"horse.fit/eventmerge/internal/store"
)

// bootstrap loads the .env file, config and logger shared by every command.
func bootstrap(envLoader *cli.EnvLoader) (*config.Config, zerolog.Logger, bool) {
	if envLoader != nil {
		if _, err := envLoader.Load(); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: %v\n", err)
		}
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		return nil, zerolog.Logger{}, false
	}

	logger, err := logging.New(cfg.Environment, cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		return nil, zerolog.Logger{}, false
	}
	return cfg, logger, true
}

// newGeocoder returns nil when GEOCODER_URL is unset.
func newGeocoder(cfg *config.Config, logger zerolog.Logger) *geocode.Limited {
	if !cfg.GeocodingEnabled() {
		return nil
	}
	client := &http.Client{Timeout: 10 * time.Second}
	nominatim := geocode.NewNominatim(cfg.GeocoderURL, cfg.GeocoderUserAgent, client)
	return geocode.NewLimited(nominatim, cfg.GeocoderLimits(), logger.With().Str("component", "geocoder").Logger())
}

func newCoordinator(cfg *config.Config, st store.Store, geocoder *geocode.Limited, logger zerolog.Logger) *ingest.Coordinator {
	var options []ingest.ProcessorOption
	if geocoder != nil {
		options = append(options, ingest.WithGeocoder(geocoder))
	}
	proc := ingest.NewProcessor(st, cfg.IngestOptions(), logger, options...)
	return ingest.NewCoordinator(proc, st, logger)
}

func parseFlags(fs *flag.FlagSet, args []string) (int, bool) {
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0, false
		}
		return 2, false
	}
	return 0, true
}
