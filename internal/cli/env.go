package cli

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
)

// OverrideEnvVar names a .env file that wins over the --env flag.
const OverrideEnvVar = "EVENTMERGE_ENV_FILE"

// ErrNoEnvFile is returned when none of the candidate paths could be loaded.
var ErrNoEnvFile = errors.New("no env file loaded")

// EnvLoader resolves the --env flag into a loaded .env file.
type EnvLoader struct {
	value       *string
	defaultPath string
	logger      zerolog.Logger
}

// AddEnvFlag registers --env on fs and returns the loader bound to it.
func AddEnvFlag(fs *flag.FlagSet, defaultPath, description string) *EnvLoader {
	if fs == nil {
		fs = flag.CommandLine
	}
	if defaultPath == "" {
		defaultPath = ".env"
	}
	if description == "" {
		description = "Path to the .env file"
	}

	return &EnvLoader{
		value:       fs.String("env", defaultPath, description),
		defaultPath: defaultPath,
		logger:      zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, NoColor: true}).With().Timestamp().Logger(),
	}
}

// WithLogger replaces the stderr logger used to report which file was loaded.
func (l *EnvLoader) WithLogger(logger zerolog.Logger) *EnvLoader {
	if l != nil {
		l.logger = logger
	}
	return l
}

// Load tries, in order: $EVENTMERGE_ENV_FILE, the flag value, its basename,
// and the default path. Values in the file override the process environment.
func (l *EnvLoader) Load() (string, error) {
	if l == nil {
		return "", fmt.Errorf("env loader is nil")
	}

	if custom := strings.TrimSpace(os.Getenv(OverrideEnvVar)); custom != "" {
		if err := godotenv.Overload(custom); err == nil {
			l.logger.Debug().Str("path", custom).Str("via", OverrideEnvVar).Msg("loaded environment")
			return custom, nil
		}
		l.logger.Warn().Str("path", custom).Str("via", OverrideEnvVar).Msg("failed to load env file")
	}

	for _, path := range l.candidates() {
		if err := godotenv.Overload(path); err == nil {
			l.logger.Debug().Str("path", path).Msg("loaded environment")
			return path, nil
		}
	}

	return "", fmt.Errorf("%w from %s", ErrNoEnvFile, l.requested())
}

func (l *EnvLoader) requested() string {
	if l.value != nil {
		if v := strings.TrimSpace(*l.value); v != "" {
			return v
		}
	}
	return l.defaultPath
}

func (l *EnvLoader) candidates() []string {
	requested := l.requested()
	paths := []string{requested}
	if base := filepath.Base(requested); base != "" && base != requested {
		paths = append(paths, base)
	}
	if requested != l.defaultPath {
		paths = append(paths, l.defaultPath)
	}
	return paths
}
