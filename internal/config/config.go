package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"

	"horse.fit/eventmerge/internal/geocode"
	"horse.fit/eventmerge/internal/ingest"
	"horse.fit/eventmerge/internal/policy"
)

type Config struct {
	Environment string `envconfig:"ENVIRONMENT" default:"local"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info"`

	// DatabaseURL is only required by commands that open the database; see
	// RequireDatabase.
	DatabaseURL string `envconfig:"DATABASE_URL"`
	DBMinConns  int32  `envconfig:"EM_DB_MIN_CONNS" default:"1"`
	DBMaxConns  int32  `envconfig:"EM_DB_MAX_CONNS" default:"8"`

	CompletenessThreshold int     `envconfig:"COMPLETENESS_THRESHOLD" default:"70"`
	MergeStalenessDays    int     `envconfig:"MERGE_STALENESS_DAYS" default:"180"`
	AIMinFieldConfidence  float64 `envconfig:"AI_MIN_FIELD_CONFIDENCE" default:"0.7"`
	AISweepEnabled        bool    `envconfig:"AI_SWEEP_ENABLED" default:"true"`

	PolicyPublishMinConfidence float64 `envconfig:"POLICY_PUBLISH_MIN_CONFIDENCE" default:"0.75"`
	PolicyRejectMinConfidence  float64 `envconfig:"POLICY_REJECT_MIN_CONFIDENCE" default:"0.80"`
	PolicyRejectFamilyFitBelow float64 `envconfig:"POLICY_REJECT_FAMILY_FIT_BELOW" default:"30"`
	PolicyPublishFamilyFitMin  float64 `envconfig:"POLICY_PUBLISH_FAMILY_FIT_MIN" default:"50"`
	PolicyIncompleteScoreBelow int     `envconfig:"POLICY_INCOMPLETE_SCORE_BELOW" default:"50"`
	PolicyRejectedAgeRatings   string  `envconfig:"POLICY_REJECTED_AGE_RATINGS" default:"16+,18+"`

	// An empty GeocoderURL disables geocoding.
	GeocoderURL           string  `envconfig:"GEOCODER_URL" default:""`
	GeocoderUserAgent     string  `envconfig:"GEOCODER_USER_AGENT" default:"eventmerge/1.0"`
	GeocoderRatePerSecond float64 `envconfig:"GEOCODER_RATE_PER_SECOND" default:"1"`
	GeocoderMinConfidence float64 `envconfig:"GEOCODER_MIN_CONFIDENCE" default:"0.3"`
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	if c.DBMinConns < 0 {
		return fmt.Errorf("EM_DB_MIN_CONNS must be >= 0")
	}
	if c.DBMaxConns < 1 {
		return fmt.Errorf("EM_DB_MAX_CONNS must be >= 1")
	}
	if c.DBMinConns > c.DBMaxConns {
		return fmt.Errorf("EM_DB_MIN_CONNS (%d) cannot exceed EM_DB_MAX_CONNS (%d)", c.DBMinConns, c.DBMaxConns)
	}
	if c.CompletenessThreshold < 0 || c.CompletenessThreshold > 100 {
		return fmt.Errorf("COMPLETENESS_THRESHOLD must be between 0 and 100")
	}
	if c.MergeStalenessDays < 1 {
		return fmt.Errorf("MERGE_STALENESS_DAYS must be >= 1")
	}
	if c.PolicyIncompleteScoreBelow < 0 || c.PolicyIncompleteScoreBelow > 100 {
		return fmt.Errorf("POLICY_INCOMPLETE_SCORE_BELOW must be between 0 and 100")
	}

	for _, check := range []struct {
		name  string
		value float64
	}{
		{"AI_MIN_FIELD_CONFIDENCE", c.AIMinFieldConfidence},
		{"POLICY_PUBLISH_MIN_CONFIDENCE", c.PolicyPublishMinConfidence},
		{"POLICY_REJECT_MIN_CONFIDENCE", c.PolicyRejectMinConfidence},
		{"GEOCODER_MIN_CONFIDENCE", c.GeocoderMinConfidence},
	} {
		if check.value < 0 || check.value > 1 {
			return fmt.Errorf("%s must be between 0 and 1", check.name)
		}
	}

	if c.PolicyRejectFamilyFitBelow < 0 || c.PolicyRejectFamilyFitBelow > 100 {
		return fmt.Errorf("POLICY_REJECT_FAMILY_FIT_BELOW must be between 0 and 100")
	}
	if c.PolicyPublishFamilyFitMin < 0 || c.PolicyPublishFamilyFitMin > 100 {
		return fmt.Errorf("POLICY_PUBLISH_FAMILY_FIT_MIN must be between 0 and 100")
	}
	if strings.TrimSpace(c.GeocoderURL) != "" {
		if c.GeocoderRatePerSecond <= 0 {
			return fmt.Errorf("GEOCODER_RATE_PER_SECOND must be > 0")
		}
		if strings.TrimSpace(c.GeocoderUserAgent) == "" {
			return fmt.Errorf("GEOCODER_USER_AGENT is required when GEOCODER_URL is set")
		}
	}
	return nil
}

// RequireDatabase reports a configuration error when DATABASE_URL is unset.
func (c *Config) RequireDatabase() error {
	if c == nil || strings.TrimSpace(c.DatabaseURL) == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}
	return nil
}

func (c *Config) RejectedAgeRatingsList() []string {
	if c == nil {
		return nil
	}

	parts := strings.Split(c.PolicyRejectedAgeRatings, ",")
	ratings := make([]string, 0, len(parts))
	seen := make(map[string]struct{}, len(parts))
	for _, part := range parts {
		rating := strings.TrimSpace(part)
		if rating == "" {
			continue
		}
		if _, exists := seen[rating]; exists {
			continue
		}
		seen[rating] = struct{}{}
		ratings = append(ratings, rating)
	}
	return ratings
}

func (c *Config) PolicyThresholds() policy.Thresholds {
	return policy.Thresholds{
		PublishMinConfidence: c.PolicyPublishMinConfidence,
		RejectMinConfidence:  c.PolicyRejectMinConfidence,
		RejectFamilyFitBelow: c.PolicyRejectFamilyFitBelow,
		PublishFamilyFitMin:  c.PolicyPublishFamilyFitMin,
		IncompleteScoreBelow: c.PolicyIncompleteScoreBelow,
		RejectedAgeRatings:   c.RejectedAgeRatingsList(),
	}
}

func (c *Config) IngestOptions() ingest.Options {
	return ingest.Options{
		CompletenessThreshold: c.CompletenessThreshold,
		StalenessWindow:       time.Duration(c.MergeStalenessDays) * 24 * time.Hour,
		AIMinConfidence:       c.AIMinFieldConfidence,
		AISweepEnabled:        c.AISweepEnabled,
		Policy:                c.PolicyThresholds(),
		GeocodeMinConfidence:  c.GeocoderMinConfidence,
	}
}

func (c *Config) GeocodingEnabled() bool {
	return c != nil && strings.TrimSpace(c.GeocoderURL) != ""
}

func (c *Config) GeocoderLimits() geocode.LimitedOptions {
	return geocode.LimitedOptions{
		RatePerSecond: c.GeocoderRatePerSecond,
		Burst:         1,
	}
}
