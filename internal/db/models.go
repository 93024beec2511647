package db

import (
	"encoding/json"
	"time"
)

// Source maps catalog.sources.
type Source struct {
	SourceID   int64     `gorm:"column:source_id;primaryKey;autoIncrement"`
	Name       string    `gorm:"column:name;type:text;not null"`
	SourceType string    `gorm:"column:source_type;type:text;not null"`
	URL        *string   `gorm:"column:url;type:text"`
	Enabled    bool      `gorm:"column:enabled;type:boolean;not null;default:true"`
	CreatedAt  time.Time `gorm:"column:created_at;type:timestamptz;not null;default:now()"`
	UpdatedAt  time.Time `gorm:"column:updated_at;type:timestamptz;not null;default:now()"`
}

func (Source) TableName() string { return "catalog.sources" }

// RawEventItem maps catalog.raw_event_items, the per-source audit of every
// submitted payload.
type RawEventItem struct {
	RawItemID    int64           `gorm:"column:raw_item_id;primaryKey;autoIncrement"`
	SourceID     int64           `gorm:"column:source_id;type:bigint;not null"`
	RawHash      string          `gorm:"column:raw_hash;type:text;not null"`
	RunID        *string         `gorm:"column:run_id;type:uuid"`
	Payload      json.RawMessage `gorm:"column:payload;type:jsonb"`
	FirstSeenAt  time.Time       `gorm:"column:first_seen_at;type:timestamptz;not null;default:now()"`
	LastSeenAt   time.Time       `gorm:"column:last_seen_at;type:timestamptz;not null;default:now()"`
	SeenCount    int             `gorm:"column:seen_count;type:integer;not null;default:1"`
	IngestStatus *string         `gorm:"column:ingest_status;type:text"`
	IngestResult json.RawMessage `gorm:"column:ingest_result;type:jsonb"`
}

func (RawEventItem) TableName() string { return "catalog.raw_event_items" }

// Event maps catalog.events, one row per canonical event.
type Event struct {
	EventID           string          `gorm:"column:event_id;type:uuid;primaryKey;default:gen_random_uuid()"`
	Title             *string         `gorm:"column:title;type:text"`
	DescriptionShort  *string         `gorm:"column:description_short;type:text"`
	DescriptionLong   *string         `gorm:"column:description_long;type:text"`
	StartAt           *time.Time      `gorm:"column:start_at;type:timestamptz"`
	EndAt             *time.Time      `gorm:"column:end_at;type:timestamptz"`
	Address           *string         `gorm:"column:address;type:text"`
	VenueName         *string         `gorm:"column:venue_name;type:text"`
	City              *string         `gorm:"column:city;type:text"`
	Lat               *float64        `gorm:"column:lat;type:double precision"`
	Lng               *float64        `gorm:"column:lng;type:double precision"`
	PriceType         *string         `gorm:"column:price_type;type:text"`
	PriceMin          *float64        `gorm:"column:price_min;type:numeric(10,2)"`
	PriceMax          *float64        `gorm:"column:price_max;type:numeric(10,2)"`
	AgeMin            *int            `gorm:"column:age_min;type:smallint"`
	AgeMax            *int            `gorm:"column:age_max;type:smallint"`
	AgeRating         *string         `gorm:"column:age_rating;type:text"`
	IsIndoor          *bool           `gorm:"column:is_indoor;type:boolean"`
	IsOutdoor         *bool           `gorm:"column:is_outdoor;type:boolean"`
	BookingURL        *string         `gorm:"column:booking_url;type:text"`
	ContactEmail      *string         `gorm:"column:contact_email;type:text"`
	ContactPhone      *string         `gorm:"column:contact_phone;type:text"`
	ImageURLs         json.RawMessage `gorm:"column:image_urls;type:jsonb"`
	Status            string          `gorm:"column:status;type:text;not null;default:raw"`
	StatusReason      *string         `gorm:"column:status_reason;type:text"`
	StatusFlags       json.RawMessage `gorm:"column:status_flags;type:jsonb;not null;default:'[]'"`
	CompletenessScore int             `gorm:"column:completeness_score;type:smallint;not null;default:0"`
	IsComplete        bool            `gorm:"column:is_complete;type:boolean;not null;default:false"`
	FieldProvenance   json.RawMessage `gorm:"column:field_provenance;type:jsonb;not null;default:'{}'"`
	FieldUpdatedAt    json.RawMessage `gorm:"column:field_updated_at;type:jsonb;not null;default:'{}'"`
	LockedFields      json.RawMessage `gorm:"column:locked_fields;type:jsonb;not null;default:'[]'"`
	// PrimarySourceID references the creating catalog.event_sources row.
	PrimarySourceID   *int64          `gorm:"column:primary_source_id;type:bigint"`
	CreatedAt         time.Time       `gorm:"column:created_at;type:timestamptz;not null;default:now()"`
	UpdatedAt         time.Time       `gorm:"column:updated_at;type:timestamptz;not null;default:now()"`
}

func (Event) TableName() string { return "catalog.events" }

// EventSource maps catalog.event_sources, the link from a canonical event to
// each source that reported it.
type EventSource struct {
	EventSourceID     int64           `gorm:"column:event_source_id;primaryKey;autoIncrement"`
	EventID           string          `gorm:"column:event_id;type:uuid;not null"`
	SourceID          int64           `gorm:"column:source_id;type:bigint;not null"`
	Fingerprint       string          `gorm:"column:fingerprint;type:text;not null"`
	IdempotencyKey    string          `gorm:"column:idempotency_key;type:text;not null"`
	RawHash           *string         `gorm:"column:raw_hash;type:text"`
	SourceURL         *string         `gorm:"column:source_url;type:text"`
	ExternalID        *string         `gorm:"column:external_id;type:text"`
	RawPayload        json.RawMessage `gorm:"column:raw_payload;type:jsonb"`
	NormalizedPayload json.RawMessage `gorm:"column:normalized_payload;type:jsonb"`
	LastFetchedAt     time.Time       `gorm:"column:last_fetched_at;type:timestamptz;not null;default:now()"`
	CreatedAt         time.Time       `gorm:"column:created_at;type:timestamptz;not null;default:now()"`
}

func (EventSource) TableName() string { return "catalog.event_sources" }

type Category struct {
	CategoryID int64     `gorm:"column:category_id;primaryKey;autoIncrement"`
	Slug       string    `gorm:"column:slug;type:text;not null"`
	CreatedAt  time.Time `gorm:"column:created_at;type:timestamptz;not null;default:now()"`
}

func (Category) TableName() string { return "catalog.categories" }

type EventCategory struct {
	EventID    string    `gorm:"column:event_id;type:uuid;primaryKey"`
	CategoryID int64     `gorm:"column:category_id;type:bigint;primaryKey"`
	CreatedAt  time.Time `gorm:"column:created_at;type:timestamptz;not null;default:now()"`
}

func (EventCategory) TableName() string { return "catalog.event_categories" }

// EventScore maps catalog.event_scores. Scores are written once per event.
type EventScore struct {
	EventID    string    `gorm:"column:event_id;type:uuid;primaryKey"`
	Relevance  *float64  `gorm:"column:relevance;type:double precision"`
	Quality    *float64  `gorm:"column:quality;type:double precision"`
	FamilyFit  *float64  `gorm:"column:family_fit;type:double precision"`
	Stressfree *float64  `gorm:"column:stressfree;type:double precision"`
	CreatedAt  time.Time `gorm:"column:created_at;type:timestamptz;not null;default:now()"`
}

func (EventScore) TableName() string { return "catalog.event_scores" }

// IngestRun maps catalog.ingest_runs.
type IngestRun struct {
	RunID          string          `gorm:"column:run_id;type:uuid;primaryKey;default:gen_random_uuid()"`
	SourceID       int64           `gorm:"column:source_id;type:bigint;not null"`
	Status         string          `gorm:"column:status;type:text;not null;default:running"`
	ItemsFound     int             `gorm:"column:items_found;type:integer;not null;default:0"`
	ItemsCreated   int             `gorm:"column:items_created;type:integer;not null;default:0"`
	ItemsUpdated   int             `gorm:"column:items_updated;type:integer;not null;default:0"`
	ItemsUnchanged int             `gorm:"column:items_unchanged;type:integer;not null;default:0"`
	ItemsIgnored   int             `gorm:"column:items_ignored;type:integer;not null;default:0"`
	MergeStats     json.RawMessage `gorm:"column:merge_stats;type:jsonb;not null;default:'{}'"`
	ErrorMessage   *string         `gorm:"column:error_message;type:text"`
	StartedAt      time.Time       `gorm:"column:started_at;type:timestamptz;not null;default:now()"`
	FinishedAt     *time.Time      `gorm:"column:finished_at;type:timestamptz"`
}

func (IngestRun) TableName() string { return "catalog.ingest_runs" }

func autoMigrateModels() []any {
	return []any{
		&Source{},
		&RawEventItem{},
		&Event{},
		&EventSource{},
		&Category{},
		&EventCategory{},
		&EventScore{},
		&IngestRun{},
	}
}
