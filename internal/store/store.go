// Package store defines the persistence contract of the merge engine and the
// records that cross it.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"horse.fit/eventmerge/internal/model"
)

var (
	ErrNotFound = errors.New("not found")
	// ErrFingerprintExists is returned by CreateEvent when another writer
	// created the canonical event for the fingerprint first.
	ErrFingerprintExists = errors.New("fingerprint already has an event")
	// ErrDuplicate reports a join row that already exists.
	ErrDuplicate = errors.New("duplicate row")
)

type RunStatus string

const (
	RunRunning RunStatus = "running"
	RunSuccess RunStatus = "success"
	RunPartial RunStatus = "partial"
	RunFailed  RunStatus = "failed"
)

type Source struct {
	ID      int64            `json:"id"`
	Name    string           `json:"name"`
	Type    model.SourceType `json:"type"`
	URL     string           `json:"url,omitempty"`
	Enabled bool             `json:"enabled"`
}

type RawItem struct {
	ID           int64           `json:"id"`
	SourceID     int64           `json:"source_id"`
	RawHash      string          `json:"raw_hash"`
	RunID        string          `json:"run_id,omitempty"`
	FirstSeenAt  time.Time       `json:"first_seen_at"`
	LastSeenAt   time.Time       `json:"last_seen_at"`
	SeenCount    int             `json:"seen_count"`
	IngestStatus string          `json:"ingest_status,omitempty"`
	IngestResult json.RawMessage `json:"ingest_result,omitempty"`
}

type RawItemInput struct {
	SourceID int64
	RawHash  string
	RunID    string
	Payload  json.RawMessage
	SeenAt   time.Time
}

type EventSource struct {
	ID                int64           `json:"id"`
	EventID           string          `json:"event_id"`
	SourceID          int64           `json:"source_id"`
	Fingerprint       string          `json:"fingerprint"`
	IdempotencyKey    string          `json:"idempotency_key"`
	// RawHash is the raw hash of the latest submission merged through this
	// link.
	RawHash           string          `json:"raw_hash,omitempty"`
	SourceURL         string          `json:"source_url,omitempty"`
	ExternalID        string          `json:"external_id,omitempty"`
	RawPayload        json.RawMessage `json:"raw_payload,omitempty"`
	NormalizedPayload json.RawMessage `json:"normalized_payload,omitempty"`
	LastFetchedAt     time.Time       `json:"last_fetched_at"`
}

// Event is a canonical event. Fields.Categories mirrors the category join
// rows.
type Event struct {
	ID                string                      `json:"id"`
	Fields            model.Fields                `json:"fields"`
	Status            model.Status                `json:"status"`
	StatusReason      string                      `json:"status_reason,omitempty"`
	StatusFlags       []string                    `json:"status_flags,omitempty"`
	CompletenessScore int                         `json:"completeness_score"`
	IsComplete        bool                        `json:"is_complete"`
	FieldProvenance   map[string]model.SourceType `json:"field_provenance"`
	FieldUpdatedAt    map[string]time.Time        `json:"field_updated_at"`
	LockedFields      []string                    `json:"locked_fields,omitempty"`
	// PrimarySourceID is the id of the EventSource that created the event.
	PrimarySourceID   *int64                      `json:"primary_source_id,omitempty"`
	CreatedAt         time.Time                   `json:"created_at"`
	UpdatedAt         time.Time                   `json:"updated_at"`
}

// EventUpdate is a single partial write of merged values. Only Changed
// columns are written; FieldProvenance and FieldUpdatedAt entries are merged
// into the stored maps.
type EventUpdate struct {
	EventID           string
	Fields            model.Fields
	Changed           []model.Field
	FieldProvenance   map[string]model.SourceType
	FieldUpdatedAt    map[string]time.Time
	CompletenessScore int
	IsComplete        bool
	At                time.Time
}

// NewEvent is written atomically: the event, its first EventSource and the
// primary_source_id link.
type NewEvent struct {
	Event  Event
	Source EventSource
}

type ReasonCount struct {
	Reason string `json:"reason"`
	Count  int    `json:"count"`
}

type MergeStats struct {
	TopReasons []ReasonCount `json:"top_reasons"`
}

type RunCounts struct {
	Found     int `json:"found"`
	Created   int `json:"created"`
	Updated   int `json:"updated"`
	Unchanged int `json:"unchanged"`
	Ignored   int `json:"ignored"`
}

type Run struct {
	ID           string     `json:"id"`
	SourceID     int64      `json:"source_id"`
	Status       RunStatus  `json:"status"`
	Counts       RunCounts  `json:"counts"`
	MergeStats   MergeStats `json:"merge_stats"`
	StartedAt    time.Time  `json:"started_at"`
	FinishedAt   *time.Time `json:"finished_at,omitempty"`
	ErrorMessage string     `json:"error_message,omitempty"`
}

type RunResult struct {
	Status       RunStatus
	Counts       RunCounts
	MergeStats   MergeStats
	ErrorMessage string
	FinishedAt   time.Time
}

// Store is what the candidate processor and batch coordinator need from
// persistence. Implementations must guarantee at most one canonical event per
// fingerprint and uniqueness of (source_id, raw_hash) and
// (fingerprint, source_id).
type Store interface {
	GetSource(ctx context.Context, id int64) (Source, error)

	// UpsertRawItem creates the audit row with seen_count 1 or bumps
	// seen_count and last_seen_at on a repeat.
	UpsertRawItem(ctx context.Context, in RawItemInput) (RawItem, error)
	RecordRawItemResult(ctx context.Context, rawItemID int64, status string, result json.RawMessage) error

	// FindEventSourceByFingerprint searches across all sources and returns
	// the oldest link.
	FindEventSourceByFingerprint(ctx context.Context, fingerprint string) (EventSource, error)
	GetEventSource(ctx context.Context, fingerprint string, sourceID int64) (EventSource, error)
	UpsertEventSource(ctx context.Context, es EventSource) (EventSource, error)

	GetEvent(ctx context.Context, id string) (Event, error)
	CreateEvent(ctx context.Context, in NewEvent) (Event, error)
	UpdateEvent(ctx context.Context, in EventUpdate) error
	AttachCategories(ctx context.Context, eventID string, categories []string) error
	AttachScores(ctx context.Context, eventID string, scores model.AIScores) error

	CreateRun(ctx context.Context, sourceID int64, startedAt time.Time) (Run, error)
	FinishRun(ctx context.Context, runID string, res RunResult) error
	GetRun(ctx context.Context, id string) (Run, error)
}
