package db

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"horse.fit/eventmerge/internal/model"
	"horse.fit/eventmerge/internal/store"
)

// Store implements store.Store on Postgres.
type Store struct {
	pool *Pool
}

var _ store.Store = (*Store)(nil)

func NewStore(pool *Pool) *Store {
	return &Store{pool: pool}
}

// UpsertSource registers a source by name, updating type, url and enabled on
// a repeat.
func (s *Store) UpsertSource(ctx context.Context, src store.Source) (store.Source, error) {
	const q = `
INSERT INTO catalog.sources (name, source_type, url, enabled, created_at, updated_at)
VALUES ($1, $2, $3, $4, now(), now())
ON CONFLICT (name) DO UPDATE SET
	source_type = EXCLUDED.source_type,
	url = EXCLUDED.url,
	enabled = EXCLUDED.enabled,
	updated_at = now()
RETURNING source_id, name, source_type, COALESCE(url, ''), enabled
`

	name := strings.TrimSpace(src.Name)
	if name == "" {
		return store.Source{}, fmt.Errorf("source name is required")
	}

	var out store.Source
	if err := s.pool.QueryRow(ctx, q, name, string(model.NormalizeSourceType(string(src.Type))), nullableText(src.URL), src.Enabled).Scan(
		&out.ID,
		&out.Name,
		&out.Type,
		&out.URL,
		&out.Enabled,
	); err != nil {
		return store.Source{}, fmt.Errorf("upsert source: %w", err)
	}
	return out, nil
}

func (s *Store) GetSource(ctx context.Context, id int64) (store.Source, error) {
	const q = `
SELECT source_id, name, source_type, COALESCE(url, ''), enabled
FROM catalog.sources
WHERE source_id = $1
`

	var out store.Source
	if err := s.pool.QueryRow(ctx, q, id).Scan(&out.ID, &out.Name, &out.Type, &out.URL, &out.Enabled); err != nil {
		if IsNoRows(err) {
			return store.Source{}, store.ErrNotFound
		}
		return store.Source{}, fmt.Errorf("query source: %w", err)
	}
	out.Type = model.NormalizeSourceType(string(out.Type))
	return out, nil
}

func (s *Store) UpsertRawItem(ctx context.Context, in store.RawItemInput) (store.RawItem, error) {
	const q = `
INSERT INTO catalog.raw_event_items (source_id, raw_hash, run_id, payload, first_seen_at, last_seen_at, seen_count)
VALUES ($1, $2, $3, $4::jsonb, $5, $5, 1)
ON CONFLICT (source_id, raw_hash) DO UPDATE SET
	seen_count = catalog.raw_event_items.seen_count + 1,
	last_seen_at = EXCLUDED.last_seen_at,
	run_id = EXCLUDED.run_id
RETURNING raw_item_id, source_id, raw_hash, COALESCE(run_id::text, ''), first_seen_at, last_seen_at, seen_count, COALESCE(ingest_status, ''), ingest_result
`

	var (
		out    store.RawItem
		result []byte
	)
	if err := s.pool.QueryRow(ctx, q, in.SourceID, in.RawHash, nullableText(in.RunID), nullableJSON(in.Payload), in.SeenAt).Scan(
		&out.ID,
		&out.SourceID,
		&out.RawHash,
		&out.RunID,
		&out.FirstSeenAt,
		&out.LastSeenAt,
		&out.SeenCount,
		&out.IngestStatus,
		&result,
	); err != nil {
		return store.RawItem{}, fmt.Errorf("upsert raw item: %w", err)
	}
	if len(result) > 0 {
		out.IngestResult = json.RawMessage(result)
	}
	return out, nil
}

func (s *Store) RecordRawItemResult(ctx context.Context, rawItemID int64, status string, result json.RawMessage) error {
	const q = `
UPDATE catalog.raw_event_items
SET ingest_status = $2, ingest_result = $3::jsonb
WHERE raw_item_id = $1
`

	tag, err := s.pool.Exec(ctx, q, rawItemID, status, nullableJSON(result))
	if err != nil {
		return fmt.Errorf("record raw item result: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

const eventSourceColumns = `
	event_source_id,
	event_id::text,
	source_id,
	fingerprint,
	idempotency_key,
	COALESCE(raw_hash, ''),
	COALESCE(source_url, ''),
	COALESCE(external_id, ''),
	raw_payload,
	normalized_payload,
	last_fetched_at
`

func scanEventSource(row *Row) (store.EventSource, error) {
	var (
		out        store.EventSource
		raw        []byte
		normalized []byte
	)
	if err := row.Scan(
		&out.ID,
		&out.EventID,
		&out.SourceID,
		&out.Fingerprint,
		&out.IdempotencyKey,
		&out.RawHash,
		&out.SourceURL,
		&out.ExternalID,
		&raw,
		&normalized,
		&out.LastFetchedAt,
	); err != nil {
		return store.EventSource{}, err
	}
	if len(raw) > 0 {
		out.RawPayload = json.RawMessage(raw)
	}
	if len(normalized) > 0 {
		out.NormalizedPayload = json.RawMessage(normalized)
	}
	return out, nil
}

func (s *Store) FindEventSourceByFingerprint(ctx context.Context, fingerprint string) (store.EventSource, error) {
	q := `SELECT` + eventSourceColumns + `
FROM catalog.event_sources
WHERE fingerprint = $1
ORDER BY event_source_id
LIMIT 1
`

	out, err := scanEventSource(s.pool.QueryRow(ctx, q, fingerprint))
	if err != nil {
		if IsNoRows(err) {
			return store.EventSource{}, store.ErrNotFound
		}
		return store.EventSource{}, fmt.Errorf("query event source by fingerprint: %w", err)
	}
	return out, nil
}

func (s *Store) GetEventSource(ctx context.Context, fingerprint string, sourceID int64) (store.EventSource, error) {
	q := `SELECT` + eventSourceColumns + `
FROM catalog.event_sources
WHERE fingerprint = $1 AND source_id = $2
`

	out, err := scanEventSource(s.pool.QueryRow(ctx, q, fingerprint, sourceID))
	if err != nil {
		if IsNoRows(err) {
			return store.EventSource{}, store.ErrNotFound
		}
		return store.EventSource{}, fmt.Errorf("query event source: %w", err)
	}
	return out, nil
}

func (s *Store) UpsertEventSource(ctx context.Context, es store.EventSource) (store.EventSource, error) {
	out, err := upsertEventSource(ctx, s.pool, es)
	if err != nil {
		return store.EventSource{}, fmt.Errorf("upsert event source: %w", err)
	}
	return out, nil
}

// upsertEventSource never moves an existing link to another event.
func upsertEventSource(ctx context.Context, q Querier, es store.EventSource) (store.EventSource, error) {
	query := `
INSERT INTO catalog.event_sources (
	event_id,
	source_id,
	fingerprint,
	idempotency_key,
	raw_hash,
	source_url,
	external_id,
	raw_payload,
	normalized_payload,
	last_fetched_at,
	created_at
)
VALUES ($1::uuid, $2, $3, $4, $5, $6, $7, $8::jsonb, $9::jsonb, $10, $10)
ON CONFLICT (fingerprint, source_id) DO UPDATE SET
	idempotency_key = EXCLUDED.idempotency_key,
	raw_hash = COALESCE(EXCLUDED.raw_hash, catalog.event_sources.raw_hash),
	source_url = COALESCE(EXCLUDED.source_url, catalog.event_sources.source_url),
	external_id = COALESCE(EXCLUDED.external_id, catalog.event_sources.external_id),
	raw_payload = COALESCE(EXCLUDED.raw_payload, catalog.event_sources.raw_payload),
	normalized_payload = COALESCE(EXCLUDED.normalized_payload, catalog.event_sources.normalized_payload),
	last_fetched_at = EXCLUDED.last_fetched_at
RETURNING` + eventSourceColumns

	return scanEventSource(q.QueryRow(ctx, query,
		es.EventID,
		es.SourceID,
		es.Fingerprint,
		es.IdempotencyKey,
		nullableText(es.RawHash),
		nullableText(es.SourceURL),
		nullableText(es.ExternalID),
		nullableJSON(es.RawPayload),
		nullableJSON(es.NormalizedPayload),
		es.LastFetchedAt,
	))
}

func eventSelectSQL() string {
	return `
SELECT
	event_id::text,
	` + strings.Join(fieldColumns, ",\n\t") + `,
	status,
	COALESCE(status_reason, ''),
	status_flags,
	completeness_score,
	is_complete,
	field_provenance,
	field_updated_at,
	locked_fields,
	primary_source_id,
	created_at,
	updated_at
FROM catalog.events
WHERE event_id = $1::uuid
`
}

func (s *Store) GetEvent(ctx context.Context, id string) (store.Event, error) {
	var (
		ev   store.Event
		scan eventScan
	)
	targets := append([]any{&ev.ID}, scan.fieldTargets()...)
	targets = append(targets,
		&ev.Status,
		&ev.StatusReason,
		&scan.statusFlags,
		&ev.CompletenessScore,
		&ev.IsComplete,
		&scan.fieldProvenance,
		&scan.fieldUpdatedAt,
		&scan.lockedFields,
		&ev.PrimarySourceID,
		&ev.CreatedAt,
		&ev.UpdatedAt,
	)
	if err := s.pool.QueryRow(ctx, eventSelectSQL(), id).Scan(targets...); err != nil {
		if IsNoRows(err) {
			return store.Event{}, store.ErrNotFound
		}
		return store.Event{}, fmt.Errorf("query event: %w", err)
	}

	fields, err := scan.finish()
	if err != nil {
		return store.Event{}, fmt.Errorf("decode event %s: %w", id, err)
	}
	ev.Fields = fields
	ev.FieldProvenance = map[string]model.SourceType{}
	ev.FieldUpdatedAt = map[string]time.Time{}
	for _, dec := range []struct {
		raw  []byte
		dest any
	}{
		{scan.statusFlags, &ev.StatusFlags},
		{scan.fieldProvenance, &ev.FieldProvenance},
		{scan.fieldUpdatedAt, &ev.FieldUpdatedAt},
		{scan.lockedFields, &ev.LockedFields},
	} {
		if len(dec.raw) == 0 {
			continue
		}
		if err := json.Unmarshal(dec.raw, dec.dest); err != nil {
			return store.Event{}, fmt.Errorf("decode event %s: %w", id, err)
		}
	}

	cats, err := s.eventCategories(ctx, ev.ID)
	if err != nil {
		return store.Event{}, err
	}
	ev.Fields.Categories = cats
	return ev, nil
}

func (s *Store) eventCategories(ctx context.Context, eventID string) ([]string, error) {
	const q = `
SELECT c.slug
FROM catalog.event_categories ec
JOIN catalog.categories c ON c.category_id = ec.category_id
WHERE ec.event_id = $1::uuid
ORDER BY c.slug
`

	rows, err := s.pool.Query(ctx, q, eventID)
	if err != nil {
		return nil, fmt.Errorf("query event categories: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var slug string
		if err := rows.Scan(&slug); err != nil {
			return nil, fmt.Errorf("scan event category: %w", err)
		}
		out = append(out, slug)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate event categories: %w", err)
	}
	return out, nil
}

// CreateEvent serializes creators of the same fingerprint with a
// transaction-scoped advisory lock, then re-checks for an existing link.
func (s *Store) CreateEvent(ctx context.Context, in store.NewEvent) (store.Event, error) {
	fingerprint := strings.TrimSpace(in.Source.Fingerprint)
	if fingerprint == "" {
		return store.Event{}, fmt.Errorf("create event: fingerprint is required")
	}

	tx, err := s.pool.BeginTx(ctx)
	if err != nil {
		return store.Event{}, fmt.Errorf("begin create event tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtextextended($1, 0))`, fingerprint); err != nil {
		return store.Event{}, fmt.Errorf("lock fingerprint: %w", err)
	}

	var exists bool
	if err := tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM catalog.event_sources WHERE fingerprint = $1)`, fingerprint).Scan(&exists); err != nil {
		return store.Event{}, fmt.Errorf("check fingerprint: %w", err)
	}
	if exists {
		return store.Event{}, store.ErrFingerprintExists
	}

	query, args, err := buildEventInsert(in.Event)
	if err != nil {
		return store.Event{}, fmt.Errorf("create event: %w", err)
	}
	var eventID string
	if err := tx.QueryRow(ctx, query, args...).Scan(&eventID); err != nil {
		return store.Event{}, fmt.Errorf("insert event: %w", err)
	}

	link := in.Source
	link.EventID = eventID
	link, err = upsertEventSource(ctx, tx, link)
	if err != nil {
		return store.Event{}, fmt.Errorf("insert event source: %w", err)
	}
	if _, err := tx.Exec(ctx, `UPDATE catalog.events SET primary_source_id = $2 WHERE event_id = $1::uuid`, eventID, link.ID); err != nil {
		return store.Event{}, fmt.Errorf("set primary source: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return store.Event{}, fmt.Errorf("commit create event tx: %w", err)
	}

	return s.GetEvent(ctx, eventID)
}

// buildEventInsert leaves primary_source_id NULL; CreateEvent sets it once the
// first link exists.
func buildEventInsert(ev store.Event) (string, []any, error) {
	args := make([]any, 0, len(model.MergeFields)+9)
	values := make([]string, 0, len(model.MergeFields)+9)
	for _, field := range model.MergeFields {
		arg, err := columnArg(&ev.Fields, field)
		if err != nil {
			return "", nil, err
		}
		args = append(args, arg)
		values = append(values, columnPlaceholder(field, len(args)))
	}

	flags, err := jsonArg(nonNilStrings(ev.StatusFlags))
	if err != nil {
		return "", nil, fmt.Errorf("encode status_flags: %w", err)
	}
	provenance, err := jsonArg(nonNilMap(ev.FieldProvenance))
	if err != nil {
		return "", nil, fmt.Errorf("encode field_provenance: %w", err)
	}
	updatedAt, err := jsonArg(nonNilMap(ev.FieldUpdatedAt))
	if err != nil {
		return "", nil, fmt.Errorf("encode field_updated_at: %w", err)
	}
	locked, err := jsonArg(nonNilStrings(ev.LockedFields))
	if err != nil {
		return "", nil, fmt.Errorf("encode locked_fields: %w", err)
	}

	base := len(args) + 1
	args = append(args,
		string(ev.Status),
		nullableText(ev.StatusReason),
		flags,
		ev.CompletenessScore,
		ev.IsComplete,
		provenance,
		updatedAt,
		locked,
		ev.CreatedAt,
	)

	query := `
INSERT INTO catalog.events (
	` + strings.Join(fieldColumns, ",\n\t") + `,
	status,
	status_reason,
	status_flags,
	completeness_score,
	is_complete,
	field_provenance,
	field_updated_at,
	locked_fields,
	created_at,
	updated_at
)
VALUES (
	` + strings.Join(values, ", ") + `,
	` + fmt.Sprintf("$%d, $%d, $%d::jsonb, $%d, $%d, $%d::jsonb, $%d::jsonb, $%d::jsonb, $%d, $%d",
		base, base+1, base+2, base+3, base+4, base+5, base+6, base+7, base+8, base+8) + `
)
RETURNING event_id::text
`
	return query, args, nil
}

// UpdateEvent writes only the changed columns and merges the provenance maps.
func (s *Store) UpdateEvent(ctx context.Context, in store.EventUpdate) error {
	query, args, err := buildEventUpdate(in)
	if err != nil {
		return fmt.Errorf("update event: %w", err)
	}
	tag, err := s.pool.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update event: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

func buildEventUpdate(in store.EventUpdate) (string, []any, error) {
	if strings.TrimSpace(in.EventID) == "" {
		return "", nil, fmt.Errorf("event id is required")
	}

	args := []any{in.EventID}
	sets := make([]string, 0, len(in.Changed)+5)
	for _, field := range in.Changed {
		if !model.IsKnownField(string(field)) {
			return "", nil, fmt.Errorf("unknown field %q", field)
		}
		arg, err := columnArg(&in.Fields, field)
		if err != nil {
			return "", nil, err
		}
		args = append(args, arg)
		sets = append(sets, string(field)+" = "+columnPlaceholder(field, len(args)))
	}

	provenance, err := jsonArg(nonNilMap(in.FieldProvenance))
	if err != nil {
		return "", nil, fmt.Errorf("encode field_provenance: %w", err)
	}
	updatedAt, err := jsonArg(nonNilMap(in.FieldUpdatedAt))
	if err != nil {
		return "", nil, fmt.Errorf("encode field_updated_at: %w", err)
	}

	args = append(args, provenance)
	sets = append(sets, fmt.Sprintf("field_provenance = field_provenance || $%d::jsonb", len(args)))
	args = append(args, updatedAt)
	sets = append(sets, fmt.Sprintf("field_updated_at = field_updated_at || $%d::jsonb", len(args)))
	args = append(args, in.CompletenessScore)
	sets = append(sets, fmt.Sprintf("completeness_score = $%d", len(args)))
	args = append(args, in.IsComplete)
	sets = append(sets, fmt.Sprintf("is_complete = $%d", len(args)))
	args = append(args, in.At)
	sets = append(sets, fmt.Sprintf("updated_at = $%d", len(args)))

	query := "UPDATE catalog.events SET\n\t" + strings.Join(sets, ",\n\t") + "\nWHERE event_id = $1::uuid"
	return query, args, nil
}

func (s *Store) AttachCategories(ctx context.Context, eventID string, categories []string) error {
	const (
		upsertCategory = `
INSERT INTO catalog.categories (slug, created_at)
VALUES ($1, now())
ON CONFLICT (slug) DO UPDATE SET slug = EXCLUDED.slug
RETURNING category_id
`
		linkCategory = `
INSERT INTO catalog.event_categories (event_id, category_id, created_at)
VALUES ($1::uuid, $2, now())
ON CONFLICT (event_id, category_id) DO NOTHING
`
	)

	slugs := normalizeCategories(categories)
	if len(slugs) == 0 {
		return nil
	}

	tx, err := s.pool.BeginTx(ctx)
	if err != nil {
		return fmt.Errorf("begin attach categories tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	if err := requireEvent(ctx, tx, eventID); err != nil {
		return err
	}

	for _, slug := range slugs {
		var categoryID int64
		if err := tx.QueryRow(ctx, upsertCategory, slug).Scan(&categoryID); err != nil {
			return fmt.Errorf("upsert category %q: %w", slug, err)
		}
		if _, err := tx.Exec(ctx, linkCategory, eventID, categoryID); err != nil {
			return fmt.Errorf("link category %q: %w", slug, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit attach categories tx: %w", err)
	}
	return nil
}

func (s *Store) AttachScores(ctx context.Context, eventID string, scores model.AIScores) error {
	const q = `
INSERT INTO catalog.event_scores (event_id, relevance, quality, family_fit, stressfree, created_at)
VALUES ($1::uuid, $2, $3, $4, $5, now())
ON CONFLICT (event_id) DO NOTHING
`

	if err := requireEvent(ctx, s.pool, eventID); err != nil {
		return err
	}
	tag, err := s.pool.Exec(ctx, q, eventID, scores.Relevance, scores.Quality, scores.FamilyFit, scores.Stressfree)
	if err != nil {
		return fmt.Errorf("insert event scores: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return store.ErrDuplicate
	}
	return nil
}

func requireEvent(ctx context.Context, q Querier, eventID string) error {
	var exists bool
	if err := q.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM catalog.events WHERE event_id = $1::uuid)`, eventID).Scan(&exists); err != nil {
		return fmt.Errorf("check event: %w", err)
	}
	if !exists {
		return store.ErrNotFound
	}
	return nil
}

func (s *Store) CreateRun(ctx context.Context, sourceID int64, startedAt time.Time) (store.Run, error) {
	const q = `
INSERT INTO catalog.ingest_runs (source_id, status, started_at)
VALUES ($1, $2, $3)
RETURNING run_id::text
`

	var runID string
	if err := s.pool.QueryRow(ctx, q, sourceID, string(store.RunRunning), startedAt).Scan(&runID); err != nil {
		return store.Run{}, fmt.Errorf("insert ingest run: %w", err)
	}
	return store.Run{
		ID:        runID,
		SourceID:  sourceID,
		Status:    store.RunRunning,
		StartedAt: startedAt,
	}, nil
}

func (s *Store) FinishRun(ctx context.Context, runID string, res store.RunResult) error {
	const q = `
UPDATE catalog.ingest_runs
SET
	status = $2,
	items_found = $3,
	items_created = $4,
	items_updated = $5,
	items_unchanged = $6,
	items_ignored = $7,
	merge_stats = $8::jsonb,
	error_message = $9,
	finished_at = $10
WHERE run_id = $1::uuid
`

	stats, err := jsonArg(res.MergeStats)
	if err != nil {
		return fmt.Errorf("encode merge stats: %w", err)
	}
	tag, err := s.pool.Exec(ctx, q,
		runID,
		string(res.Status),
		res.Counts.Found,
		res.Counts.Created,
		res.Counts.Updated,
		res.Counts.Unchanged,
		res.Counts.Ignored,
		stats,
		nullableText(res.ErrorMessage),
		res.FinishedAt,
	)
	if err != nil {
		return fmt.Errorf("finish ingest run: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *Store) GetRun(ctx context.Context, id string) (store.Run, error) {
	const q = `
SELECT
	run_id::text,
	source_id,
	status,
	items_found,
	items_created,
	items_updated,
	items_unchanged,
	items_ignored,
	merge_stats,
	COALESCE(error_message, ''),
	started_at,
	finished_at
FROM catalog.ingest_runs
WHERE run_id = $1::uuid
`

	var (
		run   store.Run
		stats []byte
	)
	if err := s.pool.QueryRow(ctx, q, id).Scan(
		&run.ID,
		&run.SourceID,
		&run.Status,
		&run.Counts.Found,
		&run.Counts.Created,
		&run.Counts.Updated,
		&run.Counts.Unchanged,
		&run.Counts.Ignored,
		&stats,
		&run.ErrorMessage,
		&run.StartedAt,
		&run.FinishedAt,
	); err != nil {
		if IsNoRows(err) {
			return store.Run{}, store.ErrNotFound
		}
		if isInvalidUUID(err) {
			return store.Run{}, store.ErrNotFound
		}
		return store.Run{}, fmt.Errorf("query ingest run: %w", err)
	}
	if len(stats) > 0 {
		if err := json.Unmarshal(stats, &run.MergeStats); err != nil {
			return store.Run{}, fmt.Errorf("decode merge stats: %w", err)
		}
	}
	return run, nil
}

// isInvalidUUID matches SQLSTATE 22P02 (invalid_text_representation).
func isInvalidUUID(err error) bool {
	type sqlStater interface{ SQLState() string }
	var se sqlStater
	return errors.As(err, &se) && se.SQLState() == "22P02"
}

func normalizeCategories(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, c := range in {
		slug := strings.TrimSpace(c)
		if slug == "" {
			continue
		}
		if _, ok := seen[slug]; ok {
			continue
		}
		seen[slug] = struct{}{}
		out = append(out, slug)
	}
	return out
}

func nonNilStrings(in []string) []string {
	if in == nil {
		return []string{}
	}
	return in
}

func nonNilMap[V any](in map[string]V) map[string]V {
	if in == nil {
		return map[string]V{}
	}
	return in
}
