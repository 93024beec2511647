package db

import (
	"encoding/json"
	"reflect"
	"strconv"
	"strings"
	"testing"
	"time"

	"gorm.io/gorm/logger"

	"horse.fit/eventmerge/internal/model"
	"horse.fit/eventmerge/internal/store"
)

func TestBuildEventUpdateOnlyChangedColumns(t *testing.T) {
	t.Parallel()

	at := time.Date(2026, 6, 1, 10, 0, 0, 0, time.UTC)
	query, args, err := buildEventUpdate(store.EventUpdate{
		EventID: "9f1c6a52-6f53-4a53-8f3e-0a4c1f3b2d11",
		Fields: model.Fields{
			Title:     model.Ptr("  Kinderkonzert  "),
			City:      model.Ptr("Kassel"),
			ImageURLs: []string{"https://example.org/a.jpg"},
		},
		Changed:           []model.Field{model.FieldTitle, model.FieldImageURLs},
		FieldProvenance:   map[string]model.SourceType{"title": model.SourceAPI},
		FieldUpdatedAt:    map[string]time.Time{"title": at},
		CompletenessScore: 60,
		IsComplete:        false,
		At:                at,
	})
	if err != nil {
		t.Fatalf("buildEventUpdate failed: %v", err)
	}

	if strings.Contains(query, "city") {
		t.Fatalf("unchanged column written: %s", query)
	}
	for _, want := range []string{
		"title = $2",
		"image_urls = $3::jsonb",
		"field_provenance = field_provenance || $4::jsonb",
		"field_updated_at = field_updated_at || $5::jsonb",
		"completeness_score = $6",
		"is_complete = $7",
		"updated_at = $8",
		"WHERE event_id = $1::uuid",
	} {
		if !strings.Contains(query, want) {
			t.Fatalf("expected %q in query:\n%s", want, query)
		}
	}
	if len(args) != 8 {
		t.Fatalf("expected 8 args, got %d", len(args))
	}
	if args[1] != "Kinderkonzert" {
		t.Fatalf("expected trimmed title arg, got %#v", args[1])
	}
	if args[2] != `["https://example.org/a.jpg"]` {
		t.Fatalf("unexpected image_urls arg: %#v", args[2])
	}
	var prov map[string]string
	if err := json.Unmarshal([]byte(args[3].(string)), &prov); err != nil || prov["title"] != "api" {
		t.Fatalf("unexpected provenance arg: %v (%v)", args[3], err)
	}
}

func TestBuildEventUpdateRejectsUnknownField(t *testing.T) {
	t.Parallel()

	_, _, err := buildEventUpdate(store.EventUpdate{
		EventID: "9f1c6a52-6f53-4a53-8f3e-0a4c1f3b2d11",
		Changed: []model.Field{"status; DROP TABLE catalog.events"},
	})
	if err == nil {
		t.Fatal("expected unknown field to be rejected")
	}
}

func TestBuildEventInsertPlaceholders(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 6, 1, 10, 0, 0, 0, time.UTC)
	query, args, err := buildEventInsert(store.Event{
		Fields:       model.Fields{Title: model.Ptr("Flohmarkt")},
		Status:       model.StatusPendingAI,
		StatusReason: "awaiting_ai_scores",
		CreatedAt:    now,
	})
	if err != nil {
		t.Fatalf("buildEventInsert failed: %v", err)
	}

	wantArgs := len(model.MergeFields) + 9
	if len(args) != wantArgs {
		t.Fatalf("expected %d args, got %d", wantArgs, len(args))
	}
	last := "$" + strconv.Itoa(wantArgs)
	if strings.Count(query, last+",") != 1 || !strings.Contains(query, last+"\n") {
		t.Fatalf("expected created_at and updated_at to share %s:\n%s", last, query)
	}
	if args[0] != "Flohmarkt" || args[1] != nil {
		t.Fatalf("unexpected field args: %#v %#v", args[0], args[1])
	}
	if args[len(model.MergeFields)+2] != "[]" {
		t.Fatalf("expected empty flags array, got %#v", args[len(model.MergeFields)+2])
	}
	if strings.Contains(query, "primary_source_id") {
		t.Fatalf("primary_source_id is set after the first link is inserted:\n%s", query)
	}
}

func TestEventScanFinish(t *testing.T) {
	t.Parallel()

	local := time.Date(2026, 6, 14, 17, 0, 0, 0, time.FixedZone("CEST", 2*3600))
	scan := eventScan{
		fields:    model.Fields{StartAt: &local},
		priceType: model.Ptr("free"),
		imageURLs: []byte(`["https://example.org/a.jpg"]`),
	}
	f, err := scan.finish()
	if err != nil {
		t.Fatalf("finish failed: %v", err)
	}
	if f.PriceType == nil || *f.PriceType != model.PriceFree {
		t.Fatalf("unexpected price type: %v", f.PriceType)
	}
	if f.StartAt.Location() != time.UTC || !f.StartAt.Equal(local) {
		t.Fatalf("expected UTC start, got %s", f.StartAt)
	}
	if !reflect.DeepEqual(f.ImageURLs, []string{"https://example.org/a.jpg"}) {
		t.Fatalf("unexpected image urls: %v", f.ImageURLs)
	}
	if got := len(scan.fieldTargets()); got != len(model.MergeFields) {
		t.Fatalf("expected one scan target per field, got %d", got)
	}
}

func TestNormalizeCategories(t *testing.T) {
	t.Parallel()

	got := normalizeCategories([]string{" music ", "", "kids", "music"})
	if !reflect.DeepEqual(got, []string{"music", "kids"}) {
		t.Fatalf("unexpected categories: %v", got)
	}
}

func TestResolveGormLogLevel(t *testing.T) {
	t.Parallel()

	cases := []struct {
		level, env string
		want       logger.LogLevel
	}{
		{"debug", "production", logger.Info},
		{"info", "production", logger.Warn},
		{"error", "local", logger.Error},
		{"disabled", "local", logger.Silent},
		{"bogus", "local", logger.Warn},
		{"bogus", "production", logger.Error},
	}
	for _, tc := range cases {
		if got := resolveGormLogLevel(tc.level, tc.env); got != tc.want {
			t.Fatalf("resolveGormLogLevel(%q, %q) = %v, want %v", tc.level, tc.env, got, tc.want)
		}
	}
}

func TestMigrationsCoverUniqueness(t *testing.T) {
	t.Parallel()

	for _, want := range []string{
		"ON catalog.raw_event_items (source_id, raw_hash)",
		"ON catalog.event_sources (fingerprint, source_id)",
	} {
		if !strings.Contains(postAutoMigrateSQL, want) {
			t.Fatalf("post-migrate SQL missing unique index %q", want)
		}
	}
	if !strings.Contains(postAutoMigrateSQL, "FOREIGN KEY (primary_source_id) REFERENCES catalog.event_sources (event_source_id)") {
		t.Fatal("primary_source_id must reference the creating event source")
	}
	if !strings.Contains(preAutoMigrateSQL, "CREATE SCHEMA IF NOT EXISTS catalog") {
		t.Fatal("pre-migrate SQL must create the catalog schema")
	}

	type tabler interface{ TableName() string }
	for _, m := range autoMigrateModels() {
		tm, ok := m.(tabler)
		if !ok || !strings.HasPrefix(tm.TableName(), "catalog.") {
			t.Fatalf("model %T must live in the catalog schema", m)
		}
	}
}
