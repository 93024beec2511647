package memory

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"horse.fit/eventmerge/internal/model"
	"horse.fit/eventmerge/internal/store"
)

func TestUpsertRawItem_CountsRepeats(t *testing.T) {
	t.Parallel()

	s := New()
	ctx := context.Background()
	first := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	a, err := s.UpsertRawItem(ctx, store.RawItemInput{SourceID: 1, RawHash: "abc", SeenAt: first})
	if err != nil {
		t.Fatalf("first upsert: %v", err)
	}
	b, err := s.UpsertRawItem(ctx, store.RawItemInput{SourceID: 1, RawHash: "abc", SeenAt: first.Add(time.Hour)})
	if err != nil {
		t.Fatalf("second upsert: %v", err)
	}
	if a.ID != b.ID || b.SeenCount != 2 || !b.FirstSeenAt.Equal(first) || !b.LastSeenAt.Equal(first.Add(time.Hour)) {
		t.Fatalf("unexpected repeat row: %+v", b)
	}

	other, _ := s.UpsertRawItem(ctx, store.RawItemInput{SourceID: 2, RawHash: "abc", SeenAt: first})
	if other.ID == a.ID || other.SeenCount != 1 {
		t.Fatalf("raw items must be keyed per source: %+v", other)
	}
}

func TestCreateEvent_OnePerFingerprint(t *testing.T) {
	t.Parallel()

	s := New()
	ctx := context.Background()

	var wg sync.WaitGroup
	var mu sync.Mutex
	created, conflicts := 0, 0
	for i := int64(1); i <= 8; i++ {
		wg.Add(1)
		go func(sourceID int64) {
			defer wg.Done()
			_, err := s.CreateEvent(ctx, store.NewEvent{
				Event:  store.Event{Fields: model.Fields{Title: model.Ptr("Sommerfest")}, Status: model.StatusPendingAI},
				Source: store.EventSource{SourceID: sourceID, Fingerprint: "fp-1"},
			})
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				created++
			case errors.Is(err, store.ErrFingerprintExists):
				conflicts++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}(i)
	}
	wg.Wait()

	if created != 1 || conflicts != 7 {
		t.Fatalf("expected 1 create and 7 conflicts, got %d and %d", created, conflicts)
	}
	if n := len(s.Events()); n != 1 {
		t.Fatalf("expected 1 event, got %d", n)
	}
}

func TestEventSource_UpsertKeepsOneLinkPerSource(t *testing.T) {
	t.Parallel()

	s := New()
	ctx := context.Background()
	ev, err := s.CreateEvent(ctx, store.NewEvent{Source: store.EventSource{SourceID: 7, Fingerprint: "fp"}})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	first, err := s.GetEventSource(ctx, "fp", 7)
	if err != nil {
		t.Fatalf("get creating link: %v", err)
	}
	if ev.PrimarySourceID == nil || *ev.PrimarySourceID != first.ID {
		t.Fatalf("primary source must be the creating link %d, got %+v", first.ID, ev.PrimarySourceID)
	}

	for i := 0; i < 2; i++ {
		if _, err := s.UpsertEventSource(ctx, store.EventSource{EventID: ev.ID, SourceID: 2, Fingerprint: "fp", IdempotencyKey: "k"}); err != nil {
			t.Fatalf("upsert link: %v", err)
		}
	}
	links := s.EventSources(ev.ID)
	if len(links) != 2 {
		t.Fatalf("expected two links, got %d", len(links))
	}

	found, err := s.FindEventSourceByFingerprint(ctx, "fp")
	if err != nil || found.SourceID != 7 {
		t.Fatalf("expected the oldest link, got %+v err=%v", found, err)
	}
	if _, err := s.GetEventSource(ctx, "fp", 3); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestUpdateEvent_WritesOnlyChangedFields(t *testing.T) {
	t.Parallel()

	s := New()
	ctx := context.Background()
	ev, _ := s.CreateEvent(ctx, store.NewEvent{
		Event: store.Event{
			Fields:          model.Fields{Title: model.Ptr("Alt"), City: model.Ptr("Bonn")},
			FieldProvenance: map[string]model.SourceType{"title": model.SourceRSS},
		},
		Source: store.EventSource{SourceID: 1, Fingerprint: "fp"},
	})

	now := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
	err := s.UpdateEvent(ctx, store.EventUpdate{
		EventID:         ev.ID,
		Fields:          model.Fields{Title: model.Ptr("Neu"), City: model.Ptr("Köln")},
		Changed:         []model.Field{model.FieldTitle},
		FieldProvenance: map[string]model.SourceType{"title": model.SourceManual},
		FieldUpdatedAt:  map[string]time.Time{"title": now},
		At:              now,
	})
	if err != nil {
		t.Fatalf("update: %v", err)
	}

	got, _ := s.GetEvent(ctx, ev.ID)
	if *got.Fields.Title != "Neu" || *got.Fields.City != "Bonn" {
		t.Fatalf("unexpected fields after update: title=%q city=%q", *got.Fields.Title, *got.Fields.City)
	}
	if got.FieldProvenance["title"] != model.SourceManual || !got.FieldUpdatedAt["title"].Equal(now) {
		t.Fatalf("provenance not merged: %+v", got.FieldProvenance)
	}
}

func TestAttach_DuplicatesAreDetected(t *testing.T) {
	t.Parallel()

	s := New()
	ctx := context.Background()
	ev, _ := s.CreateEvent(ctx, store.NewEvent{Source: store.EventSource{SourceID: 1, Fingerprint: "fp"}})

	if err := s.AttachCategories(ctx, ev.ID, []string{"music", "kids", "music"}); err != nil {
		t.Fatalf("attach categories: %v", err)
	}
	if err := s.AttachCategories(ctx, ev.ID, []string{"kids"}); err != nil {
		t.Fatalf("repeat attach categories: %v", err)
	}
	got, _ := s.GetEvent(ctx, ev.ID)
	if len(got.Fields.Categories) != 2 || got.Fields.Categories[0] != "kids" {
		t.Fatalf("unexpected categories: %v", got.Fields.Categories)
	}

	scores := model.AIScores{FamilyFit: model.Ptr(80.0)}
	if err := s.AttachScores(ctx, ev.ID, scores); err != nil {
		t.Fatalf("attach scores: %v", err)
	}
	if err := s.AttachScores(ctx, ev.ID, scores); !errors.Is(err, store.ErrDuplicate) {
		t.Fatalf("expected ErrDuplicate, got %v", err)
	}
}

func TestRuns_Lifecycle(t *testing.T) {
	t.Parallel()

	s := New()
	ctx := context.Background()
	start := time.Date(2026, 3, 3, 9, 0, 0, 0, time.UTC)

	run, err := s.CreateRun(ctx, 4, start)
	if err != nil || run.Status != store.RunRunning {
		t.Fatalf("create run: %+v err=%v", run, err)
	}
	err = s.FinishRun(ctx, run.ID, store.RunResult{
		Status:     store.RunPartial,
		Counts:     store.RunCounts{Found: 2, Created: 1, Ignored: 1},
		MergeStats: store.MergeStats{TopReasons: []store.ReasonCount{{Reason: "locked", Count: 1}}},
		FinishedAt: start.Add(time.Minute),
	})
	if err != nil {
		t.Fatalf("finish run: %v", err)
	}
	got, _ := s.GetRun(ctx, run.ID)
	if got.Status != store.RunPartial || got.Counts.Found != 2 || got.FinishedAt == nil || len(got.MergeStats.TopReasons) != 1 {
		t.Fatalf("unexpected run: %+v", got)
	}
	if _, err := s.GetRun(ctx, "missing"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}
