// Package memory is an in-process store.Store used by tests and dry runs.
package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"horse.fit/eventmerge/internal/model"
	"horse.fit/eventmerge/internal/store"
)

type rawKey struct {
	sourceID int64
	rawHash  string
}

type linkKey struct {
	fingerprint string
	sourceID    int64
}

// Store keeps every record in maps guarded by one mutex. The mutex makes
// CreateEvent's check-and-insert atomic per fingerprint.
type Store struct {
	mu sync.Mutex

	nextSourceID int64
	nextRawID    int64
	nextLinkID   int64

	sources    map[int64]store.Source
	rawItems   map[rawKey]*store.RawItem
	rawByID    map[int64]*store.RawItem
	links      map[linkKey]*store.EventSource
	events     map[string]*store.Event
	categories map[string]map[string]struct{}
	scores     map[string]model.AIScores
	runs       map[string]*store.Run
}

var _ store.Store = (*Store)(nil)

func New() *Store {
	return &Store{
		sources:    map[int64]store.Source{},
		rawItems:   map[rawKey]*store.RawItem{},
		rawByID:    map[int64]*store.RawItem{},
		links:      map[linkKey]*store.EventSource{},
		events:     map[string]*store.Event{},
		categories: map[string]map[string]struct{}{},
		scores:     map[string]model.AIScores{},
		runs:       map[string]*store.Run{},
	}
}

// AddSource registers a source. A zero ID is assigned the next free one.
func (s *Store) AddSource(src store.Source) store.Source {
	s.mu.Lock()
	defer s.mu.Unlock()

	if src.ID == 0 {
		s.nextSourceID++
		src.ID = s.nextSourceID
	} else if src.ID > s.nextSourceID {
		s.nextSourceID = src.ID
	}
	src.Type = model.NormalizeSourceType(string(src.Type))
	s.sources[src.ID] = src
	return src
}

func (s *Store) GetSource(_ context.Context, id int64) (store.Source, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	src, ok := s.sources[id]
	if !ok {
		return store.Source{}, store.ErrNotFound
	}
	return src, nil
}

func (s *Store) UpsertRawItem(_ context.Context, in store.RawItemInput) (store.RawItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := rawKey{sourceID: in.SourceID, rawHash: in.RawHash}
	if item, ok := s.rawItems[key]; ok {
		item.SeenCount++
		item.LastSeenAt = in.SeenAt
		item.RunID = in.RunID
		return *item, nil
	}

	s.nextRawID++
	item := &store.RawItem{
		ID:          s.nextRawID,
		SourceID:    in.SourceID,
		RawHash:     in.RawHash,
		RunID:       in.RunID,
		FirstSeenAt: in.SeenAt,
		LastSeenAt:  in.SeenAt,
		SeenCount:   1,
	}
	s.rawItems[key] = item
	s.rawByID[item.ID] = item
	return *item, nil
}

func (s *Store) RecordRawItemResult(_ context.Context, rawItemID int64, status string, result json.RawMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	item, ok := s.rawByID[rawItemID]
	if !ok {
		return store.ErrNotFound
	}
	item.IngestStatus = status
	item.IngestResult = append(json.RawMessage(nil), result...)
	return nil
}

func (s *Store) FindEventSourceByFingerprint(_ context.Context, fingerprint string) (store.EventSource, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var found *store.EventSource
	for key, link := range s.links {
		if key.fingerprint != fingerprint {
			continue
		}
		if found == nil || link.ID < found.ID {
			found = link
		}
	}
	if found == nil {
		return store.EventSource{}, store.ErrNotFound
	}
	return *found, nil
}

func (s *Store) GetEventSource(_ context.Context, fingerprint string, sourceID int64) (store.EventSource, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	link, ok := s.links[linkKey{fingerprint: fingerprint, sourceID: sourceID}]
	if !ok {
		return store.EventSource{}, store.ErrNotFound
	}
	return *link, nil
}

func (s *Store) UpsertEventSource(_ context.Context, es store.EventSource) (store.EventSource, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.events[es.EventID]; !ok {
		return store.EventSource{}, fmt.Errorf("upsert event source: event %s: %w", es.EventID, store.ErrNotFound)
	}
	return s.upsertLinkLocked(es), nil
}

func (s *Store) upsertLinkLocked(es store.EventSource) store.EventSource {
	key := linkKey{fingerprint: es.Fingerprint, sourceID: es.SourceID}
	if existing, ok := s.links[key]; ok {
		es.ID = existing.ID
		// The link stays attached to its first event.
		es.EventID = existing.EventID
	} else {
		s.nextLinkID++
		es.ID = s.nextLinkID
	}
	copied := es
	s.links[key] = &copied
	return copied
}

func (s *Store) GetEvent(_ context.Context, id string) (store.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ev, ok := s.events[id]
	if !ok {
		return store.Event{}, store.ErrNotFound
	}
	return s.snapshotLocked(ev), nil
}

func (s *Store) CreateEvent(_ context.Context, in store.NewEvent) (store.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	fingerprint := in.Source.Fingerprint
	for key := range s.links {
		if key.fingerprint == fingerprint {
			return store.Event{}, store.ErrFingerprintExists
		}
	}

	ev := cloneEvent(in.Event)
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	if ev.FieldProvenance == nil {
		ev.FieldProvenance = map[string]model.SourceType{}
	}
	if ev.FieldUpdatedAt == nil {
		ev.FieldUpdatedAt = map[string]time.Time{}
	}
	ev.Fields.Categories = nil
	s.events[ev.ID] = &ev

	link := in.Source
	link.EventID = ev.ID
	link = s.upsertLinkLocked(link)
	ev.PrimarySourceID = &link.ID

	return s.snapshotLocked(&ev), nil
}

func (s *Store) UpdateEvent(_ context.Context, in store.EventUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	ev, ok := s.events[in.EventID]
	if !ok {
		return store.ErrNotFound
	}
	for _, field := range in.Changed {
		ev.Fields.CopyField(&in.Fields, field)
	}
	for k, v := range in.FieldProvenance {
		ev.FieldProvenance[k] = v
	}
	for k, v := range in.FieldUpdatedAt {
		ev.FieldUpdatedAt[k] = v
	}
	ev.CompletenessScore = in.CompletenessScore
	ev.IsComplete = in.IsComplete
	ev.UpdatedAt = in.At
	return nil
}

func (s *Store) AttachCategories(_ context.Context, eventID string, categories []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.events[eventID]; !ok {
		return store.ErrNotFound
	}
	set, ok := s.categories[eventID]
	if !ok {
		set = map[string]struct{}{}
		s.categories[eventID] = set
	}
	for _, c := range categories {
		c = strings.TrimSpace(c)
		if c == "" {
			continue
		}
		set[c] = struct{}{}
	}
	return nil
}

func (s *Store) AttachScores(_ context.Context, eventID string, scores model.AIScores) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.events[eventID]; !ok {
		return store.ErrNotFound
	}
	if _, exists := s.scores[eventID]; exists {
		return store.ErrDuplicate
	}
	s.scores[eventID] = scores
	return nil
}

func (s *Store) CreateRun(_ context.Context, sourceID int64, startedAt time.Time) (store.Run, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	run := &store.Run{
		ID:        uuid.NewString(),
		SourceID:  sourceID,
		Status:    store.RunRunning,
		StartedAt: startedAt,
	}
	s.runs[run.ID] = run
	return *run, nil
}

func (s *Store) FinishRun(_ context.Context, runID string, res store.RunResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	run, ok := s.runs[runID]
	if !ok {
		return store.ErrNotFound
	}
	finished := res.FinishedAt
	run.Status = res.Status
	run.Counts = res.Counts
	run.MergeStats = res.MergeStats
	run.ErrorMessage = res.ErrorMessage
	run.FinishedAt = &finished
	return nil
}

func (s *Store) GetRun(_ context.Context, id string) (store.Run, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	run, ok := s.runs[id]
	if !ok {
		return store.Run{}, store.ErrNotFound
	}
	out := *run
	out.MergeStats.TopReasons = append([]store.ReasonCount(nil), run.MergeStats.TopReasons...)
	return out, nil
}

// Events returns a snapshot of every canonical event ordered by creation.
func (s *Store) Events() []store.Event {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]store.Event, 0, len(s.events))
	for _, ev := range s.events {
		out = append(out, s.snapshotLocked(ev))
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// EventSources returns every link of eventID ordered by id.
func (s *Store) EventSources(eventID string) []store.EventSource {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []store.EventSource
	for _, link := range s.links {
		if link.EventID == eventID {
			out = append(out, *link)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// RawItem returns the audit row for (sourceID, rawHash).
func (s *Store) RawItem(sourceID int64, rawHash string) (store.RawItem, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	item, ok := s.rawItems[rawKey{sourceID: sourceID, rawHash: rawHash}]
	if !ok {
		return store.RawItem{}, false
	}
	return *item, true
}

// Scores returns the attached AI scores for eventID.
func (s *Store) Scores(eventID string) (model.AIScores, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sc, ok := s.scores[eventID]
	return sc, ok
}

// SetLockedFields marks fields as human-edited.
func (s *Store) SetLockedFields(eventID string, fields ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	ev, ok := s.events[eventID]
	if !ok {
		return store.ErrNotFound
	}
	ev.LockedFields = append([]string(nil), fields...)
	return nil
}

func (s *Store) snapshotLocked(ev *store.Event) store.Event {
	out := cloneEvent(*ev)
	if set := s.categories[ev.ID]; len(set) > 0 {
		cats := make([]string, 0, len(set))
		for c := range set {
			cats = append(cats, c)
		}
		sort.Strings(cats)
		out.Fields.Categories = cats
	}
	return out
}

func cloneEvent(ev store.Event) store.Event {
	out := ev
	out.Fields = ev.Fields.Clone()
	out.StatusFlags = append([]string(nil), ev.StatusFlags...)
	out.LockedFields = append([]string(nil), ev.LockedFields...)
	out.FieldProvenance = make(map[string]model.SourceType, len(ev.FieldProvenance))
	for k, v := range ev.FieldProvenance {
		out.FieldProvenance[k] = v
	}
	out.FieldUpdatedAt = make(map[string]time.Time, len(ev.FieldUpdatedAt))
	for k, v := range ev.FieldUpdatedAt {
		out.FieldUpdatedAt[k] = v
	}
	if ev.PrimarySourceID != nil {
		id := *ev.PrimarySourceID
		out.PrimarySourceID = &id
	}
	return out
}
