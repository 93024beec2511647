package ingest

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"horse.fit/eventmerge/internal/merge"
	"horse.fit/eventmerge/internal/model"
	"horse.fit/eventmerge/internal/store"
	"horse.fit/eventmerge/internal/store/memory"
)

type scriptedProcessor struct {
	steps []func() (ItemResult, error)
	calls int
}

func (s *scriptedProcessor) ProcessCandidate(context.Context, *model.Candidate, int64, string) (ItemResult, error) {
	step := s.steps[s.calls]
	s.calls++
	return step()
}

func ok(status ItemStatus) func() (ItemResult, error) {
	return func() (ItemResult, error) { return newResult(status), nil }
}

func newCoordinatorFixture(t *testing.T, proc CandidateProcessor) (*Coordinator, *memory.Store, store.Source) {
	t.Helper()

	st := memory.New()
	src := st.AddSource(store.Source{Name: "feed", Type: model.SourceRSS})
	if proc == nil {
		proc = NewProcessor(st, DefaultOptions(), zerolog.Nop(), WithClock(func() time.Time { return baseTime }))
	}
	return NewCoordinator(proc, st, zerolog.Nop()), st, src
}

func TestCoordinator_RunStatuses(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name  string
		steps []func() (ItemResult, error)
		want  store.RunStatus
	}{
		{name: "empty batch", want: store.RunSuccess},
		{name: "all fine", steps: []func() (ItemResult, error){ok(ItemCreated), ok(ItemUnchanged)}, want: store.RunSuccess},
		{
			name:  "some ignored",
			steps: []func() (ItemResult, error){ok(ItemCreated), func() (ItemResult, error) { return ItemResult{}, errors.New("db down") }},
			want:  store.RunPartial,
		},
		{
			name:  "all ignored",
			steps: []func() (ItemResult, error){func() (ItemResult, error) { return ignoredResult(ReasonInvalidCandidate, nil), nil }},
			want:  store.RunFailed,
		},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			proc := &scriptedProcessor{steps: tc.steps}
			coord, st, src := newCoordinatorFixture(t, proc)

			batch := make([]model.Candidate, len(tc.steps))
			res, err := coord.Run(context.Background(), batch, src.ID)
			if err != nil {
				t.Fatalf("run: %v", err)
			}
			if res.Summary.Status != tc.want {
				t.Fatalf("status: got %s want %s", res.Summary.Status, tc.want)
			}
			run, err := st.GetRun(context.Background(), res.RunID)
			if err != nil {
				t.Fatalf("get run: %v", err)
			}
			if run.Status != tc.want || run.FinishedAt == nil || run.Counts.Found != len(tc.steps) {
				t.Fatalf("run not finished correctly: %+v", run)
			}
		})
	}
}

func TestCoordinator_PanicBecomesIgnored(t *testing.T) {
	t.Parallel()

	proc := &scriptedProcessor{steps: []func() (ItemResult, error){
		func() (ItemResult, error) { panic("nil map") },
		ok(ItemCreated),
	}}
	coord, st, src := newCoordinatorFixture(t, proc)

	res, err := coord.Run(context.Background(), make([]model.Candidate, 2), src.ID)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if proc.calls != 2 {
		t.Fatalf("batch stopped after panic")
	}
	first := res.Results[0]
	if first.Status != ItemIgnored || first.Reason != ReasonProcessingError || first.Error == "" {
		t.Fatalf("expected ignored item carrying the panic, got %+v", first)
	}
	run, _ := st.GetRun(context.Background(), res.RunID)
	if run.Status != store.RunPartial || run.ErrorMessage == "" {
		t.Fatalf("expected partial run with error message, got %+v", run)
	}
}

func TestCoordinator_UnknownSource(t *testing.T) {
	t.Parallel()

	coord, st, _ := newCoordinatorFixture(t, &scriptedProcessor{})
	_, err := coord.Run(context.Background(), make([]model.Candidate, 1), 42)
	if !errors.Is(err, ErrUnknownSource) {
		t.Fatalf("expected ErrUnknownSource, got %v", err)
	}
	if len(st.Events()) != 0 {
		t.Fatalf("unexpected writes")
	}
}

func TestCoordinator_SourceRemovedMidBatchFailsRun(t *testing.T) {
	t.Parallel()

	proc := &scriptedProcessor{steps: []func() (ItemResult, error){
		ok(ItemCreated),
		func() (ItemResult, error) { return ItemResult{}, fmt.Errorf("%w: id 1", ErrUnknownSource) },
		ok(ItemCreated),
	}}
	coord, st, src := newCoordinatorFixture(t, proc)

	res, err := coord.Run(context.Background(), make([]model.Candidate, 3), src.ID)
	if !errors.Is(err, ErrUnknownSource) {
		t.Fatalf("expected ErrUnknownSource, got %v", err)
	}
	if proc.calls != 2 {
		t.Fatalf("expected the batch to stop at the missing source, got %d calls", proc.calls)
	}
	if len(res.Results) != 1 || res.Summary.Status != store.RunFailed {
		t.Fatalf("expected the processed item and a failed summary, got %+v", res)
	}

	run, err := st.GetRun(context.Background(), res.RunID)
	if err != nil {
		t.Fatalf("get run: %v", err)
	}
	if run.Status != store.RunFailed || run.FinishedAt == nil {
		t.Fatalf("run must be closed as failed, got %+v", run)
	}
	if run.Counts.Found != 1 || run.Counts.Created != 1 {
		t.Fatalf("unexpected counts %+v", run.Counts)
	}
	if !strings.Contains(run.ErrorMessage, "item 1") || !strings.Contains(run.ErrorMessage, ErrUnknownSource.Error()) {
		t.Fatalf("unexpected error message %q", run.ErrorMessage)
	}
}

func TestCoordinator_SequentialDependency(t *testing.T) {
	t.Parallel()

	coord, st, src := newCoordinatorFixture(t, nil)

	first := basicCandidate()
	second := basicCandidate()
	second.Data.BookingURL = model.Ptr("https://example.org/book/1")

	res, err := coord.Run(context.Background(), []model.Candidate{first, second}, src.ID)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if res.Summary.Created != 1 || res.Summary.Updated != 1 {
		t.Fatalf("expected the second item to update the event created by the first, got %+v", res.Summary)
	}
	if len(st.Events()) != 1 {
		t.Fatalf("expected one event")
	}
}

func TestSummarize_TopReasons(t *testing.T) {
	t.Parallel()

	skip := func(reasons ...merge.Reason) ItemResult {
		r := newResult(ItemUnchanged)
		for _, reason := range reasons {
			r.MergeReasons = append(r.MergeReasons, merge.Decision{Field: model.FieldTitle, Reason: reason})
		}
		return r
	}
	results := []ItemResult{
		skip(merge.ReasonLocked, merge.ReasonLowerPriority),
		skip(merge.ReasonLowerPriority, merge.ReasonUnchanged),
		ignoredResult(ReasonInvalidCandidate, errors.New("bad")),
		{Status: ItemConflict, Reason: ReasonFingerprintConflict},
	}

	s := Summarize(results)
	if s.Found != 4 || s.Unchanged != 2 || s.Ignored != 2 || s.Conflicts != 1 || s.Status != store.RunPartial {
		t.Fatalf("unexpected counts: %+v", s)
	}
	want := []store.ReasonCount{
		{Reason: "lower_priority", Count: 2},
		{Reason: ReasonFingerprintConflict, Count: 1},
		{Reason: ReasonInvalidCandidate, Count: 1},
		{Reason: "locked", Count: 1},
		{Reason: "unchanged", Count: 1},
	}
	if len(s.TopReasons) != len(want) {
		t.Fatalf("unexpected top reasons: %+v", s.TopReasons)
	}
	for i := range want {
		if s.TopReasons[i] != want[i] {
			t.Fatalf("top reason %d: got %+v want %+v", i, s.TopReasons[i], want[i])
		}
	}
}

func TestSummarize_LimitsTopReasons(t *testing.T) {
	t.Parallel()

	var results []ItemResult
	for i := 0; i < 12; i++ {
		results = append(results, ignoredResult(string(rune('a'+i)), nil))
	}
	s := Summarize(results)
	if len(s.TopReasons) != topReasonsLimit || s.TopReasons[0].Reason != "a" {
		t.Fatalf("unexpected top reasons: %+v", s.TopReasons)
	}
	if s.Status != store.RunFailed {
		t.Fatalf("expected failed, got %s", s.Status)
	}
}
