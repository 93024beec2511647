package ingest

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"horse.fit/eventmerge/internal/globaltime"
	"horse.fit/eventmerge/internal/metrics"
	"horse.fit/eventmerge/internal/model"
	"horse.fit/eventmerge/internal/store"
)

const topReasonsLimit = 10

// CandidateProcessor is the per-item step the coordinator drives.
type CandidateProcessor interface {
	ProcessCandidate(ctx context.Context, c *model.Candidate, sourceID int64, runID string) (ItemResult, error)
}

type Summary struct {
	Found      int                 `json:"found"`
	Created    int                 `json:"created"`
	Updated    int                 `json:"updated"`
	Unchanged  int                 `json:"unchanged"`
	Ignored    int                 `json:"ignored"`
	Conflicts  int                 `json:"conflicts"`
	TopReasons []store.ReasonCount `json:"top_reasons"`
	Status     store.RunStatus     `json:"status"`
}

type BatchResult struct {
	RunID   string       `json:"run_id"`
	Results []ItemResult `json:"results"`
	Summary Summary      `json:"summary"`
}

// Coordinator runs a batch through the processor.
//
// Candidates are processed strictly in order, one at a time: a candidate may
// rely on an event created by an earlier candidate of the same batch. A
// parallel implementation must provide that guarantee some other way.
//
// Once started, a batch runs to the end. Context cancellation is passed to
// storage calls but does not stop the loop; affected items end up ignored.
type Coordinator struct {
	processor CandidateProcessor
	store     store.Store
	logger    zerolog.Logger
	now       func() time.Time
}

func NewCoordinator(processor CandidateProcessor, st store.Store, logger zerolog.Logger) *Coordinator {
	return &Coordinator{
		processor: processor,
		store:     st,
		logger:    logger,
		now:       globaltime.UTC,
	}
}

// Run creates an ingest run for sourceID and processes the batch under it.
func (c *Coordinator) Run(ctx context.Context, candidates []model.Candidate, sourceID int64) (BatchResult, error) {
	if err := c.checkSource(ctx, sourceID); err != nil {
		return BatchResult{}, err
	}
	run, err := c.store.CreateRun(ctx, sourceID, c.now())
	if err != nil {
		return BatchResult{}, fmt.Errorf("create ingest run: %w", err)
	}
	return c.ProcessBatch(ctx, candidates, sourceID, run.ID)
}

// ProcessBatch processes candidates under an existing run and writes the
// final run statistics. An empty runID skips the run bookkeeping.
func (c *Coordinator) ProcessBatch(ctx context.Context, candidates []model.Candidate, sourceID int64, runID string) (BatchResult, error) {
	if c == nil || c.processor == nil || c.store == nil {
		return BatchResult{}, fmt.Errorf("batch coordinator is not initialized")
	}
	if err := c.checkSource(ctx, sourceID); err != nil {
		return BatchResult{}, err
	}

	started := time.Now()
	logger := c.logger.With().Int64("source_id", sourceID).Str("run_id", runID).Logger()
	logger.Info().Int("candidates", len(candidates)).Msg("batch started")

	results := make([]ItemResult, 0, len(candidates))
	var firstErr string
	for i := range candidates {
		res, err := c.processOne(ctx, &candidates[i], sourceID, runID)
		if err != nil {
			if errors.Is(err, ErrUnknownSource) {
				return c.abortBatch(ctx, results, runID, fmt.Errorf("item %d: %w", i, err), logger)
			}
			if res.Status != ItemIgnored {
				res = ignoredResult(ReasonProcessingError, err)
			}
			if firstErr == "" {
				firstErr = fmt.Sprintf("item %d: %s", i, err.Error())
			}
			logger.Warn().Err(err).Int("index", i).Msg("candidate failed")
		}
		results = append(results, res)
	}

	summary := Summarize(results)
	out := BatchResult{RunID: runID, Results: results, Summary: summary}

	if err := c.finishRun(ctx, runID, summary, firstErr); err != nil {
		return out, err
	}

	metrics.BatchDuration.WithLabelValues(string(summary.Status)).Observe(time.Since(started).Seconds())
	logger.Info().
		Str("status", string(summary.Status)).
		Int("found", summary.Found).
		Int("created", summary.Created).
		Int("updated", summary.Updated).
		Int("unchanged", summary.Unchanged).
		Int("ignored", summary.Ignored).
		Msg("batch finished")

	return out, nil
}

// abortBatch closes the run as failed when the source disappears mid-batch.
// The results gathered so far are returned together with cause.
func (c *Coordinator) abortBatch(ctx context.Context, results []ItemResult, runID string, cause error, logger zerolog.Logger) (BatchResult, error) {
	summary := Summarize(results)
	summary.Status = store.RunFailed
	out := BatchResult{RunID: runID, Results: results, Summary: summary}

	logger.Error().Err(cause).Int("processed", len(results)).Msg("batch aborted")
	if err := c.finishRun(ctx, runID, summary, cause.Error()); err != nil {
		return out, errors.Join(cause, err)
	}
	return out, cause
}

// finishRun writes the final run statistics. An empty runID is a no-op.
func (c *Coordinator) finishRun(ctx context.Context, runID string, summary Summary, errMsg string) error {
	if runID == "" {
		return nil
	}
	if err := c.store.FinishRun(ctx, runID, store.RunResult{
		Status: summary.Status,
		Counts: store.RunCounts{
			Found:     summary.Found,
			Created:   summary.Created,
			Updated:   summary.Updated,
			Unchanged: summary.Unchanged,
			Ignored:   summary.Ignored,
		},
		MergeStats:   store.MergeStats{TopReasons: summary.TopReasons},
		ErrorMessage: truncateError(errMsg),
		FinishedAt:   c.now(),
	}); err != nil {
		return fmt.Errorf("finish ingest run: %w", err)
	}
	return nil
}

// processOne turns a panic inside the processor into an error for that item.
func (c *Coordinator) processOne(ctx context.Context, candidate *model.Candidate, sourceID int64, runID string) (res ItemResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			res = ItemResult{}
			err = fmt.Errorf("panic while processing candidate: %v", r)
		}
	}()
	return c.processor.ProcessCandidate(ctx, candidate, sourceID, runID)
}

func (c *Coordinator) checkSource(ctx context.Context, sourceID int64) error {
	if sourceID <= 0 {
		return fmt.Errorf("%w: id %d", ErrUnknownSource, sourceID)
	}
	if _, err := c.store.GetSource(ctx, sourceID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return fmt.Errorf("%w: id %d", ErrUnknownSource, sourceID)
		}
		return fmt.Errorf("load source %d: %w", sourceID, err)
	}
	return nil
}

// Summarize counts outcomes, derives the run status and collects the most
// frequent item-level ignore reasons and field-level skip reasons. Conflicts
// count as ignored.
func Summarize(results []ItemResult) Summary {
	s := Summary{Found: len(results)}
	reasons := map[string]int{}

	for _, r := range results {
		switch r.Status {
		case ItemCreated:
			s.Created++
		case ItemUpdated:
			s.Updated++
		case ItemUnchanged:
			s.Unchanged++
		case ItemConflict:
			s.Conflicts++
			s.Ignored++
			reasons[nonEmpty(r.Reason, ReasonFingerprintConflict)]++
		default:
			s.Ignored++
			reasons[nonEmpty(r.Reason, ReasonProcessingError)]++
		}
		for _, reason := range r.SkipReasons() {
			reasons[reason]++
		}
	}

	s.TopReasons = topReasons(reasons, topReasonsLimit)
	s.Status = runStatus(s.Found, s.Ignored)
	return s
}

func runStatus(found, ignored int) store.RunStatus {
	switch {
	case found > 0 && ignored == found:
		return store.RunFailed
	case ignored > 0:
		return store.RunPartial
	default:
		return store.RunSuccess
	}
}

func topReasons(counts map[string]int, limit int) []store.ReasonCount {
	out := make([]store.ReasonCount, 0, len(counts))
	for reason, n := range counts {
		out = append(out, store.ReasonCount{Reason: reason, Count: n})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Reason < out[j].Reason
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out
}

func nonEmpty(v, fallback string) string {
	if v == "" {
		return fallback
	}
	return v
}
