// Package ingest merges candidate events into canonical events, one candidate
// at a time (Processor) or a whole batch per run (Coordinator).
package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"horse.fit/eventmerge/internal/completeness"
	"horse.fit/eventmerge/internal/fingerprint"
	"horse.fit/eventmerge/internal/geocode"
	"horse.fit/eventmerge/internal/globaltime"
	"horse.fit/eventmerge/internal/merge"
	"horse.fit/eventmerge/internal/metrics"
	"horse.fit/eventmerge/internal/model"
	"horse.fit/eventmerge/internal/policy"
	"horse.fit/eventmerge/internal/store"
	payloadschema "horse.fit/eventmerge/schema"
)

// ErrUnknownSource is returned, before any write, when the source id does not
// name a registered source.
var ErrUnknownSource = errors.New("unknown source")

type Options struct {
	CompletenessThreshold int
	StalenessWindow       time.Duration
	AIMinConfidence       float64
	// AISweepEnabled parks new events without AI scores in pending_ai for a
	// later classification pass. When false they get a completeness-based
	// status instead.
	AISweepEnabled       bool
	Policy               policy.Thresholds
	GeocodeMinConfidence float64
}

func DefaultOptions() Options {
	return Options{
		CompletenessThreshold: completeness.DefaultThreshold,
		StalenessWindow:       merge.DefaultStalenessWindow,
		AIMinConfidence:       merge.DefaultAIMinConfidence,
		AISweepEnabled:        true,
		Policy:                policy.DefaultThresholds(),
		GeocodeMinConfidence:  0.3,
	}
}

type Processor struct {
	store    store.Store
	resolver merge.Resolver
	opts     Options
	geocoder geocode.Geocoder
	logger   zerolog.Logger
	now      func() time.Time
}

type ProcessorOption func(*Processor)

// WithGeocoder enables coordinate lookup for events that have an address but
// no coordinates.
func WithGeocoder(g geocode.Geocoder) ProcessorOption {
	return func(p *Processor) { p.geocoder = g }
}

func WithClock(now func() time.Time) ProcessorOption {
	return func(p *Processor) {
		if now != nil {
			p.now = now
		}
	}
}

func NewProcessor(st store.Store, opts Options, logger zerolog.Logger, options ...ProcessorOption) *Processor {
	if opts.CompletenessThreshold <= 0 {
		opts.CompletenessThreshold = completeness.DefaultThreshold
	}
	p := &Processor{
		store:    st,
		resolver: merge.NewResolver(opts.StalenessWindow),
		opts:     opts,
		logger:   logger,
		now:      globaltime.UTC,
	}
	for _, opt := range options {
		opt(p)
	}
	return p
}

// item carries the per-candidate state shared by the create and update paths.
type item struct {
	candidate   *model.Candidate
	source      store.Source
	runID       string
	raw         store.RawItem
	proposal    merge.Proposal
	fingerprint string
	idemKey     string
	now         time.Time
	logger      zerolog.Logger
}

// ProcessCandidate merges one candidate from sourceID into the canonical
// events. The outcome is recorded on the candidate's raw item.
//
// Only ErrUnknownSource is a precondition failure. Invalid candidates come
// back as ignored results with a nil error; storage failures come back as a
// non-nil error together with an ignored result.
func (p *Processor) ProcessCandidate(ctx context.Context, c *model.Candidate, sourceID int64, runID string) (ItemResult, error) {
	if p == nil || p.store == nil {
		return ItemResult{}, fmt.Errorf("ingest processor is not initialized")
	}
	if c == nil {
		return ItemResult{}, fmt.Errorf("candidate is nil")
	}

	source, err := p.loadSource(ctx, sourceID)
	if err != nil {
		return ItemResult{}, err
	}

	now := p.now()
	logger := p.logger.With().
		Int64("source_id", source.ID).
		Str("run_id", runID).
		Logger()

	if declared := model.NormalizeSourceType(string(c.SourceType)); declared != "" && declared != source.Type {
		logger.Debug().
			Str("candidate_source_type", string(declared)).
			Str("source_type", string(source.Type)).
			Msg("candidate source type differs from registered source; using registered type")
	}

	rawHash := rawHashOf(c)
	raw, err := p.store.UpsertRawItem(ctx, store.RawItemInput{
		SourceID: source.ID,
		RawHash:  rawHash,
		RunID:    runID,
		Payload:  c.Raw,
		SeenAt:   now,
	})
	if err != nil {
		return ignoredResult(ReasonProcessingError, err), fmt.Errorf("upsert raw item: %w", err)
	}
	if raw.SeenCount > 1 {
		metrics.RawDuplicates.Inc()
	}

	in := &item{
		candidate: c,
		source:    source,
		runID:     runID,
		raw:       raw,
		now:       now,
		logger:    logger,
	}

	result, procErr := p.process(ctx, in)
	if procErr != nil {
		result = ignoredResult(ReasonProcessingError, procErr)
	}
	result.RawHash = rawHash
	if result.Fingerprint == "" {
		result.Fingerprint = in.fingerprint
	}

	p.recordOutcome(ctx, raw.ID, result, logger)
	metrics.ItemsProcessed.WithLabelValues(string(result.Status)).Inc()

	logger.Debug().
		Str("fingerprint", result.Fingerprint).
		Str("event_id", result.EventID).
		Str("status", string(result.Status)).
		Int("applied", len(result.AppliedFields)).
		Int("ignored", len(result.IgnoredFields)).
		Msg("candidate processed")

	if procErr != nil {
		return result, procErr
	}
	return result, nil
}

func (p *Processor) loadSource(ctx context.Context, sourceID int64) (store.Source, error) {
	if sourceID <= 0 {
		return store.Source{}, fmt.Errorf("%w: id %d", ErrUnknownSource, sourceID)
	}
	source, err := p.store.GetSource(ctx, sourceID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return store.Source{}, fmt.Errorf("%w: id %d", ErrUnknownSource, sourceID)
		}
		return store.Source{}, fmt.Errorf("load source %d: %w", sourceID, err)
	}
	source.Type = model.NormalizeSourceType(string(source.Type))
	return source, nil
}

func (p *Processor) process(ctx context.Context, in *item) (ItemResult, error) {
	c := in.candidate
	if err := payloadschema.ValidateCandidate(c); err != nil {
		return ignoredResult(ReasonInvalidCandidate, err), nil
	}

	in.proposal = merge.Propose(c, p.opts.AIMinConfidence)

	fp := strings.ToLower(strings.TrimSpace(c.Fingerprint))
	if fp == "" {
		derived, err := fingerprint.FromFields(&in.proposal.Fields)
		if err != nil {
			return ignoredResult(ReasonFingerprintFailed, err), nil
		}
		fp = derived
	}
	in.fingerprint = fp
	in.logger = in.logger.With().Str("fingerprint", fp).Logger()

	startDate := ""
	if start := in.proposal.Fields.StartAt; start != nil {
		startDate = start.Format(time.RFC3339)
	}
	key, err := fingerprint.IdempotencyKey(in.source.ID, fp, startDate)
	if err != nil {
		return ignoredResult(ReasonFingerprintFailed, err), nil
	}
	in.idemKey = key

	link, err := p.store.FindEventSourceByFingerprint(ctx, fp)
	switch {
	case errors.Is(err, store.ErrNotFound):
		return p.create(ctx, in)
	case err != nil:
		return ItemResult{}, fmt.Errorf("find event source: %w", err)
	}

	if res, ok, err := p.repeatSubmission(ctx, in); err != nil || ok {
		return res, err
	}
	return p.update(ctx, in, link.EventID)
}

// repeatSubmission short-cuts a resubmission whose raw hash is the one last
// merged through the source's own link: the link is refreshed and nothing is
// merged. A payload seen earlier but superseded since goes through the
// resolver again.
func (p *Processor) repeatSubmission(ctx context.Context, in *item) (ItemResult, bool, error) {
	if in.raw.SeenCount <= 1 {
		return ItemResult{}, false, nil
	}
	own, err := p.store.GetEventSource(ctx, in.fingerprint, in.source.ID)
	if errors.Is(err, store.ErrNotFound) {
		return ItemResult{}, false, nil
	}
	if err != nil {
		return ItemResult{}, false, fmt.Errorf("load own event source: %w", err)
	}
	if own.IdempotencyKey != in.idemKey || own.RawHash != in.raw.RawHash {
		return ItemResult{}, false, nil
	}

	own.LastFetchedAt = in.now
	if _, err := p.store.UpsertEventSource(ctx, own); err != nil {
		return ItemResult{}, false, fmt.Errorf("refresh event source: %w", err)
	}

	res := newResult(ItemUnchanged)
	res.EventID = own.EventID
	res.Fingerprint = in.fingerprint
	res.Reason = ReasonDuplicateSubmission
	return res, true, nil
}

func (p *Processor) update(ctx context.Context, in *item, eventID string) (ItemResult, error) {
	ev, err := p.store.GetEvent(ctx, eventID)
	if err != nil {
		return ItemResult{}, fmt.Errorf("load event %s: %w", eventID, err)
	}

	proposal := in.proposal.Fields
	p.maybeGeocode(ctx, in, &proposal, &ev.Fields)

	plan := p.resolver.Plan(merge.Existing{
		Fields:     ev.Fields,
		Provenance: ev.FieldProvenance,
		UpdatedAt:  ev.FieldUpdatedAt,
		Locked:     ev.LockedFields,
	}, &proposal, in.source.Type, in.now)

	for _, d := range plan.Decisions {
		if d.Reason != merge.ReasonNullValue {
			metrics.FieldDecisions.WithLabelValues(string(d.Reason)).Inc()
		}
	}

	categories := unionCategories(ev.Fields.Categories, proposal.Categories)
	newCategories := len(categories) > len(unionCategories(ev.Fields.Categories, nil))
	changed := plan.Changed() || newCategories

	if changed {
		merged := plan.Merged
		merged.Categories = categories
		score := completeness.Calculate(&merged, p.opts.CompletenessThreshold)

		if err := p.store.UpdateEvent(ctx, store.EventUpdate{
			EventID:           ev.ID,
			Fields:            merged,
			Changed:           plan.Applied,
			FieldProvenance:   plan.Provenance,
			FieldUpdatedAt:    plan.UpdatedAt,
			CompletenessScore: score.Score,
			IsComplete:        score.IsComplete,
			At:                in.now,
		}); err != nil {
			return ItemResult{}, fmt.Errorf("update event %s: %w", ev.ID, err)
		}
	}

	if _, err := p.store.UpsertEventSource(ctx, p.eventSource(in, ev.ID)); err != nil {
		return ItemResult{}, fmt.Errorf("upsert event source: %w", err)
	}
	p.attachCategories(ctx, in, ev.ID, proposal.Categories)

	status := ItemUnchanged
	if changed {
		status = ItemUpdated
	}
	res := newResult(status)
	res.EventID = ev.ID
	res.EventStatus = ev.Status
	res.Fingerprint = in.fingerprint
	res.FromAI = in.proposal.FromAI
	res.MergeReasons = plan.Reasons()
	if plan.Applied != nil {
		res.AppliedFields = plan.Applied
	}
	if plan.Ignored != nil {
		res.IgnoredFields = plan.Ignored
	}
	return res, nil
}

func (p *Processor) create(ctx context.Context, in *item) (ItemResult, error) {
	fields := in.proposal.Fields.Clone()
	p.maybeGeocode(ctx, in, &fields, nil)

	score := completeness.Calculate(&fields, p.opts.CompletenessThreshold)
	decision := p.initialDecision(score.Score, &fields, in.candidate.AI)
	provenance, updatedAt := merge.Initial(&fields, in.source.Type, in.now)

	categories := fields.Categories
	created, err := p.store.CreateEvent(ctx, store.NewEvent{
		Event: store.Event{
			Fields:            fields,
			Status:            decision.Status,
			StatusReason:      decision.Reason,
			StatusFlags:       decision.FlagStrings(),
			CompletenessScore: score.Score,
			IsComplete:        score.IsComplete,
			FieldProvenance:   provenance,
			FieldUpdatedAt:    updatedAt,
			CreatedAt:         in.now,
			UpdatedAt:         in.now,
		},
		Source: p.eventSource(in, ""),
	})
	if errors.Is(err, store.ErrFingerprintExists) {
		// Another writer won the race: merge into its event instead.
		link, findErr := p.store.FindEventSourceByFingerprint(ctx, in.fingerprint)
		if errors.Is(findErr, store.ErrNotFound) {
			res := newResult(ItemConflict)
			res.Fingerprint = in.fingerprint
			res.Reason = ReasonFingerprintConflict
			return res, nil
		}
		if findErr != nil {
			return ItemResult{}, fmt.Errorf("re-read event source after conflict: %w", findErr)
		}
		in.logger.Debug().Str("event_id", link.EventID).Msg("lost create race; merging into existing event")
		return p.update(ctx, in, link.EventID)
	}
	if err != nil {
		return ItemResult{}, fmt.Errorf("create event: %w", err)
	}

	p.attachCategories(ctx, in, created.ID, categories)
	if ai := in.candidate.AI; ai.HasScores() {
		p.attachScores(ctx, in, created.ID, *ai.Scores)
	}
	metrics.PublishDecisions.WithLabelValues(string(decision.Status)).Inc()

	applied := make([]model.Field, 0, len(model.MergeFields))
	reasons := make([]merge.Decision, 0, len(model.MergeFields))
	for _, field := range model.MergeFields {
		if !fields.Has(field) {
			continue
		}
		applied = append(applied, field)
		reasons = append(reasons, merge.Decision{Field: field, ShouldUpdate: true, Reason: merge.ReasonNewField})
	}

	res := newResult(ItemCreated)
	res.EventID = created.ID
	res.EventStatus = decision.Status
	res.Fingerprint = in.fingerprint
	res.FromAI = in.proposal.FromAI
	res.AppliedFields = applied
	res.MergeReasons = reasons
	res.Reason = decision.Reason
	return res, nil
}

func (p *Processor) initialDecision(score int, fields *model.Fields, ai *model.AIPayload) policy.Decision {
	if ai.HasScores() {
		return policy.Decide(policy.InputFor(score, fields, ai), p.opts.Policy)
	}
	if p.opts.AISweepEnabled {
		return policy.Decision{Status: model.StatusPendingAI, Reason: "awaiting_ai_scores"}
	}
	return policy.Decision{
		Status: completeness.DetermineInitialStatusWithThreshold(score, p.opts.CompletenessThreshold),
		Reason: "completeness_only",
	}
}

func (p *Processor) eventSource(in *item, eventID string) store.EventSource {
	var normalized json.RawMessage
	if encoded, err := json.Marshal(in.proposal.Fields); err == nil {
		normalized = encoded
	}
	return store.EventSource{
		EventID:           eventID,
		SourceID:          in.source.ID,
		Fingerprint:       in.fingerprint,
		IdempotencyKey:    in.idemKey,
		RawHash:           in.raw.RawHash,
		SourceURL:         strings.TrimSpace(in.candidate.SourceURL),
		ExternalID:        strings.TrimSpace(in.candidate.ExternalID),
		RawPayload:        in.candidate.Raw,
		NormalizedPayload: normalized,
		LastFetchedAt:     in.now,
	}
}

// maybeGeocode fills coordinates on proposal when neither the proposal nor the
// existing event has any and an address or city is known. Failures are logged
// and otherwise ignored.
func (p *Processor) maybeGeocode(ctx context.Context, in *item, proposal, existing *model.Fields) {
	if p.geocoder == nil {
		return
	}
	if proposal.Has(model.FieldLat) || proposal.Has(model.FieldLng) {
		return
	}
	if existing != nil && (existing.Has(model.FieldLat) || existing.Has(model.FieldLng)) {
		return
	}
	if merge.HasConfidentGeocode(in.candidate.AI, p.opts.AIMinConfidence) {
		return
	}

	q := geocode.Query{Address: textOf(proposal.Address), City: textOf(proposal.City)}
	if existing != nil {
		if q.Address == "" {
			q.Address = textOf(existing.Address)
		}
		if q.City == "" {
			q.City = textOf(existing.City)
		}
	}
	if q.Text() == "" {
		return
	}

	res, err := p.geocoder.Geocode(ctx, q)
	if err != nil {
		if !errors.Is(err, geocode.ErrNoMatch) {
			in.logger.Warn().Err(err).Msg("geocode lookup failed")
		}
		return
	}
	if res.Confidence < p.opts.GeocodeMinConfidence {
		in.logger.Debug().Float64("confidence", res.Confidence).Msg("geocode result below confidence threshold")
		return
	}
	proposal.Lat = model.Ptr(res.Lat)
	proposal.Lng = model.Ptr(res.Lng)
}

func (p *Processor) attachCategories(ctx context.Context, in *item, eventID string, categories []string) {
	if len(categories) == 0 {
		return
	}
	if err := p.store.AttachCategories(ctx, eventID, categories); err != nil && !errors.Is(err, store.ErrDuplicate) {
		in.logger.Warn().Err(err).Str("event_id", eventID).Msg("attach categories failed")
	}
}

func (p *Processor) attachScores(ctx context.Context, in *item, eventID string, scores model.AIScores) {
	if err := p.store.AttachScores(ctx, eventID, scores); err != nil && !errors.Is(err, store.ErrDuplicate) {
		in.logger.Warn().Err(err).Str("event_id", eventID).Msg("attach scores failed")
	}
}

func (p *Processor) recordOutcome(ctx context.Context, rawItemID int64, result ItemResult, logger zerolog.Logger) {
	encoded, err := json.Marshal(result)
	if err != nil {
		logger.Warn().Err(err).Msg("encode item result")
		return
	}
	if err := p.store.RecordRawItemResult(ctx, rawItemID, string(result.Status), encoded); err != nil {
		logger.Warn().Err(err).Int64("raw_item_id", rawItemID).Msg("record raw item result failed")
	}
}

func unionCategories(existing, incoming []string) []string {
	seen := make(map[string]struct{}, len(existing)+len(incoming))
	out := make([]string, 0, len(existing)+len(incoming))
	for _, list := range [][]string{existing, incoming} {
		for _, c := range list {
			c = strings.TrimSpace(c)
			if c == "" {
				continue
			}
			if _, ok := seen[c]; ok {
				continue
			}
			seen[c] = struct{}{}
			out = append(out, c)
		}
	}
	return out
}

func textOf(p *string) string {
	if p == nil {
		return ""
	}
	return strings.TrimSpace(*p)
}
