package merge

import (
	"time"

	"horse.fit/eventmerge/internal/model"
)

// Existing is the merge-relevant state of a canonical event.
type Existing struct {
	Fields     model.Fields
	Provenance map[string]model.SourceType
	UpdatedAt  map[string]time.Time
	Locked     []string
}

// Plan is the outcome of resolving every merge field of a proposal against an
// existing event. Merged holds the event fields with the applied values
// copied in; Provenance and UpdatedAt hold only the entries that changed.
type Plan struct {
	Decisions  []Decision
	Applied    []model.Field
	Ignored    []model.Field
	Merged     model.Fields
	Provenance map[string]model.SourceType
	UpdatedAt  map[string]time.Time
}

// Changed reports whether at least one field is applied.
func (p Plan) Changed() bool {
	return len(p.Applied) > 0
}

// Reasons returns the decisions worth reporting: everything except fields the
// candidate did not carry.
func (p Plan) Reasons() []Decision {
	out := make([]Decision, 0, len(p.Decisions))
	for _, d := range p.Decisions {
		if d.Reason == ReasonNullValue {
			continue
		}
		out = append(out, d)
	}
	return out
}

// Plan resolves proposal against existing for every field in
// model.MergeFields. It does not modify its inputs.
func (r Resolver) Plan(existing Existing, proposal *model.Fields, source model.SourceType, now time.Time) Plan {
	locked := make(map[string]struct{}, len(existing.Locked))
	for _, name := range existing.Locked {
		locked[name] = struct{}{}
	}

	plan := Plan{
		Decisions:  make([]Decision, 0, len(model.MergeFields)),
		Merged:     existing.Fields.Clone(),
		Provenance: map[string]model.SourceType{},
		UpdatedAt:  map[string]time.Time{},
	}

	for _, field := range model.MergeFields {
		key := string(field)
		in := Input{
			Field:           field,
			Candidate:       proposal.Value(field),
			Existing:        existing.Fields.Value(field),
			CandidateSource: source,
			ExistingSource:  existing.Provenance[key],
			Now:             now,
		}
		if ts, ok := existing.UpdatedAt[key]; ok {
			tsCopy := ts
			in.ExistingUpdatedAt = &tsCopy
		}
		_, in.Locked = locked[key]

		decision := r.Resolve(in)
		plan.Decisions = append(plan.Decisions, decision)

		switch {
		case decision.ShouldUpdate:
			plan.Applied = append(plan.Applied, field)
			plan.Merged.CopyField(proposal, field)
			plan.Provenance[key] = source
			plan.UpdatedAt[key] = now
		case decision.Reason != ReasonNullValue:
			plan.Ignored = append(plan.Ignored, field)
		}
	}

	return plan
}

// Initial builds provenance for a freshly created event: every populated
// field is attributed to source at now.
func Initial(fields *model.Fields, source model.SourceType, now time.Time) (map[string]model.SourceType, map[string]time.Time) {
	provenance := map[string]model.SourceType{}
	updatedAt := map[string]time.Time{}
	for _, field := range model.MergeFields {
		if !fields.Has(field) {
			continue
		}
		provenance[string(field)] = source
		updatedAt[string(field)] = now
	}
	return provenance, updatedAt
}
