// Package merge decides, field by field, whether a candidate value may
// overwrite what a canonical event already holds.
//
// The resolver is a pure decision function. Writing the merged values and
// the provenance bookkeeping is the caller's job.
package merge

import (
	"encoding/json"
	"reflect"
	"time"

	"horse.fit/eventmerge/internal/model"
)

const (
	DefaultStalenessDays   = 180
	DefaultStalenessWindow = DefaultStalenessDays * 24 * time.Hour
)

// Reason names the decision path taken for one field. Every path has its own
// value, including the two equal-priority outcomes.
type Reason string

const (
	ReasonLocked              Reason = "locked"
	ReasonNullValue           Reason = "null_value"
	ReasonNewField            Reason = "new_field"
	ReasonHigherPriority      Reason = "higher_priority"
	ReasonSamePriorityChanged Reason = "same_priority_changed"
	ReasonUnchanged           Reason = "unchanged"
	ReasonStaleData           Reason = "stale_data"
	ReasonLowerPriority       Reason = "lower_priority"
)

// Applies reports whether the reason belongs to an updating path.
func (r Reason) Applies() bool {
	switch r {
	case ReasonNewField, ReasonHigherPriority, ReasonSamePriorityChanged, ReasonStaleData:
		return true
	default:
		return false
	}
}

type Input struct {
	Field             model.Field
	Candidate         any
	Existing          any
	CandidateSource   model.SourceType
	ExistingSource    model.SourceType
	ExistingUpdatedAt *time.Time
	Locked            bool
	Now               time.Time
}

type Decision struct {
	Field        model.Field `json:"field"`
	ShouldUpdate bool        `json:"should_update"`
	Reason       Reason      `json:"reason"`
}

type Resolver struct {
	staleness time.Duration
}

// NewResolver builds a resolver. A non-positive window uses the default.
func NewResolver(staleness time.Duration) Resolver {
	if staleness <= 0 {
		staleness = DefaultStalenessWindow
	}
	return Resolver{staleness: staleness}
}

func (r Resolver) StalenessWindow() time.Duration {
	if r.staleness <= 0 {
		return DefaultStalenessWindow
	}
	return r.staleness
}

// Resolve applies the decision order: lock, null candidate, empty existing,
// priority comparison, then value equality or staleness.
func (r Resolver) Resolve(in Input) Decision {
	decide := func(update bool, reason Reason) Decision {
		return Decision{Field: in.Field, ShouldUpdate: update, Reason: reason}
	}

	if in.Locked {
		return decide(false, ReasonLocked)
	}
	if isNull(in.Candidate) {
		return decide(false, ReasonNullValue)
	}
	if isNull(in.Existing) {
		return decide(true, ReasonNewField)
	}

	candidatePriority := Priority(in.CandidateSource)
	existingPriority := Priority(in.ExistingSource)

	switch {
	case candidatePriority < existingPriority:
		return decide(true, ReasonHigherPriority)
	case candidatePriority == existingPriority:
		if valuesEqual(in.Candidate, in.Existing) {
			return decide(false, ReasonUnchanged)
		}
		return decide(true, ReasonSamePriorityChanged)
	default:
		if r.isStale(in.ExistingUpdatedAt, in.Now) {
			return decide(true, ReasonStaleData)
		}
		return decide(false, ReasonLowerPriority)
	}
}

// isStale treats a missing write timestamp as stale.
func (r Resolver) isStale(updatedAt *time.Time, now time.Time) bool {
	if updatedAt == nil || updatedAt.IsZero() {
		return true
	}
	return now.Sub(*updatedAt) > r.StalenessWindow()
}

func isNull(v any) bool {
	if v == nil {
		return true
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Pointer, reflect.Interface, reflect.Map, reflect.Slice:
		return rv.IsNil()
	}
	return false
}

func valuesEqual(a, b any) bool {
	left, errLeft := json.Marshal(a)
	right, errRight := json.Marshal(b)
	if errLeft != nil || errRight != nil {
		return reflect.DeepEqual(a, b)
	}
	return string(left) == string(right)
}
