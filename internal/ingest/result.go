package ingest

import (
	"strings"

	"horse.fit/eventmerge/internal/merge"
	"horse.fit/eventmerge/internal/model"
)

const maxIngestErrorLength = 4000

type ItemStatus string

const (
	ItemCreated   ItemStatus = "created"
	ItemUpdated   ItemStatus = "updated"
	ItemUnchanged ItemStatus = "unchanged"
	ItemIgnored   ItemStatus = "ignored"
	ItemConflict  ItemStatus = "conflict"
)

// Item-level reason codes. Field-level reasons are merge.Reason values.
const (
	ReasonDuplicateSubmission = "duplicate_submission"
	ReasonInvalidCandidate    = "invalid_candidate"
	ReasonFingerprintFailed   = "fingerprint_failed"
	ReasonProcessingError     = "processing_error"
	ReasonFingerprintConflict = "fingerprint_conflict"
)

// ItemResult is the outcome of processing one candidate. It is stored on the
// raw item for audit.
type ItemResult struct {
	Status        ItemStatus       `json:"status"`
	EventID       string           `json:"event_id,omitempty"`
	EventStatus   model.Status     `json:"event_status,omitempty"`
	Fingerprint   string           `json:"fingerprint,omitempty"`
	RawHash       string           `json:"raw_hash,omitempty"`
	AppliedFields []model.Field    `json:"applied_fields"`
	IgnoredFields []model.Field    `json:"ignored_fields"`
	MergeReasons  []merge.Decision `json:"merge_reasons"`
	FromAI        []model.Field    `json:"from_ai,omitempty"`
	Reason        string           `json:"reason,omitempty"`
	Error         string           `json:"error,omitempty"`
}

func newResult(status ItemStatus) ItemResult {
	return ItemResult{
		Status:        status,
		AppliedFields: []model.Field{},
		IgnoredFields: []model.Field{},
		MergeReasons:  []merge.Decision{},
	}
}

func ignoredResult(reason string, err error) ItemResult {
	res := newResult(ItemIgnored)
	res.Reason = reason
	if err != nil {
		res.Error = truncateError(err.Error())
	}
	return res
}

// SkipReasons lists the field-level reasons of decisions that did not
// update.
func (r ItemResult) SkipReasons() []string {
	out := make([]string, 0, len(r.MergeReasons))
	for _, d := range r.MergeReasons {
		if d.ShouldUpdate || d.Reason == merge.ReasonNullValue {
			continue
		}
		out = append(out, string(d.Reason))
	}
	return out
}

func truncateError(msg string) string {
	msg = strings.TrimSpace(msg)
	if len(msg) > maxIngestErrorLength {
		msg = msg[:maxIngestErrorLength]
	}
	return msg
}
