// Package policy turns completeness and AI classification scores into a
// publication status.
package policy

import (
	"strings"

	"horse.fit/eventmerge/internal/model"
)

type Flag string

const (
	FlagAgeRestricted       Flag = "age_restricted"
	FlagIncomplete          Flag = "incomplete"
	FlagNoAIScores          Flag = "no_ai_scores"
	FlagLowFamilyFit        Flag = "low_family_fit"
	FlagLowConfidence       Flag = "low_confidence"
	FlagBorderlineFamilyFit Flag = "borderline_family_fit"
	FlagNoBookingURL        Flag = "no_booking_url"
	FlagAutoPublished       Flag = "auto_published"
)

// Thresholds holds every tunable number the decision reads.
type Thresholds struct {
	PublishMinConfidence float64
	RejectMinConfidence  float64
	RejectFamilyFitBelow float64
	PublishFamilyFitMin  float64
	IncompleteScoreBelow int
	RejectedAgeRatings   []string
}

func DefaultThresholds() Thresholds {
	return Thresholds{
		PublishMinConfidence: 0.75,
		RejectMinConfidence:  0.80,
		RejectFamilyFitBelow: 30,
		PublishFamilyFitMin:  50,
		IncompleteScoreBelow: 50,
		RejectedAgeRatings:   []string{"16+", "18+"},
	}
}

type Input struct {
	CompletenessScore int
	FamilyFit         *float64
	Confidence        *float64
	AgeRating         *string
	BookingURL        *string
}

type Decision struct {
	Status model.Status `json:"status"`
	Flags  []Flag       `json:"flags,omitempty"`
	Reason string       `json:"reason"`
}

// FlagStrings returns the flags as plain strings for storage.
func (d Decision) FlagStrings() []string {
	out := make([]string, 0, len(d.Flags))
	for _, f := range d.Flags {
		out = append(out, string(f))
	}
	return out
}

// Decide is pure: the first matching rule sets the status.
func Decide(in Input, th Thresholds) Decision {
	if rating := normalizeRating(in.AgeRating); rating != "" && th.rejectsRating(rating) {
		return decision(model.StatusRejected, FlagAgeRestricted)
	}
	if in.CompletenessScore < th.IncompleteScoreBelow {
		return decision(model.StatusIncomplete, FlagIncomplete)
	}
	if in.FamilyFit == nil || in.Confidence == nil {
		return decision(model.StatusPendingReview, FlagNoAIScores)
	}

	familyFit := *in.FamilyFit
	confidence := *in.Confidence

	if familyFit < th.RejectFamilyFitBelow && confidence >= th.RejectMinConfidence {
		return decision(model.StatusRejected, FlagLowFamilyFit)
	}

	var soft []Flag
	if confidence < th.PublishMinConfidence {
		soft = append(soft, FlagLowConfidence)
	}
	if familyFit >= th.RejectFamilyFitBelow && familyFit < th.PublishFamilyFitMin {
		soft = append(soft, FlagBorderlineFamilyFit)
	}
	if in.BookingURL == nil || strings.TrimSpace(*in.BookingURL) == "" {
		soft = append(soft, FlagNoBookingURL)
	}
	if len(soft) > 0 {
		return decision(model.StatusPendingReview, soft...)
	}

	if familyFit >= th.PublishFamilyFitMin && confidence >= th.PublishMinConfidence {
		return decision(model.StatusPublished, FlagAutoPublished)
	}

	// Low family fit without enough confidence to reject.
	return decision(model.StatusPendingReview)
}

func decision(status model.Status, flags ...Flag) Decision {
	parts := make([]string, 0, len(flags))
	for _, f := range flags {
		parts = append(parts, string(f))
	}
	reason := strings.Join(parts, ", ")
	if reason == "" {
		reason = "needs_review"
	}
	return Decision{Status: status, Flags: flags, Reason: reason}
}

func (th Thresholds) rejectsRating(rating string) bool {
	for _, r := range th.RejectedAgeRatings {
		if strings.EqualFold(strings.TrimSpace(r), rating) {
			return true
		}
	}
	return false
}

func normalizeRating(p *string) string {
	if p == nil {
		return ""
	}
	return strings.TrimSpace(*p)
}

// InputFor assembles a decision input from merged event fields and the
// candidate's AI payload.
func InputFor(score int, fields *model.Fields, ai *model.AIPayload) Input {
	in := Input{CompletenessScore: score}
	if fields != nil {
		in.AgeRating = fields.AgeRating
		in.BookingURL = fields.BookingURL
	}
	if ai != nil {
		in.Confidence = ai.Confidence
		if ai.Scores != nil {
			in.FamilyFit = ai.Scores.FamilyFit
		}
		if in.AgeRating == nil {
			in.AgeRating = ai.AgeRating
		}
	}
	return in
}
