// Package completeness scores how much of a canonical event's data is
// populated and maps the score to the initial status used when no AI
// classification is available.
package completeness

import (
	"strings"
	"unicode/utf8"

	"horse.fit/eventmerge/internal/model"
)

const (
	DefaultThreshold = 70

	// IncompleteBelow is the score under which a record is not worth review.
	IncompleteBelow = 50

	minTitleLength            = 5
	minShortDescriptionLength = 20
	minLongDescriptionLength  = 100
)

// Category weights. They sum to 100.
const (
	weightTitle       = 10
	weightDescription = 15
	weightDescPartial = 10
	weightStart       = 15
	weightEnd         = 5
	weightLocation    = 20
	weightLocPartial  = 12
	weightPriceType   = 5
	weightPriceDetail = 5
	weightAge         = 10
	weightBooking     = 6
	weightContact     = 4
	weightCategories  = 5
)

type Result struct {
	Score         int      `json:"score"`
	IsComplete    bool     `json:"is_complete"`
	MissingFields []string `json:"missing_fields,omitempty"`
}

// Calculate scores f against the weighted rubric. A threshold <= 0 falls back
// to DefaultThreshold.
func Calculate(f *model.Fields, threshold int) Result {
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	if f == nil {
		f = &model.Fields{}
	}

	score := 0
	var missing []string

	if textLength(f.Title) >= minTitleLength {
		score += weightTitle
	} else {
		missing = append(missing, "title")
	}

	hasShort := textLength(f.DescriptionShort) >= minShortDescriptionLength
	hasLong := textLength(f.DescriptionLong) >= minLongDescriptionLength
	switch {
	case hasShort && hasLong:
		score += weightDescription
	case hasShort || hasLong:
		score += weightDescPartial
	}
	if !hasShort {
		missing = append(missing, "description_short")
	}
	if !hasLong {
		missing = append(missing, "description_long")
	}

	if f.Has(model.FieldStartAt) {
		score += weightStart
		if f.Has(model.FieldEndAt) {
			score += weightEnd
		} else {
			missing = append(missing, "end_at")
		}
	} else {
		missing = append(missing, "start_at")
	}

	hasAddress := f.Has(model.FieldAddress)
	hasCoords := f.Has(model.FieldLat) && f.Has(model.FieldLng)
	switch {
	case hasAddress && hasCoords:
		score += weightLocation
	case hasAddress || hasCoords:
		score += weightLocPartial
	}
	if !hasAddress {
		missing = append(missing, "address")
	}
	if !hasCoords {
		missing = append(missing, "coordinates")
	}

	score += priceScore(f, &missing)

	if f.Has(model.FieldAgeMin) || f.Has(model.FieldAgeMax) {
		score += weightAge
	} else {
		missing = append(missing, "age_range")
	}

	if f.Has(model.FieldBookingURL) {
		score += weightBooking
	} else {
		missing = append(missing, "booking_url")
	}
	if f.Has(model.FieldContactEmail) || f.Has(model.FieldContactPhone) {
		score += weightContact
	} else {
		missing = append(missing, "contact")
	}

	if hasCategory(f.Categories) {
		score += weightCategories
	} else {
		missing = append(missing, "categories")
	}

	score = min(max(score, 0), 100)
	return Result{
		Score:         score,
		IsComplete:    score >= threshold,
		MissingFields: missing,
	}
}

// DetermineInitialStatus maps a score to a status when no AI scores exist.
func DetermineInitialStatus(score int) model.Status {
	return DetermineInitialStatusWithThreshold(score, DefaultThreshold)
}

func DetermineInitialStatusWithThreshold(score, threshold int) model.Status {
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	switch {
	case score < IncompleteBelow:
		return model.StatusIncomplete
	case score < threshold:
		return model.StatusPendingAI
	default:
		return model.StatusPendingReview
	}
}

func priceScore(f *model.Fields, missing *[]string) int {
	if f.PriceType == nil || *f.PriceType == "" || *f.PriceType == model.PriceUnknown {
		*missing = append(*missing, "price_type")
		return 0
	}
	score := weightPriceType
	switch *f.PriceType {
	case model.PriceFree:
		score += weightPriceDetail
	case model.PricePaid, model.PriceDonation:
		if f.Has(model.FieldPriceMin) {
			score += weightPriceDetail
		} else {
			*missing = append(*missing, "price_min")
		}
	}
	return score
}

func textLength(p *string) int {
	if p == nil {
		return 0
	}
	return utf8.RuneCountInString(strings.TrimSpace(*p))
}

func hasCategory(categories []string) bool {
	for _, c := range categories {
		if strings.TrimSpace(c) != "" {
			return true
		}
	}
	return false
}
