package merge

import "horse.fit/eventmerge/internal/model"

// DefaultAIMinConfidence is the lowest confidence at which an AI suggestion
// may fill a field the structured extraction left empty.
const DefaultAIMinConfidence = 0.7

// Proposal is the field set a candidate offers for merging.
type Proposal struct {
	Fields model.Fields
	// FromAI lists the fields that were filled from AI suggestions.
	FromAI []model.Field
}

// Propose folds gated AI suggestions into the structured candidate data.
// Structured values always win; an AI value is used only for an absent field
// and only when its confidence reaches minConfidence. A non-positive
// minConfidence uses DefaultAIMinConfidence.
func Propose(c *model.Candidate, minConfidence float64) Proposal {
	if minConfidence <= 0 {
		minConfidence = DefaultAIMinConfidence
	}

	p := Proposal{}
	if c == nil {
		return p
	}
	p.Fields = c.Data.Clone()

	ai := c.AI
	if ai == nil {
		return p
	}

	confident := func(v float64) bool { return v >= minConfidence }
	overall := ai.Confidence != nil && confident(*ai.Confidence)

	fill := func(field model.Field, src model.Fields) {
		if p.Fields.Has(field) || !src.Has(field) {
			return
		}
		p.Fields.CopyField(&src, field)
		p.FromAI = append(p.FromAI, field)
	}

	if dt := ai.Datetime; dt != nil && confident(dt.Confidence) {
		src := model.Fields{StartAt: dt.StartAt, EndAt: dt.EndAt}
		fill(model.FieldStartAt, src)
		fill(model.FieldEndAt, src)
	}
	if loc := ai.Location; loc != nil && confident(loc.Confidence) {
		src := model.Fields{Address: loc.Address, City: loc.City}
		fill(model.FieldAddress, src)
		fill(model.FieldCity, src)
	}
	if v := ai.Venue; v != nil && confident(v.Confidence) {
		fill(model.FieldVenueName, model.Fields{VenueName: v.Name})
	}
	if pr := ai.Price; pr != nil && confident(pr.Confidence) {
		src := model.Fields{PriceType: pr.Type, PriceMin: pr.Min, PriceMax: pr.Max}
		fill(model.FieldPriceType, src)
		fill(model.FieldPriceMin, src)
		fill(model.FieldPriceMax, src)
	}
	// Both coordinates or neither.
	if g := ai.Geocode; g != nil && confident(g.Confidence) &&
		!p.Fields.Has(model.FieldLat) && !p.Fields.Has(model.FieldLng) {
		src := model.Fields{Lat: model.Ptr(g.Lat), Lng: model.Ptr(g.Lng)}
		fill(model.FieldLat, src)
		fill(model.FieldLng, src)
	}
	if overall {
		src := model.Fields{
			AgeMin:           ai.AgeMin,
			AgeMax:           ai.AgeMax,
			AgeRating:        ai.AgeRating,
			IsIndoor:         ai.IsIndoor,
			IsOutdoor:        ai.IsOutdoor,
			DescriptionShort: ai.SummaryShort,
			DescriptionLong:  ai.SummaryLong,
		}
		for _, field := range []model.Field{
			model.FieldAgeMin,
			model.FieldAgeMax,
			model.FieldAgeRating,
			model.FieldIsIndoor,
			model.FieldIsOutdoor,
			model.FieldDescriptionShort,
			model.FieldDescriptionLong,
		} {
			fill(field, src)
		}
	}

	return p
}

// HasConfidentGeocode reports whether the AI payload offers coordinates at or
// above minConfidence.
func HasConfidentGeocode(ai *model.AIPayload, minConfidence float64) bool {
	if minConfidence <= 0 {
		minConfidence = DefaultAIMinConfidence
	}
	return ai != nil && ai.Geocode != nil && ai.Geocode.Confidence >= minConfidence
}
