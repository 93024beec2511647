package merge

import (
	"testing"
	"time"

	"horse.fit/eventmerge/internal/model"
)

func TestPropose_StructuredValuesWin(t *testing.T) {
	t.Parallel()

	start := time.Date(2026, 5, 2, 10, 0, 0, 0, time.UTC)
	aiStart := start.Add(2 * time.Hour)
	c := &model.Candidate{
		Data: model.Fields{StartAt: &start},
		AI: &model.AIPayload{
			Datetime: &model.AIDatetime{StartAt: &aiStart, EndAt: model.Ptr(aiStart.Add(time.Hour)), Confidence: 0.95},
		},
	}

	p := Propose(c, 0)
	if !p.Fields.StartAt.Equal(start) {
		t.Fatalf("structured start_at was replaced: %v", p.Fields.StartAt)
	}
	if p.Fields.EndAt == nil || !p.Fields.EndAt.Equal(aiStart.Add(time.Hour)) {
		t.Fatalf("expected AI end_at to fill the gap, got %v", p.Fields.EndAt)
	}
	if len(p.FromAI) != 1 || p.FromAI[0] != model.FieldEndAt {
		t.Fatalf("unexpected ai fields: %v", p.FromAI)
	}
}

func TestPropose_ConfidenceGating(t *testing.T) {
	t.Parallel()

	c := &model.Candidate{
		AI: &model.AIPayload{
			Confidence:   model.Ptr(0.69),
			AgeMin:       model.Ptr(3),
			SummaryShort: model.Ptr("A cheerful afternoon for small children"),
			Location:     &model.AILocation{City: model.Ptr("Leipzig"), Confidence: 0.7},
			Venue:        &model.AIVenue{Name: model.Ptr("Zoo"), Confidence: 0.5},
			Price:        &model.AIPrice{Type: model.Ptr(model.PriceFree), Confidence: 0.9},
		},
	}

	p := Propose(c, DefaultAIMinConfidence)
	if p.Fields.AgeMin != nil || p.Fields.DescriptionShort != nil {
		t.Fatalf("overall confidence below threshold must not fill age or summary")
	}
	if p.Fields.City == nil || *p.Fields.City != "Leipzig" {
		t.Fatalf("expected city at exactly the threshold to be used")
	}
	if p.Fields.VenueName != nil {
		t.Fatalf("venue below threshold must be ignored")
	}
	if p.Fields.PriceType == nil || *p.Fields.PriceType != model.PriceFree {
		t.Fatalf("expected price type from confident AI price")
	}
}

func TestPropose_OverallConfidenceFields(t *testing.T) {
	t.Parallel()

	c := &model.Candidate{
		Data: model.Fields{DescriptionLong: model.Ptr("Existing long text")},
		AI: &model.AIPayload{
			Confidence:   model.Ptr(0.8),
			AgeMin:       model.Ptr(4),
			AgeMax:       model.Ptr(10),
			AgeRating:    model.Ptr("6+"),
			IsIndoor:     model.Ptr(true),
			SummaryShort: model.Ptr("Short summary"),
			SummaryLong:  model.Ptr("Replacement long text"),
		},
	}

	p := Propose(c, 0)
	if *p.Fields.AgeMin != 4 || *p.Fields.AgeMax != 10 || *p.Fields.AgeRating != "6+" || !*p.Fields.IsIndoor {
		t.Fatalf("expected age and indoor fields from AI, got %+v", p.Fields)
	}
	if *p.Fields.DescriptionShort != "Short summary" {
		t.Fatalf("expected summary_short to fill description_short")
	}
	if *p.Fields.DescriptionLong != "Existing long text" {
		t.Fatalf("structured description_long was replaced")
	}
}

func TestPropose_GeocodeNeedsBothCoordinatesAbsent(t *testing.T) {
	t.Parallel()

	geo := &model.AIGeocode{Lat: 52.52, Lng: 13.405, Confidence: 0.9}

	withLat := Propose(&model.Candidate{Data: model.Fields{Lat: model.Ptr(48.1)}, AI: &model.AIPayload{Geocode: geo}}, 0)
	if withLat.Fields.Lng != nil {
		t.Fatalf("AI lng must not pair with a structured lat")
	}

	bare := Propose(&model.Candidate{AI: &model.AIPayload{Geocode: geo}}, 0)
	if bare.Fields.Lat == nil || bare.Fields.Lng == nil || *bare.Fields.Lat != 52.52 {
		t.Fatalf("expected AI coordinates, got %+v", bare.Fields)
	}
	if !HasConfidentGeocode(&model.AIPayload{Geocode: geo}, 0) {
		t.Fatalf("expected confident geocode")
	}
}

func TestPropose_DoesNotAliasCandidate(t *testing.T) {
	t.Parallel()

	c := &model.Candidate{Data: model.Fields{Title: model.Ptr("Original")}}
	p := Propose(c, 0)
	*p.Fields.Title = "Changed"
	if *c.Data.Title != "Original" {
		t.Fatalf("proposal aliases the candidate data")
	}
}
