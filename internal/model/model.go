package model

import (
	"encoding/json"
	"strings"
	"time"
)

// SourceType identifies the kind of collector that produced a candidate.
type SourceType string

const (
	SourceManual   SourceType = "manual"
	SourcePartner  SourceType = "partner"
	SourceProvider SourceType = "provider"
	SourceAPI      SourceType = "api"
	SourceRSS      SourceType = "rss"
	SourceICS      SourceType = "ics"
	SourceScraper  SourceType = "scraper"
)

func NormalizeSourceType(raw string) SourceType {
	return SourceType(strings.ToLower(strings.TrimSpace(raw)))
}

// Status is the publication state of a canonical event.
type Status string

const (
	StatusRaw           Status = "raw"
	StatusIncomplete    Status = "incomplete"
	StatusPendingAI     Status = "pending_ai"
	StatusPendingReview Status = "pending_review"
	StatusPublished     Status = "published"
	StatusStale         Status = "stale"
	StatusArchived      Status = "archived"
	StatusRejected      Status = "rejected"
)

func (s Status) Valid() bool {
	switch s {
	case StatusRaw, StatusIncomplete, StatusPendingAI, StatusPendingReview,
		StatusPublished, StatusStale, StatusArchived, StatusRejected:
		return true
	default:
		return false
	}
}

type PriceType string

const (
	PriceFree     PriceType = "free"
	PricePaid     PriceType = "paid"
	PriceDonation PriceType = "donation"
	PriceUnknown  PriceType = "unknown"
)

// Candidate is one source's normalized view of one event. Candidates are
// transient: they are produced by a collector and consumed by a single
// processing call.
type Candidate struct {
	SourceType  SourceType      `json:"source_type,omitempty" validate:"omitempty,max=32"`
	SourceURL   string          `json:"source_url,omitempty" validate:"omitempty,url"`
	ExternalID  string          `json:"external_id,omitempty" validate:"omitempty,max=512"`
	Fingerprint string          `json:"fingerprint,omitempty" validate:"omitempty,hexadecimal,len=32"`
	RawHash     string          `json:"raw_hash,omitempty" validate:"omitempty,hexadecimal"`
	ExtractedAt *time.Time      `json:"extracted_at,omitempty"`
	Data        Fields          `json:"data"`
	AI          *AIPayload      `json:"ai,omitempty" validate:"omitempty"`
	Raw         json.RawMessage `json:"raw,omitempty"`
}

// AIPayload carries advisory suggestions from the upstream extraction pass.
// Every value is optional; confidences are in [0,1] and scores in [0,100].
type AIPayload struct {
	Confidence   *float64    `json:"confidence,omitempty" validate:"omitempty,gte=0,lte=1"`
	AgeMin       *int        `json:"age_min,omitempty" validate:"omitempty,gte=0,lte=99"`
	AgeMax       *int        `json:"age_max,omitempty" validate:"omitempty,gte=0,lte=99"`
	AgeRating    *string     `json:"age_rating,omitempty"`
	IsIndoor     *bool       `json:"is_indoor,omitempty"`
	IsOutdoor    *bool       `json:"is_outdoor,omitempty"`
	SummaryShort *string     `json:"summary_short,omitempty"`
	SummaryLong  *string     `json:"summary_long,omitempty"`
	Datetime     *AIDatetime `json:"datetime,omitempty" validate:"omitempty"`
	Location     *AILocation `json:"location,omitempty" validate:"omitempty"`
	Venue        *AIVenue    `json:"venue,omitempty" validate:"omitempty"`
	Price        *AIPrice    `json:"price,omitempty" validate:"omitempty"`
	Scores       *AIScores   `json:"scores,omitempty" validate:"omitempty"`
	Geocode      *AIGeocode  `json:"geocode,omitempty" validate:"omitempty"`
}

type AIDatetime struct {
	StartAt    *time.Time `json:"start_at,omitempty"`
	EndAt      *time.Time `json:"end_at,omitempty"`
	Confidence float64    `json:"confidence" validate:"gte=0,lte=1"`
}

type AILocation struct {
	Address    *string `json:"address,omitempty"`
	City       *string `json:"city,omitempty"`
	Confidence float64 `json:"confidence" validate:"gte=0,lte=1"`
}

type AIVenue struct {
	Name       *string `json:"name,omitempty"`
	Confidence float64 `json:"confidence" validate:"gte=0,lte=1"`
}

type AIPrice struct {
	Type       *PriceType `json:"type,omitempty" validate:"omitempty,oneof=free paid donation unknown"`
	Min        *float64   `json:"min,omitempty" validate:"omitempty,gte=0"`
	Max        *float64   `json:"max,omitempty" validate:"omitempty,gte=0"`
	Confidence float64    `json:"confidence" validate:"gte=0,lte=1"`
}

type AIScores struct {
	Relevance  *float64 `json:"relevance,omitempty" validate:"omitempty,gte=0,lte=100"`
	Quality    *float64 `json:"quality,omitempty" validate:"omitempty,gte=0,lte=100"`
	FamilyFit  *float64 `json:"family_fit,omitempty" validate:"omitempty,gte=0,lte=100"`
	Stressfree *float64 `json:"stressfree,omitempty" validate:"omitempty,gte=0,lte=100"`
}

type AIGeocode struct {
	Lat        float64 `json:"lat" validate:"gte=-90,lte=90"`
	Lng        float64 `json:"lng" validate:"gte=-180,lte=180"`
	Confidence float64 `json:"confidence" validate:"gte=0,lte=1"`
}

// HasScores reports whether the payload carries any classification score.
func (p *AIPayload) HasScores() bool {
	if p == nil || p.Scores == nil {
		return false
	}
	s := p.Scores
	return s.Relevance != nil || s.Quality != nil || s.FamilyFit != nil || s.Stressfree != nil
}
