// Package geocode resolves an address to coordinates for events whose
// sources did not supply any.
package geocode

import (
	"context"
	"errors"
	"strings"
)

var (
	ErrNoMatch = errors.New("geocode: no match")
	ErrClosed  = errors.New("geocode: closed")
)

type Query struct {
	Address string
	City    string
}

// Text joins the non-empty parts into a single free-form search string.
func (q Query) Text() string {
	parts := make([]string, 0, 2)
	for _, p := range []string{q.Address, q.City} {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			parts = append(parts, trimmed)
		}
	}
	return strings.Join(parts, ", ")
}

type Result struct {
	Lat        float64
	Lng        float64
	Confidence float64
}

type Geocoder interface {
	Geocode(ctx context.Context, q Query) (Result, error)
}
