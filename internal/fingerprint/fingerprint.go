// Package fingerprint derives the coarse content hash used to recognize the
// same real-world event across sources, and the idempotency key used to
// recognize exact repeat submissions.
//
// Both are pure functions. The fingerprint is deliberately coarse: title,
// calendar date and a ~100 m location cell. Two sources that disagree on any
// of those produce different fingerprints and are never merged.
package fingerprint

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"

	"horse.fit/eventmerge/internal/model"
)

const (
	hashLength     = 32
	coordPrecision = 3
	dateLayout     = "2006-01-02"
)

var (
	ErrInvalidDate = errors.New("invalid start date")
	ErrEmptyTitle  = errors.New("title is empty after normalization")
)

var startLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	dateLayout,
}

// Fingerprint hashes the normalized title, the date-only part of startDate
// and the coordinates rounded to three decimals.
func Fingerprint(title, startDate string, lat, lng *float64) (string, error) {
	normalizedTitle := NormalizeTitle(title)
	if normalizedTitle == "" {
		return "", ErrEmptyTitle
	}
	day, err := DateKey(startDate)
	if err != nil {
		return "", err
	}
	return hashParts(normalizedTitle, day, formatCoord(lat), formatCoord(lng)), nil
}

// FromFields computes the fingerprint of a normalized field set.
func FromFields(f *model.Fields) (string, error) {
	if f == nil {
		return "", ErrEmptyTitle
	}
	title := ""
	if f.Title != nil {
		title = *f.Title
	}
	if f.StartAt == nil || f.StartAt.IsZero() {
		return "", fmt.Errorf("%w: start_at is missing", ErrInvalidDate)
	}
	return Fingerprint(title, f.StartAt.UTC().Format(time.RFC3339), f.Lat, f.Lng)
}

// IdempotencyKey hashes (source, fingerprint, date) with the same scheme as
// Fingerprint.
func IdempotencyKey(sourceID int64, fingerprint, startDate string) (string, error) {
	fp := strings.TrimSpace(fingerprint)
	if fp == "" {
		return "", fmt.Errorf("fingerprint is required")
	}
	day, err := DateKey(startDate)
	if err != nil {
		return "", err
	}
	return hashParts(strconv.FormatInt(sourceID, 10), fp, day), nil
}

// DateKey returns the UTC calendar date of raw. Timestamps without an offset
// are read as UTC.
func DateKey(raw string) (string, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return "", fmt.Errorf("%w: empty value", ErrInvalidDate)
	}
	for _, layout := range startLayouts {
		if ts, err := time.Parse(layout, trimmed); err == nil {
			return ts.UTC().Format(dateLayout), nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidDate, trimmed)
}

// NormalizeTitle folds case, drops punctuation and symbols and collapses
// whitespace.
func NormalizeTitle(title string) string {
	folded := cases.Fold().String(norm.NFKC.String(title))

	var b strings.Builder
	b.Grow(len(folded))
	lastSpace := true
	for _, r := range folded {
		switch {
		case unicode.IsSpace(r):
			if !lastSpace {
				b.WriteRune(' ')
				lastSpace = true
			}
		case unicode.IsPunct(r), unicode.IsSymbol(r), unicode.IsControl(r):
			continue
		default:
			b.WriteRune(r)
			lastSpace = false
		}
	}
	return strings.TrimSpace(b.String())
}

func formatCoord(v *float64) string {
	if v == nil {
		return ""
	}
	return strconv.FormatFloat(*v, 'f', coordPrecision, 64)
}

func hashParts(parts ...string) string {
	sum := sha256.Sum256([]byte(strings.Join(parts, "|")))
	return hex.EncodeToString(sum[:])[:hashLength]
}
