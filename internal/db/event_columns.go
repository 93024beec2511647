package db

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"horse.fit/eventmerge/internal/model"
)

// fieldColumns are the catalog.events columns backing model.MergeFields, in
// the same order.
var fieldColumns = func() []string {
	cols := make([]string, len(model.MergeFields))
	for i, f := range model.MergeFields {
		cols[i] = string(f)
	}
	return cols
}()

// columnArg converts a field value into a query argument. Blank text and
// empty lists are stored as NULL.
func columnArg(f *model.Fields, field model.Field) (any, error) {
	v := f.Value(field)
	if v == nil {
		return nil, nil
	}
	if field == model.FieldImageURLs {
		raw, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("encode %s: %w", field, err)
		}
		return string(raw), nil
	}
	return v, nil
}

// columnPlaceholder casts jsonb parameters so the driver can send them as
// text.
func columnPlaceholder(field model.Field, n int) string {
	if field == model.FieldImageURLs {
		return "$" + strconv.Itoa(n) + "::jsonb"
	}
	return "$" + strconv.Itoa(n)
}

// eventScan holds the scan targets of one catalog.events row.
type eventScan struct {
	fields          model.Fields
	priceType       *string
	imageURLs       []byte
	statusFlags     []byte
	fieldProvenance []byte
	fieldUpdatedAt  []byte
	lockedFields    []byte
}

func (s *eventScan) fieldTargets() []any {
	f := &s.fields
	return []any{
		&f.Title,
		&f.DescriptionShort,
		&f.DescriptionLong,
		&f.StartAt,
		&f.EndAt,
		&f.Address,
		&f.VenueName,
		&f.City,
		&f.Lat,
		&f.Lng,
		&s.priceType,
		&f.PriceMin,
		&f.PriceMax,
		&f.AgeMin,
		&f.AgeMax,
		&f.AgeRating,
		&f.IsIndoor,
		&f.IsOutdoor,
		&f.BookingURL,
		&f.ContactEmail,
		&f.ContactPhone,
		&s.imageURLs,
	}
}

func (s *eventScan) finish() (model.Fields, error) {
	f := s.fields
	if s.priceType != nil {
		pt := model.PriceType(*s.priceType)
		f.PriceType = &pt
	}
	if len(s.imageURLs) > 0 {
		if err := json.Unmarshal(s.imageURLs, &f.ImageURLs); err != nil {
			return model.Fields{}, fmt.Errorf("decode image_urls: %w", err)
		}
	}
	if f.StartAt != nil {
		t := f.StartAt.UTC()
		f.StartAt = &t
	}
	if f.EndAt != nil {
		t := f.EndAt.UTC()
		f.EndAt = &t
	}
	return f, nil
}

func jsonArg(v any) (string, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(raw), nil
}

func nullableJSON(raw json.RawMessage) any {
	if len(raw) == 0 {
		return nil
	}
	return string(raw)
}

func nullableText(s string) any {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	return s
}
