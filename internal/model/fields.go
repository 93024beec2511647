package model

import (
	"strings"
	"time"
)

// Field names a mergeable canonical event attribute. The string value doubles
// as the storage column name and the provenance map key.
type Field string

const (
	FieldTitle            Field = "title"
	FieldDescriptionShort Field = "description_short"
	FieldDescriptionLong  Field = "description_long"
	FieldStartAt          Field = "start_at"
	FieldEndAt            Field = "end_at"
	FieldAddress          Field = "address"
	FieldVenueName        Field = "venue_name"
	FieldCity             Field = "city"
	FieldLat              Field = "lat"
	FieldLng              Field = "lng"
	FieldPriceType        Field = "price_type"
	FieldPriceMin         Field = "price_min"
	FieldPriceMax         Field = "price_max"
	FieldAgeMin           Field = "age_min"
	FieldAgeMax           Field = "age_max"
	FieldAgeRating        Field = "age_rating"
	FieldIsIndoor         Field = "is_indoor"
	FieldIsOutdoor        Field = "is_outdoor"
	FieldBookingURL       Field = "booking_url"
	FieldContactEmail     Field = "contact_email"
	FieldContactPhone     Field = "contact_phone"
	FieldImageURLs        Field = "image_urls"
)

// MergeFields lists every field the merge resolver decides on, in the order
// decisions are made and reported.
var MergeFields = []Field{
	FieldTitle,
	FieldDescriptionShort,
	FieldDescriptionLong,
	FieldStartAt,
	FieldEndAt,
	FieldAddress,
	FieldVenueName,
	FieldCity,
	FieldLat,
	FieldLng,
	FieldPriceType,
	FieldPriceMin,
	FieldPriceMax,
	FieldAgeMin,
	FieldAgeMax,
	FieldAgeRating,
	FieldIsIndoor,
	FieldIsOutdoor,
	FieldBookingURL,
	FieldContactEmail,
	FieldContactPhone,
	FieldImageURLs,
}

// Fields is the normalized attribute set shared by candidates and canonical
// events. A nil pointer (or empty slice) means the value is unknown.
type Fields struct {
	Title            *string    `json:"title,omitempty" validate:"omitempty,max=500"`
	DescriptionShort *string    `json:"description_short,omitempty"`
	DescriptionLong  *string    `json:"description_long,omitempty"`
	StartAt          *time.Time `json:"start_at,omitempty"`
	EndAt            *time.Time `json:"end_at,omitempty"`
	Address          *string    `json:"address,omitempty"`
	VenueName        *string    `json:"venue_name,omitempty"`
	City             *string    `json:"city,omitempty"`
	Lat              *float64   `json:"lat,omitempty" validate:"omitempty,gte=-90,lte=90"`
	Lng              *float64   `json:"lng,omitempty" validate:"omitempty,gte=-180,lte=180"`
	PriceType        *PriceType `json:"price_type,omitempty" validate:"omitempty,oneof=free paid donation unknown"`
	PriceMin         *float64   `json:"price_min,omitempty" validate:"omitempty,gte=0"`
	PriceMax         *float64   `json:"price_max,omitempty" validate:"omitempty,gte=0"`
	AgeMin           *int       `json:"age_min,omitempty" validate:"omitempty,gte=0,lte=99"`
	AgeMax           *int       `json:"age_max,omitempty" validate:"omitempty,gte=0,lte=99"`
	AgeRating        *string    `json:"age_rating,omitempty"`
	IsIndoor         *bool      `json:"is_indoor,omitempty"`
	IsOutdoor        *bool      `json:"is_outdoor,omitempty"`
	BookingURL       *string    `json:"booking_url,omitempty" validate:"omitempty,url"`
	ContactEmail     *string    `json:"contact_email,omitempty" validate:"omitempty,email"`
	ContactPhone     *string    `json:"contact_phone,omitempty"`
	ImageURLs        []string   `json:"image_urls,omitempty" validate:"omitempty,dive,url"`
	Categories       []string   `json:"categories,omitempty" validate:"omitempty,dive,min=1,max=64"`
}

type fieldAccessor struct {
	get  func(*Fields) any
	copy func(dst, src *Fields)
}

var fieldAccessors = map[Field]fieldAccessor{
	FieldTitle: {
		get:  func(f *Fields) any { return derefText(f.Title) },
		copy: func(d, s *Fields) { d.Title = clonePtr(s.Title) },
	},
	FieldDescriptionShort: {
		get:  func(f *Fields) any { return derefText(f.DescriptionShort) },
		copy: func(d, s *Fields) { d.DescriptionShort = clonePtr(s.DescriptionShort) },
	},
	FieldDescriptionLong: {
		get:  func(f *Fields) any { return derefText(f.DescriptionLong) },
		copy: func(d, s *Fields) { d.DescriptionLong = clonePtr(s.DescriptionLong) },
	},
	FieldStartAt: {
		get:  func(f *Fields) any { return derefTime(f.StartAt) },
		copy: func(d, s *Fields) { d.StartAt = clonePtr(s.StartAt) },
	},
	FieldEndAt: {
		get:  func(f *Fields) any { return derefTime(f.EndAt) },
		copy: func(d, s *Fields) { d.EndAt = clonePtr(s.EndAt) },
	},
	FieldAddress: {
		get:  func(f *Fields) any { return derefText(f.Address) },
		copy: func(d, s *Fields) { d.Address = clonePtr(s.Address) },
	},
	FieldVenueName: {
		get:  func(f *Fields) any { return derefText(f.VenueName) },
		copy: func(d, s *Fields) { d.VenueName = clonePtr(s.VenueName) },
	},
	FieldCity: {
		get:  func(f *Fields) any { return derefText(f.City) },
		copy: func(d, s *Fields) { d.City = clonePtr(s.City) },
	},
	FieldLat: {
		get:  func(f *Fields) any { return deref(f.Lat) },
		copy: func(d, s *Fields) { d.Lat = clonePtr(s.Lat) },
	},
	FieldLng: {
		get:  func(f *Fields) any { return deref(f.Lng) },
		copy: func(d, s *Fields) { d.Lng = clonePtr(s.Lng) },
	},
	FieldPriceType: {
		get: func(f *Fields) any {
			if f.PriceType == nil || strings.TrimSpace(string(*f.PriceType)) == "" {
				return nil
			}
			return string(*f.PriceType)
		},
		copy: func(d, s *Fields) { d.PriceType = clonePtr(s.PriceType) },
	},
	FieldPriceMin: {
		get:  func(f *Fields) any { return deref(f.PriceMin) },
		copy: func(d, s *Fields) { d.PriceMin = clonePtr(s.PriceMin) },
	},
	FieldPriceMax: {
		get:  func(f *Fields) any { return deref(f.PriceMax) },
		copy: func(d, s *Fields) { d.PriceMax = clonePtr(s.PriceMax) },
	},
	FieldAgeMin: {
		get:  func(f *Fields) any { return deref(f.AgeMin) },
		copy: func(d, s *Fields) { d.AgeMin = clonePtr(s.AgeMin) },
	},
	FieldAgeMax: {
		get:  func(f *Fields) any { return deref(f.AgeMax) },
		copy: func(d, s *Fields) { d.AgeMax = clonePtr(s.AgeMax) },
	},
	FieldAgeRating: {
		get:  func(f *Fields) any { return derefText(f.AgeRating) },
		copy: func(d, s *Fields) { d.AgeRating = clonePtr(s.AgeRating) },
	},
	FieldIsIndoor: {
		get:  func(f *Fields) any { return deref(f.IsIndoor) },
		copy: func(d, s *Fields) { d.IsIndoor = clonePtr(s.IsIndoor) },
	},
	FieldIsOutdoor: {
		get:  func(f *Fields) any { return deref(f.IsOutdoor) },
		copy: func(d, s *Fields) { d.IsOutdoor = clonePtr(s.IsOutdoor) },
	},
	FieldBookingURL: {
		get:  func(f *Fields) any { return derefText(f.BookingURL) },
		copy: func(d, s *Fields) { d.BookingURL = clonePtr(s.BookingURL) },
	},
	FieldContactEmail: {
		get:  func(f *Fields) any { return derefText(f.ContactEmail) },
		copy: func(d, s *Fields) { d.ContactEmail = clonePtr(s.ContactEmail) },
	},
	FieldContactPhone: {
		get:  func(f *Fields) any { return derefText(f.ContactPhone) },
		copy: func(d, s *Fields) { d.ContactPhone = clonePtr(s.ContactPhone) },
	},
	FieldImageURLs: {
		get: func(f *Fields) any {
			if len(f.ImageURLs) == 0 {
				return nil
			}
			return append([]string(nil), f.ImageURLs...)
		},
		copy: func(d, s *Fields) {
			if len(s.ImageURLs) == 0 {
				d.ImageURLs = nil
				return
			}
			d.ImageURLs = append([]string(nil), s.ImageURLs...)
		},
	},
}

// Value returns the plain value stored for field, or nil when it is unset.
// Blank strings and empty lists count as unset.
func (f *Fields) Value(field Field) any {
	if f == nil {
		return nil
	}
	acc, ok := fieldAccessors[field]
	if !ok {
		return nil
	}
	return acc.get(f)
}

// CopyField overwrites field on f with the value held by src.
func (f *Fields) CopyField(src *Fields, field Field) {
	if f == nil || src == nil {
		return
	}
	if acc, ok := fieldAccessors[field]; ok {
		acc.copy(f, src)
	}
}

// Has reports whether field carries a value.
func (f *Fields) Has(field Field) bool {
	return f.Value(field) != nil
}

// Clone returns a deep copy.
func (f Fields) Clone() Fields {
	var out Fields
	for _, field := range MergeFields {
		out.CopyField(&f, field)
	}
	if len(f.Categories) > 0 {
		out.Categories = append([]string(nil), f.Categories...)
	}
	return out
}

// IsKnownField reports whether name is one of MergeFields.
func IsKnownField(name string) bool {
	_, ok := fieldAccessors[Field(name)]
	return ok
}

func deref[T any](p *T) any {
	if p == nil {
		return nil
	}
	return *p
}

func derefText(p *string) any {
	if p == nil {
		return nil
	}
	trimmed := strings.TrimSpace(*p)
	if trimmed == "" {
		return nil
	}
	return trimmed
}

func derefTime(p *time.Time) any {
	if p == nil || p.IsZero() {
		return nil
	}
	// Storage keeps microsecond precision.
	return p.UTC().Truncate(time.Microsecond)
}

func clonePtr[T any](p *T) *T {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

// Ptr returns a pointer to v.
func Ptr[T any](v T) *T {
	return &v
}
