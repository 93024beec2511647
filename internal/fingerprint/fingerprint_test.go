package fingerprint

import (
	"errors"
	"testing"
	"time"

	"horse.fit/eventmerge/internal/model"
)

func TestNormalizeTitle(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   string
		want string
	}{
		{"  Kinder-Theater:  Der Grüffelo! ", "kindertheater der grüffelo"},
		{"Mom & Me\tYoga", "mom me yoga"},
		{"ＦＵＬＬ　ｗｉｄｔｈ", "full width"},
		{"Straße", "strasse"},
		{"!!!", ""},
	}
	for _, tc := range tests {
		if got := NormalizeTitle(tc.in); got != tc.want {
			t.Fatalf("NormalizeTitle(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestFingerprintStableAcrossFormatting(t *testing.T) {
	t.Parallel()

	lat1, lng1 := 52.52001, 13.40495
	lat2, lng2 := 52.52024, 13.40462

	a, err := Fingerprint("Puppet Show: The Gruffalo", "2026-05-01T10:00:00+02:00", &lat1, &lng1)
	if err != nil {
		t.Fatalf("fingerprint a: %v", err)
	}
	b, err := Fingerprint("puppet show   the gruffalo", "2026-05-01T16:30:00+02:00", &lat2, &lng2)
	if err != nil {
		t.Fatalf("fingerprint b: %v", err)
	}
	if a != b {
		t.Fatalf("expected identical fingerprints, got %s and %s", a, b)
	}
	if len(a) != 32 {
		t.Fatalf("expected 32 hex chars, got %d", len(a))
	}
}

func TestFingerprintDiffersOnDateOrLocation(t *testing.T) {
	t.Parallel()

	lat, lng := 52.520, 13.405
	farLat := 52.530

	base, _ := Fingerprint("Gruffalo", "2026-05-01", &lat, &lng)
	otherDay, _ := Fingerprint("Gruffalo", "2026-05-02", &lat, &lng)
	otherPlace, _ := Fingerprint("Gruffalo", "2026-05-01", &farLat, &lng)
	noCoords, _ := Fingerprint("Gruffalo", "2026-05-01", nil, nil)

	if base == otherDay || base == otherPlace || base == noCoords {
		t.Fatalf("expected distinct fingerprints: %s %s %s %s", base, otherDay, otherPlace, noCoords)
	}
}

func TestFingerprintFailsFast(t *testing.T) {
	t.Parallel()

	if _, err := Fingerprint("Gruffalo", "01.05.2026", nil, nil); !errors.Is(err, ErrInvalidDate) {
		t.Fatalf("expected ErrInvalidDate, got %v", err)
	}
	if _, err := Fingerprint("Gruffalo", "", nil, nil); !errors.Is(err, ErrInvalidDate) {
		t.Fatalf("expected ErrInvalidDate for empty date, got %v", err)
	}
	if _, err := Fingerprint("  ?! ", "2026-05-01", nil, nil); !errors.Is(err, ErrEmptyTitle) {
		t.Fatalf("expected ErrEmptyTitle, got %v", err)
	}
}

func TestFromFieldsMatchesFingerprint(t *testing.T) {
	t.Parallel()

	start := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)
	f := model.Fields{Title: model.Ptr("Gruffalo"), StartAt: &start}
	got, err := FromFields(&f)
	if err != nil {
		t.Fatalf("FromFields: %v", err)
	}
	want, _ := Fingerprint("Gruffalo", "2026-05-01", nil, nil)
	if got != want {
		t.Fatalf("FromFields = %s, want %s", got, want)
	}

	if _, err := FromFields(&model.Fields{Title: model.Ptr("Gruffalo")}); !errors.Is(err, ErrInvalidDate) {
		t.Fatalf("expected missing start to fail, got %v", err)
	}
}

func TestFingerprintSameInstantAcrossOffsets(t *testing.T) {
	t.Parallel()

	utc, err := Fingerprint("Laternenumzug", "2026-11-10T22:30:00Z", nil, nil)
	if err != nil {
		t.Fatalf("Fingerprint: %v", err)
	}
	local, err := Fingerprint("Laternenumzug", "2026-11-11T00:30:00+02:00", nil, nil)
	if err != nil {
		t.Fatalf("Fingerprint: %v", err)
	}
	if utc != local {
		t.Fatalf("same instant in different offsets must fingerprint alike: %s vs %s", utc, local)
	}

	day, err := DateKey("2026-11-11T00:30:00+02:00")
	if err != nil || day != "2026-11-10" {
		t.Fatalf("expected UTC date 2026-11-10, got %q err=%v", day, err)
	}

	start := time.Date(2026, 11, 11, 0, 30, 0, 0, time.FixedZone("CEST", 2*60*60))
	fromFields, err := FromFields(&model.Fields{Title: model.Ptr("Laternenumzug"), StartAt: &start})
	if err != nil || fromFields != utc {
		t.Fatalf("FromFields should match the UTC fingerprint, got %s err=%v", fromFields, err)
	}
}

func TestIdempotencyKey(t *testing.T) {
	t.Parallel()

	k1, err := IdempotencyKey(7, "abc", "2026-05-01T10:00:00Z")
	if err != nil {
		t.Fatalf("IdempotencyKey: %v", err)
	}
	k2, _ := IdempotencyKey(7, "abc", "2026-05-01")
	k3, _ := IdempotencyKey(8, "abc", "2026-05-01")
	if k1 != k2 {
		t.Fatalf("expected date-only equivalence, got %s vs %s", k1, k2)
	}
	if k1 == k3 {
		t.Fatalf("expected source id to change the key")
	}
	if _, err := IdempotencyKey(7, "", "2026-05-01"); err == nil {
		t.Fatalf("expected empty fingerprint to fail")
	}
}
