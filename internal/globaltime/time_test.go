package globaltime

import (
	"testing"
	"time"
)

// Not parallel: the clock is process-global.
func TestFreezeAndReset(t *testing.T) {
	pinned := time.Date(2026, 6, 14, 15, 0, 0, 123456789, time.FixedZone("CEST", 2*3600))
	Freeze(pinned)
	defer Reset()

	got := UTC()
	want := time.Date(2026, 6, 14, 13, 0, 0, 123456000, time.UTC)
	if !got.Equal(want) || got.Location() != time.UTC {
		t.Fatalf("expected %s, got %s", want, got)
	}

	Reset()
	if time.Since(Now()) > time.Minute {
		t.Fatalf("expected wall clock after reset, got %s", Now())
	}
}
