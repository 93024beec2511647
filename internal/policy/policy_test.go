package policy

import (
	"reflect"
	"testing"

	"horse.fit/eventmerge/internal/model"
)

func ptr[T any](v T) *T { return &v }

func TestDecide_PublishesCompleteFamilyEvent(t *testing.T) {
	t.Parallel()

	th := DefaultThresholds()
	base := Input{
		CompletenessScore: 80,
		FamilyFit:         ptr(55.0),
		Confidence:        ptr(0.8),
		BookingURL:        ptr("https://example.org/tickets"),
	}

	got := Decide(base, th)
	if got.Status != model.StatusPublished || !reflect.DeepEqual(got.Flags, []Flag{FlagAutoPublished}) {
		t.Fatalf("expected published/auto_published, got %+v", got)
	}

	noBooking := base
	noBooking.BookingURL = nil
	got = Decide(noBooking, th)
	if got.Status != model.StatusPendingReview || !reflect.DeepEqual(got.Flags, []Flag{FlagNoBookingURL}) {
		t.Fatalf("expected pending_review/no_booking_url, got %+v", got)
	}

	restricted := base
	restricted.AgeRating = ptr("16+")
	got = Decide(restricted, th)
	if got.Status != model.StatusRejected {
		t.Fatalf("expected rejected for 16+, got %+v", got)
	}
}

func TestDecide_Order(t *testing.T) {
	t.Parallel()

	th := DefaultThresholds()
	cases := []struct {
		name   string
		in     Input
		status model.Status
		flags  []Flag
	}{
		{
			name:   "age rating beats incompleteness",
			in:     Input{CompletenessScore: 10, AgeRating: ptr("18+")},
			status: model.StatusRejected,
			flags:  []Flag{FlagAgeRestricted},
		},
		{
			name:   "incomplete",
			in:     Input{CompletenessScore: 49, FamilyFit: ptr(90.0), Confidence: ptr(0.99)},
			status: model.StatusIncomplete,
			flags:  []Flag{FlagIncomplete},
		},
		{
			name:   "missing confidence",
			in:     Input{CompletenessScore: 50, FamilyFit: ptr(90.0)},
			status: model.StatusPendingReview,
			flags:  []Flag{FlagNoAIScores},
		},
		{
			name:   "confident low family fit",
			in:     Input{CompletenessScore: 90, FamilyFit: ptr(29.0), Confidence: ptr(0.8)},
			status: model.StatusRejected,
			flags:  []Flag{FlagLowFamilyFit},
		},
		{
			name:   "unsure low family fit falls back to review",
			in:     Input{CompletenessScore: 90, FamilyFit: ptr(20.0), Confidence: ptr(0.79), BookingURL: ptr("x")},
			status: model.StatusPendingReview,
			flags:  nil,
		},
		{
			name:   "soft flags combine",
			in:     Input{CompletenessScore: 90, FamilyFit: ptr(40.0), Confidence: ptr(0.6)},
			status: model.StatusPendingReview,
			flags:  []Flag{FlagLowConfidence, FlagBorderlineFamilyFit, FlagNoBookingURL},
		},
		{
			name:   "publish boundaries are inclusive",
			in:     Input{CompletenessScore: 50, FamilyFit: ptr(50.0), Confidence: ptr(0.75), BookingURL: ptr("x")},
			status: model.StatusPublished,
			flags:  []Flag{FlagAutoPublished},
		},
		{
			name:   "unlisted age rating is ignored",
			in:     Input{CompletenessScore: 80, FamilyFit: ptr(80.0), Confidence: ptr(0.9), AgeRating: ptr("12+"), BookingURL: ptr("x")},
			status: model.StatusPublished,
			flags:  []Flag{FlagAutoPublished},
		},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			got := Decide(tc.in, th)
			if got.Status != tc.status {
				t.Fatalf("status: got %s want %s", got.Status, tc.status)
			}
			if len(got.Flags) != len(tc.flags) || (len(tc.flags) > 0 && !reflect.DeepEqual(got.Flags, tc.flags)) {
				t.Fatalf("flags: got %v want %v", got.Flags, tc.flags)
			}
			if got.Reason == "" {
				t.Fatalf("expected a reason")
			}
		})
	}
}

func TestDecide_IsDeterministic(t *testing.T) {
	t.Parallel()

	in := Input{CompletenessScore: 75, FamilyFit: ptr(45.0), Confidence: ptr(0.77), AgeRating: ptr("6+")}
	first := Decide(in, DefaultThresholds())
	for i := 0; i < 10; i++ {
		if got := Decide(in, DefaultThresholds()); !reflect.DeepEqual(got, first) {
			t.Fatalf("decision changed between calls: %+v vs %+v", got, first)
		}
	}
}

func TestDecide_CustomThresholds(t *testing.T) {
	t.Parallel()

	th := DefaultThresholds()
	th.PublishFamilyFitMin = 70
	th.RejectedAgeRatings = []string{"12+"}

	in := Input{CompletenessScore: 80, FamilyFit: ptr(60.0), Confidence: ptr(0.9), BookingURL: ptr("x")}
	if got := Decide(in, th); got.Status != model.StatusPendingReview {
		t.Fatalf("expected borderline with raised publish threshold, got %+v", got)
	}
	in.AgeRating = ptr("12+")
	if got := Decide(in, th); got.Status != model.StatusRejected {
		t.Fatalf("expected configured rating to reject, got %+v", got)
	}
}

func TestInputFor_PrefersMergedAgeRating(t *testing.T) {
	t.Parallel()

	fields := &model.Fields{AgeRating: ptr("6+"), BookingURL: ptr("https://example.org")}
	ai := &model.AIPayload{
		Confidence: ptr(0.9),
		AgeRating:  ptr("18+"),
		Scores:     &model.AIScores{FamilyFit: ptr(70.0)},
	}
	in := InputFor(88, fields, ai)
	if *in.AgeRating != "6+" || *in.FamilyFit != 70 || *in.Confidence != 0.9 || in.CompletenessScore != 88 {
		t.Fatalf("unexpected input: %+v", in)
	}
}
