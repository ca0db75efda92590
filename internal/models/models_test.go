package models

import "testing"

func TestUrgencyForBoundaries(t *testing.T) {
	cases := []struct {
		priority int
		want     UrgencyTier
	}{
		{0, UrgencyLow},
		{24, UrgencyLow},
		{25, UrgencyMedium},
		{49, UrgencyMedium},
		{50, UrgencyHigh},
		{74, UrgencyHigh},
		{75, UrgencyCritical},
		{100, UrgencyCritical},
		{-5, UrgencyLow},
		{150, UrgencyCritical},
	}

	for _, tc := range cases {
		if got := UrgencyFor(tc.priority); got != tc.want {
			t.Fatalf("UrgencyFor(%d) = %s, want %s", tc.priority, got, tc.want)
		}
	}
}

func TestUrgencyForCoversWholeRange(t *testing.T) {
	for p := MinPriority; p <= MaxPriority; p++ {
		var want UrgencyTier
		switch {
		case p < 25:
			want = UrgencyLow
		case p < 50:
			want = UrgencyMedium
		case p < 75:
			want = UrgencyHigh
		default:
			want = UrgencyCritical
		}
		if got := UrgencyFor(p); got != want {
			t.Fatalf("UrgencyFor(%d) = %s, want %s", p, got, want)
		}
	}
}

func TestUrgencyTierColor(t *testing.T) {
	if UrgencyCritical.Color() != "#DC2626" || UrgencyLow.Color() != "#10B981" {
		t.Fatalf("unexpected tier colours")
	}
	if UrgencyTier("bogus").Color() != UrgencyLow.Color() {
		t.Fatalf("unknown tier should render as low")
	}
}

func TestParseStatus(t *testing.T) {
	cases := []struct {
		in      string
		want    Status
		wantErr bool
	}{
		{"Pending", StatusPending, false},
		{" completed ", StatusCompleted, false},
		{"On the Way", StatusOnTheWay, false},
		{"OnTheWay", StatusOnTheWay, false},
		{"accepted", StatusAccepted, false},
		{"lost", "", true},
		{"", "", true},
	}

	for _, tc := range cases {
		got, err := ParseStatus(tc.in)
		if tc.wantErr {
			if err == nil {
				t.Fatalf("ParseStatus(%q) expected error", tc.in)
			}
			continue
		}
		if err != nil || got != tc.want {
			t.Fatalf("ParseStatus(%q) = %q, %v", tc.in, got, err)
		}
	}
}

func TestStatusColorDefaultsToPending(t *testing.T) {
	if Status("Lost").Color() != StatusPending.Color() {
		t.Fatal("unknown status should use pending colour")
	}
	if Status("Lost").Valid() {
		t.Fatal("unknown status should be invalid")
	}
}

func TestRequestPatchApply(t *testing.T) {
	original := DeliveryRequest{
		ID:              "req-1",
		ItemName:        "Chickenjoy",
		DropoffLocation: "Brgy. San Juan",
		Price:           250,
		Priority:        80,
		Status:          StatusPending,
		OwnerID:         "user-1",
	}

	completed := StatusCompleted
	patched := RequestPatch{Status: &completed}.Apply(original)

	if patched.Status != StatusCompleted {
		t.Fatalf("expected status to change, got %s", patched.Status)
	}
	if patched.ItemName != original.ItemName || patched.Price != original.Price || patched.Priority != original.Priority {
		t.Fatalf("expected untouched fields to survive, got %+v", patched)
	}
	if original.Status != StatusPending {
		t.Fatal("apply must not mutate its argument")
	}

	if !(RequestPatch{}).Empty() {
		t.Fatal("zero patch should be empty")
	}
	if (RequestPatch{Status: &completed}).Empty() {
		t.Fatal("patch with status should not be empty")
	}
}
