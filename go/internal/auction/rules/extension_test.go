package rules

import (
	"testing"
	"time"
)

func TestExtendDeadline(t *testing.T) {
	deadline := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	fr := FormatRules{ExtensionThreshold: 15 * time.Second, ExtensionWindow: 30 * time.Second}

	tests := []struct {
		name     string
		now      time.Time
		want     time.Time
		extended bool
	}{
		{"inside threshold", deadline.Add(-5 * time.Second), deadline.Add(25 * time.Second), true},
		{"at threshold edge", deadline.Add(-15 * time.Second), deadline.Add(15 * time.Second), true},
		{"outside threshold", deadline.Add(-60 * time.Second), deadline, false},
		{"after deadline", deadline.Add(time.Second), deadline, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, extended := ExtendDeadline(deadline, tt.now, fr)
			if extended != tt.extended || !got.Equal(tt.want) {
				t.Fatalf("ExtendDeadline = (%s, %v), want (%s, %v)", got, extended, tt.want, tt.extended)
			}
		})
	}
}

func TestExtendDeadlineNeverShortens(t *testing.T) {
	deadline := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	fr := FormatRules{ExtensionThreshold: 15 * time.Second, ExtensionWindow: 5 * time.Second}

	got, extended := ExtendDeadline(deadline, deadline.Add(-10*time.Second), fr)
	if extended || !got.Equal(deadline) {
		t.Fatalf("window shorter than remaining time must leave deadline alone, got %s", got)
	}
}
