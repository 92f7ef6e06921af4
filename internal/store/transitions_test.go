package store

import "testing"

func TestValidReminderTransition(t *testing.T) {
	cases := []struct {
		action string
		from   string
		valid  bool
	}{
		{"dispatch", "PENDING", true},
		{"dispatch", "FAILED", false},
		{"dispatch", "SENT", false},
		{"dispatch", "CANCELLED", false},
		{"cancel", "PENDING", true},
		{"cancel", "FAILED", true},
		{"cancel", "SENT", false},
		{"cancel", "CANCELLED", false},
		{"send_now", "PENDING", true},
		{"send_now", "FAILED", true},
		{"send_now", "CANCELLED", true},
		{"send_now", "SENT", false},
		{"unknown", "PENDING", false},
	}

	for _, tt := range cases {
		if got := ValidReminderTransition(tt.action, tt.from); got != tt.valid {
			t.Fatalf("ValidReminderTransition(%q, %q)=%v, want %v", tt.action, tt.from, got, tt.valid)
		}
	}
}
