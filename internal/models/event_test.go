package models

import "testing"

func TestColorForID(t *testing.T) {
	cases := []struct {
		id   string
		want string
	}{
		{"1", "#a4bdfc"},
		{"5", "#fbd75b"},
		{"9", "#5484ed"},
		{"11", "#dc2127"},
		{"", DefaultColor},
		{"12", DefaultColor},
		{"blueberry", DefaultColor},
	}
	for _, tc := range cases {
		if got := ColorForID(tc.id); got != tc.want {
			t.Errorf("ColorForID(%q) = %q, want %q", tc.id, got, tc.want)
		}
	}
}

func TestImported(t *testing.T) {
	own := &Event{OriginalText: "dinner with Roberto at 7pm"}
	if own.Imported() {
		t.Error("user-created event reported as imported")
	}
	imported := &Event{OriginalText: ImportMarker + ": Standup"}
	if !imported.Imported() {
		t.Error("imported event not detected")
	}
}

func TestAttendees(t *testing.T) {
	cases := []struct {
		in   string
		want int
	}{
		{"", 0},
		{"a@example.com", 1},
		{"a@example.com, b@example.com", 2},
		{" a@example.com ,, b@example.com ", 2},
	}
	for _, tc := range cases {
		ev := &Event{GuestEmails: tc.in}
		if got := ev.Attendees(); len(got) != tc.want {
			t.Errorf("Attendees(%q) = %v, want %d entries", tc.in, got, tc.want)
		}
	}
	ev := &Event{GuestEmails: " a@example.com , b@example.com"}
	got := ev.Attendees()
	if got[0] != "a@example.com" || got[1] != "b@example.com" {
		t.Errorf("Attendees not trimmed: %v", got)
	}
}
