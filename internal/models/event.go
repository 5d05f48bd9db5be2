package models

import (
	"strings"
	"time"
)

// ImportMarker prefixes the origin note of events created by the
// reconciliation engine from remote calendar entries. Records carrying it
// are hidden from the "created by me" list but still appear on the unified
// timeline.
const ImportMarker = "Imported from Google Calendar"

// Event is the local durable representation of one calendar event.
type Event struct {
	ID           int64
	User         string
	Title        string
	Description  string
	Location     string
	Start        time.Time
	End          time.Time
	OriginalText string

	// Remote calendar link. RemoteID non-empty implies Synced.
	RemoteID string
	Synced   bool

	ColorID     string // Google Calendar color ID ("1".."11"), may be empty
	GuestEmails string // comma-separated guest email addresses

	Latitude  *float64
	Longitude *float64

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Imported reports whether this record was created by the import pass
// rather than by the user.
func (e *Event) Imported() bool {
	return strings.HasPrefix(e.OriginalText, ImportMarker)
}

// Attendees splits the comma-separated guest email string, trimming
// whitespace and dropping empty entries.
func (e *Event) Attendees() []string {
	if e.GuestEmails == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(e.GuestEmails, ",") {
		if email := strings.TrimSpace(part); email != "" {
			out = append(out, email)
		}
	}
	return out
}

// RemoteEvent is a read-only snapshot of one event on the remote calendar,
// already normalized to concrete start/end instants.
type RemoteEvent struct {
	ID          string
	Title       string
	Description string
	Location    string
	Start       time.Time
	End         time.Time
	ColorID     string
	Attendees   []string
}

// TimelineEntry is one row of the unified display timeline. It is derived
// on every reconciliation pass and never persisted.
type TimelineEntry struct {
	Title       string
	Description string
	Location    string
	Start       time.Time
	End         time.Time
	FromRemote  bool
	LocalID     int64 // 0 for remote-only entries
	Color       string
}

// DefaultColor is used when an event has no color ID or an unrecognized one.
const DefaultColor = "#4285f4"

// colorPalette maps Google Calendar color IDs to hex colors.
var colorPalette = map[string]string{
	"1":  "#a4bdfc", // Lavender
	"2":  "#7ae7bf", // Sage
	"3":  "#dbadff", // Grape
	"4":  "#ff887c", // Flamingo
	"5":  "#fbd75b", // Banana
	"6":  "#ffb878", // Tangerine
	"7":  "#46d6db", // Peacock
	"8":  "#e1e1e1", // Graphite
	"9":  "#5484ed", // Blueberry
	"10": "#51b749", // Basil
	"11": "#dc2127", // Tomato
}

// ColorForID resolves a Google Calendar color ID to a hex color, falling
// back to DefaultColor for empty or unknown IDs.
func ColorForID(colorID string) string {
	if c, ok := colorPalette[colorID]; ok {
		return c
	}
	return DefaultColor
}
