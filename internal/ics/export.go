// Package ics exports local events as an iCalendar stream.
package ics

import (
	"fmt"
	"io"
	"time"

	"github.com/emersion/go-ical"
	"github.com/google/uuid"

	"eventra/internal/models"
)

// Export encodes the events as VEVENTs in one VCALENDAR. Events synced to
// the remote calendar keep their remote identifier as UID so re-imports
// stay stable; everything else gets a fresh one.
func Export(w io.Writer, events []*models.Event) error {
	cal := ical.NewCalendar()
	cal.Props.SetText(ical.PropVersion, "2.0")
	cal.Props.SetText(ical.PropProductID, "-//eventra//EN")

	for _, ev := range events {
		cal.Children = append(cal.Children, toComponent(ev))
	}

	if err := ical.NewEncoder(w).Encode(cal); err != nil {
		return fmt.Errorf("encode calendar: %w", err)
	}
	return nil
}

func toComponent(ev *models.Event) *ical.Component {
	ve := ical.NewComponent(ical.CompEvent)
	ve.Props.SetText(ical.PropUID, eventUID(ev))
	ve.Props.SetText(ical.PropSummary, ev.Title)
	ve.Props.SetDateTime(ical.PropDateTimeStamp, time.Now().UTC())
	ve.Props.SetDateTime(ical.PropDateTimeStart, ev.Start)
	ve.Props.SetDateTime(ical.PropDateTimeEnd, ev.End)

	if ev.Description != "" {
		ve.Props.SetText(ical.PropDescription, ev.Description)
	}
	if ev.Location != "" {
		ve.Props.SetText(ical.PropLocation, ev.Location)
	}
	for _, attendee := range ev.Attendees() {
		p := ical.NewProp(ical.PropAttendee)
		p.SetText("mailto:" + attendee)
		ve.Props.Add(p)
	}
	return ve
}

func eventUID(ev *models.Event) string {
	if ev.RemoteID != "" {
		return ev.RemoteID
	}
	return uuid.New().String()
}
