package calendar

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// InviteFilename and InviteMIMEType are fixed by the delivery contract:
// meeting replies always attach "invite.ics" as text/calendar.
const (
	InviteFilename = "invite.ics"
	InviteMIMEType = "text/calendar"
)

// Event describes a single meeting to render as a VEVENT.
type Event struct {
	Title       string
	Description string
	Location    string
	Start       time.Time
	End         time.Time
	Organizer   string
	Attendees   []string
}

// BuildICS renders an RFC 5545 calendar with one VEVENT. Times are emitted
// in UTC; a zero End defaults to Start+1h.
func BuildICS(ev Event) string {
	end := ev.End
	if end.IsZero() || !end.After(ev.Start) {
		end = ev.Start.Add(time.Hour)
	}

	var sb strings.Builder
	writeLine(&sb, "BEGIN:VCALENDAR")
	writeLine(&sb, "VERSION:2.0")
	writeLine(&sb, "PRODID:-//mailagent//EN")
	writeLine(&sb, "METHOD:REQUEST")
	writeLine(&sb, "BEGIN:VEVENT")
	writeLine(&sb, "UID:"+uuid.New().String()+"@mailagent")
	writeLine(&sb, "DTSTAMP:"+formatUTC(time.Now()))
	writeLine(&sb, "DTSTART:"+formatUTC(ev.Start))
	writeLine(&sb, "DTEND:"+formatUTC(end))
	writeLine(&sb, "SUMMARY:"+escapeText(ev.Title))
	if ev.Description != "" {
		writeLine(&sb, "DESCRIPTION:"+escapeText(ev.Description))
	}
	if ev.Location != "" {
		writeLine(&sb, "LOCATION:"+escapeText(ev.Location))
	}
	if ev.Organizer != "" {
		writeLine(&sb, "ORGANIZER;CN="+ev.Organizer+":mailto:"+ev.Organizer)
	}
	for _, a := range ev.Attendees {
		writeLine(&sb, "ATTENDEE;ROLE=REQ-PARTICIPANT;RSVP=TRUE:mailto:"+a)
	}
	writeLine(&sb, "END:VEVENT")
	writeLine(&sb, "END:VCALENDAR")
	return sb.String()
}

func formatUTC(t time.Time) string {
	return t.UTC().Format("20060102T150405Z")
}

// escapeText escapes per RFC 5545 §3.3.11.
func escapeText(s string) string {
	r := strings.NewReplacer("\\", "\\\\", ";", "\\;", ",", "\\,", "\n", "\\n")
	return r.Replace(s)
}

// writeLine folds content lines at 75 octets with CRLF + space continuation.
func writeLine(sb *strings.Builder, line string) {
	const limit = 75
	for len(line) > limit {
		sb.WriteString(line[:limit])
		sb.WriteString("\r\n ")
		line = line[limit:]
	}
	sb.WriteString(line)
	sb.WriteString("\r\n")
}

// ParseEventTime parses the time formats the meeting extraction emits:
// RFC 3339 first, then a handful of human layouts interpreted in loc.
func ParseEventTime(value string, loc *time.Location) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, value); err == nil {
		return t, nil
	}
	if loc == nil {
		loc = time.UTC
	}
	layouts := []string{
		"2006-01-02 15:04",
		"2006-01-02T15:04",
		"Jan 2 2006 15:04",
		"January 2 2006 15:04",
	}
	for _, layout := range layouts {
		if t, err := time.ParseInLocation(layout, value, loc); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized event time %q", value)
}
