package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/ignite/mailagent/internal/calendar"
	"github.com/ignite/mailagent/internal/handles"
	"github.com/ignite/mailagent/internal/mail"
)

// MeetingTool builds a calendar invite from extracted meeting details and
// stores it in the request's attachment store as invite.ics. The worker
// attaches it to the reply.
type MeetingTool struct{}

// NewMeetingTool creates the tool.
func NewMeetingTool() *MeetingTool { return &MeetingTool{} }

func (t *MeetingTool) Name() string { return handles.ToolMeeting }

func (t *MeetingTool) Description() string {
	return "Create a calendar invite (.ics) for a meeting. Provide the start time " +
		"in RFC 3339 or 'YYYY-MM-DD HH:MM' with an IANA timezone. The invite is " +
		"attached to the reply automatically."
}

func (t *MeetingTool) InputSchema() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"title":       map[string]interface{}{"type": "string", "description": "Meeting title"},
			"start_time":  map[string]interface{}{"type": "string", "description": "Start time"},
			"end_time":    map[string]interface{}{"type": "string", "description": "End time (optional, defaults to start + 1h)"},
			"timezone":    map[string]interface{}{"type": "string", "description": "IANA timezone, e.g. America/New_York"},
			"location":    map[string]interface{}{"type": "string", "description": "Location or meeting link (optional)"},
			"description": map[string]interface{}{"type": "string", "description": "Agenda or notes (optional)"},
			"attendees": map[string]interface{}{
				"type":        "array",
				"items":       map[string]interface{}{"type": "string"},
				"description": "Attendee email addresses",
			},
		},
		"required": []string{"title", "start_time"},
	}
}

type meetingInput struct {
	Title       string   `json:"title"`
	StartTime   string   `json:"start_time"`
	EndTime     string   `json:"end_time"`
	Timezone    string   `json:"timezone"`
	Location    string   `json:"location"`
	Description string   `json:"description"`
	Attendees   []string `json:"attendees"`
}

// Forward builds the ICS and stores it on the request context.
func (t *MeetingTool) Forward(_ context.Context, rctx *mail.RequestContext, input json.RawMessage) (*Output, error) {
	var in meetingInput
	if err := json.Unmarshal(input, &in); err != nil {
		return nil, fmt.Errorf("invalid arguments: %w", err)
	}
	if strings.TrimSpace(in.Title) == "" {
		return nil, fmt.Errorf("title is required")
	}

	loc := time.UTC
	if in.Timezone != "" {
		parsed, err := time.LoadLocation(in.Timezone)
		if err != nil {
			return nil, fmt.Errorf("unknown timezone %q", in.Timezone)
		}
		loc = parsed
	}

	start, err := calendar.ParseEventTime(in.StartTime, loc)
	if err != nil {
		return nil, fmt.Errorf("start_time: %w", err)
	}
	var end time.Time
	if in.EndTime != "" {
		end, err = calendar.ParseEventTime(in.EndTime, loc)
		if err != nil {
			return nil, fmt.Errorf("end_time: %w", err)
		}
	}

	ics := calendar.BuildICS(calendar.Event{
		Title:       in.Title,
		Description: in.Description,
		Location:    in.Location,
		Start:       start,
		End:         end,
		Organizer:   rctx.Request.From,
		Attendees:   in.Attendees,
	})
	rctx.Attachments.PutGenerated(calendar.InviteFilename, calendar.InviteMIMEType, []byte(ics))

	return &Output{
		Content: fmt.Sprintf("Calendar invite created: %q at %s (%d attendee(s)). "+
			"The .ics file is attached to the reply.", in.Title, start.Format(time.RFC1123), len(in.Attendees)),
		Metadata: map[string]interface{}{
			"filename": calendar.InviteFilename,
			"start":    start.UTC().Format(time.RFC3339),
		},
	}, nil
}
