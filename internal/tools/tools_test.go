package tools

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ignite/mailagent/internal/calendar"
	"github.com/ignite/mailagent/internal/handles"
	"github.com/ignite/mailagent/internal/mail"
	"github.com/ignite/mailagent/internal/schedule"
)

func testRequestContext() *mail.RequestContext {
	return mail.NewRequestContext(&mail.EmailRequest{
		From: "user@gmail.com",
		To:   "meeting@service.io",
	})
}

func TestRegistryDefsIntersection(t *testing.T) {
	r := NewRegistry()
	r.Register(NewMeetingTool())

	// Allowed names without a registered implementation are silently omitted.
	defs := r.Defs(map[string]bool{
		handles.ToolMeeting:   true,
		handles.ToolWebSearch: true,
	})
	require.Len(t, defs, 1)
	assert.Equal(t, handles.ToolMeeting, defs[0].Function.Name)
	assert.Equal(t, "function", defs[0].Type)

	// Registered but not allowed is omitted too.
	assert.Empty(t, r.Defs(map[string]bool{handles.ToolWebSearch: true}))
}

func TestRegistryDispatchUnknownTool(t *testing.T) {
	r := NewRegistry()
	_, _, err := r.Dispatch(context.Background(), testRequestContext(), "no_such_tool", "{}")
	var toolErr *mail.ToolError
	require.True(t, errors.As(err, &toolErr))
	assert.Equal(t, "no_such_tool", toolErr.Tool)
}

func TestRegistryDispatchSerializesOutput(t *testing.T) {
	r := NewRegistry()
	r.Register(NewMeetingTool())
	rctx := testRequestContext()

	args := `{"title": "Standup", "start_time": "2026-09-01T09:00:00Z"}`
	raw, out, err := r.Dispatch(context.Background(), rctx, handles.ToolMeeting, args)
	require.NoError(t, err)
	require.NotNil(t, out)
	assert.Contains(t, out.Content, "Standup")

	var decoded Output
	require.NoError(t, json.Unmarshal([]byte(raw), &decoded))
	assert.Equal(t, out.Content, decoded.Content)
}

func TestMeetingToolStoresInvite(t *testing.T) {
	tool := NewMeetingTool()
	rctx := testRequestContext()

	out, err := tool.Forward(context.Background(), rctx, json.RawMessage(`{
		"title": "Design review",
		"start_time": "2026-09-01 14:00",
		"timezone": "America/New_York",
		"attendees": ["a@b.com", "c@d.com"]
	}`))
	require.NoError(t, err)
	assert.Contains(t, out.Content, "Design review")

	stored := rctx.Attachments.Get(calendar.InviteFilename)
	require.NotNil(t, stored)
	assert.True(t, stored.Generated)
	assert.Equal(t, calendar.InviteMIMEType, stored.ContentType)
	ics := string(stored.Content)
	assert.Contains(t, ics, "SUMMARY:Design review")
	// 14:00 New York in September is 18:00 UTC.
	assert.Contains(t, ics, "DTSTART:20260901T180000Z")
	assert.Contains(t, ics, "ATTENDEE")
}

func TestMeetingToolRejects(t *testing.T) {
	tool := NewMeetingTool()
	rctx := testRequestContext()

	tests := []struct {
		name, args string
	}{
		{"missing title", `{"start_time": "2026-09-01T09:00:00Z"}`},
		{"bad start time", `{"title": "x", "start_time": "whenever"}`},
		{"unknown timezone", `{"title": "x", "start_time": "2026-09-01 09:00", "timezone": "Mars/Olympus"}`},
		{"malformed json", `{`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tool.Forward(context.Background(), rctx, json.RawMessage(tt.args))
			assert.Error(t, err)
		})
	}
}

func TestAttachmentToolReadsAll(t *testing.T) {
	tool := NewAttachmentTool()
	rctx := testRequestContext()
	rctx.Attachments.Put("notes.txt", "text/plain", []byte("quarterly numbers"))
	rctx.Attachments.Put("scan.pdf", "application/pdf", []byte{0x25, 0x50, 0x44, 0x46, 0x00})
	rctx.Attachments.PutGenerated("invite.ics", "text/calendar", []byte("BEGIN:VCALENDAR"))

	out, err := tool.Forward(context.Background(), rctx, json.RawMessage(`{}`))
	require.NoError(t, err)
	assert.Contains(t, out.Content, "quarterly numbers")
	assert.Contains(t, out.Content, "[binary content, application/pdf]")
	// Run-generated artifacts are not inbound attachments.
	assert.NotContains(t, out.Content, "invite.ics")

	require.NotNil(t, out.Citations)
	require.Len(t, out.Citations.Sources, 2)
	assert.Equal(t, "notes.txt", out.Citations.Sources[0].Filename)
}

func TestAttachmentToolByName(t *testing.T) {
	tool := NewAttachmentTool()
	rctx := testRequestContext()
	rctx.Attachments.Put("a.txt", "text/plain", []byte("aaa"))
	rctx.Attachments.Put("b.txt", "text/plain", []byte("bbb"))

	out, err := tool.Forward(context.Background(), rctx, json.RawMessage(`{"filenames": ["b.txt"]}`))
	require.NoError(t, err)
	assert.Contains(t, out.Content, "bbb")
	assert.NotContains(t, out.Content, "aaa")

	_, err = tool.Forward(context.Background(), rctx, json.RawMessage(`{"filenames": ["missing.txt"]}`))
	assert.Error(t, err)
}

func TestAttachmentToolNoAttachments(t *testing.T) {
	out, err := NewAttachmentTool().Forward(context.Background(), testRequestContext(), nil)
	require.NoError(t, err)
	assert.Contains(t, out.Content, "no attachments")
	assert.Nil(t, out.Citations)
}

func testScheduler(t *testing.T) (*schedule.Scheduler, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return schedule.NewScheduler(schedule.NewTaskStore(db), nil, nil, db), mock
}

func TestScheduledTasksToolRecursionGuard(t *testing.T) {
	s, _ := testScheduler(t)
	tool := NewScheduledTasksTool(s)

	rctx := testRequestContext()
	rctx.Request.ScheduledTaskID = "task-1"
	rctx.Request.ParentMessageID = "<parent@service.io>"

	_, err := tool.Forward(context.Background(), rctx, json.RawMessage(
		`{"cron_expression": "0 9 * * *", "distilled_instructions": "daily digest"}`))
	assert.ErrorIs(t, err, mail.ErrRecursiveTask)
}

func TestScheduledTasksToolValidatesInput(t *testing.T) {
	s, _ := testScheduler(t)
	tool := NewScheduledTasksTool(s)
	rctx := testRequestContext()

	_, err := tool.Forward(context.Background(), rctx, json.RawMessage(
		`{"distilled_instructions": "no cron"}`))
	assert.Error(t, err)

	_, err = tool.Forward(context.Background(), rctx, json.RawMessage(
		`{"cron_expression": "0 9 * * *", "distilled_instructions": "x", "start_time": "tomorrow"}`))
	assert.Error(t, err)
}

func TestDeleteScheduledTasksToolRequiresIDs(t *testing.T) {
	s, _ := testScheduler(t)
	tool := NewDeleteScheduledTasksTool(s)

	_, err := tool.Forward(context.Background(), testRequestContext(), json.RawMessage(`{"task_ids": []}`))
	assert.Error(t, err)
}

func TestDeleteScheduledTasksTool(t *testing.T) {
	s, mock := testScheduler(t)
	tool := NewDeleteScheduledTasksTool(s)

	// Idempotent delete: an unknown task id still succeeds.
	mock.ExpectQuery(`SELECT owner_email FROM tasks WHERE task_id = \$1`).
		WithArgs("task-1").
		WillReturnRows(sqlmock.NewRows([]string{"owner_email"}))

	out, err := tool.Forward(context.Background(), testRequestContext(), json.RawMessage(`{"task_ids": ["task-1"]}`))
	require.NoError(t, err)
	assert.Contains(t, out.Content, "task-1")
	assert.NoError(t, mock.ExpectationsWereMet())
}
