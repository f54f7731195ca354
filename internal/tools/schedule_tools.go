package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/ignite/mailagent/internal/handles"
	"github.com/ignite/mailagent/internal/mail"
	"github.com/ignite/mailagent/internal/schedule"
)

// ScheduledTasksTool creates recurring or one-shot tasks from inside an
// agent run. All policy (cron validity, minimum interval, owner quota,
// recursion guard) lives in the scheduler; this tool only shapes I/O.
type ScheduledTasksTool struct {
	scheduler *schedule.Scheduler
}

// NewScheduledTasksTool wraps the scheduler.
func NewScheduledTasksTool(s *schedule.Scheduler) *ScheduledTasksTool {
	return &ScheduledTasksTool{scheduler: s}
}

func (t *ScheduledTasksTool) Name() string { return handles.ToolScheduleTasks }

func (t *ScheduledTasksTool) Description() string {
	return "Create a scheduled task that re-runs this request on a cron schedule. " +
		"Cron expressions use 5 fields (minute hour day-of-month month day-of-week) " +
		"and may not fire more often than once per hour. " +
		"distilled_instructions must capture everything the future run needs, " +
		"because the original attachments are not carried over."
}

func (t *ScheduledTasksTool) InputSchema() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"cron_expression": map[string]interface{}{
				"type":        "string",
				"description": "5-field cron expression, e.g. '0 9 * * 1' for Mondays at 09:00",
			},
			"distilled_instructions": map[string]interface{}{
				"type":        "string",
				"description": "Self-contained instructions for the future run",
			},
			"start_time": map[string]interface{}{
				"type":        "string",
				"description": "RFC 3339 time before which the task must not fire (optional)",
			},
			"expiry_time": map[string]interface{}{
				"type":        "string",
				"description": "RFC 3339 time after which the task stops firing (optional)",
			},
		},
		"required": []string{"cron_expression", "distilled_instructions"},
	}
}

type scheduleInput struct {
	CronExpression        string `json:"cron_expression"`
	DistilledInstructions string `json:"distilled_instructions"`
	StartTime             string `json:"start_time"`
	ExpiryTime            string `json:"expiry_time"`
}

// Forward creates the task. Scheduler policy violations come back as plain
// errors and surface in the result's metadata.errors.
func (t *ScheduledTasksTool) Forward(ctx context.Context, rctx *mail.RequestContext, input json.RawMessage) (*Output, error) {
	var in scheduleInput
	if err := json.Unmarshal(input, &in); err != nil {
		return nil, fmt.Errorf("invalid arguments: %w", err)
	}
	if strings.TrimSpace(in.CronExpression) == "" {
		return nil, fmt.Errorf("cron_expression is required")
	}

	start, err := parseOptionalTime(in.StartTime)
	if err != nil {
		return nil, fmt.Errorf("start_time: %w", err)
	}
	expiry, err := parseOptionalTime(in.ExpiryTime)
	if err != nil {
		return nil, fmt.Errorf("expiry_time: %w", err)
	}

	task, err := t.scheduler.CreateTask(ctx, rctx.Request, in.CronExpression, in.DistilledInstructions, start, expiry)
	if err != nil {
		return nil, err
	}

	return &Output{
		Content: fmt.Sprintf("Scheduled task %s created with schedule %q. "+
			"Email delete@ with this task id to cancel it.", task.TaskID, task.CronExpression),
		Metadata: map[string]interface{}{
			"task_id":         task.TaskID,
			"cron_expression": task.CronExpression,
			"status":          task.Status,
		},
	}, nil
}

func parseOptionalTime(value string) (*time.Time, error) {
	if strings.TrimSpace(value) == "" {
		return nil, nil
	}
	ts, err := time.Parse(time.RFC3339, value)
	if err != nil {
		return nil, err
	}
	return &ts, nil
}

// DeleteScheduledTasksTool deletes tasks owned by the current sender.
type DeleteScheduledTasksTool struct {
	scheduler *schedule.Scheduler
}

// NewDeleteScheduledTasksTool wraps the scheduler.
func NewDeleteScheduledTasksTool(s *schedule.Scheduler) *DeleteScheduledTasksTool {
	return &DeleteScheduledTasksTool{scheduler: s}
}

func (t *DeleteScheduledTasksTool) Name() string { return handles.ToolDeleteScheduled }

func (t *DeleteScheduledTasksTool) Description() string {
	return "Delete one or more scheduled tasks by id. Only tasks owned by the " +
		"current sender can be deleted. Deleting an already-deleted task succeeds."
}

func (t *DeleteScheduledTasksTool) InputSchema() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"task_ids": map[string]interface{}{
				"type":        "array",
				"items":       map[string]interface{}{"type": "string"},
				"description": "Task ids to delete",
			},
		},
		"required": []string{"task_ids"},
	}
}

// Forward deletes each task; per-task failures abort with the offending id.
func (t *DeleteScheduledTasksTool) Forward(ctx context.Context, rctx *mail.RequestContext, input json.RawMessage) (*Output, error) {
	var in struct {
		TaskIDs []string `json:"task_ids"`
	}
	if err := json.Unmarshal(input, &in); err != nil {
		return nil, fmt.Errorf("invalid arguments: %w", err)
	}
	if len(in.TaskIDs) == 0 {
		return nil, fmt.Errorf("task_ids is required")
	}

	for _, id := range in.TaskIDs {
		if err := t.scheduler.DeleteTask(ctx, id, rctx.Request.From); err != nil {
			return nil, fmt.Errorf("delete task %s: %w", id, err)
		}
	}
	return &Output{
		Content:  fmt.Sprintf("Deleted %d scheduled task(s): %s", len(in.TaskIDs), strings.Join(in.TaskIDs, ", ")),
		Metadata: map[string]interface{}{"deleted": in.TaskIDs},
	}, nil
}
