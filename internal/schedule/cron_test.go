package schedule

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateCron(t *testing.T) {
	valid := []string{"0 9 * * *", "*/60 * * * *", "30 8 1 * *", "@daily", "@hourly"}
	for _, expr := range valid {
		_, err := ValidateCron(expr)
		assert.NoError(t, err, expr)
	}

	invalid := []string{"", "0 9 * *", "0 9 * * * *", "61 * * * *", "not a cron"}
	for _, expr := range invalid {
		_, err := ValidateCron(expr)
		assert.Error(t, err, expr)
	}
}

func TestMinInterval(t *testing.T) {
	tests := []struct {
		expr string
		want time.Duration
	}{
		{"* * * * *", time.Minute},
		{"*/15 * * * *", 15 * time.Minute},
		{"*/60 * * * *", time.Hour},
		{"1,31 * * * *", time.Minute},
		{"0 * * * *", time.Hour},
		{"0 */6 * * *", 6 * time.Hour},
		{"30 9-17 * * *", time.Hour},
		{"0 9 * * *", 24 * time.Hour},
		{"0 9 * * 1", 7 * 24 * time.Hour},
		{"0 9 * * 1,3", 24 * time.Hour},
		{"0 9 15 * *", 28 * 24 * time.Hour},
		{"0 9 1 6 *", 365 * 24 * time.Hour},
		{"@hourly", time.Hour},
		{"@daily", 24 * time.Hour},
		{"@weekly", 7 * 24 * time.Hour},
	}
	for _, tt := range tests {
		t.Run(tt.expr, func(t *testing.T) {
			got, err := MinInterval(tt.expr)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

// The hourly floor: */60 is the fastest acceptable step expression, */59 is
// just under it.
func TestMinIntervalHourlyFloor(t *testing.T) {
	ok, err := MinInterval("*/60 * * * *")
	require.NoError(t, err)
	assert.GreaterOrEqual(t, ok, MinFireInterval)

	tooFast, err := MinInterval("*/59 * * * *")
	require.NoError(t, err)
	assert.Less(t, tooFast, MinFireInterval)
}

func TestTaskEligibleAt(t *testing.T) {
	now := time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC)
	before := now.Add(-time.Hour)
	after := now.Add(time.Hour)

	tests := []struct {
		name string
		task Task
		want bool
	}{
		{"active no window", Task{Status: StatusActive}, true},
		{"inside window", Task{Status: StatusActive, StartTime: &before, ExpiryTime: &after}, true},
		{"before start", Task{Status: StatusActive, StartTime: &after}, false},
		{"past expiry", Task{Status: StatusActive, ExpiryTime: &before}, false},
		{"deleted", Task{Status: StatusDeleted}, false},
		{"finished", Task{Status: StatusFinished}, false},
		{"initialised", Task{Status: StatusInitialised}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.task.EligibleAt(now))
		})
	}
}
