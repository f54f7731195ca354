package schedule

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

// cronParser accepts standard 5-field expressions plus descriptors
// (@daily etc.). Second-level precision is deliberately not supported;
// firing resolution is the minute.
var cronParser = cron.NewParser(
	cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

// ValidateCron parses a 5-field cron expression.
func ValidateCron(expr string) (cron.Schedule, error) {
	expr = strings.TrimSpace(expr)
	if !strings.HasPrefix(expr, "@") && len(strings.Fields(expr)) != 5 {
		return nil, fmt.Errorf("cron expression must have 5 fields, got %q", expr)
	}
	sched, err := cronParser.Parse(expr)
	if err != nil {
		return nil, fmt.Errorf("invalid cron expression %q: %w", expr, err)
	}
	return sched, nil
}

// MinInterval derives the minimum interval between consecutive firings of a
// cron expression from its field shape:
//
//	* * * * *  or complex minutes → 1 minute
//	*/n * * * *                  → n minutes
//	m * * * *  or complex hours  → 1 hour
//	m h * * *                    → daily
//	m h * * d                    → weekly
//	m h D * *                    → monthly
//	m h D M *                    → yearly
func MinInterval(expr string) (time.Duration, error) {
	expr = strings.TrimSpace(expr)
	switch expr {
	case "@hourly":
		return time.Hour, nil
	case "@daily", "@midnight":
		return 24 * time.Hour, nil
	case "@weekly":
		return 7 * 24 * time.Hour, nil
	case "@monthly":
		return 28 * 24 * time.Hour, nil
	case "@yearly", "@annually":
		return 365 * 24 * time.Hour, nil
	}

	fields := strings.Fields(expr)
	if len(fields) != 5 {
		return 0, fmt.Errorf("cron expression must have 5 fields, got %q", expr)
	}
	minute, hour, dom, month, dow := fields[0], fields[1], fields[2], fields[3], fields[4]

	// Minute field governs when it is not a single fixed value.
	if minute == "*" {
		return time.Minute, nil
	}
	if n, ok := stepOf(minute); ok {
		return time.Duration(n) * time.Minute, nil
	}
	if isComplex(minute) {
		return time.Minute, nil
	}

	// Fixed minute: hour field governs.
	if hour == "*" || isComplex(hour) {
		if n, ok := stepOf(hour); ok {
			return time.Duration(n) * time.Hour, nil
		}
		return time.Hour, nil
	}

	// Fixed minute and hour: date fields govern.
	switch {
	case month != "*":
		return 365 * 24 * time.Hour, nil
	case dom != "*":
		return 28 * 24 * time.Hour, nil
	case dow != "*":
		if isComplex(dow) {
			// Multiple weekdays can fire on consecutive days.
			return 24 * time.Hour, nil
		}
		return 7 * 24 * time.Hour, nil
	default:
		return 24 * time.Hour, nil
	}
}

// stepOf extracts n from a "*/n" field.
func stepOf(field string) (int, bool) {
	if !strings.HasPrefix(field, "*/") {
		return 0, false
	}
	n, err := strconv.Atoi(field[2:])
	if err != nil || n <= 0 {
		return 0, false
	}
	return n, true
}

// isComplex reports list or range syntax.
func isComplex(field string) bool {
	return strings.ContainsAny(field, ",-/")
}
