package scheduler

import (
	"fmt"
	"time"

	"github.com/stayware/eventbus/pkg/event"
)

// Slot anchors, all UTC: hourly on the hour, daily at 02:00, weekly on
// Monday 03:00, monthly on the 1st at 04:00.
const (
	dailyAnchorHour   = 2
	weeklyAnchorHour  = 3
	monthlyAnchorHour = 4
)

// NextRun computes the next eligible execution instant for a schedule
// slot, strictly after now.
func NextRun(slot event.Schedule, now time.Time) (time.Time, error) {
	now = now.UTC()
	switch slot {
	case event.ScheduleHourly:
		return now.Truncate(time.Hour).Add(time.Hour), nil
	case event.ScheduleDaily:
		next := time.Date(now.Year(), now.Month(), now.Day(), dailyAnchorHour, 0, 0, 0, time.UTC)
		if !next.After(now) {
			next = next.AddDate(0, 0, 1)
		}
		return next, nil
	case event.ScheduleWeekly:
		next := time.Date(now.Year(), now.Month(), now.Day(), weeklyAnchorHour, 0, 0, 0, time.UTC)
		offset := (int(time.Monday) - int(next.Weekday()) + 7) % 7
		next = next.AddDate(0, 0, offset)
		if !next.After(now) {
			next = next.AddDate(0, 0, 7)
		}
		return next, nil
	case event.ScheduleMonthly:
		next := time.Date(now.Year(), now.Month(), 1, monthlyAnchorHour, 0, 0, 0, time.UTC)
		if !next.After(now) {
			next = next.AddDate(0, 1, 0)
		}
		return next, nil
	default:
		return time.Time{}, fmt.Errorf("unknown schedule slot: %q", slot)
	}
}
