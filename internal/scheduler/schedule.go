package scheduler

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

// cronParser accepts the classic 5-field grammar, an optional leading
// seconds field, and descriptors like "@daily".
var cronParser = cron.NewParser(
	cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

var errNoSchedule = errors.New("job has neither a cron expression nor an interval")

// ComputeNextRun resolves the next due time after from.
//
// A non-empty schedule is parsed as a cron expression and wins over the
// interval; the result is strictly after from. An empty schedule falls back
// to from + intervalSeconds. Invalid cron expressions are rejected loudly;
// a silently-wrong schedule is worse than no schedule.
func ComputeNextRun(schedule string, intervalSeconds int, from time.Time) (time.Time, error) {
	schedule = strings.TrimSpace(schedule)
	if schedule != "" {
		sched, err := cronParser.Parse(schedule)
		if err != nil {
			return time.Time{}, fmt.Errorf("invalid cron expression %q: %w", schedule, err)
		}
		next := sched.Next(from)
		if next.IsZero() {
			return time.Time{}, fmt.Errorf("cron expression %q never fires", schedule)
		}
		return next, nil
	}
	if intervalSeconds > 0 {
		return from.Add(time.Duration(intervalSeconds) * time.Second), nil
	}
	return time.Time{}, errNoSchedule
}
