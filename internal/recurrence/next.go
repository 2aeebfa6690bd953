package recurrence

import (
	"time"

	"github.com/robfig/cron/v3"

	"github.com/tgifai/taskpilot/internal/pkg/logs"
)

// DailyHour is the fixed wall-clock hour for daily runs.
const DailyHour = 8

var (
	cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	topOfHour  = mustParse("0 * * * *")
)

func mustParse(expr string) cron.Schedule {
	sched, err := cronParser.Parse(expr)
	if err != nil {
		panic(err)
	}
	return sched
}

// Next returns the next run time after ref for rule, or nil when the rule
// does not recur. rule must already be normalized by Parse. It never panics;
// an unknown rule logs a warning.
func Next(rule Rule, ref time.Time) *time.Time {
	var next time.Time

	switch rule {
	case RuleMinute:
		next = ref.Add(time.Minute)
	case RuleHourly:
		next = topOfHour.Next(ref)
	case RuleDaily:
		y, m, d := ref.Date()
		next = time.Date(y, m, d+1, DailyHour, 0, 0, 0, ref.Location())
	case RuleWeekly:
		next = ref.AddDate(0, 0, 7)
	case RuleMonthly:
		next = addMonthClamped(ref)
	case RuleOnce, RuleNone, "":
		return nil
	default:
		logs.Warn("[recurrence] unknown rule %q, no next run", string(rule))
		return nil
	}

	return &next
}

// addMonthClamped keeps the day-of-month, falling back to the last day of
// the following month when it is shorter.
func addMonthClamped(ref time.Time) time.Time {
	y, m, d := ref.Date()
	hh, mm, ss := ref.Clock()

	firstOfNext := time.Date(y, m+1, 1, 0, 0, 0, 0, ref.Location())
	last := daysIn(firstOfNext.Year(), firstOfNext.Month(), ref.Location())
	if d > last {
		d = last
	}
	return time.Date(firstOfNext.Year(), firstOfNext.Month(), d, hh, mm, ss, ref.Nanosecond(), ref.Location())
}

func daysIn(year int, month time.Month, loc *time.Location) int {
	return time.Date(year, month+1, 0, 0, 0, 0, 0, loc).Day()
}
