package scheduler

import (
	"context"
	"time"

	"github.com/tgifai/taskpilot/internal/dispatch"
	"github.com/tgifai/taskpilot/internal/pkg/logs"
	"github.com/tgifai/taskpilot/internal/store"
)

// maybeSendSummaries sends the morning digest once the summary schedule
// comes due. The first cycle only arms the schedule.
func (s *Scheduler) maybeSendSummaries(ctx context.Context, now time.Time) {
	if !s.dailySummary {
		return
	}
	local := now.In(s.loc)
	if s.nextSummary.IsZero() {
		s.nextSummary = s.summary.Next(local)
		return
	}
	if local.Before(s.nextSummary) {
		return
	}
	s.nextSummary = s.summary.Next(local)

	users, err := s.store.ListUsers(ctx)
	if err != nil {
		logs.CtxWarn(ctx, "[scheduler] daily summary: list users: %v", err)
		return
	}
	for _, u := range users {
		protect(ctx, "summary", u.ID, func() { s.SendSummary(ctx, dispatch.RecipientFor(u), now) })
	}
}

// SendSummary sends today's pending tasks to one user.
func (s *Scheduler) SendSummary(ctx context.Context, rcpt dispatch.Recipient, now time.Time) {
	start := startOfDay(now.In(s.loc))
	tasks, err := s.store.ListTasksDueBetween(ctx, rcpt.UserID, start, start.AddDate(0, 0, 1))
	if err != nil {
		logs.CtxWarn(ctx, "[scheduler] daily summary for user %d: %v", rcpt.UserID, err)
		return
	}
	results := s.notifier.Notify(ctx, rcpt, &dispatch.Notification{
		Message: dispatch.DailySummary(rcpt, tasks, s.loc),
	}, s.defaultChannels)
	logs.CtxInfo(ctx, "[scheduler] daily summary for user %d (%d tasks): %s", rcpt.UserID, len(tasks), summarize(results))
}

// TodayTasks lists the user's pending tasks due today in the scheduler's
// time zone.
func (s *Scheduler) TodayTasks(ctx context.Context, userID int64, now time.Time) ([]*store.Task, error) {
	start := startOfDay(now.In(s.loc))
	return s.store.ListTasksDueBetween(ctx, userID, start, start.AddDate(0, 0, 1))
}

// Location is the time zone used for rendering and daily boundaries.
func (s *Scheduler) Location() *time.Location {
	return s.loc
}

func startOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}
