package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/tgifai/taskpilot/internal/dispatch"
	"github.com/tgifai/taskpilot/internal/pkg/logs"
	"github.com/tgifai/taskpilot/internal/pkg/prometheus"
	"github.com/tgifai/taskpilot/internal/store"
)

func (s *Scheduler) processReminders(ctx context.Context, now time.Time) error {
	tasks, err := s.store.FetchDueReminders(ctx, now.Add(reminderLookahead))
	if err != nil {
		return fmt.Errorf("fetch due reminders: %w", err)
	}
	if len(tasks) > 0 {
		logs.CtxDebug(ctx, "[scheduler] %d reminder(s) due", len(tasks))
	}
	for _, t := range tasks {
		protect(ctx, "reminder", t.ID, func() { s.fireReminder(ctx, t, now) })
	}
	return nil
}

// fireReminder claims the reminder before sending it, so a crash between the
// two loses at most one notification and never duplicates one.
func (s *Scheduler) fireReminder(ctx context.Context, t *store.Task, now time.Time) {
	claimed, err := s.store.MarkReminderNotified(ctx, t.ID, now)
	if err != nil {
		logs.CtxWarn(ctx, "[scheduler] claim reminder %d: %v", t.ID, err)
		return
	}
	if !claimed {
		logs.CtxDebug(ctx, "[scheduler] reminder %d already claimed", t.ID)
		return
	}

	rcpt, ok := s.recipient(ctx, t.UserID)
	if !ok {
		return
	}

	var owner *store.Assistant
	if t.AssistantID != nil {
		a, err := s.store.GetAssistant(ctx, *t.AssistantID)
		if err != nil {
			logs.CtxWarn(ctx, "[scheduler] reminder %d: load assistant %d: %v", t.ID, *t.AssistantID, err)
		} else {
			owner = a
		}
	}

	results := s.notifier.Notify(ctx, rcpt, &dispatch.Notification{
		TaskID:      &t.ID,
		AssistantID: t.AssistantID,
		Message:     dispatch.ReminderMessage(t, now, s.loc),
	}, s.channelsFor(owner))

	prometheus.RemindersDispatched.Inc()
	logs.CtxInfo(ctx, "[scheduler] reminder %d (%s) sent to user %d: %s", t.ID, t.Name, t.UserID, summarize(results))
}
