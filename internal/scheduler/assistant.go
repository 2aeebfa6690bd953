package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/tgifai/taskpilot/internal/dispatch"
	"github.com/tgifai/taskpilot/internal/pkg/logs"
	"github.com/tgifai/taskpilot/internal/pkg/prometheus"
	"github.com/tgifai/taskpilot/internal/recurrence"
	"github.com/tgifai/taskpilot/internal/store"
)

func (s *Scheduler) processAssistants(ctx context.Context, now time.Time) error {
	due, err := s.store.FetchDueAssistants(ctx, now)
	if err != nil {
		return fmt.Errorf("fetch due assistants: %w", err)
	}

	var wg sync.WaitGroup
	for _, a := range due {
		wg.Add(1)
		s.pool.CtxGo(ctx, func() {
			defer wg.Done()
			protect(ctx, "assistant", a.ID, func() { s.fireAssistant(ctx, a, now) })
		})
	}
	wg.Wait()
	return nil
}

// nextRun derives the next run from the occurrence being fired. Occurrences
// missed while the scheduler was down are skipped rather than replayed.
func (s *Scheduler) nextRun(a *store.Assistant, now time.Time) *time.Time {
	rule, ok := recurrence.Parse(string(a.Recurrence))
	if !ok {
		logs.Warn("[scheduler] assistant %d: unknown recurrence %q, no next run", a.ID, string(a.Recurrence))
		return nil
	}
	if !rule.Recurring() {
		return nil
	}

	ref := now
	if a.NextRunAt != nil {
		ref = *a.NextRunAt
	}
	next := recurrence.Next(rule, ref.In(s.loc))
	if next != nil && !next.After(now) {
		next = recurrence.Next(rule, now.In(s.loc))
	}
	return next
}

// fireAssistant claims the occurrence by moving next_run_at off the fetched
// value before firing. Only the cycle that wins the claim fires it.
func (s *Scheduler) fireAssistant(ctx context.Context, a *store.Assistant, now time.Time) {
	next := s.nextRun(a, now)
	claimed, err := s.store.AdvanceAssistant(ctx, a.ID, a.NextRunAt, next, now)
	if err != nil {
		logs.CtxError(ctx, "[scheduler] advance assistant %d failed, not firing: %v", a.ID, err)
		return
	}
	if !claimed {
		logs.CtxDebug(ctx, "[scheduler] assistant %d already claimed by another cycle", a.ID)
		return
	}
	if next == nil {
		logs.CtxInfo(ctx, "[scheduler] assistant %d (%s) has no further runs", a.ID, a.Recurrence)
	}

	h := s.handlerFor(a)
	if h == nil {
		logs.CtxWarn(ctx, "[scheduler] assistant %d: no handler for kind %q, skipped", a.ID, a.Kind)
		return
	}
	prometheus.AssistantFires.WithLabelValues(string(h.Kind())).Inc()

	res, err := h.Fire(ctx, a, now)
	if err != nil {
		logs.CtxWarn(ctx, "[scheduler] assistant %d (%s) fire: %v", a.ID, h.Kind(), err)
	}
	if res.Message == nil {
		return
	}

	rcpt, ok := s.recipient(ctx, a.UserID)
	if !ok {
		return
	}
	results := s.notifier.Notify(ctx, rcpt, &dispatch.Notification{
		AssistantID: &a.ID,
		Message:     res.Message,
	}, s.channelsFor(a))
	logs.CtxInfo(ctx, "[scheduler] assistant %d (%s) fired: %s", a.ID, a.Name, summarize(results))
}

func (s *Scheduler) handlerFor(a *store.Assistant) Handler {
	for _, h := range s.handlers {
		if h.Handles(a) {
			return h
		}
	}
	return nil
}
