package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/tgifai/taskpilot/internal/channel"
	"github.com/tgifai/taskpilot/internal/dispatch"
	"github.com/tgifai/taskpilot/internal/runner"
	"github.com/tgifai/taskpilot/internal/store"
)

// Result is what firing an assistant produced.
type Result struct {
	// Message is sent to the assistant's owner; nil sends nothing.
	Message *channel.Message
	// Record is set when the firing ran a script.
	Record *store.ExecutionRecord
}

// Handler fires one kind of assistant.
type Handler interface {
	Kind() store.AssistantKind
	Handles(a *store.Assistant) bool
	Fire(ctx context.Context, a *store.Assistant, now time.Time) (Result, error)
}

// reminderHandler sends the assistant's template and its pending tasks.
type reminderHandler struct {
	store store.Store
	loc   *time.Location
}

func (h *reminderHandler) Kind() store.AssistantKind { return store.KindReminder }

func (h *reminderHandler) Handles(a *store.Assistant) bool {
	return a.Kind == store.KindReminder || (a.Kind == "" && a.ScriptID == nil)
}

func (h *reminderHandler) Fire(ctx context.Context, a *store.Assistant, now time.Time) (Result, error) {
	tasks, err := h.store.ListPendingTasks(ctx, a.UserID, &a.ID)
	if err != nil {
		return Result{}, fmt.Errorf("list pending tasks: %w", err)
	}

	tmpl, err := loadTemplate(ctx, h.store, a)
	if err != nil {
		return Result{}, err
	}
	return Result{Message: dispatch.AssistantMessage(a, tmpl, tasks, now, h.loc)}, nil
}

// loadTemplate returns the assistant's template, or nil when it has none or
// the template was deleted.
func loadTemplate(ctx context.Context, st store.Store, a *store.Assistant) (*store.NotifyTemplate, error) {
	if a.TemplateID == nil {
		return nil, nil
	}
	tmpl, err := st.GetTemplate(ctx, *a.TemplateID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load template %d: %w", *a.TemplateID, err)
	}
	return tmpl, nil
}

// scriptHandler runs the linked script and reports its outcome.
type scriptHandler struct {
	store  store.Store
	runner *runner.Runner
	loc    *time.Location
}

func (h *scriptHandler) Kind() store.AssistantKind { return store.KindScript }

func (h *scriptHandler) Handles(a *store.Assistant) bool {
	return a.Kind == store.KindScript || (a.Kind == "" && a.ScriptID != nil)
}

func (h *scriptHandler) Fire(ctx context.Context, a *store.Assistant, _ time.Time) (Result, error) {
	if a.ScriptID == nil {
		return Result{}, errors.New("no script linked")
	}
	script, err := h.store.GetScript(ctx, *a.ScriptID)
	if err != nil {
		return Result{}, fmt.Errorf("load script %d: %w", *a.ScriptID, err)
	}

	tmpl, err := loadTemplate(ctx, h.store, a)
	if err != nil {
		return Result{}, err
	}

	rec, err := runner.RunAndRecord(ctx, h.runner, h.store, script, runner.Invocation{Trigger: store.TriggerScheduler})
	res := Result{Message: dispatch.ScriptMessage(a, tmpl, script, rec, h.loc), Record: rec}
	// The run happened; report it even if its record could not be saved.
	return res, err
}
