package main

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/urfave/cli/v3"

	"github.com/tgifai/taskpilot/internal/dispatch"
	"github.com/tgifai/taskpilot/internal/store"
)

var reminderHwd = &ReminderRunner{}

type ReminderRunner struct{}

func (r *ReminderRunner) cmd() *cli.Command {
	return &cli.Command{
		Name:  "reminder",
		Usage: "Inspect and adjust reminders",
		Commands: []*cli.Command{
			{
				Name:   "due",
				Usage:  "List reminders that are due and not yet sent",
				Action: r.due,
			},
			{
				Name:      "reset",
				Usage:     "Mark a reminder as not sent so it fires again",
				ArgsUsage: "<task-id>",
				Action:    r.reset,
			},
			{
				Name:      "snooze",
				Usage:     "Move a reminder's due time forward",
				ArgsUsage: "<task-id>",
				Flags: []cli.Flag{
					&cli.IntFlag{
						Name:    "minutes",
						Aliases: []string{"m"},
						Usage:   "Minutes from now",
						Value:   10,
					},
				},
				Action: r.snooze,
			},
		},
	}
}

func (r *ReminderRunner) due(ctx context.Context, cmd *cli.Command) error {
	rt, err := openRuntime(ctx, cmd)
	if err != nil {
		return err
	}
	defer rt.Close()

	now := time.Now()
	tasks, err := rt.store.FetchDueReminders(ctx, now)
	if err != nil {
		return err
	}
	if len(tasks) == 0 {
		fmt.Println("No reminders due.")
		return nil
	}
	for _, t := range tasks {
		fmt.Printf("#%-5d %s %-30s due %s (%s) user=%d\n",
			t.ID, dispatch.PriorityEmoji(t.Priority), t.Name,
			t.DueAt.Local().Format("2006-01-02 15:04"), dispatch.Urgency(*t.DueAt, now), t.UserID)
	}
	return nil
}

func (r *ReminderRunner) reset(ctx context.Context, cmd *cli.Command) error {
	id, err := argID(cmd, "task-id")
	if err != nil {
		return err
	}
	rt, err := openRuntime(ctx, cmd)
	if err != nil {
		return err
	}
	defer rt.Close()

	if err := rt.store.ResetReminderNotified(ctx, id); err != nil {
		return notFoundAs(err, "reminder", id)
	}
	fmt.Printf("Reminder #%d will be sent again when due.\n", id)
	return nil
}

func (r *ReminderRunner) snooze(ctx context.Context, cmd *cli.Command) error {
	id, err := argID(cmd, "task-id")
	if err != nil {
		return err
	}
	minutes := cmd.Int("minutes")
	if minutes <= 0 {
		return errors.New("--minutes must be positive")
	}
	rt, err := openRuntime(ctx, cmd)
	if err != nil {
		return err
	}
	defer rt.Close()

	due := time.Now().Add(time.Duration(minutes) * time.Minute)
	if err := rt.store.SetReminderDue(ctx, id, &due); err != nil {
		return notFoundAs(err, "reminder", id)
	}
	fmt.Printf("Reminder #%d snoozed until %s.\n", id, due.Format("2006-01-02 15:04"))
	return nil
}

func argID(cmd *cli.Command, name string) (int64, error) {
	raw := cmd.Args().First()
	if raw == "" {
		return 0, fmt.Errorf("<%s> is required", name)
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid %s: %q", name, raw)
	}
	return id, nil
}

func notFoundAs(err error, what string, id int64) error {
	if errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("%s #%d not found", what, id)
	}
	return err
}
