package main

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/urfave/cli/v3"

	"github.com/tgifai/taskpilot/internal/channel"
	"github.com/tgifai/taskpilot/internal/dispatch"
	"github.com/tgifai/taskpilot/internal/store"
)

var msgHwd = &MsgRunner{}

type MsgRunner struct{}

func (r *MsgRunner) cmd() *cli.Command {
	return &cli.Command{
		Name:  "msg",
		Usage: "Send a one-off message to a user through the dispatcher",
		Flags: []cli.Flag{
			&cli.Int64Flag{
				Name:  "user",
				Usage: "Recipient user id",
			},
			&cli.StringSliceFlag{
				Name:  "channel",
				Usage: "Channel types to use (telegram, email, whatsapp); defaults to scheduler.default_channels",
			},
			&cli.StringFlag{
				Name:    "subject",
				Aliases: []string{"s"},
				Usage:   "Subject line for email",
			},
			&cli.StringFlag{
				Name:    "content",
				Aliases: []string{"m"},
				Usage:   "Message body (markdown)",
			},
		},
		Action: r.run,
	}
}

func (r *MsgRunner) run(ctx context.Context, cmd *cli.Command) error {
	userID := cmd.Int64("user")
	if userID <= 0 {
		return errors.New("--user is required")
	}
	content := strings.TrimSpace(cmd.String("content"))
	if content == "" {
		return errors.New("--content cannot be empty")
	}

	rt, err := openRuntime(ctx, cmd)
	if err != nil {
		return err
	}
	defer rt.Close()

	u, err := rt.store.GetUser(ctx, userID)
	if err != nil {
		return notFoundAs(err, "user", userID)
	}

	names := cmd.StringSlice("channel")
	if len(names) == 0 {
		names = rt.cfg.Scheduler.DefaultChannels
	}
	types := dispatch.ParseChannels(names)
	if len(types) == 0 {
		return fmt.Errorf("no valid channel in %v, expected one of %v", names, channel.SupportedChannels)
	}

	if err := rt.startChannels(ctx); err != nil {
		return err
	}
	defer rt.stopChannels(ctx)

	results := dispatch.New(channel.Default(), rt.store).Notify(ctx, dispatch.RecipientFor(u), &dispatch.Notification{
		Message: &channel.Message{Subject: cmd.String("subject"), Content: content},
	}, types)

	failed := 0
	for _, res := range results {
		line := fmt.Sprintf("%-9s %s", res.Channel, res.Status)
		if res.Err != nil {
			line += ": " + res.Err.Error()
		}
		fmt.Println(line)
		if res.Status != store.DeliveryDelivered {
			failed++
		}
	}
	if failed == len(results) {
		return errors.New("message was not delivered on any channel")
	}
	return nil
}
