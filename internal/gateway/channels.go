package gateway

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/tgifai/taskpilot/internal/channel"
	"github.com/tgifai/taskpilot/internal/channel/email"
	"github.com/tgifai/taskpilot/internal/channel/telegram"
	"github.com/tgifai/taskpilot/internal/channel/whatsapp"
	"github.com/tgifai/taskpilot/internal/config"
	"github.com/tgifai/taskpilot/internal/pkg/logs"
)

const unknownCommandReply = "Sorry, I only understand commands. Send /help to see them."

// NewChannel builds a channel of the configured type without starting it.
func NewChannel(id string, cfg config.ChannelConfig) (channel.Channel, error) {
	cfg.ID = id
	t, ok := channel.ParseType(cfg.Type)
	if !ok {
		return nil, fmt.Errorf("unsupported channel type: %s", cfg.Type)
	}
	switch t {
	case channel.Telegram:
		return telegram.NewChannel(id, &cfg)
	case channel.Email:
		return email.NewChannel(id, &cfg)
	case channel.WhatsApp:
		return whatsapp.NewChannel(id, &cfg)
	default:
		return nil, fmt.Errorf("unsupported channel type: %s", cfg.Type)
	}
}

func (gw *Gateway) initChannels(ctx context.Context, channels map[string]config.ChannelConfig) error {
	ids := make([]string, 0, len(channels))
	for id := range channels {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	for _, id := range ids {
		cfg := channels[id]
		if !cfg.Enabled {
			logs.CtxInfo(ctx, "[gateway] channel #%s is disabled, skipping", id)
			continue
		}

		ch, err := NewChannel(id, cfg)
		if err != nil {
			logs.CtxError(ctx, "[gateway] create channel #%s error: %v", id, err)
			return fmt.Errorf("create channel %s: %w", id, err)
		}

		err = ch.RegisterMessageHandler(gw.inbound.Enqueue)
		if err != nil && !errors.Is(err, channel.ErrUnsupportedOperation) {
			return fmt.Errorf("register handler for channel %s: %w", id, err)
		}

		if err = gw.channels.Register(ch); err != nil {
			return fmt.Errorf("register channel %s: %w", id, err)
		}

		go func(id string, ch channel.Channel) {
			logs.CtxInfo(ctx, "[gateway] starting channel #%s (%s)", id, ch.Type())
			if err := ch.Start(ctx); err != nil {
				logs.CtxError(ctx, "[gateway] channel #%s stopped with error: %v", id, err)
			}
		}(id, ch)
	}
	return nil
}

// handleInbound answers one inbound chat message.
func (gw *Gateway) handleInbound(ctx context.Context, msg *channel.Inbound) error {
	if msg == nil {
		return fmt.Errorf("message cannot be nil")
	}
	logs.CtxDebug(ctx, "[gateway] -> (%s#%s) %s", msg.ChannelType, msg.ChatID, msg.Content)

	ch, err := gw.channels.Get(msg.ChannelID)
	if err != nil {
		return err
	}

	reply := unknownCommandReply
	if cmd, args, ok := gw.commands.Match(msg.Content); ok {
		reply, err = cmd.Handler(ctx, gw, msg, args)
		if err != nil {
			logs.CtxWarn(ctx, "[gateway] command %s failed: %v", cmd.Name, err)
			reply = "Sorry, something went wrong while handling " + cmd.Name + "."
		}
	} else if !strings.HasPrefix(strings.TrimSpace(msg.Content), "/") && msg.Metadata["chat_type"] != "" && msg.Metadata["chat_type"] != "private" {
		// Plain chatter in groups is not addressed to the bot.
		return nil
	}

	if reply == "" {
		return nil
	}
	if err := ch.Send(ctx, msg.ChatID, &channel.Message{Content: reply}); err != nil {
		return fmt.Errorf("send reply via channel %s: %w", msg.ChannelID, err)
	}
	return nil
}
