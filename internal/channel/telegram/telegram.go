package telegram

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"

	"github.com/tgifai/taskpilot/internal/channel"
	"github.com/tgifai/taskpilot/internal/config"
	"github.com/tgifai/taskpilot/internal/pkg/logs"
	"github.com/tgifai/taskpilot/internal/pkg/markdown"
)

var _ channel.Channel = (*Telegram)(nil)

type Telegram struct {
	id          string
	config      Config
	bot         *bot.Bot
	botUsername string // lowercase bot username for mention matching
	handler     func(ctx context.Context, msg *channel.Inbound) error
	mu          sync.RWMutex
	ctx         context.Context
	cancel      context.CancelFunc
}

func NewChannel(chanId string, chCfg *config.ChannelConfig) (channel.Channel, error) {
	cfg, err := ParseConfig(chCfg.Config)
	if err != nil {
		return nil, fmt.Errorf("parse telegram config: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())

	tg := &Telegram{
		id:     chanId,
		config: *cfg,
		ctx:    ctx,
		cancel: cancel,
	}

	opts := []bot.Option{
		bot.WithDefaultHandler(tg.handleUpdate),
		bot.WithSkipGetMe(),
		bot.WithHTTPClient(cfg.PollTimeout, &http.Client{Timeout: cfg.PollTimeout + 10*time.Second}),
	}
	if cfg.APIURL != "" {
		opts = append(opts, bot.WithServerURL(cfg.APIURL))
	}

	tgBot, err := bot.New(cfg.Token, opts...)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("failed to create telegram bot: %w", err)
	}
	tg.bot = tgBot

	// Bot identity is only needed to strip @mentions in group chats.
	me, err := tgBot.GetMe(ctx)
	if err != nil {
		logs.Warn("[channel:telegram] GetMe failed, mention stripping disabled: %v", err)
	} else {
		tg.botUsername = strings.ToLower(me.Username)
		logs.Info("[channel:telegram] bot identity: @%s (id=%d)", me.Username, me.ID)
	}

	return tg, nil
}

func (c *Telegram) ID() string {
	return c.id
}

func (c *Telegram) Type() channel.Type {
	return channel.Telegram
}

// Start long-polls for updates until ctx is canceled or Stop is called.
func (c *Telegram) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	unlink := context.AfterFunc(c.ctx, cancel)
	defer unlink()

	c.bot.Start(ctx)
	return nil
}

func (c *Telegram) Stop(_ context.Context) error {
	c.cancel()
	return nil
}

func (c *Telegram) Send(ctx context.Context, to string, msg *channel.Message) error {
	chatID, err := strconv.ParseInt(strings.TrimSpace(to), 10, 64)
	if err != nil {
		return fmt.Errorf("%w: invalid chat id %q", channel.ErrChatNotFound, to)
	}
	if msg == nil || strings.TrimSpace(msg.Content) == "" {
		return errors.New("telegram message content is empty")
	}

	text, spans := markdown.Render(msg.Content)
	if text == "" {
		text = msg.Content
	}

	_, err = c.bot.SendMessage(ctx, &bot.SendMessageParams{
		ChatID:   chatID,
		Text:     text,
		Entities: toEntities(spans),
	})
	if err == nil {
		return nil
	}
	if !errors.Is(err, bot.ErrorBadRequest) || isChatNotFound(err) {
		return classifyError(err)
	}

	logs.CtxWarn(ctx, "[channel:telegram] formatted send failed, falling back to plain text: %v", err)
	_, err = c.bot.SendMessage(ctx, &bot.SendMessageParams{
		ChatID: chatID,
		Text:   msg.Content,
	})
	return classifyError(err)
}

func (c *Telegram) RegisterMessageHandler(handler func(ctx context.Context, msg *channel.Inbound) error) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if handler == nil {
		return errors.New("handler cannot be nil")
	}

	c.handler = handler
	return nil
}

// handleUpdate normalizes incoming text messages and forwards them to the
// registered handler.
func (c *Telegram) handleUpdate(ctx context.Context, b *bot.Bot, update *models.Update) {
	msg := update.Message
	if msg == nil || msg.From == nil {
		return
	}

	content := strings.TrimSpace(msg.Text)
	if content == "" {
		return
	}
	if isGroupChat(msg.Chat.Type) {
		if c.config.CommandsOnly && !strings.HasPrefix(content, "/") {
			return
		}
		content = c.stripBotMention(content)
	}

	c.mu.RLock()
	handler := c.handler
	c.mu.RUnlock()
	if handler == nil {
		return
	}

	inbound := &channel.Inbound{
		ID:          strconv.Itoa(msg.ID),
		ChannelID:   c.id,
		ChannelType: channel.Telegram,
		UserID:      strconv.FormatInt(msg.From.ID, 10),
		ChatID:      strconv.FormatInt(msg.Chat.ID, 10),
		Content:     content,
		Metadata: map[string]string{
			"chat_type":  string(msg.Chat.Type),
			"username":   msg.From.Username,
			"first_name": msg.From.FirstName,
		},
	}

	if err := handler(ctx, inbound); err != nil {
		logs.CtxError(ctx, "[channel:telegram] error handling message: %v", err)
		if b != nil {
			_, _ = b.SendMessage(ctx, &bot.SendMessageParams{
				ChatID: msg.Chat.ID,
				Text:   "Sorry, something went wrong while handling that.",
			})
		}
	}
}

// classifyError maps Bot API failures that identify an unreachable
// recipient onto the channel sentinels.
func classifyError(err error) error {
	if err == nil {
		return nil
	}
	switch {
	case errors.Is(err, bot.ErrorForbidden):
		return fmt.Errorf("%w: %v", channel.ErrBlocked, err)
	case isChatNotFound(err):
		return fmt.Errorf("%w: %v", channel.ErrChatNotFound, err)
	}
	return err
}

func isChatNotFound(err error) bool {
	return errors.Is(err, bot.ErrorBadRequest) && strings.Contains(strings.ToLower(err.Error()), "chat not found")
}

func toEntities(spans []markdown.Span) []models.MessageEntity {
	if len(spans) == 0 {
		return nil
	}
	out := make([]models.MessageEntity, 0, len(spans))
	for _, s := range spans {
		e := models.MessageEntity{Offset: s.Offset, Length: s.Length}
		switch s.Kind {
		case markdown.Bold:
			e.Type = models.MessageEntityTypeBold
		case markdown.Italic:
			e.Type = models.MessageEntityTypeItalic
		case markdown.Strikethrough:
			e.Type = models.MessageEntityTypeStrikethrough
		case markdown.Code:
			e.Type = models.MessageEntityTypeCode
		case markdown.Pre:
			e.Type = models.MessageEntityTypePre
			e.Language = s.Language
		case markdown.Link:
			e.Type = models.MessageEntityTypeTextLink
			e.URL = s.URL
		case markdown.Blockquote:
			e.Type = models.MessageEntityTypeBlockquote
		default:
			continue
		}
		out = append(out, e)
	}
	return out
}

// isGroupChat returns true for group and supergroup chat types.
func isGroupChat(chatType models.ChatType) bool {
	return chatType == models.ChatTypeGroup || chatType == models.ChatTypeSupergroup
}

// stripBotMention removes @botUsername from content and trims whitespace.
func (c *Telegram) stripBotMention(content string) string {
	if c.botUsername == "" {
		return content
	}
	lower := strings.ToLower(content)
	mention := "@" + c.botUsername
	for {
		idx := strings.Index(lower, mention)
		if idx < 0 {
			break
		}
		content = content[:idx] + content[idx+len(mention):]
		lower = lower[:idx] + lower[idx+len(mention):]
	}
	return strings.TrimSpace(content)
}
