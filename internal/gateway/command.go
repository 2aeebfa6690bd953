package gateway

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/tgifai/taskpilot/internal/channel"
	"github.com/tgifai/taskpilot/internal/dispatch"
	"github.com/tgifai/taskpilot/internal/pkg/logs"
	"github.com/tgifai/taskpilot/internal/store"
)

// CommandHandlerFunc processes a matched command and returns a markdown reply.
// An empty reply means no response should be sent.
type CommandHandlerFunc func(ctx context.Context, gw *Gateway, msg *channel.Inbound, args string) (string, error)

// Command describes a single channel-agnostic command.
type Command struct {
	Name        string // e.g. "/start"
	Description string
	Handler     CommandHandlerFunc
}

// CommandRouter is a thread-safe registry that matches incoming message text
// against registered command names and dispatches the first match.
type CommandRouter struct {
	commands map[string]*Command // key: lowercase command name
	mu       sync.RWMutex
}

func newCommandRouter() *CommandRouter {
	return &CommandRouter{commands: make(map[string]*Command, 8)}
}

func (r *CommandRouter) Register(cmd *Command) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.commands[strings.ToLower(cmd.Name)] = cmd
}

// Match checks whether content starts with a known command.
// Commands are matched case-insensitively and may carry a trailing
// @botname suffix (e.g. "/today@pilot_bot").
func (r *CommandRouter) Match(content string) (*Command, string, bool) {
	content = strings.TrimSpace(content)
	if content == "" || content[0] != '/' {
		return nil, "", false
	}

	fields := strings.SplitN(content, " ", 2)
	raw := strings.ToLower(fields[0])
	if idx := strings.Index(raw, "@"); idx > 0 {
		raw = raw[:idx]
	}

	r.mu.RLock()
	cmd, ok := r.commands[raw]
	r.mu.RUnlock()
	if !ok {
		return nil, "", false
	}

	args := ""
	if len(fields) > 1 {
		args = strings.TrimSpace(fields[1])
	}
	return cmd, args, true
}

// List returns all registered commands sorted by name.
func (r *CommandRouter) List() []*Command {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Command, 0, len(r.commands))
	for _, cmd := range r.commands {
		out = append(out, cmd)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// ---------------------------------------------------------------------------
// Built-in commands
// ---------------------------------------------------------------------------

func registerBuiltinCommands(r *CommandRouter) {
	r.Register(&Command{
		Name:        "/start",
		Description: "Welcome message and your chat id",
		Handler:     cmdStart,
	})
	r.Register(&Command{
		Name:        "/help",
		Description: "Show available commands",
		Handler:     cmdHelp,
	})
	r.Register(&Command{
		Name:        "/user_id",
		Description: "Show the chat id to link in your profile",
		Handler:     cmdUserID,
	})
	r.Register(&Command{
		Name:        "/today",
		Description: "List your reminders due today",
		Handler:     cmdToday,
	})
}

func cmdStart(_ context.Context, _ *Gateway, msg *channel.Inbound, _ string) (string, error) {
	return fmt.Sprintf("👋 **Welcome to taskpilot!**\n\nYour chat id is `%s`. Link it to your profile to receive reminders here.\n\nSend /help to see what I can do.", msg.ChatID), nil
}

func cmdHelp(_ context.Context, gw *Gateway, _ *channel.Inbound, _ string) (string, error) {
	var b strings.Builder
	b.WriteString("Available commands:\n\n")
	for _, cmd := range gw.commands.List() {
		fmt.Fprintf(&b, "- %s: %s\n", cmd.Name, cmd.Description)
	}
	return b.String(), nil
}

func cmdUserID(_ context.Context, _ *Gateway, msg *channel.Inbound, _ string) (string, error) {
	return fmt.Sprintf("Your chat id is `%s`.", msg.ChatID), nil
}

func cmdToday(ctx context.Context, gw *Gateway, msg *channel.Inbound, _ string) (string, error) {
	u, err := gw.store.UserByChatID(ctx, msg.ChatID)
	if errors.Is(err, store.ErrNotFound) {
		return fmt.Sprintf("This chat is not linked to any user yet. Your chat id is `%s`.", msg.ChatID), nil
	}
	if err != nil {
		return "", fmt.Errorf("lookup user by chat id: %w", err)
	}

	tasks, err := gw.scheduler.TodayTasks(ctx, u.ID, gw.now())
	if err != nil {
		return "", fmt.Errorf("list today's tasks: %w", err)
	}
	logs.CtxDebug(ctx, "[cmd:today] user %d has %d task(s) today", u.ID, len(tasks))
	return dispatch.TodayMessage(tasks, gw.scheduler.Location()).Content, nil
}
