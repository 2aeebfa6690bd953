// Package dispatch turns due jobs into notifications and delivers them
// through the configured channels, one independent attempt per channel.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/tgifai/taskpilot/internal/channel"
	"github.com/tgifai/taskpilot/internal/pkg/logs"
	"github.com/tgifai/taskpilot/internal/pkg/prometheus"
	"github.com/tgifai/taskpilot/internal/store"
)

const defaultSendTimeout = 30 * time.Second

// Recipient holds the per-channel addresses of a user.
type Recipient struct {
	UserID   int64
	Name     string
	ChatID   string
	Email    string
	WhatsApp string
}

func RecipientFor(u *store.User) Recipient {
	if u == nil {
		return Recipient{}
	}
	return Recipient{
		UserID:   u.ID,
		Name:     u.Name,
		ChatID:   u.ChatID,
		Email:    u.Email,
		WhatsApp: u.WhatsApp,
	}
}

// Address returns the recipient's address on channel type t, or "".
func (r Recipient) Address(t channel.Type) string {
	switch t {
	case channel.Telegram:
		return r.ChatID
	case channel.Email:
		return r.Email
	case channel.WhatsApp:
		return r.WhatsApp
	}
	return ""
}

// Notification is one message about one job occurrence.
type Notification struct {
	TaskID      *int64
	AssistantID *int64
	Message     *channel.Message
}

type DeliveryResult struct {
	Channel channel.Type
	Status  store.DeliveryStatus
	Err     error
}

// ChannelSource resolves a channel type to a running channel.
type ChannelSource interface {
	ByType(t channel.Type) (channel.Channel, error)
}

// LogSink persists delivery attempts.
type LogSink interface {
	AppendNotificationLog(ctx context.Context, entry *store.NotificationLog) error
}

type Dispatcher struct {
	channels    ChannelSource
	sink        LogSink
	sendTimeout time.Duration
	now         func() time.Time
}

type Option func(*Dispatcher)

func WithSendTimeout(d time.Duration) Option {
	return func(disp *Dispatcher) { disp.sendTimeout = d }
}

func WithClock(now func() time.Time) Option {
	return func(disp *Dispatcher) { disp.now = now }
}

// New builds a dispatcher. sink may be nil, in which case attempts are only
// logged and counted.
func New(channels ChannelSource, sink LogSink, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		channels:    channels,
		sink:        sink,
		sendTimeout: defaultSendTimeout,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Notify attempts delivery of n on every requested channel and returns one
// result per channel, in request order. A failure on one channel never
// prevents the others from being tried.
func (d *Dispatcher) Notify(ctx context.Context, rcpt Recipient, n *Notification, channels []channel.Type) []DeliveryResult {
	results := make([]DeliveryResult, 0, len(channels))
	for _, t := range channels {
		res := d.deliver(ctx, rcpt, n, t)
		d.record(ctx, rcpt, n, res)
		results = append(results, res)
	}
	return results
}

func (d *Dispatcher) deliver(ctx context.Context, rcpt Recipient, n *Notification, t channel.Type) (res DeliveryResult) {
	res.Channel = t

	if n == nil || n.Message == nil {
		res.Status, res.Err = store.DeliveryError, errors.New("empty notification")
		return res
	}
	addr := rcpt.Address(t)
	if addr == "" {
		res.Status, res.Err = store.DeliverySkipped, fmt.Errorf("user %d has no %s address", rcpt.UserID, t)
		return res
	}
	ch, err := d.channels.ByType(t)
	if err != nil {
		res.Status, res.Err = store.DeliverySkipped, err
		return res
	}

	defer func() {
		if p := recover(); p != nil {
			res.Status, res.Err = store.DeliveryError, fmt.Errorf("channel %s panic: %v", ch.ID(), p)
		}
	}()

	sendCtx, cancel := context.WithTimeout(ctx, d.sendTimeout)
	defer cancel()
	err = ch.Send(sendCtx, addr, n.Message)
	res.Status, res.Err = Classify(err), err
	return res
}

func (d *Dispatcher) record(ctx context.Context, rcpt Recipient, n *Notification, res DeliveryResult) {
	prometheus.Deliveries.WithLabelValues(string(res.Channel), string(res.Status)).Inc()

	if res.Status == store.DeliveryDelivered {
		logs.CtxInfo(ctx, "[dispatch] %s -> user %d delivered", res.Channel, rcpt.UserID)
	} else {
		logs.CtxWarn(ctx, "[dispatch] %s -> user %d %s: %v", res.Channel, rcpt.UserID, res.Status, res.Err)
	}

	if d.sink == nil {
		return
	}
	entry := &store.NotificationLog{
		UserID:    rcpt.UserID,
		Channel:   string(res.Channel),
		Status:    res.Status,
		CreatedAt: d.now(),
	}
	if n != nil {
		entry.TaskID = n.TaskID
		entry.AssistantID = n.AssistantID
		if n.Message != nil {
			entry.Message = n.Message.Content
		}
	}
	if res.Err != nil {
		entry.Error = res.Err.Error()
	}
	if err := d.sink.AppendNotificationLog(ctx, entry); err != nil {
		logs.CtxWarn(ctx, "[dispatch] append notification log failed: %v", err)
	}
}

// Classify maps a channel send error to a delivery status.
func Classify(err error) store.DeliveryStatus {
	switch {
	case err == nil:
		return store.DeliveryDelivered
	case errors.Is(err, channel.ErrChatNotFound):
		return store.DeliveryChatNotFound
	case errors.Is(err, channel.ErrBlocked):
		return store.DeliveryBlocked
	case errors.Is(err, channel.ErrNotConfigured):
		return store.DeliverySkipped
	default:
		return store.DeliveryError
	}
}

// ParseChannels converts configured channel names into types, dropping
// unknown names and duplicates.
func ParseChannels(names []string) []channel.Type {
	out := make([]channel.Type, 0, len(names))
	seen := make(map[channel.Type]bool, len(names))
	for _, name := range names {
		t, ok := channel.ParseType(name)
		if !ok {
			logs.Warn("[dispatch] unknown channel type %q ignored", name)
			continue
		}
		if !seen[t] {
			seen[t] = true
			out = append(out, t)
		}
	}
	return out
}
