package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/tgifai/taskpilot/internal/channel"
	"github.com/tgifai/taskpilot/internal/store"
)

type fakeChannel struct {
	id  string
	typ channel.Type
	err error

	mu   sync.Mutex
	sent []string
}

func (f *fakeChannel) ID() string                  { return f.id }
func (f *fakeChannel) Type() channel.Type          { return f.typ }
func (f *fakeChannel) Start(context.Context) error { return nil }
func (f *fakeChannel) Stop(context.Context) error  { return nil }
func (f *fakeChannel) RegisterMessageHandler(func(context.Context, *channel.Inbound) error) error {
	return channel.ErrUnsupportedOperation
}

func (f *fakeChannel) Send(_ context.Context, to string, msg *channel.Message) error {
	if f.typ == "panic" {
		panic("boom")
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, to+": "+msg.Content)
	return f.err
}

type memSink struct {
	mu      sync.Mutex
	entries []*store.NotificationLog
	err     error
}

func (m *memSink) AppendNotificationLog(_ context.Context, e *store.NotificationLog) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = append(m.entries, e)
	return m.err
}

func newRegistry(t *testing.T, chans ...channel.Channel) *channel.Registry {
	t.Helper()
	r := channel.NewRegistry()
	for _, ch := range chans {
		if err := r.Register(ch); err != nil {
			t.Fatalf("Register() error = %v", err)
		}
	}
	return r
}

func TestNotifyIndependentChannels(t *testing.T) {
	tg := &fakeChannel{id: "tg", typ: channel.Telegram, err: fmt.Errorf("wrapped: %w", channel.ErrBlocked)}
	mail := &fakeChannel{id: "mail", typ: channel.Email}
	sink := &memSink{}
	d := New(newRegistry(t, tg, mail), sink)

	taskID := int64(5)
	rcpt := Recipient{UserID: 1, ChatID: "42", Email: "ana@example.com"}
	results := d.Notify(context.Background(), rcpt, &Notification{
		TaskID:  &taskID,
		Message: &channel.Message{Content: "hello"},
	}, []channel.Type{channel.Telegram, channel.Email, channel.WhatsApp})

	want := []store.DeliveryStatus{store.DeliveryBlocked, store.DeliveryDelivered, store.DeliverySkipped}
	if len(results) != len(want) {
		t.Fatalf("results = %d, want %d", len(results), len(want))
	}
	for i, res := range results {
		if res.Status != want[i] {
			t.Errorf("results[%d] (%s) = %s, want %s", i, res.Channel, res.Status, want[i])
		}
	}
	if len(mail.sent) != 1 || mail.sent[0] != "ana@example.com: hello" {
		t.Errorf("email sent = %v", mail.sent)
	}

	if len(sink.entries) != 3 {
		t.Fatalf("notification logs = %d, want 3", len(sink.entries))
	}
	for _, e := range sink.entries {
		if e.UserID != 1 || e.TaskID == nil || *e.TaskID != 5 || e.Message != "hello" {
			t.Errorf("log entry = %+v", e)
		}
	}
	if sink.entries[0].Error == "" || sink.entries[1].Error != "" {
		t.Errorf("error text not recorded per channel: %q / %q", sink.entries[0].Error, sink.entries[1].Error)
	}
}

func TestNotifyMissingChannel(t *testing.T) {
	d := New(newRegistry(t), nil)
	results := d.Notify(context.Background(), Recipient{UserID: 1, ChatID: "42"},
		&Notification{Message: &channel.Message{Content: "x"}}, []channel.Type{channel.Telegram})
	if results[0].Status != store.DeliverySkipped || !errors.Is(results[0].Err, channel.ErrNotConfigured) {
		t.Errorf("result = %+v, want skipped/ErrNotConfigured", results[0])
	}
}

func TestNotifyRecoversChannelPanic(t *testing.T) {
	bad := &fakeChannel{id: "bad", typ: "panic"}
	src := sourceFunc(func(channel.Type) (channel.Channel, error) { return bad, nil })
	sink := &memSink{err: errors.New("disk full")}
	d := New(src, sink)

	results := d.Notify(context.Background(), Recipient{UserID: 1, ChatID: "42"},
		&Notification{Message: &channel.Message{Content: "x"}}, []channel.Type{channel.Telegram})
	if results[0].Status != store.DeliveryError {
		t.Errorf("status = %s, want error", results[0].Status)
	}
	if len(sink.entries) != 1 {
		t.Errorf("log entries = %d, want 1 even when the sink fails", len(sink.entries))
	}
}

type sourceFunc func(channel.Type) (channel.Channel, error)

func (f sourceFunc) ByType(t channel.Type) (channel.Channel, error) { return f(t) }

func TestClassify(t *testing.T) {
	tests := []struct {
		err  error
		want store.DeliveryStatus
	}{
		{nil, store.DeliveryDelivered},
		{fmt.Errorf("x: %w", channel.ErrChatNotFound), store.DeliveryChatNotFound},
		{fmt.Errorf("x: %w", channel.ErrBlocked), store.DeliveryBlocked},
		{channel.ErrNotConfigured, store.DeliverySkipped},
		{errors.New("timeout"), store.DeliveryError},
	}
	for _, tt := range tests {
		if got := Classify(tt.err); got != tt.want {
			t.Errorf("Classify(%v) = %s, want %s", tt.err, got, tt.want)
		}
	}
}

func TestParseChannels(t *testing.T) {
	got := ParseChannels([]string{"telegram", "EMAIL", "pager", "telegram"})
	if len(got) != 2 || got[0] != channel.Telegram || got[1] != channel.Email {
		t.Errorf("ParseChannels() = %v", got)
	}
}

func TestRecipientFor(t *testing.T) {
	r := RecipientFor(&store.User{ID: 3, Name: "Ana", ChatID: "42", Email: "a@b.c", WhatsApp: "2010"})
	if r.Address(channel.Telegram) != "42" || r.Address(channel.Email) != "a@b.c" || r.Address(channel.WhatsApp) != "2010" {
		t.Errorf("addresses = %+v", r)
	}
	if RecipientFor(nil).UserID != 0 {
		t.Error("nil user should give empty recipient")
	}
}
