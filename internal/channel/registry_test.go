package channel

import (
	"context"
	"errors"
	"testing"
)

type stubChannel struct {
	id  string
	typ Type
}

func (s *stubChannel) ID() string                                   { return s.id }
func (s *stubChannel) Type() Type                                   { return s.typ }
func (s *stubChannel) Start(context.Context) error                  { return nil }
func (s *stubChannel) Stop(context.Context) error                   { return nil }
func (s *stubChannel) Send(context.Context, string, *Message) error { return nil }
func (s *stubChannel) RegisterMessageHandler(func(context.Context, *Inbound) error) error {
	return ErrUnsupportedOperation
}

func TestRegistry(t *testing.T) {
	r := NewRegistry()
	if err := r.Register(&stubChannel{id: "tg-b", typ: Telegram}); err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	if err := r.Register(&stubChannel{id: "tg-a", typ: Telegram}); err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	if err := r.Register(&stubChannel{id: "mail", typ: Email}); err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	if err := r.Register(&stubChannel{id: "mail", typ: Email}); err == nil {
		t.Fatal("expected duplicate registration to fail")
	}
	if r.Len() != 3 {
		t.Fatalf("Len() = %d, want 3", r.Len())
	}

	ch, err := r.ByType(Telegram)
	if err != nil {
		t.Fatalf("ByType() error = %v", err)
	}
	if ch.ID() != "tg-a" {
		t.Errorf("ByType(telegram) = %s, want tg-a", ch.ID())
	}
	if _, err := r.ByType(WhatsApp); !errors.Is(err, ErrNotConfigured) {
		t.Errorf("ByType(whatsapp) error = %v, want ErrNotConfigured", err)
	}

	list := r.List()
	if len(list) != 3 || list[0].ID() != "mail" || list[2].ID() != "tg-b" {
		t.Errorf("List() order unexpected: %v", list)
	}

	r.Unregister("tg-a")
	r.Unregister("tg-a")
	if r.Len() != 2 {
		t.Fatalf("Len() after unregister = %d, want 2", r.Len())
	}
	if _, err := r.Get("tg-a"); !errors.Is(err, ErrNotConfigured) {
		t.Errorf("Get() error = %v, want ErrNotConfigured", err)
	}
}

func TestParseType(t *testing.T) {
	tests := []struct {
		in   string
		want Type
		ok   bool
	}{
		{"telegram", Telegram, true},
		{" Email ", Email, true},
		{"WHATSAPP", WhatsApp, true},
		{"lark", "lark", false},
		{"", "", false},
	}
	for _, tt := range tests {
		got, ok := ParseType(tt.in)
		if got != tt.want || ok != tt.ok {
			t.Errorf("ParseType(%q) = %q, %v; want %q, %v", tt.in, got, ok, tt.want, tt.ok)
		}
	}
}
