package telegram

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/go-telegram/bot/models"

	"github.com/tgifai/taskpilot/internal/channel"
	"github.com/tgifai/taskpilot/internal/config"
)

const testToken = "123456:test-token"

// fakeBotAPI records sendMessage calls and answers with the configured reply.
type fakeBotAPI struct {
	mu    sync.Mutex
	sent  []map[string]string
	reply func(call int, params map[string]string) (int, string)
}

func (f *fakeBotAPI) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	switch {
	case strings.HasSuffix(r.URL.Path, "/getMe"):
		_, _ = io.WriteString(w, `{"ok":true,"result":{"id":7,"is_bot":true,"first_name":"pilot","username":"Pilot_Bot"}}`)
	case strings.HasSuffix(r.URL.Path, "/sendMessage"):
		params := readParams(r)
		f.mu.Lock()
		f.sent = append(f.sent, params)
		call := len(f.sent)
		f.mu.Unlock()

		status, body := http.StatusOK, `{"ok":true,"result":{"message_id":1,"date":1,"chat":{"id":42,"type":"private"}}}`
		if f.reply != nil {
			status, body = f.reply(call, params)
		}
		w.WriteHeader(status)
		_, _ = io.WriteString(w, body)
	default:
		w.WriteHeader(http.StatusNotFound)
		_, _ = io.WriteString(w, `{"ok":false,"error_code":404,"description":"Not Found"}`)
	}
}

func (f *fakeBotAPI) calls() []map[string]string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]map[string]string(nil), f.sent...)
}

func readParams(r *http.Request) map[string]string {
	out := map[string]string{}
	if strings.HasPrefix(r.Header.Get("Content-Type"), "application/json") {
		var raw map[string]any
		_ = json.NewDecoder(r.Body).Decode(&raw)
		for k, v := range raw {
			switch vv := v.(type) {
			case string:
				out[k] = vv
			default:
				b, _ := json.Marshal(vv)
				out[k] = string(b)
			}
		}
		return out
	}
	if err := r.ParseMultipartForm(1 << 20); err != nil {
		_ = r.ParseForm()
	}
	for k, v := range r.Form {
		if len(v) > 0 {
			out[k] = v[0]
		}
	}
	return out
}

func newTestChannel(t *testing.T, api *fakeBotAPI) *Telegram {
	t.Helper()
	srv := httptest.NewServer(api)
	t.Cleanup(srv.Close)

	ch, err := NewChannel("tg", &config.ChannelConfig{
		Type:    "telegram",
		Enabled: true,
		Config:  map[string]any{"token": testToken, "api_url": srv.URL},
	})
	if err != nil {
		t.Fatalf("NewChannel() error = %v", err)
	}
	return ch.(*Telegram)
}

func TestParseConfig(t *testing.T) {
	if _, err := ParseConfig(map[string]any{}); err == nil {
		t.Fatal("expected error for missing token")
	}

	cfg, err := ParseConfig(map[string]any{
		"token":               "abc",
		"api_url":             "http://localhost:8081/",
		"poll_timeout":        5,
		"group_commands_only": false,
	})
	if err != nil {
		t.Fatalf("ParseConfig() error = %v", err)
	}
	if cfg.APIURL != "http://localhost:8081" {
		t.Errorf("APIURL = %q", cfg.APIURL)
	}
	if cfg.PollTimeout.Seconds() != 5 {
		t.Errorf("PollTimeout = %s", cfg.PollTimeout)
	}
	if cfg.CommandsOnly {
		t.Error("CommandsOnly should be false")
	}
}

func TestSendRendersMarkdown(t *testing.T) {
	api := &fakeBotAPI{}
	tg := newTestChannel(t, api)

	if tg.botUsername != "pilot_bot" {
		t.Errorf("botUsername = %q, want pilot_bot", tg.botUsername)
	}

	err := tg.Send(context.Background(), "42", &channel.Message{Content: "**Pay rent** today"})
	if err != nil {
		t.Fatalf("Send() error = %v", err)
	}

	calls := api.calls()
	if len(calls) != 1 {
		t.Fatalf("sendMessage calls = %d, want 1", len(calls))
	}
	if calls[0]["chat_id"] != "42" {
		t.Errorf("chat_id = %q, want 42", calls[0]["chat_id"])
	}
	if calls[0]["text"] != "Pay rent today" {
		t.Errorf("text = %q", calls[0]["text"])
	}
	if !strings.Contains(calls[0]["entities"], `"bold"`) {
		t.Errorf("entities = %q, want a bold entity", calls[0]["entities"])
	}
}

func TestSendClassifiesErrors(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		wantErr error
	}{
		{
			name:    "blocked",
			status:  http.StatusForbidden,
			body:    `{"ok":false,"error_code":403,"description":"Forbidden: bot was blocked by the user"}`,
			wantErr: channel.ErrBlocked,
		},
		{
			name:    "chat not found",
			status:  http.StatusBadRequest,
			body:    `{"ok":false,"error_code":400,"description":"Bad Request: chat not found"}`,
			wantErr: channel.ErrChatNotFound,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			api := &fakeBotAPI{reply: func(int, map[string]string) (int, string) { return tt.status, tt.body }}
			tg := newTestChannel(t, api)

			err := tg.Send(context.Background(), "42", &channel.Message{Content: "hello"})
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("Send() error = %v, want %v", err, tt.wantErr)
			}
			if n := len(api.calls()); n != 1 {
				t.Errorf("sendMessage calls = %d, want 1 (no fallback)", n)
			}
		})
	}
}

func TestSendFallsBackToPlainText(t *testing.T) {
	api := &fakeBotAPI{reply: func(call int, _ map[string]string) (int, string) {
		if call == 1 {
			return http.StatusBadRequest, `{"ok":false,"error_code":400,"description":"Bad Request: can't parse entities"}`
		}
		return http.StatusOK, `{"ok":true,"result":{"message_id":2,"date":1,"chat":{"id":42,"type":"private"}}}`
	}}
	tg := newTestChannel(t, api)

	if err := tg.Send(context.Background(), "42", &channel.Message{Content: "**x**"}); err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	calls := api.calls()
	if len(calls) != 2 {
		t.Fatalf("sendMessage calls = %d, want 2", len(calls))
	}
	if calls[1]["text"] != "**x**" {
		t.Errorf("fallback text = %q, want raw markdown", calls[1]["text"])
	}
}

func TestSendInvalidChatID(t *testing.T) {
	tg := newTestChannel(t, &fakeBotAPI{})
	err := tg.Send(context.Background(), "not-a-number", &channel.Message{Content: "hi"})
	if !errors.Is(err, channel.ErrChatNotFound) {
		t.Fatalf("Send() error = %v, want ErrChatNotFound", err)
	}
}

func TestHandleUpdate(t *testing.T) {
	tg := newTestChannel(t, &fakeBotAPI{})

	var got []*channel.Inbound
	if err := tg.RegisterMessageHandler(func(_ context.Context, msg *channel.Inbound) error {
		got = append(got, msg)
		return nil
	}); err != nil {
		t.Fatalf("RegisterMessageHandler() error = %v", err)
	}

	from := &models.User{ID: 99, Username: "ana"}
	tg.handleUpdate(context.Background(), nil, &models.Update{Message: &models.Message{
		ID: 10, From: from, Text: "/user_id",
		Chat: models.Chat{ID: 42, Type: models.ChatTypePrivate},
	}})
	tg.handleUpdate(context.Background(), nil, &models.Update{Message: &models.Message{
		ID: 11, From: from, Text: "just chatting",
		Chat: models.Chat{ID: -100, Type: models.ChatTypeSupergroup},
	}})
	tg.handleUpdate(context.Background(), nil, &models.Update{Message: &models.Message{
		ID: 12, From: from, Text: "/today@Pilot_Bot",
		Chat: models.Chat{ID: -100, Type: models.ChatTypeSupergroup},
	}})
	tg.handleUpdate(context.Background(), nil, &models.Update{})

	if len(got) != 2 {
		t.Fatalf("handler calls = %d, want 2", len(got))
	}
	if got[0].ChatID != "42" || got[0].UserID != "99" || got[0].Content != "/user_id" {
		t.Errorf("first inbound = %+v", got[0])
	}
	if got[1].ChatID != "-100" || got[1].Content != "/today" {
		t.Errorf("group inbound = %+v", got[1])
	}
}
