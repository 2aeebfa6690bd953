package whatsapp

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/bytedance/sonic"

	"github.com/tgifai/taskpilot/internal/channel"
	"github.com/tgifai/taskpilot/internal/config"
	"github.com/tgifai/taskpilot/internal/pkg/markdown"
)

var _ channel.Channel = (*WhatsApp)(nil)

type sendTextRequest struct {
	ChatID  string `json:"chatId"`
	Text    string `json:"text"`
	Session string `json:"session"`
}

// WhatsApp sends notifications through a WAHA server. It is send-only.
type WhatsApp struct {
	id     string
	config Config
	client *http.Client
}

func NewChannel(chanId string, chCfg *config.ChannelConfig) (channel.Channel, error) {
	cfg, err := ParseConfig(chCfg.Config)
	if err != nil {
		return nil, err
	}
	return &WhatsApp{
		id:     chanId,
		config: *cfg,
		client: &http.Client{Timeout: cfg.Timeout},
	}, nil
}

func (w *WhatsApp) ID() string         { return w.id }
func (w *WhatsApp) Type() channel.Type { return channel.WhatsApp }

func (w *WhatsApp) Start(ctx context.Context) error {
	<-ctx.Done()
	return nil
}

func (w *WhatsApp) Stop(_ context.Context) error {
	return nil
}

func (w *WhatsApp) RegisterMessageHandler(func(ctx context.Context, msg *channel.Inbound) error) error {
	return channel.ErrUnsupportedOperation
}

func (w *WhatsApp) Send(ctx context.Context, to string, msg *channel.Message) error {
	chatID, err := ChatID(to)
	if err != nil {
		return err
	}
	if msg == nil || strings.TrimSpace(msg.Content) == "" {
		return errors.New("whatsapp message content is empty")
	}

	payload, err := sonic.Marshal(sendTextRequest{
		ChatID:  chatID,
		Text:    markdown.PlainText(msg.Content),
		Session: w.config.Session,
	})
	if err != nil {
		return fmt.Errorf("encode waha request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.config.APIURL+"/api/sendText", bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("create waha request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if w.config.APIKey != "" {
		req.Header.Set("X-Api-Key", w.config.APIKey)
	}

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("waha request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusOK || resp.StatusCode == http.StatusCreated {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	return fmt.Errorf("waha HTTP %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
}

// ChatID converts a phone number with country code into a WAHA chat id.
func ChatID(phone string) (string, error) {
	p := strings.NewReplacer("+", "", " ", "", "-", "").Replace(strings.TrimSpace(phone))
	if p == "" {
		return "", fmt.Errorf("%w: empty phone number", channel.ErrChatNotFound)
	}
	if strings.HasSuffix(p, "@c.us") {
		return p, nil
	}
	for _, r := range p {
		if r < '0' || r > '9' {
			return "", fmt.Errorf("%w: invalid phone number %q", channel.ErrChatNotFound, phone)
		}
	}
	return p + "@c.us", nil
}
