package email

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/wneessen/go-mail"

	"github.com/tgifai/taskpilot/internal/channel"
	"github.com/tgifai/taskpilot/internal/config"
	"github.com/tgifai/taskpilot/internal/pkg/markdown"
)

const defaultSubject = "taskpilot notification"

var _ channel.Channel = (*Email)(nil)

// Email delivers notifications over SMTP. It is send-only.
type Email struct {
	id     string
	config Config
}

func NewChannel(chanId string, chCfg *config.ChannelConfig) (channel.Channel, error) {
	cfg, err := ParseConfig(chCfg.Config)
	if err != nil {
		return nil, err
	}
	return &Email{id: chanId, config: *cfg}, nil
}

func (e *Email) ID() string         { return e.id }
func (e *Email) Type() channel.Type { return channel.Email }

func (e *Email) Start(ctx context.Context) error {
	<-ctx.Done()
	return nil
}

func (e *Email) Stop(_ context.Context) error {
	return nil
}

func (e *Email) RegisterMessageHandler(func(ctx context.Context, msg *channel.Inbound) error) error {
	return channel.ErrUnsupportedOperation
}

func (e *Email) Send(ctx context.Context, to string, msg *channel.Message) error {
	m, err := e.buildMessage(to, msg)
	if err != nil {
		return err
	}
	client, err := e.newClient()
	if err != nil {
		return err
	}
	if err := client.DialAndSendWithContext(ctx, m); err != nil {
		return fmt.Errorf("send email to %s: %w", to, err)
	}
	return nil
}

// buildMessage renders the markdown content as an HTML body with a
// plain-text alternative.
func (e *Email) buildMessage(to string, msg *channel.Message) (*mail.Msg, error) {
	to = strings.TrimSpace(to)
	if to == "" {
		return nil, fmt.Errorf("%w: empty email address", channel.ErrChatNotFound)
	}
	if msg == nil || strings.TrimSpace(msg.Content) == "" {
		return nil, errors.New("email content is empty")
	}

	m := mail.NewMsg()
	if err := m.From(e.config.From); err != nil {
		return nil, fmt.Errorf("invalid sender %q: %w", e.config.From, err)
	}
	if err := m.To(to); err != nil {
		return nil, fmt.Errorf("%w: invalid email address %q", channel.ErrChatNotFound, to)
	}

	subject := strings.TrimSpace(msg.Subject)
	if subject == "" {
		subject = defaultSubject
	}
	m.Subject(subject)
	m.SetBodyString(mail.TypeTextPlain, markdown.PlainText(msg.Content))
	m.AddAlternativeString(mail.TypeTextHTML, markdown.ToHTML(msg.Content))
	return m, nil
}

func (e *Email) newClient() (*mail.Client, error) {
	opts := []mail.Option{
		mail.WithPort(e.config.Port),
		mail.WithTimeout(e.config.Timeout),
	}
	switch e.config.TLS {
	case TLSImplicit:
		opts = append(opts, mail.WithSSL())
	case TLSNone:
		opts = append(opts, mail.WithTLSPolicy(mail.NoTLS))
	default:
		opts = append(opts, mail.WithTLSPolicy(mail.TLSMandatory))
	}
	if e.config.Username != "" {
		opts = append(opts,
			mail.WithSMTPAuth(mail.SMTPAuthPlain),
			mail.WithUsername(e.config.Username),
			mail.WithPassword(e.config.Password),
		)
	}

	client, err := mail.NewClient(e.config.Host, opts...)
	if err != nil {
		return nil, fmt.Errorf("create smtp client: %w", err)
	}
	return client, nil
}
