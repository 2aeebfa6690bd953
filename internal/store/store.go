package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/tgifai/taskpilot/internal/config"
)

var ErrNotFound = errors.New("record not found")

// Store is the persistence surface of the scheduler and its callers.
type Store interface {
	FetchDueReminders(ctx context.Context, now time.Time) ([]*Task, error)
	FetchDueAssistants(ctx context.Context, now time.Time) ([]*Assistant, error)
	// MarkReminderNotified sets notify_sent only if it is still false.
	// claimed reports whether this caller won the update.
	MarkReminderNotified(ctx context.Context, id int64, at time.Time) (claimed bool, err error)
	ResetReminderNotified(ctx context.Context, id int64) error
	// SetReminderDue moves the due time and clears the notified flag.
	SetReminderDue(ctx context.Context, id int64, due *time.Time) error
	// AdvanceAssistant moves next_run_at from prev to next only if it still
	// equals prev. claimed reports whether this caller won the update.
	AdvanceAssistant(ctx context.Context, id int64, prev, next *time.Time, ranAt time.Time) (claimed bool, err error)
	AppendExecutionRecord(ctx context.Context, rec *ExecutionRecord) error
	AppendNotificationLog(ctx context.Context, entry *NotificationLog) error

	GetUser(ctx context.Context, id int64) (*User, error)
	UserByChatID(ctx context.Context, chatID string) (*User, error)
	ListUsers(ctx context.Context) ([]*User, error)
	GetTask(ctx context.Context, id int64) (*Task, error)
	ListPendingTasks(ctx context.Context, userID int64, assistantID *int64) ([]*Task, error)
	ListTasksDueBetween(ctx context.Context, userID int64, from, to time.Time) ([]*Task, error)
	GetAssistant(ctx context.Context, id int64) (*Assistant, error)
	GetScript(ctx context.Context, id int64) (*Script, error)
	GetSSHServer(ctx context.Context, id int64) (*SSHServer, error)
	GetTemplate(ctx context.Context, id int64) (*NotifyTemplate, error)
	ListExecutions(ctx context.Context, scriptID int64, limit int) ([]*ExecutionRecord, error)

	CreateUser(ctx context.Context, u *User) error
	CreateTask(ctx context.Context, t *Task) error
	CreateAssistant(ctx context.Context, a *Assistant) error
	CreateScript(ctx context.Context, s *Script) error
	CreateSSHServer(ctx context.Context, s *SSHServer) error
	CreateTemplate(ctx context.Context, t *NotifyTemplate) error

	Ping(ctx context.Context) error
	Close() error
}

// Open selects the backend named by cfg.Driver.
func Open(ctx context.Context, cfg config.StoreConfig) (Store, error) {
	switch cfg.Driver {
	case "", "sqlite":
		return OpenSQLite(ctx, cfg.Path)
	case "postgres":
		return OpenPostgres(ctx, cfg.DSN)
	default:
		return nil, fmt.Errorf("unsupported store driver: %s", cfg.Driver)
	}
}

const defaultExecutionLimit = 20
