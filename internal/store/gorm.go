package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// GormStore is the postgres backend.
type GormStore struct {
	db *gorm.DB
}

var _ Store = (*GormStore)(nil)

func OpenPostgres(ctx context.Context, dsn string) (*GormStore, error) {
	gdb, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	s := &GormStore{db: gdb}
	if err := s.migrate(ctx); err != nil {
		_ = s.Close()
		return nil, err
	}
	return s, nil
}

// NewGormStore wraps an already opened connection, running migrations.
func NewGormStore(ctx context.Context, gdb *gorm.DB) (*GormStore, error) {
	s := &GormStore{db: gdb}
	if err := s.migrate(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *GormStore) migrate(ctx context.Context) error {
	db := s.db.WithContext(ctx)
	if err := db.AutoMigrate(
		&User{},
		&Assistant{},
		&Task{},
		&SSHServer{},
		&Script{},
		&NotifyTemplate{},
		&ExecutionRecord{},
		&NotificationLog{},
	); err != nil {
		return fmt.Errorf("auto migrate: %w", err)
	}

	stmts := []string{
		`create index if not exists idx_tasks_due on tasks(status, notify_sent, due_at);`,
		`create index if not exists idx_exec_script on execution_records(script_id, id desc);`,
		`create index if not exists idx_notification_logs_user on notification_logs(user_id, created_at desc);`,
	}
	for _, one := range stmts {
		if err := db.Exec(one).Error; err != nil {
			return fmt.Errorf("index exec failed: %w (sql=%s)", err, one)
		}
	}
	return nil
}

func (s *GormStore) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

func (s *GormStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func (s *GormStore) FetchDueReminders(ctx context.Context, now time.Time) ([]*Task, error) {
	var out []*Task
	err := s.db.WithContext(ctx).
		Where("status = ? AND notify_sent = ? AND due_at IS NOT NULL AND due_at <= ?", TaskPending, false, now.UTC()).
		Order("due_at, id").
		Find(&out).Error
	if err != nil {
		return nil, fmt.Errorf("query due reminders: %w", err)
	}
	return out, nil
}

func (s *GormStore) FetchDueAssistants(ctx context.Context, now time.Time) ([]*Assistant, error) {
	var out []*Assistant
	err := s.db.WithContext(ctx).
		Where("next_run_at IS NOT NULL AND next_run_at <= ?", now.UTC()).
		Order("next_run_at, id").
		Find(&out).Error
	if err != nil {
		return nil, fmt.Errorf("query due assistants: %w", err)
	}
	return out, nil
}

func (s *GormStore) MarkReminderNotified(ctx context.Context, id int64, at time.Time) (bool, error) {
	res := s.db.WithContext(ctx).Model(&Task{}).
		Where("id = ? AND notify_sent = ?", id, false).
		Updates(map[string]any{"notify_sent": true, "notify_sent_at": at.UTC()})
	if res.Error != nil {
		return false, fmt.Errorf("mark reminder notified: %w", res.Error)
	}
	if res.RowsAffected == 1 {
		return true, nil
	}
	if _, err := s.GetTask(ctx, id); err != nil {
		return false, err
	}
	return false, nil
}

func (s *GormStore) ResetReminderNotified(ctx context.Context, id int64) error {
	return affected(s.db.WithContext(ctx).Model(&Task{}).
		Where("id = ?", id).
		Updates(map[string]any{"notify_sent": false, "notify_sent_at": nil}), "reset reminder")
}

func (s *GormStore) SetReminderDue(ctx context.Context, id int64, due *time.Time) error {
	var dueAt any
	if due != nil {
		dueAt = due.UTC()
	}
	return affected(s.db.WithContext(ctx).Model(&Task{}).
		Where("id = ?", id).
		Updates(map[string]any{"due_at": dueAt, "notify_sent": false, "notify_sent_at": nil}), "set reminder due")
}

func (s *GormStore) AdvanceAssistant(ctx context.Context, id int64, prev, next *time.Time, ranAt time.Time) (bool, error) {
	var nextAt any
	if next != nil {
		nextAt = next.UTC()
	}
	q := s.db.WithContext(ctx).Model(&Assistant{}).Where("id = ?", id)
	if prev != nil {
		q = q.Where("next_run_at = ?", prev.UTC())
	} else {
		q = q.Where("next_run_at IS NULL")
	}
	res := q.Updates(map[string]any{"next_run_at": nextAt, "last_run_at": ranAt.UTC()})
	if res.Error != nil {
		return false, fmt.Errorf("advance assistant: %w", res.Error)
	}
	if res.RowsAffected == 1 {
		return true, nil
	}
	if _, err := s.GetAssistant(ctx, id); err != nil {
		return false, err
	}
	return false, nil
}

func (s *GormStore) AppendExecutionRecord(ctx context.Context, rec *ExecutionRecord) error {
	if err := s.db.WithContext(ctx).Create(rec).Error; err != nil {
		return fmt.Errorf("insert execution record: %w", err)
	}
	return nil
}

func (s *GormStore) AppendNotificationLog(ctx context.Context, entry *NotificationLog) error {
	if err := s.db.WithContext(ctx).Create(entry).Error; err != nil {
		return fmt.Errorf("insert notification log: %w", err)
	}
	return nil
}

func (s *GormStore) GetUser(ctx context.Context, id int64) (*User, error) {
	return first[User](ctx, s.db, "id = ?", id)
}

func (s *GormStore) UserByChatID(ctx context.Context, chatID string) (*User, error) {
	if chatID == "" {
		return nil, ErrNotFound
	}
	return first[User](ctx, s.db, "chat_id = ?", chatID)
}

func (s *GormStore) ListUsers(ctx context.Context) ([]*User, error) {
	var out []*User
	if err := s.db.WithContext(ctx).Order("id").Find(&out).Error; err != nil {
		return nil, fmt.Errorf("query users: %w", err)
	}
	return out, nil
}

func (s *GormStore) GetTask(ctx context.Context, id int64) (*Task, error) {
	return first[Task](ctx, s.db, "id = ?", id)
}

func (s *GormStore) ListPendingTasks(ctx context.Context, userID int64, assistantID *int64) ([]*Task, error) {
	q := s.db.WithContext(ctx).Where("user_id = ? AND status = ?", userID, TaskPending)
	if assistantID != nil {
		q = q.Where("assistant_id = ?", *assistantID)
	}
	var out []*Task
	if err := q.Order("due_at IS NULL, due_at, id").Find(&out).Error; err != nil {
		return nil, fmt.Errorf("query pending tasks: %w", err)
	}
	return out, nil
}

func (s *GormStore) ListTasksDueBetween(ctx context.Context, userID int64, from, to time.Time) ([]*Task, error) {
	var out []*Task
	err := s.db.WithContext(ctx).
		Where("user_id = ? AND status = ? AND due_at >= ? AND due_at < ?", userID, TaskPending, from.UTC(), to.UTC()).
		Order("due_at, id").
		Find(&out).Error
	if err != nil {
		return nil, fmt.Errorf("query tasks due between: %w", err)
	}
	return out, nil
}

func (s *GormStore) GetAssistant(ctx context.Context, id int64) (*Assistant, error) {
	return first[Assistant](ctx, s.db, "id = ?", id)
}

func (s *GormStore) GetScript(ctx context.Context, id int64) (*Script, error) {
	return first[Script](ctx, s.db, "id = ?", id)
}

func (s *GormStore) GetSSHServer(ctx context.Context, id int64) (*SSHServer, error) {
	return first[SSHServer](ctx, s.db, "id = ?", id)
}

func (s *GormStore) GetTemplate(ctx context.Context, id int64) (*NotifyTemplate, error) {
	return first[NotifyTemplate](ctx, s.db, "id = ?", id)
}

func (s *GormStore) ListExecutions(ctx context.Context, scriptID int64, limit int) ([]*ExecutionRecord, error) {
	if limit <= 0 {
		limit = defaultExecutionLimit
	}
	var out []*ExecutionRecord
	err := s.db.WithContext(ctx).
		Where("script_id = ?", scriptID).
		Order("id desc").
		Limit(limit).
		Find(&out).Error
	if err != nil {
		return nil, fmt.Errorf("query executions: %w", err)
	}
	return out, nil
}

func (s *GormStore) CreateUser(ctx context.Context, u *User) error {
	return s.create(ctx, u, "insert user")
}

func (s *GormStore) CreateTask(ctx context.Context, t *Task) error {
	if t.Status == "" {
		t.Status = TaskPending
	}
	return s.create(ctx, t, "insert task")
}

func (s *GormStore) CreateAssistant(ctx context.Context, a *Assistant) error {
	if a.Recurrence == "" {
		a.Recurrence = "none"
	}
	return s.create(ctx, a, "insert assistant")
}

func (s *GormStore) CreateScript(ctx context.Context, sc *Script) error {
	return s.create(ctx, sc, "insert script")
}

func (s *GormStore) CreateSSHServer(ctx context.Context, srv *SSHServer) error {
	if srv.Port == 0 {
		srv.Port = 22
	}
	if srv.AuthType == "" {
		srv.AuthType = AuthPassword
	}
	return s.create(ctx, srv, "insert ssh server")
}

func (s *GormStore) CreateTemplate(ctx context.Context, t *NotifyTemplate) error {
	return s.create(ctx, t, "insert template")
}

func (s *GormStore) create(ctx context.Context, v any, op string) error {
	if err := s.db.WithContext(ctx).Create(v).Error; err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

func first[T any](ctx context.Context, db *gorm.DB, query string, args ...any) (*T, error) {
	var out T
	err := db.WithContext(ctx).Where(query, args...).First(&out).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func affected(res *gorm.DB, op string) error {
	if res.Error != nil {
		return fmt.Errorf("%s: %w", op, res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}
