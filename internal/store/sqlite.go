package store

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrations embed.FS

// timeLayout is fixed width so lexical order matches chronological order.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

var sqliteMigrations = []string{
	"0001_init",
	"0002_share_token",
}

type SQLiteStore struct {
	db *sql.DB
}

var _ Store = (*SQLiteStore)(nil)

// OpenSQLite opens (creating if needed) the database at path and migrates it.
func OpenSQLite(ctx context.Context, path string) (*SQLiteStore, error) {
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("ensure db dir: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// One writer at a time; a single pooled connection keeps the pragmas
	// applied and serializes writes inside the process.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	timeout := int((5 * time.Second) / time.Millisecond)
	if _, err := db.ExecContext(ctx, fmt.Sprintf("PRAGMA busy_timeout=%d;", timeout)); err != nil {
		db.Close()
		return nil, fmt.Errorf("set busy timeout: %w", err)
	}
	if _, err := db.ExecContext(ctx, `PRAGMA journal_mode=WAL;`); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable WAL: %w", err)
	}
	if err := migrateSQLite(ctx, db); err != nil {
		db.Close()
		return nil, err
	}
	return &SQLiteStore{db: db}, nil
}

func migrateSQLite(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version TEXT PRIMARY KEY,
			applied_at TEXT NOT NULL
		);
	`); err != nil {
		return fmt.Errorf("create schema_migrations: %w", err)
	}

	for _, version := range sqliteMigrations {
		var count int
		if err := db.QueryRowContext(ctx, `SELECT COUNT(1) FROM schema_migrations WHERE version = ?`, version).Scan(&count); err != nil {
			return fmt.Errorf("check migration %s: %w", version, err)
		}
		if count > 0 {
			continue
		}
		raw, err := migrations.ReadFile("migrations/" + version + ".sql")
		if err != nil {
			return fmt.Errorf("read migration %s: %w", version, err)
		}
		if _, err := db.ExecContext(ctx, string(raw)); err != nil {
			return fmt.Errorf("apply migration %s: %w", version, err)
		}
		if _, err := db.ExecContext(ctx, `INSERT INTO schema_migrations(version, applied_at) VALUES(?, ?)`,
			version, formatTime(time.Now())); err != nil {
			return fmt.Errorf("record migration %s: %w", version, err)
		}
	}
	return nil
}

func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// ----- scheduler surface -----

const taskColumns = `id, user_id, name, description, priority, due_at, status, notify_sent, notify_sent_at,
	assistant_id, created_at, completed_at, cancelled_at`

const assistantColumns = `id, user_id, name, kind, recurrence, next_run_at, notify_telegram, notify_email,
	notify_whatsapp, template_id, script_id, last_run_at, created_at`

func (s *SQLiteStore) FetchDueReminders(ctx context.Context, now time.Time) ([]*Task, error) {
	return s.queryTasks(ctx, `
		SELECT `+taskColumns+`
		FROM tasks
		WHERE status = ? AND notify_sent = 0 AND due_at IS NOT NULL AND due_at <= ?
		ORDER BY due_at, id
	`, TaskPending, formatTime(now))
}

func (s *SQLiteStore) FetchDueAssistants(ctx context.Context, now time.Time) ([]*Assistant, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+assistantColumns+`
		FROM assistants
		WHERE next_run_at IS NOT NULL AND next_run_at <= ?
		ORDER BY next_run_at, id
	`, formatTime(now))
	if err != nil {
		return nil, fmt.Errorf("query due assistants: %w", err)
	}
	defer rows.Close()

	var out []*Assistant
	for rows.Next() {
		a, err := scanAssistant(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) MarkReminderNotified(ctx context.Context, id int64, at time.Time) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE tasks SET notify_sent = 1, notify_sent_at = ?
		WHERE id = ? AND notify_sent = 0
	`, formatTime(at), id)
	if err != nil {
		return false, fmt.Errorf("mark reminder notified: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("mark reminder notified rows: %w", err)
	}
	if rows == 1 {
		return true, nil
	}
	if err := s.taskExists(ctx, id); err != nil {
		return false, err
	}
	return false, nil
}

func (s *SQLiteStore) ResetReminderNotified(ctx context.Context, id int64) error {
	return s.execOne(ctx, "reset reminder", `
		UPDATE tasks SET notify_sent = 0, notify_sent_at = NULL WHERE id = ?
	`, id)
}

func (s *SQLiteStore) SetReminderDue(ctx context.Context, id int64, due *time.Time) error {
	return s.execOne(ctx, "set reminder due", `
		UPDATE tasks SET due_at = ?, notify_sent = 0, notify_sent_at = NULL WHERE id = ?
	`, nullableTime(due), id)
}

func (s *SQLiteStore) AdvanceAssistant(ctx context.Context, id int64, prev, next *time.Time, ranAt time.Time) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE assistants SET next_run_at = ?, last_run_at = ?
		WHERE id = ? AND next_run_at IS ?
	`, nullableTime(next), formatTime(ranAt), id, nullableTime(prev))
	if err != nil {
		return false, fmt.Errorf("advance assistant: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("advance assistant rows: %w", err)
	}
	if rows == 1 {
		return true, nil
	}
	if _, err := s.GetAssistant(ctx, id); err != nil {
		return false, err
	}
	return false, nil
}

func (s *SQLiteStore) AppendExecutionRecord(ctx context.Context, rec *ExecutionRecord) error {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO execution_records (script_id, trigger_type, input, started_at, ended_at, stdout, stderr,
			exit_code, outcome, result, share_token)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, rec.ScriptID, rec.Trigger, rec.Input, formatTime(rec.StartedAt), formatTime(rec.EndedAt),
		rec.Stdout, rec.Stderr, rec.ExitCode, rec.Outcome, rec.Result, rec.ShareToken)
	if err != nil {
		return fmt.Errorf("insert execution record: %w", err)
	}
	rec.ID, err = res.LastInsertId()
	return err
}

func (s *SQLiteStore) AppendNotificationLog(ctx context.Context, entry *NotificationLog) error {
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO notification_logs (user_id, task_id, assistant_id, channel, message, status, error, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, entry.UserID, nullableInt64(entry.TaskID), nullableInt64(entry.AssistantID), entry.Channel,
		entry.Message, entry.Status, entry.Error, formatTime(entry.CreatedAt))
	if err != nil {
		return fmt.Errorf("insert notification log: %w", err)
	}
	entry.ID, err = res.LastInsertId()
	return err
}

// ----- lookups -----

func (s *SQLiteStore) GetUser(ctx context.Context, id int64) (*User, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, name, email, chat_id, whatsapp, created_at FROM users WHERE id = ?
	`, id)
	v, err := scanUser(row)
	if err != nil {
		return nil, rowErr(err)
	}
	return v, nil
}

func (s *SQLiteStore) UserByChatID(ctx context.Context, chatID string) (*User, error) {
	if chatID == "" {
		return nil, ErrNotFound
	}
	row := s.db.QueryRowContext(ctx, `
		SELECT id, name, email, chat_id, whatsapp, created_at FROM users WHERE chat_id = ? ORDER BY id LIMIT 1
	`, chatID)
	v, err := scanUser(row)
	if err != nil {
		return nil, rowErr(err)
	}
	return v, nil
}

func (s *SQLiteStore) ListUsers(ctx context.Context) ([]*User, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, name, email, chat_id, whatsapp, created_at FROM users ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("query users: %w", err)
	}
	defer rows.Close()

	var out []*User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) GetTask(ctx context.Context, id int64) (*Task, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id = ?`, id)
	v, err := scanTask(row)
	if err != nil {
		return nil, rowErr(err)
	}
	return v, nil
}

func (s *SQLiteStore) ListPendingTasks(ctx context.Context, userID int64, assistantID *int64) ([]*Task, error) {
	if assistantID != nil {
		return s.queryTasks(ctx, `
			SELECT `+taskColumns+` FROM tasks
			WHERE user_id = ? AND status = ? AND assistant_id = ?
			ORDER BY due_at IS NULL, due_at, id
		`, userID, TaskPending, *assistantID)
	}
	return s.queryTasks(ctx, `
		SELECT `+taskColumns+` FROM tasks
		WHERE user_id = ? AND status = ?
		ORDER BY due_at IS NULL, due_at, id
	`, userID, TaskPending)
}

func (s *SQLiteStore) ListTasksDueBetween(ctx context.Context, userID int64, from, to time.Time) ([]*Task, error) {
	return s.queryTasks(ctx, `
		SELECT `+taskColumns+` FROM tasks
		WHERE user_id = ? AND status = ? AND due_at IS NOT NULL AND due_at >= ? AND due_at < ?
		ORDER BY due_at, id
	`, userID, TaskPending, formatTime(from), formatTime(to))
}

func (s *SQLiteStore) GetAssistant(ctx context.Context, id int64) (*Assistant, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+assistantColumns+` FROM assistants WHERE id = ?`, id)
	v, err := scanAssistant(row)
	if err != nil {
		return nil, rowErr(err)
	}
	return v, nil
}

func (s *SQLiteStore) GetScript(ctx context.Context, id int64) (*Script, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, user_id, name, language, code, ssh_server_id, timeout_sec, created_at FROM scripts WHERE id = ?
	`, id)
	v, err := scanScript(row)
	if err != nil {
		return nil, rowErr(err)
	}
	return v, nil
}

func (s *SQLiteStore) GetSSHServer(ctx context.Context, id int64) (*SSHServer, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, user_id, name, host, port, username, auth_type, password, private_key, active, created_at
		FROM ssh_servers WHERE id = ?
	`, id)
	v, err := scanSSHServer(row)
	if err != nil {
		return nil, rowErr(err)
	}
	return v, nil
}

func (s *SQLiteStore) GetTemplate(ctx context.Context, id int64) (*NotifyTemplate, error) {
	var (
		t         NotifyTemplate
		createdAt string
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT id, user_id, name, text, created_at FROM notify_templates WHERE id = ?
	`, id).Scan(&t.ID, &t.UserID, &t.Name, &t.Text, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan template: %w", err)
	}
	t.CreatedAt = parseTime(createdAt)
	return &t, nil
}

func (s *SQLiteStore) ListExecutions(ctx context.Context, scriptID int64, limit int) ([]*ExecutionRecord, error) {
	if limit <= 0 {
		limit = defaultExecutionLimit
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, script_id, trigger_type, input, started_at, ended_at, stdout, stderr, exit_code, outcome,
			result, share_token
		FROM execution_records WHERE script_id = ?
		ORDER BY id DESC LIMIT ?
	`, scriptID, limit)
	if err != nil {
		return nil, fmt.Errorf("query executions: %w", err)
	}
	defer rows.Close()

	var out []*ExecutionRecord
	for rows.Next() {
		var (
			rec              ExecutionRecord
			started, stopped string
		)
		if err := rows.Scan(&rec.ID, &rec.ScriptID, &rec.Trigger, &rec.Input, &started, &stopped, &rec.Stdout,
			&rec.Stderr, &rec.ExitCode, &rec.Outcome, &rec.Result, &rec.ShareToken); err != nil {
			return nil, fmt.Errorf("scan execution: %w", err)
		}
		rec.StartedAt = parseTime(started)
		rec.EndedAt = parseTime(stopped)
		out = append(out, &rec)
	}
	return out, rows.Err()
}

// ----- create helpers -----

func (s *SQLiteStore) CreateUser(ctx context.Context, u *User) error {
	u.CreatedAt = stamp(u.CreatedAt)
	return s.insert(ctx, &u.ID, "insert user", `
		INSERT INTO users (name, email, chat_id, whatsapp, created_at) VALUES (?, ?, ?, ?, ?)
	`, u.Name, u.Email, u.ChatID, u.WhatsApp, formatTime(u.CreatedAt))
}

func (s *SQLiteStore) CreateTask(ctx context.Context, t *Task) error {
	t.CreatedAt = stamp(t.CreatedAt)
	if t.Status == "" {
		t.Status = TaskPending
	}
	return s.insert(ctx, &t.ID, "insert task", `
		INSERT INTO tasks (user_id, name, description, priority, due_at, status, notify_sent, notify_sent_at,
			assistant_id, created_at, completed_at, cancelled_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, t.UserID, t.Name, t.Description, t.Priority, nullableTime(t.DueAt), t.Status, t.NotifySent,
		nullableTime(t.NotifySentAt), nullableInt64(t.AssistantID), formatTime(t.CreatedAt),
		nullableTime(t.CompletedAt), nullableTime(t.CancelledAt))
}

func (s *SQLiteStore) CreateAssistant(ctx context.Context, a *Assistant) error {
	a.CreatedAt = stamp(a.CreatedAt)
	if a.Recurrence == "" {
		a.Recurrence = "none"
	}
	return s.insert(ctx, &a.ID, "insert assistant", `
		INSERT INTO assistants (user_id, name, kind, recurrence, next_run_at, notify_telegram, notify_email,
			notify_whatsapp, template_id, script_id, last_run_at, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, a.UserID, a.Name, a.Kind, a.Recurrence, nullableTime(a.NextRunAt), a.NotifyTelegram, a.NotifyEmail,
		a.NotifyWhatsApp, nullableInt64(a.TemplateID), nullableInt64(a.ScriptID), nullableTime(a.LastRunAt),
		formatTime(a.CreatedAt))
}

func (s *SQLiteStore) CreateScript(ctx context.Context, sc *Script) error {
	sc.CreatedAt = stamp(sc.CreatedAt)
	return s.insert(ctx, &sc.ID, "insert script", `
		INSERT INTO scripts (user_id, name, language, code, ssh_server_id, timeout_sec, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, sc.UserID, sc.Name, sc.Language, sc.Code, nullableInt64(sc.SSHServerID), nullableInt(sc.TimeoutSec),
		formatTime(sc.CreatedAt))
}

func (s *SQLiteStore) CreateSSHServer(ctx context.Context, srv *SSHServer) error {
	srv.CreatedAt = stamp(srv.CreatedAt)
	if srv.Port == 0 {
		srv.Port = 22
	}
	if srv.AuthType == "" {
		srv.AuthType = AuthPassword
	}
	return s.insert(ctx, &srv.ID, "insert ssh server", `
		INSERT INTO ssh_servers (user_id, name, host, port, username, auth_type, password, private_key, active, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, srv.UserID, srv.Name, srv.Host, srv.Port, srv.Username, srv.AuthType, srv.Password, srv.PrivateKey,
		srv.Active, formatTime(srv.CreatedAt))
}

func (s *SQLiteStore) CreateTemplate(ctx context.Context, t *NotifyTemplate) error {
	t.CreatedAt = stamp(t.CreatedAt)
	return s.insert(ctx, &t.ID, "insert template", `
		INSERT INTO notify_templates (user_id, name, text, created_at) VALUES (?, ?, ?, ?)
	`, t.UserID, t.Name, t.Text, formatTime(t.CreatedAt))
}

// ----- internal -----

func (s *SQLiteStore) queryTasks(ctx context.Context, query string, args ...any) ([]*Task, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query tasks: %w", err)
	}
	defer rows.Close()

	var out []*Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) execOne(ctx context.Context, op, query string, args ...any) error {
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s rows: %w", op, err)
	}
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLiteStore) insert(ctx context.Context, id *int64, op, query string, args ...any) error {
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	*id, err = res.LastInsertId()
	if err != nil {
		return fmt.Errorf("%s id: %w", op, err)
	}
	return nil
}

func (s *SQLiteStore) taskExists(ctx context.Context, id int64) error {
	var one int
	err := s.db.QueryRowContext(ctx, `SELECT 1 FROM tasks WHERE id = ?`, id).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("check task: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(row rowScanner) (*User, error) {
	var (
		u         User
		createdAt string
	)
	if err := row.Scan(&u.ID, &u.Name, &u.Email, &u.ChatID, &u.WhatsApp, &createdAt); err != nil {
		return nil, err
	}
	u.CreatedAt = parseTime(createdAt)
	return &u, nil
}

func scanTask(row rowScanner) (*Task, error) {
	var (
		t                                  Task
		dueAt, sentAt, doneAt, cancelledAt sql.NullString
		assistantID                        sql.NullInt64
		createdAt                          string
	)
	if err := row.Scan(&t.ID, &t.UserID, &t.Name, &t.Description, &t.Priority, &dueAt, &t.Status, &t.NotifySent,
		&sentAt, &assistantID, &createdAt, &doneAt, &cancelledAt); err != nil {
		return nil, err
	}
	t.DueAt = parseNullTime(dueAt)
	t.NotifySentAt = parseNullTime(sentAt)
	t.CompletedAt = parseNullTime(doneAt)
	t.CancelledAt = parseNullTime(cancelledAt)
	t.AssistantID = parseNullInt64(assistantID)
	t.CreatedAt = parseTime(createdAt)
	return &t, nil
}

func scanAssistant(row rowScanner) (*Assistant, error) {
	var (
		a                  Assistant
		nextRun, lastRun   sql.NullString
		templateID, script sql.NullInt64
		createdAt          string
	)
	if err := row.Scan(&a.ID, &a.UserID, &a.Name, &a.Kind, &a.Recurrence, &nextRun, &a.NotifyTelegram,
		&a.NotifyEmail, &a.NotifyWhatsApp, &templateID, &script, &lastRun, &createdAt); err != nil {
		return nil, err
	}
	a.NextRunAt = parseNullTime(nextRun)
	a.LastRunAt = parseNullTime(lastRun)
	a.TemplateID = parseNullInt64(templateID)
	a.ScriptID = parseNullInt64(script)
	a.CreatedAt = parseTime(createdAt)
	return &a, nil
}

func scanScript(row rowScanner) (*Script, error) {
	var (
		sc        Script
		serverID  sql.NullInt64
		timeout   sql.NullInt64
		createdAt string
	)
	if err := row.Scan(&sc.ID, &sc.UserID, &sc.Name, &sc.Language, &sc.Code, &serverID, &timeout, &createdAt); err != nil {
		return nil, err
	}
	sc.SSHServerID = parseNullInt64(serverID)
	if timeout.Valid {
		v := int(timeout.Int64)
		sc.TimeoutSec = &v
	}
	sc.CreatedAt = parseTime(createdAt)
	return &sc, nil
}

func scanSSHServer(row rowScanner) (*SSHServer, error) {
	var (
		srv       SSHServer
		createdAt string
	)
	if err := row.Scan(&srv.ID, &srv.UserID, &srv.Name, &srv.Host, &srv.Port, &srv.Username, &srv.AuthType,
		&srv.Password, &srv.PrivateKey, &srv.Active, &createdAt); err != nil {
		return nil, err
	}
	srv.CreatedAt = parseTime(createdAt)
	return &srv, nil
}

func rowErr(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	return fmt.Errorf("scan row: %w", err)
}

func stamp(t time.Time) time.Time {
	if t.IsZero() {
		return time.Now().UTC()
	}
	return t
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) time.Time {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		t, _ = time.Parse(time.RFC3339Nano, s)
	}
	return t
}

func parseNullTime(ns sql.NullString) *time.Time {
	if !ns.Valid || ns.String == "" {
		return nil
	}
	t := parseTime(ns.String)
	return &t
}

func parseNullInt64(n sql.NullInt64) *int64 {
	if !n.Valid {
		return nil
	}
	v := n.Int64
	return &v
}

func nullableTime(value *time.Time) any {
	if value == nil {
		return nil
	}
	return formatTime(*value)
}

func nullableInt64(value *int64) any {
	if value == nil {
		return nil
	}
	return *value
}

func nullableInt(value *int) any {
	if value == nil {
		return nil
	}
	return *value
}
