package store

import (
	"strings"
	"time"

	"github.com/tgifai/taskpilot/internal/recurrence"
)

type Priority string

const (
	PriorityHigh   Priority = "high"
	PriorityMedium Priority = "medium"
	PriorityLow    Priority = "low"
)

type TaskStatus string

const (
	TaskPending   TaskStatus = "pending"
	TaskCompleted TaskStatus = "completed"
	TaskCancelled TaskStatus = "cancelled"
	// TaskOverdue is never stored; see Task.EffectiveStatus.
	TaskOverdue TaskStatus = "overdue"
)

type AssistantKind string

const (
	KindReminder AssistantKind = "reminder"
	KindScript   AssistantKind = "script"
)

type Language string

const (
	LangPython     Language = "python"
	LangJavaScript Language = "javascript"
	LangShell      Language = "shell"
)

type Trigger string

const (
	TriggerManual    Trigger = "manual"
	TriggerScheduler Trigger = "scheduler"
)

type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomeFailed  Outcome = "failed"
	OutcomeTimeout Outcome = "timeout"
)

type DeliveryStatus string

const (
	DeliveryDelivered    DeliveryStatus = "delivered"
	DeliveryChatNotFound DeliveryStatus = "chat_not_found"
	DeliveryBlocked      DeliveryStatus = "blocked"
	DeliveryError        DeliveryStatus = "error"
	DeliverySkipped      DeliveryStatus = "skipped"
)

type AuthType string

const (
	AuthPassword AuthType = "password"
	AuthKey      AuthType = "key"
)

// User is the recipient side of a notification.
type User struct {
	ID        int64     `json:"id" gorm:"primaryKey"`
	Name      string    `json:"name" gorm:"not null"`
	Email     string    `json:"email,omitempty"`
	ChatID    string    `json:"chat_id,omitempty" gorm:"column:chat_id;index"`
	WhatsApp  string    `json:"whatsapp,omitempty" gorm:"column:whatsapp"`
	CreatedAt time.Time `json:"created_at"`
}

func (User) TableName() string { return "users" }

// Task is a reminder job. NotifySent is tied to the current DueAt.
type Task struct {
	ID           int64      `json:"id" gorm:"primaryKey"`
	UserID       int64      `json:"user_id" gorm:"index;not null"`
	Name         string     `json:"name" gorm:"not null"`
	Description  string     `json:"description,omitempty"`
	Priority     Priority   `json:"priority,omitempty"`
	DueAt        *time.Time `json:"due_at,omitempty" gorm:"column:due_at"`
	Status       TaskStatus `json:"status" gorm:"not null;default:'pending'"`
	NotifySent   bool       `json:"notify_sent" gorm:"not null;default:false"`
	NotifySentAt *time.Time `json:"notify_sent_at,omitempty"`
	AssistantID  *int64     `json:"assistant_id,omitempty" gorm:"column:assistant_id;index"`
	CreatedAt    time.Time  `json:"created_at"`
	CompletedAt  *time.Time `json:"completed_at,omitempty"`
	CancelledAt  *time.Time `json:"cancelled_at,omitempty"`
}

func (Task) TableName() string { return "tasks" }

// EffectiveStatus derives overdue from the due time for pending tasks.
func (t *Task) EffectiveStatus(now time.Time) TaskStatus {
	if t.Status == TaskPending && t.DueAt != nil && t.DueAt.Before(now) {
		return TaskOverdue
	}
	return t.Status
}

// Assistant is a recurring automation that fires a reminder or a script.
type Assistant struct {
	ID             int64           `json:"id" gorm:"primaryKey"`
	UserID         int64           `json:"user_id" gorm:"index;not null"`
	Name           string          `json:"name" gorm:"not null"`
	Kind           AssistantKind   `json:"kind" gorm:"not null"`
	Recurrence     recurrence.Rule `json:"recurrence" gorm:"column:recurrence;not null;default:'none'"`
	NextRunAt      *time.Time      `json:"next_run_at,omitempty" gorm:"column:next_run_at;index"`
	NotifyTelegram bool            `json:"notify_telegram" gorm:"column:notify_telegram"`
	NotifyEmail    bool            `json:"notify_email" gorm:"column:notify_email"`
	NotifyWhatsApp bool            `json:"notify_whatsapp" gorm:"column:notify_whatsapp"`
	TemplateID     *int64          `json:"template_id,omitempty" gorm:"column:template_id"`
	ScriptID       *int64          `json:"script_id,omitempty" gorm:"column:script_id"`
	LastRunAt      *time.Time      `json:"last_run_at,omitempty" gorm:"column:last_run_at"`
	CreatedAt      time.Time       `json:"created_at"`
}

func (Assistant) TableName() string { return "assistants" }

// Channels lists the channel types enabled on the assistant.
func (a *Assistant) Channels() []string {
	var out []string
	if a.NotifyTelegram {
		out = append(out, "telegram")
	}
	if a.NotifyEmail {
		out = append(out, "email")
	}
	if a.NotifyWhatsApp {
		out = append(out, "whatsapp")
	}
	return out
}

type Script struct {
	ID          int64     `json:"id" gorm:"primaryKey"`
	UserID      int64     `json:"user_id" gorm:"index;not null"`
	Name        string    `json:"name" gorm:"not null"`
	Language    Language  `json:"language" gorm:"not null"`
	Code        string    `json:"code" gorm:"type:text;not null"`
	SSHServerID *int64    `json:"ssh_server_id,omitempty" gorm:"column:ssh_server_id"`
	TimeoutSec  *int      `json:"timeout_sec,omitempty" gorm:"column:timeout_sec"`
	CreatedAt   time.Time `json:"created_at"`
}

func (Script) TableName() string { return "scripts" }

// NormalizeLanguage maps aliases to a canonical language.
func NormalizeLanguage(s string) (Language, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "python", "python3", "py":
		return LangPython, true
	case "javascript", "js", "node", "nodejs":
		return LangJavaScript, true
	case "shell", "bash", "sh":
		return LangShell, true
	default:
		return Language(s), false
	}
}

type SSHServer struct {
	ID         int64     `json:"id" gorm:"primaryKey"`
	UserID     int64     `json:"user_id" gorm:"index;not null"`
	Name       string    `json:"name"`
	Host       string    `json:"host" gorm:"not null"`
	Port       int       `json:"port" gorm:"not null;default:22"`
	Username   string    `json:"username" gorm:"not null"`
	AuthType   AuthType  `json:"auth_type" gorm:"column:auth_type;not null;default:'password'"`
	Password   string    `json:"-"`
	PrivateKey string    `json:"-" gorm:"column:private_key;type:text"`
	Active     bool      `json:"active" gorm:"not null"`
	CreatedAt  time.Time `json:"created_at"`
}

func (SSHServer) TableName() string { return "ssh_servers" }

type NotifyTemplate struct {
	ID        int64     `json:"id" gorm:"primaryKey"`
	UserID    int64     `json:"user_id" gorm:"index;not null"`
	Name      string    `json:"name"`
	Text      string    `json:"text" gorm:"type:text;not null"`
	CreatedAt time.Time `json:"created_at"`
}

func (NotifyTemplate) TableName() string { return "notify_templates" }

// ExecutionRecord is the audit entry of one script invocation.
type ExecutionRecord struct {
	ID         int64     `json:"id" gorm:"primaryKey"`
	ScriptID   int64     `json:"script_id" gorm:"index;not null"`
	Trigger    Trigger   `json:"trigger" gorm:"column:trigger_type;not null"`
	Input      string    `json:"input,omitempty" gorm:"type:text"`
	StartedAt  time.Time `json:"started_at" gorm:"not null"`
	EndedAt    time.Time `json:"ended_at" gorm:"not null"`
	Stdout     string    `json:"stdout" gorm:"type:text"`
	Stderr     string    `json:"stderr" gorm:"type:text"`
	ExitCode   int       `json:"exit_code"`
	Outcome    Outcome   `json:"outcome" gorm:"not null"`
	Result     string    `json:"result,omitempty" gorm:"type:text"`
	ShareToken string    `json:"share_token,omitempty" gorm:"column:share_token"`
}

func (ExecutionRecord) TableName() string { return "execution_records" }

func (r *ExecutionRecord) Duration() time.Duration {
	return r.EndedAt.Sub(r.StartedAt)
}

// NotificationLog records one delivery attempt on one channel.
type NotificationLog struct {
	ID          int64          `json:"id" gorm:"primaryKey"`
	UserID      int64          `json:"user_id" gorm:"index"`
	TaskID      *int64         `json:"task_id,omitempty" gorm:"column:task_id"`
	AssistantID *int64         `json:"assistant_id,omitempty" gorm:"column:assistant_id"`
	Channel     string         `json:"channel" gorm:"not null"`
	Message     string         `json:"message" gorm:"type:text"`
	Status      DeliveryStatus `json:"status" gorm:"not null"`
	Error       string         `json:"error,omitempty" gorm:"type:text"`
	CreatedAt   time.Time      `json:"created_at"`
}

func (NotificationLog) TableName() string { return "notification_logs" }
