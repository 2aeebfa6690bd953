package dispatch

import (
	"fmt"
	"strings"
	"time"

	"github.com/tgifai/taskpilot/internal/channel"
	"github.com/tgifai/taskpilot/internal/store"
)

const timeLayout = "2006-01-02 15:04"

var mdEscaper = strings.NewReplacer(
	`\`, `\\`, "*", `\*`, "_", `\_`, "`", "\\`", "[", `\[`, "]", `\]`,
)

// escape neutralizes markdown in user-provided text.
func escape(s string) string {
	return mdEscaper.Replace(s)
}

func PriorityEmoji(p store.Priority) string {
	switch p {
	case store.PriorityHigh:
		return "🔴"
	case store.PriorityMedium:
		return "🟡"
	case store.PriorityLow:
		return "🟢"
	default:
		return "📝"
	}
}

// Urgency describes how far due is from now: "now", "in 5 minutes",
// "in 2 hours" or "overdue by 3 hours".
func Urgency(due, now time.Time) string {
	d := due.Sub(now)
	switch {
	case d <= -time.Minute:
		return "overdue by " + span(-d)
	case d < time.Minute:
		return "now"
	case d < time.Hour:
		return "in " + plural(int(d/time.Minute), "minute")
	default:
		return "in " + plural(int(d/time.Hour), "hour")
	}
}

func span(d time.Duration) string {
	switch {
	case d < time.Hour:
		return plural(int(d/time.Minute), "minute")
	case d < 48*time.Hour:
		return plural(int(d/time.Hour), "hour")
	default:
		return plural(int(d/(24*time.Hour)), "day")
	}
}

func plural(n int, unit string) string {
	if n == 1 {
		return "1 " + unit
	}
	return fmt.Sprintf("%d %ss", n, unit)
}

func inLocation(t time.Time, loc *time.Location) time.Time {
	if loc == nil {
		return t
	}
	return t.In(loc)
}

// ReminderMessage composes the notification for a due task.
func ReminderMessage(t *store.Task, now time.Time, loc *time.Location) *channel.Message {
	var b strings.Builder
	b.WriteString("⏰ **Reminder**\n\n")
	fmt.Fprintf(&b, "%s **%s**\n\n", PriorityEmoji(t.Priority), escape(t.Name))
	if desc := strings.TrimSpace(t.Description); desc != "" {
		fmt.Fprintf(&b, "📋 %s\n\n", escape(desc))
	}
	if t.DueAt != nil {
		fmt.Fprintf(&b, "📅 Due: %s\n", inLocation(*t.DueAt, loc).Format(timeLayout))
		fmt.Fprintf(&b, "⏱ %s", Urgency(*t.DueAt, now))
	}
	return &channel.Message{
		Subject: "Reminder: " + t.Name,
		Content: strings.TrimSpace(b.String()),
	}
}

// ScriptMessage composes the notification for a script assistant run. A
// template, when set, replaces the headline and may use {assistant},
// {script}, {outcome}, {result} and {date}.
func ScriptMessage(a *store.Assistant, tmpl *store.NotifyTemplate, script *store.Script, rec *store.ExecutionRecord, loc *time.Location) *channel.Message {
	name := "script"
	if script != nil && script.Name != "" {
		name = script.Name
	}

	var icon, verb string
	switch rec.Outcome {
	case store.OutcomeSuccess:
		icon, verb = "✅", "executed"
	case store.OutcomeTimeout:
		icon, verb = "⏱", "timed out"
	default:
		icon, verb = "❌", "failed"
	}

	assistant := ""
	if a != nil {
		assistant = a.Name
	}
	result := strings.TrimSpace(rec.Result)

	var b strings.Builder
	if tmpl != nil && strings.TrimSpace(tmpl.Text) != "" {
		b.WriteString(expandTemplate(tmpl.Text,
			"{assistant}", escape(assistant),
			"{script}", escape(name),
			"{outcome}", string(rec.Outcome),
			"{result}", escape(result),
			"{date}", inLocation(rec.StartedAt, loc).Format("2006-01-02"),
		))
		b.WriteString("\n\n")
	} else {
		fmt.Fprintf(&b, "%s **Script %s**: %s\n\n", icon, verb, escape(name))
	}
	if assistant != "" {
		fmt.Fprintf(&b, "🤖 Assistant: %s\n", escape(assistant))
	}
	fmt.Fprintf(&b, "⏲ Duration: %s", rec.Duration().Round(time.Millisecond))
	if rec.Outcome != store.OutcomeSuccess {
		fmt.Fprintf(&b, " (exit %d)", rec.ExitCode)
	}
	if result != "" {
		fmt.Fprintf(&b, "\n\n```\n%s\n```", strings.ReplaceAll(result, "```", "'''"))
	}
	return &channel.Message{
		Subject: fmt.Sprintf("Script %s: %s", verb, name),
		Content: b.String(),
	}
}

// AssistantMessage composes the notification of a reminder assistant: its
// template (or name) followed by the assistant's pending tasks. Templates
// may use {assistant}, {count} and {date}.
func AssistantMessage(a *store.Assistant, tmpl *store.NotifyTemplate, tasks []*store.Task, now time.Time, loc *time.Location) *channel.Message {
	var b strings.Builder
	if tmpl != nil && strings.TrimSpace(tmpl.Text) != "" {
		b.WriteString(expandTemplate(tmpl.Text,
			"{assistant}", escape(a.Name),
			"{count}", fmt.Sprint(len(tasks)),
			"{date}", inLocation(now, loc).Format("2006-01-02"),
		))
	} else {
		fmt.Fprintf(&b, "🔔 **%s**", escape(a.Name))
	}
	b.WriteString("\n\n")
	if len(tasks) == 0 {
		b.WriteString("No pending tasks.")
	} else {
		writeTaskList(&b, tasks, loc, timeLayout)
	}
	return &channel.Message{
		Subject: a.Name,
		Content: strings.TrimSpace(b.String()),
	}
}

// expandTemplate substitutes {placeholder} pairs in a user template.
// Unknown placeholders are left as written.
func expandTemplate(text string, pairs ...string) string {
	return strings.NewReplacer(pairs...).Replace(text)
}

// DailySummary composes the morning digest of today's pending tasks.
func DailySummary(rcpt Recipient, tasks []*store.Task, loc *time.Location) *channel.Message {
	greeting := "Good morning!"
	if rcpt.Name != "" {
		greeting = fmt.Sprintf("Good morning, %s!", escape(rcpt.Name))
	}

	var b strings.Builder
	if len(tasks) == 0 {
		fmt.Fprintf(&b, "🎉 **%s**\n\nNo tasks due today. Enjoy your day!", greeting)
	} else {
		fmt.Fprintf(&b, "🌅 **%s**\n\nYou have %s today:\n\n", greeting, plural(len(tasks), "task"))
		writeTaskList(&b, tasks, loc, "15:04")
		b.WriteString("\n\n💪 Let's make it a productive day!")
	}
	return &channel.Message{
		Subject: "Today's tasks",
		Content: b.String(),
	}
}

// TodayMessage answers the chat command listing today's tasks.
func TodayMessage(tasks []*store.Task, loc *time.Location) *channel.Message {
	var b strings.Builder
	b.WriteString("📅 **Today**\n\n")
	if len(tasks) == 0 {
		b.WriteString("Nothing due today.")
	} else {
		writeTaskList(&b, tasks, loc, "15:04")
	}
	return &channel.Message{Subject: "Today", Content: b.String()}
}

func writeTaskList(b *strings.Builder, tasks []*store.Task, loc *time.Location, layout string) {
	for i, t := range tasks {
		if i > 0 {
			b.WriteByte('\n')
		}
		fmt.Fprintf(b, "%d. %s %s", i+1, PriorityEmoji(t.Priority), escape(t.Name))
		if t.DueAt != nil {
			fmt.Fprintf(b, " (%s)", inLocation(*t.DueAt, loc).Format(layout))
		}
	}
}
