package telegraph

import (
	"fmt"
	"strings"
	"time"

	"github.com/zulandar/frontdesk/internal/channel"
)

// Color constants for event severity.
const (
	ColorSuccess = "#36a64f"
	ColorInfo    = "#2196f3"
	ColorWarning = "#ff9800"
	ColorError   = "#e53935"
)

// severityColor maps a severity string to a sidebar color.
func severityColor(severity string) string {
	switch severity {
	case "success":
		return ColorSuccess
	case "info":
		return ColorInfo
	case "warning":
		return ColorWarning
	case "error":
		return ColorError
	default:
		return ColorInfo
	}
}

// FormatWalkUp formats the alert raised when a conversation arrives that
// the backlog did not announce.
func FormatWalkUp(c channel.Channel) FormattedEvent {
	title := fmt.Sprintf("Novo atendimento: %s", c.Name)

	var bodyParts []string
	if c.LastMessage != "" {
		bodyParts = append(bodyParts, truncate(c.LastMessage, 200))
	}
	if c.Student != nil && c.Student.Course != "" {
		bodyParts = append(bodyParts, fmt.Sprintf("Curso: %s", c.Student.Course))
	}

	fields := []Field{
		{Name: "Sessão", Value: c.SessionID, Short: true},
	}
	if c.Sector != "" {
		fields = append(fields, Field{Name: "Setor", Value: c.Sector, Short: true})
	}
	if c.Student != nil && c.Student.ContactInfo != "" {
		fields = append(fields, Field{Name: "Contato", Value: c.Student.ContactInfo, Short: true})
	}

	return FormattedEvent{
		Title:    title,
		Body:     strings.Join(bodyParts, "\n"),
		Severity: "warning",
		Color:    ColorWarning,
		Fields:   fields,
	}
}

// digestSeverity escalates the digest color as the queue ages.
func digestSeverity(r QueueReport) string {
	switch {
	case r.Pending == 0:
		return "success"
	case r.OldestWait >= 30*time.Minute:
		return "error"
	case r.OldestWait >= 10*time.Minute:
		return "warning"
	default:
		return "info"
	}
}

// FormatDigest formats a queue report.
func FormatDigest(r QueueReport) FormattedEvent {
	var bodyLines []string
	bodyLines = append(bodyLines, fmt.Sprintf("**Fila**: %d aguardando, %d em atendimento", r.Pending, r.Active))
	if r.Unread > 0 {
		bodyLines = append(bodyLines, fmt.Sprintf("**Não lidas**: %d", r.Unread))
	}
	if r.OldestName != "" {
		bodyLines = append(bodyLines, fmt.Sprintf("**Mais antigo**: %s (%s)", r.OldestName, formatDuration(r.OldestWait)))
	}
	if len(r.BySector) > 0 {
		bodyLines = append(bodyLines, "")
		bodyLines = append(bodyLines, "**Por setor**:")
		for _, s := range r.BySector {
			bodyLines = append(bodyLines, fmt.Sprintf("  %s: %d aguardando, %d em atendimento", s.Sector, s.Pending, s.Active))
		}
	}

	fields := []Field{
		{Name: "Aguardando", Value: fmt.Sprintf("%d", r.Pending), Short: true},
		{Name: "Em atendimento", Value: fmt.Sprintf("%d", r.Active), Short: true},
	}
	if r.Unread > 0 {
		fields = append(fields, Field{Name: "Não lidas", Value: fmt.Sprintf("%d", r.Unread), Short: true})
	}

	severity := digestSeverity(r)
	return FormattedEvent{
		Title:    "Resumo da fila",
		Body:     strings.Join(bodyLines, "\n"),
		Severity: severity,
		Color:    severityColor(severity),
		Fields:   fields,
	}
}

// formatDuration formats a duration as a human-readable string.
func formatDuration(d time.Duration) string {
	if d < time.Minute {
		return fmt.Sprintf("%ds", int(d.Seconds()))
	}
	if d < time.Hour {
		return fmt.Sprintf("%dm", int(d.Minutes()))
	}
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	if h >= 24 {
		days := h / 24
		h = h % 24
		return fmt.Sprintf("%dd %dh", days, h)
	}
	return fmt.Sprintf("%dh %dm", h, m)
}
