package tui

import (
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/reflow/wordwrap"

	"github.com/fakeyudi/lokseva/internal/agentstate"
	"github.com/fakeyudi/lokseva/internal/bridge"
	"github.com/fakeyudi/lokseva/internal/timeline"
)

var (
	timeStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("178"))
	agentStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("86")).Bold(true)
	selfStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("33")).Bold(true)
	otherStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("205")).Bold(true)

	toneColors = map[agentstate.Tone]lipgloss.Color{
		agentstate.ToneMuted: lipgloss.Color("240"),
		agentstate.ToneGreen: lipgloss.Color("82"),
		agentstate.ToneAmber: lipgloss.Color("214"),
		agentstate.ToneBlue:  lipgloss.Color("39"),
	}

	noticeColors = map[bridge.NotificationKind]lipgloss.Color{
		bridge.NewMessage:     lipgloss.Color("86"),
		bridge.SendFailure:    lipgloss.Color("196"),
		bridge.ConnectFailed:  lipgloss.Color("196"),
		bridge.ConnectionLost: lipgloss.Color("214"),
	}
)

const maxVisibleNotices = 3

func (m Model) renderAgent() string {
	a := m.view.Agent
	color, ok := toneColors[a.Tone]
	if !ok {
		color = toneColors[agentstate.ToneMuted]
	}
	dot := lipgloss.NewStyle().Foreground(color).Render("●")
	label := lipgloss.NewStyle().Foreground(color).Bold(true).Render(a.Label)
	return "\n  " + dot + " " + label + "\n  " + hintStyle.Render(a.Hint)
}

// renderTimeline draws the conversation. Agent chat is rendered as
// markdown; everything else is word-wrapped plain text.
func (m *Model) renderTimeline() string {
	if len(m.view.Timeline) == 0 {
		return dimStyle.Render("  Say hello to start the conversation.")
	}
	width := max(20, m.width-6)
	selfID := ""
	if m.view.Identity != nil {
		selfID = m.view.Identity.ID
	}

	var sb strings.Builder
	for _, e := range m.view.Timeline {
		meta := e.Meta()
		name := meta.SenderName
		style := otherStyle
		switch {
		case meta.SenderIsAgent:
			style = agentStyle
			if name == "" {
				name = "Assistant"
			}
		case meta.SenderID != "" && meta.SenderID == selfID:
			style = selfStyle
			name = "You"
		case name == "":
			name = "Speaker"
		}
		header := "  " + timeStyle.Render(meta.Timestamp.Format("15:04:05")) + "  " + style.Render(name)
		if _, ok := e.(timeline.TranscriptEntry); ok {
			header += dimStyle.Render("  (voice)")
		}
		sb.WriteString(header + "\n")
		sb.WriteString(m.renderText(e, width) + "\n\n")
	}
	return strings.TrimRight(sb.String(), "\n")
}

func (m *Model) renderText(e timeline.Entry, width int) string {
	meta := e.Meta()
	if _, chat := e.(timeline.ChatEntry); chat && meta.SenderIsAgent && m.renderer != nil {
		if out, err := m.renderer.Render(meta.Text); err == nil {
			return strings.TrimRight(out, "\n")
		}
	}
	text := indent(wordwrap.String(meta.Text, width), "    ")
	if !meta.Final {
		return dimStyle.Render(text + " …")
	}
	return text
}

func (m Model) renderNotifications() string {
	notes := m.view.Notifications
	if len(notes) == 0 {
		return ""
	}
	if len(notes) > maxVisibleNotices {
		notes = notes[len(notes)-maxVisibleNotices:]
	}
	var lines []string
	for _, n := range notes {
		color, ok := noticeColors[n.Kind]
		if !ok {
			color = lipgloss.Color("245")
		}
		title := lipgloss.NewStyle().Foreground(color).Bold(true).Render(n.Title)
		line := "  " + title
		if n.Body != "" {
			line += "  " + truncate(n.Body, max(10, m.width-lipgloss.Width(line)-4))
		}
		lines = append(lines, line)
	}
	return strings.Join(lines, "\n")
}

func indent(s, prefix string) string {
	lines := strings.Split(s, "\n")
	for i, line := range lines {
		if line != "" {
			lines[i] = prefix + line
		}
	}
	return strings.Join(lines, "\n")
}

func truncate(s string, n int) string {
	r := []rune(strings.ReplaceAll(s, "\n", " "))
	if len(r) <= n {
		return string(r)
	}
	return string(r[:n-1]) + "…"
}
