package monitor

import (
	"fmt"
	"strings"

	"github.com/telaman/tsync/internal/models"
)

// View implements tea.Model
func (m Model) View() string {
	if m.Width > 0 && (m.Width < MinWidth || m.Height < MinHeight) {
		return subtleStyle.Render("terminal too small")
	}

	var b strings.Builder
	b.WriteString(titleStyle.Render("tsync monitor"))
	b.WriteString("  ")
	b.WriteString(m.connectivityLine())
	b.WriteString("\n\n")

	b.WriteString(m.renderPanel("Queue", m.queueBody()))
	b.WriteString("\n")
	b.WriteString(m.renderPanel("Tasks", m.tasksBody()))
	b.WriteString("\n")

	if m.FetchErr != nil {
		b.WriteString(offlineStyle.Render("error: "+m.FetchErr.Error()) + "\n")
	}
	if !m.LastRefresh.IsZero() {
		b.WriteString(timestampStyle.Render("refreshed "+m.LastRefresh.Format("15:04:05")) + "  ")
	}
	b.WriteString(helpStyle.Render("r refresh · s sync · q quit"))
	return b.String()
}

func (m Model) connectivityLine() string {
	if m.Syncing {
		return pendingStyle.Render(m.Spinner.View() + "syncing")
	}
	if m.Snap.Online {
		return onlineStyle.Render("● online")
	}
	return offlineStyle.Render("● offline")
}

func (m Model) queueBody() string {
	var b strings.Builder
	if m.Snap.Pending == 0 {
		b.WriteString(subtleStyle.Render("queue empty"))
	} else {
		b.WriteString(pendingStyle.Render(fmt.Sprintf("%d pending mutations", m.Snap.Pending)))
	}
	if r := m.Snap.LastDrain; r != nil {
		b.WriteString("\n")
		b.WriteString(subtleStyle.Render(fmt.Sprintf(
			"last drain %s: %d/%d applied, %d kept",
			r.At.Format("15:04:05"), r.Succeeded, r.Attempted, r.Failed,
		)))
	}
	return b.String()
}

func (m Model) tasksBody() string {
	if len(m.Snap.Items) == 0 {
		return subtleStyle.Render("no tasks")
	}
	max := len(m.Snap.Items)
	if m.Height > 0 {
		if avail := m.Height - 12; avail > 0 && avail < max {
			max = avail
		}
	}
	var lines []string
	for _, it := range m.Snap.Items[:max] {
		lines = append(lines, renderItem(it))
	}
	if max < len(m.Snap.Items) {
		lines = append(lines, subtleStyle.Render(fmt.Sprintf("… %d more", len(m.Snap.Items)-max)))
	}
	return strings.Join(lines, "\n")
}

func renderItem(it models.Item) string {
	box := "[ ]"
	text := it.Text
	if it.Completed {
		box = "[x]"
		text = doneStyle.Render(text)
	}
	line := box + " " + text
	if it.IsPlaceholder() {
		line += " " + pendingStyle.Render("(pending sync)")
	}
	return line
}

func (m Model) renderPanel(title, body string) string {
	width := m.Width - 4
	if width < MinWidth-4 {
		width = MinWidth - 4
	}
	content := panelTitleStyle.Render(title) + "\n" + body
	return panelStyle.Width(width).Render(content) + "\n"
}
