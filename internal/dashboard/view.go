package dashboard

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/coco-alen/gpu-usage-view/internal/errors"
	"github.com/coco-alen/gpu-usage-view/internal/monitor"
	"github.com/coco-alen/gpu-usage-view/internal/watcher"
)

const (
	defaultCardWidth = 48
	minCardWidth     = 30
)

// renderDashboard renders the complete dashboard view.
func (m Model) renderDashboard() string {
	var b strings.Builder
	b.WriteString(m.renderHeader())
	b.WriteString("\n\n")
	b.WriteString(m.renderHostCards())
	b.WriteString("\n")
	b.WriteString(m.renderFooter())
	return b.String()
}

// renderHeader renders the title bar with fleet counts.
func (m Model) renderHeader() string {
	title := lipgloss.NewStyle().
		Foreground(ColorAccent).
		Bold(true).
		Render("gpuview")

	stats := fmt.Sprintf(" | %d servers | %d with free GPUs", len(m.hosts), m.FreeCount())
	if n := m.ErrorCount(); n > 0 {
		stats += fmt.Sprintf(" | %d failing", n)
	}
	stats += " | reminders " + m.reminderText()

	return HeaderStyle.Render(title + LabelStyle.Render(stats))
}

// renderHostCards renders the grid of server cards.
func (m Model) renderHostCards() string {
	if len(m.hosts) == 0 {
		return LabelStyle.Render("No servers configured. Add one with 'gpuview server add'.")
	}

	cardWidth := m.calculateCardWidth()
	cards := make([]string, 0, len(m.hosts))
	for i, host := range m.hosts {
		cards = append(cards, m.renderCard(host, cardWidth, i == m.selected))
	}
	return m.layoutCards(cards, cardWidth)
}

func (m Model) calculateCardWidth() int {
	if m.width == 0 || m.width >= defaultCardWidth+4 {
		return defaultCardWidth
	}
	if m.width-4 < minCardWidth {
		return minCardWidth
	}
	return m.width - 4
}

// layoutCards arranges cards in rows based on terminal width.
func (m Model) layoutCards(cards []string, cardWidth int) string {
	cardsPerRow := 1
	if m.width > 0 {
		cardsPerRow = m.width / (cardWidth + 3)
		if cardsPerRow < 1 {
			cardsPerRow = 1
		}
	}

	var rows []string
	for i := 0; i < len(cards); i += cardsPerRow {
		end := i + cardsPerRow
		if end > len(cards) {
			end = len(cards)
		}
		rows = append(rows, lipgloss.JoinHorizontal(lipgloss.Top, cards[i:end]...))
	}
	return lipgloss.JoinVertical(lipgloss.Left, rows...)
}

// renderCard renders one server.
func (m Model) renderCard(host string, width int, selected bool) string {
	st := m.states[host]

	style := CardStyle.Width(width)
	if selected {
		style = CardSelectedStyle.Width(width)
	}
	innerWidth := width - 4

	lines := []string{m.renderHostLine(host, st, innerWidth)}

	if st.Snapshot != nil && st.Summary != nil {
		lines = append(lines, MutedStyle.Render(truncateWithEllipsis(strings.Join(st.Summary.GPUNames, ", "), innerWidth)))
		lines = append(lines, renderCardDivider(innerWidth))
		for _, r := range st.Snapshot.Records {
			lines = append(lines, m.renderGPULine(r, innerWidth))
		}
	}

	lines = append(lines, renderCardDivider(innerWidth))
	lines = append(lines, m.renderStatusLines(st, innerWidth)...)

	return style.Render(strings.Join(lines, "\n"))
}

func (m Model) renderHostLine(host string, st watcher.State, width int) string {
	left := m.statusGlyph(st) + " " + HostNameStyle.Render(host)

	mode := "paused"
	if m.looping[host] {
		if w, ok := m.registry.Get(host); ok {
			mode = "every " + w.Interval().String()
		}
	}
	right := MutedStyle.Render(mode)

	gap := width - lipgloss.Width(left) - lipgloss.Width(right)
	if gap < 1 {
		gap = 1
	}
	return left + strings.Repeat(" ", gap) + right
}

func (m Model) statusGlyph(st watcher.State) string {
	switch st.Status {
	case watcher.StatusLoading:
		return m.spinner.View()
	case watcher.StatusError:
		return StatusErrorStyle.Render(GlyphError)
	case watcher.StatusSuccess:
		if st.Summary != nil && st.Summary.HaveFree {
			return StatusFreeStyle.Render(GlyphFree)
		}
		return StatusBusyStyle.Render(GlyphBusy)
	default:
		return StatusIdleStyle.Render(GlyphIdle)
	}
}

// renderGPULine renders "0 ▰▰▱▱▱▱▱▱  45% mem ▰▱▱▱▱  12% 42°C" for one device.
func (m Model) renderGPULine(r monitor.GPURecord, width int) string {
	barWidth := (width - 28) / 2
	if barWidth < 3 {
		barWidth = 3
	}

	idx := LabelStyle.Render(fmt.Sprintf("%d", r.Index))
	if r.GPUUtil < m.threshold && r.MemoryUtil < m.threshold {
		idx = StatusFreeStyle.Render(fmt.Sprintf("%d", r.Index))
	}

	return fmt.Sprintf("%s %s %s %s %s %s %s",
		idx,
		ProgressBar(barWidth, r.GPUUtil),
		MetricStyle(r.GPUUtil).Render(fmt.Sprintf("%3.0f%%", r.GPUUtil)),
		LabelStyle.Render("mem"),
		ProgressBar(barWidth, r.MemoryUtil),
		MetricStyle(r.MemoryUtil).Render(fmt.Sprintf("%3.0f%%", r.MemoryUtil)),
		MutedStyle.Render(fmt.Sprintf("%.0f°C", r.Temperature)),
	)
}

func (m Model) renderStatusLines(st watcher.State, width int) []string {
	var lines []string

	switch st.Status {
	case watcher.StatusIdle:
		lines = append(lines, MutedStyle.Render("Waiting for first poll"))
	case watcher.StatusLoading:
		lines = append(lines, StatusLoadingStyle.Render("Polling..."))
	case watcher.StatusError:
		lines = append(lines, StatusErrorStyle.Render(st.Message))
		if detail := st.Detail(); detail != "" {
			lines = append(lines, LabelStyle.Render(truncateWithEllipsis(detail, width)))
		}
		lines = append(lines, MutedStyle.Render("failed "+m.formatAge(st.UpdatedAt)))
	case watcher.StatusSuccess:
		lines = append(lines, m.freeLine(st)+MutedStyle.Render(" · updated "+m.formatAge(st.UpdatedAt)))
	}

	if st.Summary != nil && st.Summary.DeadProcess {
		lines = append(lines, StatusBusyStyle.Render("Memory held with no compute load"))
	}
	if st.AnnounceErr != nil {
		lines = append(lines, StatusErrorStyle.Render(truncateWithEllipsis("Reminder not sent: "+errors.Summarize(st.AnnounceErr), width)))
	}
	return lines
}

func (m Model) freeLine(st watcher.State) string {
	switch {
	case st.Summary == nil:
		return ""
	case st.Summary.AllFree:
		return StatusFreeStyle.Render("all GPUs free")
	case st.Summary.HaveFree:
		return StatusFreeStyle.Render("free GPU available")
	default:
		return StatusBusyStyle.Render(fmt.Sprintf("busy (avg %.0f%%)", st.Summary.AvgGPUUtil))
	}
}

// formatAge renders how long ago t was: "just now", "1s ago", "42s ago", "3m ago".
func (m Model) formatAge(t time.Time) string {
	if t.IsZero() {
		return "never"
	}
	d := m.now().Sub(t)
	switch {
	case d < time.Second:
		return "just now"
	case d < time.Minute:
		return fmt.Sprintf("%ds ago", int(d.Seconds()))
	default:
		return fmt.Sprintf("%dm ago", int(d.Minutes()))
	}
}

// renderFooter renders the keyboard hints and the last action.
func (m Model) renderFooter() string {
	hints := []string{
		"q quit",
		"r refresh",
		"R refresh all",
		"p pause",
		"s sort: " + m.sortOrder.String(),
		"? help",
	}
	footer := FooterStyle.Render(strings.Join(hints, " | "))
	if m.flash != "" {
		footer += "\n" + FooterStyle.Render(FlashStyle.Render(m.flash))
	}
	return footer
}
