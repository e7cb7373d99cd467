// Package dashboard is the live terminal view of every watched GPU server.
package dashboard

import (
	"sort"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/coco-alen/gpu-usage-view/internal/monitor"
	"github.com/coco-alen/gpu-usage-view/internal/remind"
	"github.com/coco-alen/gpu-usage-view/internal/watcher"
)

// syncInterval is how often the model re-reads watcher states.
const syncInterval = 250 * time.Millisecond

// Model is the Bubble Tea model for the dashboard. It never polls on its own;
// watchers poll in the background and the model samples their published states.
type Model struct {
	registry  *watcher.Registry
	threshold float64

	hosts     []string
	hostOrder []string
	states    map[string]watcher.State
	looping   map[string]bool
	selected  int
	sortOrder SortOrder

	width    int
	height   int
	showHelp bool
	quitting bool
	flash    string
	spinner  spinner.Model
	now      func() time.Time
}

// tickMsg signals a periodic state sync.
type tickMsg time.Time

// actionDoneMsg reports that a background refresh or pause finished.
type actionDoneMsg struct {
	text string
}

// NewModel creates a dashboard over reg. threshold is the free-GPU
// utilization cut-off used to mark individual devices.
func NewModel(reg *watcher.Registry, threshold float64) Model {
	if threshold <= 0 {
		threshold = monitor.DefaultFreeThreshold
	}

	s := spinner.New()
	s.Spinner = spinner.MiniDot
	s.Style = StatusLoadingStyle

	m := Model{
		registry:  reg,
		threshold: threshold,
		hosts:     reg.Names(),
		hostOrder: reg.Names(),
		states:    make(map[string]watcher.State),
		looping:   make(map[string]bool),
		spinner:   s,
		now:       time.Now,
	}
	m.sync()
	return m
}

// Init starts the sync timer and the spinner.
func (m Model) Init() tea.Cmd {
	return tea.Batch(m.tickCmd(), m.spinner.Tick)
}

// Update handles messages and updates the model state.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		if handled, cmd := m.HandleKeyMsg(msg); handled {
			return m, cmd
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height

	case tickMsg:
		m.sync()
		return m, m.tickCmd()

	case actionDoneMsg:
		m.flash = msg.text
		m.sync()

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}

	return m, nil
}

// View renders the dashboard.
func (m Model) View() string {
	if m.quitting {
		return ""
	}
	if m.showHelp {
		return m.renderHelpOverlay()
	}
	return m.renderDashboard()
}

func (m Model) tickCmd() tea.Cmd {
	return tea.Tick(syncInterval, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

// refreshCmd polls one server now, keeping its mode. Refresh blocks while an
// in-flight query finishes, so it runs off the event loop.
func (m Model) refreshCmd(host string) tea.Cmd {
	reg := m.registry
	return func() tea.Msg {
		if w, ok := reg.Get(host); ok {
			w.Refresh()
		}
		return actionDoneMsg{text: "Refresh started for " + host}
	}
}

func (m Model) refreshAllCmd() tea.Cmd {
	reg := m.registry
	return func() tea.Msg {
		reg.RefreshAll()
		return actionDoneMsg{text: "Refresh started for all servers"}
	}
}

// toggleLoopCmd pauses a looping server or resumes polling a paused one.
func (m Model) toggleLoopCmd(host string) tea.Cmd {
	reg := m.registry
	return func() tea.Msg {
		w, ok := reg.Get(host)
		if !ok {
			return nil
		}
		if w.Looping() {
			w.Stop()
			return actionDoneMsg{text: "Paused " + host}
		}
		w.Start(true)
		return actionDoneMsg{text: "Polling " + host + " every " + w.Interval().String()}
	}
}

// sync copies the latest published state of every watcher into the model.
func (m *Model) sync() {
	for _, w := range m.registry.Watchers() {
		m.states[w.Name()] = w.State()
		m.looping[w.Name()] = w.Looping()
	}
	m.sortHosts()
}

// SelectedHost returns the name of the selected server.
func (m Model) SelectedHost() string {
	if m.selected >= 0 && m.selected < len(m.hosts) {
		return m.hosts[m.selected]
	}
	return ""
}

// FreeCount returns how many servers have at least one free GPU.
func (m Model) FreeCount() int {
	count := 0
	for _, st := range m.states {
		if st.Summary != nil && st.Summary.HaveFree {
			count++
		}
	}
	return count
}

// ErrorCount returns how many servers failed their last poll.
func (m Model) ErrorCount() int {
	count := 0
	for _, st := range m.states {
		if st.Status == watcher.StatusError {
			count++
		}
	}
	return count
}

// policy returns the reminder policy shared by the watchers.
func (m Model) policy() remind.Policy {
	ws := m.registry.Watchers()
	if len(ws) == 0 {
		return remind.Policy{}
	}
	return ws[0].Policy()
}

func (m Model) reminderText() string {
	p := m.policy()
	if !p.Enabled() {
		return "off"
	}
	text := p.Mode()
	if p.EveryPoll {
		text += ", every poll"
	} else {
		text += ", once"
	}
	if !m.registry.AnnouncerAvailable() {
		text += " (channel unverified)"
	}
	return text
}

// sortHosts orders hosts by the current sort order, keeping the selection
// on the same host.
func (m *Model) sortHosts() {
	if len(m.hosts) == 0 {
		return
	}

	selectedHost := m.SelectedHost()

	orderIndex := make(map[string]int, len(m.hostOrder))
	for i, h := range m.hostOrder {
		orderIndex[h] = i
	}
	byConfig := func(i, j int) bool {
		return orderIndex[m.hosts[i]] < orderIndex[m.hosts[j]]
	}

	switch m.sortOrder {
	case SortByName:
		sort.Strings(m.hosts)

	case SortByFree:
		sort.SliceStable(m.hosts, func(i, j int) bool {
			ri, rj := m.freeRank(m.hosts[i]), m.freeRank(m.hosts[j])
			if ri != rj {
				return ri < rj
			}
			return byConfig(i, j)
		})

	default:
		sort.SliceStable(m.hosts, byConfig)
	}

	for i, host := range m.hosts {
		if host == selectedHost {
			m.selected = i
			break
		}
	}
}

// freeRank orders all-free, then some-free, then busy, then unknown.
func (m Model) freeRank(host string) int {
	st := m.states[host]
	switch {
	case st.Summary == nil:
		return 3
	case st.Summary.AllFree:
		return 0
	case st.Summary.HaveFree:
		return 1
	default:
		return 2
	}
}
