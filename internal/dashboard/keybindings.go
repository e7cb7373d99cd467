package dashboard

import (
	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"
)

// SortOrder defines how hosts are ordered in the dashboard.
type SortOrder int

const (
	SortByConfig SortOrder = iota
	SortByName
	SortByFree
)

// String returns a human-readable label for the sort order.
func (s SortOrder) String() string {
	switch s {
	case SortByName:
		return "name"
	case SortByFree:
		return "free first"
	default:
		return "config"
	}
}

// Next cycles to the next sort order.
func (s SortOrder) Next() SortOrder {
	return SortOrder((int(s) + 1) % 3)
}

type keyMap struct {
	Quit       key.Binding
	Refresh    key.Binding
	RefreshAll key.Binding
	ToggleLoop key.Binding
	CycleSort  key.Binding
	Prev       key.Binding
	Next       key.Binding
	First      key.Binding
	Last       key.Binding
	Help       key.Binding
	Close      key.Binding
}

var keys = keyMap{
	Quit:       key.NewBinding(key.WithKeys("q", "ctrl+c"), key.WithHelp("q / Ctrl+C", "Quit")),
	Refresh:    key.NewBinding(key.WithKeys("r"), key.WithHelp("r", "Refresh selected server")),
	RefreshAll: key.NewBinding(key.WithKeys("R"), key.WithHelp("R", "Refresh all servers")),
	ToggleLoop: key.NewBinding(key.WithKeys("p"), key.WithHelp("p", "Pause / resume polling")),
	CycleSort:  key.NewBinding(key.WithKeys("s"), key.WithHelp("s", "Cycle sort order")),
	Prev:       key.NewBinding(key.WithKeys("up", "k"), key.WithHelp("up / k", "Select previous server")),
	Next:       key.NewBinding(key.WithKeys("down", "j"), key.WithHelp("down / j", "Select next server")),
	First:      key.NewBinding(key.WithKeys("home"), key.WithHelp("Home", "Select first server")),
	Last:       key.NewBinding(key.WithKeys("end"), key.WithHelp("End", "Select last server")),
	Help:       key.NewBinding(key.WithKeys("?"), key.WithHelp("?", "Toggle this help")),
	Close:      key.NewBinding(key.WithKeys("esc")),
}

// helpOrder lists the bindings shown in the help overlay.
func (k keyMap) helpOrder() []key.Binding {
	return []key.Binding{k.Quit, k.Refresh, k.RefreshAll, k.ToggleLoop, k.CycleSort, k.Prev, k.Next, k.First, k.Last, k.Help}
}

// HandleKeyMsg processes keyboard input. Returns true if the key was handled.
func (m *Model) HandleKeyMsg(msg tea.KeyMsg) (bool, tea.Cmd) {
	if key.Matches(msg, keys.Help) {
		m.showHelp = !m.showHelp
		return true, nil
	}

	if m.showHelp && key.Matches(msg, keys.Close) {
		m.showHelp = false
		return true, nil
	}

	switch {
	case key.Matches(msg, keys.Quit):
		m.quitting = true
		return true, tea.Quit

	case key.Matches(msg, keys.Refresh):
		host := m.SelectedHost()
		if host == "" {
			return true, nil
		}
		m.flash = "Refreshing " + host
		return true, m.refreshCmd(host)

	case key.Matches(msg, keys.RefreshAll):
		m.flash = "Refreshing all servers"
		return true, m.refreshAllCmd()

	case key.Matches(msg, keys.ToggleLoop):
		host := m.SelectedHost()
		if host == "" {
			return true, nil
		}
		return true, m.toggleLoopCmd(host)

	case key.Matches(msg, keys.CycleSort):
		m.sortOrder = m.sortOrder.Next()
		m.sortHosts()
		return true, nil

	case key.Matches(msg, keys.Prev):
		if m.selected > 0 {
			m.selected--
		}
		return true, nil

	case key.Matches(msg, keys.Next):
		if m.selected < len(m.hosts)-1 {
			m.selected++
		}
		return true, nil

	case key.Matches(msg, keys.First):
		m.selected = 0
		return true, nil

	case key.Matches(msg, keys.Last):
		if len(m.hosts) > 0 {
			m.selected = len(m.hosts) - 1
		}
		return true, nil
	}

	return false, nil
}
