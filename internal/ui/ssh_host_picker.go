package ui

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/list"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/samber/lo"

	"github.com/coco-alen/gpu-usage-view/pkg/sshutil"
)

// HostPick is the outcome of the SSH host picker. At most one of Entry,
// Manual and Cancelled is set; none of them means there was nothing to pick.
type HostPick struct {
	Entry     *sshutil.SSHHostEntry
	Manual    bool // The user wants to type an address
	Cancelled bool
}

// hostItem is one ~/.ssh/config alias in the list. Watched aliases stay
// visible but can't be picked again.
type hostItem struct {
	host    sshutil.SSHHostEntry
	watched bool
}

func (i hostItem) Title() string {
	if i.watched {
		return i.host.Alias + " (already watched)"
	}
	return i.host.Alias
}

func (i hostItem) Description() string {
	return i.host.Description()
}

func (i hostItem) FilterValue() string {
	return strings.Join(lo.Compact([]string{i.host.Alias, i.host.Hostname, i.host.User}), " ")
}

// SSHHostPickerModel is a Bubble Tea model for choosing a server from
// ~/.ssh/config.
type SSHHostPickerModel struct {
	list   list.Model
	result HostPick
	notice string
	done   bool
}

var pickerKeys = struct {
	Pick   key.Binding
	Manual key.Binding
	Cancel key.Binding
}{
	Pick:   key.NewBinding(key.WithKeys("enter"), key.WithHelp("enter", "watch this server")),
	Manual: key.NewBinding(key.WithKeys("m"), key.WithHelp("m", "type an address")),
	Cancel: key.NewBinding(key.WithKeys("q", "esc", "ctrl+c"), key.WithHelp("q/esc", "cancel")),
}

// NewSSHHostPickerModel lists hosts; aliases in watched are marked and can't
// be picked.
func NewSSHHostPickerModel(hosts []sshutil.SSHHostEntry, watched map[string]bool) SSHHostPickerModel {
	items := lo.Map(hosts, func(h sshutil.SSHHostEntry, _ int) list.Item {
		return hostItem{host: h, watched: watched[h.Alias]}
	})

	delegate := list.NewDefaultDelegate()
	delegate.Styles.SelectedTitle = delegate.Styles.SelectedTitle.
		Foreground(ColorPrimary).
		BorderForeground(ColorFree)
	delegate.Styles.SelectedDesc = delegate.Styles.SelectedDesc.
		Foreground(ColorMuted).
		BorderForeground(ColorFree)

	l := list.New(items, delegate, 80, 15)
	l.Title = "Which GPU server should gpuview watch?"
	l.SetShowStatusBar(len(items) > 5)
	l.SetFilteringEnabled(true)
	l.Styles.Title = lipgloss.NewStyle().
		Foreground(ColorPrimary).
		Bold(true).
		Padding(0, 0, 1, 0)
	l.Styles.HelpStyle = lipgloss.NewStyle().Foreground(ColorMuted)
	l.AdditionalShortHelpKeys = func() []key.Binding {
		return []key.Binding{pickerKeys.Pick, pickerKeys.Manual}
	}

	return SSHHostPickerModel{list: l}
}

// Init implements tea.Model.
func (m SSHHostPickerModel) Init() tea.Cmd {
	return nil
}

// Update implements tea.Model.
func (m SSHHostPickerModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		// Typed characters belong to the filter.
		if m.list.FilterState() == list.Filtering {
			break
		}
		m.notice = ""

		switch {
		case key.Matches(msg, pickerKeys.Pick):
			item, ok := m.list.SelectedItem().(hostItem)
			if !ok {
				return m, nil
			}
			if item.watched {
				m.notice = fmt.Sprintf("%s is already watched", item.host.Alias)
				return m, nil
			}
			m.result.Entry = &item.host
			m.done = true
			return m, tea.Quit

		case key.Matches(msg, pickerKeys.Manual):
			m.result.Manual = true
			m.done = true
			return m, tea.Quit

		case key.Matches(msg, pickerKeys.Cancel):
			m.result.Cancelled = true
			m.done = true
			return m, tea.Quit
		}

	case tea.WindowSizeMsg:
		m.list.SetSize(msg.Width, msg.Height-2)
	}

	var cmd tea.Cmd
	m.list, cmd = m.list.Update(msg)
	return m, cmd
}

// View implements tea.Model.
func (m SSHHostPickerModel) View() string {
	if m.done {
		return ""
	}

	footer := "Press 'm' to type the server address instead"
	style := lipgloss.NewStyle().Foreground(ColorMuted)
	if m.notice != "" {
		footer = m.notice
		style = lipgloss.NewStyle().Foreground(ColorWarning)
	}
	return m.list.View() + "\n  " + style.Render(footer)
}

// Result returns what the user chose.
func (m SSHHostPickerModel) Result() HostPick {
	return m.result
}

// PickSSHHost runs the picker on the terminal.
func PickSSHHost(hosts []sshutil.SSHHostEntry, watched map[string]bool) (HostPick, error) {
	return PickSSHHostWithIO(hosts, watched, os.Stdout, os.Stdin)
}

// PickSSHHostWithIO runs the picker with custom I/O. With no hosts it returns
// an empty HostPick without drawing anything.
func PickSSHHostWithIO(hosts []sshutil.SSHHostEntry, watched map[string]bool, output io.Writer, input io.Reader) (HostPick, error) {
	if len(hosts) == 0 {
		return HostPick{}, nil
	}

	p := tea.NewProgram(
		NewSSHHostPickerModel(hosts, watched),
		tea.WithOutput(output),
		tea.WithInput(input),
	)

	final, err := p.Run()
	if err != nil {
		return HostPick{}, fmt.Errorf("SSH host picker error: %w", err)
	}

	m, ok := final.(SSHHostPickerModel)
	if !ok {
		return HostPick{Cancelled: true}, nil
	}
	return m.Result(), nil
}
