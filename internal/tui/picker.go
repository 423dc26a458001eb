package tui

import (
	"fmt"
	"sort"
	"strings"

	"github.com/charmbracelet/bubbles/list"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/firefly-engineering/firefly-forage/packages/forage-lab/internal/environment"
)

// Action represents the action to take after picker selection
type Action int

const (
	ActionNone Action = iota
	ActionSelect
	ActionAdd
	ActionQuit
)

// PickerResult holds the result of the picker
type PickerResult struct {
	Action      Action
	Environment *environment.RuntimeEnvironment

	// Path is the executable entered in the add prompt.
	Path string
}

// envItem implements list.Item for environment display
type envItem struct {
	env       *environment.RuntimeEnvironment
	isDefault bool
}

func (i envItem) Title() string {
	if i.isDefault {
		return "★ " + i.env.Name
	}
	return i.env.Name
}

func (i envItem) Description() string {
	return fmt.Sprintf("%s | %s", versionSummary(i.env), truncatePath(i.env.Path, 50))
}

func (i envItem) FilterValue() string {
	return i.env.Name + " " + i.env.Path
}

// versionSummary renders the recorded versions in name order.
func versionSummary(env *environment.RuntimeEnvironment) string {
	if len(env.Versions) == 0 {
		return "no versions"
	}
	names := make([]string, 0, len(env.Versions))
	for name := range env.Versions {
		names = append(names, name)
	}
	sort.Strings(names)
	parts := make([]string, 0, len(names))
	for _, name := range names {
		parts = append(parts, name+" "+env.Versions[name])
	}
	return strings.Join(parts, ", ")
}

func truncatePath(path string, maxLen int) string {
	if len(path) <= maxLen {
		return path
	}
	return "..." + path[len(path)-maxLen+3:]
}

// Styles
var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("39")).
			MarginBottom(1)

	helpStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("241")).
			MarginTop(1)

	selectedStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("39")).
			Bold(true)

	promptStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("39"))
)

// Model is the bubbletea model for the environment picker
type Model struct {
	list     list.Model
	input    textinput.Model
	adding   bool
	result   PickerResult
	quitting bool
	width    int
	height   int
}

// NewPicker creates a new environment picker. defaultPath marks the
// current default environment.
func NewPicker(envs []*environment.RuntimeEnvironment, defaultPath string) Model {
	items := buildGroupedItems(envs, defaultPath)

	l := list.New(items, newKindDelegate(), 80, 20)
	l.Title = "forage-lab - Select Environment"
	l.SetShowStatusBar(true)
	l.SetFilteringEnabled(true)
	l.Styles.Title = titleStyle
	skipHeaders(&l, 1)

	in := textinput.New()
	in.Placeholder = "/path/to/bin/python"
	in.Prompt = "Path: "
	in.PromptStyle = promptStyle
	in.CharLimit = 4096

	return Model{
		list:  l,
		input: in,
	}
}

func (m Model) Init() tea.Cmd {
	return nil
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.list.SetSize(msg.Width, msg.Height-4)
		return m, nil

	case tea.KeyMsg:
		if m.adding {
			return m.updatePrompt(msg)
		}

		// Don't handle keys if filtering
		if m.list.FilterState() == list.Filtering {
			break
		}

		switch msg.String() {
		case "enter":
			if item, ok := m.list.SelectedItem().(envItem); ok {
				m.result = PickerResult{
					Action:      ActionSelect,
					Environment: item.env,
				}
				m.quitting = true
				return m, tea.Quit
			}

		case "a":
			m.adding = true
			m.input.SetValue("")
			return m, m.input.Focus()

		case "q", "esc":
			m.result = PickerResult{Action: ActionQuit}
			m.quitting = true
			return m, tea.Quit

		case "up", "k", "down", "j":
			var cmd tea.Cmd
			m.list, cmd = m.list.Update(msg)
			skipHeaders(&m.list, navigationDirection(msg))
			return m, cmd
		}
	}

	var cmd tea.Cmd
	m.list, cmd = m.list.Update(msg)
	return m, cmd
}

func (m Model) updatePrompt(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.Type {
	case tea.KeyEnter:
		path := strings.TrimSpace(m.input.Value())
		if path == "" {
			return m, nil
		}
		m.result = PickerResult{Action: ActionAdd, Path: path}
		m.quitting = true
		return m, tea.Quit

	case tea.KeyEsc:
		m.adding = false
		m.input.Blur()
		return m, nil
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m Model) View() string {
	if m.quitting {
		return ""
	}

	if m.adding {
		help := helpStyle.Render("[enter] Add  [esc] Cancel")
		return m.list.View() + "\n" + m.input.View() + "\n" + help
	}

	help := helpStyle.Render("[enter] Set default  [a] Add  [/] Filter  [q] Quit")
	return m.list.View() + "\n" + help
}

// Result returns the picker result
func (m Model) Result() PickerResult {
	return m.result
}

// RunPicker runs the interactive environment picker
func RunPicker(envs []*environment.RuntimeEnvironment, defaultPath string) (PickerResult, error) {
	m := NewPicker(envs, defaultPath)
	p := tea.NewProgram(m, tea.WithAltScreen())

	finalModel, err := p.Run()
	if err != nil {
		return PickerResult{}, err
	}

	return finalModel.(Model).Result(), nil
}

// SimplePicker is a non-interactive picker that just lists environments
func SimplePicker(envs []*environment.RuntimeEnvironment, defaultPath string) string {
	var sb strings.Builder

	sb.WriteString("forage-lab - Environments\n")
	sb.WriteString(strings.Repeat("─", 60) + "\n\n")

	if len(envs) == 0 {
		sb.WriteString("No environments found.\n")
		sb.WriteString("Add one with: forage-lab envs add <path>\n")
		return sb.String()
	}

	for i, env := range envs {
		marker := " "
		if env.Path == defaultPath {
			marker = "★"
		}
		sb.WriteString(fmt.Sprintf("%d. %s %s (%s)\n", i+1, marker, env.Name, env.Kind.DisplayName()))
		sb.WriteString(fmt.Sprintf("   %s | %s\n\n", versionSummary(env), truncatePath(env.Path, 50)))
	}

	return sb.String()
}
