package tui

import (
	"fmt"
	"io"
	"sort"

	"github.com/charmbracelet/bubbles/list"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/firefly-engineering/firefly-forage/packages/forage-lab/internal/environment"
)

// headerItem is a non-selectable group separator in the picker list.
type headerItem struct {
	label string
}

func (h headerItem) FilterValue() string { return "" }
func (h headerItem) Title() string       { return h.label }
func (h headerItem) Description() string { return "" }

// buildGroupedItems groups environments by kind, in kind priority order,
// and returns list items with headerItem separators. Order within a group
// is preserved.
func buildGroupedItems(envs []*environment.RuntimeEnvironment, defaultPath string) []list.Item {
	if len(envs) == 0 {
		return nil
	}

	groups := make(map[environment.Kind][]*environment.RuntimeEnvironment)
	var kinds []environment.Kind
	for _, env := range envs {
		if _, ok := groups[env.Kind]; !ok {
			kinds = append(kinds, env.Kind)
		}
		groups[env.Kind] = append(groups[env.Kind], env)
	}
	sort.Slice(kinds, func(i, j int) bool { return kinds[i] < kinds[j] })

	var items []list.Item
	for _, k := range kinds {
		items = append(items, headerItem{label: k.DisplayName()})
		for _, env := range groups[k] {
			items = append(items, envItem{env: env, isDefault: env.Path == defaultPath})
		}
	}
	return items
}

// headerStyle is the style for group header items.
var headerStyle = lipgloss.NewStyle().
	Bold(true).
	Foreground(lipgloss.Color("241")).
	PaddingLeft(2)

// kindDelegate draws kind headers itself and delegates environments to
// the default two-line rendering.
type kindDelegate struct {
	list.DefaultDelegate
}

func newKindDelegate() kindDelegate {
	d := list.NewDefaultDelegate()
	d.Styles.SelectedTitle = selectedStyle
	d.Styles.SelectedDesc = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
	return kindDelegate{DefaultDelegate: d}
}

func (d kindDelegate) Update(tea.Msg, *list.Model) tea.Cmd { return nil }

func (d kindDelegate) Render(w io.Writer, m list.Model, index int, item list.Item) {
	if h, ok := item.(headerItem); ok {
		fmt.Fprint(w, headerStyle.Render(h.label))
		return
	}
	d.DefaultDelegate.Render(w, m, index, item)
}

// skipHeaders moves the cursor off a header, searching in direction
// (1 down, -1 up) first and the other way when that reaches an edge.
func skipHeaders(l *list.Model, direction int) {
	items := l.Items()
	idx := l.Index()
	if idx < 0 || idx >= len(items) || !isHeader(items[idx]) {
		return
	}
	for _, dir := range []int{direction, -direction} {
		for i := idx + dir; i >= 0 && i < len(items); i += dir {
			if !isHeader(items[i]) {
				l.Select(i)
				return
			}
		}
	}
}

func isHeader(item list.Item) bool {
	_, ok := item.(headerItem)
	return ok
}

// isHeaderSelected reports whether the cursor rests on a header.
func isHeaderSelected(l *list.Model) bool {
	return isHeader(l.SelectedItem())
}

// navigationDirection returns 1 for down/j keys, -1 for up/k keys.
func navigationDirection(msg tea.KeyMsg) int {
	switch msg.String() {
	case "up", "k":
		return -1
	default:
		return 1
	}
}
