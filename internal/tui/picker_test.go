package tui

import (
	"strings"
	"testing"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/firefly-engineering/firefly-forage/packages/forage-lab/internal/environment"
)

func testEnvs() []*environment.RuntimeEnvironment {
	return []*environment.RuntimeEnvironment{
		{
			Path:     "/opt/conda/envs/lab/bin/python",
			Kind:     environment.ManagedEnv,
			Name:     "Environment: lab",
			Versions: map[string]string{"python": "3.12.1", "jupyterlab": "4.2.0"},
		},
		{
			Path:     "/usr/bin/python3",
			Kind:     environment.PathDefault,
			Name:     "Global: python3",
			Versions: map[string]string{"python": "3.11.4"},
		},
	}
}

func TestTruncatePath(t *testing.T) {
	tests := []struct {
		path   string
		maxLen int
		want   string
	}{
		{"short", 10, "short"},
		{"/home/user/workspace", 20, "/home/user/workspace"},
		{"/home/user/very/long/path/to/workspace", 20, "...path/to/workspace"},
		{"", 10, ""},
		{"exactly10!", 10, "exactly10!"},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			got := truncatePath(tt.path, tt.maxLen)
			if got != tt.want {
				t.Errorf("truncatePath(%q, %d) = %q, want %q", tt.path, tt.maxLen, got, tt.want)
			}
		})
	}
}

func TestEnvItemMethods(t *testing.T) {
	env := testEnvs()[0]

	t.Run("Title", func(t *testing.T) {
		item := envItem{env: env}
		if got := item.Title(); got != "Environment: lab" {
			t.Errorf("Title() = %q, want %q", got, "Environment: lab")
		}
	})

	t.Run("Title marks default", func(t *testing.T) {
		item := envItem{env: env, isDefault: true}
		if got := item.Title(); got != "★ Environment: lab" {
			t.Errorf("Title() = %q", got)
		}
	})

	t.Run("Description lists versions in order", func(t *testing.T) {
		item := envItem{env: env}
		want := "jupyterlab 4.2.0, python 3.12.1 | /opt/conda/envs/lab/bin/python"
		if got := item.Description(); got != want {
			t.Errorf("Description() = %q, want %q", got, want)
		}
	})

	t.Run("FilterValue includes path", func(t *testing.T) {
		item := envItem{env: env}
		if got := item.FilterValue(); !strings.Contains(got, "/opt/conda/envs/lab") {
			t.Errorf("FilterValue() = %q", got)
		}
	})
}

func TestVersionSummaryEmpty(t *testing.T) {
	if got := versionSummary(&environment.RuntimeEnvironment{}); got != "no versions" {
		t.Errorf("versionSummary() = %q, want %q", got, "no versions")
	}
}

func TestModelKeyHandling(t *testing.T) {
	t.Run("quit with q", func(t *testing.T) {
		m := NewPicker(testEnvs(), "")
		newModel, cmd := m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{'q'}})
		model := newModel.(Model)

		if model.result.Action != ActionQuit {
			t.Errorf("Action = %v, want ActionQuit", model.result.Action)
		}
		if !model.quitting {
			t.Error("Model should be quitting")
		}
		if cmd == nil {
			t.Error("Should return tea.Quit command")
		}
	})

	t.Run("quit with esc", func(t *testing.T) {
		m := NewPicker(testEnvs(), "")
		newModel, _ := m.Update(tea.KeyMsg{Type: tea.KeyEsc})
		model := newModel.(Model)

		if model.result.Action != ActionQuit {
			t.Errorf("Action = %v, want ActionQuit", model.result.Action)
		}
	})

	t.Run("enter selects first environment after header", func(t *testing.T) {
		m := NewPicker(testEnvs(), "")
		newModel, cmd := m.Update(tea.KeyMsg{Type: tea.KeyEnter})
		model := newModel.(Model)

		if model.result.Action != ActionSelect {
			t.Fatalf("Action = %v, want ActionSelect", model.result.Action)
		}
		// Global sorts before managed environments.
		if model.result.Environment.Path != "/usr/bin/python3" {
			t.Errorf("Environment = %q, want /usr/bin/python3", model.result.Environment.Path)
		}
		if cmd == nil {
			t.Error("Should return tea.Quit command")
		}
	})

	t.Run("add prompt returns entered path", func(t *testing.T) {
		m := NewPicker(testEnvs(), "")
		newModel, _ := m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{'a'}})
		model := newModel.(Model)
		if !model.adding {
			t.Fatal("expected add prompt after 'a'")
		}

		newModel, _ = model.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("/opt/py/bin/python")})
		newModel, cmd := newModel.(Model).Update(tea.KeyMsg{Type: tea.KeyEnter})
		model = newModel.(Model)

		if model.result.Action != ActionAdd {
			t.Fatalf("Action = %v, want ActionAdd", model.result.Action)
		}
		if model.result.Path != "/opt/py/bin/python" {
			t.Errorf("Path = %q", model.result.Path)
		}
		if cmd == nil {
			t.Error("Should return tea.Quit command")
		}
	})

	t.Run("add prompt ignores empty path", func(t *testing.T) {
		m := NewPicker(testEnvs(), "")
		newModel, _ := m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{'a'}})
		newModel, cmd := newModel.(Model).Update(tea.KeyMsg{Type: tea.KeyEnter})
		model := newModel.(Model)

		if model.result.Action != ActionNone {
			t.Errorf("Action = %v, want ActionNone", model.result.Action)
		}
		if cmd != nil {
			t.Error("empty path should not quit")
		}
	})

	t.Run("esc leaves add prompt", func(t *testing.T) {
		m := NewPicker(testEnvs(), "")
		newModel, _ := m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{'a'}})
		newModel, _ = newModel.(Model).Update(tea.KeyMsg{Type: tea.KeyEsc})
		model := newModel.(Model)

		if model.adding {
			t.Error("expected prompt to close")
		}
		if model.quitting {
			t.Error("esc in prompt should not quit the picker")
		}
	})

	t.Run("window size update", func(t *testing.T) {
		m := NewPicker(testEnvs(), "")
		newModel, cmd := m.Update(tea.WindowSizeMsg{Width: 100, Height: 50})
		model := newModel.(Model)

		if model.width != 100 {
			t.Errorf("Width = %d, want 100", model.width)
		}
		if model.height != 50 {
			t.Errorf("Height = %d, want 50", model.height)
		}
		if cmd != nil {
			t.Error("Window size update should not return a command")
		}
	})
}

func TestModelInit(t *testing.T) {
	m := Model{}
	if cmd := m.Init(); cmd != nil {
		t.Error("Init() should return nil")
	}
}

func TestModelView(t *testing.T) {
	t.Run("normal view contains help", func(t *testing.T) {
		m := NewPicker(testEnvs(), "")
		view := m.View()
		if !strings.Contains(view, "Set default") {
			t.Error("View should contain help text")
		}
	})

	t.Run("add view shows prompt", func(t *testing.T) {
		m := NewPicker(testEnvs(), "")
		newModel, _ := m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{'a'}})
		if view := newModel.(Model).View(); !strings.Contains(view, "Path: ") {
			t.Error("View should contain the add prompt")
		}
	})

	t.Run("quitting view is empty", func(t *testing.T) {
		m := NewPicker(testEnvs(), "")
		m.quitting = true
		if view := m.View(); view != "" {
			t.Errorf("View() = %q, want empty", view)
		}
	})
}

func TestModelResult(t *testing.T) {
	env := testEnvs()[0]
	m := Model{result: PickerResult{Action: ActionSelect, Environment: env}}

	result := m.Result()
	if result.Action != ActionSelect {
		t.Errorf("Action = %v, want ActionSelect", result.Action)
	}
	if result.Environment != env {
		t.Error("Environment should match")
	}
}

func TestSimplePicker(t *testing.T) {
	t.Run("empty", func(t *testing.T) {
		out := SimplePicker(nil, "")
		if !strings.Contains(out, "No environments found") {
			t.Errorf("unexpected output: %q", out)
		}
	})

	t.Run("lists environments with default marker", func(t *testing.T) {
		out := SimplePicker(testEnvs(), "/usr/bin/python3")
		if !strings.Contains(out, "1.   Environment: lab (Environment)") {
			t.Errorf("missing first entry:\n%s", out)
		}
		if !strings.Contains(out, "2. ★ Global: python3 (Global)") {
			t.Errorf("missing default marker:\n%s", out)
		}
		if !strings.Contains(out, "python 3.11.4") {
			t.Errorf("missing versions:\n%s", out)
		}
	})
}

func TestActionConstants(t *testing.T) {
	actions := []Action{ActionNone, ActionSelect, ActionAdd, ActionQuit}
	seen := make(map[Action]bool)
	for _, a := range actions {
		if seen[a] {
			t.Errorf("duplicate action value %d", a)
		}
		seen[a] = true
	}
}
