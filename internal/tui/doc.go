// Package tui provides terminal user interface components for forage-lab.
//
// This package uses the Bubble Tea framework for the interactive runtime
// environment picker used by "forage-lab envs pick".
//
// # Environment Picker
//
// The picker lists environments grouped by kind and marks the default:
//
//	result, err := tui.RunPicker(envs, reg.CurrentDefault().Path)
//	switch result.Action {
//	case tui.ActionSelect:
//	    // Make result.Environment the default
//	case tui.ActionAdd:
//	    // Add the environment at result.Path
//	case tui.ActionQuit:
//	    // Exit
//	}
//
// # Picker Features
//
//   - Environments grouped by kind, headers auto-skipped during navigation
//   - Keyboard navigation (j/k or arrows) and filtering with /
//   - Quick actions: Enter (set default), a (add by path), q (quit)
//   - The add prompt accepts a path to a runtime executable
//
// # Dependencies
//
// Uses the Charm libraries:
//   - github.com/charmbracelet/bubbletea - TUI framework
//   - github.com/charmbracelet/bubbles - UI components
//   - github.com/charmbracelet/lipgloss - Styling
package tui
