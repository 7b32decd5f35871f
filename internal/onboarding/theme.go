package onboarding

import (
	"github.com/charmbracelet/huh"
	"github.com/charmbracelet/lipgloss"
)

var (
	wizardPrimary = lipgloss.AdaptiveColor{Light: "#f7c0af", Dark: "#f7c0af"}
	wizardRed     = lipgloss.AdaptiveColor{Light: "#FE5F86", Dark: "#FE5F86"}
)

func createHuhTheme() *huh.Theme {
	primary := lipgloss.Color("#f7c0af")  // orangish/peach
	fg := lipgloss.Color("#dddddd")       // light gray
	fgMuted := lipgloss.Color("#7f7f7f")  // muted gray
	fgSubtle := lipgloss.Color("#888888") // subtle gray
	bg := lipgloss.Color("#101012")       // dark bg
	errCol := lipgloss.Color("#bf5d47")   // red
	success := lipgloss.Color("#87bf47")  // green

	theme := huh.ThemeBase16()

	base := lipgloss.NewStyle().Foreground(fg)

	theme.Focused.Base = base.MarginLeft(1)
	theme.Focused.Title = base.Foreground(primary).Bold(true)
	theme.Focused.Description = base.Foreground(fgMuted)
	theme.Focused.ErrorIndicator = base.Foreground(errCol)
	theme.Focused.ErrorMessage = base.Foreground(errCol)

	theme.Focused.SelectSelector = base.Foreground(primary).Bold(true)
	theme.Focused.SelectedOption = base.Foreground(primary).Bold(true)
	theme.Focused.SelectedPrefix = base.Foreground(success).Bold(true).SetString("✓ ")
	theme.Focused.UnselectedPrefix = base.Foreground(fgMuted).SetString("> ")
	theme.Focused.Option = base

	theme.Focused.FocusedButton = base.Background(primary).Foreground(bg).Bold(true).Padding(0, 2)
	theme.Focused.BlurredButton = base.Foreground(fgMuted).Padding(0).MarginLeft(1)

	theme.Focused.NoteTitle = base.Foreground(primary).Bold(true)

	theme.Focused.TextInput.Cursor = base.Foreground(primary)
	theme.Focused.TextInput.Placeholder = base.Foreground(fgSubtle)
	theme.Focused.TextInput.Prompt = base.Foreground(primary)

	theme.Blurred.Base = base
	theme.Blurred.Title = base.Foreground(fgMuted)
	theme.Blurred.Description = base.Foreground(fgSubtle)
	theme.Blurred.TextInput.Placeholder = base.Foreground(fgSubtle)
	theme.Blurred.TextInput.Prompt = base.Foreground(fgMuted)

	theme.Form = base.Padding(0)

	return theme
}
