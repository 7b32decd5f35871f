package onboarding

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/huh"
	"github.com/charmbracelet/lipgloss"

	"chatbridge/config"
	"chatbridge/internal/bridge"
	"chatbridge/internal/credentials"
)

const wizardWidth = 80

// ErrCancelled is returned when the user leaves the wizard early.
var ErrCancelled = errors.New("cancelled")

// SecretStore persists secret values entered during setup.
type SecretStore interface {
	Store(ctx context.Context, name, value string) error
}

// answers holds the raw form values before they are applied to settings.
type answers struct {
	Mode         string
	Interpreter  string
	Script       string
	StreamScript string
	BaseDir      string
	Timeout      string
	SecretNames  string
	History      bool
}

func answersFrom(s config.Settings) answers {
	a := answers{
		Mode:         string(s.Mode),
		Interpreter:  s.Interpreter,
		Script:       s.Script,
		StreamScript: s.StreamScript,
		SecretNames:  strings.Join(s.SecretEnv, ", "),
		History:      s.History,
	}
	if s.Mode == config.ModeProduction {
		a.BaseDir = s.ResourceDir
	} else {
		a.BaseDir = s.WorkDir
	}
	if s.Timeout > 0 {
		a.Timeout = s.Timeout.String()
	}
	return a
}

// apply merges the answers into base and validates the result.
func (a answers) apply(base config.Settings) (config.Settings, error) {
	s := base
	s.Mode = config.Mode(strings.TrimSpace(a.Mode))
	s.Interpreter = strings.TrimSpace(a.Interpreter)
	s.Script = strings.TrimSpace(a.Script)
	s.StreamScript = strings.TrimSpace(a.StreamScript)
	s.History = a.History

	dir := strings.TrimSpace(a.BaseDir)
	s.WorkDir, s.ResourceDir = "", ""
	if s.Mode == config.ModeProduction {
		s.ResourceDir = dir
	} else {
		s.WorkDir = dir
	}

	s.Timeout = 0
	if t := strings.TrimSpace(a.Timeout); t != "" {
		d, err := time.ParseDuration(t)
		if err != nil {
			return base, fmt.Errorf("invalid timeout %q: %w", t, err)
		}
		s.Timeout = d
	}

	s.SecretEnv = splitNames(a.SecretNames)

	if err := s.Validate(); err != nil {
		return base, err
	}
	return s, nil
}

func splitNames(raw string) []string {
	var names []string
	seen := map[string]bool{}
	for _, field := range strings.FieldsFunc(raw, func(r rune) bool { return r == ',' || r == ' ' }) {
		if !seen[field] {
			seen[field] = true
			names = append(names, field)
		}
	}
	return names
}

func validateDuration(s string) error {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return errors.New("use a duration such as 30s or 2m")
	}
	if d < 0 {
		return errors.New("timeout cannot be negative")
	}
	return nil
}

func buildSettingsForm(a *answers) *huh.Form {
	theme := createHuhTheme()
	return huh.NewForm(
		huh.NewGroup(
			huh.NewNote().
				Title("chatbridge setup").
				Description("chatbridge runs a local python chat handler for each message\nand relays its reply, whole or streamed.\n\nPress Enter to continue."),
		),
		huh.NewGroup(
			huh.NewSelect[string]().
				Title("Script location").
				Options(
					huh.NewOption("Development (relative to a project directory)", string(config.ModeDevelopment)),
					huh.NewOption("Production (bundled resources directory)", string(config.ModeProduction)),
				).
				Value(&a.Mode),
			huh.NewInput().
				Title("Base directory").
				Description("Leave empty for the current directory (development)\nor <executable dir>/resources (production)").
				Value(&a.BaseDir),
		),
		huh.NewGroup(
			huh.NewInput().
				Title("Interpreter").
				Value(&a.Interpreter).
				Validate(func(s string) error {
					if strings.TrimSpace(s) == "" {
						return errors.New("interpreter cannot be empty")
					}
					return nil
				}),
			huh.NewInput().
				Title("Handler script").
				Value(&a.Script).
				Validate(func(s string) error {
					if strings.TrimSpace(s) == "" {
						return errors.New("script cannot be empty")
					}
					return nil
				}),
			huh.NewInput().
				Title("Streaming handler script").
				Description("Leave empty to stream with the handler script").
				Value(&a.StreamScript),
			huh.NewInput().
				Title("Timeout").
				Description("Empty waits for the handler indefinitely").
				Placeholder("2m").
				Value(&a.Timeout).
				Validate(validateDuration),
		),
		huh.NewGroup(
			huh.NewInput().
				Title("Secrets").
				Description("Keyring secrets exported to the handler, comma separated").
				Placeholder("OPENAI_API_KEY").
				Value(&a.SecretNames),
			huh.NewConfirm().
				Title("Keep a history of exchanges?").
				Value(&a.History).
				Affirmative("Yes").
				Negative("No"),
		),
	).
		WithTheme(theme).
		WithWidth(wizardWidth).
		WithShowHelp(false)
}

// RunWizard asks for the handler settings, writes them to settingsPath and
// collects values for secrets that are not stored yet.
func RunWizard(ctx context.Context, settingsPath string, secrets SecretStore) error {
	current, err := config.LoadSettings(settingsPath)
	if err != nil {
		current = config.DefaultSettings()
	}

	a := answersFrom(current)
	if err := buildSettingsForm(&a).Run(); err != nil {
		return ErrCancelled
	}

	settings, err := a.apply(current)
	if err != nil {
		return err
	}
	if err := config.SaveSettings(settingsPath, settings); err != nil {
		return err
	}

	if err := collectSecrets(ctx, settings.SecretEnv, secrets); err != nil {
		return err
	}

	printSummary(settings, settingsPath)
	return nil
}

func collectSecrets(ctx context.Context, names []string, store SecretStore) error {
	for _, name := range names {
		has, err := credentials.HasSecret(name)
		if err != nil {
			return fmt.Errorf("check secret %s: %w", name, err)
		}
		if has {
			continue
		}

		var value string
		form := huh.NewForm(
			huh.NewGroup(
				huh.NewInput().
					Title(name).
					Description("Stored in the system keyring; leave empty to skip").
					Password(true).
					Value(&value),
			),
		).
			WithTheme(createHuhTheme()).
			WithWidth(wizardWidth).
			WithShowHelp(false)
		if err := form.Run(); err != nil {
			return ErrCancelled
		}

		if strings.TrimSpace(value) == "" {
			continue
		}
		if err := store.Store(ctx, name, value); err != nil {
			return fmt.Errorf("store secret %s: %w", name, err)
		}
	}
	return nil
}

func printSummary(settings config.Settings, settingsPath string) {
	fg := lipgloss.Color("#dddddd")
	baseStyle := lipgloss.NewStyle().Foreground(fg)
	highlightStyle := lipgloss.NewStyle().Foreground(wizardPrimary).Bold(true)
	warnStyle := lipgloss.NewStyle().Foreground(wizardRed)

	fmt.Println()
	fmt.Println(baseStyle.Render(" ✔︎ Settings saved to " + settingsPath))

	syncLoc, _ := bridge.LocatorsFromSettings(settings)
	if _, err := syncLoc.Resolve(); err != nil {
		fmt.Println(warnStyle.Render(" ! " + bridge.Message(err)))
	}

	fmt.Println()
	fmt.Print(baseStyle.Render(" Run '"))
	fmt.Print(highlightStyle.Render("chatbridge send \"hello\""))
	fmt.Print(baseStyle.Render("' to try it."))
	fmt.Println()
	fmt.Println()
}
