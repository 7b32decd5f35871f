package config

import (
	"errors"
	"fmt"
	"os"
	"runtime"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"chatbridge/version"
)

// Mode selects how the handler script path is resolved.
type Mode string

const (
	ModeDevelopment Mode = "development"
	ModeProduction  Mode = "production"
)

const (
	DefaultScript       = "python/chat_handler.py"
	DefaultStreamScript = "python/chat_stream.py"
)

// Settings holds everything needed to invoke the chat handler.
type Settings struct {
	Mode         Mode              `yaml:"mode"`
	Interpreter  string            `yaml:"interpreter"`
	Script       string            `yaml:"script"`
	StreamScript string            `yaml:"stream_script,omitempty"`
	WorkDir      string            `yaml:"work_dir,omitempty"`
	ResourceDir  string            `yaml:"resource_dir,omitempty"`
	Timeout      time.Duration     `yaml:"timeout,omitempty"`
	Env          map[string]string `yaml:"env,omitempty"`
	SecretEnv    []string          `yaml:"secret_env,omitempty"`
	History      bool              `yaml:"history"`
}

// DefaultInterpreter returns the interpreter binary name for the host OS.
func DefaultInterpreter() string {
	if runtime.GOOS == "windows" {
		return "python"
	}
	return "python3"
}

func DefaultMode() Mode {
	if version.IsDev() {
		return ModeDevelopment
	}
	return ModeProduction
}

func DefaultSettings() Settings {
	return Settings{
		Mode:         DefaultMode(),
		Interpreter:  DefaultInterpreter(),
		Script:       DefaultScript,
		StreamScript: DefaultStreamScript,
		History:      true,
	}
}

// LoadSettings reads the settings file on top of the defaults. A missing or
// empty file yields the defaults.
func LoadSettings(path string) (Settings, error) {
	settings := DefaultSettings()
	if path == "" {
		return settings, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return settings, nil
		}
		return settings, fmt.Errorf("failed to read settings: %w", err)
	}
	if len(strings.TrimSpace(string(data))) == 0 {
		return settings, nil
	}

	if err := yaml.Unmarshal(data, &settings); err != nil {
		return settings, fmt.Errorf("failed to parse settings: %w", err)
	}

	settings.normalize()
	if err := settings.Validate(); err != nil {
		return settings, err
	}
	return settings, nil
}

// SaveSettings writes settings to disk.
func SaveSettings(path string, settings Settings) error {
	data, err := yaml.Marshal(settings)
	if err != nil {
		return fmt.Errorf("failed to marshal settings: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write settings: %w", err)
	}

	return nil
}

// EnsureSettingsExist writes a commented default settings file when none exists.
func EnsureSettingsExist() (string, error) {
	path, err := GetSettingsFile()
	if err != nil {
		return "", err
	}

	if _, err := os.Stat(path); os.IsNotExist(err) {
		defaults := fmt.Sprintf(`# chatbridge settings
# mode: development resolves scripts against work_dir (default: current directory),
#       production resolves them against resource_dir (default: <executable dir>/resources)
mode: %s
interpreter: %s
script: %s
stream_script: %s
# timeout: 0 waits for the handler indefinitely
timeout: 0s
env:
  PYTHONUNBUFFERED: "1"
# names of keyring secrets exported to the handler environment
secret_env: []
history: true
`, DefaultMode(), DefaultInterpreter(), DefaultScript, DefaultStreamScript)

		if err := os.WriteFile(path, []byte(defaults), 0644); err != nil {
			return "", err
		}
	}

	return path, nil
}

func (s *Settings) normalize() {
	s.Mode = Mode(strings.ToLower(strings.TrimSpace(string(s.Mode))))
	if s.Mode == "dev" {
		s.Mode = ModeDevelopment
	}
	if s.Mode == "prod" || s.Mode == "release" {
		s.Mode = ModeProduction
	}
	s.Interpreter = strings.TrimSpace(s.Interpreter)
	s.Script = strings.TrimSpace(s.Script)
	s.StreamScript = strings.TrimSpace(s.StreamScript)
	s.WorkDir = strings.TrimSpace(s.WorkDir)
	s.ResourceDir = strings.TrimSpace(s.ResourceDir)
}

// Validate reports configuration errors that would make every invocation fail.
func (s Settings) Validate() error {
	switch s.Mode {
	case ModeDevelopment, ModeProduction:
	default:
		return fmt.Errorf("invalid mode %q: expected %q or %q", s.Mode, ModeDevelopment, ModeProduction)
	}
	if s.Interpreter == "" {
		return fmt.Errorf("interpreter cannot be empty")
	}
	if s.Script == "" {
		return fmt.Errorf("script cannot be empty")
	}
	if s.Timeout < 0 {
		return fmt.Errorf("timeout cannot be negative")
	}
	for _, name := range s.SecretEnv {
		if strings.TrimSpace(name) == "" {
			return fmt.Errorf("secret_env contains an empty name")
		}
	}
	return nil
}

// StreamScriptPath returns the script used for streaming invocations.
func (s Settings) StreamScriptPath() string {
	if s.StreamScript != "" {
		return s.StreamScript
	}
	return s.Script
}

// Environ returns the configured environment additions as KEY=VALUE pairs,
// sorted by key, with ${VAR} references expanded.
func (s Settings) Environ() []string {
	if len(s.Env) == 0 {
		return nil
	}
	keys := make([]string, 0, len(s.Env))
	for key := range s.Env {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	out := make([]string, 0, len(keys))
	for _, key := range keys {
		out = append(out, fmt.Sprintf("%s=%s", key, expandEnvVars(s.Env[key])))
	}
	return out
}

// expandEnvVars expands environment variables in the format ${VAR_NAME}
func expandEnvVars(s string) string {
	if !strings.Contains(s, "${") {
		return s
	}

	return os.Expand(s, func(key string) string {
		return os.Getenv(key)
	})
}
