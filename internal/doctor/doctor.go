package doctor

import (
	"context"
	"errors"
	"fmt"
	"os"
	"runtime"
	"runtime/debug"
	"strings"
	"syscall"
	"time"

	"chatbridge/config"
	"chatbridge/internal/bridge"
	"chatbridge/internal/credentials"
	"chatbridge/internal/daemon"
	"chatbridge/pkg/db"
	"chatbridge/pkg/migration"
	"chatbridge/version"
)

type Status string

const (
	StatusOK   Status = "OK"
	StatusWarn Status = "WARN"
	StatusFail Status = "FAIL"
)

type CheckResult struct {
	Name    string
	Status  Status
	Summary string
	Details []string
	Actions []string
}

type Report struct {
	Checks []CheckResult
}

func (r Report) HasFailures() bool {
	for _, check := range r.Checks {
		if check.Status == StatusFail {
			return true
		}
	}
	return false
}

func (r Report) ExitCode() int {
	if r.HasFailures() {
		return 1
	}
	return 0
}

// Paths are the files the checks inspect.
type Paths struct {
	SettingsFile string
	SocketPath   string
	PIDFile      string
	DatabasePath string
}

func DefaultPaths() (Paths, error) {
	settingsFile, err := config.GetSettingsFile()
	if err != nil {
		return Paths{}, err
	}
	socketPath, err := config.GetSocketPath()
	if err != nil {
		return Paths{}, err
	}
	pidFile, err := config.GetPIDFile()
	if err != nil {
		return Paths{}, err
	}
	dbPath, err := config.GetDatabasePath()
	if err != nil {
		return Paths{}, err
	}
	return Paths{
		SettingsFile: settingsFile,
		SocketPath:   socketPath,
		PIDFile:      pidFile,
		DatabasePath: dbPath,
	}, nil
}

// probeTimeout bounds the interpreter checks.
const probeTimeout = 5 * time.Second

func GenerateReport(ctx context.Context, paths Paths) Report {
	var checks []CheckResult

	checks = append(checks, checkMetadata())

	settingsResult, settings := checkSettings(paths.SettingsFile)
	checks = append(checks, settingsResult)

	if settings != nil {
		checks = append(checks, checkInterpreter(ctx, *settings))
		checks = append(checks, checkScripts(*settings))
		checks = append(checks, checkSecrets(*settings))
	}

	checks = append(checks, checkDaemon(paths.SocketPath, paths.PIDFile))
	checks = append(checks, checkDataStore(paths.DatabasePath))

	return Report{Checks: checks}
}

func checkMetadata() CheckResult {
	result := CheckResult{Name: "Runtime Metadata", Status: StatusOK}

	summaryParts := []string{fmt.Sprintf("chatbridge %s", version.Get()), fmt.Sprintf("go runtime %s", runtime.Version())}
	result.Summary = strings.Join(summaryParts, ", ")
	result.Details = append(result.Details, fmt.Sprintf("OS/Arch: %s/%s", runtime.GOOS, runtime.GOARCH))

	if execPath, err := os.Executable(); err == nil {
		result.Details = append(result.Details, fmt.Sprintf("Executable: %s", execPath))
	} else {
		result.Status = StatusWarn
		result.Details = append(result.Details, fmt.Sprintf("Executable path unavailable: %v", err))
	}

	if buildInfo, ok := debug.ReadBuildInfo(); ok && buildInfo != nil {
		for _, setting := range buildInfo.Settings {
			if setting.Key == "vcs.revision" && setting.Value != "" {
				result.Details = append(result.Details, fmt.Sprintf("VCS Revision: %s", setting.Value))
			}
		}
	}

	return result
}

func checkSettings(path string) (CheckResult, *config.Settings) {
	result := CheckResult{Name: "Settings", Status: StatusOK}
	result.Details = append(result.Details, fmt.Sprintf("Settings file: %s", path))

	if _, err := os.Stat(path); err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			result.Status = StatusFail
			result.Summary = "Cannot access settings file"
			result.Details = append(result.Details, err.Error())
			return result, nil
		}
		result.Status = StatusWarn
		result.Summary = "settings.yaml not found, using defaults"
		result.Actions = append(result.Actions, "run 'chatbridge setup' to write settings")
	}

	settings, err := config.LoadSettings(path)
	if err != nil {
		result.Status = StatusFail
		result.Summary = "Failed to load settings"
		result.Details = append(result.Details, err.Error())
		result.Actions = append(result.Actions, "fix settings.yaml or rerun 'chatbridge setup'")
		return result, nil
	}

	if result.Summary == "" {
		result.Summary = fmt.Sprintf("Settings loaded (%s mode)", settings.Mode)
	}
	timeout := "none"
	if settings.Timeout > 0 {
		timeout = settings.Timeout.String()
	}
	result.Details = append(result.Details,
		fmt.Sprintf("Interpreter: %s", settings.Interpreter),
		fmt.Sprintf("Timeout: %s", timeout),
	)
	return result, &settings
}

func checkInterpreter(ctx context.Context, settings config.Settings) CheckResult {
	result := CheckResult{Name: "Interpreter", Status: StatusOK}

	ctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	if !bridge.Probe(ctx, settings.Interpreter) {
		result.Status = StatusFail
		result.Summary = fmt.Sprintf("%s is not runnable", settings.Interpreter)
		result.Actions = append(result.Actions, "install python3 or set 'interpreter' in settings.yaml")
		return result
	}

	result.Summary = fmt.Sprintf("%s available", settings.Interpreter)
	if v, err := bridge.InterpreterVersion(ctx, settings.Interpreter); err == nil && v != "" {
		result.Details = append(result.Details, fmt.Sprintf("Version: %s", v))
	}
	return result
}

func checkScripts(settings config.Settings) CheckResult {
	result := CheckResult{Name: "Handler Scripts", Status: StatusOK}

	syncLoc, streamLoc := bridge.LocatorsFromSettings(settings)
	missing := 0
	for _, entry := range []struct {
		label string
		loc   bridge.Locator
	}{{"sync", syncLoc}, {"stream", streamLoc}} {
		path, err := entry.loc.Resolve()
		if err != nil {
			missing++
			result.Details = append(result.Details, fmt.Sprintf("%s: %s", entry.label, bridge.Message(err)))
			continue
		}
		result.Details = append(result.Details, fmt.Sprintf("%s: %s", entry.label, path))
	}

	switch missing {
	case 0:
		result.Summary = "Handler scripts found"
	case 2:
		result.Status = StatusFail
		result.Summary = "Handler scripts missing"
	default:
		result.Status = StatusFail
		result.Summary = "A handler script is missing"
	}
	if missing > 0 {
		if settings.Mode == config.ModeProduction {
			result.Actions = append(result.Actions, "install the handler scripts under resource_dir")
		} else {
			result.Actions = append(result.Actions, "run from the project directory or set work_dir")
		}
	}
	return result
}

func checkSecrets(settings config.Settings) CheckResult {
	result := CheckResult{Name: "Secrets", Status: StatusOK}

	if len(settings.SecretEnv) == 0 {
		result.Summary = "No secrets requested"
		return result
	}

	env, missing, err := credentials.Environ(settings.SecretEnv)
	if err != nil {
		result.Status = StatusFail
		result.Summary = "Unable to access system keyring"
		result.Details = append(result.Details, err.Error())
		result.Actions = append(result.Actions, "confirm keyring backend is available")
		return result
	}

	result.Summary = fmt.Sprintf("%d of %d secrets stored", len(env), len(env)+len(missing))
	if len(missing) > 0 {
		result.Status = StatusWarn
		result.Details = append(result.Details, fmt.Sprintf("Missing: %s", strings.Join(missing, ", ")))
		for _, name := range missing {
			result.Actions = append(result.Actions, fmt.Sprintf("run 'chatbridge secret set %s'", name))
		}
	}
	return result
}

func checkDaemon(socketPath, pidFile string) CheckResult {
	result := CheckResult{Name: "Daemon", Status: StatusOK}

	running := daemon.IsRunning(socketPath)

	pid, err := daemon.ReadPIDFile(pidFile)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		result.Status = StatusWarn
		result.Details = append(result.Details, fmt.Sprintf("PID file error: %v", err))
	}

	if !running {
		result.Status = StatusWarn
		result.Summary = "Daemon is not running"
		result.Details = append(result.Details, "Commands run the handler directly")
		if _, statErr := os.Stat(socketPath); statErr == nil {
			result.Details = append(result.Details, fmt.Sprintf("Stale socket: %s", socketPath))
			result.Actions = append(result.Actions, "run 'chatbridge daemon stop' to clean up")
		}
		return result
	}

	result.Summary = "Daemon is running"
	result.Details = append(result.Details, fmt.Sprintf("Socket: %s", socketPath))
	if pid <= 0 {
		result.Status = StatusWarn
		result.Details = append(result.Details, "Daemon pid file missing or unreadable")
		result.Actions = append(result.Actions, "restart daemon to regenerate pid file")
		return result
	}
	if err := verifyPIDAlive(pid); err != nil {
		result.Status = StatusWarn
		result.Details = append(result.Details, fmt.Sprintf("PID %d not responding: %v", pid, err))
		result.Actions = append(result.Actions, "restart daemon with 'chatbridge daemon stop && chatbridge daemon start'")
		return result
	}
	result.Details = append(result.Details, fmt.Sprintf("PID: %d", pid))
	return result
}

func verifyPIDAlive(pid int) error {
	process, err := os.FindProcess(pid)
	if err != nil {
		return err
	}
	return process.Signal(syscall.Signal(0))
}

func checkDataStore(dbPath string) CheckResult {
	result := CheckResult{Name: "History Store", Status: StatusOK}

	info, err := os.Stat(dbPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			result.Status = StatusWarn
			result.Summary = "History database not initialized"
			result.Actions = append(result.Actions, "send a message to create it")
			return result
		}
		result.Status = StatusWarn
		result.Summary = "Cannot read history database"
		result.Details = append(result.Details, err.Error())
		return result
	}

	result.Details = append(result.Details,
		fmt.Sprintf("Path: %s", dbPath),
		fmt.Sprintf("Size: %s", formatBytes(info.Size())),
		fmt.Sprintf("Last modified: %s", info.ModTime().Format(time.RFC3339)),
	)

	d, err := db.Open(dbPath)
	if err != nil {
		result.Status = StatusFail
		result.Summary = "Failed to open history database"
		result.Details = append(result.Details, err.Error())
		return result
	}
	defer d.Close()

	current, dirty, err := migration.NewRunner(d.Write()).Version()
	if err != nil {
		result.Status = StatusWarn
		result.Summary = "Unable to read schema version"
		result.Details = append(result.Details, err.Error())
		return result
	}
	latest, err := migration.Latest()
	if err != nil {
		result.Status = StatusWarn
		result.Summary = "Unable to read bundled migrations"
		result.Details = append(result.Details, err.Error())
		return result
	}

	result.Summary = fmt.Sprintf("Schema version %d", current)
	if dirty {
		result.Status = StatusFail
		result.Summary = fmt.Sprintf("Schema version %d is dirty", current)
		result.Actions = append(result.Actions, "restore the database or remove it to start over")
	} else if current != latest {
		result.Status = StatusWarn
		result.Details = append(result.Details, fmt.Sprintf("Latest: %d", latest))
		result.Actions = append(result.Actions, "run 'chatbridge history' to apply pending migrations")
	}
	return result
}

func formatBytes(size int64) string {
	const unit = 1024
	if size < unit {
		return fmt.Sprintf("%d B", size)
	}
	div, exp := int64(unit), 0
	for n := size / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(size)/float64(div), "KMGTPE"[exp])
}
