package doctor

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/zalando/go-keyring"

	"chatbridge/internal/credentials"
	"chatbridge/pkg/migration"
)

func findCheck(t *testing.T, report Report, name string) CheckResult {
	t.Helper()
	for _, check := range report.Checks {
		if check.Name == name {
			return check
		}
	}
	t.Fatalf("check %q not in report", name)
	return CheckResult{}
}

func testPaths(t *testing.T, settings string) Paths {
	t.Helper()
	dir := t.TempDir()
	paths := Paths{
		SettingsFile: filepath.Join(dir, "settings.yaml"),
		SocketPath:   filepath.Join(dir, "chatbridge.sock"),
		PIDFile:      filepath.Join(dir, "chatbridge.pid"),
		DatabasePath: filepath.Join(dir, "chatbridge.db"),
	}
	if settings != "" {
		if err := os.WriteFile(paths.SettingsFile, []byte(settings), 0644); err != nil {
			t.Fatalf("write settings: %v", err)
		}
	}
	return paths
}

func TestReportHealthySetup(t *testing.T) {
	keyring.MockInit()
	if err := credentials.SetSecret("CHATBRIDGE_DOCTOR_KEY", "v"); err != nil {
		t.Fatalf("SetSecret: %v", err)
	}

	scripts := t.TempDir()
	for _, name := range []string{"chat.sh", "stream.sh"} {
		if err := os.WriteFile(filepath.Join(scripts, name), []byte("exit 0\n"), 0644); err != nil {
			t.Fatalf("write script: %v", err)
		}
	}
	paths := testPaths(t, `mode: development
interpreter: /bin/sh
script: chat.sh
stream_script: stream.sh
work_dir: `+scripts+`
secret_env: [CHATBRIDGE_DOCTOR_KEY]
`)
	d, err := migration.Open(paths.DatabasePath)
	if err != nil {
		t.Fatalf("migration.Open: %v", err)
	}
	d.Close()

	report := GenerateReport(context.Background(), paths)

	for _, name := range []string{"Settings", "Handler Scripts", "Secrets", "History Store"} {
		if check := findCheck(t, report, name); check.Status != StatusOK {
			t.Errorf("%s: expected OK, got %s (%s %v)", name, check.Status, check.Summary, check.Details)
		}
	}
	if check := findCheck(t, report, "Daemon"); check.Status != StatusWarn {
		t.Errorf("daemon should warn when offline, got %s", check.Status)
	}
}

func TestReportMissingScriptsFails(t *testing.T) {
	keyring.MockInit()
	paths := testPaths(t, `interpreter: /bin/sh
script: nope.sh
work_dir: `+t.TempDir()+`
secret_env: [CHATBRIDGE_DOCTOR_MISSING]
`)

	report := GenerateReport(context.Background(), paths)
	if !report.HasFailures() || report.ExitCode() != 1 {
		t.Fatalf("expected failing report")
	}
	if check := findCheck(t, report, "Handler Scripts"); check.Status != StatusFail {
		t.Errorf("expected scripts failure, got %s", check.Status)
	}
	secrets := findCheck(t, report, "Secrets")
	if secrets.Status != StatusWarn || len(secrets.Actions) != 1 {
		t.Errorf("expected missing secret warning, got %+v", secrets)
	}
	if check := findCheck(t, report, "History Store"); check.Status != StatusWarn {
		t.Errorf("absent database should warn, got %s", check.Status)
	}
}

func TestReportInvalidSettingsSkipsDependentChecks(t *testing.T) {
	paths := testPaths(t, "mode: staging\n")

	report := GenerateReport(context.Background(), paths)
	if check := findCheck(t, report, "Settings"); check.Status != StatusFail {
		t.Fatalf("expected settings failure, got %s", check.Status)
	}
	for _, check := range report.Checks {
		if check.Name == "Interpreter" || check.Name == "Handler Scripts" {
			t.Errorf("%s should not run without settings", check.Name)
		}
	}
}

func TestReportMissingInterpreter(t *testing.T) {
	paths := testPaths(t, "interpreter: /nonexistent/python-doctor\n")

	report := GenerateReport(context.Background(), paths)
	if check := findCheck(t, report, "Interpreter"); check.Status != StatusFail {
		t.Fatalf("expected interpreter failure, got %s", check.Status)
	}
}

func TestFormatBytes(t *testing.T) {
	cases := map[int64]string{
		12:              "12 B",
		2048:            "2.0 KiB",
		5 * 1024 * 1024: "5.0 MiB",
	}
	for in, want := range cases {
		if got := formatBytes(in); got != want {
			t.Errorf("formatBytes(%d) = %q, want %q", in, got, want)
		}
	}
}
