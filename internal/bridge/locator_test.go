package bridge

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"chatbridge/config"
)

func TestLocatorDevelopmentUsesWorkDir(t *testing.T) {
	dir := t.TempDir()
	script := filepath.Join(dir, "python", "chat_handler.py")
	if err := os.MkdirAll(filepath.Dir(script), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(script, []byte("print()"), 0644); err != nil {
		t.Fatal(err)
	}

	l := Locator{Mode: config.ModeDevelopment, Script: config.DefaultScript, WorkDir: dir}
	got, err := l.Resolve()
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if got != script {
		t.Fatalf("expected %s, got %s", script, got)
	}
}

func TestLocatorDevelopmentDefaultsToCwd(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)

	l := Locator{Mode: config.ModeDevelopment, Script: "handler.py"}
	path, err := l.Path()
	if err != nil {
		t.Fatalf("Path failed: %v", err)
	}
	cwd, _ := os.Getwd()
	if path != filepath.Join(cwd, "handler.py") {
		t.Fatalf("expected path under cwd, got %s", path)
	}
}

func TestLocatorProductionUsesResourceDir(t *testing.T) {
	resources := t.TempDir()
	l := Locator{Mode: config.ModeProduction, Script: "python/chat_handler.py", ResourceDir: resources, WorkDir: "/ignored"}
	path, err := l.Path()
	if err != nil {
		t.Fatalf("Path failed: %v", err)
	}
	if path != filepath.Join(resources, "python", "chat_handler.py") {
		t.Fatalf("unexpected production path %s", path)
	}

	if _, err := l.Resolve(); !errors.Is(err, ErrScriptNotFound) {
		t.Fatalf("expected ErrScriptNotFound, got %v", err)
	}
}

func TestLocatorProductionDefaultsNextToExecutable(t *testing.T) {
	want, err := DefaultResourceDir()
	if err != nil {
		t.Fatalf("DefaultResourceDir failed: %v", err)
	}
	l := Locator{Mode: config.ModeProduction, Script: "x.py"}
	path, err := l.Path()
	if err != nil {
		t.Fatalf("Path failed: %v", err)
	}
	if path != filepath.Join(want, "x.py") {
		t.Fatalf("expected %s, got %s", filepath.Join(want, "x.py"), path)
	}
}

func TestLocatorAbsoluteScript(t *testing.T) {
	script := writeScript(t, "exit 0\n")
	for _, mode := range []config.Mode{config.ModeDevelopment, config.ModeProduction} {
		got, err := Locator{Mode: mode, Script: script, WorkDir: "/elsewhere", ResourceDir: "/elsewhere"}.Resolve()
		if err != nil {
			t.Fatalf("%s: Resolve failed: %v", mode, err)
		}
		if got != script {
			t.Fatalf("%s: expected %s, got %s", mode, script, got)
		}
	}
}

func TestLocatorRejectsDirectoryAndEmpty(t *testing.T) {
	if _, err := (Locator{Script: t.TempDir()}).Resolve(); KindOf(err) != KindScriptNotFound {
		t.Fatalf("expected script not found for directory, got %v", err)
	}
	if _, err := (Locator{}).Resolve(); KindOf(err) != KindScriptNotFound {
		t.Fatalf("expected script not found for empty script, got %v", err)
	}
}

func TestLocatorsFromSettings(t *testing.T) {
	s := config.DefaultSettings()
	s.Mode = config.ModeProduction
	s.ResourceDir = "/opt/chatbridge"
	s.StreamScript = ""

	script, stream := LocatorsFromSettings(s)
	if script.Script != config.DefaultScript || stream.Script != config.DefaultScript {
		t.Fatalf("stream locator should fall back to script, got %q/%q", script.Script, stream.Script)
	}
	if stream.ResourceDir != "/opt/chatbridge" || stream.Mode != config.ModeProduction {
		t.Fatalf("stream locator lost settings: %+v", stream)
	}
}
