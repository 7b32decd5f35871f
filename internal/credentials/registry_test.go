package credentials

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/zalando/go-keyring"

	"chatbridge/pkg/migration"
)

func setupRegistry(t *testing.T) *Registry {
	t.Helper()
	keyring.MockInit()

	d, err := migration.Open(filepath.Join(t.TempDir(), "chatbridge.db"))
	if err != nil {
		t.Fatalf("open database: %v", err)
	}
	t.Cleanup(func() { d.Close() })
	return NewRegistry(d)
}

func TestRegisterSecret(t *testing.T) {
	r := setupRegistry(t)
	ctx := context.Background()

	if err := r.Register(ctx, " test-secret "); err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	if err := r.Register(ctx, "test-secret"); err != nil {
		t.Fatalf("second Register should update, got %v", err)
	}

	names, err := r.List(ctx)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(names) != 1 || names[0] != "test-secret" {
		t.Fatalf("expected [test-secret], got %v", names)
	}
}

func TestUnregisterSecret(t *testing.T) {
	r := setupRegistry(t)
	ctx := context.Background()

	if err := r.Register(ctx, "test-secret"); err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	if err := r.Unregister(ctx, "test-secret"); err != nil {
		t.Fatalf("Unregister failed: %v", err)
	}

	names, err := r.List(ctx)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(names) != 0 {
		t.Fatalf("expected no secrets, got %v", names)
	}
}

func TestEmptySecretName(t *testing.T) {
	r := setupRegistry(t)
	ctx := context.Background()
	if err := r.Register(ctx, "   "); !errors.Is(err, errEmptySecretName) {
		t.Fatalf("expected errEmptySecretName, got %v", err)
	}
	if err := r.Unregister(ctx, ""); !errors.Is(err, errEmptySecretName) {
		t.Fatalf("expected errEmptySecretName, got %v", err)
	}
}

func TestStoreAndRemove(t *testing.T) {
	r := setupRegistry(t)
	ctx := context.Background()

	if err := r.Store(ctx, "OPENAI_API_KEY", "  sk-test  "); err != nil {
		t.Fatalf("Store failed: %v", err)
	}
	value, err := GetSecret("OPENAI_API_KEY")
	if err != nil {
		t.Fatalf("GetSecret failed: %v", err)
	}
	if value != "sk-test" {
		t.Fatalf("expected trimmed secret, got %q", value)
	}

	if err := r.Remove(ctx, "OPENAI_API_KEY"); err != nil {
		t.Fatalf("Remove failed: %v", err)
	}
	if ok, _ := HasSecret("OPENAI_API_KEY"); ok {
		t.Fatalf("secret should be gone from the keyring")
	}
	if err := r.Remove(ctx, "OPENAI_API_KEY"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound on second remove, got %v", err)
	}
}

func TestStoreRejectsEmptyValue(t *testing.T) {
	r := setupRegistry(t)
	if err := r.Store(context.Background(), "TOKEN", "   "); err == nil {
		t.Fatalf("expected error for empty value")
	}
	names, _ := r.List(context.Background())
	if len(names) != 0 {
		t.Fatalf("empty value should not be registered, got %v", names)
	}
}

func TestEnviron(t *testing.T) {
	keyring.MockInit()
	if err := SetSecret("OPENAI_API_KEY", "sk-env"); err != nil {
		t.Fatalf("SetSecret failed: %v", err)
	}

	env, missing, err := Environ([]string{"OPENAI_API_KEY", "MISSING_KEY", " "})
	if err != nil {
		t.Fatalf("Environ failed: %v", err)
	}
	if len(env) != 1 || env[0] != "OPENAI_API_KEY=sk-env" {
		t.Fatalf("unexpected env %v", env)
	}
	if len(missing) != 1 || missing[0] != "MISSING_KEY" {
		t.Fatalf("unexpected missing %v", missing)
	}
}
