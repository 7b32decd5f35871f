package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/term"

	"chatbridge/config"
	"chatbridge/internal/credentials"
	"chatbridge/pkg/migration"
)

func withRegistry(fn func(*credentials.Registry) error) error {
	dbPath, err := config.GetDatabasePath()
	if err != nil {
		return err
	}
	d, err := migration.Open(dbPath)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer d.Close()
	return fn(credentials.NewRegistry(d))
}

// SetSecret stores a secret for the handler environment. An empty value is
// read from the terminal without echo.
func SetSecret(ctx context.Context, out io.Writer, name, value string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return fmt.Errorf("secret name cannot be empty")
	}
	secret, err := ensureSecretInput(out, value, fmt.Sprintf("Enter value for %s: ", name))
	if err != nil {
		return err
	}

	existed, err := credentials.HasSecret(name)
	if err != nil {
		return err
	}
	if err := withRegistry(func(r *credentials.Registry) error {
		return r.Store(ctx, name, secret)
	}); err != nil {
		return err
	}

	if existed {
		fmt.Fprintf(out, "Updated secret %q in the system keyring\n", name)
	} else {
		fmt.Fprintf(out, "Stored secret %q in the system keyring\n", name)
	}
	return nil
}

func DeleteSecret(ctx context.Context, out io.Writer, name string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return fmt.Errorf("secret name cannot be empty")
	}
	err := withRegistry(func(r *credentials.Registry) error {
		return r.Remove(ctx, name)
	})
	if errors.Is(err, credentials.ErrNotFound) {
		return fmt.Errorf("no secret named %q is stored", name)
	}
	if err != nil {
		return err
	}

	fmt.Fprintf(out, "Removed secret %q from the system keyring\n", name)
	return nil
}

// ListSecrets prints every registered secret name and whether the handler
// receives it.
func ListSecrets(ctx context.Context, out io.Writer) error {
	var names []string
	if err := withRegistry(func(r *credentials.Registry) error {
		var err error
		names, err = r.List(ctx)
		return err
	}); err != nil {
		return err
	}

	exported := map[string]bool{}
	if path, err := config.GetSettingsFile(); err == nil {
		if settings, err := config.LoadSettings(path); err == nil {
			for _, name := range settings.SecretEnv {
				exported[name] = true
			}
		}
	}

	if len(names) == 0 {
		fmt.Fprintln(out, "No secrets have been registered yet")
		return nil
	}
	for _, name := range names {
		label := name
		if exported[name] {
			label += " " + mutedStyle.Render("(secret_env)")
		}
		fmt.Fprintln(out, label)
	}
	return nil
}

func ensureSecretInput(out io.Writer, raw, prompt string) (string, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed != "" {
		return trimmed, nil
	}

	if !term.IsTerminal(int(os.Stdin.Fd())) {
		return "", fmt.Errorf("secret value is required when stdin is not a terminal")
	}

	fmt.Fprint(out, prompt)
	bytes, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Fprintln(out)
	if err != nil {
		return "", fmt.Errorf("read secret: %w", err)
	}

	trimmed = strings.TrimSpace(string(bytes))
	if trimmed == "" {
		return "", fmt.Errorf("secret value cannot be empty")
	}

	return trimmed, nil
}
