package credentials

import (
	"context"
	"errors"
	"strings"
	"time"

	"chatbridge/pkg/db"
)

var errEmptySecretName = errors.New("secret name cannot be empty")

// Registry records which secret names were stored through chatbridge. The
// keyring cannot enumerate entries, so the names live in the database while
// the values stay in the keyring.
type Registry struct {
	db *db.DB
}

func NewRegistry(d *db.DB) *Registry {
	return &Registry{db: d}
}

func (r *Registry) Register(ctx context.Context, name string) error {
	trimmed := strings.TrimSpace(name)
	if trimmed == "" {
		return errEmptySecretName
	}

	now := time.Now().Unix()
	_, err := r.db.Write().ExecContext(ctx,
		`INSERT INTO secrets(name, created_at, updated_at) VALUES(?, ?, ?)
		 ON CONFLICT(name) DO UPDATE SET updated_at = ?`,
		trimmed, now, now, now)
	return err
}

func (r *Registry) Unregister(ctx context.Context, name string) error {
	trimmed := strings.TrimSpace(name)
	if trimmed == "" {
		return errEmptySecretName
	}

	_, err := r.db.Write().ExecContext(ctx, `DELETE FROM secrets WHERE name = ?`, trimmed)
	return err
}

func (r *Registry) List(ctx context.Context) ([]string, error) {
	rows, err := r.db.Read().QueryContext(ctx, `SELECT name FROM secrets ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

// Store saves the secret in the keyring and records its name.
func (r *Registry) Store(ctx context.Context, name, value string) error {
	if strings.TrimSpace(name) == "" {
		return errEmptySecretName
	}
	if err := SetSecret(name, value); err != nil {
		return err
	}
	return r.Register(ctx, name)
}

// Remove deletes the secret from the keyring and forgets its name. A name that
// is registered but already gone from the keyring is still unregistered.
func (r *Registry) Remove(ctx context.Context, name string) error {
	if strings.TrimSpace(name) == "" {
		return errEmptySecretName
	}
	delErr := DeleteSecret(name)
	if delErr != nil && !errors.Is(delErr, ErrNotFound) {
		return delErr
	}
	if err := r.Unregister(ctx, name); err != nil {
		return err
	}
	return delErr
}
