package history

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"chatbridge/internal/bridge"
	"chatbridge/internal/protocol"
	"chatbridge/pkg/db"
)

// Mode records which invoker produced an exchange.
type Mode string

const (
	ModeSync   Mode = "sync"
	ModeStream Mode = "stream"
)

var (
	ErrNotFound  = errors.New("exchange not found")
	ErrAmbiguous = errors.New("exchange id prefix is ambiguous")
)

// Exchange is one message sent to the handler and what came back.
type Exchange struct {
	ID         string                `json:"id"`
	Mode       Mode                  `json:"mode"`
	Message    string                `json:"message"`
	Response   string                `json:"response,omitempty"`
	Error      string                `json:"error,omitempty"`
	ErrorKind  string                `json:"error_kind,omitempty"`
	Success    bool                  `json:"success"`
	Dropped    int                   `json:"dropped,omitempty"`
	ExitCode   int                   `json:"exit_code"`
	Units      []protocol.StreamUnit `json:"units,omitempty"`
	StartedAt  time.Time             `json:"started_at"`
	FinishedAt time.Time             `json:"finished_at"`
}

// Duration is the wall time the handler took.
func (e Exchange) Duration() time.Duration {
	return e.FinishedAt.Sub(e.StartedAt)
}

// SyncExchange builds the record of a synchronous invocation.
func SyncExchange(id, message string, started time.Time, result protocol.ChatResult, err error) Exchange {
	ex := Exchange{
		ID:         id,
		Mode:       ModeSync,
		Message:    message,
		StartedAt:  started,
		FinishedAt: time.Now(),
	}
	if err != nil {
		ex.applyError(err)
		return ex
	}
	ex.Success = result.Success
	if result.Success {
		ex.Response = result.Text()
	} else {
		ex.Error = result.Text()
	}
	return ex
}

// StreamExchange builds the record of a streaming invocation. Success follows
// the last terminal unit the handler emitted.
func StreamExchange(id, message string, started time.Time, units []protocol.StreamUnit, stats bridge.StreamStats, err error) Exchange {
	ex := Exchange{
		ID:         id,
		Mode:       ModeStream,
		Message:    message,
		Units:      units,
		Dropped:    stats.Dropped,
		ExitCode:   stats.ExitCode,
		StartedAt:  started,
		FinishedAt: time.Now(),
	}

	var response strings.Builder
	for _, unit := range units {
		switch unit.Kind {
		case protocol.KindContent:
			response.WriteString(unit.ContentText())
		case protocol.KindDone:
			ex.Success = unit.Success == nil || *unit.Success
		case protocol.KindError:
			ex.Success = false
			ex.Error = unit.ErrorText()
		}
	}
	ex.Response = response.String()

	if err != nil {
		ex.applyError(err)
	}
	return ex
}

func (e *Exchange) applyError(err error) {
	e.Success = false
	e.Error = bridge.Message(err)
	e.ErrorKind = bridge.KindOf(err).String()
	var bErr *bridge.Error
	if errors.As(err, &bErr) {
		e.ExitCode = bErr.ExitCode
	}
}

// Store persists exchanges in the chatbridge database.
type Store struct {
	db *db.DB
}

func NewStore(d *db.DB) *Store {
	return &Store{db: d}
}

// Record saves ex and its units, assigning an ID when it has none.
func (s *Store) Record(ctx context.Context, ex *Exchange) error {
	if ex.ID == "" {
		ex.ID = uuid.NewString()
	}
	if ex.Mode == "" {
		ex.Mode = ModeSync
	}

	return s.db.WithTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO exchanges (id, mode, message, response, error, error_kind, success, dropped, exit_code, started_at, finished_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			ex.ID, string(ex.Mode), ex.Message, ex.Response, ex.Error, ex.ErrorKind,
			ex.Success, ex.Dropped, ex.ExitCode, ex.StartedAt.UnixMilli(), ex.FinishedAt.UnixMilli())
		if err != nil {
			return fmt.Errorf("failed to insert exchange: %w", err)
		}

		for i, unit := range ex.Units {
			_, err := tx.ExecContext(ctx, `
				INSERT INTO exchange_units (exchange_id, seq, type, content, success, error)
				VALUES (?, ?, ?, ?, ?, ?)`,
				ex.ID, i, unit.Type, nullString(unit.Content), nullBool(unit.Success), nullString(unit.Error))
			if err != nil {
				return fmt.Errorf("failed to insert unit %d: %w", i, err)
			}
		}
		return nil
	})
}

// List returns the most recent exchanges first, without their units.
func (s *Store) List(ctx context.Context, limit int) ([]Exchange, error) {
	if limit <= 0 {
		limit = 20
	}

	rows, err := s.db.Read().QueryContext(ctx, `
		SELECT id, mode, message, response, error, error_kind, success, dropped, exit_code, started_at, finished_at
		FROM exchanges
		ORDER BY started_at DESC, id
		LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var exchanges []Exchange
	for rows.Next() {
		ex, err := scanExchange(rows)
		if err != nil {
			return nil, err
		}
		exchanges = append(exchanges, ex)
	}
	return exchanges, rows.Err()
}

// Get loads one exchange with its units. id may be a unique prefix.
func (s *Store) Get(ctx context.Context, id string) (Exchange, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return Exchange{}, ErrNotFound
	}

	rows, err := s.db.Read().QueryContext(ctx, `
		SELECT id, mode, message, response, error, error_kind, success, dropped, exit_code, started_at, finished_at
		FROM exchanges
		WHERE id = ? OR substr(id, 1, ?) = ?
		ORDER BY id = ? DESC
		LIMIT 2`, id, len(id), id, id)
	if err != nil {
		return Exchange{}, err
	}

	var matches []Exchange
	for rows.Next() {
		ex, err := scanExchange(rows)
		if err != nil {
			rows.Close()
			return Exchange{}, err
		}
		matches = append(matches, ex)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return Exchange{}, err
	}

	switch {
	case len(matches) == 0:
		return Exchange{}, ErrNotFound
	case len(matches) > 1 && matches[0].ID != id:
		return Exchange{}, fmt.Errorf("%q: %w", id, ErrAmbiguous)
	}

	ex := matches[0]
	units, err := s.units(ctx, ex.ID)
	if err != nil {
		return Exchange{}, err
	}
	ex.Units = units
	return ex, nil
}

// Clear deletes every exchange and returns how many were removed.
func (s *Store) Clear(ctx context.Context) (int64, error) {
	var removed int64
	err := s.db.WithTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM exchange_units`); err != nil {
			return err
		}
		res, err := tx.ExecContext(ctx, `DELETE FROM exchanges`)
		if err != nil {
			return err
		}
		removed, err = res.RowsAffected()
		return err
	})
	return removed, err
}

func (s *Store) units(ctx context.Context, id string) ([]protocol.StreamUnit, error) {
	rows, err := s.db.Read().QueryContext(ctx, `
		SELECT type, content, success, error
		FROM exchange_units
		WHERE exchange_id = ?
		ORDER BY seq`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var units []protocol.StreamUnit
	for rows.Next() {
		var (
			unitType string
			content  sql.NullString
			success  sql.NullBool
			errText  sql.NullString
		)
		if err := rows.Scan(&unitType, &content, &success, &errText); err != nil {
			return nil, err
		}
		unit := protocol.StreamUnit{Kind: protocol.ParseUnitKind(unitType), Type: unitType}
		if content.Valid {
			unit.Content = &content.String
		}
		if success.Valid {
			unit.Success = &success.Bool
		}
		if errText.Valid {
			unit.Error = &errText.String
		}
		units = append(units, unit)
	}
	return units, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanExchange(row rowScanner) (Exchange, error) {
	var (
		ex       Exchange
		mode     string
		started  int64
		finished int64
	)
	if err := row.Scan(&ex.ID, &mode, &ex.Message, &ex.Response, &ex.Error, &ex.ErrorKind,
		&ex.Success, &ex.Dropped, &ex.ExitCode, &started, &finished); err != nil {
		return Exchange{}, err
	}
	ex.Mode = Mode(mode)
	ex.StartedAt = time.UnixMilli(started)
	ex.FinishedAt = time.UnixMilli(finished)
	return ex, nil
}

func nullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func nullBool(b *bool) sql.NullBool {
	if b == nil {
		return sql.NullBool{}
	}
	return sql.NullBool{Bool: *b, Valid: true}
}
