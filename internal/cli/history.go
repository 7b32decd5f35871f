package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"chatbridge/config"
	"chatbridge/internal/history"
	"chatbridge/internal/ipc"
	"chatbridge/internal/timeutil"
	"chatbridge/pkg/migration"
)

func openHistory() (*history.Store, func(), error) {
	dbPath, err := config.GetDatabasePath()
	if err != nil {
		return nil, nil, err
	}
	d, err := migration.Open(dbPath)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open history: %w", err)
	}
	return history.NewStore(d), func() { d.Close() }, nil
}

// ListHistory prints the most recent exchanges, newest first.
func ListHistory(ctx context.Context, out io.Writer, limit int, viaDaemon, jsonMode bool) error {
	var exchanges []history.Exchange
	if viaDaemon {
		client, err := ipc.NewDefaultClient()
		if err != nil {
			return fmt.Errorf("daemon is not reachable: %w", err)
		}
		defer client.Close()
		exchanges, err = client.History(limit)
		if err != nil {
			return err
		}
	} else {
		store, closeFn, err := openHistory()
		if err != nil {
			return err
		}
		defer closeFn()
		exchanges, err = store.List(ctx, limit)
		if err != nil {
			return err
		}
	}

	if jsonMode {
		return writeJSON(out, exchanges)
	}

	if len(exchanges) == 0 {
		fmt.Fprintln(out, "No exchanges recorded yet")
		return nil
	}

	now := time.Now()
	for _, ex := range exchanges {
		status := successStyle.Render("ok  ")
		if !ex.Success {
			status = errorStyle.Render("fail")
		}
		fmt.Fprintf(out, "%s %s %s %s  %s\n",
			valueStyle.Render(shortID(ex.ID)),
			status,
			mutedStyle.Render(fmt.Sprintf("%-6s", ex.Mode)),
			mutedStyle.Render(fmt.Sprintf("%-14s", timeutil.FormatAgo(ex.StartedAt, now))),
			truncate(oneLine(ex.Message), 60),
		)
	}
	return nil
}

// ShowExchange prints one exchange, addressed by ID or unique ID prefix.
func ShowExchange(ctx context.Context, out io.Writer, id string, viaDaemon, jsonMode bool) error {
	var (
		ex  history.Exchange
		err error
	)
	if viaDaemon {
		client, cErr := ipc.NewDefaultClient()
		if cErr != nil {
			return fmt.Errorf("daemon is not reachable: %w", cErr)
		}
		defer client.Close()
		ex, err = client.Exchange(id)
	} else {
		store, closeFn, oErr := openHistory()
		if oErr != nil {
			return oErr
		}
		defer closeFn()
		ex, err = store.Get(ctx, id)
	}
	if err != nil {
		return err
	}

	if jsonMode {
		return writeJSON(out, ex)
	}

	fmt.Fprintln(out, labelStyle.Render("Exchange:")+" "+valueStyle.Render(ex.ID))
	fmt.Fprintln(out, "  "+mutedStyle.Render(fmt.Sprintf("%s, %s, took %s",
		ex.Mode, ex.StartedAt.Local().Format(time.DateTime), timeutil.FormatDuration(ex.Duration()))))
	if ex.Dropped > 0 {
		fmt.Fprintln(out, "  "+mutedStyle.Render(fmt.Sprintf("%d malformed line(s) skipped", ex.Dropped)))
	}

	fmt.Fprintln(out, sectionStyle.Render("Message"))
	fmt.Fprintln(out, ex.Message)

	if ex.Response != "" {
		fmt.Fprintln(out, sectionStyle.Render("Response"))
		fmt.Fprintln(out, strings.TrimRight(ex.Response, "\n"))
	}
	if ex.Error != "" {
		fmt.Fprintln(out, sectionStyle.Render("Error"))
		line := ex.Error
		if ex.ErrorKind != "" {
			line += " " + mutedStyle.Render("("+ex.ErrorKind+")")
		}
		fmt.Fprintln(out, errorStyle.Render(line))
	}
	return nil
}

// ClearHistory deletes every recorded exchange.
func ClearHistory(ctx context.Context, out io.Writer) error {
	store, closeFn, err := openHistory()
	if err != nil {
		return err
	}
	defer closeFn()

	n, err := store.Clear(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "Removed %d exchange(s)\n", n)
	return nil
}

func writeJSON(out io.Writer, v any) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func oneLine(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func truncate(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max-1]) + "…"
}
