package cli

import (
	"context"
	"fmt"
	"io"
	"strings"

	"chatbridge/internal/doctor"
)

func Doctor(ctx context.Context, out io.Writer) (int, error) {
	paths, err := doctor.DefaultPaths()
	if err != nil {
		return 1, err
	}
	report := doctor.GenerateReport(ctx, paths)
	color := useColor(out)

	fmt.Fprintln(out, "Chatbridge Doctor Report")
	fmt.Fprintln(out, strings.Repeat("-", 26))

	for _, check := range report.Checks {
		fmt.Fprintf(out, "%s %s - %s\n", formatStatus(check.Status, color), check.Name, check.Summary)
		for _, detail := range check.Details {
			fmt.Fprintf(out, "    %s\n", detail)
		}
		for _, action := range check.Actions {
			fmt.Fprintf(out, "    -> %s\n", action)
		}
		fmt.Fprintln(out)
	}

	exitCode := report.ExitCode()
	if exitCode == 0 {
		fmt.Fprintln(out, "All checks completed")
	} else {
		fmt.Fprintln(out, "One or more checks failed")
	}

	return exitCode, nil
}

func formatStatus(status doctor.Status, color bool) string {
	var label string
	switch status {
	case doctor.StatusOK:
		label = "[OK  ]"
		if color {
			return successStyle.Render(label)
		}
	case doctor.StatusWarn:
		label = "[WARN]"
		if color {
			return labelStyle.Render(label)
		}
	case doctor.StatusFail:
		label = "[FAIL]"
		if color {
			return errorStyle.Render(label)
		}
	default:
		label = "[    ]"
	}
	return label
}
