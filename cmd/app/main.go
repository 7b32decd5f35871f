package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"chatbridge/config"
	"chatbridge/internal/cli"
	"chatbridge/internal/credentials"
	"chatbridge/internal/daemon"
	"chatbridge/internal/onboarding"
	"chatbridge/pkg/migration"
	"chatbridge/version"
)

// signalContext is canceled on Ctrl-C so a running handler is killed.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func exitOnError(err error) {
	if err == nil {
		return
	}
	if !cli.IsReported(err) {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	}
	os.Exit(1)
}

var rootCmd = &cobra.Command{
	Use:   "chatbridge",
	Short: "Relay chat messages to a local python handler",
	Run: func(cmd *cobra.Command, args []string) {
		if onboarding.IsFirstRun() && term.IsTerminal(int(os.Stdin.Fd())) {
			fmt.Println("Welcome to chatbridge! Let's get you set up.")
			exitOnError(runSetup(cmd.Context()))
			return
		}
		cmd.Help()
	},
}

func execOptions(cmd *cobra.Command, message string) cli.ExecOptions {
	viaDaemon, _ := cmd.Flags().GetBool("daemon")
	jsonMode, _ := cmd.Flags().GetBool("json")
	noSave, _ := cmd.Flags().GetBool("no-save")
	return cli.ExecOptions{
		Message:   message,
		ViaDaemon: viaDaemon,
		JSON:      jsonMode,
		NoSave:    noSave,
		Out:       cmd.OutOrStdout(),
		ErrOut:    cmd.ErrOrStderr(),
	}
}

var sendCmd = &cobra.Command{
	Use:   "send [message]",
	Short: "Send a message and print the handler's reply",
	Long: `Send a message to the chat handler and wait for its complete reply.

The reply is written to stdout; errors go to stderr.

Examples:
  chatbridge send "What is the weather today?"
  chatbridge send "Hello" --json | jq -r .message
  chatbridge send "Hello" --daemon`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		ctx, stop := signalContext()
		defer stop()
		exitOnError(cli.SendMessage(ctx, execOptions(cmd, args[0])))
	},
}

var streamCmd = &cobra.Command{
	Use:   "stream [message]",
	Short: "Send a message and print the reply as it is produced",
	Long: `Send a message to the streaming chat handler and print each chunk as soon
as the handler writes it.

With --json every unit is written as a JSON line (JSONL), followed by a
stream.completed or stream.failed event.`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		ctx, stop := signalContext()
		defer stop()
		exitOnError(cli.StreamMessage(ctx, execOptions(cmd, args[0])))
	},
}

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Report whether the configured interpreter can be launched",
	Run: func(cmd *cobra.Command, args []string) {
		viaDaemon, _ := cmd.Flags().GetBool("daemon")
		available, err := cli.CheckHandler(cmd.Context(), cmd.OutOrStdout(), viaDaemon)
		exitOnError(err)
		if !available {
			os.Exit(1)
		}
	},
}

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Check installation and runtime health",
	Run: func(cmd *cobra.Command, args []string) {
		exitCode, err := cli.Doctor(cmd.Context(), cmd.OutOrStdout())
		exitOnError(err)
		if exitCode != 0 {
			os.Exit(exitCode)
		}
	},
}

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Inspect recorded exchanges",
	Run: func(cmd *cobra.Command, args []string) {
		historyListCmd.Run(cmd, args)
	},
}

var historyListCmd = &cobra.Command{
	Use:   "list",
	Short: "List recent exchanges",
	Run: func(cmd *cobra.Command, args []string) {
		limit, _ := cmd.Flags().GetInt("limit")
		viaDaemon, _ := cmd.Flags().GetBool("daemon")
		jsonMode, _ := cmd.Flags().GetBool("json")
		exitOnError(cli.ListHistory(cmd.Context(), cmd.OutOrStdout(), limit, viaDaemon, jsonMode))
	},
}

var historyShowCmd = &cobra.Command{
	Use:   "show [id]",
	Short: "Show one exchange by ID or ID prefix",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		viaDaemon, _ := cmd.Flags().GetBool("daemon")
		jsonMode, _ := cmd.Flags().GetBool("json")
		exitOnError(cli.ShowExchange(cmd.Context(), cmd.OutOrStdout(), args[0], viaDaemon, jsonMode))
	},
}

var historyClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Delete every recorded exchange",
	Run: func(cmd *cobra.Command, args []string) {
		exitOnError(cli.ClearHistory(cmd.Context(), cmd.OutOrStdout()))
	},
}

var secretCmd = &cobra.Command{
	Use:   "secret",
	Short: "Manage secrets exported to the handler",
}

var secretSetCmd = &cobra.Command{
	Use:   "set [name] [value]",
	Short: "Store a secret in the system keyring",
	Long: `Store a secret in the system keyring. Omit the value to be prompted
without echo. List the name under secret_env in settings.yaml to export it
to the handler.`,
	Args: cobra.RangeArgs(1, 2),
	Run: func(cmd *cobra.Command, args []string) {
		value := ""
		if len(args) == 2 {
			value = args[1]
		}
		exitOnError(cli.SetSecret(cmd.Context(), cmd.OutOrStdout(), args[0], value))
	},
}

var secretDeleteCmd = &cobra.Command{
	Use:   "delete [name]",
	Short: "Remove a secret from the system keyring",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		exitOnError(cli.DeleteSecret(cmd.Context(), cmd.OutOrStdout(), args[0]))
	},
}

var secretListCmd = &cobra.Command{
	Use:   "list",
	Short: "List stored secret names",
	Run: func(cmd *cobra.Command, args []string) {
		exitOnError(cli.ListSecrets(cmd.Context(), cmd.OutOrStdout()))
	},
}

var setupCmd = &cobra.Command{
	Use:   "setup",
	Short: "Run the setup wizard",
	Run: func(cmd *cobra.Command, args []string) {
		exitOnError(runSetup(cmd.Context()))
	},
}

func runSetup(ctx context.Context) error {
	settingsPath, err := config.GetSettingsFile()
	if err != nil {
		return err
	}
	dbPath, err := config.GetDatabasePath()
	if err != nil {
		return err
	}
	d, err := migration.Open(dbPath)
	if err != nil {
		return err
	}
	defer d.Close()

	if err := onboarding.RunWizard(ctx, settingsPath, credentials.NewRegistry(d)); err != nil {
		if errors.Is(err, onboarding.ErrCancelled) {
			return fmt.Errorf("setup cancelled")
		}
		return fmt.Errorf("setup failed: %w", err)
	}
	return nil
}

var daemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Manage the local daemon",
}

var daemonStartCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the local daemon (runs in background by default)",
	Run: func(cmd *cobra.Command, args []string) {
		foreground, _ := cmd.Flags().GetBool("foreground")
		if !foreground {
			err := cli.StartDaemon(cmd.OutOrStdout())
			if errors.Is(err, daemon.ErrAlreadyRunning) {
				fmt.Println("Daemon is already running")
				os.Exit(1)
			}
			exitOnError(err)
			return
		}

		ctx, stop := signalContext()
		defer stop()
		err := cli.RunDaemon(ctx)
		if errors.Is(err, daemon.ErrAlreadyRunning) {
			fmt.Println("Daemon is already running")
			os.Exit(1)
		}
		exitOnError(err)
	},
}

var daemonStopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the local daemon",
	Run: func(cmd *cobra.Command, args []string) {
		exitOnError(cli.StopDaemon(cmd.OutOrStdout()))
	},
}

var daemonStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Check local daemon status",
	Run: func(cmd *cobra.Command, args []string) {
		running, err := cli.DaemonStatus(cmd.OutOrStdout())
		exitOnError(err)
		if !running {
			os.Exit(1)
		}
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show current version",
	Run: func(cmd *cobra.Command, args []string) {
		v := version.Get()
		if !strings.HasPrefix(v, "v") && v != "dev" {
			v = "v" + v
		}
		fmt.Printf("chatbridge version %s\n", v)
	},
}

func init() {
	// Disable the default completion command
	rootCmd.CompletionOptions.DisableDefaultCmd = true

	for _, c := range []*cobra.Command{sendCmd, streamCmd} {
		c.Flags().Bool("daemon", false, "Route the message through the running daemon")
		c.Flags().Bool("json", false, "Output JSON instead of pretty-printing")
		c.Flags().Bool("no-save", false, "Don't record the exchange in history")
	}
	checkCmd.Flags().Bool("daemon", false, "Ask the running daemon instead")

	historyCmd.PersistentFlags().Bool("daemon", false, "Read history through the running daemon")
	historyCmd.PersistentFlags().Bool("json", false, "Output JSON")
	historyCmd.PersistentFlags().IntP("limit", "n", 20, "Number of exchanges to list")
	historyCmd.AddCommand(historyListCmd)
	historyCmd.AddCommand(historyShowCmd)
	historyCmd.AddCommand(historyClearCmd)

	secretCmd.AddCommand(secretSetCmd)
	secretCmd.AddCommand(secretDeleteCmd)
	secretCmd.AddCommand(secretListCmd)

	daemonStartCmd.Flags().Bool("foreground", false, "Run daemon in foreground (blocks terminal)")
	daemonCmd.AddCommand(daemonStartCmd)
	daemonCmd.AddCommand(daemonStopCmd)
	daemonCmd.AddCommand(daemonStatusCmd)

	rootCmd.AddCommand(sendCmd)
	rootCmd.AddCommand(streamCmd)
	rootCmd.AddCommand(checkCmd)
	rootCmd.AddCommand(doctorCmd)
	rootCmd.AddCommand(historyCmd)
	rootCmd.AddCommand(secretCmd)
	rootCmd.AddCommand(setupCmd)
	rootCmd.AddCommand(daemonCmd)
	rootCmd.AddCommand(versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
