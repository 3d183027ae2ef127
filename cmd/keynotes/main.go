// keynotes keeps keynote tables of open documents in step with their
// keynote files and hands keynote files over to the collaborative editor.
package main

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/keynotes-rtc/keynotes/internal/config"
	"github.com/keynotes-rtc/keynotes/internal/logging"
	"github.com/keynotes-rtc/keynotes/internal/ui"
)

func main() {
	os.Exit(Execute())
}

// ExitError wraps an error with a specific process exit code.
type ExitError struct {
	Code int
	Err  error
}

func (e *ExitError) Error() string {
	if e.Err != nil {
		return e.Err.Error()
	}

	return fmt.Sprintf("exit code %d", e.Code)
}

func (e *ExitError) Unwrap() error { return e.Err }

// Execute builds the command tree, runs it, and returns the exit code.
func Execute() int {
	cmd, closeLog := newRootCommand()
	defer closeLog()

	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "%s %v\n", ui.RenderFail("Error:"), err)

		var exitErr *ExitError
		if errors.As(err, &exitErr) {
			return exitErr.Code
		}

		return 1
	}

	return 0
}

// newRootCommand constructs the top-level command with all subcommands
// attached. The returned function releases the log file opened by the
// pre-run hook.
func newRootCommand() (*cobra.Command, func()) {
	var (
		cfgFile string
		logFile io.Closer
	)

	cmd := &cobra.Command{
		Use:   "keynotes",
		Short: "Live keynote table synchronization",
		Long: `keynotes keeps the keynote table of every open document in step with the
keynote file it is bound to.

A document stores a reference to an external keynote file. While "keynotes
watch" runs, every edit to that file is picked up on the next idle tick and
the document's keynote table is reloaded inside a transaction. Failed reloads
are logged and retried on the following tick.

"keynotes open" hands the keynote file over to the collaborative editor,
joining a running session when one has left a lock file.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(cmd, cfgFile)
			if err != nil {
				return &ExitError{Code: 2, Err: err}
			}

			logger, closer := logging.Setup(cfg)
			logFile = closer
			ui.Init(cfg.NoColor)

			ctx := cmd.Context()
			ctx = config.NewContext(ctx, cfg)
			ctx = logging.NewContext(ctx, logger)
			cmd.SetContext(ctx)

			logger.Debug("configuration loaded",
				slog.String("command", cmd.CommandPath()),
				slog.String("config", cfg.ConfigFile),
				slog.String("logLevel", cfg.LogLevel),
			)

			return nil
		},
	}

	pf := cmd.PersistentFlags()
	pf.StringVar(&cfgFile, "config", "", "config file (default: "+config.FileName+")")
	pf.String("log-level", config.LogLevelInfo, "log level: debug, info, warn, error")
	pf.String("log-format", config.LogFormatText, "log format: text, json")
	pf.String("log-file", "", "log file (default: "+logging.DefaultFile()+")")
	pf.Bool("log-stderr", false, "also write logs to stderr")
	pf.Bool("no-color", false, "disable colored output")
	pf.BoolP("quiet", "q", false, "only log errors")

	cmd.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return &ExitError{Code: 2, Err: err}
	})

	cmd.AddGroup(
		&cobra.Group{ID: "tracking", Title: "Tracking:"},
		&cobra.Group{ID: "session", Title: "Collaboration:"},
	)

	cmd.AddCommand(
		newWatchCommand(),
		newBindCommand(),
		newStatusCommand(),
		newOpenCommand(),
		newConfigCommand(),
		newVersionCommand(),
	)

	return cmd, func() {
		if logFile != nil {
			_ = logFile.Close()
		}
	}
}
