package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"

	"github.com/keynotes-rtc/keynotes/internal/config"
	"github.com/keynotes-rtc/keynotes/internal/document"
	"github.com/keynotes-rtc/keynotes/internal/launcher"
	"github.com/keynotes-rtc/keynotes/internal/logging"
	"github.com/keynotes-rtc/keynotes/internal/ui"
)

func newOpenCommand() *cobra.Command {
	var (
		file      string
		yes       bool
		printOnly bool
		asJSON    bool
	)

	cmd := &cobra.Command{
		Use:     "open [document]",
		GroupID: "session",
		Short:   "Open a keynote file in the collaborative editor",
		Long: `Hand the keynote file bound to a document over to the collaborative editor.

If a session is already running on the file it has left a lock file next to
it holding the URI that joins it, and that URI is opened. Otherwise a new
session is started from --uri-template.

Lock file locations (--lock-style):
  suffix   <dir>/<file>.lock
  hidden   <dir>/.<file>.lock

Example usage:
  keynotes open project.kdoc
  keynotes open --file //server/standards/keynotes.txt --print`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.FromContext(cmd.Context())
			logger := logging.FromContext(cmd.Context())
			out := cmd.OutOrStdout()

			path, err := keynotePathFor(cmd, args, file)
			if err != nil {
				return err
			}

			style, err := launcher.ParseLockStyle(cfg.LockStyle)
			if err != nil {
				return &ExitError{Code: 2, Err: err}
			}
			opts := launcher.Options{Style: style, Template: cfg.URITemplate}

			target, err := launcher.Resolve(path, opts)
			if err != nil {
				return err
			}

			if printOnly {
				if asJSON {
					enc := json.NewEncoder(out)
					enc.SetIndent("", "  ")
					return enc.Encode(target)
				}
				fmt.Fprintln(out, target.URI)
				return nil
			}

			if !target.Join && !yes && ui.IsTerminal(os.Stdin) {
				start := true
				err := huh.NewConfirm().
					Title("No session is running on " + path).
					Description("Start a new collaboration session?").
					Affirmative("Start").
					Negative("Cancel").
					Value(&start).
					Run()
				if err != nil {
					if errors.Is(err, huh.ErrUserAborted) {
						return nil
					}
					return err
				}
				if !start {
					fmt.Fprintln(out, "Cancelled")
					return nil
				}
			}

			l := launcher.New(opts, logger)
			if _, err := l.Launch(cmd.Context(), path); err != nil {
				return err
			}

			if target.Join {
				fmt.Fprintf(out, "%s Joined session on %s\n", ui.RenderPass("✓"), path)
			} else {
				fmt.Fprintf(out, "%s Started session on %s\n", ui.RenderPass("✓"), path)
			}
			return nil
		},
	}

	f := cmd.Flags()
	f.StringVar(&file, "file", "", "keynote file to open instead of a document's binding")
	f.BoolVarP(&yes, "yes", "y", false, "start a new session without asking")
	f.BoolVar(&printOnly, "print", false, "print the session URI instead of opening it")
	f.BoolVar(&asJSON, "json", false, "with --print, output the full target as JSON")
	f.String("lock-style", config.LockStyleSuffix, "lock file location: suffix, hidden")
	f.String("uri-template", config.DefaultURITemplate, "session URI used when no lock file exists")

	return cmd
}

// keynotePathFor returns the keynote file to open: the --file flag or the
// file bound to the document argument.
func keynotePathFor(cmd *cobra.Command, args []string, file string) (string, error) {
	switch {
	case file != "" && len(args) > 0:
		return "", &ExitError{Code: 2, Err: errors.New("give a document or --file, not both")}
	case file != "":
		return document.TranslatePath(file)
	case len(args) == 0:
		return "", &ExitError{Code: 2, Err: errors.New("a document or --file is required")}
	}

	doc, err := document.OpenContext(cmd.Context(), args[0], document.WithLogger(logging.FromContext(cmd.Context())))
	if err != nil {
		return "", err
	}
	defer doc.Close()

	path, err := doc.KeynoteFile()
	if err != nil {
		return "", fmt.Errorf("%s: %w", doc.Path(), err)
	}
	return path, nil
}
