package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/keynotes-rtc/keynotes/internal/document"
	"github.com/keynotes-rtc/keynotes/internal/logging"
	"github.com/keynotes-rtc/keynotes/internal/ui"
)

func newBindCommand() *cobra.Command {
	var clearBinding bool

	cmd := &cobra.Command{
		Use:     "bind <document> [keynote-file]",
		GroupID: "tracking",
		Short:   "Bind a document to a keynote file",
		Long: `Store a reference to an external keynote file in the document and load it
into the document's keynote table.

The change is committed as a "Keynoting Settings" transaction, so a running
"keynotes watch" on the same document switches to the new file on its next
idle tick. The document is created if it does not exist.

Keynote files are UTF-8 text, one keynote per line:
  key<TAB>text[<TAB>parent key]

Example usage:
  keynotes bind project.kdoc //server/standards/keynotes.txt
  keynotes bind project.kdoc --clear`,
		Args: cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			var file string
			switch {
			case clearBinding && len(args) == 2:
				return &ExitError{Code: 2, Err: fmt.Errorf("--clear takes no keynote file")}
			case !clearBinding && len(args) == 1:
				return &ExitError{Code: 2, Err: fmt.Errorf("a keynote file is required unless --clear is given")}
			case len(args) == 2:
				file = args[1]
			}

			logger := logging.FromContext(cmd.Context())
			doc, err := document.OpenContext(cmd.Context(), args[0], document.WithLogger(logger))
			if err != nil {
				return err
			}
			defer doc.Close()

			if err := doc.SetKeynoteFile(cmd.Context(), file); err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if clearBinding {
				fmt.Fprintf(out, "%s %s no longer uses an external keynote file\n", ui.RenderPass("✓"), doc.Path())
				return nil
			}

			path, _ := doc.KeynoteFile()
			fmt.Fprintf(out, "%s %s bound to %s\n", ui.RenderPass("✓"), doc.Path(), path)
			fmt.Fprintf(out, "   Keynotes: %d\n", doc.Table().Len())
			return nil
		},
	}

	cmd.Flags().BoolVar(&clearBinding, "clear", false, "remove the keynote file binding")

	return cmd
}
