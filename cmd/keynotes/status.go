package main

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/keynotes-rtc/keynotes/internal/document"
	"github.com/keynotes-rtc/keynotes/internal/logging"
	"github.com/keynotes-rtc/keynotes/internal/registry"
	"github.com/keynotes-rtc/keynotes/internal/tracker"
	"github.com/keynotes-rtc/keynotes/internal/ui"
)

// documentStatus is the status report for one document.
type documentStatus struct {
	registry.Status `yaml:",inline"`
	Entries         int    `json:"entries" yaml:"entries"`
	Digest          string `json:"digest,omitempty" yaml:"digest,omitempty"`
}

func newStatusCommand() *cobra.Command {
	var output string

	cmd := &cobra.Command{
		Use:     "status <document>...",
		GroupID: "tracking",
		Short:   "Show whether documents' keynote files can be tracked",
		Long: `Open each document, try to start tracking its keynote file, and report the
result without reloading anything.

Shows:
  - The resolved keynote file
  - Whether tracking could start, and why not
  - The number of keynotes committed to the document

Example usage:
  keynotes status project.kdoc
  keynotes status a.kdoc b.kdoc -o json`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			switch output {
			case "text", "json", "yaml":
			default:
				return &ExitError{Code: 2, Err: fmt.Errorf("invalid output format %q: must be one of text, json, yaml", output)}
			}

			statuses, err := collectStatus(cmd, args)
			if err != nil {
				return err
			}

			return writeStatus(cmd.OutOrStdout(), output, statuses)
		},
	}

	cmd.Flags().StringVarP(&output, "output", "o", "text", "output format: text, json, yaml")

	return cmd
}

func collectStatus(cmd *cobra.Command, paths []string) ([]documentStatus, error) {
	logger := logging.FromContext(cmd.Context())

	reg := registry.New(
		registry.WithLogger(logger),
		registry.WithTrackerOptions(tracker.WithTranslator(document.Translator)),
	)
	defer reg.Close()

	docs := make(map[int64]*document.Document, len(paths))
	defer func() {
		for _, doc := range docs {
			_ = doc.Close()
		}
	}()

	for _, p := range paths {
		doc, err := document.OpenContext(cmd.Context(), p, document.WithLogger(logger))
		if err != nil {
			return nil, err
		}
		docs[doc.ID()] = doc
		reg.Opened(doc)
	}

	snapshot := reg.Snapshot()
	out := make([]documentStatus, 0, len(snapshot))
	for _, s := range snapshot {
		doc := docs[s.ID]
		out = append(out, documentStatus{
			Status:  s,
			Entries: doc.Table().Len(),
			Digest:  doc.Table().Digest(),
		})
	}
	return out, nil
}

func writeStatus(w io.Writer, format string, statuses []documentStatus) error {
	switch format {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(statuses)

	case "yaml":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(statuses); err != nil {
			return err
		}
		return enc.Close()
	}

	for _, s := range statuses {
		fmt.Fprintf(w, "\n%s\n", ui.RenderBold(s.Document))
		fmt.Fprintf(w, "   State:    %s\n", ui.RenderState(s.State, s.Dirty))
		if s.Keynotes != "" {
			fmt.Fprintf(w, "   Keynotes: %s\n", s.Keynotes)
		}
		fmt.Fprintf(w, "   Entries:  %d\n", s.Entries)
		if s.LastError != "" {
			fmt.Fprintf(w, "   Error:    %s\n", ui.RenderFail(s.LastError))
		}
	}
	fmt.Fprintln(w)
	return nil
}
