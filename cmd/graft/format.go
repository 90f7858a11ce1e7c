package main

import (
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/jward/graft"
)

// formatTreeText prints an indented outline, one node per line.
func formatTreeText(w io.Writer, t CLITree) {
	fmt.Fprintf(w, "%s (%s)\n", t.File, t.Language)
	for _, n := range t.Nodes {
		depth := 0
		if n.Path != "" {
			depth = strings.Count(n.Path, ".") + 1
		}
		label := n.Path
		if label == "" {
			label = "<root>"
		}
		fmt.Fprintf(w, "%s%s %s", strings.Repeat("  ", depth), label, n.Kind)
		if n.Name != "" {
			fmt.Fprintf(w, " %q", n.Name)
		}
		fmt.Fprintf(w, " %d:%d\n", n.Line, n.Column)
	}
}

func formatLocatedText(w io.Writer, l CLILocated) {
	fmt.Fprintf(w, "%s:%d:%d %s %s\n", l.File, l.Node.Line, l.Node.Column, l.Node.Path, l.Node.Kind)
	fmt.Fprintln(w, l.Text)
}

func formatEditText(w io.Writer, e CLIEdit) {
	fmt.Fprintf(w, "%s %s %q: %s\n", e.File, e.Operation, e.Path, e.State)
	if e.Rejection != nil {
		fmt.Fprintf(w, "  %s\n", e.Rejection.Reason)
	}
	for _, warn := range e.Warnings {
		fmt.Fprintf(w, "  warning: %s\n", warn)
	}
	if e.Diff != "" {
		fmt.Fprint(w, e.Diff)
	}
}

func formatBatchText(w io.Writer, b CLIBatch) {
	status := "not committed"
	if b.Committed {
		status = "committed " + b.UnitID
	}
	fmt.Fprintf(w, "batch %s\n", status)
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "FILE\tACCEPTED\tREJECTED\tWRITTEN")
	for _, f := range b.Files {
		fmt.Fprintf(tw, "%s\t%d\t%d\t%t\n", f.File, f.Accepted, f.Rejected, f.Written)
	}
	tw.Flush()
	for _, r := range b.Rejections {
		fmt.Fprintf(w, "item %d (%s): %s\n", r.Index, r.File, r.Reason)
	}
}

func formatChangesText(w io.Writer, changes []graft.Change) {
	if len(changes) == 0 {
		fmt.Fprintln(w, "no changes")
		return
	}
	for _, c := range changes {
		switch {
		case c.Unchanged:
			fmt.Fprintf(w, "%s: unchanged\n", c.File)
		case c.Written:
			fmt.Fprintf(w, "%s: %s (record %s)\n", c.File, c.Op, c.RecordID)
		default:
			fmt.Fprintf(w, "%s: would %s\n", c.File, c.Op)
		}
		if c.Diff != "" && !c.Unchanged {
			fmt.Fprint(w, c.Diff)
		}
	}
}

func formatRecordsText(w io.Writer, recs []*graft.Record) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "SEQ\tTIME\tFILE\tOP\tPATH\tSTATUS\tID")
	for _, r := range recs {
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\t%s\t%s\n",
			r.Seq, r.Time.Format(time.RFC3339), r.File, r.Op, r.NodePath, r.Status, r.ID)
	}
	tw.Flush()
}

func formatDriftText(w io.Writer, drifts []graft.Drift) {
	if len(drifts) == 0 {
		fmt.Fprintln(w, "all files match the log")
		return
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "FILE\tSTATE\tRECORD")
	for _, d := range drifts {
		fmt.Fprintf(tw, "%s\t%s\t%s\n", d.File, d.State, d.RecordID)
	}
	tw.Flush()
}

func formatTagsText(w io.Writer, tags []*graft.Tag) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tPATH\tKIND\tNODE")
	for _, t := range tags {
		fmt.Fprintf(tw, "@%s\t%s\t%s\t%s\n", t.Name, t.Path, t.Kind, t.NodeName)
	}
	tw.Flush()
}

// outputResultText dispatches to the text formatter for the result type.
func outputResultText(result CLIResult) error {
	w := io.Writer(os.Stdout)

	switch v := result.Results.(type) {
	case CLITree:
		formatTreeText(w, v)
	case CLILocated:
		formatLocatedText(w, v)
	case CLIEdit:
		formatEditText(w, v)
	case CLIBatch:
		formatBatchText(w, v)
	case *graft.Change:
		formatChangesText(w, []graft.Change{*v})
	case *graft.RestoreResult:
		formatChangesText(w, v.Changes)
	case []graft.Change:
		formatChangesText(w, v)
	case []*graft.Record:
		formatRecordsText(w, v)
	case []graft.Drift:
		formatDriftText(w, v)
	case *graft.Tag:
		formatTagsText(w, []*graft.Tag{v})
	case []*graft.Tag:
		formatTagsText(w, v)
	case string:
		fmt.Fprintln(w, v)
	case nil:
	default:
		return fmt.Errorf("unsupported result type for text format: %T", v)
	}
	if result.Error != "" {
		fmt.Fprintf(os.Stderr, "Error: %s\n", result.Error)
	}
	return nil
}

// validFormats lists accepted values for --format.
var validFormats = []string{"json", "text"}

// validateFormat checks that the --format flag value is recognized.
func validateFormat(format string) error {
	for _, f := range validFormats {
		if format == f {
			return nil
		}
	}
	return fmt.Errorf("invalid format %q: must be %s", format, strings.Join(validFormats, " or "))
}
