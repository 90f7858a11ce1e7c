package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/jward/graft"
)

var undoCmd = &cobra.Command{
	Use:   "undo <file>",
	Short: "Reverse the newest edit of a file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runRevert("undo", args[0], (*graft.Engine).Undo)
	},
}

var redoCmd = &cobra.Command{
	Use:   "redo <file>",
	Short: "Reapply the newest undone edit of a file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runRevert("redo", args[0], (*graft.Engine).Redo)
	},
}

func runRevert(command, file string, fn func(*graft.Engine, context.Context, string, bool) (*graft.Change, error)) error {
	e, done, err := openEngine()
	if err != nil {
		return outputError(command, err)
	}
	defer done()

	abs, err := resolveFilePath(file)
	if err != nil {
		return outputError(command, err)
	}
	ch, err := fn(e, context.Background(), abs, flagDryRun)
	if err != nil {
		return outputError(command, err)
	}
	return outputResult(CLIResult{Command: command, Results: ch})
}

var (
	flagLimit      int
	flagRejections bool
	flagUnit       string
)

var historyCmd = &cobra.Command{
	Use:   "history [file]",
	Short: "List transaction log records, newest first",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		e, done, err := openEngine()
		if err != nil {
			return outputError("history", err)
		}
		defer done()

		file := ""
		if len(args) > 0 {
			if file, err = resolveFilePath(args[0]); err != nil {
				return outputError("history", err)
			}
		}

		var recs []*graft.Record
		switch {
		case flagUnit != "":
			recs, err = e.Query().Unit(flagUnit)
		case flagRejections:
			recs, err = e.Rejections(file, flagLimit)
		default:
			recs, err = e.History(file, flagLimit)
		}
		if err != nil {
			return outputError("history", err)
		}
		if recs == nil {
			recs = []*graft.Record{}
		}
		return outputResult(CLIResult{Command: "history", Results: recs})
	},
}

var restoreProjectCmd = &cobra.Command{
	Use:   "restore-project <time>",
	Short: "Return every logged file to its state at an RFC 3339 instant",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		at, err := time.Parse(time.RFC3339Nano, args[0])
		if err != nil {
			return outputError("restore-project", fmt.Errorf("invalid time %q: want RFC 3339, e.g. 2026-03-01T12:00:00Z", args[0]))
		}
		e, done, err := openEngine()
		if err != nil {
			return outputError("restore-project", err)
		}
		defer done()

		res, err := e.RestoreProject(context.Background(), at, flagDryRun)
		if err != nil {
			return outputError("restore-project", err)
		}
		return outputResult(CLIResult{Command: "restore-project", Results: res})
	},
}

var restoreSessionCmd = &cobra.Command{
	Use:   "restore-session <id>",
	Short: "Undo every change made in a session",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		e, done, err := openEngine()
		if err != nil {
			return outputError("restore-session", err)
		}
		defer done()

		res, err := e.RestoreSession(context.Background(), args[0], flagDryRun)
		if err != nil {
			return outputError("restore-session", err)
		}
		return outputResult(CLIResult{Command: "restore-session", Results: res})
	},
}

var restoreFileCmd = &cobra.Command{
	Use:   "restore-file <file> <record-id>",
	Short: "Return one file to its state right after a record",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		e, done, err := openEngine()
		if err != nil {
			return outputError("restore-file", err)
		}
		defer done()

		file, err := resolveFilePath(args[0])
		if err != nil {
			return outputError("restore-file", err)
		}
		res, err := e.RestoreFile(context.Background(), file, args[1], flagDryRun)
		if err != nil {
			return outputError("restore-file", err)
		}
		return outputResult(CLIResult{Command: "restore-file", Results: res})
	},
}

var recoverCmd = &cobra.Command{
	Use:   "recover",
	Short: "Complete file writes interrupted by a crash",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		e, done, err := openEngine()
		if err != nil {
			return outputError("recover", err)
		}
		defer done()

		changes, err := e.Recover(context.Background())
		if err != nil {
			return outputError("recover", err)
		}
		if changes == nil {
			changes = []graft.Change{}
		}
		return outputResult(CLIResult{Command: "recover", Results: changes})
	},
}

var verifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Report files whose content disagrees with the log",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		e, done, err := openEngine()
		if err != nil {
			return outputError("verify", err)
		}
		defer done()

		drifts, err := e.Verify(context.Background())
		if err != nil {
			return outputError("verify", err)
		}
		if drifts == nil {
			drifts = []graft.Drift{}
		}
		return outputResult(CLIResult{Command: "verify", Results: drifts})
	},
}

func init() {
	for _, c := range []*cobra.Command{undoCmd, redoCmd, restoreProjectCmd, restoreSessionCmd, restoreFileCmd} {
		addDryRun(c)
	}
	historyCmd.Flags().IntVar(&flagLimit, "limit", 50, "maximum records to list (0: all)")
	historyCmd.Flags().BoolVar(&flagRejections, "rejections", false, "list rejected attempts only")
	historyCmd.Flags().StringVar(&flagUnit, "unit", "", "list the records of one batch or restore unit")
}
