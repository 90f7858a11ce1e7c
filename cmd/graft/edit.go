package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/jward/graft"
)

var flagDepth int

var analyzeCmd = &cobra.Command{
	Use:   "analyze <file>",
	Short: "Print the parsed tree of a file with each node's path",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		e, done, err := openEngine()
		if err != nil {
			return outputError("analyze", err)
		}
		defer done()

		file, err := resolveFilePath(args[0])
		if err != nil {
			return outputError("analyze", err)
		}
		t, err := e.Analyze(context.Background(), file)
		if err != nil {
			return outputError("analyze", err)
		}
		return outputResult(CLIResult{Command: "analyze", Results: toCLITree(args[0], t, flagDepth)})
	},
}

var showCmd = &cobra.Command{
	Use:   "show <file> <path|@tag>",
	Short: "Print the node at a path or tag",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		e, done, err := openEngine()
		if err != nil {
			return outputError("show", err)
		}
		defer done()

		file, err := resolveFilePath(args[0])
		if err != nil {
			return outputError("show", err)
		}
		loc, err := e.Show(context.Background(), file, args[1])
		if err != nil {
			return outputError("show", err)
		}
		return outputResult(CLIResult{Command: "show", Results: CLILocated{
			File: loc.File,
			Node: toCLINode(loc.Path, loc.Node),
			Text: loc.Text,
		}})
	},
}

var (
	flagKind string
	flagName string
)

var findCmd = &cobra.Command{
	Use:   "find <file>",
	Short: "List the nodes of a file by kind and name",
	Long:  "List the nodes of a file, in document order, whose kind and name match the given flags. An omitted flag matches any node.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		e, done, err := openEngine()
		if err != nil {
			return outputError("find", err)
		}
		defer done()

		file, err := resolveFilePath(args[0])
		if err != nil {
			return outputError("find", err)
		}
		found, err := e.Find(context.Background(), file, flagKind, flagName)
		if err != nil {
			return outputError("find", err)
		}
		out := make([]CLILocated, 0, len(found))
		for _, loc := range found {
			out = append(out, CLILocated{File: loc.File, Node: toCLINode(loc.Path, loc.Node), Text: loc.Text})
		}
		return outputResult(CLIResult{Command: "find", Results: out})
	},
}

var editCmd = &cobra.Command{
	Use:   "edit <file> <path|@tag> [text|-]",
	Short: "Replace the node at a path with new text",
	Long:  "Replace the node at a path with new text. The text is read from stdin when omitted or given as -.",
	Args:  cobra.RangeArgs(2, 3),
	RunE: func(cmd *cobra.Command, args []string) error {
		text, err := textArg(args, 2)
		if err != nil {
			return outputError("edit", err)
		}
		return runApply("edit", args[0], args[1], graft.Replace(graft.RootPath(), text))
	},
}

var flagPlacement string

var insertCmd = &cobra.Command{
	Use:   "insert <file> <parent|@tag> <index> [text|-]",
	Short: "Insert text as a child of a node",
	Long:  "Insert text as a child of the parent node, before or after the child at index, or as its last child. The text is read from stdin when omitted or given as -.",
	Args:  cobra.RangeArgs(3, 4),
	RunE: func(cmd *cobra.Command, args []string) error {
		index, err := strconv.Atoi(args[2])
		if err != nil || index < 0 {
			return outputError("insert", fmt.Errorf("invalid index %q: must be a non-negative integer", args[2]))
		}
		placement, err := graft.ParsePlacement(flagPlacement)
		if err != nil {
			return outputError("insert", err)
		}
		text, err := textArg(args, 3)
		if err != nil {
			return outputError("insert", err)
		}
		return runApply("insert", args[0], args[1], graft.InsertChild(graft.RootPath(), index, text, placement))
	},
}

var deleteCmd = &cobra.Command{
	Use:   "delete <file> <path|@tag>",
	Short: "Delete the node at a path",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runApply("delete", args[0], args[1], graft.Delete(graft.RootPath()))
	},
}

var cloneCmd = &cobra.Command{
	Use:   "clone <file> <source|@tag> <parent|@tag> <index>",
	Short: "Copy a node and insert the copy as a child of another node",
	Long:  "Copy the node at source and insert its text under parent, before or after the child at index, or as its last child. Source and parent are resolved against the file as it is now.",
	Args:  cobra.ExactArgs(4),
	RunE: func(cmd *cobra.Command, args []string) error {
		index, err := strconv.Atoi(args[3])
		if err != nil || index < 0 {
			return outputError("clone", fmt.Errorf("invalid index %q: must be a non-negative integer", args[3]))
		}
		placement, err := graft.ParsePlacement(flagPlacement)
		if err != nil {
			return outputError("clone", err)
		}

		e, done, err := openEngine()
		if err != nil {
			return outputError("clone", err)
		}
		defer done()

		abs, err := resolveFilePath(args[0])
		if err != nil {
			return outputError("clone", err)
		}
		src, err := e.Show(context.Background(), abs, args[1])
		if err != nil {
			return outputError("clone", err)
		}
		op := graft.Clone(src.Path, graft.RootPath(), index, placement)
		res, err := e.ApplyRef(context.Background(), abs, args[2], op, flagDryRun)
		if err != nil {
			return outputError("clone", err)
		}
		return reportEdit("clone", res)
	},
}

func init() {
	analyzeCmd.Flags().IntVar(&flagDepth, "depth", 0, "limit the listing to this many levels below the root (0: all)")
	findCmd.Flags().StringVar(&flagKind, "kind", "", "node kind to match, e.g. function_definition")
	findCmd.Flags().StringVar(&flagName, "name", "", "node name to match")
	insertCmd.Flags().StringVar(&flagPlacement, "placement", "after", "before|after the child at index, or last")
	cloneCmd.Flags().StringVar(&flagPlacement, "placement", "after", "before|after the child at index, or last")
	for _, c := range []*cobra.Command{editCmd, insertCmd, deleteCmd, cloneCmd, batchCmd} {
		addDryRun(c)
	}
}

// textArg returns args[i], or stdin when it is absent or "-".
func textArg(args []string, i int) (string, error) {
	if len(args) > i && args[i] != "-" {
		return args[i], nil
	}
	data, err := io.ReadAll(os.Stdin)
	if err != nil {
		return "", fmt.Errorf("reading text from stdin: %w", err)
	}
	return string(data), nil
}

// runApply applies op to file at ref and reports the outcome. A rejected
// edit prints its result and exits non-zero.
func runApply(command, file, ref string, op graft.Operation) error {
	e, done, err := openEngine()
	if err != nil {
		return outputError(command, err)
	}
	defer done()

	abs, err := resolveFilePath(file)
	if err != nil {
		return outputError(command, err)
	}
	res, err := e.ApplyRef(context.Background(), abs, ref, op, flagDryRun)
	if err != nil {
		return outputError(command, err)
	}
	return reportEdit(command, res)
}

func reportEdit(command string, res *graft.Result) error {
	out := toCLIEdit(res)
	if res.State == graft.Rejected {
		return outputFailure(command, out, res.Err())
	}
	return outputResult(CLIResult{Command: command, Results: out})
}

var batchCmd = &cobra.Command{
	Use:   "batch <batch.json>",
	Short: "Apply a file of operations across files as one unit",
	Long: `Apply a JSON batch file:

  {"description": "...", "atomic": true,
   "operations": [{"type": "replace|insert|delete|clone", "file": "...", "path": "...",
                   "parent_path": "...", "source_path": "...", "index": 0, "placement": "after",
                   "content": "..."}]}

With atomic (the default), one rejected operation means no file is written.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		req, err := graft.LoadBatchFile(args[0])
		if err != nil {
			return outputError("batch", err)
		}
		req.DryRun = flagDryRun

		e, done, err := openEngine()
		if err != nil {
			return outputError("batch", err)
		}
		defer done()

		// Batch file paths are relative to the project root, not the cwd.
		res, err := e.Batch(context.Background(), req)
		if err != nil {
			return outputError("batch", err)
		}
		out := toCLIBatch(res)
		if len(res.Rejections) > 0 && req.Atomic {
			return outputFailure("batch", out, errors.New("batch rejected; no file was written"))
		}
		return outputResult(CLIResult{Command: "batch", Results: out})
	},
}
