package main

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/jward/graft"
)

var tagCmd = &cobra.Command{
	Use:   "tag",
	Short: "Manage named references to nodes",
	Long:  "Tags bind a name to a node path in .graft/tags.toml. Use @name wherever a path is accepted.",
}

var flagOverwrite bool

var tagAddCmd = &cobra.Command{
	Use:   "add <file> <path|@tag> <name>",
	Short: "Name the node at a path",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withTagEngine("tag add", args[0], func(e *graft.Engine, file string) (any, error) {
			return e.TagAdd(context.Background(), file, args[1], args[2], flagOverwrite)
		})
	},
}

var tagResolveCmd = &cobra.Command{
	Use:   "resolve <file> <name>",
	Short: "Print the node a tag points at, failing if it is stale",
	Long: `Print the node a tag points at. A tag is stale when the node at its path
no longer has the kind, name and content it was tagged with, typically
because an edit elsewhere in the file shifted it. Resolving a stale tag
fails; run "graft tag relocate <file> <name>" to rebind it.`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withTagEngine("tag resolve", args[0], func(e *graft.Engine, file string) (any, error) {
			p, n, err := e.TagResolve(context.Background(), file, args[1])
			if err != nil {
				return nil, err
			}
			return CLILocated{File: args[0], Node: toCLINode(p, n)}, nil
		})
	},
}

var tagRenameCmd = &cobra.Command{
	Use:   "rename <file> <old> <new>",
	Short: "Rename a tag",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withTagEngine("tag rename", args[0], func(e *graft.Engine, file string) (any, error) {
			if err := e.TagRename(file, args[1], args[2]); err != nil {
				return nil, err
			}
			return e.TagList(file)
		})
	},
}

var tagRemoveCmd = &cobra.Command{
	Use:   "remove <file> <name>",
	Short: "Delete a tag",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withTagEngine("tag remove", args[0], func(e *graft.Engine, file string) (any, error) {
			if _, err := e.TagRemove(file, args[1]); err != nil {
				return nil, err
			}
			return e.TagList(file)
		})
	},
}

var tagListCmd = &cobra.Command{
	Use:   "list <file>",
	Short: "List the tags of a file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withTagEngine("tag list", args[0], func(e *graft.Engine, file string) (any, error) {
			return e.TagList(file)
		})
	},
}

var tagRelocateCmd = &cobra.Command{
	Use:   "relocate <file> <name>",
	Short: "Rebind a stale tag to the node that now carries its fingerprint",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withTagEngine("tag relocate", args[0], func(e *graft.Engine, file string) (any, error) {
			return e.TagRelocate(context.Background(), file, args[1])
		})
	},
}

func init() {
	tagAddCmd.Flags().BoolVar(&flagOverwrite, "overwrite", false, "replace an existing tag of the same name")
	tagCmd.AddCommand(tagAddCmd, tagResolveCmd, tagRenameCmd, tagRemoveCmd, tagListCmd, tagRelocateCmd)
}

func withTagEngine(command, file string, fn func(e *graft.Engine, file string) (any, error)) error {
	e, done, err := openEngine()
	if err != nil {
		return outputError(command, err)
	}
	defer done()

	abs, err := resolveFilePath(file)
	if err != nil {
		return outputError(command, err)
	}
	res, err := fn(e, abs)
	if err != nil {
		return outputError(command, err)
	}
	if tags, ok := res.([]*graft.Tag); ok && tags == nil {
		res = []*graft.Tag{}
	}
	return outputResult(CLIResult{Command: command, Results: res})
}
