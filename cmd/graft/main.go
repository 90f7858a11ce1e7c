package main

import (
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/jward/graft"
	"github.com/jward/graft/internal/config"
	"github.com/jward/graft/internal/fileio"
	"github.com/jward/graft/scripts"
)

var (
	flagProject string
	flagFormat  string
	flagDryRun  bool
	flagVerbose bool
	flagSession string
)

// errorHandled is set by outputError so main() doesn't double-print.
var errorHandled bool

func main() {
	if err := rootCmd.Execute(); err != nil {
		if !errorHandled {
			fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		}
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:           "graft",
	Short:         "Structural, validated edits to source files",
	Long:          "Graft addresses nodes of parsed source files by position or tag, validates every edit against the file's grammar before writing, and keeps an append-only history in .graft/history.db.",
	SilenceErrors: true,
	SilenceUsage:  true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return validateFormat(flagFormat)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagProject, "project", "", "project root (default: nearest ancestor with .graft or .git)")
	rootCmd.PersistentFlags().StringVar(&flagFormat, "format", "json", "output format: json|text")
	rootCmd.PersistentFlags().BoolVar(&flagVerbose, "verbose", false, "debug logging to stderr")
	rootCmd.PersistentFlags().StringVar(&flagSession, "session", os.Getenv("GRAFT_SESSION"), "session id to record edits under (default: a new session per invocation)")

	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(analyzeCmd, showCmd, findCmd, editCmd, insertCmd, deleteCmd, cloneCmd, batchCmd)
	rootCmd.AddCommand(undoCmd, redoCmd, historyCmd, restoreProjectCmd, restoreSessionCmd, restoreFileCmd, recoverCmd, verifyCmd)
	rootCmd.AddCommand(tagCmd)
}

// addDryRun registers --dry-run on a mutating command.
func addDryRun(cmd *cobra.Command) {
	cmd.Flags().BoolVar(&flagDryRun, "dry-run", false, "validate and show the diff without writing")
}

var flagForce bool

var initCmd = &cobra.Command{
	Use:   "init [path]",
	Short: "Create .graft/ with a default config and the sample hooks",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runInit,
}

func init() {
	initCmd.Flags().BoolVar(&flagForce, "force", false, "overwrite an existing config and sample hooks")
}

func runInit(cmd *cobra.Command, args []string) error {
	dir := flagProject
	if len(args) > 0 {
		dir = args[0]
	}
	if dir == "" {
		dir = "."
	}
	root, err := filepath.Abs(dir)
	if err != nil {
		return outputError("init", fmt.Errorf("resolving path %q: %w", dir, err))
	}
	if info, err := os.Stat(root); err != nil || !info.IsDir() {
		return outputError("init", fmt.Errorf("not a directory: %s", root))
	}

	var written []string
	cfgPath := config.Path(root)
	if _, err := os.Stat(cfgPath); flagForce || os.IsNotExist(err) {
		if err := config.DefaultConfig().Save(root); err != nil {
			return outputError("init", err)
		}
		written = append(written, cfgPath)
	}

	hooksDir := filepath.Join(root, config.Dir, config.HooksDir)
	if err := os.MkdirAll(hooksDir, 0o755); err != nil {
		return outputError("init", fmt.Errorf("creating %s: %w", hooksDir, err))
	}
	err = fs.WalkDir(scripts.Hooks, "hooks", func(p string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return err
		}
		dst := filepath.Join(hooksDir, d.Name())
		if _, err := os.Stat(dst); err == nil && !flagForce {
			return nil
		}
		data, err := fs.ReadFile(scripts.Hooks, p)
		if err != nil {
			return err
		}
		if err := fileio.WriteFile(dst, data); err != nil {
			return err
		}
		written = append(written, dst)
		return nil
	})
	if err != nil {
		return outputError("init", fmt.Errorf("installing sample hooks: %w", err))
	}
	if written == nil {
		written = []string{}
	}
	return outputResult(CLIResult{Command: "init", Results: written})
}

// findProjectRoot walks up from startDir looking for a .graft or .git
// directory. Returns that directory, or startDir if neither is found.
func findProjectRoot(startDir string) string {
	dir := startDir
	for {
		for _, marker := range []string{config.Dir, ".git"} {
			if info, err := os.Stat(filepath.Join(dir, marker)); err == nil && info.IsDir() {
				return dir
			}
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return startDir
		}
		dir = parent
	}
}

// resolveProjectRoot returns --project, or the root found from the cwd.
func resolveProjectRoot() (string, error) {
	if flagProject != "" {
		return filepath.Abs(flagProject)
	}
	cwd, err := os.Getwd()
	if err != nil {
		return "", fmt.Errorf("getting cwd: %w", err)
	}
	return findProjectRoot(cwd), nil
}

// newLogger builds a production logger writing to stderr at the config's
// level, or at debug with --verbose.
func newLogger(cfg *config.Config) (*zap.Logger, error) {
	level, err := cfg.Level()
	if err != nil {
		return nil, err
	}
	if flagVerbose {
		level = zapcore.DebugLevel
	}
	zc := zap.NewProductionConfig()
	zc.Level = zap.NewAtomicLevelAt(level)
	zc.OutputPaths = []string{"stderr"}
	zc.ErrorOutputPaths = []string{"stderr"}
	zc.Encoding = "console"
	zc.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	return zc.Build()
}

// openEngine opens the project's engine with its config and a logger.
func openEngine() (*graft.Engine, func(), error) {
	root, err := resolveProjectRoot()
	if err != nil {
		return nil, nil, err
	}
	cfg, err := graft.LoadConfig(root)
	if err != nil {
		return nil, nil, err
	}
	logger, err := newLogger(cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("building logger: %w", err)
	}
	opts := []graft.Option{graft.WithConfig(cfg), graft.WithLogger(logger)}
	if flagSession != "" {
		opts = append(opts, graft.WithSessionID(flagSession, ""))
	}
	e, err := graft.New(root, opts...)
	if err != nil {
		_ = logger.Sync()
		return nil, nil, err
	}
	return e, func() {
		e.Close()
		_ = logger.Sync()
	}, nil
}

// resolveFilePath makes file relative arguments absolute against the cwd so
// they are interpreted the same way with or without --project.
func resolveFilePath(file string) (string, error) {
	if filepath.IsAbs(file) {
		return file, nil
	}
	abs, err := filepath.Abs(file)
	if err != nil {
		return "", fmt.Errorf("resolving file path %q: %w", file, err)
	}
	return abs, nil
}

// outputResult marshals a CLIResult to stdout in the selected format.
func outputResult(result CLIResult) error {
	if flagFormat == "text" {
		return outputResultText(result)
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(result)
}

// outputError reports err in the selected format and returns it so the
// process exits non-zero.
func outputError(command string, err error) error {
	errorHandled = true
	if flagFormat == "text" {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		return err
	}
	result := CLIResult{
		Command: command,
		Error:   err.Error(),
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	_ = enc.Encode(result)
	return err
}

// outputFailure reports results together with err, for outcomes such as a
// rejected edit that carry detail worth printing.
func outputFailure(command string, results any, err error) error {
	errorHandled = true
	if oerr := outputResult(CLIResult{Command: command, Results: results, Error: err.Error()}); oerr != nil {
		return oerr
	}
	return err
}
