// Package runtime embeds a Risor VM that runs operator-supplied policy hooks
// against every proposed edit after grammar validation.
package runtime

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"slices"
	"strings"

	"github.com/risor-io/risor"
	"github.com/risor-io/risor/importer"
	"github.com/risor-io/risor/object"
	"go.uber.org/zap"

	"github.com/jward/graft/internal/parser"
)

const hookExt = ".risor"

// Runtime loads hook scripts from a directory or an fs.FS and evaluates them.
type Runtime struct {
	hooksDir string
	fsys     fs.FS
	logger   *zap.Logger
	parsers  *parser.Registry
	history  HistoryReader
}

// Option configures a Runtime.
type Option func(*Runtime)

// WithHooksFS reads hooks, and resolves their imports, from fsys. It takes
// precedence over the hooks directory.
func WithHooksFS(fsys fs.FS) Option {
	return func(r *Runtime) { r.fsys = fsys }
}

// WithLogger routes the scripts' log global to l.
func WithLogger(l *zap.Logger) Option {
	return func(r *Runtime) { r.logger = l }
}

// WithParsers sets the registry used by the node_count and kinds globals.
func WithParsers(p *parser.Registry) Option {
	return func(r *Runtime) { r.parsers = p }
}

// WithHistory exposes read-only log access to scripts.
func WithHistory(h HistoryReader) Option {
	return func(r *Runtime) { r.history = h }
}

// NewRuntime creates a Runtime reading hooks from hooksDir. An empty or
// missing directory means no hooks.
func NewRuntime(hooksDir string, opts ...Option) *Runtime {
	rt := &Runtime{
		hooksDir: hooksDir,
		logger:   zap.NewNop(),
		parsers:  parser.NewRegistry(),
	}
	for _, o := range opts {
		o(rt)
	}
	return rt
}

// Scripts lists the hook scripts in lexical order.
func (r *Runtime) Scripts() ([]string, error) {
	var names []string
	switch {
	case r.fsys != nil:
		m, err := fs.Glob(r.fsys, "*"+hookExt)
		if err != nil {
			return nil, fmt.Errorf("runtime: list hooks: %w", err)
		}
		names = m
	case r.hooksDir != "":
		entries, err := os.ReadDir(r.hooksDir)
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		if err != nil {
			return nil, fmt.Errorf("runtime: list hooks: %w", err)
		}
		for _, ent := range entries {
			if ent.Type().IsRegular() && strings.HasSuffix(ent.Name(), hookExt) {
				names = append(names, ent.Name())
			}
		}
	}
	slices.Sort(names)
	return names, nil
}

// ReadHook returns the source of the named hook. Leading slashes are
// ignored when reading from an fs.FS.
func (r *Runtime) ReadHook(name string) (string, error) {
	var (
		data []byte
		err  error
		at   string
	)
	if r.fsys != nil {
		at = path.Clean(strings.TrimLeft(filepath.ToSlash(name), "/"))
		data, err = fs.ReadFile(r.fsys, at)
	} else {
		at = name
		if !filepath.IsAbs(at) {
			at = filepath.Join(r.hooksDir, at)
		}
		data, err = os.ReadFile(at)
	}
	if err != nil {
		return "", fmt.Errorf("runtime: read hook %s: %w", at, err)
	}
	return string(data), nil
}

// Eval runs source with the shared globals plus extra. Hooks see the same
// environment through Check.
func (r *Runtime) Eval(ctx context.Context, source string, extra map[string]any) error {
	return r.run(ctx, "<inline>", source, extra)
}

func (r *Runtime) run(ctx context.Context, label, source string, extra map[string]any) error {
	env := r.globals(label, extra)
	opts := make([]risor.Option, 0, len(env)+1)
	for k, v := range env {
		opts = append(opts, risor.WithGlobal(k, v))
	}
	// Imported modules compile against the same names as the hook itself,
	// Risor's builtins and standard modules included.
	names := risor.NewConfig(opts...).GlobalNames()
	if imp := r.newImporter(names); imp != nil {
		opts = append(opts, risor.WithImporter(imp))
	}
	if _, err := risor.Eval(ctx, source, opts...); err != nil {
		return fmt.Errorf("runtime: hook %s: %w", label, err)
	}
	return nil
}

// newImporter lets hooks import sibling .risor modules. It returns nil when
// hooks have no home to import from.
func (r *Runtime) newImporter(globalNames []string) importer.Importer {
	exts := []string{hookExt}
	if r.fsys != nil {
		return importer.NewFSImporter(importer.FSImporterOptions{
			SourceFS:    r.fsys,
			GlobalNames: globalNames,
			Extensions:  exts,
		})
	}
	if r.hooksDir == "" {
		return nil
	}
	return importer.NewLocalImporter(importer.LocalImporterOptions{
		SourceDir:   r.hooksDir,
		GlobalNames: globalNames,
		Extensions:  exts,
	})
}

// globals builds the environment every hook shares. Per-event values
// arrive in extra and win on collision.
func (r *Runtime) globals(label string, extra map[string]any) map[string]any {
	env := make(map[string]any, len(extra)+2)
	env["log"] = proxy(&logObject{logger: r.logger.With(zap.String("hook", label))})
	if r.history != nil {
		env["recent_records"] = makeRecentRecordsFn(r.history)
	}
	for k, v := range extra {
		env[k] = v
	}
	return env
}

func proxy(v any) object.Object {
	obj, err := object.NewProxy(v)
	if err != nil {
		panic(fmt.Sprintf("runtime: proxy %T: %v", v, err))
	}
	return obj
}
