package graft

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/jward/graft/internal/config"
	"github.com/jward/graft/internal/errs"
	"github.com/jward/graft/internal/fileio"
	"github.com/jward/graft/internal/parser"
	"github.com/jward/graft/internal/runtime"
	"github.com/jward/graft/internal/store"
	"github.com/jward/graft/internal/tags"
	"github.com/jward/graft/internal/tree"
)

// Engine edits the files of one project root. Every mutation is validated
// against the file's grammar and the project's hook scripts, recorded in the
// transaction log and only then written to disk.
//
// An Engine serializes its own mutations. Two Engines (or processes) editing
// the same file concurrently is the caller's responsibility to avoid.
type Engine struct {
	root    string
	cfg     *config.Config
	store   *store.Store
	tags    *tags.Manager
	hooks   *runtime.Runtime
	parsers *parser.Registry
	logger  *zap.Logger

	workers     int
	languages   []string
	hooksFS     fs.FS
	now         func() time.Time
	sessionID   string
	sessionDesc string

	// mu guards the commit phase: record append and file write.
	mu sync.Mutex

	// write replaces a file's content atomically.
	write func(path string, data []byte) error
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the structured logger. The default discards everything.
func WithLogger(l *zap.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// WithLanguages restricts structural parsing to the named languages. Files
// of other languages are edited as plain text.
func WithLanguages(languages ...string) Option {
	return func(e *Engine) { e.languages = languages }
}

// WithWorkers bounds how many files a Batch parses and validates at once.
func WithWorkers(n int) Option {
	return func(e *Engine) { e.workers = n }
}

// WithSessionID attaches every record to an existing or caller-chosen
// session instead of a fresh one.
func WithSessionID(id, description string) Option {
	return func(e *Engine) {
		e.sessionID = id
		e.sessionDesc = description
	}
}

// WithClock overrides the wall clock used to stamp records.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithHooksFS loads hook scripts from fsys instead of the configured hooks
// directory.
func WithHooksFS(fsys fs.FS) Option {
	return func(e *Engine) { e.hooksFS = fsys }
}

// WithConfig uses cfg instead of loading .graft/config.yaml.
func WithConfig(cfg *config.Config) Option {
	return func(e *Engine) { e.cfg = cfg }
}

// New opens the project rooted at projectRoot, creating its .graft state
// directory and transaction log on first use.
func New(projectRoot string, opts ...Option) (*Engine, error) {
	root, err := filepath.Abs(projectRoot)
	if err != nil {
		return nil, fmt.Errorf("graft: resolve root: %w", err)
	}
	if fi, err := os.Stat(root); err != nil || !fi.IsDir() {
		return nil, errs.Newf(errs.KindNotFound, "graft: open", "project root %s is not a directory", root)
	}

	e := &Engine{
		root:  root,
		write: fileio.WriteFile,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.cfg == nil {
		if e.cfg, err = config.Load(root); err != nil {
			return nil, fmt.Errorf("graft: %w", err)
		}
	} else if err := e.cfg.Validate(); err != nil {
		return nil, fmt.Errorf("graft: %w", err)
	}
	if e.workers < 1 {
		e.workers = max(e.cfg.Workers, 1)
	}
	if e.languages == nil {
		e.languages = e.cfg.Languages
	}
	if e.logger == nil {
		e.logger = zap.NewNop()
	}

	stateDir := filepath.Join(root, config.Dir)
	if err := os.MkdirAll(stateDir, 0o755); err != nil {
		return nil, fmt.Errorf("graft: create state directory: %w", err)
	}

	var storeOpts []store.Option
	if e.now != nil {
		storeOpts = append(storeOpts, store.WithClock(e.now))
	}
	s, err := store.NewStore(filepath.Join(stateDir, config.HistoryFile), storeOpts...)
	if err != nil {
		return nil, fmt.Errorf("graft: create store: %w", err)
	}
	if err := s.Migrate(); err != nil {
		s.Close()
		return nil, fmt.Errorf("graft: migrate: %w", err)
	}
	e.store = s

	if e.sessionID == "" {
		e.sessionID = uuid.NewString()
	}
	if err := s.StartSession(e.sessionID, e.sessionDesc); err != nil {
		s.Close()
		return nil, fmt.Errorf("graft: start session: %w", err)
	}

	e.parsers = parser.NewRegistry(e.languages...)
	e.tags = tags.NewManager(filepath.Join(stateDir, config.TagsFile))

	rtOpts := []runtime.Option{
		runtime.WithLogger(e.logger.Named("hooks")),
		runtime.WithParsers(e.parsers),
		runtime.WithHistory(s),
	}
	if e.hooksFS != nil {
		rtOpts = append(rtOpts, runtime.WithHooksFS(e.hooksFS))
	}
	e.hooks = runtime.NewRuntime(e.cfg.HooksPath(root), rtOpts...)

	e.logger.Debug("engine opened",
		zap.String("root", root),
		zap.String("session", e.sessionID),
		zap.Int("workers", e.workers),
		zap.Strings("languages", e.languages))
	return e, nil
}

// Close releases the transaction log.
func (e *Engine) Close() error {
	return e.store.Close()
}

// Root returns the absolute project root.
func (e *Engine) Root() string { return e.root }

// SessionID returns the session every record of this Engine carries.
func (e *Engine) SessionID() string { return e.sessionID }

// Store returns the underlying transaction log for direct access.
func (e *Engine) Store() *Store { return e.store }

// Query returns a QueryBuilder over the transaction log.
func (e *Engine) Query() *QueryBuilder {
	return &QueryBuilder{store: e.store}
}

// rel converts file to its identity in the log: a slash-separated path
// relative to the project root. Paths outside the root are rejected.
func (e *Engine) rel(file string) (string, error) {
	p := file
	if !filepath.IsAbs(p) {
		p = filepath.Join(e.root, p)
	}
	r, err := filepath.Rel(e.root, filepath.Clean(p))
	if err != nil || r == "." || r == ".." || strings.HasPrefix(r, ".."+string(filepath.Separator)) {
		return "", errs.Newf(errs.KindNotFound, "graft", "%s is not a file inside %s", file, e.root).WithFile(file)
	}
	return filepath.ToSlash(r), nil
}

func (e *Engine) abs(rel string) string {
	return filepath.Join(e.root, filepath.FromSlash(rel))
}

// read returns the current content of rel.
func (e *Engine) read(rel string) ([]byte, error) {
	src, err := os.ReadFile(e.abs(rel))
	if os.IsNotExist(err) {
		return nil, errs.New(errs.KindNotFound, "read", "file does not exist").WithFile(rel)
	}
	if err != nil {
		return nil, errs.Wrap(errs.KindIO, "read", err).WithFile(rel)
	}
	return src, nil
}

// load reads and parses rel. A file with syntax errors still loads, so an
// edit can repair it: a partial tree when the grammar yields one, otherwise
// a single text node covering the whole file.
func (e *Engine) load(ctx context.Context, rel string) (*tree.Tree, parser.Adapter, error) {
	src, err := e.read(rel)
	if err != nil {
		return nil, nil, err
	}
	a := e.parsers.ForFile(rel)
	t, err := parseOrText(ctx, a, src)
	if err != nil {
		return nil, nil, err
	}
	return t, a, nil
}

// snapshot captures src as a storable image, parsing it with rel's adapter.
func (e *Engine) snapshot(ctx context.Context, rel string, src []byte) (*store.Snapshot, error) {
	t, err := parseOrText(ctx, e.parsers.ForFile(rel), src)
	if err != nil {
		return nil, err
	}
	return store.NewSnapshot(t)
}

// parseOrText parses src with a. Syntax errors are tolerated: the partial
// tree is kept, or a single text node stands in when there is none. Any
// other failure is returned.
func parseOrText(ctx context.Context, a parser.Adapter, src []byte) (*tree.Tree, error) {
	t, err := a.Parse(ctx, src)
	if err != nil {
		var se *parser.SyntaxError
		if !errors.As(err, &se) {
			return nil, err
		}
	}
	if t == nil {
		t = &tree.Tree{
			Language: a.Language(),
			Source:   src,
			Root:     &tree.Node{Kind: "text", End: len(src), Line: 1, Column: 1, Leaf: true},
		}
	}
	return t, nil
}

// fileWrite is one pending disk write of a committed unit.
type fileWrite struct {
	rel    string
	before []byte
	after  []byte
}

// commit appends u and then performs writes in order. If a write fails, the
// files already written are put back, the unit is marked aborted and an
// IO error is returned.
func (e *Engine) commit(u *store.Unit, writes []fileWrite) error {
	if err := e.store.CommitUnit(u); err != nil {
		return errs.Wrap(errs.KindIO, "append records", err)
	}
	for i, w := range writes {
		if err := e.write(e.abs(w.rel), w.after); err != nil {
			e.logger.Error("write failed, rolling back unit",
				zap.String("file", w.rel), zap.String("unit", u.ID), zap.Error(err))
			for _, done := range writes[:i] {
				if rerr := e.write(e.abs(done.rel), done.before); rerr != nil {
					e.logger.Error("rollback failed", zap.String("file", done.rel), zap.Error(rerr))
				}
			}
			if aerr := e.store.AbortUnit(u.ID, err.Error()); aerr != nil {
				e.logger.Error("abort unit failed", zap.String("unit", u.ID), zap.Error(aerr))
			}
			return errs.Wrap(errs.KindIO, "write", err).WithFile(w.rel)
		}
	}
	return nil
}
