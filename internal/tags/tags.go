// Package tags persists human-chosen names for node paths.
//
// Tags live in <project>/.graft/tags.toml:
//
//	[files."src/app.py".tags.main_fn]
//	path = "1.2.0"
//	kind = "function_definition"
//	name = "main"
//	hash = "9f86d081884c7d65"
//
// The file is read on every call and replaced atomically after every
// mutating call, so nothing is held open between calls and concurrent
// processes see each other's changes. Kind, name and a hash of the node's
// bytes form the tag's fingerprint. A tag follows the edits made inside its
// node (Refresh) but is never migrated when its node moves; Relocate rebinds
// it on explicit request.
package tags

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"
	"unicode"

	"github.com/pelletier/go-toml/v2"

	"github.com/jward/graft/internal/errs"
	"github.com/jward/graft/internal/fileio"
	"github.com/jward/graft/internal/tree"
)

// Tag is one named reference.
type Tag struct {
	Name     string `toml:"-" json:"name"`
	Path     string `toml:"path" json:"path"`
	Kind     string `toml:"kind" json:"kind"`
	NodeName string `toml:"name,omitempty" json:"node_name,omitempty"`

	// Hash is ContentHash of the node's bytes. Empty in hand-written entries,
	// where only kind and name are checked.
	Hash string `toml:"hash,omitempty" json:"hash,omitempty"`
}

// Matches reports whether n, parsed from src, has the tag's fingerprint.
func (t *Tag) Matches(src []byte, n *tree.Node) bool {
	return t.sameNode(n) && (t.Hash == "" || t.Hash == ContentHash(src, n))
}

func (t *Tag) sameNode(n *tree.Node) bool {
	return n != nil && n.Kind == t.Kind && n.Name == t.NodeName
}

func (t *Tag) bind(p tree.Path, src []byte, n *tree.Node) {
	t.Path = p.String()
	t.Kind = n.Kind
	t.NodeName = n.Name
	t.Hash = ContentHash(src, n)
}

func (t *Tag) describe() string {
	if t.NodeName == "" {
		return t.Kind
	}
	return fmt.Sprintf("%s %q", t.Kind, t.NodeName)
}

// ContentHash fingerprints the bytes n spans in src.
func ContentHash(src []byte, n *tree.Node) string {
	sum := sha256.Sum256([]byte(n.Text(src)))
	return hex.EncodeToString(sum[:8])
}

type fileTags struct {
	Tags map[string]*Tag `toml:"tags"`
}

type document struct {
	Files map[string]*fileTags `toml:"files"`
}

// Manager reads and writes one project's tag file.
type Manager struct {
	path string
	mu   sync.Mutex
}

// NewManager returns a Manager for the tag file at path.
func NewManager(path string) *Manager {
	return &Manager{path: path}
}

// Path returns the tag file location.
func (m *Manager) Path() string { return m.path }

// Add binds name to p in file. The path must resolve in t; the resolved
// node becomes the fingerprint.
func (m *Manager) Add(file string, t *tree.Tree, p tree.Path, name string, overwrite bool) (*Tag, error) {
	if err := checkName(name); err != nil {
		return nil, err.WithFile(file)
	}
	n, err := tree.Resolve(t, p)
	if err != nil {
		return nil, tagErr(err, "tag add", file)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	doc, err := m.load()
	if err != nil {
		return nil, err
	}
	ft := doc.file(file)
	if _, exists := ft.Tags[name]; exists && !overwrite {
		return nil, errs.Newf(errs.KindConflict, "tag add", "tag %q already exists", name).WithFile(file)
	}
	tag := &Tag{Name: name}
	tag.bind(p, t.Source, n)
	ft.Tags[name] = tag
	if err := m.save(doc); err != nil {
		return nil, err
	}
	return tag, nil
}

// Lookup returns the stored tag.
func (m *Manager) Lookup(file, name string) (*Tag, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	doc, err := m.load()
	if err != nil {
		return nil, err
	}
	tag := doc.lookup(file, name)
	if tag == nil {
		return nil, notFound("tag resolve", file, name)
	}
	return tag, nil
}

// Resolve returns exactly the path bound to name.
func (m *Manager) Resolve(file, name string) (tree.Path, error) {
	tag, err := m.Lookup(file, name)
	if err != nil {
		return tree.Path{}, err
	}
	p, err := tree.ParsePath(tag.Path)
	if err != nil {
		return tree.Path{}, errs.Wrap(errs.KindCorruption, "tag resolve", err).WithFile(file).WithPath("@" + name)
	}
	return p, nil
}

// ResolveNode resolves name against t and checks the fingerprint. A path
// that no longer resolves, or resolves to a node of another kind, name or
// content, is a stale tag. pending lists changes already made to t but not
// yet committed; the tag is carried across them first, as Refresh would.
func (m *Manager) ResolveNode(file, name string, t *tree.Tree, pending ...Change) (tree.Path, *tree.Node, error) {
	stored, err := m.Lookup(file, name)
	if err != nil {
		return tree.Path{}, nil, err
	}
	tag := *stored
	for _, c := range pending {
		tag.carry(c)
	}
	p, err := tree.ParsePath(tag.Path)
	if err != nil {
		return tree.Path{}, nil, errs.Wrap(errs.KindCorruption, "tag resolve", err).WithFile(file).WithPath("@" + name)
	}
	n, err := tree.Resolve(t, p)
	if err != nil || !tag.Matches(t.Source, n) {
		e := errs.Newf(errs.KindPath, "tag resolve", "stale tag: %s at %s no longer matches; run tag relocate", tag.describe(), tag.Path)
		e.File = file
		e.Path = "@" + name
		e.Err = err
		return tree.Path{}, nil, e
	}
	return p, n, nil
}

// Rename moves a tag to a new name.
func (m *Manager) Rename(file, oldName, newName string) error {
	if err := checkName(newName); err != nil {
		return err.WithFile(file)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	doc, err := m.load()
	if err != nil {
		return err
	}
	tag := doc.lookup(file, oldName)
	if tag == nil {
		return notFound("tag rename", file, oldName)
	}
	if oldName == newName {
		return nil
	}
	if doc.lookup(file, newName) != nil {
		return errs.Newf(errs.KindConflict, "tag rename", "tag %q already exists", newName).WithFile(file)
	}
	ft := doc.Files[file]
	delete(ft.Tags, oldName)
	tag.Name = newName
	ft.Tags[newName] = tag
	return m.save(doc)
}

// Remove deletes a tag. It reports whether the tag existed.
func (m *Manager) Remove(file, name string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	doc, err := m.load()
	if err != nil {
		return false, err
	}
	if doc.lookup(file, name) == nil {
		return false, nil
	}
	ft := doc.Files[file]
	delete(ft.Tags, name)
	if len(ft.Tags) == 0 {
		delete(doc.Files, file)
	}
	return true, m.save(doc)
}

// List returns file's tags sorted by name.
func (m *Manager) List(file string) ([]*Tag, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	doc, err := m.load()
	if err != nil {
		return nil, err
	}
	ft, ok := doc.Files[file]
	if !ok {
		return nil, nil
	}
	out := make([]*Tag, 0, len(ft.Tags))
	for _, tag := range ft.Tags {
		out = append(out, tag)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// Files returns every file with at least one tag, sorted.
func (m *Manager) Files() ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	doc, err := m.load()
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(doc.Files))
	for f := range doc.Files {
		out = append(out, f)
	}
	sort.Strings(out)
	return out, nil
}

// Relocate searches t for the one node carrying the tag's fingerprint and
// rebinds the tag to it. When no node has the same content, a node of the
// same kind and name is accepted. Several candidates is a Conflict; none is
// NotFound.
func (m *Manager) Relocate(file, name string, t *tree.Tree) (*Tag, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	doc, err := m.load()
	if err != nil {
		return nil, err
	}
	tag := doc.lookup(file, name)
	if tag == nil {
		return nil, notFound("tag relocate", file, name)
	}

	matches := candidates(t, func(n *tree.Node) bool { return tag.Matches(t.Source, n) })
	if len(matches) == 0 && tag.Hash != "" {
		matches = candidates(t, tag.sameNode)
	}
	switch len(matches) {
	case 0:
		return nil, errs.Newf(errs.KindNotFound, "tag relocate", "no %s in file", tag.describe()).
			WithFile(file).WithPath("@" + name)
	case 1:
	default:
		paths := make([]string, len(matches))
		for i, p := range matches {
			paths[i] = p.String()
		}
		return nil, errs.Newf(errs.KindConflict, "tag relocate", "%d candidates: %s", len(matches), strings.Join(paths, ", ")).
			WithFile(file).WithPath("@" + name)
	}

	n, _ := tree.Resolve(t, matches[0])
	before := *tag
	tag.bind(matches[0], t.Source, n)
	if *tag == before {
		return tag, nil
	}
	if err := m.save(doc); err != nil {
		return nil, err
	}
	return tag, nil
}

// carry moves the tag across c and reports whether it changed.
func (t *Tag) carry(c Change) bool {
	p, err := tree.ParsePath(t.Path)
	if err != nil || !c.Scope.HasPrefix(p) {
		return false
	}
	if n, err := tree.Resolve(c.Before, p); err != nil || !t.Matches(c.Before.Source, n) {
		return false
	}
	n, err := tree.Resolve(c.After, p)
	if err != nil {
		return false
	}
	if !p.Equal(c.Scope) && !t.sameNode(n) {
		return false
	}
	before := *t
	t.bind(p, c.After.Source, n)
	return *t != before
}

func candidates(t *tree.Tree, match func(*tree.Node) bool) []tree.Path {
	var out []tree.Path
	tree.Walk(t, func(p tree.Path, n *tree.Node) bool {
		if match(n) {
			out = append(out, p)
		}
		return true
	})
	return out
}

// Change is one committed edit of a file: the trees on either side and the
// scope of the edit, the innermost node enclosing every changed byte.
type Change struct {
	Before *tree.Tree
	After  *tree.Tree
	Scope  tree.Path
}

// Refresh carries file's tags across changes, applied in order. A tag whose
// node encloses the edit keeps its path and takes the node's new content; a
// tag on the scope node itself is rebound to whatever now sits there. Tags
// that were already stale, or lie outside the scope, are left as they are and
// go stale if the edit moved their node.
func (m *Manager) Refresh(file string, changes ...Change) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	doc, err := m.load()
	if err != nil {
		return err
	}
	ft, ok := doc.Files[file]
	if !ok {
		return nil
	}
	dirty := false
	for _, c := range changes {
		for _, tag := range ft.Tags {
			if tag.carry(c) {
				dirty = true
			}
		}
	}
	if !dirty {
		return nil
	}
	return m.save(doc)
}

func (m *Manager) load() (*document, error) {
	doc := &document{Files: map[string]*fileTags{}}
	data, err := os.ReadFile(m.path)
	if os.IsNotExist(err) {
		return doc, nil
	}
	if err != nil {
		return nil, errs.Wrap(errs.KindIO, "tags: read", err)
	}
	if err := toml.Unmarshal(data, doc); err != nil {
		return nil, errs.Wrap(errs.KindCorruption, "tags: parse "+m.path, err)
	}
	if doc.Files == nil {
		doc.Files = map[string]*fileTags{}
	}
	for _, ft := range doc.Files {
		if ft.Tags == nil {
			ft.Tags = map[string]*Tag{}
		}
		for name, tag := range ft.Tags {
			tag.Name = name
		}
	}
	return doc, nil
}

func (m *Manager) save(doc *document) error {
	var buf bytes.Buffer
	enc := toml.NewEncoder(&buf)
	enc.SetIndentTables(false)
	if err := enc.Encode(doc); err != nil {
		return errs.Wrap(errs.KindIO, "tags: encode", err)
	}
	if err := fileio.WriteFile(m.path, buf.Bytes()); err != nil {
		return errs.Wrap(errs.KindIO, "tags: write", err)
	}
	return nil
}

func (d *document) file(file string) *fileTags {
	ft, ok := d.Files[file]
	if !ok {
		ft = &fileTags{Tags: map[string]*Tag{}}
		d.Files[file] = ft
	}
	return ft
}

func (d *document) lookup(file, name string) *Tag {
	ft, ok := d.Files[file]
	if !ok {
		return nil
	}
	return ft.Tags[name]
}

func checkName(name string) *errs.Error {
	if name == "" {
		return errs.New(errs.KindValidation, "tag", "empty tag name")
	}
	if strings.HasPrefix(name, "@") {
		return errs.Newf(errs.KindValidation, "tag", "tag name %q must not start with @", name)
	}
	for _, r := range name {
		if unicode.IsSpace(r) || r == '"' {
			return errs.Newf(errs.KindValidation, "tag", "invalid character %q in tag name %q", r, name)
		}
	}
	return nil
}

func notFound(op, file, name string) *errs.Error {
	return errs.Newf(errs.KindNotFound, op, "no tag %q", name).WithFile(file).WithPath("@" + name)
}

func tagErr(err error, op, file string) error {
	if e, ok := errs.As(err); ok {
		e.Op = op
		e.File = file
		return e
	}
	return fmt.Errorf("%s: %w", op, err)
}
