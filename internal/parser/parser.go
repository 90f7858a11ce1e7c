// Package parser converts raw source bytes to and from the uniform tree.
//
// One Adapter exists per supported grammar. The edit pipeline only ever talks
// to the Adapter interface: Parse builds a tree.Tree, Serialize renders it
// back to bytes and Validate is the acceptance oracle for every mutation.
package parser

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/jward/graft/internal/tree"
)

// SyntaxError reports where source fails its grammar. Line and Column are
// 1-based; zero means the adapter could not locate the failure.
type SyntaxError struct {
	Message string
	Line    int
	Column  int
}

func (e *SyntaxError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("syntax error at line %d, column %d: %s", e.Line, e.Column, e.Message)
	}
	return "syntax error: " + e.Message
}

// Adapter is the per-language collaborator.
type Adapter interface {
	// Language returns the canonical language tag, e.g. "python".
	Language() string

	// Parse builds a tree from src. When src is syntactically invalid the
	// returned error is a *SyntaxError; error-tolerant grammars still return
	// the partial tree alongside it.
	Parse(ctx context.Context, src []byte) (*tree.Tree, error)

	// Serialize renders t back to bytes.
	Serialize(t *tree.Tree) []byte

	// Validate returns nil when src is acceptable, a *SyntaxError otherwise.
	Validate(ctx context.Context, src []byte) error
}

// serialize is shared by every adapter: trees cache their exact source, so
// rendering is a copy.
func serialize(t *tree.Tree) []byte {
	out := make([]byte, len(t.Source))
	copy(out, t.Source)
	return out
}

// Registry selects an Adapter by file extension.
type Registry struct {
	allowed map[string]bool // nil means every language
}

// NewRegistry returns a Registry. When languages is non-empty only those
// languages get a structural adapter; other files fall back to plain text.
func NewRegistry(languages ...string) *Registry {
	r := &Registry{}
	if len(languages) > 0 {
		r.allowed = make(map[string]bool, len(languages))
		for _, l := range languages {
			r.allowed[strings.ToLower(strings.TrimSpace(l))] = true
		}
	}
	return r
}

// ForFile returns the adapter for path. Unknown extensions get the text
// adapter so that history and backups work for any file.
func (r *Registry) ForFile(path string) Adapter {
	lang, ok := LanguageForFile(path)
	if !ok || (r.allowed != nil && !r.allowed[lang]) {
		return textAdapter{}
	}
	if lang == "json" {
		return jsonAdapter{}
	}
	grammar, ok := grammarForLanguage(lang)
	if !ok {
		return textAdapter{}
	}
	return &treeSitterAdapter{name: lang, grammar: grammar}
}

// Supported returns the sorted list of languages with a structural adapter.
func Supported() []string {
	seen := map[string]bool{}
	var out []string
	for _, lang := range extToLanguage {
		if !seen[lang] {
			seen[lang] = true
			out = append(out, lang)
		}
	}
	sortStrings(out)
	return out
}

// LanguageForFile returns the canonical language name for a file path based
// on its extension. Returns ("", false) if the extension is not recognized.
func LanguageForFile(path string) (string, bool) {
	ext := strings.ToLower(filepath.Ext(path))
	lang, ok := extToLanguage[ext]
	return lang, ok
}

// lineCol converts a byte offset into 1-based line and column.
func lineCol(src []byte, offset int) (int, int) {
	if offset > len(src) {
		offset = len(src)
	}
	line, col := 1, 1
	for _, b := range src[:offset] {
		if b == '\n' {
			line++
			col = 1
			continue
		}
		col++
	}
	return line, col
}
