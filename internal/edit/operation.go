// Package edit computes structural mutations against a parsed tree and
// validates the result with the file's parser adapter.
//
// The package never touches disk. Apply takes a tree and an Operation and
// returns a Result that is either Validated (the new source parses cleanly)
// or Rejected (with a structured reason). Committing a validated result is
// the caller's job.
package edit

import (
	"fmt"
	"strings"

	"github.com/jward/graft/internal/errs"
	"github.com/jward/graft/internal/tree"
)

// Kind names an operation.
type Kind string

const (
	KindReplace Kind = "replace"
	KindInsert  Kind = "insert"
	KindDelete  Kind = "delete"
	KindClone   Kind = "clone"
)

// Placement selects where InsertChild splices relative to its anchor.
type Placement string

const (
	PlaceBefore Placement = "before"
	PlaceAfter  Placement = "after"
	PlaceLast   Placement = "last"
)

// ParsePlacement accepts before, after and last (case-insensitive). The empty
// string means last.
func ParsePlacement(s string) (Placement, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "before":
		return PlaceBefore, nil
	case "after":
		return PlaceAfter, nil
	case "last", "":
		return PlaceLast, nil
	}
	return "", errs.Newf(errs.KindValidation, "parse placement", "unknown placement %q (want before, after or last)", s)
}

// Operation is one edit. Path is the target node for Replace and Delete and
// the parent container for InsertChild and Clone. From is the node Clone
// copies.
type Operation struct {
	Kind      Kind      `json:"kind"`
	Path      tree.Path `json:"path"`
	From      tree.Path `json:"from,omitzero"`
	Index     int       `json:"index,omitempty"`
	Placement Placement `json:"placement,omitempty"`
	Text      string    `json:"text,omitempty"`
}

// Replace substitutes the node at p with text.
func Replace(p tree.Path, text string) Operation {
	return Operation{Kind: KindReplace, Path: p, Text: text}
}

// InsertChild inserts text as a child of parent, positioned by placement
// relative to child index. index is ignored for PlaceLast.
func InsertChild(parent tree.Path, index int, text string, placement Placement) Operation {
	return Operation{Kind: KindInsert, Path: parent, Index: index, Text: text, Placement: placement}
}

// Delete removes the node at p.
func Delete(p tree.Path) Operation {
	return Operation{Kind: KindDelete, Path: p}
}

// Clone inserts a copy of the node at from as a child of parent, positioned
// like InsertChild.
func Clone(from, parent tree.Path, index int, placement Placement) Operation {
	return Operation{Kind: KindClone, Path: parent, From: from, Index: index, Placement: placement}
}

// Scope returns the path of the innermost node that encloses every byte the
// operation changes. Nodes at or above it keep their paths.
func (o Operation) Scope() tree.Path {
	if o.Kind == KindDelete {
		if parent, ok := o.Path.Parent(); ok {
			return parent
		}
	}
	return o.Path
}

// Check validates the operation's own shape, independent of any tree.
func (o Operation) Check() error {
	switch o.Kind {
	case KindReplace:
		return nil
	case KindDelete:
		if o.Path.IsRoot() {
			return errs.New(errs.KindPath, string(o.Kind), "cannot delete the root node")
		}
		return nil
	case KindInsert, KindClone:
		switch o.Placement {
		case PlaceBefore, PlaceAfter, PlaceLast:
		default:
			return errs.Newf(errs.KindValidation, string(o.Kind), "unknown placement %q", o.Placement)
		}
		if o.Index < 0 {
			return errs.Newf(errs.KindPath, string(o.Kind), "negative child index %d", o.Index).WithPath(o.Path.String())
		}
		if o.Kind == KindClone {
			if o.From.IsRoot() {
				return errs.New(errs.KindPath, string(o.Kind), "cannot clone the root node")
			}
			return nil
		}
		if strings.TrimSpace(o.Text) == "" {
			return errs.New(errs.KindValidation, string(o.Kind), "insert text is empty")
		}
		return nil
	}
	return errs.Newf(errs.KindValidation, "edit", "unknown operation kind %q", o.Kind)
}

func (o Operation) String() string {
	switch o.Kind {
	case KindClone:
		if o.Placement == PlaceLast {
			return fmt.Sprintf("clone %q last into %q", o.From.String(), o.Path.String())
		}
		return fmt.Sprintf("clone %q %s %q child %d", o.From.String(), o.Placement, o.Path.String(), o.Index)
	case KindInsert:
		if o.Placement == PlaceLast {
			return fmt.Sprintf("insert last into %q", o.Path.String())
		}
		return fmt.Sprintf("insert %s %q child %d", o.Placement, o.Path.String(), o.Index)
	default:
		return fmt.Sprintf("%s %q", o.Kind, o.Path.String())
	}
}
