package main

import (
	"github.com/jward/graft"
	"github.com/jward/graft/internal/tree"
)

// CLIResult is the top-level JSON envelope for every command.
type CLIResult struct {
	Command string `json:"command"`
	Results any    `json:"results"`
	Error   string `json:"error,omitempty"`
}

// CLINode is one node of an analyze listing.
type CLINode struct {
	Path     string `json:"path"`
	Kind     string `json:"kind"`
	Name     string `json:"name,omitempty"`
	Line     int    `json:"line"`
	Column   int    `json:"column"`
	Start    int    `json:"start"`
	End      int    `json:"end"`
	Children int    `json:"children"`
}

// CLITree is the analyze output for one file.
type CLITree struct {
	File     string    `json:"file"`
	Language string    `json:"language"`
	Nodes    []CLINode `json:"nodes"`
}

// CLILocated is the show output.
type CLILocated struct {
	File string  `json:"file"`
	Node CLINode `json:"node"`
	Text string  `json:"text"`
}

// CLIRejection is a structured rejection reason.
type CLIRejection struct {
	Kind    string `json:"kind"`
	Reason  string `json:"reason"`
	Path    string `json:"path,omitempty"`
	Segment int    `json:"segment,omitempty"`
	Line    int    `json:"line,omitempty"`
	Column  int    `json:"column,omitempty"`
}

// CLIEdit is the outcome of one edit operation.
type CLIEdit struct {
	File      string        `json:"file"`
	State     string        `json:"state"`
	Operation string        `json:"operation"`
	Path      string        `json:"path"`
	Diff      string        `json:"diff,omitempty"`
	RecordID  string        `json:"record_id,omitempty"`
	Warnings  []string      `json:"warnings,omitempty"`
	Rejection *CLIRejection `json:"rejection,omitempty"`
}

// CLIBatch is the outcome of a batch.
type CLIBatch struct {
	UnitID     string                `json:"unit_id,omitempty"`
	Committed  bool                  `json:"committed"`
	Files      []graft.BatchFile     `json:"files"`
	Rejections []graft.ItemRejection `json:"rejections,omitempty"`
	Items      []CLIEdit             `json:"items"`
}

func toCLINode(p tree.Path, n *graft.Node) CLINode {
	return CLINode{
		Path:     p.String(),
		Kind:     n.Kind,
		Name:     n.Name,
		Line:     n.Line,
		Column:   n.Column,
		Start:    n.Start,
		End:      n.End,
		Children: len(n.Children),
	}
}

// toCLITree flattens t in pre-order. maxDepth <= 0 lists every node.
func toCLITree(file string, t *graft.Tree, maxDepth int) CLITree {
	out := CLITree{File: file, Language: t.Language, Nodes: []CLINode{}}
	tree.Walk(t, func(p tree.Path, n *tree.Node) bool {
		out.Nodes = append(out.Nodes, toCLINode(p, n))
		return maxDepth <= 0 || p.Len() < maxDepth
	})
	return out
}

func toCLIRejection(e *graft.Error) *CLIRejection {
	if e == nil {
		return nil
	}
	return &CLIRejection{
		Kind:    e.Kind.String(),
		Reason:  e.Error(),
		Path:    e.Path,
		Segment: e.Segment,
		Line:    e.Line,
		Column:  e.Column,
	}
}

func toCLIEdit(r *graft.Result) CLIEdit {
	return CLIEdit{
		File:      r.File,
		State:     r.State.String(),
		Operation: string(r.Op.Kind),
		Path:      r.Op.Path.String(),
		Diff:      r.Diff,
		RecordID:  r.RecordID,
		Warnings:  r.Warnings,
		Rejection: toCLIRejection(r.Rejection),
	}
}

func toCLIBatch(b *graft.BatchResult) CLIBatch {
	out := CLIBatch{
		UnitID:     b.UnitID,
		Committed:  b.Committed,
		Files:      b.Files,
		Rejections: b.Rejections,
		Items:      make([]CLIEdit, 0, len(b.Items)),
	}
	if out.Files == nil {
		out.Files = []graft.BatchFile{}
	}
	for _, it := range b.Items {
		out.Items = append(out.Items, toCLIEdit(it))
	}
	return out
}
