package edit

import (
	"fmt"

	"github.com/jward/graft/internal/errs"
	"github.com/jward/graft/internal/tree"
)

// State is the per-operation lifecycle.
type State int

const (
	Pending State = iota
	Validated
	Committed
	Rejected
)

func (s State) String() string {
	switch s {
	case Pending:
		return "pending"
	case Validated:
		return "validated"
	case Committed:
		return "committed"
	case Rejected:
		return "rejected"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

func (s State) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// Result is the outcome of one operation against one file.
type Result struct {
	State    State     `json:"state"`
	File     string    `json:"file"`
	Language string    `json:"language"`
	Op       Operation `json:"operation"`

	Before []byte `json:"-"`
	After  []byte `json:"-"`

	// Tree is the reparsed post-image; nil unless Validated or Committed.
	Tree *tree.Tree `json:"-"`

	Diff      string      `json:"diff,omitempty"`
	Rejection *errs.Error `json:"-"`
	Warnings  []string    `json:"warnings,omitempty"`

	// RecordID is the transaction log entry written for this attempt.
	RecordID string `json:"record_id,omitempty"`
}

// Reject moves a Pending or Validated result to Rejected.
func (r *Result) Reject(e *errs.Error) {
	if e.File == "" {
		e.File = r.File
	}
	r.State = Rejected
	r.Rejection = e
	r.Tree = nil
	r.After = nil
	r.Diff = ""
}

// MarkCommitted is called once the pre-image record is durable and the file
// has been written.
func (r *Result) MarkCommitted() error {
	if r.State != Validated {
		return fmt.Errorf("edit: commit from state %s", r.State)
	}
	r.State = Committed
	return nil
}

// Err returns the rejection as an error, or nil.
func (r *Result) Err() error {
	if r.Rejection == nil {
		return nil
	}
	return r.Rejection
}
