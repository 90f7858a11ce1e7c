package store

import "time"

// Op is the kind of mutation a record captures.
type Op string

const (
	OpReplace Op = "replace"
	OpInsert  Op = "insert"
	OpDelete  Op = "delete"
	OpClone   Op = "clone"
	OpBatch   Op = "batch"
	OpUndo    Op = "undo"
	OpRedo    Op = "redo"
	OpRestore Op = "restore"
)

// Status is the outcome of the attempt a record captures.
type Status string

const (
	StatusCommitted Status = "committed"
	StatusRejected  Status = "rejected"
)

// Record is one transaction log entry. Pre and Post carry the images to be
// stored on append; records read back only carry the hashes.
type Record struct {
	Seq         int64     `json:"seq"`
	ID          string    `json:"id"`
	Time        time.Time `json:"time"`
	File        string    `json:"file"`
	Op          Op        `json:"op"`
	NodePath    string    `json:"node_path,omitempty"`
	Status      Status    `json:"status"`
	Language    string    `json:"language,omitempty"`
	PreHash     string    `json:"pre_hash,omitempty"`
	PostHash    string    `json:"post_hash,omitempty"`
	SessionID   string    `json:"session_id,omitempty"`
	UnitID      string    `json:"unit_id,omitempty"`
	Reverts     string    `json:"reverts,omitempty"`
	Description string    `json:"description,omitempty"`
	Reason      string    `json:"reason,omitempty"`

	Pre  *Snapshot `json:"-"`
	Post *Snapshot `json:"-"`
}

// Committed reports whether the record captured an applied mutation.
func (r *Record) Committed() bool { return r.Status == StatusCommitted }

// Snapshot is a content-addressed image of one file: its source and the
// JSON encoding of its parsed tree. The same bytes parsed as two languages
// are two snapshots.
type Snapshot struct {
	Hash     string
	Language string
	Source   []byte
	Tree     []byte
}

type Session struct {
	ID          string    `json:"id"`
	StartedAt   time.Time `json:"started_at"`
	Description string    `json:"description,omitempty"`
}

// Query filters Records. Zero fields do not filter.
type Query struct {
	File      string
	SessionID string
	UnitID    string
	Status    Status
	Ops       []Op

	// Since is exclusive and Until inclusive.
	Since time.Time
	Until time.Time

	// IncludeAborted returns records of aborted units too.
	IncludeAborted bool

	Desc  bool
	Limit int
}
