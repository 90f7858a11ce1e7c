package graft

import (
	"github.com/jward/graft/internal/config"
	"github.com/jward/graft/internal/edit"
	"github.com/jward/graft/internal/store"
	"github.com/jward/graft/internal/tags"
	"github.com/jward/graft/internal/tree"
)

// Public type aliases for internal types used in the Engine API.
// These are Go type aliases (=), identical to the internal types at compile
// time. External consumers use these names; no conversion is needed.

type Store = store.Store
type Record = store.Record
type Session = store.Session
type Op = store.Op

type Tree = tree.Tree
type Node = tree.Node
type Path = tree.Path

type Operation = edit.Operation
type Result = edit.Result
type State = edit.State
type Placement = edit.Placement

type Tag = tags.Tag
type Config = config.Config

const (
	Pending   = edit.Pending
	Validated = edit.Validated
	Committed = edit.Committed
	Rejected  = edit.Rejected

	PlaceBefore = edit.PlaceBefore
	PlaceAfter  = edit.PlaceAfter
	PlaceLast   = edit.PlaceLast
)

// Operation constructors and path helpers.
var (
	Replace        = edit.Replace
	InsertChild    = edit.InsertChild
	Delete         = edit.Delete
	Clone          = edit.Clone
	ParsePlacement = edit.ParsePlacement
	ParsePath      = tree.ParsePath
	MustParsePath  = tree.MustParsePath
	NewPath        = tree.NewPath
	RootPath       = tree.Root
	Resolve        = tree.Resolve
	DefaultConfig  = config.DefaultConfig
	LoadConfig     = config.Load
)
