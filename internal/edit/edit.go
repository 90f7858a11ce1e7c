package edit

import (
	"context"
	"errors"

	"github.com/jward/graft/internal/errs"
	"github.com/jward/graft/internal/parser"
	"github.com/jward/graft/internal/tree"
)

// splice is a byte-range substitution: src[Start:End] becomes Text.
type splice struct {
	Start int
	End   int
	Text  string
}

func (s splice) apply(src []byte) []byte {
	out := make([]byte, 0, len(src)-(s.End-s.Start)+len(s.Text))
	out = append(out, src[:s.Start]...)
	out = append(out, s.Text...)
	out = append(out, src[s.End:]...)
	return out
}

// Apply runs op against t and validates the outcome with a. The returned
// Result is Validated or Rejected; a non-nil error means the attempt could
// not be evaluated at all (for example a cancelled context).
//
// The whole file is validated, then reparsed, after every splice.
func Apply(ctx context.Context, a parser.Adapter, file string, t *tree.Tree, op Operation) (*Result, error) {
	res := &Result{
		State:    Pending,
		File:     file,
		Language: a.Language(),
		Op:       op,
		Before:   t.Source,
	}
	if err := op.Check(); err != nil {
		e, _ := errs.As(err)
		res.Reject(e.WithPath(op.Path.String()))
		return res, nil
	}

	sp, rej := plan(t, op)
	if rej != nil {
		res.Reject(rej)
		return res, nil
	}

	after := sp.apply(t.Source)
	if err := a.Validate(ctx, after); err != nil {
		var se *parser.SyntaxError
		if !errors.As(err, &se) {
			return nil, err
		}
		e := errs.New(errs.KindValidation, string(op.Kind), se.Message).WithPath(op.Path.String())
		e.Line, e.Column = se.Line, se.Column
		res.Reject(e)
		return res, nil
	}
	nt, err := a.Parse(ctx, after)
	if err != nil {
		return nil, err
	}

	res.State = Validated
	res.After = after
	res.Tree = nt
	res.Diff = UnifiedDiff(file, t.Source, after)
	return res, nil
}

// plan resolves op against t and computes its splice.
func plan(t *tree.Tree, op Operation) (splice, *errs.Error) {
	switch op.Kind {
	case KindReplace:
		if op.Path.IsRoot() {
			return splice{Start: 0, End: len(t.Source), Text: op.Text}, nil
		}
		n, err := tree.Resolve(t, op.Path)
		if err != nil {
			return splice{}, pathErr(op, err)
		}
		return splice{Start: n.Start, End: n.End, Text: op.Text}, nil

	case KindDelete:
		parentPath, _ := op.Path.Parent()
		parent, err := tree.Resolve(t, parentPath)
		if err != nil {
			return splice{}, pathErr(op, err)
		}
		if _, err := tree.Resolve(t, op.Path); err != nil {
			return splice{}, pathErr(op, err)
		}
		start, end := deleteSpan(t.Source, parent, op.Path.Last())
		return splice{Start: start, End: end}, nil

	case KindInsert:
		return planInsert(t, op)

	case KindClone:
		n, err := tree.Resolve(t, op.From)
		if err != nil {
			e := pathErr(op, err)
			e.Path = op.From.String()
			return splice{}, e
		}
		op.Text = n.Text(t.Source)
		return planInsert(t, op)
	}
	return splice{}, errs.Newf(errs.KindValidation, "edit", "unknown operation kind %q", op.Kind)
}

func planInsert(t *tree.Tree, op Operation) (splice, *errs.Error) {
	parent, err := tree.Resolve(t, op.Path)
	if err != nil {
		return splice{}, pathErr(op, err)
	}
	if parent.Leaf {
		return splice{}, errs.Newf(errs.KindValidation, string(op.Kind),
			"%s is a leaf token and cannot contain children", parent.Kind).WithPath(op.Path.String())
	}
	if op.Placement != PlaceLast && op.Index >= len(parent.Children) {
		e := errs.Newf(errs.KindPath, string(op.Kind),
			"anchor index %d out of range (%s has %d children)", op.Index, parent.Kind, len(parent.Children))
		e.Path = op.Path.String()
		e.Segment = op.Path.Len()
		return splice{}, e
	}
	at, text := insertSplice(t, parent, op)
	return splice{Start: at, End: at, Text: text}, nil
}

func pathErr(op Operation, err error) *errs.Error {
	e, ok := errs.As(err)
	if !ok {
		e = errs.Wrap(errs.KindPath, string(op.Kind), err)
	}
	e.Op = string(op.Kind)
	if e.Path == "" {
		e.Path = op.Path.String()
	}
	return e
}
