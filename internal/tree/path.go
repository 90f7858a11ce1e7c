package tree

import (
	"strconv"
	"strings"

	"github.com/jward/graft/internal/errs"
)

// Path is the positional address of a Node: one child index per depth, read
// from the root. The zero value is the root path. A Path is an immutable value;
// it holds no reference to any Tree and is resolved afresh on every use.
type Path struct {
	idx []int
}

// Root returns the empty path.
func Root() Path { return Path{} }

// NewPath builds a Path from child indices. Negative indices are invalid and
// cause a panic; use ParsePath for untrusted input.
func NewPath(indices ...int) Path {
	for _, i := range indices {
		if i < 0 {
			panic("tree: negative path index")
		}
	}
	if len(indices) == 0 {
		return Path{}
	}
	cp := make([]int, len(indices))
	copy(cp, indices)
	return Path{idx: cp}
}

// ParsePath parses the dot-separated form produced by String. Surrounding
// whitespace is ignored and the empty string is the root. Empty, non-numeric
// and negative segments fail with a KindPath error whose Segment identifies
// the offending position.
func ParsePath(s string) (Path, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Path{}, nil
	}
	parts := strings.Split(s, ".")
	idx := make([]int, len(parts))
	for i, part := range parts {
		if part == "" {
			e := errs.Newf(errs.KindPath, "parse path", "empty segment %d", i)
			e.Path = s
			e.Segment = i
			return Path{}, e
		}
		n, err := strconv.Atoi(part)
		if err != nil || n < 0 || part[0] == '+' || part[0] == '-' {
			e := errs.Newf(errs.KindPath, "parse path", "segment %d %q is not a non-negative integer", i, part)
			e.Path = s
			e.Segment = i
			return Path{}, e
		}
		idx[i] = n
	}
	return Path{idx: idx}, nil
}

// MustParsePath is ParsePath for literals known to be valid.
func MustParsePath(s string) Path {
	p, err := ParsePath(s)
	if err != nil {
		panic(err)
	}
	return p
}

// String renders the canonical dot-separated form; the root is "".
func (p Path) String() string {
	if len(p.idx) == 0 {
		return ""
	}
	var b strings.Builder
	for i, n := range p.idx {
		if i > 0 {
			b.WriteByte('.')
		}
		b.WriteString(strconv.Itoa(n))
	}
	return b.String()
}

// Len returns the depth of the addressed node (0 for the root).
func (p Path) Len() int { return len(p.idx) }

// IsRoot reports whether p addresses the root.
func (p Path) IsRoot() bool { return len(p.idx) == 0 }

// At returns the child index at depth i.
func (p Path) At(i int) int { return p.idx[i] }

// Last returns the final index. It panics on the root path.
func (p Path) Last() int { return p.idx[len(p.idx)-1] }

// Indices returns a copy of the child indices.
func (p Path) Indices() []int {
	cp := make([]int, len(p.idx))
	copy(cp, p.idx)
	return cp
}

// Parent returns the path one level up. ok is false for the root.
func (p Path) Parent() (parent Path, ok bool) {
	if len(p.idx) == 0 {
		return Path{}, false
	}
	return NewPath(p.idx[:len(p.idx)-1]...), true
}

// Child returns the path of child i below p.
func (p Path) Child(i int) Path {
	idx := make([]int, len(p.idx)+1)
	copy(idx, p.idx)
	idx[len(p.idx)] = i
	return NewPath(idx...)
}

// Append returns p extended by q.
func (p Path) Append(q Path) Path {
	return NewPath(append(p.Indices(), q.idx...)...)
}

// Equal reports whether p and q address the same position.
func (p Path) Equal(q Path) bool {
	if len(p.idx) != len(q.idx) {
		return false
	}
	for i := range p.idx {
		if p.idx[i] != q.idx[i] {
			return false
		}
	}
	return true
}

// HasPrefix reports whether q is p or an ancestor of p.
func (p Path) HasPrefix(q Path) bool {
	if len(q.idx) > len(p.idx) {
		return false
	}
	for i := range q.idx {
		if p.idx[i] != q.idx[i] {
			return false
		}
	}
	return true
}

func (p Path) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

func (p *Path) UnmarshalText(b []byte) error {
	parsed, err := ParsePath(string(b))
	if err != nil {
		return err
	}
	*p = parsed
	return nil
}
