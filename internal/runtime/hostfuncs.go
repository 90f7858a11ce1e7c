package runtime

import (
	"context"

	"github.com/risor-io/risor/object"
	"go.uber.org/zap"

	"github.com/jward/graft/internal/parser"
	"github.com/jward/graft/internal/tree"
)

// makeRejectFn creates the "reject" host function.
//
// reject(reason) → nil
func makeRejectFn(c *collector) *object.Builtin {
	return object.NewBuiltin("reject", func(ctx context.Context, args ...object.Object) object.Object {
		if len(args) != 1 {
			return object.NewArgsError("reject", 1, len(args))
		}
		reason, err := toString(args[0])
		if err != nil {
			return object.Errorf("reject: %v", err)
		}
		c.reject(reason)
		return object.Nil
	})
}

// makeWarnFn creates the "warn" host function.
//
// warn(msg) → nil
func makeWarnFn(c *collector) *object.Builtin {
	return object.NewBuiltin("warn", func(ctx context.Context, args ...object.Object) object.Object {
		if len(args) != 1 {
			return object.NewArgsError("warn", 1, len(args))
		}
		msg, err := toString(args[0])
		if err != nil {
			return object.Errorf("warn: %v", err)
		}
		c.warn(msg)
		return object.Nil
	})
}

// parseFor parses src with the adapter for file.
func parseFor(ctx context.Context, parsers *parser.Registry, file string, arg object.Object) (*tree.Tree, *object.Error) {
	src, err := toString(arg)
	if err != nil {
		return nil, object.Errorf("%v", err)
	}
	t, err := parsers.ForFile(file).Parse(ctx, []byte(src))
	if t == nil {
		return nil, object.Errorf("parse %s: %v", file, err)
	}
	return t, nil
}

// makeNodeCountFn creates "node_count", bound to the event's file so the
// right grammar is used.
//
// node_count(src) → int
func makeNodeCountFn(parsers *parser.Registry, file string) *object.Builtin {
	return object.NewBuiltin("node_count", func(ctx context.Context, args ...object.Object) object.Object {
		if len(args) != 1 {
			return object.NewArgsError("node_count", 1, len(args))
		}
		t, oerr := parseFor(ctx, parsers, file, args[0])
		if oerr != nil {
			return oerr
		}
		return object.NewInt(int64(tree.Count(t)))
	})
}

// makeKindsFn creates "kinds": the kind of each top-level node.
//
// kinds(src) → []string
func makeKindsFn(parsers *parser.Registry, file string) *object.Builtin {
	return object.NewBuiltin("kinds", func(ctx context.Context, args ...object.Object) object.Object {
		if len(args) != 1 {
			return object.NewArgsError("kinds", 1, len(args))
		}
		t, oerr := parseFor(ctx, parsers, file, args[0])
		if oerr != nil {
			return oerr
		}
		items := make([]object.Object, 0, len(t.Root.Children))
		for _, c := range t.Root.Children {
			items = append(items, object.NewString(c.Kind))
		}
		return object.NewList(items)
	})
}

func toString(obj object.Object) (string, error) {
	s, ok := obj.(*object.String)
	if !ok {
		return "", &typeError{want: "string", got: string(obj.Type())}
	}
	return s.Value(), nil
}

type typeError struct {
	want, got string
}

func (e *typeError) Error() string { return "expected " + e.want + ", got " + e.got }

// logObject provides log.Info/Warn/Error methods for Risor scripts.
type logObject struct {
	logger *zap.Logger
}

func (l *logObject) Info(msg string) {
	l.logger.Info(msg)
}

func (l *logObject) Warn(msg string) {
	l.logger.Warn(msg)
}

func (l *logObject) Error(msg string) {
	l.logger.Error(msg)
}
