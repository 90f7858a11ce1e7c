package runtime

import (
	"context"
	"fmt"
	"sync"
)

// Event describes one validated edit awaiting commit.
type Event struct {
	File      string
	Language  string
	Operation string
	NodePath  string
	Before    []byte
	After     []byte
}

// Verdict aggregates what every hook said about an Event.
type Verdict struct {
	Rejections []string
	Warnings   []string
}

// Rejected reports whether any hook rejected the edit.
func (v *Verdict) Rejected() bool { return len(v.Rejections) > 0 }

// collector receives reject and warn calls from one script run.
type collector struct {
	mu         sync.Mutex
	rejections []string
	warnings   []string
}

func (c *collector) reject(reason string) {
	c.mu.Lock()
	c.rejections = append(c.rejections, reason)
	c.mu.Unlock()
}

func (c *collector) warn(msg string) {
	c.mu.Lock()
	c.warnings = append(c.warnings, msg)
	c.mu.Unlock()
}

// Check runs every hook script against ev. A script that fails to compile
// or raises an error rejects the edit; a cancelled context is returned as
// an error instead.
func (r *Runtime) Check(ctx context.Context, ev Event) (*Verdict, error) {
	scripts, err := r.Scripts()
	if err != nil {
		return nil, err
	}
	v := &Verdict{}
	for _, name := range scripts {
		src, err := r.ReadHook(name)
		if err != nil {
			return nil, err
		}
		c := &collector{}
		extra := map[string]any{
			"file":       ev.File,
			"language":   ev.Language,
			"operation":  ev.Operation,
			"node_path":  ev.NodePath,
			"before":     string(ev.Before),
			"after":      string(ev.After),
			"reject":     makeRejectFn(c),
			"warn":       makeWarnFn(c),
			"node_count": makeNodeCountFn(r.parsers, ev.File),
			"kinds":      makeKindsFn(r.parsers, ev.File),
		}
		if err := r.run(ctx, name, src, extra); err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			v.Rejections = append(v.Rejections, fmt.Sprintf("%s: %v", name, err))
			continue
		}
		for _, reason := range c.rejections {
			v.Rejections = append(v.Rejections, name+": "+reason)
		}
		for _, w := range c.warnings {
			v.Warnings = append(v.Warnings, name+": "+w)
		}
	}
	return v, nil
}
