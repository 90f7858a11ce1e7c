package runtime

import (
	"context"
	"time"

	"github.com/risor-io/risor/object"

	"github.com/jward/graft/internal/store"
)

// HistoryReader is the read-only slice of the transaction log that hooks
// may consult. *store.Store satisfies it.
type HistoryReader interface {
	Records(q store.Query) ([]*store.Record, error)
}

var _ HistoryReader = (*store.Store)(nil)

// makeRecentRecordsFn creates the "recent_records" host function. Scripts
// cannot write to the log.
//
// recent_records(file, limit) → []map{op, status, node_path, time}
func makeRecentRecordsFn(h HistoryReader) *object.Builtin {
	return object.NewBuiltin("recent_records", func(ctx context.Context, args ...object.Object) object.Object {
		if len(args) != 2 {
			return object.NewArgsError("recent_records", 2, len(args))
		}
		file, err := toString(args[0])
		if err != nil {
			return object.Errorf("recent_records: %v", err)
		}
		limit, ok := args[1].(*object.Int)
		if !ok {
			return object.Errorf("recent_records: limit must be an int, got %s", args[1].Type())
		}

		recs, err := h.Records(store.Query{File: file, Desc: true, Limit: int(limit.Value())})
		if err != nil {
			return object.Errorf("recent_records: %v", err)
		}
		items := make([]object.Object, 0, len(recs))
		for _, r := range recs {
			items = append(items, object.NewMap(map[string]object.Object{
				"op":        object.NewString(string(r.Op)),
				"status":    object.NewString(string(r.Status)),
				"node_path": object.NewString(r.NodePath),
				"time":      object.NewString(r.Time.Format(time.RFC3339Nano)),
			}))
		}
		return object.NewList(items)
	})
}
