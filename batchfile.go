package graft

import (
	"fmt"
	"os"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/jward/graft/internal/edit"
	"github.com/jward/graft/internal/errs"
	"github.com/jward/graft/internal/tree"
)

// LoadBatchFile reads a batch description:
//
//	{
//	  "description": "rename handler",
//	  "atomic": true,
//	  "operations": [
//	    {"type": "replace", "file": "app.py", "path": "0.1", "content": "..."},
//	    {"type": "insert", "file": "app.py", "parent_path": "0", "index": 1, "placement": "after", "content": "..."},
//	    {"type": "delete", "file": "lib.py", "path": "@old_fn"},
//	    {"type": "clone", "file": "app.py", "source_path": "0.2", "parent_path": "0", "placement": "last"}
//	  ]
//	}
//
// "edit" is accepted as a synonym of "replace". A path or parent_path of the
// form "@name" addresses a tag; source_path is always a dotted path. atomic
// defaults to true.
func LoadBatchFile(path string) (BatchRequest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return BatchRequest{}, errs.Wrap(errs.KindIO, "load batch", err).WithFile(path)
	}
	req, err := ParseBatch(data)
	if err != nil {
		if e, ok := errs.As(err); ok && e.File == "" {
			e.File = path
		}
		return BatchRequest{}, err
	}
	return req, nil
}

// ParseBatch decodes the batch format documented on LoadBatchFile.
func ParseBatch(data []byte) (BatchRequest, error) {
	if !gjson.ValidBytes(data) {
		return BatchRequest{}, errs.New(errs.KindValidation, "parse batch", "not valid JSON")
	}
	doc := gjson.ParseBytes(data)
	if !doc.IsObject() {
		return BatchRequest{}, errs.New(errs.KindValidation, "parse batch", "batch must be a JSON object")
	}

	req := BatchRequest{
		Description: doc.Get("description").String(),
		Atomic:      true,
	}
	if a := doc.Get("atomic"); a.Exists() {
		req.Atomic = a.Bool()
	}
	ops := doc.Get("operations")
	if !ops.IsArray() {
		return BatchRequest{}, errs.New(errs.KindValidation, "parse batch", `"operations" must be an array`)
	}

	var perr error
	ops.ForEach(func(key, op gjson.Result) bool {
		item, err := parseBatchItem(int(key.Int()), op)
		if err != nil {
			perr = err
			return false
		}
		req.Items = append(req.Items, item)
		return true
	})
	if perr != nil {
		return BatchRequest{}, perr
	}
	return req, nil
}

func parseBatchItem(i int, op gjson.Result) (BatchItem, error) {
	bad := func(format string, args ...any) error {
		return errs.Newf(errs.KindValidation, "parse batch", "operation %d: %s", i, fmt.Sprintf(format, args...))
	}
	if !op.IsObject() {
		return BatchItem{}, bad("must be an object")
	}
	file := op.Get("file").String()
	if file == "" {
		return BatchItem{}, bad(`missing "file"`)
	}
	content := op.Get("content")

	var item BatchItem
	item.File = file
	var ref string
	switch kind := strings.ToLower(op.Get("type").String()); kind {
	case "replace", "edit":
		if !content.Exists() {
			return BatchItem{}, bad(`missing "content"`)
		}
		ref = op.Get("path").String()
		item.Op = edit.Operation{Kind: edit.KindReplace, Text: content.String()}
	case "delete":
		ref = op.Get("path").String()
		if strings.TrimSpace(ref) == "" {
			return BatchItem{}, bad("delete needs a non-root path")
		}
		item.Op = edit.Operation{Kind: edit.KindDelete}
	case "insert":
		if !content.Exists() {
			return BatchItem{}, bad(`missing "content"`)
		}
		placement, err := edit.ParsePlacement(op.Get("placement").String())
		if err != nil {
			return BatchItem{}, bad("%v", err)
		}
		ref = op.Get("parent_path").String()
		item.Op = edit.Operation{
			Kind:      edit.KindInsert,
			Index:     int(op.Get("index").Int()),
			Placement: placement,
			Text:      content.String(),
		}
	case "clone":
		placement, err := edit.ParsePlacement(op.Get("placement").String())
		if err != nil {
			return BatchItem{}, bad("%v", err)
		}
		from, err := tree.ParsePath(op.Get("source_path").String())
		if err != nil {
			return BatchItem{}, bad("source_path: %v", err)
		}
		ref = op.Get("parent_path").String()
		item.Op = edit.Clone(from, tree.Root(), int(op.Get("index").Int()), placement)
	default:
		return BatchItem{}, bad("unknown type %q", kind)
	}

	if strings.HasPrefix(strings.TrimSpace(ref), "@") {
		item.Ref = ref
		return item, nil
	}
	p, err := tree.ParsePath(ref)
	if err != nil {
		return BatchItem{}, bad("%v", err)
	}
	item.Op.Path = p
	return item, nil
}
