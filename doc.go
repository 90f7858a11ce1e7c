// Package graft is a structural code editor: it addresses nodes of a parsed
// source file by position (or by a persisted tag name) and replaces, inserts
// or deletes them, with every change validated against the file's grammar
// before anything touches disk.
//
// # Pipeline
//
// Every mutation goes through the same steps:
//
//  1. Parse: the file is parsed with the adapter for its extension
//     (tree-sitter grammars, a JSON adapter, or a plain-text fallback) into
//     a uniform tree of kinds, byte spans and ordered children.
//
//  2. Splice and validate: the edit is applied to the source text and the
//     whole file is reparsed. Content that no longer parses is rejected
//     with the grammar error's line and column. Hook scripts under
//     .graft/hooks may veto a grammatically valid edit.
//
//  3. Record, then write: the pre- and post-images are appended to the
//     SQLite transaction log in .graft/history.db, and only then is the file
//     replaced.
//
// # Usage
//
//	e, err := graft.New("path/to/project")
//	if err != nil { ... }
//	defer e.Close()
//
//	ctx := context.Background()
//	res, err := e.Apply(ctx, "app.py", graft.Replace(graft.MustParsePath("0.2.0"), "return 1"), false)
//	if err != nil { ... }            // the attempt failed
//	if res.State == graft.Rejected { // the edit was refused; the file is untouched
//		fmt.Println(res.Rejection)
//	}
//
// # History
//
// The log is append-only. [Engine.Undo] and [Engine.Redo] reverse records
// by appending new ones; [Engine.RestoreProject] returns every file to its
// state at an instant and [Engine.RestoreSession] undoes one session.
// [Engine.Recover] completes writes interrupted by a crash. [Engine.Query]
// exposes read-only history queries.
//
// # Batches
//
// [Engine.Batch] validates operations across many files in parallel and
// commits them as one unit: with Atomic set, one rejection means no file is
// written.
//
// # Tags
//
// Tags are names bound to node paths in .graft/tags.toml. A tag remembers
// the kind and name of the node it was bound to; resolving a tag whose node
// has moved fails as stale rather than silently pointing elsewhere, and
// [Engine.TagRelocate] rebinds it on request.
package graft
