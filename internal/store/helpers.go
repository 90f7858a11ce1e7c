package store

import (
	"database/sql"
	"strings"
)

// placeholderList returns "?,?,?" for n placeholders.
func placeholderList(n int) string {
	if n <= 0 {
		return ""
	}
	return strings.Repeat("?,", n-1) + "?"
}

// opsToArgs converts []Op to []any for use with database/sql.
func opsToArgs(ops []Op) []any {
	args := make([]any, len(ops))
	for i, op := range ops {
		args[i] = string(op)
	}
	return args
}

// nullString stores "" as NULL.
func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
