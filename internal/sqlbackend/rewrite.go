package sqlbackend

import "strings"

// rewriteTableName maps a logical table name to its physical storage
// name. Tables whose logical name begins with "sqlite_" would collide
// with the engine's own reserved catalog prefix, so they are stored
// under "sqlite#" instead.
func rewriteTableName(name string) string {
	if strings.HasPrefix(name, "sqlite_") {
		return "sqlite#" + name[len("sqlite_"):]
	}
	return name
}

// unrewriteTableName is the inverse of rewriteTableName, used when
// presenting physical table names back to a caller (SHOW TABLES).
func unrewriteTableName(name string) string {
	if strings.HasPrefix(name, "sqlite#") {
		return "sqlite_" + name[len("sqlite#"):]
	}
	return name
}

// rewriteColumnName maps a logical column name to its physical storage
// name. "rowid" and "oid" are SQLite's implicit row-id aliases; a user
// schema that defines a column with either name is stored under a
// dollar-prefixed alias so it never aliases the engine's builtin.
func rewriteColumnName(name string) string {
	switch name {
	case "rowid", "oid":
		return "$" + name
	default:
		return name
	}
}
