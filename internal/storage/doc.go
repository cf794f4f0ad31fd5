// Package storage is the sqlite-backed persistence layer.
//
// One writer, WAL journal, schema applied at open. Engines depend on narrow
// interfaces they declare themselves; *Store satisfies all of them.
package storage
