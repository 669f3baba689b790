package sqlite

import (
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

// Dialector returns the SQLite dialector for path. The caller pins the pool
// to one connection: SQLite allows a single writer, and a shared in-memory
// database lives only as long as its last connection.
func Dialector(path string) gorm.Dialector {
	return sqlite.Open(path)
}
