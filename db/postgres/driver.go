package postgres

import (
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

// Dialector returns the PostgreSQL dialector using the extended protocol
// with prepared statement caching.
func Dialector(dsn string) gorm.Dialector {
	return postgres.New(postgres.Config{DSN: dsn})
}
