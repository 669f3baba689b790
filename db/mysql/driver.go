package mysql

import (
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
)

// Dialector returns the MySQL dialector. The DSN must carry parseTime=true
// so timestamps scan into time.Time.
func Dialector(dsn string) gorm.Dialector {
	return mysql.New(mysql.Config{
		DSN: dsn,
		// Quest ids are uuid strings; keep their column width stable.
		DefaultStringSize: 191,
	})
}
