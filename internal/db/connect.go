// Package db opens the journal database.
package db

import (
	"fmt"
	"net"
	"strconv"

	mysqldriver "github.com/go-sql-driver/mysql"
	"github.com/zulandar/frontdesk/internal/config"
	"gorm.io/driver/mysql"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// DSN builds a MySQL DSN for the journal database.
func DSN(host string, port int, user, password, database string) string {
	cfg := mysqldriver.NewConfig()
	cfg.User = user
	cfg.Passwd = password
	cfg.Net = "tcp"
	cfg.Addr = net.JoinHostPort(host, strconv.Itoa(port))
	cfg.DBName = database
	cfg.ParseTime = true
	return cfg.FormatDSN()
}

// Dialector picks the gorm dialector for a journal config. It returns nil
// for the none driver.
func Dialector(jc config.JournalConfig) (gorm.Dialector, error) {
	switch jc.Driver {
	case config.DriverNone, "":
		return nil, nil
	case config.DriverSQLite:
		if jc.Path == "" {
			return nil, fmt.Errorf("db: sqlite path is required")
		}
		return sqlite.Open(jc.Path), nil
	case config.DriverMySQL:
		return mysql.Open(DSN(jc.Host, jc.Port, jc.User, jc.Password, jc.Database)), nil
	default:
		return nil, fmt.Errorf("db: unknown driver %q", jc.Driver)
	}
}

// Connect opens a GORM connection for the journal. It returns nil, nil when
// journaling is disabled.
func Connect(jc config.JournalConfig) (*gorm.DB, error) {
	dialector, err := Dialector(jc)
	if err != nil {
		return nil, err
	}
	if dialector == nil {
		return nil, nil
	}
	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("db: connect %s journal: %w", jc.Driver, err)
	}
	return db, nil
}
