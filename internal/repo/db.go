package repo

import (
	"fmt"
	"io"
	stdlog "log"
	"os"
	"time"

	"github.com/richardliu001/gamestore-wallet/internal/config"
	"github.com/richardliu001/gamestore-wallet/internal/model"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// Open connects to the configured database. TranslateError is always on so
// unique violations surface as gorm.ErrDuplicatedKey on every dialect.
func Open(cfg config.DatabaseConfig) (*gorm.DB, error) {
	var dialector gorm.Dialector
	switch cfg.Driver {
	case "", "postgres":
		dialector = postgres.Open(cfg.DSN)
	case "mysql":
		dialector = mysql.Open(cfg.DSN)
	case "sqlite":
		dialector = sqlite.Open(cfg.DSN)
	default:
		return nil, fmt.Errorf("unsupported database driver %q", cfg.Driver)
	}
	return gorm.Open(dialector, &gorm.Config{
		PrepareStmt:    cfg.PrepareStmt,
		TranslateError: true,
		Logger:         newGormLogger(os.Stdout),
	})
}

// newGormLogger reports slow queries and errors. Missing rows are an
// expected outcome (first top-up, unknown request id) and stay quiet.
func newGormLogger(w io.Writer) gormlogger.Interface {
	return gormlogger.New(stdlog.New(w, "\r\n", stdlog.LstdFlags), gormlogger.Config{
		SlowThreshold:             200 * time.Millisecond,
		LogLevel:                  gormlogger.Warn,
		IgnoreRecordNotFoundError: true,
	})
}

// Migrate creates or updates every wallet table.
func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(model.All()...)
}
