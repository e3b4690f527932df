package repo

import (
	"net/url"
	"strings"

	"github.com/richardliu001/wallet-ledger/internal/config"
	"github.com/richardliu001/wallet-ledger/internal/model"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// OpenPostgres opens the pool described by cfg. The application name is
// attached to the DSN so sessions are identifiable in pg_stat_activity.
func OpenPostgres(cfg config.PostgresConfig) (*gorm.DB, error) {
	gdb, err := gorm.Open(postgres.Open(withApplicationName(cfg.DSN, cfg.ApplicationName)), &gorm.Config{
		PrepareStmt: true,
		Logger:      logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, err
	}
	sqlDB, err := gdb.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	sqlDB.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	sqlDB.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)
	return gdb, nil
}

// Migrate creates or updates the ledger tables.
func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(&model.Wallet{}, &model.Transaction{}, &model.OutboxEvent{})
}

func withApplicationName(dsn, name string) string {
	if name == "" || strings.Contains(dsn, "application_name") {
		return dsn
	}
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") {
		u, err := url.Parse(dsn)
		if err != nil {
			return dsn
		}
		q := u.Query()
		q.Set("application_name", name)
		u.RawQuery = q.Encode()
		return u.String()
	}
	return strings.TrimSpace(dsn) + " application_name=" + name
}
