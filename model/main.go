package model

import (
	"strings"
	"time"

	"github.com/Laisky/errors/v2"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/gatewayz/gatewayz/common/config"
)

// DB is the process-wide gorm handle, set by InitDB.
var DB *gorm.DB

var (
	UsingSQLite     bool
	UsingPostgreSQL bool
	UsingMySQL      bool
)

// chooseDialector picks the driver from the DSN shape: postgres URLs,
// mysql user:pass@tcp(...) DSNs, anything else is a sqlite path. An empty
// DSN falls back to a local sqlite file.
func chooseDialector(dsn string) gorm.Dialector {
	switch {
	case strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://"):
		UsingPostgreSQL = true
		return postgres.New(postgres.Config{DSN: dsn, PreferSimpleProtocol: true})
	case strings.Contains(dsn, "@tcp(") || strings.Contains(dsn, "@unix("):
		UsingMySQL = true
		return mysql.Open(dsn)
	case dsn == "":
		UsingSQLite = true
		return sqlite.Open("gatewayz.db?_busy_timeout=5000")
	default:
		UsingSQLite = true
		return sqlite.Open(dsn)
	}
}

// InitDB opens the database from SQL_DSN and runs migrations.
func InitDB() error {
	logLevel := gormlogger.Silent
	if config.DebugEnabled {
		logLevel = gormlogger.Warn
	}

	db, err := gorm.Open(chooseDialector(config.SQLDSN), &gorm.Config{
		PrepareStmt: true,
		Logger:      gormlogger.Default.LogMode(logLevel),
	})
	if err != nil {
		return errors.Wrap(err, "open database")
	}

	sqlDB, err := db.DB()
	if err != nil {
		return errors.Wrap(err, "get underlying sql.DB")
	}
	sqlDB.SetMaxIdleConns(config.GetEnvInt("SQL_MAX_IDLE_CONNS", 100))
	sqlDB.SetMaxOpenConns(config.GetEnvInt("SQL_MAX_OPEN_CONNS", 1000))
	sqlDB.SetConnMaxLifetime(time.Second * time.Duration(config.GetEnvInt("SQL_MAX_LIFETIME", 60)))

	DB = db
	return migrateDB()
}

func migrateDB() error {
	err := DB.AutoMigrate(
		&User{},
		&APIKey{},
		&Plan{},
		&UserPlan{},
		&Trial{},
		&UsageRecord{},
		&ChatCompletionRequest{},
		&CatalogSnapshot{},
		&PricingSyncLog{},
		&ModelPricing{},
	)
	return errors.Wrap(err, "auto migrate")
}

// CloseDB closes the underlying connection pool.
func CloseDB() error {
	if DB == nil {
		return nil
	}
	sqlDB, err := DB.DB()
	if err != nil {
		return errors.Wrap(err, "get underlying sql.DB")
	}
	return errors.Wrap(sqlDB.Close(), "close database")
}
