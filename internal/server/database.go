package server

import (
	"fmt"

	"autoflow/internal/config"
	"autoflow/internal/models"

	"github.com/sirupsen/logrus"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
	gormtracing "gorm.io/plugin/opentelemetry/tracing"
)

// BuildDSN 组装 Postgres DSN；设置了 DSN 字段时直接使用
func BuildDSN(db config.DatabaseConfig) string {
	if db.DSN != "" {
		return db.DSN
	}
	sslmode := firstNonEmpty(db.SSLMode, "disable")
	tz := firstNonEmpty(db.TimeZone, "UTC")
	return fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=%d sslmode=%s TimeZone=%s",
		db.Host, db.User, db.Password, db.Name, db.Port, sslmode, tz)
}

// OpenDatabase connects to Postgres, applies pool settings, attaches the
// tracing plugin when tracing is on, and migrates when AutoMigrate is set.
func OpenDatabase(cfg *config.Config, log *logrus.Logger) (*gorm.DB, error) {
	db, err := gorm.Open(postgres.Open(BuildDSN(cfg.Database)), &gorm.Config{
		Logger: logger.Default.LogMode(gormLogLevel(cfg.Log.Level)),
	})
	if err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}
	if err := Prepare(db, cfg, log); err != nil {
		return nil, err
	}
	return db, nil
}

// Prepare 应用连接池、追踪插件与迁移；与驱动无关
func Prepare(db *gorm.DB, cfg *config.Config, log *logrus.Logger) error {
	if log == nil {
		log = logrus.StandardLogger()
	}
	if sqlDB, err := db.DB(); err == nil {
		if cfg.Database.MaxOpenConns > 0 {
			sqlDB.SetMaxOpenConns(cfg.Database.MaxOpenConns)
		}
		if cfg.Database.MaxIdleConns > 0 {
			sqlDB.SetMaxIdleConns(cfg.Database.MaxIdleConns)
		}
		if cfg.Database.ConnMaxLifetime > 0 {
			sqlDB.SetConnMaxLifetime(cfg.Database.ConnMaxLifetime)
		}
	}
	if cfg.Monitoring.Tracing.Enabled {
		if err := db.Use(gormtracing.NewPlugin()); err != nil {
			log.Warnf("gorm tracing plugin: %v", err)
		}
	}
	if cfg.Database.AutoMigrate {
		return Migrate(db, log)
	}
	return nil
}

// Migrate 迁移所有自动化表
func Migrate(db *gorm.DB, log *logrus.Logger) error {
	if log == nil {
		log = logrus.StandardLogger()
	}
	log.Info("Starting database migration...")
	if err := db.AutoMigrate(models.AllModels()...); err != nil {
		return fmt.Errorf("migrate database: %w", err)
	}
	// 到期扫描按 (enabled, next_run_at) 过滤
	if err := db.Exec("CREATE INDEX IF NOT EXISTS idx_schedules_due ON automation_schedules(enabled, next_run_at)").Error; err != nil {
		log.Warnf("create idx_schedules_due: %v", err)
	}
	log.Info("Database migration completed")
	return nil
}

func gormLogLevel(level string) logger.LogLevel {
	switch level {
	case "debug":
		return logger.Info
	case "info", "warn", "warning":
		return logger.Warn
	default:
		return logger.Error
	}
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
