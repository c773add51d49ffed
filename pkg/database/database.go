// Package database 负责关系库与 Redis 的连接初始化。
package database

import (
	"fmt"
	"time"

	"synapse-go/internal/config"
	"synapse-go/internal/model"
	"synapse-go/pkg/log"

	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var DB *gorm.DB

// Dialector 根据驱动名选择 GORM 方言。
func Dialector(driver, dsn string) (gorm.Dialector, error) {
	switch driver {
	case "mysql":
		return mysql.Open(dsn), nil
	case "postgres", "postgresql":
		return postgres.Open(dsn), nil
	default:
		return nil, fmt.Errorf("不支持的数据库驱动: %q", driver)
	}
}

// Open 打开数据库连接并配置连接池。
func Open(cfg config.DatabaseConfig) (*gorm.DB, error) {
	dialector, err := Dialector(cfg.Driver, cfg.DSN)
	if err != nil {
		return nil, err
	}
	db, err := gorm.Open(dialector, &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Warn),
		TranslateError: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get sql.DB: %w", err)
	}
	sqlDB.SetMaxIdleConns(10)
	sqlDB.SetMaxOpenConns(100)
	sqlDB.SetConnMaxLifetime(time.Hour)

	log.Infof("%s database connected successfully", cfg.Driver)
	return db, nil
}

// InitDB 初始化全局 DB，失败时直接退出。
func InitDB(cfg config.DatabaseConfig) {
	db, err := Open(cfg)
	if err != nil {
		log.Fatal("failed to connect database", err)
	}
	DB = db
}

// Migrate 按模型定义建表或补齐字段。
func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&model.User{},
		&model.Notebook{},
		&model.Source{},
		&model.ChatMessage{},
	)
}
