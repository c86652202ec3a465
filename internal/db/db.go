package db

import (
	"errors"
	"time"

	"chatrelay/internal/auth"
	"chatrelay/internal/models"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Connect 负责建立到 Postgres 的连接，并带有简单的重试来等待容器就绪。
func Connect(dsn string) (*gorm.DB, error) {
	var gdb *gorm.DB
	var err error
	for i := 0; i < 10; i++ {
		gdb, err = gorm.Open(postgres.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
		if err == nil {
			sqlDB, err2 := gdb.DB()
			if err2 == nil {
				sqlDB.SetMaxIdleConns(2)
				sqlDB.SetMaxOpenConns(5)
				sqlDB.SetConnMaxLifetime(time.Hour)
				return gdb, nil
			}
			err = err2
		}
		time.Sleep(time.Duration(500+i*200) * time.Millisecond)
	}
	return nil, err
}

// Migrate 只迁移管理员凭据表，房间数据不落库。
func Migrate(gdb *gorm.DB) error {
	return gdb.AutoMigrate(&models.Admin{})
}

// SeedAdmin 在管理员不存在时写入一条初始凭据，已存在时不覆盖。
func SeedAdmin(gdb *gorm.DB, username, password, hash string) error {
	var existing models.Admin
	err := gdb.Where("username = ?", username).First(&existing).Error
	if err == nil {
		return nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return err
	}
	if hash == "" {
		if hash, err = auth.HashPassword(password); err != nil {
			return err
		}
	}
	return gdb.Create(&models.Admin{Username: username, PasswordHash: hash}).Error
}
