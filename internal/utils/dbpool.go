package utils

import (
	"time"

	"gorm.io/gorm"
)

// OptimizeDBPool 调整数据库连接池参数。
// 扫描任务持续时间长（反编译可达数分钟），连接长时间空闲，
// 上限取 worker 并发加 API 查询的余量而非默认的无限制
func OptimizeDBPool(db *gorm.DB) error {
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}

	sqlDB.SetMaxIdleConns(10)
	sqlDB.SetMaxOpenConns(50)

	// MySQL 侧 wait_timeout 之前主动回收，避免拿到已被服务端关闭的连接
	sqlDB.SetConnMaxLifetime(time.Hour)
	sqlDB.SetConnMaxIdleTime(10 * time.Minute)

	return nil
}
