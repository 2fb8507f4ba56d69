package database

import (
	"fmt"
	"yardstick/internal/models"
	"yardstick/pkg/logger"

	"gorm.io/gorm"
)

// 部分唯一索引：同一 (email, tenant) 只能有一个待接受邀请；同一用户只能有一个待审批升级申请
var partialIndexes = []string{
	`CREATE UNIQUE INDEX IF NOT EXISTS uniq_invites_pending_email_tenant ON invites (email, tenant_id) WHERE status = 'Pending'`,
	`CREATE UNIQUE INDEX IF NOT EXISTS uniq_upgrade_requests_pending_user ON upgrade_requests (user_id) WHERE status = 'pending'`,
}

// Migrate 执行数据库迁移
func Migrate(db *gorm.DB) error {
	appLogger := logger.GetLogger()
	appLogger.Info("Starting database migration...")

	err := db.AutoMigrate(
		&models.Tenant{},
		&models.User{},
		&models.Note{},
		&models.Invite{},
		&models.UpgradeRequest{},
	)
	if err != nil {
		appLogger.Errorf("Database migration failed: %v", err)
		return err
	}

	for _, stmt := range partialIndexes {
		if err := db.Exec(stmt).Error; err != nil {
			appLogger.Errorf("Create partial index failed: %v", err)
			return fmt.Errorf("创建唯一索引失败: %v", err)
		}
	}

	appLogger.Info("Database migration completed successfully")
	return nil
}
