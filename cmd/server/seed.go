package main

import (
	"context"
	"errors"
	"fmt"
	"yardstick/internal/models"
	"yardstick/internal/router"
	apperrors "yardstick/pkg/errors"
	"yardstick/pkg/logger"

	"gorm.io/gorm"
)

const seedPassword = "password123"

type seedTenant struct {
	name string
	slug string
	plan string
}

var seedTenants = []seedTenant{
	{name: "Acme", slug: "acme", plan: models.PlanFree},
	{name: "Globex", slug: "globex", plan: models.PlanPro},
}

// seedData 初始化演示租户和用户，重复执行不会产生重复数据
func seedData(ctx context.Context, deps *router.Dependencies) error {
	appLogger := logger.GetLogger()
	appLogger.Info("Starting seed data initialization...")

	db := deps.DB.WithContext(ctx)
	for _, st := range seedTenants {
		tenant, err := ensureTenant(ctx, deps, st)
		if err != nil {
			return fmt.Errorf("创建租户 %s 失败: %v", st.slug, err)
		}

		for _, role := range []string{models.RoleAdmin, models.RoleMember} {
			local := "member"
			if role == models.RoleAdmin {
				local = "admin"
			}
			email := fmt.Sprintf("%s@%s.test", local, st.slug)
			if err := ensureUser(db, tenant, email, role); err != nil {
				return fmt.Errorf("创建用户 %s 失败: %v", email, err)
			}
		}
	}

	appLogger.Info("Seed data initialization completed successfully")
	return nil
}

// ensureTenant 按 slug 查找租户，不存在时创建
func ensureTenant(ctx context.Context, deps *router.Dependencies, st seedTenant) (*models.Tenant, error) {
	tenant, err := deps.Tenants.GetBySlug(ctx, st.slug)
	if err == nil {
		logger.GetLogger().Infof("租户 %s 已存在，跳过创建", st.slug)
		return tenant, nil
	}
	if !errors.Is(err, apperrors.ErrNotFound) {
		return nil, err
	}

	created, err := deps.Tenants.Create(ctx, st.name, st.plan)
	if err != nil {
		return nil, err
	}
	if created.Slug != st.slug {
		return nil, fmt.Errorf("生成的租户标识 %s 与预期 %s 不一致", created.Slug, st.slug)
	}
	return created, nil
}

// ensureUser 创建种子用户
func ensureUser(db *gorm.DB, tenant *models.Tenant, email, role string) error {
	var count int64
	if err := db.Model(&models.User{}).Where("email = ?", email).Count(&count).Error; err != nil {
		return err
	}
	if count > 0 {
		return nil
	}

	user := &models.User{
		Email:    email,
		Role:     role,
		TenantID: tenant.ID,
	}
	if err := user.SetPassword(seedPassword); err != nil {
		return err
	}
	if err := db.Create(user).Error; err != nil {
		return err
	}
	logger.GetLogger().Infof("种子用户 %s 创建成功", email)
	return nil
}
