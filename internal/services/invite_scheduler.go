package services

import (
	"context"
	"fmt"
	"sync"
	"yardstick/pkg/logger"

	"github.com/robfig/cron/v3"
)

// InviteExpiryScheduler 定时把过期邀请标记为 Expired
type InviteExpiryScheduler struct {
	invites *InvitationService
	cron    *cron.Cron
	spec    string
	mu      sync.Mutex
	running bool
}

// NewInviteExpiryScheduler 创建邀请过期调度器
func NewInviteExpiryScheduler(invites *InvitationService, spec string) *InviteExpiryScheduler {
	if spec == "" {
		spec = "@every 1h"
	}
	return &InviteExpiryScheduler{
		invites: invites,
		cron:    cron.New(),
		spec:    spec,
	}
}

// Start 启动调度器
func (s *InviteExpiryScheduler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return fmt.Errorf("调度器已经在运行")
	}

	if _, err := s.cron.AddFunc(s.spec, s.sweep); err != nil {
		return fmt.Errorf("无效的清理周期 %q: %v", s.spec, err)
	}

	s.cron.Start()
	s.running = true
	logger.GetLogger().Infof("邀请过期调度器已启动，周期: %s", s.spec)
	return nil
}

// Stop 停止调度器，等待正在执行的任务结束
func (s *InviteExpiryScheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return
	}
	<-s.cron.Stop().Done()
	s.running = false
	logger.GetLogger().Info("邀请过期调度器已停止")
}

func (s *InviteExpiryScheduler) sweep() {
	n, err := s.invites.ExpireStale(context.Background())
	if err != nil {
		logger.GetLogger().Errorf("清理过期邀请失败: %v", err)
		return
	}
	if n > 0 {
		logger.GetLogger().Infof("已标记 %d 个过期邀请", n)
	}
}
