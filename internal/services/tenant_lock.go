package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
)

// TenantLocker 按租户串行化笔记创建
type TenantLocker interface {
	// Lock 获取租户锁，返回释放函数
	Lock(ctx context.Context, tenantID uint) (func(), error)
}

// ========== 进程内实现 ==========

// tenantMutex 容量为1的信号量，持锁即占用槽位
type tenantMutex struct {
	sem  chan struct{}
	refs int
}

// LocalTenantLocker 进程内按租户加锁，空闲锁自动回收
type LocalTenantLocker struct {
	mu    sync.Mutex
	locks map[uint]*tenantMutex
}

// NewLocalTenantLocker 创建进程内租户锁
func NewLocalTenantLocker() *LocalTenantLocker {
	return &LocalTenantLocker{locks: make(map[uint]*tenantMutex)}
}

// Lock 获取租户锁，上下文结束时放弃等待
func (l *LocalTenantLocker) Lock(ctx context.Context, tenantID uint) (func(), error) {
	l.mu.Lock()
	m, ok := l.locks[tenantID]
	if !ok {
		m = &tenantMutex{sem: make(chan struct{}, 1)}
		l.locks[tenantID] = m
	}
	m.refs++
	l.mu.Unlock()

	select {
	case m.sem <- struct{}{}:
	case <-ctx.Done():
		l.release(tenantID, m)
		return nil, fmt.Errorf("获取租户锁失败: %w", ctx.Err())
	}

	return func() {
		<-m.sem
		l.release(tenantID, m)
	}, nil
}

func (l *LocalTenantLocker) release(tenantID uint, m *tenantMutex) {
	l.mu.Lock()
	defer l.mu.Unlock()
	m.refs--
	if m.refs == 0 {
		delete(l.locks, tenantID)
	}
}

// ========== Redis实现 ==========

const lockReleaseScript = `
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("DEL", KEYS[1])
end
return 0
`

// RedisTenantLocker 基于 SETNX 的分布式租户锁，释放时校验持有者
type RedisTenantLocker struct {
	client *redis.Client
	script *redis.Script
	prefix string
	ttl    time.Duration
	retry  time.Duration
}

// NewRedisTenantLocker 创建Redis租户锁
func NewRedisTenantLocker(client *redis.Client, prefix string) *RedisTenantLocker {
	return &RedisTenantLocker{
		client: client,
		script: redis.NewScript(lockReleaseScript),
		prefix: prefix,
		ttl:    10 * time.Second,
		retry:  20 * time.Millisecond,
	}
}

// Lock 轮询获取锁直到成功或上下文结束
func (l *RedisTenantLocker) Lock(ctx context.Context, tenantID uint) (func(), error) {
	if l == nil || l.client == nil {
		return nil, errors.New("租户锁未配置Redis")
	}

	key := fmt.Sprintf("%s:lock:tenant:%d:notes", l.prefix, tenantID)
	token := uuid.NewString()

	for {
		ok, err := l.client.SetNX(ctx, key, token, l.ttl).Result()
		if err != nil {
			return nil, fmt.Errorf("获取租户锁失败: %w", err)
		}
		if ok {
			break
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(l.retry):
		}
	}

	return func() {
		// 释放不受请求上下文取消影响
		releaseCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = l.script.Run(releaseCtx, l.client, []string{key}, token).Err()
	}, nil
}

// NewTenantLocker Redis可用时使用分布式锁，否则使用进程内锁
func NewTenantLocker(client *redis.Client, prefix string) TenantLocker {
	if client == nil {
		return NewLocalTenantLocker()
	}
	return NewRedisTenantLocker(client, prefix)
}
