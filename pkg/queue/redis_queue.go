package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
)

// ErrMalformedMessage 出队的消息无法解析，已转入死信列表
var ErrMalformedMessage = errors.New("无法解析的邮件消息")

// RedisQueue 基于Redis列表的邮件发件箱
type RedisQueue struct {
	client *redis.Client
	prefix string
}

// MailMessage 队列中的邮件消息
type MailMessage struct {
	ID       string   `json:"id"`
	Kind     string   `json:"kind"` // invitation / upgrade_request
	TenantID uint     `json:"tenant_id"`
	To       []string `json:"to"`
	Subject  string   `json:"subject"`
	Body     string   `json:"body"`
	Attempts int      `json:"attempts"`
	Created  int64    `json:"created"`
}

// Config Redis配置
type Config struct {
	Host     string
	Port     int
	Password string
	DB       int
	Prefix   string
}

// NewRedisClient 根据配置创建Redis客户端
func NewRedisClient(config *Config) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%d", config.Host, config.Port),
		Password: config.Password,
		DB:       config.DB,
	})
}

// NewRedisQueue 使用已有客户端创建队列
func NewRedisQueue(client *redis.Client, prefix string) *RedisQueue {
	if prefix == "" {
		prefix = "yardstick"
	}
	return &RedisQueue{
		client: client,
		prefix: prefix,
	}
}

// Close 关闭Redis连接
func (q *RedisQueue) Close() error {
	return q.client.Close()
}

// Ping 测试Redis连接
func (q *RedisQueue) Ping(ctx context.Context) error {
	return q.client.Ping(ctx).Err()
}

// Enqueue 邮件入队（左侧入队）
func (q *RedisQueue) Enqueue(ctx context.Context, msg *MailMessage) error {
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.Created == 0 {
		msg.Created = time.Now().Unix()
	}

	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("序列化邮件消息失败: %v", err)
	}

	if err := q.client.LPush(ctx, q.getQueueKey(), data).Err(); err != nil {
		return fmt.Errorf("邮件入队失败: %v", err)
	}
	return nil
}

// Dequeue 取出一封邮件（右侧出队），队列为空时返回 nil
func (q *RedisQueue) Dequeue(ctx context.Context, timeout time.Duration) (*MailMessage, error) {
	var (
		data string
		err  error
	)
	if timeout > 0 {
		var result []string
		result, err = q.client.BRPop(ctx, timeout, q.getQueueKey()).Result()
		if err == nil && len(result) == 2 {
			data = result[1]
		}
	} else {
		data, err = q.client.RPop(ctx, q.getQueueKey()).Result()
	}
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("邮件出队失败: %v", err)
	}

	var msg MailMessage
	if err := json.Unmarshal([]byte(data), &msg); err != nil {
		// 无法解析的消息原样转入死信列表
		if derr := q.client.LPush(ctx, q.getDeadKey(), data).Err(); derr != nil {
			return nil, fmt.Errorf("写入死信队列失败: %v", derr)
		}
		return nil, fmt.Errorf("%w: %v", ErrMalformedMessage, err)
	}
	return &msg, nil
}

// Requeue 投递失败后重新入队，超过最大次数转入死信列表
func (q *RedisQueue) Requeue(ctx context.Context, msg *MailMessage, maxAttempts int) (bool, error) {
	msg.Attempts++
	if maxAttempts > 0 && msg.Attempts >= maxAttempts {
		data, err := json.Marshal(msg)
		if err != nil {
			return false, fmt.Errorf("序列化邮件消息失败: %v", err)
		}
		if err := q.client.LPush(ctx, q.getDeadKey(), data).Err(); err != nil {
			return false, fmt.Errorf("写入死信队列失败: %v", err)
		}
		return false, nil
	}
	return true, q.Enqueue(ctx, msg)
}

// Length 待发送邮件数
func (q *RedisQueue) Length(ctx context.Context) (int64, error) {
	return q.client.LLen(ctx, q.getQueueKey()).Result()
}

// DeadLength 死信邮件数
func (q *RedisQueue) DeadLength(ctx context.Context) (int64, error) {
	return q.client.LLen(ctx, q.getDeadKey()).Result()
}

// 辅助方法

func (q *RedisQueue) getQueueKey() string {
	return fmt.Sprintf("%s:mail:outbox", q.prefix)
}

func (q *RedisQueue) getDeadKey() string {
	return fmt.Sprintf("%s:mail:dead", q.prefix)
}
