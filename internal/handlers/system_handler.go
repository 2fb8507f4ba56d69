package handlers

import (
	"context"
	"net/http"
	"time"
	"yardstick/pkg/queue"
	"yardstick/pkg/response"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"gorm.io/gorm"
)

// SystemHandler 系统处理器
type SystemHandler struct {
	db    *gorm.DB
	redis *redis.Client     // 可为空
	queue *queue.RedisQueue // 可为空
}

// NewSystemHandler 创建系统处理器
func NewSystemHandler(db *gorm.DB, redisClient *redis.Client, mailQueue *queue.RedisQueue) *SystemHandler {
	return &SystemHandler{
		db:    db,
		redis: redisClient,
		queue: mailQueue,
	}
}

// Health 健康检查：数据库必须可用，Redis 启用时也必须可用
func (h *SystemHandler) Health(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	checks := gin.H{"database": "ok"}
	healthy := true

	if sqlDB, err := h.db.DB(); err != nil || sqlDB.PingContext(ctx) != nil {
		checks["database"] = "unavailable"
		healthy = false
	}

	if h.redis != nil {
		checks["redis"] = "ok"
		if err := h.redis.Ping(ctx).Err(); err != nil {
			checks["redis"] = "unavailable"
			healthy = false
		}
	}

	if h.queue != nil && healthy {
		if n, err := h.queue.Length(ctx); err == nil {
			checks["mail_outbox"] = n
		}
	}

	if !healthy {
		c.JSON(http.StatusServiceUnavailable, response.Response{Success: false, Error: "服务不可用", Data: checks})
		return
	}
	response.Success(c, checks)
}
