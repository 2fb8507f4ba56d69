package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
	"yardstick/pkg/logger"
	"yardstick/pkg/mailer"
	"yardstick/pkg/metrics"
	"yardstick/pkg/queue"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
)

// 邮件类型
const (
	MailKindInvitation     = "invitation"
	MailKindUpgradeRequest = "upgrade_request"
)

const mailSendTimeout = 30 * time.Second

// MailDispatcher 异步投递通知邮件，投递失败不影响已提交的业务数据
type MailDispatcher struct {
	sender      mailer.Sender
	queue       *queue.RedisQueue // 为空时直接在后台协程发送
	maxAttempts int
	cron        *cron.Cron
	running     bool
	mu          sync.Mutex
	draining    sync.Mutex
	wg          sync.WaitGroup
	log         *logrus.Logger
}

// NewMailDispatcher 创建邮件投递器
func NewMailDispatcher(sender mailer.Sender, q *queue.RedisQueue, maxAttempts int) *MailDispatcher {
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	return &MailDispatcher{
		sender:      sender,
		queue:       q,
		maxAttempts: maxAttempts,
		log:         logger.GetLogger(),
	}
}

// Dispatch 投递邮件，不返回错误
func (d *MailDispatcher) Dispatch(ctx context.Context, msg *queue.MailMessage) {
	if d == nil || msg == nil || len(msg.To) == 0 {
		return
	}

	if d.queue != nil {
		err := d.queue.Enqueue(ctx, msg)
		if err == nil {
			return
		}
		d.log.WithError(err).Warn("邮件入队失败，改为直接发送")
	}

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		sendCtx, cancel := context.WithTimeout(context.Background(), mailSendTimeout)
		defer cancel()
		if err := d.send(sendCtx, msg); err != nil {
			d.log.WithFields(logrus.Fields{
				"kind":      msg.Kind,
				"tenant_id": msg.TenantID,
			}).Errorf("邮件发送失败: %v", err)
		}
	}()
}

// DrainOnce 发送队列中当前所有邮件，返回成功数量
func (d *MailDispatcher) DrainOnce(ctx context.Context) (int, error) {
	if d.queue == nil {
		return 0, nil
	}
	d.draining.Lock()
	defer d.draining.Unlock()

	pending, err := d.queue.Length(ctx)
	if err != nil {
		return 0, err
	}

	sent := 0
	// 只处理本轮开始时已存在的邮件，重新入队的留到下一轮
	for i := int64(0); i < pending; i++ {
		msg, err := d.queue.Dequeue(ctx, 0)
		if errors.Is(err, queue.ErrMalformedMessage) {
			d.log.Warnf("丢弃无法解析的邮件消息: %v", err)
			continue
		}
		if err != nil {
			return sent, err
		}
		if msg == nil {
			break
		}

		sendCtx, cancel := context.WithTimeout(ctx, mailSendTimeout)
		err = d.send(sendCtx, msg)
		cancel()
		if err == nil {
			sent++
			continue
		}

		retry, qerr := d.queue.Requeue(ctx, msg, d.maxAttempts)
		if qerr != nil {
			return sent, qerr
		}
		d.log.WithFields(logrus.Fields{
			"mail_id":  msg.ID,
			"kind":     msg.Kind,
			"attempts": msg.Attempts,
			"retry":    retry,
		}).Warnf("邮件发送失败: %v", err)
	}
	return sent, nil
}

// Start 按 cron 周期消费队列；未配置队列时无需启动
func (d *MailDispatcher) Start(spec string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.queue == nil {
		return nil
	}
	if d.running {
		return fmt.Errorf("邮件投递器已经在运行")
	}

	d.cron = cron.New()
	_, err := d.cron.AddFunc(spec, func() {
		if n, err := d.DrainOnce(context.Background()); err != nil {
			d.log.Errorf("消费邮件队列失败: %v", err)
		} else if n > 0 {
			d.log.Debugf("本轮发送邮件 %d 封", n)
		}
	})
	if err != nil {
		return fmt.Errorf("无效的邮件队列消费周期 %q: %v", spec, err)
	}

	d.cron.Start()
	d.running = true
	d.log.Infof("邮件投递器已启动，周期: %s", spec)
	return nil
}

// Stop 停止消费并等待在途邮件
func (d *MailDispatcher) Stop() {
	d.mu.Lock()
	if d.running {
		<-d.cron.Stop().Done()
		d.running = false
	}
	d.mu.Unlock()
	d.Wait()
}

// Wait 等待后台直接发送的邮件完成
func (d *MailDispatcher) Wait() {
	d.wg.Wait()
}

func (d *MailDispatcher) send(ctx context.Context, msg *queue.MailMessage) error {
	err := d.sender.Send(ctx, msg.To, msg.Subject, msg.Body)
	result := "success"
	if err != nil {
		result = "failure"
	}
	metrics.MailDeliveriesTotal.WithLabelValues(msg.Kind, result).Inc()
	return err
}
