package mailer

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"net/smtp"
	"os"
	"strconv"
	"strings"
	"time"
	"yardstick/pkg/config"
	"yardstick/pkg/logger"

	"github.com/sirupsen/logrus"
)

const smtpDialTimeout = 10 * time.Second

// Sender 邮件发送接口
type Sender interface {
	Send(ctx context.Context, to []string, subject, htmlBody string) error
}

// SMTPSender 通过SMTP发送邮件
type SMTPSender struct {
	host     string
	port     int
	username string
	password string
	from     string
}

// NewSMTPSender 创建SMTP发送器
func NewSMTPSender(cfg config.MailConfig) *SMTPSender {
	return &SMTPSender{
		host:     cfg.SMTPHost,
		port:     cfg.SMTPPort,
		username: cfg.SMTPUser,
		password: cfg.SMTPPassword,
		from:     cfg.From,
	}
}

// Send 发送HTML邮件，连接和每次读写都受 ctx 截止时间约束
func (s *SMTPSender) Send(ctx context.Context, to []string, subject, htmlBody string) error {
	if len(to) == 0 {
		return errors.New("收件人不能为空")
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	addr := net.JoinHostPort(s.host, strconv.Itoa(s.port))
	dialer := &net.Dialer{Timeout: smtpDialTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("连接SMTP服务器失败: %w", err)
	}
	defer conn.Close()

	if deadline, ok := ctx.Deadline(); ok {
		if err := conn.SetDeadline(deadline); err != nil {
			return fmt.Errorf("设置SMTP超时失败: %w", err)
		}
	}
	// 上下文取消时关闭连接，打断阻塞中的读写
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	if err := s.deliver(conn, to, subject, htmlBody); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return fmt.Errorf("SMTP发送失败: %w", ctxErr)
		}
		if errors.Is(err, os.ErrDeadlineExceeded) {
			return fmt.Errorf("SMTP发送失败: %w", context.DeadlineExceeded)
		}
		return fmt.Errorf("SMTP发送失败: %w", err)
	}
	return nil
}

func (s *SMTPSender) deliver(conn net.Conn, to []string, subject, htmlBody string) error {
	c, err := smtp.NewClient(conn, s.host)
	if err != nil {
		return err
	}
	defer c.Close()

	if ok, _ := c.Extension("STARTTLS"); ok {
		if err := c.StartTLS(&tls.Config{ServerName: s.host}); err != nil {
			return err
		}
	}
	if s.username != "" {
		if err := c.Auth(smtp.PlainAuth("", s.username, s.password, s.host)); err != nil {
			return err
		}
	}
	if err := c.Mail(s.from); err != nil {
		return err
	}
	for _, rcpt := range to {
		if err := c.Rcpt(rcpt); err != nil {
			return err
		}
	}

	w, err := c.Data()
	if err != nil {
		return err
	}
	if _, err := w.Write(buildMessage(s.from, to, subject, htmlBody)); err != nil {
		return err
	}
	if err := w.Close(); err != nil {
		return err
	}
	return c.Quit()
}

func buildMessage(from string, to []string, subject, htmlBody string) []byte {
	var msg strings.Builder
	msg.WriteString("From: " + from + "\r\n")
	msg.WriteString("To: " + strings.Join(to, ", ") + "\r\n")
	msg.WriteString("Subject: " + subject + "\r\n")
	msg.WriteString("MIME-Version: 1.0\r\n")
	msg.WriteString("Content-Type: text/html; charset=\"UTF-8\"\r\n\r\n")
	msg.WriteString(htmlBody)
	return []byte(msg.String())
}

// LogSender 只记录日志，用于开发环境
type LogSender struct {
	log *logrus.Logger
}

// NewLogSender 创建日志发送器
func NewLogSender() *LogSender {
	return &LogSender{log: logger.GetLogger()}
}

// Send 记录邮件内容
func (s *LogSender) Send(ctx context.Context, to []string, subject, htmlBody string) error {
	s.log.WithFields(logrus.Fields{
		"to":      strings.Join(to, ","),
		"subject": subject,
	}).Info("邮件未配置SMTP，仅记录日志")
	s.log.Debug(htmlBody)
	return nil
}

// NewFromConfig 根据配置选择发送器：未配置SMTP主机时使用日志发送器
func NewFromConfig(cfg config.MailConfig) Sender {
	if cfg.SMTPHost == "" {
		return NewLogSender()
	}
	return NewSMTPSender(cfg)
}
