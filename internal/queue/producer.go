package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/apk-analysis/protection-scan-go/internal/retry"
)

// TaskMessage 任务消息
type TaskMessage struct {
	TaskID  string `json:"task_id"`
	APKName string `json:"apk_name"`
	APKPath string `json:"apk_path"`
	Retry   int    `json:"retry,omitempty"` // 重试次数，0 为首次投递
}

// Producer 消息生产者
type Producer struct {
	mq     *RabbitMQ
	logger *logrus.Logger
}

// NewProducer 创建生产者
func NewProducer(mq *RabbitMQ, logger *logrus.Logger) *Producer {
	return &Producer{
		mq:     mq,
		logger: logger,
	}
}

// PublishTask 发布任务消息。
// 连接抖动时用指数退避重试，避免 broker 短暂不可用导致任务丢失
func (p *Producer) PublishTask(ctx context.Context, msg *TaskMessage) error {
	// 序列化消息
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}

	retryCfg := &retry.Config{
		MaxAttempts:     3,
		InitialInterval: 500 * time.Millisecond,
		MaxInterval:     5 * time.Second,
		Strategy:        retry.StrategyExponential,
		Timeout:         30 * time.Second,
		Logger:          p.logger,
	}

	// 发布到队列
	err = retry.Do(ctx, retryCfg, func(ctx context.Context) error {
		return p.mq.Publish(ctx, body)
	})
	if err != nil {
		p.logger.WithError(err).WithField("task_id", msg.TaskID).Error("Failed to publish task")
		return fmt.Errorf("failed to publish: %w", err)
	}

	p.logger.WithFields(logrus.Fields{
		"task_id":  msg.TaskID,
		"apk_name": msg.APKName,
		"retry":    msg.Retry,
	}).Info("Task published to queue")

	return nil
}

// PublishRetry 以递增的重试计数重新投递任务
func (p *Producer) PublishRetry(ctx context.Context, msg *TaskMessage) error {
	retried := *msg
	retried.Retry = msg.Retry + 1
	return p.PublishTask(ctx, &retried)
}

// GetQueueSize 获取队列大小
func (p *Producer) GetQueueSize() (int, error) {
	messageCount, _, err := p.mq.GetQueueStats()
	if err != nil {
		return 0, fmt.Errorf("failed to get queue stats: %w", err)
	}
	return messageCount, nil
}
