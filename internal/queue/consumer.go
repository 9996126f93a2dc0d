package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/sirupsen/logrus"
)

// TaskHandler 扫描任务处理函数。
// 返回错误表示本次处理失败，消息不重新入队，重试由上层按 Retry 计数重新发布
type TaskHandler func(ctx context.Context, msg *TaskMessage) error

// Consumer 扫描任务消费者，按 worker 数并行消费
type Consumer struct {
	mq         *RabbitMQ
	logger     *logrus.Logger
	handler    TaskHandler
	workerPool int
	workerWg   sync.WaitGroup

	mu         sync.Mutex
	running    bool
	cancelFunc context.CancelFunc
}

// NewConsumer 创建消费者
func NewConsumer(mq *RabbitMQ, handler TaskHandler, workerPool int, logger *logrus.Logger) *Consumer {
	if workerPool <= 0 {
		workerPool = 1
	}

	return &Consumer{
		mq:         mq,
		logger:     logger,
		handler:    handler,
		workerPool: workerPool,
	}
}

// Start 打开消费通道并启动 worker 协程，随后开始监听断线重连
func (c *Consumer) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.running {
		c.mu.Unlock()
		c.logger.Warn("Consumer already running, skipping start")
		return nil
	}
	c.running = true
	c.mu.Unlock()

	msgs, err := c.mq.Consume()
	if err != nil {
		c.mu.Lock()
		c.running = false
		c.mu.Unlock()
		return fmt.Errorf("failed to start consuming: %w", err)
	}

	workerCtx, cancel := context.WithCancel(ctx)
	c.mu.Lock()
	c.cancelFunc = cancel
	c.mu.Unlock()

	c.logger.Infof("Starting consumer with %d workers", c.workerPool)
	for i := 0; i < c.workerPool; i++ {
		c.workerWg.Add(1)
		go c.consumeLoop(workerCtx, i, msgs)
	}

	c.mq.StartConnectionWatcher()
	go c.handleReconnect(ctx)

	return nil
}

func (c *Consumer) consumeLoop(ctx context.Context, id int, msgs <-chan amqp.Delivery) {
	defer c.workerWg.Done()

	c.logger.WithField("consumer_id", id).Info("Consumer worker started")

	for {
		select {
		case <-ctx.Done():
			c.logger.WithField("consumer_id", id).Info("Consumer worker stopped")
			return
		case delivery, ok := <-msgs:
			if !ok {
				c.logger.WithField("consumer_id", id).Warn("Delivery channel closed")
				return
			}
			c.processDelivery(ctx, id, delivery)
		}
	}
}

func (c *Consumer) processDelivery(ctx context.Context, consumerID int, delivery amqp.Delivery) {
	startTime := time.Now()

	var msg TaskMessage
	if err := json.Unmarshal(delivery.Body, &msg); err != nil {
		c.logger.WithError(err).Error("Failed to unmarshal task message, dropping")
		delivery.Nack(false, false)
		return
	}

	c.logger.WithFields(logrus.Fields{
		"consumer_id": consumerID,
		"task_id":     msg.TaskID,
		"apk_name":    msg.APKName,
		"retry":       msg.Retry,
	}).Info("Scan task received")

	if err := c.handler(ctx, &msg); err != nil {
		c.logger.WithError(err).WithFields(logrus.Fields{
			"consumer_id": consumerID,
			"task_id":     msg.TaskID,
		}).Error("Scan task failed")

		// 不 requeue，失败重试由 handler 侧重新发布并带上 Retry 计数，
		// 避免坏消息在队列里无限打转
		delivery.Nack(false, false)
		return
	}

	if err := delivery.Ack(false); err != nil {
		c.logger.WithError(err).Error("Failed to acknowledge message")
	}

	c.logger.WithFields(logrus.Fields{
		"consumer_id": consumerID,
		"task_id":     msg.TaskID,
		"duration":    time.Since(startTime).Seconds(),
	}).Info("Scan task processed")
}

// handleReconnect 断线后停掉当前 worker，重连成功再重新开始消费
func (c *Consumer) handleReconnect(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case _, ok := <-c.mq.GetReconnectChan():
			if !ok {
				return
			}

			c.logger.Warn("Connection lost, restarting consumer after reconnect")
			c.stopWorkers()

			if err := c.mq.Reconnect(); err != nil {
				c.logger.WithError(err).Error("Reconnect failed, waiting for next signal")
				continue
			}

			c.mu.Lock()
			c.running = false
			c.mu.Unlock()

			if err := c.Start(ctx); err != nil {
				c.logger.WithError(err).Error("Failed to restart consumer")
			}
		}
	}
}

// stopWorkers 取消 worker 上下文并等待退出，最多等 30 秒
func (c *Consumer) stopWorkers() {
	c.mu.Lock()
	if c.cancelFunc != nil {
		c.cancelFunc()
		c.cancelFunc = nil
	}
	c.running = false
	c.mu.Unlock()

	done := make(chan struct{})
	go func() {
		c.workerWg.Wait()
		close(done)
	}()

	select {
	case <-done:
		c.logger.Info("All consumer workers stopped")
	case <-time.After(30 * time.Second):
		c.logger.Warn("Timeout waiting for consumer workers to stop")
	}
}

// Stop 停止消费者并等待在途任务结束
func (c *Consumer) Stop() {
	c.logger.Info("Stopping consumer")

	c.mu.Lock()
	if c.cancelFunc != nil {
		c.cancelFunc()
		c.cancelFunc = nil
	}
	c.running = false
	c.mu.Unlock()

	c.workerWg.Wait()
	c.logger.Info("Consumer stopped")
}
