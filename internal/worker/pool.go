package worker

import (
	"context"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"
)

// Pool 扫描 worker 池。
// 消费者收到的任务经池排队后由固定数量的 worker 执行，
// 队列长度限制住同时驻留内存的反编译产物数量
type Pool struct {
	workers      int
	taskChan     chan *Task
	orchestrator *Orchestrator
	logger       *logrus.Logger
	wg           sync.WaitGroup
}

// Task 一次 APK 扫描任务
type Task struct {
	ID       string
	APKPath  string
	resultCh chan error // SubmitAndWait 用于同步等待
}

// NewPool 创建 worker 池
func NewPool(workers, queueSize int, orchestrator *Orchestrator, logger *logrus.Logger) *Pool {
	if queueSize <= 0 {
		queueSize = 100
	}

	return &Pool{
		workers:      workers,
		taskChan:     make(chan *Task, queueSize),
		orchestrator: orchestrator,
		logger:       logger,
	}
}

// Start 启动全部 worker
func (p *Pool) Start(ctx context.Context) {
	p.logger.WithField("workers", p.workers).Info("Starting worker pool")

	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go p.runWorker(ctx, i)
	}
}

func (p *Pool) runWorker(ctx context.Context, id int) {
	defer p.wg.Done()

	p.logger.WithField("worker_id", id).Info("Worker started")

	for {
		select {
		case <-ctx.Done():
			p.logger.WithField("worker_id", id).Info("Worker shutting down")
			return

		case task, ok := <-p.taskChan:
			if !ok {
				p.logger.WithField("worker_id", id).Info("Task channel closed, worker exiting")
				return
			}
			p.execute(ctx, id, task)
		}
	}
}

func (p *Pool) execute(ctx context.Context, workerID int, task *Task) {
	p.logger.WithFields(logrus.Fields{
		"worker_id": workerID,
		"task_id":   task.ID,
		"apk_path":  task.APKPath,
	}).Info("Executing scan task")

	err := p.orchestrator.ExecuteTask(ctx, task.ID, task.APKPath)
	if err != nil {
		if retryErr, ok := IsRetryableError(err); ok {
			p.logger.WithFields(logrus.Fields{
				"worker_id":   workerID,
				"task_id":     retryErr.TaskID,
				"retry_count": retryErr.RetryCount,
				"max_retry":   retryErr.MaxRetry,
			}).Warn("Scan task failed, reset for retry")
		} else {
			p.logger.WithError(err).WithFields(logrus.Fields{
				"worker_id": workerID,
				"task_id":   task.ID,
			}).Error("Scan task execution failed")
		}
	} else {
		p.logger.WithFields(logrus.Fields{
			"worker_id": workerID,
			"task_id":   task.ID,
		}).Info("Scan task completed")
	}

	if task.resultCh != nil {
		task.resultCh <- err
		close(task.resultCh)
	}
}

// Submit 提交任务，队列满时立即返回错误
func (p *Pool) Submit(task *Task) error {
	select {
	case p.taskChan <- task:
		return nil
	default:
		return fmt.Errorf("task queue is full")
	}
}

// SubmitAndWait 提交任务并阻塞到执行完成。
// 消费者借此把消息的 ack 时机推迟到扫描结束之后
func (p *Pool) SubmitAndWait(ctx context.Context, task *Task) error {
	task.resultCh = make(chan error, 1)

	select {
	case p.taskChan <- task:
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case err := <-task.resultCh:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stop 关闭任务通道并等待所有 worker 退出
func (p *Pool) Stop() {
	p.logger.Info("Stopping worker pool")
	close(p.taskChan)
	p.wg.Wait()
	p.logger.Info("Worker pool stopped")
}

// GetQueueSize 队列中等待执行的任务数
func (p *Pool) GetQueueSize() int {
	return len(p.taskChan)
}
