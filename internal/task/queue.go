package task

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"copy-relay/internal/config"
)

// unit 为一次待执行的独立工作单元。
type unit struct {
	name string
	run  func(ctx context.Context)
}

// Queue 为进程内任务队列：固定数量的 worker 从共享缓冲区取任务执行。
// 调度 tick、流会话生命周期与每笔复制任务都是独立单元，可并发在不同 worker 上运行。
type Queue struct {
	logger  *zap.Logger
	units   chan unit
	workers int

	startOnce sync.Once
	stopOnce  sync.Once
	group     *errgroup.Group
}

// NewQueue 创建任务队列。
func NewQueue(cfg config.QueueConfig, logger *zap.Logger) *Queue {
	if logger == nil {
		logger = zap.NewNop()
	}

	workers := cfg.Workers
	if workers <= 0 {
		workers = 4
	}
	buffer := cfg.BufferSize
	if buffer <= 0 {
		buffer = 64
	}

	return &Queue{
		logger:  logger,
		units:   make(chan unit, buffer),
		workers: workers,
	}
}

// Start 启动 worker 池。重复调用无效果。
func (q *Queue) Start(ctx context.Context) {
	q.startOnce.Do(func() {
		group, groupCtx := errgroup.WithContext(ctx)
		q.group = group

		for i := 0; i < q.workers; i++ {
			worker := i
			group.Go(func() error {
				return q.runWorker(groupCtx, worker)
			})
		}

		q.logger.Info("任务队列已启动",
			zap.Int("workers", q.workers),
			zap.Int("buffer", cap(q.units)),
		)
	})
}

func (q *Queue) runWorker(ctx context.Context, id int) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case u, ok := <-q.units:
			if !ok {
				return nil
			}
			q.execute(ctx, id, u)
		}
	}
}

func (q *Queue) execute(ctx context.Context, worker int, u unit) {
	defer func() {
		if r := recover(); r != nil {
			q.logger.Error("任务发生 panic",
				zap.String("task", u.name),
				zap.Int("worker", worker),
				zap.Any("panic", r),
				zap.ByteString("stack", debug.Stack()),
			)
		}
	}()

	u.run(ctx)
}

// Enqueue 将任务放入队列，不等待执行；队列已满时丢弃并返回 false。
func (q *Queue) Enqueue(name string, fn func(ctx context.Context)) bool {
	if fn == nil {
		return false
	}

	select {
	case q.units <- unit{name: name, run: fn}:
		return true
	default:
		q.logger.Warn("任务队列已满，任务被丢弃", zap.String("task", name))
		return false
	}
}

// SchedulePeriodic 按固定间隔重复入队任务，直到 ctx 取消。
func (q *Queue) SchedulePeriodic(ctx context.Context, name string, interval time.Duration, fn func(ctx context.Context)) error {
	if interval <= 0 {
		return fmt.Errorf("task: 周期任务 %q 的间隔必须为正", name)
	}
	if q.group == nil {
		return fmt.Errorf("task: 队列尚未启动")
	}

	q.group.Go(func() error {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return nil
			case <-ticker.C:
				q.Enqueue(name, fn)
			}
		}
	})

	return nil
}

// Wait 阻塞直到全部 worker 退出。
func (q *Queue) Wait() error {
	if q.group == nil {
		return nil
	}
	return q.group.Wait()
}
