package supervisor

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"copy-relay/internal/store"
)

type traderLister interface {
	ListTradersAwaitingStream(ctx context.Context) ([]store.Trader, error)
	ResetStreamFlags(ctx context.Context) error
}

type taskSubmitter interface {
	Enqueue(name string, fn func(ctx context.Context)) bool
}

// SessionRunner 执行一个带单账户的完整流会话。
type SessionRunner func(ctx context.Context, trader store.Trader)

// Supervisor 周期性找出活跃但未开流的带单账户，为每个账户投递一个开流任务。
// 它本身不等待流建立；会话的成败通过 stream_open 标记反馈到下一个周期。
type Supervisor struct {
	accounts   traderLister
	tasks      taskSubmitter
	runSession SessionRunner
	logger     *zap.Logger
}

// New 创建调度器。
func New(accounts traderLister, tasks taskSubmitter, runSession SessionRunner, logger *zap.Logger) *Supervisor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Supervisor{
		accounts:   accounts,
		tasks:      tasks,
		runSession: runSession,
		logger:     logger,
	}
}

// Reconcile 在首个调度周期前清空全部流标记；没有会话能跨进程存活。
func (s *Supervisor) Reconcile(ctx context.Context) error {
	if err := s.accounts.ResetStreamFlags(ctx); err != nil {
		return fmt.Errorf("supervisor: 启动对账失败: %w", err)
	}
	s.logger.Info("启动对账完成，全部流标记已重置")
	return nil
}

// Tick 执行一轮调度。存储不可用时整轮失败，等待下一个周期重试，
// 不写入任何部分状态。
func (s *Supervisor) Tick(ctx context.Context) error {
	traders, err := s.accounts.ListTradersAwaitingStream(ctx)
	if err != nil {
		return fmt.Errorf("supervisor: 读取待开流账户失败: %w", err)
	}

	for _, trader := range traders {
		trader := trader
		name := fmt.Sprintf("open_stream_%d", trader.ID)
		s.tasks.Enqueue(name, func(taskCtx context.Context) {
			s.runSession(taskCtx, trader)
		})
	}

	if len(traders) > 0 {
		s.logger.Info("已为待开流账户投递开流任务", zap.Int("count", len(traders)))
	}

	return nil
}
