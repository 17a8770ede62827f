package app

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"copy-relay/internal/config"
	"copy-relay/internal/dispatch"
	"copy-relay/internal/event"
	"copy-relay/internal/gateway"
	"copy-relay/internal/store"
	"copy-relay/internal/supervisor"
	"copy-relay/internal/task"
)

// App 聚合核心依赖并驱动系统生命周期。
type App struct {
	cfg    *config.Config
	logger *zap.Logger
	store  *store.Store
}

// New 创建 App 实例。
func New(cfg *config.Config, logger *zap.Logger, store *store.Store) *App {
	return &App{
		cfg:    cfg,
		logger: logger,
		store:  store,
	}
}

// Run 装配各组件并阻塞运行，直到收到退出信号。
func (a *App) Run(ctx context.Context) error {
	a.logger.Info("跟单中继已初始化",
		zap.String("environment", a.cfg.App.Environment),
		zap.String("exchange", a.cfg.Exchange.Name),
		zap.Duration("tick_interval", a.cfg.Scheduler.TickInterval),
	)

	accounts, err := store.NewAccounts(a.store, a.logger)
	if err != nil {
		return err
	}

	gatewayClient := gateway.NewClient(a.cfg.Exchange, a.logger)
	placer := gateway.NewOrderPlacer(a.cfg.Exchange, a.cfg.Replication.MaxRetries, a.logger)
	queue := task.NewQueue(a.cfg.Queue, a.logger)

	replicator := dispatch.NewReplicator(accounts, placer, queue, a.cfg.Replication.Trigger, a.logger)
	dispatcher := dispatch.NewDispatcher(a.logger)
	dispatcher.Register(event.KindExecutionReport, replicator.HandleOrderEvent)
	dispatcher.Register(event.KindAccountPosition, replicator.HandleAccountUpdate)

	sessionGW := &sessionGateway{
		client:    gatewayClient,
		streamCfg: a.cfg.Stream,
		streamURL: a.cfg.Exchange.StreamURL,
		logger:    a.logger,
	}

	runSession := func(sessionCtx context.Context, trader store.Trader) {
		session := supervisor.NewSession(trader, sessionGW, accounts, dispatcher, a.cfg.Stream.RenewInterval, a.logger)
		session.Run(sessionCtx)
	}

	sup := supervisor.New(accounts, queue, runSession, a.logger)

	// 进程重启后没有会话存活，先对账再进入首个调度周期。
	if err := sup.Reconcile(ctx); err != nil {
		return err
	}

	queue.Start(ctx)

	tick := func(tickCtx context.Context) {
		if err := sup.Tick(tickCtx); err != nil {
			a.logger.Error("执行调度失败", zap.Error(err))
		}
	}

	queue.Enqueue("supervisor_tick", tick)
	if err := queue.SchedulePeriodic(ctx, "supervisor_tick", a.cfg.Scheduler.TickInterval, tick); err != nil {
		return err
	}

	if a.cfg.Admin.Enabled {
		if err := startAdminServer(ctx, accounts, a.cfg.Admin.Port, a.logger); err != nil {
			return err
		}
	}

	<-ctx.Done()
	if err := ctx.Err(); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("系统异常退出: %w", err)
	}
	a.logger.Info("系统收到退出信号，正在停止")

	if err := queue.Wait(); err != nil {
		return fmt.Errorf("任务队列退出异常: %w", err)
	}
	return nil
}

// sessionGateway 把令牌客户端与流传输拼成会话需要的网关能力。
type sessionGateway struct {
	client    *gateway.Client
	streamCfg config.StreamConfig
	streamURL string
	logger    *zap.Logger
}

func (g *sessionGateway) NewSessionToken(ctx context.Context, creds gateway.Credentials) (gateway.SessionToken, error) {
	return g.client.NewSessionToken(ctx, creds)
}

func (g *sessionGateway) KeepAliveToken(ctx context.Context, creds gateway.Credentials, token gateway.SessionToken) error {
	return g.client.KeepAliveToken(ctx, creds, token)
}

func (g *sessionGateway) CloseToken(ctx context.Context, creds gateway.Credentials, token gateway.SessionToken) error {
	return g.client.CloseToken(ctx, creds, token)
}

func (g *sessionGateway) OpenStream(ctx context.Context, token gateway.SessionToken, onMessage gateway.MessageFunc, onClose gateway.CloseFunc) (supervisor.StreamHandle, error) {
	return gateway.OpenStream(ctx, g.streamCfg, g.streamURL, token, onMessage, onClose, g.logger)
}
