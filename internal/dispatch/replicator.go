package dispatch

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"copy-relay/internal/event"
	"copy-relay/internal/gateway"
	"copy-relay/internal/store"
)

type followerSource interface {
	ListFollowersOf(ctx context.Context, traderID int64) ([]store.Follower, error)
}

type orderPlacer interface {
	PlaceOrder(ctx context.Context, creds gateway.Credentials, instruction gateway.OrderInstruction) (gateway.OrderResult, error)
}

// Submitter 为分发器依赖的窄接口：只负责把复制任务交给队列。
type Submitter interface {
	Enqueue(name string, fn func(ctx context.Context)) bool
}

// Replicator 将带单账户的订单事件扇出为每个跟单账户一笔独立委托。
type Replicator struct {
	accounts followerSource
	placer   orderPlacer
	tasks    Submitter
	trigger  string
	logger   *zap.Logger
}

// NewReplicator 创建复制处理器。trigger 指定触发复制的执行类型。
func NewReplicator(accounts followerSource, placer orderPlacer, tasks Submitter, trigger string, logger *zap.Logger) *Replicator {
	if logger == nil {
		logger = zap.NewNop()
	}
	if trigger == "" {
		trigger = "NEW"
	}
	return &Replicator{
		accounts: accounts,
		placer:   placer,
		tasks:    tasks,
		trigger:  trigger,
		logger:   logger,
	}
}

// HandleOrderEvent 为 executionReport 的注册处理函数。
// 跟单集合在分发时实时读取，不做缓存；每个跟单账户各入队一个独立任务，
// 单个跟单下单失败只影响它自己。
func (r *Replicator) HandleOrderEvent(ctx context.Context, trader store.Trader, evt event.Event) {
	order, ok := evt.(event.OrderEvent)
	if !ok {
		r.logger.Warn("处理函数收到非订单事件", zap.String("kind", string(evt.Kind())))
		return
	}

	if !strings.EqualFold(order.ExecutionType, r.trigger) {
		r.logger.Debug("订单事件不满足复制条件",
			zap.Int64("trader_id", trader.ID),
			zap.String("execution_type", order.ExecutionType),
			zap.String("trigger", r.trigger),
		)
		return
	}

	followers, err := r.accounts.ListFollowersOf(ctx, trader.ID)
	if err != nil {
		r.logger.Error("读取跟单集合失败",
			zap.Int64("trader_id", trader.ID),
			zap.Error(err),
		)
		return
	}

	for _, follower := range followers {
		follower := follower
		name := fmt.Sprintf("replicate_order_%d_%d", order.OrderID, follower.ID)
		r.tasks.Enqueue(name, func(taskCtx context.Context) {
			r.replicate(taskCtx, trader, follower, order)
		})
	}

	r.logger.Info("订单事件已扇出",
		zap.Int64("trader_id", trader.ID),
		zap.Int64("order_id", order.OrderID),
		zap.String("symbol", order.Symbol),
		zap.Int("followers", len(followers)),
	)
}

func (r *Replicator) replicate(ctx context.Context, trader store.Trader, follower store.Follower, order event.OrderEvent) {
	instruction := instructionFrom(trader, follower, order)

	result, err := r.placer.PlaceOrder(ctx, gateway.Credentials{
		APIKey:    follower.APIKey,
		APISecret: follower.APISecret,
	}, instruction)
	if err != nil {
		// 失败只记录，不影响其他跟单账户或源流。
		r.logger.Error("跟单下单失败",
			zap.Int64("follower_id", follower.ID),
			zap.String("follower_email", follower.Email),
			zap.Int64("trader_id", trader.ID),
			zap.Int64("source_order_id", order.OrderID),
			zap.Error(err),
		)
		return
	}

	r.logger.Info("跟单下单成功",
		zap.Int64("follower_id", follower.ID),
		zap.String("follower_email", follower.Email),
		zap.String("symbol", instruction.Symbol),
		zap.String("order_id", result.OrderID),
		zap.String("client_order_id", result.ClientOrderID),
	)
}

// instructionFrom 把带单订单字段映射到跟单账户的委托参数。
// ClientOrderID 由 (trader, 源订单, follower) 决定，重试时交易所可据此去重。
func instructionFrom(trader store.Trader, follower store.Follower, order event.OrderEvent) gateway.OrderInstruction {
	return gateway.OrderInstruction{
		Symbol:        order.Symbol,
		Side:          gateway.OrderSide(strings.ToLower(order.Side)),
		Type:          strings.ToLower(order.OrderType),
		TimeInForce:   order.TimeInForce,
		Quantity:      order.Quantity,
		Price:         order.Price,
		ClientOrderID: fmt.Sprintf("cr-%d-%d-%d", trader.ID, order.OrderID, follower.ID),
	}
}

// HandleAccountUpdate 为 outboundAccountPosition 的注册处理函数，只记录余额变化。
func (r *Replicator) HandleAccountUpdate(ctx context.Context, trader store.Trader, evt event.Event) {
	update, ok := evt.(event.AccountUpdateEvent)
	if !ok {
		r.logger.Warn("处理函数收到非余额事件", zap.String("kind", string(evt.Kind())))
		return
	}

	fields := make([]zap.Field, 0, len(update.Balances)+2)
	fields = append(fields,
		zap.Int64("trader_id", trader.ID),
		zap.String("trader_email", trader.Email),
	)
	for _, balance := range update.Balances {
		fields = append(fields, zap.Float64s(balance.Asset, []float64{balance.Free, balance.Locked}))
	}

	r.logger.Info("带单账户余额更新", fields...)
}
