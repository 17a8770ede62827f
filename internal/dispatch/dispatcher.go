package dispatch

import (
	"context"

	"go.uber.org/zap"

	"copy-relay/internal/event"
	"copy-relay/internal/store"
)

// Handler 处理某一类事件。trader 为产生该事件的带单账户。
type Handler func(ctx context.Context, trader store.Trader, evt event.Event)

// Dispatcher 维护事件类型到处理函数的注册表。
// 新的事件类型通过 Register 接入，分发逻辑本身不需要修改。
type Dispatcher struct {
	handlers map[event.Kind]Handler
	logger   *zap.Logger
}

// NewDispatcher 创建空注册表的分发器。
func NewDispatcher(logger *zap.Logger) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{
		handlers: make(map[event.Kind]Handler),
		logger:   logger,
	}
}

// Register 注册一类事件的处理函数，重复注册以最后一次为准。
func (d *Dispatcher) Register(kind event.Kind, handler Handler) {
	d.handlers[kind] = handler
}

// Dispatch 将类型化事件交给对应的处理函数；未注册的类型记录告警后丢弃。
func (d *Dispatcher) Dispatch(ctx context.Context, trader store.Trader, evt event.Event) {
	handler, ok := d.handlers[evt.Kind()]
	if !ok {
		d.logger.Warn("事件类型没有注册处理函数",
			zap.String("kind", string(evt.Kind())),
			zap.Int64("trader_id", trader.ID),
		)
		return
	}

	handler(ctx, trader, evt)
}
