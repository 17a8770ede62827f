package event

import "time"

// Kind 为流消息的判别类型，取自消息的 "e" 字段。
type Kind string

const (
	// KindExecutionReport 为订单状态变更事件。
	KindExecutionReport Kind = "executionReport"
	// KindAccountPosition 为账户余额变更事件。
	KindAccountPosition Kind = "outboundAccountPosition"
)

// Event 为分类完成的类型化事件。
type Event interface {
	Kind() Kind
}

// OrderEvent 为一笔订单的状态变更投影，构造后不再修改。
type OrderEvent struct {
	EventTime         time.Time
	Symbol            string
	ClientOrderID     string
	Side              string
	OrderType         string
	TimeInForce       string
	Quantity          float64
	Price             float64
	StopPrice         float64
	OrigClientOrderID string
	ExecutionType     string
	Status            string
	RejectReason      string
	OrderID           int64
	LastQty           float64
	CumFilledQty      float64
	LastPrice         float64
	Commission        float64
	CommissionAsset   string
	TransactTime      time.Time
	TradeID           int64
	IsWorking         bool
	IsMaker           bool
	CumQuoteQty       float64
	LastQuoteQty      float64
	QuoteOrderQty     float64
}

// Kind 实现 Event。
func (OrderEvent) Kind() Kind { return KindExecutionReport }

// Balance 为单一资产的可用/冻结余额。
type Balance struct {
	Asset  string
	Free   float64
	Locked float64
}

// AccountUpdateEvent 为账户余额变更投影，构造后不再修改。
type AccountUpdateEvent struct {
	EventTime time.Time
	UpdateID  int64
	Balances  []Balance
}

// Kind 实现 Event。
func (AccountUpdateEvent) Kind() Kind { return KindAccountPosition }
