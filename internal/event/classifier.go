package event

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"
)

var (
	// ErrUnknownKind 表示消息的判别字段不在已知类型集合内。
	ErrUnknownKind = errors.New("event: unknown message kind")
	// ErrInvalidMessage 表示消息结构不完整或字段类型不符。
	ErrInvalidMessage = errors.New("event: invalid message")
)

// executionReportWire 对应交易所订单事件的原始字段布局。
type executionReportWire struct {
	EventType         string `json:"e"`
	EventTime         int64  `json:"E"`
	Symbol            string `json:"s"`
	ClientOrderID     string `json:"c"`
	Side              string `json:"S"`
	OrderType         string `json:"o"`
	TimeInForce       string `json:"f"`
	Quantity          string `json:"q"`
	Price             string `json:"p"`
	StopPrice         string `json:"P"`
	OrigClientOrderID string `json:"C"`
	ExecutionType     string `json:"x"`
	Status            string `json:"X"`
	RejectReason      string `json:"r"`
	OrderID           int64  `json:"i"`
	LastQty           string `json:"l"`
	CumFilledQty      string `json:"z"`
	LastPrice         string `json:"L"`
	Commission        string `json:"n"`
	CommissionAsset   string `json:"N"`
	TransactTime      int64  `json:"T"`
	TradeID           int64  `json:"t"`
	IsWorking         bool   `json:"w"`
	IsMaker           bool   `json:"m"`
	CumQuoteQty       string `json:"Z"`
	LastQuoteQty      string `json:"Y"`
	QuoteOrderQty     string `json:"Q"`
	IcebergQty        string `json:"F"`
	OrderListID       int64  `json:"g"`
	OrderCreationTime int64  `json:"O"`
	// I / M 为协议保留字段；必须占位精确匹配，否则 json 按大小写回退
	// 会把它们解到 i / m 上。
	ReservedI json.RawMessage `json:"I"`
	ReservedM json.RawMessage `json:"M"`
}

// accountPositionWire 对应交易所余额事件的原始字段布局。
type accountPositionWire struct {
	EventType string `json:"e"`
	EventTime int64  `json:"E"`
	UpdateID  int64  `json:"u"`
	Balances  []struct {
		Asset  string `json:"a"`
		Free   string `json:"f"`
		Locked string `json:"l"`
	} `json:"B"`
}

// Classify 解析一条原始流消息并返回类型化事件。
// 判别字段未知时返回 ErrUnknownKind；必填字段缺失或类型不符时返回 ErrInvalidMessage。
// 返回的事件已完成全部校验，下游无需再次验证。
func Classify(raw []byte) (Event, error) {
	// 判别字段只看 "e"。不能用只带 e 标签的结构体嗅探：
	// 消息里还有数值型的 "E"，json 的大小写回退会把它解到 e 上报错。
	var head map[string]json.RawMessage
	if err := json.Unmarshal(raw, &head); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidMessage, err)
	}

	var eventType string
	if rawKind, ok := head["e"]; ok {
		if err := json.Unmarshal(rawKind, &eventType); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidMessage, err)
		}
	}

	switch Kind(eventType) {
	case KindExecutionReport:
		return classifyExecutionReport(raw)
	case KindAccountPosition:
		return classifyAccountPosition(raw)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, eventType)
	}
}

func classifyExecutionReport(raw []byte) (Event, error) {
	var wire executionReportWire
	if err := json.Unmarshal(raw, &wire); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidMessage, err)
	}

	if wire.Symbol == "" {
		return nil, fmt.Errorf("%w: 缺少 symbol", ErrInvalidMessage)
	}
	if wire.Side == "" {
		return nil, fmt.Errorf("%w: 缺少 side", ErrInvalidMessage)
	}
	if wire.OrderType == "" {
		return nil, fmt.Errorf("%w: 缺少 order type", ErrInvalidMessage)
	}
	if wire.ExecutionType == "" {
		return nil, fmt.Errorf("%w: 缺少 execution type", ErrInvalidMessage)
	}
	if wire.Status == "" {
		return nil, fmt.Errorf("%w: 缺少 order status", ErrInvalidMessage)
	}

	quantity, err := parseDecimal("quantity", wire.Quantity)
	if err != nil {
		return nil, err
	}
	price, err := parseDecimal("price", wire.Price)
	if err != nil {
		return nil, err
	}

	evt := OrderEvent{
		EventTime:         millis(wire.EventTime),
		Symbol:            wire.Symbol,
		ClientOrderID:     wire.ClientOrderID,
		Side:              wire.Side,
		OrderType:         wire.OrderType,
		TimeInForce:       wire.TimeInForce,
		Quantity:          quantity,
		Price:             price,
		StopPrice:         parseOptionalDecimal(wire.StopPrice),
		OrigClientOrderID: wire.OrigClientOrderID,
		ExecutionType:     wire.ExecutionType,
		Status:            wire.Status,
		RejectReason:      wire.RejectReason,
		OrderID:           wire.OrderID,
		LastQty:           parseOptionalDecimal(wire.LastQty),
		CumFilledQty:      parseOptionalDecimal(wire.CumFilledQty),
		LastPrice:         parseOptionalDecimal(wire.LastPrice),
		Commission:        parseOptionalDecimal(wire.Commission),
		CommissionAsset:   wire.CommissionAsset,
		TransactTime:      millis(wire.TransactTime),
		TradeID:           wire.TradeID,
		IsWorking:         wire.IsWorking,
		IsMaker:           wire.IsMaker,
		CumQuoteQty:       parseOptionalDecimal(wire.CumQuoteQty),
		LastQuoteQty:      parseOptionalDecimal(wire.LastQuoteQty),
		QuoteOrderQty:     parseOptionalDecimal(wire.QuoteOrderQty),
	}

	return evt, nil
}

func classifyAccountPosition(raw []byte) (Event, error) {
	var wire accountPositionWire
	if err := json.Unmarshal(raw, &wire); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidMessage, err)
	}

	balances := make([]Balance, 0, len(wire.Balances))
	for _, b := range wire.Balances {
		if b.Asset == "" {
			return nil, fmt.Errorf("%w: 余额条目缺少 asset", ErrInvalidMessage)
		}
		free, err := parseDecimal("free", b.Free)
		if err != nil {
			return nil, err
		}
		locked, err := parseDecimal("locked", b.Locked)
		if err != nil {
			return nil, err
		}
		balances = append(balances, Balance{Asset: b.Asset, Free: free, Locked: locked})
	}

	return AccountUpdateEvent{
		EventTime: millis(wire.EventTime),
		UpdateID:  wire.UpdateID,
		Balances:  balances,
	}, nil
}

func parseDecimal(field, value string) (float64, error) {
	if value == "" {
		return 0, fmt.Errorf("%w: 缺少 %s", ErrInvalidMessage, field)
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: 字段 %s 不是十进制数: %v", ErrInvalidMessage, field, err)
	}
	return parsed, nil
}

func parseOptionalDecimal(value string) float64 {
	if value == "" {
		return 0
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return 0
	}
	return parsed
}

func millis(ts int64) time.Time {
	if ts <= 0 {
		return time.Time{}
	}
	return time.UnixMilli(ts).UTC()
}
