package event

import (
	"errors"
	"testing"
	"time"
)

const sampleExecutionReport = `{
	"e": "executionReport",
	"E": 1499405658658,
	"s": "BTCUSDT",
	"c": "myOrder1",
	"S": "BUY",
	"o": "LIMIT",
	"f": "GTC",
	"q": "0.01",
	"p": "30000",
	"P": "0.00000000",
	"F": "0.00000000",
	"g": -1,
	"C": "",
	"x": "NEW",
	"X": "NEW",
	"r": "NONE",
	"i": 4293153,
	"l": "0.00000000",
	"z": "0.00000000",
	"L": "0.00000000",
	"n": "0",
	"N": null,
	"T": 1499405658657,
	"t": -1,
	"I": 8641984,
	"w": true,
	"m": false,
	"M": false,
	"O": 1499405658657,
	"Z": "0.00000000",
	"Y": "0.00000000",
	"Q": "0.00000000"
}`

func TestClassify_ExecutionReport(t *testing.T) {
	evt, err := Classify([]byte(sampleExecutionReport))
	if err != nil {
		t.Fatalf("Classify returned error: %v", err)
	}

	order, ok := evt.(OrderEvent)
	if !ok {
		t.Fatalf("expected OrderEvent, got %T", evt)
	}
	if order.Kind() != KindExecutionReport {
		t.Errorf("unexpected kind %q", order.Kind())
	}
	if order.Symbol != "BTCUSDT" {
		t.Errorf("symbol = %q, want BTCUSDT", order.Symbol)
	}
	if order.Side != "BUY" || order.OrderType != "LIMIT" || order.TimeInForce != "GTC" {
		t.Errorf("order fields not preserved: %+v", order)
	}
	if order.Quantity != 0.01 {
		t.Errorf("quantity = %v, want 0.01", order.Quantity)
	}
	if order.Price != 30000 {
		t.Errorf("price = %v, want 30000", order.Price)
	}
	if order.ExecutionType != "NEW" || order.Status != "NEW" {
		t.Errorf("execution fields not preserved: x=%q X=%q", order.ExecutionType, order.Status)
	}
	if order.OrderID != 4293153 {
		t.Errorf("order id = %d, want 4293153", order.OrderID)
	}
	if order.ClientOrderID != "myOrder1" {
		t.Errorf("client order id = %q", order.ClientOrderID)
	}
	if !order.IsWorking || order.IsMaker {
		t.Errorf("bool fields not preserved: w=%v m=%v", order.IsWorking, order.IsMaker)
	}
	if order.EventTime.IsZero() || order.TransactTime.IsZero() {
		t.Errorf("timestamps not set: %+v", order)
	}
}

// 交易所把 "f"/"F"、"i"/"I"、"m"/"M" 作为不同字段发送；解码必须
// 严格区分大小写，大写键不能污染小写字段（encoding/json 的大小写
// 回退只在没有精确匹配时发生）。
func TestClassify_UppercaseKeysDoNotClobberLowercase(t *testing.T) {
	raw := `{"e":"executionReport","E":1700000000000,"s":"ETHUSDT","S":"SELL",` +
		`"o":"LIMIT","f":"GTC","F":"0.10000000","q":"2","p":"1800",` +
		`"x":"NEW","X":"NEW","i":99,"I":12345,"m":true,"M":false,"O":1700000000001}`

	evt, err := Classify([]byte(raw))
	if err != nil {
		t.Fatalf("Classify returned error: %v", err)
	}

	order, ok := evt.(OrderEvent)
	if !ok {
		t.Fatalf("expected OrderEvent, got %T", evt)
	}
	if order.TimeInForce != "GTC" {
		t.Errorf("time in force = %q, want GTC", order.TimeInForce)
	}
	if order.OrderID != 99 {
		t.Errorf("order id = %d, want 99", order.OrderID)
	}
	if !order.IsMaker {
		t.Errorf("maker flag lost")
	}
	if want := time.UnixMilli(1700000000000).UTC(); !order.EventTime.Equal(want) {
		t.Errorf("event time = %v, want %v", order.EventTime, want)
	}
}

func TestClassify_AccountPosition(t *testing.T) {
	raw := `{
		"e": "outboundAccountPosition",
		"E": 1564034571105,
		"u": 1564034571073,
		"B": [
			{"a": "ETH", "f": "10000.000000", "l": "0.000000"},
			{"a": "BTC", "f": "1.5", "l": "0.25"}
		]
	}`

	evt, err := Classify([]byte(raw))
	if err != nil {
		t.Fatalf("Classify returned error: %v", err)
	}

	update, ok := evt.(AccountUpdateEvent)
	if !ok {
		t.Fatalf("expected AccountUpdateEvent, got %T", evt)
	}
	if update.UpdateID != 1564034571073 {
		t.Errorf("update id = %d", update.UpdateID)
	}
	if len(update.Balances) != 2 {
		t.Fatalf("expected 2 balances, got %d", len(update.Balances))
	}
	if update.Balances[0].Asset != "ETH" || update.Balances[0].Free != 10000 {
		t.Errorf("first balance not preserved: %+v", update.Balances[0])
	}
	if update.Balances[1].Locked != 0.25 {
		t.Errorf("locked balance = %v, want 0.25", update.Balances[1].Locked)
	}
}

func TestClassify_UnknownKind(t *testing.T) {
	evt, err := Classify([]byte(`{"e": "listStatus", "s": "BTCUSDT"}`))
	if !errors.Is(err, ErrUnknownKind) {
		t.Fatalf("expected ErrUnknownKind, got %v", err)
	}
	if evt != nil {
		t.Fatalf("expected no event for unknown kind, got %+v", evt)
	}
}

func TestClassify_InvalidMessages(t *testing.T) {
	cases := []struct {
		name string
		raw  string
	}{
		{"not json", `not json at all`},
		{"missing symbol", `{"e":"executionReport","S":"BUY","o":"LIMIT","x":"NEW","X":"NEW","q":"1","p":"1"}`},
		{"missing side", `{"e":"executionReport","s":"BTCUSDT","o":"LIMIT","x":"NEW","X":"NEW","q":"1","p":"1"}`},
		{"missing quantity", `{"e":"executionReport","s":"BTCUSDT","S":"BUY","o":"LIMIT","x":"NEW","X":"NEW","p":"1"}`},
		{"mistyped quantity", `{"e":"executionReport","s":"BTCUSDT","S":"BUY","o":"LIMIT","x":"NEW","X":"NEW","q":"abc","p":"1"}`},
		{"balance missing asset", `{"e":"outboundAccountPosition","E":1,"u":1,"B":[{"f":"1","l":"0"}]}`},
		{"balance mistyped", `{"e":"outboundAccountPosition","E":1,"u":1,"B":[{"a":"BTC","f":"x","l":"0"}]}`},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			evt, err := Classify([]byte(tc.raw))
			if !errors.Is(err, ErrInvalidMessage) {
				t.Fatalf("expected ErrInvalidMessage, got %v", err)
			}
			if evt != nil {
				t.Fatalf("expected no event, got %+v", evt)
			}
		})
	}
}
