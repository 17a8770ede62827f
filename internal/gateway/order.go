package gateway

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	ccxt "github.com/ccxt/ccxt/go/v4"
	"go.uber.org/zap"

	"copy-relay/internal/config"
)

type orderClient interface {
	CreateMarketOrder(symbol string, side string, amount float64, options ...ccxt.CreateMarketOrderOptions) (ccxt.Order, error)
	CreateLimitOrder(symbol string, side string, amount float64, price float64, options ...ccxt.CreateLimitOrderOptions) (ccxt.Order, error)
}

// OrderPlacer 按账户凭证向交易所提交委托。
// ccxt 客户端按 API Key 缓存复用，避免每笔委托重建会话。
type OrderPlacer struct {
	cfg      config.ExchangeConfig
	logger   *zap.Logger
	maxRetry int

	mu      sync.Mutex
	clients map[string]orderClient

	// 测试钩子；为 nil 时走 ccxt。
	newClient func(creds Credentials) orderClient
}

// NewOrderPlacer 创建下单网关。
func NewOrderPlacer(cfg config.ExchangeConfig, maxRetry int, logger *zap.Logger) *OrderPlacer {
	if logger == nil {
		logger = zap.NewNop()
	}
	if maxRetry <= 0 {
		maxRetry = 3
	}
	return &OrderPlacer{
		cfg:      cfg,
		logger:   logger,
		maxRetry: maxRetry,
		clients:  make(map[string]orderClient),
	}
}

// PlaceOrder 用给定凭证提交一笔委托，内部按可重试错误做有界重试。
// ClientOrderID 透传给交易所，重试复用同一个值以便交易所去重。
func (p *OrderPlacer) PlaceOrder(ctx context.Context, creds Credentials, instruction OrderInstruction) (OrderResult, error) {
	client := p.clientFor(creds)

	params := map[string]interface{}{}
	if instruction.ClientOrderID != "" {
		params["newClientOrderId"] = instruction.ClientOrderID
	}
	if instruction.TimeInForce != "" {
		params["timeInForce"] = strings.ToUpper(instruction.TimeInForce)
	}

	var order ccxt.Order
	var err error
	for attempt := 1; attempt <= p.maxRetry; attempt++ {
		switch strings.ToLower(instruction.Type) {
		case "market":
			var opts []ccxt.CreateMarketOrderOptions
			if len(params) > 0 {
				opts = append(opts, ccxt.WithCreateMarketOrderParams(params))
			}
			order, err = client.CreateMarketOrder(instruction.Symbol, string(instruction.Side), instruction.Quantity, opts...)
		case "limit":
			var opts []ccxt.CreateLimitOrderOptions
			if len(params) > 0 {
				opts = append(opts, ccxt.WithCreateLimitOrderParams(params))
			}
			order, err = client.CreateLimitOrder(instruction.Symbol, string(instruction.Side), instruction.Quantity, instruction.Price, opts...)
		default:
			return OrderResult{}, fmt.Errorf("gateway: 不支持的订单类型 %s", instruction.Type)
		}

		if err == nil {
			return orderResultFrom(order, instruction), nil
		}

		if !IsRetryable(err) {
			return OrderResult{}, err
		}

		wait := time.Duration(attempt) * time.Second
		p.logger.Warn("下单失败，准备重试",
			zap.String("symbol", instruction.Symbol),
			zap.Int("attempt", attempt),
			zap.Duration("wait", wait),
			zap.Error(err),
		)

		select {
		case <-ctx.Done():
			return OrderResult{}, ctx.Err()
		case <-time.After(wait):
		}
	}

	return OrderResult{}, fmt.Errorf("gateway: 重试后仍下单失败: %w", err)
}

func (p *OrderPlacer) clientFor(creds Credentials) orderClient {
	p.mu.Lock()
	defer p.mu.Unlock()

	if client, ok := p.clients[creds.APIKey]; ok {
		return client
	}

	var client orderClient
	if p.newClient != nil {
		client = p.newClient(creds)
	} else {
		ex := ccxt.NewBinance(map[string]interface{}{
			"enableRateLimit": true,
			"apiKey":          creds.APIKey,
			"secret":          creds.APISecret,
		})
		if p.cfg.UseSandbox {
			ex.SetSandboxMode(true)
		}
		client = ex
	}

	p.clients[creds.APIKey] = client
	return client
}

func orderResultFrom(order ccxt.Order, instruction OrderInstruction) OrderResult {
	result := OrderResult{ClientOrderID: instruction.ClientOrderID}
	if order.Id != nil {
		result.OrderID = *order.Id
	}
	if order.ClientOrderId != nil {
		result.ClientOrderID = *order.ClientOrderId
	}
	if order.Status != nil {
		result.Status = *order.Status
	}
	return result
}
