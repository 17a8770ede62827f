package gateway

// Credentials 为某个账户的交易所 API 凭证。
type Credentials struct {
	APIKey    string
	APISecret string
}

// SessionToken 为交易所签发的流订阅令牌（listen key）。
// 仅在单次流会话存活期间有效，不做持久化。
type SessionToken string

// OrderSide 表示下单方向。
type OrderSide string

const (
	OrderSideBuy  OrderSide = "buy"
	OrderSideSell OrderSide = "sell"
)

// OrderInstruction 抽象一笔待提交的委托。
type OrderInstruction struct {
	Symbol        string
	Side          OrderSide
	Type          string // market | limit
	TimeInForce   string
	Quantity      float64
	Price         float64
	ClientOrderID string
}

// OrderResult 为下单回执摘要。
type OrderResult struct {
	OrderID       string
	ClientOrderID string
	Status        string
}
