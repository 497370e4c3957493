package order

import (
	"fmt"
	"strings"
	"time"
)

const (
	// DefaultExchange 为智能路由交易所代码。
	DefaultExchange = "SMART"
	// DefaultCurrency 为默认计价货币。
	DefaultCurrency = "USD"
)

// Side 表示买卖方向。
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// Valid 判断方向是否合法。
func (s Side) Valid() bool {
	return s == SideBuy || s == SideSell
}

// ParseSide 解析大小写不敏感的方向字符串。
func ParseSide(raw string) (Side, bool) {
	side := Side(strings.ToUpper(strings.TrimSpace(raw)))
	return side, side.Valid()
}

// Kind 表示订单类型。
type Kind string

const (
	KindMarket Kind = "MARKET"
	KindLimit  Kind = "LIMIT"
	KindStop   Kind = "STOP"
)

// Valid 判断订单类型是否受支持。
func (k Kind) Valid() bool {
	switch k {
	case KindMarket, KindLimit, KindStop:
		return true
	default:
		return false
	}
}

// Instrument 描述可交易标的，构造后不可变。
type Instrument struct {
	Symbol   string `json:"symbol"`
	Exchange string `json:"exchange"`
	Currency string `json:"currency"`
}

// Stock 构造默认走 SMART 路由、以美元计价的股票标的。
func Stock(symbol string) Instrument {
	return Instrument{
		Symbol:   strings.ToUpper(strings.TrimSpace(symbol)),
		Exchange: DefaultExchange,
		Currency: DefaultCurrency,
	}
}

func (i Instrument) String() string {
	return fmt.Sprintf("%s@%s/%s", i.Symbol, i.Exchange, i.Currency)
}

// Spec 为经过校验的下单意图，只能通过 Build 构造。
type Spec struct {
	Instrument Instrument `json:"instrument"`
	Side       Side       `json:"side"`
	Quantity   int64      `json:"quantity"`
	Kind       Kind       `json:"kind"`
	LimitPrice float64    `json:"limit_price,omitempty"`
	StopPrice  float64    `json:"stop_price,omitempty"`
}

// WithLimitPrice 返回改价后的新 Spec，原值保持不变。
func (s Spec) WithLimitPrice(price float64) (Spec, error) {
	return Build(Request{
		Instrument: s.Instrument,
		Side:       s.Side,
		Quantity:   s.Quantity,
		Kind:       s.Kind,
		LimitPrice: price,
	})
}

func (s Spec) String() string {
	switch s.Kind {
	case KindLimit:
		return fmt.Sprintf("%s %s %d LIMIT @ %.2f", s.Side, s.Instrument.Symbol, s.Quantity, s.LimitPrice)
	case KindStop:
		return fmt.Sprintf("%s %s %d STOP @ %.2f", s.Side, s.Instrument.Symbol, s.Quantity, s.StopPrice)
	default:
		return fmt.Sprintf("%s %s %d MARKET", s.Side, s.Instrument.Symbol, s.Quantity)
	}
}

// Order 为 Tracker 持有的订单状态，对外只暴露快照副本。
type Order struct {
	ID         string    `json:"id,omitempty"`
	Token      string    `json:"token"`
	Spec       Spec      `json:"spec"`
	Status     Status    `json:"status"`
	Version    uint64    `json:"version"`
	Reason     string    `json:"reason,omitempty"`
	Replaces   string    `json:"replaces,omitempty"`
	ReplacedBy string    `json:"replaced_by,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// Terminal 判断订单是否已进入终态。
func (o Order) Terminal() bool {
	return o.Status.Terminal()
}

// Handle 指向一笔已登记但可能尚未获得网关编号的订单。
type Handle struct {
	Token    string
	Replaces string
}
