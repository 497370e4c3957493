package gateway

import (
	"time"

	"trades-cli/internal/order"
)

const (
	// TagTotalCashBalance 为现金余额字段名。
	TagTotalCashBalance = "TotalCashBalance"
	// TagNetLiquidation 为账户净值字段名。
	TagNetLiquidation = "NetLiquidation"
	// TagBuyingPower 为购买力字段名。
	TagBuyingPower = "BuyingPower"
)

// AccountValue 为单个账户汇总字段。
type AccountValue struct {
	Account  string  `json:"account,omitempty"`
	Tag      string  `json:"tag"`
	Currency string  `json:"currency"`
	Value    float64 `json:"value"`
}

// ContractDetails 描述标的及其交易时段。
type ContractDetails struct {
	Instrument   order.Instrument `json:"instrument"`
	LongName     string           `json:"long_name,omitempty"`
	TimeZone     string           `json:"time_zone,omitempty"`
	TradingHours string           `json:"trading_hours,omitempty"`
	MarketOpen   bool             `json:"market_open"`
	NextOpen     time.Time        `json:"next_open,omitempty"`
	NextClose    time.Time        `json:"next_close,omitempty"`
}

// Quote 为报价快照，缺失字段为 0。
type Quote struct {
	Instrument order.Instrument `json:"instrument"`
	Bid        float64          `json:"bid"`
	Ask        float64          `json:"ask"`
	Last       float64          `json:"last"`
	Time       time.Time        `json:"time"`
}

// HasBidAsk 判断买卖报价是否齐全。
func (q Quote) HasBidAsk() bool {
	return q.Bid > 0 && q.Ask > 0
}

// Spread 返回买卖价差。
func (q Quote) Spread() float64 {
	if !q.HasBidAsk() {
		return 0
	}
	return q.Ask - q.Bid
}

// Price 返回最新价，无成交价时回退到买卖中间价。
func (q Quote) Price() float64 {
	if q.Last > 0 {
		return q.Last
	}
	if q.HasBidAsk() {
		return (q.Bid + q.Ask) / 2
	}
	return 0
}

// HistoricalRequest 描述历史K线请求，格式沿用 "1 D"、"1 min" 写法。
type HistoricalRequest struct {
	Duration string
	BarSize  string
	EndTime  time.Time
}

// Bar 为单根K线。
type Bar struct {
	Time   time.Time `json:"time"`
	Open   float64   `json:"open"`
	High   float64   `json:"high"`
	Low    float64   `json:"low"`
	Close  float64   `json:"close"`
	Volume float64   `json:"volume"`
}

// Position 为单个持仓。
type Position struct {
	Account    string           `json:"account,omitempty"`
	Instrument order.Instrument `json:"instrument"`
	Quantity   float64          `json:"quantity"`
	AvgCost    float64          `json:"avg_cost"`
}

// OrderSnapshot 为网关侧订单视图。
type OrderSnapshot struct {
	ID     string       `json:"id"`
	Token  string       `json:"token,omitempty"`
	Spec   order.Spec   `json:"spec"`
	Status order.Status `json:"status"`
	Filled float64      `json:"filled"`
}

// MarginImpact 为试算结果。
type MarginImpact struct {
	Currency           string  `json:"currency"`
	Notional           float64 `json:"notional"`
	InitMarginChange   float64 `json:"init_margin_change"`
	MaintMarginChange  float64 `json:"maint_margin_change"`
	EquityWithLoanDiff float64 `json:"equity_with_loan_change"`
	Commission         float64 `json:"commission"`
}

// Event 为网关推送的订单状态事件。
type Event struct {
	Token   string       `json:"token,omitempty"`
	OrderID string       `json:"order_id,omitempty"`
	Status  order.Status `json:"status,omitempty"`
	Reason  string       `json:"reason,omitempty"`
	Time    time.Time    `json:"time"`
}
