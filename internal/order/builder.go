package order

import (
	"math"
	"strconv"
	"strings"
)

// Request 为构造 Spec 的原始入参，价格为 0 视为未提供。
type Request struct {
	Instrument Instrument
	Side       Side
	Quantity   int64
	Kind       Kind
	LimitPrice float64
	StopPrice  float64
}

// Build 校验入参并生成不可变的 Spec，无副作用。
func Build(req Request) (Spec, error) {
	symbol := strings.ToUpper(strings.TrimSpace(req.Instrument.Symbol))
	if symbol == "" {
		return Spec{}, invalid("symbol", "", "不能为空")
	}
	inst := req.Instrument
	inst.Symbol = symbol
	if inst.Exchange == "" {
		inst.Exchange = DefaultExchange
	}
	if inst.Currency == "" {
		inst.Currency = DefaultCurrency
	}

	if !req.Side.Valid() {
		return Spec{}, invalid("side", string(req.Side), "必须为 BUY 或 SELL")
	}
	if req.Quantity <= 0 {
		return Spec{}, invalid("quantity", strconv.FormatInt(req.Quantity, 10), "必须为正整数")
	}
	if !req.Kind.Valid() {
		return Spec{}, invalid("kind", string(req.Kind), "不支持的订单类型")
	}

	if err := checkPrice("limit_price", req.LimitPrice); err != nil {
		return Spec{}, err
	}
	if err := checkPrice("stop_price", req.StopPrice); err != nil {
		return Spec{}, err
	}

	switch req.Kind {
	case KindMarket:
		if req.LimitPrice != 0 {
			return Spec{}, invalid("limit_price", formatPrice(req.LimitPrice), "市价单不接受限价")
		}
		if req.StopPrice != 0 {
			return Spec{}, invalid("stop_price", formatPrice(req.StopPrice), "市价单不接受止损价")
		}
	case KindLimit:
		if req.LimitPrice <= 0 {
			return Spec{}, invalid("limit_price", formatPrice(req.LimitPrice), "限价单必须提供大于0的限价")
		}
		if req.StopPrice != 0 {
			return Spec{}, invalid("stop_price", formatPrice(req.StopPrice), "限价单不接受止损价")
		}
	case KindStop:
		if req.StopPrice <= 0 {
			return Spec{}, invalid("stop_price", formatPrice(req.StopPrice), "止损单必须提供大于0的止损价")
		}
		if req.LimitPrice != 0 {
			return Spec{}, invalid("limit_price", formatPrice(req.LimitPrice), "止损单不接受限价")
		}
	}

	return Spec{
		Instrument: inst,
		Side:       req.Side,
		Quantity:   req.Quantity,
		Kind:       req.Kind,
		LimitPrice: req.LimitPrice,
		StopPrice:  req.StopPrice,
	}, nil
}

// Market 构造市价单。
func Market(inst Instrument, side Side, qty int64) (Spec, error) {
	return Build(Request{Instrument: inst, Side: side, Quantity: qty, Kind: KindMarket})
}

// Limit 构造限价单。
func Limit(inst Instrument, side Side, qty int64, price float64) (Spec, error) {
	return Build(Request{Instrument: inst, Side: side, Quantity: qty, Kind: KindLimit, LimitPrice: price})
}

// Stop 构造止损单。
func Stop(inst Instrument, side Side, qty int64, stop float64) (Spec, error) {
	return Build(Request{Instrument: inst, Side: side, Quantity: qty, Kind: KindStop, StopPrice: stop})
}

func checkPrice(field string, price float64) error {
	if math.IsNaN(price) || math.IsInf(price, 0) {
		return invalid(field, formatPrice(price), "必须为有限数值")
	}
	if price < 0 {
		return invalid(field, formatPrice(price), "不能为负")
	}
	return nil
}

func formatPrice(price float64) string {
	return strconv.FormatFloat(price, 'f', -1, 64)
}
