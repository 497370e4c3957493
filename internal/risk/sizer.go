package risk

import (
	"errors"
	"fmt"
	"math"
)

// ErrInvalidParameter 表示仓位计算参数不合法。
var ErrInvalidParameter = errors.New("risk: 仓位计算参数无效")

// Parameters 为仓位计算输入，仅用于计算，不做持久化。
type Parameters struct {
	AccountBalance float64
	RiskPercent    float64
	EntryPrice     float64
	StopPrice      float64
}

// Result 为仓位计算的明细结果。
type Result struct {
	RiskAmount   float64
	StopDistance float64
	Quantity     float64
	Shares       int64
}

// ComputeSize 按 账户余额 * 风险百分比 / 止损距离 计算下单数量。
func ComputeSize(p Parameters) (float64, error) {
	result, err := Evaluate(p)
	if err != nil {
		return 0, err
	}
	return result.Quantity, nil
}

// Evaluate 计算仓位并返回风险金额、止损距离等中间值。
func Evaluate(p Parameters) (Result, error) {
	if err := p.validate(); err != nil {
		return Result{}, err
	}

	riskAmount := p.AccountBalance * p.RiskPercent / 100
	stopDistance := math.Abs(p.EntryPrice - p.StopPrice)
	quantity := riskAmount / stopDistance

	return Result{
		RiskAmount:   riskAmount,
		StopDistance: stopDistance,
		Quantity:     quantity,
		Shares:       WholeShares(quantity),
	}, nil
}

// WholeShares 将数量向下取整为整股。
func WholeShares(quantity float64) int64 {
	if quantity <= 0 || math.IsNaN(quantity) || math.IsInf(quantity, 0) {
		return 0
	}
	if quantity >= math.MaxInt64 {
		return math.MaxInt64
	}
	return int64(math.Floor(quantity))
}

func (p Parameters) validate() error {
	for name, v := range map[string]float64{
		"account_balance": p.AccountBalance,
		"risk_percent":    p.RiskPercent,
		"entry_price":     p.EntryPrice,
		"stop_price":      p.StopPrice,
	} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("%w: %s 必须为有限数值", ErrInvalidParameter, name)
		}
	}
	if p.AccountBalance < 0 {
		return fmt.Errorf("%w: 账户余额不能为负", ErrInvalidParameter)
	}
	if p.RiskPercent <= 0 || p.RiskPercent > 100 {
		return fmt.Errorf("%w: 风险百分比必须位于(0,100]", ErrInvalidParameter)
	}
	if p.EntryPrice <= 0 || p.StopPrice <= 0 {
		return fmt.Errorf("%w: 入场价与止损价必须大于0", ErrInvalidParameter)
	}
	if p.EntryPrice == p.StopPrice {
		return fmt.Errorf("%w: 止损距离为0", ErrInvalidParameter)
	}
	return nil
}
