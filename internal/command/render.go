package command

import (
	"errors"
	"fmt"
	"io"
	"math"
	"text/tabwriter"
	"time"

	"trades-cli/internal/execution"
	"trades-cli/internal/gateway"
	"trades-cli/internal/indicator"
	"trades-cli/internal/order"
)

func newTable(out io.Writer) *tabwriter.Writer {
	return tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
}

func renderContract(out io.Writer, d gateway.ContractDetails) {
	state := "休市"
	if d.MarketOpen {
		state = "开市"
	}
	fmt.Fprintf(out, "%s %s 当前%s\n", d.Instrument.Symbol, d.LongName, state)
	if d.TradingHours != "" {
		fmt.Fprintf(out, "交易时段 (%s): %s\n", d.TimeZone, d.TradingHours)
	}
	if !d.NextOpen.IsZero() && !d.MarketOpen {
		fmt.Fprintf(out, "下次开市: %s\n", d.NextOpen.Format(time.RFC3339))
	}
	if !d.NextClose.IsZero() && d.MarketOpen {
		fmt.Fprintf(out, "下次收市: %s\n", d.NextClose.Format(time.RFC3339))
	}
}

func renderPositions(out io.Writer, positions []gateway.Position) {
	if len(positions) == 0 {
		fmt.Fprintln(out, "无持仓")
		return
	}
	w := newTable(out)
	fmt.Fprintln(w, "标的\t数量\t均价\t账户")
	for _, p := range positions {
		fmt.Fprintf(w, "%s\t%g\t%.2f\t%s\n", p.Instrument.Symbol, p.Quantity, p.AvgCost, p.Account)
	}
	w.Flush()
}

func renderBars(out io.Writer, bars []gateway.Bar) {
	w := newTable(out)
	fmt.Fprintln(w, "时间\t开\t高\t低\t收\t量")
	for _, b := range bars {
		fmt.Fprintf(w, "%s\t%.2f\t%.2f\t%.2f\t%.2f\t%.0f\n",
			b.Time.Format("2006-01-02 15:04"), b.Open, b.High, b.Low, b.Close, b.Volume)
	}
	w.Flush()
}

func renderSummary(out io.Writer, s indicator.Summary) {
	w := newTable(out)
	fmt.Fprintf(w, "收盘\t%s\t涨跌%%\t%s\n", num(s.Close), num(s.ChangePct))
	fmt.Fprintf(w, "最高\t%s\t最低\t%s\n", num(s.High), num(s.Low))
	fmt.Fprintf(w, "SMA20\t%s\tRSI14\t%s\n", num(s.SMA20), num(s.RSI))
	fmt.Fprintf(w, "EMA12\t%s\tEMA26\t%s\n", num(s.EMA12), num(s.EMA26))
	fmt.Fprintf(w, "MACD\t%s\t信号\t%s\n", num(s.MACD.Value), num(s.MACD.Signal))
	fmt.Fprintf(w, "布林上轨\t%s\t布林下轨\t%s\n", num(s.Bollinger.Upper), num(s.Bollinger.Lower))
	fmt.Fprintf(w, "ATR14\t%s\t量比\t%s\n", num(s.ATR.Absolute), num(s.Volume.Ratio))
	w.Flush()
}

func num(v float64) string {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return "-"
	}
	return fmt.Sprintf("%.2f", v)
}

func renderBatch(out io.Writer, result execution.BatchResult) {
	w := newTable(out)
	for _, o := range result.Outcomes {
		if o.OK() {
			fmt.Fprintf(w, "[%d]\t%s\t已提交\t%s\n", o.Index+1, o.Spec, o.Token)
			continue
		}
		if errors.Is(o.Err, order.ErrOutcomeUnknown) {
			fmt.Fprintf(w, "[%d]\t%s\t结果未知\t%s\n", o.Index+1, o.Spec, o.Token)
			continue
		}
		fmt.Fprintf(w, "[%d]\t%s\t失败\t%v\n", o.Index+1, o.Spec, o.Err)
	}
	w.Flush()
	fmt.Fprintf(out, "批量下单完成: 成功 %d 笔，失败 %d 笔\n", len(result.Succeeded()), len(result.Failed()))
}

func renderOrder(out io.Writer, o order.Order) {
	fmt.Fprintf(out, "订单 %s: %s\n", o.ID, o.Spec)
	fmt.Fprintf(out, "状态: %s (版本 %d，更新于 %s)\n", o.Status, o.Version, o.UpdatedAt.Format(time.RFC3339))
	if o.Reason != "" {
		fmt.Fprintf(out, "原因: %s\n", o.Reason)
	}
	if o.Replaces != "" {
		fmt.Fprintf(out, "替换自: %s\n", o.Replaces)
	}
	if o.ReplacedBy != "" {
		fmt.Fprintf(out, "已被替换为: %s\n", o.ReplacedBy)
	}
}

func renderOrders(out io.Writer, orders []order.Order) {
	if len(orders) == 0 {
		fmt.Fprintln(out, "本次会话暂无订单")
		return
	}
	w := newTable(out)
	fmt.Fprintln(w, "编号\t订单\t状态\t令牌")
	for _, o := range orders {
		id := o.ID
		if id == "" {
			id = "-"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", id, o.Spec, o.Status, o.Token)
	}
	w.Flush()
}

func renderSnapshots(out io.Writer, snapshots []gateway.OrderSnapshot) {
	if len(snapshots) == 0 {
		fmt.Fprintln(out, "网关无挂单")
		return
	}
	w := newTable(out)
	fmt.Fprintln(w, "编号\t订单\t状态\t已成交")
	for _, s := range snapshots {
		fmt.Fprintf(w, "%s\t%s\t%s\t%g\n", s.ID, s.Spec, s.Status, s.Filled)
	}
	w.Flush()
}

func renderImpact(out io.Writer, spec order.Spec, m gateway.MarginImpact) {
	fmt.Fprintf(out, "试算 %s\n", spec)
	w := newTable(out)
	fmt.Fprintf(w, "名义金额\t%.2f %s\n", m.Notional, m.Currency)
	fmt.Fprintf(w, "初始保证金变化\t%.2f\n", m.InitMarginChange)
	fmt.Fprintf(w, "维持保证金变化\t%.2f\n", m.MaintMarginChange)
	if m.Commission > 0 {
		fmt.Fprintf(w, "预估佣金\t%.2f\n", m.Commission)
	}
	w.Flush()
}

func renderHelp(out io.Writer) {
	w := newTable(out)
	for _, def := range definitions {
		fmt.Fprintf(w, "%s\t%s\n", def.usage, def.summary)
	}
	w.Flush()
}
