package command

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"go.uber.org/zap"

	"trades-cli/internal/execution"
	"trades-cli/internal/gateway"
	"trades-cli/internal/indicator"
	"trades-cli/internal/metrics"
	"trades-cli/internal/order"
	"trades-cli/internal/risk"
	"trades-cli/internal/store"
)

const (
	defaultPrompt       = ">>> "
	defaultAckTimeout   = 5 * time.Second
	defaultQuoteTimeout = 3 * time.Second
	defaultBarsTimeout  = 15 * time.Second
	historicalTail      = 20
)

// Journal 记录每条命令的执行结果与网关异常。
type Journal interface {
	RecordCommand(name, raw string, err error)
	RecordError(msg string, err error, fields map[string]interface{})
}

// Deps 为 Dispatcher 的协作者，Session、Tracker、Trader 必填。
type Deps struct {
	Session    gateway.Session
	Tracker    *order.Tracker
	Trader     execution.Trader
	Indicators *indicator.Calculator
	Archive    *store.BarArchive
	Metrics    *metrics.Metrics
	Journal    Journal
}

// Options 控制命令行为。
type Options struct {
	Currency     string
	Prompt       string
	AckTimeout   time.Duration
	QuoteTimeout time.Duration
	BarsTimeout  time.Duration
	Duration     string
	BarSize      string
}

type handler func(ctx context.Context, cmd Command) error

// Dispatcher 逐条解析并执行命令，所有错误在此处被渲染而不会中断循环。
type Dispatcher struct {
	deps     Deps
	opts     Options
	out      io.Writer
	logger   *zap.Logger
	handlers map[string]handler
}

// NewDispatcher 创建命令分发器。
func NewDispatcher(deps Deps, opts Options, out io.Writer, logger *zap.Logger) (*Dispatcher, error) {
	if deps.Session == nil || deps.Tracker == nil || deps.Trader == nil {
		return nil, errors.New("command: session、tracker 与 trader 不能为空")
	}
	if out == nil {
		out = io.Discard
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if deps.Indicators == nil {
		deps.Indicators = indicator.NewCalculator()
	}
	if opts.Currency == "" {
		opts.Currency = order.DefaultCurrency
	}
	opts.Currency = strings.ToUpper(opts.Currency)
	if opts.Prompt == "" {
		opts.Prompt = defaultPrompt
	}
	if opts.AckTimeout <= 0 {
		opts.AckTimeout = defaultAckTimeout
	}
	if opts.QuoteTimeout <= 0 {
		opts.QuoteTimeout = defaultQuoteTimeout
	}
	if opts.BarsTimeout <= 0 {
		opts.BarsTimeout = defaultBarsTimeout
	}
	if opts.Duration == "" {
		opts.Duration = gateway.DefaultDuration
	}
	if opts.BarSize == "" {
		opts.BarSize = gateway.DefaultBarSize
	}

	d := &Dispatcher{deps: deps, opts: opts, out: out, logger: logger}
	d.handlers = map[string]handler{
		CmdFetchBalance:     d.fetchBalance,
		CmdIsMarketOpen:     d.isMarketOpen,
		CmdFetchPositions:   d.fetchPositions,
		CmdGetPrice:         d.getPrice,
		CmdFetchHistorical:  d.fetchHistorical,
		CmdBidAskSpread:     d.bidAskSpread,
		CmdPlaceMarketOrder: d.placeMarketOrder,
		CmdPlaceLimitOrder:  d.placeLimitOrder,
		CmdPlaceBatchOrders: d.placeBatchOrders,
		CmdChangeLimitPrice: d.changeLimitPrice,
		CmdGetOrderStatus:   d.getOrderStatus,
		CmdCancelOrder:      d.cancelOrder,
		CmdSetStopLoss:      d.setStopLoss,
		CmdCalculatePosSize: d.calculatePosSize,
		CmdTestOrder:        d.testOrder,
		CmdOpenOrders:       d.openOrders,
		CmdOrders:           d.listOrders,
		CmdHelp:             d.help,
		CmdExit:             func(context.Context, Command) error { return nil },
	}
	return d, nil
}

// Run 循环读取命令直到 exit、输入结束或 ctx 取消。
func (d *Dispatcher) Run(ctx context.Context, in io.Reader) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	lines := make(chan string)
	readErr := make(chan error, 1)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
		readErr <- scanner.Err()
	}()

	fmt.Fprintln(d.out, "输入 help 查看可用命令")
	for {
		fmt.Fprint(d.out, d.opts.Prompt)

		var (
			line string
			ok   bool
		)
		select {
		case <-ctx.Done():
			fmt.Fprintln(d.out)
			return nil
		case line, ok = <-lines:
		}
		if !ok {
			fmt.Fprintln(d.out)
			select {
			case err := <-readErr:
				if err != nil {
					return fmt.Errorf("command: 读取输入失败: %w", err)
				}
			default:
			}
			return nil
		}

		quit, err := d.Dispatch(ctx, line)
		if err != nil {
			d.renderError(err)
		}
		if quit {
			fmt.Fprintln(d.out, "再见！")
			return nil
		}
	}
}

// Dispatch 执行一行命令，返回是否需要退出。
func (d *Dispatcher) Dispatch(ctx context.Context, line string) (bool, error) {
	cmd, err := Parse(line)
	if errors.Is(err, ErrEmpty) {
		return false, nil
	}
	if err != nil {
		name := "unknown"
		var verr *order.ValidationError
		if errors.As(err, &verr) {
			name = verr.Command
		}
		d.record(name, line, err)
		return false, err
	}

	err = d.handlers[cmd.Name](ctx, cmd)
	var verr *order.ValidationError
	if errors.As(err, &verr) && verr.Command == "" {
		verr.Command = cmd.Name
	}
	d.record(cmd.Name, cmd.Raw, err)
	return cmd.Name == CmdExit, err
}

func (d *Dispatcher) record(name, raw string, err error) {
	d.deps.Metrics.RecordCommand(name, err)
	if d.deps.Journal != nil {
		d.deps.Journal.RecordCommand(name, raw, err)
		if gatewayFailure(err) {
			d.deps.Journal.RecordError("网关请求失败", err, map[string]interface{}{"command": name, "raw": raw})
		}
	}
	if err != nil {
		d.logger.Debug("命令执行失败", zap.String("command", name), zap.Error(err))
	}
}

// gatewayFailure 判断错误是否来自网关交互，参数错误与未知命令不计入。
func gatewayFailure(err error) bool {
	if err == nil {
		return false
	}
	for _, target := range []error{
		gateway.ErrConnection, gateway.ErrTimeout, gateway.ErrRejected, gateway.ErrThrottled,
		gateway.ErrClosed, order.ErrOutcomeUnknown, order.ErrReplaceFailed, order.ErrTimeout,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

// bounded 为限时等待的网关调用提供上下文，超时统一映射为 gateway.ErrTimeout。
func bounded(ctx context.Context, timeout time.Duration, fn func(ctx context.Context) error) error {
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	err := fn(callCtx)
	if err != nil && errors.Is(callCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
		return fmt.Errorf("%w: %v", gateway.ErrTimeout, err)
	}
	return err
}

func (d *Dispatcher) fetchBalance(ctx context.Context, cmd Command) error {
	currency := d.opts.Currency
	if len(cmd.Args) == 1 {
		currency = strings.ToUpper(cmd.Args[0])
	}

	var values []gateway.AccountValue
	err := bounded(ctx, d.opts.QuoteTimeout, func(ctx context.Context) error {
		var err error
		values, err = d.deps.Session.AccountValues(ctx)
		return err
	})
	if err != nil {
		return fmt.Errorf("command: 查询账户失败: %w", err)
	}

	for _, v := range values {
		if v.Tag == gateway.TagTotalCashBalance && strings.EqualFold(v.Currency, currency) {
			fmt.Fprintf(d.out, "现金余额 (%s): %.2f\n", currency, v.Value)
			return nil
		}
	}
	fmt.Fprintf(d.out, "未找到 %s 现金余额\n现金余额 (%s): 0.00\n", currency, currency)
	return nil
}

func (d *Dispatcher) isMarketOpen(ctx context.Context, cmd Command) error {
	symbol, err := parseSymbol(cmd.Name, cmd.Args[0])
	if err != nil {
		return err
	}

	var details gateway.ContractDetails
	err = bounded(ctx, d.opts.QuoteTimeout, func(ctx context.Context) error {
		details, err = d.deps.Session.ContractDetails(ctx, order.Stock(symbol))
		return err
	})
	if err != nil {
		return fmt.Errorf("command: 查询 %s 合约信息失败: %w", symbol, err)
	}
	renderContract(d.out, details)
	return nil
}

func (d *Dispatcher) fetchPositions(ctx context.Context, _ Command) error {
	var positions []gateway.Position
	err := bounded(ctx, d.opts.QuoteTimeout, func(ctx context.Context) error {
		var err error
		positions, err = d.deps.Session.Positions(ctx)
		return err
	})
	if err != nil {
		return fmt.Errorf("command: 查询持仓失败: %w", err)
	}
	renderPositions(d.out, positions)
	return nil
}

func (d *Dispatcher) quote(ctx context.Context, cmd Command) (gateway.Quote, error) {
	symbol, err := parseSymbol(cmd.Name, cmd.Args[0])
	if err != nil {
		return gateway.Quote{}, err
	}
	var q gateway.Quote
	err = bounded(ctx, d.opts.QuoteTimeout, func(ctx context.Context) error {
		q, err = d.deps.Session.SnapshotQuote(ctx, order.Stock(symbol))
		return err
	})
	if err != nil {
		return gateway.Quote{}, fmt.Errorf("command: 查询 %s 报价失败: %w", symbol, err)
	}
	if q.Instrument.Symbol == "" {
		q.Instrument = order.Stock(symbol)
	}
	return q, nil
}

func (d *Dispatcher) getPrice(ctx context.Context, cmd Command) error {
	q, err := d.quote(ctx, cmd)
	if err != nil {
		return err
	}
	price := q.Price()
	if price <= 0 {
		fmt.Fprintf(d.out, "%s 暂无可用价格\n", q.Instrument.Symbol)
		return nil
	}
	fmt.Fprintf(d.out, "%s 最新价: %.2f\n", q.Instrument.Symbol, price)
	return nil
}

func (d *Dispatcher) bidAskSpread(ctx context.Context, cmd Command) error {
	q, err := d.quote(ctx, cmd)
	if err != nil {
		return err
	}
	if !q.HasBidAsk() {
		fmt.Fprintf(d.out, "%s 买卖价差不可用\n", q.Instrument.Symbol)
		return nil
	}
	fmt.Fprintf(d.out, "%s 买一: %.2f 卖一: %.2f 价差: %.4f\n", q.Instrument.Symbol, q.Bid, q.Ask, q.Spread())
	return nil
}

func (d *Dispatcher) fetchHistorical(ctx context.Context, cmd Command) error {
	symbol, err := parseSymbol(cmd.Name, cmd.Args[0])
	if err != nil {
		return err
	}
	duration, barSize, err := parseHistoricalArgs(cmd.Args[1:])
	if err != nil {
		return err
	}
	if duration == "" {
		duration = d.opts.Duration
	}
	if barSize == "" {
		barSize = d.opts.BarSize
	}
	size, err := gateway.ParseBarSize(barSize)
	if err != nil {
		return &order.ValidationError{Command: cmd.Name, Field: "bar_size", Value: barSize, Reason: "无法识别的K线周期"}
	}
	if _, err := gateway.ParseDuration(duration); err != nil {
		return &order.ValidationError{Command: cmd.Name, Field: "duration", Value: duration, Reason: "无法识别的回溯区间"}
	}

	var bars []gateway.Bar
	err = bounded(ctx, d.opts.BarsTimeout, func(ctx context.Context) error {
		bars, err = d.deps.Session.HistoricalBars(ctx, order.Stock(symbol), gateway.HistoricalRequest{
			Duration: duration,
			BarSize:  barSize,
		})
		return err
	})
	if err != nil {
		return fmt.Errorf("command: 查询 %s 历史数据失败: %w", symbol, err)
	}
	if len(bars) == 0 {
		fmt.Fprintf(d.out, "%s 无历史数据\n", symbol)
		return nil
	}

	timeframe := gateway.Timeframe(size)
	fmt.Fprintf(d.out, "%s %s / %s 共 %d 根K线\n", symbol, duration, barSize, len(bars))
	renderBars(d.out, tail(bars, historicalTail))

	summary, err := d.deps.Indicators.Compute(symbol, timeframe, bars)
	if err != nil {
		d.logger.Warn("指标计算失败", zap.String("symbol", symbol), zap.Error(err))
	} else {
		renderSummary(d.out, summary)
	}

	if d.deps.Archive != nil {
		path, err := d.deps.Archive.WriteBars(symbol, timeframe, bars)
		if err != nil {
			return fmt.Errorf("command: 导出K线失败: %w", err)
		}
		fmt.Fprintf(d.out, "已导出: %s\n", path)
	}
	return nil
}

func tail(bars []gateway.Bar, n int) []gateway.Bar {
	if len(bars) <= n {
		return bars
	}
	return bars[len(bars)-n:]
}

func (d *Dispatcher) placeMarketOrder(ctx context.Context, cmd Command) error {
	symbol, err := parseSymbol(cmd.Name, cmd.Args[0])
	if err != nil {
		return err
	}
	qty, err := parseQuantity(cmd.Name, cmd.Args[1])
	if err != nil {
		return err
	}
	side, err := parseSide(cmd.Name, cmd.Args[2])
	if err != nil {
		return err
	}
	spec, err := order.Market(order.Stock(symbol), side, qty)
	if err != nil {
		return err
	}
	return d.submit(ctx, spec)
}

func (d *Dispatcher) placeLimitOrder(ctx context.Context, cmd Command) error {
	symbol, err := parseSymbol(cmd.Name, cmd.Args[0])
	if err != nil {
		return err
	}
	qty, err := parseQuantity(cmd.Name, cmd.Args[1])
	if err != nil {
		return err
	}
	price, err := parsePrice(cmd.Name, "price", cmd.Args[2])
	if err != nil {
		return err
	}
	side, err := parseSide(cmd.Name, cmd.Args[3])
	if err != nil {
		return err
	}
	spec, err := order.Limit(order.Stock(symbol), side, qty, price)
	if err != nil {
		return err
	}
	return d.submit(ctx, spec)
}

func (d *Dispatcher) setStopLoss(ctx context.Context, cmd Command) error {
	symbol, err := parseSymbol(cmd.Name, cmd.Args[0])
	if err != nil {
		return err
	}
	qty, err := parseQuantity(cmd.Name, cmd.Args[1])
	if err != nil {
		return err
	}
	stop, err := parsePrice(cmd.Name, "stop_price", cmd.Args[2])
	if err != nil {
		return err
	}
	spec, err := order.Stop(order.Stock(symbol), order.SideSell, qty, stop)
	if err != nil {
		return err
	}
	return d.submit(ctx, spec)
}

// submit 提交订单并在 ack_timeout 内等待网关编号。
func (d *Dispatcher) submit(ctx context.Context, spec order.Spec) error {
	handle, err := d.deps.Trader.Submit(ctx, d.deps.Session, spec)
	if errors.Is(err, order.ErrOutcomeUnknown) {
		fmt.Fprintf(d.out, "订单结果未知，已保留跟踪 (token %s): %s\n", handle.Token, spec)
		return fmt.Errorf("command: 提交订单结果未知: %w", err)
	}
	if err != nil {
		return fmt.Errorf("command: 提交订单失败: %w", err)
	}
	return d.awaitAck(ctx, handle, spec)
}

func (d *Dispatcher) awaitAck(ctx context.Context, handle order.Handle, spec order.Spec) error {
	waitCtx, cancel := context.WithTimeout(ctx, d.opts.AckTimeout)
	defer cancel()

	o, err := d.deps.Tracker.WaitBound(waitCtx, handle.Token)
	switch {
	case err == nil:
		fmt.Fprintf(d.out, "订单 %s 已提交: %s 状态 %s\n", o.ID, spec, o.Status)
		return nil
	case errors.Is(err, order.ErrTimeout):
		fmt.Fprintf(d.out, "订单已提交，等待网关编号 (token %s): %s\n", handle.Token, spec)
		return nil
	case errors.Is(err, order.ErrUnknownCorrelation):
		reason := o.Reason
		if reason == "" {
			reason = "网关未接受订单"
		}
		return fmt.Errorf("command: %s: %w: %s", spec, gateway.ErrRejected, reason)
	default:
		return err
	}
}

func (d *Dispatcher) placeBatchOrders(ctx context.Context, cmd Command) error {
	entries, diagnostics := ParseBatch(cmd.Args)
	specs := make([]order.Spec, 0, len(entries))
	for _, entry := range entries {
		spec, err := order.Build(entry.Request)
		if err != nil {
			diagnostics = append(diagnostics, fmt.Sprintf("%s: %v，已跳过", entry.Raw, err))
			continue
		}
		specs = append(specs, spec)
	}
	for _, msg := range diagnostics {
		fmt.Fprintln(d.out, msg)
	}
	if len(specs) == 0 {
		return fmt.Errorf("command: 没有有效订单: %w", execution.ErrEmptyBatch)
	}

	result, err := d.deps.Trader.SubmitBatch(ctx, d.deps.Session, specs)
	if err != nil {
		return fmt.Errorf("command: 批量下单失败: %w", err)
	}
	renderBatch(d.out, result)
	return nil
}

func (d *Dispatcher) changeLimitPrice(ctx context.Context, cmd Command) error {
	id, err := parseOrderID(cmd.Name, cmd.Args[0])
	if err != nil {
		return err
	}
	price, err := parsePrice(cmd.Name, "new_price", cmd.Args[1])
	if err != nil {
		return err
	}
	current, err := d.tracked(ctx, id)
	if err != nil {
		return err
	}

	handle, err := d.deps.Tracker.CancelAndReplace(ctx, replaceGateway{d.deps.Session}, id, price)
	if errors.Is(err, order.ErrOutcomeUnknown) {
		fmt.Fprintf(d.out, "订单 %s 已撤销，替换单结果未知，已保留跟踪 (token %s)\n", id, handle.Token)
		return fmt.Errorf("command: 修改订单 %s: %w", id, err)
	}
	if err != nil {
		return fmt.Errorf("command: 修改订单 %s 失败: %w", id, err)
	}
	fmt.Fprintf(d.out, "订单 %s 已撤销，按 %.2f 重新下单\n", id, price)
	spec, err := current.Spec.WithLimitPrice(price)
	if err != nil {
		spec = current.Spec
	}
	return d.awaitAck(ctx, handle, spec)
}

// replaceGateway 将结果未知的下单错误标记为 order.ErrOutcomeUnknown，使 Tracker 保留替换单。
type replaceGateway struct {
	gateway.Session
}

func (g replaceGateway) SubmitOrder(ctx context.Context, token string, spec order.Spec) error {
	err := g.Session.SubmitOrder(ctx, token, spec)
	if gateway.IsUncertain(err) {
		return fmt.Errorf("%w: %w", order.ErrOutcomeUnknown, err)
	}
	return err
}

func (d *Dispatcher) getOrderStatus(ctx context.Context, cmd Command) error {
	id, err := parseOrderID(cmd.Name, cmd.Args[0])
	if err != nil {
		return err
	}
	o, err := d.tracked(ctx, id)
	if err != nil {
		return err
	}
	renderOrder(d.out, o)
	return nil
}

func (d *Dispatcher) cancelOrder(ctx context.Context, cmd Command) error {
	id, err := parseOrderID(cmd.Name, cmd.Args[0])
	if err != nil {
		return err
	}
	o, err := d.tracked(ctx, id)
	if err != nil {
		return err
	}
	if o.Terminal() {
		return fmt.Errorf("%w: 订单 %s 已为 %s", order.ErrInvalidState, id, o.Status)
	}

	err = bounded(ctx, d.opts.AckTimeout, func(ctx context.Context) error {
		return d.deps.Session.CancelOrder(ctx, id)
	})
	if err != nil {
		return fmt.Errorf("command: 撤销订单 %s 失败: %w", id, err)
	}
	fmt.Fprintf(d.out, "订单 %s 撤单请求已发送\n", id)
	return nil
}

// tracked 返回本地跟踪的订单，不存在时先同步网关挂单再查找。
func (d *Dispatcher) tracked(ctx context.Context, id string) (order.Order, error) {
	if o, ok := d.deps.Tracker.Get(id); ok {
		return o, nil
	}
	if _, err := d.reconcile(ctx); err != nil {
		return order.Order{}, err
	}
	if o, ok := d.deps.Tracker.Get(id); ok {
		return o, nil
	}
	return order.Order{}, fmt.Errorf("%w: %s", order.ErrNotFound, id)
}

// reconcile 将网关挂单接管到 Tracker，返回网关挂单快照。
func (d *Dispatcher) reconcile(ctx context.Context) ([]gateway.OrderSnapshot, error) {
	var snapshots []gateway.OrderSnapshot
	err := bounded(ctx, d.opts.QuoteTimeout, func(ctx context.Context) error {
		var err error
		snapshots, err = d.deps.Session.OpenOrders(ctx)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("command: 同步网关挂单失败: %w", err)
	}

	for _, snap := range snapshots {
		adopted, err := d.deps.Tracker.Adopt(order.Order{
			ID:     snap.ID,
			Token:  snap.Token,
			Spec:   snap.Spec,
			Status: snap.Status,
		})
		if err != nil {
			d.logger.Warn("接管网关订单失败", zap.String("order_id", snap.ID), zap.Error(err))
			continue
		}
		if adopted {
			d.logger.Info("已接管网关订单", zap.String("order_id", snap.ID))
		}
	}
	return snapshots, nil
}

func (d *Dispatcher) calculatePosSize(_ context.Context, cmd Command) error {
	var values [4]float64
	fields := [4]string{"balance", "risk_percent", "entry_price", "stop_loss"}
	for i, raw := range cmd.Args {
		v, err := parseNumber(cmd.Name, fields[i], raw)
		if err != nil {
			return err
		}
		values[i] = v
	}

	result, err := risk.Evaluate(risk.Parameters{
		AccountBalance: values[0],
		RiskPercent:    values[1],
		EntryPrice:     values[2],
		StopPrice:      values[3],
	})
	if err != nil {
		return err
	}
	fmt.Fprintf(d.out, "风险金额: %.2f 止损距离: %.4f\n建议仓位: %.2f (整股 %d)\n",
		result.RiskAmount, result.StopDistance, result.Quantity, result.Shares)
	return nil
}

func (d *Dispatcher) testOrder(ctx context.Context, cmd Command) error {
	symbol, err := parseSymbol(cmd.Name, cmd.Args[0])
	if err != nil {
		return err
	}
	qty, err := parseQuantity(cmd.Name, cmd.Args[1])
	if err != nil {
		return err
	}
	side, err := parseSide(cmd.Name, cmd.Args[2])
	if err != nil {
		return err
	}
	spec, err := order.Market(order.Stock(symbol), side, qty)
	if err != nil {
		return err
	}

	var impact gateway.MarginImpact
	err = bounded(ctx, d.opts.QuoteTimeout, func(ctx context.Context) error {
		impact, err = d.deps.Session.WhatIf(ctx, spec)
		return err
	})
	if err != nil {
		return fmt.Errorf("command: 订单试算失败: %w", err)
	}
	renderImpact(d.out, spec, impact)
	return nil
}

func (d *Dispatcher) openOrders(ctx context.Context, _ Command) error {
	snapshots, err := d.reconcile(ctx)
	if err != nil {
		return err
	}
	renderSnapshots(d.out, snapshots)
	return nil
}

func (d *Dispatcher) listOrders(_ context.Context, _ Command) error {
	renderOrders(d.out, d.deps.Tracker.Orders())
	return nil
}

func (d *Dispatcher) help(_ context.Context, _ Command) error {
	renderHelp(d.out)
	return nil
}

func (d *Dispatcher) renderError(err error) {
	switch {
	case errors.Is(err, order.ErrOutcomeUnknown):
		fmt.Fprintf(d.out, "结果未知，以后续订单状态或 open_orders 同步为准: %v\n", err)
	case errors.Is(err, ErrUnknownCommand):
		fmt.Fprintf(d.out, "未知命令: %v\n", err)
	case errors.Is(err, order.ErrValidation):
		fmt.Fprintf(d.out, "%v\n", err)
	case errors.Is(err, risk.ErrInvalidParameter):
		fmt.Fprintf(d.out, "仓位计算失败: %v\n", err)
	case errors.Is(err, gateway.ErrTimeout), errors.Is(err, order.ErrTimeout):
		fmt.Fprintf(d.out, "等待超时，结果以后续订单状态为准: %v\n", err)
	case errors.Is(err, gateway.ErrConnection):
		fmt.Fprintf(d.out, "网关连接异常，可稍后重试: %v\n", err)
	default:
		fmt.Fprintf(d.out, "错误: %v\n", err)
	}
}
