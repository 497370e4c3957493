package exchange

import (
	"context"
	"fmt"
	"math"
	"strings"
	"sync"
	"time"

	ccxt "github.com/ccxt/ccxt/go/v4"
	"go.uber.org/zap"

	"trades-cli/internal/config"
	"trades-cli/internal/gateway"
	"trades-cli/internal/order"
)

const (
	defaultPollInterval = 2 * time.Second
	eventBuffer         = 256
)

var _ gateway.Session = (*Session)(nil)

type trackedOrder struct {
	token  string
	symbol string
	spec   order.Spec
	status order.Status
}

// Session 以 ccxt 交易所实现网关会话，订单状态通过轮询转换为事件。
type Session struct {
	client   *Client
	currency string
	settle   string
	leverage float64
	interval time.Duration
	logger   *zap.Logger

	mu     sync.Mutex
	orders map[string]*trackedOrder
	closed bool

	events chan gateway.Event
	cancel context.CancelFunc
	done   chan struct{}
	now    func() time.Time
}

// Connect 建立 ccxt 会话并加载市场元数据，失败时返回 gateway.ErrConnection。
func Connect(ctx context.Context, cfg config.ExchangeConfig, currency string, logger *zap.Logger) (*Session, error) {
	client, err := NewClient(cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", gateway.ErrConnection, err)
	}
	if err := client.EnsureMarkets(ctx); err != nil {
		return nil, fmt.Errorf("%w: exchange: 加载市场失败: %w", gateway.ErrConnection, err)
	}
	return newSession(client, cfg, currency, logger), nil
}

func newSession(client *Client, cfg config.ExchangeConfig, currency string, logger *zap.Logger) *Session {
	if logger == nil {
		logger = zap.NewNop()
	}
	interval := cfg.PollInterval
	if interval <= 0 {
		interval = defaultPollInterval
	}
	leverage := cfg.Leverage
	if leverage <= 0 {
		leverage = 1
	}
	if currency == "" {
		currency = "USDT"
	}
	buffer := cfg.EventBuffer
	if buffer <= 0 {
		buffer = eventBuffer
	}

	pollCtx, cancel := context.WithCancel(context.Background())
	s := &Session{
		client:   client,
		currency: strings.ToUpper(currency),
		settle:   strings.ToUpper(cfg.Settle),
		leverage: leverage,
		interval: interval,
		logger:   logger,
		orders:   make(map[string]*trackedOrder),
		events:   make(chan gateway.Event, buffer),
		cancel:   cancel,
		done:     make(chan struct{}),
		now:      time.Now,
	}
	go s.pollLoop(pollCtx)
	return s
}

// marketSymbol 将 AAPL 形式的代码转换为 BTC/USDT:USDT 形式。
func (s *Session) marketSymbol(inst order.Instrument) string {
	symbol := strings.ToUpper(inst.Symbol)
	if strings.Contains(symbol, "/") {
		return symbol
	}
	symbol = symbol + "/" + s.currency
	if s.settle != "" {
		symbol += ":" + s.settle
	}
	return symbol
}

func (s *Session) instrument(marketSymbol string) order.Instrument {
	base := marketSymbol
	if i := strings.Index(base, "/"); i >= 0 {
		base = base[:i]
	}
	return order.Instrument{Symbol: strings.ToUpper(base), Exchange: s.client.cfg.Name, Currency: s.currency}
}

func (s *Session) checkOpen() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return gateway.ErrClosed
	}
	return nil
}

// AccountValues 返回结算货币余额。
func (s *Session) AccountValues(ctx context.Context) ([]gateway.AccountValue, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}

	var balances ccxt.Balances
	err := s.client.callWithRetry(ctx, "fetch_balance", func() error {
		result, err := s.client.api.FetchBalance()
		if err != nil {
			return err
		}
		balances = result
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("exchange: 获取账户余额失败: %w", err)
	}

	code, total := pickBalance(balances.Total, s.currency)
	_, free := pickBalance(balances.Free, code)
	_, used := pickBalance(balances.Used, code)

	return []gateway.AccountValue{
		{Tag: gateway.TagNetLiquidation, Currency: code, Value: total},
		{Tag: gateway.TagTotalCashBalance, Currency: code, Value: free},
		{Tag: gateway.TagBuyingPower, Currency: code, Value: free * s.leverage},
		{Tag: "MarginUsed", Currency: code, Value: used},
	}, nil
}

// pickBalance 优先取 preferred，其次依次回退到常见稳定币。
func pickBalance(values map[string]*float64, preferred string) (string, float64) {
	for _, code := range []string{preferred, "USDT", "USDC", "USD"} {
		if v, ok := values[code]; ok && v != nil {
			return code, *v
		}
	}
	return preferred, 0
}

// ContractDetails 返回市场信息，加密市场全天候交易。
func (s *Session) ContractDetails(ctx context.Context, inst order.Instrument) (gateway.ContractDetails, error) {
	if _, err := s.SnapshotQuote(ctx, inst); err != nil {
		return gateway.ContractDetails{}, err
	}
	now := s.now().UTC()
	return gateway.ContractDetails{
		Instrument:   s.instrument(s.marketSymbol(inst)),
		LongName:     s.marketSymbol(inst),
		TimeZone:     "UTC",
		TradingHours: "24x7",
		MarketOpen:   true,
		NextOpen:     now,
		NextClose:    now.Add(24 * time.Hour),
	}, nil
}

// SnapshotQuote 调用 FetchTicker。
func (s *Session) SnapshotQuote(ctx context.Context, inst order.Instrument) (gateway.Quote, error) {
	if err := s.checkOpen(); err != nil {
		return gateway.Quote{}, err
	}

	symbol := s.marketSymbol(inst)
	var ticker ccxt.Ticker
	err := s.client.callWithRetry(ctx, "fetch_ticker", func() error {
		result, err := s.client.api.FetchTicker(symbol)
		if err != nil {
			return err
		}
		ticker = result
		return nil
	})
	if err != nil {
		return gateway.Quote{}, fmt.Errorf("exchange: 获取 %s 报价失败: %w", symbol, err)
	}

	ts := s.now().UTC()
	if v := derefInt(ticker.Timestamp); v > 0 {
		ts = time.UnixMilli(v).UTC()
	}
	return gateway.Quote{
		Instrument: s.instrument(symbol),
		Bid:        derefFloat(ticker.Bid),
		Ask:        derefFloat(ticker.Ask),
		Last:       derefFloat(ticker.Last),
		Time:       ts,
	}, nil
}

// HistoricalBars 调用 FetchOHLCV。
func (s *Session) HistoricalBars(ctx context.Context, inst order.Instrument, req gateway.HistoricalRequest) ([]gateway.Bar, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	lookback, barSize, count, err := req.Resolve()
	if err != nil {
		return nil, err
	}

	end := req.EndTime
	if end.IsZero() {
		end = s.now()
	}
	since := end.Add(-lookback).UnixMilli()
	timeframe := gateway.Timeframe(barSize)
	symbol := s.marketSymbol(inst)

	var raw []ccxt.OHLCV
	err = s.client.callWithRetry(ctx, fmt.Sprintf("fetch_ohlcv_%s", timeframe), func() error {
		result, err := s.client.api.FetchOHLCV(
			symbol,
			ccxt.WithFetchOHLCVTimeframe(timeframe),
			ccxt.WithFetchOHLCVSince(since),
			ccxt.WithFetchOHLCVLimit(int64(count)),
		)
		if err != nil {
			return err
		}
		raw = result
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("exchange: 获取 %s K线失败: %w", symbol, err)
	}

	bars := make([]gateway.Bar, 0, len(raw))
	for _, item := range raw {
		bars = append(bars, gateway.Bar{
			Time:   time.UnixMilli(item.Timestamp).UTC(),
			Open:   item.Open,
			High:   item.High,
			Low:    item.Low,
			Close:  item.Close,
			Volume: item.Volume,
		})
	}
	return bars, nil
}

// Positions 返回非零合约持仓，空头以负数表示。
func (s *Session) Positions(ctx context.Context) ([]gateway.Position, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}

	var raw []ccxt.Position
	err := s.client.callWithRetry(ctx, "fetch_positions", func() error {
		result, err := s.client.api.FetchPositions()
		if err != nil {
			return err
		}
		raw = result
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("exchange: 获取持仓失败: %w", err)
	}

	positions := make([]gateway.Position, 0, len(raw))
	for _, p := range raw {
		symbol := derefString(p.Symbol)
		size := derefFloat(p.Contracts)
		if symbol == "" || size == 0 {
			continue
		}
		if strings.EqualFold(strings.TrimSpace(derefString(p.Side)), "short") {
			size = -math.Abs(size)
		}
		positions = append(positions, gateway.Position{
			Instrument: s.instrument(symbol),
			Quantity:   size,
			AvgCost:    derefFloat(p.EntryPrice),
		})
	}
	return positions, nil
}

// SubmitOrder 以 clientOrderId 携带令牌下单，成功后推送 Working 事件。
func (s *Session) SubmitOrder(ctx context.Context, token string, spec order.Spec) error {
	if err := s.checkOpen(); err != nil {
		return err
	}

	symbol := s.marketSymbol(spec.Instrument)
	side := strings.ToLower(string(spec.Side))
	params := map[string]interface{}{"clientOrderId": token}

	var (
		typ  string
		opts []ccxt.CreateOrderOptions
	)
	switch spec.Kind {
	case order.KindLimit:
		typ = "limit"
		opts = append(opts, ccxt.WithCreateOrderPrice(spec.LimitPrice))
	case order.KindStop:
		typ = "market"
		params["stopPrice"] = spec.StopPrice
		params["triggerPrice"] = spec.StopPrice
	default:
		typ = "market"
	}
	opts = append(opts, ccxt.WithCreateOrderParams(params))

	var placed ccxt.Order
	err := s.client.callThrottledRetry(ctx, "create_order", func() error {
		result, err := s.client.api.CreateOrder(symbol, typ, side, float64(spec.Quantity), opts...)
		if err != nil {
			return err
		}
		placed = result
		return nil
	})
	if err != nil {
		return fmt.Errorf("exchange: 提交订单失败: %w", err)
	}

	id := derefString(placed.Id)
	if id == "" {
		return fmt.Errorf("%w: exchange: 交易所未返回订单编号", gateway.ErrRejected)
	}

	status := order.StatusWorking
	if parsed, ok := order.ParseStatus(derefString(placed.Status)); ok && parsed != order.StatusPendingSubmit {
		status = parsed
	}

	s.mu.Lock()
	s.orders[id] = &trackedOrder{token: token, symbol: symbol, spec: spec, status: order.StatusPendingSubmit}
	s.mu.Unlock()

	s.logger.Info("交易所订单已提交",
		zap.String("id", id),
		zap.String("token", token),
		zap.String("symbol", symbol),
		zap.String("type", typ),
	)

	s.updateStatus(id, order.StatusWorking, "")
	if status != order.StatusWorking {
		s.updateStatus(id, status, "")
	}
	return nil
}

// CancelOrder 撤销订单，撤单结果由轮询或撤单回包推送。
func (s *Session) CancelOrder(ctx context.Context, id string) error {
	if err := s.checkOpen(); err != nil {
		return err
	}

	s.mu.Lock()
	tracked, ok := s.orders[id]
	s.mu.Unlock()

	var opts []ccxt.CancelOrderOptions
	if ok {
		opts = append(opts, ccxt.WithCancelOrderSymbol(tracked.symbol))
	}

	var result ccxt.Order
	err := s.client.callWithRetry(ctx, "cancel_order", func() error {
		res, err := s.client.api.CancelOrder(id, opts...)
		if err != nil {
			return err
		}
		result = res
		return nil
	})
	if err != nil {
		return fmt.Errorf("exchange: 撤销订单 %s 失败: %w", id, err)
	}

	status := order.StatusCancelled
	if parsed, ok := order.ParseStatus(derefString(result.Status)); ok && parsed.Terminal() {
		status = parsed
	}
	s.updateStatus(id, status, "")
	return nil
}

// OpenOrders 调用 FetchOpenOrders。
func (s *Session) OpenOrders(ctx context.Context) ([]gateway.OrderSnapshot, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}

	var raw []ccxt.Order
	err := s.client.callWithRetry(ctx, "fetch_open_orders", func() error {
		result, err := s.client.api.FetchOpenOrders()
		if err != nil {
			return err
		}
		raw = result
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("exchange: 获取未完成订单失败: %w", err)
	}

	snapshots := make([]gateway.OrderSnapshot, 0, len(raw))
	for _, o := range raw {
		snap, ok := s.snapshot(o)
		if !ok {
			s.logger.Debug("跳过无法解析的交易所订单", zap.String("id", derefString(o.Id)))
			continue
		}
		snapshots = append(snapshots, snap)
	}
	return snapshots, nil
}

func (s *Session) snapshot(o ccxt.Order) (gateway.OrderSnapshot, bool) {
	id := derefString(o.Id)
	if id == "" {
		return gateway.OrderSnapshot{}, false
	}
	side, ok := order.ParseSide(derefString(o.Side))
	if !ok {
		return gateway.OrderSnapshot{}, false
	}

	req := order.Request{
		Instrument: s.instrument(derefString(o.Symbol)),
		Side:       side,
		Quantity:   int64(math.Round(derefFloat(o.Amount))),
	}
	switch strings.ToLower(derefString(o.Type)) {
	case "limit":
		req.Kind = order.KindLimit
		req.LimitPrice = derefFloat(o.Price)
	case "stop", "stop_market":
		req.Kind = order.KindStop
		req.StopPrice = derefFloat(o.TriggerPrice)
	default:
		req.Kind = order.KindMarket
	}
	spec, err := order.Build(req)
	if err != nil {
		return gateway.OrderSnapshot{}, false
	}

	status, ok := order.ParseStatus(derefString(o.Status))
	if !ok {
		status = order.StatusWorking
	}
	return gateway.OrderSnapshot{
		ID:     id,
		Token:  derefString(o.ClientOrderId),
		Spec:   spec,
		Status: status,
		Filled: derefFloat(o.Filled),
	}, true
}

// WhatIf 基于最新价与杠杆估算保证金占用。
func (s *Session) WhatIf(ctx context.Context, spec order.Spec) (gateway.MarginImpact, error) {
	price := spec.LimitPrice
	if spec.Kind == order.KindStop {
		price = spec.StopPrice
	}
	if price <= 0 {
		quote, err := s.SnapshotQuote(ctx, spec.Instrument)
		if err != nil {
			return gateway.MarginImpact{}, err
		}
		price = quote.Price()
	}
	if price <= 0 {
		return gateway.MarginImpact{}, fmt.Errorf("%w: exchange: %s 无可用价格", gateway.ErrNotFound, spec.Instrument.Symbol)
	}

	notional := price * float64(spec.Quantity)
	initial := notional / s.leverage
	return gateway.MarginImpact{
		Currency:          s.currency,
		Notional:          notional,
		InitMarginChange:  initial,
		MaintMarginChange: initial / 2,
	}, nil
}

// Events 返回订单事件流。
func (s *Session) Events() <-chan gateway.Event {
	return s.events
}

// Close 停止轮询并关闭事件流。
func (s *Session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	s.cancel()
	<-s.done
	close(s.events)
	return nil
}

func (s *Session) pollLoop(ctx context.Context) {
	defer close(s.done)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.poll(ctx)
		}
	}
}

// poll 逐笔查询仍在跟踪的订单，状态变化时推送事件。
func (s *Session) poll(ctx context.Context) {
	s.mu.Lock()
	pending := make(map[string]string, len(s.orders))
	for id, tracked := range s.orders {
		if !tracked.status.Terminal() {
			pending[id] = tracked.symbol
		}
	}
	s.mu.Unlock()

	for id, symbol := range pending {
		if ctx.Err() != nil {
			return
		}
		var result ccxt.Order
		err := s.client.callWithRetry(ctx, "fetch_order", func() error {
			res, err := s.client.api.FetchOrder(id, ccxt.WithFetchOrderSymbol(symbol))
			if err != nil {
				return err
			}
			result = res
			return nil
		})
		if err != nil {
			s.logger.Warn("轮询订单状态失败", zap.String("id", id), zap.Error(err))
			continue
		}
		status, ok := order.ParseStatus(derefString(result.Status))
		if !ok {
			continue
		}
		s.updateStatus(id, status, "")
	}
}

// updateStatus 只在事件成功送出后记录新状态，缓冲已满时由下一轮轮询重发。
func (s *Session) updateStatus(id string, status order.Status, reason string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tracked, ok := s.orders[id]
	if ok && tracked.status == status {
		return
	}
	token := ""
	if ok {
		token = tracked.token
	}
	if !s.emitLocked(gateway.Event{Token: token, OrderID: id, Status: status, Reason: reason}) {
		return
	}
	if ok {
		tracked.status = status
	}
}

// emitLocked 需持有锁调用，返回事件是否送入缓冲。
func (s *Session) emitLocked(ev gateway.Event) bool {
	if s.closed {
		return false
	}
	if ev.Time.IsZero() {
		ev.Time = s.now().UTC()
	}
	select {
	case s.events <- ev:
		return true
	default:
		s.logger.Warn("事件缓冲已满，待下次轮询重发",
			zap.String("id", ev.OrderID),
			zap.String("status", string(ev.Status)),
		)
		return false
	}
}
