// Package alpaca 以 Alpaca 交易与行情接口实现网关会话。
package alpaca

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/alpacahq/alpaca-trade-api-go/v3/alpaca"
	"github.com/alpacahq/alpaca-trade-api-go/v3/marketdata"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"trades-cli/internal/config"
	"trades-cli/internal/gateway"
	"trades-cli/internal/order"
)

const (
	eventBuffer  = 256
	backlogFlush = 100 * time.Millisecond
)

var _ gateway.Session = (*Session)(nil)

type tradingClient interface {
	GetAccount() (*alpaca.Account, error)
	GetPositions() ([]alpaca.Position, error)
	GetAsset(symbol string) (*alpaca.Asset, error)
	GetClock() (*alpaca.Clock, error)
	PlaceOrder(req alpaca.PlaceOrderRequest) (*alpaca.Order, error)
	CancelOrder(orderID string) error
	GetOrders(req alpaca.GetOrdersRequest) ([]alpaca.Order, error)
	StreamTradeUpdatesInBackground(ctx context.Context, handler func(alpaca.TradeUpdate))
}

type quoteClient interface {
	GetLatestQuote(symbol string, req marketdata.GetLatestQuoteRequest) (*marketdata.Quote, error)
	GetLatestTrade(symbol string, req marketdata.GetLatestTradeRequest) (*marketdata.Trade, error)
	GetBars(symbol string, req marketdata.GetBarsRequest) ([]marketdata.Bar, error)
}

// Session 为 Alpaca 网关会话，订单事件来自 trade_updates 推送。
type Session struct {
	trading  tradingClient
	data     quoteClient
	feed     string
	currency string
	logger   *zap.Logger

	mu      sync.Mutex
	closed  bool
	events  chan gateway.Event
	backlog []gateway.Event
	cancel  context.CancelFunc
	now     func() time.Time
}

// Connect 校验凭证并订阅订单推送，失败时返回 gateway.ErrConnection。
func Connect(ctx context.Context, cfg config.AlpacaConfig, currency string, logger *zap.Logger) (*Session, error) {
	trading := alpaca.NewClient(alpaca.ClientOpts{
		APIKey:    cfg.APIKey,
		APISecret: cfg.APISecret,
		BaseURL:   cfg.BaseURL,
	})
	opts := marketdata.ClientOpts{
		APIKey:    cfg.APIKey,
		APISecret: cfg.APISecret,
	}
	if cfg.DataURL != "" {
		opts.BaseURL = cfg.DataURL
	}
	data := marketdata.NewClient(opts)

	if _, err := trading.GetAccount(); err != nil {
		return nil, fmt.Errorf("%w: alpaca: 获取账户失败: %w", gateway.ErrConnection, err)
	}
	return newSession(ctx, trading, data, cfg.Feed, currency, logger), nil
}

func newSession(ctx context.Context, trading tradingClient, data quoteClient, feed, currency string, logger *zap.Logger) *Session {
	if logger == nil {
		logger = zap.NewNop()
	}
	if currency == "" {
		currency = order.DefaultCurrency
	}

	streamCtx, cancel := context.WithCancel(ctx)
	s := &Session{
		trading:  trading,
		data:     data,
		feed:     feed,
		currency: currency,
		logger:   logger,
		events:   make(chan gateway.Event, eventBuffer),
		cancel:   cancel,
		now:      time.Now,
	}
	trading.StreamTradeUpdatesInBackground(streamCtx, s.handleTradeUpdate)
	go s.drainBacklog(streamCtx)
	return s
}

func (s *Session) checkOpen() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return gateway.ErrClosed
	}
	return nil
}

// AccountValues 返回净值、现金、购买力与保证金。
func (s *Session) AccountValues(ctx context.Context) ([]gateway.AccountValue, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	acct, err := s.trading.GetAccount()
	if err != nil {
		return nil, fmt.Errorf("alpaca: 获取账户失败: %w", classify(err))
	}

	currency := acct.Currency
	if currency == "" {
		currency = s.currency
	}
	value := func(tag string, d decimal.Decimal) gateway.AccountValue {
		return gateway.AccountValue{Account: acct.ID, Tag: tag, Currency: currency, Value: d.InexactFloat64()}
	}
	return []gateway.AccountValue{
		value(gateway.TagNetLiquidation, acct.Equity),
		value(gateway.TagTotalCashBalance, acct.Cash),
		value(gateway.TagBuyingPower, acct.BuyingPower),
		value("InitMarginReq", acct.InitialMargin),
		value("MaintMarginReq", acct.MaintenanceMargin),
	}, nil
}

// ContractDetails 合并资产信息与市场时钟。
func (s *Session) ContractDetails(ctx context.Context, inst order.Instrument) (gateway.ContractDetails, error) {
	if err := s.checkOpen(); err != nil {
		return gateway.ContractDetails{}, err
	}
	asset, err := s.trading.GetAsset(inst.Symbol)
	if err != nil {
		return gateway.ContractDetails{}, fmt.Errorf("alpaca: 获取 %s 资产信息失败: %w", inst.Symbol, classify(err))
	}
	clock, err := s.trading.GetClock()
	if err != nil {
		return gateway.ContractDetails{}, fmt.Errorf("alpaca: 获取市场时钟失败: %w", classify(err))
	}

	details := gateway.ContractDetails{
		Instrument:   order.Instrument{Symbol: asset.Symbol, Exchange: asset.Exchange, Currency: s.currency},
		LongName:     asset.Name,
		TimeZone:     "America/New_York",
		TradingHours: "09:30-16:00",
		MarketOpen:   clock.IsOpen,
		NextOpen:     clock.NextOpen,
		NextClose:    clock.NextClose,
	}
	return details, nil
}

// SnapshotQuote 读取最新报价与成交价。
func (s *Session) SnapshotQuote(ctx context.Context, inst order.Instrument) (gateway.Quote, error) {
	if err := s.checkOpen(); err != nil {
		return gateway.Quote{}, err
	}
	q, err := s.data.GetLatestQuote(inst.Symbol, marketdata.GetLatestQuoteRequest{Feed: s.feed})
	if err != nil {
		return gateway.Quote{}, fmt.Errorf("alpaca: 获取 %s 报价失败: %w", inst.Symbol, classify(err))
	}
	quote := gateway.Quote{
		Instrument: inst,
		Bid:        q.BidPrice,
		Ask:        q.AskPrice,
		Time:       q.Timestamp,
	}
	if trade, err := s.data.GetLatestTrade(inst.Symbol, marketdata.GetLatestTradeRequest{Feed: s.feed}); err == nil && trade != nil {
		quote.Last = trade.Price
		if trade.Timestamp.After(quote.Time) {
			quote.Time = trade.Timestamp
		}
	} else if err != nil {
		s.logger.Debug("获取最新成交失败", zap.String("symbol", inst.Symbol), zap.Error(err))
	}
	return quote, nil
}

// HistoricalBars 调用 GetBars。
func (s *Session) HistoricalBars(ctx context.Context, inst order.Instrument, req gateway.HistoricalRequest) ([]gateway.Bar, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	lookback, barSize, _, err := req.Resolve()
	if err != nil {
		return nil, err
	}
	end := req.EndTime
	if end.IsZero() {
		end = s.now()
	}

	raw, err := s.data.GetBars(inst.Symbol, marketdata.GetBarsRequest{
		TimeFrame: timeFrame(barSize),
		Start:     end.Add(-lookback),
		End:       end,
		Feed:      s.feed,
	})
	if err != nil {
		return nil, fmt.Errorf("alpaca: 获取 %s K线失败: %w", inst.Symbol, classify(err))
	}

	bars := make([]gateway.Bar, 0, len(raw))
	for _, b := range raw {
		bars = append(bars, gateway.Bar{
			Time:   b.Timestamp.UTC(),
			Open:   b.Open,
			High:   b.High,
			Low:    b.Low,
			Close:  b.Close,
			Volume: float64(b.Volume),
		})
	}
	return bars, nil
}

// timeFrame 将K线周期换算为 Alpaca 的 TimeFrame。
func timeFrame(barSize time.Duration) marketdata.TimeFrame {
	switch {
	case barSize >= 7*24*time.Hour && barSize%(7*24*time.Hour) == 0:
		return marketdata.NewTimeFrame(int(barSize/(7*24*time.Hour)), marketdata.Week)
	case barSize >= 24*time.Hour && barSize%(24*time.Hour) == 0:
		return marketdata.NewTimeFrame(int(barSize/(24*time.Hour)), marketdata.Day)
	case barSize >= time.Hour && barSize%time.Hour == 0:
		return marketdata.NewTimeFrame(int(barSize/time.Hour), marketdata.Hour)
	case barSize >= time.Minute:
		return marketdata.NewTimeFrame(int(barSize/time.Minute), marketdata.Min)
	default:
		return marketdata.NewTimeFrame(1, marketdata.Min)
	}
}

// Positions 返回持仓，空头数量为负。
func (s *Session) Positions(ctx context.Context) ([]gateway.Position, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	raw, err := s.trading.GetPositions()
	if err != nil {
		return nil, fmt.Errorf("alpaca: 获取持仓失败: %w", classify(err))
	}

	positions := make([]gateway.Position, 0, len(raw))
	for _, p := range raw {
		qty := p.Qty.InexactFloat64()
		if strings.EqualFold(p.Side, "short") && qty > 0 {
			qty = -qty
		}
		positions = append(positions, gateway.Position{
			Account:    p.AccountID,
			Instrument: order.Instrument{Symbol: p.Symbol, Exchange: p.Exchange, Currency: s.currency},
			Quantity:   qty,
			AvgCost:    p.AvgEntryPrice.InexactFloat64(),
		})
	}
	return positions, nil
}

// SubmitOrder 以令牌作为 ClientOrderID 下单并推送 Working。
func (s *Session) SubmitOrder(ctx context.Context, token string, spec order.Spec) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	placed, err := s.trading.PlaceOrder(placeRequest(token, spec))
	if err != nil {
		return fmt.Errorf("alpaca: 提交订单失败: %w", classify(err))
	}

	s.logger.Info("Alpaca 订单已提交",
		zap.String("id", placed.ID),
		zap.String("token", token),
		zap.String("symbol", spec.Instrument.Symbol),
	)
	s.emit(gateway.Event{Token: token, OrderID: placed.ID, Status: order.StatusWorking})
	return nil
}

func placeRequest(token string, spec order.Spec) alpaca.PlaceOrderRequest {
	qty := decimal.NewFromInt(spec.Quantity)
	req := alpaca.PlaceOrderRequest{
		Symbol:        spec.Instrument.Symbol,
		Qty:           &qty,
		Side:          alpaca.Buy,
		TimeInForce:   alpaca.Day,
		ClientOrderID: token,
	}
	if spec.Side == order.SideSell {
		req.Side = alpaca.Sell
	}
	switch spec.Kind {
	case order.KindLimit:
		price := decimal.NewFromFloat(spec.LimitPrice)
		req.Type = alpaca.Limit
		req.LimitPrice = &price
	case order.KindStop:
		price := decimal.NewFromFloat(spec.StopPrice)
		req.Type = alpaca.Stop
		req.StopPrice = &price
	default:
		req.Type = alpaca.Market
	}
	return req
}

// CancelOrder 撤单结果由 trade_updates 推送。
func (s *Session) CancelOrder(ctx context.Context, id string) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	if err := s.trading.CancelOrder(id); err != nil {
		return fmt.Errorf("alpaca: 撤销订单 %s 失败: %w", id, classify(err))
	}
	return nil
}

// OpenOrders 查询 open 状态订单。
func (s *Session) OpenOrders(ctx context.Context) ([]gateway.OrderSnapshot, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	raw, err := s.trading.GetOrders(alpaca.GetOrdersRequest{Status: "open"})
	if err != nil {
		return nil, fmt.Errorf("alpaca: 获取未完成订单失败: %w", classify(err))
	}

	snapshots := make([]gateway.OrderSnapshot, 0, len(raw))
	for _, o := range raw {
		snap, ok := snapshot(o)
		if !ok {
			s.logger.Debug("跳过无法解析的 Alpaca 订单", zap.String("id", o.ID))
			continue
		}
		snapshots = append(snapshots, snap)
	}
	return snapshots, nil
}

func snapshot(o alpaca.Order) (gateway.OrderSnapshot, bool) {
	side, ok := order.ParseSide(string(o.Side))
	if !ok || o.Qty == nil {
		return gateway.OrderSnapshot{}, false
	}
	req := order.Request{
		Instrument: order.Stock(o.Symbol),
		Side:       side,
		Quantity:   o.Qty.IntPart(),
	}
	switch o.Type {
	case alpaca.Limit:
		req.Kind = order.KindLimit
		if o.LimitPrice != nil {
			req.LimitPrice = o.LimitPrice.InexactFloat64()
		}
	case alpaca.Stop:
		req.Kind = order.KindStop
		if o.StopPrice != nil {
			req.StopPrice = o.StopPrice.InexactFloat64()
		}
	default:
		req.Kind = order.KindMarket
	}
	spec, err := order.Build(req)
	if err != nil {
		return gateway.OrderSnapshot{}, false
	}
	status, ok := order.ParseStatus(o.Status)
	if !ok {
		status = order.StatusWorking
	}
	return gateway.OrderSnapshot{
		ID:     o.ID,
		Token:  o.ClientOrderID,
		Spec:   spec,
		Status: status,
		Filled: o.FilledQty.InexactFloat64(),
	}, true
}

// WhatIf 按 Reg-T 初始 50%、维持 25% 估算。
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
		return gateway.MarginImpact{}, fmt.Errorf("%w: alpaca: %s 无可用价格", gateway.ErrNotFound, spec.Instrument.Symbol)
	}

	notional := decimal.NewFromFloat(price).Mul(decimal.NewFromInt(spec.Quantity))
	return gateway.MarginImpact{
		Currency:          s.currency,
		Notional:          notional.InexactFloat64(),
		InitMarginChange:  notional.Mul(decimal.NewFromFloat(0.5)).InexactFloat64(),
		MaintMarginChange: notional.Mul(decimal.NewFromFloat(0.25)).InexactFloat64(),
	}, nil
}

// Events 返回订单事件流。
func (s *Session) Events() <-chan gateway.Event {
	return s.events
}

// Close 取消订阅并关闭事件流。
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	s.backlog = nil
	s.cancel()
	close(s.events)
	return nil
}

// tradeEvents 将 trade_updates 事件映射为订单状态，未列出的事件忽略。
var tradeEvents = map[string]order.Status{
	"pending_new":  order.StatusPendingSubmit,
	"new":          order.StatusWorking,
	"accepted":     order.StatusWorking,
	"partial_fill": order.StatusWorking,
	"fill":         order.StatusFilled,
	"canceled":     order.StatusCancelled,
	"expired":      order.StatusCancelled,
	"done_for_day": order.StatusCancelled,
	"replaced":     order.StatusCancelled,
	"rejected":     order.StatusRejected,
}

func (s *Session) handleTradeUpdate(update alpaca.TradeUpdate) {
	status, ok := tradeEvents[update.Event]
	if !ok {
		s.logger.Debug("忽略 trade_updates 事件", zap.String("event", update.Event), zap.String("id", update.Order.ID))
		return
	}
	ev := gateway.Event{
		Token:   update.Order.ClientOrderID,
		OrderID: update.Order.ID,
		Status:  status,
	}
	if status == order.StatusRejected {
		ev.Reason = update.Event
	}
	s.emit(ev)
}

// emit 按到达顺序投递事件。推送无法重放，缓冲满时事件进入积压队列，
// 由 drainBacklog 在消费方腾出空间后补发。
func (s *Session) emit(ev gateway.Event) {
	if ev.Time.IsZero() {
		ev.Time = s.now().UTC()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.backlog = append(s.backlog, ev)
	s.flushLocked()
	if n := len(s.backlog); n > 0 {
		s.logger.Warn("事件缓冲已满，积压待补发",
			zap.String("id", ev.OrderID),
			zap.Int("backlog", n),
		)
	}
}

func (s *Session) flushLocked() {
	for len(s.backlog) > 0 {
		select {
		case s.events <- s.backlog[0]:
			s.backlog[0] = gateway.Event{}
			s.backlog = s.backlog[1:]
		default:
			return
		}
	}
	s.backlog = nil
}

func (s *Session) drainBacklog(ctx context.Context) {
	ticker := time.NewTicker(backlogFlush)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.mu.Lock()
			if !s.closed {
				s.flushLocked()
			}
			s.mu.Unlock()
		}
	}
}

// classify 将 Alpaca 接口错误归类为 gateway 错误。
func classify(err error) error {
	var apiErr *alpaca.APIError
	if !errors.As(err, &apiErr) {
		return fmt.Errorf("%w: %w", gateway.ErrConnection, err)
	}
	switch {
	case apiErr.StatusCode == http.StatusTooManyRequests:
		return fmt.Errorf("%w: %w", gateway.ErrThrottled, err)
	case apiErr.StatusCode == http.StatusNotFound:
		return fmt.Errorf("%w: %w", gateway.ErrNotFound, err)
	case apiErr.StatusCode >= 500:
		return fmt.Errorf("%w: %w", gateway.ErrConnection, err)
	default:
		return fmt.Errorf("%w: %w", gateway.ErrRejected, err)
	}
}
