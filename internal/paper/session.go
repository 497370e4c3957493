package paper

import (
	"context"
	"fmt"
	"hash/fnv"
	"math"
	"math/rand"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"trades-cli/internal/config"
	"trades-cli/internal/gateway"
	"trades-cli/internal/order"
)

var _ gateway.Session = (*Session)(nil)

const (
	regTInitial     = 0.5
	regTMaintenance = 0.25
	commissionRate  = 0.005
	minCommission   = 1.0
)

type restingOrder struct {
	id     string
	token  string
	spec   order.Spec
	status order.Status
	filled float64
}

type holding struct {
	quantity float64
	avgCost  float64
}

// Session 为内存撮合的模拟网关，实现 gateway.Session。
type Session struct {
	mu        sync.Mutex
	logger    *zap.Logger
	currency  string
	spread    float64
	cash      float64
	prices    map[string]float64
	positions map[string]*holding
	orders    map[string]*restingOrder
	sequence  []string
	nextID    int64
	now       func() time.Time

	sendMu    sync.RWMutex
	events    chan gateway.Event
	done      chan struct{}
	closeOnce sync.Once
}

// New 创建模拟网关。
func New(cfg config.PaperConfig, currency string, logger *zap.Logger) *Session {
	if logger == nil {
		logger = zap.NewNop()
	}
	if currency == "" {
		currency = order.DefaultCurrency
	}
	buffer := cfg.EventBuffer
	if buffer <= 0 {
		buffer = 256
	}
	nextID := cfg.StartID
	if nextID <= 0 {
		nextID = 1
	}

	prices := make(map[string]float64, len(cfg.Prices))
	for symbol, price := range cfg.Prices {
		prices[strings.ToUpper(symbol)] = price
	}

	return &Session{
		logger:    logger,
		currency:  currency,
		spread:    cfg.Spread,
		cash:      cfg.Cash,
		prices:    prices,
		positions: make(map[string]*holding),
		orders:    make(map[string]*restingOrder),
		nextID:    nextID,
		now:       func() time.Time { return time.Now().UTC() },
		events:    make(chan gateway.Event, buffer),
		done:      make(chan struct{}),
	}
}

// SetPrice 更新标的价格并撮合挂单。
func (s *Session) SetPrice(symbol string, price float64) {
	s.mu.Lock()
	symbol = strings.ToUpper(symbol)
	s.prices[symbol] = price
	var pending []gateway.Event
	for _, id := range s.sequence {
		o := s.orders[id]
		if o.status != order.StatusWorking || o.spec.Instrument.Symbol != symbol {
			continue
		}
		pending = append(pending, s.match(o)...)
	}
	s.mu.Unlock()

	s.publish(pending)
}

// AccountValues 返回现金、净值与购买力。
func (s *Session) AccountValues(ctx context.Context) ([]gateway.AccountValue, error) {
	if err := s.check(ctx); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	netLiq := s.cash
	for symbol, h := range s.positions {
		netLiq += h.quantity * s.prices[symbol]
	}
	return []gateway.AccountValue{
		{Account: "PAPER", Tag: gateway.TagTotalCashBalance, Currency: s.currency, Value: s.cash},
		{Account: "PAPER", Tag: gateway.TagNetLiquidation, Currency: s.currency, Value: netLiq},
		{Account: "PAPER", Tag: gateway.TagBuyingPower, Currency: s.currency, Value: s.cash / regTInitial},
	}, nil
}

// ContractDetails 返回美股常规交易时段。
func (s *Session) ContractDetails(ctx context.Context, inst order.Instrument) (gateway.ContractDetails, error) {
	if err := s.check(ctx); err != nil {
		return gateway.ContractDetails{}, err
	}
	if _, err := s.price(inst.Symbol); err != nil {
		return gateway.ContractDetails{}, err
	}

	loc := newYork()
	now := s.now().In(loc)
	open, nextOpen, nextClose := regularSession(now, loc)
	return gateway.ContractDetails{
		Instrument:   inst,
		LongName:     inst.Symbol,
		TimeZone:     loc.String(),
		TradingHours: "09:30-16:00 周一至周五",
		MarketOpen:   open,
		NextOpen:     nextOpen,
		NextClose:    nextClose,
	}, nil
}

// SnapshotQuote 以中间价加减半个价差生成报价。
func (s *Session) SnapshotQuote(ctx context.Context, inst order.Instrument) (gateway.Quote, error) {
	if err := s.check(ctx); err != nil {
		return gateway.Quote{}, err
	}
	price, err := s.price(inst.Symbol)
	if err != nil {
		return gateway.Quote{}, err
	}
	bid, ask := s.bidAsk(price)
	return gateway.Quote{Instrument: inst, Bid: bid, Ask: ask, Last: price, Time: s.now()}, nil
}

// HistoricalBars 生成以当前价收尾的确定性随机游走K线。
func (s *Session) HistoricalBars(ctx context.Context, inst order.Instrument, req gateway.HistoricalRequest) ([]gateway.Bar, error) {
	if err := s.check(ctx); err != nil {
		return nil, err
	}
	price, err := s.price(inst.Symbol)
	if err != nil {
		return nil, err
	}
	_, barSize, count, err := req.Resolve()
	if err != nil {
		return nil, err
	}

	end := req.EndTime
	if end.IsZero() {
		end = s.now()
	}
	end = end.Truncate(barSize)

	h := fnv.New64a()
	_, _ = h.Write([]byte(inst.Symbol))
	rng := rand.New(rand.NewSource(int64(h.Sum64())))

	closes := make([]float64, count)
	closes[count-1] = price
	for i := count - 2; i >= 0; i-- {
		step := 1 + (rng.Float64()-0.5)*0.004
		closes[i] = math.Max(0.01, closes[i+1]/step)
	}

	bars := make([]gateway.Bar, count)
	for i := range bars {
		open := closes[i]
		if i > 0 {
			open = closes[i-1]
		}
		wiggle := math.Abs(closes[i]-open) + closes[i]*0.0005*rng.Float64()
		bars[i] = gateway.Bar{
			Time:   end.Add(-time.Duration(count-1-i) * barSize),
			Open:   round2(open),
			High:   round2(math.Max(open, closes[i]) + wiggle/2),
			Low:    round2(math.Max(0.01, math.Min(open, closes[i])-wiggle/2)),
			Close:  round2(closes[i]),
			Volume: float64(100 + rng.Intn(10000)),
		}
	}
	return bars, nil
}

// Positions 返回非零持仓，按代码排序。
func (s *Session) Positions(ctx context.Context) ([]gateway.Position, error) {
	if err := s.check(ctx); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	symbols := make([]string, 0, len(s.positions))
	for symbol, h := range s.positions {
		if h.quantity != 0 {
			symbols = append(symbols, symbol)
		}
	}
	sort.Strings(symbols)

	positions := make([]gateway.Position, 0, len(symbols))
	for _, symbol := range symbols {
		h := s.positions[symbol]
		positions = append(positions, gateway.Position{
			Account:    "PAPER",
			Instrument: order.Stock(symbol),
			Quantity:   h.quantity,
			AvgCost:    h.avgCost,
		})
	}
	return positions, nil
}

// SubmitOrder 分配编号并立即尝试撮合。未知标的同步拒绝，资金不足异步拒绝。
func (s *Session) SubmitOrder(ctx context.Context, token string, spec order.Spec) error {
	if err := s.check(ctx); err != nil {
		return err
	}

	s.mu.Lock()
	price, ok := s.prices[spec.Instrument.Symbol]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("%w: 未知标的 %s", gateway.ErrRejected, spec.Instrument.Symbol)
	}

	id := strconv.FormatInt(s.nextID, 10)
	s.nextID++
	o := &restingOrder{id: id, token: token, spec: spec, status: order.StatusWorking}
	s.orders[id] = o
	s.sequence = append(s.sequence, id)

	events := []gateway.Event{s.event(o, "")}
	if spec.Side == order.SideBuy {
		ref := price
		if spec.Kind == order.KindLimit {
			ref = spec.LimitPrice
		}
		if required := float64(spec.Quantity) * ref; required > s.cash {
			o.status = order.StatusRejected
			events = append(events, s.event(o, fmt.Sprintf("资金不足: 需要 %.2f, 可用 %.2f", required, s.cash)))
			s.mu.Unlock()
			s.publish(events)
			return nil
		}
	}
	events = append(events, s.match(o)...)
	s.mu.Unlock()

	s.logger.Debug("模拟网关已接收订单", zap.String("order_id", id), zap.String("spec", spec.String()))
	s.publish(events)
	return nil
}

// CancelOrder 撤销挂单。
func (s *Session) CancelOrder(ctx context.Context, id string) error {
	if err := s.check(ctx); err != nil {
		return err
	}

	s.mu.Lock()
	o, ok := s.orders[id]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("%w: 订单 %s", gateway.ErrNotFound, id)
	}
	if o.status.Terminal() {
		s.mu.Unlock()
		return fmt.Errorf("%w: 订单 %s 已为 %s", gateway.ErrRejected, id, o.status)
	}
	o.status = order.StatusCancelled
	ev := s.event(o, "")
	s.mu.Unlock()

	s.publish([]gateway.Event{ev})
	return nil
}

// OpenOrders 返回仍在挂单中的订单。
func (s *Session) OpenOrders(ctx context.Context) ([]gateway.OrderSnapshot, error) {
	if err := s.check(ctx); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	open := make([]gateway.OrderSnapshot, 0)
	for _, id := range s.sequence {
		o := s.orders[id]
		if o.status.Terminal() {
			continue
		}
		open = append(open, gateway.OrderSnapshot{ID: o.id, Token: o.token, Spec: o.spec, Status: o.status, Filled: o.filled})
	}
	return open, nil
}

// WhatIf 按 Reg-T 比例估算保证金变化。
func (s *Session) WhatIf(ctx context.Context, spec order.Spec) (gateway.MarginImpact, error) {
	if err := s.check(ctx); err != nil {
		return gateway.MarginImpact{}, err
	}
	price, err := s.price(spec.Instrument.Symbol)
	if err != nil {
		return gateway.MarginImpact{}, err
	}
	if spec.Kind == order.KindLimit {
		price = spec.LimitPrice
	}
	qty := float64(spec.Quantity)
	notional := qty * price
	commission := math.Max(minCommission, qty*commissionRate)
	return gateway.MarginImpact{
		Currency:           s.currency,
		Notional:           round2(notional),
		InitMarginChange:   round2(notional * regTInitial),
		MaintMarginChange:  round2(notional * regTMaintenance),
		EquityWithLoanDiff: round2(-commission),
		Commission:         round2(commission),
	}, nil
}

// Events 返回订单事件流。
func (s *Session) Events() <-chan gateway.Event {
	return s.events
}

// Close 关闭会话与事件流。
func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		close(s.done)
		s.sendMu.Lock()
		close(s.events)
		s.sendMu.Unlock()
	})
	return nil
}

// match 需持有 mu 调用。
func (s *Session) match(o *restingOrder) []gateway.Event {
	price := s.prices[o.spec.Instrument.Symbol]
	bid, ask := s.bidAsk(price)

	var fillPrice float64
	switch o.spec.Kind {
	case order.KindMarket:
		fillPrice = ask
		if o.spec.Side == order.SideSell {
			fillPrice = bid
		}
	case order.KindLimit:
		if o.spec.Side == order.SideBuy && ask <= o.spec.LimitPrice {
			fillPrice = ask
		}
		if o.spec.Side == order.SideSell && bid >= o.spec.LimitPrice {
			fillPrice = bid
		}
	case order.KindStop:
		if o.spec.Side == order.SideSell && bid <= o.spec.StopPrice {
			fillPrice = bid
		}
		if o.spec.Side == order.SideBuy && ask >= o.spec.StopPrice {
			fillPrice = ask
		}
	}
	if fillPrice <= 0 {
		return nil
	}

	qty := float64(o.spec.Quantity)
	h, ok := s.positions[o.spec.Instrument.Symbol]
	if !ok {
		h = &holding{}
		s.positions[o.spec.Instrument.Symbol] = h
	}
	signed := qty
	if o.spec.Side == order.SideSell {
		signed = -qty
	}
	s.cash -= signed * fillPrice
	before := h.quantity
	h.quantity += signed
	switch {
	case h.quantity == 0:
		h.avgCost = 0
	case before == 0 || (before > 0) != (h.quantity > 0):
		h.avgCost = fillPrice
	case (before > 0) == (signed > 0):
		h.avgCost = (h.avgCost*math.Abs(before) + fillPrice*qty) / math.Abs(h.quantity)
	}

	o.status = order.StatusFilled
	o.filled = qty
	return []gateway.Event{s.event(o, fmt.Sprintf("成交价 %.2f", fillPrice))}
}

func (s *Session) event(o *restingOrder, reason string) gateway.Event {
	return gateway.Event{Token: o.token, OrderID: o.id, Status: o.status, Reason: reason, Time: s.now()}
}

func (s *Session) publish(events []gateway.Event) {
	if len(events) == 0 {
		return
	}
	s.sendMu.RLock()
	defer s.sendMu.RUnlock()
	for _, ev := range events {
		select {
		case <-s.done:
			return
		default:
		}
		select {
		case s.events <- ev:
		case <-s.done:
			return
		}
	}
}

func (s *Session) check(ctx context.Context) error {
	select {
	case <-s.done:
		return gateway.ErrClosed
	default:
	}
	return ctx.Err()
}

func (s *Session) price(symbol string) (float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	price, ok := s.prices[strings.ToUpper(symbol)]
	if !ok {
		return 0, fmt.Errorf("%w: 未知标的 %s", gateway.ErrNotFound, symbol)
	}
	return price, nil
}

func (s *Session) bidAsk(price float64) (float64, float64) {
	half := s.spread / 2
	return round2(price - half), round2(price + half)
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

func newYork() *time.Location {
	loc, err := time.LoadLocation("America/New_York")
	if err != nil {
		return time.FixedZone("EST", -5*3600)
	}
	return loc
}

// regularSession 计算常规交易时段状态及下一次开收盘时间。
func regularSession(now time.Time, loc *time.Location) (bool, time.Time, time.Time) {
	day := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, loc)
	openAt := func(d time.Time) time.Time { return time.Date(d.Year(), d.Month(), d.Day(), 9, 30, 0, 0, loc) }
	closeAt := func(d time.Time) time.Time { return time.Date(d.Year(), d.Month(), d.Day(), 16, 0, 0, 0, loc) }
	weekday := func(d time.Time) bool { return d.Weekday() != time.Saturday && d.Weekday() != time.Sunday }

	if weekday(day) && !now.Before(openAt(day)) && now.Before(closeAt(day)) {
		next := day.AddDate(0, 0, 1)
		for !weekday(next) {
			next = next.AddDate(0, 0, 1)
		}
		return true, openAt(next), closeAt(day)
	}

	next := day
	if !weekday(day) || !now.Before(openAt(day)) {
		next = day.AddDate(0, 0, 1)
	}
	for !weekday(next) {
		next = next.AddDate(0, 0, 1)
	}
	return false, openAt(next), closeAt(next)
}
