package exchange

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	ccxt "github.com/ccxt/ccxt/go/v4"

	"trades-cli/internal/config"
	"trades-cli/internal/gateway"
	"trades-cli/internal/order"
)

type fakeAPI struct {
	mu sync.Mutex

	createCalls int
	createErrs  []error
	createHang  chan struct{}
	lastSymbol  string
	lastType    string
	lastAmount  float64
	orderStatus map[string]string
	cancelled   []string
	ticker      ccxt.Ticker
	positions   []ccxt.Position
	balances    ccxt.Balances
	ohlcv       []ccxt.OHLCV
	openOrders  []ccxt.Order
}

func newFakeAPI() *fakeAPI {
	return &fakeAPI{orderStatus: make(map[string]string)}
}

func (f *fakeAPI) FetchBalance(params ...interface{}) (ccxt.Balances, error) {
	return f.balances, nil
}

func (f *fakeAPI) FetchPositions(options ...ccxt.FetchPositionsOptions) ([]ccxt.Position, error) {
	return f.positions, nil
}

func (f *fakeAPI) FetchTicker(symbol string, options ...ccxt.FetchTickerOptions) (ccxt.Ticker, error) {
	f.mu.Lock()
	f.lastSymbol = symbol
	f.mu.Unlock()
	return f.ticker, nil
}

func (f *fakeAPI) FetchOHLCV(symbol string, options ...ccxt.FetchOHLCVOptions) ([]ccxt.OHLCV, error) {
	return f.ohlcv, nil
}

func (f *fakeAPI) CreateOrder(symbol string, typeVar string, side string, amount float64, options ...ccxt.CreateOrderOptions) (ccxt.Order, error) {
	if f.createHang != nil {
		<-f.createHang
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.createCalls++
	f.lastSymbol = symbol
	f.lastType = typeVar
	f.lastAmount = amount
	if len(f.createErrs) > 0 {
		err := f.createErrs[0]
		f.createErrs = f.createErrs[1:]
		if err != nil {
			return ccxt.Order{}, err
		}
	}
	id := "ex-1"
	status := "open"
	f.orderStatus[id] = status
	return ccxt.Order{Id: &id, Status: &status}, nil
}

func (f *fakeAPI) CancelOrder(id string, options ...ccxt.CancelOrderOptions) (ccxt.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.orderStatus[id]; !ok {
		return ccxt.Order{}, &ccxt.Error{Type: ccxt.OrderNotFoundErrType, Message: "order not found"}
	}
	f.cancelled = append(f.cancelled, id)
	status := "canceled"
	f.orderStatus[id] = status
	return ccxt.Order{Id: &id, Status: &status}, nil
}

func (f *fakeAPI) FetchOrder(id string, options ...ccxt.FetchOrderOptions) (ccxt.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	status := f.orderStatus[id]
	return ccxt.Order{Id: &id, Status: &status}, nil
}

func (f *fakeAPI) FetchOpenOrders(options ...ccxt.FetchOpenOrdersOptions) ([]ccxt.Order, error) {
	return f.openOrders, nil
}

func (f *fakeAPI) setStatus(id, status string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.orderStatus[id] = status
}

func testConfig() config.ExchangeConfig {
	return config.ExchangeConfig{
		Name:         ExchangeBinanceUSDM,
		Settle:       "USDT",
		Leverage:     5,
		PollInterval: 10 * time.Millisecond,
		Retry: config.RetryConfig{
			MaxAttempts: 3,
			MinDelay:    time.Millisecond,
			MaxDelay:    2 * time.Millisecond,
		},
	}
}

func newTestSession(t *testing.T, api *fakeAPI) *Session {
	t.Helper()
	cfg := testConfig()
	s := newSession(newClient(cfg, api, nil, nil), cfg, "USDT", nil)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestSubmitOrder_EmitsWorkingThenPolledFill(t *testing.T) {
	api := newFakeAPI()
	s := newTestSession(t, api)

	spec, err := order.Limit(order.Stock("btc"), order.SideBuy, 2, 60000)
	if err != nil {
		t.Fatalf("Limit returned error: %v", err)
	}
	if err := s.SubmitOrder(context.Background(), "tok-1", spec); err != nil {
		t.Fatalf("SubmitOrder returned error: %v", err)
	}
	if api.lastSymbol != "BTC/USDT:USDT" || api.lastType != "limit" || api.lastAmount != 2 {
		t.Fatalf("unexpected create call: symbol=%s type=%s amount=%v", api.lastSymbol, api.lastType, api.lastAmount)
	}

	ev := nextEvent(t, s)
	if ev.Token != "tok-1" || ev.OrderID != "ex-1" || ev.Status != order.StatusWorking {
		t.Fatalf("unexpected first event: %+v", ev)
	}

	api.setStatus("ex-1", "closed")
	ev = nextEvent(t, s)
	if ev.OrderID != "ex-1" || ev.Status != order.StatusFilled {
		t.Fatalf("expected polled fill, got %+v", ev)
	}
}

func TestSubmitOrder_RetriesThrottled(t *testing.T) {
	api := newFakeAPI()
	api.createErrs = []error{&ccxt.Error{Type: ccxt.RateLimitExceededErrType, Message: "slow down"}}
	s := newTestSession(t, api)

	spec, _ := order.Market(order.Stock("ETH"), order.SideSell, 1)
	if err := s.SubmitOrder(context.Background(), "tok-1", spec); err != nil {
		t.Fatalf("SubmitOrder returned error: %v", err)
	}
	if api.createCalls != 2 {
		t.Errorf("expected 2 create attempts, got %d", api.createCalls)
	}
}

func TestSubmitOrder_NetworkErrorNotResent(t *testing.T) {
	api := newFakeAPI()
	api.createErrs = []error{&ccxt.Error{Type: ccxt.RequestTimeoutErrType, Message: "timed out"}}
	s := newTestSession(t, api)

	spec, _ := order.Market(order.Stock("ETH"), order.SideSell, 1)
	err := s.SubmitOrder(context.Background(), "tok-1", spec)
	if !errors.Is(err, gateway.ErrConnection) {
		t.Fatalf("expected ErrConnection, got %v", err)
	}
	if api.createCalls != 1 {
		t.Errorf("create_order must not be resent after a network error, got %d calls", api.createCalls)
	}
}

func TestSubmitOrder_HungCallBoundedByContext(t *testing.T) {
	api := newFakeAPI()
	api.createHang = make(chan struct{})
	t.Cleanup(func() { close(api.createHang) })
	s := newTestSession(t, api)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	spec, _ := order.Market(order.Stock("ETH"), order.SideSell, 1)
	done := make(chan error, 1)
	go func() { done <- s.SubmitOrder(ctx, "tok-1", spec) }()

	select {
	case err := <-done:
		if !errors.Is(err, gateway.ErrTimeout) || !gateway.IsUncertain(err) {
			t.Fatalf("expected uncertain timeout, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatalf("SubmitOrder ignored the context deadline")
	}
}

func TestPoll_ResendsEventDroppedOnFullBuffer(t *testing.T) {
	api := newFakeAPI()
	cfg := testConfig()
	cfg.EventBuffer = 1
	s := newSession(newClient(cfg, api, nil, nil), cfg, "USDT", nil)
	t.Cleanup(func() { _ = s.Close() })

	spec, _ := order.Limit(order.Stock("BTC"), order.SideBuy, 1, 60000)
	if err := s.SubmitOrder(context.Background(), "tok-1", spec); err != nil {
		t.Fatalf("SubmitOrder returned error: %v", err)
	}
	api.setStatus("ex-1", "closed")
	// 缓冲被 Working 占满期间的多轮轮询都无法送出 Filled。
	time.Sleep(5 * cfg.PollInterval)

	if ev := nextEvent(t, s); ev.Status != order.StatusWorking {
		t.Fatalf("expected Working first, got %+v", ev)
	}
	ev := nextEvent(t, s)
	if ev.OrderID != "ex-1" || ev.Status != order.StatusFilled || ev.Token != "tok-1" {
		t.Fatalf("expected the dropped fill to be resent, got %+v", ev)
	}
}

func TestSubmitOrder_InvalidOrderRejected(t *testing.T) {
	api := newFakeAPI()
	api.createErrs = []error{&ccxt.Error{Type: ccxt.InvalidOrderErrType, Message: "bad qty"}}
	s := newTestSession(t, api)

	spec, _ := order.Market(order.Stock("ETH"), order.SideSell, 1)
	err := s.SubmitOrder(context.Background(), "tok-1", spec)
	if !errors.Is(err, gateway.ErrRejected) {
		t.Fatalf("expected ErrRejected, got %v", err)
	}
	if api.createCalls != 1 {
		t.Errorf("rejections must not be retried, got %d calls", api.createCalls)
	}
}

func TestCancelOrder(t *testing.T) {
	api := newFakeAPI()
	s := newTestSession(t, api)

	spec, _ := order.Limit(order.Stock("BTC"), order.SideBuy, 1, 50000)
	if err := s.SubmitOrder(context.Background(), "tok-1", spec); err != nil {
		t.Fatalf("SubmitOrder returned error: %v", err)
	}
	nextEvent(t, s)

	if err := s.CancelOrder(context.Background(), "ex-1"); err != nil {
		t.Fatalf("CancelOrder returned error: %v", err)
	}
	if ev := nextEvent(t, s); ev.Status != order.StatusCancelled || ev.Token != "tok-1" {
		t.Fatalf("expected Cancelled event, got %+v", ev)
	}
	if err := s.CancelOrder(context.Background(), "missing"); !errors.Is(err, gateway.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestQuotePositionsAndBalance(t *testing.T) {
	api := newFakeAPI()
	bid, ask, last := 99.5, 100.5, 100.0
	api.ticker = ccxt.Ticker{Bid: &bid, Ask: &ask, Last: &last}
	sym, side, contracts, entry := "ETH/USDT:USDT", "short", 3.0, 2000.0
	api.positions = []ccxt.Position{{Symbol: &sym, Side: &side, Contracts: &contracts, EntryPrice: &entry}}
	total, free, used := 1000.0, 800.0, 200.0
	api.balances = ccxt.Balances{
		Total: map[string]*float64{"USDT": &total},
		Free:  map[string]*float64{"USDT": &free},
		Used:  map[string]*float64{"USDT": &used},
	}
	s := newTestSession(t, api)

	q, err := s.SnapshotQuote(context.Background(), order.Stock("ETH"))
	if err != nil {
		t.Fatalf("SnapshotQuote returned error: %v", err)
	}
	if q.Spread() != 1 || q.Instrument.Symbol != "ETH" {
		t.Errorf("unexpected quote %+v", q)
	}

	positions, err := s.Positions(context.Background())
	if err != nil {
		t.Fatalf("Positions returned error: %v", err)
	}
	if len(positions) != 1 || positions[0].Quantity != -3 || positions[0].AvgCost != 2000 {
		t.Errorf("unexpected positions %+v", positions)
	}

	values, err := s.AccountValues(context.Background())
	if err != nil {
		t.Fatalf("AccountValues returned error: %v", err)
	}
	got := map[string]float64{}
	for _, v := range values {
		got[v.Tag] = v.Value
	}
	if got[gateway.TagNetLiquidation] != 1000 || got[gateway.TagTotalCashBalance] != 800 || got[gateway.TagBuyingPower] != 4000 {
		t.Errorf("unexpected account values %v", got)
	}

	impact, err := s.WhatIf(context.Background(), mustMarket(t, "ETH", 10))
	if err != nil {
		t.Fatalf("WhatIf returned error: %v", err)
	}
	if impact.Notional != 1000 || impact.InitMarginChange != 200 {
		t.Errorf("unexpected impact %+v", impact)
	}
}

func TestOpenOrdersSnapshot(t *testing.T) {
	api := newFakeAPI()
	id, client, sym, side, typ, status := "7", "tok-9", "BTC/USDT:USDT", "buy", "limit", "open"
	amount, price := 1.0, 42000.0
	api.openOrders = []ccxt.Order{
		{Id: &id, ClientOrderId: &client, Symbol: &sym, Side: &side, Type: &typ, Status: &status, Amount: &amount, Price: &price},
		{Side: &side},
	}
	s := newTestSession(t, api)

	open, err := s.OpenOrders(context.Background())
	if err != nil {
		t.Fatalf("OpenOrders returned error: %v", err)
	}
	if len(open) != 1 {
		t.Fatalf("expected one parsed order, got %+v", open)
	}
	if open[0].Token != "tok-9" || open[0].Spec.Kind != order.KindLimit || open[0].Spec.LimitPrice != 42000 {
		t.Errorf("unexpected snapshot %+v", open[0])
	}
}

func TestCloseStopsSession(t *testing.T) {
	api := newFakeAPI()
	cfg := testConfig()
	s := newSession(newClient(cfg, api, nil, nil), cfg, "USDT", nil)

	if err := s.Close(); err != nil {
		t.Fatalf("Close returned error: %v", err)
	}
	if _, ok := <-s.Events(); ok {
		t.Errorf("expected events channel closed")
	}
	if _, err := s.Positions(context.Background()); !errors.Is(err, gateway.ErrClosed) {
		t.Errorf("expected ErrClosed, got %v", err)
	}
}

func TestClassifyError(t *testing.T) {
	cases := []struct {
		err   error
		want  error
		retry bool
	}{
		{&ccxt.Error{Type: ccxt.RequestTimeoutErrType}, gateway.ErrConnection, true},
		{&ccxt.Error{Type: ccxt.DDoSProtectionErrType}, gateway.ErrThrottled, true},
		{&ccxt.Error{Type: ccxt.InsufficientFundsErrType}, gateway.ErrRejected, false},
		{&ccxt.Error{Type: ccxt.OnMaintenanceErrType}, ErrMaintenance, false},
	}
	for _, tc := range cases {
		got, retry := classifyError(tc.err)
		if !errors.Is(got, tc.want) || retry != tc.retry {
			t.Errorf("classifyError(%v) = %v, %v", tc.err, got, retry)
		}
	}
}

func mustMarket(t *testing.T, symbol string, qty int64) order.Spec {
	t.Helper()
	spec, err := order.Market(order.Stock(symbol), order.SideBuy, qty)
	if err != nil {
		t.Fatalf("Market returned error: %v", err)
	}
	return spec
}

func nextEvent(t *testing.T, s *Session) gateway.Event {
	t.Helper()
	select {
	case ev := <-s.Events():
		return ev
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for event")
		return gateway.Event{}
	}
}
