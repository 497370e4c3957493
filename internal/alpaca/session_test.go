package alpaca

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/alpacahq/alpaca-trade-api-go/v3/alpaca"
	"github.com/alpacahq/alpaca-trade-api-go/v3/marketdata"
	"github.com/shopspring/decimal"

	"trades-cli/internal/gateway"
	"trades-cli/internal/order"
)

type fakeTrading struct {
	account   alpaca.Account
	positions []alpaca.Position
	orders    []alpaca.Order
	placed    []alpaca.PlaceOrderRequest
	placeErr  error
	cancelErr error
	handler   func(alpaca.TradeUpdate)
}

func (f *fakeTrading) GetAccount() (*alpaca.Account, error) { return &f.account, nil }

func (f *fakeTrading) GetPositions() ([]alpaca.Position, error) { return f.positions, nil }

func (f *fakeTrading) GetAsset(symbol string) (*alpaca.Asset, error) {
	return &alpaca.Asset{Symbol: symbol, Name: symbol + " Inc.", Exchange: "NASDAQ"}, nil
}

func (f *fakeTrading) GetClock() (*alpaca.Clock, error) {
	return &alpaca.Clock{IsOpen: true}, nil
}

func (f *fakeTrading) PlaceOrder(req alpaca.PlaceOrderRequest) (*alpaca.Order, error) {
	if f.placeErr != nil {
		return nil, f.placeErr
	}
	f.placed = append(f.placed, req)
	return &alpaca.Order{ID: "a-1", ClientOrderID: req.ClientOrderID}, nil
}

func (f *fakeTrading) CancelOrder(orderID string) error { return f.cancelErr }

func (f *fakeTrading) GetOrders(req alpaca.GetOrdersRequest) ([]alpaca.Order, error) {
	return f.orders, nil
}

func (f *fakeTrading) StreamTradeUpdatesInBackground(ctx context.Context, handler func(alpaca.TradeUpdate)) {
	f.handler = handler
}

type fakeData struct {
	quote marketdata.Quote
	trade marketdata.Trade
	bars  []marketdata.Bar
	req   marketdata.GetBarsRequest
}

func (f *fakeData) GetLatestQuote(symbol string, req marketdata.GetLatestQuoteRequest) (*marketdata.Quote, error) {
	return &f.quote, nil
}

func (f *fakeData) GetLatestTrade(symbol string, req marketdata.GetLatestTradeRequest) (*marketdata.Trade, error) {
	return &f.trade, nil
}

func (f *fakeData) GetBars(symbol string, req marketdata.GetBarsRequest) ([]marketdata.Bar, error) {
	f.req = req
	return f.bars, nil
}

func newTestSession(t *testing.T, trading *fakeTrading, data *fakeData) *Session {
	t.Helper()
	s := newSession(context.Background(), trading, data, "iex", "USD", nil)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestSubmitOrder_MapsLimitRequest(t *testing.T) {
	trading := &fakeTrading{}
	s := newTestSession(t, trading, &fakeData{})

	spec, err := order.Limit(order.Stock("AAPL"), order.SideSell, 10, 150.5)
	if err != nil {
		t.Fatalf("Limit returned error: %v", err)
	}
	if err := s.SubmitOrder(context.Background(), "tok-1", spec); err != nil {
		t.Fatalf("SubmitOrder returned error: %v", err)
	}

	if len(trading.placed) != 1 {
		t.Fatalf("expected one placed order, got %d", len(trading.placed))
	}
	req := trading.placed[0]
	if req.ClientOrderID != "tok-1" || req.Side != alpaca.Sell || req.Type != alpaca.Limit {
		t.Errorf("unexpected request %+v", req)
	}
	if req.Qty == nil || !req.Qty.Equal(decimal.NewFromInt(10)) {
		t.Errorf("unexpected qty %v", req.Qty)
	}
	if req.LimitPrice == nil || !req.LimitPrice.Equal(decimal.RequireFromString("150.5")) {
		t.Errorf("unexpected limit price %v", req.LimitPrice)
	}

	ev := nextEvent(t, s)
	if ev.OrderID != "a-1" || ev.Token != "tok-1" || ev.Status != order.StatusWorking {
		t.Errorf("unexpected event %+v", ev)
	}
}

func TestSubmitOrder_ClassifiesAPIError(t *testing.T) {
	trading := &fakeTrading{placeErr: &alpaca.APIError{StatusCode: http.StatusForbidden, Message: "insufficient buying power"}}
	s := newTestSession(t, trading, &fakeData{})

	spec, _ := order.Market(order.Stock("AAPL"), order.SideBuy, 1)
	if err := s.SubmitOrder(context.Background(), "tok-1", spec); !errors.Is(err, gateway.ErrRejected) {
		t.Fatalf("expected ErrRejected, got %v", err)
	}

	trading.placeErr = &alpaca.APIError{StatusCode: http.StatusTooManyRequests}
	if err := s.SubmitOrder(context.Background(), "tok-2", spec); !gateway.IsRetryable(err) {
		t.Fatalf("expected retryable throttle error, got %v", err)
	}
}

func TestTradeUpdatesBecomeEvents(t *testing.T) {
	trading := &fakeTrading{}
	s := newTestSession(t, trading, &fakeData{})

	trading.handler(alpaca.TradeUpdate{Event: "fill", Order: alpaca.Order{ID: "a-9", ClientOrderID: "tok-9"}})
	trading.handler(alpaca.TradeUpdate{Event: "pending_cancel", Order: alpaca.Order{ID: "a-9"}})
	trading.handler(alpaca.TradeUpdate{Event: "rejected", Order: alpaca.Order{ClientOrderID: "tok-10"}})

	if ev := nextEvent(t, s); ev.OrderID != "a-9" || ev.Status != order.StatusFilled {
		t.Errorf("unexpected fill event %+v", ev)
	}
	ev := nextEvent(t, s)
	if ev.Token != "tok-10" || ev.OrderID != "" || ev.Status != order.StatusRejected || ev.Reason == "" {
		t.Errorf("unexpected reject event %+v", ev)
	}
}

func TestTradeUpdatesSurviveFullBuffer(t *testing.T) {
	trading := &fakeTrading{}
	s := newTestSession(t, trading, &fakeData{})
	s.mu.Lock()
	s.events = make(chan gateway.Event, 1)
	s.mu.Unlock()

	trading.handler(alpaca.TradeUpdate{Event: "new", Order: alpaca.Order{ID: "a-1", ClientOrderID: "tok-1"}})
	trading.handler(alpaca.TradeUpdate{Event: "partial_fill", Order: alpaca.Order{ID: "a-1", ClientOrderID: "tok-1"}})
	trading.handler(alpaca.TradeUpdate{Event: "fill", Order: alpaca.Order{ID: "a-1", ClientOrderID: "tok-1"}})

	want := []order.Status{order.StatusWorking, order.StatusWorking, order.StatusFilled}
	for i, status := range want {
		ev := nextEvent(t, s)
		if ev.OrderID != "a-1" || ev.Status != status {
			t.Fatalf("event %d: expected %s, got %+v", i, status, ev)
		}
	}
}

func TestQuoteBarsAndPositions(t *testing.T) {
	now := time.Date(2024, 3, 4, 15, 0, 0, 0, time.UTC)
	data := &fakeData{
		quote: marketdata.Quote{BidPrice: 99.9, AskPrice: 100.1, Timestamp: now},
		trade: marketdata.Trade{Price: 100, Timestamp: now},
		bars:  []marketdata.Bar{{Timestamp: now, Open: 1, High: 2, Low: 0.5, Close: 1.5, Volume: 1000}},
	}
	trading := &fakeTrading{positions: []alpaca.Position{{Symbol: "TSLA", Side: "short", Qty: decimal.NewFromInt(5), AvgEntryPrice: decimal.NewFromFloat(700)}}}
	s := newTestSession(t, trading, data)

	q, err := s.SnapshotQuote(context.Background(), order.Stock("AAPL"))
	if err != nil {
		t.Fatalf("SnapshotQuote returned error: %v", err)
	}
	if !q.HasBidAsk() || q.Last != 100 {
		t.Errorf("unexpected quote %+v", q)
	}

	bars, err := s.HistoricalBars(context.Background(), order.Stock("AAPL"), gateway.HistoricalRequest{Duration: "1 D", BarSize: "5 mins", EndTime: now})
	if err != nil {
		t.Fatalf("HistoricalBars returned error: %v", err)
	}
	if len(bars) != 1 || bars[0].Volume != 1000 {
		t.Errorf("unexpected bars %+v", bars)
	}
	if data.req.TimeFrame != marketdata.NewTimeFrame(5, marketdata.Min) || !data.req.Start.Equal(now.Add(-24*time.Hour)) {
		t.Errorf("unexpected bars request %+v", data.req)
	}

	positions, err := s.Positions(context.Background())
	if err != nil {
		t.Fatalf("Positions returned error: %v", err)
	}
	if len(positions) != 1 || positions[0].Quantity != -5 || positions[0].AvgCost != 700 {
		t.Errorf("unexpected positions %+v", positions)
	}
}

func TestOpenOrdersSkipsUnparsable(t *testing.T) {
	qty := decimal.NewFromInt(3)
	limit := decimal.NewFromFloat(12.5)
	trading := &fakeTrading{orders: []alpaca.Order{
		{ID: "a-1", ClientOrderID: "tok-1", Symbol: "AAPL", Side: alpaca.Buy, Type: alpaca.Limit, Qty: &qty, LimitPrice: &limit, Status: "new"},
		{ID: "a-2", Symbol: "AAPL", Side: alpaca.Buy, Type: alpaca.Market},
	}}
	s := newTestSession(t, trading, &fakeData{})

	open, err := s.OpenOrders(context.Background())
	if err != nil {
		t.Fatalf("OpenOrders returned error: %v", err)
	}
	if len(open) != 1 || open[0].Token != "tok-1" || open[0].Spec.LimitPrice != 12.5 || open[0].Status != order.StatusWorking {
		t.Errorf("unexpected open orders %+v", open)
	}
}

func TestCloseIsIdempotent(t *testing.T) {
	trading := &fakeTrading{}
	s := newSession(context.Background(), trading, &fakeData{}, "", "USD", nil)
	if err := s.Close(); err != nil {
		t.Fatalf("Close returned error: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("second Close returned error: %v", err)
	}
	trading.handler(alpaca.TradeUpdate{Event: "fill", Order: alpaca.Order{ID: "late"}})
	if _, ok := <-s.Events(); ok {
		t.Errorf("expected closed events channel")
	}
	if _, err := s.AccountValues(context.Background()); !errors.Is(err, gateway.ErrClosed) {
		t.Errorf("expected ErrClosed, got %v", err)
	}
}

func nextEvent(t *testing.T, s *Session) gateway.Event {
	t.Helper()
	select {
	case ev := <-s.Events():
		return ev
	case <-time.After(time.Second):
		t.Fatalf("timed out waiting for event")
		return gateway.Event{}
	}
}
