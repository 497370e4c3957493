package order

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"pgregory.net/rapid"
)

func TestTracker_RegisterBindGet(t *testing.T) {
	tracker := newTestTracker(time.Second)
	spec := mustLimit(t, "AAPL", 10, 150)

	if _, err := tracker.RegisterPending(spec, "tok-1"); err != nil {
		t.Fatalf("RegisterPending returned error: %v", err)
	}
	if _, ok := tracker.Get("42"); ok {
		t.Fatalf("order should not be visible by id before binding")
	}
	if err := tracker.BindIdentifier("tok-1", "42"); err != nil {
		t.Fatalf("BindIdentifier returned error: %v", err)
	}
	if err := tracker.ApplyStatus("42", StatusWorking, AnyVersion); err != nil {
		t.Fatalf("ApplyStatus returned error: %v", err)
	}

	got, ok := tracker.Get("42")
	if !ok {
		t.Fatalf("expected order 42 to be tracked")
	}
	want := Order{ID: "42", Token: "tok-1", Spec: spec, Status: StatusWorking, Version: 2}
	if diff := cmp.Diff(want, got, cmpopts.IgnoreFields(Order{}, "CreatedAt", "UpdatedAt")); diff != "" {
		t.Errorf("unexpected order snapshot (-want +got):\n%s", diff)
	}
}

func TestTracker_TerminalIdempotence(t *testing.T) {
	tracker := newTestTracker(time.Second)
	bindWorking(t, tracker, "tok-1", "42", mustLimit(t, "AAPL", 10, 150))

	if err := tracker.ApplyStatus("42", StatusFilled, AnyVersion); err != nil {
		t.Fatalf("Working -> Filled should succeed, got %v", err)
	}
	before, _ := tracker.Get("42")

	if err := tracker.ApplyStatus("42", StatusFilled, AnyVersion); !errors.Is(err, ErrStaleEvent) {
		t.Errorf("expected duplicate Filled to be stale, got %v", err)
	}
	if err := tracker.ApplyStatus("42", StatusWorking, AnyVersion); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("expected Filled -> Working to be invalid, got %v", err)
	}
	if err := tracker.ApplyStatus("42", StatusCancelled, AnyVersion); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("expected Filled -> Cancelled to be invalid, got %v", err)
	}

	after, _ := tracker.Get("42")
	if diff := cmp.Diff(before, after); diff != "" {
		t.Errorf("terminal order changed (-before +after):\n%s", diff)
	}
}

func TestTracker_VersionMismatchIsStale(t *testing.T) {
	tracker := newTestTracker(time.Second)
	bindWorking(t, tracker, "tok-1", "7", mustLimit(t, "MSFT", 1, 300))

	current, _ := tracker.Get("7")
	if err := tracker.ApplyStatus("7", StatusFilled, current.Version-1); !errors.Is(err, ErrStaleEvent) {
		t.Fatalf("expected stale event for old version, got %v", err)
	}
	if err := tracker.ApplyStatus("7", StatusFilled, current.Version); err != nil {
		t.Fatalf("expected matching version to apply, got %v", err)
	}
	got, _ := tracker.Get("7")
	if got.Version != current.Version+1 {
		t.Errorf("expected version %d, got %d", current.Version+1, got.Version)
	}
}

func TestTracker_BindErrors(t *testing.T) {
	tracker := newTestTracker(time.Second)
	if err := tracker.BindIdentifier("missing", "1"); !errors.Is(err, ErrUnknownCorrelation) {
		t.Errorf("expected unknown correlation, got %v", err)
	}

	bindWorking(t, tracker, "tok-1", "1", mustLimit(t, "AAPL", 1, 1))
	if err := tracker.BindIdentifier("tok-1", "2"); !errors.Is(err, ErrUnknownCorrelation) {
		t.Errorf("expected rebinding a token to fail, got %v", err)
	}

	if _, err := tracker.RegisterPending(mustLimit(t, "AAPL", 1, 1), "tok-2"); err != nil {
		t.Fatalf("RegisterPending returned error: %v", err)
	}
	if err := tracker.BindIdentifier("tok-2", "1"); !errors.Is(err, ErrDuplicateIdentifier) {
		t.Errorf("expected duplicate identifier, got %v", err)
	}
	if _, err := tracker.RegisterPending(mustLimit(t, "AAPL", 1, 1), "tok-2"); !errors.Is(err, ErrDuplicateToken) {
		t.Errorf("expected duplicate token, got %v", err)
	}
}

func TestTracker_ApplyUnknownOrder(t *testing.T) {
	tracker := newTestTracker(time.Second)
	if err := tracker.ApplyStatus("404", StatusFilled, AnyVersion); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestTracker_WaitBound(t *testing.T) {
	tracker := newTestTracker(time.Second)
	if _, err := tracker.RegisterPending(mustLimit(t, "AAPL", 1, 1), "tok-1"); err != nil {
		t.Fatalf("RegisterPending returned error: %v", err)
	}

	go func() {
		time.Sleep(10 * time.Millisecond)
		_ = tracker.BindIdentifier("tok-1", "99")
	}()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	got, err := tracker.WaitBound(ctx, "tok-1")
	if err != nil {
		t.Fatalf("WaitBound returned error: %v", err)
	}
	if got.ID != "99" {
		t.Errorf("expected id 99, got %q", got.ID)
	}

	if _, err := tracker.RegisterPending(mustLimit(t, "AAPL", 1, 1), "tok-2"); err != nil {
		t.Fatalf("RegisterPending returned error: %v", err)
	}
	short, cancelShort := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancelShort()
	if _, err := tracker.WaitBound(short, "tok-2"); !errors.Is(err, ErrTimeout) {
		t.Errorf("expected timeout, got %v", err)
	}
}

func TestTracker_DiscardWakesWaiters(t *testing.T) {
	tracker := newTestTracker(time.Second)
	if _, err := tracker.RegisterPending(mustLimit(t, "AAPL", 1, 1), "tok-1"); err != nil {
		t.Fatalf("RegisterPending returned error: %v", err)
	}
	go func() {
		time.Sleep(10 * time.Millisecond)
		tracker.Discard("tok-1")
	}()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if _, err := tracker.WaitBound(ctx, "tok-1"); !errors.Is(err, ErrUnknownCorrelation) {
		t.Fatalf("expected unknown correlation after discard, got %v", err)
	}
	if len(tracker.Orders()) != 0 {
		t.Errorf("discarded order should leave no trace, got %v", tracker.Orders())
	}
}

func TestTracker_ArchivedOrdersRemainVisible(t *testing.T) {
	tracker := newTestTracker(time.Second)
	bindWorking(t, tracker, "tok-1", "1", mustLimit(t, "AAPL", 1, 1))
	bindWorking(t, tracker, "tok-2", "2", mustLimit(t, "TSLA", 1, 1))
	if err := tracker.ApplyStatus("1", StatusCancelled, AnyVersion); err != nil {
		t.Fatalf("ApplyStatus returned error: %v", err)
	}

	open := tracker.Open()
	if len(open) != 1 || open[0].ID != "2" {
		t.Errorf("expected only order 2 open, got %+v", open)
	}
	all := tracker.Orders()
	if len(all) != 2 || all[0].ID != "1" || all[1].ID != "2" {
		t.Errorf("expected both orders in registration order, got %+v", all)
	}
	if got, ok := tracker.Get("1"); !ok || got.Status != StatusCancelled {
		t.Errorf("archived order should be retrievable, got %+v ok=%v", got, ok)
	}
}

func TestTracker_ObserverReceivesChanges(t *testing.T) {
	tracker := newTestTracker(time.Second)
	var kinds []ChangeKind
	tracker.Observe(func(c Change) { kinds = append(kinds, c.Kind) })

	bindWorking(t, tracker, "tok-1", "1", mustLimit(t, "AAPL", 1, 1))

	want := []ChangeKind{ChangeRegistered, ChangeBound, ChangeStatus}
	if diff := cmp.Diff(want, kinds); diff != "" {
		t.Errorf("unexpected change kinds (-want +got):\n%s", diff)
	}
}

func TestTracker_Adopt(t *testing.T) {
	tracker := newTestTracker(time.Second)
	added, err := tracker.Adopt(Order{ID: "500", Spec: mustLimit(t, "AAPL", 5, 100), Status: StatusWorking})
	if err != nil || !added {
		t.Fatalf("Adopt returned added=%v err=%v", added, err)
	}
	added, err = tracker.Adopt(Order{ID: "500", Status: StatusWorking})
	if err != nil || added {
		t.Fatalf("expected second Adopt to be a no-op, got added=%v err=%v", added, err)
	}
	got, ok := tracker.Get("500")
	if !ok || got.Token != "adopted-500" || got.Status != StatusWorking {
		t.Errorf("unexpected adopted order: %+v", got)
	}
}

func TestCancelAndReplace_NotWorking(t *testing.T) {
	tracker := newTestTracker(time.Second)
	gw := &fakeGateway{}
	if _, err := tracker.RegisterPending(mustLimit(t, "AAPL", 10, 150), "tok-1"); err != nil {
		t.Fatalf("RegisterPending returned error: %v", err)
	}
	if err := tracker.BindIdentifier("tok-1", "42"); err != nil {
		t.Fatalf("BindIdentifier returned error: %v", err)
	}

	if _, err := tracker.CancelAndReplace(context.Background(), gw, "42", 151); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("expected invalid state for PendingSubmit order, got %v", err)
	}
	if len(gw.cancels) != 0 || len(gw.submits) != 0 {
		t.Errorf("gateway should not be called, cancels=%v submits=%v", gw.cancels, gw.submits)
	}
	got, _ := tracker.Get("42")
	if got.Status != StatusPendingSubmit || got.Version != 1 {
		t.Errorf("order should be unchanged, got %+v", got)
	}
}

func TestCancelAndReplace_RejectsNonLimitAndMissing(t *testing.T) {
	tracker := newTestTracker(time.Second)
	gw := &fakeGateway{}
	market, err := Market(Stock("AAPL"), SideBuy, 1)
	if err != nil {
		t.Fatalf("Market returned error: %v", err)
	}
	bindWorking(t, tracker, "tok-1", "1", market)

	if _, err := tracker.CancelAndReplace(context.Background(), gw, "1", 10); !errors.Is(err, ErrUnsupportedKind) {
		t.Errorf("expected unsupported kind, got %v", err)
	}
	if _, err := tracker.CancelAndReplace(context.Background(), gw, "nope", 10); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected not found, got %v", err)
	}

	bindWorking(t, tracker, "tok-2", "2", mustLimit(t, "AAPL", 1, 10))
	if _, err := tracker.CancelAndReplace(context.Background(), gw, "2", -1); !errors.Is(err, ErrValidation) {
		t.Errorf("expected validation error for negative price, got %v", err)
	}
	if got, _ := tracker.Get("2"); got.Status != StatusWorking {
		t.Errorf("order should stay Working after validation failure, got %s", got.Status)
	}
}

func TestCancelAndReplace_Succeeds(t *testing.T) {
	tracker := newTestTracker(time.Second)
	gw := &fakeGateway{}
	gw.onCancel = func(id string) error {
		go func() {
			time.Sleep(5 * time.Millisecond)
			_ = tracker.ApplyStatus(id, StatusWorking, AnyVersion)
			_ = tracker.ApplyStatus(id, StatusCancelled, AnyVersion)
		}()
		return nil
	}
	bindWorking(t, tracker, "tok-1", "42", mustLimit(t, "AAPL", 10, 150))

	handle, err := tracker.CancelAndReplace(context.Background(), gw, "42", 151)
	if err != nil {
		t.Fatalf("CancelAndReplace returned error: %v", err)
	}
	if handle.Replaces != "42" || handle.Token == "" {
		t.Fatalf("unexpected handle: %+v", handle)
	}

	old, _ := tracker.Get("42")
	if old.Status != StatusCancelled {
		t.Errorf("expected old order cancelled, got %s", old.Status)
	}
	if len(gw.submits) != 1 || gw.submits[0].spec.LimitPrice != 151 || gw.submits[0].token != handle.Token {
		t.Fatalf("unexpected resubmission: %+v", gw.submits)
	}

	pending, ok := tracker.Pending(handle.Token)
	if !ok || pending.Replaces != "42" || pending.Status != StatusPendingSubmit {
		t.Fatalf("expected pending replacement, got %+v ok=%v", pending, ok)
	}
	if err := tracker.BindIdentifier(handle.Token, "43"); err != nil {
		t.Fatalf("BindIdentifier returned error: %v", err)
	}
	old, _ = tracker.Get("42")
	if old.ReplacedBy != "43" {
		t.Errorf("expected old order linked to 43, got %q", old.ReplacedBy)
	}
}

func TestCancelAndReplace_TimeoutRevertsToWorking(t *testing.T) {
	tracker := newTestTracker(20 * time.Millisecond)
	gw := &fakeGateway{}
	bindWorking(t, tracker, "tok-1", "42", mustLimit(t, "AAPL", 10, 150))

	_, err := tracker.CancelAndReplace(context.Background(), gw, "42", 151)
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("expected timeout, got %v", err)
	}
	got, _ := tracker.Get("42")
	if got.Status != StatusWorking {
		t.Errorf("expected order reverted to Working, got %s", got.Status)
	}
	if len(gw.submits) != 0 {
		t.Errorf("no resubmission expected, got %+v", gw.submits)
	}
}

func TestCancelAndReplace_ResubmitFailure(t *testing.T) {
	tracker := newTestTracker(time.Second)
	gw := &fakeGateway{submitErr: errors.New("throttled")}
	gw.onCancel = func(id string) error {
		return tracker.ApplyStatus(id, StatusCancelled, AnyVersion)
	}
	bindWorking(t, tracker, "tok-1", "42", mustLimit(t, "AAPL", 10, 150))

	_, err := tracker.CancelAndReplace(context.Background(), gw, "42", 151)
	if !errors.Is(err, ErrReplaceFailed) {
		t.Fatalf("expected replace failed, got %v", err)
	}
	old, _ := tracker.Get("42")
	if old.Status != StatusCancelled {
		t.Errorf("expected old order cancelled, got %s", old.Status)
	}
	if n := len(tracker.Orders()); n != 1 {
		t.Errorf("failed resubmission should not be tracked, got %d orders", n)
	}
}

func TestCancelAndReplace_CancelCallTimeout(t *testing.T) {
	tracker := newTestTracker(time.Second)
	tracker.opts.CallTimeout = 20 * time.Millisecond
	gw := &fakeGateway{hangCancel: true}
	bindWorking(t, tracker, "tok-1", "42", mustLimit(t, "AAPL", 10, 150))

	_, err := tracker.CancelAndReplace(context.Background(), gw, "42", 151)
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("expected timeout from hung cancel, got %v", err)
	}
	got, _ := tracker.Get("42")
	if got.Status != StatusWorking {
		t.Errorf("expected order reverted to Working, got %s", got.Status)
	}
}

func TestCancelAndReplace_ResubmitTimeoutKeepsPending(t *testing.T) {
	tracker := newTestTracker(time.Second)
	tracker.opts.CallTimeout = 20 * time.Millisecond
	gw := &fakeGateway{hangSubmit: true}
	gw.onCancel = func(id string) error {
		return tracker.ApplyStatus(id, StatusCancelled, AnyVersion)
	}
	bindWorking(t, tracker, "tok-1", "42", mustLimit(t, "AAPL", 10, 150))

	handle, err := tracker.CancelAndReplace(context.Background(), gw, "42", 151)
	if !errors.Is(err, ErrOutcomeUnknown) || !errors.Is(err, ErrTimeout) {
		t.Fatalf("expected unknown outcome with timeout, got %v", err)
	}
	if errors.Is(err, ErrReplaceFailed) {
		t.Errorf("uncertain resubmission must not be reported as failed: %v", err)
	}
	pending, ok := tracker.Pending(handle.Token)
	if !ok || pending.Replaces != "42" {
		t.Fatalf("expected replacement kept pending, got %+v ok=%v", pending, ok)
	}
	if err := tracker.BindIdentifier(handle.Token, "43"); err != nil {
		t.Fatalf("late identifier should still bind: %v", err)
	}
}

func TestTracker_AdoptBindsPendingByToken(t *testing.T) {
	tracker := newTestTracker(time.Second)
	spec := mustLimit(t, "AAPL", 5, 100)
	if _, err := tracker.RegisterPending(spec, "tok-9"); err != nil {
		t.Fatalf("RegisterPending returned error: %v", err)
	}

	added, err := tracker.Adopt(Order{ID: "77", Token: "tok-9", Spec: spec, Status: StatusFilled})
	if err != nil || !added {
		t.Fatalf("Adopt returned added=%v err=%v", added, err)
	}
	got, ok := tracker.Get("77")
	if !ok || got.Token != "tok-9" || got.Status != StatusFilled {
		t.Fatalf("expected pending order bound and filled, got %+v ok=%v", got, ok)
	}
	if n := len(tracker.Orders()); n != 1 {
		t.Errorf("expected a single order, got %d", n)
	}
}

func TestCancelAndReplace_FilledBeforeCancel(t *testing.T) {
	tracker := newTestTracker(time.Second)
	gw := &fakeGateway{}
	gw.onCancel = func(id string) error {
		return tracker.ApplyStatus(id, StatusFilled, AnyVersion)
	}
	bindWorking(t, tracker, "tok-1", "42", mustLimit(t, "AAPL", 10, 150))

	if _, err := tracker.CancelAndReplace(context.Background(), gw, "42", 151); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("expected invalid state when filled first, got %v", err)
	}
	if len(gw.submits) != 0 {
		t.Errorf("filled order must not be resubmitted")
	}
	got, _ := tracker.Get("42")
	if got.Status != StatusFilled {
		t.Errorf("expected Filled, got %s", got.Status)
	}
}

func TestCancelAndReplace_CancelError(t *testing.T) {
	tracker := newTestTracker(time.Second)
	gw := &fakeGateway{}
	gw.onCancel = func(string) error { return errors.New("connection lost") }
	bindWorking(t, tracker, "tok-1", "42", mustLimit(t, "AAPL", 10, 150))

	if _, err := tracker.CancelAndReplace(context.Background(), gw, "42", 151); err == nil {
		t.Fatalf("expected cancel error")
	}
	if got, _ := tracker.Get("42"); got.Status != StatusWorking {
		t.Errorf("expected revert to Working, got %s", got.Status)
	}
}

func TestCancelAndReplace_ConcurrentModifyWaits(t *testing.T) {
	tracker := newTestTracker(time.Second)
	release := make(chan struct{})
	gw := &fakeGateway{}
	gw.onCancel = func(id string) error {
		go func() {
			<-release
			_ = tracker.ApplyStatus(id, StatusCancelled, AnyVersion)
		}()
		return nil
	}
	bindWorking(t, tracker, "tok-1", "42", mustLimit(t, "AAPL", 10, 150))

	firstDone := make(chan error, 1)
	go func() {
		_, err := tracker.CancelAndReplace(context.Background(), gw, "42", 151)
		firstDone <- err
	}()

	waitFor(t, func() bool {
		o, _ := tracker.Get("42")
		return o.Status == StatusPendingReplace
	})

	secondDone := make(chan error, 1)
	go func() {
		_, err := tracker.CancelAndReplace(context.Background(), gw, "42", 152)
		secondDone <- err
	}()

	select {
	case err := <-secondDone:
		t.Fatalf("second modify should wait for the first, returned %v", err)
	case <-time.After(20 * time.Millisecond):
	}

	close(release)
	if err := <-firstDone; err != nil {
		t.Fatalf("first modify failed: %v", err)
	}
	if err := <-secondDone; !errors.Is(err, ErrInvalidState) {
		t.Fatalf("second modify should see the cancelled order, got %v", err)
	}
}

func TestCancelAndReplace_IgnoresWorkingEcho(t *testing.T) {
	tracker := newTestTracker(time.Second)
	gw := &fakeGateway{}
	var echoErr error
	gw.onCancel = func(id string) error {
		echoErr = tracker.ApplyStatus(id, StatusWorking, AnyVersion)
		return tracker.ApplyStatus(id, StatusCancelled, AnyVersion)
	}
	bindWorking(t, tracker, "tok-1", "42", mustLimit(t, "AAPL", 10, 150))

	if _, err := tracker.CancelAndReplace(context.Background(), gw, "42", 151); err != nil {
		t.Fatalf("CancelAndReplace returned error: %v", err)
	}
	if !errors.Is(echoErr, ErrStaleEvent) {
		t.Errorf("expected Working echo during replace to be stale, got %v", echoErr)
	}
}

func TestTracker_TerminalStatesAbsorb(t *testing.T) {
	statuses := []Status{StatusPendingSubmit, StatusWorking, StatusPendingReplace, StatusFilled, StatusCancelled, StatusRejected}

	rapid.Check(t, func(t *rapid.T) {
		tracker := newTestTracker(time.Second)
		spec, err := Limit(Stock("AAPL"), SideBuy, 1, 1)
		if err != nil {
			t.Fatalf("Limit returned error: %v", err)
		}
		if _, err := tracker.RegisterPending(spec, "tok"); err != nil {
			t.Fatalf("RegisterPending returned error: %v", err)
		}
		if err := tracker.BindIdentifier("tok", "1"); err != nil {
			t.Fatalf("BindIdentifier returned error: %v", err)
		}

		events := rapid.SliceOfN(rapid.SampledFrom(statuses), 1, 30).Draw(t, "events")
		applied := uint64(0)
		var terminal Status
		for _, status := range events {
			before, _ := tracker.Get("1")
			err := tracker.ApplyStatus("1", status, AnyVersion)
			after, _ := tracker.Get("1")

			if err == nil {
				applied++
				if !CanTransition(before.Status, status) {
					t.Fatalf("applied forbidden transition %s -> %s", before.Status, status)
				}
			} else if !errors.Is(err, ErrStaleEvent) && !errors.Is(err, ErrInvalidTransition) {
				t.Fatalf("unexpected error kind: %v", err)
			} else if before != after {
				t.Fatalf("rejected event mutated order: %+v -> %+v", before, after)
			}

			if terminal != "" && after.Status != terminal {
				t.Fatalf("terminal status %s changed to %s", terminal, after.Status)
			}
			if after.Status.Terminal() {
				terminal = after.Status
			}
		}

		final, _ := tracker.Get("1")
		if final.Version != 1+applied {
			t.Fatalf("expected version %d, got %d", 1+applied, final.Version)
		}
	})
}

type submitCall struct {
	token string
	spec  Spec
}

type fakeGateway struct {
	mu         sync.Mutex
	cancels    []string
	submits    []submitCall
	submitErr  error
	onCancel   func(id string) error
	hangCancel bool
	hangSubmit bool
}

func (f *fakeGateway) SubmitOrder(ctx context.Context, token string, spec Spec) error {
	f.mu.Lock()
	if f.submitErr != nil {
		f.mu.Unlock()
		return f.submitErr
	}
	f.submits = append(f.submits, submitCall{token: token, spec: spec})
	hang := f.hangSubmit
	f.mu.Unlock()
	if hang {
		<-ctx.Done()
		return ctx.Err()
	}
	return nil
}

func (f *fakeGateway) CancelOrder(ctx context.Context, id string) error {
	f.mu.Lock()
	f.cancels = append(f.cancels, id)
	hook := f.onCancel
	hang := f.hangCancel
	f.mu.Unlock()
	if hang {
		<-ctx.Done()
		return ctx.Err()
	}
	if hook != nil {
		return hook(id)
	}
	return nil
}

func newTestTracker(replaceTimeout time.Duration) *Tracker {
	var n int
	var mu sync.Mutex
	return NewTracker(TrackerOptions{
		ReplaceTimeout: replaceTimeout,
		NewToken: func() string {
			mu.Lock()
			defer mu.Unlock()
			n++
			return fmt.Sprintf("gen-%d", n)
		},
	}, nil)
}

func mustLimit(t testing.TB, symbol string, qty int64, price float64) Spec {
	t.Helper()
	spec, err := Limit(Stock(symbol), SideBuy, qty, price)
	if err != nil {
		t.Fatalf("Limit returned error: %v", err)
	}
	return spec
}

func bindWorking(t *testing.T, tracker *Tracker, token, id string, spec Spec) {
	t.Helper()
	if _, err := tracker.RegisterPending(spec, token); err != nil {
		t.Fatalf("RegisterPending returned error: %v", err)
	}
	if err := tracker.BindIdentifier(token, id); err != nil {
		t.Fatalf("BindIdentifier returned error: %v", err)
	}
	if err := tracker.ApplyStatus(id, StatusWorking, AnyVersion); err != nil {
		t.Fatalf("ApplyStatus returned error: %v", err)
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("condition not met within 1s")
}
