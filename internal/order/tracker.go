package order

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// AnyVersion 表示跳过版本号校验。
const AnyVersion uint64 = 0

const (
	defaultReplaceTimeout = 5 * time.Second
	defaultCallTimeout    = 5 * time.Second
)

// Gateway 为改单流程所需的最小网关能力。
type Gateway interface {
	SubmitOrder(ctx context.Context, token string, spec Spec) error
	CancelOrder(ctx context.Context, id string) error
}

// ChangeKind 标识订单变化的类别。
type ChangeKind string

const (
	ChangeRegistered ChangeKind = "registered"
	ChangeBound      ChangeKind = "bound"
	ChangeStatus     ChangeKind = "status"
	ChangeDiscarded  ChangeKind = "discarded"
)

// Change 为一次订单变化的快照。
type Change struct {
	Kind  ChangeKind
	From  Status
	Order Order
}

// Observer 在锁释放后收到变化通知，实现不得阻塞。
type Observer func(Change)

// Update 为一次外部状态更新。
type Update struct {
	ID          string
	Status      Status
	Reason      string
	AsOfVersion uint64
}

// TrackerOptions 控制 Tracker 行为。
type TrackerOptions struct {
	ReplaceTimeout time.Duration
	// CallTimeout 限定改单流程中每次撤单、下单请求的耗时。
	CallTimeout time.Duration
	Now            func() time.Time
	NewToken       func() string
}

type entry struct {
	order     Order
	seq       uint64
	bound     chan struct{}
	changed   chan struct{}
	discarded bool
}

type replaceOp struct {
	done chan struct{}
}

// Tracker 维护 订单编号 -> Order 的权威映射并驱动状态机。
type Tracker struct {
	mu        sync.Mutex
	logger    *zap.Logger
	opts      TrackerOptions
	live      map[string]*entry
	archive   map[string]*entry
	byToken   map[string]*entry
	replacing map[string]*replaceOp
	seq       uint64
	observers []Observer
}

// NewTracker 创建订单追踪器。
func NewTracker(opts TrackerOptions, logger *zap.Logger) *Tracker {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.ReplaceTimeout <= 0 {
		opts.ReplaceTimeout = defaultReplaceTimeout
	}
	if opts.CallTimeout <= 0 {
		opts.CallTimeout = defaultCallTimeout
	}
	if opts.Now == nil {
		opts.Now = func() time.Time { return time.Now().UTC() }
	}
	if opts.NewToken == nil {
		opts.NewToken = uuid.NewString
	}
	return &Tracker{
		logger:    logger,
		opts:      opts,
		live:      make(map[string]*entry),
		archive:   make(map[string]*entry),
		byToken:   make(map[string]*entry),
		replacing: make(map[string]*replaceOp),
	}
}

// NewToken 生成新的本地关联令牌。
func (t *Tracker) NewToken() string {
	return t.opts.NewToken()
}

// Observe 注册变化观察者。
func (t *Tracker) Observe(fn Observer) {
	if fn == nil {
		return
	}
	t.mu.Lock()
	t.observers = append(t.observers, fn)
	t.mu.Unlock()
}

// RegisterPending 登记尚未获得网关编号的订单，必须在提交前调用。
func (t *Tracker) RegisterPending(spec Spec, token string) (Handle, error) {
	return t.register(spec, token, "")
}

func (t *Tracker) register(spec Spec, token, replaces string) (Handle, error) {
	if token == "" {
		return Handle{}, invalid("token", "", "不能为空")
	}

	t.mu.Lock()
	if _, exists := t.byToken[token]; exists {
		t.mu.Unlock()
		return Handle{}, fmt.Errorf("%w: %s", ErrDuplicateToken, token)
	}

	now := t.opts.Now()
	t.seq++
	e := &entry{
		order: Order{
			Token:     token,
			Spec:      spec,
			Status:    StatusPendingSubmit,
			Version:   1,
			Replaces:  replaces,
			CreatedAt: now,
			UpdatedAt: now,
		},
		seq:     t.seq,
		bound:   make(chan struct{}),
		changed: make(chan struct{}),
	}
	t.byToken[token] = e
	change := Change{Kind: ChangeRegistered, Order: e.order}
	t.mu.Unlock()

	t.emit(change)
	return Handle{Token: token, Replaces: replaces}, nil
}

// Discard 移除提交失败的待定订单，已绑定编号的订单不受影响。
func (t *Tracker) Discard(token string) bool {
	t.mu.Lock()
	e, ok := t.byToken[token]
	if !ok || e.order.ID != "" {
		t.mu.Unlock()
		return false
	}
	delete(t.byToken, token)
	e.discarded = true
	close(e.bound)
	change := Change{Kind: ChangeDiscarded, From: e.order.Status, Order: e.order}
	t.mu.Unlock()

	t.emit(change)
	return true
}

// BindIdentifier 将待定订单与网关分配的编号关联，编号只能分配一次。
func (t *Tracker) BindIdentifier(token, id string) error {
	if id == "" {
		return invalid("order_id", "", "不能为空")
	}

	t.mu.Lock()
	e, ok := t.byToken[token]
	if !ok || e.order.ID != "" {
		t.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrUnknownCorrelation, token)
	}
	if t.lookup(id) != nil {
		t.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrDuplicateIdentifier, id)
	}

	change := t.bind(e, id)
	t.mu.Unlock()

	t.logger.Debug("订单编号已绑定", zap.String("token", token), zap.String("order_id", id))
	t.emit(change)
	return nil
}

// bind 需持有锁调用。
func (t *Tracker) bind(e *entry, id string) Change {
	e.order.ID = id
	e.order.UpdatedAt = t.opts.Now()
	t.live[id] = e
	close(e.bound)
	if e.order.Replaces != "" {
		if prev := t.lookup(e.order.Replaces); prev != nil {
			prev.order.ReplacedBy = id
		}
	}
	return Change{Kind: ChangeBound, From: e.order.Status, Order: e.order}
}

// ApplyStatus 按状态机迁移订单状态，asOfVersion 为 AnyVersion 时跳过版本校验。
func (t *Tracker) ApplyStatus(id string, status Status, asOfVersion uint64) error {
	return t.Apply(Update{ID: id, Status: status, AsOfVersion: asOfVersion})
}

// Apply 应用一次外部状态更新。重复或过期事件返回 ErrStaleEvent，均不修改状态。
func (t *Tracker) Apply(u Update) error {
	t.mu.Lock()
	e := t.lookup(u.ID)
	if e == nil {
		t.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrNotFound, u.ID)
	}

	cur := e.order
	switch {
	case u.AsOfVersion != AnyVersion && u.AsOfVersion != cur.Version:
		t.mu.Unlock()
		return fmt.Errorf("%w: 订单 %s 版本 %d, 事件版本 %d", ErrStaleEvent, u.ID, cur.Version, u.AsOfVersion)
	case cur.Status == u.Status:
		t.mu.Unlock()
		return fmt.Errorf("%w: 订单 %s 已处于 %s", ErrStaleEvent, u.ID, cur.Status)
	case cur.Status == StatusPendingReplace && u.Status == StatusWorking && t.replacing[u.ID] != nil:
		t.mu.Unlock()
		return fmt.Errorf("%w: 订单 %s 改单进行中", ErrStaleEvent, u.ID)
	case !CanTransition(cur.Status, u.Status):
		t.mu.Unlock()
		return fmt.Errorf("%w: 订单 %s %s -> %s", ErrInvalidTransition, u.ID, cur.Status, u.Status)
	}

	change := t.transition(e, u.Status, u.Reason)
	t.mu.Unlock()

	t.emit(change)
	return nil
}

// Get 返回订单快照，不存在时 ok 为 false。
func (t *Tracker) Get(id string) (Order, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e := t.lookup(id)
	if e == nil {
		return Order{}, false
	}
	return e.order, true
}

// Pending 按关联令牌查找订单快照。
func (t *Tracker) Pending(token string) (Order, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.byToken[token]
	if !ok {
		return Order{}, false
	}
	return e.order, true
}

// Orders 按登记顺序返回全部订单快照。
func (t *Tracker) Orders() []Order {
	t.mu.Lock()
	entries := make([]*entry, 0, len(t.byToken))
	for _, e := range t.byToken {
		entries = append(entries, e)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].seq < entries[j].seq })
	orders := make([]Order, 0, len(entries))
	for _, e := range entries {
		orders = append(orders, e.order)
	}
	t.mu.Unlock()
	return orders
}

// Open 返回已获得编号且未进入终态的订单。
func (t *Tracker) Open() []Order {
	all := t.Orders()
	open := make([]Order, 0, len(all))
	for _, o := range all {
		if o.ID != "" && !o.Terminal() {
			open = append(open, o)
		}
	}
	return open
}

// WaitBound 等待令牌对应的订单获得网关编号。
func (t *Tracker) WaitBound(ctx context.Context, token string) (Order, error) {
	t.mu.Lock()
	e, ok := t.byToken[token]
	if !ok {
		t.mu.Unlock()
		return Order{}, fmt.Errorf("%w: %s", ErrUnknownCorrelation, token)
	}
	if e.order.ID != "" {
		snapshot := e.order
		t.mu.Unlock()
		return snapshot, nil
	}
	bound := e.bound
	t.mu.Unlock()

	select {
	case <-bound:
	case <-ctx.Done():
		return Order{}, waitErr(ctx.Err())
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if e.discarded {
		return e.order, fmt.Errorf("%w: %s", ErrUnknownCorrelation, token)
	}
	return e.order, nil
}

// Adopt 接管网关上存在但本地未登记的订单，已存在时返回 false。
// 令牌与未绑定的待定订单相同时直接绑定该订单。
func (t *Tracker) Adopt(o Order) (bool, error) {
	if o.ID == "" {
		return false, invalid("order_id", "", "不能为空")
	}
	if _, ok := transitions[o.Status]; !ok && !o.Status.Terminal() {
		o.Status = StatusWorking
	}

	t.mu.Lock()
	if t.lookup(o.ID) != nil {
		t.mu.Unlock()
		return false, nil
	}
	if pending, ok := t.byToken[o.Token]; ok && o.Token != "" && pending.order.ID == "" {
		changes := []Change{t.bind(pending, o.ID)}
		if o.Status != pending.order.Status && CanTransition(pending.order.Status, o.Status) {
			changes = append(changes, t.transition(pending, o.Status, ""))
		}
		t.mu.Unlock()
		t.logger.Info("挂单同步确认了待定订单", zap.String("token", o.Token), zap.String("order_id", o.ID))
		t.emit(changes...)
		return true, nil
	}
	if o.Token == "" {
		o.Token = "adopted-" + o.ID
	}
	if _, exists := t.byToken[o.Token]; exists {
		o.Token = t.opts.NewToken()
	}
	now := t.opts.Now()
	o.Version = 1
	o.CreatedAt = now
	o.UpdatedAt = now
	o.Replaces = ""
	o.ReplacedBy = ""

	t.seq++
	e := &entry{
		order:   o,
		seq:     t.seq,
		bound:   make(chan struct{}),
		changed: make(chan struct{}),
	}
	close(e.bound)
	t.byToken[o.Token] = e
	if o.Terminal() {
		t.archive[o.ID] = e
	} else {
		t.live[o.ID] = e
	}
	change := Change{Kind: ChangeRegistered, Order: e.order}
	t.mu.Unlock()

	t.emit(change)
	return true, nil
}

// CancelAndReplace 以撤单后重下的方式修改限价单价格，返回新订单句柄。
func (t *Tracker) CancelAndReplace(ctx context.Context, gw Gateway, id string, newLimit float64) (Handle, error) {
	if gw == nil {
		return Handle{}, errors.New("order: gateway 不能为空")
	}

	e, spec, op, err := t.beginReplace(ctx, id, newLimit)
	if err != nil {
		return Handle{}, err
	}
	defer t.endReplace(id, op)

	err = t.call(ctx, func(ctx context.Context) error { return gw.CancelOrder(ctx, id) })
	if err != nil {
		t.revertReplace(e, "撤单请求失败")
		return Handle{}, fmt.Errorf("order: 撤销订单 %s 失败: %w", id, err)
	}

	final, err := t.awaitCancel(ctx, e)
	if err != nil {
		t.revertReplace(e, "等待撤单确认超时")
		t.logger.Warn("改单等待撤单确认超时，已恢复原状态", zap.String("order_id", id), zap.Error(err))
		return Handle{}, err
	}
	if final != StatusCancelled {
		return Handle{}, fmt.Errorf("%w: 订单 %s 在撤单前已变为 %s", ErrInvalidState, id, final)
	}

	token := t.NewToken()
	handle, err := t.register(spec, token, id)
	if err != nil {
		return Handle{}, fmt.Errorf("%w: %s: %w", ErrReplaceFailed, id, err)
	}
	err = t.call(ctx, func(ctx context.Context) error { return gw.SubmitOrder(ctx, token, spec) })
	if err != nil {
		if errors.Is(err, ErrOutcomeUnknown) || errors.Is(err, context.DeadlineExceeded) {
			t.logger.Warn("改单重新下单结果未知，保留待定订单",
				zap.String("order_id", id),
				zap.String("token", token),
				zap.Error(err),
			)
			return handle, fmt.Errorf("%w: 订单 %s 的替换单 (token %s): %w", ErrOutcomeUnknown, id, token, err)
		}
		t.Discard(token)
		t.logger.Error("改单重新下单失败，原订单已撤销",
			zap.String("order_id", id),
			zap.Float64("limit_price", newLimit),
			zap.Error(err),
		)
		return Handle{}, fmt.Errorf("%w: %s: %w", ErrReplaceFailed, id, err)
	}

	t.logger.Info("改单已提交",
		zap.String("order_id", id),
		zap.String("token", token),
		zap.Float64("limit_price", newLimit),
	)
	return handle, nil
}

// call 为单次网关请求加上 CallTimeout，超时错误同时匹配 ErrTimeout 与 context.DeadlineExceeded。
func (t *Tracker) call(ctx context.Context, fn func(ctx context.Context) error) error {
	callCtx, cancel := context.WithTimeout(ctx, t.opts.CallTimeout)
	defer cancel()
	err := fn(callCtx)
	if err != nil && errors.Is(callCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
		return fmt.Errorf("%w: %w: %v", ErrTimeout, context.DeadlineExceeded, err)
	}
	return err
}

func (t *Tracker) beginReplace(ctx context.Context, id string, newLimit float64) (*entry, Spec, *replaceOp, error) {
	deadline := time.NewTimer(t.opts.ReplaceTimeout)
	defer deadline.Stop()

	t.mu.Lock()
	for {
		op, busy := t.replacing[id]
		if !busy {
			break
		}
		t.mu.Unlock()
		select {
		case <-op.done:
		case <-deadline.C:
			return nil, Spec{}, nil, fmt.Errorf("%w: 订单 %s 正在改单", ErrTimeout, id)
		case <-ctx.Done():
			return nil, Spec{}, nil, waitErr(ctx.Err())
		}
		t.mu.Lock()
	}

	e := t.lookup(id)
	if e == nil {
		t.mu.Unlock()
		return nil, Spec{}, nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if e.order.Spec.Kind != KindLimit {
		t.mu.Unlock()
		return nil, Spec{}, nil, fmt.Errorf("%w: 订单 %s 类型为 %s", ErrUnsupportedKind, id, e.order.Spec.Kind)
	}
	if e.order.Status != StatusWorking {
		t.mu.Unlock()
		return nil, Spec{}, nil, fmt.Errorf("%w: 订单 %s 当前为 %s", ErrInvalidState, id, e.order.Status)
	}
	spec, err := e.order.Spec.WithLimitPrice(newLimit)
	if err != nil {
		t.mu.Unlock()
		return nil, Spec{}, nil, err
	}

	op := &replaceOp{done: make(chan struct{})}
	t.replacing[id] = op
	change := t.transition(e, StatusPendingReplace, "")
	t.mu.Unlock()

	t.emit(change)
	return e, spec, op, nil
}

func (t *Tracker) endReplace(id string, op *replaceOp) {
	t.mu.Lock()
	if t.replacing[id] == op {
		delete(t.replacing, id)
	}
	t.mu.Unlock()
	close(op.done)
}

func (t *Tracker) awaitCancel(ctx context.Context, e *entry) (Status, error) {
	timer := time.NewTimer(t.opts.ReplaceTimeout)
	defer timer.Stop()

	for {
		t.mu.Lock()
		status := e.order.Status
		changed := e.changed
		t.mu.Unlock()

		if status != StatusPendingReplace {
			return status, nil
		}

		select {
		case <-changed:
		case <-timer.C:
			return status, fmt.Errorf("%w: 订单 %s 未在 %s 内确认撤销", ErrTimeout, e.order.ID, t.opts.ReplaceTimeout)
		case <-ctx.Done():
			return status, waitErr(ctx.Err())
		}
	}
}

func (t *Tracker) revertReplace(e *entry, reason string) {
	t.mu.Lock()
	if e.order.Status != StatusPendingReplace {
		t.mu.Unlock()
		return
	}
	change := t.transition(e, StatusWorking, reason)
	t.mu.Unlock()
	t.emit(change)
}

// transition 需持有锁调用。
func (t *Tracker) transition(e *entry, to Status, reason string) Change {
	from := e.order.Status
	e.order.Status = to
	e.order.Version++
	e.order.UpdatedAt = t.opts.Now()
	if reason != "" {
		e.order.Reason = reason
	}
	close(e.changed)
	e.changed = make(chan struct{})

	if to.Terminal() && e.order.ID != "" {
		delete(t.live, e.order.ID)
		t.archive[e.order.ID] = e
	}

	return Change{Kind: ChangeStatus, From: from, Order: e.order}
}

func (t *Tracker) lookup(id string) *entry {
	if e, ok := t.live[id]; ok {
		return e
	}
	if e, ok := t.archive[id]; ok {
		return e
	}
	return nil
}

func (t *Tracker) emit(changes ...Change) {
	t.mu.Lock()
	observers := append([]Observer(nil), t.observers...)
	t.mu.Unlock()

	for _, change := range changes {
		for _, fn := range observers {
			fn(change)
		}
	}
}

func waitErr(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	}
	return err
}
