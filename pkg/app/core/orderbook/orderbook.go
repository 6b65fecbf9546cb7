// Package orderbook holds pending position, liquidity and withdrawal orders
// between placement and broker execution or owner cancellation.
package orderbook

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/uhyunpark/hyperorders/pkg/app/core/order"
	"github.com/uhyunpark/hyperorders/pkg/app/core/orderset"
	"github.com/uhyunpark/hyperorders/pkg/events"
	"github.com/uhyunpark/hyperorders/pkg/util"
)

type Config struct {
	Pool    Pool
	Custody Custody
	Store   Store       // nil keeps state in memory only
	Events  events.Sink // nil discards events
	Clock   util.Clock
	Logger  *zap.SugaredLogger
}

// OrderBook owns the append-only record table and one pending set per order
// type. A single mutex serializes every operation, collaborator calls included.
type OrderBook struct {
	mu sync.RWMutex

	pool    Pool
	custody Custody
	store   Store
	events  events.Sink
	clock   util.Clock
	log     *zap.SugaredLogger

	records []order.Record // index == order id
	status  []order.Status
	pending map[order.Type]*orderset.Set
	brokers map[common.Address]struct{}
}

// New builds a book bound to its pool and custody and restores any state the
// store already holds.
func New(cfg Config) (*OrderBook, error) {
	if cfg.Pool == nil || cfg.Custody == nil {
		return nil, errors.New("orderbook: pool and custody are required")
	}
	ob := &OrderBook{
		pool:    cfg.Pool,
		custody: cfg.Custody,
		store:   cfg.Store,
		events:  cfg.Events,
		clock:   cfg.Clock,
		log:     cfg.Logger,
		pending: make(map[order.Type]*orderset.Set, len(order.Types)),
		brokers: make(map[common.Address]struct{}),
	}
	if ob.store == nil {
		ob.store = memStore{}
	}
	if ob.events == nil {
		ob.events = events.Discard
	}
	if ob.clock == nil {
		ob.clock = util.RealClock{}
	}
	if ob.log == nil {
		ob.log = zap.NewNop().Sugar()
	}
	for _, t := range order.Types {
		ob.pending[t] = orderset.New()
	}
	if err := ob.restore(); err != nil {
		return nil, err
	}
	return ob, nil
}

func (ob *OrderBook) restore() error {
	snap, err := ob.store.Load()
	if err != nil {
		return fmt.Errorf("load store: %w", err)
	}
	if snap.NextID != uint64(len(snap.Entries)) {
		return fmt.Errorf("%w: next id %d with %d records", ErrCorruptStore, snap.NextID, len(snap.Entries))
	}
	for i, e := range snap.Entries {
		if e.Record.ID() != uint64(i) {
			return fmt.Errorf("%w: record %d stored at slot %d", ErrCorruptStore, e.Record.ID(), i)
		}
		if !e.Record.Type().Valid() || !e.Status.Valid() {
			return fmt.Errorf("%w: record %d type=%d status=%d", ErrCorruptStore, i, e.Record.Type(), e.Status)
		}
		ob.records = append(ob.records, e.Record)
		ob.status = append(ob.status, e.Status)
		if e.Status == order.StatusPending {
			if err := ob.pending[e.Record.Type()].Add(uint64(i)); err != nil {
				return fmt.Errorf("%w: %v", ErrCorruptStore, err)
			}
		}
	}
	for _, b := range snap.Brokers {
		ob.brokers[b] = struct{}{}
	}
	if len(snap.Entries) > 0 || len(snap.Brokers) > 0 {
		ob.log.Infow("orderbook_restored",
			"orders", len(snap.Entries),
			"pending_position", ob.pending[order.Position].Len(),
			"pending_liquidity", ob.pending[order.Liquidity].Len(),
			"pending_withdrawal", ob.pending[order.Withdrawal].Len(),
			"brokers", len(snap.Brokers),
		)
	}
	return nil
}

// ---------------------------------------------------------------------------
// Place
// ---------------------------------------------------------------------------

// PlacePositionOrder queues an open or close order for one of caller's
// sub-accounts. Opening orders move their collateral into custody.
func (ob *OrderBook) PlacePositionOrder(
	ctx context.Context,
	caller common.Address,
	sub order.SubAccountID,
	collateral, size, price *big.Int,
	profitTokenID uint8,
	flags order.PositionFlags,
) (uint64, error) {
	if err := sub.Validate(); err != nil {
		return 0, err
	}
	if sub.Account() != caller {
		return 0, fmt.Errorf("%w: %s does not own %s", ErrNotAllowed, caller.Hex(), sub.Hex())
	}
	if !positive(size) {
		return 0, ErrZeroSize
	}

	ob.mu.Lock()
	defer ob.mu.Unlock()

	o := &order.PositionOrder{
		ID:            ob.nextID(),
		SubAccountID:  sub,
		Collateral:    collateral,
		Size:          size,
		Price:         price,
		ProfitTokenID: profitTokenID,
		Flags:         flags,
	}
	return ob.place(ctx, caller, o)
}

// PlaceLiquidityOrder queues an add or remove of pool liquidity. Adding moves
// the asset into custody, removing moves the pool share token.
func (ob *OrderBook) PlaceLiquidityOrder(
	ctx context.Context,
	caller common.Address,
	assetID uint8,
	amount *big.Int,
	isAdding bool,
) (uint64, error) {
	if !positive(amount) {
		return 0, ErrZeroAmount
	}

	ob.mu.Lock()
	defer ob.mu.Unlock()

	o := &order.LiquidityOrder{
		ID:       ob.nextID(),
		Account:  caller,
		Amount:   amount,
		AssetID:  assetID,
		IsAdding: isAdding,
	}
	return ob.place(ctx, caller, o)
}

// PlaceWithdrawalOrder queues a withdrawal of collateral or profit from a
// position the pool already holds. Nothing moves at placement.
func (ob *OrderBook) PlaceWithdrawalOrder(
	ctx context.Context,
	caller common.Address,
	sub order.SubAccountID,
	amount *big.Int,
	profitTokenID uint8,
	isProfit bool,
) (uint64, error) {
	if err := sub.Validate(); err != nil {
		return 0, err
	}
	if sub.Account() != caller {
		return 0, fmt.Errorf("%w: %s does not own %s", ErrNotAllowed, caller.Hex(), sub.Hex())
	}
	if !positive(amount) {
		return 0, ErrZeroAmount
	}

	ob.mu.Lock()
	defer ob.mu.Unlock()

	o := &order.WithdrawalOrder{
		ID:            ob.nextID(),
		SubAccountID:  sub,
		Amount:        amount,
		ProfitTokenID: profitTokenID,
		IsProfit:      isProfit,
	}
	return ob.place(ctx, caller, o)
}

// place runs custody then persistence; memory is only touched once both
// succeed. Caller holds ob.mu.
func (ob *OrderBook) place(ctx context.Context, caller common.Address, o order.Order) (uint64, error) {
	rec, err := order.Encode(o)
	if err != nil {
		return 0, err
	}
	token, deposit, err := ob.custodied(o)
	if err != nil {
		return 0, err
	}

	id := o.OrderID()
	j := newJournal("place", ob.log)
	if deposit != nil {
		err := j.do(ctx, "transfer_in",
			ob.transferIn(token, caller, deposit),
			ob.transferOut(token, caller, deposit),
		)
		if err != nil {
			return 0, j.abort(ctx, err)
		}
	}
	next := id + 1
	if err := j.do(ctx, "persist", ob.commit(Change{
		Put:    []Entry{{Record: rec, Status: order.StatusPending}},
		NextID: &next,
	}), nil); err != nil {
		return 0, j.abort(ctx, err)
	}

	ob.records = append(ob.records, rec)
	ob.status = append(ob.status, order.StatusPending)
	mustApply(ob.pending[o.Type()].Add(id))

	ob.log.Infow("order_placed", "order_id", id, "type", o.Type().String(), "account", caller.Hex())
	ob.emit(ctx, events.OrderPlaced, id)
	return id, nil
}

// ---------------------------------------------------------------------------
// Fill
// ---------------------------------------------------------------------------

// FillPositionOrder executes a pending position order at the given prices.
// Non-market orders must satisfy their limit price.
func (ob *OrderBook) FillPositionOrder(ctx context.Context, caller common.Address, id uint64, collateralPrice, assetPrice *big.Int) error {
	if !positive(collateralPrice) || !positive(assetPrice) {
		return ErrZeroPrice
	}

	ob.mu.Lock()
	defer ob.mu.Unlock()

	o, err := ob.pendingOrder(id, order.Position)
	if err != nil {
		return err
	}
	if err := ob.requireBroker(caller); err != nil {
		return err
	}
	p := o.(*order.PositionOrder)
	if err := checkLimitPrice(p, assetPrice); err != nil {
		return err
	}

	j := newJournal("fill_position", ob.log)
	if err := ob.forwardToPool(ctx, j, o); err != nil {
		return err
	}
	settle := func(ctx context.Context) error {
		return collaboratorErr(ob.pool.OpenOrClosePosition(ctx, order.PositionSettlement{
			OrderID:            p.ID,
			SubAccountID:       p.SubAccountID,
			Collateral:         orZero(p.Collateral),
			Size:               orZero(p.Size),
			ProfitTokenID:      p.ProfitTokenID,
			IsOpen:             p.IsOpen(),
			WithdrawAllIfEmpty: p.WithdrawAllIfEmpty(),
			CollateralPrice:    collateralPrice,
			AssetPrice:         assetPrice,
		}))
	}
	return ob.finish(ctx, j, id, order.StatusFilled, "settle", settle)
}

// FillLiquidityOrder hands the custodied asset (or share token) to the pool,
// which mints or burns shares at assetPrice/mlpPrice.
func (ob *OrderBook) FillLiquidityOrder(ctx context.Context, caller common.Address, id uint64, assetPrice, mlpPrice *big.Int) error {
	if !positive(assetPrice) || !positive(mlpPrice) {
		return ErrZeroPrice
	}

	ob.mu.Lock()
	defer ob.mu.Unlock()

	o, err := ob.pendingOrder(id, order.Liquidity)
	if err != nil {
		return err
	}
	if err := ob.requireBroker(caller); err != nil {
		return err
	}
	l := o.(*order.LiquidityOrder)

	j := newJournal("fill_liquidity", ob.log)
	if err := ob.forwardToPool(ctx, j, o); err != nil {
		return err
	}
	settle := func(ctx context.Context) error {
		return collaboratorErr(ob.pool.AddOrRemoveLiquidity(ctx, order.LiquiditySettlement{
			OrderID:    l.ID,
			Account:    l.Account,
			AssetID:    l.AssetID,
			Amount:     orZero(l.Amount),
			IsAdding:   l.IsAdding,
			AssetPrice: assetPrice,
			MLPPrice:   mlpPrice,
		}))
	}
	return ob.finish(ctx, j, id, order.StatusFilled, "settle", settle)
}

// FillWithdrawalOrder asks the pool to release collateral or profit from the
// sub-account's position to its owner.
func (ob *OrderBook) FillWithdrawalOrder(ctx context.Context, caller common.Address, id uint64, collateralPrice, assetPrice *big.Int) error {
	if !positive(collateralPrice) || !positive(assetPrice) {
		return ErrZeroPrice
	}

	ob.mu.Lock()
	defer ob.mu.Unlock()

	o, err := ob.pendingOrder(id, order.Withdrawal)
	if err != nil {
		return err
	}
	if err := ob.requireBroker(caller); err != nil {
		return err
	}
	w := o.(*order.WithdrawalOrder)

	j := newJournal("fill_withdrawal", ob.log)
	settle := func(ctx context.Context) error {
		return collaboratorErr(ob.pool.WithdrawCollateral(ctx, order.WithdrawalSettlement{
			OrderID:         w.ID,
			SubAccountID:    w.SubAccountID,
			Amount:          orZero(w.Amount),
			ProfitTokenID:   w.ProfitTokenID,
			IsProfit:        w.IsProfit,
			CollateralPrice: collateralPrice,
			AssetPrice:      assetPrice,
		}))
	}
	return ob.finish(ctx, j, id, order.StatusFilled, "settle", settle)
}

// ---------------------------------------------------------------------------
// Cancel
// ---------------------------------------------------------------------------

// CancelOrder withdraws a pending order and refunds whatever it custodied to
// the placing account. Only the owner or a broker may cancel.
func (ob *OrderBook) CancelOrder(ctx context.Context, caller common.Address, id uint64) error {
	ob.mu.Lock()
	defer ob.mu.Unlock()

	o, err := ob.pendingOrder(id, order.Invalid)
	if err != nil {
		return err
	}
	if o.Owner() != caller && !ob.isBroker(caller) {
		return fmt.Errorf("%w: %s cannot cancel order %d", ErrNotAllowed, caller.Hex(), id)
	}
	token, amount, err := ob.custodied(o)
	if err != nil {
		return err
	}

	var refund func(context.Context) error
	if amount != nil {
		refund = ob.transferOut(token, o.Owner(), amount)
	}
	return ob.finish(ctx, newJournal("cancel", ob.log), id, order.StatusCancelled, "refund", refund)
}

// finish persists the terminal status, runs the final collaborator step and
// only then drops the id from its pending set. Caller holds ob.mu.
func (ob *OrderBook) finish(ctx context.Context, j *journal, id uint64, status order.Status, name string, final func(context.Context) error) error {
	rec := ob.records[id]
	err := j.do(ctx, "persist",
		ob.commit(Change{Put: []Entry{{Record: rec, Status: status}}}),
		ob.commit(Change{Put: []Entry{{Record: rec, Status: order.StatusPending}}}),
	)
	if err != nil {
		return j.abort(ctx, err)
	}
	if final != nil {
		if err := j.do(ctx, name, final, nil); err != nil {
			return j.abort(ctx, err)
		}
	}

	ob.status[id] = status
	mustApply(ob.pending[rec.Type()].Remove(id))

	kind := events.OrderFilled
	if status == order.StatusCancelled {
		kind = events.OrderCancelled
	}
	ob.log.Infow(string(kind), "order_id", id, "type", rec.Type().String())
	ob.emit(ctx, kind, id)
	return nil
}

// forwardToPool moves an order's custodied funds to the pool ahead of
// settlement. Caller holds ob.mu.
func (ob *OrderBook) forwardToPool(ctx context.Context, j *journal, o order.Order) error {
	token, amount, err := ob.custodied(o)
	if err != nil || amount == nil {
		return err
	}
	poolAddr := ob.pool.Address()
	err = j.do(ctx, "transfer_to_pool",
		ob.transferOut(token, poolAddr, amount),
		ob.transferIn(token, poolAddr, amount),
	)
	if err != nil {
		return j.abort(ctx, err)
	}
	return nil
}

// custodied reports the token and amount an order holds in custody while
// pending. A nil amount means nothing is held.
func (ob *OrderBook) custodied(o order.Order) (common.Address, *big.Int, error) {
	switch v := o.(type) {
	case *order.PositionOrder:
		if !v.IsOpen() || !positive(v.Collateral) {
			return common.Address{}, nil, nil
		}
		token, err := ob.pool.AssetToken(v.SubAccountID.CollateralID())
		if err != nil {
			return common.Address{}, nil, fmt.Errorf("%w: collateral token: %w", ErrCollaborator, err)
		}
		return token, v.Collateral, nil
	case *order.LiquidityOrder:
		if !v.IsAdding {
			return ob.pool.ShareToken(), v.Amount, nil
		}
		token, err := ob.pool.AssetToken(v.AssetID)
		if err != nil {
			return common.Address{}, nil, fmt.Errorf("%w: asset token: %w", ErrCollaborator, err)
		}
		return token, v.Amount, nil
	default:
		return common.Address{}, nil, nil
	}
}

// ---------------------------------------------------------------------------
// Read side
// ---------------------------------------------------------------------------

// GetOrder returns the packed record and whether the order is still pending.
func (ob *OrderBook) GetOrder(id uint64) (order.Record, bool, error) {
	ob.mu.RLock()
	defer ob.mu.RUnlock()

	if id >= uint64(len(ob.records)) {
		return order.Record{}, false, fmt.Errorf("%w: order %d", orderset.ErrUnknownID, id)
	}
	rec := ob.records[id]
	return rec, ob.pending[rec.Type()].Contains(id), nil
}

func (ob *OrderBook) DecodeOrder(id uint64) (order.Order, error) {
	rec, _, err := ob.GetOrder(id)
	if err != nil {
		return nil, err
	}
	return order.Decode(rec)
}

func (ob *OrderBook) OrderStatus(id uint64) (order.Status, error) {
	ob.mu.RLock()
	defer ob.mu.RUnlock()

	if id >= uint64(len(ob.status)) {
		return order.StatusUnknown, fmt.Errorf("%w: order %d", orderset.ErrUnknownID, id)
	}
	return ob.status[id], nil
}

// Escrow reports the token and amount a pending order holds in custody. A
// nil amount means the order holds nothing.
func (ob *OrderBook) Escrow(id uint64) (common.Address, *big.Int, error) {
	ob.mu.RLock()
	defer ob.mu.RUnlock()

	o, err := ob.pendingOrder(id, order.Invalid)
	if err != nil {
		return common.Address{}, nil, err
	}
	return ob.custodied(o)
}

// GetOrderCount is the number of orders ever placed.
func (ob *OrderBook) GetOrderCount() uint64 {
	ob.mu.RLock()
	defer ob.mu.RUnlock()
	return uint64(len(ob.records))
}

func (ob *OrderBook) PendingOrderCount(t order.Type) int {
	ob.mu.RLock()
	defer ob.mu.RUnlock()

	set, ok := ob.pending[t]
	if !ok {
		return 0
	}
	return set.Len()
}

// PendingOrders returns the records at dense positions [begin, end) of the
// type's pending set. Order is unspecified after removals.
func (ob *OrderBook) PendingOrders(t order.Type, begin, end int) ([]order.Record, error) {
	ob.mu.RLock()
	defer ob.mu.RUnlock()

	set, ok := ob.pending[t]
	if !ok {
		return nil, fmt.Errorf("%w: %d", order.ErrUnknownOrderType, uint8(t))
	}
	ids, err := set.Range(begin, end)
	if err != nil {
		return nil, err
	}
	out := make([]order.Record, len(ids))
	for i, id := range ids {
		out[i] = ob.records[id]
	}
	return out, nil
}

// ---------------------------------------------------------------------------
// Helpers (caller holds ob.mu)
// ---------------------------------------------------------------------------

func (ob *OrderBook) nextID() uint64 { return uint64(len(ob.records)) }

// pendingOrder loads and decodes a pending order. want == order.Invalid
// accepts any type.
func (ob *OrderBook) pendingOrder(id uint64, want order.Type) (order.Order, error) {
	if id >= uint64(len(ob.records)) {
		return nil, fmt.Errorf("%w: order %d", orderset.ErrUnknownID, id)
	}
	rec := ob.records[id]
	if !ob.pending[rec.Type()].Contains(id) {
		return nil, fmt.Errorf("%w: order %d is %s", orderset.ErrUnknownID, id, ob.status[id])
	}
	if want != order.Invalid && rec.Type() != want {
		return nil, fmt.Errorf("%w: order %d is %s, not %s", ErrOrderTypeMismatch, id, rec.Type(), want)
	}
	return order.Decode(rec)
}

func (ob *OrderBook) transferIn(token, from common.Address, amount *big.Int) func(context.Context) error {
	return func(ctx context.Context) error {
		return collaboratorErr(ob.custody.TransferIn(ctx, token, from, amount))
	}
}

func (ob *OrderBook) transferOut(token, to common.Address, amount *big.Int) func(context.Context) error {
	return func(ctx context.Context) error {
		return collaboratorErr(ob.custody.TransferOut(ctx, token, to, amount))
	}
}

func (ob *OrderBook) commit(c Change) func(context.Context) error {
	return func(context.Context) error {
		if err := ob.store.Commit(c); err != nil {
			return fmt.Errorf("%w: %w", ErrPersist, err)
		}
		return nil
	}
}

func (ob *OrderBook) emit(ctx context.Context, kind events.Kind, id uint64) {
	rec := ob.records[id]
	ev := events.Event{
		Kind:      kind,
		OrderID:   id,
		OrderType: rec.Type().String(),
		Record:    rec.Words(),
		Pending:   ob.status[id] == order.StatusPending,
		Timestamp: ob.clock.Now().UTC(),
	}
	if o, err := order.Decode(rec); err == nil {
		ev.Account = o.Owner().Hex()
	}
	if err := ob.events.Publish(ctx, ev); err != nil {
		ob.log.Warnw("event_publish_failed", "kind", kind, "order_id", id, "err", err)
	}
}

func checkLimitPrice(p *order.PositionOrder, assetPrice *big.Int) error {
	if p.IsMarketOrder() {
		return nil
	}
	limit := orZero(p.Price)
	cmp := assetPrice.Cmp(limit)
	if (p.IsBuy() && cmp > 0) || (!p.IsBuy() && cmp < 0) {
		return fmt.Errorf("%w: order %d limit %s, asset price %s", ErrLimitPrice, p.ID, limit, assetPrice)
	}
	return nil
}

func collaboratorErr(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrCollaborator, err)
}

// mustApply panics when an in-memory set disagrees with state that was just
// validated under the same lock.
func mustApply(err error) {
	if err != nil {
		panic(fmt.Errorf("orderbook: pending set out of sync: %w", err))
	}
}

func positive(v *big.Int) bool { return v != nil && v.Sign() > 0 }

func orZero(v *big.Int) *big.Int {
	if v == nil {
		return new(big.Int)
	}
	return v
}
