package core

import (
	"context"
	"math/big"
	"math/rand"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/uhyunpark/hyperorders/pkg/app/core/order"
	"github.com/uhyunpark/hyperorders/pkg/app/core/transaction"
	"github.com/uhyunpark/hyperorders/pkg/crypto"
	"github.com/uhyunpark/hyperorders/pkg/util"
)

// FeederConfig controls devnet load generation
type FeederConfig struct {
	Interval  time.Duration // how often a batch is sent
	BatchSize int           // requests per batch
	Traders   int           // simulated trader keys
	Seed      int64         // 0 seeds from the clock
	Clock     util.Clock    // nil uses the devnet clock
}

func DefaultFeederConfig() FeederConfig {
	return FeederConfig{
		Interval:  200 * time.Millisecond,
		BatchSize: 5,
		Traders:   8,
	}
}

// FeederStats counts what the feeder sent
type FeederStats struct {
	Submitted int
	Rejected  int
	ByAction  map[crypto.Action]int
}

// Feeder drives the devnet with signed requests from simulated traders and a
// broker key, through the same executor the API uses.
type Feeder struct {
	devnet  *Devnet
	cfg     FeederConfig
	eip712  *crypto.EIP712Signer
	traders []*crypto.Signer
	byAddr  map[common.Address]*crypto.Signer
	broker  *crypto.Signer
	nonces  map[common.Address]uint64
	marks   []*big.Int // per asset id, 18 decimals
	rng     *rand.Rand
	stats   FeederStats
	log     *zap.SugaredLogger
}

func NewFeeder(d *Devnet, cfg FeederConfig, log *zap.SugaredLogger) (*Feeder, error) {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	def := DefaultFeederConfig()
	if cfg.Interval <= 0 {
		cfg.Interval = def.Interval
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = def.BatchSize
	}
	if cfg.Traders <= 0 {
		cfg.Traders = def.Traders
	}
	if cfg.Clock == nil {
		cfg.Clock = d.clock
	}
	seed := cfg.Seed
	if seed == 0 {
		seed = cfg.Clock.Now().UnixNano()
	}

	f := &Feeder{
		devnet: d,
		cfg:    cfg,
		eip712: crypto.NewEIP712Signer(d.Domain),
		byAddr: make(map[common.Address]*crypto.Signer),
		nonces: make(map[common.Address]uint64),
		rng:    rand.New(rand.NewSource(seed)),
		stats:  FeederStats{ByAction: make(map[crypto.Action]int)},
		log:    log,
	}

	funding := units(1_000_000)
	for i := 0; i < cfg.Traders; i++ {
		s, err := crypto.GenerateKey()
		if err != nil {
			return nil, err
		}
		if err := d.Fund(s.Address(), funding); err != nil {
			return nil, err
		}
		f.traders = append(f.traders, s)
		f.byAddr[s.Address()] = s
	}

	broker, err := crypto.GenerateKey()
	if err != nil {
		return nil, err
	}
	if err := d.Book.AddBroker(broker.Address()); err != nil {
		return nil, err
	}
	f.broker = broker

	for _, a := range d.Assets.List() {
		mark := units(3000)
		if a.Stable {
			mark = units(1)
		}
		for len(f.marks) <= int(a.ID) {
			f.marks = append(f.marks, units(1))
		}
		f.marks[a.ID] = mark
	}
	return f, nil
}

// Run sends a batch every interval until ctx is done
func (f *Feeder) Run(ctx context.Context) {
	clock := f.cfg.Clock
	start := clock.Now()
	lastReport := start
	f.log.Infow("feeder_started", "interval", f.cfg.Interval, "batch", f.cfg.BatchSize, "traders", len(f.traders))

	for {
		select {
		case <-ctx.Done():
			f.log.Infow("feeder_stopped", "submitted", f.stats.Submitted, "rejected", f.stats.Rejected,
				"elapsed", clock.Now().Sub(start).Round(time.Second))
			return
		case <-clock.After(f.cfg.Interval):
			f.Step(ctx)
			if now := clock.Now(); now.Sub(lastReport) >= 10*time.Second {
				lastReport = now
				f.log.Infow("feeder_stats", "submitted", f.stats.Submitted, "rejected", f.stats.Rejected,
					"orders", f.devnet.Book.GetOrderCount(),
					"rate", float64(f.stats.Submitted)/now.Sub(start).Seconds())
			}
		}
	}
}

// Step moves mark prices and sends one batch
func (f *Feeder) Step(ctx context.Context) {
	f.walkMarks()
	for i := 0; i < f.cfg.BatchSize; i++ {
		req, signer := f.next()
		if req == nil {
			continue
		}
		f.submit(ctx, signer, req)
	}
}

func (f *Feeder) Stats() FeederStats {
	out := FeederStats{Submitted: f.stats.Submitted, Rejected: f.stats.Rejected, ByAction: make(map[crypto.Action]int)}
	for k, v := range f.stats.ByAction {
		out.ByAction[k] = v
	}
	return out
}

// next picks a request: 35% open, 10% close, 15% liquidity, 30% fill,
// 5% withdrawal, 5% cancel
func (f *Feeder) next() (*crypto.OrderRequest, *crypto.Signer) {
	r := f.rng.Intn(100)
	switch {
	case r < 35:
		return f.openPosition()
	case r < 45:
		return f.closePosition()
	case r < 60:
		return f.liquidity()
	case r < 90:
		return f.fill()
	case r < 95:
		return f.withdraw()
	default:
		return f.cancel()
	}
}

func (f *Feeder) trader() *crypto.Signer { return f.traders[f.rng.Intn(len(f.traders))] }

// tradedAsset is any non-collateral asset, or the collateral itself when it
// is the only one listed
func (f *Feeder) tradedAsset() uint8 {
	if len(f.marks) == 1 {
		return 0
	}
	return uint8(1 + f.rng.Intn(len(f.marks)-1))
}

func (f *Feeder) openPosition() (*crypto.OrderRequest, *crypto.Signer) {
	s := f.trader()
	assetID := f.tradedAsset()
	isLong := f.rng.Intn(2) == 0
	sub := order.NewSubAccountID(s.Address(), 0, assetID, isLong)

	flags := order.FlagOpenPosition
	if f.rng.Intn(2) == 0 {
		flags |= order.FlagMarketOrder
	}
	return &crypto.OrderRequest{
		Action:       crypto.ActionPlacePosition,
		SubAccountID: common.Hash(sub),
		Flags:        uint8(flags),
		Amount:       crypto.Num(units(int64(10 + f.rng.Intn(90)))),
		Size:         crypto.Num(fraction(int64(1 + f.rng.Intn(10)))),
		Price:        crypto.Num(f.jitter(f.marks[assetID], 2)),
	}, s
}

func (f *Feeder) closePosition() (*crypto.OrderRequest, *crypto.Signer) {
	s := f.trader()
	assetID := f.tradedAsset()
	sub := order.NewSubAccountID(s.Address(), 0, assetID, f.rng.Intn(2) == 0)
	pos, ok := f.devnet.Pool.Position(sub)
	if !ok || pos.Size.Sign() == 0 {
		return f.openPosition()
	}
	return &crypto.OrderRequest{
		Action:       crypto.ActionPlacePosition,
		SubAccountID: common.Hash(sub),
		Flags:        uint8(order.FlagMarketOrder | order.FlagWithdrawAllIfEmpty),
		Size:         crypto.Num(pos.Size),
	}, s
}

func (f *Feeder) liquidity() (*crypto.OrderRequest, *crypto.Signer) {
	s := f.trader()
	assetID := uint8(f.rng.Intn(len(f.marks)))
	return &crypto.OrderRequest{
		Action:   crypto.ActionPlaceLiquidity,
		AssetID:  assetID,
		Amount:   crypto.Num(units(int64(1 + f.rng.Intn(20)))),
		IsAdding: true,
	}, s
}

func (f *Feeder) withdraw() (*crypto.OrderRequest, *crypto.Signer) {
	s := f.trader()
	assetID := f.tradedAsset()
	for _, isLong := range []bool{true, false} {
		sub := order.NewSubAccountID(s.Address(), 0, assetID, isLong)
		if pos, ok := f.devnet.Pool.Position(sub); ok && pos.Collateral.Cmp(units(1)) >= 0 {
			return &crypto.OrderRequest{
				Action:       crypto.ActionPlaceWithdrawal,
				SubAccountID: common.Hash(sub),
				Amount:       crypto.Num(units(1)),
			}, s
		}
	}
	return f.openPosition()
}

// fill has the broker execute a random pending order at current marks
func (f *Feeder) fill() (*crypto.OrderRequest, *crypto.Signer) {
	id, t, ok := f.pickPending()
	if !ok {
		return nil, nil
	}
	o, err := f.devnet.Book.DecodeOrder(id)
	if err != nil {
		return nil, nil
	}
	req := &crypto.OrderRequest{OrderID: id, CollateralPx: crypto.Num(f.marks[0])}
	switch t {
	case order.Position:
		req.Action = crypto.ActionFillPosition
		req.AssetPx = crypto.Num(f.mark(o.(*order.PositionOrder).SubAccountID.AssetID()))
	case order.Liquidity:
		req.Action = crypto.ActionFillLiquidity
		req.AssetPx = crypto.Num(f.mark(o.(*order.LiquidityOrder).AssetID))
		req.MLPPx = crypto.Num(units(1))
	case order.Withdrawal:
		req.Action = crypto.ActionFillWithdrawal
		req.AssetPx = crypto.Num(f.mark(o.(*order.WithdrawalOrder).SubAccountID.AssetID()))
	}
	return req, f.broker
}

// cancel has an owner withdraw one of its pending position orders
func (f *Feeder) cancel() (*crypto.OrderRequest, *crypto.Signer) {
	n := f.devnet.Book.PendingOrderCount(order.Position)
	if n == 0 {
		return nil, nil
	}
	recs, err := f.devnet.Book.PendingOrders(order.Position, f.rng.Intn(n), n)
	if err != nil || len(recs) == 0 {
		return nil, nil
	}
	o, err := order.Decode(recs[0])
	if err != nil {
		return nil, nil
	}
	owner, ok := f.byAddr[o.Owner()]
	if !ok {
		return nil, nil
	}
	return &crypto.OrderRequest{Action: crypto.ActionCancel, OrderID: o.OrderID()}, owner
}

func (f *Feeder) pickPending() (uint64, order.Type, bool) {
	start := f.rng.Intn(len(order.Types))
	for i := range order.Types {
		t := order.Types[(start+i)%len(order.Types)]
		n := f.devnet.Book.PendingOrderCount(t)
		if n == 0 {
			continue
		}
		recs, err := f.devnet.Book.PendingOrders(t, f.rng.Intn(n), n)
		if err != nil || len(recs) == 0 {
			continue
		}
		return recs[0].ID(), t, true
	}
	return 0, order.Invalid, false
}

func (f *Feeder) submit(ctx context.Context, s *crypto.Signer, req *crypto.OrderRequest) {
	req.Sender = s.Address()
	req.Nonce = f.nonces[req.Sender]
	f.nonces[req.Sender]++

	sig, err := f.eip712.SignRequest(s, req)
	if err != nil {
		f.log.Warnw("feeder_sign_failed", "err", err)
		return
	}
	f.stats.Submitted++
	f.stats.ByAction[req.Action]++
	if _, err := f.devnet.Submit(ctx, &transaction.SignedTransaction{Request: *req, Signature: sig}); err != nil {
		f.stats.Rejected++
	}
}

// mark is the current price of an asset; orders placed through the API may
// name ids the feeder never priced
func (f *Feeder) mark(id uint8) *big.Int {
	if int(id) < len(f.marks) {
		return f.marks[id]
	}
	return units(1)
}

// walkMarks moves every non-stable mark by up to 0.5%
func (f *Feeder) walkMarks() {
	for _, a := range f.devnet.Assets.List() {
		if a.Stable || int(a.ID) >= len(f.marks) {
			continue
		}
		f.marks[a.ID] = f.jitter(f.marks[a.ID], 0.5)
	}
}

// jitter returns v moved by a random amount within pct percent
func (f *Feeder) jitter(v *big.Int, pct float64) *big.Int {
	bps := int64((f.rng.Float64()*2 - 1) * pct * 100)
	out := new(big.Int).Mul(v, big.NewInt(10_000+bps))
	return out.Quo(out, big.NewInt(10_000))
}

// units is n whole tokens at 18 decimals
func units(n int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(n), big.NewInt(1e18))
}

// fraction is n tenths of a token
func fraction(n int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(n), big.NewInt(1e17))
}
