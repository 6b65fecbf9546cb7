// Package pool is the reference liquidity pool that settles filled orders:
// it books position collateral and size per sub-account, mints and burns pool
// shares for liquidity orders, and releases collateral or profit on withdrawal.
// Fees, funding and liquidation are not modelled.
package pool

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/math"
	"go.uber.org/zap"

	"github.com/uhyunpark/hyperorders/pkg/app/core/asset"
	"github.com/uhyunpark/hyperorders/pkg/app/core/order"
)

var (
	ErrNoPosition             = errors.New("pool: no position")
	ErrInsufficientPosition   = errors.New("pool: close size exceeds position")
	ErrInsufficientCollateral = errors.New("pool: insufficient collateral")
	ErrInsufficientLiquidity  = errors.New("pool: insufficient liquidity")
	ErrNoProfit               = errors.New("pool: withdrawal exceeds unrealized profit")
	ErrUnpricedToken          = errors.New("pool: no price for profit token")
	ErrDust                   = errors.New("pool: amount rounds to zero")
)

// one is the fixed-point scale of prices and amounts.
var one = new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil)

// Position is the pool's book-keeping for one sub-account.
type Position struct {
	Collateral *big.Int
	Size       *big.Int
	EntryPrice *big.Int
}

func (p *Position) clone() *Position {
	return &Position{
		Collateral: new(big.Int).Set(p.Collateral),
		Size:       new(big.Int).Set(p.Size),
		EntryPrice: new(big.Int).Set(p.EntryPrice),
	}
}

type Config struct {
	Address    common.Address
	Ledger     *asset.Ledger
	Assets     *Registry
	ShareToken common.Address
	Logger     *zap.SugaredLogger
}

type Pool struct {
	mu sync.Mutex

	addr      common.Address
	ledger    *asset.Ledger
	assets    *Registry
	share     common.Address
	positions map[order.SubAccountID]*Position
	log       *zap.SugaredLogger
}

func New(cfg Config) *Pool {
	log := cfg.Logger
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	assets := cfg.Assets
	if assets == nil {
		assets = NewRegistry()
	}
	return &Pool{
		addr:      cfg.Address,
		ledger:    cfg.Ledger,
		assets:    assets,
		share:     cfg.ShareToken,
		positions: make(map[order.SubAccountID]*Position),
		log:       log,
	}
}

func (p *Pool) Address() common.Address    { return p.addr }
func (p *Pool) ShareToken() common.Address { return p.share }
func (p *Pool) Assets() *Registry          { return p.assets }

func (p *Pool) AssetToken(assetID uint8) (common.Address, error) {
	a, err := p.assets.Get(assetID)
	if err != nil {
		return common.Address{}, err
	}
	return a.Token, nil
}

// Approve grants spender an unlimited allowance over every token the pool
// holds. The order book needs it to take back funds it forwarded when a
// settlement is rolled back.
func (p *Pool) Approve(spender common.Address) error {
	tokens := []common.Address{p.share}
	for _, a := range p.assets.List() {
		tokens = append(tokens, a.Token)
	}
	for _, tok := range tokens {
		if err := p.ledger.Approve(tok, p.addr, spender, math.MaxBig256); err != nil {
			return fmt.Errorf("approve %s: %w", tok.Hex(), err)
		}
	}
	return nil
}

// Position returns a copy of the sub-account's position.
func (p *Pool) Position(sub order.SubAccountID) (Position, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	pos, ok := p.positions[sub]
	if !ok {
		return Position{}, false
	}
	return *pos.clone(), true
}

// OpenOrClosePosition applies a filled position order. Opening adds the
// forwarded collateral and size at the fill price; closing reduces size and
// pays the requested collateral back to the owner.
func (p *Pool) OpenOrClosePosition(_ context.Context, s order.PositionSettlement) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	cur, exists := p.positions[s.SubAccountID]
	if s.IsOpen {
		next := &Position{Collateral: new(big.Int), Size: new(big.Int), EntryPrice: new(big.Int)}
		if exists {
			next = cur.clone()
		}
		newSize := new(big.Int).Add(next.Size, s.Size)
		if newSize.Sign() > 0 {
			// Volume-weighted entry: (entry*size + price*delta) / newSize
			weighted := new(big.Int).Mul(next.EntryPrice, next.Size)
			weighted.Add(weighted, new(big.Int).Mul(s.AssetPrice, s.Size))
			next.EntryPrice = weighted.Div(weighted, newSize)
		}
		next.Size = newSize
		next.Collateral.Add(next.Collateral, s.Collateral)
		p.positions[s.SubAccountID] = next

		p.log.Infow("position_opened", "sub_account", s.SubAccountID.Hex(), "order_id", s.OrderID,
			"size", next.Size.String(), "collateral", next.Collateral.String(), "entry_price", next.EntryPrice.String())
		return nil
	}

	if !exists {
		return fmt.Errorf("%w: %s", ErrNoPosition, s.SubAccountID)
	}
	if s.Size.Cmp(cur.Size) > 0 {
		return fmt.Errorf("%w: have %s, close %s", ErrInsufficientPosition, cur.Size, s.Size)
	}
	next := cur.clone()
	next.Size.Sub(next.Size, s.Size)
	release := new(big.Int).Set(s.Collateral)
	if s.WithdrawAllIfEmpty && next.Size.Sign() == 0 {
		release.Set(next.Collateral)
	}
	if release.Cmp(next.Collateral) > 0 {
		return fmt.Errorf("%w: have %s, release %s", ErrInsufficientCollateral, next.Collateral, release)
	}
	if release.Sign() > 0 {
		token, err := p.AssetToken(s.SubAccountID.CollateralID())
		if err != nil {
			return err
		}
		if err := p.ledger.Transfer(token, p.addr, s.SubAccountID.Account(), release); err != nil {
			return fmt.Errorf("release collateral: %w", err)
		}
		next.Collateral.Sub(next.Collateral, release)
	}
	p.store(s.SubAccountID, next)

	p.log.Infow("position_closed", "sub_account", s.SubAccountID.Hex(), "order_id", s.OrderID,
		"size", next.Size.String(), "released", release.String())
	return nil
}

// AddOrRemoveLiquidity mints shares for forwarded assets, or burns forwarded
// shares and pays out the asset, at assetPrice/mlpPrice.
func (p *Pool) AddOrRemoveLiquidity(_ context.Context, s order.LiquiditySettlement) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	a, err := p.assets.Get(s.AssetID)
	if err != nil {
		return err
	}

	if s.IsAdding {
		shares := mulDiv(s.Amount, s.AssetPrice, s.MLPPrice)
		if shares.Sign() == 0 {
			return ErrDust
		}
		if err := p.ledger.Mint(p.share, s.Account, shares); err != nil {
			return fmt.Errorf("mint shares: %w", err)
		}
		p.log.Infow("liquidity_added", "account", s.Account.Hex(), "asset", a.Symbol,
			"amount", s.Amount.String(), "shares", shares.String())
		return nil
	}

	out := mulDiv(s.Amount, s.MLPPrice, s.AssetPrice)
	if out.Sign() == 0 {
		return ErrDust
	}
	if have := p.ledger.BalanceOf(a.Token, p.addr); have.Cmp(out) < 0 {
		return fmt.Errorf("%w: %s has %s, need %s", ErrInsufficientLiquidity, a.Symbol, have, out)
	}
	if err := p.ledger.Burn(p.share, p.addr, s.Amount); err != nil {
		return fmt.Errorf("burn shares: %w", err)
	}
	if err := p.ledger.Transfer(a.Token, p.addr, s.Account, out); err != nil {
		if mintErr := p.ledger.Mint(p.share, p.addr, s.Amount); mintErr != nil {
			p.log.Errorw("share_restore_failed", "amount", s.Amount.String(), "err", mintErr)
		}
		return fmt.Errorf("pay out liquidity: %w", err)
	}
	p.log.Infow("liquidity_removed", "account", s.Account.Hex(), "asset", a.Symbol,
		"shares", s.Amount.String(), "amount", out.String())
	return nil
}

// WithdrawCollateral releases collateral, or realizes profit paid in the
// profit token. A profit withdrawal moves the entry price so the same profit
// cannot be taken twice.
func (p *Pool) WithdrawCollateral(_ context.Context, s order.WithdrawalSettlement) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	cur, exists := p.positions[s.SubAccountID]
	if !exists {
		return fmt.Errorf("%w: %s", ErrNoPosition, s.SubAccountID)
	}
	next := cur.clone()
	owner := s.SubAccountID.Account()

	if !s.IsProfit {
		if s.Amount.Cmp(next.Collateral) > 0 {
			return fmt.Errorf("%w: have %s, withdraw %s", ErrInsufficientCollateral, next.Collateral, s.Amount)
		}
		token, err := p.AssetToken(s.SubAccountID.CollateralID())
		if err != nil {
			return err
		}
		if err := p.ledger.Transfer(token, p.addr, owner, s.Amount); err != nil {
			return fmt.Errorf("withdraw collateral: %w", err)
		}
		next.Collateral.Sub(next.Collateral, s.Amount)
		p.store(s.SubAccountID, next)
		p.log.Infow("collateral_withdrawn", "sub_account", s.SubAccountID.Hex(), "amount", s.Amount.String())
		return nil
	}

	if next.Size.Sign() == 0 {
		return fmt.Errorf("%w: position is empty", ErrNoProfit)
	}
	profitAsset, err := p.assets.Get(s.ProfitTokenID)
	if err != nil {
		return err
	}
	var price *big.Int
	switch {
	case s.ProfitTokenID == s.SubAccountID.CollateralID():
		price = s.CollateralPrice
	case profitAsset.Stable:
		price = one
	default:
		return fmt.Errorf("%w: %s", ErrUnpricedToken, profitAsset.Symbol)
	}

	value := mulDiv(s.Amount, price, one)
	pnl := unrealizedPnL(next, s.SubAccountID.IsLong(), s.AssetPrice)
	if value.Cmp(pnl) > 0 {
		return fmt.Errorf("%w: profit %s, requested %s", ErrNoProfit, pnl, value)
	}
	if err := p.ledger.Transfer(profitAsset.Token, p.addr, owner, s.Amount); err != nil {
		return fmt.Errorf("pay profit: %w", err)
	}
	shift := mulDiv(value, one, next.Size)
	if s.SubAccountID.IsLong() {
		next.EntryPrice.Add(next.EntryPrice, shift)
	} else {
		next.EntryPrice.Sub(next.EntryPrice, shift)
	}
	p.store(s.SubAccountID, next)
	p.log.Infow("profit_withdrawn", "sub_account", s.SubAccountID.Hex(), "token", profitAsset.Symbol,
		"amount", s.Amount.String(), "entry_price", next.EntryPrice.String())
	return nil
}

func (p *Pool) store(sub order.SubAccountID, pos *Position) {
	if pos.Size.Sign() == 0 && pos.Collateral.Sign() == 0 {
		delete(p.positions, sub)
		return
	}
	p.positions[sub] = pos
}

// unrealizedPnL is (price - entry) * size for longs and the negation for shorts.
func unrealizedPnL(pos *Position, isLong bool, price *big.Int) *big.Int {
	diff := new(big.Int).Sub(price, pos.EntryPrice)
	if !isLong {
		diff.Neg(diff)
	}
	return mulDiv(diff, pos.Size, one)
}

func mulDiv(a, b, c *big.Int) *big.Int {
	out := new(big.Int).Mul(a, b)
	return out.Quo(out, c)
}
