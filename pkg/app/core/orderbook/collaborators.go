package orderbook

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/uhyunpark/hyperorders/pkg/app/core/order"
)

// Custody moves tokens between accounts and the book's own balance.
// Both calls must either complete or leave balances untouched.
type Custody interface {
	TransferIn(ctx context.Context, token, from common.Address, amount *big.Int) error
	TransferOut(ctx context.Context, token, to common.Address, amount *big.Int) error
}

// Pool is the liquidity pool that settles filled orders. Settlement calls are
// all-or-nothing: on error the pool state is unchanged.
type Pool interface {
	Address() common.Address
	AssetToken(assetID uint8) (common.Address, error)
	ShareToken() common.Address

	OpenOrClosePosition(ctx context.Context, s order.PositionSettlement) error
	AddOrRemoveLiquidity(ctx context.Context, s order.LiquiditySettlement) error
	WithdrawCollateral(ctx context.Context, s order.WithdrawalSettlement) error
}

// Store persists book mutations. Commit is all-or-nothing.
type Store interface {
	Commit(c Change) error
	Load() (Snapshot, error)
}

// Entry is a stored record with its lifecycle status.
type Entry struct {
	Record order.Record
	Status order.Status
}

// Change is the persisted effect of one book operation.
type Change struct {
	Put     []Entry
	NextID  *uint64
	Brokers map[common.Address]bool // true adds, false removes
}

// Snapshot is the full persisted state, entries ordered by id.
type Snapshot struct {
	Entries []Entry
	NextID  uint64
	Brokers []common.Address
}

type memStore struct{}

func (memStore) Commit(Change) error     { return nil }
func (memStore) Load() (Snapshot, error) { return Snapshot{}, nil }
