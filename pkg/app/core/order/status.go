package order

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// Status is the lifecycle state persisted next to each record.
// Pending is the only non-terminal state.
type Status uint8

const (
	StatusUnknown Status = iota
	StatusPending
	StatusFilled
	StatusCancelled
)

func (s Status) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusFilled:
		return "filled"
	case StatusCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

func (s Status) Valid() bool { return s >= StatusPending && s <= StatusCancelled }

// Settlement arguments handed to the pool when a broker fills an order.

type PositionSettlement struct {
	OrderID            uint64
	SubAccountID       SubAccountID
	Collateral         *big.Int
	Size               *big.Int
	ProfitTokenID      uint8
	IsOpen             bool
	WithdrawAllIfEmpty bool
	CollateralPrice    *big.Int
	AssetPrice         *big.Int
}

type LiquiditySettlement struct {
	OrderID    uint64
	Account    common.Address
	AssetID    uint8
	Amount     *big.Int
	IsAdding   bool
	AssetPrice *big.Int
	MLPPrice   *big.Int
}

type WithdrawalSettlement struct {
	OrderID         uint64
	SubAccountID    SubAccountID
	Amount          *big.Int
	ProfitTokenID   uint8
	IsProfit        bool
	CollateralPrice *big.Int
	AssetPrice      *big.Int
}
