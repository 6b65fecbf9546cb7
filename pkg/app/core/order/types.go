package order

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// Type is the discriminant stored in the last byte of word 0.
type Type uint8

const (
	Invalid Type = iota
	Position
	Liquidity
	Withdrawal
)

// Types lists the valid discriminants in declaration order.
var Types = []Type{Position, Liquidity, Withdrawal}

func (t Type) Valid() bool {
	return t == Position || t == Liquidity || t == Withdrawal
}

func (t Type) String() string {
	switch t {
	case Position:
		return "position"
	case Liquidity:
		return "liquidity"
	case Withdrawal:
		return "withdrawal"
	default:
		return "invalid"
	}
}

// ParseType is the inverse of Type.String for valid types.
func ParseType(s string) (Type, bool) {
	for _, t := range Types {
		if t.String() == s {
			return t, true
		}
	}
	return Invalid, false
}

// PositionFlags is the flag byte of a position order.
type PositionFlags uint8

const (
	FlagOpenPosition       PositionFlags = 0x80 // open (increase), otherwise close
	FlagMarketOrder        PositionFlags = 0x40 // ignore limit price
	FlagWithdrawAllIfEmpty PositionFlags = 0x20 // release all collateral once size reaches 0
)

func (f PositionFlags) Has(flag PositionFlags) bool { return f&flag != 0 }

// Order is one of *PositionOrder, *LiquidityOrder or *WithdrawalOrder.
type Order interface {
	OrderID() uint64
	Type() Type
	Owner() common.Address
	encode() (Record, error)
}

// PositionOrder opens or closes a leveraged position for a sub-account.
type PositionOrder struct {
	ID            uint64
	SubAccountID  SubAccountID
	Collateral    *big.Int // uint96
	Size          *big.Int // uint96
	Price         *big.Int // uint96 limit price
	ProfitTokenID uint8
	Flags         PositionFlags
}

func (o *PositionOrder) OrderID() uint64       { return o.ID }
func (o *PositionOrder) Type() Type            { return Position }
func (o *PositionOrder) Owner() common.Address { return o.SubAccountID.Account() }

func (o *PositionOrder) IsOpen() bool             { return o.Flags.Has(FlagOpenPosition) }
func (o *PositionOrder) IsMarketOrder() bool      { return o.Flags.Has(FlagMarketOrder) }
func (o *PositionOrder) WithdrawAllIfEmpty() bool { return o.Flags.Has(FlagWithdrawAllIfEmpty) }

// IsBuy reports whether filling the order buys the market asset:
// opening a long or closing a short.
func (o *PositionOrder) IsBuy() bool {
	return o.IsOpen() == o.SubAccountID.IsLong()
}

// LiquidityOrder adds or removes pool liquidity for an account.
type LiquidityOrder struct {
	ID       uint64
	Account  common.Address
	Amount   *big.Int // uint96
	AssetID  uint8
	IsAdding bool
}

func (o *LiquidityOrder) OrderID() uint64       { return o.ID }
func (o *LiquidityOrder) Type() Type            { return Liquidity }
func (o *LiquidityOrder) Owner() common.Address { return o.Account }

// WithdrawalOrder releases collateral (or profit) from a sub-account's position.
type WithdrawalOrder struct {
	ID            uint64
	SubAccountID  SubAccountID
	Amount        *big.Int // uint96
	ProfitTokenID uint8
	IsProfit      bool
}

func (o *WithdrawalOrder) OrderID() uint64       { return o.ID }
func (o *WithdrawalOrder) Type() Type            { return Withdrawal }
func (o *WithdrawalOrder) Owner() common.Address { return o.SubAccountID.Account() }
