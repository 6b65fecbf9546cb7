package order

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"golang.org/x/crypto/sha3"
)

var (
	ErrUnknownOrderType = errors.New("order: unknown order type")
	ErrFieldOverflow    = errors.New("order: field out of range")
	ErrRecordLength     = errors.New("order: bad record length")
)

// Word 0 offsets shared by every order type.
const (
	idOffset   = 23
	typeOffset = 31

	amountLen = 12 // uint96 fields
	RecordLen = 3 * common.HashLength
)

var maxUint96 = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 96), big.NewInt(1))

// Record is the packed three-word form of an order. It is the stable external
// representation returned by the order book and persisted by the store.
type Record [3]common.Hash

func (r Record) Type() Type { return Type(r[0][typeOffset]) }

func (r Record) ID() uint64 {
	return binary.BigEndian.Uint64(r[0][idOffset:typeOffset])
}

func (r Record) Bytes() []byte {
	out := make([]byte, 0, RecordLen)
	for _, w := range r {
		out = append(out, w[:]...)
	}
	return out
}

// Words returns the record as three 0x-prefixed hex words.
func (r Record) Words() []string {
	out := make([]string, len(r))
	for i, w := range r {
		out[i] = w.Hex()
	}
	return out
}

// Hash is the keccak256 digest of the 96 packed bytes.
func (r Record) Hash() common.Hash {
	h := sha3.NewLegacyKeccak256()
	for _, w := range r {
		h.Write(w[:])
	}
	var out common.Hash
	h.Sum(out[:0])
	return out
}

func RecordFromBytes(b []byte) (Record, error) {
	if len(b) != RecordLen {
		return Record{}, fmt.Errorf("%w: %d", ErrRecordLength, len(b))
	}
	var r Record
	for i := range r {
		copy(r[i][:], b[i*common.HashLength:(i+1)*common.HashLength])
	}
	return r, nil
}

// RecordFromWords parses three hex words as produced by Record.Words.
func RecordFromWords(words []string) (Record, error) {
	if len(words) != 3 {
		return Record{}, fmt.Errorf("%w: %d words", ErrRecordLength, len(words))
	}
	var r Record
	for i, w := range words {
		b, err := hexutil.Decode(w)
		if err != nil {
			return Record{}, fmt.Errorf("word %d: %w", i, err)
		}
		if len(b) != common.HashLength {
			return Record{}, fmt.Errorf("%w: word %d is %d bytes", ErrRecordLength, i, len(b))
		}
		copy(r[i][:], b)
	}
	return r, nil
}

// Encode packs o into its record form. Amounts wider than 96 bits or negative
// are rejected rather than truncated.
func Encode(o Order) (Record, error) {
	return o.encode()
}

// Decode dispatches on the discriminant and unpacks the matching variant.
func Decode(r Record) (Order, error) {
	switch t := r.Type(); t {
	case Position:
		return decodePosition(r), nil
	case Liquidity:
		return decodeLiquidity(r), nil
	case Withdrawal:
		return decodeWithdrawal(r), nil
	default:
		return nil, fmt.Errorf("%w: %d", ErrUnknownOrderType, uint8(t))
	}
}

func header(prefix []byte, id uint64, t Type) common.Hash {
	var w common.Hash
	copy(w[0:subAccountPrefixLen], prefix)
	binary.BigEndian.PutUint64(w[idOffset:typeOffset], id)
	w[typeOffset] = byte(t)
	return w
}

func putUint96(dst []byte, name string, v *big.Int) error {
	if v == nil {
		return nil
	}
	if v.Sign() < 0 || v.Cmp(maxUint96) > 0 {
		return fmt.Errorf("%w: %s=%s", ErrFieldOverflow, name, v)
	}
	v.FillBytes(dst[:amountLen])
	return nil
}

func getUint96(src []byte) *big.Int {
	return new(big.Int).SetBytes(src[:amountLen])
}

func boolByte(b bool) byte {
	if b {
		return 1
	}
	return 0
}

func (o *PositionOrder) encode() (Record, error) {
	var r Record
	r[0] = header(o.SubAccountID[:subAccountPrefixLen], o.ID, Position)
	if err := putUint96(r[1][0:], "collateral", o.Collateral); err != nil {
		return Record{}, err
	}
	if err := putUint96(r[1][12:], "size", o.Size); err != nil {
		return Record{}, err
	}
	r[1][24] = byte(o.Flags)
	if err := putUint96(r[2][0:], "price", o.Price); err != nil {
		return Record{}, err
	}
	r[2][12] = o.ProfitTokenID
	return r, nil
}

func decodePosition(r Record) *PositionOrder {
	o := &PositionOrder{
		ID:            r.ID(),
		Collateral:    getUint96(r[1][0:]),
		Size:          getUint96(r[1][12:]),
		Flags:         PositionFlags(r[1][24]),
		Price:         getUint96(r[2][0:]),
		ProfitTokenID: r[2][12],
	}
	copy(o.SubAccountID[:subAccountPrefixLen], r[0][:subAccountPrefixLen])
	return o
}

func (o *LiquidityOrder) encode() (Record, error) {
	var r Record
	r[0] = header(o.Account[:], o.ID, Liquidity)
	if err := putUint96(r[1][0:], "amount", o.Amount); err != nil {
		return Record{}, err
	}
	r[1][12] = o.AssetID
	r[1][13] = boolByte(o.IsAdding)
	return r, nil
}

func decodeLiquidity(r Record) *LiquidityOrder {
	return &LiquidityOrder{
		ID:       r.ID(),
		Account:  common.BytesToAddress(r[0][0:common.AddressLength]),
		Amount:   getUint96(r[1][0:]),
		AssetID:  r[1][12],
		IsAdding: r[1][13] != 0,
	}
}

func (o *WithdrawalOrder) encode() (Record, error) {
	var r Record
	r[0] = header(o.SubAccountID[:subAccountPrefixLen], o.ID, Withdrawal)
	if err := putUint96(r[1][0:], "amount", o.Amount); err != nil {
		return Record{}, err
	}
	r[1][12] = o.ProfitTokenID
	r[1][13] = boolByte(o.IsProfit)
	return r, nil
}

func decodeWithdrawal(r Record) *WithdrawalOrder {
	o := &WithdrawalOrder{
		ID:            r.ID(),
		Amount:        getUint96(r[1][0:]),
		ProfitTokenID: r[1][12],
		IsProfit:      r[1][13] != 0,
	}
	copy(o.SubAccountID[:subAccountPrefixLen], r[0][:subAccountPrefixLen])
	return o
}
