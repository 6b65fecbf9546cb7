package order

import (
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

var ErrInvalidSubAccount = errors.New("order: invalid sub-account id")

// SubAccountID routes an order to a position: owner account, collateral asset,
// market asset and direction.
//
// Layout (32 bytes): account(20) | collateralId(1) | assetId(1) | isLong(1) | zero(9)
type SubAccountID [32]byte

const subAccountPrefixLen = 23

func NewSubAccountID(account common.Address, collateralID, assetID uint8, isLong bool) SubAccountID {
	var s SubAccountID
	copy(s[0:20], account[:])
	s[20] = collateralID
	s[21] = assetID
	if isLong {
		s[22] = 1
	}
	return s
}

func (s SubAccountID) Account() common.Address { return common.BytesToAddress(s[0:20]) }
func (s SubAccountID) CollateralID() uint8     { return s[20] }
func (s SubAccountID) AssetID() uint8          { return s[21] }
func (s SubAccountID) IsLong() bool            { return s[22] != 0 }

func (s SubAccountID) Hex() string { return hexutil.Encode(s[:]) }

func (s SubAccountID) String() string {
	return fmt.Sprintf("%s/c%d/a%d/long=%v", s.Account().Hex(), s.CollateralID(), s.AssetID(), s.IsLong())
}

// Validate rejects ids with non-zero padding or a non-boolean direction byte.
func (s SubAccountID) Validate() error {
	for _, b := range s[subAccountPrefixLen:] {
		if b != 0 {
			return fmt.Errorf("%w: non-zero padding", ErrInvalidSubAccount)
		}
	}
	if s[22] > 1 {
		return fmt.Errorf("%w: isLong byte %#x", ErrInvalidSubAccount, s[22])
	}
	return nil
}

// ParseSubAccountID decodes a 0x-prefixed 32-byte hex string.
func ParseSubAccountID(h string) (SubAccountID, error) {
	b, err := hexutil.Decode(h)
	if err != nil {
		return SubAccountID{}, fmt.Errorf("%w: %v", ErrInvalidSubAccount, err)
	}
	if len(b) != len(SubAccountID{}) {
		return SubAccountID{}, fmt.Errorf("%w: length %d", ErrInvalidSubAccount, len(b))
	}
	var s SubAccountID
	copy(s[:], b)
	if err := s.Validate(); err != nil {
		return SubAccountID{}, err
	}
	return s, nil
}

func (s SubAccountID) MarshalText() ([]byte, error) {
	return []byte(s.Hex()), nil
}

func (s *SubAccountID) UnmarshalText(text []byte) error {
	parsed, err := ParseSubAccountID(string(text))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}
