// Package transaction authenticates signed order requests and applies them to
// the order book with the signer as caller.
package transaction

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common/hexutil"
	ethCrypto "github.com/ethereum/go-ethereum/crypto"

	"github.com/uhyunpark/hyperorders/pkg/crypto"
)

var ErrMalformed = errors.New("transaction: malformed")

// SignedTransaction is an order request plus its EIP-712 signature. It is
// the body of POST /api/v1/requests and the output of sign-order.
type SignedTransaction struct {
	Request   crypto.OrderRequest `json:"request"`
	Signature hexutil.Bytes       `json:"signature"`
}

// ParseTransaction decodes and shape-checks a signed transaction. The
// signature itself is checked by Verifier.
func ParseTransaction(raw []byte) (*SignedTransaction, error) {
	var tx SignedTransaction
	if err := json.Unmarshal(raw, &tx); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if err := tx.Validate(); err != nil {
		return nil, err
	}
	return &tx, nil
}

func (tx *SignedTransaction) Validate() error {
	if !tx.Request.Action.Valid() {
		return fmt.Errorf("%w: %w %q", ErrMalformed, crypto.ErrUnknownAction, tx.Request.Action)
	}
	if len(tx.Signature) != ethCrypto.SignatureLength {
		return fmt.Errorf("%w: signature must be %d bytes, got %d", ErrMalformed, ethCrypto.SignatureLength, len(tx.Signature))
	}
	return nil
}

func (tx *SignedTransaction) ToJSON() ([]byte, error) {
	return json.Marshal(tx)
}

// Result describes an applied request
type Result struct {
	Status  string        `json:"status"` // "placed", "filled", "cancelled"
	Action  crypto.Action `json:"action"`
	OrderID uint64        `json:"orderId"`
}
