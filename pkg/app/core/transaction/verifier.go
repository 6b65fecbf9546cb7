package transaction

import (
	"github.com/ethereum/go-ethereum/common"

	"github.com/uhyunpark/hyperorders/pkg/crypto"
)

// Verifier checks request signatures and replay protection
type Verifier struct {
	eip712Signer *crypto.EIP712Signer
	nonces       *crypto.NonceTracker
}

func NewVerifier(domain crypto.EIP712Domain, nonces *crypto.NonceTracker) *Verifier {
	if nonces == nil {
		nonces = crypto.NewNonceTracker()
	}
	return &Verifier{
		eip712Signer: crypto.NewEIP712Signer(domain),
		nonces:       nonces,
	}
}

func (v *Verifier) Signer() *crypto.EIP712Signer { return v.eip712Signer }
func (v *Verifier) Nonces() *crypto.NonceTracker { return v.nonces }

// RecoverSigner returns the address that signed tx without checking it
// against the claimed sender or the nonce
func (v *Verifier) RecoverSigner(tx *SignedTransaction) (common.Address, error) {
	if err := tx.Validate(); err != nil {
		return common.Address{}, err
	}
	return v.eip712Signer.RecoverRequestSigner(&tx.Request, tx.Signature)
}

// Authenticate checks that tx is signed by its sender and consumes its
// nonce. The nonce is spent even if the request later fails in the book.
func (v *Verifier) Authenticate(tx *SignedTransaction) (common.Address, error) {
	if err := tx.Validate(); err != nil {
		return common.Address{}, err
	}
	if err := v.eip712Signer.VerifyRequest(&tx.Request, tx.Signature); err != nil {
		return common.Address{}, err
	}
	if err := v.nonces.Use(tx.Request.Sender, tx.Request.Nonce); err != nil {
		return common.Address{}, err
	}
	return tx.Request.Sender, nil
}
