package crypto

import (
	"encoding/json"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
)

var (
	ErrUnknownAction = errors.New("crypto: unknown request action")
	ErrWrongSigner   = errors.New("crypto: signature does not match sender")
)

// Action names the order book operation a signed request asks for.
type Action string

const (
	ActionPlacePosition   Action = "place_position"
	ActionPlaceLiquidity  Action = "place_liquidity"
	ActionPlaceWithdrawal Action = "place_withdrawal"
	ActionFillPosition    Action = "fill_position"
	ActionFillLiquidity   Action = "fill_liquidity"
	ActionFillWithdrawal  Action = "fill_withdrawal"
	ActionCancel          Action = "cancel"
)

var actions = map[Action]bool{
	ActionPlacePosition:   true,
	ActionPlaceLiquidity:  true,
	ActionPlaceWithdrawal: true,
	ActionFillPosition:    true,
	ActionFillLiquidity:   true,
	ActionFillWithdrawal:  true,
	ActionCancel:          true,
}

func (a Action) Valid() bool { return actions[a] }

// IsFill reports whether the action is a broker fill
func (a Action) IsFill() bool {
	return a == ActionFillPosition || a == ActionFillLiquidity || a == ActionFillWithdrawal
}

// EIP712Domain separates signatures across chains and deployments
type EIP712Domain struct {
	Name              string
	Version           string
	ChainID           *big.Int
	VerifyingContract common.Address
}

// DefaultDomain is the local devnet domain
func DefaultDomain() EIP712Domain {
	return EIP712Domain{
		Name:              "HyperOrders",
		Version:           "1",
		ChainID:           big.NewInt(1337),
		VerifyingContract: common.Address{},
	}
}

// OrderRequest is the typed message a trader or broker signs. One shape
// covers every action; fields an action does not use are left zero and are
// still part of the signed digest.
type OrderRequest struct {
	Action       Action                `json:"action"`
	Sender       common.Address        `json:"sender"`
	SubAccountID common.Hash           `json:"subAccountId"`
	OrderID      uint64                `json:"orderId"`
	AssetID      uint8                 `json:"assetId"`
	ProfitToken  uint8                 `json:"profitTokenId"`
	Flags        uint8                 `json:"flags"`
	IsAdding     bool                  `json:"isAdding"`
	IsProfit     bool                  `json:"isProfit"`
	Amount       *math.HexOrDecimal256 `json:"amount,omitempty"`
	Size         *math.HexOrDecimal256 `json:"size,omitempty"`
	Price        *math.HexOrDecimal256 `json:"price,omitempty"`
	CollateralPx *math.HexOrDecimal256 `json:"collateralPrice,omitempty"`
	AssetPx      *math.HexOrDecimal256 `json:"assetPrice,omitempty"`
	MLPPx        *math.HexOrDecimal256 `json:"mlpPrice,omitempty"`
	Nonce        uint64                `json:"nonce"`
}

var requestFields = []apitypes.Type{
	{Name: "action", Type: "string"},
	{Name: "sender", Type: "address"},
	{Name: "subAccountId", Type: "bytes32"},
	{Name: "orderId", Type: "uint64"},
	{Name: "assetId", Type: "uint8"},
	{Name: "profitTokenId", Type: "uint8"},
	{Name: "flags", Type: "uint8"},
	{Name: "isAdding", Type: "bool"},
	{Name: "isProfit", Type: "bool"},
	{Name: "amount", Type: "uint256"},
	{Name: "size", Type: "uint256"},
	{Name: "price", Type: "uint256"},
	{Name: "collateralPrice", Type: "uint256"},
	{Name: "assetPrice", Type: "uint256"},
	{Name: "mlpPrice", Type: "uint256"},
	{Name: "nonce", Type: "uint64"},
}

// Big returns v as a big.Int, treating nil as zero
func Big(v *math.HexOrDecimal256) *big.Int {
	if v == nil {
		return new(big.Int)
	}
	return new(big.Int).Set((*big.Int)(v))
}

// Num wraps a big.Int for an OrderRequest field
func Num(v *big.Int) *math.HexOrDecimal256 {
	if v == nil {
		return nil
	}
	return (*math.HexOrDecimal256)(new(big.Int).Set(v))
}

// EIP712Signer hashes, signs and verifies order requests under one domain
type EIP712Signer struct {
	domain EIP712Domain
}

func NewEIP712Signer(domain EIP712Domain) *EIP712Signer {
	return &EIP712Signer{domain: domain}
}

func (e *EIP712Signer) Domain() EIP712Domain { return e.domain }

// TypedData builds the eth_signTypedData_v4 payload for req
func (e *EIP712Signer) TypedData(req *OrderRequest) apitypes.TypedData {
	return apitypes.TypedData{
		Types: apitypes.Types{
			"EIP712Domain": []apitypes.Type{
				{Name: "name", Type: "string"},
				{Name: "version", Type: "string"},
				{Name: "chainId", Type: "uint256"},
				{Name: "verifyingContract", Type: "address"},
			},
			"OrderRequest": requestFields,
		},
		PrimaryType: "OrderRequest",
		Domain: apitypes.TypedDataDomain{
			Name:              e.domain.Name,
			Version:           e.domain.Version,
			ChainId:           (*math.HexOrDecimal256)(e.domain.ChainID),
			VerifyingContract: e.domain.VerifyingContract.Hex(),
		},
		Message: apitypes.TypedDataMessage{
			"action":          string(req.Action),
			"sender":          req.Sender.Hex(),
			"subAccountId":    req.SubAccountID.Hex(),
			"orderId":         fmt.Sprintf("%d", req.OrderID),
			"assetId":         fmt.Sprintf("%d", req.AssetID),
			"profitTokenId":   fmt.Sprintf("%d", req.ProfitToken),
			"flags":           fmt.Sprintf("%d", req.Flags),
			"isAdding":        req.IsAdding,
			"isProfit":        req.IsProfit,
			"amount":          Big(req.Amount).String(),
			"size":            Big(req.Size).String(),
			"price":           Big(req.Price).String(),
			"collateralPrice": Big(req.CollateralPx).String(),
			"assetPrice":      Big(req.AssetPx).String(),
			"mlpPrice":        Big(req.MLPPx).String(),
			"nonce":           fmt.Sprintf("%d", req.Nonce),
		},
	}
}

// HashRequest returns the EIP-712 digest of req
func (e *EIP712Signer) HashRequest(req *OrderRequest) ([]byte, error) {
	if !req.Action.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrUnknownAction, req.Action)
	}
	typedData := e.TypedData(req)

	domainSeparator, err := typedData.HashStruct("EIP712Domain", typedData.Domain.Map())
	if err != nil {
		return nil, fmt.Errorf("failed to hash domain: %w", err)
	}
	typedDataHash, err := typedData.HashStruct(typedData.PrimaryType, typedData.Message)
	if err != nil {
		return nil, fmt.Errorf("failed to hash message: %w", err)
	}

	// keccak256("\x19\x01" || domainSeparator || typedDataHash)
	raw := make([]byte, 0, 66)
	raw = append(raw, 0x19, 0x01)
	raw = append(raw, domainSeparator...)
	raw = append(raw, typedDataHash...)
	return crypto.Keccak256(raw), nil
}

func (e *EIP712Signer) SignRequest(signer *Signer, req *OrderRequest) ([]byte, error) {
	hash, err := e.HashRequest(req)
	if err != nil {
		return nil, fmt.Errorf("failed to hash request: %w", err)
	}
	return signer.Sign(hash)
}

// RecoverRequestSigner returns the address that signed req
func (e *EIP712Signer) RecoverRequestSigner(req *OrderRequest, signature []byte) (common.Address, error) {
	hash, err := e.HashRequest(req)
	if err != nil {
		return common.Address{}, fmt.Errorf("failed to hash request: %w", err)
	}
	return RecoverAddress(hash, signature)
}

// VerifyRequest checks that signature was made by req.Sender
func (e *EIP712Signer) VerifyRequest(req *OrderRequest, signature []byte) error {
	addr, err := e.RecoverRequestSigner(req, signature)
	if err != nil {
		return err
	}
	if addr != req.Sender {
		return fmt.Errorf("%w: recovered %s, sender %s", ErrWrongSigner, addr.Hex(), req.Sender.Hex())
	}
	return nil
}

// RequestToJSON renders req as eth_signTypedData_v4 input for wallets
func (e *EIP712Signer) RequestToJSON(req *OrderRequest) (string, error) {
	out, err := json.MarshalIndent(e.TypedData(req), "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal JSON: %w", err)
	}
	return string(out), nil
}
