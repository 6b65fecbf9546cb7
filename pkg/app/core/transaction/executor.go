package transaction

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/uhyunpark/hyperorders/pkg/app/core/order"
	"github.com/uhyunpark/hyperorders/pkg/app/core/orderbook"
	"github.com/uhyunpark/hyperorders/pkg/crypto"
)

// Book is the mutating surface of the order book
type Book interface {
	PlacePositionOrder(ctx context.Context, caller common.Address, sub order.SubAccountID, collateral, size, price *big.Int, profitTokenID uint8, flags order.PositionFlags) (uint64, error)
	PlaceLiquidityOrder(ctx context.Context, caller common.Address, assetID uint8, amount *big.Int, isAdding bool) (uint64, error)
	PlaceWithdrawalOrder(ctx context.Context, caller common.Address, sub order.SubAccountID, amount *big.Int, profitTokenID uint8, isProfit bool) (uint64, error)
	FillPositionOrder(ctx context.Context, caller common.Address, id uint64, collateralPrice, assetPrice *big.Int) error
	FillLiquidityOrder(ctx context.Context, caller common.Address, id uint64, assetPrice, mlpPrice *big.Int) error
	FillWithdrawalOrder(ctx context.Context, caller common.Address, id uint64, collateralPrice, assetPrice *big.Int) error
	CancelOrder(ctx context.Context, caller common.Address, id uint64) error
}

var _ Book = (*orderbook.OrderBook)(nil)

// Executor authenticates signed transactions and applies them to the book
type Executor struct {
	book     Book
	verifier *Verifier
	log      *zap.SugaredLogger
}

func NewExecutor(book Book, verifier *Verifier, log *zap.SugaredLogger) *Executor {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Executor{book: book, verifier: verifier, log: log}
}

func (e *Executor) Verifier() *Verifier { return e.verifier }

// Submit authenticates tx and applies it with the recovered sender as caller
func (e *Executor) Submit(ctx context.Context, tx *SignedTransaction) (Result, error) {
	req := &tx.Request
	if _, err := e.verifier.Authenticate(tx); err != nil {
		e.log.Warnw("request_rejected", "action", req.Action, "sender", req.Sender.Hex(), "err", err)
		return Result{Action: req.Action}, err
	}

	res, err := e.Apply(ctx, req)
	if err != nil {
		e.log.Warnw("request_failed", "action", req.Action, "sender", req.Sender.Hex(),
			"nonce", req.Nonce, "err", err)
		return res, err
	}
	e.log.Infow("request_executed", "action", req.Action, "sender", req.Sender.Hex(),
		"nonce", req.Nonce, "order_id", res.OrderID)
	return res, nil
}

// Apply dispatches an already authenticated request to the book
func (e *Executor) Apply(ctx context.Context, req *crypto.OrderRequest) (Result, error) {
	res := Result{Action: req.Action, OrderID: req.OrderID}
	sub := order.SubAccountID(req.SubAccountID)
	var err error

	switch req.Action {
	case crypto.ActionPlacePosition:
		res.OrderID, err = e.book.PlacePositionOrder(ctx, req.Sender, sub,
			crypto.Big(req.Amount), crypto.Big(req.Size), crypto.Big(req.Price),
			req.ProfitToken, order.PositionFlags(req.Flags))
		res.Status = "placed"
	case crypto.ActionPlaceLiquidity:
		res.OrderID, err = e.book.PlaceLiquidityOrder(ctx, req.Sender, req.AssetID,
			crypto.Big(req.Amount), req.IsAdding)
		res.Status = "placed"
	case crypto.ActionPlaceWithdrawal:
		res.OrderID, err = e.book.PlaceWithdrawalOrder(ctx, req.Sender, sub,
			crypto.Big(req.Amount), req.ProfitToken, req.IsProfit)
		res.Status = "placed"
	case crypto.ActionFillPosition:
		err = e.book.FillPositionOrder(ctx, req.Sender, req.OrderID,
			crypto.Big(req.CollateralPx), crypto.Big(req.AssetPx))
		res.Status = "filled"
	case crypto.ActionFillLiquidity:
		err = e.book.FillLiquidityOrder(ctx, req.Sender, req.OrderID,
			crypto.Big(req.AssetPx), crypto.Big(req.MLPPx))
		res.Status = "filled"
	case crypto.ActionFillWithdrawal:
		err = e.book.FillWithdrawalOrder(ctx, req.Sender, req.OrderID,
			crypto.Big(req.CollateralPx), crypto.Big(req.AssetPx))
		res.Status = "filled"
	case crypto.ActionCancel:
		err = e.book.CancelOrder(ctx, req.Sender, req.OrderID)
		res.Status = "cancelled"
	default:
		err = fmt.Errorf("%w: %q", crypto.ErrUnknownAction, req.Action)
	}
	if err != nil {
		res.Status = "rejected"
	}
	return res, err
}
