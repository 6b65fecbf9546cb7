package core

import (
	"context"
	"errors"
	"math/big"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/uhyunpark/hyperorders/params"
	"github.com/uhyunpark/hyperorders/pkg/app/core/order"
	"github.com/uhyunpark/hyperorders/pkg/app/core/orderbook"
	"github.com/uhyunpark/hyperorders/pkg/app/core/transaction"
	"github.com/uhyunpark/hyperorders/pkg/crypto"
	"github.com/uhyunpark/hyperorders/pkg/events"
)

func newTestDevnet(t *testing.T, dataDir string) *Devnet {
	t.Helper()
	d, err := NewDevnet(DevnetConfig{DataDir: dataDir, Assets: params.Default().Chain.Assets})
	if err != nil {
		t.Fatalf("devnet: %v", err)
	}
	t.Cleanup(func() { d.Close() })
	return d
}

type actor struct {
	key   *crypto.Signer
	nonce uint64
}

func newActor(t *testing.T) *actor {
	t.Helper()
	k, err := crypto.GenerateKey()
	if err != nil {
		t.Fatal(err)
	}
	return &actor{key: k}
}

func (a *actor) submit(t *testing.T, d *Devnet, req crypto.OrderRequest) (transaction.Result, error) {
	t.Helper()
	req.Sender = a.key.Address()
	req.Nonce = a.nonce
	a.nonce++
	sig, err := crypto.NewEIP712Signer(d.Domain).SignRequest(a.key, &req)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	return d.Submit(context.Background(), &transaction.SignedTransaction{Request: req, Signature: sig})
}

func usdc() common.Address { return TokenAddress("USDC") }

func openLong(a *actor) crypto.OrderRequest {
	return crypto.OrderRequest{
		Action:       crypto.ActionPlacePosition,
		SubAccountID: common.Hash(order.NewSubAccountID(a.key.Address(), 0, 1, true)),
		Flags:        uint8(order.FlagOpenPosition),
		Amount:       crypto.Num(units(1)),
		Size:         crypto.Num(fraction(2)),
		Price:        crypto.Num(units(3000)),
	}
}

func TestNewDevnetRequiresAssets(t *testing.T) {
	if _, err := NewDevnet(DevnetConfig{}); err == nil {
		t.Fatal("devnet without assets accepted")
	}
}

func TestDevnetFund(t *testing.T) {
	d := newTestDevnet(t, "")
	trader := common.HexToAddress("0xA1")
	if err := d.Fund(trader, units(10)); err != nil {
		t.Fatal(err)
	}
	for _, a := range d.Assets.List() {
		if got := d.Ledger.BalanceOf(a.Token, trader); got.Cmp(units(10)) != 0 {
			t.Errorf("%s balance = %s", a.Symbol, got)
		}
		if d.Ledger.Allowance(a.Token, trader, BookAddress).Sign() == 0 {
			t.Errorf("%s: custody not approved", a.Symbol)
		}
	}
	if d.Ledger.Allowance(ShareTokenAddress, trader, BookAddress).Sign() == 0 {
		t.Error("share token not approved")
	}
}

func TestDevnetPlaceAndFill(t *testing.T) {
	d := newTestDevnet(t, "")
	trader, broker := newActor(t), newActor(t)
	if err := d.Fund(trader.key.Address(), units(1000)); err != nil {
		t.Fatal(err)
	}
	if err := d.Book.AddBroker(broker.key.Address()); err != nil {
		t.Fatal(err)
	}

	res, err := trader.submit(t, d, openLong(trader))
	if err != nil {
		t.Fatalf("place: %v", err)
	}
	if got := d.Ledger.BalanceOf(usdc(), BookAddress); got.Cmp(units(1)) != 0 {
		t.Fatalf("custody holds %s, want 1e18", got)
	}

	// only brokers fill
	_, err = trader.submit(t, d, crypto.OrderRequest{
		Action: crypto.ActionFillPosition, OrderID: res.OrderID,
		CollateralPx: crypto.Num(units(1)), AssetPx: crypto.Num(units(2990)),
	})
	if !errors.Is(err, orderbook.ErrBrokerOnly) {
		t.Fatalf("trader fill: got %v, want ErrBrokerOnly", err)
	}

	_, err = broker.submit(t, d, crypto.OrderRequest{
		Action: crypto.ActionFillPosition, OrderID: res.OrderID,
		CollateralPx: crypto.Num(units(1)), AssetPx: crypto.Num(units(2990)),
	})
	if err != nil {
		t.Fatalf("fill: %v", err)
	}

	status, err := d.Book.OrderStatus(res.OrderID)
	if err != nil || status != order.StatusFilled {
		t.Fatalf("status = %v, %v", status, err)
	}
	pos, ok := d.Pool.Position(order.NewSubAccountID(trader.key.Address(), 0, 1, true))
	if !ok {
		t.Fatal("no position after fill")
	}
	if pos.Size.Cmp(fraction(2)) != 0 || pos.Collateral.Cmp(units(1)) != 0 {
		t.Errorf("position size %s collateral %s", pos.Size, pos.Collateral)
	}
	if got := d.Ledger.BalanceOf(usdc(), PoolAddress); got.Cmp(units(1)) != 0 {
		t.Errorf("pool holds %s", got)
	}
	if got := d.Ledger.BalanceOf(usdc(), BookAddress); got.Sign() != 0 {
		t.Errorf("custody still holds %s", got)
	}
}

func TestDevnetRestoreReseedsEscrow(t *testing.T) {
	dir := t.TempDir()
	trader := newActor(t)

	d, err := NewDevnet(DevnetConfig{DataDir: dir, Assets: params.Default().Chain.Assets})
	if err != nil {
		t.Fatal(err)
	}
	if err := d.Fund(trader.key.Address(), units(5)); err != nil {
		t.Fatal(err)
	}
	res, err := trader.submit(t, d, openLong(trader))
	if err != nil {
		t.Fatalf("place: %v", err)
	}
	if err := d.Close(); err != nil {
		t.Fatal(err)
	}

	d = newTestDevnet(t, dir)
	if d.Book.GetOrderCount() != 1 || d.Book.PendingOrderCount(order.Position) != 1 {
		t.Fatalf("restored %d orders, %d pending", d.Book.GetOrderCount(), d.Book.PendingOrderCount(order.Position))
	}
	if got := d.Ledger.BalanceOf(usdc(), BookAddress); got.Cmp(units(1)) != 0 {
		t.Fatalf("reseeded custody = %s, want 1e18", got)
	}

	// the refund comes out of the reseeded escrow
	if _, err := trader.submit(t, d, crypto.OrderRequest{Action: crypto.ActionCancel, OrderID: res.OrderID}); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if got := d.Ledger.BalanceOf(usdc(), trader.key.Address()); got.Cmp(units(1)) != 0 {
		t.Errorf("refund = %s, want 1e18", got)
	}
}

func TestDevnetRejectsReplayAfterRestart(t *testing.T) {
	dir := t.TempDir()
	trader := newActor(t)

	d, err := NewDevnet(DevnetConfig{DataDir: dir, Assets: params.Default().Chain.Assets})
	if err != nil {
		t.Fatal(err)
	}
	if err := d.Fund(trader.key.Address(), units(5)); err != nil {
		t.Fatal(err)
	}
	req := openLong(trader)
	req.Sender = trader.key.Address()
	req.Nonce = 4
	sig, err := crypto.NewEIP712Signer(d.Domain).SignRequest(trader.key, &req)
	if err != nil {
		t.Fatal(err)
	}
	tx := &transaction.SignedTransaction{Request: req, Signature: sig}
	if _, err := d.Submit(context.Background(), tx); err != nil {
		t.Fatalf("place: %v", err)
	}
	if err := d.Close(); err != nil {
		t.Fatal(err)
	}

	d = newTestDevnet(t, dir)
	if err := d.Fund(trader.key.Address(), units(5)); err != nil {
		t.Fatal(err)
	}
	if _, err := d.Submit(context.Background(), tx); !errors.Is(err, crypto.ErrStaleNonce) {
		t.Fatalf("replayed request: got %v, want ErrStaleNonce", err)
	}
	if d.Book.GetOrderCount() != 1 {
		t.Fatalf("orders = %d after replay, want 1", d.Book.GetOrderCount())
	}
	if last, ok := d.Executor.Verifier().Nonces().Last(trader.key.Address()); !ok || last != 4 {
		t.Errorf("restored nonce = %d, %v", last, ok)
	}

	trader.nonce = 5
	if _, err := trader.submit(t, d, openLong(trader)); err != nil {
		t.Fatalf("fresh nonce after restart: %v", err)
	}
}

func TestDevnetBookDoesNotWaitOnSinks(t *testing.T) {
	d := newTestDevnet(t, "")
	release := make(chan struct{})
	var delivered atomic.Int32
	d.Events.Add(events.SinkFunc(func(context.Context, events.Event) error {
		<-release
		delivered.Add(1)
		return nil
	}))
	trader := newActor(t)
	if err := d.Fund(trader.key.Address(), units(10)); err != nil {
		t.Fatal(err)
	}

	done := make(chan error, 1)
	go func() {
		for i := 0; i < 3; i++ {
			if _, err := trader.submit(t, d, openLong(trader)); err != nil {
				done <- err
				return
			}
		}
		done <- nil
	}()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("place: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("book blocked on a stalled event sink")
	}
	if d.Book.GetOrderCount() != 3 {
		t.Fatalf("orders = %d, want 3", d.Book.GetOrderCount())
	}

	close(release)
	d.Drain()
	if delivered.Load() != 3 {
		t.Errorf("delivered %d events, want 3", delivered.Load())
	}
}

func TestDevnetConfiguredBrokers(t *testing.T) {
	b := common.HexToAddress("0xBB")
	d, err := NewDevnet(DevnetConfig{Assets: params.Default().Chain.Assets, Brokers: []common.Address{b, b}})
	if err != nil {
		t.Fatal(err)
	}
	defer d.Close()
	if !d.Book.IsBroker(b) || len(d.Book.Brokers()) != 1 {
		t.Fatalf("brokers = %v", d.Book.Brokers())
	}
}

func TestDevnetChainIDSeparatesDomains(t *testing.T) {
	d, err := NewDevnet(DevnetConfig{Assets: params.Default().Chain.Assets, ChainID: big.NewInt(42)})
	if err != nil {
		t.Fatal(err)
	}
	defer d.Close()
	trader := newActor(t)

	// signed for the default chain, submitted to chain 42
	req := openLong(trader)
	req.Sender = trader.key.Address()
	sig, _ := crypto.NewEIP712Signer(crypto.DefaultDomain()).SignRequest(trader.key, &req)
	_, err = d.Submit(context.Background(), &transaction.SignedTransaction{Request: req, Signature: sig})
	if !errors.Is(err, crypto.ErrWrongSigner) {
		t.Fatalf("got %v, want ErrWrongSigner", err)
	}
}
