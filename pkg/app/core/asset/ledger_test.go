package asset

import (
	"context"
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/math"
)

var (
	usdc    = common.HexToAddress("0x1000000000000000000000000000000000000001")
	alice   = common.HexToAddress("0xA1")
	bob     = common.HexToAddress("0xB0")
	vault   = common.HexToAddress("0x0B")
	unknown = common.HexToAddress("0xDEAD")
)

func newTestLedger(t *testing.T) *Ledger {
	t.Helper()
	l := NewLedger()
	if err := l.RegisterToken(Token{Address: usdc, Symbol: "USDC", Decimals: 18}); err != nil {
		t.Fatalf("RegisterToken: %v", err)
	}
	if err := l.Mint(usdc, alice, big.NewInt(1000)); err != nil {
		t.Fatalf("Mint: %v", err)
	}
	return l
}

func TestRegisterTokenTwice(t *testing.T) {
	l := newTestLedger(t)
	if err := l.RegisterToken(Token{Address: usdc, Symbol: "USDC"}); !errors.Is(err, ErrTokenExists) {
		t.Fatalf("err = %v, want ErrTokenExists", err)
	}
	if got := len(l.Tokens()); got != 1 {
		t.Fatalf("Tokens = %d, want 1", got)
	}
}

func TestTransfer(t *testing.T) {
	tests := []struct {
		name    string
		token   common.Address
		amount  *big.Int
		wantErr error
	}{
		{"ok", usdc, big.NewInt(400), nil},
		{"whole balance", usdc, big.NewInt(1000), nil},
		{"too much", usdc, big.NewInt(1001), ErrInsufficientBalance},
		{"zero", usdc, big.NewInt(0), ErrInvalidAmount},
		{"negative", usdc, big.NewInt(-1), ErrInvalidAmount},
		{"unknown token", unknown, big.NewInt(1), ErrUnknownToken},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l := newTestLedger(t)
			err := l.Transfer(tt.token, alice, bob, tt.amount)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("err = %v, want %v", err, tt.wantErr)
			}
			if tt.wantErr != nil {
				if l.BalanceOf(usdc, alice).Int64() != 1000 {
					t.Fatal("failed transfer changed balance")
				}
				return
			}
			if got := l.BalanceOf(usdc, bob); got.Cmp(tt.amount) != 0 {
				t.Fatalf("bob = %s, want %s", got, tt.amount)
			}
		})
	}
}

func TestTransferFromConsumesAllowance(t *testing.T) {
	l := newTestLedger(t)

	if err := l.TransferFrom(usdc, bob, alice, bob, big.NewInt(1)); !errors.Is(err, ErrInsufficientAllowance) {
		t.Fatalf("err = %v, want ErrInsufficientAllowance", err)
	}
	if err := l.Approve(usdc, alice, bob, big.NewInt(300)); err != nil {
		t.Fatalf("Approve: %v", err)
	}
	if err := l.TransferFrom(usdc, bob, alice, bob, big.NewInt(200)); err != nil {
		t.Fatalf("TransferFrom: %v", err)
	}
	if got := l.Allowance(usdc, alice, bob); got.Int64() != 100 {
		t.Fatalf("allowance = %s, want 100", got)
	}
	if err := l.TransferFrom(usdc, bob, alice, bob, big.NewInt(101)); !errors.Is(err, ErrInsufficientAllowance) {
		t.Fatalf("err = %v, want ErrInsufficientAllowance", err)
	}

	if err := l.Approve(usdc, alice, bob, math.MaxBig256); err != nil {
		t.Fatalf("Approve max: %v", err)
	}
	if err := l.TransferFrom(usdc, bob, alice, bob, big.NewInt(800)); err != nil {
		t.Fatalf("TransferFrom: %v", err)
	}
	if got := l.Allowance(usdc, alice, bob); got.Cmp(math.MaxBig256) != 0 {
		t.Fatalf("unlimited allowance decreased to %s", got)
	}
}

func TestMintBurnSupply(t *testing.T) {
	l := newTestLedger(t)
	if err := l.Burn(usdc, alice, big.NewInt(250)); err != nil {
		t.Fatalf("Burn: %v", err)
	}
	if got := l.TotalSupply(usdc); got.Int64() != 750 {
		t.Fatalf("supply = %s, want 750", got)
	}
	if err := l.Burn(usdc, bob, big.NewInt(1)); !errors.Is(err, ErrInsufficientBalance) {
		t.Fatalf("err = %v, want ErrInsufficientBalance", err)
	}
}

func TestCustody(t *testing.T) {
	l := newTestLedger(t)
	c := NewCustody(l, vault, nil)
	ctx := context.Background()

	if err := c.TransferIn(ctx, usdc, alice, big.NewInt(100)); !errors.Is(err, ErrInsufficientAllowance) {
		t.Fatalf("unapproved pull err = %v", err)
	}
	if err := l.Approve(usdc, alice, vault, big.NewInt(100)); err != nil {
		t.Fatalf("Approve: %v", err)
	}
	if err := c.TransferIn(ctx, usdc, alice, big.NewInt(100)); err != nil {
		t.Fatalf("TransferIn: %v", err)
	}
	if got := c.Balance(usdc); got.Int64() != 100 {
		t.Fatalf("custody = %s, want 100", got)
	}
	if err := c.TransferOut(ctx, usdc, bob, big.NewInt(101)); !errors.Is(err, ErrInsufficientBalance) {
		t.Fatalf("overdraw err = %v", err)
	}
	if err := c.TransferOut(ctx, usdc, bob, big.NewInt(100)); err != nil {
		t.Fatalf("TransferOut: %v", err)
	}
	if l.BalanceOf(usdc, bob).Int64() != 100 || c.Balance(usdc).Sign() != 0 {
		t.Fatal("balances after TransferOut are wrong")
	}
}
