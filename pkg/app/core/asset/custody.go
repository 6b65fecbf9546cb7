package asset

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"
)

// Custody holds tokens under its own ledger address. Deposits are pulled with
// the depositor's allowance, so accounts must Approve the custody address first.
type Custody struct {
	ledger *Ledger
	self   common.Address
	log    *zap.SugaredLogger
}

func NewCustody(ledger *Ledger, self common.Address, log *zap.SugaredLogger) *Custody {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Custody{ledger: ledger, self: self, log: log}
}

func (c *Custody) Address() common.Address { return c.self }

func (c *Custody) TransferIn(_ context.Context, token, from common.Address, amount *big.Int) error {
	if err := c.ledger.TransferFrom(token, c.self, from, c.self, amount); err != nil {
		return fmt.Errorf("custody pull %s from %s: %w", amount, from.Hex(), err)
	}
	c.log.Debugw("custody_in", "token", token.Hex(), "from", from.Hex(), "amount", amount.String())
	return nil
}

func (c *Custody) TransferOut(_ context.Context, token, to common.Address, amount *big.Int) error {
	if err := c.ledger.Transfer(token, c.self, to, amount); err != nil {
		return fmt.Errorf("custody send %s to %s: %w", amount, to.Hex(), err)
	}
	c.log.Debugw("custody_out", "token", token.Hex(), "to", to.Hex(), "amount", amount.String())
	return nil
}

// Balance is the amount of token currently held in custody.
func (c *Custody) Balance(token common.Address) *big.Int {
	return c.ledger.BalanceOf(token, c.self)
}
