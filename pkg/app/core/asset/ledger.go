package asset

import (
	"errors"
	"fmt"
	"math/big"
	"sort"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/math"
)

var (
	ErrUnknownToken          = errors.New("asset: unknown token")
	ErrTokenExists           = errors.New("asset: token already registered")
	ErrInvalidAmount         = errors.New("asset: invalid amount")
	ErrInsufficientBalance   = errors.New("asset: insufficient balance")
	ErrInsufficientAllowance = errors.New("asset: insufficient allowance")
)

// Token describes one fungible token tracked by the ledger
type Token struct {
	Address  common.Address
	Symbol   string
	Decimals uint8
}

type allowanceKey struct {
	owner   common.Address
	spender common.Address
}

type tokenState struct {
	meta       Token
	supply     *big.Int
	balances   map[common.Address]*big.Int
	allowances map[allowanceKey]*big.Int
}

// Ledger is an in-process multi-token balance table with ERC-20 semantics
// Amounts are never negative; every mutating call either applies fully or
// returns an error without touching balances
type Ledger struct {
	mu     sync.RWMutex
	tokens map[common.Address]*tokenState
}

// NewLedger creates an empty ledger
func NewLedger() *Ledger {
	return &Ledger{tokens: make(map[common.Address]*tokenState)}
}

// RegisterToken adds a token with zero supply
func (l *Ledger) RegisterToken(t Token) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, exists := l.tokens[t.Address]; exists {
		return fmt.Errorf("%w: %s", ErrTokenExists, t.Address.Hex())
	}
	l.tokens[t.Address] = &tokenState{
		meta:       t,
		supply:     new(big.Int),
		balances:   make(map[common.Address]*big.Int),
		allowances: make(map[allowanceKey]*big.Int),
	}
	return nil
}

// Token returns metadata for a registered token
func (l *Ledger) Token(addr common.Address) (Token, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	ts, ok := l.tokens[addr]
	if !ok {
		return Token{}, false
	}
	return ts.meta, true
}

// Tokens lists registered tokens ordered by symbol
func (l *Ledger) Tokens() []Token {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make([]Token, 0, len(l.tokens))
	for _, ts := range l.tokens {
		out = append(out, ts.meta)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out
}

// Mint credits new tokens to an account (devnet faucet, pool share issuance)
func (l *Ledger) Mint(token, to common.Address, amount *big.Int) error {
	if err := checkAmount(amount); err != nil {
		return err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	ts, err := l.tokenLocked(token)
	if err != nil {
		return err
	}
	ts.supply.Add(ts.supply, amount)
	ts.credit(to, amount)
	return nil
}

// Burn destroys tokens held by an account
func (l *Ledger) Burn(token, from common.Address, amount *big.Int) error {
	if err := checkAmount(amount); err != nil {
		return err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	ts, err := l.tokenLocked(token)
	if err != nil {
		return err
	}
	if err := ts.debit(from, amount); err != nil {
		return err
	}
	ts.supply.Sub(ts.supply, amount)
	return nil
}

func (l *Ledger) BalanceOf(token, holder common.Address) *big.Int {
	l.mu.RLock()
	defer l.mu.RUnlock()

	ts, ok := l.tokens[token]
	if !ok {
		return new(big.Int)
	}
	return new(big.Int).Set(ts.balance(holder))
}

func (l *Ledger) TotalSupply(token common.Address) *big.Int {
	l.mu.RLock()
	defer l.mu.RUnlock()

	ts, ok := l.tokens[token]
	if !ok {
		return new(big.Int)
	}
	return new(big.Int).Set(ts.supply)
}

// Approve sets the amount spender may move out of owner's balance
// An allowance of math.MaxBig256 is never decremented
func (l *Ledger) Approve(token, owner, spender common.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() < 0 {
		return fmt.Errorf("%w: %v", ErrInvalidAmount, amount)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	ts, err := l.tokenLocked(token)
	if err != nil {
		return err
	}
	ts.allowances[allowanceKey{owner, spender}] = new(big.Int).Set(amount)
	return nil
}

func (l *Ledger) Allowance(token, owner, spender common.Address) *big.Int {
	l.mu.RLock()
	defer l.mu.RUnlock()

	ts, ok := l.tokens[token]
	if !ok {
		return new(big.Int)
	}
	if a, ok := ts.allowances[allowanceKey{owner, spender}]; ok {
		return new(big.Int).Set(a)
	}
	return new(big.Int)
}

// Transfer moves tokens between two accounts
func (l *Ledger) Transfer(token, from, to common.Address, amount *big.Int) error {
	if err := checkAmount(amount); err != nil {
		return err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	ts, err := l.tokenLocked(token)
	if err != nil {
		return err
	}
	if err := ts.debit(from, amount); err != nil {
		return err
	}
	ts.credit(to, amount)
	return nil
}

// TransferFrom moves tokens on behalf of owner, consuming spender's allowance
func (l *Ledger) TransferFrom(token, spender, from, to common.Address, amount *big.Int) error {
	if err := checkAmount(amount); err != nil {
		return err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	ts, err := l.tokenLocked(token)
	if err != nil {
		return err
	}
	key := allowanceKey{from, spender}
	allowed, ok := ts.allowances[key]
	if !ok || allowed.Cmp(amount) < 0 {
		return fmt.Errorf("%w: %s allowed %v, need %s", ErrInsufficientAllowance, spender.Hex(), allowed, amount)
	}
	if err := ts.debit(from, amount); err != nil {
		return err
	}
	if allowed.Cmp(math.MaxBig256) != 0 {
		ts.allowances[key] = new(big.Int).Sub(allowed, amount)
	}
	ts.credit(to, amount)
	return nil
}

func (l *Ledger) tokenLocked(token common.Address) (*tokenState, error) {
	ts, ok := l.tokens[token]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownToken, token.Hex())
	}
	return ts, nil
}

func (ts *tokenState) balance(holder common.Address) *big.Int {
	if b, ok := ts.balances[holder]; ok {
		return b
	}
	return new(big.Int)
}

func (ts *tokenState) credit(to common.Address, amount *big.Int) {
	ts.balances[to] = new(big.Int).Add(ts.balance(to), amount)
}

func (ts *tokenState) debit(from common.Address, amount *big.Int) error {
	have := ts.balance(from)
	if have.Cmp(amount) < 0 {
		return fmt.Errorf("%w: %s has %s %s, need %s", ErrInsufficientBalance, from.Hex(), have, ts.meta.Symbol, amount)
	}
	ts.balances[from] = new(big.Int).Sub(have, amount)
	return nil
}

func checkAmount(amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return fmt.Errorf("%w: %v", ErrInvalidAmount, amount)
	}
	return nil
}
