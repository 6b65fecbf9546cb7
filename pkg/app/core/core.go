// Package core assembles the in-process devnet: token ledger, liquidity pool,
// custody, persistent order book and the signed-request executor in front of it.
package core

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/math"
	ethCrypto "github.com/ethereum/go-ethereum/crypto"
	"go.uber.org/zap"

	"github.com/uhyunpark/hyperorders/params"
	"github.com/uhyunpark/hyperorders/pkg/app/core/asset"
	"github.com/uhyunpark/hyperorders/pkg/app/core/order"
	"github.com/uhyunpark/hyperorders/pkg/app/core/orderbook"
	"github.com/uhyunpark/hyperorders/pkg/app/core/pool"
	"github.com/uhyunpark/hyperorders/pkg/app/core/transaction"
	"github.com/uhyunpark/hyperorders/pkg/crypto"
	"github.com/uhyunpark/hyperorders/pkg/events"
	"github.com/uhyunpark/hyperorders/pkg/storage"
	"github.com/uhyunpark/hyperorders/pkg/util"
)

// TokenDecimals is the scale of every devnet token, matching order records
const TokenDecimals = 18

// Fixed devnet addresses
var (
	PoolAddress       = derive("pool")
	BookAddress       = derive("orderbook")
	ShareTokenAddress = derive("token:MLP")
)

func derive(label string) common.Address {
	return common.BytesToAddress(ethCrypto.Keccak256([]byte("hyperorders:" + label))[12:])
}

// TokenAddress is the devnet token address for an asset symbol
func TokenAddress(symbol string) common.Address { return derive("token:" + symbol) }

type DevnetConfig struct {
	DataDir string // empty keeps the book in memory
	ChainID *big.Int
	Assets  []params.AssetSpec
	Brokers []common.Address
	Clock   util.Clock
	Logger  *zap.SugaredLogger
}

// DevnetConfigFrom maps node parameters onto a devnet configuration
func DevnetConfigFrom(p params.Config, log *zap.SugaredLogger) DevnetConfig {
	return DevnetConfig{
		DataDir: p.Node.DataDir,
		ChainID: p.Chain.ChainID,
		Assets:  p.Chain.Assets,
		Brokers: p.Chain.Brokers,
		Logger:  log,
	}
}

// Devnet is the assembled single-process stack
type Devnet struct {
	Ledger   *asset.Ledger
	Assets   *pool.Registry
	Pool     *pool.Pool
	Custody  *asset.Custody
	Book     *orderbook.OrderBook
	Events   *events.Fanout
	Executor *transaction.Executor
	Domain   crypto.EIP712Domain

	clock    util.Clock
	dispatch *events.Dispatcher
	store    *storage.OrderStore
	log      *zap.SugaredLogger
}

func NewDevnet(cfg DevnetConfig) (*Devnet, error) {
	log := cfg.Logger
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	if len(cfg.Assets) == 0 {
		return nil, errors.New("devnet: no assets configured")
	}
	if len(cfg.Assets) > 256 {
		return nil, fmt.Errorf("devnet: %d assets, ids are one byte", len(cfg.Assets))
	}

	d := &Devnet{
		Ledger: asset.NewLedger(),
		Assets: pool.NewRegistry(),
		Events: events.NewFanout(log),
		Domain: crypto.DefaultDomain(),
		clock:  cfg.Clock,
		log:    log,
	}
	if d.clock == nil {
		d.clock = util.RealClock{}
	}
	if cfg.ChainID != nil {
		d.Domain.ChainID = new(big.Int).Set(cfg.ChainID)
	}

	for i, spec := range cfg.Assets {
		tok := asset.Token{Address: TokenAddress(spec.Symbol), Symbol: spec.Symbol, Decimals: TokenDecimals}
		if err := d.Ledger.RegisterToken(tok); err != nil {
			return nil, err
		}
		err := d.Assets.Register(pool.Asset{
			ID:       uint8(i),
			Symbol:   spec.Symbol,
			Token:    tok.Address,
			Decimals: TokenDecimals,
			Stable:   spec.Stable,
		})
		if err != nil {
			return nil, err
		}
	}
	share := asset.Token{Address: ShareTokenAddress, Symbol: "MLP", Decimals: TokenDecimals}
	if err := d.Ledger.RegisterToken(share); err != nil {
		return nil, err
	}

	d.Pool = pool.New(pool.Config{
		Address:    PoolAddress,
		Ledger:     d.Ledger,
		Assets:     d.Assets,
		ShareToken: ShareTokenAddress,
		Logger:     log.Named("pool"),
	})
	d.Custody = asset.NewCustody(d.Ledger, BookAddress, log.Named("custody"))
	if err := d.Pool.Approve(BookAddress); err != nil {
		return nil, err
	}

	var store orderbook.Store
	if cfg.DataDir != "" {
		s, err := storage.NewOrderStore(cfg.DataDir)
		if err != nil {
			return nil, err
		}
		d.store = s
		store = s
	}

	// the book emits under its lock; sinks run on the dispatcher goroutine
	d.dispatch = events.NewDispatcher(d.Events, log.Named("events"))
	book, err := orderbook.New(orderbook.Config{
		Pool:    d.Pool,
		Custody: d.Custody,
		Store:   store,
		Events:  d.dispatch,
		Clock:   d.clock,
		Logger:  log.Named("orderbook"),
	})
	if err != nil {
		d.Close()
		return nil, err
	}
	d.Book = book

	for _, b := range cfg.Brokers {
		if book.IsBroker(b) {
			continue
		}
		if err := book.AddBroker(b); err != nil {
			d.Close()
			return nil, err
		}
	}

	if err := d.reseedEscrow(); err != nil {
		d.Close()
		return nil, err
	}

	nonces := crypto.NewNonceTracker()
	if d.store != nil {
		if nonces, err = crypto.NewPersistentNonceTracker(d.store); err != nil {
			d.Close()
			return nil, err
		}
	}
	verifier := transaction.NewVerifier(d.Domain, nonces)
	d.Executor = transaction.NewExecutor(book, verifier, log.Named("tx"))

	log.Infow("devnet_ready", "assets", len(cfg.Assets), "orders", book.GetOrderCount(),
		"brokers", len(book.Brokers()), "persistent", d.store != nil)
	return d, nil
}

// reseedEscrow mints into custody what restored pending orders hold. The
// ledger lives in memory, so after a restart custody would otherwise be
// unable to refund or forward those funds.
func (d *Devnet) reseedEscrow() error {
	for _, t := range order.Types {
		n := d.Book.PendingOrderCount(t)
		if n == 0 {
			continue
		}
		recs, err := d.Book.PendingOrders(t, 0, n)
		if err != nil {
			return err
		}
		for _, rec := range recs {
			token, amount, err := d.Book.Escrow(rec.ID())
			if err != nil {
				return err
			}
			if amount == nil || amount.Sign() == 0 {
				continue
			}
			if err := d.Ledger.Mint(token, BookAddress, amount); err != nil {
				return fmt.Errorf("reseed order %d: %w", rec.ID(), err)
			}
		}
		d.log.Infow("escrow_reseeded", "type", t.String(), "orders", n)
	}
	return nil
}

// Fund mints amount of every pool asset to addr and lets custody pull them
func (d *Devnet) Fund(addr common.Address, amount *big.Int) error {
	for _, a := range d.Assets.List() {
		if err := d.Ledger.Mint(a.Token, addr, amount); err != nil {
			return fmt.Errorf("fund %s: %w", a.Symbol, err)
		}
	}
	return d.Approve(addr)
}

// Approve gives custody an unlimited allowance over addr's pool assets and
// shares, standing in for the wallet approvals a trader would send
func (d *Devnet) Approve(addr common.Address) error {
	tokens := []common.Address{ShareTokenAddress}
	for _, a := range d.Assets.List() {
		tokens = append(tokens, a.Token)
	}
	for _, tok := range tokens {
		if err := d.Ledger.Approve(tok, addr, BookAddress, math.MaxBig256); err != nil {
			return err
		}
	}
	return nil
}

// Submit runs a signed transaction through verification and the book
func (d *Devnet) Submit(ctx context.Context, tx *transaction.SignedTransaction) (transaction.Result, error) {
	return d.Executor.Submit(ctx, tx)
}

// Drain delivers every queued book event and stops event delivery
func (d *Devnet) Drain() {
	if d.dispatch != nil {
		d.dispatch.Close()
	}
}

func (d *Devnet) Close() error {
	d.Drain()
	if d.store == nil {
		return nil
	}
	return d.store.Close()
}
