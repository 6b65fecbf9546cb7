// sign-order builds an order request from flags, signs it with EIP-712 and
// prints the signed request JSON, ready for POST /api/v1/requests.
package main

import (
	"bytes"
	"errors"
	"flag"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/uhyunpark/hyperorders/pkg/api"
	"github.com/uhyunpark/hyperorders/pkg/app/core/order"
	"github.com/uhyunpark/hyperorders/pkg/app/core/transaction"
	"github.com/uhyunpark/hyperorders/pkg/crypto"
)

type options struct {
	key     string
	chainID int64
	typed   bool
	post    string

	action       string
	orderID      uint64
	nonce        uint64
	collateralID uint
	assetID      uint
	long         bool
	profitToken  uint
	open         bool
	market       bool
	withdrawAll  bool
	adding       bool
	profit       bool

	amount, size, price          string
	collateralPx, assetPx, mlpPx string
}

func main() {
	var o options
	flag.StringVar(&o.key, "key", os.Getenv("PRIVATE_KEY"), "hex private key (default $PRIVATE_KEY, otherwise a new key)")
	flag.Int64Var(&o.chainID, "chain-id", 1337, "EIP-712 domain chain id")
	flag.BoolVar(&o.typed, "typed", false, "print eth_signTypedData_v4 input instead of signing")
	flag.StringVar(&o.post, "post", "", "node base URL to submit to, e.g. http://localhost:8080")

	flag.StringVar(&o.action, "action", string(crypto.ActionPlacePosition), "place_position | place_liquidity | place_withdrawal | fill_position | fill_liquidity | fill_withdrawal | cancel")
	flag.Uint64Var(&o.orderID, "order-id", 0, "order id (fills and cancel)")
	flag.Uint64Var(&o.nonce, "nonce", uint64(time.Now().UnixMilli()), "request nonce, strictly increasing per sender")
	flag.UintVar(&o.collateralID, "collateral-id", 0, "sub-account collateral asset id")
	flag.UintVar(&o.assetID, "asset-id", 1, "traded asset id (liquidity: pool asset id)")
	flag.BoolVar(&o.long, "long", true, "long sub-account")
	flag.UintVar(&o.profitToken, "profit-token", 0, "profit token asset id")
	flag.BoolVar(&o.open, "open", true, "open (increase) the position")
	flag.BoolVar(&o.market, "market", false, "market order, no limit price check")
	flag.BoolVar(&o.withdrawAll, "withdraw-all", false, "release all collateral once size reaches zero")
	flag.BoolVar(&o.adding, "adding", true, "add liquidity (false removes)")
	flag.BoolVar(&o.profit, "profit", false, "withdraw profit rather than collateral")

	flag.StringVar(&o.amount, "amount", "0", "collateral or amount in token units, e.g. 1.5")
	flag.StringVar(&o.size, "size", "0", "position size in token units")
	flag.StringVar(&o.price, "price", "0", "limit price")
	flag.StringVar(&o.collateralPx, "collateral-price", "0", "fill: collateral price")
	flag.StringVar(&o.assetPx, "asset-price", "0", "fill: asset price")
	flag.StringVar(&o.mlpPx, "mlp-price", "0", "fill: pool share price")
	flag.Parse()

	if err := run(o, os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(o options, out io.Writer) error {
	signer, err := loadSigner(o.key)
	if err != nil {
		return err
	}
	req, err := buildRequest(o, signer.Address())
	if err != nil {
		return err
	}

	domain := crypto.DefaultDomain()
	domain.ChainID = big.NewInt(o.chainID)
	eip712Signer := crypto.NewEIP712Signer(domain)

	if o.typed {
		td, err := eip712Signer.RequestToJSON(req)
		if err != nil {
			return err
		}
		fmt.Fprintln(out, td)
		return nil
	}

	sig, err := eip712Signer.SignRequest(signer, req)
	if err != nil {
		return fmt.Errorf("sign: %w", err)
	}
	tx := &transaction.SignedTransaction{Request: *req, Signature: sig}

	// the request must verify before it goes anywhere
	recovered, err := transaction.NewVerifier(domain, nil).RecoverSigner(tx)
	if err != nil {
		return fmt.Errorf("verify: %w", err)
	}
	if recovered != signer.Address() {
		return fmt.Errorf("verify: recovered %s, signer %s", recovered.Hex(), signer.Address().Hex())
	}

	raw, err := tx.ToJSON()
	if err != nil {
		return err
	}
	fmt.Fprintln(out, string(raw))

	if o.post == "" {
		return nil
	}
	return submit(strings.TrimSuffix(o.post, "/")+"/api/v1/requests", raw, out)
}

func loadSigner(key string) (*crypto.Signer, error) {
	if key != "" {
		return crypto.FromPrivateKeyHex(key)
	}
	s, err := crypto.GenerateKey()
	if err != nil {
		return nil, err
	}
	fmt.Fprintf(os.Stderr, "Generated key %s for %s (KEEP SECRET!)\n", s.PrivateKeyHex(), s.Address().Hex())
	return s, nil
}

func buildRequest(o options, sender common.Address) (*crypto.OrderRequest, error) {
	action := crypto.Action(o.action)
	if !action.Valid() {
		return nil, fmt.Errorf("%w: %q", crypto.ErrUnknownAction, o.action)
	}
	if o.collateralID > 255 || o.assetID > 255 || o.profitToken > 255 {
		return nil, errors.New("asset ids are one byte")
	}

	req := &crypto.OrderRequest{
		Action:      action,
		Sender:      sender,
		OrderID:     o.orderID,
		AssetID:     uint8(o.assetID),
		ProfitToken: uint8(o.profitToken),
		IsAdding:    o.adding,
		IsProfit:    o.profit,
		Nonce:       o.nonce,
	}
	if action == crypto.ActionPlacePosition || action == crypto.ActionPlaceWithdrawal {
		req.SubAccountID = common.Hash(order.NewSubAccountID(sender, uint8(o.collateralID), uint8(o.assetID), o.long))
	}

	var flags order.PositionFlags
	if o.open {
		flags |= order.FlagOpenPosition
	}
	if o.market {
		flags |= order.FlagMarketOrder
	}
	if o.withdrawAll {
		flags |= order.FlagWithdrawAllIfEmpty
	}
	req.Flags = uint8(flags)

	amounts := []struct{ name, raw string }{
		{"amount", o.amount},
		{"size", o.size},
		{"price", o.price},
		{"collateral-price", o.collateralPx},
		{"asset-price", o.assetPx},
		{"mlp-price", o.mlpPx},
	}
	parsed := make([]*big.Int, len(amounts))
	for i, a := range amounts {
		v, err := api.ParseUnits(a.raw, api.Decimals)
		if err != nil {
			return nil, fmt.Errorf("-%s: %w", a.name, err)
		}
		parsed[i] = v
	}
	req.Amount = crypto.Num(parsed[0])
	req.Size = crypto.Num(parsed[1])
	req.Price = crypto.Num(parsed[2])
	req.CollateralPx = crypto.Num(parsed[3])
	req.AssetPx = crypto.Num(parsed[4])
	req.MLPPx = crypto.Num(parsed[5])
	return req, nil
}

func submit(url string, body []byte, out io.Writer) error {
	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Post(url, "application/json", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("post: %w", err)
	}
	defer resp.Body.Close()
	reply, _ := io.ReadAll(resp.Body)
	fmt.Fprintf(out, "%s -> %s\n%s\n", url, resp.Status, bytes.TrimSpace(reply))
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("node rejected request: %s", resp.Status)
	}
	return nil
}
